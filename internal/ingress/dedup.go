// Package ingress is the multiplexer that accepts trade requests from
// three independent paths — REST, a primary Redis pub/sub channel, and a
// secondary MQTT broker — and funnels each through exactly one decision,
// deduplicating by request id so an at-least-once redelivery never produces
// a second audit record for the same request.
package ingress

import (
	"container/list"
	"sync"
)

// Dedup is a bounded LRU set of recently seen request ids. Seen reports
// whether id has already been observed, recording it if not; once the set
// exceeds capacity the oldest id is evicted.
type Dedup struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	index    map[string]*list.Element
}

// NewDedup returns a Dedup bounded to capacity entries.
func NewDedup(capacity int) *Dedup {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Dedup{
		capacity: capacity,
		order:    list.New(),
		index:    make(map[string]*list.Element, capacity),
	}
}

// Seen records id and returns true if it was already present.
func (d *Dedup) Seen(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if el, ok := d.index[id]; ok {
		d.order.MoveToFront(el)
		return true
	}

	el := d.order.PushFront(id)
	d.index[id] = el

	if d.order.Len() > d.capacity {
		oldest := d.order.Back()
		if oldest != nil {
			d.order.Remove(oldest)
			delete(d.index, oldest.Value.(string))
		}
	}
	return false
}

// Len returns the number of ids currently tracked.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.order.Len()
}
