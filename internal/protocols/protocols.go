// Package protocols names the seam for the recovery protocols the kernel
// delegates to an external supervisor rather than implementing itself:
// process-level snapshot/restore and a deadman's-switch handoff. Both are
// stubs — the kernel only needs to call out to them at the right moments,
// not own their logic.
package protocols

import "context"

// SnapshotRestore is invoked by the supervisor to hand the kernel a prior
// persisted state after a crash-restart. The kernel's own restart path
// (reloading the policy file and the audit log from disk) already covers
// its durable state, so this is a no-op placeholder for a future
// supervisor-driven restore handshake.
func SnapshotRestore(ctx context.Context) error {
	return nil
}

// DeadmanHandoff is invoked when an external supervisor detects the kernel
// process itself has gone unresponsive, as a notification hook distinct
// from the in-process heartbeat watchdog (which tracks the upstream
// producer, not the kernel's own liveness).
func DeadmanHandoff(ctx context.Context) error {
	return nil
}
