package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"hive-kernel/internal/audit"
	"hive-kernel/internal/config"
	"hive-kernel/internal/httpapi"
	"hive-kernel/internal/ingress"
	"hive-kernel/internal/killswitch"
	"hive-kernel/internal/policy"
	"hive-kernel/internal/watchdog"
	kernelobs "hive-kernel/libs/observability"
)

func main() {
	cfg := config.FromEnv()

	policies := policy.NewStore(cfg.ConstitutionPath)
	log.Printf("policy loaded: version=%s laws=%d", policies.Current().Version, len(policies.Current().Laws))

	trail, err := audit.LoadFromDisk(cfg.AuditPath, cfg.AuditMaxRecords)
	if err != nil {
		log.Fatalf("audit trail is corrupt, operator intervention required: %v", err)
	}
	if err := trail.SetPersistencePath(cfg.AuditPath); err != nil {
		log.Fatalf("cannot open audit persistence path %s: %v", cfg.AuditPath, err)
	}

	sw := killswitch.New(cfg.AutoResetWindow)
	trail.SetPersistFailureHandler(func(err error) {
		log.Printf("audit persistence exhausted retries: %v", err)
		sw.Activate("audit persistence lost")
	})

	registry := kernelobs.NewRegistry()
	metrics := kernelobs.NewKernelMetrics(registry)

	mux := ingress.New(policies, sw, trail, cfg.DedupCacheSize, metrics)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		policies.Watch(ctx.Done(), cfg.PolicyPollInterval, func(snap *policy.Snapshot, err error) {
			if err != nil {
				kernelobs.LogPolicyReload(ctx, "", err)
				kernelobs.RecordPolicyReload(ctx, "", err)
				appendAudit(trail, "kernel", "POLICY_RELOAD_FAILED", map[string]any{"error": err.Error()})
				return
			}
			kernelobs.LogPolicyReload(ctx, snap.Version, nil)
			kernelobs.RecordPolicyReload(ctx, snap.Version, nil)
			appendAudit(trail, "kernel", "POLICY_RELOADED", map[string]any{"version": snap.Version})
		})
	}()

	wd := watchdog.New(sw, true)
	wg.Add(1)
	go func() {
		defer wg.Done()
		wd.Run(ctx)
	}()

	redisUp := true
	redisTransport, err := ingress.NewRedisTransport(cfg.RedisURL, cfg.Namespace, mux, wd.Beat)
	if err != nil {
		log.Printf("WARNING: redis ingress transport not started: %v", err)
		redisUp = false
	} else {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := redisTransport.Run(ctx); err != nil {
				log.Printf("redis ingress transport exited: %v", err)
			}
		}()
	}

	mqttTransport := ingress.NewMQTTTransport(cfg.MQTTHost, cfg.MQTTPort, cfg.Namespace, mux)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := mqttTransport.Run(ctx); err != nil {
			log.Printf("mqtt ingress transport exited: %v", err)
		}
	}()

	if !redisUp {
		log.Printf("WARNING: kernel is running in degraded mode; REST control surface is the only confirmed ingress path")
	}

	srv := httpapi.NewServer(httpapi.Deps{
		Multiplexer: mux,
		Policies:    policies,
		KillSwitch:  sw,
		Trail:       trail,
		Registry:    registry,
	})
	srv.RegisterAll()

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: srv.Handler(),
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		keepAlive(ctx, trail)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("shutting down")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("http server shutdown error: %v", err)
		}
	}()

	log.Printf("hive-kernel listening on %s", cfg.HTTPAddr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("http server error: %v", err)
	}

	appendAudit(trail, "kernel", "KERNEL_SHUTDOWN", map[string]any{})
	wg.Wait()
}

// keepAlive logs a liveness line every 30 s so a kernel running in degraded
// mode (no ingress transport connected) still produces an observable
// heartbeat of its own in the logs.
func keepAlive(ctx context.Context, trail *audit.Trail) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			log.Printf("kernel alive: audit_records=%d", trail.Len())
		}
	}
}

func appendAudit(trail *audit.Trail, agent, action string, payload map[string]any) {
	details, err := json.Marshal(payload)
	if err != nil {
		log.Printf("failed to marshal audit details for %s: %v", action, err)
		return
	}
	if _, err := trail.Record(agent, action, details, "", ""); err != nil {
		log.Printf("failed to append audit record %s: %v", action, err)
	}
}
