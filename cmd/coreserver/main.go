// Command coreserver is the HTTP entrypoint, replacing the teacher's root
// main.go: load config, open the Catalog, wire the Orchestrator, mount the
// gin router, and serve (spec §6).
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"corekit/internal/config"
	"corekit/internal/httpapi"
	"corekit/internal/orchestrator"
	"corekit/internal/transport"

	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	cfg := config.Load()

	registry := prometheus.NewRegistry()
	orch, err := orchestrator.Init(cfg, transport.NewFake(), registry)
	if err != nil {
		log.Fatalf("coreserver: init orchestrator: %v", err)
	}

	router := httpapi.NewRouter(orch, cfg, registry)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		log.Println("coreserver: shutting down")
		if err := orch.Shutdown(); err != nil {
			log.Printf("coreserver: shutdown: %v", err)
		}
	}()

	go orch.RunNotifier(ctx, cfg.ChatID)

	addr := "0.0.0.0:" + cfg.Port
	log.Printf("coreserver: listening on %s", addr)
	if err := router.Run(addr); err != nil {
		log.Fatalf("coreserver: server error: %v", err)
	}
}
