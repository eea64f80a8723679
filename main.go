package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"broadcaster/config"
	"broadcaster/internal/eventbus"
	"broadcaster/internal/httpapi"
	"broadcaster/internal/metrics"
	"broadcaster/internal/orchestrator"
)

func main() {
	log.Println("Starting broadcaster...")

	cfg := config.Load()
	log.Printf("HTTP Command API: %s", cfg.HTTPAddr)
	log.Printf("Default RTMP target: %s", cfg.DefaultRTMPURL)

	reg := prometheus.NewRegistry()
	prom := metrics.NewProm(reg)
	collector := metrics.NewCollector(prom, cfg.DefaultTargetFPS, cfg.DefaultBitrateKbps)
	log.Println("Prometheus metrics initialized")

	bus := eventbus.New()
	engine := orchestrator.New(bus, collector)
	log.Println("Orchestrator engine initialized")

	httpSrv := httpapi.New(engine, reg)
	log.Printf("HTTP server ready to start on %s", cfg.HTTPAddr)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	go engine.Run(ctx)

	log.Println("broadcaster started successfully")
	log.Println("---")
	log.Println("API Endpoints:")
	log.Println("  GET  /healthz")
	log.Println("  GET  /metrics")
	log.Println("  GET  /api/v1/state")
	log.Println("  GET  /api/v1/events")
	log.Println("  POST /api/v1/stream/start")
	log.Println("  POST /api/v1/stream/stop")
	log.Println("  POST /api/v1/mic/volume")
	log.Println("  POST /api/v1/system/volume")
	log.Println("  POST /api/v1/mic/muted")
	log.Println("  POST /api/v1/system/muted")
	log.Println("  GET  /api/v1/capture-sources")
	log.Println("  GET  /api/v1/audio-devices")
	log.Println("---")

	if err := httpSrv.Run(cfg.HTTPAddr); err != nil {
		log.Fatalf("HTTP server failed: %v", err)
	}
}
