package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/codepr/tera-go/internal/broker"
	"github.com/codepr/tera-go/internal/config"
	"github.com/codepr/tera-go/internal/metrics"
	"github.com/codepr/tera-go/internal/snapshot"
)

func main() {
	configPath := flag.String("config", "config/tera.conf", "Path to configuration file")
	flag.Parse()

	log.Println("Starting tera broker...")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	log.Printf("Configuration loaded from %s", *configPath)
	log.Printf("Broker will bind to %s:%d", cfg.Host, cfg.Port)
	log.Printf("Log verbosity: %s", cfg.LogVerbosity)

	ctx := broker.NewContext()

	if cfg.MetricsEnabled {
		sink := metrics.Sink{}
		ctx.SetMetrics(sink)
	}

	var snap *snapshot.Writer
	if cfg.SnapshotPath != "" {
		snap, err = snapshot.Open(cfg.SnapshotPath, 1440)
		if err != nil {
			log.Fatalf("Failed to open diagnostics snapshot: %v", err)
		}
		defer snap.Close()
		log.Printf("Diagnostics snapshot writing to %s every %ds", cfg.SnapshotPath, cfg.SnapshotIntervalSeconds)
		// Sampled from inside ctx.Run's own loop (see sweepSnapshot), not a
		// separate goroutine: Context's slot tables are only ever safe to
		// read from the loop that owns them.
		ctx.SetSnapshot(snap, time.Duration(cfg.SnapshotIntervalSeconds)*time.Second)
	}

	if err := ctx.Start(cfg.Host, cfg.Port); err != nil {
		log.Fatalf("Failed to start broker: %v", err)
	}

	if cfg.MetricsEnabled {
		go func() {
			http.Handle("/metrics", promhttp.Handler())
			log.Printf("Metrics server starting on %s", cfg.MetricsAddr)
			if err := http.ListenAndServe(cfg.MetricsAddr, nil); err != nil {
				log.Printf("Metrics server error: %v", err)
			}
		}()
	}

	stop := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- ctx.Run(stop)
	}()

	log.Println("tera broker started")
	log.Printf("  listening on %s:%d", cfg.Host, cfg.Port)
	if cfg.MetricsEnabled {
		log.Printf("  metrics available at http://%s/metrics", cfg.MetricsAddr)
	}
	log.Println("Press Ctrl+C to stop")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down broker...")
	close(stop)
	// Wait for Run's loop to actually return before tearing anything down:
	// Context's slot tables and fdToClient map are only safe to touch from
	// the goroutine that owns them, and Run may still be mid-iteration when
	// stop is closed.
	if err := <-done; err != nil {
		log.Printf("Error during shutdown: %v", err)
	}
	ctx.Shutdown()
	fmt.Println("Broker stopped gracefully")
}
