package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/quorumlabs/slotqueue/internal/api"
	"github.com/quorumlabs/slotqueue/internal/config"
	"github.com/quorumlabs/slotqueue/internal/discount"
	"github.com/quorumlabs/slotqueue/internal/lifecycle"
	"github.com/quorumlabs/slotqueue/internal/metrics"
	"github.com/quorumlabs/slotqueue/pkg/types"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	// Setup structured logging
	handler := log.NewTerminalHandler(os.Stdout, true)
	log.SetDefault(log.NewLogger(handler))

	logger := log.New("module", "main")
	logger.Info("slotqueued starting", "version", version)

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("Failed to load config", "err", err)
		os.Exit(1)
	}

	// Metrics
	m := metrics.New()
	if cfg.Metrics.Enabled {
		m.Serve(cfg.Metrics.Addr)
	}

	// Vault and lifecycle manager
	vault := lifecycle.NewMemoryVault()
	manager := lifecycle.NewManager(cfg, vault, lifecycle.WithMetrics(m))
	logger.Info("Queue initialized",
		"capacity", cfg.Queue.Capacity,
		"gracePeriod", cfg.Queue.GracePeriod,
		"maxTopWait", cfg.Queue.MaxTopWait,
		"baseFee", cfg.Fees.BaseFee,
	)

	// Discount registry client
	dc := discount.New(&cfg.Discount)
	logger.Info("Discount registry client initialized",
		"enabled", cfg.Discount.Enabled,
		"apiUrl", cfg.Discount.APIURL,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Event log tail
	events := make(chan types.QueueEvent, 64)
	sub := manager.Queue().SubscribeEvents(events)
	defer sub.Unsubscribe()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-events:
				logger.Info("Queue event",
					"kind", ev.Kind.String(),
					"id", ev.ID,
					"submitter", ev.Submitter.Hex(),
					"fee", ev.Fee,
				)
			}
		}
	}()

	// Background sweeper
	worker := lifecycle.NewWorker(manager, &cfg.Worker)
	go worker.Start(ctx)

	// HTTP API
	apiHandler := api.NewHandler(manager, dc)
	apiHandler.SetMetrics(m)
	server := api.NewServer(&cfg.API, apiHandler)
	if err := server.Start(ctx); err != nil {
		logger.Error("Failed to start API server", "err", err)
		os.Exit(1)
	}

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("Shutting down", "signal", sig.String())

	worker.Stop()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("API shutdown error", "err", err)
	}
	logger.Info("Goodbye")
}
