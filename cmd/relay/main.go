package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/memberlist"

	"dqmnet/internal/buffer"
	"dqmnet/internal/config"
	"dqmnet/internal/logging"
	"dqmnet/internal/messaging"
	"dqmnet/internal/metrics"
	"dqmnet/internal/relay"
)

func main() {
	var (
		configFile  = flag.String("config", "", "Path to config file (YAML)")
		logLevel    = flag.String("log-level", "", "Log level override (debug, info, warn, error)")
		logFormat   = flag.String("log-format", "", "Log format override (text, json)")
		transport   = flag.String("transport", "", "Transport override: memory, nats, gossip, libp2p, spool")
		subjects    = flag.String("subjects", "", "Comma-separated subjects to relay (overrides config)")
		metricsAddr = flag.String("metrics", "", "Serve Prometheus metrics on this address (e.g. ':9095')")
		printConfig = flag.Bool("print-config", false, "Print the effective configuration and exit")
	)
	flag.Parse()

	cfg, err := config.Load(*configFile, func(c *config.AppConfig) {
		if *logLevel != "" {
			c.Log.Level = *logLevel
		}
		if *logFormat != "" {
			c.Log.Format = *logFormat
		}
		if *transport != "" {
			c.Transport.Kind = *transport
		}
		if *subjects != "" {
			c.Relay.Subjects = config.SplitList(*subjects)
		}
		if *metricsAddr != "" {
			c.Metrics.Enabled = true
			c.Metrics.ListenAddr = *metricsAddr
		}
	})
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if *printConfig {
		out, err := config.Summary(cfg)
		if err != nil {
			log.Fatalf("Failed to render config: %v", err)
		}
		fmt.Print(out)
		return
	}

	logging.Init(cfg.Log.Level, cfg.Log.Format)
	logger := logging.WithComponent("relay")
	config.PrintConfigurationSummary(cfg, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var provider metrics.Provider = metrics.Noop{}
	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		prom := metrics.NewProm()
		provider = prom
		mux := http.NewServeMux()
		mux.Handle("/metrics", prom.Handler())
		metricsServer = &http.Server{Addr: cfg.Metrics.ListenAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Errorf("metrics server: %v", err)
			}
		}()
		logger.Infof("Metrics server listening on %s", cfg.Metrics.ListenAddr)
	}

	bus, err := messaging.New(ctx, cfg.Transport, logging.WithComponent("bus"), provider)
	if err != nil {
		logger.Fatalf("Failed to create %s transport: %v", cfg.Transport.Kind, err)
	}

	r, err := relay.New(bus, cfg.Relay, relay.WithLogger(logger), relay.WithMetrics(provider))
	if err != nil {
		_ = bus.Close()
		logger.Fatalf("Failed to create relay: %v", err)
	}

	t := &tap{logger: logger}
	r.Received.Connect(t, t.OnMessage)
	r.Duplicate.Connect(t, t.OnDuplicate)
	r.Stopped.ConnectFunc(func() { logger.Info("Relay stopped") })
	if g, ok := bus.(*messaging.GossipBus); ok {
		g.Joined.Connect(t, t.OnJoin)
		g.Left.Connect(t, t.OnLeave)
	}

	if err := r.Start(); err != nil {
		_ = bus.Close()
		logger.Fatalf("Failed to start relay: %v", err)
	}

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	logger.Infof("Relay %s is running. Press Ctrl+C to stop.", r.ID())
	<-sigCh

	logger.Info("Shutting down relay...")
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := r.Close(); err != nil {
			logger.Errorf("Error closing relay: %v", err)
		}
		if nb, ok := bus.(*messaging.NATSBus); ok {
			if err := nb.Flush(cfg.Timeouts.NATSFlush); err != nil {
				logger.Warnf("NATS flush: %v", err)
			}
		}
		if err := bus.Close(); err != nil {
			logger.Errorf("Error closing transport: %v", err)
		}
		if metricsServer != nil {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Timeouts.Shutdown)
			defer shutdownCancel()
			_ = metricsServer.Shutdown(shutdownCtx)
		}
	}()

	select {
	case <-done:
		logger.Info("Relay shutdown complete")
	case <-time.After(cfg.Timeouts.Shutdown):
		logger.Warnf("Shutdown timed out after %s", cfg.Timeouts.Shutdown)
	}
}

// tap logs what the relay emits.
type tap struct {
	logger logging.Logger
}

func (t *tap) OnMessage(subject string, b *buffer.Buffer) {
	t.logger.Infof("%s: %d bytes", subject, b.Size())
}

func (t *tap) OnDuplicate(subject string) {
	t.logger.Debugf("%s: duplicate suppressed", subject)
}

func (t *tap) OnJoin(n *memberlist.Node) {
	t.logger.Infof("peer %s joined (%s)", n.Name, n.Address())
}

func (t *tap) OnLeave(n *memberlist.Node) {
	t.logger.Infof("peer %s left (%s)", n.Name, n.Address())
}
