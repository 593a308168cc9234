package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gaiwait/pkg/api"
	"gaiwait/pkg/config"
	"gaiwait/pkg/dns"
	"gaiwait/pkg/gai"
	"gaiwait/pkg/logging"
	"gaiwait/pkg/resolver"
	"gaiwait/pkg/storage"
	"gaiwait/pkg/telemetry"
)

const cleanupInterval = time.Hour

// runServe runs the stub DNS server with its journal, telemetry and config
// watcher until SIGINT or SIGTERM. It returns the process exit code.
func runServe() int {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	logger, err := setupLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer logger.Close()

	var watcher *config.Watcher
	if *configPath != "" {
		watcher, err = config.NewWatcher(*configPath, logger.Logger)
		if err != nil {
			logger.Error("Failed to watch config", "error", err)
			return 1
		}
		defer watcher.Close()
	}

	logger.Info("gaiwait starting",
		"version", version,
		"build_time", buildTime,
		"backend", cfg.Resolver.Backend,
		"timeout", cfg.Resolver.Timeout,
	)

	ctx := context.Background()
	telem, err := telemetry.New(ctx, &cfg.Telemetry, logger)
	if err != nil {
		logger.Error("Failed to initialize telemetry", "error", err)
		return 1
	}
	metrics, err := telem.InitMetrics()
	if err != nil {
		logger.Error("Failed to initialize metrics", "error", err)
		return 1
	}

	store, err := storage.New(&cfg.Storage, metrics, logger)
	if err != nil {
		logger.Error("Failed to initialize storage", "error", err)
		return 1
	}
	defer store.Close()

	opts := gai.Options{
		Logger:  logger,
		Metrics: metrics,
		Tracer:  telem.Tracer(),
	}
	if cfg.Storage.Enabled {
		opts.Observer = storage.NewJournal(store, logger)
	}
	r, err := resolver.NewFromConfig(&cfg.Resolver, opts)
	if err != nil {
		logger.Error("Failed to create resolver", "error", err)
		return 1
	}
	resolver.SetDefault(r)

	serverCtx, serverCancel := context.WithCancel(ctx)
	defer serverCancel()

	if watcher != nil {
		watcher.OnChange(func(newCfg *config.Config) {
			applyFlags(newCfg)
			r.SetDefaultTimeout(newCfg.Resolver.Timeout)
			logger.SetLevel(newCfg.Logging.Level)
			logger.Info("Configuration reloaded",
				"timeout", newCfg.Resolver.Timeout,
				"log_level", newCfg.Logging.Level,
			)
		})
		go func() {
			if err := watcher.Start(serverCtx); err != nil {
				logger.Error("Config watcher stopped", "error", err)
			}
		}()
	}

	if cfg.Storage.Enabled && cfg.Storage.RetentionDays > 0 {
		go runRetention(serverCtx, store, cfg.Storage.RetentionDays, logger)
	}

	errChan := make(chan error, 2)
	var server *dns.Server
	if cfg.Server.Enabled {
		handler := dns.NewHandler(r, cfg.Server.AnswerTTL, logger)
		server = dns.NewServer(&cfg.Server, handler, logger, metrics)
		go func() {
			if err := server.Start(serverCtx); err != nil {
				errChan <- err
			}
		}()
		logger.Info("gaiwait stub server is running", "address", cfg.Server.ListenAddress)
	} else {
		logger.Info("Stub DNS server disabled, serving telemetry and journal only")
	}

	var apiServer *api.Server
	if cfg.API.Enabled {
		apiCfg := &api.Config{
			ListenAddress: cfg.API.ListenAddress,
			Resolver:      r,
			Logger:        logger.Logger,
			Version:       version,
		}
		if cfg.Storage.Enabled {
			apiCfg.Storage = store
		}
		if cfg.Telemetry.Enabled && cfg.Telemetry.PrometheusEnabled {
			apiCfg.Metrics = telem.Handler()
		}
		apiServer = api.New(apiCfg)
		go func() {
			if err := apiServer.Start(serverCtx); err != nil {
				errChan <- err
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	exitCode := 0
	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", "signal", sig.String())
	case err := <-errChan:
		logger.Error("Server error", "error", err)
		exitCode = 1
	}
	serverCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Error during server shutdown", "error", err)
		}
	}
	if apiServer != nil {
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("Error during API shutdown", "error", err)
		}
	}
	_ = r.Close()

	stats := r.Stats()
	logger.Info("Resolver stopped",
		"in_flight", stats.InFlight,
		"orphaned", stats.Orphaned,
		"late", stats.Late,
	)

	if err := telem.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during telemetry shutdown", "error", err)
	}

	logger.Info("gaiwait stopped")
	return exitCode
}

// runRetention deletes journal entries older than days, once at start and
// then every cleanupInterval.
func runRetention(ctx context.Context, store storage.Storage, days int, logger *logging.Logger) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		cutoff := time.Now().AddDate(0, 0, -days)
		if n, err := store.Cleanup(ctx, cutoff); err != nil {
			logger.Warn("Journal cleanup failed", "error", err)
		} else if n > 0 {
			logger.Info("Journal cleanup", "deleted", n, "cutoff", cutoff)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
