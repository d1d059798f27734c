package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/portal-project/portal/internal/api"
	"github.com/portal-project/portal/internal/config"
	"github.com/portal-project/portal/internal/events"
	"github.com/portal-project/portal/internal/metrics"
	"github.com/portal-project/portal/internal/network"
	"github.com/portal-project/portal/internal/scheduler"
	"github.com/portal-project/portal/internal/store"
	"github.com/portal-project/portal/internal/telemetry"
	"github.com/portal-project/portal/internal/util"
)

func serveCmd() *cobra.Command {
	var configDir string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the proxy",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf(banner, version)
			fmt.Println()
			return serve(cmd.Context(), configDir)
		},
	}

	cmd.Flags().StringVarP(&configDir, "config", "c", config.DefaultConfigDir, "Configuration directory")
	return cmd
}

func serve(parent context.Context, configDir string) error {
	if parent == nil {
		parent = context.Background()
	}

	// Defaults first, reconfigured once the config is loaded.
	if err := util.InitLogger(util.DefaultLogConfig()); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	cfg, err := config.Load(configDir)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	appData := cfg.GetApplicationData()
	logCfg := util.DefaultLogConfig()
	logCfg.Level = appData.Logging.Level
	logCfg.Directory = appData.Logging.Directory
	if err := util.InitLogger(logCfg); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	}

	log.Info().
		Str("version", version).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Int("cpus", runtime.NumCPU()).
		Msg("starting Portal")

	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		return errors.New("configuration validation failed, please fix the errors above")
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eventBus := events.NewEventBus()
	defer eventBus.Stop()
	m := metrics.New()

	var sessions *store.SessionStore
	if appData.Database.Enabled {
		sessions, err = store.NewSessionStore(appData.Database.Path)
		if err != nil {
			return fmt.Errorf("failed to open session store: %w", err)
		}
		defer sessions.Close()
		sessions.Subscribe(eventBus)
	}

	proxy, err := network.NewServer(cfg, network.WithEvents(eventBus), network.WithMetrics(m))
	if err != nil {
		return fmt.Errorf("failed to create proxy: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return proxy.ListenAndServe(gctx)
	})

	if appData.API.Enabled {
		var src api.SessionSource
		if sessions != nil {
			src = sessions
		}
		apiServer := api.NewServer(cfg, eventBus, proxy, src, m, version)
		g.Go(func() error {
			// API failures are logged but never take the proxy down.
			if err := startWithRetry(gctx, "api", apiServer.Start, 5); err != nil && gctx.Err() == nil {
				log.Warn().Err(err).Msg("API server failed after retries")
			}
			return nil
		})
	}

	var history scheduler.Pruner
	if sessions != nil {
		history = sessions
	}
	sched := scheduler.NewScheduler(cfg, history, proxy.Registry())
	g.Go(func() error {
		sched.Start(gctx)
		return nil
	})

	if appData.MQTT.Enabled {
		mqttHandler, err := telemetry.NewMQTTHandler(cfg, eventBus, version)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
		} else {
			g.Go(func() error {
				if err := mqttHandler.Start(gctx); err != nil {
					log.Warn().Err(err).Msg("MQTT telemetry failed")
				}
				return nil
			})
		}
	}

	err = g.Wait()
	if ctx.Err() != nil {
		log.Info().Msg("received shutdown signal")
	}
	log.Info().Msg("Portal stopped")
	return err
}

// startWithRetry retries startFn while the port is still held by a previous
// process.
func startWithRetry(ctx context.Context, name string, startFn func(context.Context) error, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = startFn(ctx)
		if lastErr == nil {
			return nil
		}
		if i < maxRetries {
			log.Warn().Err(lastErr).Str("component", name).Int("retry", i+1).Int("max", maxRetries).Msg("bind failed, retrying in 3s")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(3 * time.Second):
			}
		}
	}
	return lastErr
}
