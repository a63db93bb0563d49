// Lobby client - a headless client for the lobby server.
//
// It keeps one TCP connection to the lobby server, performs the version
// handshake and login, and exposes the session through an interactive CLI,
// a REST/websocket API and optional MQTT telemetry. Private messages, lobby
// chat and notifications are stored in a local SQLite history.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/LeonardBesson/lobby-client-lib/internal/api"
	"github.com/LeonardBesson/lobby-client-lib/internal/app"
	"github.com/LeonardBesson/lobby-client-lib/internal/buffer"
	"github.com/LeonardBesson/lobby-client-lib/internal/cli"
	"github.com/LeonardBesson/lobby-client-lib/internal/client"
	"github.com/LeonardBesson/lobby-client-lib/internal/config"
	"github.com/LeonardBesson/lobby-client-lib/internal/db"
	"github.com/LeonardBesson/lobby-client-lib/internal/events"
	"github.com/LeonardBesson/lobby-client-lib/internal/scheduler"
	"github.com/LeonardBesson/lobby-client-lib/internal/telemetry"
	"github.com/LeonardBesson/lobby-client-lib/internal/util"
)

const (
	AppName    = "lobbyclient"
	AppVersion = "0.1.0"
	Banner     = `
  _          _     _
 | |    ___ | |__ | |__  _   _
 | |   / _ \| '_ \| '_ \| | | |
 | |__| (_) | |_) | |_) | |_| |
 |_____\___/|_.__/|_.__/ \__, |
                         |___/  v%s
 Lobby Client
`

	historySubscriber = "history"
	busBuffer         = 1024
	statusInterval    = 10 * time.Second
	shutdownTimeout   = 15 * time.Second
)

func main() {
	fmt.Printf(Banner, AppVersion)
	fmt.Println()

	// Defaults first; reconfigured once the config is loaded.
	if err := util.InitLogger(util.DefaultLogConfig()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info().
		Str("version", AppVersion).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Int("cpus", runtime.NumCPU()).
		Msg("starting lobby client")

	configDir := config.DefaultConfigDir
	if dir := os.Getenv("LOBBY_CONFIG_DIR"); dir != "" {
		configDir = dir
	}
	cfg, err := config.Load(configDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	logging := cfg.GetLogging()
	if err := util.InitLogger(util.LogConfig{
		Level:      logging.Level,
		Directory:  logging.Directory,
		MaxBackups: logging.MaxBackups,
		Console:    logging.Console,
	}); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	}

	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		log.Fatal().Str("path", cfg.Path()).Msg("configuration validation failed, please fix the errors above")
	}

	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Str("cpu", sysInfo.CPUModel).
		Int("cores", sysInfo.CPUCores).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Msg("system information")

	lobby := cfg.GetLobby()
	c, err := client.New(client.Options{
		Addr:              lobby.ServerAddr,
		ReconnectInterval: lobby.ReconnectInterval(),
		TargetBufferSize:  lobby.TargetBufferSize,
		Processors: func() []buffer.Processor {
			procs := []buffer.Processor{buffer.MetricsProcessor{}}
			if lobby.TraceWire {
				procs = append(procs, buffer.NewLogProcessor())
			}
			return procs
		},
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create lobby client")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The bus outlives ctx so that the final disconnect events are delivered.
	eventBus := events.NewEventBus(busBuffer)
	eventBus.Start(context.Background())

	var (
		historyStore *db.HistoryStore
		apiHistory   api.HistoryReader
		cliHistory   cli.HistoryReader
	)
	historyCfg := cfg.GetHistory()
	if historyCfg.Enabled {
		historyStore, err = db.NewHistoryStore(historyCfg.Path)
		if err != nil {
			log.Warn().Err(err).Msg("failed to open history database, history disabled")
		} else {
			eventBus.Subscribe(events.EventAny, historySubscriber, historyStore.OnEvent)
			apiHistory, cliHistory = historyStore, historyStore
		}
	}

	runner := app.NewRunner(app.Options{
		Client:    c,
		Bus:       eventBus,
		TickRate:  lobby.TickRate,
		Email:     lobby.Email,
		Password:  lobby.Password,
		AutoLogin: lobby.AutoLogin,
	})

	var mqttHandler *telemetry.MQTTHandler
	if cfg.GetMQTT().Enabled {
		mqttHandler, err = telemetry.NewMQTTHandler(cfg.GetMQTT(), eventBus, AppVersion)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
			mqttHandler = nil
		}
	}

	sched := scheduler.NewScheduler()
	if historyStore != nil && historyCfg.RetentionDays > 0 {
		retention := time.Duration(historyCfg.RetentionDays) * 24 * time.Hour
		sched.Add(scheduler.Job{
			Name:       "history.prune",
			Interval:   24 * time.Hour,
			RunAtStart: true,
			Run: func(context.Context) error {
				n, err := historyStore.Prune(time.Now().Add(-retention))
				if err != nil {
					return err
				}
				if n > 0 {
					log.Info().Int64("removed", n).Msg("pruned history")
				}
				return nil
			},
		})
	}
	if mqttHandler != nil {
		sched.Add(scheduler.Job{
			Name:     "mqtt.status",
			Interval: statusInterval,
			Run: func(context.Context) error {
				mqttHandler.PublishStatus(runner.Snapshot())
				return nil
			},
		})
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 4)

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Str("server", lobby.ServerAddr).Msg("starting lobby runner")
		if err := runner.Run(ctx); err != nil {
			errCh <- fmt.Errorf("runner: %w", err)
		}
	}()

	if cfg.GetAPI().Enabled {
		apiServer := api.NewServer(cfg, runner, apiHistory, eventBus, AppVersion)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := startWithRetry(ctx, "API server", apiServer.Start, 5); err != nil {
				log.Warn().Err(err).Msg("API server failed after retries (non-fatal)")
			}
		}()
	}

	if mqttHandler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Msg("starting MQTT telemetry")
			if err := mqttHandler.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("MQTT telemetry failed")
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		sched.Start(ctx)
	}()

	// The CLI blocks on stdin; it is not waited for on shutdown.
	go cli.NewCLI(runner, cliHistory, os.Stdin, os.Stdout).Start(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case err := <-errCh:
		log.Error().Err(err).Msg("critical error, initiating shutdown")
	case <-runner.Done():
		log.Info().Msg("runner exited")
	}

	log.Info().Msg("initiating graceful shutdown...")
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all tasks stopped gracefully")
	case <-time.After(shutdownTimeout):
		log.Warn().Dur("timeout", shutdownTimeout).Msg("shutdown timed out, forcing exit")
	}

	eventBus.Stop()

	if historyStore != nil {
		if err := historyStore.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close history database")
		}
	}

	log.Info().Msg("lobby client stopped")
}

// startWithRetry attempts to start a listener with retry on bind errors.
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
			log.Warn().Err(lastErr).Str("component", name).Int("retry", i+1).Int("max", maxRetries).Msg("bind failed, retrying in 3s...")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(3 * time.Second):
			}
		}
	}
	return lastErr
}
