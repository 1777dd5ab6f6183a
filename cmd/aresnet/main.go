// aresnet - lock-step network node for a tactical space-combat game.
//
// aresnet hosts or joins a peer-to-peer game, runs the per-tick lock-step
// exchange against a deterministic stand-in simulation, keeps preferences
// and session history in SQLite, exposes a REST and websocket API and
// publishes telemetry via MQTT.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ares-project/aresnet/internal/api"
	"github.com/ares-project/aresnet/internal/cli"
	"github.com/ares-project/aresnet/internal/config"
	"github.com/ares-project/aresnet/internal/db"
	"github.com/ares-project/aresnet/internal/events"
	"github.com/ares-project/aresnet/internal/handshake"
	"github.com/ares-project/aresnet/internal/netgame"
	"github.com/ares-project/aresnet/internal/protocol"
	"github.com/ares-project/aresnet/internal/session"
	"github.com/ares-project/aresnet/internal/sim"
	"github.com/ares-project/aresnet/internal/telemetry"
	"github.com/ares-project/aresnet/internal/transport"
	"github.com/ares-project/aresnet/internal/util"
)

const (
	AppVersion = api.Version
	Banner     = `
     _                             _
    / \   _ __ ___  ___ _ __   ___| |_
   / _ \ | '__/ _ \/ __| '_ \ / _ \ __|
  / ___ \| | |  __/\__ \ | | |  __/ |_
 /_/   \_\_|  \___||___/_| |_|\___|\__|  v%s
 Lock-step network node
`
	demoAddr = "demo"
)

func main() {
	fmt.Printf(Banner, AppVersion)
	fmt.Println()

	// Defaults first, reconfigured after the config is loaded.
	if err := util.InitLogger(util.DefaultLogConfig()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info().
		Str("version", AppVersion).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Int("cpus", runtime.NumCPU()).
		Msg("starting aresnet")

	cfg, err := config.Load(config.DefaultConfigDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	appData := cfg.GetApplicationData()
	logCfg := util.LogConfig{
		Level:      appData.Logging.Level,
		Directory:  appData.Logging.Directory,
		MaxSizeMB:  appData.Logging.MaxSizeMB,
		MaxBackups: appData.Logging.MaxBackups,
		Console:    true,
	}
	if err := util.InitLogger(logCfg); err != nil {
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

		if cfg.IsFirstRun() {
			log.Info().Msg("first run detected, launching setup wizard")
			if err := config.RunSetupWizard(cfg); err != nil {
				log.Fatal().Err(err).Msg("setup wizard failed")
			}
		} else {
			log.Fatal().Msg("configuration validation failed, please fix the errors above")
		}
	}

	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Str("cpu", sysInfo.CPUModel).
		Int("cores", sysInfo.CPUCores).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Msg("system information")
	if ip, err := util.GetLocalIP(); err == nil {
		log.Info().Str("ip", ip).Msg("local address for joiners")
	}

	store, err := db.OpenStore(cfg.GetApplicationData().Database.Path, config.DefaultPreferences(cfg))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer store.Close()

	scenario, identity := loadScenario(cfg.Scenario)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eventBus := events.NewEventBus()
	network := cfg.GetNetwork()

	var hub *transport.Hub
	opts := netgame.Options{
		Config:      cfg,
		Bus:         eventBus,
		Preferences: store,
		History:     store,
		Scenario:    scenario,
		Identity:    identity,
	}
	if network.Mode == config.ModeDemo {
		hub = transport.NewHub()
		opts.Transport = hub.Endpoint()
	}
	mgr := netgame.New(opts)

	apiServer := api.NewServer(cfg, eventBus, mgr, store)

	var mqttHandler *telemetry.MQTTHandler
	mqttHandler, err = telemetry.NewMQTTHandler(cfg, eventBus, mgr)
	if err != nil {
		if !errors.Is(err, telemetry.ErrDisabled) {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
		}
		mqttHandler = nil
	}

	cliHandler := cli.NewCLI(cfg, eventBus, mgr, store, os.Stdin, os.Stdout)

	var wg sync.WaitGroup
	shutdownCh := make(chan struct{}, 1)
	eventBus.Subscribe(events.EventShutdown, "main.shutdown", func(ctx context.Context, e events.Event) error {
		select {
		case shutdownCh <- struct{}{}:
		default:
		}
		return nil
	})

	// Frame loop
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := mgr.Run(ctx); err != nil {
			log.Error().Err(err).Msg("frame loop failed")
		}
	}()

	// Open or join the configured game
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := startSession(ctx, mgr, network.Mode, hub, scenario, identity, cfg); err != nil {
			log.Error().Err(err).Str("mode", network.Mode).Msg("failed to start session")
		}
	}()

	if cfg.GetApplicationData().API.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Int("port", cfg.GetApplicationData().API.Port).Msg("starting REST API server")
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

	// The console blocks on stdin, so it is not waited for.
	go func() {
		log.Info().Msg("starting interactive console")
		cliHandler.Start(ctx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case <-shutdownCh:
		log.Info().Msg("shutdown requested")
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
	case <-time.After(15 * time.Second):
		log.Warn().Msg("shutdown timed out after 15 seconds, forcing exit")
	}

	eventBus.Stop()
	log.Info().Msg("aresnet stopped")
}

// loadScenario reads the configured scenario, falling back to the built-in
// one when the file is missing.
func loadScenario(sc config.ScenarioConfig) (*sim.Scenario, protocol.ScenarioIdentity) {
	if sc.File != "" {
		if _, err := os.Stat(sc.File); err == nil {
			scenario, err := sim.LoadScenario(sc.File)
			if err != nil {
				log.Fatal().Err(err).Msg("failed to load scenario")
			}
			identity, err := handshake.ScenarioFromFile(sc.File, sc.URL, uint32(sc.Version))
			if err != nil {
				log.Fatal().Err(err).Msg("failed to checksum scenario")
			}
			return scenario, identity
		}
		log.Warn().Str("file", sc.File).Msg("scenario file not found, using the built-in scenario")
	}

	scenario, err := sim.ParseScenario(strings.NewReader(sim.DefaultScenario))
	if err != nil {
		log.Fatal().Err(err).Msg("built-in scenario is invalid")
	}
	return scenario, protocol.ScenarioIdentity{
		Filename: "default",
		URL:      sc.URL,
		Version:  scenario.Version,
		Checksum: handshake.ChecksumBytes([]byte(sim.DefaultScenario)),
	}
}

// startSession opens the game the configured mode asks for.
func startSession(ctx context.Context, mgr *netgame.Manager, mode string, hub *transport.Hub,
	scenario *sim.Scenario, identity protocol.ScenarioIdentity, cfg *config.Config) error {
	switch mode {
	case config.ModeHost:
		p := mgr.HostParams()
		if err := mgr.Host(ctx, p); err != nil {
			return err
		}
		log.Info().Str("game", p.GameName).Str("addr", p.ListenAddr).Msg("hosting, type 'begin' once players have joined")
	case config.ModeJoin:
		p := mgr.JoinParams()
		if err := mgr.Join(ctx, p); err != nil {
			return err
		}
		log.Info().Str("addr", p.Address).Msg("joined, waiting for the host to start")
	case config.ModeDemo:
		return runDemo(ctx, mgr, hub, scenario, identity, cfg)
	}
	return nil
}

// runDemo hosts an in-process game against a bot node on the loopback hub.
func runDemo(ctx context.Context, mgr *netgame.Manager, hub *transport.Hub,
	scenario *sim.Scenario, identity protocol.ScenarioIdentity, cfg *config.Config) error {
	p := mgr.HostParams()
	p.ListenAddr = demoAddr
	if p.GameName == "" {
		p.GameName = "Demo"
	}
	if err := mgr.Host(ctx, p); err != nil {
		return fmt.Errorf("demo host: %w", err)
	}

	botCfg := config.DefaultConfig()
	botCfg.Network = cfg.GetNetwork()
	botCfg.Player.Name = "Bot"
	botCfg.Player.Race = 1
	botCfg.Player.Color = 2
	bot := netgame.New(netgame.Options{
		Config:    botCfg,
		Transport: hub.Endpoint(),
		Scenario:  scenario,
		Identity:  identity,
	})
	go bot.Run(ctx)

	if err := bot.Join(ctx, session.JoinParams{Address: demoAddr, PlayerName: "Bot", Race: 1, Color: 2}); err != nil {
		return fmt.Errorf("demo bot join: %w", err)
	}

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for mgr.Status().Accepted < 1 {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
	if err := mgr.Begin(ctx); err != nil {
		return fmt.Errorf("demo begin: %w", err)
	}
	log.Info().Msg("demo game started against a local bot")

	// The bot circles and fires.
	for !bot.Status().Engine.Running {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
	return bot.SetKeys(ctx, protocol.KeyThrust|protocol.KeyTurnLeft|protocol.KeyFirePulse)
}

// startWithRetry attempts to start a server with retry on bind errors.
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
