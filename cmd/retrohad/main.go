// Package main is the entry point for the retroha bridge daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/retropie-ha/retroha/internal/command"
	"github.com/retropie-ha/retroha/internal/config"
	"github.com/retropie-ha/retroha/internal/domain/discovery"
	"github.com/retropie-ha/retroha/internal/domain/library"
	"github.com/retropie-ha/retroha/internal/domain/session"
	"github.com/retropie-ha/retroha/internal/infra/esconfig"
	"github.com/retropie-ha/retroha/internal/infra/mqtt"
	"github.com/retropie-ha/retroha/internal/infra/retroarch"
	"github.com/retropie-ha/retroha/internal/telemetry"
	"github.com/retropie-ha/retroha/internal/transport/eventsock"
	"github.com/retropie-ha/retroha/internal/version"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (default: search standard locations)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.GetInfo().String())
		return
	}

	// Setup logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Configuration error")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	if *debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	// Print startup banner
	versionInfo := version.GetInfo()
	log.Info().Msg("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	log.Info().Msgf("  %s", versionInfo.String())
	log.Info().Msg("  RetroPie Home Assistant Bridge")
	log.Info().Msg("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	log.Info().
		Str("mqtt_host", cfg.MQTT.Host).
		Int("mqtt_port", cfg.MQTT.Port).
		Str("topic_prefix", cfg.MQTT.TopicPrefix).
		Str("roms_dir", cfg.Library.RomsDir).
		Dur("sample_interval", cfg.Telemetry.Interval).
		Bool("strict_ingest", cfg.Ingest.Strict).
		Msg("Configuration")

	// Device identity
	identity, err := discovery.NewIdentityStore(
		filepath.Join(cfg.Device.StateDir, "device.json"), cfg.DeviceName())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize device identity")
	}

	// Message bus
	bus := mqtt.NewClient(mqtt.Options{
		Host:      cfg.MQTT.Host,
		Port:      cfg.MQTT.Port,
		Username:  cfg.MQTT.Username,
		Password:  cfg.MQTT.Password,
		ClientID:  cfg.MQTT.ClientID,
		Prefix:    cfg.MQTT.TopicPrefix,
		QueueSize: cfg.MQTT.QueueSize,
	})

	registry := discovery.NewRegistry(
		cfg.MQTT.DiscoveryPrefix,
		identity.Identity(),
		bus.AvailabilityTopic(),
		discovery.Entities(bus.Topic),
	)

	// Library scanner + telemetry
	scanner := library.NewScanner(cfg.Library.RomsDir)
	sampler := telemetry.NewSampler(bus, identity.Identity().Name, cfg.Telemetry.Interval)
	scanner.OnScan(func(stats library.Stats) {
		sampler.PublishLibraryStats(stats.Total, stats.Favorites, stats.KidFriendly)
	})

	// Emulator control proxy, gated on retroarch.cfg
	raEnabled, raPort, err := retroarch.EnabledFromConfig(cfg.RetroArch.ConfigPath, cfg.RetroArch.Port)
	if err != nil {
		log.Warn().Err(err).Msg("Cannot read retroarch.cfg, emulator control disabled")
	} else if !raEnabled {
		log.Info().Msg("network_cmd_enable is off in retroarch.cfg, emulator control disabled")
	}
	proxy := retroarch.NewProxy(cfg.RetroArch.Host, raPort, cfg.RetroArch.Timeout, raEnabled)

	// Session state machine
	machine := session.NewMachine(libraryMetadata{scanner}, session.Options{
		Strict:            cfg.Ingest.Strict,
		PublishThumbnails: cfg.Telemetry.PublishThumbnails,
		ThumbnailMaxBytes: cfg.Telemetry.ThumbnailMaxBytes,
	})
	machine.SetPublisher(&transitionPublisher{Sampler: sampler, proxy: proxy})
	sampler.SetSource(machine)

	// Command dispatcher
	settings := esconfig.NewStore(cfg.Frontend.SettingsPath, cfg.Frontend.RestartCommand)
	announcer := command.NewExecAnnouncer(cfg.TTS.Command)
	dispatcher := command.NewDispatcher(bus, proxy, scanner, settings, registry, announcer, func() {
		registry.PublishAll(bus)
	})
	dispatcher.Register()

	bus.OnConnect(func() {
		registry.PublishAll(bus)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Event ingest socket. Without it the daemon is deaf to the front-end,
	// so a bind failure is fatal.
	ingest := eventsock.NewServer(cfg.Ingest.SocketPath, machine)
	if err := ingest.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start event ingest socket")
	}
	defer ingest.Close()

	// Initial library scan, then watch for gamelist changes.
	go scanner.Scan()
	if cfg.Library.Watch {
		watcher := library.NewWatcher(scanner, cfg.Library.Debounce)
		if err := watcher.Start(ctx); err != nil {
			log.Warn().Err(err).Msg("File watching unavailable, library rescans on demand only")
		}
	}

	bus.Connect()
	go sampler.Run(ctx)

	// Cooperative shutdown: front-end quit and process signals converge on
	// the same path through the state machine, so the final duration and
	// shutdown status publishes always happen in order.
	done := make(chan struct{})
	machine.OnQuit(func() { close(done) })

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Msg("Signal received, shutting down...")
		if err := machine.HandleEvent(session.EventQuit, nil); err != nil {
			log.Error().Err(err).Msg("Quit transition failed")
			close(done)
		}
	}()

	<-done
	cancel()
	bus.Close(3 * time.Second)
	log.Info().Msg("Daemon stopped")
}

// libraryMetadata adapts the scanner's Game records to the session
// machine's metadata contract.
type libraryMetadata struct {
	scanner *library.Scanner
}

func (l libraryMetadata) Lookup(system, romPath string) (session.Metadata, bool) {
	game, ok := l.scanner.Lookup(system, romPath)
	if !ok {
		return session.Metadata{}, false
	}
	return session.Metadata{
		Name:        game.Name,
		Description: game.Description,
		Genre:       game.Genre,
		Developer:   game.Developer,
		Publisher:   game.Publisher,
		ReleaseDate: game.ReleaseDate,
		Rating:      game.Rating,
		Thumbnail:   game.Thumbnail,
	}, true
}

// transitionPublisher decorates the sampler: entering playing probes the
// emulator control port once, so unreachability is diagnosed at game start
// rather than on the first remote command.
type transitionPublisher struct {
	*telemetry.Sampler
	proxy *retroarch.Proxy
}

func (p *transitionPublisher) PublishStatus(st session.Status) {
	p.Sampler.PublishStatus(st)
	if st == session.StatusPlaying && p.proxy.Enabled() {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if v, err := p.proxy.Version(ctx); err != nil {
				log.Warn().Err(err).Msg("Emulator control port unreachable after game start")
			} else {
				log.Debug().Str("retroarch_version", v).Msg("Emulator control port reachable")
			}
		}()
	}
}
