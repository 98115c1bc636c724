package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marcus/taskgrid/internal/config"
	"github.com/marcus/taskgrid/internal/events"
	"github.com/marcus/taskgrid/internal/logging"
	"github.com/marcus/taskgrid/internal/registry"
	"github.com/marcus/taskgrid/internal/store"
	"github.com/marcus/taskgrid/internal/swarm"
)

// app is the wiring shared by every command: config, logger, store, event
// sinks and the registry on top.
type app struct {
	cfg    *config.Config
	logger *logging.Logger
	store  *store.SQLite
	reg    *registry.Registry
	sink   events.Sink
	ready  registry.InitReport
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")

	var (
		cfg *config.Config
		err error
	)
	if path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	if dbPath, _ := cmd.Flags().GetString("db"); dbPath != "" {
		cfg.DB.Path = dbPath
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// openApp loads config, opens the database and initializes the registry.
// Extra hooks are installed alongside the event hooks.
func openApp(cmd *cobra.Command, extra ...registry.Hooks) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	if err := logging.Init(cfg.LoggerConfig()); err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}
	logger := logging.Get()

	roster, err := cfg.Roster()
	if err != nil {
		return nil, err
	}

	st, err := store.OpenSQLite(cfg.DB.Path)
	if err != nil {
		return nil, fmt.Errorf("opening db: %w", err)
	}

	sink := buildSink(cfg, logger)
	hooks := registry.MultiHooks{events.NewHooks(sink, logger.WithComponent("events"))}
	hooks = append(hooks, extra...)

	reg := registry.New(st,
		registry.WithLogger(logger.WithComponent("registry")),
		registry.WithRoster(roster),
		registry.WithHooks(hooks),
	)

	a := &app{cfg: cfg, logger: logger, store: st, reg: reg, sink: sink}
	a.ready, err = reg.Initialize(cmd.Context())
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("initializing registry: %w", err)
	}
	return a, nil
}

// buildSink always logs events and additionally publishes to NATS when a
// server is configured. An unreachable server degrades to logging only.
func buildSink(cfg *config.Config, logger *logging.Logger) events.Sink {
	sinks := events.Multi{events.NewLogSink(logger.WithComponent("events"))}
	if cfg.Events.NATSURL == "" {
		return sinks
	}

	nc := events.DefaultNATSConfig()
	nc.URL = cfg.Events.NATSURL
	if cfg.Events.SubjectPrefix != "" {
		nc.SubjectPrefix = cfg.Events.SubjectPrefix
	}
	ns, err := events.DialNATS(nc)
	if err != nil {
		logger.Err(err).Str("url", nc.URL).Msg("nats unavailable, events will only be logged")
		return sinks
	}
	if cfg.Events.Buffer > 0 {
		return append(sinks, events.NewAsync(ns, cfg.Events.Buffer, logger.WithComponent("events")))
	}
	return append(sinks, ns)
}

// coordinator analyses the configured swarms plus any extra ones.
func (a *app) coordinator(extra ...swarm.Swarm) *swarm.Coordinator {
	return swarm.New(a.reg, append(a.cfg.SwarmList(), extra...),
		swarm.WithThresholds(a.cfg.Swarm.HighWater, a.cfg.Swarm.LowWater),
		swarm.WithLogger(a.logger.WithComponent("swarm")),
	)
}

func (a *app) Close() error {
	var errs []error
	if a.sink != nil {
		errs = append(errs, a.sink.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.logger != nil {
		errs = append(errs, a.logger.Close())
	}
	return errors.Join(errs...)
}
