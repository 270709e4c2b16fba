package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/michaelbrown/playground/internal/config"
	"github.com/michaelbrown/playground/internal/logging"
	"github.com/michaelbrown/playground/internal/monitoring"
	"github.com/michaelbrown/playground/internal/playground"
	"github.com/michaelbrown/playground/internal/storage"
	"github.com/michaelbrown/playground/internal/storage/sqlite"
)

// loadConfig reads the config file and applies the global flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFlag)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if backendFlag != "" {
		cfg.Sandbox.Backend = backendFlag
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func openStore(cfg *config.Config) (storage.Store, error) {
	store, err := sqlite.Open(cfg.Storage.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	return store, nil
}

// app is one playground: a session over the configured sandbox, its
// output log and the orchestrator that runs code in it.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	log     *playground.OutputLog
	session *playground.Session
	orch    *playground.Orchestrator
	store   storage.Store
	metrics *monitoring.Metrics
}

// newApp wires a playground from cfg. Run history is kept when the
// config enables it and history is true.
func newApp(cfg *config.Config, history bool) (*app, error) {
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}

	rt, err := cfg.NewRuntime()
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:     cfg,
		logger:  logger,
		metrics: monitoring.NewMetrics(),
	}
	if history && cfg.Storage.Enabled {
		if a.store, err = openStore(cfg); err != nil {
			return nil, err
		}
	}

	a.log = playground.NewOutputLog(playground.StalePolicy(cfg.Playground.StaleOutput))
	a.session = playground.NewSession(rt, a.log, logger.Named("session"), a.metrics)
	a.orch = playground.NewOrchestrator(a.session, a.log, playground.Options{
		Command:   cfg.Sandbox.Command,
		EntryFile: cfg.Sandbox.EntryFile,
		Backend:   cfg.Sandbox.Backend,
		Store:     a.store,
		Metrics:   a.metrics,
		Logger:    logger.Named("orchestrator"),
	})
	return a, nil
}

// boot starts the session and waits for it to resolve. It fails when the
// sandbox did not come up.
func (a *app) boot(ctx context.Context) error {
	a.session.Initialize(ctx)
	if err := a.session.Wait(ctx); err != nil {
		return err
	}
	if !a.session.CanRun() {
		return fmt.Errorf("sandbox unavailable: %w", a.session.BootErr())
	}
	return nil
}

// execute runs source and copies the log to p until the run is done.
func (a *app) execute(ctx context.Context, source string, p *logPrinter) (int, error) {
	events, unsubscribe := a.log.Subscribe()
	defer unsubscribe()
	<-events // snapshot of the previous run

	run, err := a.orch.Run(ctx, source)
	if err != nil {
		p.sync(a.log.String())
		return -1, err
	}

	for {
		select {
		case ev := <-events:
			p.handle(ev)
		case <-run.Done():
			p.sync(a.log.String())
			return run.Wait(ctx)
		case <-ctx.Done():
			return -1, ctx.Err()
		}
	}
}

func (a *app) Close() {
	if err := a.session.Close(); err != nil {
		a.logger.Warn("closing sandbox", zap.Error(err))
	}
	if a.store != nil {
		a.store.Close()
	}
	a.logger.Sync()
}
