package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/swamp-dev/sqlquest/internal/agent"
	"github.com/swamp-dev/sqlquest/internal/analysis"
	"github.com/swamp-dev/sqlquest/internal/cache"
	"github.com/swamp-dev/sqlquest/internal/config"
	"github.com/swamp-dev/sqlquest/internal/container"
	"github.com/swamp-dev/sqlquest/internal/evaluator"
	"github.com/swamp-dev/sqlquest/internal/output"
	"github.com/swamp-dev/sqlquest/internal/sandbox"
	"github.com/swamp-dev/sqlquest/internal/store"
	"github.com/swamp-dev/sqlquest/internal/supervisor"
)

// pipeline is every long-lived collaborator of an evaluation run.
type pipeline struct {
	store       *store.Store
	provider    sandbox.Provider
	coordinator *supervisor.Coordinator
	closers     []func() error
}

// Close releases resources in reverse order of acquisition.
func (p *pipeline) Close() error {
	var errs []error
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// newPipeline builds the store, sandbox, analyzer, evaluator, scheduler, and
// coordinator described by cfg. On error everything opened so far is closed.
func newPipeline(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *pipeline, err error) {
	p := &pipeline{}
	defer func() {
		if err != nil {
			_ = p.Close()
		}
	}()

	p.store, err = openStore(cfg.Store.Path)
	if err != nil {
		return nil, err
	}
	p.closers = append(p.closers, p.store.Close)

	p.provider, err = newSandbox(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	p.closers = append(p.closers, p.provider.Close)

	analyzer, closeAnalyzer, err := newAnalyzer(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if closeAnalyzer != nil {
		p.closers = append(p.closers, closeAnalyzer)
	}

	executor := sandbox.NewExecutor(p.provider, sandbox.Options{
		Mode:             cfg.Mode(),
		StatementTimeout: cfg.StatementTimeout(),
		PreviewRows:      cfg.Sandbox.PreviewRows,
	}, logger)

	resultCache := cache.New(cfg.Cache.Dir, cache.Options{
		Enabled:      cfg.Cache.Enabled,
		ShortCircuit: cfg.Cache.ShortCircuit,
	}, logger)

	eval, err := evaluator.New(evaluator.Deps{
		Repo:     p.store,
		Cache:    resultCache,
		Executor: executor,
		Analyzer: analyzer,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	opts := supervisor.OptionsFromConfig(cfg)
	scheduler := supervisor.NewQuestScheduler(
		eval,
		output.NewWriter(cfg.Output.Dir),
		opts.BatchPacer(logger),
		opts.MaxConcurrentFiles,
		logger,
	)
	p.coordinator = supervisor.NewCoordinator(cfg.Quests.Root, opts, supervisor.CoordinatorDeps{
		Scheduler: scheduler,
		Runs:      p.store,
		Logger:    logger,
		Config:    cfg,
	})

	logger.Debug("pipeline ready",
		"root", cfg.Quests.Root,
		"sandbox", cfg.Sandbox.Driver,
		"mode", executor.Mode(),
		"analysis", cfg.Analysis.Backend,
		"cache", cfg.Cache.Enabled,
	)
	return p, nil
}

func openStore(path string) (*store.Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}
	s, err := store.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	return s, nil
}

// newSandbox returns the provider for cfg.Sandbox. A docker postgres sandbox
// starts a container that is removed when the provider closes.
func newSandbox(ctx context.Context, cfg *config.Config, logger *slog.Logger) (sandbox.Provider, error) {
	switch cfg.Sandbox.Driver {
	case "sqlite":
		if cfg.Sandbox.DSN != "" {
			logger.Info("using shared sqlite sandbox", "dsn", cfg.Sandbox.DSN)
			return sandbox.OpenPool("sqlite", cfg.Sandbox.DSN, cfg.Sandbox.MaxOpenConns)
		}
		return sandbox.NewEphemeralSQLite(), nil

	case "postgres":
		if !cfg.Sandbox.Docker {
			return sandbox.OpenPostgres(ctx, sandbox.PostgresOptions{
				DSN:          cfg.Sandbox.DSN,
				MaxOpenConns: cfg.Sandbox.MaxOpenConns,
			}, logger)
		}
		return startDockerPostgres(ctx, cfg, logger)

	default:
		return nil, fmt.Errorf("unknown sandbox driver: %s", cfg.Sandbox.Driver)
	}
}

func startDockerPostgres(ctx context.Context, cfg *config.Config, logger *slog.Logger) (sandbox.Provider, error) {
	dbCfg, err := container.DatabaseConfigFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("sandbox resources: %w", err)
	}

	cm, err := container.NewManager()
	if err != nil {
		return nil, fmt.Errorf("creating container manager: %w", err)
	}

	if err := ensureImage(ctx, cm, container.ImageName(dbCfg.Image), io.Discard); err != nil {
		cm.Close()
		return nil, err
	}

	db, err := cm.StartDatabase(ctx, dbCfg)
	if err != nil {
		cm.Close()
		return nil, err
	}
	logger.Info("started postgres sandbox", "container", db.ID[:12], "image", dbCfg.Image)

	return sandbox.OpenPostgres(ctx, sandbox.PostgresOptions{
		DSN:          db.DSN,
		MaxOpenConns: cfg.Sandbox.MaxOpenConns,
		Cleanup: func(ctx context.Context) error {
			defer cm.Close()
			logger.Info("removing postgres sandbox", "container", db.ID[:12])
			return cm.Remove(ctx, db.ID)
		},
	}, logger)
}

// ensureImage pulls ref unless it is already present.
func ensureImage(ctx context.Context, cm *container.Manager, ref string, progress io.Writer) error {
	ok, err := cm.HasImage(ctx, ref)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	logger.Info("pulling image", "image", ref)
	return cm.Pull(ctx, ref, progress)
}

// newAnalyzer builds the configured backend behind the shared rate limit.
// The returned close func may be nil.
func newAnalyzer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (analysis.Analyzer, func() error, error) {
	var (
		a       analysis.Analyzer
		closeFn func() error
	)

	switch cfg.Analysis.Backend {
	case "fallback":
		return analysis.Static{}, nil, nil

	case "genai":
		key := os.Getenv(cfg.Analysis.APIKeyEnv)
		if key == "" {
			logger.Warn("analysis API key not set, every file gets the fallback analysis", "env", cfg.Analysis.APIKeyEnv)
			return analysis.Static{}, nil, nil
		}
		g, err := analysis.NewGenAI(ctx, analysis.GenAIOptions{
			APIKey:  key,
			Model:   cfg.Analysis.Model,
			Timeout: cfg.AnalysisTimeout(),
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		a = g

	case "agent":
		if err := agent.ValidateAPIKey(cfg.Analysis.Agent); err != nil {
			return nil, nil, err
		}
		cm, err := container.NewManager()
		if err != nil {
			return nil, nil, fmt.Errorf("creating container manager: %w", err)
		}
		r, err := analysis.NewAgentReviewer(cfg.Analysis.Agent, cfg, cm, "", logger)
		if err != nil {
			cm.Close()
			return nil, nil, err
		}
		a, closeFn = r, cm.Close

	default:
		return nil, nil, fmt.Errorf("unknown analysis backend: %s", cfg.Analysis.Backend)
	}

	return analysis.NewRateLimited(a, cfg.Analysis.RequestsPerMinute, 1), closeFn, nil
}
