package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"chainweaver/internal/chain"
	"chainweaver/internal/config"
	"chainweaver/internal/coordinator"
	"chainweaver/internal/core"
	"chainweaver/internal/deps"
	"chainweaver/internal/history"
	"chainweaver/internal/logging"
	"chainweaver/internal/registry"
	"chainweaver/internal/telemetry"
	"chainweaver/internal/trace"
)

// session wires one resolution session: the selector and everything needed
// to execute its chains.
type session struct {
	id       string
	cfg      *config.Config
	log      *slog.Logger
	catalog  *registry.Catalog
	model    *Model
	selector *chain.Selector
	recorder *trace.Recorder
	metrics  *telemetry.Metrics

	history  history.Store
	executor *core.Executor
	coord    *coordinator.Coordinator

	stopMetrics context.CancelFunc
	metricsDone chan error
}

func openSession(cfg *config.Config, stderr io.Writer) (*session, error) {
	log, err := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format}, stderr)
	if err != nil {
		return nil, configError("invalid log settings", err)
	}
	catalog, err := registry.LoadFile(cfg.Transforms)
	if err != nil {
		return nil, configError("loading transforms", err)
	}
	model, err := LoadModelFile(cfg.Variants)
	if err != nil {
		return nil, configError("loading variants", err)
	}

	reg := prometheus.NewRegistry()
	metrics, err := telemetry.NewMetrics(reg)
	if err != nil {
		return nil, fmt.Errorf("registering metrics: %w", err)
	}

	s := &session{
		id:       uuid.NewString(),
		cfg:      cfg,
		log:      log,
		catalog:  catalog,
		model:    model,
		recorder: trace.NewRecorder(),
		metrics:  metrics,
	}
	s.selector = chain.NewSelector(catalog.Schema, catalog.Registry, cfg.MaxChainDepth)
	s.selector.Chains.Metrics = metrics
	s.selector.Trace = s.recorder

	if cfg.MetricsAddr != "" {
		mctx, cancel := context.WithCancel(context.Background())
		s.stopMetrics = cancel
		s.metricsDone = make(chan error, 1)
		go func() { s.metricsDone <- telemetry.Expose(mctx, cfg.MetricsAddr, reg) }()
		log.Info("serving metrics", "addr", cfg.MetricsAddr)
	}
	return s, nil
}

// prepareExecution opens the history store and builds the executor. It is only needed by commands
// that run transforms.
func (s *session) prepareExecution(ctx context.Context) error {
	if err := os.MkdirAll(s.cfg.CacheDir, 0755); err != nil {
		return configError("creating cache directory", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.cfg.HistoryPath), 0755); err != nil {
		return configError("creating history directory", err)
	}
	store, err := history.OpenSQLite(ctx, s.cfg.HistoryPath)
	if err != nil {
		return configError("opening execution history", err)
	}
	s.history = store

	s.executor = core.NewExecutor(core.NewWorkspaceProvider(s.cfg.CacheDir), store)
	s.executor.CachingEnabled = s.cfg.Caching
	s.executor.Trace = s.recorder
	s.executor.Metrics = s.metrics
	s.executor.Logger = s.log

	resolver := &deps.Static{Matcher: s.catalog.Schema, Components: s.model.Upstreams}
	s.coord = &coordinator.Coordinator{
		Executor: s.executor,
		Deps:     deps.NewCache(resolver, deps.NewProjectLocks()),
		Workers:  s.cfg.Workers,
	}
	return nil
}

func (s *session) context(ctx context.Context) context.Context {
	return logging.WithLogger(ctx, s.log)
}

// Close writes the trace, stops the metrics server and releases session
// workspaces and the history store.
func (s *session) Close() error {
	var errs []error
	if s.cfg.TracePath != "" {
		if err := s.recorder.WriteFile(s.cfg.TracePath, s.id); err != nil {
			errs = append(errs, err)
		}
	}
	if s.executor != nil {
		if err := s.executor.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.history != nil {
		if err := s.history.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.stopMetrics != nil {
		s.stopMetrics()
		if err := <-s.metricsDone; err != nil {
			errs = append(errs, fmt.Errorf("metrics server: %w", err))
		}
	}
	return errors.Join(errs...)
}
