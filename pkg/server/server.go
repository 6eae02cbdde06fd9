package server

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"

	"github.com/easzlab/eznat66/pkg/config"
	"github.com/easzlab/eznat66/pkg/dataplane"
	"github.com/easzlab/eznat66/pkg/fib"
	"github.com/easzlab/eznat66/pkg/iface"
	"github.com/easzlab/eznat66/pkg/mapping"
	"github.com/easzlab/eznat66/pkg/metrics"
	"github.com/easzlab/eznat66/pkg/nat66"
	"github.com/easzlab/eznat66/pkg/stats"
	"github.com/easzlab/eznat66/pkg/steer"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// SourceFactory opens the packet source of one queue.
type SourceFactory func(queue uint16, opts dataplane.QueueOptions, logger *zap.Logger) (dataplane.Source, error)

// Dependencies are the platform handles a Server is built on.
type Dependencies struct {
	Routes    fib.RouteHandle
	Links     iface.LinkHandle
	Steer     steer.Manager
	NewSource SourceFactory
}

// Server coordinates all modules and manages the overall service lifecycle.
type Server struct {
	configMgr  *config.Manager
	fibMgr     *fib.Manager
	ifaceMgr   *iface.Manager
	mappings   *mapping.Table
	reconciler *mapping.Reconciler
	counters   *stats.Counters
	nodes      *stats.NodeCounters
	translator *nat66.Translator
	pool       *dataplane.Pool
	steerMgr   steer.Manager
	metrics    *metrics.Server
	routes     fib.RouteHandle
	startup    config.Config
	logger     *zap.Logger
}

// NewServer initializes all modules and returns a ready-to-run Server.
func NewServer(configPath string, logger *zap.Logger) (*Server, error) {
	routes, err := fib.NewRouteHandle()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize route handle: %w", err)
	}

	steerMgr, err := steer.NewManager(logger.Named("steer"))
	if err != nil {
		routes.Close()
		return nil, fmt.Errorf("failed to initialize steering manager: %w", err)
	}

	srv, err := newServerWithDeps(configPath, Dependencies{
		Routes:    routes,
		Links:     iface.NewLinkHandle(),
		Steer:     steerMgr,
		NewSource: dataplane.NewQueueSource,
	}, logger)
	if err != nil {
		routes.Close()
		return nil, err
	}
	return srv, nil
}

// newServerWithDeps initializes a Server with pre-created platform handles.
// This allows tests to inject in-memory implementations.
func newServerWithDeps(configPath string, deps Dependencies, logger *zap.Logger) (*Server, error) {
	configMgr, err := config.NewManager(configPath, logger.Named("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize config manager: %w", err)
	}
	cfg := configMgr.GetConfig()

	workers := cfg.Dataplane.GetWorkers()
	directions := []stats.Direction{stats.In2Out}
	if cfg.Dataplane.IsOut2InEnabled() {
		directions = append(directions, stats.Out2In)
	}
	total := workers * len(directions)

	s := &Server{
		configMgr: configMgr,
		fibMgr:    fib.NewManager(deps.Routes, cfg.Translation.GetRouteRefresh(), logger.Named("fib")),
		ifaceMgr:  iface.NewManager(deps.Links, cfg.Translation.GetDefaultScope(), cfg.Translation.GetRouteRefresh(), logger.Named("iface")),
		mappings:  mapping.NewTable(),
		counters:  stats.NewCounters(total, cfg.Translation.GetMaxMappings()),
		nodes:     stats.NewNodeCounters(total),
		steerMgr:  deps.Steer,
		routes:    deps.Routes,
		startup:   *cfg,
		logger:    logger,
	}
	s.reconciler = mapping.NewReconciler(s.mappings, s.counters, cfg.Translation.GetMaxMappings(), logger.Named("mapping"))
	s.translator = nat66.NewTranslator(
		s.fibMgr.Table(),
		s.ifaceMgr.Roster(),
		s.mappings,
		s.counters,
		s.nodes,
		cfg.Translation.GetOutsideScope(),
	)

	opts := dataplane.QueueOptions{
		MaxQueueLen: cfg.Dataplane.GetQueueLen(),
		FailOpen:    cfg.Dataplane.IsFailOpen(),
	}
	dpLogger := logger.Named("dataplane")
	var dpWorkers []*dataplane.Worker
	for _, dir := range directions {
		for i := 0; i < workers; i++ {
			queue := dataplane.QueueNumber(cfg.Dataplane.GetQueueBase(), workers, dir, i)
			source, err := deps.NewSource(queue, opts, dpLogger)
			if err != nil {
				closeWorkers(dpWorkers)
				return nil, fmt.Errorf("failed to open packet source for queue %d: %w", queue, err)
			}

			wctx := &nat66.WorkerContext{Worker: len(dpWorkers), Direction: dir}
			if cfg.Trace.Enabled {
				wctx.Tracer = nat66.NewTracer(cfg.Trace.GetRate(), cfg.Trace.GetBurst(), logger.Named("trace"))
			}
			dpWorkers = append(dpWorkers, dataplane.NewWorker(wctx, s.translator, source, cfg.Dataplane.GetBatchSize(), dpLogger))
		}
	}
	s.pool = dataplane.NewPool(dpWorkers, dpLogger)

	if cfg.Global.MetricsListen != "" {
		s.metrics = metrics.NewServer(cfg.Global.MetricsListen, cfg.Global.GetMetricsPath(), logger.Named("metrics"))
		if err := s.metrics.Register(stats.NewCollector(s.counters, s.nodes, s.mappings)); err != nil {
			_ = s.pool.Close()
			return nil, fmt.Errorf("failed to register collector: %w", err)
		}
	}

	return s, nil
}

func closeWorkers(workers []*dataplane.Worker) {
	_ = dataplane.NewPool(workers, zap.NewNop()).Close()
}

// Run starts the server in daemon mode: applies the configuration, starts the
// dataplane, route sync, metrics and config watching, then enters the main
// event loop until context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	if err := s.apply(s.configMgr.GetConfig()); err != nil {
		s.logger.Error("initial apply failed", zap.Error(err))
	}

	s.configMgr.WatchConfig()
	s.logger.Info("config watcher started")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.fibMgr.Run(gctx)
	})
	g.Go(func() error {
		return s.ifaceMgr.Run(gctx)
	})
	g.Go(func() error {
		return s.pool.Run(gctx)
	})
	if s.metrics != nil {
		g.Go(func() error {
			return s.metrics.Run(gctx)
		})
	}
	g.Go(func() error {
		s.loop(gctx)
		return nil
	})

	err := g.Wait()
	s.shutdown()
	return err
}

// loop is the main event loop reacting to config changes.
func (s *Server) loop(ctx context.Context) {
	s.logger.Info("server started, entering main loop")
	for {
		select {
		case <-s.configMgr.OnChange():
			s.logger.Info("config change detected, applying")
			if err := s.apply(s.configMgr.GetConfig()); err != nil {
				s.logger.Error("apply after config change failed", zap.Error(err))
			}

		case <-ctx.Done():
			s.logger.Info("shutdown signal received, stopping server")
			return
		}
	}
}

// apply pushes a configuration into the roster, route sync, mapping table
// and steering rules.
func (s *Server) apply(cfg *config.Config) error {
	if changed := startupOnlyChanges(&s.startup, cfg); len(changed) > 0 {
		s.logger.Warn("settings changed that only take effect after a restart",
			zap.Strings("settings", changed))
	}
	cfg = withStartupSettings(&s.startup, cfg)

	defaultScope := cfg.Translation.GetDefaultScope()
	var applyErrors []error

	s.translator.SetOutsideScope(cfg.Translation.GetOutsideScope())

	if err := s.ifaceMgr.Apply(cfg.Interfaces, defaultScope); err != nil {
		applyErrors = append(applyErrors, fmt.Errorf("interfaces: %w", err))
	}

	s.fibMgr.SetScopes(scopesOf(cfg))
	if err := s.fibMgr.Sync(); err != nil {
		applyErrors = append(applyErrors, fmt.Errorf("routes: %w", err))
	}

	if err := s.reconciler.Reconcile(cfg.Mappings, defaultScope); err != nil {
		applyErrors = append(applyErrors, fmt.Errorf("mappings: %w", err))
	}

	if err := s.steerMgr.Reconcile(steer.BuildRules(cfg)); err != nil {
		applyErrors = append(applyErrors, fmt.Errorf("steering: %w", err))
	}

	return errors.Join(applyErrors...)
}

// startupOnlyChanges lists the settings of next that differ from the values
// the server was built with and cannot be changed while running.
func startupOnlyChanges(startup, next *config.Config) []string {
	var changed []string
	if !reflect.DeepEqual(startup.Global, next.Global) {
		changed = append(changed, "global")
	}
	if !reflect.DeepEqual(startup.Dataplane, next.Dataplane) {
		changed = append(changed, "dataplane")
	}
	if !reflect.DeepEqual(startup.Trace, next.Trace) {
		changed = append(changed, "trace")
	}
	if startup.Translation.GetMaxMappings() != next.Translation.GetMaxMappings() {
		changed = append(changed, "translation.max_mappings")
	}
	if startup.Translation.GetRouteRefresh() != next.Translation.GetRouteRefresh() {
		changed = append(changed, "translation.route_refresh")
	}
	return changed
}

// withStartupSettings returns a copy of next carrying the startup values of
// every setting that cannot be changed while running.
func withStartupSettings(startup, next *config.Config) *config.Config {
	running := *next
	running.Global = startup.Global
	running.Dataplane = startup.Dataplane
	running.Trace = startup.Trace
	running.Translation.MaxMappings = startup.Translation.MaxMappings
	running.Translation.RouteRefresh = startup.Translation.RouteRefresh
	return &running
}

// scopesOf returns every routing scope a configuration refers to.
func scopesOf(cfg *config.Config) []uint32 {
	defaultScope := cfg.Translation.GetDefaultScope()
	set := map[uint32]bool{
		defaultScope:                      true,
		cfg.Translation.GetOutsideScope(): true,
	}
	for _, ifc := range cfg.Interfaces {
		set[ifc.GetScope(defaultScope)] = true
	}
	for _, mp := range cfg.Mappings {
		set[mp.GetScope(defaultScope)] = true
	}

	scopes := make([]uint32, 0, len(set))
	for scope := range set {
		scopes = append(scopes, scope)
	}
	sort.Slice(scopes, func(i, j int) bool { return scopes[i] < scopes[j] })
	return scopes
}

// shutdown gracefully stops all modules.
func (s *Server) shutdown() {
	if err := s.steerMgr.Cleanup(); err != nil {
		s.logger.Error("failed to clean up steering rules", zap.Error(err))
	}
	if err := s.pool.Close(); err != nil {
		s.logger.Error("failed to close packet sources", zap.Error(err))
	}
	s.routes.Close()
	s.logger.Info("server stopped")
}
