package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vyrodovalexey/avaguard/internal/audit"
	"github.com/vyrodovalexey/avaguard/internal/config"
	"github.com/vyrodovalexey/avaguard/internal/middleware"
	"github.com/vyrodovalexey/avaguard/internal/mitigation"
	"github.com/vyrodovalexey/avaguard/internal/observability"
)

const (
	metricsNamespace = "avaguard"
	shutdownTimeout  = 30 * time.Second
)

// application holds all application components.
type application struct {
	logger       observability.Logger
	registry     *prometheus.Registry
	metrics      *observability.Metrics
	auditMetrics *audit.Metrics
	httpMetrics  *middleware.Metrics
	tracer       *observability.Tracer
	sink         *audit.AtomicSink
	engine       *mitigation.AtomicEngine
	server       *http.Server

	mu            sync.Mutex
	auditCfg      config.AuditConfig
	startupServer config.ServerConfig
}

// newApplication wires the engine, its audit sinks and the HTTP server.
func newApplication(ctx context.Context, cfg *config.Config, logger observability.Logger) (*application, error) {
	registry := prometheus.NewRegistry()
	if err := observability.RegisterRuntimeCollectors(registry); err != nil {
		return nil, fmt.Errorf("register runtime collectors: %w", err)
	}

	metrics := observability.NewMetrics(metricsNamespace, registry)
	metrics.SetBuildInfo(version, gitCommit, buildTime)
	metrics.Init()

	tracer, err := observability.NewTracer(ctx, observability.TracerConfig{
		ServiceName:  cfg.Tracing.ServiceName,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		SamplingRate: cfg.Tracing.SamplingRate,
		Enabled:      cfg.Tracing.Enabled,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize tracer: %w", err)
	}

	app := &application{
		logger:        logger,
		registry:      registry,
		metrics:       metrics,
		auditMetrics:  audit.NewMetricsWithRegisterer(metricsNamespace, registry),
		httpMetrics:   middleware.NewMetrics(metricsNamespace, registry),
		tracer:        tracer,
		auditCfg:      cfg.Audit,
		startupServer: cfg.Server,
	}

	sink, err := buildAuditSink(ctx, cfg.Audit, logger, app.auditMetrics)
	if err != nil {
		_ = tracer.Shutdown(ctx)
		return nil, err
	}
	app.sink = audit.NewAtomicSink(sink)

	engine, err := mitigation.New(cfg,
		mitigation.WithLogger(logger),
		mitigation.WithAuditSink(app.sink),
		mitigation.WithMetrics(metrics),
		mitigation.WithTracer(tracer.Tracer()),
	)
	if err != nil {
		_ = app.sink.Close()
		_ = tracer.Shutdown(ctx)
		return nil, err
	}
	app.engine = mitigation.NewAtomicEngine(engine)

	app.server = &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           app.routes(cfg.Server),
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	logger.Info("engine configured",
		observability.Int("max_requests_per_window", cfg.RateLimiting.MaxRequestsPerWindow),
		observability.Duration("time_window", cfg.RateLimiting.TimeWindow.Duration()),
		observability.Float64("suspicious_threshold", cfg.Monitoring.SuspiciousThreshold),
		observability.Bool("auto_block", cfg.IPBlocking.AutoBlock),
		observability.Int("whitelist", len(cfg.IPBlocking.Whitelist)),
		observability.Int("blacklist", len(cfg.IPBlocking.Blacklist)),
		observability.String("failure_mode", string(cfg.Engine.FailureMode)),
	)

	return app, nil
}

// run serves until ctx is cancelled or the listener fails, then shuts
// everything down.
func (a *application) run(ctx context.Context, configPath string, watch bool) error {
	a.engine.Load().Start(ctx)

	var watcher *config.Watcher
	if watch && configPath != "" {
		watcher = a.startConfigWatcher(ctx, configPath)
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("starting http server", observability.String("address", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("received shutdown signal")
	case err, ok := <-serveErr:
		if ok {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}

	if err := a.shutdown(watcher); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// shutdown stops intake first, then the engine, then the sinks it writes to.
func (a *application) shutdown(watcher *config.Watcher) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error

	if watcher != nil {
		if err := watcher.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop config watcher: %w", err))
		}
	}

	if err := a.server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop http server: %w", err))
	}

	if err := a.engine.Load().Close(); err != nil {
		errs = append(errs, fmt.Errorf("close engine: %w", err))
	}

	if err := a.sink.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close audit sink: %w", err))
	}

	if err := a.tracer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown tracer: %w", err))
	}

	return errors.Join(errs...)
}

// startConfigWatcher reloads the engine on file changes. A watcher that
// cannot start is logged and the process keeps its startup configuration.
func (a *application) startConfigWatcher(ctx context.Context, configPath string) *config.Watcher {
	watcher, err := config.NewWatcher(configPath,
		func(cfg *config.Config) { a.applyConfig(ctx, cfg) },
		config.WithLogger(a.logger),
		config.WithErrorCallback(func(error) { a.metrics.RecordConfigReload(false) }),
	)
	if err != nil {
		a.logger.Warn("failed to create config watcher", observability.Error(err))
		return nil
	}

	if err := watcher.Start(ctx); err != nil {
		a.logger.Warn("failed to start config watcher", observability.Error(err))
		_ = watcher.Stop()
		return nil
	}
	return watcher
}

// applyConfig swaps in sinks and an engine built from cfg. Listener
// settings are fixed at startup.
func (a *application) applyConfig(ctx context.Context, cfg *config.Config) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !reflect.DeepEqual(cfg.Server, a.startupServer) {
		a.logger.Warn("server settings changed; restart to apply them")
	}

	if !reflect.DeepEqual(cfg.Audit, a.auditCfg) {
		sink, err := buildAuditSink(ctx, cfg.Audit, a.logger, a.auditMetrics)
		if err != nil {
			a.logger.Error("audit reconfiguration failed, keeping previous sinks", observability.Error(err))
		} else {
			old := a.sink.Swap(sink)
			if err := old.Close(); err != nil {
				a.logger.Warn("failed to close previous audit sink", observability.Error(err))
			}
			a.auditCfg = cfg.Audit
		}
	}

	if err := a.engine.Reload(ctx, cfg); err != nil {
		a.logger.Error("engine reload failed, keeping previous engine", observability.Error(err))
	}
}
