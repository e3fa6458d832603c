// Package engine assembles a scanstreams process from its configuration:
// the broker client, the metrics endpoint, and the selected pipeline
// stages, run together until the context is cancelled.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/scanstreams/config"
	"github.com/c360/scanstreams/errors"
	"github.com/c360/scanstreams/health"
	"github.com/c360/scanstreams/metric"
	"github.com/c360/scanstreams/natsclient"
	"github.com/c360/scanstreams/pipeline"
)

// Engine owns the shared infrastructure of one process and the stages it
// was configured to run.
type Engine struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *metric.MetricsRegistry
	monitor  *health.Monitor
	client   *natsclient.Client
	stages   []*pipeline.Stage
	dump     *os.File
}

// New wires an Engine from validated configuration. Nothing connects yet;
// Run does the work.
func New(cfg *config.Config) (*Engine, error) {
	if !cfg.AnyStageEnabled() {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: no stages enabled", errors.ErrInvalidConfig),
			"Engine", "New", "select stages")
	}

	logger := newLogger(cfg.Logging)
	registry := metric.NewMetricsRegistry()
	monitor := health.NewMonitor()

	opts := []natsclient.ClientOption{
		natsclient.WithClientName("scanstreams"),
		natsclient.WithLogger(slogAdapter{logger.With("component", "natsclient")}),
		natsclient.WithMaxReconnects(cfg.Broker.MaxReconnects),
		natsclient.WithDisconnectCallback(func(err error) {
			registry.CoreMetrics().RecordBrokerStatus(false)
			monitor.SetUnhealthy("broker", fmt.Sprintf("disconnected: %v", err))
		}),
		natsclient.WithReconnectCallback(func() {
			registry.CoreMetrics().RecordBrokerStatus(true)
			registry.CoreMetrics().RecordBrokerReconnect()
			monitor.SetHealthy("broker", "reconnected")
		}),
	}
	if cfg.Broker.ReconnectWait > 0 {
		opts = append(opts, natsclient.WithReconnectWait(cfg.Broker.ReconnectWait))
	}
	if cfg.Broker.Token != "" {
		opts = append(opts, natsclient.WithToken(cfg.Broker.Token))
	} else if cfg.Broker.Username != "" {
		opts = append(opts, natsclient.WithCredentials(cfg.Broker.Username, cfg.Broker.Password))
	}

	client, err := natsclient.NewClient(cfg.Broker.URL, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "Engine", "New", "create broker client")
	}

	engine := &Engine{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		monitor:  monitor,
		client:   client,
	}
	if err := engine.buildStages(); err != nil {
		return nil, err
	}
	return engine, nil
}

// Logger returns the process logger
func (e *Engine) Logger() *slog.Logger { return e.logger }

// buildStages constructs the enabled stages against the shared client
func (e *Engine) buildStages() error {
	core := e.registry.CoreMetrics()
	stages := e.cfg.Stages

	add := func(name string, sc config.StageConfig, inputs []string, handler pipeline.Handler) {
		if !sc.Enabled {
			return
		}
		e.stages = append(e.stages, pipeline.NewStage(name, e.client, inputs, handler,
			pipeline.WithWorkers(sc.Workers),
			pipeline.WithStageLogger(e.logger.With("component", name)),
			pipeline.WithStageMetrics(core)))
	}

	if stages.Explorer.Enabled {
		explorerOpts := []pipeline.ExplorerOption{
			pipeline.WithExplorerLogger(e.logger.With("component", "explorer")),
		}
		if stages.DiscoveryRate > 0 {
			explorerOpts = append(explorerOpts, pipeline.WithDiscoveryRate(stages.DiscoveryRate))
		}
		explorer := pipeline.NewExplorer(explorerOpts...)
		add("explorer", stages.Explorer, explorer.Inputs(), explorer.Handle)
	}

	if stages.Converter.Enabled {
		converter := pipeline.NewConverter(e.logger.With("component", "converter"))
		add("converter", stages.Converter, converter.Inputs(), converter.Handle)
	}

	if stages.Matcher.Enabled {
		matcher := pipeline.NewMatcher(e.logger.With("component", "matcher"))
		add("matcher", stages.Matcher, matcher.Inputs(), matcher.Handle)
	}

	if stages.Tagger.Enabled {
		tagger := pipeline.NewTagger(e.logger.With("component", "tagger"))
		add("tagger", stages.Tagger, tagger.Inputs(), tagger.Handle)
	}

	if stages.Exporter.Enabled {
		exporterOpts := []pipeline.ExporterOption{
			pipeline.WithExporterLogger(e.logger.With("component", "exporter")),
		}
		if stages.DumpPath != "" {
			dump, err := os.OpenFile(stages.DumpPath,
				os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				return errors.Wrap(err, "Engine", "buildStages", "open dump file")
			}
			e.dump = dump
			exporterOpts = append(exporterOpts, pipeline.WithDumpWriter(dump))
		}
		exporter := pipeline.NewExporter(exporterOpts...)
		add("exporter", stages.Exporter, exporter.Inputs(), exporter.Handle)
	}

	return nil
}

// StageNames lists the stages this process will run
func (e *Engine) StageNames() []string {
	names := make([]string, len(e.stages))
	for i, stage := range e.stages {
		names[i] = stage.Name()
	}
	return names
}

// Run connects to the broker, starts the metrics endpoint, and runs every
// configured stage until the context is cancelled or a stage fails.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.client.Connect(ctx); err != nil {
		return errors.Wrap(err, "Engine", "Run", "connect to broker")
	}
	e.registry.CoreMetrics().RecordBrokerStatus(true)
	e.monitor.SetHealthy("broker", "connected")
	defer e.shutdown()

	group, gctx := errgroup.WithContext(ctx)

	if e.cfg.Metrics.Enabled {
		server := metric.NewServer(e.cfg.Metrics.Port, "/metrics", e.registry)
		server.SetHealthHandler(e.monitor.Handler())
		group.Go(func() error { return server.Start() })
		group.Go(func() error {
			<-gctx.Done()
			return server.Stop()
		})
		e.logger.Info("metrics endpoint up", "address", server.Address())
	}

	for _, stage := range e.stages {
		stage := stage
		name := stage.Name()
		group.Go(func() error {
			e.monitor.SetHealthy(name, "running")
			err := stage.Run(gctx)
			if err != nil {
				e.monitor.SetUnhealthy(name, err.Error())
			} else {
				e.monitor.SetHealthy(name, "stopped")
			}
			return err
		})
	}
	e.logger.Info("engine running", "stages", e.StageNames())

	return group.Wait()
}

func (e *Engine) shutdown() {
	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.client.Close(closeCtx); err != nil {
		e.logger.Warn("broker close failed", "error", err)
	}
	if e.dump != nil {
		if err := e.dump.Close(); err != nil {
			e.logger.Warn("dump file close failed", "error", err)
		}
	}
}

// newLogger builds the process logger from the logging configuration
func newLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

// slogAdapter exposes an slog.Logger through the natsclient logging
// interface.
type slogAdapter struct {
	logger *slog.Logger
}

func (a slogAdapter) Printf(format string, args ...any) {
	a.logger.Info(fmt.Sprintf(format, args...))
}

func (a slogAdapter) Errorf(format string, args ...any) {
	a.logger.Error(fmt.Sprintf(format, args...))
}

func (a slogAdapter) Debugf(format string, args ...any) {
	a.logger.Debug(fmt.Sprintf(format, args...))
}
