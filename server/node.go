package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hothotzd123/sensei"
	"github.com/hothotzd123/sensei/config"
	"github.com/hothotzd123/sensei/diagnostics"
	"github.com/hothotzd123/sensei/engine"
	"github.com/hothotzd123/sensei/engine/realtime"
	"github.com/hothotzd123/sensei/engine/rolling"
	"github.com/hothotzd123/sensei/factory"
	"github.com/hothotzd123/sensei/indexing"
	"github.com/hothotzd123/sensei/internal/resource"
	"github.com/hothotzd123/sensei/pruner"
	"github.com/hothotzd123/sensei/version"
)

// Node is a fully wired Sensei node.
type Node struct {
	cfg *config.Config

	Core      *sensei.Core
	Manager   *indexing.StreamManager
	Provider  indexing.DataProvider
	Factory   *factory.Cached
	Registry  *prometheus.Registry
	Logger    *sensei.Logger
	Resources *resource.Controller

	closers []io.Closer
}

// Build wires a node from cfg. Nothing is started; storage backends are
// dialed only when the rolling flavor needs them.
func Build(ctx context.Context, cfg *config.Config) (*Node, error) {
	logger, err := newLogger(cfg.Log)
	if err != nil {
		return nil, err
	}

	ord, err := version.ByName(cfg.Index.VersionComparator)
	if err != nil {
		return nil, err
	}

	kind, err := factory.ParseKind(cfg.Index.Flavor)
	if err != nil {
		return nil, err
	}

	rc := resource.NewController(resource.Config{
		MemoryLimitBytes:     cfg.Resources.MemoryLimitBytes,
		MaxBackgroundWorkers: cfg.Resources.MaxBackgroundWorkers,
		IngestEventsPerSec:   cfg.Index.IngestRate,
	})

	fopts, err := factoryOptions(ctx, cfg, kind, ord, logger.Logger, rc)
	if err != nil {
		return nil, err
	}
	f, err := factory.New(kind, fopts...)
	if err != nil {
		return nil, err
	}

	p, err := pruner.ByName(cfg.Pruner.Kind, cfg.Pruner.RetentionDays)
	if err != nil {
		return nil, err
	}

	n := &Node{
		cfg:       cfg,
		Factory:   f,
		Registry:  prometheus.NewRegistry(),
		Logger:    logger,
		Resources: rc,
	}

	provider, err := n.openProvider(cfg, ord)
	if err != nil {
		return nil, err
	}
	n.Provider = provider

	n.Manager = indexing.NewStreamManager(provider,
		indexing.WithLogger(logger.Logger),
		indexing.WithOrdering(ord),
		indexing.WithResourceController(rc),
		indexing.WithRouter(indexing.ModRouter{MaxPartitionID: cfg.Index.MaxPartitionID}),
	)

	metrics, err := diagnostics.NewMetrics(n.Registry)
	if err != nil {
		_ = n.Close()
		return nil, err
	}

	pruneInterval := cfg.Pruner.Interval
	if _, noop := p.(pruner.Noop); noop {
		pruneInterval = 0
	}

	n.Core, err = sensei.New(cfg.Node.ID, cfg.Node.Partitions, f, n.Manager,
		sensei.WithLogger(logger),
		sensei.WithMetricsCollector(metrics),
		sensei.WithIndexPruner(p),
		sensei.WithPruneInterval(pruneInterval),
		sensei.WithResourceController(rc),
	)
	if err != nil {
		_ = n.Close()
		return nil, err
	}

	n.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		diagnostics.NewEngineCollector(n.Core, n.Manager),
	)
	if cfg.Index.Directory != "" {
		n.Registry.MustRegister(diagnostics.NewDiskCollector(cfg.Index.Directory, logger.Logger))
	}
	return n, nil
}

func newLogger(cfg config.LogConfig) (*sensei.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("server: log level: %w", err)
	}
	if strings.EqualFold(cfg.Format, "text") {
		return sensei.NewTextLogger(level), nil
	}
	return sensei.NewJSONLogger(level), nil
}

func factoryOptions(ctx context.Context, cfg *config.Config, kind factory.Kind, ord version.Ordering, logger *slog.Logger, rc *resource.Controller) ([]factory.Option, error) {
	opts := []factory.Option{
		factory.WithOrdering(ord),
		factory.WithLogger(logger),
		factory.WithResourceController(rc),
		factory.WithSharedLocation(cfg.Index.SharedLocation),
		factory.WithDecoration(decoration(cfg.Facets)),
	}
	if cfg.Index.Directory != "" {
		opts = append(opts, factory.WithDirectory(cfg.Index.Directory))
	}

	switch kind {
	case factory.KindRealtime:
		opts = append(opts, factory.WithRealtimeOptions(
			realtime.WithSyncWrites(cfg.Realtime.SyncWrites),
			realtime.WithGC(cfg.Realtime.GCInterval, cfg.Realtime.GCDiscardRatio),
		))

	case factory.KindRolling:
		freq, err := rolling.ParseFrequency(cfg.Rolling.Frequency)
		if err != nil {
			return nil, err
		}
		comp, err := rolling.ParseCompression(cfg.Rolling.Compression)
		if err != nil {
			return nil, err
		}
		opts = append(opts, factory.WithRollingOptions(
			rolling.WithFrequency(freq),
			rolling.WithTrimThreshold(cfg.Rolling.TrimThreshold),
			rolling.WithCompression(comp),
			rolling.WithTrimInterval(cfg.Rolling.TrimInterval),
		))

		storeOpts, err := storageOptions(ctx, cfg.Storage)
		if err != nil {
			return nil, err
		}
		opts = append(opts, storeOpts...)
	}
	return opts, nil
}

func decoration(facets []config.FacetConfig) engine.Decoration {
	var indexTime, runtime []string
	for _, f := range facets {
		if f.Runtime {
			runtime = append(runtime, f.Name)
		} else {
			indexTime = append(indexTime, f.Name)
		}
	}
	return engine.NewDecoration(indexTime, runtime)
}

func (n *Node) openProvider(cfg *config.Config, ord version.Ordering) (indexing.DataProvider, error) {
	switch cfg.Source.Kind {
	case "jsonl":
		p, err := indexing.OpenJSONLines(cfg.Source.Path, ord, cfg.Index.BatchSize)
		if err != nil {
			return nil, err
		}
		n.closers = append(n.closers, p)
		return p, nil
	default:
		p := indexing.NewMemoryProvider(ord, cfg.Index.BatchSize)
		p.SetBatchDelay(cfg.Index.BatchDelay)
		p.SetMaxPending(cfg.Index.MaxBatchSize)
		n.closers = append(n.closers, p)
		return p, nil
	}
}

// Run starts the core, serves the admin API and blocks until ctx is done or
// the listener fails. It then drains HTTP and shuts the core down within
// the configured shutdown timeout.
func (n *Node) Run(ctx context.Context) error {
	if err := n.Core.Start(ctx); err != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), n.cfg.Server.ShutdownTimeout)
		defer cancel()
		return multierror.Append(err, n.Core.Shutdown(shutdownCtx)).ErrorOrNil()
	}

	srv := &http.Server{
		Addr:              n.cfg.Server.Listen,
		Handler:           n.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		n.Logger.Info("admin API listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	var result *multierror.Error
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			result = multierror.Append(result, fmt.Errorf("server: listen: %w", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), n.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		result = multierror.Append(result, fmt.Errorf("server: shutdown: %w", err))
	}
	if err := n.Core.Shutdown(shutdownCtx); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// Close releases the data source.
func (n *Node) Close() error {
	var result *multierror.Error
	for _, c := range n.closers {
		if err := c.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	n.closers = nil
	return result.ErrorOrNil()
}
