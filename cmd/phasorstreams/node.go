package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/phasorstreams/component"
	"github.com/c360/phasorstreams/concentrator"
	"github.com/c360/phasorstreams/config"
	"github.com/c360/phasorstreams/configcache"
	"github.com/c360/phasorstreams/errors"
	"github.com/c360/phasorstreams/mapper"
	"github.com/c360/phasorstreams/metadata"
	"github.com/c360/phasorstreams/metric"
	"github.com/c360/phasorstreams/natsclient"
	"github.com/c360/phasorstreams/output/websocket"
	"github.com/c360/phasorstreams/pkg/retry"
	"github.com/c360/phasorstreams/pkg/tlsutil"
	"github.com/c360/phasorstreams/service"
	"github.com/c360/phasorstreams/statistics"
	"github.com/c360/phasorstreams/stream"
)

// node owns every long-lived part of a running process.
type node struct {
	cfg    *config.Config
	logger *slog.Logger

	registry   *metric.MetricsRegistry
	nats       *natsclient.Client
	metadata   *metadata.Store
	cache      configcache.Store
	closeCache func() error
	writer     *stream.Writer
	stats      *statistics.Engine
	components *component.Manager
	inputs     []*mapper.Mapper
	outputs    []*concentrator.Concentrator
	admin      *service.Admin
	metrics    *metric.Server
}

func newNode(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*node, error) {
	n := &node{
		cfg:        cfg,
		logger:     logger,
		registry:   metric.NewMetricsRegistry(),
		components: component.NewManager(logger),
	}
	n.components.SetStatusRecorder(n.registry.CoreMetrics())

	if err := n.connectNATS(ctx); err != nil {
		n.close(ctx)
		return nil, err
	}

	store, err := metadata.Open(cfg.Metadata.Path, logger)
	if err != nil {
		n.close(ctx)
		return nil, fmt.Errorf("open metadata: %w", err)
	}
	n.metadata = store

	if err := n.openCache(ctx); err != nil {
		n.close(ctx)
		return nil, err
	}

	if err := n.build(); err != nil {
		n.close(ctx)
		return nil, err
	}
	return n, nil
}

// natsOptions maps the NATS section of the configuration onto client options.
func (n *node) natsOptions() ([]natsclient.ClientOption, error) {
	opts := []natsclient.ClientOption{
		natsclient.WithName(n.cfg.PlatformName()),
		natsclient.WithMaxReconnects(n.cfg.NATS.MaxReconnects),
		natsclient.WithReconnectWait(n.cfg.NATS.ReconnectWait),
		natsclient.WithPingInterval(n.cfg.NATS.PingInterval),
		natsclient.WithDrainTimeout(n.cfg.NATS.DrainTimeout),
		natsclient.WithLogger(n.logger),
		natsclient.WithMetrics(n.registry),
		natsclient.WithHealthChangeCallback(n.onNATSHealthChange),
	}
	tlsConfig, err := tlsutil.LoadClientTLSConfig(n.cfg.NATS.TLS)
	if err != nil {
		return nil, fmt.Errorf("load NATS TLS settings: %w", err)
	}
	if tlsConfig != nil {
		opts = append(opts, natsclient.WithTLSConfig(tlsConfig))
	}
	if n.cfg.NATS.Token != "" {
		opts = append(opts, natsclient.WithToken(n.cfg.NATS.Token))
	} else if n.cfg.NATS.Username != "" {
		opts = append(opts, natsclient.WithCredentials(n.cfg.NATS.Username, n.cfg.NATS.Password))
	}
	return opts, nil
}

// onNATSHealthChange reports measurement stream availability.
func (n *node) onNATSHealthChange(healthy bool) {
	if healthy {
		n.logger.Info("Measurement stream available")
		return
	}
	n.logger.Warn("Measurement stream unavailable, outputs will miss measurements until NATS returns")
}

func (n *node) connectNATS(ctx context.Context) error {
	opts, err := n.natsOptions()
	if err != nil {
		return err
	}

	client, err := natsclient.NewClient(strings.Join(n.cfg.NATS.URLs, ","), opts...)
	if err != nil {
		return fmt.Errorf("create NATS client: %w", err)
	}
	n.nats = client

	n.logger.Info("Connecting to NATS", "urls", n.cfg.NATS.URLs)
	if err := retry.Do(ctx, retry.DefaultConfig(), func() error {
		return client.Connect(ctx)
	}); err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.WaitForConnection(connCtx); err != nil {
		return fmt.Errorf("NATS connection timeout: %w", err)
	}
	return nil
}

// openCache selects the configuration frame cache; the none backend leaves it nil.
func (n *node) openCache(ctx context.Context) error {
	switch n.cfg.Cache.Backend {
	case config.CacheBackendKV:
		kv, err := configcache.OpenKVStore(ctx, n.nats, n.cfg.Cache.Bucket)
		if err != nil {
			return fmt.Errorf("open configuration cache bucket %s: %w", n.cfg.Cache.Bucket, err)
		}
		n.cache = kv
	case config.CacheBackendSQLite:
		db, err := configcache.OpenSQLite(ctx, n.cfg.Cache.Path)
		if err != nil {
			return fmt.Errorf("open configuration cache %s: %w", n.cfg.Cache.Path, err)
		}
		n.cache, n.closeCache = db, db.Close
	case config.CacheBackendMemory:
		n.cache = configcache.NewMemoryStore()
	}
	n.logger.Info("Configuration cache ready", "backend", n.cfg.Cache.Backend)
	return nil
}

// build creates the stream writer, statistics engine, adapters, monitor and
// admin API.
func (n *node) build() error {
	writer, err := stream.NewWriter(stream.WriterDeps{
		Publisher:       n.nats,
		SubjectPrefix:   n.cfg.NATS.SubjectPrefix,
		QueueSize:       n.cfg.NATS.StreamQueueSize,
		MetricsRegistry: n.registry,
		Logger:          n.logger,
	})
	if err != nil {
		return fmt.Errorf("create stream writer: %w", err)
	}
	n.writer = writer

	n.stats = statistics.NewEngine(statistics.EngineDeps{
		Interval: n.cfg.Statistics.Interval,
		Registry: n.registry,
		Logger:   n.logger,
	})

	var inputs, outputs []service.Adapter
	for _, inCfg := range n.cfg.Inputs {
		m, err := mapper.New(mapper.Deps{
			Config:          inCfg,
			Metadata:        n.metadata,
			Sink:            n.writer,
			Cache:           n.cache,
			Statistics:      n.stats,
			MetricsRegistry: n.registry,
			Logger:          n.logger,
		})
		if err != nil {
			return fmt.Errorf("create input %s: %w", inCfg.Name, err)
		}
		if err := n.components.Add(m); err != nil {
			return fmt.Errorf("add input %s: %w", inCfg.Name, err)
		}
		n.inputs = append(n.inputs, m)
		inputs = append(inputs, m)
	}
	for _, outCfg := range n.cfg.Outputs {
		c, err := concentrator.New(concentrator.Deps{
			Config:          outCfg,
			Metadata:        n.metadata,
			Subscriber:      n.nats,
			SubjectPrefix:   n.cfg.NATS.SubjectPrefix,
			Statistics:      n.stats,
			MetricsRegistry: n.registry,
			Logger:          n.logger,
		})
		if err != nil {
			return fmt.Errorf("create output %s: %w", outCfg.Name, err)
		}
		if err := n.components.Add(c); err != nil {
			return fmt.Errorf("add output %s: %w", outCfg.Name, err)
		}
		n.outputs = append(n.outputs, c)
		outputs = append(outputs, c)
	}

	adminDeps := service.Deps{
		Config:          n.cfg.HTTP,
		Inputs:          inputs,
		Outputs:         outputs,
		InputCommands:   mapper.Commands(),
		OutputCommands:  concentrator.Commands(),
		Statistics:      n.stats,
		NATS:            n.nats,
		MetricsRegistry: n.registry,
		Logger:          n.logger,
	}
	if n.cfg.Monitor.Enabled {
		monitor := websocket.New(websocket.Deps{
			Config:          n.cfg.Monitor.Config,
			Subscriber:      n.nats,
			SubjectPrefix:   n.cfg.NATS.SubjectPrefix,
			MetricsRegistry: n.registry,
			Logger:          n.logger,
		})
		if err := n.components.Add(monitor); err != nil {
			return fmt.Errorf("add measurement monitor: %w", err)
		}
		adminDeps.Monitor = monitor
	}

	admin, err := service.New(adminDeps)
	if err != nil {
		return fmt.Errorf("create admin API: %w", err)
	}
	n.admin = admin

	if n.cfg.Metrics.Port != 0 {
		n.metrics = metric.NewServer(n.cfg.Metrics.Port, n.cfg.Metrics.Path, n.registry)
	}
	return nil
}

// run starts everything and blocks until ctx is done or a background task fails.
func (n *node) run(ctx context.Context, shutdownTimeout time.Duration) error {
	g, gctx := errgroup.WithContext(ctx)

	if err := n.writer.Start(gctx); err != nil {
		return fmt.Errorf("start stream writer: %w", err)
	}
	g.Go(func() error { return n.stats.Run(gctx) })
	if n.metrics != nil {
		g.Go(func() error { return n.metrics.Start(gctx) })
	}

	if err := n.components.StartAll(gctx); err != nil {
		// Components that started keep running; the failures are visible in /health.
		n.logger.Error("Some components failed to start", "error", err)
	}
	if err := n.admin.Start(gctx); err != nil {
		_ = n.shutdown(shutdownTimeout)
		return fmt.Errorf("start admin API: %w", err)
	}

	g.Go(func() error { return n.watchReload(gctx) })

	n.logger.Info("phasorstreams started",
		"components", n.components.Names(),
		"admin", n.admin.Addr())

	<-gctx.Done()
	n.logger.Info("Shutting down")
	shutdownErr := n.shutdown(shutdownTimeout)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return errors.Join(err, shutdownErr)
	}
	if shutdownErr != nil {
		return fmt.Errorf("graceful shutdown failed: %w", shutdownErr)
	}
	n.logger.Info("phasorstreams shutdown complete")
	return nil
}

// watchReload reloads metadata on SIGHUP and refreshes every adapter.
func (n *node) watchReload(ctx context.Context) error {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-hup:
			n.reloadMetadata(ctx)
		}
	}
}

func (n *node) reloadMetadata(ctx context.Context) {
	if err := n.metadata.Reload(); err != nil {
		return
	}
	for _, m := range n.inputs {
		if _, err := m.Execute(ctx, "RefreshMetadata", nil); err != nil {
			n.logger.Warn("Input metadata refresh failed", "name", m.Name(), "error", err)
		}
	}
	for _, c := range n.outputs {
		if _, err := c.Execute(ctx, "RebuildConfiguration", nil); err != nil {
			n.logger.Warn("Output rebuild failed", "name", c.Name(), "error", err)
		}
	}
}

// shutdown stops components in reverse order, then the transport underneath them.
func (n *node) shutdown(timeout time.Duration) error {
	var errs []error
	if err := n.admin.Stop(timeout); err != nil {
		errs = append(errs, err)
	}
	if err := n.components.StopAll(timeout); err != nil {
		errs = append(errs, err)
	}
	n.writer.Stop()
	if n.metrics != nil {
		if err := n.metrics.Stop(); err != nil {
			errs = append(errs, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	n.close(ctx)
	return errors.Join(errs...)
}

func (n *node) close(ctx context.Context) {
	if n.closeCache != nil {
		if err := n.closeCache(); err != nil {
			n.logger.Warn("Configuration cache close failed", "error", err)
		}
	}
	if n.nats != nil {
		if err := n.nats.Close(ctx); err != nil {
			n.logger.Warn("NATS close failed", "error", err)
		}
	}
}
