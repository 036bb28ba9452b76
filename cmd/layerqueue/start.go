package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/sync/errgroup"

	"github.com/mattjoyce/layerqueue/internal/api"
	"github.com/mattjoyce/layerqueue/internal/auth"
	"github.com/mattjoyce/layerqueue/internal/command"
	"github.com/mattjoyce/layerqueue/internal/config"
	"github.com/mattjoyce/layerqueue/internal/datasource"
	"github.com/mattjoyce/layerqueue/internal/dispatch"
	"github.com/mattjoyce/layerqueue/internal/events"
	"github.com/mattjoyce/layerqueue/internal/job"
	"github.com/mattjoyce/layerqueue/internal/lock"
	"github.com/mattjoyce/layerqueue/internal/log"
	"github.com/mattjoyce/layerqueue/internal/metrics"
	"github.com/mattjoyce/layerqueue/internal/workqueue"
)

const shutdownTimeout = 10 * time.Second

func newStartCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "start",
		Short:   "Run the queue service in the foreground",
		GroupID: "core",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(path)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, path)
		},
	}
}

func run(ctx context.Context, cfg *config.Config, configPath string) error {
	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("layerqueue starting", "version", version, "config", configPath)

	pidPath := pidLockPath(cfg, configPath)
	pidLock, err := lock.AcquirePIDLock(pidPath)
	if err != nil {
		logger.Error("failed to acquire PID lock (another instance may be running)", "path", pidPath, "error", err)
		return err
	}
	defer pidLock.Release()

	collector := metrics.NewCollector(cfg.Metrics.Namespace)
	plain := workqueue.New(cfg.Queue.Workers, log.WithComponent("workqueue"))
	if err := collector.BindOverall(plain.Timing()); err != nil {
		return fmt.Errorf("register queue timing: %w", err)
	}
	queue := dispatch.New(plain, collector, log.WithComponent("dispatch"))

	tp := sdktrace.NewTracerProvider()
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = tp.Shutdown(sctx)
	}()

	engine := command.NewEngine(
		command.WithConcurrency(cfg.Command.Concurrency),
		command.WithTimeout(cfg.Command.Timeout),
		command.WithBreaker(command.BreakerSettings{
			Threshold:        cfg.Command.CircuitBreaker.Threshold,
			ResetAfter:       cfg.Command.CircuitBreaker.ResetAfter,
			HalfOpenRequests: cfg.Command.CircuitBreaker.HalfOpenRequests,
		}),
		command.WithLogger(log.WithComponent("command")),
		command.WithTracerProvider(tp),
	)
	if err := engine.RegisterHook(dispatch.NewObserver(queue)); err != nil {
		return fmt.Errorf("register execution hook: %w", err)
	}

	datasources := datasource.New(datasourceConfig(cfg.Datasource), log.WithComponent("datasource"))
	defer datasources.Close()
	if len(cfg.Datasource.Pools) > 0 {
		for _, module := range layerModules(cfg.Layers) {
			if !datasources.Check(ctx, module) {
				logger.Warn("datasource unavailable at startup", "module", module)
			}
		}
	}

	hub := events.NewHub(events.DefaultCapacity)
	client := &http.Client{Timeout: cfg.Command.Timeout}
	layers := newLayerFactory(cfg.Layers, engine, hub, client)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		plain.Start(gctx)
		<-gctx.Done()
		return nil
	})

	if cfg.API.Enabled {
		tokens := make([]auth.TokenConfig, 0, len(cfg.API.Auth.Tokens))
		for _, t := range cfg.API.Auth.Tokens {
			tokens = append(tokens, auth.TokenConfig{Token: t.Token, Scopes: t.Scopes})
		}
		server := api.New(api.Config{
			Listen: cfg.API.Listen,
			APIKey: cfg.API.Auth.APIKey,
			Tokens: tokens,
		}, queue, layers, hub, log.WithComponent("api"),
			api.WithDatasources(datasources),
			api.WithBreakers(engine),
			api.WithWorkers(plain),
		)
		g.Go(func() error { return server.Start(gctx) })
		logger.Info("API server enabled", "listen", cfg.API.Listen)
	}

	logger.Info("layerqueue running (press Ctrl+C to stop)", "layers", len(cfg.Layers))
	err = g.Wait()

	queue.Cleanup(true)
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if cerr := engine.Close(sctx); cerr != nil {
		logger.Warn("command engine did not drain", "error", cerr)
	}
	plain.Stop()

	if err != nil {
		logger.Error("component failed", "error", err)
		return err
	}
	logger.Info("layerqueue stopped")
	return nil
}

// newLayerFactory builds layer jobs from the configured layers.
func newLayerFactory(layers map[string]config.LayerConfig, engine job.Submitter, notifier job.Notifier, client *http.Client) api.LayerFactory {
	return func(req api.LayerRequest) (job.Job, error) {
		lc, ok := layers[req.LayerID]
		if !ok {
			return nil, fmt.Errorf("%w: %s", api.ErrUnknownLayer, req.LayerID)
		}
		if !lc.Allows(string(req.Type)) {
			return nil, fmt.Errorf("%w: %s on %s", api.ErrTypeNotAllowed, req.Type, req.LayerID)
		}
		return job.NewLayerJob(job.LayerOptions{
			Session:  req.Session,
			LayerID:  req.LayerID,
			Type:     req.Type,
			URL:      lc.URL,
			Params:   req.Params,
			Ignored:  lc.IgnoredParams,
			Client:   client,
			Engine:   engine,
			Notifier: notifier,
			Logger:   log.WithLayer(req.LayerID),
		}), nil
	}
}

func datasourceConfig(c config.DatasourceConfig) datasource.Config {
	pools := make(map[string]datasource.Pool, len(c.Pools))
	for name, p := range c.Pools {
		pools[name] = datasource.Pool{
			Driver:   p.Driver,
			URL:      p.URL,
			Username: p.Username,
			Password: p.Password,
			MaxOpen:  p.MaxOpen,
		}
	}
	return datasource.Config{DefaultName: c.DefaultName, Modules: c.Modules, Pools: pools}
}

// layerModules returns the distinct datasource modules of layers, always
// including the core service module "".
func layerModules(layers map[string]config.LayerConfig) []string {
	seen := map[string]struct{}{"": {}}
	for _, lc := range layers {
		seen[lc.Module] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for m := range seen {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

func pidLockPath(cfg *config.Config, configPath string) string {
	p := cfg.Service.PIDFile
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(filepath.Dir(configPath), p)
}
