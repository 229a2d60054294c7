package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/pankaj28843/docs-mcp-server/internal/backpressure"
	"github.com/pankaj28843/docs-mcp-server/internal/events"
	"github.com/pankaj28843/docs-mcp-server/internal/jobstore"
	"github.com/pankaj28843/docs-mcp-server/internal/ratelimit"
	"github.com/pankaj28843/docs-mcp-server/internal/scheduler"
	"github.com/pankaj28843/docs-mcp-server/internal/search"
	"github.com/pankaj28843/docs-mcp-server/internal/service"
	"github.com/pankaj28843/docs-mcp-server/internal/tenant"
	"github.com/pankaj28843/docs-mcp-server/internal/trigger"
	"github.com/pankaj28843/docs-mcp-server/pkg/config"
	"github.com/pankaj28843/docs-mcp-server/pkg/health"
	"github.com/pankaj28843/docs-mcp-server/pkg/kafka"
	"github.com/pankaj28843/docs-mcp-server/pkg/metrics"
	"github.com/pankaj28843/docs-mcp-server/pkg/postgres"
	pkgredis "github.com/pankaj28843/docs-mcp-server/pkg/redis"
)

// app holds the wired components shared by the commands. Optional
// integrations (postgres, redis, kafka) stay nil when disabled.
type app struct {
	cfg     *config.Config
	metrics *metrics.Metrics
	checker *health.Checker

	pg        *postgres.Client
	redis     *pkgredis.Client
	producer  *kafka.Producer
	collector *events.Collector

	store     jobstore.Store
	tenants   *tenant.Registry
	scheduler *scheduler.Scheduler
	cache     search.Cache
	limiter   *ratelimit.Limiter
	intervals *trigger.Intervals
	watcher   *trigger.Watcher
	svc       *service.Service

	background errgroup.Group
	stops      []context.CancelFunc
}

type appOptions struct {
	registerer prometheus.Registerer
	triggers   bool
	events     bool
	limit      bool
}

func newApp(ctx context.Context, cfg *config.Config, opts appOptions) (*app, error) {
	if opts.registerer == nil {
		opts.registerer = prometheus.NewRegistry()
	}
	a := &app{
		cfg:     cfg,
		metrics: metrics.New(opts.registerer),
		checker: health.NewChecker(),
	}
	a.checker.Register("data_dir", health.DirWritableCheck(cfg.Index.DataDir))

	if err := a.openStore(ctx); err != nil {
		return nil, err
	}

	if cfg.Redis.Enabled {
		client, err := pkgredis.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, search caching disabled", "error", err)
		} else {
			a.redis = client
			a.cache = search.NewRedisCache(client, cfg.Redis.CacheTTL)
			a.checker.Register("redis", health.PingCheck(client.Ping, true))
			slog.Info("search cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}

	var schedOpts []scheduler.Option
	schedOpts = append(schedOpts, scheduler.WithMetrics(a.metrics))
	if opts.events && cfg.Kafka.Enabled {
		a.producer = kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.SyncEvents)
		a.collector = events.NewCollector(a.producer, 10000, 100, 0)
		a.collector.Start(context.WithoutCancel(ctx))
		schedOpts = append(schedOpts, scheduler.WithNotifier(a.collector))
		a.checker.Register("kafka", health.PingCheck(func(ctx context.Context) error {
			return kafka.Ping(ctx, cfg.Kafka)
		}, true))
	}

	a.tenants = tenant.NewRegistry(cfg.Index.DataDir, nil, a.metrics)
	bp := backpressure.NewController(cfg.Sync.MaxConcurrent)
	a.scheduler = scheduler.New(cfg.Sync, a.tenants, bp, a.store, schedOpts...)
	coord := search.NewCoordinator(a.tenants, cfg.Search, a.cache, a.metrics)

	svcOpts := []service.Option{}
	if a.cache != nil {
		svcOpts = append(svcOpts, service.WithCache(a.cache))
	}
	if a.collector != nil {
		svcOpts = append(svcOpts, service.WithTracker(a.collector))
	}
	if opts.limit {
		a.limiter = ratelimit.New(cfg.Sync.SubmitRateLimit, cfg.Sync.SubmitRateWindow)
		svcOpts = append(svcOpts, service.WithLimiter(a.limiter))
	}
	if opts.triggers {
		a.intervals = trigger.NewIntervals(a.scheduler)
		svcOpts = append(svcOpts, service.WithIntervals(a.intervals))
		w, err := trigger.NewWatcher(a.scheduler, 0)
		if err != nil {
			slog.Warn("file watching disabled", "error", err)
		} else {
			a.watcher = w
			svcOpts = append(svcOpts, service.WithWatcher(w))
		}
	}
	a.svc = service.New(ctx, a.tenants, a.scheduler, coord, svcOpts...)
	return a, nil
}

// openStore keeps the job history in postgres when enabled, in the local
// log file otherwise.
func (a *app) openStore(ctx context.Context) error {
	if !a.cfg.Postgres.Enabled {
		store, err := jobstore.OpenFile(a.cfg.Sync.HistoryPath)
		if err != nil {
			return fmt.Errorf("opening sync history: %w", err)
		}
		a.store = store
		return nil
	}
	client, err := postgres.New(a.cfg.Postgres)
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}
	store, err := jobstore.NewPostgres(ctx, client)
	if err != nil {
		client.Close()
		return err
	}
	a.pg = client
	a.store = store
	a.checker.Register("postgres", health.PingCheck(client.Ping, false))
	slog.Info("sync history stored in postgres", "host", a.cfg.Postgres.Host, "database", a.cfg.Postgres.Database)
	return nil
}

// registerConfigured restores the configured tenants without submitting
// any syncs.
func (a *app) registerConfigured(ctx context.Context) error {
	var errs []error
	for _, t := range a.cfg.Tenants {
		if _, err := a.tenants.Register(ctx, t); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// spawn runs fn in the background until ctx ends or Close is called. It is
// not safe for concurrent use.
func (a *app) spawn(ctx context.Context, name string, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithCancel(ctx)
	a.stops = append(a.stops, cancel)
	a.background.Go(func() error {
		if err := fn(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		return nil
	})
}

// Close waits for spawned tasks, then stops the triggers before the scheduler
// and the scheduler before the sinks it writes to.
func (a *app) Close() {
	for _, stop := range a.stops {
		stop()
	}
	if err := a.background.Wait(); err != nil {
		slog.Error("background task failed", "error", err)
	}
	if a.intervals != nil {
		a.intervals.Stop()
	}
	if a.watcher != nil {
		a.watcher.Close()
	}
	a.scheduler.Close()
	if a.collector != nil {
		a.collector.Close()
	}
	if a.producer != nil {
		a.producer.Close()
	}
	a.store.Close()
	if a.redis != nil {
		a.redis.Close()
	}
	if a.pg != nil {
		a.pg.Close()
	}
}
