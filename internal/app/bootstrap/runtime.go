package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/hackgods/appointment-engine/internal/api"
	"github.com/hackgods/appointment-engine/internal/appointment"
	"github.com/hackgods/appointment-engine/internal/config"
	"github.com/hackgods/appointment-engine/internal/db"
	"github.com/hackgods/appointment-engine/internal/observability/metrics"
	redisclient "github.com/hackgods/appointment-engine/internal/redis"
)

// Runtime is the scheduling engine wired from config, shared by the API server,
// the expiry worker and the seeder.
type Runtime struct {
	Service      *appointment.Service
	Changes      api.ChangeSource
	Dependencies []api.Dependency
	Registry     *prometheus.Registry

	closers []func()
}

// BuildRuntime connects the configured store and coordination backend. With
// Redis configured, slot locks and change notifications go through it so that
// several processes can share one store. Without it, both stay in process.
func BuildRuntime(ctx context.Context, cfg config.Config, log zerolog.Logger) (*Runtime, error) {
	rt := &Runtime{Registry: prometheus.NewRegistry()}
	rt.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	var repo appointment.Repository
	switch cfg.StoreBackend {
	case config.StorePostgres:
		pool, err := db.ConnectPostgres(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: %w", err)
		}
		rt.closers = append(rt.closers, pool.Close)
		rt.Dependencies = append(rt.Dependencies, api.Dependency{Name: "postgres", Check: pool})
		repo = appointment.NewPgRepository(pool)
		log.Info().Msg("connected to Postgres")
	case config.StoreMemory:
		repo = appointment.NewMemoryRepository()
		log.Warn().Msg("using in-memory store; data is lost on restart")
	default:
		return nil, fmt.Errorf("bootstrap: unknown store backend %q", cfg.StoreBackend)
	}

	var (
		locker    appointment.Locker
		publisher appointment.Publisher
	)
	if cfg.RedisEnabled() {
		rdb, err := redisclient.NewRedisClient(ctx, cfg)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("bootstrap: %w", err)
		}
		rt.closers = append(rt.closers, func() {
			if err := rdb.Close(); err != nil {
				log.Warn().Err(err).Msg("error closing redis")
			}
		})
		rt.Dependencies = append(rt.Dependencies, api.Dependency{
			Name:  "redis",
			Check: api.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() }),
		})

		notifier := redisclient.NewNotifier(rdb)
		locker = redisclient.NewKeyLocker(rdb, cfg.LockTTL, cfg.LockWait)
		publisher = notifier
		rt.Changes = notifier
		log.Info().Str("addr", cfg.RedisAddr).Msg("connected to Redis")
	} else {
		broadcaster := appointment.NewLocalBroadcaster()
		locker = appointment.NewLocalLocker(cfg.LockWait)
		publisher = broadcaster
		rt.Changes = broadcaster
	}

	rt.Service = appointment.NewService(repo, locker, cfg,
		appointment.WithLogger(log),
		appointment.WithPublisher(publisher),
		appointment.WithMetrics(metrics.NewSchedulingMetrics(rt.Registry)),
	)
	return rt, nil
}

// Close releases connections in reverse order of acquisition.
func (rt *Runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}

var errNoService = errors.New("runtime has no service")

// Ready reports whether every dependency answers a ping.
func (rt *Runtime) Ready(ctx context.Context) error {
	if rt.Service == nil {
		return errNoService
	}
	var errs []error
	for _, dep := range rt.Dependencies {
		if err := dep.Check.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", dep.Name, err))
		}
	}
	return errors.Join(errs...)
}
