package main

import (
	"context"
	"net"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/nats-io/nats.go"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"google.golang.org/grpc/health"

	"github.com/example/dojo-academy/internal/platform/activity"
	"github.com/example/dojo-academy/internal/platform/auth"
	"github.com/example/dojo-academy/internal/platform/db"
	"github.com/example/dojo-academy/internal/platform/httpserver"
	"github.com/example/dojo-academy/internal/platform/logging"
	"github.com/example/dojo-academy/internal/platform/natsconn"
	"github.com/example/dojo-academy/internal/platform/run"
	"github.com/example/dojo-academy/services/social/internal/config"
	"github.com/example/dojo-academy/services/social/internal/events"
	"github.com/example/dojo-academy/services/social/internal/grpcapi"
	"github.com/example/dojo-academy/services/social/internal/handlers"
	"github.com/example/dojo-academy/services/social/internal/store"
	"github.com/example/dojo-academy/services/social/internal/thread"
	"github.com/example/dojo-academy/services/social/internal/worker"
)

// backends are the storage dependencies picked at startup. cache is nil
// unless Redis is configured.
type backends struct {
	comments  store.CommentStore
	directory events.Directory
	cache     *events.CachedDirectory
	close     func()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log, err := logging.NewService(cfg.ServiceName, cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	be := initStores(cfg, log)
	comments := be.comments
	nc := connectNATS(cfg, log)
	publisher := initPublisher(nc, log)

	svc := thread.New(comments, be.directory,
		thread.WithLogger(log.Named("thread")),
		thread.WithPublisher(publisher),
		thread.WithMaxBodyLength(cfg.MaxCommentLength),
	)

	if cfg.JWTSecret == "" {
		log.Warn("JWT_SECRET not set, every authenticated request will be rejected")
	}
	verifier := auth.JWTVerifier{Secret: []byte(cfg.JWTSecret)}
	limiter := httpserver.NewRateLimiter(cfg.WriteRatePerSec, cfg.WriteBurst, handlers.UserKey)

	r := chi.NewRouter()
	httpserver.SetupRouter(r, httpserver.RouterConfig{
		ReadyFunc: func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return comments.Ping(ctx)
		},
		Logger: log.Named("http"),
	})
	handlers.Routes(r, svc, verifier, limiter, log.Named("handlers"))

	srv := httpserver.New(httpserver.Options{Addr: cfg.HTTP.Addr, ServiceName: cfg.ServiceName, Logger: log, Router: r})

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Error("grpc listen", zap.Error(err))
		run.Exit(1)
	}
	hs := health.NewServer()
	reporter := grpcapi.NewHealthReporter(hs, comments, cfg.HealthInterval, log.Named("health"))
	grpcSrv := grpcapi.NewServer(hs, grpcapi.NewCommentsService(svc), log.Named("grpc"))

	runner := run.New(log)
	code := runner.WithSignals(func(ctx context.Context) error {
		go reporter.Run(ctx)
		if nc != nil && be.cache != nil {
			if err := worker.StartEventCacheConsumer(ctx, nc, be.cache, log.Named("event-cache-consumer")); err != nil {
				log.Warn("event cache consumer disabled", zap.Error(err))
			}
		}
		go func() {
			log.Info("grpc server starting", zap.String("addr", cfg.GRPCAddr))
			if err := grpcSrv.Serve(lis); err != nil {
				log.Error("grpc serve", zap.Error(err))
			}
		}()
		return srv.Start(log)
	})

	runner.Shutdown(
		func(ctx context.Context) error {
			stopped := make(chan struct{})
			go func() {
				grpcSrv.GracefulStop()
				close(stopped)
			}()
			select {
			case <-stopped:
			case <-ctx.Done():
				grpcSrv.Stop()
			}
			return nil
		},
		srv.Shutdown,
	)

	if nc != nil {
		_ = nc.Drain()
	}
	be.close()
	log.Info("exit", zap.Int("code", code))
	_ = log.Sync()
	run.Exit(code)
}

// initStores selects the comment store and event directory. In production
// Postgres is mandatory; elsewhere a missing or unreachable database falls
// back to in-memory stores.
func initStores(cfg config.Config, log *zap.Logger) backends {
	memory := func() backends {
		cs := store.NewInMemoryCommentStore()
		cs.RestrictEvents(cfg.DevEventIDs...)
		return backends{comments: cs, directory: events.NewMemoryDirectory(cfg.DevEventIDs...), close: func() {}}
	}

	if cfg.DatabaseURL == "" {
		log.Warn("DATABASE_URL not set, using in-memory comment store (development only)",
			zap.Int64s("event_ids", cfg.DevEventIDs))
		return memory()
	}

	pool, err := db.Open(context.Background(), cfg.DatabaseURL)
	if err != nil {
		if cfg.IsProduction() {
			log.Error("postgres is required in production but unavailable", zap.Error(err))
			_ = log.Sync()
			run.Exit(1)
		}
		log.Warn("postgres unavailable, falling back to in-memory comment store", zap.Error(err))
		return memory()
	}

	if cfg.MigrateOnStart {
		if err := db.Migrate(store.Migrations, store.MigrationsDir, cfg.DatabaseURL, log.Named("migrate")); err != nil {
			log.Error("migrations failed", zap.Error(err))
			pool.Close()
			_ = log.Sync()
			run.Exit(1)
		}
	}

	be := backends{comments: store.NewPostgresCommentStore(pool), directory: events.NewPostgresDirectory(pool)}
	closeRedis := func() {}
	if cfg.RedisURL != "" {
		client, err := events.NewRedisClient(cfg.RedisURL)
		if err != nil {
			log.Warn("invalid REDIS_URL, event cache disabled", zap.Error(err))
		} else {
			cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
				Name:        "event-cache",
				MaxRequests: cfg.CBMaxRequests,
				Interval:    cfg.CBInterval,
				Timeout:     cfg.CBTimeout,
				ReadyToTrip: func(counts gobreaker.Counts) bool {
					return counts.ConsecutiveFailures >= cfg.CBFailureThreshold
				},
				OnStateChange: func(name string, from, to gobreaker.State) {
					log.Info("circuit-breaker state change", zap.String("name", name), zap.String("from", from.String()), zap.String("to", to.String()))
				},
			})
			be.cache = events.NewCachedDirectory(be.directory, client, cfg.EventCacheTTL,
				events.WithCircuitBreaker(cb), events.WithLogger(log.Named("event-cache")))
			be.directory = be.cache
			closeRedis = func() { _ = client.Close() }
			log.Info("event cache: redis", zap.Duration("ttl", cfg.EventCacheTTL))
		}
	}

	be.close = func() {
		closeRedis()
		pool.Close()
	}
	log.Info("comments store: postgres")
	return be
}

// connectNATS returns nil when NATS is not configured or unreachable.
func connectNATS(cfg config.Config, log *zap.Logger) *nats.Conn {
	if cfg.NATSURL == "" {
		log.Info("NATS_URL not set, activity events disabled")
		return nil
	}
	nc, err := natsconn.Connect(natsconn.Options{URL: cfg.NATSURL, Name: cfg.ServiceName, Logger: log.Named("nats")})
	if err != nil {
		log.Error("nats connect", zap.Error(err))
		return nil
	}
	return nc
}

// initPublisher returns a nil publisher without NATS; events are dropped.
func initPublisher(nc *nats.Conn, log *zap.Logger) *activity.Publisher {
	if nc == nil {
		return nil
	}
	pub, err := activity.Connect(nc, log.Named("activity"))
	if err != nil {
		log.Error("jetstream", zap.Error(err))
		return nil
	}
	return pub
}
