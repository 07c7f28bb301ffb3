package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/robertarktes/seatmap-booking/internal/adapters/bookingapi"
	"github.com/robertarktes/seatmap-booking/internal/adapters/crdb"
	mongoadapter "github.com/robertarktes/seatmap-booking/internal/adapters/mongo"
	"github.com/robertarktes/seatmap-booking/internal/adapters/rabbit"
	redisadapter "github.com/robertarktes/seatmap-booking/internal/adapters/redis"
	"github.com/robertarktes/seatmap-booking/internal/config"
	"github.com/robertarktes/seatmap-booking/internal/domain"
	httphandler "github.com/robertarktes/seatmap-booking/internal/http"
	"github.com/robertarktes/seatmap-booking/internal/idempotency"
	"github.com/robertarktes/seatmap-booking/internal/observability"
	"github.com/robertarktes/seatmap-booking/internal/rateLimit"
	"github.com/robertarktes/seatmap-booking/internal/session"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdown, err := observability.SetupOTel(context.Background(), cfg, "seatmap-api")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdown()

	logger := observability.NewLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := bookingapi.NewClient(bookingapi.Options{
		BaseURL:       cfg.BookingAPIURL,
		Token:         cfg.BookingAPIToken,
		Timeout:       cfg.BookingAPITimeout,
		DefaultPrices: domain.PriceTable{Standard: cfg.PriceStandard, Premium: cfg.PricePremium},
		Logger:        logger,
	})

	backends := httphandler.Backends{Checks: map[string]httphandler.Check{}}
	var (
		recorders session.Recorders
		catalog   session.LayoutCatalog
	)

	if cfg.CRDBDSN != "" {
		pool, err := pgxpool.New(ctx, cfg.CRDBDSN)
		if err != nil {
			log.Fatalf("failed to connect to crdb: %v", err)
		}
		defer pool.Close()
		repo := crdb.NewRepository(pool, logger)
		if err := repo.Migrate(ctx); err != nil {
			log.Fatalf("failed to migrate crdb: %v", err)
		}
		recorders = append(recorders, session.NewMirrorRecorder(repo))
		backends.Reports = repo
		backends.Checks["crdb"] = repo.Ping
	}

	if cfg.MongoURI != "" {
		mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			log.Fatalf("failed to connect to mongo: %v", err)
		}
		defer mongoClient.Disconnect(context.Background())
		db := mongoClient.Database(cfg.MongoDB)
		audit := mongoadapter.NewAuditLogger(db, logger)
		recorders = append(recorders, session.NewAuditRecorder(audit))
		backends.Audit = audit
		catalog = mongoadapter.NewCatalogRepository(db, logger)
		backends.Checks["mongo"] = func(ctx context.Context) error { return mongoClient.Ping(ctx, nil) }
	}

	var (
		idempBackend idempotency.Backend = idempotency.NewMemoryBackend()
		limiter      *rateLimit.RateLimiter
	)
	if cfg.RedisAddr != "" {
		redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		cache := redisadapter.NewCache(redisClient)
		idempBackend = redisadapter.NewIdempotency(redisClient)
		if cfg.RateLimit > 0 {
			limiter = rateLimit.NewRateLimiter(cache, logger)
		}
		backends.Checks["redis"] = cache.Ping
	}

	registry := session.NewRegistry(cfg.SessionIdleTTL, logger)
	var recorder session.Recorder
	if len(recorders) > 0 {
		recorder = recorders
	}
	opener := session.NewOpener(client, registry, catalog, recorder, logger)

	g, gctx := errgroup.WithContext(ctx)

	if cfg.RabbitURL != "" {
		conn, err := amqp.Dial(cfg.RabbitURL)
		if err != nil {
			log.Fatalf("failed to connect to rabbitmq: %v", err)
		}
		defer conn.Close()
		consumer, err := rabbit.NewConsumer(conn, logger)
		if err != nil {
			log.Fatalf("failed to create consumer: %v", err)
		}
		defer consumer.Close()
		backends.Checks["rabbit"] = func(context.Context) error {
			if conn.IsClosed() {
				return amqp.ErrClosed
			}
			return nil
		}
		g.Go(func() error {
			return consumer.Consume(gctx, func(_ context.Context, ev domain.BookingEvent) error {
				if n := registry.MarkStale(ev.ShowtimeID, ev.Origin); n > 0 {
					logger.WithFields(map[string]interface{}{"showtime_id": ev.ShowtimeID, "event": ev.Type, "sessions": n}).Info("sessions marked stale")
				}
				return nil
			})
		})
	}

	idemp := idempotency.NewIdempotency(idempBackend, cfg.IdempotencyTTL)
	handlers := httphandler.NewHandlers(registry, opener, idemp, backends, logger)
	r := httphandler.SetupRouter(handlers, logger, httphandler.RouterOptions{
		JWTSecret:   cfg.JWTSecret,
		RateLimiter: limiter,
		RateRule:    rateLimit.Rule{Rate: int(cfg.RateLimit), Period: time.Minute},
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g.Go(func() error {
		registry.Run(gctx, time.Minute)
		return nil
	})
	g.Go(func() error {
		logger.WithField("addr", cfg.HTTPAddr).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down http server")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	})

	if err := g.Wait(); err != nil {
		logger.WithError(err).Error("api stopped with error")
		os.Exit(1)
	}
	logger.Info("api exiting")
}
