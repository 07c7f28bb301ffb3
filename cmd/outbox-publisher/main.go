package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/seatmap-booking/internal/adapters/crdb"
	"github.com/robertarktes/seatmap-booking/internal/adapters/rabbit"
	"github.com/robertarktes/seatmap-booking/internal/config"
	"github.com/robertarktes/seatmap-booking/internal/observability"
	"github.com/robertarktes/seatmap-booking/internal/outbox"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if cfg.CRDBDSN == "" || cfg.RabbitURL == "" {
		log.Fatal("CRDB_DSN and RABBIT_URL are required")
	}

	shutdownOtel, err := observability.SetupOTel(context.Background(), cfg, "seatmap-outbox-publisher")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	logger := observability.NewLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.CRDBDSN)
	if err != nil {
		log.Fatalf("failed to connect to crdb: %v", err)
	}
	defer pool.Close()
	repo := crdb.NewRepository(pool, logger)
	if err := repo.Migrate(ctx); err != nil {
		log.Fatalf("failed to migrate crdb: %v", err)
	}

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("failed to connect to rabbitmq: %v", err)
	}
	defer conn.Close()
	rabbitPub, err := rabbit.NewPublisher(conn)
	if err != nil {
		log.Fatalf("failed to create publisher: %v", err)
	}
	defer rabbitPub.Close()

	if n, err := repo.PendingOutbox(ctx); err == nil {
		logger.WithField("pending", n).Info("outbox backlog at startup")
	}

	outbox.NewPublisher(repo, rabbitPub, logger, cfg.OutboxInterval).Run(ctx)
	logger.Info("outbox publisher exiting")
}
