package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robertarktes/seatmap-booking/internal/adapters/bookingapi"
	"github.com/robertarktes/seatmap-booking/internal/adapters/crdb"
	"github.com/robertarktes/seatmap-booking/internal/config"
	"github.com/robertarktes/seatmap-booking/internal/domain"
	"github.com/robertarktes/seatmap-booking/internal/mirrorsync"
	"github.com/robertarktes/seatmap-booking/internal/observability"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if cfg.CRDBDSN == "" {
		log.Fatal("CRDB_DSN is required")
	}

	shutdownOtel, err := observability.SetupOTel(context.Background(), cfg, "seatmap-mirror-sync")
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

	client := bookingapi.NewClient(bookingapi.Options{
		BaseURL:       cfg.BookingAPIURL,
		Token:         cfg.BookingAPIToken,
		Timeout:       cfg.BookingAPITimeout,
		DefaultPrices: domain.PriceTable{Standard: cfg.PriceStandard, Premium: cfg.PricePremium},
		Logger:        logger,
	})

	logger.WithField("interval", cfg.MirrorSyncInterval.String()).Info("mirror sync started")
	mirrorsync.NewSyncer(repo, client, logger).Run(ctx, cfg.MirrorSyncInterval)
	logger.Info("mirror sync exiting")
}
