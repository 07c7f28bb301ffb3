// Package mirrorsync closes mirrored bookings that the booking API no longer
// reports, so the mirror converges on cancellations made elsewhere.
package mirrorsync

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/seatmap-booking/internal/domain"
	"github.com/robertarktes/seatmap-booking/internal/observability"
	"golang.org/x/sync/errgroup"
)

const (
	maxRetries  = 3
	parallelism = 4
)

type Store interface {
	ActiveShowtimes(ctx context.Context) ([]string, error)
	Reconcile(ctx context.Context, showtimeID string, live []domain.BookingRecord, at time.Time) (int, error)
}

type Source interface {
	FetchBookedSeats(ctx context.Context, showtimeID string) ([]domain.BookingRecord, error)
}

type Syncer struct {
	store   Store
	source  Source
	logger  observability.Logger
	backoff time.Duration
	now     func() time.Time
}

func NewSyncer(store Store, source Source, logger observability.Logger) *Syncer {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Syncer{
		store:   store,
		source:  source,
		logger:  logger.WithField("component", "mirror-sync"),
		backoff: time.Second,
		now:     time.Now,
	}
}

func (s *Syncer) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SyncOnce(ctx); err != nil {
				s.logger.WithError(err).Error("mirror sync pass failed")
			}
		}
	}
}

// SyncOnce reconciles every active showtime and returns how many bookings
// were closed. A failing showtime does not stop the others.
func (s *Syncer) SyncOnce(ctx context.Context) (int, error) {
	showtimes, err := s.store.ActiveShowtimes(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "list active showtimes")
	}

	closed := make([]int, len(showtimes))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for i, id := range showtimes {
		g.Go(func() error {
			n, err := s.syncShowtime(gctx, id)
			if err != nil {
				s.logger.WithError(err).WithField("showtime_id", id).Warn("showtime sync failed")
				return nil
			}
			closed[i] = n
			return nil
		})
	}
	_ = g.Wait()

	total := 0
	for _, n := range closed {
		total += n
	}
	if total > 0 {
		s.logger.WithField("closed", total).Info("mirror caught up with remote cancellations")
	}
	return total, ctx.Err()
}

func (s *Syncer) syncShowtime(ctx context.Context, showtimeID string) (int, error) {
	live, err := s.source.FetchBookedSeats(ctx, showtimeID)
	if err != nil {
		return 0, errors.Wrap(err, "fetch booked seats")
	}
	for i := 0; ; i++ {
		n, err := s.store.Reconcile(ctx, showtimeID, live, s.now())
		if err == nil {
			return n, nil
		}
		if !errors.Is(err, domain.ErrSerializationFailure) || i+1 >= maxRetries {
			return 0, err
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(time.Duration(1<<i) * s.backoff):
		}
	}
}
