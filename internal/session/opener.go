package session

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/seatmap-booking/internal/domain"
	"github.com/robertarktes/seatmap-booking/internal/observability"
	"golang.org/x/sync/errgroup"
)

// Remote is the full booking API surface needed to open sessions.
type Remote interface {
	BookingAPI
	FetchShowtime(ctx context.Context, showtimeID string) (domain.Showtime, error)
	FetchRoomLayout(ctx context.Context, roomID string) (domain.RoomLayout, error)
}

// LayoutCatalog caches room layouts; Resolve calls fill on a miss.
type LayoutCatalog interface {
	Resolve(ctx context.Context, roomID string, fill func(context.Context) (domain.RoomLayout, error)) (domain.RoomLayout, error)
}

// Opener builds sessions from the remote API and registers them.
type Opener struct {
	api      Remote
	registry *Registry
	catalog  LayoutCatalog
	recorder Recorder
	logger   observability.Logger
}

func NewOpener(api Remote, registry *Registry, catalog LayoutCatalog, recorder Recorder, logger observability.Logger) *Opener {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Opener{api: api, registry: registry, catalog: catalog, recorder: recorder, logger: logger}
}

// Open fetches the showtime and its booked seats in parallel and registers a
// fresh session. A showtime the API does not know fails with ErrNotFound.
func (o *Opener) Open(ctx context.Context, showtimeID string) (*Session, error) {
	var (
		showtime domain.Showtime
		snapshot []domain.BookingRecord
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		showtime, err = o.api.FetchShowtime(gctx, showtimeID)
		return errors.Wrap(err, "fetch showtime")
	})
	g.Go(func() error {
		var err error
		snapshot, err = o.api.FetchBookedSeats(gctx, showtimeID)
		return errors.Wrap(err, "fetch booked seats")
	})
	if err := g.Wait(); err != nil {
		return nil, markRemote(err)
	}

	if showtime.Layout.Rows == 0 || showtime.Layout.Columns == 0 {
		layout, err := o.layout(ctx, showtime.RoomID)
		if err != nil {
			return nil, markRemote(errors.Wrap(err, "fetch room layout"))
		}
		showtime.Layout = layout
	}

	opts := []Option{WithLogger(o.logger)}
	if o.recorder != nil {
		opts = append(opts, WithRecorder(o.recorder))
	}
	s, err := New(o.api, showtime, snapshot, opts...)
	if err != nil {
		return nil, err
	}
	o.registry.Add(s)
	o.logger.WithFields(map[string]interface{}{"session_id": s.ID(), "showtime_id": showtimeID}).Info("session opened")
	return s, nil
}

func (o *Opener) layout(ctx context.Context, roomID string) (domain.RoomLayout, error) {
	if roomID == "" {
		return domain.RoomLayout{}, errors.Wrap(domain.ErrLayout, "showtime has neither a room layout nor a room id")
	}
	if o.catalog == nil {
		return o.api.FetchRoomLayout(ctx, roomID)
	}
	return o.catalog.Resolve(ctx, roomID, func(ctx context.Context) (domain.RoomLayout, error) {
		return o.api.FetchRoomLayout(ctx, roomID)
	})
}

func markRemote(err error) error {
	if domain.ReasonOf(err) == domain.ReasonNotFound {
		return errors.Mark(err, domain.ErrNotFound)
	}
	return err
}
