package crdb

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robertarktes/seatmap-booking/internal/domain"
	"github.com/robertarktes/seatmap-booking/internal/observability"
)

const (
	SerializationFailureCode = "40001"

	// SyncActor is recorded as cancelled_by when reconciliation closes a row.
	SyncActor = "mirror-sync"
)

// Repository is the booking mirror: a reporting copy of confirmed bookings
// plus the outbox feeding the event bus. The remote API stays authoritative.
type Repository struct {
	pool   *pgxpool.Pool
	logger observability.Logger
}

func NewRepository(pool *pgxpool.Pool, logger observability.Logger) *Repository {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Repository{pool: pool, logger: logger.WithField("component", "crdb")}
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *Repository) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	start := time.Now()
	defer func() { observability.DBTxDuration.Observe(time.Since(start).Seconds()) }()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer tx.Rollback(ctx)

	if _, err = tx.Exec(ctx, "SET TRANSACTION ISOLATION LEVEL SERIALIZABLE"); err != nil {
		return err
	}

	if err = fn(tx); err != nil {
		return mapTxError(err)
	}
	return mapTxError(tx.Commit(ctx))
}

func mapTxError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == SerializationFailureCode {
		return errors.Mark(err, domain.ErrSerializationFailure)
	}
	return err
}

// SaveBookings mirrors confirmed bookings and queues one booking.created
// event for the newly mirrored ones. Rows already mirrored are left as they
// are and produce no event.
func (r *Repository) SaveBookings(ctx context.Context, origin string, bookings []domain.Booking) error {
	if len(bookings) == 0 {
		return nil
	}
	return r.WithTx(ctx, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, b := range bookings {
			batch.Queue(`
				INSERT INTO bookings (booking_id, showtime_id, seat_id, seat_label, customer_name, customer_phone,
					payment_method, transaction_id, bank_name, reference, unit_price, amount, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
				ON CONFLICT (booking_id) DO NOTHING
			`, b.BookingID, b.ShowtimeID, b.SeatID, b.SeatLabel, b.CustomerName, b.CustomerPhone,
				string(b.PaymentMethod), b.TransactionID, b.BankName, b.Reference, b.UnitPrice, b.Amount, b.CreatedAt)
		}
		ev := domain.BookingEvent{
			Type:       domain.EventBookingCreated,
			ShowtimeID: bookings[0].ShowtimeID,
			Origin:     origin,
			At:         bookings[0].CreatedAt,
		}
		br := tx.SendBatch(ctx, batch)
		for _, b := range bookings {
			tag, err := br.Exec()
			if err != nil {
				_ = br.Close()
				return errors.Wrapf(err, "insert booking %s", b.BookingID)
			}
			if tag.RowsAffected() > 0 {
				ev.BookingIDs = append(ev.BookingIDs, b.BookingID)
				ev.SeatIDs = append(ev.SeatIDs, b.SeatID)
			}
		}
		if err := br.Close(); err != nil {
			return errors.Wrap(err, "insert bookings")
		}
		if len(ev.BookingIDs) == 0 {
			return nil
		}
		return r.queueEvent(ctx, tx, ev)
	})
}

// MarkCancelled closes a mirrored booking and queues booking.cancelled. The
// event is queued even when the booking was never mirrored here.
func (r *Repository) MarkCancelled(ctx context.Context, origin, bookingID, cancelledBy string, at time.Time) error {
	return r.WithTx(ctx, func(tx pgx.Tx) error {
		var showtimeID, seatID string
		err := tx.QueryRow(ctx, `
			UPDATE bookings SET cancelled = true, cancelled_by = $2, cancelled_at = $3
			WHERE booking_id = $1 AND NOT cancelled
			RETURNING showtime_id, seat_id
		`, bookingID, cancelledBy, at).Scan(&showtimeID, &seatID)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return errors.Wrapf(err, "cancel booking %s", bookingID)
		}
		if errors.Is(err, pgx.ErrNoRows) {
			r.logger.WithField("booking_id", bookingID).Debug("cancelled booking not mirrored or already closed")
		}
		ev := domain.BookingEvent{
			Type:        domain.EventBookingCancelled,
			ShowtimeID:  showtimeID,
			Origin:      origin,
			BookingIDs:  []string{bookingID},
			CancelledBy: cancelledBy,
			At:          at,
		}
		if seatID != "" {
			ev.SeatIDs = []string{seatID}
		}
		return r.queueEvent(ctx, tx, ev)
	})
}

func (r *Repository) queueEvent(ctx context.Context, tx pgx.Tx, ev domain.BookingEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "encode outbox payload")
	}
	return r.InsertOutbox(ctx, tx, OutboxRecord{
		ID:            uuid.New(),
		AggregateType: "showtime",
		AggregateID:   ev.ShowtimeID,
		EventType:     ev.Type,
		Payload:       payload,
		DedupeKey:     uuid.NewString(),
	})
}

func (r *Repository) GetBooking(ctx context.Context, bookingID string) (*domain.Booking, error) {
	rows, err := r.pool.Query(ctx, selectBookings+` WHERE booking_id = $1`, bookingID)
	if err != nil {
		return nil, err
	}
	out, err := scanBookings(rows)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, errors.Wrapf(domain.ErrNotFound, "booking %q", bookingID)
	}
	return &out[0], nil
}

// BookingFilter narrows ListBookings. Zero fields match everything; To is
// exclusive.
type BookingFilter struct {
	ShowtimeID string
	From       time.Time
	To         time.Time
}

func (r *Repository) ListBookings(ctx context.Context, f BookingFilter) ([]domain.Booking, error) {
	var from, to *time.Time
	if !f.From.IsZero() {
		from = &f.From
	}
	if !f.To.IsZero() {
		to = &f.To
	}
	rows, err := r.pool.Query(ctx, selectBookings+`
		WHERE ($1::STRING = '' OR showtime_id = $1)
		  AND ($2::TIMESTAMPTZ IS NULL OR created_at >= $2)
		  AND ($3::TIMESTAMPTZ IS NULL OR created_at < $3)
		ORDER BY created_at, booking_id
	`, f.ShowtimeID, from, to)
	if err != nil {
		return nil, err
	}
	return scanBookings(rows)
}

// ActiveShowtimes lists showtimes that still have open mirrored bookings.
func (r *Repository) ActiveShowtimes(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT showtime_id FROM bookings WHERE NOT cancelled ORDER BY showtime_id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// Reconcile closes every open mirrored booking of showtimeID that is absent
// from live, the server's current snapshot, and returns how many it closed.
func (r *Repository) Reconcile(ctx context.Context, showtimeID string, live []domain.BookingRecord, at time.Time) (int, error) {
	present := make(map[string]struct{}, len(live))
	for _, rec := range live {
		present[rec.BookingID] = struct{}{}
	}

	closed := 0
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		closed = 0
		rows, err := tx.Query(ctx, `SELECT booking_id, seat_id FROM bookings WHERE showtime_id = $1 AND NOT cancelled`, showtimeID)
		if err != nil {
			return err
		}
		type open struct{ bookingID, seatID string }
		var gone []open
		for rows.Next() {
			var o open
			if err := rows.Scan(&o.bookingID, &o.seatID); err != nil {
				rows.Close()
				return err
			}
			if _, ok := present[o.bookingID]; !ok {
				gone = append(gone, o)
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, o := range gone {
			if _, err := tx.Exec(ctx, `
				UPDATE bookings SET cancelled = true, cancelled_by = $2, cancelled_at = $3 WHERE booking_id = $1
			`, o.bookingID, SyncActor, at); err != nil {
				return err
			}
			ev := domain.BookingEvent{
				Type:        domain.EventBookingCancelled,
				ShowtimeID:  showtimeID,
				Origin:      SyncActor,
				BookingIDs:  []string{o.bookingID},
				SeatIDs:     []string{o.seatID},
				CancelledBy: SyncActor,
				At:          at,
			}
			if err := r.queueEvent(ctx, tx, ev); err != nil {
				return err
			}
			closed++
		}
		return nil
	})
	return closed, err
}

const selectBookings = `
	SELECT booking_id, showtime_id, seat_id, seat_label, customer_name, customer_phone, payment_method,
		transaction_id, bank_name, reference, unit_price, amount, cancelled, cancelled_by, created_at
	FROM bookings`

func scanBookings(rows pgx.Rows) ([]domain.Booking, error) {
	defer rows.Close()
	var out []domain.Booking
	for rows.Next() {
		var b domain.Booking
		var method string
		if err := rows.Scan(&b.BookingID, &b.ShowtimeID, &b.SeatID, &b.SeatLabel, &b.CustomerName, &b.CustomerPhone,
			&method, &b.TransactionID, &b.BankName, &b.Reference, &b.UnitPrice, &b.Amount, &b.Cancelled,
			&b.CancelledBy, &b.CreatedAt); err != nil {
			return nil, err
		}
		b.PaymentMethod = domain.PaymentMethod(method)
		out = append(out, b)
	}
	return out, rows.Err()
}
