package session

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/seatmap-booking/internal/domain"
)

type EventType string

const (
	EventBookingSubmitted EventType = "booking.submitted"
	EventBookingConfirmed EventType = "booking.created"
	EventBookingFailed    EventType = "booking.failed"
	EventBookingCancelled EventType = "booking.cancelled"
	EventCancelFailed     EventType = "booking.cancel_failed"
	EventRefreshed        EventType = "session.refreshed"
)

// Event describes something a session did against the booking API. Events
// are emitted after the fact and never influence session state.
type Event struct {
	Type        EventType
	SessionID   string
	ShowtimeID  string
	SeatIDs     []string
	BookingIDs  []string
	Bookings    []domain.Booking
	Quote       *domain.PriceQuote
	Payment     domain.PaymentMethod
	CancelledBy string
	Reason      domain.FailureReason
	Err         string
	At          time.Time
}

// Recorder receives session events. Errors are logged by the session and
// otherwise ignored: the remote API is the source of truth.
type Recorder interface {
	Record(ctx context.Context, ev Event) error
}

type nopRecorder struct{}

func (nopRecorder) Record(context.Context, Event) error { return nil }

// MirrorStore persists confirmed bookings and cancellations for reporting.
type MirrorStore interface {
	SaveBookings(ctx context.Context, origin string, bookings []domain.Booking) error
	MarkCancelled(ctx context.Context, origin, bookingID, cancelledBy string, at time.Time) error
}

// MirrorRecorder writes confirmed outcomes to a MirrorStore and ignores the rest.
type MirrorRecorder struct {
	store MirrorStore
}

func NewMirrorRecorder(store MirrorStore) *MirrorRecorder {
	return &MirrorRecorder{store: store}
}

func (m *MirrorRecorder) Record(ctx context.Context, ev Event) error {
	switch ev.Type {
	case EventBookingConfirmed:
		return m.store.SaveBookings(ctx, ev.SessionID, ev.Bookings)
	case EventBookingCancelled:
		for _, id := range ev.BookingIDs {
			if err := m.store.MarkCancelled(ctx, ev.SessionID, id, ev.CancelledBy, ev.At); err != nil {
				return err
			}
		}
	}
	return nil
}

// AuditSink stores free-form audit entries.
type AuditSink interface {
	LogEvent(ctx context.Context, action, actor string, data map[string]interface{}) error
}

// AuditRecorder writes every event to an AuditSink.
type AuditRecorder struct {
	sink AuditSink
}

func NewAuditRecorder(sink AuditSink) *AuditRecorder {
	return &AuditRecorder{sink: sink}
}

func (a *AuditRecorder) Record(ctx context.Context, ev Event) error {
	data := map[string]interface{}{
		"session_id":  ev.SessionID,
		"showtime_id": ev.ShowtimeID,
		"seats":       ev.SeatIDs,
		"at":          ev.At.Format(time.RFC3339),
	}
	if len(ev.BookingIDs) > 0 {
		data["booking_ids"] = ev.BookingIDs
	}
	if len(ev.Bookings) > 0 {
		ids := make([]string, 0, len(ev.Bookings))
		for _, b := range ev.Bookings {
			ids = append(ids, b.BookingID)
		}
		data["booking_ids"] = ids
	}
	if ev.Quote != nil {
		data["subtotal"] = ev.Quote.Subtotal
		data["discount"] = ev.Quote.Discount
		data["total"] = ev.Quote.Total
		data["reference"] = ev.Quote.Reference
	}
	if ev.Payment != "" {
		data["payment_method"] = string(ev.Payment)
	}
	if ev.Reason != "" {
		data["reason"] = string(ev.Reason)
	}
	if ev.Err != "" {
		data["error"] = ev.Err
	}
	actor := ev.CancelledBy
	if actor == "" {
		actor = ev.SessionID
	}
	return a.sink.LogEvent(ctx, string(ev.Type), actor, data)
}

// Recorders fans an event out to every recorder and joins their errors.
type Recorders []Recorder

func (rs Recorders) Record(ctx context.Context, ev Event) error {
	var errs error
	for _, r := range rs {
		if err := r.Record(ctx, ev); err != nil {
			errs = errors.CombineErrors(errs, err)
		}
	}
	return errs
}
