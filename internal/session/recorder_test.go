package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/seatmap-booking/internal/domain"
	"github.com/robertarktes/seatmap-booking/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memMirror struct {
	saved     []domain.Booking
	cancelled map[string]string
	err       error
}

func (m *memMirror) SaveBookings(_ context.Context, _ string, bookings []domain.Booking) error {
	m.saved = append(m.saved, bookings...)
	return m.err
}

func (m *memMirror) MarkCancelled(_ context.Context, _, bookingID, by string, _ time.Time) error {
	if m.cancelled == nil {
		m.cancelled = map[string]string{}
	}
	m.cancelled[bookingID] = by
	return m.err
}

type memAudit struct {
	actions []string
	data    []map[string]interface{}
}

func (m *memAudit) LogEvent(_ context.Context, action, _ string, data map[string]interface{}) error {
	m.actions = append(m.actions, action)
	m.data = append(m.data, data)
	return nil
}

func TestRecorders_MirrorAndAudit(t *testing.T) {
	mirror := &memMirror{}
	audit := &memAudit{}
	rec := session.Recorders{session.NewMirrorRecorder(mirror), session.NewAuditRecorder(audit)}

	s := newSession(t, &fakeAPI{}, nil, session.WithRecorder(rec))
	_, _ = s.ToggleSeat("1,2")
	records, err := s.SubmitBooking(context.Background(), customer,
		domain.PaymentInfo{Method: domain.PaymentBank, TransactionID: "TX1", BankName: "Meezan"}, domain.Discount{})
	require.NoError(t, err)
	require.NoError(t, s.CancelBooking(context.Background(), records[0].BookingID, "manager"))

	require.Len(t, mirror.saved, 1)
	assert.Equal(t, "Meezan", mirror.saved[0].BankName)
	assert.EqualValues(t, 700, mirror.saved[0].Amount)
	assert.Equal(t, "manager", mirror.cancelled[records[0].BookingID])

	assert.Equal(t, []string{"booking.submitted", "booking.created", "booking.cancelled"}, audit.actions)
	assert.Equal(t, "Bank", audit.data[1]["payment_method"])
}

func TestRecorders_FailureDoesNotFailBooking(t *testing.T) {
	mirror := &memMirror{err: errors.New("db down")}
	s := newSession(t, &fakeAPI{}, nil, session.WithRecorder(session.Recorders{session.NewMirrorRecorder(mirror)}))
	_, _ = s.ToggleSeat("3,3")

	_, err := s.SubmitBooking(context.Background(), customer, cash, domain.Discount{})
	require.NoError(t, err)
	assert.True(t, s.Grid().IsBooked("3,3"))
}

func TestRecorders_JoinsErrors(t *testing.T) {
	rs := session.Recorders{
		session.NewMirrorRecorder(&memMirror{err: errors.New("a")}),
		session.NewMirrorRecorder(&memMirror{err: errors.New("b")}),
	}
	err := rs.Record(context.Background(), session.Event{Type: session.EventBookingConfirmed, Bookings: []domain.Booking{{BookingID: "x"}}})
	assert.Error(t, err)
}
