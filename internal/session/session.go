package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/seatmap-booking/internal/domain"
	"github.com/robertarktes/seatmap-booking/internal/observability"
)

// BookingAPI is the part of the remote booking service a session talks to.
// CreateBooking and CancelBooking must not be retried by the implementation.
type BookingAPI interface {
	FetchBookedSeats(ctx context.Context, showtimeID string) ([]domain.BookingRecord, error)
	CreateBooking(ctx context.Context, req domain.BookingRequest) ([]domain.BookingRecord, error)
	CancelBooking(ctx context.Context, bookingID, cancelledBy string) error
}

type State string

const (
	StateIdle       State = "Idle"
	StateSubmitting State = "Submitting"
	StateCancelling State = "Cancelling"
)

// Session keeps one showtime's seat grid and the user's selection consistent
// with the remote booking API. Local state only changes on confirmed
// responses or an explicit Refresh.
type Session struct {
	id       string
	showtime domain.Showtime
	api      BookingAPI
	recorder Recorder
	logger   observability.Logger
	now      func() time.Time

	mu         sync.Mutex
	grid       *domain.SeatGrid
	ledger     domain.SelectionLedger
	submitting bool
	cancelling map[string]struct{}
	stale      bool
	lastActive time.Time
}

type Option func(*Session)

func WithID(id string) Option {
	return func(s *Session) {
		if id != "" {
			s.id = id
		}
	}
}

func WithRecorder(r Recorder) Option {
	return func(s *Session) {
		if r != nil {
			s.recorder = r
		}
	}
}

func WithLogger(l observability.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		if now != nil {
			s.now = now
		}
	}
}

// New initializes a session for showtime with the given booking snapshot.
// Layout problems surface as domain.ErrLayout.
func New(api BookingAPI, showtime domain.Showtime, initial []domain.BookingRecord, opts ...Option) (*Session, error) {
	grid, err := domain.BuildGrid(showtime.Layout, initial)
	if err != nil {
		return nil, err
	}
	s := &Session{
		id:         uuid.NewString(),
		showtime:   showtime,
		api:        api,
		recorder:   nopRecorder{},
		logger:     observability.NopLogger(),
		now:        time.Now,
		grid:       grid,
		ledger:     domain.NewSelectionLedger(showtime.Prices),
		cancelling: map[string]struct{}{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithFields(map[string]interface{}{"session_id": s.id, "showtime_id": showtime.ID})
	s.lastActive = s.now()
	return s, nil
}

func (s *Session) ID() string { return s.id }
func (s *Session) Showtime() domain.Showtime { return s.showtime }
func (s *Session) ShowtimeID() string { return s.showtime.ID }
func (s *Session) Prices() domain.PriceTable { return s.showtime.Prices }

// ToggleSeat selects or deselects seatID. No network call is made.
func (s *Session) ToggleSeat(seatID string) (domain.SeatStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	seat, ok := s.grid.Seat(seatID)
	if !ok {
		return "", errors.Wrapf(domain.ErrNotFound, "seat %q", seatID)
	}
	next, err := s.ledger.Toggle(seat, s.grid)
	if err != nil {
		return s.grid.StatusOf(seatID, s.ledger), err
	}
	s.ledger = next
	return s.grid.StatusOf(seatID, s.ledger), nil
}

// Quote prices the current selection.
func (s *Session) Quote(discount domain.Discount) (domain.PriceQuote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	return s.ledger.Quote(discount)
}

// Reset drops the whole selection.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	s.ledger = s.ledger.Clear()
}

// SubmitBooking books the current selection with a single createBooking call.
// Input problems fail with domain.ErrValidation or domain.ErrInvalidDiscount
// before anything is sent. A failed call leaves grid and selection untouched
// and is marked domain.ErrBookingFailed; the caller should Refresh before
// letting the user try again.
func (s *Session) SubmitBooking(ctx context.Context, customer domain.CustomerInfo, payment domain.PaymentInfo, discount domain.Discount) ([]domain.BookingRecord, error) {
	s.mu.Lock()
	s.touch()
	if s.submitting {
		s.mu.Unlock()
		return nil, errors.Wrap(domain.ErrSessionBusy, "a booking is already being submitted")
	}
	if s.ledger.Len() == 0 {
		s.mu.Unlock()
		return nil, errors.Wrap(domain.ErrValidation, "no seats selected")
	}
	if err := domain.Validate(customer, payment); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	quote, err := s.ledger.Quote(discount)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	submitted := s.ledger
	req := domain.BookingRequest{
		ShowtimeID: s.showtime.ID,
		RoomID:     s.showtime.RoomID,
		SeatIDs:    submitted.SeatIDs(),
		Customer:   trimCustomer(customer),
		Payment:    payment,
		Quote:      quote,
	}
	s.submitting = true
	s.mu.Unlock()

	log := s.logger.WithFields(map[string]interface{}{"seats": req.SeatIDs, "total": quote.Total})
	s.record(ctx, Event{Type: EventBookingSubmitted, SeatIDs: req.SeatIDs, Quote: &quote, Payment: payment.Method})

	records, callErr := s.api.CreateBooking(ctx, req)

	s.mu.Lock()
	s.submitting = false
	if callErr != nil {
		s.mu.Unlock()
		observability.BookingSubmissions.WithLabelValues("failed").Inc()
		log.WithError(callErr).Warn("booking rejected")
		s.record(ctx, Event{Type: EventBookingFailed, SeatIDs: req.SeatIDs, Quote: &quote, Reason: domain.ReasonOf(callErr), Err: callErr.Error()})
		return nil, errors.Mark(errors.Wrap(callErr, "create booking"), domain.ErrBookingFailed)
	}

	for i := range records {
		if records[i].ShowtimeID == "" {
			records[i].ShowtimeID = s.showtime.ID
		}
	}
	grid := s.grid
	untouched := s.ledger.Equal(submitted)
	if err := s.applyLocked(unionSnapshot(s.grid.Snapshot(), records)); err != nil {
		// The server holds these bookings even though the grid cannot show them.
		s.stale = true
		log.WithError(err).Error("confirmed bookings do not fit the local grid")
	}
	if untouched {
		s.ledger = s.ledger.Clear()
	}
	bookings := domain.NewBookings(records, grid, s.showtime.Prices, req.Customer, payment, quote, s.now())
	s.mu.Unlock()

	observability.BookingSubmissions.WithLabelValues("confirmed").Inc()
	log.Info("booking confirmed")
	s.record(ctx, Event{Type: EventBookingConfirmed, SeatIDs: req.SeatIDs, Quote: &quote, Payment: payment.Method, Bookings: bookings})
	return records, nil
}

// CancelBooking cancels one existing booking. On failure the seat stays
// Booked and the error is marked domain.ErrCancellationFailed; calling again
// with the same id is safe.
func (s *Session) CancelBooking(ctx context.Context, bookingID, cancelledBy string) error {
	s.mu.Lock()
	s.touch()
	rec, ok := s.grid.FindBooking(bookingID)
	if !ok {
		s.mu.Unlock()
		return errors.Mark(errors.Wrapf(domain.ErrNotFound, "booking %q is not in this showtime's snapshot", bookingID), domain.ErrCancellationFailed)
	}
	if strings.TrimSpace(cancelledBy) == "" {
		s.mu.Unlock()
		return errors.Wrap(domain.ErrValidation, "cancelled_by is required")
	}
	if _, busy := s.cancelling[bookingID]; busy {
		s.mu.Unlock()
		return errors.Wrapf(domain.ErrSessionBusy, "booking %q is already being cancelled", bookingID)
	}
	s.cancelling[bookingID] = struct{}{}
	s.mu.Unlock()

	log := s.logger.WithFields(map[string]interface{}{"booking_id": bookingID, "seat_id": rec.SeatID, "cancelled_by": cancelledBy})
	callErr := s.api.CancelBooking(ctx, bookingID, cancelledBy)

	s.mu.Lock()
	delete(s.cancelling, bookingID)
	if callErr != nil {
		s.mu.Unlock()
		observability.Cancellations.WithLabelValues("failed").Inc()
		log.WithError(callErr).Warn("cancellation rejected")
		s.record(ctx, Event{Type: EventCancelFailed, BookingIDs: []string{bookingID}, SeatIDs: []string{rec.SeatID}, CancelledBy: cancelledBy, Reason: domain.ReasonOf(callErr), Err: callErr.Error()})
		return errors.Mark(errors.Wrap(callErr, "cancel booking"), domain.ErrCancellationFailed)
	}

	remaining := make([]domain.BookingRecord, 0)
	for _, r := range s.grid.Snapshot() {
		if r.BookingID != bookingID {
			remaining = append(remaining, r)
		}
	}
	if err := s.applyLocked(remaining); err != nil {
		s.stale = true
		log.WithError(err).Error("failed to apply cancellation locally")
	}
	s.mu.Unlock()

	observability.Cancellations.WithLabelValues("confirmed").Inc()
	log.Info("booking cancelled")
	s.record(ctx, Event{Type: EventBookingCancelled, BookingIDs: []string{bookingID}, SeatIDs: []string{rec.SeatID}, CancelledBy: cancelledBy})
	return nil
}

// Refresh reconciles against a snapshot obtained elsewhere. Every seat in
// snapshot becomes Booked and is dropped from the selection; nothing else
// changes. It returns the seat ids dropped from the selection.
func (s *Session) Refresh(snapshot []domain.BookingRecord) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	before := s.ledger
	if err := s.applyLocked(snapshot); err != nil {
		return nil, err
	}
	s.stale = false
	_, dropped := before.WithoutBooked(s.grid)
	if len(dropped) > 0 {
		s.logger.WithField("dropped", dropped).Info("selection lost seats booked elsewhere")
	}
	return dropped, nil
}

// RefreshFromAPI fetches the booked seats for this showtime and refreshes.
func (s *Session) RefreshFromAPI(ctx context.Context) ([]string, error) {
	snapshot, err := s.api.FetchBookedSeats(ctx, s.showtime.ID)
	if err != nil {
		return nil, errors.Wrap(err, "fetch booked seats")
	}
	dropped, err := s.Refresh(snapshot)
	if err == nil {
		s.record(ctx, Event{Type: EventRefreshed, SeatIDs: dropped})
	}
	return dropped, err
}

// applyLocked swaps in a grid for snapshot and strips booked seats from the
// selection. The caller holds s.mu.
func (s *Session) applyLocked(snapshot []domain.BookingRecord) error {
	grid, err := s.grid.WithBookingsApplied(snapshot)
	if err != nil {
		return err
	}
	s.grid = grid
	s.ledger, _ = s.ledger.WithoutBooked(grid)
	return nil
}

// MarkStale flags that bookings changed elsewhere. Only Refresh clears it.
func (s *Session) MarkStale() {
	s.mu.Lock()
	s.stale = true
	s.mu.Unlock()
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.submitting:
		return StateSubmitting
	case len(s.cancelling) > 0:
		return StateCancelling
	}
	return StateIdle
}

// Busy reports whether any booking or cancellation request is in flight.
func (s *Session) Busy() bool {
	return s.State() != StateIdle
}

func (s *Session) IsCancelling(bookingID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.cancelling[bookingID]
	return ok
}

func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// Grid and Ledger return the current immutable values.
func (s *Session) Grid() *domain.SeatGrid {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.grid
}

func (s *Session) Ledger() domain.SelectionLedger {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger
}

func (s *Session) touch() {
	s.lastActive = s.now()
}

func (s *Session) record(ctx context.Context, ev Event) {
	ev.SessionID = s.id
	ev.ShowtimeID = s.showtime.ID
	ev.At = s.now()
	if err := s.recorder.Record(context.WithoutCancel(ctx), ev); err != nil {
		s.logger.WithError(err).WithField("event", ev.Type).Warn("failed to record session event")
	}
}

// unionSnapshot overlays fresh records on prior, keyed by seat.
func unionSnapshot(prior, fresh []domain.BookingRecord) []domain.BookingRecord {
	bySeat := make(map[string]int, len(prior)+len(fresh))
	out := make([]domain.BookingRecord, 0, len(prior)+len(fresh))
	for _, r := range append(append([]domain.BookingRecord{}, prior...), fresh...) {
		if i, ok := bySeat[r.SeatID]; ok {
			out[i] = r
			continue
		}
		bySeat[r.SeatID] = len(out)
		out = append(out, r)
	}
	return out
}

func trimCustomer(c domain.CustomerInfo) domain.CustomerInfo {
	return domain.CustomerInfo{Name: strings.TrimSpace(c.Name), Phone: strings.TrimSpace(c.Phone)}
}
