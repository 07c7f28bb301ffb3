package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/robertarktes/seatmap-booking/internal/adapters/crdb"
	mongoadapter "github.com/robertarktes/seatmap-booking/internal/adapters/mongo"
	"github.com/robertarktes/seatmap-booking/internal/domain"
	"github.com/robertarktes/seatmap-booking/internal/idempotency"
	"github.com/robertarktes/seatmap-booking/internal/observability"
	"github.com/robertarktes/seatmap-booking/internal/session"
)

const maxBody = 1 << 20

// ReportSource reads the booking mirror.
type ReportSource interface {
	ListBookings(ctx context.Context, f crdb.BookingFilter) ([]domain.Booking, error)
	GetBooking(ctx context.Context, bookingID string) (*domain.Booking, error)
}

// AuditSource reads the audit trail of session operations.
type AuditSource interface {
	ForShowtime(ctx context.Context, showtimeID string, limit int64) ([]mongoadapter.AuditLog, error)
}

// Check is one readiness probe.
type Check func(ctx context.Context) error

type Handlers struct {
	registry *session.Registry
	opener   *session.Opener
	idemp    *idempotency.Idempotency
	reports  ReportSource
	audit    AuditSource
	checks   map[string]Check
	logger   observability.Logger
}

// Backends holds the optional read sides; nil fields disable their routes.
type Backends struct {
	Reports ReportSource
	Audit   AuditSource
	Checks  map[string]Check
}

func NewHandlers(registry *session.Registry, opener *session.Opener, idemp *idempotency.Idempotency, backends Backends, logger observability.Logger) *Handlers {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Handlers{
		registry: registry,
		opener:   opener,
		idemp:    idemp,
		reports:  backends.Reports,
		audit:    backends.Audit,
		checks:   backends.Checks,
		logger:   logger,
	}
}

func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := writeError(w, err)
	log := loggerFrom(r.Context(), h.logger).WithError(err).WithField("kind", domain.KindOf(err))
	if status >= http.StatusInternalServerError {
		log.Error("request failed")
		return
	}
	log.Debug("request rejected")
}

func (h *Handlers) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	s, err := h.registry.Get(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return nil, false
	}
	return s, true
}

func decode(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.Mark(errors.Wrap(err, "decode request body"), domain.ErrValidation)
	}
	return nil
}

func (h *Handlers) OpenSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ShowtimeID string `json:"showtime_id"`
	}
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if strings.TrimSpace(req.ShowtimeID) == "" {
		h.fail(w, r, errors.Wrap(domain.ErrValidation, "showtime_id is required"))
		return
	}
	s, err := h.opener.Open(r.Context(), req.ShowtimeID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.View())
}

func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.View())
}

func (h *Handlers) CloseSession(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.Remove(chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) ToggleSeat(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	seatID := chi.URLParam(r, "seatId")
	status, err := s.ToggleSeat(seatID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"seat_id":  seatID,
		"status":   status,
		"selected": s.Ledger().SeatIDs(),
	})
}

func (h *Handlers) ResetSelection(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	s.Reset()
	writeJSON(w, http.StatusOK, s.View())
}

type discountDTO struct {
	Amount    int64  `json:"amount"`
	Reference string `json:"reference"`
}

func (d discountDTO) toDomain() domain.Discount {
	return domain.Discount{Amount: d.Amount, Reference: d.Reference}
}

type quoteDTO struct {
	Subtotal  int64  `json:"subtotal"`
	Discount  int64  `json:"discount"`
	Total     int64  `json:"total"`
	Reference string `json:"reference,omitempty"`
	Seats     int    `json:"seats"`
}

func toQuoteDTO(q domain.PriceQuote) quoteDTO {
	return quoteDTO{Subtotal: q.Subtotal, Discount: q.Discount, Total: q.Total, Reference: q.Reference, Seats: q.Seats}
}

func (h *Handlers) Quote(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req discountDTO
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	q, err := s.Quote(req.toDomain())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toQuoteDTO(q))
}

type submitRequest struct {
	Customer struct {
		Name  string `json:"name"`
		Phone string `json:"phone"`
	} `json:"customer"`
	Payment struct {
		Method        string `json:"method"`
		TransactionID string `json:"transaction_id"`
		BankName      string `json:"bank_name"`
	} `json:"payment"`
	Discount discountDTO `json:"discount"`
}

type bookingDTO struct {
	BookingID string `json:"booking_id"`
	SeatID    string `json:"seat_id"`
}

// SubmitBooking is replay-safe: a repeated Idempotency-Key with the same
// body returns the first response without calling the booking API again, as
// long as the session's selection is still what the first call left behind.
func (h *Handlers) SubmitBooking(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		h.fail(w, r, errors.Mark(err, domain.ErrValidation))
		return
	}
	key := r.Header.Get("Idempotency-Key")
	fp := submitFingerprint(r, body, s.Ledger())

	if h.idemp != nil {
		replay, err := h.idemp.Begin(r.Context(), key, fp)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		if replay != nil {
			w.Header().Set("Idempotent-Replayed", "true")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(replay.Status)
			_, _ = w.Write(replay.Result)
			return
		}
	}

	status, payload, subErr := h.submit(r, s, body)
	data, _ := json.Marshal(payload)

	if h.idemp != nil {
		// Keep the outcome even if the client went away.
		ctx := context.WithoutCancel(r.Context())
		if status < http.StatusInternalServerError && !errors.Is(subErr, domain.ErrSessionBusy) {
			// A success clears the selection; a rejection keeps it.
			done := submitFingerprint(r, body, s.Ledger())
			if err := h.idemp.Complete(ctx, key, done, idempotency.Response{Status: status, Result: data}); err != nil {
				loggerFrom(r.Context(), h.logger).WithError(err).Warn("failed to store idempotent response")
			}
		} else if err := h.idemp.Abort(ctx, key); err != nil {
			loggerFrom(r.Context(), h.logger).WithError(err).Warn("failed to release idempotency key")
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(data, '\n'))
}

// submitFingerprint covers the request and the selection it books, which
// lives in the session rather than the body.
func submitFingerprint(r *http.Request, body []byte, ledger domain.SelectionLedger) string {
	seats := ledger.SeatIDs()
	parts := append([]string{r.Method, r.URL.Path, string(body), strconv.Itoa(len(seats))}, seats...)
	return idempotency.Fingerprint(parts...)
}

func (h *Handlers) submit(r *http.Request, s *session.Session, body []byte) (int, interface{}, error) {
	var req submitRequest
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		err = errors.Mark(errors.Wrap(err, "decode request body"), domain.ErrValidation)
		return http.StatusBadRequest, errorOf(err), err
	}

	records, err := s.SubmitBooking(r.Context(),
		domain.CustomerInfo{Name: req.Customer.Name, Phone: req.Customer.Phone},
		domain.PaymentInfo{
			Method:        domain.PaymentMethod(req.Payment.Method),
			TransactionID: req.Payment.TransactionID,
			BankName:      req.Payment.BankName,
		},
		req.Discount.toDomain(),
	)
	if err != nil {
		status := statusOf(err)
		log := loggerFrom(r.Context(), h.logger).WithError(err).WithField("kind", domain.KindOf(err))
		if status >= http.StatusInternalServerError {
			log.Error("booking submit failed")
		} else {
			log.Debug("booking submit rejected")
		}
		return status, errorOf(err), err
	}

	out := make([]bookingDTO, 0, len(records))
	for _, rec := range records {
		out = append(out, bookingDTO{BookingID: rec.BookingID, SeatID: rec.SeatID})
	}
	return http.StatusCreated, map[string]interface{}{
		"bookings": out,
		"session":  s.View(),
	}, nil
}

func (h *Handlers) CancelBooking(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	cancelledBy := r.URL.Query().Get("cancelled_by")
	if cancelledBy == "" && r.ContentLength > 0 {
		var req struct {
			CancelledBy string `json:"cancelled_by"`
		}
		if err := decode(r, &req); err != nil {
			h.fail(w, r, err)
			return
		}
		cancelledBy = req.CancelledBy
	}
	if cancelledBy == "" {
		cancelledBy = subjectFrom(r.Context())
	}

	if err := s.CancelBooking(r.Context(), chi.URLParam(r, "bookingId"), cancelledBy); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.View())
}

func (h *Handlers) Refresh(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	dropped, err := s.RefreshFromAPI(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if dropped == nil {
		dropped = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"dropped": dropped,
		"session": s.View(),
	})
}

// RevenueReport aggregates mirrored bookings. from and to accept RFC 3339
// timestamps or dates; a date in to includes that whole day.
func (h *Handlers) RevenueReport(w http.ResponseWriter, r *http.Request) {
	if h.reports == nil {
		unavailable(w, "booking mirror is not configured")
		return
	}
	q := r.URL.Query()
	loc := time.UTC
	if tz := q.Get("tz"); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			h.fail(w, r, errors.Wrapf(domain.ErrValidation, "unknown tz %q", tz))
			return
		}
		loc = l
	}
	from, err := parseBound(q.Get("from"), loc, false)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	to, err := parseBound(q.Get("to"), loc, true)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !from.IsZero() && !to.IsZero() && !from.Before(to) {
		h.fail(w, r, errors.Wrap(domain.ErrValidation, "from must be before to"))
		return
	}

	bookings, err := h.reports.ListBookings(r.Context(), crdb.BookingFilter{ShowtimeID: q.Get("showtime"), From: from, To: to})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.Summarize(bookings, loc))
}

type mirroredBooking struct {
	BookingID     string               `json:"booking_id"`
	ShowtimeID    string               `json:"showtime_id"`
	SeatID        string               `json:"seat_id"`
	SeatLabel     string               `json:"seat_label"`
	CustomerName  string               `json:"customer_name"`
	CustomerPhone string               `json:"customer_phone"`
	PaymentMethod domain.PaymentMethod `json:"payment_method"`
	TransactionID string               `json:"transaction_id,omitempty"`
	BankName      string               `json:"bank_name,omitempty"`
	Reference     string               `json:"reference,omitempty"`
	UnitPrice     int64                `json:"unit_price"`
	Amount        int64                `json:"amount"`
	Cancelled     bool                 `json:"cancelled"`
	CancelledBy   string               `json:"cancelled_by,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
}

// GetBooking reads one booking from the mirror, including the payment
// details the booking API does not return.
func (h *Handlers) GetBooking(w http.ResponseWriter, r *http.Request) {
	if h.reports == nil {
		unavailable(w, "booking mirror is not configured")
		return
	}
	b, err := h.reports.GetBooking(r.Context(), chi.URLParam(r, "bookingId"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mirroredBooking(*b))
}

func (h *Handlers) AuditTrail(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		unavailable(w, "audit log is not configured")
		return
	}
	showtimeID := r.URL.Query().Get("showtime")
	if showtimeID == "" {
		h.fail(w, r, errors.Wrap(domain.ErrValidation, "showtime is required"))
		return
	}
	limit := int64(50)
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 || n > 500 {
			h.fail(w, r, errors.Wrapf(domain.ErrValidation, "bad limit %q", v))
			return
		}
		limit = n
	}
	logs, err := h.audit.ForShowtime(r.Context(), showtimeID, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if logs == nil {
		logs = []mongoadapter.AuditLog{}
	}
	writeJSON(w, http.StatusOK, logs)
}

func unavailable(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusServiceUnavailable, errorBody{Kind: "unavailable", Message: msg})
}

func parseBound(v string, loc *time.Location, end bool) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	d, err := time.ParseInLocation(time.DateOnly, v, loc)
	if err != nil {
		return time.Time{}, errors.Wrapf(domain.ErrValidation, "bad time %q", v)
	}
	if end {
		d = d.AddDate(0, 0, 1)
	}
	return d, nil
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "sessions": h.registry.Len()})
}

func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	failed := map[string]string{}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{"status": "unavailable", "failed": failed})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
