package http_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/golang-jwt/jwt/v5"
	"github.com/robertarktes/seatmap-booking/internal/adapters/crdb"
	mongoadapter "github.com/robertarktes/seatmap-booking/internal/adapters/mongo"
	"github.com/robertarktes/seatmap-booking/internal/domain"
	api "github.com/robertarktes/seatmap-booking/internal/http"
	"github.com/robertarktes/seatmap-booking/internal/idempotency"
	"github.com/robertarktes/seatmap-booking/internal/rateLimit"
	"github.com/robertarktes/seatmap-booking/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type remote struct {
	mu        sync.Mutex
	booked    []domain.BookingRecord
	creates   int
	cancelled []string
	cancelBy  []string
	createErr error
}

type remoteErr struct{ reason domain.FailureReason }

func (e remoteErr) Error() string                       { return "remote: " + string(e.reason) }
func (e remoteErr) FailureReason() domain.FailureReason { return e.reason }

func (r *remote) FetchShowtime(_ context.Context, id string) (domain.Showtime, error) {
	if id == "missing" {
		return domain.Showtime{}, remoteErr{reason: domain.ReasonNotFound}
	}
	return domain.Showtime{
		ID:     id,
		RoomID: "room-1",
		Layout: domain.RoomLayout{
			Rows:      2,
			Columns:   3,
			SeatTypes: map[domain.Coord]domain.Category{
				{Row: 1, Column: 3}: domain.CategoryPremium,
				{Row: 2, Column: 2}: domain.CategoryDisabled,
			},
		},
		Prices: domain.PriceTable{Standard: 400, Premium: 700},
	}, nil
}

func (r *remote) FetchRoomLayout(context.Context, string) (domain.RoomLayout, error) {
	return domain.RoomLayout{}, remoteErr{reason: domain.ReasonNotFound}
}

func (r *remote) FetchBookedSeats(context.Context, string) ([]domain.BookingRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.BookingRecord(nil), r.booked...), nil
}

func (r *remote) CreateBooking(_ context.Context, req domain.BookingRequest) ([]domain.BookingRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.creates++
	if r.createErr != nil {
		return nil, r.createErr
	}
	var out []domain.BookingRecord
	for _, id := range req.SeatIDs {
		rec := domain.BookingRecord{BookingID: "bk-" + strconv.Itoa(len(r.booked)+1), SeatID: id, ShowtimeID: req.ShowtimeID}
		r.booked = append(r.booked, rec)
		out = append(out, rec)
	}
	return out, nil
}

func (r *remote) CancelBooking(_ context.Context, bookingID, cancelledBy string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelled = append(r.cancelled, bookingID)
	r.cancelBy = append(r.cancelBy, cancelledBy)
	return nil
}

func (r *remote) calls() (creates int, cancelled, cancelBy []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.creates, append([]string(nil), r.cancelled...), append([]string(nil), r.cancelBy...)
}

func (r *remote) failCreates(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.createErr = err
}

type reports struct {
	mu       sync.Mutex
	filter   crdb.BookingFilter
	bookings []domain.Booking
}

func (r *reports) GetBooking(_ context.Context, id string) (*domain.Booking, error) {
	for _, b := range r.bookings {
		if b.BookingID == id {
			b := b
			return &b, nil
		}
	}
	return nil, errors.Wrapf(domain.ErrNotFound, "booking %q", id)
}

type audit struct{ logs []mongoadapter.AuditLog }

func (a *audit) ForShowtime(_ context.Context, showtimeID string, limit int64) ([]mongoadapter.AuditLog, error) {
	var out []mongoadapter.AuditLog
	for _, l := range a.logs {
		if l.Data["showtime_id"] == showtimeID && int64(len(out)) < limit {
			out = append(out, l)
		}
	}
	return out, nil
}

func (r *reports) ListBookings(_ context.Context, f crdb.BookingFilter) ([]domain.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.filter = f
	return r.bookings, nil
}

type fixture struct {
	srv    *httptest.Server
	remote *remote
}

func newFixture(t *testing.T, src api.ReportSource, opts api.RouterOptions) *fixture {
	t.Helper()
	return newFixtureWith(t, api.Backends{Reports: src}, opts)
}

func newFixtureWith(t *testing.T, backends api.Backends, opts api.RouterOptions) *fixture {
	t.Helper()
	rem := &remote{}
	reg := session.NewRegistry(time.Minute, nil)
	idemp := idempotency.NewIdempotency(idempotency.NewMemoryBackend(), time.Hour)
	if backends.Checks == nil {
		backends.Checks = map[string]api.Check{"noop": func(context.Context) error { return nil }}
	}
	h := api.NewHandlers(reg, session.NewOpener(rem, reg, nil, nil, nil), idemp, backends, nil)
	srv := httptest.NewServer(api.SetupRouter(h, nil, opts))
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, remote: rem}
}

func (f *fixture) do(t *testing.T, method, path, body string, headers ...string) (*http.Response, map[string]interface{}) {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]interface{}
	if resp.StatusCode != http.StatusNoContent {
		_ = json.NewDecoder(resp.Body).Decode(&out)
	}
	return resp, out
}

func (f *fixture) open(t *testing.T) string {
	t.Helper()
	resp, body := f.do(t, http.MethodPost, "/v1/sessions", `{"showtime_id":"st-1"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return body["id"].(string)
}

const bookingBody = `{"customer":{"name":"Ann","phone":"555"},"payment":{"method":"Cash"}}`

func TestOpenAndToggle(t *testing.T) {
	f := newFixture(t, nil, api.RouterOptions{})
	id := f.open(t)

	resp, body := f.do(t, http.MethodPost, "/v1/sessions/"+id+"/seats/1,3/toggle", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Selected", body["status"])

	resp, body = f.do(t, http.MethodPost, "/v1/sessions/"+id+"/quote", `{"amount":200,"reference":"promo"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 700, body["subtotal"])
	assert.EqualValues(t, 500, body["total"])

	resp, body = f.do(t, http.MethodPost, "/v1/sessions/"+id+"/quote", `{"amount":900}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "invalid_discount", body["kind"])

	resp, body = f.do(t, http.MethodDelete, "/v1/sessions/"+id+"/seats", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, body["selected"])
}

func TestOpenSession_Errors(t *testing.T) {
	f := newFixture(t, nil, api.RouterOptions{})

	resp, body := f.do(t, http.MethodPost, "/v1/sessions", `{"showtime_id":"missing"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", body["kind"])

	resp, _ = f.do(t, http.MethodPost, "/v1/sessions", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = f.do(t, http.MethodGet, "/v1/sessions/nope", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestToggleSeat_Rejections(t *testing.T) {
	f := newFixture(t, nil, api.RouterOptions{})
	id := f.open(t)

	resp, body := f.do(t, http.MethodPost, "/v1/sessions/"+id+"/seats/2,2/toggle", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "seat_not_selectable", body["kind"])

	resp, body = f.do(t, http.MethodPost, "/v1/sessions/"+id+"/seats/9,9/toggle", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", body["kind"])
}

func TestSubmitBooking_RequiresIdempotencyKey(t *testing.T) {
	f := newFixture(t, nil, api.RouterOptions{})
	id := f.open(t)

	resp, _ := f.do(t, http.MethodPost, "/v1/sessions/"+id+"/bookings", bookingBody)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	creates, _, _ := f.remote.calls()
	assert.Zero(t, creates)
}

func TestSubmitBooking_Replay(t *testing.T) {
	f := newFixture(t, nil, api.RouterOptions{})
	id := f.open(t)
	f.do(t, http.MethodPost, "/v1/sessions/"+id+"/seats/1,1/toggle", "")
	key := "key-0123456789abcdef"

	resp, body := f.do(t, http.MethodPost, "/v1/sessions/"+id+"/bookings", bookingBody, "Idempotency-Key", key)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	bookings := body["bookings"].([]interface{})
	require.Len(t, bookings, 1)
	assert.Equal(t, "1,1", bookings[0].(map[string]interface{})["seat_id"])

	resp, again := f.do(t, http.MethodPost, "/v1/sessions/"+id+"/bookings", bookingBody, "Idempotency-Key", key)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "true", resp.Header.Get("Idempotent-Replayed"))
	assert.Equal(t, body["bookings"], again["bookings"])
	creates, _, _ := f.remote.calls()
	assert.Equal(t, 1, creates)

	resp, body = f.do(t, http.MethodPost, "/v1/sessions/"+id+"/bookings", `{"customer":{"name":"Bob","phone":"1"},"payment":{"method":"Cash"}}`, "Idempotency-Key", key)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "validation_error", body["kind"])
}

func TestSubmitBooking_ReplayRejectsChangedSelection(t *testing.T) {
	f := newFixture(t, nil, api.RouterOptions{})
	id := f.open(t)
	f.do(t, http.MethodPost, "/v1/sessions/"+id+"/seats/1,1/toggle", "")
	key := "key-aaaabbbbccccdddd"

	resp, _ := f.do(t, http.MethodPost, "/v1/sessions/"+id+"/bookings", bookingBody, "Idempotency-Key", key)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	f.do(t, http.MethodPost, "/v1/sessions/"+id+"/seats/1,2/toggle", "")
	resp, body := f.do(t, http.MethodPost, "/v1/sessions/"+id+"/bookings", bookingBody, "Idempotency-Key", key)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "validation_error", body["kind"])
	assert.Empty(t, resp.Header.Get("Idempotent-Replayed"))
	creates, _, _ := f.remote.calls()
	assert.Equal(t, 1, creates)

	_, view := f.do(t, http.MethodGet, "/v1/sessions/"+id, "")
	assert.Equal(t, []interface{}{"1,2"}, view["selected"])

	resp, body = f.do(t, http.MethodPost, "/v1/sessions/"+id+"/bookings", bookingBody, "Idempotency-Key", "key-eeeeffff00001111")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	bookings := body["bookings"].([]interface{})
	require.Len(t, bookings, 1)
	assert.Equal(t, "1,2", bookings[0].(map[string]interface{})["seat_id"])
}

func TestSubmitBooking_StoredRejectionNotReplayedAfterSelectionChange(t *testing.T) {
	f := newFixture(t, nil, api.RouterOptions{})
	id := f.open(t)
	f.do(t, http.MethodPost, "/v1/sessions/"+id+"/seats/1,1/toggle", "")
	f.do(t, http.MethodPost, "/v1/sessions/"+id+"/seats/1,2/toggle", "")
	f.remote.failCreates(remoteErr{reason: domain.ReasonSeatTaken})
	key := "key-2222333344445555"

	resp, body := f.do(t, http.MethodPost, "/v1/sessions/"+id+"/bookings", bookingBody, "Idempotency-Key", key)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "seat_taken", body["reason"])

	resp, _ = f.do(t, http.MethodPost, "/v1/sessions/"+id+"/bookings", bookingBody, "Idempotency-Key", key)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "true", resp.Header.Get("Idempotent-Replayed"))

	f.do(t, http.MethodPost, "/v1/sessions/"+id+"/seats/1,1/toggle", "")
	resp, body = f.do(t, http.MethodPost, "/v1/sessions/"+id+"/bookings", bookingBody, "Idempotency-Key", key)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "validation_error", body["kind"])
	creates, _, _ := f.remote.calls()
	assert.Equal(t, 1, creates)
}

func TestSubmitBooking_RemoteFailureReleasesKey(t *testing.T) {
	f := newFixture(t, nil, api.RouterOptions{})
	id := f.open(t)
	f.do(t, http.MethodPost, "/v1/sessions/"+id+"/seats/1,2/toggle", "")
	f.remote.failCreates(remoteErr{reason: domain.ReasonServer})
	key := "key-fedcba9876543210"

	resp, body := f.do(t, http.MethodPost, "/v1/sessions/"+id+"/bookings", bookingBody, "Idempotency-Key", key)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, "booking_failed", body["kind"])
	assert.Equal(t, "server", body["reason"])

	f.remote.failCreates(nil)
	// The failed submit kept the selection.
	resp, _ = f.do(t, http.MethodPost, "/v1/sessions/"+id+"/bookings", bookingBody, "Idempotency-Key", key)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	creates, _, _ := f.remote.calls()
	assert.Equal(t, 2, creates)
}

func TestSubmitBooking_Validation(t *testing.T) {
	f := newFixture(t, nil, api.RouterOptions{})
	id := f.open(t)
	f.do(t, http.MethodPost, "/v1/sessions/"+id+"/seats/1,1/toggle", "")

	resp, body := f.do(t, http.MethodPost, "/v1/sessions/"+id+"/bookings",
		`{"customer":{"name":"Ann","phone":"555"},"payment":{"method":"Bank","transaction_id":"t"}}`,
		"Idempotency-Key", "key-validation-000001")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "validation_error", body["kind"])
	creates, _, _ := f.remote.calls()
	assert.Zero(t, creates)
}

func TestCancelBooking_UsesTokenSubject(t *testing.T) {
	secret := "s3cret"
	f := newFixture(t, nil, api.RouterOptions{JWTSecret: secret})
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "agent-7"}).SignedString([]byte(secret))
	require.NoError(t, err)
	auth := "Bearer " + tok

	resp, _ := f.do(t, http.MethodPost, "/v1/sessions", `{"showtime_id":"st-1"}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body := f.do(t, http.MethodPost, "/v1/sessions", `{"showtime_id":"st-1"}`, "Authorization", auth)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id := body["id"].(string)
	f.do(t, http.MethodPost, "/v1/sessions/"+id+"/seats/1,1/toggle", "", "Authorization", auth)
	resp, body = f.do(t, http.MethodPost, "/v1/sessions/"+id+"/bookings", bookingBody, "Authorization", auth, "Idempotency-Key", "key-cancel-00000001")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	bookingID := body["bookings"].([]interface{})[0].(map[string]interface{})["booking_id"].(string)

	resp, _ = f.do(t, http.MethodDelete, "/v1/sessions/"+id+"/bookings/"+bookingID, "", "Authorization", auth)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_, cancelled, cancelBy := f.remote.calls()
	assert.Equal(t, []string{bookingID}, cancelled)
	assert.Equal(t, []string{"agent-7"}, cancelBy)

	resp, body = f.do(t, http.MethodDelete, "/v1/sessions/"+id+"/bookings/unknown", "", "Authorization", auth)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "cancellation_failed", body["kind"])
}

func TestRefreshAndClose(t *testing.T) {
	f := newFixture(t, nil, api.RouterOptions{})
	id := f.open(t)
	f.do(t, http.MethodPost, "/v1/sessions/"+id+"/seats/2,1/toggle", "")
	f.remote.mu.Lock()
	f.remote.booked = append(f.remote.booked, domain.BookingRecord{BookingID: "other", SeatID: "2,1", ShowtimeID: "st-1"})
	f.remote.mu.Unlock()

	resp, body := f.do(t, http.MethodPost, "/v1/sessions/"+id+"/refresh", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []interface{}{"2,1"}, body["dropped"])

	resp, _ = f.do(t, http.MethodDelete, "/v1/sessions/"+id, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = f.do(t, http.MethodGet, "/v1/sessions/"+id, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRevenueReport(t *testing.T) {
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	src := &reports{bookings: []domain.Booking{
		{BookingID: "b1", PaymentMethod: domain.PaymentCash, Amount: 400, CreatedAt: at},
		{BookingID: "b2", PaymentMethod: domain.PaymentCard, Amount: 700, CreatedAt: at, Cancelled: true},
	}}
	f := newFixture(t, src, api.RouterOptions{})

	resp, body := f.do(t, http.MethodGet, "/v1/reports/revenue?showtime=st-1&from=2025-03-01&to=2025-03-01", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 400, body["total"])
	assert.EqualValues(t, 1, body["cancelled"])
	src.mu.Lock()
	filter := src.filter
	src.mu.Unlock()
	assert.Equal(t, "st-1", filter.ShowtimeID)
	assert.Equal(t, 24*time.Hour, filter.To.Sub(filter.From))

	resp, _ = f.do(t, http.MethodGet, "/v1/reports/revenue?from=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetBooking(t *testing.T) {
	src := &reports{bookings: []domain.Booking{{BookingID: "b1", SeatID: "1,1", PaymentMethod: domain.PaymentBank, BankName: "ACME"}}}
	f := newFixture(t, src, api.RouterOptions{})

	resp, body := f.do(t, http.MethodGet, "/v1/bookings/b1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ACME", body["bank_name"])
	assert.Equal(t, "Bank", body["payment_method"])

	resp, _ = f.do(t, http.MethodGet, "/v1/bookings/b9", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAuditTrail(t *testing.T) {
	src := &audit{logs: []mongoadapter.AuditLog{
		{ID: "a1", Action: "booking.confirmed", Data: map[string]interface{}{"showtime_id": "st-1"}},
		{ID: "a2", Action: "booking.failed", Data: map[string]interface{}{"showtime_id": "st-2"}},
	}}
	f := newFixtureWith(t, api.Backends{Audit: src}, api.RouterOptions{})

	resp, err := http.Get(f.srv.URL + "/v1/reports/audit?showtime=st-1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var logs []map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&logs))
	require.Len(t, logs, 1)
	assert.Equal(t, "a1", logs[0]["id"])

	r, _ := f.do(t, http.MethodGet, "/v1/reports/audit", "")
	assert.Equal(t, http.StatusBadRequest, r.StatusCode)
	r, _ = f.do(t, http.MethodGet, "/v1/reports/audit?showtime=st-1&limit=0", "")
	assert.Equal(t, http.StatusBadRequest, r.StatusCode)
}

func TestRevenueReport_NoMirror(t *testing.T) {
	f := newFixture(t, nil, api.RouterOptions{})
	resp, _ := f.do(t, http.MethodGet, "/v1/reports/revenue", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

type counter struct{ n map[string]int64 }

func (c *counter) IncrWindow(_ context.Context, key string, _ time.Duration) (int64, error) {
	c.n[key]++
	return c.n[key], nil
}

func TestRateLimit(t *testing.T) {
	rl := rateLimit.NewRateLimiter(&counter{n: map[string]int64{}}, nil)
	f := newFixture(t, nil, api.RouterOptions{RateLimiter: rl, RateRule: rateLimit.Rule{Rate: 1, Period: time.Minute}})

	f.open(t)
	resp, _ := f.do(t, http.MethodPost, "/v1/sessions", `{"showtime_id":"st-1"}`)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	resp, _ = f.do(t, http.MethodGet, "/v1/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestReadyz(t *testing.T) {
	f := newFixture(t, nil, api.RouterOptions{})
	resp, body := f.do(t, http.MethodGet, "/v1/readyz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ready", body["status"])
}
