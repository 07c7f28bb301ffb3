package bookingapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/seatmap-booking/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(h)
	t.Cleanup(server.Close)
	c := NewClient(Options{
		BaseURL:       server.URL,
		Token:         "secret",
		DefaultPrices: domain.PriceTable{Standard: 400, Premium: 700},
		HTTPClient:    server.Client(),
	})
	c.retryBase = time.Millisecond
	c.retryCap = 2 * time.Millisecond
	return c, server
}

func TestFetchShowtime_MapsLayoutAndPrices(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/showtimes/st1", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{
			"_id": "st1",
			"ticketPrices": {"VIP": 900},
			"room": {"_id": "r1", "rows": 2, "columns": 2, "seats": [
				{"_id": "s11", "seatNumber": "A1", "row": 1, "column": 1, "type": "VIP"},
				{"_id": "s12", "seatNumber": "A2", "row": 1, "column": 2, "type": "Normal"},
				{"_id": "s23", "seatNumber": "B3", "row": 2, "column": 3, "type": "Disabled"}
			]}
		}`))
	})

	st, err := c.FetchShowtime(context.Background(), "st1")
	require.NoError(t, err)
	assert.Equal(t, "r1", st.RoomID)
	assert.Equal(t, domain.PriceTable{Standard: 400, Premium: 900}, st.Prices)
	assert.Equal(t, 3, st.Layout.Columns, "grid grows to cover seat 2,3")

	g, err := domain.BuildGrid(st.Layout, nil)
	require.NoError(t, err)
	s, ok := g.Seat("s11")
	require.True(t, ok)
	assert.Equal(t, domain.CategoryPremium, s.Category)
	assert.Equal(t, "A1", s.Label)
	d, _ := g.Seat("s23")
	assert.Equal(t, domain.CategoryDisabled, d.Category)
	filler, ok := g.Seat("2,1")
	require.True(t, ok)
	assert.Equal(t, domain.CategoryStandard, filler.Category)
}

func TestFetchRoomLayout(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/rooms/r1", r.URL.Path)
		_, _ = w.Write([]byte(`{"_id":"r1","rows":5,"columns":5,"seats":[]}`))
	})
	layout, err := c.FetchRoomLayout(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, 5, layout.Rows)
	assert.Equal(t, 5, layout.Columns)
	assert.Equal(t, "r1", layout.RoomID)
}

func TestFetchBookedSeats_RetriesTransientErrors(t *testing.T) {
	var attempts int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		assert.Equal(t, "/api/showtimes/st1/booked-seats", r.URL.Path)
		_, _ = w.Write([]byte(`{"bookings":[{"_id":"b1","seat":"s11"}]}`))
	})

	recs, err := c.FetchBookedSeats(context.Background(), "st1")
	require.NoError(t, err)
	assert.Equal(t, []domain.BookingRecord{{BookingID: "b1", SeatID: "s11", ShowtimeID: "st1"}}, recs)
	assert.EqualValues(t, 3, atomic.LoadInt32(&attempts))
}

func TestFetchBookedSeats_NoRetryOnClientError(t *testing.T) {
	var attempts int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"Showtime not found"}`))
	})

	_, err := c.FetchBookedSeats(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.Equal(t, domain.ReasonNotFound, domain.ReasonOf(err))
	assert.Contains(t, err.Error(), "Showtime not found")
	assert.EqualValues(t, 1, atomic.LoadInt32(&attempts))
}

func TestCreateBooking_SendsOnceAndZipsIDs(t *testing.T) {
	var got createBookingDTO
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/bookings", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"bookingIds":["b1","b2"]}`))
	})

	recs, err := c.CreateBooking(context.Background(), domain.BookingRequest{
		ShowtimeID: "st1",
		RoomID:     "r1",
		SeatIDs:    []string{"s11", "s12"},
		Customer:   domain.CustomerInfo{Name: "Sara", Phone: "0300"},
		Payment:    domain.PaymentInfo{Method: domain.PaymentBank, TransactionID: "TX", BankName: "HBL"},
		Quote:      domain.PriceQuote{Subtotal: 1100, Discount: 200, Total: 900, Reference: "PROMO1"},
	})
	require.NoError(t, err)
	assert.Equal(t, []domain.BookingRecord{
		{BookingID: "b1", SeatID: "s11", ShowtimeID: "st1"},
		{BookingID: "b2", SeatID: "s12", ShowtimeID: "st1"},
	}, recs)
	assert.Equal(t, []string{"s11", "s12"}, got.Seat)
	assert.EqualValues(t, 900, got.TicketPrice)
	assert.Equal(t, "PROMO1", got.DiscountReference)
	assert.Equal(t, "HBL", got.BankName)
}

func TestCreateBooking_NeverRetries(t *testing.T) {
	var attempts int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.CreateBooking(context.Background(), domain.BookingRequest{ShowtimeID: "st1", SeatIDs: []string{"a"}})
	require.Error(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&attempts))
	assert.Equal(t, domain.ReasonServer, domain.ReasonOf(err))
}

func TestCreateBooking_SeatTaken(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"message":"Seat 1,1 already booked"}`))
	})

	_, err := c.CreateBooking(context.Background(), domain.BookingRequest{ShowtimeID: "st1", SeatIDs: []string{"1,1"}})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, domain.ReasonSeatTaken, apiErr.Reason)
	assert.Equal(t, "Seat 1,1 already booked", apiErr.Message)
}

func TestCreateBooking_MismatchedIDs(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"bookingIds":["only-one"]}`))
	})
	_, err := c.CreateBooking(context.Background(), domain.BookingRequest{SeatIDs: []string{"a", "b"}})
	assert.Equal(t, domain.ReasonServer, domain.ReasonOf(err))
}

func TestCancelBooking(t *testing.T) {
	var attempts int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/api/bookings/cancel/b1", r.URL.Path)
		assert.Equal(t, "admin", r.URL.Query().Get("cancelledBy"))
		w.WriteHeader(http.StatusOK)
	})
	require.NoError(t, c.CancelBooking(context.Background(), "b1", "admin"))

	failing, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	err := failing.CancelBooking(context.Background(), "b1", "admin")
	assert.Equal(t, domain.ReasonServer, domain.ReasonOf(err))
}

func TestNetworkErrorReason(t *testing.T) {
	c, server := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
	server.Close()

	err := c.CancelBooking(context.Background(), "b1", "admin")
	assert.Equal(t, domain.ReasonNetwork, domain.ReasonOf(err))
}

func TestRetryDelay(t *testing.T) {
	c := NewClient(Options{})
	assert.Equal(t, defaultRetryBase, c.retryDelay(1))
	assert.Equal(t, 2*defaultRetryBase, c.retryDelay(2))
	assert.Equal(t, defaultRetryCap, c.retryDelay(10))
}
