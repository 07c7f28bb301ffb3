package bookingapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/seatmap-booking/internal/domain"
	"github.com/robertarktes/seatmap-booking/internal/observability"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	defaultMaxAttempts = 3
	defaultRetryBase   = 200 * time.Millisecond
	defaultRetryCap    = 1200 * time.Millisecond
)

// Client talks to the remote booking API. Reads are retried on transient
// failures; createBooking and cancelBooking are sent exactly once.
type Client struct {
	httpClient    *http.Client
	baseURL       string
	token         string
	defaultPrices domain.PriceTable
	maxAttempts   int
	retryBase     time.Duration
	retryCap      time.Duration
	logger        observability.Logger
}

type Options struct {
	BaseURL string
	// Token is sent as a bearer token when set.
	Token string
	// DefaultPrices apply when a showtime carries no ticket prices.
	DefaultPrices domain.PriceTable
	HTTPClient    *http.Client
	Timeout       time.Duration
	Logger        observability.Logger
}

func NewClient(opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		hc = &http.Client{Timeout: timeout, Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	logger := opts.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Client{
		httpClient:    hc,
		baseURL:       strings.TrimRight(opts.BaseURL, "/"),
		token:         opts.Token,
		defaultPrices: opts.DefaultPrices,
		maxAttempts:   defaultMaxAttempts,
		retryBase:     defaultRetryBase,
		retryCap:      defaultRetryCap,
		logger:        logger.WithField("component", "bookingapi"),
	}
}

// APIError is returned for any failed call. StatusCode is 0 when no response
// was received.
type APIError struct {
	Op         string
	StatusCode int
	Endpoint   string
	Message    string
	Reason     domain.FailureReason
}

func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("booking api %s: %s", e.Op, e.Message)
	}
	return fmt.Sprintf("booking api %s: %d: %s", e.Op, e.StatusCode, e.Message)
}

func (e *APIError) FailureReason() domain.FailureReason { return e.Reason }

// IsNotFound reports whether err is a 404 from the booking API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

func classify(status int) domain.FailureReason {
	switch {
	case status == http.StatusConflict:
		return domain.ReasonSeatTaken
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return domain.ReasonValidation
	case status == http.StatusNotFound:
		return domain.ReasonNotFound
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return domain.ReasonUnauthorized
	default:
		return domain.ReasonServer
	}
}

// FetchShowtime loads a showtime with its room layout and ticket prices.
func (c *Client) FetchShowtime(ctx context.Context, showtimeID string) (domain.Showtime, error) {
	if showtimeID == "" {
		return domain.Showtime{}, errors.New("showtime id is required")
	}
	var dto showtimeDTO
	if err := c.do(ctx, "fetch_showtime", http.MethodGet, "/api/showtimes/"+url.PathEscape(showtimeID), nil, &dto); err != nil {
		return domain.Showtime{}, err
	}
	return dto.toDomain(c.defaultPrices), nil
}

// FetchRoomLayout loads a room's grid and seat types.
func (c *Client) FetchRoomLayout(ctx context.Context, roomID string) (domain.RoomLayout, error) {
	if roomID == "" {
		return domain.RoomLayout{}, errors.New("room id is required")
	}
	var dto roomDTO
	if err := c.do(ctx, "fetch_room", http.MethodGet, "/api/rooms/"+url.PathEscape(roomID), nil, &dto); err != nil {
		return domain.RoomLayout{}, err
	}
	return dto.toLayout(), nil
}

func (c *Client) FetchBookedSeats(ctx context.Context, showtimeID string) ([]domain.BookingRecord, error) {
	if showtimeID == "" {
		return nil, errors.New("showtime id is required")
	}
	var dto bookedSeatsDTO
	path := "/api/showtimes/" + url.PathEscape(showtimeID) + "/booked-seats"
	if err := c.do(ctx, "fetch_booked_seats", http.MethodGet, path, nil, &dto); err != nil {
		return nil, err
	}
	out := make([]domain.BookingRecord, 0, len(dto.Bookings))
	for _, b := range dto.Bookings {
		out = append(out, domain.BookingRecord{BookingID: b.ID, SeatID: b.Seat, ShowtimeID: showtimeID})
	}
	return out, nil
}

// CreateBooking books req.SeatIDs. The API answers with booking ids in
// request order, which are zipped back onto the seats.
func (c *Client) CreateBooking(ctx context.Context, req domain.BookingRequest) ([]domain.BookingRecord, error) {
	body := createBookingDTO{
		ShowtimeID:        req.ShowtimeID,
		RoomID:            req.RoomID,
		Seat:              req.SeatIDs,
		CustomerName:      req.Customer.Name,
		CustomerPhone:     req.Customer.Phone,
		PaymentMethod:     string(req.Payment.Method),
		TransactionID:     req.Payment.TransactionID,
		BankName:          req.Payment.BankName,
		Subtotal:          req.Quote.Subtotal,
		Discount:          req.Quote.Discount,
		DiscountReference: req.Quote.Reference,
		TicketPrice:       req.Quote.Total,
	}
	var resp createBookingResponseDTO
	if err := c.do(ctx, "create_booking", http.MethodPost, "/api/bookings", body, &resp); err != nil {
		return nil, err
	}
	if len(resp.BookingIDs) != len(req.SeatIDs) {
		return nil, &APIError{
			Op:       "create_booking",
			Endpoint: c.baseURL + "/api/bookings",
			Message:  fmt.Sprintf("got %d booking ids for %d seats", len(resp.BookingIDs), len(req.SeatIDs)),
			Reason:   domain.ReasonServer,
		}
	}
	out := make([]domain.BookingRecord, len(req.SeatIDs))
	for i, seatID := range req.SeatIDs {
		out[i] = domain.BookingRecord{BookingID: resp.BookingIDs[i], SeatID: seatID, ShowtimeID: req.ShowtimeID}
	}
	return out, nil
}

func (c *Client) CancelBooking(ctx context.Context, bookingID, cancelledBy string) error {
	if bookingID == "" {
		return errors.New("booking id is required")
	}
	path := "/api/bookings/cancel/" + url.PathEscape(bookingID)
	if cancelledBy != "" {
		path += "?cancelledBy=" + url.QueryEscape(cancelledBy)
	}
	return c.do(ctx, "cancel_booking", http.MethodDelete, path, nil, nil)
}

func (c *Client) do(ctx context.Context, op, method, path string, in, out any) (err error) {
	endpoint := c.baseURL + path
	ctx, span := observability.Tracer().Start(ctx, "bookingapi."+op)
	span.SetAttributes(attribute.String("http.method", method), attribute.String("http.url", endpoint))
	start := time.Now()
	defer func() {
		observability.RemoteCallDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	var payload []byte
	if in != nil {
		if payload, err = json.Marshal(in); err != nil {
			return errors.Wrapf(err, "encode %s request", op)
		}
	}

	attempts := 1
	if method == http.MethodGet && c.maxAttempts > 1 {
		attempts = c.maxAttempts
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
		if err != nil {
			return errors.Wrapf(err, "create %s request", op)
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		res, err := c.httpClient.Do(req)
		if err != nil {
			if retryableNetworkError(err) && attempt < attempts {
				if waitErr := c.waitRetry(ctx, attempt); waitErr != nil {
					return waitErr
				}
				continue
			}
			return &APIError{Op: op, Endpoint: endpoint, Message: err.Error(), Reason: domain.ReasonNetwork}
		}

		if res.StatusCode < http.StatusOK || res.StatusCode >= http.StatusMultipleChoices {
			snippet, _ := io.ReadAll(io.LimitReader(res.Body, 8<<10))
			_ = res.Body.Close()
			apiErr := &APIError{
				Op:         op,
				StatusCode: res.StatusCode,
				Endpoint:   endpoint,
				Message:    errorMessage(snippet, res.Status),
				Reason:     classify(res.StatusCode),
			}
			if retryableStatus(res.StatusCode) && attempt < attempts {
				c.logger.WithFields(map[string]interface{}{"op": op, "status": res.StatusCode, "attempt": attempt}).Debug("retrying booking api read")
				if waitErr := c.waitRetry(ctx, attempt); waitErr != nil {
					return waitErr
				}
				continue
			}
			return apiErr
		}

		if out == nil {
			_, _ = io.Copy(io.Discard, res.Body)
			_ = res.Body.Close()
			return nil
		}
		err = json.NewDecoder(res.Body).Decode(out)
		_ = res.Body.Close()
		if err != nil && !errors.Is(err, io.EOF) {
			return &APIError{Op: op, StatusCode: res.StatusCode, Endpoint: endpoint, Message: "decode response: " + err.Error(), Reason: domain.ReasonServer}
		}
		return nil
	}
	return errors.Newf("booking api %s: failed after %d attempts", op, attempts)
}

func errorMessage(body []byte, status string) string {
	var msg struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(body, &msg) == nil {
		if msg.Message != "" {
			return msg.Message
		}
		if msg.Error != "" {
			return msg.Error
		}
	}
	if s := strings.TrimSpace(string(body)); s != "" {
		return s
	}
	return status
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

func retryableNetworkError(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

func (c *Client) waitRetry(ctx context.Context, attempt int) error {
	timer := time.NewTimer(c.retryDelay(attempt))
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Client) retryDelay(attempt int) time.Duration {
	delay := c.retryBase
	if delay <= 0 {
		delay = defaultRetryBase
	}
	limit := c.retryCap
	if limit <= 0 {
		limit = defaultRetryCap
	}
	for i := 1; i < attempt; i++ {
		if delay >= limit/2 {
			return limit
		}
		delay *= 2
	}
	if delay > limit {
		return limit
	}
	return delay
}
