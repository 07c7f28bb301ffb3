package domain

import "github.com/cockroachdb/errors"

var (
	ErrLayout             = errors.New("layout error")
	ErrSeatNotSelectable  = errors.New("seat not selectable")
	ErrSeatUnavailable    = errors.New("seat unavailable")
	ErrInvalidDiscount    = errors.New("invalid discount")
	ErrValidation         = errors.New("validation error")
	ErrSessionBusy        = errors.New("session busy")
	ErrBookingFailed      = errors.New("booking failed")
	ErrCancellationFailed = errors.New("cancellation failed")

	ErrSerializationFailure = errors.New("serialization failure")
	ErrNotFound             = errors.New("not found")
	ErrConflict             = errors.New("conflict")
)

// Kind is the machine-readable class of an error returned by this package or
// the session layer.
type Kind string

const (
	KindLayout             Kind = "layout_error"
	KindSeatNotSelectable  Kind = "seat_not_selectable"
	KindSeatUnavailable    Kind = "seat_unavailable"
	KindInvalidDiscount    Kind = "invalid_discount"
	KindValidation         Kind = "validation_error"
	KindSessionBusy        Kind = "session_busy"
	KindBookingFailed      Kind = "booking_failed"
	KindCancellationFailed Kind = "cancellation_failed"
	KindNotFound           Kind = "not_found"
	KindInternal           Kind = "internal"
)

var kinds = []struct {
	sentinel error
	kind     Kind
}{
	{ErrLayout, KindLayout},
	{ErrSeatNotSelectable, KindSeatNotSelectable},
	{ErrSeatUnavailable, KindSeatUnavailable},
	{ErrInvalidDiscount, KindInvalidDiscount},
	{ErrValidation, KindValidation},
	{ErrSessionBusy, KindSessionBusy},
	{ErrBookingFailed, KindBookingFailed},
	{ErrCancellationFailed, KindCancellationFailed},
	{ErrNotFound, KindNotFound},
}

// KindOf classifies err. Taxonomy marks win over ErrNotFound, so a cancel of an
// unknown booking reports cancellation_failed.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.sentinel) {
			return k.kind
		}
	}
	return KindInternal
}

// FailureReason says why the remote booking API rejected or failed a request.
type FailureReason string

const (
	ReasonSeatTaken    FailureReason = "seat_taken"
	ReasonValidation   FailureReason = "validation"
	ReasonNotFound     FailureReason = "not_found"
	ReasonUnauthorized FailureReason = "unauthorized"
	ReasonServer       FailureReason = "server"
	ReasonNetwork      FailureReason = "network"
)

// ReasonCarrier is implemented by transport errors that know why a remote
// call failed.
type ReasonCarrier interface {
	FailureReason() FailureReason
}

// ReasonOf returns the remote failure reason carried anywhere in err's chain,
// or "" when there is none.
func ReasonOf(err error) FailureReason {
	var rc ReasonCarrier
	if errors.As(err, &rc) {
		return rc.FailureReason()
	}
	return ""
}
