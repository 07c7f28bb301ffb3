package domain

import "time"

const (
	EventBookingCreated   = "booking.created"
	EventBookingCancelled = "booking.cancelled"
)

// BookingEvent is the message published for every confirmed booking change.
// Origin names the session (or worker) that caused it.
type BookingEvent struct {
	Type        string    `json:"type"`
	ShowtimeID  string    `json:"showtime_id"`
	Origin      string    `json:"origin,omitempty"`
	BookingIDs  []string  `json:"booking_ids"`
	SeatIDs     []string  `json:"seat_ids"`
	CancelledBy string    `json:"cancelled_by,omitempty"`
	At          time.Time `json:"at"`
}
