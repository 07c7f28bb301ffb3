package session

import "github.com/robertarktes/seatmap-booking/internal/domain"

type SeatView struct {
	ID        string            `json:"id"`
	Label     string            `json:"label"`
	Row       int               `json:"row"`
	Column    int               `json:"column"`
	Category  domain.Category   `json:"category"`
	Status    domain.SeatStatus `json:"status"`
	BookingID string            `json:"booking_id,omitempty"`
	UnitPrice int64             `json:"unit_price"`
}

type QuoteView struct {
	Subtotal int64 `json:"subtotal"`
	Discount int64 `json:"discount"`
	Total    int64 `json:"total"`
	Seats    int   `json:"seats"`
}

// View is a consistent point-in-time rendering of a session.
type View struct {
	ID         string            `json:"id"`
	ShowtimeID string            `json:"showtime_id"`
	RoomID     string            `json:"room_id"`
	Rows       int               `json:"rows"`
	Columns    int               `json:"columns"`
	Seats      []SeatView        `json:"seats"`
	Selected   []string          `json:"selected"`
	Quote      QuoteView         `json:"quote"`
	Prices     domain.PriceTable `json:"prices"`
	State      State             `json:"state"`
	Cancelling []string          `json:"cancelling,omitempty"`
	Stale      bool              `json:"stale"`
	Exhausted  bool              `json:"exhausted"`
}

func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := View{
		ID:         s.id,
		ShowtimeID: s.showtime.ID,
		RoomID:     s.showtime.RoomID,
		Rows:       s.grid.Rows(),
		Columns:    s.grid.Columns(),
		Selected:   s.ledger.SeatIDs(),
		Prices:     s.showtime.Prices,
		State:      StateIdle,
		Stale:      s.stale,
		Exhausted:  s.grid.IsExhausted(),
	}
	for _, seat := range s.grid.Seats() {
		sv := SeatView{
			ID:        seat.ID,
			Label:     seat.Label,
			Row:       seat.Row,
			Column:    seat.Column,
			Category:  seat.Category,
			Status:    s.grid.StatusOf(seat.ID, s.ledger),
			UnitPrice: s.showtime.Prices.For(seat.Category),
		}
		if rec, ok := s.grid.BookingFor(seat.ID); ok {
			sv.BookingID = rec.BookingID
		}
		v.Seats = append(v.Seats, sv)
	}
	// An undiscounted quote cannot fail.
	if q, err := s.ledger.Quote(domain.Discount{}); err == nil {
		v.Quote = QuoteView{Subtotal: q.Subtotal, Discount: q.Discount, Total: q.Total, Seats: q.Seats}
	}
	for id := range s.cancelling {
		v.Cancelling = append(v.Cancelling, id)
	}
	switch {
	case s.submitting:
		v.State = StateSubmitting
	case len(s.cancelling) > 0:
		v.State = StateCancelling
	}
	return v
}
