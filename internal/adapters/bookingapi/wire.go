package bookingapi

import "github.com/robertarktes/seatmap-booking/internal/domain"

type seatDTO struct {
	ID         string `json:"_id"`
	SeatNumber string `json:"seatNumber"`
	Row        int    `json:"row"`
	Column     int    `json:"column"`
	Type       string `json:"type"`
}

type roomDTO struct {
	ID      string    `json:"_id"`
	Name    string    `json:"name"`
	Rows    int       `json:"rows"`
	Columns int       `json:"columns"`
	Seats   []seatDTO `json:"seats"`
}

type ticketPricesDTO struct {
	VIP    *int64 `json:"VIP"`
	Normal *int64 `json:"Normal"`
}

type showtimeDTO struct {
	ID           string           `json:"_id"`
	Room         roomDTO          `json:"room"`
	TicketPrices *ticketPricesDTO `json:"ticketPrices"`
}

type bookedSeatsDTO struct {
	Bookings []struct {
		ID   string `json:"_id"`
		Seat string `json:"seat"`
	} `json:"bookings"`
}

type createBookingDTO struct {
	ShowtimeID        string   `json:"showtimeId"`
	RoomID            string   `json:"roomId"`
	Seat              []string `json:"seat"`
	CustomerName      string   `json:"customerName"`
	CustomerPhone     string   `json:"customerPhone"`
	PaymentMethod     string   `json:"paymentMethod"`
	TransactionID     string   `json:"transactionId,omitempty"`
	BankName          string   `json:"bankName,omitempty"`
	Subtotal          int64    `json:"subtotal"`
	Discount          int64    `json:"discount,omitempty"`
	DiscountReference string   `json:"discountReference,omitempty"`
	TicketPrice       int64    `json:"ticketPrice"`
}

type createBookingResponseDTO struct {
	BookingIDs []string `json:"bookingIds"`
}

func category(t string) domain.Category {
	switch t {
	case "VIP":
		return domain.CategoryPremium
	case "Normal", "":
		return domain.CategoryStandard
	case "Disabled":
		return domain.CategoryDisabled
	}
	// Unknown types are passed through so grid construction rejects them.
	return domain.Category(t)
}

// toLayout sizes the grid from the room dimensions, growing it to cover any
// seat placed outside them.
func (r roomDTO) toLayout() domain.RoomLayout {
	layout := domain.RoomLayout{
		RoomID:    r.ID,
		Rows:      r.Rows,
		Columns:   r.Columns,
		SeatTypes: make(map[domain.Coord]domain.Category, len(r.Seats)),
		SeatIDs:   make(map[domain.Coord]string, len(r.Seats)),
		Labels:    make(map[domain.Coord]string, len(r.Seats)),
	}
	for _, s := range r.Seats {
		c := domain.Coord{Row: s.Row, Column: s.Column}
		if s.Row > layout.Rows {
			layout.Rows = s.Row
		}
		if s.Column > layout.Columns {
			layout.Columns = s.Column
		}
		layout.SeatTypes[c] = category(s.Type)
		if s.ID != "" {
			layout.SeatIDs[c] = s.ID
		}
		if s.SeatNumber != "" {
			layout.Labels[c] = s.SeatNumber
		}
	}
	return layout
}

func (s showtimeDTO) toDomain(defaults domain.PriceTable) domain.Showtime {
	prices := defaults
	if s.TicketPrices != nil {
		if s.TicketPrices.VIP != nil {
			prices.Premium = *s.TicketPrices.VIP
		}
		if s.TicketPrices.Normal != nil {
			prices.Standard = *s.TicketPrices.Normal
		}
	}
	return domain.Showtime{
		ID:     s.ID,
		RoomID: s.Room.ID,
		Layout: s.Room.toLayout(),
		Prices: prices,
	}
}
