package domain

import "time"

// NewBookings expands confirmed records into mirror rows. The quote's
// discount is taken from seats in record order until it is used up, so the
// row amounts always sum to quote.Total.
func NewBookings(records []BookingRecord, grid *SeatGrid, prices PriceTable, customer CustomerInfo, payment PaymentInfo, quote PriceQuote, at time.Time) []Booking {
	remaining := quote.Discount
	out := make([]Booking, 0, len(records))
	for _, rec := range records {
		b := Booking{
			BookingID:     rec.BookingID,
			ShowtimeID:    rec.ShowtimeID,
			SeatID:        rec.SeatID,
			CustomerName:  customer.Name,
			CustomerPhone: customer.Phone,
			PaymentMethod: payment.Method,
			TransactionID: payment.TransactionID,
			BankName:      payment.BankName,
			Reference:     quote.Reference,
			CreatedAt:     at,
		}
		if seat, ok := grid.Seat(rec.SeatID); ok {
			b.SeatLabel = seat.Label
			b.UnitPrice = prices.For(seat.Category)
		}
		off := remaining
		if off > b.UnitPrice {
			off = b.UnitPrice
		}
		remaining -= off
		b.Amount = b.UnitPrice - off
		out = append(out, b)
	}
	return out
}
