package domain

import (
	"sort"
	"time"
)

type DayRevenue struct {
	Day    string `json:"day"`
	Amount int64  `json:"amount"`
	Seats  int    `json:"seats"`
}

type RevenueReport struct {
	Total     int64                   `json:"total"`
	Seats     int                     `json:"seats"`
	Cancelled int                     `json:"cancelled"`
	ByMethod  map[PaymentMethod]int64 `json:"by_method"`
	ByDay     []DayRevenue            `json:"by_day"`
}

// Summarize aggregates revenue over bookings. Cancelled bookings are counted
// but contribute no revenue. Days are cut in loc (UTC when nil).
func Summarize(bookings []Booking, loc *time.Location) RevenueReport {
	if loc == nil {
		loc = time.UTC
	}
	rep := RevenueReport{ByMethod: map[PaymentMethod]int64{}}
	days := map[string]*DayRevenue{}
	for _, b := range bookings {
		if b.Cancelled {
			rep.Cancelled++
			continue
		}
		rep.Total += b.Amount
		rep.Seats++
		rep.ByMethod[b.PaymentMethod] += b.Amount

		day := b.CreatedAt.In(loc).Format(time.DateOnly)
		d, ok := days[day]
		if !ok {
			d = &DayRevenue{Day: day}
			days[day] = d
		}
		d.Amount += b.Amount
		d.Seats++
	}
	rep.ByDay = make([]DayRevenue, 0, len(days))
	for _, d := range days {
		rep.ByDay = append(rep.ByDay, *d)
	}
	sort.Slice(rep.ByDay, func(i, j int) bool { return rep.ByDay[i].Day < rep.ByDay[j].Day })
	return rep
}
