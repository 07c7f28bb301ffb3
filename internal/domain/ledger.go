package domain

import (
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
)

// PriceTable holds a showtime's unit prices per category.
type PriceTable struct {
	Standard int64 `json:"standard"`
	Premium  int64 `json:"premium"`
}

func (p PriceTable) For(c Category) int64 {
	if c == CategoryPremium {
		return p.Premium
	}
	return p.Standard
}

// Discount is an optional price reduction. The zero value means none.
type Discount struct {
	Amount    int64
	Reference string
}

type PriceQuote struct {
	Subtotal  int64
	Discount  int64
	Total     int64
	Reference string
	Seats     int
}

type LedgerEntry struct {
	SeatID    string
	Category  Category
	UnitPrice int64
}

// SelectionLedger is the set of seats picked but not yet booked. It is a
// value: every mutating method returns a new ledger and leaves the receiver
// untouched.
type SelectionLedger struct {
	prices  PriceTable
	entries map[string]LedgerEntry
}

func NewSelectionLedger(prices PriceTable) SelectionLedger {
	return SelectionLedger{prices: prices}
}

// Toggle adds seat at its category's unit price, or removes it if already
// present. Disabled seats and seats booked in grid are rejected.
func (l SelectionLedger) Toggle(seat Seat, grid *SeatGrid) (SelectionLedger, error) {
	if seat.Category == CategoryDisabled {
		return l, errors.Wrapf(ErrSeatNotSelectable, "seat %s is disabled", seat.Label)
	}
	if grid != nil && grid.IsBooked(seat.ID) {
		return l, errors.Wrapf(ErrSeatUnavailable, "seat %s is already booked", seat.Label)
	}

	next := l.clone()
	if _, ok := next.entries[seat.ID]; ok {
		delete(next.entries, seat.ID)
		return next, nil
	}
	next.entries[seat.ID] = LedgerEntry{
		SeatID:    seat.ID,
		Category:  seat.Category,
		UnitPrice: l.prices.For(seat.Category),
	}
	return next, nil
}

// Quote sums the entries' unit prices and applies discount.
func (l SelectionLedger) Quote(discount Discount) (PriceQuote, error) {
	var subtotal int64
	for _, e := range l.entries {
		subtotal += e.UnitPrice
	}
	if discount.Amount < 0 {
		return PriceQuote{}, errors.Wrapf(ErrInvalidDiscount, "discount %d is negative", discount.Amount)
	}
	if discount.Amount > subtotal {
		return PriceQuote{}, errors.Wrapf(ErrInvalidDiscount, "discount %d exceeds subtotal %d", discount.Amount, subtotal)
	}
	ref := strings.TrimSpace(discount.Reference)
	if discount.Amount > 0 && ref == "" {
		return PriceQuote{}, errors.Wrap(ErrInvalidDiscount, "discount requires a reference")
	}
	return PriceQuote{
		Subtotal:  subtotal,
		Discount:  discount.Amount,
		Total:     subtotal - discount.Amount,
		Reference: ref,
		Seats:     len(l.entries),
	}, nil
}

func (l SelectionLedger) Clear() SelectionLedger {
	return SelectionLedger{prices: l.prices}
}

// WithoutBooked drops entries whose seats are Booked in grid and returns the
// ids it dropped.
func (l SelectionLedger) WithoutBooked(grid *SeatGrid) (SelectionLedger, []string) {
	var dropped []string
	for id := range l.entries {
		if grid.IsBooked(id) {
			dropped = append(dropped, id)
		}
	}
	if len(dropped) == 0 {
		return l, nil
	}
	next := l.clone()
	for _, id := range dropped {
		delete(next.entries, id)
	}
	sort.Strings(dropped)
	return next, dropped
}

func (l SelectionLedger) Contains(seatID string) bool {
	_, ok := l.entries[seatID]
	return ok
}

func (l SelectionLedger) Len() int { return len(l.entries) }

func (l SelectionLedger) Prices() PriceTable { return l.prices }

// Entries returns the entries sorted by seat id.
func (l SelectionLedger) Entries() []LedgerEntry {
	out := make([]LedgerEntry, 0, len(l.entries))
	for _, e := range l.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SeatID < out[j].SeatID })
	return out
}

func (l SelectionLedger) SeatIDs() []string {
	ids := make([]string, 0, len(l.entries))
	for id := range l.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Equal reports whether both ledgers hold the same seats.
func (l SelectionLedger) Equal(other SelectionLedger) bool {
	if len(l.entries) != len(other.entries) {
		return false
	}
	for id := range l.entries {
		if _, ok := other.entries[id]; !ok {
			return false
		}
	}
	return true
}

func (l SelectionLedger) clone() SelectionLedger {
	entries := make(map[string]LedgerEntry, len(l.entries)+1)
	for k, v := range l.entries {
		entries[k] = v
	}
	return SelectionLedger{prices: l.prices, entries: entries}
}
