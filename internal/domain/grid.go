package domain

import (
	"sort"
	"strconv"

	"github.com/cockroachdb/errors"
)

// SeatGrid is an immutable view of a room layout plus the booking snapshot it
// was last reconciled against. Seat definitions are shared between grids
// derived from one another; booking state is not.
type SeatGrid struct {
	rows    int
	columns int
	seats   []Seat
	byID    map[string]int
	booked  map[string]BookingRecord
}

// BuildGrid constructs a grid of layout.Rows x layout.Columns seats and marks
// every seat in snapshot as Booked.
func BuildGrid(layout RoomLayout, snapshot []BookingRecord) (*SeatGrid, error) {
	if layout.Rows <= 0 || layout.Columns <= 0 {
		return nil, errors.Wrapf(ErrLayout, "grid must be at least 1x1, got %dx%d", layout.Rows, layout.Columns)
	}
	for c, cat := range layout.SeatTypes {
		if !inBounds(c, layout.Rows, layout.Columns) {
			return nil, errors.Wrapf(ErrLayout, "seat type for %s is outside the %dx%d grid", CoordID(c), layout.Rows, layout.Columns)
		}
		if !cat.Valid() {
			return nil, errors.Wrapf(ErrLayout, "seat %s has unknown category %q", CoordID(c), cat)
		}
	}
	for c := range layout.SeatIDs {
		if !inBounds(c, layout.Rows, layout.Columns) {
			return nil, errors.Wrapf(ErrLayout, "seat id for %s is outside the %dx%d grid", CoordID(c), layout.Rows, layout.Columns)
		}
	}

	g := &SeatGrid{
		rows:    layout.Rows,
		columns: layout.Columns,
		seats:   make([]Seat, 0, layout.Rows*layout.Columns),
		byID:    make(map[string]int, layout.Rows*layout.Columns),
	}
	for r := 1; r <= layout.Rows; r++ {
		for col := 1; col <= layout.Columns; col++ {
			c := Coord{Row: r, Column: col}
			seat := Seat{
				ID:       CoordID(c),
				Label:    RowLabel(r) + strconv.Itoa(col),
				Row:      r,
				Column:   col,
				Category: CategoryStandard,
			}
			if id, ok := layout.SeatIDs[c]; ok && id != "" {
				seat.ID = id
			}
			if label, ok := layout.Labels[c]; ok && label != "" {
				seat.Label = label
			}
			if cat, ok := layout.SeatTypes[c]; ok {
				seat.Category = cat
			}
			if _, dup := g.byID[seat.ID]; dup {
				return nil, errors.Wrapf(ErrLayout, "duplicate seat id %q", seat.ID)
			}
			g.byID[seat.ID] = len(g.seats)
			g.seats = append(g.seats, seat)
		}
	}

	booked, err := g.indexSnapshot(snapshot)
	if err != nil {
		return nil, err
	}
	g.booked = booked
	return g, nil
}

// WithBookingsApplied returns a grid that reflects snapshot instead of the
// receiver's bookings. Seats absent from snapshot are no longer Booked.
func (g *SeatGrid) WithBookingsApplied(snapshot []BookingRecord) (*SeatGrid, error) {
	booked, err := g.indexSnapshot(snapshot)
	if err != nil {
		return nil, err
	}
	return &SeatGrid{
		rows:    g.rows,
		columns: g.columns,
		seats:   g.seats,
		byID:    g.byID,
		booked:  booked,
	}, nil
}

func (g *SeatGrid) indexSnapshot(snapshot []BookingRecord) (map[string]BookingRecord, error) {
	booked := make(map[string]BookingRecord, len(snapshot))
	for _, rec := range snapshot {
		if _, ok := g.byID[rec.SeatID]; !ok {
			return nil, errors.Wrapf(ErrLayout, "booking %q references unknown seat %q", rec.BookingID, rec.SeatID)
		}
		if prev, dup := booked[rec.SeatID]; dup && prev.BookingID != rec.BookingID {
			return nil, errors.Wrapf(ErrLayout, "seat %q is held by bookings %q and %q", rec.SeatID, prev.BookingID, rec.BookingID)
		}
		booked[rec.SeatID] = rec
	}
	return booked, nil
}

func (g *SeatGrid) Rows() int    { return g.rows }
func (g *SeatGrid) Columns() int { return g.columns }

// Seats returns all seats in row-major order.
func (g *SeatGrid) Seats() []Seat {
	out := make([]Seat, len(g.seats))
	copy(out, g.seats)
	return out
}

func (g *SeatGrid) Seat(id string) (Seat, bool) {
	i, ok := g.byID[id]
	if !ok {
		return Seat{}, false
	}
	return g.seats[i], true
}

func (g *SeatGrid) SeatAt(c Coord) (Seat, bool) {
	if !inBounds(c, g.rows, g.columns) {
		return Seat{}, false
	}
	return g.seats[(c.Row-1)*g.columns+(c.Column-1)], true
}

func (g *SeatGrid) IsBooked(seatID string) bool {
	_, ok := g.booked[seatID]
	return ok
}

// BookingFor returns the booking holding seatID.
func (g *SeatGrid) BookingFor(seatID string) (BookingRecord, bool) {
	rec, ok := g.booked[seatID]
	return rec, ok
}

// FindBooking looks a booking up by its id.
func (g *SeatGrid) FindBooking(bookingID string) (BookingRecord, bool) {
	for _, rec := range g.booked {
		if rec.BookingID == bookingID {
			return rec, true
		}
	}
	return BookingRecord{}, false
}

// Snapshot returns the bookings this grid reflects, in seat order.
func (g *SeatGrid) Snapshot() []BookingRecord {
	out := make([]BookingRecord, 0, len(g.booked))
	for _, rec := range g.booked {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return g.byID[out[i].SeatID] < g.byID[out[j].SeatID]
	})
	return out
}

// StatusOf derives a seat's status from the grid and a selection. Unknown
// seats report "".
func (g *SeatGrid) StatusOf(seatID string, selection SelectionLedger) SeatStatus {
	seat, ok := g.Seat(seatID)
	if !ok {
		return ""
	}
	switch {
	case g.IsBooked(seatID):
		return StatusBooked
	case seat.Category == CategoryDisabled:
		return StatusDisabled
	case selection.Contains(seatID):
		return StatusSelected
	default:
		return StatusAvailable
	}
}

// IsExhausted reports whether every non-Disabled seat is Booked.
func (g *SeatGrid) IsExhausted() bool {
	for _, s := range g.seats {
		if s.Category == CategoryDisabled {
			continue
		}
		if !g.IsBooked(s.ID) {
			return false
		}
	}
	return true
}

func inBounds(c Coord, rows, columns int) bool {
	return c.Row >= 1 && c.Row <= rows && c.Column >= 1 && c.Column <= columns
}
