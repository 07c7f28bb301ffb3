package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

type Category string

const (
	CategoryStandard Category = "Standard"
	CategoryPremium  Category = "Premium"
	CategoryDisabled Category = "Disabled"
)

func (c Category) Valid() bool {
	switch c {
	case CategoryStandard, CategoryPremium, CategoryDisabled:
		return true
	}
	return false
}

type SeatStatus string

const (
	StatusAvailable SeatStatus = "Available"
	StatusSelected  SeatStatus = "Selected"
	StatusBooked    SeatStatus = "Booked"
	// StatusDisabled is reported for Disabled seats, which are never Available or Selected.
	StatusDisabled SeatStatus = "Disabled"
)

// Coord is a 1-based grid position.
type Coord struct {
	Row    int
	Column int
}

// CoordID is the default seat id for a coordinate, e.g. "3,3".
func CoordID(c Coord) string {
	return strconv.Itoa(c.Row) + "," + strconv.Itoa(c.Column)
}

// ParseCoordID reverses CoordID.
func ParseCoordID(id string) (Coord, error) {
	r, c, ok := strings.Cut(id, ",")
	if !ok {
		return Coord{}, errors.Newf("seat id %q is not row,column", id)
	}
	row, err := strconv.Atoi(strings.TrimSpace(r))
	if err != nil {
		return Coord{}, errors.Wrapf(err, "seat id %q: bad row", id)
	}
	col, err := strconv.Atoi(strings.TrimSpace(c))
	if err != nil {
		return Coord{}, errors.Wrapf(err, "seat id %q: bad column", id)
	}
	return Coord{Row: row, Column: col}, nil
}

// RowLabel maps 1 -> "A", 26 -> "Z", 27 -> "AA".
func RowLabel(row int) string {
	var b []byte
	for row > 0 {
		row--
		b = append([]byte{byte('A' + row%26)}, b...)
		row /= 26
	}
	return string(b)
}

type Seat struct {
	ID       string
	Label    string
	Row      int
	Column   int
	Category Category
}

func (s Seat) Coord() Coord { return Coord{Row: s.Row, Column: s.Column} }

// RoomLayout describes a room grid. Coordinates missing from SeatTypes are
// Standard; coordinates missing from SeatIDs get CoordID.
type RoomLayout struct {
	RoomID    string
	Rows      int
	Columns   int
	SeatTypes map[Coord]Category
	SeatIDs   map[Coord]string
	Labels    map[Coord]string
}

// Showtime is everything needed to open a seat map: the room layout and
// the unit prices in force.
type Showtime struct {
	ID     string
	RoomID string
	Layout RoomLayout
	Prices PriceTable
}

type BookingRecord struct {
	BookingID  string
	SeatID     string
	ShowtimeID string
}

type PaymentMethod string

const (
	PaymentCash   PaymentMethod = "Cash"
	PaymentCard   PaymentMethod = "Card"
	PaymentBank   PaymentMethod = "Bank"
	PaymentWallet PaymentMethod = "Wallet"
)

type CustomerInfo struct {
	Name  string
	Phone string
}

type PaymentInfo struct {
	Method        PaymentMethod
	TransactionID string
	BankName      string
}

// BookingRequest is one createBooking call: the full selection, who it is
// for, how it is paid, and the agreed price.
type BookingRequest struct {
	ShowtimeID string
	RoomID     string
	SeatIDs    []string
	Customer   CustomerInfo
	Payment    PaymentInfo
	Quote      PriceQuote
}

// Validate checks the submit preconditions on customer and payment input.
func Validate(customer CustomerInfo, payment PaymentInfo) error {
	var problems []string
	if strings.TrimSpace(customer.Name) == "" {
		problems = append(problems, "customer name is required")
	}
	if strings.TrimSpace(customer.Phone) == "" {
		problems = append(problems, "customer phone is required")
	}
	switch payment.Method {
	case PaymentCash, PaymentCard, PaymentBank, PaymentWallet:
	case "":
		problems = append(problems, "payment method is required")
	default:
		problems = append(problems, fmt.Sprintf("unknown payment method %q", payment.Method))
	}
	if payment.Method != PaymentCash && payment.Method != "" && strings.TrimSpace(payment.TransactionID) == "" {
		problems = append(problems, "transaction reference is required for non-cash payment")
	}
	if payment.Method == PaymentBank && strings.TrimSpace(payment.BankName) == "" {
		problems = append(problems, "bank name is required for bank payment")
	}
	if len(problems) > 0 {
		return errors.Wrap(ErrValidation, strings.Join(problems, "; "))
	}
	return nil
}

// Booking is a mirrored booking with the payment details the remote API
// does not echo back. Amount is the seat's share of the order total after
// discount.
type Booking struct {
	BookingID     string
	ShowtimeID    string
	SeatID        string
	SeatLabel     string
	CustomerName  string
	CustomerPhone string
	PaymentMethod PaymentMethod
	TransactionID string
	BankName      string
	Reference     string
	UnitPrice     int64
	Amount        int64
	Cancelled     bool
	CancelledBy   string
	CreatedAt     time.Time
}
