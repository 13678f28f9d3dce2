package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

type ReservationType string

const (
	ReservationCart  ReservationType = "CART"
	ReservationOrder ReservationType = "ORDER"
)

type ReservationStatus string

const (
	ReservationPending   ReservationStatus = "PENDING"
	ReservationConfirmed ReservationStatus = "CONFIRMED"
	ReservationReleased  ReservationStatus = "RELEASED"
	ReservationExpired   ReservationStatus = "EXPIRED"
)

// Reservation is a time-bounded hold on a quantity of stock. PENDING is the
// only non-terminal state; once a reservation is confirmed, released or
// expired it never transitions again.
type Reservation struct {
	ID        string
	StockID   string
	Quantity  int
	Type      ReservationType
	CartID    string
	OrderID   string
	Status    ReservationStatus
	ExpiresAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (r Reservation) IsTerminal() bool {
	return r.Status != ReservationPending
}

func newReservation(stockID string, qty int, typ ReservationType, cartID, orderID string, expiresAt *time.Time, now time.Time) (Reservation, error) {
	if cartID != "" && orderID != "" {
		return Reservation{}, errors.New("reservation cannot reference both a cart and an order")
	}
	if typ == ReservationCart && expiresAt == nil {
		return Reservation{}, errors.New("cart reservations require an expiry")
	}
	return Reservation{
		ID:        uuid.NewString(),
		StockID:   stockID,
		Quantity:  qty,
		Type:      typ,
		CartID:    cartID,
		OrderID:   orderID,
		Status:    ReservationPending,
		ExpiresAt: expiresAt,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}
