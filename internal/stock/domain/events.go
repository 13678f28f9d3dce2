package domain

import "time"

// Event is a domain event produced by a ledger mutation. Events are returned
// to the caller alongside the new state; nothing is queued on the aggregate.
// Consumers deduplicate by EventID, delivery is at-least-once.
type Event interface {
	EventType() string
}

type StockCreated struct {
	EventID     string    `json:"eventId"`
	StockID     string    `json:"stockId"`
	ProductID   string    `json:"productId"`
	VariantID   string    `json:"variantId"`
	WarehouseID string    `json:"warehouseId"`
	Quantity    int       `json:"quantity"`
	OccurredAt  time.Time `json:"occurredAt"`
}

type StockIncreased struct {
	EventID     string    `json:"eventId"`
	StockID     string    `json:"stockId"`
	ProductID   string    `json:"productId"`
	VariantID   string    `json:"variantId"`
	WarehouseID string    `json:"warehouseId"`
	Quantity    int       `json:"quantity"`
	Available   int       `json:"available"`
	OccurredAt  time.Time `json:"occurredAt"`
}

type StockDecreased struct {
	EventID     string    `json:"eventId"`
	StockID     string    `json:"stockId"`
	ProductID   string    `json:"productId"`
	VariantID   string    `json:"variantId"`
	WarehouseID string    `json:"warehouseId"`
	Quantity    int       `json:"quantity"`
	Available   int       `json:"available"`
	OccurredAt  time.Time `json:"occurredAt"`
}

type LowStockReached struct {
	EventID     string    `json:"eventId"`
	StockID     string    `json:"stockId"`
	ProductID   string    `json:"productId"`
	VariantID   string    `json:"variantId"`
	WarehouseID string    `json:"warehouseId"`
	Available   int       `json:"available"`
	Threshold   int       `json:"threshold"`
	OccurredAt  time.Time `json:"occurredAt"`
}

type StockReserved struct {
	EventID       string     `json:"eventId"`
	StockID       string     `json:"stockId"`
	ReservationID string     `json:"reservationId"`
	ProductID     string     `json:"productId"`
	VariantID     string     `json:"variantId"`
	WarehouseID   string     `json:"warehouseId"`
	Quantity      int        `json:"quantity"`
	CartID        string     `json:"cartId,omitempty"`
	OrderID       string     `json:"orderId,omitempty"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
	OccurredAt    time.Time  `json:"occurredAt"`
}

type StockReservationConfirmed struct {
	EventID       string    `json:"eventId"`
	StockID       string    `json:"stockId"`
	ReservationID string    `json:"reservationId"`
	ProductID     string    `json:"productId"`
	VariantID     string    `json:"variantId"`
	WarehouseID   string    `json:"warehouseId"`
	Quantity      int       `json:"quantity"`
	OrderID       string    `json:"orderId"`
	OccurredAt    time.Time `json:"occurredAt"`
}

type StockReservationReleased struct {
	EventID       string    `json:"eventId"`
	StockID       string    `json:"stockId"`
	ReservationID string    `json:"reservationId"`
	ProductID     string    `json:"productId"`
	VariantID     string    `json:"variantId"`
	WarehouseID   string    `json:"warehouseId"`
	Quantity      int       `json:"quantity"`
	Reason        string    `json:"reason"`
	Expired       bool      `json:"expired"`
	OccurredAt    time.Time `json:"occurredAt"`
}

func (StockCreated) EventType() string              { return "StockCreated" }
func (StockIncreased) EventType() string            { return "StockIncreased" }
func (StockDecreased) EventType() string            { return "StockDecreased" }
func (LowStockReached) EventType() string           { return "LowStockReached" }
func (StockReserved) EventType() string             { return "StockReserved" }
func (StockReservationConfirmed) EventType() string { return "StockReservationConfirmed" }
func (StockReservationReleased) EventType() string  { return "StockReservationReleased" }
