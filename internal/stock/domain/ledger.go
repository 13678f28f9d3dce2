package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// StockLedger is the aggregate tracking sellable and reserved quantity for
// one (variant, warehouse) pair. It is the unit of concurrency control: all
// mutations are value-receiver functions returning the new state, the audit
// movement and the domain events, leaving the input untouched. The Version
// field is the optimistic-locking token checked by the repository on save.
type StockLedger struct {
	ID                string
	ProductID         string
	VariantID         string
	WarehouseID       string
	QuantityAvailable int
	QuantityReserved  int
	LowStockThreshold int
	ReorderPoint      int
	Version           int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// NewStockLedger creates the ledger for a (variant, warehouse) pair. A
// positive initial quantity additionally yields the INCREASE movement that
// documents where the opening stock came from.
func NewStockLedger(productID, variantID, warehouseID string, initial, lowStockThreshold, reorderPoint int, performedBy string, now time.Time) (StockLedger, *StockMovement, []Event, error) {
	if initial < 0 {
		return StockLedger{}, nil, nil, fmt.Errorf("%w: initial quantity %d", ErrInvalidQuantity, initial)
	}
	l := StockLedger{
		ID:                uuid.NewString(),
		ProductID:         productID,
		VariantID:         variantID,
		WarehouseID:       warehouseID,
		QuantityAvailable: initial,
		LowStockThreshold: lowStockThreshold,
		ReorderPoint:      reorderPoint,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	var m *StockMovement
	if initial > 0 {
		mv := newMovement(l.ID, MovementIncrease, initial, MovementRef{
			ReferenceType: "INITIAL",
			PerformedBy:   performedBy,
			Note:          "initial stock",
		}, now)
		m = &mv
	}
	events := []Event{StockCreated{
		EventID:     uuid.NewString(),
		StockID:     l.ID,
		ProductID:   productID,
		VariantID:   variantID,
		WarehouseID: warehouseID,
		Quantity:    initial,
		OccurredAt:  now,
	}}
	return l, m, events, nil
}

// IsLowStock reports whether available quantity is at or below the alert
// threshold. Read-side only, no write-path effect.
func (l StockLedger) IsLowStock() bool {
	return l.QuantityAvailable <= l.LowStockThreshold
}

func (l StockLedger) Increase(qty int, ref MovementRef, now time.Time) (StockLedger, StockMovement, []Event, error) {
	if qty <= 0 {
		return l, StockMovement{}, nil, fmt.Errorf("%w: increase by %d", ErrInvalidQuantity, qty)
	}
	next := l
	next.QuantityAvailable += qty
	next.UpdatedAt = now

	m := newMovement(l.ID, MovementIncrease, qty, ref, now)
	events := []Event{StockIncreased{
		EventID:     uuid.NewString(),
		StockID:     l.ID,
		ProductID:   l.ProductID,
		VariantID:   l.VariantID,
		WarehouseID: l.WarehouseID,
		Quantity:    qty,
		Available:   next.QuantityAvailable,
		OccurredAt:  now,
	}}
	return next, m, events, nil
}

func (l StockLedger) Decrease(qty int, ref MovementRef, now time.Time) (StockLedger, StockMovement, []Event, error) {
	if qty <= 0 {
		return l, StockMovement{}, nil, fmt.Errorf("%w: decrease by %d", ErrInvalidQuantity, qty)
	}
	if l.QuantityAvailable < qty {
		return l, StockMovement{}, nil, fmt.Errorf("%w: requested %d, available %d", ErrInsufficientStock, qty, l.QuantityAvailable)
	}
	next := l
	next.QuantityAvailable -= qty
	next.UpdatedAt = now

	m := newMovement(l.ID, MovementDecrease, -qty, ref, now)
	events := []Event{StockDecreased{
		EventID:     uuid.NewString(),
		StockID:     l.ID,
		ProductID:   l.ProductID,
		VariantID:   l.VariantID,
		WarehouseID: l.WarehouseID,
		Quantity:    qty,
		Available:   next.QuantityAvailable,
		OccurredAt:  now,
	}}
	// Edge-triggered: fires only when this decrease crosses the threshold.
	if next.IsLowStock() && !l.IsLowStock() {
		events = append(events, LowStockReached{
			EventID:     uuid.NewString(),
			StockID:     l.ID,
			ProductID:   l.ProductID,
			VariantID:   l.VariantID,
			WarehouseID: l.WarehouseID,
			Available:   next.QuantityAvailable,
			Threshold:   l.LowStockThreshold,
			OccurredAt:  now,
		})
	}
	return next, m, events, nil
}

// Reserve moves qty from available to reserved and opens a PENDING
// reservation for it. No partial reservation: either the full quantity is
// available or the call fails with ErrInsufficientStock.
func (l StockLedger) Reserve(qty int, typ ReservationType, cartID, orderID string, expiresAt *time.Time, now time.Time) (StockLedger, Reservation, StockMovement, []Event, error) {
	if qty <= 0 {
		return l, Reservation{}, StockMovement{}, nil, fmt.Errorf("%w: reserve %d", ErrInvalidQuantity, qty)
	}
	if l.QuantityAvailable < qty {
		return l, Reservation{}, StockMovement{}, nil, fmt.Errorf("%w: requested %d, available %d", ErrInsufficientStock, qty, l.QuantityAvailable)
	}
	r, err := newReservation(l.ID, qty, typ, cartID, orderID, expiresAt, now)
	if err != nil {
		return l, Reservation{}, StockMovement{}, nil, err
	}
	next := l
	next.QuantityAvailable -= qty
	next.QuantityReserved += qty
	next.UpdatedAt = now

	m := newMovement(l.ID, MovementReserve, -qty, MovementRef{
		ReferenceType: string(typ),
		ReferenceID:   firstNonEmpty(orderID, cartID),
	}, now)
	events := []Event{StockReserved{
		EventID:       uuid.NewString(),
		StockID:       l.ID,
		ReservationID: r.ID,
		ProductID:     l.ProductID,
		VariantID:     l.VariantID,
		WarehouseID:   l.WarehouseID,
		Quantity:      qty,
		CartID:        cartID,
		OrderID:       orderID,
		ExpiresAt:     expiresAt,
		OccurredAt:    now,
	}}
	return next, r, m, events, nil
}

// ConfirmReservation finalizes a sale: the reserved units leave the ledger
// for good and are never returned to available. Only a PENDING reservation
// belonging to this ledger can be confirmed; anything else is rejected so a
// caller can never double-apply.
func (l StockLedger) ConfirmReservation(r Reservation, orderID, performedBy string, now time.Time) (StockLedger, Reservation, StockMovement, []Event, error) {
	if r.StockID != l.ID {
		return l, r, StockMovement{}, nil, fmt.Errorf("%w: reservation %s does not belong to stock %s", ErrReservationNotFound, r.ID, l.ID)
	}
	if r.IsTerminal() {
		return l, r, StockMovement{}, nil, fmt.Errorf("%w: reservation %s is %s", ErrInvalidReservationState, r.ID, r.Status)
	}
	if r.Quantity > l.QuantityReserved {
		return l, r, StockMovement{}, nil, fmt.Errorf("reservation %s quantity %d exceeds reserved %d on stock %s", r.ID, r.Quantity, l.QuantityReserved, l.ID)
	}
	next := l
	next.QuantityReserved -= r.Quantity
	next.UpdatedAt = now

	updated := r
	updated.Status = ReservationConfirmed
	if orderID != "" {
		updated.OrderID = orderID
	}
	updated.UpdatedAt = now

	m := newMovement(l.ID, MovementConfirm, -r.Quantity, MovementRef{
		ReferenceType: "ORDER",
		ReferenceID:   updated.OrderID,
		PerformedBy:   performedBy,
	}, now)
	events := []Event{StockReservationConfirmed{
		EventID:       uuid.NewString(),
		StockID:       l.ID,
		ReservationID: r.ID,
		ProductID:     l.ProductID,
		VariantID:     l.VariantID,
		WarehouseID:   l.WarehouseID,
		Quantity:      r.Quantity,
		OrderID:       updated.OrderID,
		OccurredAt:    now,
	}}
	return next, updated, m, events, nil
}

// ReleaseReservation returns a PENDING reservation's quantity to available.
// A second release is rejected, not silently absorbed; callers racing the
// sweeper must treat the rejection as stale information, not a failure to
// retry.
func (l StockLedger) ReleaseReservation(r Reservation, reason string, now time.Time) (StockLedger, Reservation, StockMovement, []Event, error) {
	return l.release(r, reason, ReservationReleased, now)
}

// ExpireReservation is the sweeper's path: numerically identical to release
// but recorded as EXPIRED for audit clarity.
func (l StockLedger) ExpireReservation(r Reservation, now time.Time) (StockLedger, Reservation, StockMovement, []Event, error) {
	return l.release(r, "Reservation expired", ReservationExpired, now)
}

func (l StockLedger) release(r Reservation, reason string, terminal ReservationStatus, now time.Time) (StockLedger, Reservation, StockMovement, []Event, error) {
	if r.StockID != l.ID {
		return l, r, StockMovement{}, nil, fmt.Errorf("%w: reservation %s does not belong to stock %s", ErrReservationNotFound, r.ID, l.ID)
	}
	if r.IsTerminal() {
		return l, r, StockMovement{}, nil, fmt.Errorf("%w: reservation %s is %s", ErrInvalidReservationState, r.ID, r.Status)
	}
	if r.Quantity > l.QuantityReserved {
		return l, r, StockMovement{}, nil, fmt.Errorf("reservation %s quantity %d exceeds reserved %d on stock %s", r.ID, r.Quantity, l.QuantityReserved, l.ID)
	}
	next := l
	next.QuantityReserved -= r.Quantity
	next.QuantityAvailable += r.Quantity
	next.UpdatedAt = now

	updated := r
	updated.Status = terminal
	updated.UpdatedAt = now

	m := newMovement(l.ID, MovementRelease, r.Quantity, MovementRef{
		ReferenceType: string(r.Type),
		ReferenceID:   firstNonEmpty(r.OrderID, r.CartID),
		Note:          reason,
	}, now)
	events := []Event{StockReservationReleased{
		EventID:       uuid.NewString(),
		StockID:       l.ID,
		ReservationID: r.ID,
		ProductID:     l.ProductID,
		VariantID:     l.VariantID,
		WarehouseID:   l.WarehouseID,
		Quantity:      r.Quantity,
		Reason:        reason,
		Expired:       terminal == ReservationExpired,
		OccurredAt:    now,
	}}
	return next, updated, m, events, nil
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
