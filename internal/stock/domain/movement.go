package domain

import (
	"time"

	"github.com/google/uuid"
)

type MovementType string

const (
	MovementIncrease MovementType = "INCREASE"
	MovementDecrease MovementType = "DECREASE"
	MovementReserve  MovementType = "RESERVE"
	MovementRelease  MovementType = "RELEASE"
	MovementConfirm  MovementType = "CONFIRM"
)

// MovementRef identifies what caused a quantity change: an order, a manual
// adjustment, the expiry sweep. PerformedBy is empty for system actions.
type MovementRef struct {
	ReferenceType string
	ReferenceID   string
	PerformedBy   string
	Note          string
}

// StockMovement is the append-only audit record of one quantity change.
// Exactly one movement is written in the same transaction as every ledger
// mutation; movements are never updated or deleted.
type StockMovement struct {
	ID            string
	StockID       string
	Type          MovementType
	QuantityDelta int
	ReferenceType string
	ReferenceID   string
	PerformedBy   string
	Note          string
	OccurredAt    time.Time
}

func newMovement(stockID string, typ MovementType, delta int, ref MovementRef, now time.Time) StockMovement {
	return StockMovement{
		ID:            uuid.NewString(),
		StockID:       stockID,
		Type:          typ,
		QuantityDelta: delta,
		ReferenceType: ref.ReferenceType,
		ReferenceID:   ref.ReferenceID,
		PerformedBy:   ref.PerformedBy,
		Note:          ref.Note,
		OccurredAt:    now,
	}
}
