package application

import (
	"context"
	"time"

	"github.com/stockd/stock-service/internal/stock/domain"
)

// StockRepository is the persistence port. Write methods are transactional:
// ledger row, reservation row, movement row and outbox records commit or
// roll back together. Save is conditioned on the ledger's Version and
// returns domain.ErrConcurrencyConflict when another writer got there first.
type StockRepository interface {
	Create(ctx context.Context, l domain.StockLedger, m *domain.StockMovement, events []domain.Event) error
	Save(ctx context.Context, l domain.StockLedger, r *domain.Reservation, m domain.StockMovement, events []domain.Event) error

	GetByID(ctx context.Context, id string) (domain.StockLedger, error)
	GetByVariantAndWarehouse(ctx context.Context, variantID, warehouseID string) (domain.StockLedger, error)
	ListByVariant(ctx context.Context, variantID string) ([]domain.StockLedger, error)
	ListByWarehouse(ctx context.Context, warehouseID string) ([]domain.StockLedger, error)
	ListLowStock(ctx context.Context, warehouseID string) ([]domain.StockLedger, error)

	GetReservation(ctx context.Context, id string) (domain.Reservation, error)
	ListExpiredReservations(ctx context.Context, cutoff time.Time, limit int) ([]domain.Reservation, error)
	ListMovements(ctx context.Context, stockID string, limit int) ([]domain.StockMovement, error)
}
