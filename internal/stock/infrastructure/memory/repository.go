// Package memory holds an in-memory StockRepository with the same
// optimistic-concurrency contract as the postgres adapter. It backs unit
// tests and local development without a database.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/stockd/stock-service/internal/stock/domain"
)

type Repository struct {
	mu           sync.Mutex
	ledgers      map[string]domain.StockLedger
	byVariantWH  map[string]string
	reservations map[string]domain.Reservation
	movements    []domain.StockMovement
	published    []domain.Event
}

func NewRepository() *Repository {
	return &Repository{
		ledgers:      make(map[string]domain.StockLedger),
		byVariantWH:  make(map[string]string),
		reservations: make(map[string]domain.Reservation),
	}
}

func key(variantID, warehouseID string) string {
	return variantID + "|" + warehouseID
}

func (r *Repository) Create(_ context.Context, l domain.StockLedger, m *domain.StockMovement, events []domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key(l.VariantID, l.WarehouseID)
	if _, exists := r.byVariantWH[k]; exists {
		return fmt.Errorf("%w: variant %s warehouse %s", domain.ErrDuplicateStock, l.VariantID, l.WarehouseID)
	}
	r.ledgers[l.ID] = l
	r.byVariantWH[k] = l.ID
	if m != nil {
		r.movements = append(r.movements, *m)
	}
	r.published = append(r.published, events...)
	return nil
}

func (r *Repository) Save(_ context.Context, l domain.StockLedger, res *domain.Reservation, m domain.StockMovement, events []domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.ledgers[l.ID]
	if !ok {
		return domain.ErrStockNotFound
	}
	if cur.Version != l.Version {
		return fmt.Errorf("%w: stock %s version %d", domain.ErrConcurrencyConflict, l.ID, l.Version)
	}
	l.Version++
	r.ledgers[l.ID] = l
	if res != nil {
		r.reservations[res.ID] = *res
	}
	r.movements = append(r.movements, m)
	r.published = append(r.published, events...)
	return nil
}

func (r *Repository) GetByID(_ context.Context, id string) (domain.StockLedger, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.ledgers[id]
	if !ok {
		return domain.StockLedger{}, domain.ErrStockNotFound
	}
	return l, nil
}

func (r *Repository) GetByVariantAndWarehouse(_ context.Context, variantID, warehouseID string) (domain.StockLedger, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byVariantWH[key(variantID, warehouseID)]
	if !ok {
		return domain.StockLedger{}, domain.ErrStockNotFound
	}
	return r.ledgers[id], nil
}

func (r *Repository) ListByVariant(_ context.Context, variantID string) ([]domain.StockLedger, error) {
	return r.filter(func(l domain.StockLedger) bool { return l.VariantID == variantID }), nil
}

func (r *Repository) ListByWarehouse(_ context.Context, warehouseID string) ([]domain.StockLedger, error) {
	return r.filter(func(l domain.StockLedger) bool { return l.WarehouseID == warehouseID }), nil
}

func (r *Repository) ListLowStock(_ context.Context, warehouseID string) ([]domain.StockLedger, error) {
	return r.filter(func(l domain.StockLedger) bool {
		return l.WarehouseID == warehouseID && l.IsLowStock()
	}), nil
}

func (r *Repository) filter(keep func(domain.StockLedger) bool) []domain.StockLedger {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []domain.StockLedger
	for _, l := range r.ledgers {
		if keep(l) {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Repository) GetReservation(_ context.Context, id string) (domain.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	res, ok := r.reservations[id]
	if !ok {
		return domain.Reservation{}, domain.ErrReservationNotFound
	}
	return res, nil
}

func (r *Repository) ListExpiredReservations(_ context.Context, cutoff time.Time, limit int) ([]domain.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []domain.Reservation
	for _, res := range r.reservations {
		if res.Status == domain.ReservationPending && res.ExpiresAt != nil && !res.ExpiresAt.After(cutoff) {
			out = append(out, res)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(*out[j].ExpiresAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *Repository) ListMovements(_ context.Context, stockID string, limit int) ([]domain.StockMovement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []domain.StockMovement
	for i := len(r.movements) - 1; i >= 0 && len(out) < limit; i-- {
		if r.movements[i].StockID == stockID {
			out = append(out, r.movements[i])
		}
	}
	return out, nil
}

// PublishedEvents snapshots everything written to the outbox, in commit
// order.
func (r *Repository) PublishedEvents() []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.Event, len(r.published))
	copy(out, r.published)
	return out
}

// PutReservation seeds a reservation directly, bypassing the ledger. Tests
// use it to simulate corrupted references.
func (r *Repository) PutReservation(res domain.Reservation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reservations[res.ID] = res
}
