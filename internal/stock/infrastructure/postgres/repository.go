package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stockd/stock-service/internal/stock/domain"
	"github.com/stockd/stock-service/pkg/tracing"
)

const uniqueViolation = "23505"

type Repository struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewRepository(log *slog.Logger, pool *pgxpool.Pool) *Repository {
	return &Repository{log: log, pool: pool}
}

func (r *Repository) Create(ctx context.Context, l domain.StockLedger, m *domain.StockMovement, events []domain.Event) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	_, err = tx.Exec(ctx, `INSERT INTO stock
		(id, product_id, variant_id, warehouse_id, quantity_available, quantity_reserved, low_stock_threshold, reorder_point, version, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		l.ID, l.ProductID, l.VariantID, l.WarehouseID, l.QuantityAvailable, l.QuantityReserved,
		l.LowStockThreshold, l.ReorderPoint, l.Version, l.CreatedAt, l.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("%w: variant %s warehouse %s", domain.ErrDuplicateStock, l.VariantID, l.WarehouseID)
		}
		return err
	}
	if m != nil {
		if err := insertMovement(ctx, tx, *m); err != nil {
			return err
		}
	}
	if err := insertOutbox(ctx, tx, l.ID, events, tracing.Traceparent(ctx)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Save writes a mutated ledger back conditioned on the version it was loaded
// at. The version bump, the reservation upsert, the movement append and the
// outbox records share one transaction; a stale version rolls everything
// back with domain.ErrConcurrencyConflict.
func (r *Repository) Save(ctx context.Context, l domain.StockLedger, res *domain.Reservation, m domain.StockMovement, events []domain.Event) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	ct, err := tx.Exec(ctx, `UPDATE stock
		SET quantity_available=$1, quantity_reserved=$2, low_stock_threshold=$3, reorder_point=$4,
		    version=version+1, updated_at=$5
		WHERE id=$6 AND version=$7`,
		l.QuantityAvailable, l.QuantityReserved, l.LowStockThreshold, l.ReorderPoint,
		l.UpdatedAt, l.ID, l.Version)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("%w: stock %s version %d", domain.ErrConcurrencyConflict, l.ID, l.Version)
	}

	if res != nil {
		_, err = tx.Exec(ctx, `INSERT INTO reservations
			(id, stock_id, quantity, type, cart_id, order_id, status, expires_at, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
			ON CONFLICT (id) DO UPDATE SET status=$7, order_id=$6, updated_at=$10`,
			res.ID, res.StockID, res.Quantity, res.Type, res.CartID, res.OrderID, res.Status,
			res.ExpiresAt, res.CreatedAt, res.UpdatedAt)
		if err != nil {
			return err
		}
	}
	if err := insertMovement(ctx, tx, m); err != nil {
		return err
	}
	if err := insertOutbox(ctx, tx, l.ID, events, tracing.Traceparent(ctx)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repository) GetByID(ctx context.Context, id string) (domain.StockLedger, error) {
	return r.getLedger(ctx, `WHERE id=$1`, id)
}

func (r *Repository) GetByVariantAndWarehouse(ctx context.Context, variantID, warehouseID string) (domain.StockLedger, error) {
	return r.getLedger(ctx, `WHERE variant_id=$1 AND warehouse_id=$2`, variantID, warehouseID)
}

const ledgerColumns = `id, product_id, variant_id, warehouse_id, quantity_available, quantity_reserved, low_stock_threshold, reorder_point, version, created_at, updated_at`

func (r *Repository) getLedger(ctx context.Context, where string, args ...any) (domain.StockLedger, error) {
	var l domain.StockLedger
	err := r.pool.QueryRow(ctx, `SELECT `+ledgerColumns+` FROM stock `+where, args...).
		Scan(&l.ID, &l.ProductID, &l.VariantID, &l.WarehouseID, &l.QuantityAvailable, &l.QuantityReserved,
			&l.LowStockThreshold, &l.ReorderPoint, &l.Version, &l.CreatedAt, &l.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.StockLedger{}, domain.ErrStockNotFound
	}
	if err != nil {
		return domain.StockLedger{}, err
	}
	return l, nil
}

func (r *Repository) ListByVariant(ctx context.Context, variantID string) ([]domain.StockLedger, error) {
	return r.listLedgers(ctx, `WHERE variant_id=$1 ORDER BY warehouse_id`, variantID)
}

func (r *Repository) ListByWarehouse(ctx context.Context, warehouseID string) ([]domain.StockLedger, error) {
	return r.listLedgers(ctx, `WHERE warehouse_id=$1 ORDER BY variant_id`, warehouseID)
}

func (r *Repository) ListLowStock(ctx context.Context, warehouseID string) ([]domain.StockLedger, error) {
	return r.listLedgers(ctx, `WHERE warehouse_id=$1 AND quantity_available <= low_stock_threshold ORDER BY variant_id`, warehouseID)
}

func (r *Repository) listLedgers(ctx context.Context, where string, args ...any) ([]domain.StockLedger, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+ledgerColumns+` FROM stock `+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.StockLedger
	for rows.Next() {
		var l domain.StockLedger
		if err := rows.Scan(&l.ID, &l.ProductID, &l.VariantID, &l.WarehouseID, &l.QuantityAvailable, &l.QuantityReserved,
			&l.LowStockThreshold, &l.ReorderPoint, &l.Version, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

const reservationColumns = `id, stock_id, quantity, type, cart_id, order_id, status, expires_at, created_at, updated_at`

func (r *Repository) GetReservation(ctx context.Context, id string) (domain.Reservation, error) {
	var res domain.Reservation
	err := r.pool.QueryRow(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE id=$1`, id).
		Scan(&res.ID, &res.StockID, &res.Quantity, &res.Type, &res.CartID, &res.OrderID, &res.Status,
			&res.ExpiresAt, &res.CreatedAt, &res.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Reservation{}, domain.ErrReservationNotFound
	}
	if err != nil {
		return domain.Reservation{}, err
	}
	return res, nil
}

func (r *Repository) ListExpiredReservations(ctx context.Context, cutoff time.Time, limit int) ([]domain.Reservation, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+reservationColumns+` FROM reservations
		WHERE status='PENDING' AND expires_at IS NOT NULL AND expires_at <= $1
		ORDER BY expires_at LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Reservation
	for rows.Next() {
		var res domain.Reservation
		if err := rows.Scan(&res.ID, &res.StockID, &res.Quantity, &res.Type, &res.CartID, &res.OrderID, &res.Status,
			&res.ExpiresAt, &res.CreatedAt, &res.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

func (r *Repository) ListMovements(ctx context.Context, stockID string, limit int) ([]domain.StockMovement, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, stock_id, type, quantity_delta, reference_type, reference_id, performed_by, note, occurred_at
		FROM stock_movements WHERE stock_id=$1 ORDER BY occurred_at DESC LIMIT $2`, stockID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.StockMovement
	for rows.Next() {
		var m domain.StockMovement
		if err := rows.Scan(&m.ID, &m.StockID, &m.Type, &m.QuantityDelta, &m.ReferenceType, &m.ReferenceID,
			&m.PerformedBy, &m.Note, &m.OccurredAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func insertMovement(ctx context.Context, tx pgx.Tx, m domain.StockMovement) error {
	_, err := tx.Exec(ctx, `INSERT INTO stock_movements
		(id, stock_id, type, quantity_delta, reference_type, reference_id, performed_by, note, occurred_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		m.ID, m.StockID, m.Type, m.QuantityDelta, m.ReferenceType, m.ReferenceID, m.PerformedBy, m.Note, m.OccurredAt)
	return err
}

func insertOutbox(ctx context.Context, tx pgx.Tx, stockID string, events []domain.Event, traceparent string) error {
	for _, ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `INSERT INTO outbox (aggregate_type, aggregate_id, type, payload, headers, traceparent, status)
			VALUES ($1,$2,$3,$4,$5,$6,'pending')`,
			"stock", stockID, ev.EventType(), payload, map[string]string{"source": "stock-service"}, traceparent)
		if err != nil {
			return err
		}
	}
	return nil
}
