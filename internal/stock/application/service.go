package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/stockd/stock-service/internal/stock/domain"
)

// maxConflictRetries bounds how often a write use case is replayed after an
// optimistic-lock conflict. Each retry reloads the aggregate and re-runs the
// domain operation so invariants are checked against fresh state.
const maxConflictRetries = 3

type Service struct {
	log  *slog.Logger
	repo StockRepository
	now  func() time.Time
}

func NewService(log *slog.Logger, repo StockRepository, now func() time.Time) *Service {
	return &Service{log: log, repo: repo, now: now}
}

type CreateStockInput struct {
	ProductID         string
	VariantID         string
	WarehouseID       string
	InitialQuantity   int
	LowStockThreshold int
	ReorderPoint      int
	PerformedBy       string
}

type AdjustStockInput struct {
	StockID       string
	Quantity      int // positive adds stock, negative removes
	ReferenceType string
	ReferenceID   string
	PerformedBy   string
	Note          string
}

type ReserveStockInput struct {
	StockID   string
	Quantity  int
	Type      domain.ReservationType
	CartID    string
	OrderID   string
	ExpiresAt *time.Time
}

func (s *Service) CreateStock(ctx context.Context, in CreateStockInput) (domain.StockLedger, error) {
	l, m, events, err := domain.NewStockLedger(in.ProductID, in.VariantID, in.WarehouseID, in.InitialQuantity, in.LowStockThreshold, in.ReorderPoint, in.PerformedBy, s.now())
	if err != nil {
		return domain.StockLedger{}, err
	}
	if err := s.repo.Create(ctx, l, m, events); err != nil {
		return domain.StockLedger{}, err
	}
	s.log.Info("stock created", "stock_id", l.ID, "variant_id", l.VariantID, "warehouse_id", l.WarehouseID, "quantity", in.InitialQuantity)
	return l, nil
}

func (s *Service) AdjustStock(ctx context.Context, in AdjustStockInput) (domain.StockLedger, error) {
	if in.Quantity == 0 {
		return domain.StockLedger{}, fmt.Errorf("%w: adjustment of 0", domain.ErrInvalidQuantity)
	}
	var out domain.StockLedger
	err := s.retryOnConflict(ctx, "adjust", func(ctx context.Context) error {
		l, err := s.repo.GetByID(ctx, in.StockID)
		if err != nil {
			return err
		}
		ref := domain.MovementRef{
			ReferenceType: in.ReferenceType,
			ReferenceID:   in.ReferenceID,
			PerformedBy:   in.PerformedBy,
			Note:          in.Note,
		}
		var (
			next   domain.StockLedger
			m      domain.StockMovement
			events []domain.Event
		)
		if in.Quantity > 0 {
			next, m, events, err = l.Increase(in.Quantity, ref, s.now())
		} else {
			next, m, events, err = l.Decrease(-in.Quantity, ref, s.now())
		}
		if err != nil {
			return err
		}
		if err := s.repo.Save(ctx, next, nil, m, events); err != nil {
			return err
		}
		out = next
		return nil
	})
	return out, err
}

func (s *Service) ReserveStock(ctx context.Context, in ReserveStockInput) (domain.Reservation, error) {
	var out domain.Reservation
	err := s.retryOnConflict(ctx, "reserve", func(ctx context.Context) error {
		l, err := s.repo.GetByID(ctx, in.StockID)
		if err != nil {
			return err
		}
		next, r, m, events, err := l.Reserve(in.Quantity, in.Type, in.CartID, in.OrderID, in.ExpiresAt, s.now())
		if err != nil {
			return err
		}
		if err := s.repo.Save(ctx, next, &r, m, events); err != nil {
			return err
		}
		out = r
		return nil
	})
	if err == nil {
		s.log.Info("stock reserved", "stock_id", in.StockID, "reservation_id", out.ID, "quantity", in.Quantity)
	}
	return out, err
}

func (s *Service) ConfirmReservation(ctx context.Context, reservationID, orderID, performedBy string) (domain.Reservation, error) {
	var out domain.Reservation
	err := s.retryOnConflict(ctx, "confirm", func(ctx context.Context) error {
		r, err := s.repo.GetReservation(ctx, reservationID)
		if err != nil {
			return err
		}
		l, err := s.repo.GetByID(ctx, r.StockID)
		if err != nil {
			return err
		}
		next, updated, m, events, err := l.ConfirmReservation(r, orderID, performedBy, s.now())
		if err != nil {
			return err
		}
		if err := s.repo.Save(ctx, next, &updated, m, events); err != nil {
			return err
		}
		out = updated
		return nil
	})
	return out, err
}

func (s *Service) ReleaseReservation(ctx context.Context, reservationID, reason string) (domain.Reservation, error) {
	return s.releaseWith(ctx, reservationID, func(l domain.StockLedger, r domain.Reservation) (domain.StockLedger, domain.Reservation, domain.StockMovement, []domain.Event, error) {
		return l.ReleaseReservation(r, reason, s.now())
	})
}

// ExpireReservation is the sweeper's release path; it records the terminal
// state as EXPIRED instead of RELEASED.
func (s *Service) ExpireReservation(ctx context.Context, reservationID string) (domain.Reservation, error) {
	return s.releaseWith(ctx, reservationID, func(l domain.StockLedger, r domain.Reservation) (domain.StockLedger, domain.Reservation, domain.StockMovement, []domain.Event, error) {
		return l.ExpireReservation(r, s.now())
	})
}

func (s *Service) releaseWith(ctx context.Context, reservationID string, op func(domain.StockLedger, domain.Reservation) (domain.StockLedger, domain.Reservation, domain.StockMovement, []domain.Event, error)) (domain.Reservation, error) {
	var out domain.Reservation
	err := s.retryOnConflict(ctx, "release", func(ctx context.Context) error {
		r, err := s.repo.GetReservation(ctx, reservationID)
		if err != nil {
			return err
		}
		l, err := s.repo.GetByID(ctx, r.StockID)
		if err != nil {
			return err
		}
		next, updated, m, events, err := op(l, r)
		if err != nil {
			return err
		}
		if err := s.repo.Save(ctx, next, &updated, m, events); err != nil {
			return err
		}
		out = updated
		return nil
	})
	return out, err
}

func (s *Service) GetStock(ctx context.Context, id string) (domain.StockLedger, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) GetStockByVariantAndWarehouse(ctx context.Context, variantID, warehouseID string) (domain.StockLedger, error) {
	return s.repo.GetByVariantAndWarehouse(ctx, variantID, warehouseID)
}

func (s *Service) ListStockByVariant(ctx context.Context, variantID string) ([]domain.StockLedger, error) {
	return s.repo.ListByVariant(ctx, variantID)
}

func (s *Service) ListStockByWarehouse(ctx context.Context, warehouseID string) ([]domain.StockLedger, error) {
	return s.repo.ListByWarehouse(ctx, warehouseID)
}

func (s *Service) ListLowStock(ctx context.Context, warehouseID string) ([]domain.StockLedger, error) {
	return s.repo.ListLowStock(ctx, warehouseID)
}

func (s *Service) ListMovements(ctx context.Context, stockID string, limit int) ([]domain.StockMovement, error) {
	return s.repo.ListMovements(ctx, stockID, limit)
}

func (s *Service) retryOnConflict(ctx context.Context, op string, fn func(context.Context) error) error {
	var err error
	for attempt := 1; attempt <= maxConflictRetries; attempt++ {
		err = fn(ctx)
		if !errors.Is(err, domain.ErrConcurrencyConflict) {
			return err
		}
		s.log.Warn("concurrency conflict, retrying", "op", op, "attempt", attempt)
	}
	return err
}
