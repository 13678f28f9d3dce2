package application

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/stockd/stock-service/internal/stock/domain"
)

const (
	DefaultSweepInterval = 60 * time.Second
	defaultSweepBatch    = 100
)

// Sweeper reclaims reservations whose deadline has passed, returning their
// quantity through the same release path an explicit cancellation uses.
// Failures are isolated per reservation: one stuck entry never blocks the
// rest of the expired set, the next run picks it up again.
type Sweeper struct {
	log       *slog.Logger
	repo      StockRepository
	svc       *Service
	interval  time.Duration
	batchSize int
	now       func() time.Time
	tracer    trace.Tracer
}

func NewSweeper(log *slog.Logger, repo StockRepository, svc *Service, interval time.Duration, now func() time.Time) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{
		log:       log,
		repo:      repo,
		svc:       svc,
		interval:  interval,
		batchSize: defaultSweepBatch,
		now:       now,
		tracer:    otel.Tracer("stock-sweeper"),
	}
}

// Run sweeps on a fixed interval until ctx is cancelled. Each sweep runs
// synchronously on this goroutine, so runs never overlap; a tick arriving
// mid-sweep is dropped by the ticker and the next one starts a fresh run.
func (s *Sweeper) Run(ctx context.Context) error {
	t := time.NewTicker(s.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("sweeper stopping")
			return nil
		case <-t.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep releases every reservation past its deadline, best effort. It
// returns how many were expired and how many failed, for tests and logging.
func (s *Sweeper) Sweep(ctx context.Context) (expired, failed int) {
	ctx, span := s.tracer.Start(ctx, "SweepExpiredReservations")
	defer span.End()

	due, err := s.repo.ListExpiredReservations(ctx, s.now(), s.batchSize)
	if err != nil {
		s.log.Error("sweep query failed", "err", err)
		return 0, 0
	}
	if len(due) == 0 {
		return 0, 0
	}

	for _, r := range due {
		if _, err := s.svc.ExpireReservation(ctx, r.ID); err != nil {
			if errors.Is(err, domain.ErrInvalidReservationState) {
				// Lost the race to an explicit confirm or release after the
				// scan; the reservation is already terminal. Not a failure.
				s.log.Info("reservation no longer pending, skipping", "reservation_id", r.ID)
				continue
			}
			failed++
			s.log.Error("expire reservation failed", "reservation_id", r.ID, "stock_id", r.StockID, "err", err)
			continue
		}
		expired++
	}
	s.log.Info("sweep complete", "expired", expired, "failed", failed, "scanned", len(due))
	return expired, failed
}
