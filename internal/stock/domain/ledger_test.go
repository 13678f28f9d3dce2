package domain_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stockd/stock-service/internal/stock/domain"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newLedger(t *testing.T, initial int) domain.StockLedger {
	t.Helper()
	l, _, _, err := domain.NewStockLedger("prod-1", "var-1", "wh-1", initial, 3, 5, "tester", testNow)
	require.NoError(t, err)
	return l
}

func TestNewStockLedger(t *testing.T) {
	l, m, events, err := domain.NewStockLedger("prod-1", "var-1", "wh-1", 10, 3, 5, "tester", testNow)
	require.NoError(t, err)

	assert.NotEmpty(t, l.ID)
	assert.Equal(t, 10, l.QuantityAvailable)
	assert.Equal(t, 0, l.QuantityReserved)
	assert.Equal(t, int64(0), l.Version)

	require.NotNil(t, m)
	assert.Equal(t, domain.MovementIncrease, m.Type)
	assert.Equal(t, 10, m.QuantityDelta)
	assert.Equal(t, "initial stock", m.Note)

	require.Len(t, events, 1)
	created, ok := events[0].(domain.StockCreated)
	require.True(t, ok)
	assert.Equal(t, l.ID, created.StockID)
	assert.Equal(t, 10, created.Quantity)
	assert.NotEmpty(t, created.EventID)
}

func TestNewStockLedgerZeroInitialHasNoMovement(t *testing.T) {
	_, m, _, err := domain.NewStockLedger("prod-1", "var-1", "wh-1", 0, 3, 5, "", testNow)
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestNewStockLedgerRejectsNegativeInitial(t *testing.T) {
	_, _, _, err := domain.NewStockLedger("prod-1", "var-1", "wh-1", -1, 3, 5, "", testNow)
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)
}

func TestIncrease(t *testing.T) {
	l := newLedger(t, 10)

	next, m, events, err := l.Increase(5, domain.MovementRef{ReferenceType: "PURCHASE_ORDER", ReferenceID: "po-9"}, testNow)
	require.NoError(t, err)

	assert.Equal(t, 15, next.QuantityAvailable)
	assert.Equal(t, 10, l.QuantityAvailable, "input ledger must be untouched")
	assert.Equal(t, domain.MovementIncrease, m.Type)
	assert.Equal(t, 5, m.QuantityDelta)

	require.Len(t, events, 1)
	inc := events[0].(domain.StockIncreased)
	assert.Equal(t, 5, inc.Quantity)
	assert.Equal(t, 15, inc.Available)
}

func TestIncreaseRejectsNonPositive(t *testing.T) {
	l := newLedger(t, 10)
	for _, qty := range []int{0, -4} {
		_, _, _, err := l.Increase(qty, domain.MovementRef{}, testNow)
		assert.ErrorIs(t, err, domain.ErrInvalidQuantity)
	}
}

func TestDecrease(t *testing.T) {
	l := newLedger(t, 10)

	next, m, events, err := l.Decrease(4, domain.MovementRef{ReferenceType: "ORDER", ReferenceID: "ord-1"}, testNow)
	require.NoError(t, err)

	assert.Equal(t, 6, next.QuantityAvailable)
	assert.Equal(t, domain.MovementDecrease, m.Type)
	assert.Equal(t, -4, m.QuantityDelta)
	require.Len(t, events, 1)
	assert.IsType(t, domain.StockDecreased{}, events[0])
}

func TestDecreaseInsufficientLeavesStateUnchanged(t *testing.T) {
	l := newLedger(t, 3)

	next, _, events, err := l.Decrease(4, domain.MovementRef{}, testNow)
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)
	assert.Equal(t, l, next)
	assert.Empty(t, events)
}

func TestLowStockReachedFiresOnceOnCrossing(t *testing.T) {
	l := newLedger(t, 10) // threshold 3

	next, _, events, err := l.Decrease(7, domain.MovementRef{}, testNow)
	require.NoError(t, err)
	require.Len(t, events, 2)
	low := events[1].(domain.LowStockReached)
	assert.Equal(t, 3, low.Available)
	assert.Equal(t, 3, low.Threshold)

	// Already below threshold: no second alert.
	_, _, events, err = next.Decrease(1, domain.MovementRef{}, testNow)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.IsType(t, domain.StockDecreased{}, events[0])
}

// Scenario: 10 available, reserve 4 for a cart with a one hour deadline.
func TestReserve(t *testing.T) {
	l := newLedger(t, 10)
	expires := testNow.Add(time.Hour)

	next, r, m, events, err := l.Reserve(4, domain.ReservationCart, "cart-1", "", &expires, testNow)
	require.NoError(t, err)

	assert.Equal(t, 6, next.QuantityAvailable)
	assert.Equal(t, 4, next.QuantityReserved)
	assert.Equal(t, domain.ReservationPending, r.Status)
	assert.Equal(t, 4, r.Quantity)
	assert.Equal(t, l.ID, r.StockID)
	require.NotNil(t, r.ExpiresAt)
	assert.Equal(t, expires, *r.ExpiresAt)

	assert.Equal(t, domain.MovementReserve, m.Type)
	assert.Equal(t, -4, m.QuantityDelta)

	require.Len(t, events, 1)
	rev := events[0].(domain.StockReserved)
	assert.Equal(t, r.ID, rev.ReservationID)
	assert.Equal(t, "cart-1", rev.CartID)
}

func TestReserveInsufficientLeavesStateUnchanged(t *testing.T) {
	l := newLedger(t, 5)

	next, _, _, events, err := l.Reserve(10, domain.ReservationOrder, "", "ord-1", nil, testNow)
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)
	assert.Equal(t, l, next)
	assert.Empty(t, events)
}

func TestReserveRejectsCartAndOrderTogether(t *testing.T) {
	l := newLedger(t, 5)
	expires := testNow.Add(time.Hour)
	_, _, _, _, err := l.Reserve(2, domain.ReservationCart, "cart-1", "ord-1", &expires, testNow)
	assert.Error(t, err)
}

func TestReserveCartRequiresExpiry(t *testing.T) {
	l := newLedger(t, 5)
	_, _, _, _, err := l.Reserve(2, domain.ReservationCart, "cart-1", "", nil, testNow)
	assert.Error(t, err)
}

func TestConfirmReservation(t *testing.T) {
	l := newLedger(t, 10)
	expires := testNow.Add(time.Hour)
	afterReserve, r, _, _, err := l.Reserve(4, domain.ReservationCart, "cart-1", "", &expires, testNow)
	require.NoError(t, err)

	next, updated, m, events, err := afterReserve.ConfirmReservation(r, "ord-7", "user-1", testNow)
	require.NoError(t, err)

	// The units are sold: reserved drops, available stays down.
	assert.Equal(t, 6, next.QuantityAvailable)
	assert.Equal(t, 0, next.QuantityReserved)
	assert.Equal(t, domain.ReservationConfirmed, updated.Status)
	assert.Equal(t, "ord-7", updated.OrderID)

	assert.Equal(t, domain.MovementConfirm, m.Type)
	assert.Equal(t, -4, m.QuantityDelta)

	require.Len(t, events, 1)
	conf := events[0].(domain.StockReservationConfirmed)
	assert.Equal(t, "ord-7", conf.OrderID)
}

func TestReleaseReservationRestoresAvailable(t *testing.T) {
	l := newLedger(t, 10)
	expires := testNow.Add(time.Hour)
	afterReserve, r, _, _, err := l.Reserve(4, domain.ReservationCart, "cart-1", "", &expires, testNow)
	require.NoError(t, err)

	next, updated, m, events, err := afterReserve.ReleaseReservation(r, "cart abandoned", testNow)
	require.NoError(t, err)

	assert.Equal(t, 10, next.QuantityAvailable, "release must restore the pre-reservation quantity exactly")
	assert.Equal(t, 0, next.QuantityReserved)
	assert.Equal(t, domain.ReservationReleased, updated.Status)

	assert.Equal(t, domain.MovementRelease, m.Type)
	assert.Equal(t, 4, m.QuantityDelta)
	assert.Equal(t, "cart abandoned", m.Note)

	require.Len(t, events, 1)
	rel := events[0].(domain.StockReservationReleased)
	assert.Equal(t, "cart abandoned", rel.Reason)
	assert.False(t, rel.Expired)
}

func TestExpireReservationMatchesReleaseNumerically(t *testing.T) {
	l := newLedger(t, 10)
	expires := testNow.Add(time.Hour)
	afterReserve, r, _, _, err := l.Reserve(4, domain.ReservationCart, "cart-1", "", &expires, testNow)
	require.NoError(t, err)

	next, updated, m, events, err := afterReserve.ExpireReservation(r, testNow.Add(2*time.Hour))
	require.NoError(t, err)

	assert.Equal(t, 10, next.QuantityAvailable)
	assert.Equal(t, 0, next.QuantityReserved)
	assert.Equal(t, domain.ReservationExpired, updated.Status)
	assert.Equal(t, "Reservation expired", m.Note)

	rel := events[0].(domain.StockReservationReleased)
	assert.True(t, rel.Expired)
	assert.Equal(t, "Reservation expired", rel.Reason)
}

func TestTerminalReservationRejectsEveryTransition(t *testing.T) {
	l := newLedger(t, 10)
	expires := testNow.Add(time.Hour)
	afterReserve, r, _, _, err := l.Reserve(4, domain.ReservationCart, "cart-1", "", &expires, testNow)
	require.NoError(t, err)

	terminalStates := []func() (domain.StockLedger, domain.Reservation){
		func() (domain.StockLedger, domain.Reservation) {
			next, updated, _, _, err := afterReserve.ConfirmReservation(r, "ord-1", "", testNow)
			require.NoError(t, err)
			return next, updated
		},
		func() (domain.StockLedger, domain.Reservation) {
			next, updated, _, _, err := afterReserve.ReleaseReservation(r, "canceled", testNow)
			require.NoError(t, err)
			return next, updated
		},
		func() (domain.StockLedger, domain.Reservation) {
			next, updated, _, _, err := afterReserve.ExpireReservation(r, testNow)
			require.NoError(t, err)
			return next, updated
		},
	}

	for _, reach := range terminalStates {
		ledger, terminal := reach()

		_, _, _, _, err := ledger.ConfirmReservation(terminal, "ord-2", "", testNow)
		assert.ErrorIs(t, err, domain.ErrInvalidReservationState)

		_, _, _, _, err = ledger.ReleaseReservation(terminal, "again", testNow)
		assert.ErrorIs(t, err, domain.ErrInvalidReservationState)

		_, _, _, _, err = ledger.ExpireReservation(terminal, testNow)
		assert.ErrorIs(t, err, domain.ErrInvalidReservationState)
	}
}

func TestReservationOfOtherLedgerRejected(t *testing.T) {
	l := newLedger(t, 10)
	other := newLedger(t, 10)
	expires := testNow.Add(time.Hour)
	_, r, _, _, err := other.Reserve(2, domain.ReservationCart, "cart-1", "", &expires, testNow)
	require.NoError(t, err)

	_, _, _, _, err = l.ConfirmReservation(r, "ord-1", "", testNow)
	assert.ErrorIs(t, err, domain.ErrReservationNotFound)

	_, _, _, _, err = l.ReleaseReservation(r, "nope", testNow)
	assert.ErrorIs(t, err, domain.ErrReservationNotFound)
}

// A reservation claiming more than the ledger has reserved is inconsistent
// data; the mutation must refuse it instead of driving reserved negative.
func TestReservedQuantityUnderflowRejected(t *testing.T) {
	l := newLedger(t, 10)
	expires := testNow.Add(time.Hour)
	afterReserve, r, _, _, err := l.Reserve(2, domain.ReservationCart, "cart-1", "", &expires, testNow)
	require.NoError(t, err)

	tampered := r
	tampered.Quantity = 5

	next, _, _, _, err := afterReserve.ConfirmReservation(tampered, "ord-1", "", testNow)
	assert.Error(t, err)
	assert.Equal(t, afterReserve, next)

	next, _, _, _, err = afterReserve.ReleaseReservation(tampered, "oops", testNow)
	assert.Error(t, err)
	assert.Equal(t, afterReserve, next)

	_, _, _, _, err = afterReserve.ExpireReservation(tampered, testNow)
	assert.Error(t, err)
}

func TestQuantitiesNeverNegative(t *testing.T) {
	l := newLedger(t, 2)
	expires := testNow.Add(time.Hour)

	afterReserve, _, _, _, err := l.Reserve(2, domain.ReservationCart, "cart-1", "", &expires, testNow)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, afterReserve.QuantityAvailable, 0)
	assert.GreaterOrEqual(t, afterReserve.QuantityReserved, 0)

	_, _, _, err = afterReserve.Decrease(1, domain.MovementRef{}, testNow)
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)

	_, _, _, _, err = afterReserve.Reserve(1, domain.ReservationOrder, "", "ord-1", nil, testNow)
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)
}
