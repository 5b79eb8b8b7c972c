package controller

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

type countingFinalizer struct {
	calls  atomic.Int32
	reason EndReason
	err    error
}

func (f *countingFinalizer) Finalize(ctx context.Context, sessionID uuid.UUID, reason EndReason) error {
	f.calls.Add(1)
	f.reason = reason
	return f.err
}

type countingTeardown struct {
	calls atomic.Int32
}

func (t *countingTeardown) Teardown() { t.calls.Add(1) }

func newTestController(budgetSeconds int64, costPerMinute float64) (*Controller, *countingFinalizer, *countingTeardown) {
	finalizer := &countingFinalizer{}
	teardown := &countingTeardown{}
	ctrl := New(&Config{
		SessionID:     uuid.New(),
		CostPerMinute: costPerMinute,
		BudgetSeconds: budgetSeconds,
		Finalizer:     finalizer,
		Teardown:      teardown,
	})
	return ctrl, finalizer, teardown
}

func advance(ctrl *Controller, seconds int) {
	ctx := context.Background()
	for i := 0; i < seconds; i++ {
		ctrl.tick(ctx)
	}
}

func TestBudgetExhaustion(t *testing.T) {
	// 10 credits at $2/min buys 300 seconds
	ctrl, finalizer, teardown := newTestController(300, 2.0)

	advance(ctrl, 299)
	ended, _ := ctrl.Ended()
	assert.False(t, ended)

	advance(ctrl, 1)
	ended, reason := ctrl.Ended()
	assert.True(t, ended)
	assert.Equal(t, ReasonCreditsExhausted, reason)
	assert.Equal(t, int32(1), finalizer.calls.Load())
	assert.Equal(t, int32(1), teardown.calls.Load())
	assert.Equal(t, ReasonCreditsExhausted, finalizer.reason)
}

func TestTopUpExtendsAdditively(t *testing.T) {
	ctrl, _, _ := newTestController(300, 2.0)

	advance(ctrl, 100)
	// $2 buys another 60 seconds on top of the original budget
	assert.Equal(t, int64(360), ctrl.AddFunds(2.0))

	advance(ctrl, 259)
	ended, _ := ctrl.Ended()
	assert.False(t, ended)

	advance(ctrl, 1)
	ended, reason := ctrl.Ended()
	assert.True(t, ended)
	assert.Equal(t, ReasonCreditsExhausted, reason)
	assert.Equal(t, int64(360), ctrl.Elapsed())
}

func TestUnlimitedBudgetNeverEnds(t *testing.T) {
	ctrl, _, _ := newTestController(UnlimitedBudget, 0)

	advance(ctrl, 10000)
	ended, _ := ctrl.Ended()
	assert.False(t, ended)
	assert.Equal(t, UnlimitedBudget, ctrl.Remaining())
}

func TestEndIdempotentAcrossTriggers(t *testing.T) {
	ctrl, finalizer, teardown := newTestController(300, 2.0)
	ctx := context.Background()

	ctrl.End(ctx, ReasonUserAction)
	ctrl.End(ctx, ReasonPeerEnded)
	advance(ctrl, 500)
	ctrl.End(ctx, ReasonDisconnected)

	assert.Equal(t, int32(1), finalizer.calls.Load())
	assert.Equal(t, int32(1), teardown.calls.Load())

	_, reason := ctrl.Ended()
	assert.Equal(t, ReasonUserAction, reason)
}

func TestFinalizeFailureStillTearsDown(t *testing.T) {
	ctrl, finalizer, teardown := newTestController(300, 2.0)
	finalizer.err = errors.New("ledger unreachable")

	ctrl.End(context.Background(), ReasonUserAction)

	assert.Equal(t, int32(1), teardown.calls.Load())
	ended, _ := ctrl.Ended()
	assert.True(t, ended)
}

func TestLowBalanceWarning(t *testing.T) {
	ctrl, _, _ := newTestController(300, 2.0)

	var warnings []int64
	ctrl.config.OnLowBalance = func(remaining int64) {
		warnings = append(warnings, remaining)
	}

	advance(ctrl, 240)
	assert.Empty(t, warnings)

	advance(ctrl, 1)
	assert.Equal(t, []int64{59}, warnings)

	// warning fires once per crossing
	advance(ctrl, 10)
	assert.Len(t, warnings, 1)
}

func TestLowBalanceRearmsAfterTopUp(t *testing.T) {
	ctrl, _, _ := newTestController(300, 2.0)

	var warnings int
	ctrl.config.OnLowBalance = func(remaining int64) { warnings++ }

	advance(ctrl, 250)
	assert.Equal(t, 1, warnings)

	// top-up pushes remaining back over the threshold
	ctrl.AddFunds(4.0)
	advance(ctrl, 5)
	assert.Equal(t, 1, warnings)

	// the next crossing warns again
	advance(ctrl, 110)
	assert.Equal(t, 2, warnings)
}

func TestAddFundsGuards(t *testing.T) {
	ctrl, _, _ := newTestController(300, 2.0)
	assert.Equal(t, int64(300), ctrl.AddFunds(0))
	assert.Equal(t, int64(300), ctrl.AddFunds(-5))

	free, _, _ := newTestController(UnlimitedBudget, 0)
	assert.Equal(t, UnlimitedBudget, free.AddFunds(10))
}

func TestDisconnectGraceCancelledByReconnect(t *testing.T) {
	ctrl, finalizer, _ := newTestController(300, 2.0)
	ctx := context.Background()

	ctrl.Disconnected(ctx)
	ctrl.Reconnected()

	advance(ctrl, 50)
	ended, _ := ctrl.Ended()
	assert.False(t, ended)
	assert.Equal(t, int32(0), finalizer.calls.Load())
}

func TestRemainingClampsAtZero(t *testing.T) {
	ctrl, _, _ := newTestController(5, 2.0)
	advance(ctrl, 5)
	assert.Equal(t, int64(0), ctrl.Remaining())
}
