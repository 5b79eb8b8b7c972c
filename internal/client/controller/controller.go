package controller

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"consultlink-backend/pkg/constants"
	"consultlink-backend/pkg/logger"
)

// EndReason identifies which trigger ended the session
type EndReason string

const (
	ReasonUserAction       EndReason = "user action"
	ReasonCreditsExhausted EndReason = "credits exhausted"
	ReasonPeerEnded        EndReason = "peer ended"
	ReasonDisconnected     EndReason = "disconnected"
)

// UnlimitedBudget marks a session with no duration cap (free sessions).
const UnlimitedBudget int64 = -1

// lowBalanceSeconds is the warning threshold expressed in billing ticks
const lowBalanceSeconds = int64(constants.LowBalanceThreshold / time.Second)

// Finalizer settles the session with the ledger
type Finalizer interface {
	Finalize(ctx context.Context, sessionID uuid.UUID, reason EndReason) error
}

// Teardown releases local media and transport resources
type Teardown interface {
	Teardown()
}

// FinalizerFunc adapts a function to the Finalizer interface
type FinalizerFunc func(ctx context.Context, sessionID uuid.UUID, reason EndReason) error

func (f FinalizerFunc) Finalize(ctx context.Context, sessionID uuid.UUID, reason EndReason) error {
	return f(ctx, sessionID, reason)
}

// TeardownFunc adapts a function to the Teardown interface
type TeardownFunc func()

func (f TeardownFunc) Teardown() { f() }

// Config configures a session controller
type Config struct {
	SessionID     uuid.UUID
	CostPerMinute float64
	// BudgetSeconds is the duration budget from session start
	// (UnlimitedBudget for free sessions).
	BudgetSeconds int64
	Finalizer     Finalizer
	Teardown      Teardown
	// OnLowBalance fires once when remaining budget first drops below
	// the low-balance threshold.
	OnLowBalance func(remainingSeconds int64)
	// OnEnded fires exactly once after finalize + teardown.
	OnEnded func(reason EndReason)
}

// Controller owns the client-side billing clock for one active session.
// It ends the session exactly once no matter how many triggers fire:
// user action, budget exhaustion, the peer's end notice and the
// disconnect grace timer all funnel into the same guarded path.
type Controller struct {
	config *Config

	mu             sync.Mutex
	elapsedSeconds int64
	budgetSeconds  int64
	lowBalanceSent bool
	ended          bool
	endedReason    EndReason

	ticker     *time.Ticker
	stopChan   chan struct{}
	stopOnce   sync.Once
	graceTimer *time.Timer
}

// New creates a controller. Call Start to launch the billing clock.
func New(config *Config) *Controller {
	return &Controller{
		config:        config,
		budgetSeconds: config.BudgetSeconds,
		stopChan:      make(chan struct{}),
	}
}

// Start launches the billing clock. The clock ticks once per second and
// is the only authority for budget exhaustion on the client side.
func (c *Controller) Start(ctx context.Context) {
	c.ticker = time.NewTicker(constants.BillingTickInterval)
	go func() {
		defer c.ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				c.End(ctx, ReasonDisconnected)
				return
			case <-c.stopChan:
				return
			case <-c.ticker.C:
				c.tick(ctx)
			}
		}
	}()
}

// tick advances the clock one second and enforces the budget.
func (c *Controller) tick(ctx context.Context) {
	c.mu.Lock()
	if c.ended {
		c.mu.Unlock()
		return
	}
	c.elapsedSeconds++
	elapsed := c.elapsedSeconds
	budget := c.budgetSeconds

	var lowBalance func(int64)
	var remaining int64
	if budget != UnlimitedBudget {
		remaining = budget - elapsed
		if remaining < lowBalanceSeconds && !c.lowBalanceSent {
			c.lowBalanceSent = true
			lowBalance = c.config.OnLowBalance
		}
	}
	c.mu.Unlock()

	if lowBalance != nil {
		lowBalance(remaining)
	}

	if budget != UnlimitedBudget && elapsed >= budget {
		c.End(ctx, ReasonCreditsExhausted)
	}
}

// AddFunds extends the budget after a mid-session top-up. The extension
// is additive: seconds bought at the locked rate are appended to the
// remaining budget, the elapsed clock is untouched.
func (c *Controller) AddFunds(amount float64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ended || c.budgetSeconds == UnlimitedBudget || amount <= 0 {
		return c.budgetSeconds
	}
	if c.config.CostPerMinute <= 0 {
		return c.budgetSeconds
	}

	extension := int64(math.Floor(amount / c.config.CostPerMinute * 60))
	c.budgetSeconds += extension
	if c.budgetSeconds-c.elapsedSeconds >= lowBalanceSeconds {
		c.lowBalanceSent = false
	}

	logger.Info("Session budget extended",
		zap.String("session_id", c.config.SessionID.String()),
		zap.Int64("extension_seconds", extension),
		zap.Int64("budget_seconds", c.budgetSeconds))

	return c.budgetSeconds
}

// Elapsed returns how many billing seconds have passed.
func (c *Controller) Elapsed() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.elapsedSeconds
}

// Remaining returns the remaining budget in seconds, or UnlimitedBudget.
func (c *Controller) Remaining() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.budgetSeconds == UnlimitedBudget {
		return UnlimitedBudget
	}
	remaining := c.budgetSeconds - c.elapsedSeconds
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Ended reports whether the session has been finalized, and why.
func (c *Controller) Ended() (bool, EndReason) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ended, c.endedReason
}

// End finalizes the session. Exactly one caller wins; every other
// trigger is a no-op. A finalize failure is logged but never blocks
// local teardown.
func (c *Controller) End(ctx context.Context, reason EndReason) {
	c.mu.Lock()
	if c.ended {
		c.mu.Unlock()
		return
	}
	c.ended = true
	c.endedReason = reason
	if c.graceTimer != nil {
		c.graceTimer.Stop()
		c.graceTimer = nil
	}
	c.mu.Unlock()

	c.stopOnce.Do(func() { close(c.stopChan) })

	logger.Info("Ending session",
		zap.String("session_id", c.config.SessionID.String()),
		zap.String("reason", string(reason)))

	if c.config.Finalizer != nil {
		if err := c.config.Finalizer.Finalize(ctx, c.config.SessionID, reason); err != nil {
			logger.Error("Session finalize failed, tearing down anyway",
				zap.String("session_id", c.config.SessionID.String()),
				zap.Error(err))
		}
	}

	if c.config.Teardown != nil {
		c.config.Teardown.Teardown()
	}

	if c.config.OnEnded != nil {
		c.config.OnEnded(reason)
	}
}

// Disconnected arms the grace timer. If the relay does not come back
// within the grace period the session ends locally.
func (c *Controller) Disconnected(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ended || c.graceTimer != nil {
		return
	}
	c.graceTimer = time.AfterFunc(constants.DisconnectGracePeriod, func() {
		c.End(ctx, ReasonDisconnected)
	})
}

// Reconnected disarms the grace timer.
func (c *Controller) Reconnected() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.graceTimer != nil {
		c.graceTimer.Stop()
		c.graceTimer = nil
	}
}
