package risk

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	"gonum.org/v1/gonum/stat"

	"github.com/mnt-exchange/core/internal/exchange/exerrors"
	"github.com/mnt-exchange/core/internal/exchange/exlog"
	"github.com/mnt-exchange/core/internal/exchange/matching"
	"github.com/mnt-exchange/core/internal/exchange/money"
	"github.com/mnt-exchange/core/internal/exchange/position"
)

var _ position.RiskRecorder = (*Engine)(nil)

// Limits is the §6 risk-side environment configuration.
type Limits struct {
	MaxDailyLoss      money.Micro
	MaxNotionalPerOrder money.Micro
	RateLimitPerMinute int64
}

// Engine is the pre-trade risk gate satisfying matching.RiskChecker.
// Its pipeline (spec §4.5) short-circuits on the first violation:
// daily-loss -> per-order notional -> rate limit. Price-band and
// margin checks live in the matcher and position manager respectively
// (spec §4.2 steps 3 and 5); this engine covers the three stages
// listed above, which the matcher delegates outward.
type Engine struct {
	mu        sync.Mutex
	limits    Limits
	dailyLoss map[string]money.Micro
	lossDay   map[string]int

	rateLimiter *limiter.Limiter
	logger      exlog.Logger
}

// NewEngine builds a risk engine over the given limits.
func NewEngine(limits Limits, logger exlog.Logger) *Engine {
	var rl *limiter.Limiter
	if limits.RateLimitPerMinute > 0 {
		store := memory.NewStore()
		rate := limiter.Rate{Period: time.Minute, Limit: limits.RateLimitPerMinute}
		rl = limiter.New(store, rate)
	}
	return &Engine{
		limits:      limits,
		dailyLoss:   make(map[string]money.Micro),
		lossDay:     make(map[string]int),
		rateLimiter: rl,
		logger:      logger,
	}
}

// PreTradeCheck implements matching.RiskChecker.
func (e *Engine) PreTradeCheck(in matching.RiskCheckInput) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.limits.MaxDailyLoss > 0 && e.dailyLoss[in.UserID] >= e.limits.MaxDailyLoss {
		return exerrors.RiskBreach("daily_loss", "daily loss limit reached").WithDetail("user_id", in.UserID)
	}

	notional := money.MulQty(in.Price, in.Quantity)
	if e.limits.MaxNotionalPerOrder > 0 && notional > e.limits.MaxNotionalPerOrder {
		return exerrors.RiskBreach("order_notional", "per-order notional exceeds risk limit").WithDetail("user_id", in.UserID)
	}

	if e.rateLimiter != nil {
		ctx, err := e.rateLimiter.Get(context.Background(), in.UserID)
		if err != nil {
			e.logger.Warn("rate limiter unavailable, failing open", "error", err.Error())
		} else if ctx.Reached {
			return exerrors.RateLimited(in.UserID)
		}
	}

	return nil
}

// RecordRealizedLoss accrues a user's realized loss against their daily
// cap (spec §4.5 "daily-loss"), resetting the counter on a new UTC day.
func (e *Engine) RecordRealizedLoss(userID string, loss money.Micro, day int) {
	if loss <= 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lossDay[userID] != day {
		e.lossDay[userID] = day
		e.dailyLoss[userID] = 0
	}
	e.dailyLoss[userID] += loss
}

// PortfolioVaR computes the 95% and 99% historical Value-at-Risk from a
// series of portfolio P&L returns (spec §4.5 "portfolio VaR95/VaR99"),
// using gonum's empirical quantile estimator. Returns are expected as
// fractional P&L (e.g. -0.02 for a 2% loss); the result is expressed in
// the same units, negated so a larger VaR means a larger expected loss.
// Exported as a standalone analytics utility for risk-reporting
// tooling outside the pre-trade pipeline; this engine's own
// PreTradeCheck gates on dailyLoss and per-order notional, not VaR.
func PortfolioVaR(returns []float64) (var95, var99 float64) {
	if len(returns) == 0 {
		return 0, 0
	}
	sorted := append([]float64(nil), returns...)
	sort.Float64s(sorted)
	var95 = -stat.Quantile(0.05, stat.Empirical, sorted, nil)
	var99 = -stat.Quantile(0.01, stat.Empirical, sorted, nil)
	return var95, var99
}
