// Package funding implements the periodic funding settlement scheduler
// (spec §4.7): on every configured interval it walks each perpetual
// product's open positions and journals a funding payment sized by
// that position's exposure and the product's funding rate.
//
// Grounded on internal/architecture/fx/workerpool/worker_pool.go's
// ants.Pool usage for the fan-out shape, and on
// internal/exchange/position/liquidation.go's runADL for the
// pool-with-sequential-fallback pattern this package reuses for
// per-position settlement tasks.
package funding

import (
	"context"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/mnt-exchange/core/internal/exchange/accounting"
	"github.com/mnt-exchange/core/internal/exchange/catalog"
	"github.com/mnt-exchange/core/internal/exchange/exlog"
	"github.com/mnt-exchange/core/internal/exchange/money"
	"github.com/mnt-exchange/core/internal/exchange/position"
)

// PositionSource is the subset of position.Manager the scheduler
// consumes, narrowed so this package doesn't depend on the manager's
// full surface.
type PositionSource interface {
	OpenPositions(symbol string) []position.Position
	ApplyFunding(userID string, payment money.Micro)
}

// Ledger is the subset of accounting.Journal the scheduler posts to.
type Ledger interface {
	PostFunding(userID, symbol string, payment money.Micro) error
}

// Scheduler runs the ticker-driven funding settlement job.
type Scheduler struct {
	cat       *catalog.Catalog
	positions PositionSource
	ledger    Ledger
	logger    exlog.Logger

	interval time.Duration
	maxRate  int64 // clamp bound for dynamic funding, scaled by money.RateScale
	poolSize int
}

// New builds a funding scheduler. maxRate is the §6 MaxFundingRate
// environment knob (the dynamic-funding clamp bound R); poolSize bounds
// the ants pool used for per-position fan-out.
func New(cat *catalog.Catalog, positions PositionSource, ledger Ledger, logger exlog.Logger, interval time.Duration, maxRate int64, poolSize int) *Scheduler {
	if poolSize <= 0 {
		poolSize = 8
	}
	return &Scheduler{
		cat:       cat,
		positions: positions,
		ledger:    ledger,
		logger:    logger,
		interval:  interval,
		maxRate:   maxRate,
		poolSize:  poolSize,
	}
}

// Run blocks, settling funding on every tick, until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SettleAll()
		}
	}
}

// SettleAll settles funding for every active perpetual product once.
// Exported so both Run's ticker loop and tests can drive a cycle
// deterministically without waiting on a real interval.
func (s *Scheduler) SettleAll() {
	for _, p := range s.cat.All() {
		if p.Category != catalog.CategoryPerpetual || !p.Active() {
			continue
		}
		s.settleProduct(p)
	}
}

// FundingRate resolves a product's funding rate for the current cycle
// (spec §4.7): its static rate, or a dynamic rate derived from the gap
// between last trade and mark price, clamped to +/-maxRate.
func FundingRate(p *catalog.Product, maxRate int64) int64 {
	if !p.DynamicFunding {
		return p.FundingRateStatic
	}
	mark := p.MarkPrice()
	if mark == 0 {
		return 0
	}
	last := p.LastPrice()
	rate := (int64(last-mark) * money.RateScale / int64(mark)) / 10
	switch {
	case rate > maxRate:
		return maxRate
	case rate < -maxRate:
		return -maxRate
	default:
		return rate
	}
}

func (s *Scheduler) settleProduct(p *catalog.Product) {
	open := s.positions.OpenPositions(p.Symbol)
	if len(open) == 0 {
		return
	}
	rate := FundingRate(p, s.maxRate)
	if rate == 0 {
		return
	}
	mark := p.MarkPrice()

	pool, err := ants.NewPool(s.poolSize)
	if err != nil {
		for _, pos := range open {
			s.settleOne(p.Symbol, pos, mark, rate)
		}
		return
	}
	defer pool.Release()

	var wg sync.WaitGroup
	for _, pos := range open {
		pos := pos
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			s.settleOne(p.Symbol, pos, mark, rate)
		})
		if submitErr != nil {
			wg.Done()
			s.settleOne(p.Symbol, pos, mark, rate)
		}
	}
	wg.Wait()
}

func (s *Scheduler) settleOne(symbol string, pos position.Position, mark money.Micro, rate int64) {
	payment := money.MulRate(money.MulQty(mark, pos.Size), rate, money.RateScale)
	if payment == 0 {
		return
	}
	s.positions.ApplyFunding(pos.UserID, payment)
	if err := s.ledger.PostFunding(pos.UserID, symbol, payment); err != nil {
		s.logger.Error("funding posting failed", "user_id", pos.UserID, "symbol", symbol, "error", err.Error())
	}
}

var _ Ledger = (*accounting.Journal)(nil)
