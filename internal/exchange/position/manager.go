// Package position implements the position and margin manager (spec
// §4.3/§4.4): it exclusively owns accounts, positions and exposure,
// computes required/available margin for the matcher's pre-trade gate,
// and applies TradeCommitted records pushed to it from the matching
// engine (spec §9 message-passing design note — this package imports
// matching for the TradeCommitted type, and matching never imports this
// package).
//
// Grounded on internal/trading/positions/manager.go (avg-price
// recompute on same-side adds, realized-P&L sign-flip formula on
// reduce), re-expressed in integer micro-units and extended with
// margin locking, graduated liquidation, bankruptcy handling and ADL
// ranking, none of which the teacher version has.
package position

import (
	"sync"
	"time"

	"github.com/mnt-exchange/core/internal/exchange/catalog"
	"github.com/mnt-exchange/core/internal/exchange/exerrors"
	"github.com/mnt-exchange/core/internal/exchange/exlog"
	"github.com/mnt-exchange/core/internal/exchange/matching"
	"github.com/mnt-exchange/core/internal/exchange/money"
	"github.com/mnt-exchange/core/internal/exchange/orderbook"
)

// defaultMaintenanceMarginFraction is the fraction of initial margin
// below which a position becomes liquidatable, scaled by
// money.RateScale. Half the initial margin rate is the conventional
// default used by most perpetual venues; New copies it into the
// manager's maintenanceMarginFraction field, which has no setter.
const defaultMaintenanceMarginFraction = 500_000

// Limits mirrors the §6 environment knobs this manager enforces.
type Limits struct {
	MaxPositionSize           money.Qty // per user, per symbol, abs(size)
	MaxNotionalPerUser        money.Micro
	MaxOpenPositions          int
	MaxOpenInterestPerProduct money.Qty
}

// Account is one user's cash balance and margin bookkeeping.
type Account struct {
	UserID  string
	Balance money.Micro
}

type posKey struct {
	user   string
	symbol string
}

// Position is one user's net exposure in one symbol. Size is signed:
// positive is long, negative is short.
type Position struct {
	UserID       string
	Symbol       string
	Size         money.Qty
	AvgEntry     money.Micro
	RealizedPnL  money.Micro
	UnrealizedPnL money.Micro
	OpenedAt     int64
	UpdatedAt    int64
}

type orderKey struct {
	user    string
	orderID int64
}

// Ledger is the accounting journal's position-manager-facing surface
// (spec §4.3 margin lock/release, §4.4 ADL clawback/insurance
// absorption, §4.6 sub-accounts). Kept narrow, and satisfied by
// *accounting.Journal, so this package never imports accounting.
type Ledger interface {
	PostMarginLock(userID string, amount money.Micro) error
	PostMarginRelease(userID string, amount money.Micro) error
	PostInsuranceAbsorption(userID string, amount money.Micro) error
	PostADLClawback(userID string, amount money.Micro) error
}

// RiskRecorder is the risk engine's position-manager-facing surface
// (spec §4.5 daily-loss tracking). Satisfied by *risk.Engine.
type RiskRecorder interface {
	RecordRealizedLoss(userID string, loss money.Micro, day int)
}

// Manager owns all accounts, positions and margin holds. It is the
// concrete collaborator the matching engine calls through the
// matching.PositionSink interface.
type Manager struct {
	mu sync.Mutex

	cat    *catalog.Catalog
	limits Limits
	ledger Ledger
	risk   RiskRecorder
	logger exlog.Logger

	maintenanceMarginFraction int64

	accounts  map[string]*Account
	positions map[posKey]*Position

	// orderMargin holds the per-order reservation recorded at Rest time
	// and released on cancel/fill (spec §4.3, §9 resolved ambiguity).
	orderMargin     map[orderKey]money.Micro
	orderMarginSum  map[string]money.Micro // per user, sum of orderMargin

	// stages tracks graduated-liquidation progress per position,
	// instance-owned rather than a package global (spec §9).
	stages map[posKey]int

	insuranceFund money.Micro
}

// New builds a position manager over the given catalog and limits.
// ledger and risk may be nil (e.g. in tests exercising position
// arithmetic in isolation); when nil, house-side journal postings and
// daily-loss tracking are simply skipped.
func New(cat *catalog.Catalog, limits Limits, ledger Ledger, risk RiskRecorder, logger exlog.Logger) *Manager {
	return &Manager{
		cat:                       cat,
		limits:                    limits,
		ledger:                    ledger,
		risk:                      risk,
		logger:                    logger,
		maintenanceMarginFraction: defaultMaintenanceMarginFraction,
		accounts:                  make(map[string]*Account),
		positions:                 make(map[posKey]*Position),
		orderMargin:               make(map[orderKey]money.Micro),
		orderMarginSum:            make(map[string]money.Micro),
		stages:                    make(map[posKey]int),
	}
}

func (m *Manager) accountFor(userID string) *Account {
	a, ok := m.accounts[userID]
	if !ok {
		a = &Account{UserID: userID}
		m.accounts[userID] = a
	}
	return a
}

func (m *Manager) positionFor(userID, symbol string) *Position {
	k := posKey{userID, symbol}
	p, ok := m.positions[k]
	if !ok {
		p = &Position{UserID: userID, Symbol: symbol}
		m.positions[k] = p
	}
	return p
}

// Deposit credits a user's cash balance (spec §4.3 "deposit").
func (m *Manager) Deposit(userID string, amount money.Micro) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accountFor(userID).Balance += amount
}

// Withdraw debits a user's cash balance, refusing to take it below the
// margin already committed to open positions and resting orders.
func (m *Manager) Withdraw(userID string, amount money.Micro) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc := m.accountFor(userID)
	avail := m.available(userID)
	if avail < amount {
		return exerrors.MarginInsufficient(userID, amount, avail)
	}
	acc.Balance -= amount
	return nil
}

// equity is balance plus unrealized P&L across every open position.
func (m *Manager) equity(userID string) money.Micro {
	acc := m.accountFor(userID)
	total := acc.Balance
	for k, p := range m.positions {
		if k.user == userID {
			total += p.UnrealizedPnL
		}
	}
	return total
}

// marginInUse is the sum of resting-order margin holds and open-position
// initial margin for a user.
func (m *Manager) marginInUse(userID string) money.Micro {
	total := m.orderMarginSum[userID]
	for k, p := range m.positions {
		if k.user != userID || p.Size.Sign() == 0 {
			continue
		}
		product, err := m.cat.Get(p.Symbol)
		if err != nil {
			continue
		}
		notional := money.MulQty(product.MarkPrice(), money.AbsQty(p.Size))
		total += money.MulRate(notional, product.InitialMarginRate, money.RateScale)
	}
	return total
}

func (m *Manager) available(userID string) money.Micro {
	return m.equity(userID) - m.marginInUse(userID)
}

// RequiredMargin implements matching.PositionSink: the initial margin a
// new order would add, plus the position/exposure limit checks from
// spec §4.4.
func (m *Manager) RequiredMargin(userID, symbol string, side orderbook.Side, qty money.Qty, price money.Micro) (money.Micro, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	product, err := m.cat.Get(symbol)
	if err != nil {
		return 0, err
	}

	pos := m.positionFor(userID, symbol)
	delta := qty
	if side == orderbook.Sell {
		delta = qty.Neg()
	}
	resultingSize := money.AbsQty(pos.Size.Add(delta))

	if m.limits.MaxPositionSize.Sign() > 0 && resultingSize.Cmp(m.limits.MaxPositionSize) > 0 {
		return 0, exerrors.PositionLimit(userID, symbol).WithDetail("size", resultingSize).WithDetail("limit", m.limits.MaxPositionSize)
	}

	if pos.Size.Sign() == 0 && m.limits.MaxOpenPositions > 0 {
		if m.openPositionCount(userID) >= m.limits.MaxOpenPositions {
			return 0, exerrors.PositionLimit(userID, symbol).WithDetail("size", resultingSize).WithDetail("limit", m.limits.MaxPositionSize)
		}
	}

	oi := m.openInterestLocked(symbol)
	addedOI := money.AbsQty(delta)
	if m.limits.MaxOpenInterestPerProduct.Sign() > 0 && oi.Add(addedOI).Cmp(m.limits.MaxOpenInterestPerProduct) > 0 {
		return 0, exerrors.OpenInterestLimit(symbol).WithDetail("open_interest", oi.Add(addedOI)).WithDetail("limit", m.limits.MaxOpenInterestPerProduct)
	}

	notional := money.MulQty(price, qty)
	if m.limits.MaxNotionalPerUser > 0 {
		userNotional := m.userNotional(userID) + notional
		if userNotional > m.limits.MaxNotionalPerUser {
			return 0, exerrors.PositionLimit(userID, symbol).WithDetail("size", resultingSize).WithDetail("limit", m.limits.MaxPositionSize)
		}
	}

	if product.Category == catalog.CategorySpot {
		return 0, nil
	}
	return money.MulRate(notional, product.InitialMarginRate, money.RateScale), nil
}

func (m *Manager) openPositionCount(userID string) int {
	n := 0
	for k, p := range m.positions {
		if k.user == userID && p.Size.Sign() != 0 {
			n++
		}
	}
	return n
}

func (m *Manager) userNotional(userID string) money.Micro {
	var total money.Micro
	for k, p := range m.positions {
		if k.user != userID || p.Size.Sign() == 0 {
			continue
		}
		product, err := m.cat.Get(p.Symbol)
		if err != nil {
			continue
		}
		total += money.MulQty(product.MarkPrice(), money.AbsQty(p.Size))
	}
	return total
}

// Available implements matching.PositionSink.
func (m *Manager) Available(userID string) (money.Micro, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.available(userID), nil
}

// ReserveOrderMargin implements matching.PositionSink.
func (m *Manager) ReserveOrderMargin(userID string, orderID int64, amount money.Micro) {
	if amount == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	k := orderKey{userID, orderID}
	m.orderMargin[k] += amount
	m.orderMarginSum[userID] += amount
	if m.ledger != nil {
		if err := m.ledger.PostMarginLock(userID, amount); err != nil && m.logger != nil {
			m.logger.Error("margin lock posting failed", "user_id", userID, "error", err.Error())
		}
	}
}

// ReleaseOrderMargin implements matching.PositionSink.
func (m *Manager) ReleaseOrderMargin(userID string, orderID int64, amount money.Micro) {
	if amount == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	k := orderKey{userID, orderID}
	held := m.orderMargin[k]
	if amount > held {
		amount = held
	}
	m.orderMargin[k] = held - amount
	if m.orderMargin[k] == 0 {
		delete(m.orderMargin, k)
	}
	m.orderMarginSum[userID] -= amount
	if m.orderMarginSum[userID] < 0 {
		m.orderMarginSum[userID] = 0
	}
	if m.ledger != nil {
		if err := m.ledger.PostMarginRelease(userID, amount); err != nil && m.logger != nil {
			m.logger.Error("margin release posting failed", "user_id", userID, "error", err.Error())
		}
	}
}

func (m *Manager) openInterestLocked(symbol string) money.Qty {
	var total money.Qty
	first := true
	for k, p := range m.positions {
		if k.symbol != symbol || p.Size.Sign() <= 0 {
			continue
		}
		if first {
			total = money.ZeroQty(p.Size.Exponent())
			first = false
		}
		total = total.Add(p.Size)
	}
	return total
}

// OpenInterest implements matching.PositionSink: the sum of long size
// across all users in a symbol (equal to the sum of short size, since
// every contract is matched).
func (m *Manager) OpenInterest(symbol string) money.Qty {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.openInterestLocked(symbol)
}

func sameSign(a, b money.Qty) bool {
	return (a.Sign() >= 0) == (b.Sign() >= 0)
}

// avgPrice is the weighted-average-price inverse of money.MulQty:
// given total notional and total quantity at a shared exponent, solves
// for the price. Kept local to this package since it is only ever
// needed for position entry-price recompute.
func avgPrice(totalNotional money.Micro, totalQty money.Qty) money.Micro {
	if totalQty.Raw() == 0 {
		return 0
	}
	scale := pow10(totalQty.Exponent())
	return money.Micro(int64(totalNotional) * scale / totalQty.Raw())
}

func pow10(exp uint8) int64 {
	v := int64(1)
	for i := uint8(0); i < exp; i++ {
		v *= 10
	}
	return v
}

// dayOf buckets a timestamp into a UTC day number for the risk engine's
// daily-loss reset (spec §4.5).
func dayOf(t time.Time) int {
	return int(t.UTC().Unix() / 86400)
}

// applyFill updates one user's position for one side of a fill and
// credits/debits realized P&L and fees against their account. signedDelta
// is positive for a buy-side fill, negative for sell-side.
func (m *Manager) applyFill(userID, symbol string, signedDelta money.Qty, price, fee money.Micro) {
	pos := m.positionFor(userID, symbol)
	old := pos.Size
	newSize := old.Add(signedDelta)

	switch {
	case old.Sign() == 0 || sameSign(old, signedDelta):
		oldNotional := money.MulQty(pos.AvgEntry, money.AbsQty(old))
		addNotional := money.MulQty(price, money.AbsQty(signedDelta))
		pos.AvgEntry = avgPrice(oldNotional+addNotional, money.AbsQty(newSize))
		if old.Sign() == 0 {
			pos.OpenedAt = pos.UpdatedAt
		}
	default:
		closing := money.AbsQty(signedDelta)
		if closing.Cmp(money.AbsQty(old)) > 0 {
			closing = money.AbsQty(old)
		}
		var pnl money.Micro
		if old.Sign() > 0 {
			pnl = money.MulQty(price-pos.AvgEntry, closing)
		} else {
			pnl = money.MulQty(pos.AvgEntry-price, closing)
		}
		pos.RealizedPnL += pnl
		m.accountFor(userID).Balance += pnl
		if pnl < 0 && m.risk != nil {
			m.risk.RecordRealizedLoss(userID, -pnl, dayOf(time.Now()))
		}

		switch {
		case newSize.Sign() == 0:
			pos.AvgEntry = 0
		case (old.Sign() > 0) != (newSize.Sign() > 0):
			// flipped through zero: the unconsumed delta opens a fresh
			// position at the trade price.
			pos.AvgEntry = price
		}
	}

	pos.Size = newSize
	m.accountFor(userID).Balance -= fee
}

// ApplyTrade implements matching.PositionSink: applies one derivative
// fill to both the taker's and the maker's positions, then evaluates
// the taker and maker for liquidation (spec §4.4).
func (m *Manager) ApplyTrade(tc matching.TradeCommitted) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	takerDelta := tc.Trade.Quantity
	if tc.Trade.TakerSide == orderbook.Sell {
		takerDelta = takerDelta.Neg()
	}
	makerDelta := takerDelta.Neg()

	m.applyFill(tc.Trade.TakerUserID, tc.Trade.Symbol, takerDelta, tc.Trade.Price, tc.Fees.TakerFee)
	m.applyFill(tc.Trade.MakerUserID, tc.Trade.Symbol, makerDelta, tc.Trade.Price, tc.Fees.MakerFee)

	m.refreshUnrealized(tc.Trade.Symbol, tc.Trade.Price)
	m.evaluateLiquidation(tc.Trade.TakerUserID, tc.Product)
	m.evaluateLiquidation(tc.Trade.MakerUserID, tc.Product)
	return nil
}

// UpdateMarkPrice refreshes every position's cached unrealized P&L for
// a symbol and evaluates every holder for liquidation (spec §4.4
// "mark-price-driven re-evaluation").
func (m *Manager) UpdateMarkPrice(symbol string, mark money.Micro) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshUnrealized(symbol, mark)
	for k, p := range m.positions {
		if k.symbol != symbol || p.Size.Sign() == 0 {
			continue
		}
		product, err := m.cat.Get(symbol)
		if err != nil {
			continue
		}
		m.evaluateLiquidation(k.user, product)
	}
}

func (m *Manager) refreshUnrealized(symbol string, mark money.Micro) {
	for k, p := range m.positions {
		if k.symbol != symbol || p.Size.Sign() == 0 {
			p.UnrealizedPnL = 0
			continue
		}
		if p.Size.Sign() > 0 {
			p.UnrealizedPnL = money.MulQty(mark-p.AvgEntry, money.AbsQty(p.Size))
		} else {
			p.UnrealizedPnL = money.MulQty(p.AvgEntry-mark, money.AbsQty(p.Size))
		}
	}
}

// OpenPositions returns a snapshot of every non-zero position held in
// symbol, for the funding scheduler's per-interval settlement pass
// (spec §4.7). Copies are returned so callers never race the manager's
// own lock.
func (m *Manager) OpenPositions(symbol string) []Position {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Position
	for k, p := range m.positions {
		if k.symbol != symbol || p.Size.Sign() == 0 {
			continue
		}
		out = append(out, *p)
	}
	return out
}

// ApplyFunding moves a funding payment (spec §4.7) into or out of a
// user's account balance. payment is positive when the user owes the
// payment (their balance decreases) and negative when the user
// receives it.
func (m *Manager) ApplyFunding(userID string, payment money.Micro) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accountFor(userID).Balance -= payment
}
