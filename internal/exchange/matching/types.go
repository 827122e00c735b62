// Package matching implements the single-threaded-per-shard matching
// engine (spec §4.2): it gates every order submission through product,
// circuit-breaker, price-band, risk, and margin checks, then matches
// against the per-symbol order book and hands each fill downstream as a
// TradeCommitted record, applied synchronously to the position manager
// and then the journal through the PositionSink and Ledger interfaces;
// neither calls back into the matcher (spec §9 message-passing design
// note).
package matching

import (
	"github.com/mnt-exchange/core/internal/exchange/catalog"
	"github.com/mnt-exchange/core/internal/exchange/orderbook"
	"github.com/mnt-exchange/core/internal/exchange/money"
)

// Trade is one published execution (spec §3 Trade).
type Trade struct {
	ID           string
	Symbol       string
	Price        money.Micro
	Quantity     money.Qty
	TakerUserID  string
	MakerUserID  string
	TakerOrderID int64
	MakerOrderID int64
	TakerSide    orderbook.Side
	Timestamp    int64
}

// TradeFees is the revenue/fee breakdown the matcher computes for one
// trade (spec §4.2 "Compute revenue").
type TradeFees struct {
	TakerFee       money.Micro
	MakerFee       money.Micro
	SpreadRevenue  money.Micro
	InsuranceCut   money.Micro
	VAT            money.Micro
}

// TradeCommitted is the message-passing record the matcher emits per
// fill; downstream modules (position manager, accounting) consume it.
// No module calls back into the matcher (spec §9).
type TradeCommitted struct {
	Trade      Trade
	Product    *catalog.Product
	Fees       TradeFees
	IsSpot     bool
}

// RiskCheckInput is the context passed to the risk engine's pre-trade
// check (spec §4.5).
type RiskCheckInput struct {
	UserID   string
	Symbol   string
	Side     orderbook.Side
	Price    money.Micro
	Quantity money.Qty
	Product  *catalog.Product
}

// RiskChecker is the risk engine's pre-trade gate (spec §4.5).
type RiskChecker interface {
	PreTradeCheck(in RiskCheckInput) error
}

// Breaker is the per-symbol circuit breaker state gate (spec §4.5).
type Breaker interface {
	Check(symbol string, side orderbook.Side) error
	OnTrade(symbol string, price money.Micro)
}

// PositionSink is the position manager's matcher-facing surface
// (spec §4.3).
type PositionSink interface {
	RequiredMargin(userID, symbol string, side orderbook.Side, qty money.Qty, price money.Micro) (money.Micro, error)
	Available(userID string) (money.Micro, error)
	ApplyTrade(tc TradeCommitted) error
	OpenInterest(symbol string) money.Qty

	// ReserveOrderMargin and ReleaseOrderMargin track the margin hold for
	// a resting order (spec §4.3: "margin is reserved at submit on
	// |remaining| x price x initial_margin_rate and released on
	// cancel/fill proportionally"). The matcher computes the amount
	// (remaining-qty-linear in a resting limit order's fixed price) and
	// the position manager only records the hold against availability.
	ReserveOrderMargin(userID string, orderID int64, amount money.Micro)
	ReleaseOrderMargin(userID string, orderID int64, amount money.Micro)

	// CreditInsuranceFund feeds one trade's insurance contribution (spec
	// §4.2) into the pool forceClose drains on bankruptcy absorption.
	CreditInsuranceFund(amount money.Micro)
}

// Ledger is the accounting engine's matcher-facing surface (spec §4.6).
type Ledger interface {
	PostTrade(tc TradeCommitted) error
	PostSpotTrade(tc TradeCommitted) error
}

// Publisher is the external event fan-out (spec §6 on_trade/on_order).
type Publisher interface {
	PublishTrade(t Trade)
	PublishOrder(o orderbook.Order)
}
