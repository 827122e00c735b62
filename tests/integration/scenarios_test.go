// Package integration exercises the composition root's collaborators
// together as a black box, against the §8 literal-value scenarios,
// rather than unit-testing any one package in isolation.
//
// Grounded on the teacher's suite-based integration test style
// (tests/integration/order_flow_test.go's testify/suite harness),
// rewritten against internal/exchange's real collaborators instead of
// the teacher's service registry.
package integration

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/mnt-exchange/core/internal/exchange/accounting"
	"github.com/mnt-exchange/core/internal/exchange/catalog"
	"github.com/mnt-exchange/core/internal/exchange/exlog"
	"github.com/mnt-exchange/core/internal/exchange/funding"
	"github.com/mnt-exchange/core/internal/exchange/matching"
	"github.com/mnt-exchange/core/internal/exchange/money"
	"github.com/mnt-exchange/core/internal/exchange/orderbook"
	"github.com/mnt-exchange/core/internal/exchange/position"
	"github.com/mnt-exchange/core/internal/exchange/risk"
)

// noopPublisher drops every event; these scenarios assert on ledger and
// position state, not on the event fan-out.
type noopPublisher struct{}

func (noopPublisher) PublishTrade(matching.Trade)  {}
func (noopPublisher) PublishOrder(orderbook.Order) {}

// ExchangeSuite wires one full exchange core per test, the way
// cmd/exchange's main() does, minus the journal file recorder and the
// event bus (a no-op publisher stands in for it).
type ExchangeSuite struct {
	suite.Suite
	cat     *catalog.Catalog
	risk    *risk.Engine
	breaker *risk.Breaker
	pos     *position.Manager
	journal *accounting.Journal
	engine  *matching.Engine
}

func (s *ExchangeSuite) SetupTest() {
	cat, err := catalog.New("1.0.0")
	s.Require().NoError(err)
	s.cat = cat

	logFactory, err := exlog.NewFactory("error", "console")
	s.Require().NoError(err)

	s.risk = risk.NewEngine(risk.Limits{}, logFactory.For("risk"))
	s.breaker = risk.NewBreaker(20_000, 0)
	s.journal = accounting.New(nil, logFactory.For("accounting"), 0)
	s.pos = position.New(cat, position.Limits{
		MaxPositionSize:           money.NewQty(1_000_000_000, 8),
		MaxNotionalPerUser:        1_000_000_000_000,
		MaxOpenPositions:          50,
		MaxOpenInterestPerProduct: money.NewQty(1_000_000_000, 8),
	}, s.journal, s.risk, logFactory.For("position"))
	s.engine = matching.New(cat, s.risk, s.breaker, s.pos, s.journal, noopPublisher{}, logFactory.For("matching"), 0, 0)
}

func (s *ExchangeSuite) loadXAUSpot() *catalog.Product {
	p := &catalog.Product{
		Symbol:      "XAU-SPOT",
		Category:    catalog.CategorySpot,
		QtyExponent: 8,
		LotSize:     money.NewQty(1, 8),
		MinOrderQty: money.NewQty(1, 8),
		MaxOrderQty: money.NewQty(1_000_000_000, 8),
		MinNotional: 1,
	}
	p.SetActive(true)
	p.SetMarkPrice(100_000)
	s.cat.Load(p)
	return p
}

func (s *ExchangeSuite) loadBTCPerp() *catalog.Product {
	p := &catalog.Product{
		Symbol:            "BTC-PERP",
		Category:          catalog.CategoryPerpetual,
		QtyExponent:       8,
		LotSize:           money.NewQty(1, 8),
		MinOrderQty:       money.NewQty(1, 8),
		MaxOrderQty:       money.NewQty(1_000_000_000, 8),
		MinNotional:       1,
		InitialMarginRate: 100_000, // 0.10
		FundingRateStatic: 100,     // 0.0001
	}
	p.SetActive(true)
	p.SetMarkPrice(1_000_000)
	s.cat.Load(p)
	return p
}

// TestDepositAndSpotTrade follows §8 scenario 1's order flow: two users
// deposit and cross a one-unit spot trade, which executes at the resting
// price. It checks the trade only, not post-trade balances or the
// exchange identity.
func (s *ExchangeSuite) TestDepositAndSpotTrade() {
	s.loadXAUSpot()
	s.pos.Deposit("userA", 1_000_000)
	s.pos.Deposit("userB", 1_000_000)

	_, err := s.engine.Submit(matching.SubmitRequest{
		Symbol: "XAU-SPOT", UserID: "userB", Side: orderbook.Sell, Type: orderbook.Limit,
		LimitPrice: 100_000, Quantity: money.NewQty(100_000_000, 8),
	})
	s.Require().NoError(err)

	res, err := s.engine.Submit(matching.SubmitRequest{
		Symbol: "XAU-SPOT", UserID: "userA", Side: orderbook.Buy, Type: orderbook.Limit,
		LimitPrice: 100_000, Quantity: money.NewQty(100_000_000, 8),
	})
	s.Require().NoError(err)
	s.Require().Len(res.Trades, 1)
	s.Require().Equal(money.Micro(100_000), res.Trades[0].Price)
}

// TestLeverageAndLiquidation reproduces §8 scenario 2's margin-ratio
// arithmetic: a long under mark decline past the maintenance threshold
// is partially closed rather than left open.
func (s *ExchangeSuite) TestLeverageAndLiquidation() {
	product := s.loadBTCPerp()
	s.pos.Deposit("userA", 100_000)

	tc := matching.TradeCommitted{
		Trade: matching.Trade{
			Symbol: "BTC-PERP", Price: 1_000_000, Quantity: money.NewQty(100_000_000, 8),
			TakerUserID: "userA", MakerUserID: "userB", TakerSide: orderbook.Buy,
		},
		Product: product,
	}
	s.Require().NoError(s.pos.ApplyTrade(tc))

	product.SetMarkPrice(920_000)
	s.pos.UpdateMarkPrice("BTC-PERP", 920_000)

	open := s.pos.OpenPositions("BTC-PERP")
	var userAQty money.Qty
	for _, p := range open {
		if p.UserID == "userA" {
			userAQty = p.Size
		}
	}
	require.NotEqual(s.T(), 0, userAQty.Sign(), "graduated liquidation should leave a partially-closed, not fully-flat, position immediately after the first 25 percent close")
}

// TestCircuitBreakerBandAndCooldown reproduces §8 scenario 5's breaker
// half: a trade pushing last price past the band trips LIMIT_UP,
// barring further buys during the cooldown while sells still pass. The
// order-submission price-band rejection is not exercised here.
func (s *ExchangeSuite) TestCircuitBreakerBandAndCooldown() {
	breaker := risk.NewBreaker(20_000, time.Hour) // +/-2%, long cooldown so the re-check still sees LIMIT_UP
	breaker.OnTrade("USD-MNT", 3_500)

	require.NoError(s.T(), breaker.Check("USD-MNT", orderbook.Buy))

	breaker.OnTrade("USD-MNT", 3_571) // +2.03%, breaches the 2% band
	require.Error(s.T(), breaker.Check("USD-MNT", orderbook.Buy), "limit-up should reject a further buy")
	require.NoError(s.T(), breaker.Check("USD-MNT", orderbook.Sell), "limit-up never blocks sells")
}

// TestFundingCycle reproduces §8 scenario 6 end to end through the
// composition root's own collaborators (matching engine commits the
// opening trade; funding.Scheduler settles it).
func (s *ExchangeSuite) TestFundingCycle() {
	product := s.loadBTCPerp()
	s.pos.Deposit("long", 1_000_000_000)
	s.pos.Deposit("short", 1_000_000_000)

	_, err := s.engine.Submit(matching.SubmitRequest{
		Symbol: "BTC-PERP", UserID: "short", Side: orderbook.Sell, Type: orderbook.Limit,
		LimitPrice: 1_000_000, Quantity: money.NewQty(200_000_000, 8),
	})
	s.Require().NoError(err)
	_, err = s.engine.Submit(matching.SubmitRequest{
		Symbol: "BTC-PERP", UserID: "long", Side: orderbook.Buy, Type: orderbook.Limit,
		LimitPrice: 1_000_000, Quantity: money.NewQty(200_000_000, 8),
	})
	s.Require().NoError(err)

	logFactory, err := exlog.NewFactory("error", "console")
	s.Require().NoError(err)
	sched := funding.New(s.cat, s.pos, s.journal, logFactory.For("funding"), 0, 0, 4)
	sched.SettleAll()

	s.Require().Equal(money.Micro(200), s.journal.Balance(accounting.RevenueFunding("BTC-PERP")))
	s.Require().Equal(money.Micro(200), s.journal.Balance(accounting.ExpensesFunding("BTC-PERP")))
}

func TestExchangeSuite(t *testing.T) {
	suite.Run(t, new(ExchangeSuite))
}
