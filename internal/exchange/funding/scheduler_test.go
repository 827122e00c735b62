package funding

import (
	"testing"

	"github.com/mnt-exchange/core/internal/exchange/accounting"
	"github.com/mnt-exchange/core/internal/exchange/catalog"
	"github.com/mnt-exchange/core/internal/exchange/matching"
	"github.com/mnt-exchange/core/internal/exchange/money"
	"github.com/mnt-exchange/core/internal/exchange/orderbook"
	"github.com/mnt-exchange/core/internal/exchange/position"
)

func newBTCPerp() *catalog.Product {
	return &catalog.Product{
		Symbol:            "BTC-PERP",
		Category:          catalog.CategoryPerpetual,
		QtyExponent:       8,
		InitialMarginRate: 100_000,
		FundingRateStatic: 100, // 0.0001 at RateScale 1e6
	}
}

// TestSettleAllMatchesFundingCycleScenario reproduces the exact numbers
// of the funding-cycle scenario: a +2 BTC-PERP long at mark 1 000 000
// with a 0.0001 funding rate pays 200, crediting Revenue:Funding:BTC-PERP
// by 200; the short counterparty receives the symmetric 200.
func TestSettleAllMatchesFundingCycleScenario(t *testing.T) {
	cat, err := catalog.New("1.0.0")
	if err != nil {
		t.Fatal(err)
	}
	product := newBTCPerp()
	cat.Load(product)
	product.SetMarkPrice(1_000_000)

	mgr := position.New(cat, position.Limits{}, nil, nil, nil)
	mgr.Deposit("alice", 1_000_000_000)
	mgr.Deposit("bob", 1_000_000_000)
	tc := matching.TradeCommitted{
		Trade: matching.Trade{
			Symbol: "BTC-PERP", Price: 1_000_000, Quantity: money.NewQty(200_000_000, 8),
			TakerUserID: "alice", MakerUserID: "bob", TakerSide: orderbook.Buy,
		},
		Product: product,
	}
	if err := mgr.ApplyTrade(tc); err != nil {
		t.Fatal(err)
	}

	journal := accounting.New(nil, nil, 0)
	sched := New(cat, mgr, journal, nil, 0, 0, 4)
	sched.SettleAll()

	if got := journal.Balance(accounting.UserCash("alice")); got != -200 {
		t.Fatalf("alice cash delta = %d, want -200", got)
	}
	if got := journal.Balance(accounting.RevenueFunding("BTC-PERP")); got != 200 {
		t.Fatalf("Revenue:Funding:BTC-PERP = %d, want 200", got)
	}
	if got := journal.Balance(accounting.UserCash("bob")); got != 200 {
		t.Fatalf("bob cash delta = %d, want 200", got)
	}
	if got := journal.Balance(accounting.ExpensesFunding("BTC-PERP")); got != 200 {
		t.Fatalf("Expenses:Funding:BTC-PERP = %d, want 200", got)
	}
}

func TestSettleAllSkipsInactiveAndSpotProducts(t *testing.T) {
	cat, err := catalog.New("1.0.0")
	if err != nil {
		t.Fatal(err)
	}
	spot := &catalog.Product{Symbol: "XAU-SPOT", Category: catalog.CategorySpot, QtyExponent: 8}
	cat.Load(spot)

	perp := newBTCPerp()
	cat.Load(perp)
	perp.SetActive(false)
	perp.SetMarkPrice(1_000_000)

	mgr := position.New(cat, position.Limits{}, nil, nil, nil)
	journal := accounting.New(nil, nil, 0)
	sched := New(cat, mgr, journal, nil, 0, 0, 4)
	sched.SettleAll()

	if journal.Balance(accounting.RevenueFunding("BTC-PERP")) != 0 {
		t.Fatalf("inactive perpetual should not settle funding")
	}
}

func TestFundingRateClampsDynamicRate(t *testing.T) {
	p := &catalog.Product{Symbol: "BTC-PERP", DynamicFunding: true}
	p.SetMarkPrice(1_000_000)
	p.SetLastPrice(2_000_000) // +100% gap, 0.1 * 1.0 = 0.1 unclamped

	const maxRate = 1_000 // 0.001
	if got := FundingRate(p, maxRate); got != maxRate {
		t.Fatalf("expected rate clamped to %d, got %d", maxRate, got)
	}

	p.SetLastPrice(500_000) // -50% gap, 0.1 * -0.5 = -0.05 unclamped
	if got := FundingRate(p, maxRate); got != -maxRate {
		t.Fatalf("expected rate clamped to %d, got %d", -maxRate, got)
	}
}

func TestFundingRateUsesStaticWhenNotDynamic(t *testing.T) {
	p := newBTCPerp()
	if got := FundingRate(p, 1_000_000); got != p.FundingRateStatic {
		t.Fatalf("expected static rate %d, got %d", p.FundingRateStatic, got)
	}
}
