package position

import (
	"testing"

	"github.com/mnt-exchange/core/internal/exchange/catalog"
	"github.com/mnt-exchange/core/internal/exchange/exlog"
	"github.com/mnt-exchange/core/internal/exchange/money"
	"github.com/mnt-exchange/core/internal/exchange/orderbook"
)

func testLogger(t *testing.T) exlog.Logger {
	t.Helper()
	f, err := exlog.NewFactory("error", "console")
	if err != nil {
		t.Fatal(err)
	}
	return f.For("test")
}

func testProduct(symbol string) *catalog.Product {
	p := &catalog.Product{
		Symbol:            symbol,
		Category:          catalog.CategoryPerpetual,
		QtyExponent:       8,
		MinOrderQty:       money.NewQty(1, 8),
		MaxOrderQty:       money.NewQty(1_000_000_000, 8),
		MinNotional:       1,
		InitialMarginRate: 100_000, // 10x leverage
	}
	p.SetMarkPrice(100_000)
	return p
}

func newTestManager(t *testing.T, limits Limits) (*Manager, *catalog.Catalog, *catalog.Product) {
	t.Helper()
	cat, err := catalog.New("1.0.0")
	if err != nil {
		t.Fatal(err)
	}
	product := testProduct("BTC-PERP")
	cat.Load(product)
	m := New(cat, limits, nil, nil, testLogger(t))
	return m, cat, product
}

func q(raw int64) money.Qty { return money.NewQty(raw, 8) }

func TestOpenAndAddAveragesEntry(t *testing.T) {
	m, _, _ := newTestManager(t, Limits{})
	m.applyFill("alice", "BTC-PERP", q(100_000_000), 100_000, 0)
	m.applyFill("alice", "BTC-PERP", q(100_000_000), 110_000, 0)

	pos := m.positionFor("alice", "BTC-PERP")
	if pos.Size.Raw() != 200_000_000 {
		t.Fatalf("size = %d, want 200000000", pos.Size.Raw())
	}
	if pos.AvgEntry != 105_000 {
		t.Fatalf("avg entry = %d, want 105000", pos.AvgEntry)
	}
}

func TestReduceRealizesPnL(t *testing.T) {
	m, _, _ := newTestManager(t, Limits{})
	m.applyFill("alice", "BTC-PERP", q(100_000_000), 100_000, 0)
	m.applyFill("alice", "BTC-PERP", q(-50_000_000), 110_000, 0)

	pos := m.positionFor("alice", "BTC-PERP")
	if pos.Size.Raw() != 50_000_000 {
		t.Fatalf("size = %d, want 50000000", pos.Size.Raw())
	}
	wantPnL := money.MulQty(10_000, q(50_000_000))
	if pos.RealizedPnL != wantPnL {
		t.Fatalf("realized pnl = %d, want %d", pos.RealizedPnL, wantPnL)
	}
	acc := m.accountFor("alice")
	if acc.Balance != wantPnL {
		t.Fatalf("balance = %d, want %d", acc.Balance, wantPnL)
	}
}

func TestFlipThroughZeroResetsEntry(t *testing.T) {
	m, _, _ := newTestManager(t, Limits{})
	m.applyFill("alice", "BTC-PERP", q(100_000_000), 100_000, 0)
	m.applyFill("alice", "BTC-PERP", q(-150_000_000), 120_000, 0)

	pos := m.positionFor("alice", "BTC-PERP")
	if pos.Size.Raw() != -50_000_000 {
		t.Fatalf("size = %d, want -50000000", pos.Size.Raw())
	}
	if pos.AvgEntry != 120_000 {
		t.Fatalf("avg entry after flip = %d, want 120000", pos.AvgEntry)
	}
}

func TestMarginReserveReducesAvailable(t *testing.T) {
	m, _, _ := newTestManager(t, Limits{})
	m.Deposit("alice", 10_000_000)
	before, _ := m.Available("alice")

	m.ReserveOrderMargin("alice", 1, 1_000_000)
	after, _ := m.Available("alice")
	if after != before-1_000_000 {
		t.Fatalf("available after reserve = %d, want %d", after, before-1_000_000)
	}

	m.ReleaseOrderMargin("alice", 1, 1_000_000)
	restored, _ := m.Available("alice")
	if restored != before {
		t.Fatalf("available after release = %d, want %d", restored, before)
	}
}

func TestOpenInterestSumsLongSide(t *testing.T) {
	m, _, _ := newTestManager(t, Limits{})
	m.applyFill("alice", "BTC-PERP", q(100_000_000), 100_000, 0)
	m.applyFill("bob", "BTC-PERP", q(-100_000_000), 100_000, 0)
	m.applyFill("carol", "BTC-PERP", q(50_000_000), 100_000, 0)

	oi := m.OpenInterest("BTC-PERP")
	if oi.Raw() != 150_000_000 {
		t.Fatalf("open interest = %d, want 150000000", oi.Raw())
	}
}

func TestRequiredMarginRejectsPositionLimitBreach(t *testing.T) {
	limits := Limits{MaxPositionSize: q(50_000_000)}
	m, _, _ := newTestManager(t, limits)
	_, err := m.RequiredMargin("alice", "BTC-PERP", orderbook.Buy, q(100_000_000), 100_000)
	if err == nil {
		t.Fatalf("expected position-limit rejection")
	}
}

func TestGraduatedLiquidationEscalatesAcrossCalls(t *testing.T) {
	m, _, product := newTestManager(t, Limits{})
	m.Deposit("alice", 50_000) // thin collateral, undersized vs a large position
	m.applyFill("alice", "BTC-PERP", q(1_000_000_000), 100_000, 0)

	product.SetMarkPrice(10_000) // crash: equity goes deeply negative, well below maintenance
	m.refreshUnrealized("BTC-PERP", 10_000)

	initial := m.positionFor("alice", "BTC-PERP").Size.Raw()
	m.evaluateLiquidation("alice", product)
	afterStage1 := m.positionFor("alice", "BTC-PERP").Size.Raw()
	if afterStage1 >= initial {
		t.Fatalf("stage 1 should have reduced size: %d -> %d", initial, afterStage1)
	}

	m.evaluateLiquidation("alice", product)
	afterStage2 := m.positionFor("alice", "BTC-PERP").Size.Raw()
	if afterStage2 != afterStage1/2 {
		t.Fatalf("stage 2 should have closed half of the remainder: %d -> %d", afterStage1, afterStage2)
	}

	m.evaluateLiquidation("alice", product)
	if final := m.positionFor("alice", "BTC-PERP").Size.Raw(); final != 0 {
		t.Fatalf("stage 3 should have closed the rest, got %d", final)
	}
}

func TestBankruptcyDrainsInsuranceFund(t *testing.T) {
	m, _, product := newTestManager(t, Limits{})
	m.CreditInsuranceFund(1_000_000_000)
	m.Deposit("alice", 1_000)
	m.applyFill("alice", "BTC-PERP", q(1_000_000_000), 100_000, 0)

	product.SetMarkPrice(1_000) // catastrophic drop, balance goes deeply negative on close
	m.forceClose("alice", product, q(1_000_000_000))

	if m.accountFor("alice").Balance < 0 {
		t.Fatalf("balance should be clamped to zero, got %d", m.accountFor("alice").Balance)
	}
	if m.InsuranceFund() >= 1_000_000_000 {
		t.Fatalf("insurance fund should have absorbed the shortfall, got %d", m.InsuranceFund())
	}
}
