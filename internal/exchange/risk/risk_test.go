package risk

import (
	"testing"
	"time"

	"github.com/mnt-exchange/core/internal/exchange/catalog"
	"github.com/mnt-exchange/core/internal/exchange/exlog"
	"github.com/mnt-exchange/core/internal/exchange/matching"
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

func TestPreTradeCheckRejectsOverNotional(t *testing.T) {
	e := NewEngine(Limits{MaxNotionalPerOrder: 1_000_000}, testLogger(t))
	err := e.PreTradeCheck(matching.RiskCheckInput{
		UserID: "alice", Symbol: "XAU-SPOT", Side: orderbook.Buy,
		Price: 1_000_000, Quantity: money.NewQty(200_000_000, 8),
		Product: &catalog.Product{Symbol: "XAU-SPOT"},
	})
	if err == nil {
		t.Fatalf("expected notional breach rejection")
	}
}

func TestPreTradeCheckRejectsDailyLossBreach(t *testing.T) {
	e := NewEngine(Limits{MaxDailyLoss: 500_000}, testLogger(t))
	e.RecordRealizedLoss("alice", 600_000, 1)
	err := e.PreTradeCheck(matching.RiskCheckInput{UserID: "alice", Symbol: "XAU-SPOT", Quantity: money.NewQty(1, 8)})
	if err == nil {
		t.Fatalf("expected daily loss rejection")
	}
}

func TestRecordRealizedLossResetsOnNewDay(t *testing.T) {
	e := NewEngine(Limits{MaxDailyLoss: 500_000}, testLogger(t))
	e.RecordRealizedLoss("alice", 600_000, 1)
	e.RecordRealizedLoss("alice", 100, 2)
	err := e.PreTradeCheck(matching.RiskCheckInput{UserID: "alice", Symbol: "XAU-SPOT", Quantity: money.NewQty(1, 8)})
	if err != nil {
		t.Fatalf("loss counter should have reset on the new day: %v", err)
	}
}

func TestPreTradeCheckRateLimited(t *testing.T) {
	e := NewEngine(Limits{RateLimitPerMinute: 1}, testLogger(t))
	in := matching.RiskCheckInput{UserID: "alice", Symbol: "XAU-SPOT", Quantity: money.NewQty(1, 8)}
	if err := e.PreTradeCheck(in); err != nil {
		t.Fatalf("first request should pass: %v", err)
	}
	if err := e.PreTradeCheck(in); err == nil {
		t.Fatalf("second request within the window should be rate limited")
	}
}

func TestBreakerHaltBlocksAllOrders(t *testing.T) {
	b := NewBreaker(100_000, time.Minute)
	b.Halt("XAU-SPOT")
	if err := b.Check("XAU-SPOT", orderbook.Buy); err == nil {
		t.Fatalf("expected halted rejection")
	}
	if err := b.Check("XAU-SPOT", orderbook.Sell); err == nil {
		t.Fatalf("expected halted rejection")
	}
}

func TestBreakerTripsLimitUpOnLargeMove(t *testing.T) {
	b := NewBreaker(100_000, time.Hour) // 10% band, long cooldown
	b.OnTrade("XAU-SPOT", 100_000)      // seed reference
	b.OnTrade("XAU-SPOT", 120_000)      // +20% move, trips limit-up

	if b.State("XAU-SPOT") != LimitUp {
		t.Fatalf("expected LimitUp state, got %v", b.State("XAU-SPOT"))
	}
	if err := b.Check("XAU-SPOT", orderbook.Buy); err == nil {
		t.Fatalf("expected buys blocked while limit-up")
	}
	if err := b.Check("XAU-SPOT", orderbook.Sell); err != nil {
		t.Fatalf("sells should still be allowed while limit-up: %v", err)
	}
}

func TestBreakerResumeClearsHalt(t *testing.T) {
	b := NewBreaker(100_000, time.Minute)
	b.Halt("XAU-SPOT")
	b.Resume("XAU-SPOT")
	if err := b.Check("XAU-SPOT", orderbook.Buy); err != nil {
		t.Fatalf("expected resumed symbol to accept orders: %v", err)
	}
}

func TestPortfolioVaR(t *testing.T) {
	returns := []float64{-0.05, -0.02, -0.01, 0, 0.01, 0.02, 0.03, 0.04, -0.10, 0.05}
	var95, var99 := PortfolioVaR(returns)
	if var95 <= 0 {
		t.Fatalf("expected a positive VaR95 loss estimate, got %f", var95)
	}
	if var99 < var95 {
		t.Fatalf("VaR99 (%f) should be at least as large as VaR95 (%f)", var99, var95)
	}
}
