package eventbus

import (
	"context"
	"encoding/json"
	"testing"
	"time"

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

func TestPublishTradeDeliversOverInMemoryBus(t *testing.T) {
	bus, sub := NewInMemory(testLogger(t))
	defer sub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	msgs, err := sub.Subscribe(ctx, TopicTrades)
	if err != nil {
		t.Fatal(err)
	}

	bus.PublishTrade(matching.Trade{
		ID: "t-1", Symbol: "BTC-PERP", Price: 1_000_000, Quantity: money.NewQty(200_000_000, 8),
		TakerUserID: "alice", MakerUserID: "bob", TakerSide: orderbook.Buy,
	})

	select {
	case msg := <-msgs:
		var got TradeEvent
		if err := json.Unmarshal(msg.Payload, &got); err != nil {
			t.Fatal(err)
		}
		if got.ID != "t-1" || got.Symbol != "BTC-PERP" || got.Quantity != 2 {
			t.Fatalf("unexpected trade event: %+v", got)
		}
		msg.Ack()
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for trade event")
	}
}

func TestPublishOrderDeliversOverInMemoryBus(t *testing.T) {
	bus, sub := NewInMemory(testLogger(t))
	defer sub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	msgs, err := sub.Subscribe(ctx, TopicOrders)
	if err != nil {
		t.Fatal(err)
	}

	bus.PublishOrder(orderbook.Order{ID: 42, Symbol: "XAU-SPOT", UserID: "alice", Side: orderbook.Buy})

	select {
	case msg := <-msgs:
		var got OrderEvent
		if err := json.Unmarshal(msg.Payload, &got); err != nil {
			t.Fatal(err)
		}
		if got.ID != 42 || got.Symbol != "XAU-SPOT" {
			t.Fatalf("unexpected order event: %+v", got)
		}
		msg.Ack()
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for order event")
	}
}

func TestPublishBreakerChangeDeliversOverInMemoryBus(t *testing.T) {
	bus, sub := NewInMemory(testLogger(t))
	defer sub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	msgs, err := sub.Subscribe(ctx, TopicBreaker)
	if err != nil {
		t.Fatal(err)
	}

	bus.PublishBreakerChange("BTC-PERP", 1)

	select {
	case msg := <-msgs:
		var got BreakerEvent
		if err := json.Unmarshal(msg.Payload, &got); err != nil {
			t.Fatal(err)
		}
		if got.Symbol != "BTC-PERP" || got.State != 1 {
			t.Fatalf("unexpected breaker event: %+v", got)
		}
		msg.Ack()
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for breaker event")
	}
}
