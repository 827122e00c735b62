// Package eventbus implements the external event fan-out named in spec
// §6 (on_trade, on_order, on_circuit_breaker_change): every commit the
// matching engine or circuit breaker makes is published as a message on
// a watermill topic, so out-of-process subscribers never block the
// matcher thread.
//
// Grounded on internal/architecture/cqrs/eventbus/watermill_adapter.go's
// gochannel wiring for the in-process/test transport, and on
// internal/architecture/fx/eventbus_adapters.go's NATS publisher
// construction for the durable transport — both re-expressed without
// the teacher's go.uber.org/fx container, since this core hand-wires
// its composition root (see cmd/exchange).
package eventbus

import (
	"github.com/mnt-exchange/core/internal/exchange/matching"
	"github.com/mnt-exchange/core/internal/exchange/orderbook"
)

// Topic names the three event streams spec §6 enumerates.
const (
	TopicTrades  = "exchange.trades"
	TopicOrders  = "exchange.orders"
	TopicBreaker = "exchange.circuit_breaker"
)

// TradeEvent is the wire shape published on TopicTrades.
type TradeEvent struct {
	ID           string  `json:"id"`
	Symbol       string  `json:"symbol"`
	Price        int64   `json:"price_micro"`
	Quantity     float64 `json:"quantity"`
	TakerUserID  string  `json:"taker_user_id"`
	MakerUserID  string  `json:"maker_user_id"`
	TakerOrderID int64   `json:"taker_order_id"`
	MakerOrderID int64   `json:"maker_order_id"`
	TakerSide    int8    `json:"taker_side"`
	Timestamp    int64   `json:"timestamp"`
}

func tradeEventFrom(t matching.Trade) TradeEvent {
	return TradeEvent{
		ID: t.ID, Symbol: t.Symbol, Price: int64(t.Price), Quantity: t.Quantity.ToFloat(),
		TakerUserID: t.TakerUserID, MakerUserID: t.MakerUserID,
		TakerOrderID: t.TakerOrderID, MakerOrderID: t.MakerOrderID,
		TakerSide: int8(t.TakerSide), Timestamp: t.Timestamp,
	}
}

// OrderEvent is the wire shape published on TopicOrders.
type OrderEvent struct {
	ID         int64   `json:"id"`
	Symbol     string  `json:"symbol"`
	UserID     string  `json:"user_id"`
	Side       int8    `json:"side"`
	Type       int8    `json:"type"`
	LimitPrice int64   `json:"limit_price_micro"`
	Quantity   float64 `json:"quantity"`
	Remaining  float64 `json:"remaining"`
	Status     int8    `json:"status"`
	ClientRef  string  `json:"client_ref"`
	CreatedAt  int64   `json:"created_at"`
}

func orderEventFrom(o orderbook.Order) OrderEvent {
	return OrderEvent{
		ID: o.ID, Symbol: o.Symbol, UserID: o.UserID, Side: int8(o.Side), Type: int8(o.Type),
		LimitPrice: int64(o.LimitPrice), Quantity: o.Quantity.ToFloat(), Remaining: o.Remaining.ToFloat(),
		Status: int8(o.Status), ClientRef: o.ClientRef, CreatedAt: o.CreatedAt,
	}
}

// BreakerEvent is the wire shape published on TopicBreaker whenever a
// symbol's circuit-breaker state changes (spec §4.5
// "on_circuit_breaker_change").
type BreakerEvent struct {
	Symbol string `json:"symbol"`
	State  int    `json:"state"`
}
