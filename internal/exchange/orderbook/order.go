// Package orderbook implements the per-symbol price-time-priority limit
// order book (spec §4.1). Orders are allocated in a per-symbol arena and
// referenced by dense slot index from both the price-level FIFO queues
// and the id->slot lookup map (spec §9's arena+index design note), rather
// than sharing *Order pointers between structures.
package orderbook

import "github.com/mnt-exchange/core/internal/exchange/money"

// Side is the side of an order or resting level.
type Side int8

const (
	Buy Side = iota
	Sell
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// Type is the order type named in spec §3/§4.1.
type Type int8

const (
	Limit Type = iota
	Market
	IOC
	FOK
	PostOnly
	StopLimit
)

// Status is the order lifecycle state (spec §3 Order).
type Status int8

const (
	StatusWorking Status = iota
	StatusPartiallyFilled
	StatusFilled
	StatusCancelled
	StatusRejected
)

// IsTerminal reports whether status is a terminal state.
func (s Status) IsTerminal() bool {
	return s == StatusFilled || s == StatusCancelled || s == StatusRejected
}

// Order is one resting or in-flight order. Zero value is not meaningful;
// always constructed via New.
type Order struct {
	ID          int64
	Symbol      string
	UserID      string
	Side        Side
	Type        Type
	LimitPrice  money.Micro
	StopPrice   money.Micro
	Quantity    money.Qty
	Remaining   money.Qty
	Status      Status
	ClientRef   string
	Triggered   bool
	CreatedAt   int64 // microseconds since epoch
	seq         uint64

	slot    int32
	inArena bool
}

// New constructs an order with Remaining == Quantity and Status Working.
func New(id int64, symbol, userID string, side Side, typ Type, limitPrice, stopPrice money.Micro, qty money.Qty, clientRef string, createdAt int64) *Order {
	return &Order{
		ID:         id,
		Symbol:     symbol,
		UserID:     userID,
		Side:       side,
		Type:       typ,
		LimitPrice: limitPrice,
		StopPrice:  stopPrice,
		Quantity:   qty,
		Remaining:  qty,
		Status:     StatusWorking,
		ClientRef:  clientRef,
		CreatedAt:  createdAt,
	}
}

// Notional returns |Remaining| * LimitPrice, the remaining reservable
// exposure used for margin reservation (spec §4.3 authoritative rule).
func (o *Order) Notional() money.Micro {
	return money.MulQty(o.LimitPrice, money.AbsQty(o.Remaining))
}
