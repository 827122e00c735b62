package orderbook

import (
	"container/list"

	rbt "github.com/emirpasic/gods/v2/trees/redblacktree"
	"github.com/mnt-exchange/core/internal/exchange/exerrors"
	"github.com/mnt-exchange/core/internal/exchange/money"
)

// level holds every resting order at one price, FIFO by time priority.
type level struct {
	price   money.Micro
	queue   *list.List // of int32 slot index
	elemOf  map[int32]*list.Element
}

func newLevel(price money.Micro) *level {
	return &level{price: price, queue: list.New(), elemOf: make(map[int32]*list.Element)}
}

func (l *level) push(slot int32) {
	l.elemOf[slot] = l.queue.PushBack(slot)
}

func (l *level) remove(slot int32) {
	if e, ok := l.elemOf[slot]; ok {
		l.queue.Remove(e)
		delete(l.elemOf, slot)
	}
}

func (l *level) front() (int32, bool) {
	e := l.queue.Front()
	if e == nil {
		return 0, false
	}
	return e.Value.(int32), true
}

func (l *level) empty() bool { return l.queue.Len() == 0 }

// Book is a single symbol's order book: an arena of orders, an id->slot
// index, and a bid/ask price-level map sorted descending/ascending.
type Book struct {
	Symbol string

	arena    []Order
	free     []int32
	idToSlot map[int64]int32
	seq      uint64

	bids *rbt.Tree[int64, *level] // descending comparator
	asks *rbt.Tree[int64, *level] // ascending comparator

	stopOrders map[int64]int32 // untriggered stop-limit orders, keyed by id -> slot

	lastPrice money.Micro
}

// New builds an empty book for symbol with a fixed arena capacity.
func New(symbol string, capacity int) *Book {
	descending := func(a, b int64) int {
		switch {
		case a > b:
			return -1
		case a < b:
			return 1
		default:
			return 0
		}
	}
	ascending := func(a, b int64) int {
		switch {
		case a < b:
			return -1
		case a > b:
			return 1
		default:
			return 0
		}
	}
	return &Book{
		Symbol:     symbol,
		arena:      make([]Order, capacity),
		free:       initialFreeList(capacity),
		idToSlot:   make(map[int64]int32, capacity),
		bids:       rbt.NewWith[int64, *level](descending),
		asks:       rbt.NewWith[int64, *level](ascending),
		stopOrders: make(map[int64]int32),
	}
}

func initialFreeList(capacity int) []int32 {
	free := make([]int32, capacity)
	for i := 0; i < capacity; i++ {
		// reverse so slot 0 is allocated first
		free[i] = int32(capacity - 1 - i)
	}
	return free
}

func (b *Book) tree(side Side) *rbt.Tree[int64, *level] {
	if side == Buy {
		return b.bids
	}
	return b.asks
}

func (b *Book) alloc(o *Order) (int32, error) {
	if len(b.free) == 0 {
		return 0, exerrors.New("orderbook", "ARENA_FULL", "order book arena exhausted").WithDetail("symbol", b.Symbol)
	}
	slot := b.free[len(b.free)-1]
	b.free = b.free[:len(b.free)-1]
	b.seq++
	o.slot = slot
	o.seq = b.seq
	o.inArena = true
	b.arena[slot] = *o
	b.idToSlot[o.ID] = slot
	return slot, nil
}

func (b *Book) release(slot int32, id int64) {
	b.arena[slot] = Order{}
	b.free = append(b.free, slot)
	delete(b.idToSlot, id)
}

// Rest inserts a non-triggered order onto its side's book at its limit
// price, in FIFO order within the level.
func (b *Book) Rest(o *Order) error {
	slot, err := b.alloc(o)
	if err != nil {
		return err
	}
	tr := b.tree(o.Side)
	lv, found := tr.Get(int64(o.LimitPrice))
	if !found {
		lv = newLevel(o.LimitPrice)
		tr.Put(int64(o.LimitPrice), lv)
	}
	lv.push(slot)
	return nil
}

// RestStop holds a stop-limit order untriggered until the last trade
// price reaches its stop price (spec §4.1 Stop-limit).
func (b *Book) RestStop(o *Order) error {
	slot, err := b.alloc(o)
	if err != nil {
		return err
	}
	b.stopOrders[o.ID] = slot
	return nil
}

// Get returns a copy of the order currently in the book by id.
func (b *Book) Get(id int64) (Order, bool) {
	slot, ok := b.idToSlot[id]
	if !ok {
		return Order{}, false
	}
	return b.arena[slot], true
}

// Cancel removes a resting or untriggered-stop order by id, releasing its
// arena slot. Idempotent: a second cancel of the same id reports ok=false
// (spec §5 "duplicate cancels return not found").
func (b *Book) Cancel(id int64) (Order, bool) {
	if slot, ok := b.stopOrders[id]; ok {
		o := b.arena[slot]
		delete(b.stopOrders, id)
		b.release(slot, id)
		return o, true
	}
	slot, ok := b.idToSlot[id]
	if !ok {
		return Order{}, false
	}
	o := b.arena[slot]
	tr := b.tree(o.Side)
	lv, found := tr.Get(int64(o.LimitPrice))
	if found {
		lv.remove(slot)
		if lv.empty() {
			tr.Remove(int64(o.LimitPrice))
		}
	}
	b.release(slot, id)
	return o, true
}

// BestOpposing returns the best-priority resting order opposing
// takerSide (i.e. for a buy taker, the best ask), without removing it.
func (b *Book) BestOpposing(takerSide Side) (Order, bool) {
	tr := b.tree(takerSide.Opposite())
	keys := tr.Keys()
	if len(keys) == 0 {
		return Order{}, false
	}
	lv, _ := tr.Get(keys[0])
	slot, ok := lv.front()
	if !ok {
		return Order{}, false
	}
	return b.arena[slot], true
}

// Fill reduces a resting order's Remaining by fillQty. If it reaches
// zero it is removed from the book and its arena slot released;
// otherwise its Remaining is updated in place, preserving its queue
// position (time priority survives partial fills, spec §4.1).
func (b *Book) Fill(id int64, fillQty money.Qty) (remaining money.Qty, removed bool) {
	slot, ok := b.idToSlot[id]
	if !ok {
		return money.Qty{}, false
	}
	o := &b.arena[slot]
	o.Remaining = o.Remaining.Sub(fillQty)
	if o.Remaining.Sign() == 0 {
		o.Status = StatusFilled
		tr := b.tree(o.Side)
		lv, found := tr.Get(int64(o.LimitPrice))
		if found {
			lv.remove(slot)
			if lv.empty() {
				tr.Remove(int64(o.LimitPrice))
			}
		}
		id := o.ID
		b.release(slot, id)
		return money.ZeroQty(o.Remaining.Exponent()), true
	}
	o.Status = StatusPartiallyFilled
	return o.Remaining, false
}

// BestPrice returns the best price on side, if any resting liquidity exists.
func (b *Book) BestPrice(side Side) (money.Micro, bool) {
	tr := b.tree(side)
	keys := tr.Keys()
	if len(keys) == 0 {
		return 0, false
	}
	return money.Micro(keys[0]), true
}

// LastPrice returns the book's last traded price.
func (b *Book) LastPrice() money.Micro { return b.lastPrice }

// SetLastPrice records the most recent trade price, used for stop-order
// trigger evaluation.
func (b *Book) SetLastPrice(p money.Micro) { b.lastPrice = p }

// Level is one (price, aggregate quantity, order count) depth entry.
type Level struct {
	Price    money.Micro
	Quantity money.Qty
	Orders   int
}

// Depth returns the top n levels per side (spec §4.1 Depth query).
func (b *Book) Depth(n int) (bids, asks []Level) {
	bids = b.depthSide(b.bids, n)
	asks = b.depthSide(b.asks, n)
	return
}

func (b *Book) depthSide(tr *rbt.Tree[int64, *level], n int) []Level {
	keys := tr.Keys()
	if n > 0 && n < len(keys) {
		keys = keys[:n]
	}
	out := make([]Level, 0, len(keys))
	for _, k := range keys {
		lv, _ := tr.Get(k)
		qty := money.ZeroQty(0)
		count := 0
		for e := lv.queue.Front(); e != nil; e = e.Next() {
			slot := e.Value.(int32)
			if count == 0 {
				qty = money.ZeroQty(b.arena[slot].Remaining.Exponent())
			}
			qty = qty.Add(b.arena[slot].Remaining)
			count++
		}
		out = append(out, Level{Price: lv.price, Quantity: qty, Orders: count})
	}
	return out
}

// TriggerStops evaluates every untriggered stop-limit order against the
// new last price and returns those that have triggered (idempotent: each
// returned order is removed from the untriggered set before return).
func (b *Book) TriggerStops(lastPrice money.Micro) []Order {
	var triggered []Order
	for id, slot := range b.stopOrders {
		o := b.arena[slot]
		crossed := false
		if o.Side == Buy && lastPrice >= o.StopPrice {
			crossed = true
		}
		if o.Side == Sell && lastPrice <= o.StopPrice {
			crossed = true
		}
		if crossed {
			o.Triggered = true
			triggered = append(triggered, o)
			delete(b.stopOrders, id)
			b.release(slot, id)
		}
	}
	return triggered
}
