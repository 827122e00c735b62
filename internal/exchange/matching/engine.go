package matching

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/ksuid"

	"github.com/mnt-exchange/core/internal/exchange/catalog"
	"github.com/mnt-exchange/core/internal/exchange/exerrors"
	"github.com/mnt-exchange/core/internal/exchange/exlog"
	"github.com/mnt-exchange/core/internal/exchange/money"
	"github.com/mnt-exchange/core/internal/exchange/orderbook"
)

const bookArenaCapacity = 1 << 16

// SubmitRequest is the public order-submission contract (spec §4.1/§6).
type SubmitRequest struct {
	Symbol     string
	UserID     string
	Side       orderbook.Side
	Type       orderbook.Type
	LimitPrice money.Micro
	StopPrice  money.Micro
	Quantity   money.Qty
	ClientRef  string
}

// SubmitResult is returned to the caller of Submit.
type SubmitResult struct {
	OrderID   int64
	Trades    []Trade
	Remaining money.Qty
	Status    orderbook.Status
}

// Engine is the single-threaded-per-shard matcher. All public methods
// assume serialized access via mu, matching the §5 "matcher lock"
// ownership: the order book, and every downstream call this engine
// drives, happens under this one lock, in lock order
// matcher -> position-manager -> accounting (§5).
type Engine struct {
	mu     sync.Mutex
	books  map[string]*orderbook.Book
	cat    *catalog.Catalog
	risk   RiskChecker
	breaker Breaker
	pos    PositionSink
	ledger Ledger
	pub    Publisher
	logger exlog.Logger

	vatRate               int64 // scaled by money.RateScale
	insuranceContribution int64 // scaled by money.RateScale

	nextOrderID atomic.Int64
}

// New builds a matching engine over the given catalog and collaborators.
// vatRate and insuranceContribution are the §6 environment knobs "VAT
// rate" and "insurance contribution fraction", scaled by money.RateScale.
func New(cat *catalog.Catalog, risk RiskChecker, breaker Breaker, pos PositionSink, ledger Ledger, pub Publisher, logger exlog.Logger, vatRate, insuranceContribution int64) *Engine {
	return &Engine{
		books:                 make(map[string]*orderbook.Book),
		cat:                   cat,
		risk:                  risk,
		breaker:               breaker,
		pos:                   pos,
		ledger:                ledger,
		pub:                   pub,
		logger:                logger,
		vatRate:               vatRate,
		insuranceContribution: insuranceContribution,
	}
}

func (e *Engine) bookFor(symbol string) *orderbook.Book {
	b, ok := e.books[symbol]
	if !ok {
		b = orderbook.New(symbol, bookArenaCapacity)
		e.books[symbol] = b
	}
	return b
}

// Book exposes the read-mostly depth/BBO surface for a symbol (spec §6).
func (e *Engine) Book(symbol string) (*orderbook.Book, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.books[symbol]
	return b, ok
}

func nowMicros() int64 { return time.Now().UnixMicro() }

// Submit runs the full gating pipeline (spec §4.2 steps 1-5) and, on
// success, matches the order against the book.
func (e *Engine) Submit(req SubmitRequest) (SubmitResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	product, err := e.cat.Get(req.Symbol)
	if err != nil {
		return SubmitResult{}, err
	}

	// 1. product active, size and notional bounds.
	if !product.Active() {
		return SubmitResult{}, exerrors.ProductNotActive(req.Symbol)
	}
	if req.Quantity.Cmp(product.MinOrderQty) < 0 || req.Quantity.Cmp(product.MaxOrderQty) > 0 {
		return SubmitResult{}, exerrors.SizeOutOfRange(req.Symbol, req.Quantity, product.MinOrderQty, product.MaxOrderQty)
	}
	refPrice := req.LimitPrice
	if req.Type == orderbook.Market {
		refPrice = product.MarkPrice()
	}
	if notional := money.MulQty(refPrice, req.Quantity); notional < product.MinNotional {
		return SubmitResult{}, exerrors.NotionalTooSmall(req.Symbol, notional, product.MinNotional)
	}

	// 2. circuit breaker.
	if err := e.breaker.Check(req.Symbol, req.Side); err != nil {
		return SubmitResult{}, err
	}

	// 3. price-band validator (only for symbols with an external reference).
	if product.HasExternalRef && req.Type != orderbook.Market {
		ref := product.MarkPrice()
		band := money.MulRate(ref, product.PriceBandRate, money.RateScale)
		lower, upper := ref-band, ref+band
		if req.LimitPrice < lower || req.LimitPrice > upper {
			return SubmitResult{}, exerrors.BandBreach(req.Symbol, req.LimitPrice, band)
		}
	}

	// 4. risk engine pre-check.
	if err := e.risk.PreTradeCheck(RiskCheckInput{
		UserID: req.UserID, Symbol: req.Symbol, Side: req.Side,
		Price: refPrice, Quantity: req.Quantity, Product: product,
	}); err != nil {
		return SubmitResult{}, err
	}

	// 5. margin pre-check.
	required, err := e.pos.RequiredMargin(req.UserID, req.Symbol, req.Side, req.Quantity, refPrice)
	if err != nil {
		return SubmitResult{}, err
	}
	if required > 0 {
		available, err := e.pos.Available(req.UserID)
		if err != nil {
			return SubmitResult{}, err
		}
		if available < required {
			return SubmitResult{}, exerrors.MarginInsufficient(req.UserID, required, available)
		}
	}

	orderID := e.nextOrderID.Add(1)
	o := orderbook.New(orderID, req.Symbol, req.UserID, req.Side, req.Type, req.LimitPrice, req.StopPrice, req.Quantity, req.ClientRef, nowMicros())

	book := e.bookFor(req.Symbol)

	if req.Type == orderbook.StopLimit {
		if err := book.RestStop(o); err != nil {
			return SubmitResult{}, err
		}
		e.pos.ReserveOrderMargin(o.UserID, o.ID, restingMargin(product, o))
		e.pub.PublishOrder(*o)
		return SubmitResult{OrderID: orderID, Remaining: o.Quantity, Status: StatusWorking(o)}, nil
	}

	return e.matchAndMaybeRest(book, product, o)
}

func StatusWorking(o *orderbook.Order) orderbook.Status { return o.Status }

// matchAndMaybeRest runs the crossing algorithm for a just-admitted order,
// handling post-only/FOK/IOC/market/limit semantics per spec §4.1.
func (e *Engine) matchAndMaybeRest(book *orderbook.Book, product *catalog.Product, o *orderbook.Order) (SubmitResult, error) {
	if o.Type == orderbook.PostOnly {
		if best, ok := book.BestOpposing(o.Side); ok && crosses(o, best) {
			o.Status = orderbook.StatusRejected
			return SubmitResult{}, exerrors.RejectedPostOnly(o.Symbol)
		}
	}

	if o.Type == orderbook.FOK {
		if !fullyFillable(book, o) {
			o.Status = orderbook.StatusRejected
			return SubmitResult{}, exerrors.RejectedFOK(o.Symbol)
		}
	}

	trades, err := e.crossLoop(book, product, o)
	if err != nil {
		return SubmitResult{}, err
	}

	switch o.Type {
	case orderbook.Market, orderbook.IOC, orderbook.FOK:
		// any remainder is cancelled, never rests.
		o.Status = terminalStatus(o, len(trades) > 0)
	default:
		if o.Remaining.Sign() > 0 {
			if err := book.Rest(o); err != nil {
				return SubmitResult{}, err
			}
			e.pos.ReserveOrderMargin(o.UserID, o.ID, restingMargin(product, o))
		} else {
			o.Status = orderbook.StatusFilled
		}
	}

	e.pub.PublishOrder(*o)
	return SubmitResult{OrderID: o.ID, Trades: trades, Remaining: o.Remaining, Status: o.Status}, nil
}

// restingMargin computes the margin held against a resting order: its
// remaining notional at its fixed limit price, at the product's initial
// margin rate. Because the price is fixed for the life of a resting
// order, this is linear in the remaining quantity, which is what lets
// crossLoop release margin proportionally per fill without tracking a
// separate fraction (spec §4.3, §9 resolved ambiguity).
func restingMargin(product *catalog.Product, o *orderbook.Order) money.Micro {
	if o.LimitPrice == 0 {
		return 0
	}
	notional := money.MulQty(o.LimitPrice, o.Remaining)
	return money.MulRate(notional, product.InitialMarginRate, money.RateScale)
}

// restingFillRelease is the margin to release off a maker's hold for one
// fill of fillQty at the maker's fixed resting price.
func restingFillRelease(product *catalog.Product, maker orderbook.Order, fillQty money.Qty) money.Micro {
	if maker.LimitPrice == 0 {
		return 0
	}
	notional := money.MulQty(maker.LimitPrice, fillQty)
	return money.MulRate(notional, product.InitialMarginRate, money.RateScale)
}

func terminalStatus(o *orderbook.Order, anyFill bool) orderbook.Status {
	if o.Remaining.Sign() == 0 {
		return orderbook.StatusFilled
	}
	if anyFill {
		return orderbook.StatusPartiallyFilled
	}
	return orderbook.StatusCancelled
}

func crosses(taker *orderbook.Order, maker orderbook.Order) bool {
	if taker.Type == orderbook.Market {
		return true
	}
	if taker.Side == orderbook.Buy {
		return taker.LimitPrice >= maker.LimitPrice
	}
	return taker.LimitPrice <= maker.LimitPrice
}

// fullyFillable pre-checks aggregate opposite-side liquidity within the
// taker's acceptable price range, without mutating the book (spec §4.1 FOK).
func fullyFillable(book *orderbook.Book, o *orderbook.Order) bool {
	bids, asks := book.Depth(0)
	var levels []orderbook.Level
	if o.Side == orderbook.Buy {
		levels = asks
	} else {
		levels = bids
	}
	need := o.Remaining
	for _, lv := range levels {
		if o.Type != orderbook.Market {
			if o.Side == orderbook.Buy && lv.Price > o.LimitPrice {
				break
			}
			if o.Side == orderbook.Sell && lv.Price < o.LimitPrice {
				break
			}
		}
		need = need.Sub(lv.Quantity)
		if need.Sign() <= 0 {
			return true
		}
	}
	return need.Sign() <= 0
}

// crossLoop repeatedly matches o against the opposite side until o is
// filled, no more eligible liquidity exists, or price no longer crosses.
func (e *Engine) crossLoop(book *orderbook.Book, product *catalog.Product, o *orderbook.Order) ([]Trade, error) {
	var trades []Trade
	for o.Remaining.Sign() > 0 {
		maker, ok := book.BestOpposing(o.Side)
		if !ok {
			break
		}
		if !crosses(o, maker) {
			break
		}

		fillQty := o.Remaining
		if maker.Remaining.Cmp(fillQty) < 0 {
			fillQty = maker.Remaining
		}

		price := maker.LimitPrice

		o.Remaining = o.Remaining.Sub(fillQty)
		_, makerRemoved := book.Fill(maker.ID, fillQty)
		e.pos.ReleaseOrderMargin(maker.UserID, maker.ID, restingFillRelease(product, maker, fillQty))
		if !makerRemoved {
			updated, _ := book.Get(maker.ID)
			maker = updated
		}

		trade := Trade{
			ID:           ksuid.New().String(),
			Symbol:       o.Symbol,
			Price:        price,
			Quantity:     fillQty,
			TakerSide:    o.Side,
			TakerOrderID: o.ID,
			MakerOrderID: maker.ID,
			Timestamp:    nowMicros(),
		}
		trade.TakerUserID, trade.MakerUserID = o.UserID, maker.UserID

		if err := e.settleTrade(product, trade); err != nil {
			return trades, err
		}

		trades = append(trades, trade)
		book.SetLastPrice(price)
		product.SetLastPrice(price)
		e.breaker.OnTrade(o.Symbol, price)
		e.pub.PublishTrade(trade)

		e.evaluateTriggeredStops(book, product)
	}
	return trades, nil
}

// evaluateTriggeredStops converts newly-triggered stop orders to limit
// orders and submits them normally (spec §4.1 "Stop-order trigger").
func (e *Engine) evaluateTriggeredStops(book *orderbook.Book, product *catalog.Product) {
	triggered := book.TriggerStops(book.LastPrice())
	for i := range triggered {
		t := triggered[i]
		e.pos.ReleaseOrderMargin(t.UserID, t.ID, restingMargin(product, &t))
		t.Type = orderbook.Limit
		if _, err := e.matchAndMaybeRest(book, product, &t); err != nil {
			e.logger.Warn("triggered stop order rejected on conversion", "order_id", t.ID, "error", err.Error())
		}
	}
}

// Cancel removes a resting order by id, releasing reserved margin
// proportional to its remaining quantity (spec §4.1 Cancellation, §4.3
// margin release).
func (e *Engine) Cancel(symbol string, orderID int64) (orderbook.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	book, ok := e.books[symbol]
	if !ok {
		return orderbook.Order{}, exerrors.NotFound("order", symbolOrderKey(symbol, orderID))
	}
	o, ok := book.Cancel(orderID)
	if !ok {
		return orderbook.Order{}, exerrors.NotFound("order", symbolOrderKey(symbol, orderID))
	}
	o.Status = orderbook.StatusCancelled
	if product, err := e.cat.Get(symbol); err == nil {
		e.pos.ReleaseOrderMargin(o.UserID, o.ID, restingMargin(product, &o))
	}
	e.pub.PublishOrder(o)
	return o, nil
}

func symbolOrderKey(symbol string, orderID int64) string {
	return symbol + ":" + strconv.FormatInt(orderID, 10)
}
