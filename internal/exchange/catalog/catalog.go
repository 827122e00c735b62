// Package catalog holds the immutable-after-load table of instruments and
// their risk/fee parameters (spec §3 Product, §2 "Product catalog").
package catalog

import (
	"sync"
	"sync/atomic"

	"github.com/Masterminds/semver/v3"
	"github.com/mnt-exchange/core/internal/exchange/exerrors"
	"github.com/mnt-exchange/core/internal/exchange/money"
)

// Category identifies the kind of instrument.
type Category string

const (
	CategorySpot      Category = "spot"
	CategoryPerpetual Category = "perpetual"
	CategoryFX        Category = "fx"
)

// Product is an immutable-identity instrument; only MarkPrice, LastPrice,
// and Active are mutated in place (via atomic publish), matching §5's
// "read-mostly... atomic publish with a write barrier" requirement.
type Product struct {
	Symbol             string
	Category           Category
	QtyExponent        uint8
	TickSize           money.Micro
	LotSize            money.Qty
	MinOrderQty        money.Qty
	MaxOrderQty        money.Qty
	MinNotional        money.Micro
	InitialMarginRate  int64 // fraction scaled by money.RateScale
	MakerFeeRate       int64
	TakerFeeRate       int64
	MinFee             money.Micro
	SpreadMarkupRate   int64 // if > 0, spread-markup pricing used instead of explicit fees
	FundingRateStatic  int64 // scaled by money.RateScale; used unless dynamic funding configured
	DynamicFunding     bool
	HasExternalRef     bool // e.g. USD/MNT band validation applies
	PriceBandRate      int64 // +/- band around reference, scaled by money.RateScale
	Hedgeable          bool

	active    atomic.Bool
	markPrice atomic.Int64
	lastPrice atomic.Int64
}

// Active reports whether the product currently accepts orders.
func (p *Product) Active() bool { return p.active.Load() }

// SetActive toggles the active flag (admin action).
func (p *Product) SetActive(v bool) { p.active.Store(v) }

// MarkPrice returns the current mark price.
func (p *Product) MarkPrice() money.Micro { return money.Micro(p.markPrice.Load()) }

// SetMarkPrice atomically publishes a new mark price (external price feed).
func (p *Product) SetMarkPrice(m money.Micro) { p.markPrice.Store(int64(m)) }

// LastPrice returns the last traded price.
func (p *Product) LastPrice() money.Micro { return money.Micro(p.lastPrice.Load()) }

// SetLastPrice atomically publishes the last traded price (matcher only).
func (p *Product) SetLastPrice(m money.Micro) { p.lastPrice.Store(int64(m)) }

// Leverage returns 1 / initial_margin_rate, used by ADL ranking (§4.4).
func (p *Product) Leverage() float64 {
	if p.InitialMarginRate == 0 {
		return 0
	}
	return float64(money.RateScale) / float64(p.InitialMarginRate)
}

// Catalog is the process-wide, read-mostly product table.
type Catalog struct {
	mu         sync.RWMutex
	products   map[string]*Product
	schemaVer  *semver.Version
}

// SupportedSchema is the highest catalog-config schema version this
// binary understands; New rejects a catalog declaring a newer one.
var SupportedSchema = semver.MustParse("1.0.0")

// New builds an empty catalog tagged with the given config schema version.
func New(schemaVersion string) (*Catalog, error) {
	v, err := semver.NewVersion(schemaVersion)
	if err != nil {
		return nil, err
	}
	if v.GreaterThan(SupportedSchema) {
		return nil, exerrors.New("catalog", "UNSUPPORTED_SCHEMA", "catalog config schema is newer than this binary supports").
			WithDetail("declared", v.String()).WithDetail("supported", SupportedSchema.String())
	}
	return &Catalog{products: make(map[string]*Product), schemaVer: v}, nil
}

// Load installs a product definition at startup. Not safe to call after
// the catalog is published to the matching engine.
func (c *Catalog) Load(p *Product) {
	p.active.Store(true)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.products[p.Symbol] = p
}

// Get returns the product for symbol, or ErrUnknownSymbol.
func (c *Catalog) Get(symbol string) (*Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.products[symbol]
	if !ok {
		return nil, exerrors.UnknownSymbol(symbol)
	}
	return p, nil
}

// All returns every loaded product (read-mostly snapshot slice).
func (c *Catalog) All() []*Product {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Product, 0, len(c.products))
	for _, p := range c.products {
		out = append(out, p)
	}
	return out
}
