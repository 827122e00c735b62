// Package risk implements the pre-trade risk gate and the per-symbol
// circuit breaker (spec §4.5): a staged check pipeline ahead of the
// matcher's own gating, and a 4-state halt/limit machine consulted on
// every submission.
//
// Grounded on services/trading/risk_manager_core.go's ValidateOrder
// staged-pipeline shape and risk_manager_types.go's types; the circuit
// breaker state machine is new — domain-specific halt/limit-up/
// limit-down logic over trade prices, not a generic request-failure
// breaker; no such generic breaker is used in this module.
package risk

import (
	"sync"
	"time"

	"github.com/mnt-exchange/core/internal/exchange/exerrors"
	"github.com/mnt-exchange/core/internal/exchange/money"
	"github.com/mnt-exchange/core/internal/exchange/orderbook"
)

// BreakerState is one symbol's circuit-breaker state (spec §4.5).
type BreakerState int

const (
	Normal BreakerState = iota
	LimitUp
	LimitDown
	Halted
)

type symbolBreaker struct {
	state     BreakerState
	reference money.Micro
	enteredAt int64
}

// Breaker is the per-symbol circuit breaker satisfying
// matching.Breaker. band is the move (scaled by money.RateScale) from
// the reference price that trips limit-up/limit-down; cooldown is how
// long a tripped symbol stays in that state before it returns to
// Normal, after which the next trade reseeds the reference.
type Breaker struct {
	mu       sync.Mutex
	symbols  map[string]*symbolBreaker
	band     int64
	cooldown time.Duration
	now      func() time.Time

	onChange func(symbol string, state BreakerState)
}

// OnChange registers a callback invoked after every state transition
// (spec §4.5 "a callback informs the external event fan-out on every
// state change"). Must be set before the breaker sees any traffic: it
// is read without a lock from inside transition paths that already
// hold the breaker's own mutex, so the callback itself must not call
// back into the Breaker.
func (b *Breaker) OnChange(fn func(symbol string, state BreakerState)) {
	b.onChange = fn
}

func (b *Breaker) notify(symbol string, state BreakerState) {
	if b.onChange != nil {
		b.onChange(symbol, state)
	}
}

// NewBreaker builds a circuit breaker with the given band (e.g.
// 100_000 = 10% at RateScale) and cooldown.
func NewBreaker(band int64, cooldown time.Duration) *Breaker {
	return &Breaker{
		symbols:  make(map[string]*symbolBreaker),
		band:     band,
		cooldown: cooldown,
		now:      time.Now,
	}
}

func (b *Breaker) stateFor(symbol string) *symbolBreaker {
	s, ok := b.symbols[symbol]
	if !ok {
		s = &symbolBreaker{state: Normal}
		b.symbols[symbol] = s
	}
	return s
}

// Check implements matching.Breaker: rejects every order on a halted
// symbol, and rejects orders that would extend a tripped move further
// in the same direction (buys while LimitUp, sells while LimitDown).
func (b *Breaker) Check(symbol string, side orderbook.Side) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := b.stateFor(symbol)
	b.maybeCooldown(symbol, s)

	switch s.state {
	case Halted:
		return exerrors.Halted(symbol)
	case LimitUp:
		if side == orderbook.Buy {
			return exerrors.LimitUp(symbol)
		}
	case LimitDown:
		if side == orderbook.Sell {
			return exerrors.LimitDown(symbol)
		}
	}
	return nil
}

// OnTrade implements matching.Breaker: re-evaluates the symbol's state
// against its reference price after every execution.
func (b *Breaker) OnTrade(symbol string, price money.Micro) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := b.stateFor(symbol)
	if s.reference == 0 {
		s.reference = price
		return
	}

	move := int64(price-s.reference) * money.RateScale / int64(s.reference)
	switch {
	case move >= b.band:
		b.trip(symbol, s, LimitUp)
	case move <= -b.band:
		b.trip(symbol, s, LimitDown)
	default:
		if s.state == Normal {
			s.reference = price
		}
	}
}

func (b *Breaker) trip(symbol string, s *symbolBreaker, state BreakerState) {
	if s.state == state {
		return
	}
	s.state = state
	s.enteredAt = b.now().UnixNano()
	b.notify(symbol, state)
}

// maybeCooldown releases a tripped symbol back to Normal once its
// cooldown has elapsed, clearing the reference price so the next trade
// reseeds it.
func (b *Breaker) maybeCooldown(symbol string, s *symbolBreaker) {
	if s.state == Normal || s.state == Halted {
		return
	}
	if time.Duration(b.now().UnixNano()-s.enteredAt) >= b.cooldown {
		s.state = Normal
		s.reference = 0
		b.notify(symbol, Normal)
	}
}

// Halt force-trips a symbol to Halted (spec §4.5 "market-wide halt"
// when called across every symbol by the composition root).
func (b *Breaker) Halt(symbol string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.stateFor(symbol)
	s.state = Halted
	s.enteredAt = b.now().UnixNano()
	b.notify(symbol, Halted)
}

// Resume clears a halted symbol back to Normal.
func (b *Breaker) Resume(symbol string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.stateFor(symbol)
	s.state = Normal
	b.notify(symbol, Normal)
}

// State reports a symbol's current breaker state.
func (b *Breaker) State(symbol string) BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateFor(symbol).state
}
