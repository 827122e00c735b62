// Package money implements the exchange's fixed-point monetary and
// quantity arithmetic. All ledger, margin, and trade-value math in the
// core operates on these integer types; float64 is only used at the
// display/query edge.
package money

import "fmt"

// Micro is an amount of MNT expressed in micro-MNT units: 1 MNT = 1_000_000
// Micro. All balances, prices, margin, and P&L in the core are Micro.
type Micro int64

// UnitsPerMNT is the fixed-point scale of Micro.
const UnitsPerMNT int64 = 1_000_000

// FromMNT converts a whole-MNT float into Micro, truncating to the unit.
// Only used at config/display boundaries, never on the hot match path.
func FromMNT(mnt float64) Micro {
	return Micro(int64(mnt * float64(UnitsPerMNT)))
}

// ToMNT renders Micro as a float64 MNT amount for display.
func (m Micro) ToMNT() float64 {
	return float64(m) / float64(UnitsPerMNT)
}

func (m Micro) String() string {
	return fmt.Sprintf("%d.%06d", int64(m)/UnitsPerMNT, abs64(int64(m)%UnitsPerMNT))
}

// Add, Sub, Neg are integer operations; kept as named methods so call
// sites document intent (balance.Add(payment) reads better than +).
func (m Micro) Add(o Micro) Micro { return m + o }
func (m Micro) Sub(o Micro) Micro { return m - o }
func (m Micro) Neg() Micro        { return -m }

// MulQty computes notional = price (Micro) x quantity (Qty), returning a
// Micro amount. Order matters: multiply the full-precision integers first,
// divide once by the quantity scale (spec's resolved record_trade ambiguity;
// see DESIGN.md). Computed in int64; callers must ensure price/qty ranges
// fit within the exchange's configured bounds (checked by risk/catalog).
func MulQty(price Micro, qty Qty) Micro {
	return Micro(int64(price) * qty.raw / qty.scale())
}

// MulRate multiplies a Micro amount by a rate expressed as a fraction
// scaled by RateScale (e.g. initial margin rate 0.10 -> 100_000 at
// RateScale 1_000_000), returning a Micro amount, floor-rounded toward
// zero.
func MulRate(amount Micro, rateNumerator, rateScale int64) Micro {
	return Micro(int64(amount) * rateNumerator / rateScale)
}

// RateScale is the fixed-point scale used for rates (margin rate, fee
// rate, funding rate, VAT rate, spread markup).
const RateScale int64 = 1_000_000

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// Qty is a fixed-point, signed quantity (negative for short position
// sizes) with an instrument-defined decimal exponent (e.g. exponent 8 for a product quoted to 1e-8 lot
// granularity). raw is the integer mantissa; scale() = 10^exponent.
type Qty struct {
	raw      int64
	exponent uint8
}

// NewQty builds a Qty from an integer mantissa and decimal exponent.
func NewQty(raw int64, exponent uint8) Qty {
	return Qty{raw: raw, exponent: exponent}
}

// ZeroQty returns a zero quantity at the given exponent.
func ZeroQty(exponent uint8) Qty { return Qty{raw: 0, exponent: exponent} }

func (q Qty) scale() int64 {
	s := int64(1)
	for i := uint8(0); i < q.exponent; i++ {
		s *= 10
	}
	return s
}

// Raw returns the integer mantissa.
func (q Qty) Raw() int64 { return q.raw }

// Exponent returns the decimal exponent.
func (q Qty) Exponent() uint8 { return q.exponent }

// IsZero reports whether the quantity is exactly zero.
func (q Qty) IsZero() bool { return q.raw == 0 }

// Sign returns -1, 0, or 1.
func (q Qty) Sign() int {
	switch {
	case q.raw < 0:
		return -1
	case q.raw > 0:
		return 1
	default:
		return 0
	}
}

// Add, Sub return a Qty at the receiver's exponent; callers must not mix
// Qty values of differing exponents within one product (catalog enforces
// a single exponent per symbol).
func (q Qty) Add(o Qty) Qty { return Qty{raw: q.raw + o.raw, exponent: q.exponent} }
func (q Qty) Sub(o Qty) Qty { return Qty{raw: q.raw - o.raw, exponent: q.exponent} }
func (q Qty) Neg() Qty      { return Qty{raw: -q.raw, exponent: q.exponent} }

// Cmp returns -1, 0, 1 comparing q to o.
func (q Qty) Cmp(o Qty) int {
	switch {
	case q.raw < o.raw:
		return -1
	case q.raw > o.raw:
		return 1
	default:
		return 0
	}
}

// MulFrac returns q * numerator / denominator, used for proportional
// margin release and partial-fill bookkeeping.
func (q Qty) MulFrac(numerator, denominator int64) Qty {
	return Qty{raw: q.raw * numerator / denominator, exponent: q.exponent}
}

// ToFloat renders the quantity as a float64 for display only.
func (q Qty) ToFloat() float64 {
	return float64(q.raw) / float64(q.scale())
}

func (q Qty) String() string {
	return fmt.Sprintf("%d/1e%d", q.raw, q.exponent)
}

// AbsQty returns the absolute value of q.
func AbsQty(q Qty) Qty {
	if q.raw < 0 {
		return q.Neg()
	}
	return q
}
