package matching

import (
	"github.com/mnt-exchange/core/internal/exchange/catalog"
	"github.com/mnt-exchange/core/internal/exchange/money"
)

// settleTrade performs the post-match sequence from spec §4.2: compute
// revenue, contribute to insurance, accrue VAT, dispatch to the position
// manager (derivatives only) and the accounting engine, in that order —
// position manager before accounting, matching the §5 lock order.
func (e *Engine) settleTrade(product *catalog.Product, trade Trade) error {
	notional := money.MulQty(trade.Price, trade.Quantity)
	fees := computeFees(product, notional, e.vatRate, e.insuranceContribution)
	if fees.InsuranceCut > 0 {
		e.pos.CreditInsuranceFund(fees.InsuranceCut)
	}

	tc := TradeCommitted{
		Trade:   trade,
		Product: product,
		Fees:    fees,
		IsSpot:  product.Category == catalog.CategorySpot,
	}

	if tc.IsSpot {
		if err := e.ledger.PostSpotTrade(tc); err != nil {
			return err
		}
		return nil
	}

	if err := e.pos.ApplyTrade(tc); err != nil {
		return err
	}
	if err := e.ledger.PostTrade(tc); err != nil {
		return err
	}
	return nil
}

// computeFees implements spec §4.2's revenue rule: either a spread
// markup, or explicit taker/maker fees each floored at min_fee. VAT
// accrues on explicit fee revenue only, never on spread revenue (spec
// §4.2). A configured fraction of gross revenue always funds the
// insurance contribution, regardless of fee model.
func computeFees(product *catalog.Product, notional money.Micro, vatRate, insuranceFraction int64) TradeFees {
	var fees TradeFees
	var grossRevenue money.Micro

	if product.SpreadMarkupRate > 0 {
		fees.SpreadRevenue = money.MulRate(notional, product.SpreadMarkupRate, money.RateScale)
		grossRevenue = fees.SpreadRevenue
	} else {
		taker := money.MulRate(notional, product.TakerFeeRate, money.RateScale)
		if taker < product.MinFee {
			taker = product.MinFee
		}
		maker := money.MulRate(notional, product.MakerFeeRate, money.RateScale)
		if maker < product.MinFee {
			maker = product.MinFee
		}
		fees.TakerFee = taker
		fees.MakerFee = maker
		grossRevenue = taker + maker
		fees.VAT = money.MulRate(grossRevenue, vatRate, money.RateScale)
	}

	fees.InsuranceCut = money.MulRate(grossRevenue, insuranceFraction, money.RateScale)
	return fees
}
