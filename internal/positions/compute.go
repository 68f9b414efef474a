package positions

import (
	"github.com/shopspring/decimal"

	"fxlink/internal/gateway/exchange"
	"fxlink/internal/pkg/pip"
)

// recompute derives all live figures of pos from the quote. It reads
// only immutable inputs (open price, volume, costs) and the quote, so
// applying the same quote twice yields bit-identical results.
func recompute(pos *TrackedPosition, q exchange.Quote, contractSize float64) {
	pos.Bid = q.Bid
	pos.Ask = q.Ask

	open := decimal.NewFromFloat(pos.OpenPrice)
	volume := decimal.NewFromFloat(pos.Volume)
	contract := decimal.NewFromFloat(contractSize)

	var diff decimal.Decimal
	if pos.Side == exchange.SideBuy {
		// longs close at the bid
		diff = decimal.NewFromFloat(q.Bid).Sub(open)
	} else {
		// shorts close at the ask
		diff = open.Sub(decimal.NewFromFloat(q.Ask))
	}

	gross := diff.Mul(volume).Mul(contract)
	net := gross.Sub(decimal.NewFromFloat(pos.Commission)).Sub(decimal.NewFromFloat(pos.Swap))
	pos.NetPL, _ = net.Float64()

	// pip distance is unsigned; NetPL carries the direction
	pips := diff.Abs().Div(decimal.NewFromFloat(pip.Value(pos.Symbol)))
	pos.PipsProfit, _ = pips.Float64()

	exposure := open.Mul(volume).Mul(contract)
	if exposure.IsZero() {
		pos.UnrealizedPLPercent = 0
	} else {
		pct := net.Div(exposure).Mul(decimal.NewFromInt(100))
		pos.UnrealizedPLPercent, _ = pct.Float64()
	}
}
