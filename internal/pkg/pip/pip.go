// Package pip holds the pure pip/price arithmetic used by trade
// execution and position tracking. All functions are deterministic:
// identical inputs produce identical outputs, so they are safe to
// recompute on every tick.
package pip

import (
	"github.com/shopspring/decimal"

	"fxlink/internal/gateway/exchange"
	"fxlink/internal/pkg/symbol"
)

// Value returns the pip size for a symbol: 0.01 for JPY-quoted pairs,
// 0.0001 otherwise.
func Value(sym string) float64 {
	if symbol.IsJPYQuoted(sym) {
		return 0.01
	}
	return 0.0001
}

// StopLossPrice derives an absolute stop-loss level from a pip distance
// off the given side-appropriate price.
func StopLossPrice(side exchange.Side, price, pips float64, sym string) float64 {
	dist := pipDistance(pips, sym)
	p := decimal.NewFromFloat(price)
	if side == exchange.SideBuy {
		return toFloat(p.Sub(dist))
	}
	return toFloat(p.Add(dist))
}

// TakeProfitPrice derives an absolute take-profit level from a pip
// distance off the given side-appropriate price.
func TakeProfitPrice(side exchange.Side, price, pips float64, sym string) float64 {
	dist := pipDistance(pips, sym)
	p := decimal.NewFromFloat(price)
	if side == exchange.SideBuy {
		return toFloat(p.Add(dist))
	}
	return toFloat(p.Sub(dist))
}

// EstimatedPL computes the profit or loss, in account currency, of a
// move of pips pips on the given volume.
func EstimatedPL(volume, contractSize, pips float64, sym string) float64 {
	result := decimal.NewFromFloat(volume).
		Mul(decimal.NewFromFloat(contractSize)).
		Mul(decimal.NewFromFloat(pips)).
		Mul(decimal.NewFromFloat(Value(sym)))
	return toFloat(result)
}

// Distance expresses an absolute price move in pips for the symbol.
func Distance(from, to float64, sym string) float64 {
	diff := decimal.NewFromFloat(to).Sub(decimal.NewFromFloat(from)).Abs()
	return toFloat(diff.Div(decimal.NewFromFloat(Value(sym))))
}

func pipDistance(pips float64, sym string) decimal.Decimal {
	return decimal.NewFromFloat(pips).Mul(decimal.NewFromFloat(Value(sym)))
}

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
