package engine

import (
	"github.com/shopspring/decimal"
)

var (
	bpsDivisor = decimal.NewFromInt(10000)
	hundred    = decimal.NewFromInt(100)
	two        = decimal.NewFromInt(2)
)

const secondsPerDay = 86400

// commission is charged round-turn on the entry notional.
func (c Config) commission(price, qty decimal.Decimal) decimal.Decimal {
	if c.CommissionBps.IsZero() {
		return decimal.Zero
	}
	return price.Mul(qty).Mul(c.CommissionBps).Div(bpsDivisor).Mul(two)
}

// swap accrues once per UTC midnight crossed between entry and at.
func (c Config) swap(t *Trade, at int64) decimal.Decimal {
	rate := c.SwapLongBpsPerDay
	if t.Side == Short {
		rate = c.SwapShortBpsPerDay
	}
	if rate.IsZero() {
		return decimal.Zero
	}
	days := floorDiv(at, secondsPerDay) - floorDiv(t.EntryTime, secondsPerDay)
	if days <= 0 {
		return decimal.Zero
	}
	return t.EntryPrice.Mul(t.Quantity).Mul(rate).Div(bpsDivisor).Mul(decimal.NewFromInt(days))
}

// grossPnL is (price - entry) * qty, sign-flipped for shorts.
func grossPnL(t *Trade, price decimal.Decimal) decimal.Decimal {
	return price.Sub(t.EntryPrice).Mul(t.Quantity).Mul(t.Side.sign())
}

// netPnL is what closing at price and time at would realize.
func (c Config) netPnL(t *Trade, price decimal.Decimal, at int64) decimal.Decimal {
	return grossPnL(t, price).Sub(t.Commission).Sub(c.swap(t, at))
}

// SizeByRisk returns the quantity that loses riskPercent of equity if price
// moves from entry to stopLoss, truncated to precision decimal places.
func SizeByRisk(equity, riskPercent, entry, stopLoss decimal.Decimal, precision int32) (decimal.Decimal, error) {
	if !riskPercent.IsPositive() {
		return decimal.Zero, invalid("riskPercent", "must be positive")
	}
	if riskPercent.GreaterThan(hundred) {
		return decimal.Zero, invalid("riskPercent", "must not exceed 100")
	}
	dist := entry.Sub(stopLoss).Abs()
	if dist.IsZero() {
		return decimal.Zero, invalid("stopLoss", "must differ from entry price")
	}
	qty := equity.Mul(riskPercent).Div(hundred).Div(dist).Truncate(precision)
	if !qty.IsPositive() {
		return decimal.Zero, invalid("quantity", "risk too small for stop distance")
	}
	return qty, nil
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}
