package engine

import (
	"github.com/shopspring/decimal"

	"github.com/uhyunpark/chartreplay/pkg/candle"
)

// bar is a candle in decimal form.
type bar struct {
	time                   int64
	open, high, low, close decimal.Decimal
	bullish                bool
}

func newBar(c candle.Candle) bar {
	return bar{
		time:    c.Time,
		open:    decimal.NewFromFloat(c.Open),
		high:    decimal.NewFromFloat(c.High),
		low:     decimal.NewFromFloat(c.Low),
		close:   decimal.NewFromFloat(c.Close),
		bullish: c.Bullish(),
	}
}

// fallsTo reports whether price traded down to level. The fill is the level
// itself, or the open when the whole bar gapped below it.
func (b bar) fallsTo(level decimal.Decimal) (decimal.Decimal, bool) {
	if b.low.GreaterThan(level) {
		return decimal.Zero, false
	}
	if level.GreaterThan(b.high) {
		return b.open, true
	}
	return level, true
}

// risesTo is the mirror of fallsTo.
func (b bar) risesTo(level decimal.Decimal) (decimal.Decimal, bool) {
	if b.high.LessThan(level) {
		return decimal.Zero, false
	}
	if level.LessThan(b.low) {
		return b.open, true
	}
	return level, true
}

// triggerFill decides whether a pending order fills in b and at what price.
// LIMIT buys wait for a dip and LIMIT sells for a rally; STOP orders fire on
// the breakout in the opposite direction.
func triggerFill(o *Order, b bar) (decimal.Decimal, bool) {
	level, ok := o.TriggerPrice()
	if !ok {
		return decimal.Zero, false
	}
	buyDip := (o.Type == Limit) == (o.Side == Long)
	if buyDip {
		return b.fallsTo(level)
	}
	return b.risesTo(level)
}

func stopHit(t *Trade, b bar) (decimal.Decimal, bool) {
	if t.StopLoss == nil {
		return decimal.Zero, false
	}
	if t.Side == Long {
		return b.fallsTo(*t.StopLoss)
	}
	return b.risesTo(*t.StopLoss)
}

func targetHit(t *Trade, b bar) (decimal.Decimal, bool) {
	if t.TakeProfit == nil {
		return decimal.Zero, false
	}
	if t.Side == Long {
		return b.risesTo(*t.TakeProfit)
	}
	return b.fallsTo(*t.TakeProfit)
}

// exitFill applies the stop/target tie-break: bullish bars check the target
// first, all others check the stop first.
func exitFill(t *Trade, b bar) (decimal.Decimal, CloseReason, bool) {
	sl, slOK := stopHit(t, b)
	tp, tpOK := targetHit(t, b)
	switch {
	case slOK && tpOK:
		if b.bullish {
			return tp, ReasonTakeProfit, true
		}
		return sl, ReasonStopLoss, true
	case slOK:
		return sl, ReasonStopLoss, true
	case tpOK:
		return tp, ReasonTakeProfit, true
	}
	return decimal.Zero, "", false
}
