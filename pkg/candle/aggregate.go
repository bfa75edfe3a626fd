package candle

import "math"

// Aggregate buckets time-ordered base candles into bucket-wide candles.
// Each output candle starts at the bucket boundary and takes the first open,
// the last close, and the extreme high and low of its inputs.
func Aggregate(candles []Candle, bucket Resolution) []Candle {
	if len(candles) == 0 {
		return []Candle{}
	}
	if bucket <= 0 {
		out := make([]Candle, len(candles))
		copy(out, candles)
		return out
	}

	out := make([]Candle, 0, len(candles))
	var cur Candle
	open := false
	for _, c := range candles {
		start := bucket.Align(c.Time)
		if !open || start != cur.Time {
			if open {
				out = append(out, cur)
			}
			cur = Candle{Time: start, Open: c.Open, High: c.High, Low: c.Low, Close: c.Close}
			open = true
			continue
		}
		cur.High = math.Max(cur.High, c.High)
		cur.Low = math.Min(cur.Low, c.Low)
		cur.Close = c.Close
	}
	return append(out, cur)
}
