package drawing

import (
	"math"

	"github.com/uhyunpark/chartreplay/pkg/candle"
	"github.com/uhyunpark/chartreplay/pkg/chart"
)

// Snap moves p to the nearest candle's time and then to whichever of that
// candle's open, high, low or close is closest to p's price.
func Snap(p chart.Point, candles []candle.Candle) chart.Point {
	i := candle.Nearest(candles, p.Time)
	if i < 0 {
		return p
	}
	c := candles[i]
	best := c.Open
	for _, v := range []float64{c.High, c.Low, c.Close} {
		if math.Abs(v-p.Price) < math.Abs(best-p.Price) {
			best = v
		}
	}
	return chart.Point{Time: c.Time, Price: best}
}
