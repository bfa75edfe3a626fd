package drawing

import (
	"github.com/shopspring/decimal"
)

var fibRatios = []decimal.Decimal{
	decimal.RequireFromString("0"),
	decimal.RequireFromString("0.236"),
	decimal.RequireFromString("0.382"),
	decimal.RequireFromString("0.5"),
	decimal.RequireFromString("0.618"),
	decimal.RequireFromString("0.786"),
	decimal.RequireFromString("1"),
}

type FibLevel struct {
	Ratio float64 `json:"ratio"`
	Price float64 `json:"price"`
}

// FibLevels returns p0 + (p1-p0)*r for each retracement ratio, computed in
// decimal so round anchors give round levels.
func FibLevels(p0, p1 float64) []FibLevel {
	start := decimal.NewFromFloat(p0)
	span := decimal.NewFromFloat(p1).Sub(start)

	levels := make([]FibLevel, len(fibRatios))
	for i, r := range fibRatios {
		levels[i] = FibLevel{
			Ratio: r.InexactFloat64(),
			Price: start.Add(span.Mul(r)).InexactFloat64(),
		}
	}
	return levels
}
