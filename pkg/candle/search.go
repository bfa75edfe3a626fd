package candle

import "sort"

// SearchTime returns the index of the first candle with Time >= t, or
// len(candles) if there is none.
func SearchTime(candles []Candle, t int64) int {
	return sort.Search(len(candles), func(i int) bool { return candles[i].Time >= t })
}

// Nearest returns the index of the candle closest in time to t. Ties go to
// the earlier candle. Returns -1 for an empty slice.
func Nearest(candles []Candle, t int64) int {
	if len(candles) == 0 {
		return -1
	}
	i := SearchTime(candles, t)
	if i == 0 {
		return 0
	}
	if i == len(candles) {
		return i - 1
	}
	if t-candles[i-1].Time <= candles[i].Time-t {
		return i - 1
	}
	return i
}
