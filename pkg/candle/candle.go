package candle

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Candle is one OHLC bar. Time is the bucket start in unix seconds.
type Candle struct {
	Time  int64   `json:"time"`
	Open  float64 `json:"open"`
	High  float64 `json:"high"`
	Low   float64 `json:"low"`
	Close float64 `json:"close"`
}

// Bullish reports close >= open.
func (c Candle) Bullish() bool { return c.Close >= c.Open }

// Contains reports whether price lies inside [Low, High].
func (c Candle) Contains(price float64) bool { return c.Low <= price && price <= c.High }

// Valid checks the OHLC shape of a single bar.
func (c Candle) Valid() bool {
	if c.High < c.Low {
		return false
	}
	return c.Contains(c.Open) && c.Contains(c.Close)
}

// Resolution is a bucket width in seconds.
type Resolution int64

const (
	Minute   Resolution = 60
	Minute5  Resolution = 5 * 60
	Minute15 Resolution = 15 * 60
	Minute30 Resolution = 30 * 60
	Hour     Resolution = 60 * 60
	Hour4    Resolution = 4 * 60 * 60
	Day      Resolution = 24 * 60 * 60
)

// ParseResolution accepts forms like "1m", "15m", "1h", "4h", "1d".
func ParseResolution(s string) (Resolution, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if len(s) < 2 {
		return 0, fmt.Errorf("invalid resolution %q", s)
	}
	n, err := strconv.ParseInt(s[:len(s)-1], 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid resolution %q", s)
	}
	switch s[len(s)-1] {
	case 'm':
		return Resolution(n * 60), nil
	case 'h':
		return Resolution(n * 3600), nil
	case 'd':
		return Resolution(n * 86400), nil
	}
	return 0, fmt.Errorf("invalid resolution %q", s)
}

func (r Resolution) String() string {
	switch {
	case r <= 0:
		return "0s"
	case r%86400 == 0:
		return fmt.Sprintf("%dd", r/86400)
	case r%3600 == 0:
		return fmt.Sprintf("%dh", r/3600)
	case r%60 == 0:
		return fmt.Sprintf("%dm", r/60)
	}
	return fmt.Sprintf("%ds", int64(r))
}

func (r Resolution) Seconds() int64 { return int64(r) }

func (r Resolution) Duration() time.Duration { return time.Duration(r) * time.Second }

// Align returns the start of the bucket containing t.
func (r Resolution) Align(t int64) int64 {
	d := int64(r)
	if d <= 0 {
		return t
	}
	b := t / d * d
	if t < 0 && b != t {
		b -= d
	}
	return b
}

// Normalize returns candles sorted by time with duplicate times and
// malformed bars removed. The input slice is not modified.
func Normalize(candles []Candle) []Candle {
	out := make([]Candle, 0, len(candles))
	for _, c := range candles {
		if c.Valid() {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time < out[j].Time })

	n := 0
	for i, c := range out {
		if i > 0 && c.Time == out[n-1].Time {
			continue
		}
		out[n] = c
		n++
	}
	return out[:n]
}
