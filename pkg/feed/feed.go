// Package feed provides historical candle sources for replay sessions.
package feed

import (
	"context"
	"errors"
	"fmt"

	"github.com/uhyunpark/chartreplay/pkg/candle"
)

// Query selects candles with From <= time <= To. To == 0 means no upper bound.
type Query struct {
	Symbol     string            `json:"symbol"`
	Resolution candle.Resolution `json:"resolution"`
	From       int64             `json:"from"`
	To         int64             `json:"to"`
}

func (q Query) Validate() error {
	if q.Symbol == "" {
		return errors.New("symbol is required")
	}
	if q.Resolution <= 0 {
		return fmt.Errorf("invalid resolution %d", q.Resolution)
	}
	if q.To != 0 && q.To < q.From {
		return fmt.Errorf("range end %d before start %d", q.To, q.From)
	}
	return nil
}

func (q Query) contains(t int64) bool {
	return t >= q.From && (q.To == 0 || t <= q.To)
}

// Source loads candles for a query. Results are in time order.
type Source interface {
	Candles(ctx context.Context, q Query) ([]candle.Candle, error)
}

// Static serves a fixed candle slice. Used by the headless runner and tests.
type Static struct {
	candles []candle.Candle
}

func NewStatic(cs []candle.Candle) *Static {
	return &Static{candles: candle.Normalize(cs)}
}

func (s *Static) Candles(_ context.Context, q Query) ([]candle.Candle, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	return filter(s.candles, q), nil
}

func filter(cs []candle.Candle, q Query) []candle.Candle {
	out := make([]candle.Candle, 0, len(cs))
	for _, c := range cs {
		if q.contains(c.Time) {
			out = append(out, c)
		}
	}
	return out
}
