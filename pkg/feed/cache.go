package feed

import (
	"context"
	"math"

	"go.uber.org/zap"

	"github.com/uhyunpark/chartreplay/pkg/candle"
)

// CandleStore is the candle side of storage.PebbleStore.
type CandleStore interface {
	SaveCandles(symbol string, res candle.Resolution, cs []candle.Candle) error
	Candles(symbol string, res candle.Resolution, from, to int64) ([]candle.Candle, error)
}

func storeRange(q Query) (int64, int64) {
	to := q.To
	if to == 0 {
		to = math.MaxInt64 - 1
	}
	return q.From, to
}

// StoreSource serves candles straight from a CandleStore.
type StoreSource struct {
	store CandleStore
}

func NewStoreSource(store CandleStore) *StoreSource {
	return &StoreSource{store: store}
}

func (s *StoreSource) Candles(ctx context.Context, q Query) ([]candle.Candle, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	from, to := storeRange(q)
	return s.store.Candles(q.Symbol, q.Resolution, from, to)
}

// Cached reads through a CandleStore: a query the store already covers is
// answered locally, anything else goes upstream and is written back.
type Cached struct {
	upstream Source
	store    CandleStore
	log      *zap.SugaredLogger
}

func NewCached(upstream Source, store CandleStore, log *zap.SugaredLogger) *Cached {
	return &Cached{upstream: upstream, store: store, log: log}
}

func (c *Cached) Candles(ctx context.Context, q Query) ([]candle.Candle, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	from, to := storeRange(q)
	local, err := c.store.Candles(q.Symbol, q.Resolution, from, to)
	if err != nil {
		c.log.Warnw("candle_cache_read_failed", "symbol", q.Symbol, "resolution", q.Resolution.String(), "err", err)
	} else if covers(local, q) {
		c.log.Debugw("candle_cache_hit", "symbol", q.Symbol, "resolution", q.Resolution.String(), "count", len(local))
		return local, nil
	}

	remote, err := c.upstream.Candles(ctx, q)
	if err != nil {
		return nil, err
	}
	remote = candle.Normalize(remote)
	if err := c.store.SaveCandles(q.Symbol, q.Resolution, remote); err != nil {
		c.log.Warnw("candle_cache_write_failed", "symbol", q.Symbol, "err", err)
	}
	c.log.Infow("candle_cache_filled", "symbol", q.Symbol, "resolution", q.Resolution.String(), "count", len(remote))
	return remote, nil
}

// covers reports whether cs reaches both ends of q within one candle.
// Open-ended queries are never considered covered.
func covers(cs []candle.Candle, q Query) bool {
	if len(cs) == 0 || q.To == 0 {
		return false
	}
	step := q.Resolution.Seconds()
	return cs[0].Time < q.From+step && cs[len(cs)-1].Time > q.To-step
}
