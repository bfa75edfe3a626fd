package feed

import (
	"context"
	"fmt"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/uhyunpark/chartreplay/pkg/candle"
)

const (
	binancePageSize   = 500
	binanceMaxRetries = 3
)

type BinanceConfig struct {
	APIKey    string
	SecretKey string
	RateLimit float64 // requests per second; <= 0 means unlimited
}

type klineFetcher func(ctx context.Context, symbol, interval string, start, end int64) ([]*futures.Kline, error)

// BinanceSource pages USDⓈ-M futures klines, rate limited and retried with
// exponential backoff.
type BinanceSource struct {
	fetch   klineFetcher
	limiter *rate.Limiter
	backoff time.Duration
	log     *zap.SugaredLogger
}

func NewBinanceSource(cfg BinanceConfig, log *zap.SugaredLogger) *BinanceSource {
	client := futures.NewClient(cfg.APIKey, cfg.SecretKey)
	fetch := func(ctx context.Context, symbol, interval string, start, end int64) ([]*futures.Kline, error) {
		return client.NewKlinesService().
			Symbol(symbol).
			Interval(interval).
			StartTime(start).
			EndTime(end).
			Limit(binancePageSize).
			Do(ctx)
	}
	return newBinanceSource(fetch, cfg.RateLimit, log)
}

func newBinanceSource(fetch klineFetcher, rps float64, log *zap.SugaredLogger) *BinanceSource {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &BinanceSource{
		fetch:   fetch,
		limiter: rate.NewLimiter(limit, 1),
		backoff: 500 * time.Millisecond,
		log:     log,
	}
}

func (s *BinanceSource) Candles(ctx context.Context, q Query) ([]candle.Candle, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	end := q.To
	if end == 0 {
		end = time.Now().Unix()
	}
	step := q.Resolution.Seconds()

	var out []candle.Candle
	for start := q.From; start <= end; {
		page, err := s.page(ctx, q.Symbol, q.Resolution.String(), start*1000, end*1000)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}
		for _, k := range page {
			out = append(out, candle.Candle{
				Time:  k.OpenTime / 1000,
				Open:  parseFloat(k.Open),
				High:  parseFloat(k.High),
				Low:   parseFloat(k.Low),
				Close: parseFloat(k.Close),
			})
		}
		next := page[len(page)-1].OpenTime/1000 + step
		if next <= start || len(page) < binancePageSize {
			break
		}
		start = next
	}
	return candle.Normalize(out), nil
}

func (s *BinanceSource) page(ctx context.Context, symbol, interval string, startMs, endMs int64) ([]*futures.Kline, error) {
	var lastErr error
	wait := s.backoff
	for attempt := 0; attempt <= binanceMaxRetries; attempt++ {
		if attempt > 0 {
			s.log.Warnw("binance_klines_retry", "symbol", symbol, "interval", interval, "attempt", attempt, "err", lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
			wait *= 2
		}
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		klines, err := s.fetch(ctx, symbol, interval, startMs, endMs)
		if err == nil {
			return klines, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("binance klines %s %s: %w", symbol, interval, lastErr)
}
