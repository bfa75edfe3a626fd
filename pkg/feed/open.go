package feed

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/uhyunpark/chartreplay/params"
)

// Open builds the source named by cfg.Source. When store is non-nil, remote
// sources are wrapped in a read-through cache.
func Open(cfg params.Feed, store CandleStore, log *zap.SugaredLogger) (Source, error) {
	var src Source
	switch cfg.Source {
	case "", "csv":
		return NewCSVSource(cfg.CSVDir), nil
	case "pebble":
		if store == nil {
			return nil, fmt.Errorf("feed source pebble requires DATA_DIR")
		}
		return NewStoreSource(store), nil
	case "clickhouse":
		ch, err := NewClickHouseSource(ClickHouseConfig{
			Addr:     cfg.ClickHouseAddr,
			Database: cfg.ClickHouseDatabase,
			Username: cfg.ClickHouseUser,
			Password: cfg.ClickHousePassword,
		}, log)
		if err != nil {
			return nil, err
		}
		src = ch
	case "binance":
		src = NewBinanceSource(BinanceConfig{
			APIKey:    cfg.BinanceAPIKey,
			SecretKey: cfg.BinanceSecretKey,
			RateLimit: cfg.BinanceRateLimit,
		}, log)
	default:
		return nil, fmt.Errorf("unknown feed source %q", cfg.Source)
	}
	if store != nil {
		src = NewCached(src, store, log)
	}
	return src, nil
}
