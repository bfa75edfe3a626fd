package feed

import (
	"context"
	"fmt"
	"strconv"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"github.com/uhyunpark/chartreplay/pkg/candle"
)

type ClickHouseConfig struct {
	Addr     string
	Database string
	Username string
	Password string
}

// ClickHouseSource reads the ohlcv_raw table: one row per symbol, interval
// and open_time_ms with decimal string prices.
type ClickHouseSource struct {
	conn     driver.Conn
	database string
	log      *zap.SugaredLogger
}

func NewClickHouseSource(cfg ClickHouseConfig, log *zap.SugaredLogger) (*ClickHouseSource, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("clickhouse open %s: %w", cfg.Addr, err)
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &ClickHouseSource{conn: conn, database: cfg.Database, log: log}, nil
}

func (s *ClickHouseSource) Close() error { return s.conn.Close() }

func (s *ClickHouseSource) Candles(ctx context.Context, q Query) ([]candle.Candle, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	from, to := storeRange(q)
	query := fmt.Sprintf(`
SELECT open_time_ms, toString(open), toString(high), toString(low), toString(close)
FROM %s.ohlcv_raw
WHERE symbol = ? AND interval = ? AND open_time_ms BETWEEN ? AND ?
ORDER BY open_time_ms`, s.database)

	rows, err := s.conn.Query(ctx, query, q.Symbol, q.Resolution.String(), uint64(from)*1000, clampMillis(to))
	if err != nil {
		return nil, fmt.Errorf("clickhouse query: %w", err)
	}
	defer rows.Close()

	var out []candle.Candle
	for rows.Next() {
		var (
			ot         uint64
			o, h, l, c string
		)
		if err := rows.Scan(&ot, &o, &h, &l, &c); err != nil {
			return nil, err
		}
		cd, err := parseRow(ot, o, h, l, c)
		if err != nil {
			s.log.Warnw("clickhouse_row_skipped", "symbol", q.Symbol, "open_time_ms", ot, "err", err)
			continue
		}
		out = append(out, cd)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func clampMillis(sec int64) uint64 {
	const limit = int64(^uint64(0)>>1) / 1000
	if sec > limit {
		sec = limit
	}
	return uint64(sec) * 1000
}

// parseRow converts one ohlcv_raw row; any malformed price rejects the row.
func parseRow(openTimeMs uint64, o, h, l, c string) (candle.Candle, error) {
	var px [4]float64
	for i, raw := range [4]string{o, h, l, c} {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return candle.Candle{}, fmt.Errorf("parse price %q: %w", raw, err)
		}
		px[i] = v
	}
	return candle.Candle{
		Time:  int64(openTimeMs / 1000),
		Open:  px[0],
		High:  px[1],
		Low:   px[2],
		Close: px[3],
	}, nil
}
