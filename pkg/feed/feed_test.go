package feed

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"go.uber.org/zap"

	"github.com/uhyunpark/chartreplay/pkg/candle"
	"github.com/uhyunpark/chartreplay/pkg/storage"
)

func TestReadCSV(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []int64
	}{
		{
			name:  "header in custom order",
			input: "close,open,high,low,time\n1.5,1,2,0.5,120\n1.5,1,2,0.5,60\n",
			want:  []int64{60, 120},
		},
		{
			name:  "no header",
			input: "60,1,2,0.5,1.5\n120,1,2,0.5,1.5\n",
			want:  []int64{60, 120},
		},
		{
			name:  "millisecond times",
			input: "open_time_ms,open,high,low,close,volume\n1700000000000,1,2,0.5,1.5,10\n",
			want:  []int64{1700000000},
		},
		{
			name:  "invalid bar dropped",
			input: "60,1,0.5,2,1.5\n120,1,2,0.5,1.5\n",
			want:  []int64{120},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ReadCSV(strings.NewReader(tt.input))
			if err != nil {
				t.Fatalf("ReadCSV: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d candles, want %d", len(got), len(tt.want))
			}
			for i, ts := range tt.want {
				if got[i].Time != ts {
					t.Errorf("candle %d: got time %d, want %d", i, got[i].Time, ts)
				}
			}
		})
	}

	if _, err := ReadCSV(strings.NewReader("time,open,high\n")); err == nil {
		t.Error("expected error for header without close column")
	}
	if _, err := ReadCSV(strings.NewReader("60,1,2,x,1\n")); err == nil {
		t.Error("expected error for non-numeric field")
	}
}

func TestCSVSource_FiltersRange(t *testing.T) {
	dir := t.TempDir()
	src := NewCSVSource(dir)
	cs := []candle.Candle{
		{Time: 60, Open: 1, High: 2, Low: 0.5, Close: 1.5},
		{Time: 120, Open: 1, High: 2, Low: 0.5, Close: 1.5},
		{Time: 180, Open: 1, High: 2, Low: 0.5, Close: 1.5},
	}
	var buf bytes.Buffer
	if err := WriteCSV(&buf, cs); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(src.Path("btcusdt", candle.Minute), buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	if filepath.Base(src.Path("btcusdt", candle.Minute)) != "BTCUSDT_1m.csv" {
		t.Errorf("unexpected path %s", src.Path("btcusdt", candle.Minute))
	}

	got, err := src.Candles(context.Background(), Query{Symbol: "btcusdt", Resolution: candle.Minute, From: 100, To: 200})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Time != 120 {
		t.Errorf("got %+v, want times 120 and 180", got)
	}

	if _, err := src.Candles(context.Background(), Query{Symbol: "ETHUSDT", Resolution: candle.Minute}); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestQueryValidate(t *testing.T) {
	tests := []struct {
		q  Query
		ok bool
	}{
		{Query{Symbol: "X", Resolution: candle.Minute, From: 0, To: 10}, true},
		{Query{Symbol: "X", Resolution: candle.Minute, From: 10}, true},
		{Query{Resolution: candle.Minute}, false},
		{Query{Symbol: "X"}, false},
		{Query{Symbol: "X", Resolution: candle.Minute, From: 10, To: 5}, false},
	}
	for _, tt := range tests {
		if err := tt.q.Validate(); (err == nil) != tt.ok {
			t.Errorf("Validate(%+v) = %v, want ok=%v", tt.q, err, tt.ok)
		}
	}
}

type countingSource struct {
	calls   atomic.Int32
	candles []candle.Candle
}

func (c *countingSource) Candles(_ context.Context, q Query) ([]candle.Candle, error) {
	c.calls.Add(1)
	return filter(c.candles, q), nil
}

func TestCached_ReadsThroughOnce(t *testing.T) {
	store, err := storage.NewPebbleStore(filepath.Join(t.TempDir(), "db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	var cs []candle.Candle
	for i := int64(0); i < 5; i++ {
		cs = append(cs, candle.Candle{Time: 60 * i, Open: 1, High: 2, Low: 0.5, Close: 1.5})
	}
	up := &countingSource{candles: cs}
	cached := NewCached(up, store, zap.NewNop().Sugar())
	q := Query{Symbol: "BTCUSDT", Resolution: candle.Minute, From: 0, To: 240}

	for i := 0; i < 2; i++ {
		got, err := cached.Candles(context.Background(), q)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 5 {
			t.Fatalf("call %d: got %d candles, want 5", i, len(got))
		}
	}
	if n := up.calls.Load(); n != 1 {
		t.Errorf("upstream calls: got %d, want 1", n)
	}

	// Wider range is not covered by the cache.
	if _, err := cached.Candles(context.Background(), Query{Symbol: "BTCUSDT", Resolution: candle.Minute, From: 0, To: 600}); err != nil {
		t.Fatal(err)
	}
	if n := up.calls.Load(); n != 2 {
		t.Errorf("upstream calls: got %d, want 2", n)
	}

	direct, err := NewStoreSource(store).Candles(context.Background(), Query{Symbol: "BTCUSDT", Resolution: candle.Minute})
	if err != nil || len(direct) != 5 {
		t.Errorf("store source: got %d candles, err %v", len(direct), err)
	}
}

func kline(openSec int64) *futures.Kline {
	return &futures.Kline{OpenTime: openSec * 1000, Open: "1", High: "2", Low: "0.5", Close: "1.5"}
}

func TestBinanceSource_PagesAndRetries(t *testing.T) {
	var calls int
	fetch := func(_ context.Context, symbol, interval string, start, end int64) ([]*futures.Kline, error) {
		calls++
		if interval != "1m" || symbol != "BTCUSDT" {
			t.Errorf("unexpected request %s %s", symbol, interval)
		}
		if calls == 1 {
			return nil, errors.New("temporary")
		}
		var page []*futures.Kline
		for ts := start / 1000; ts <= end/1000 && len(page) < binancePageSize; ts += 60 {
			page = append(page, kline(ts))
		}
		return page, nil
	}
	src := newBinanceSource(fetch, 0, zap.NewNop().Sugar())
	src.backoff = time.Millisecond

	// 600 one-minute candles need two pages.
	got, err := src.Candles(context.Background(), Query{Symbol: "BTCUSDT", Resolution: candle.Minute, From: 0, To: 599 * 60})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 600 {
		t.Fatalf("got %d candles, want 600", len(got))
	}
	if got[599].Time != 599*60 {
		t.Errorf("last candle time: got %d, want %d", got[599].Time, 599*60)
	}
	if calls != 3 {
		t.Errorf("fetch calls: got %d, want 3 (one failure, two pages)", calls)
	}
}

func TestBinanceSource_GivesUp(t *testing.T) {
	boom := errors.New("down")
	src := newBinanceSource(func(context.Context, string, string, int64, int64) ([]*futures.Kline, error) {
		return nil, boom
	}, 0, zap.NewNop().Sugar())
	src.backoff = time.Millisecond

	_, err := src.Candles(context.Background(), Query{Symbol: "BTCUSDT", Resolution: candle.Minute, From: 0, To: 60})
	if !errors.Is(err, boom) {
		t.Errorf("got %v, want wrapped %v", err, boom)
	}
}

func TestClickHouseParseRow(t *testing.T) {
	c, err := parseRow(1_700_000_100_000, "1.1", "1.2", "1.0", "1.15")
	if err != nil {
		t.Fatalf("parseRow: %v", err)
	}
	want := candle.Candle{Time: 1_700_000_100, Open: 1.1, High: 1.2, Low: 1.0, Close: 1.15}
	if c != want {
		t.Errorf("got %+v, want %+v", c, want)
	}

	// A bad low must not turn into a zero low that passes validation.
	if _, err := parseRow(1_700_000_100_000, "1.1", "1.2", "n/a", "1.15"); err == nil {
		t.Error("malformed low was accepted")
	}
}
