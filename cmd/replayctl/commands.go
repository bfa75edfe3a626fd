package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/uhyunpark/chartreplay/pkg/candle"
	"github.com/uhyunpark/chartreplay/pkg/feed"
	"github.com/uhyunpark/chartreplay/pkg/storage"
)

var seriesFlags = []cli.Flag{
	&cli.StringFlag{
		Name:     "symbol",
		Aliases:  []string{"s"},
		Usage:    "instrument symbol, e.g. BTCUSDT",
		Required: true,
	},
	&cli.StringFlag{
		Name:    "resolution",
		Aliases: []string{"r"},
		Usage:   "candle resolution (1m, 5m, 1h, 1d); defaults to BASE_RESOLUTION",
	},
	&cli.StringFlag{
		Name:  "from",
		Usage: "range start: unix seconds, RFC3339 or 2006-01-02",
	},
	&cli.StringFlag{
		Name:  "to",
		Usage: "range end: unix seconds, RFC3339 or 2006-01-02 (default: open-ended)",
	},
}

var importCommand = &cli.Command{
	Name:      "import",
	Usage:     "load a candle CSV file into the pebble candle store",
	ArgsUsage: "<file.csv>",
	Flags:     seriesFlags,
	Action:    importCandles,
}

var fetchCommand = &cli.Command{
	Name:  "fetch",
	Usage: "download klines from Binance futures into the candle store or a CSV file",
	Flags: append([]cli.Flag{
		&cli.StringFlag{
			Name:  "out",
			Usage: "write a CSV file into this directory instead of the candle store",
		},
	}, seriesFlags...),
	Action: fetchCandles,
}

var tradesCommand = &cli.Command{
	Name:      "trades",
	Usage:     "print the persisted closed trades of a session",
	ArgsUsage: "<session-id>",
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:  "limit",
			Usage: "maximum number of trades (0 = all)",
		},
	},
	Action: listTrades,
}

func importCandles(c *cli.Context) error {
	if c.Args().Len() != 1 {
		return cli.ShowSubcommandHelp(c)
	}
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	q, err := seriesQuery(c, cfg.Replay.BaseResolution)
	if err != nil {
		return err
	}

	f, err := os.Open(c.Args().First())
	if err != nil {
		return err
	}
	defer f.Close()
	cs, err := feed.ReadCSV(f)
	if err != nil {
		return fmt.Errorf("%s: %w", c.Args().First(), err)
	}
	cs = filterRange(cs, q)

	db, err := openCandleStore(cfg.Storage.DataDir)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.SaveCandles(q.Symbol, q.Resolution, cs); err != nil {
		return err
	}
	total, _ := db.CandleCount(q.Symbol, q.Resolution)
	log.Infow("candles_imported", "symbol", q.Symbol, "resolution", q.Resolution.String(), "count", len(cs))
	jsonOutput(map[string]any{"symbol": q.Symbol, "resolution": q.Resolution.String(), "imported": len(cs), "stored": total})
	return nil
}

func fetchCandles(c *cli.Context) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	q, err := seriesQuery(c, cfg.Replay.BaseResolution)
	if err != nil {
		return err
	}
	if q.To == 0 {
		q.To = time.Now().Unix()
	}

	src := feed.NewBinanceSource(feed.BinanceConfig{
		APIKey:    cfg.Feed.BinanceAPIKey,
		SecretKey: cfg.Feed.BinanceSecretKey,
		RateLimit: cfg.Feed.BinanceRateLimit,
	}, log)
	cs, err := src.Candles(c.Context, q)
	if err != nil {
		return err
	}

	if dir := c.String("out"); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
		path := feed.NewCSVSource(dir).Path(q.Symbol, q.Resolution)
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		if err := feed.WriteCSV(f, cs); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		jsonOutput(map[string]any{"file": path, "candles": len(cs)})
		return nil
	}

	db, err := openCandleStore(cfg.Storage.DataDir)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.SaveCandles(q.Symbol, q.Resolution, cs); err != nil {
		return err
	}
	jsonOutput(map[string]any{"symbol": q.Symbol, "resolution": q.Resolution.String(), "candles": len(cs)})
	return nil
}

func listTrades(c *cli.Context) error {
	if c.Args().Len() != 1 {
		return cli.ShowSubcommandHelp(c)
	}
	cfg, _, err := setup()
	if err != nil {
		return err
	}
	db, err := openCandleStore(cfg.Storage.DataDir)
	if err != nil {
		return err
	}
	defer db.Close()

	trades, err := db.Trades(c.Args().First(), c.Int("limit"))
	if err != nil {
		return err
	}
	jsonOutput(trades)
	return nil
}

func openCandleStore(dir string) (*storage.PebbleStore, error) {
	if dir == "" {
		return nil, errors.New("DATA_DIR is not set")
	}
	if err := os.MkdirAll(filepath.Dir(dir), 0755); err != nil {
		return nil, err
	}
	return storage.NewPebbleStore(dir)
}

func seriesQuery(c *cli.Context, defaultRes string) (feed.Query, error) {
	res := c.String("resolution")
	if res == "" {
		res = defaultRes
	}
	r, err := candle.ParseResolution(res)
	if err != nil {
		return feed.Query{}, err
	}
	q := feed.Query{Symbol: strings.ToUpper(c.String("symbol")), Resolution: r}
	if q.From, err = parseTime(c.String("from")); err != nil {
		return feed.Query{}, fmt.Errorf("--from: %w", err)
	}
	if q.To, err = parseTime(c.String("to")); err != nil {
		return feed.Query{}, fmt.Errorf("--to: %w", err)
	}
	return q, q.Validate()
}

// parseTime accepts unix seconds, RFC3339 or a UTC date. Empty is zero.
func parseTime(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Unix(), nil
		}
	}
	return 0, fmt.Errorf("unrecognised time %q", s)
}

func filterRange(cs []candle.Candle, q feed.Query) []candle.Candle {
	out := cs[:0]
	for _, c := range cs {
		if c.Time < q.From || (q.To != 0 && c.Time > q.To) {
			continue
		}
		out = append(out, c)
	}
	return out
}
