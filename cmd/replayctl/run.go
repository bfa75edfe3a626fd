package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"

	"github.com/uhyunpark/chartreplay/pkg/engine"
	"github.com/uhyunpark/chartreplay/pkg/feed"
	"github.com/uhyunpark/chartreplay/pkg/replay"
	"github.com/uhyunpark/chartreplay/pkg/storage"
	"github.com/uhyunpark/chartreplay/pkg/util"
)

var runCommand = &cli.Command{
	Name:  "run",
	Usage: "replay a range without a UI, optionally placing orders from a script, and print the result",
	Flags: append([]cli.Flag{
		&cli.StringFlag{
			Name:  "script",
			Usage: "JSON file with a list of {\"at\", \"order\"|\"closeAll\"} steps",
		},
		&cli.StringFlag{
			Name:  "id",
			Usage: "session id used for persisted trades and checkpoints",
		},
		&cli.StringFlag{
			Name:  "balance",
			Usage: "initial balance (default: INITIAL_BALANCE)",
		},
		&cli.BoolFlag{
			Name:  "resume",
			Usage: "continue from the session's last checkpoint",
		},
	}, seriesFlags...),
	Action: runReplay,
}

// Step is one scripted action, applied once the replay reaches At.
type Step struct {
	At       string               `json:"at"`
	Order    *engine.OrderRequest `json:"order,omitempty"`
	CloseAll bool                 `json:"closeAll,omitempty"`

	at int64
}

// Report summarises a finished headless replay.
type Report struct {
	SessionID string         `json:"sessionId"`
	Candles   int            `json:"candles"`
	Stats     engine.Stats   `json:"stats"`
	Trades    []engine.Trade `json:"trades"`
}

func runReplay(c *cli.Context) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	q, err := seriesQuery(c, cfg.Replay.BaseResolution)
	if err != nil {
		return err
	}
	steps, err := loadScript(c.String("script"))
	if err != nil {
		return err
	}

	req := replay.CreateRequest{
		ID:     c.String("id"),
		Symbol: q.Symbol,
		From:   q.From,
		To:     q.To,
		Resume: c.Bool("resume"),
	}
	if b := c.String("balance"); b != "" {
		if req.Balance, err = decimal.NewFromString(b); err != nil {
			return fmt.Errorf("--balance: %w", err)
		}
	}

	stack, err := storage.Open(cfg.Storage, log)
	if err != nil {
		return err
	}
	defer stack.Close()

	var candleStore feed.CandleStore
	if stack.Pebble != nil {
		candleStore = stack.Pebble
	}
	src, err := feed.Open(cfg.Feed, candleStore, log)
	if err != nil {
		return err
	}
	defaults, err := replay.ConfigFromParams(cfg)
	if err != nil {
		return err
	}
	// Headless runs checkpoint on close only.
	defaults.CheckpointInterval = 0
	if c.String("resolution") != "" {
		defaults.BaseResolution = q.Resolution
		defaults.Resolution = q.Resolution
	}

	m := replay.NewManager(defaults, src, stack.Store, util.NewRealClock(), log)
	report, err := runScript(c.Context, m, req, steps)
	if err != nil {
		return err
	}
	jsonOutput(report)
	return nil
}

func loadScript(path string) ([]Step, error) {
	if path == "" {
		return nil, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var steps []Step
	if err := json.Unmarshal(b, &steps); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	for i := range steps {
		if steps[i].at, err = parseTime(steps[i].At); err != nil {
			return nil, fmt.Errorf("%s: step %d: %w", path, i, err)
		}
	}
	return steps, nil
}

// runScript creates a session, applies every step when the replay reaches
// its time, plays to the end of data and closes the session.
func runScript(ctx context.Context, m *replay.Manager, req replay.CreateRequest, steps []Step) (Report, error) {
	sess, err := m.Create(ctx, req)
	if err != nil {
		return Report{}, err
	}
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].at < steps[j].at })

	ended := false
	for i, st := range steps {
		if ctx.Err() != nil {
			break
		}
		if _, err := sess.SeekForward(st.at); err != nil {
			if !errors.Is(err, replay.ErrEndOfData) {
				return Report{}, err
			}
			ended = true
		}
		if st.CloseAll {
			for _, t := range sess.Trades() {
				if t.IsOpen() {
					if _, err := sess.CloseTrade(t.ID); err != nil {
						return Report{}, fmt.Errorf("step %d: %w", i, err)
					}
				}
			}
		}
		if st.Order != nil {
			if _, err := sess.PlaceOrder(*st.Order); err != nil {
				return Report{}, fmt.Errorf("step %d: %w", i, err)
			}
		}
		if ended {
			break
		}
	}

	for !ended && ctx.Err() == nil {
		if _, err := sess.StepForward(); err != nil {
			if !errors.Is(err, replay.ErrEndOfData) {
				return Report{}, err
			}
			ended = true
		}
	}

	total := sess.Snapshot().Total
	id := sess.ID()
	if err := m.Close(id); err != nil {
		return Report{}, err
	}
	return Report{
		SessionID: id,
		Candles:   total,
		Stats:     sess.Stats(),
		Trades:    sess.Trades(),
	}, nil
}
