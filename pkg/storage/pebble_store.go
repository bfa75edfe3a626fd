package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/uhyunpark/chartreplay/pkg/candle"
	"github.com/uhyunpark/chartreplay/pkg/engine"
)

// ErrNotFound is returned when a session has no stored checkpoint.
var ErrNotFound = errors.New("not found")

type PebbleStore struct {
	db *pebble.DB
}

func NewPebbleStore(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", path, err)
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }

// SaveTrade persists a closed trade of a session
func (s *PebbleStore) SaveTrade(ctx context.Context, sessionID string, t engine.Trade) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal trade: %w", err)
	}
	if err := s.db.Set(tradeKey(sessionID, t.ExitTime, t.ID), data, pebble.NoSync); err != nil {
		return fmt.Errorf("failed to save trade: %w", err)
	}
	return nil
}

// Trades returns a session's trades ordered by exit time. limit <= 0 means all.
func (s *PebbleStore) Trades(sessionID string, limit int) ([]engine.Trade, error) {
	prefix := tradePrefix(sessionID)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open trade iterator: %w", err)
	}
	defer iter.Close()

	var trades []engine.Trade
	for iter.First(); iter.Valid(); iter.Next() {
		if limit > 0 && len(trades) >= limit {
			break
		}
		var t engine.Trade
		if err := json.Unmarshal(iter.Value(), &t); err != nil {
			continue // Skip invalid entries
		}
		trades = append(trades, t)
	}
	return trades, nil
}

// SaveCheckpoint overwrites the session's checkpoint. Checkpoints are
// synced; they are what a resumed session starts from.
func (s *PebbleStore) SaveCheckpoint(ctx context.Context, cp engine.Checkpoint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}
	if err := s.db.Set(checkpointKey(cp.SessionID), data, pebble.Sync); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

func (s *PebbleStore) LastCheckpoint(ctx context.Context, sessionID string) (engine.Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return engine.Checkpoint{}, err
	}
	data, closer, err := s.db.Get(checkpointKey(sessionID))
	if err == pebble.ErrNotFound {
		return engine.Checkpoint{}, ErrNotFound
	}
	if err != nil {
		return engine.Checkpoint{}, fmt.Errorf("failed to get checkpoint: %w", err)
	}
	defer closer.Close()

	var cp engine.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return engine.Checkpoint{}, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return cp, nil
}

// SaveCandles writes a batch of candles for one symbol and resolution.
// Existing candles with the same time are replaced.
func (s *PebbleStore) SaveCandles(symbol string, res candle.Resolution, cs []candle.Candle) error {
	b := s.db.NewBatch()
	defer b.Close()

	for _, c := range cs {
		val, err := encodeGob(c)
		if err != nil {
			return fmt.Errorf("encode candle: %w", err)
		}
		if err := b.Set(candleKey(symbol, res.String(), c.Time), val, nil); err != nil {
			return err
		}
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit candles: %w", err)
	}
	return nil
}

// Candles returns the stored candles with from <= time <= to in time order.
func (s *PebbleStore) Candles(symbol string, res candle.Resolution, from, to int64) ([]candle.Candle, error) {
	if from < 0 {
		from = 0
	}
	if to < from {
		return nil, nil
	}
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: candleKey(symbol, res.String(), from),
		UpperBound: candleKey(symbol, res.String(), to+1),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open candle iterator: %w", err)
	}
	defer iter.Close()

	var out []candle.Candle
	for iter.First(); iter.Valid(); iter.Next() {
		var c candle.Candle
		if err := decodeGob(iter.Value(), &c); err != nil {
			return nil, fmt.Errorf("decode candle: %w", err)
		}
		out = append(out, c)
	}
	return out, nil
}

// CandleCount reports how many candles are stored for symbol and resolution.
func (s *PebbleStore) CandleCount(symbol string, res candle.Resolution) (int, error) {
	prefix := candlePrefix(symbol, res.String())
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	n := 0
	for iter.First(); iter.Valid(); iter.Next() {
		n++
	}
	return n, nil
}
