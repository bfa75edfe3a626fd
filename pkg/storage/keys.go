package storage

import (
	"fmt"
)

// Key schema for Pebble storage:
//
//   trade:<session>:<exitTime>:<tradeID>    → engine.Trade (JSON)
//   ckpt:<session>                          → latest engine.Checkpoint (JSON)
//   candle:<symbol>:<resolution>:<time>     → candle.Candle (gob)
//
// Times are zero-padded to 20 digits so keys sort chronologically.

const (
	prefixTrade      = "trade:"
	prefixCheckpoint = "ckpt:"
	prefixCandle     = "candle:"
)

// tradeKey orders a session's trades by close time.
func tradeKey(sessionID string, exitTime int64, tradeID string) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d:%s", prefixTrade, sessionID, exitTime, tradeID))
}

func tradePrefix(sessionID string) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixTrade, sessionID))
}

func checkpointKey(sessionID string) []byte {
	return []byte(prefixCheckpoint + sessionID)
}

func candleKey(symbol, resolution string, t int64) []byte {
	return []byte(fmt.Sprintf("%s%s:%s:%020d", prefixCandle, symbol, resolution, t))
}

func candlePrefix(symbol, resolution string) []byte {
	return []byte(fmt.Sprintf("%s%s:%s:", prefixCandle, symbol, resolution))
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
