package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/uhyunpark/chartreplay/pkg/engine"
)

// Entry is one line of the journal.
type Entry struct {
	Kind       string             `json:"kind"` // "trade" or "checkpoint"
	SessionID  string             `json:"session"`
	Trade      *engine.Trade      `json:"trade,omitempty"`
	Checkpoint *engine.Checkpoint `json:"checkpoint,omitempty"`
}

// FileJournal appends every trade and checkpoint as a JSON line. It is an
// audit trail; nothing is read back from it at runtime.
type FileJournal struct {
	mu sync.Mutex
	f  *os.File
}

func NewFileJournal(path string) (*FileJournal, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal %s: %w", path, err)
	}
	return &FileJournal{f: f}, nil
}

func (j *FileJournal) SaveTrade(ctx context.Context, sessionID string, t engine.Trade) error {
	return j.append(ctx, Entry{Kind: "trade", SessionID: sessionID, Trade: &t})
}

func (j *FileJournal) SaveCheckpoint(ctx context.Context, cp engine.Checkpoint) error {
	return j.append(ctx, Entry{Kind: "checkpoint", SessionID: cp.SessionID, Checkpoint: &cp})
}

func (j *FileJournal) append(ctx context.Context, e Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode journal entry: %w", err)
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	_, err = fmt.Fprintln(j.f, string(line))
	return err
}

func (j *FileJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.f.Close()
}
