package storage

import (
	"context"
	"sync"

	"github.com/uhyunpark/chartreplay/pkg/engine"
)

// MemoryStore keeps every saved trade and checkpoint in memory, including
// the checkpoint history, which the persistent stores do not retain.
type MemoryStore struct {
	mu          sync.Mutex
	trades      map[string][]engine.Trade
	checkpoints map[string][]engine.Checkpoint
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		trades:      make(map[string][]engine.Trade),
		checkpoints: make(map[string][]engine.Checkpoint),
	}
}

func (s *MemoryStore) SaveTrade(_ context.Context, sessionID string, t engine.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades[sessionID] = append(s.trades[sessionID], t)
	return nil
}

func (s *MemoryStore) SaveCheckpoint(_ context.Context, cp engine.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints[cp.SessionID] = append(s.checkpoints[cp.SessionID], cp)
	return nil
}

func (s *MemoryStore) LastCheckpoint(_ context.Context, sessionID string) (engine.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cps := s.checkpoints[sessionID]
	if len(cps) == 0 {
		return engine.Checkpoint{}, ErrNotFound
	}
	return cps[len(cps)-1], nil
}

func (s *MemoryStore) Trades(sessionID string, limit int) ([]engine.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts := s.trades[sessionID]
	if limit > 0 && len(ts) > limit {
		ts = ts[:limit]
	}
	out := make([]engine.Trade, len(ts))
	copy(out, ts)
	return out, nil
}

// Checkpoints returns every checkpoint saved for a session, oldest first.
func (s *MemoryStore) Checkpoints(sessionID string) []engine.Checkpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]engine.Checkpoint, len(s.checkpoints[sessionID]))
	copy(out, s.checkpoints[sessionID])
	return out
}
