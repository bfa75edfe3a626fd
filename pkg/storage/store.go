package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/uhyunpark/chartreplay/pkg/engine"
)

// Sink receives closed trades and checkpoints.
type Sink interface {
	SaveTrade(ctx context.Context, sessionID string, t engine.Trade) error
	SaveCheckpoint(ctx context.Context, cp engine.Checkpoint) error
}

// Store is a Sink that can also be read back.
type Store interface {
	Sink
	LastCheckpoint(ctx context.Context, sessionID string) (engine.Checkpoint, error)
	Trades(sessionID string, limit int) ([]engine.Trade, error)
}

// Tee writes to a primary store and then to every mirror. Reads go to the
// primary only. A failing mirror does not stop the others.
type Tee struct {
	primary Store
	mirrors []Sink
}

func NewTee(primary Store, mirrors ...Sink) *Tee {
	return &Tee{primary: primary, mirrors: mirrors}
}

func (t *Tee) SaveTrade(ctx context.Context, sessionID string, tr engine.Trade) error {
	errs := []error{t.primary.SaveTrade(ctx, sessionID, tr)}
	for i, m := range t.mirrors {
		if err := m.SaveTrade(ctx, sessionID, tr); err != nil {
			errs = append(errs, fmt.Errorf("mirror %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

func (t *Tee) SaveCheckpoint(ctx context.Context, cp engine.Checkpoint) error {
	errs := []error{t.primary.SaveCheckpoint(ctx, cp)}
	for i, m := range t.mirrors {
		if err := m.SaveCheckpoint(ctx, cp); err != nil {
			errs = append(errs, fmt.Errorf("mirror %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

func (t *Tee) LastCheckpoint(ctx context.Context, sessionID string) (engine.Checkpoint, error) {
	return t.primary.LastCheckpoint(ctx, sessionID)
}

func (t *Tee) Trades(sessionID string, limit int) ([]engine.Trade, error) {
	return t.primary.Trades(sessionID, limit)
}

var (
	_ Store = (*PebbleStore)(nil)
	_ Store = (*MemoryStore)(nil)
	_ Store = (*PostgresStore)(nil)
	_ Store = (*Tee)(nil)
	_ Sink  = (*FileJournal)(nil)
)
