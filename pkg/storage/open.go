package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/uhyunpark/chartreplay/params"
)

// Stack is the persistence wiring selected by configuration: Pebble (or
// memory) as the primary store, mirrored to the journal and Postgres when
// they are configured.
type Stack struct {
	Store Store
	// Pebble is nil when no data directory is configured. It doubles as the
	// candle cache.
	Pebble *PebbleStore

	closers []io.Closer
}

func Open(cfg params.Storage, log *zap.SugaredLogger) (*Stack, error) {
	st := &Stack{}

	var primary Store
	if cfg.DataDir != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.DataDir), 0755); err != nil {
			return nil, err
		}
		db, err := NewPebbleStore(cfg.DataDir)
		if err != nil {
			return nil, err
		}
		st.Pebble = db
		st.closers = append(st.closers, db)
		primary = db
		log.Infow("storage_opened", "backend", "pebble", "path", cfg.DataDir)
	} else {
		primary = NewMemoryStore()
		log.Infow("storage_opened", "backend", "memory")
	}

	var mirrors []Sink
	if cfg.JournalPath != "" {
		j, err := NewFileJournal(cfg.JournalPath)
		if err != nil {
			st.Close()
			return nil, err
		}
		st.closers = append(st.closers, j)
		mirrors = append(mirrors, j)
		log.Infow("journal_enabled", "path", cfg.JournalPath)
	}
	if cfg.PostgresDSN != "" {
		pg, err := NewPostgresStore(cfg.PostgresDSN)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("postgres mirror: %w", err)
		}
		st.closers = append(st.closers, pg)
		mirrors = append(mirrors, pg)
		log.Infow("postgres_mirror_enabled")
	}

	if len(mirrors) == 0 {
		st.Store = primary
	} else {
		st.Store = NewTee(primary, mirrors...)
	}
	return st, nil
}

// Close closes everything Open opened, in reverse order.
func (s *Stack) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
