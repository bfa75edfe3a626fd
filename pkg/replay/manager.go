package replay

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/uhyunpark/chartreplay/pkg/candle"
	"github.com/uhyunpark/chartreplay/pkg/engine"
	"github.com/uhyunpark/chartreplay/pkg/feed"
	"github.com/uhyunpark/chartreplay/pkg/storage"
	"github.com/uhyunpark/chartreplay/pkg/util"
)

// CheckpointStore is Persistence that can return the last saved checkpoint.
type CheckpointStore interface {
	Persistence
	LastCheckpoint(ctx context.Context, sessionID string) (engine.Checkpoint, error)
}

type CreateRequest struct {
	ID         string            `json:"id,omitempty"`
	Symbol     string            `json:"symbol"`
	Resolution candle.Resolution `json:"-"`
	From       int64             `json:"from"`
	To         int64             `json:"to"`
	Balance    decimal.Decimal   `json:"balance"`
	// Resume restores the last checkpoint stored under ID, if any.
	Resume bool `json:"resume"`
}

// Manager keeps the live sessions in a thread-safe registry
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	defaults Config
	src      feed.Source
	store    CheckpointStore
	clock    util.Clock
	log      *zap.SugaredLogger
	newID    func() string
	onUpdate func(Snapshot)
}

// NewManager creates an empty registry. defaults supplies everything a
// CreateRequest does not; store may be nil.
func NewManager(defaults Config, src feed.Source, store CheckpointStore, clk util.Clock, log *zap.SugaredLogger) *Manager {
	if log == nil {
		log = util.Nop()
	}
	return &Manager{
		sessions: make(map[string]*Session),
		defaults: defaults,
		src:      src,
		store:    store,
		clock:    clk,
		log:      log,
		newID:    uuid.NewString,
	}
}

// SetOnUpdate installs fn on every session created afterwards.
func (m *Manager) SetOnUpdate(fn func(Snapshot)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onUpdate = fn
}

// Create loads a new session from the feed and registers it.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*Session, error) {
	if req.Symbol == "" {
		return nil, &engine.ValidationError{Field: "symbol", Reason: "is required"}
	}
	if strings.Contains(req.ID, ":") {
		return nil, &engine.ValidationError{Field: "id", Reason: "must not contain ':'"}
	}
	if req.Balance.IsNegative() {
		return nil, &engine.ValidationError{Field: "balance", Reason: "must not be negative"}
	}

	m.mu.Lock()
	id := req.ID
	if id == "" {
		id = m.newID()
	}
	if _, exists := m.sessions[id]; exists {
		m.mu.Unlock()
		return nil, &engine.ValidationError{Field: "id", Reason: fmt.Sprintf("session %s already exists", id)}
	}
	// Reserve the id while loading.
	m.sessions[id] = nil
	onUpdate := m.onUpdate
	m.mu.Unlock()

	s, err := m.open(ctx, id, req)
	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		delete(m.sessions, id)
		return nil, err
	}
	s.SetOnUpdate(onUpdate)
	m.sessions[id] = s
	return s, nil
}

func (m *Manager) open(ctx context.Context, id string, req CreateRequest) (*Session, error) {
	cfg := m.defaults
	cfg.ID = id
	cfg.Symbol = req.Symbol
	if req.Resolution != 0 {
		cfg.Resolution = req.Resolution
	}
	if !req.Balance.IsZero() {
		cfg.InitialBalance = req.Balance
	}

	var persist Persistence
	if m.store != nil {
		persist = m.store
	}
	s := NewSession(cfg, m.clock, persist, m.log)
	if err := s.Load(ctx, m.src, req.From, req.To); err != nil {
		s.discard()
		return nil, err
	}

	if req.Resume && m.store != nil {
		cp, err := m.store.LastCheckpoint(ctx, id)
		switch {
		case err == nil:
			if err := s.ResumeCheckpoint(cp); err != nil {
				s.discard()
				return nil, fmt.Errorf("resume %s: %w", id, err)
			}
		case errors.Is(err, storage.ErrNotFound):
			m.log.Infow("no_checkpoint", "session", id)
		default:
			m.log.Warnw("checkpoint_load_failed", "session", id, "err", err)
		}
	}
	return s, nil
}

// Get retrieves a session by id
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok || s == nil {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// List returns all sessions ordered by id
func (m *Manager) List() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		if s != nil {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Close removes a session and closes it.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok || s == nil {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	delete(m.sessions, id)
	m.mu.Unlock()

	s.Close()
	return nil
}

// CloseAll closes every session. Used on shutdown.
func (m *Manager) CloseAll() {
	for _, s := range m.List() {
		m.Close(s.ID())
	}
}

// Count returns the number of live sessions
func (m *Manager) Count() int {
	return len(m.List())
}
