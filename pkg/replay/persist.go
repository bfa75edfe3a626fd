package replay

import (
	"context"
	"time"

	"github.com/uhyunpark/chartreplay/pkg/engine"
)

// Persistence receives closed trades and checkpoints. Calls are made off the
// simulation path; a failure is logged and never changes session state.
type Persistence interface {
	SaveTrade(ctx context.Context, sessionID string, t engine.Trade) error
	SaveCheckpoint(ctx context.Context, cp engine.Checkpoint) error
}

const (
	defaultPersistTimeout = 5 * time.Second
	persistBackoff        = 50 * time.Millisecond
)

func (s *Session) persistTrade(t engine.Trade) {
	if s.persist == nil {
		return
	}
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		s.attempt("save_trade", func(ctx context.Context) error {
			return s.persist.SaveTrade(ctx, s.id, t)
		}, nil)
	}()
}

// persistCheckpoint queues cp as the next checkpoint to save. Checkpoints are
// written one at a time in order; a queued checkpoint replaces any older one
// still waiting, and an older one being retried is abandoned.
func (s *Session) persistCheckpoint(cp engine.Checkpoint) {
	if s.persist == nil {
		return
	}
	s.ckptMu.Lock()
	s.ckptNext = &cp
	running := s.ckptRunning
	s.ckptRunning = true
	s.ckptMu.Unlock()
	if running {
		return
	}
	s.inflight.Add(1)
	go s.drainCheckpoints()
}

func (s *Session) drainCheckpoints() {
	defer s.inflight.Done()
	for {
		s.ckptMu.Lock()
		cp := s.ckptNext
		s.ckptNext = nil
		if cp == nil {
			s.ckptRunning = false
			s.ckptMu.Unlock()
			return
		}
		s.ckptMu.Unlock()

		s.attempt("save_checkpoint", func(ctx context.Context) error {
			return s.persist.SaveCheckpoint(ctx, *cp)
		}, s.checkpointQueued)
	}
}

func (s *Session) checkpointQueued() bool {
	s.ckptMu.Lock()
	defer s.ckptMu.Unlock()
	return s.ckptNext != nil
}

// attempt calls fn with a per-attempt timeout and PersistRetries extra
// attempts. Retrying stops early once superseded reports true.
func (s *Session) attempt(op string, fn func(ctx context.Context) error, superseded func() bool) {
	timeout := s.cfg.PersistTimeout
	if timeout <= 0 {
		timeout = defaultPersistTimeout
	}
	retries := max(s.cfg.PersistRetries, 0)

	var err error
	wait := persistBackoff
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			time.Sleep(wait)
			wait *= 2
			if superseded != nil && superseded() {
				s.log.Debugw("persistence_superseded", "op", op, "attempts", attempt)
				return
			}
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		err = fn(ctx)
		cancel()
		if err == nil {
			return
		}
	}
	s.log.Warnw("persistence_failed",
		"op", op,
		"attempts", retries+1,
		"err", err,
	)
}

// Flush blocks until every dispatched persistence call has finished.
func (s *Session) Flush() {
	s.inflight.Wait()
}
