// Package replay drives a candle-by-candle replay of one symbol: it owns the
// cursor over the candle series, the order-matching engine fed by that
// cursor, the drawing overlay, and the checkpoints that let a session resume.
package replay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/uhyunpark/chartreplay/pkg/candle"
	"github.com/uhyunpark/chartreplay/pkg/drawing"
	"github.com/uhyunpark/chartreplay/pkg/engine"
	"github.com/uhyunpark/chartreplay/pkg/feed"
	"github.com/uhyunpark/chartreplay/pkg/util"
)

type Config struct {
	ID     string
	Symbol string
	// BaseResolution is the resolution candles are loaded at. Resolution is
	// the displayed one and must be a multiple of it; zero means the same.
	BaseResolution candle.Resolution
	Resolution     candle.Resolution
	InitialBalance decimal.Decimal
	Engine         engine.Config

	StepInterval       time.Duration // playback period at 1x
	CheckpointInterval time.Duration // zero disables interval checkpoints
	PersistTimeout     time.Duration
	PersistRetries     int

	HitTolerance float64
	Magnet       bool
}

// Snapshot is the state pushed to observers after every cursor change.
type Snapshot struct {
	SessionID  string         `json:"sessionId"`
	Symbol     string         `json:"symbol"`
	Resolution string         `json:"resolution"`
	Index      int            `json:"index"`
	Total      int            `json:"total"`
	Playing    bool           `json:"playing"`
	Speed      float64        `json:"speed"`
	Candle     *candle.Candle `json:"candle,omitempty"`
	Stats      engine.Stats   `json:"stats"`
}

// partial marks a display candle that is only partly processed. It happens
// after switching to a coarser resolution in the middle of a bucket: the
// base candles from `from` to the end of the bucket are still unseen.
type partial struct {
	from    int
	display candle.Candle
}

// Session is one replay. Every cursor change processes exactly one candle
// through the engine; playback, stepping and seeking all share that path.
type Session struct {
	mu  sync.Mutex
	cfg Config
	id  string

	base    []candle.Candle
	res     candle.Resolution
	candles []candle.Candle
	ends    []int // ends[i] is one past the last base candle in candles[i]
	index   int
	partial *partial
	loaded  bool

	engine  *engine.Engine
	overlay *drawing.Overlay

	clock   util.Clock
	persist Persistence
	log     *zap.SugaredLogger

	speed   float64
	playing bool
	stop    chan struct{}
	dirty   bool
	closed  bool
	done    chan struct{}

	loops    sync.WaitGroup
	inflight sync.WaitGroup

	ckptMu      sync.Mutex
	ckptNext    *engine.Checkpoint
	ckptRunning bool

	onUpdate func(Snapshot)
}

func NewSession(cfg Config, clk util.Clock, persist Persistence, log *zap.SugaredLogger) *Session {
	if clk == nil {
		clk = util.NewRealClock()
	}
	if log == nil {
		log = util.Nop()
	}
	if cfg.Resolution == 0 {
		cfg.Resolution = cfg.BaseResolution
	}
	if cfg.StepInterval <= 0 {
		cfg.StepInterval = 500 * time.Millisecond
	}

	overlay := drawing.NewOverlay(drawing.NewStore(cfg.HitTolerance))
	overlay.SetMagnet(cfg.Magnet)

	s := &Session{
		cfg:     cfg,
		id:      cfg.ID,
		res:     cfg.Resolution,
		engine:  engine.New(cfg.Engine),
		overlay: overlay,
		clock:   clk,
		persist: persist,
		log:     log.With("session", cfg.ID),
		speed:   1,
		done:    make(chan struct{}),
	}
	s.engine.OnTradeClosed = func(t engine.Trade) {
		s.log.Infow("trade_closed",
			"trade", t.ID,
			"side", t.Side,
			"reason", t.CloseReason,
			"pnl", t.PnL,
		)
		s.persistTrade(t)
	}

	if cfg.CheckpointInterval > 0 {
		s.loops.Add(1)
		go s.checkpointLoop(clk.Ticker(cfg.CheckpointInterval))
	}
	return s
}

func (s *Session) ID() string     { return s.id }
func (s *Session) Symbol() string { return s.cfg.Symbol }

func (s *Session) Resolution() candle.Resolution {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.res
}

// Overlay exposes the session's drawing overlay and store.
func (s *Session) Overlay() *drawing.Overlay { return s.overlay }

// SetOnUpdate registers the observer called after every cursor change.
func (s *Session) SetOnUpdate(fn func(Snapshot)) {
	s.mu.Lock()
	s.onUpdate = fn
	s.mu.Unlock()
}

// Load fetches base candles for [from, to] and starts the replay at the first
// one. Feed errors and empty results are reported as ErrDataUnavailable.
func (s *Session) Load(ctx context.Context, src feed.Source, from, to int64) error {
	q := feed.Query{Symbol: s.cfg.Symbol, Resolution: s.cfg.BaseResolution, From: from, To: to}
	cs, err := src.Candles(ctx, q)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDataUnavailable, err)
	}
	cs = candle.Normalize(cs)
	if len(cs) == 0 {
		return fmt.Errorf("%w: no %s %s candles in [%d, %d]", ErrDataUnavailable, q.Symbol, q.Resolution, from, to)
	}
	return s.LoadCandles(cs)
}

// LoadCandles replaces the series with base candles, which must be
// normalized, and processes the first displayed candle.
func (s *Session) LoadCandles(cs []candle.Candle) error {
	if len(cs) == 0 {
		return ErrDataUnavailable
	}
	if err := checkResolution(s.cfg.BaseResolution, s.cfg.Resolution); err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.pauseLocked()
	s.base = cs
	s.setLayoutLocked(s.res)
	if err := s.startLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.loaded = true
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.log.Infow("session_loaded",
		"symbol", s.cfg.Symbol,
		"resolution", snap.Resolution,
		"base_candles", len(cs),
		"candles", snap.Total,
	)
	s.emit(snap)
	return nil
}

func checkResolution(base, res candle.Resolution) error {
	if base <= 0 || res <= 0 || res%base != 0 {
		return ErrInvalidResolution
	}
	return nil
}

// setLayoutLocked aggregates the base candles at res.
func (s *Session) setLayoutLocked(res candle.Resolution) {
	s.res = res
	s.candles = candle.Aggregate(s.base, res)
	s.ends = make([]int, len(s.candles))
	j := 0
	for i, c := range s.candles {
		for j < len(s.base) && res.Align(s.base[j].Time) == c.Time {
			j++
		}
		s.ends[i] = j
	}
}

// startLocked re-initializes the engine and processes candle 0.
func (s *Session) startLocked() error {
	if err := s.engine.Init(s.cfg.InitialBalance); err != nil {
		return err
	}
	s.index = 0
	s.partial = nil
	s.processLocked(s.candles[0])
	return nil
}

func (s *Session) readyLocked() error {
	if s.closed {
		return ErrSessionClosed
	}
	if !s.loaded {
		return ErrNotLoaded
	}
	return nil
}

func (s *Session) processLocked(c candle.Candle) {
	if err := s.engine.ProcessCandle(c); err != nil {
		s.log.Errorw("process_candle_failed", "time", c.Time, "err", err)
	}
	s.dirty = true
	s.overlay.SetCandles(s.revealedLocked())
}

// StepForward processes the next candle. At the last candle it stops
// playback and returns ErrEndOfData.
func (s *Session) StepForward() (Snapshot, error) {
	s.mu.Lock()
	if err := s.readyLocked(); err != nil {
		s.mu.Unlock()
		return Snapshot{}, err
	}
	err := s.stepLocked()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if err != nil {
		return snap, err
	}
	s.emit(snap)
	return snap, nil
}

func (s *Session) stepLocked() error {
	if p := s.partial; p != nil {
		// Finish the current bucket before moving on.
		rest := candle.Aggregate(s.base[p.from:s.ends[s.index]], s.res)[0]
		rest.Time = s.base[p.from].Time
		s.partial = nil
		s.processLocked(rest)
		s.stopAtEndLocked()
		return nil
	}
	if s.index >= len(s.candles)-1 {
		s.pauseLocked()
		return ErrEndOfData
	}
	s.index++
	s.processLocked(s.candles[s.index])
	s.stopAtEndLocked()
	return nil
}

func (s *Session) stopAtEndLocked() {
	if s.index == len(s.candles)-1 && s.partial == nil {
		s.pauseLocked()
	}
}

// SeekForward steps, processing every candle, until the current candle time
// reaches target. Returns ErrEndOfData if the data ends first.
func (s *Session) SeekForward(target int64) (Snapshot, error) {
	s.mu.Lock()
	if err := s.readyLocked(); err != nil {
		s.mu.Unlock()
		return Snapshot{}, err
	}
	var err error
	for s.candles[s.index].Time < target {
		if err = s.stepLocked(); err != nil {
			break
		}
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.emit(snap)
	return snap, err
}

// Reset rewinds to candle 0 with a fresh engine at the initial balance.
func (s *Session) Reset() (Snapshot, error) {
	s.mu.Lock()
	if err := s.readyLocked(); err != nil {
		s.mu.Unlock()
		return Snapshot{}, err
	}
	s.pauseLocked()
	err := s.startLocked()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if err != nil {
		return snap, err
	}
	s.log.Infow("session_reset")
	s.emit(snap)
	return snap, nil
}

// ResumeAt moves the cursor to the first candle at or after target and
// treats it as processed, without replaying the candles in between.
func (s *Session) ResumeAt(target int64) error {
	s.mu.Lock()
	if err := s.readyLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	if err := s.resumeAtLocked(target); err != nil {
		s.mu.Unlock()
		return err
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.emit(snap)
	return nil
}

// ResumeCheckpoint restores the checkpoint balance and resumes at its last
// processed candle time.
func (s *Session) ResumeCheckpoint(cp engine.Checkpoint) error {
	s.mu.Lock()
	if err := s.readyLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	idx, err := s.resumeIndexLocked(cp.LastCandleTime, true)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.pauseLocked()
	if err := s.engine.Restore(cp); err != nil {
		s.mu.Unlock()
		return err
	}
	s.moveToLocked(idx)
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.log.Infow("session_resumed",
		"balance", cp.Balance.String(),
		"last_candle_time", cp.LastCandleTime,
		"index", snap.Index,
	)
	s.emit(snap)
	return nil
}

func (s *Session) resumeAtLocked(target int64) error {
	idx, err := s.resumeIndexLocked(target, false)
	if err != nil {
		return err
	}
	// Inside the bucket still being finished: its remaining base candles
	// must go through the engine, so the cursor stays put.
	if idx == s.index && s.partial != nil {
		return nil
	}
	s.moveToLocked(idx)
	return nil
}

// resumeIndexLocked finds the first candle at or after target. Unless fresh,
// it may not be before the cursor.
func (s *Session) resumeIndexLocked(target int64, fresh bool) (int, error) {
	idx := candle.SearchTime(s.candles, target)
	if idx == len(s.candles) {
		return 0, ErrEndOfData
	}
	if !fresh && idx < s.index {
		return 0, ErrBackwardSeek
	}
	return idx, nil
}

func (s *Session) moveToLocked(idx int) {
	s.index = idx
	s.partial = nil
	s.engine.MarkProcessed(s.candles[idx])
	s.dirty = true
	s.overlay.SetCandles(s.revealedLocked())
}

// SetResolution re-aggregates the base candles at res and keeps the replay at
// the same point in time. When that point is inside a bucket, the bucket is
// shown only up to the current base candle and the next step finishes it.
func (s *Session) SetResolution(res candle.Resolution) error {
	if err := checkResolution(s.cfg.BaseResolution, res); err != nil {
		return err
	}
	s.mu.Lock()
	if err := s.readyLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	if res == s.res {
		s.mu.Unlock()
		return nil
	}

	bi := s.cursorLocked()
	at := s.base[bi].Time
	s.setLayoutLocked(res)
	s.index = candle.SearchTime(s.candles, res.Align(at))
	s.partial = nil

	shown := s.candles[s.index]
	if s.ends[s.index]-1 > bi {
		start := 0
		if s.index > 0 {
			start = s.ends[s.index-1]
		}
		shown = candle.Aggregate(s.base[start:bi+1], res)[0]
		s.partial = &partial{from: bi + 1, display: shown}
	}
	mark := shown
	mark.Time = at
	s.engine.MarkProcessed(mark)
	s.overlay.SetCandles(s.revealedLocked())
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.log.Infow("resolution_changed", "resolution", res.String(), "index", snap.Index)
	s.emit(snap)
	return nil
}

// cursorLocked is the index of the last processed base candle.
func (s *Session) cursorLocked() int {
	if s.partial != nil {
		return s.partial.from - 1
	}
	return s.ends[s.index] - 1
}

func (s *Session) currentLocked() candle.Candle {
	if s.partial != nil {
		return s.partial.display
	}
	return s.candles[s.index]
}

func (s *Session) revealedLocked() []candle.Candle {
	out := make([]candle.Candle, s.index+1)
	copy(out, s.candles[:s.index+1])
	out[s.index] = s.currentLocked()
	return out
}

// Candles returns the candles revealed so far.
func (s *Session) Candles() []candle.Candle {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return []candle.Candle{}
	}
	return s.revealedLocked()
}

// Play starts stepping on the clock every StepInterval/speed.
func (s *Session) Play() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readyLocked(); err != nil {
		return err
	}
	if s.playing {
		return nil
	}
	if s.index >= len(s.candles)-1 && s.partial == nil {
		return ErrEndOfData
	}
	s.playing = true
	s.startTickerLocked()
	s.log.Infow("playback_started", "speed", s.speed)
	return nil
}

func (s *Session) startTickerLocked() {
	interval := time.Duration(float64(s.cfg.StepInterval) / s.speed)
	if interval < time.Millisecond {
		interval = time.Millisecond
	}
	stop := make(chan struct{})
	s.stop = stop
	s.loops.Add(1)
	go s.playLoop(stop, s.clock.Ticker(interval))
}

func (s *Session) playLoop(stop chan struct{}, ticker *clock.Ticker) {
	defer s.loops.Done()
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			if s.stop != stop {
				s.mu.Unlock()
				return
			}
			err := s.stepLocked()
			snap := s.snapshotLocked()
			s.mu.Unlock()

			if err != nil {
				return
			}
			s.emit(snap)
		}
	}
}

// Pause stops playback. Every transition from playing to paused saves
// exactly one checkpoint.
func (s *Session) Pause() {
	s.mu.Lock()
	wasPlaying := s.playing
	s.pauseLocked()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if wasPlaying {
		s.emit(snap)
	}
}

func (s *Session) pauseLocked() {
	if !s.playing {
		return
	}
	close(s.stop)
	s.stop = nil
	s.playing = false
	s.checkpointLocked()
	s.log.Infow("playback_paused", "index", s.index)
}

func (s *Session) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

// SetSpeed changes the playback multiplier. A running ticker is restarted at
// the new rate without pausing.
func (s *Session) SetSpeed(x float64) error {
	if x <= 0 {
		return ErrInvalidSpeed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.speed = x
	if s.playing {
		close(s.stop)
		s.startTickerLocked()
	}
	return nil
}

func (s *Session) Speed() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speed
}

func (s *Session) checkpointLoop(ticker *clock.Ticker) {
	defer s.loops.Done()
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.mu.Lock()
			if s.dirty && s.loaded {
				s.checkpointLocked()
			}
			s.mu.Unlock()
		}
	}
}

// Checkpoint returns the current resumable state.
func (s *Session) Checkpoint() engine.Checkpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkpointValueLocked()
}

func (s *Session) checkpointValueLocked() engine.Checkpoint {
	cp := s.engine.Checkpoint()
	cp.SessionID = s.id
	cp.Symbol = s.cfg.Symbol
	cp.Resolution = s.res.String()
	cp.SavedAt = s.clock.Now().UnixMilli()
	return cp
}

func (s *Session) checkpointLocked() {
	cp := s.checkpointValueLocked()
	s.dirty = false
	s.persistCheckpoint(cp)
}

// Close stops playback and the checkpoint loop, closes open trades at the
// last price and saves a final checkpoint. Pending persistence is flushed.
func (s *Session) Close() {
	if !s.stopLoops() {
		return
	}

	closed := s.engine.CloseAll(engine.ReasonSessionEnd)
	s.mu.Lock()
	if s.loaded {
		s.checkpointLocked()
	}
	s.mu.Unlock()
	s.Flush()

	s.log.Infow("session_closed", "closed_trades", len(closed))
}

// discard shuts down a session that never opened. Nothing is settled or
// checkpointed, so state stored under the same id is left alone.
func (s *Session) discard() {
	if !s.stopLoops() {
		return
	}
	s.Flush()
	s.log.Infow("session_discarded")
}

// stopLoops marks the session closed and waits for its loops to exit. It
// reports false if the session was already closed.
func (s *Session) stopLoops() bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.closed = true
	s.pauseLocked()
	close(s.done)
	s.mu.Unlock()

	s.loops.Wait()
	return true
}

func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		SessionID:  s.id,
		Symbol:     s.cfg.Symbol,
		Resolution: s.res.String(),
		Index:      s.index,
		Total:      len(s.candles),
		Playing:    s.playing,
		Speed:      s.speed,
		Stats:      s.engine.Stats(),
	}
	if s.loaded {
		c := s.currentLocked()
		snap.Candle = &c
	}
	return snap
}

func (s *Session) emit(snap Snapshot) {
	s.mu.Lock()
	fn := s.onUpdate
	s.mu.Unlock()
	if fn != nil {
		fn(snap)
	}
}

// PlaceOrder places an order for the session's symbol at the current candle.
func (s *Session) PlaceOrder(req engine.OrderRequest) (engine.Order, error) {
	if err := s.guard(); err != nil {
		return engine.Order{}, err
	}
	if req.Symbol == "" {
		req.Symbol = s.cfg.Symbol
	}
	o, err := s.engine.PlaceOrder(req)
	if err != nil {
		return o, err
	}
	s.log.Infow("order_placed", "order", o.ID, "side", o.Side, "type", o.Type, "quantity", o.Quantity.String())
	return o, nil
}

func (s *Session) CancelOrder(id string) (engine.Order, error) {
	if err := s.guard(); err != nil {
		return engine.Order{}, err
	}
	return s.engine.CancelOrder(id)
}

func (s *Session) CloseTrade(id string) (engine.Trade, error) {
	if err := s.guard(); err != nil {
		return engine.Trade{}, err
	}
	t, err := s.engine.CloseTrade(id)
	if err == nil {
		s.markDirty()
	}
	return t, err
}

func (s *Session) UpdateProtection(id string, stopLoss, takeProfit *decimal.Decimal) (engine.Trade, error) {
	if err := s.guard(); err != nil {
		return engine.Trade{}, err
	}
	return s.engine.UpdateProtection(id, stopLoss, takeProfit)
}

func (s *Session) Orders() []engine.Order { return s.engine.Orders() }
func (s *Session) Trades() []engine.Trade { return s.engine.Trades() }
func (s *Session) Stats() engine.Stats    { return s.engine.Stats() }

func (s *Session) guard() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readyLocked()
}

func (s *Session) markDirty() {
	s.mu.Lock()
	s.dirty = true
	s.mu.Unlock()
}

// IsDataUnavailable reports whether err means the session could not get
// candles and may be retried.
func IsDataUnavailable(err error) bool {
	return errors.Is(err, ErrDataUnavailable)
}
