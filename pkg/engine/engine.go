package engine

import (
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/uhyunpark/chartreplay/pkg/candle"
)

// Engine matches simulated orders against a sequential candle feed and keeps
// balance, equity and drawdown. All methods are safe for concurrent use, but
// candles are expected from a single driver (the replay session).
//
// Per candle the engine:
//  1. fills triggered pending orders at their trigger price
//  2. checks stop-loss / take-profit of trades opened before this candle
//  3. settles closed trades into the balance
//  4. marks open trades to the candle close and updates drawdown
//
// When stop-loss and take-profit are both inside one candle, a bullish candle
// (close >= open) takes profit first and any other candle stops out first.
type Engine struct {
	mu  sync.Mutex
	cfg Config

	initialized bool
	balance     decimal.Decimal
	equity      decimal.Decimal
	peak        decimal.Decimal
	maxDD       decimal.Decimal

	orders []*Order
	trades []*Trade

	hasPrice  bool
	lastTime  int64
	lastClose decimal.Decimal

	newID func() string

	// OnTradeClosed is called once per trade when it transitions to CLOSED,
	// after the engine lock is released.
	OnTradeClosed func(Trade)
}

func New(cfg Config) *Engine {
	return &Engine{
		cfg:   cfg,
		newID: uuid.NewString,
	}
}

// Init resets the engine to a starting balance. Orders and trades are dropped.
func (e *Engine) Init(balance decimal.Decimal) error {
	if balance.IsNegative() {
		return invalid("balance", "must not be negative")
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	e.initialized = true
	e.balance = balance
	e.equity = balance
	e.peak = balance
	e.maxDD = decimal.Zero
	e.orders = nil
	e.trades = nil
	e.hasPrice = false
	e.lastTime = 0
	e.lastClose = decimal.Zero
	return nil
}

// Restore initializes the engine from a checkpoint balance.
func (e *Engine) Restore(cp Checkpoint) error {
	return e.Init(cp.Balance)
}

func (e *Engine) Initialized() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.initialized
}

// ProcessCandle advances the engine by one candle. It is a no-op before Init
// and rejects candles that are not newer than the last processed one.
func (e *Engine) ProcessCandle(c candle.Candle) error {
	closed, err := e.processCandle(c)
	e.notify(closed)
	return err
}

func (e *Engine) processCandle(c candle.Candle) ([]Trade, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.initialized {
		return nil, nil
	}
	if e.hasPrice && c.Time <= e.lastTime {
		return nil, ErrStaleCandle
	}

	b := newBar(c)

	for _, o := range e.orders {
		if o.Status != OrderPending {
			continue
		}
		if price, ok := triggerFill(o, b); ok {
			e.fill(o, price, b.time)
		}
	}

	var closed []Trade
	for _, t := range e.trades {
		if !t.IsOpen() || t.EntryTime >= b.time {
			continue
		}
		if price, reason, ok := exitFill(t, b); ok {
			e.settle(t, price, b.time, reason)
			closed = append(closed, t.clone())
		}
	}

	e.hasPrice = true
	e.lastTime = c.Time
	e.lastClose = b.close
	e.markToMarket()
	return closed, nil
}

// MarkProcessed treats c as already processed: its close becomes the mark
// price and later candles must be newer than both c and anything seen before.
// Nothing is filled or closed.
func (e *Engine) MarkProcessed(c candle.Candle) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.initialized {
		return
	}
	if !e.hasPrice || c.Time > e.lastTime {
		e.lastTime = c.Time
	}
	e.hasPrice = true
	e.lastClose = decimal.NewFromFloat(c.Close)
	e.markToMarket()
}

// PlaceOrder validates req and creates an order. MARKET orders fill
// immediately at the last processed close and open a trade.
func (e *Engine) PlaceOrder(req OrderRequest) (Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.initialized {
		return Order{}, ErrNotInitialized
	}
	qty, err := e.validate(req)
	if err != nil {
		return Order{}, err
	}

	o := &Order{
		ID:         e.newID(),
		Symbol:     req.Symbol,
		Side:       req.Side,
		Type:       req.Type,
		Quantity:   qty,
		LimitPrice: cloneDec(req.LimitPrice),
		StopPrice:  cloneDec(req.StopPrice),
		StopLoss:   cloneDec(req.StopLoss),
		TakeProfit: cloneDec(req.TakeProfit),
		Status:     OrderPending,
		CreatedAt:  e.lastTime,
	}
	e.orders = append(e.orders, o)

	if o.Type == Market {
		e.fill(o, e.lastClose, e.lastTime)
		e.markToMarket()
	}
	return o.clone(), nil
}

func (e *Engine) validate(req OrderRequest) (decimal.Decimal, error) {
	if !req.Side.Valid() {
		return decimal.Zero, invalid("side", "must be LONG or SHORT")
	}
	if !req.Type.Valid() {
		return decimal.Zero, invalid("type", "must be MARKET, LIMIT or STOP")
	}

	var ref decimal.Decimal
	switch req.Type {
	case Market:
		if !e.hasPrice {
			return decimal.Zero, invalid("type", "market order needs a processed candle")
		}
		ref = e.lastClose
	case Limit:
		if req.LimitPrice == nil || !req.LimitPrice.IsPositive() {
			return decimal.Zero, invalid("limitPrice", "required and must be positive for LIMIT")
		}
		ref = *req.LimitPrice
	case Stop:
		if req.StopPrice == nil || !req.StopPrice.IsPositive() {
			return decimal.Zero, invalid("stopPrice", "required and must be positive for STOP")
		}
		ref = *req.StopPrice
	}

	if req.StopLoss != nil && !req.StopLoss.IsPositive() {
		return decimal.Zero, invalid("stopLoss", "must be positive")
	}
	if req.TakeProfit != nil && !req.TakeProfit.IsPositive() {
		return decimal.Zero, invalid("takeProfit", "must be positive")
	}

	if req.Quantity.IsZero() && req.RiskPercent.IsPositive() {
		if req.StopLoss == nil {
			return decimal.Zero, invalid("stopLoss", "required for risk-based sizing")
		}
		return SizeByRisk(e.equity, req.RiskPercent, ref, *req.StopLoss, e.cfg.QuantityPrecision)
	}
	if !req.Quantity.IsPositive() {
		return decimal.Zero, invalid("quantity", "must be greater than zero")
	}
	return req.Quantity, nil
}

// CancelOrder cancels a pending order.
func (e *Engine) CancelOrder(id string) (Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	o := e.findOrder(id)
	if o == nil {
		return Order{}, ErrOrderNotFound
	}
	if o.Status != OrderPending {
		return Order{}, ErrOrderNotActive
	}
	o.Status = OrderCancelled
	return o.clone(), nil
}

// CloseTrade closes an open trade at the last processed close.
func (e *Engine) CloseTrade(id string) (Trade, error) {
	closed, err := e.closeTrade(id)
	if err != nil {
		return Trade{}, err
	}
	e.notify([]Trade{closed})
	return closed, nil
}

func (e *Engine) closeTrade(id string) (Trade, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t := e.findTrade(id)
	if t == nil {
		return Trade{}, ErrTradeNotFound
	}
	if !t.IsOpen() {
		return Trade{}, ErrTradeClosed
	}
	e.settle(t, e.lastClose, e.lastTime, ReasonManual)
	e.markToMarket()
	return t.clone(), nil
}

// CloseAll cancels pending orders and closes every open trade at the last
// processed close with the given reason.
func (e *Engine) CloseAll(reason CloseReason) []Trade {
	closed := e.closeAll(reason)
	e.notify(closed)
	return closed
}

func (e *Engine) closeAll(reason CloseReason) []Trade {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.initialized {
		return nil
	}
	for _, o := range e.orders {
		if o.Status == OrderPending {
			o.Status = OrderCancelled
		}
	}
	var closed []Trade
	for _, t := range e.trades {
		if t.IsOpen() {
			e.settle(t, e.lastClose, e.lastTime, reason)
			closed = append(closed, t.clone())
		}
	}
	e.markToMarket()
	return closed
}

// UpdateProtection replaces the stop-loss and take-profit of an open trade.
// A nil value removes the level.
func (e *Engine) UpdateProtection(id string, stopLoss, takeProfit *decimal.Decimal) (Trade, error) {
	if stopLoss != nil && !stopLoss.IsPositive() {
		return Trade{}, invalid("stopLoss", "must be positive")
	}
	if takeProfit != nil && !takeProfit.IsPositive() {
		return Trade{}, invalid("takeProfit", "must be positive")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	t := e.findTrade(id)
	if t == nil {
		return Trade{}, ErrTradeNotFound
	}
	if !t.IsOpen() {
		return Trade{}, ErrTradeClosed
	}
	t.StopLoss = cloneDec(stopLoss)
	t.TakeProfit = cloneDec(takeProfit)
	return t.clone(), nil
}

func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := Stats{
		Balance:        e.balance,
		Equity:         e.equity,
		PeakEquity:     e.peak,
		MaxDrawdown:    e.maxDD,
		LastCandleTime: e.lastTime,
	}
	for _, t := range e.trades {
		if t.IsOpen() {
			s.OpenTrades++
			continue
		}
		s.ClosedTrades++
		if t.PnL != nil && t.PnL.IsPositive() {
			s.Wins++
		} else {
			s.Losses++
		}
	}
	return s
}

func (e *Engine) Orders() []Order {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Order, len(e.orders))
	for i, o := range e.orders {
		out[i] = o.clone()
	}
	return out
}

func (e *Engine) Trades() []Trade {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Trade, len(e.trades))
	for i, t := range e.trades {
		out[i] = t.clone()
	}
	return out
}

// UnrealizedPnL returns the mark-to-market pnl of all open trades.
func (e *Engine) UnrealizedPnL() decimal.Decimal {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.unrealized()
}

func (e *Engine) Checkpoint() Checkpoint {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Checkpoint{Balance: e.balance, LastCandleTime: e.lastTime}
}

// fill marks o filled at price and opens its trade. Caller holds the lock.
func (e *Engine) fill(o *Order, price decimal.Decimal, at int64) {
	t := &Trade{
		ID:         e.newID(),
		OrderID:    o.ID,
		Symbol:     o.Symbol,
		Side:       o.Side,
		EntryPrice: price,
		Quantity:   o.Quantity,
		EntryTime:  at,
		Status:     TradeOpen,
		StopLoss:   cloneDec(o.StopLoss),
		TakeProfit: cloneDec(o.TakeProfit),
		Commission: e.cfg.commission(price, o.Quantity),
		Swap:       decimal.Zero,
	}
	o.Status = OrderFilled
	o.FilledAt = at
	o.FillPrice = &price
	o.TradeID = t.ID
	e.trades = append(e.trades, t)
}

// settle closes t and books its pnl. Caller holds the lock.
func (e *Engine) settle(t *Trade, price decimal.Decimal, at int64, reason CloseReason) {
	if at < t.EntryTime {
		at = t.EntryTime
	}
	swap := e.cfg.swap(t, at)
	pnl := grossPnL(t, price).Sub(t.Commission).Sub(swap)

	t.Swap = swap
	t.ExitPrice = &price
	t.ExitTime = at
	t.PnL = &pnl
	t.Status = TradeClosed
	t.CloseReason = reason
	e.balance = e.balance.Add(pnl)
}

func (e *Engine) unrealized() decimal.Decimal {
	total := decimal.Zero
	if !e.hasPrice {
		return total
	}
	for _, t := range e.trades {
		if t.IsOpen() {
			total = total.Add(e.cfg.netPnL(t, e.lastClose, e.lastTime))
		}
	}
	return total
}

// markToMarket recomputes equity, peak and drawdown. Caller holds the lock.
func (e *Engine) markToMarket() {
	e.equity = e.balance.Add(e.unrealized())
	if e.equity.GreaterThan(e.peak) {
		e.peak = e.equity
	}
	if dd := e.peak.Sub(e.equity); dd.GreaterThan(e.maxDD) {
		e.maxDD = dd
	}
}

func (e *Engine) findOrder(id string) *Order {
	for _, o := range e.orders {
		if o.ID == id {
			return o
		}
	}
	return nil
}

func (e *Engine) findTrade(id string) *Trade {
	for _, t := range e.trades {
		if t.ID == id {
			return t
		}
	}
	return nil
}

func (e *Engine) notify(closed []Trade) {
	if e.OnTradeClosed == nil {
		return
	}
	for _, t := range closed {
		e.OnTradeClosed(t)
	}
}
