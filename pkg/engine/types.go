package engine

import (
	"github.com/shopspring/decimal"
)

type Side string

const (
	Long  Side = "LONG"
	Short Side = "SHORT"
)

func (s Side) Valid() bool { return s == Long || s == Short }

// sign is +1 for longs and -1 for shorts.
func (s Side) sign() decimal.Decimal {
	if s == Short {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

type OrderType string

const (
	Market OrderType = "MARKET"
	Limit  OrderType = "LIMIT"
	Stop   OrderType = "STOP"
)

func (t OrderType) Valid() bool { return t == Market || t == Limit || t == Stop }

type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderFilled    OrderStatus = "FILLED"
	OrderCancelled OrderStatus = "CANCELLED"
)

type TradeStatus string

const (
	TradeOpen   TradeStatus = "OPEN"
	TradeClosed TradeStatus = "CLOSED"
)

type CloseReason string

const (
	ReasonStopLoss   CloseReason = "STOP_LOSS"
	ReasonTakeProfit CloseReason = "TAKE_PROFIT"
	ReasonManual     CloseReason = "MANUAL"
	ReasonSessionEnd CloseReason = "SESSION_END"
)

// OrderRequest is what the placement surface hands to the engine.
// Quantity may be left zero when RiskPercent and StopLoss are set; the engine
// then sizes the order from current equity.
type OrderRequest struct {
	Symbol      string           `json:"symbol"`
	Side        Side             `json:"side"`
	Type        OrderType        `json:"type"`
	Quantity    decimal.Decimal  `json:"quantity"`
	RiskPercent decimal.Decimal  `json:"riskPercent"`
	LimitPrice  *decimal.Decimal `json:"limitPrice,omitempty"`
	StopPrice   *decimal.Decimal `json:"stopPrice,omitempty"`
	StopLoss    *decimal.Decimal `json:"stopLoss,omitempty"`
	TakeProfit  *decimal.Decimal `json:"takeProfit,omitempty"`
}

type Order struct {
	ID         string           `json:"id"`
	Symbol     string           `json:"symbol"`
	Side       Side             `json:"side"`
	Type       OrderType        `json:"type"`
	Quantity   decimal.Decimal  `json:"quantity"`
	LimitPrice *decimal.Decimal `json:"limitPrice,omitempty"`
	StopPrice  *decimal.Decimal `json:"stopPrice,omitempty"`
	StopLoss   *decimal.Decimal `json:"stopLoss,omitempty"`
	TakeProfit *decimal.Decimal `json:"takeProfit,omitempty"`
	Status     OrderStatus      `json:"status"`
	CreatedAt  int64            `json:"createdAt"` // candle time at placement
	FilledAt   int64            `json:"filledAt,omitempty"`
	FillPrice  *decimal.Decimal `json:"fillPrice,omitempty"`
	TradeID    string           `json:"tradeId,omitempty"`
}

// TriggerPrice returns the limit price for LIMIT orders and the stop price
// for STOP orders.
func (o *Order) TriggerPrice() (decimal.Decimal, bool) {
	switch o.Type {
	case Limit:
		if o.LimitPrice != nil {
			return *o.LimitPrice, true
		}
	case Stop:
		if o.StopPrice != nil {
			return *o.StopPrice, true
		}
	}
	return decimal.Zero, false
}

type Trade struct {
	ID          string           `json:"id"`
	OrderID     string           `json:"orderId"`
	Symbol      string           `json:"symbol"`
	Side        Side             `json:"side"`
	EntryPrice  decimal.Decimal  `json:"entryPrice"`
	ExitPrice   *decimal.Decimal `json:"exitPrice,omitempty"`
	Quantity    decimal.Decimal  `json:"quantity"`
	PnL         *decimal.Decimal `json:"pnl,omitempty"`
	EntryTime   int64            `json:"entryTime"`
	ExitTime    int64            `json:"exitTime,omitempty"`
	Status      TradeStatus      `json:"status"`
	StopLoss    *decimal.Decimal `json:"stopLoss,omitempty"`
	TakeProfit  *decimal.Decimal `json:"takeProfit,omitempty"`
	Commission  decimal.Decimal  `json:"commission"`
	Swap        decimal.Decimal  `json:"swap"`
	CloseReason CloseReason      `json:"closeReason,omitempty"`
}

func (t *Trade) IsOpen() bool { return t.Status == TradeOpen }

// Stats is a point-in-time view of the account.
// Equity = Balance + unrealized pnl of open trades at the last processed close.
type Stats struct {
	Balance        decimal.Decimal `json:"balance"`
	Equity         decimal.Decimal `json:"equity"`
	PeakEquity     decimal.Decimal `json:"peakEquity"`
	MaxDrawdown    decimal.Decimal `json:"maxDrawdown"`
	LastCandleTime int64           `json:"lastCandleTime"`
	OpenTrades     int             `json:"openTrades"`
	ClosedTrades   int             `json:"closedTrades"`
	Wins           int             `json:"wins"`
	Losses         int             `json:"losses"`
}

// Checkpoint is the resumable part of a session.
type Checkpoint struct {
	SessionID      string          `json:"sessionId"`
	Symbol         string          `json:"symbol"`
	Resolution     string          `json:"resolution"`
	Balance        decimal.Decimal `json:"balance"`
	LastCandleTime int64           `json:"lastCandleTime"`
	SavedAt        int64           `json:"savedAt"` // unix millis
}

// Config holds the fee and sizing parameters of an engine.
type Config struct {
	CommissionBps      decimal.Decimal
	SwapLongBpsPerDay  decimal.Decimal
	SwapShortBpsPerDay decimal.Decimal
	QuantityPrecision  int32
}

func cloneDec(d *decimal.Decimal) *decimal.Decimal {
	if d == nil {
		return nil
	}
	v := *d
	return &v
}

func (o *Order) clone() Order {
	c := *o
	c.LimitPrice = cloneDec(o.LimitPrice)
	c.StopPrice = cloneDec(o.StopPrice)
	c.StopLoss = cloneDec(o.StopLoss)
	c.TakeProfit = cloneDec(o.TakeProfit)
	c.FillPrice = cloneDec(o.FillPrice)
	return c
}

func (t *Trade) clone() Trade {
	c := *t
	c.ExitPrice = cloneDec(t.ExitPrice)
	c.PnL = cloneDec(t.PnL)
	c.StopLoss = cloneDec(t.StopLoss)
	c.TakeProfit = cloneDec(t.TakeProfit)
	return c
}
