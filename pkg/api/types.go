package api

import (
	"github.com/shopspring/decimal"

	"github.com/uhyunpark/chartreplay/pkg/chart"
	"github.com/uhyunpark/chartreplay/pkg/drawing"
	"github.com/uhyunpark/chartreplay/pkg/replay"
)

// API request and response types for REST endpoints and WebSocket messages

// ==============================
// REST Request Types
// ==============================

// CreateSessionRequest starts a replay of Symbol over [From, To]
type CreateSessionRequest struct {
	ID         string          `json:"id,omitempty"`
	Symbol     string          `json:"symbol"`
	Resolution string          `json:"resolution,omitempty"` // e.g. "1m", "1h"
	From       int64           `json:"from"`                 // unix seconds
	To         int64           `json:"to,omitempty"`         // 0 = until the end of data
	Balance    decimal.Decimal `json:"balance"`
	Resume     bool            `json:"resume,omitempty"`
}

type SpeedRequest struct {
	Speed float64 `json:"speed"`
}

type SeekRequest struct {
	Time int64 `json:"time"` // unix seconds
}

type ResolutionRequest struct {
	Resolution string `json:"resolution"`
}

// ProtectionRequest replaces a trade's stop-loss and take-profit.
// A null field removes that level.
type ProtectionRequest struct {
	StopLoss   *decimal.Decimal `json:"stopLoss"`
	TakeProfit *decimal.Decimal `json:"takeProfit"`
}

// DrawingPatch updates the mutable attributes of a drawing. Omitted fields are
// left unchanged.
type DrawingPatch struct {
	Color   *string `json:"color,omitempty"`
	Locked  *bool   `json:"locked,omitempty"`
	Visible *bool   `json:"visible,omitempty"`
	Front   bool    `json:"bringToFront,omitempty"`
}

// PointerRequest is one overlay input event against the client's viewport.
type PointerRequest struct {
	Viewport chart.LinearViewport `json:"viewport"`
	Event    string               `json:"event"` // "down", "move" or "up"
	X        float64              `json:"x"`
	Y        float64              `json:"y"`
	// Tool and Magnet, when set, are applied before the event.
	Tool   *string `json:"tool,omitempty"`
	Color  string  `json:"color,omitempty"`
	Magnet *bool   `json:"magnet,omitempty"`
}

type RenderRequest struct {
	Viewport chart.LinearViewport `json:"viewport"`
}

// ==============================
// REST Response Types
// ==============================

type PointerResponse struct {
	drawing.Event
	Selected string `json:"selected,omitempty"`
}

type RenderResponse struct {
	Primitives []drawing.Primitive `json:"primitives"`
}

// ErrorResponse represents an API error
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSSubscribeRequest represents a WebSocket subscription request
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // e.g., ["session:abc"]
}

// SessionUpdate is pushed on channel "session:{id}" after every cursor change
type SessionUpdate struct {
	Type string `json:"type"` // "session"
	replay.Snapshot
}
