package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/uhyunpark/chartreplay/pkg/candle"
	"github.com/uhyunpark/chartreplay/pkg/drawing"
	"github.com/uhyunpark/chartreplay/pkg/engine"
	"github.com/uhyunpark/chartreplay/pkg/feed"
	"github.com/uhyunpark/chartreplay/pkg/replay"
	"github.com/uhyunpark/chartreplay/pkg/storage"
)

const t0 = 1_700_000_100

func testCandles(n int) []candle.Candle {
	cs := make([]candle.Candle, n)
	for i := range cs {
		p := 1.1 + 0.001*float64(i)
		cs[i] = candle.Candle{Time: t0 + int64(i)*60, Open: p, High: p + 0.0005, Low: p - 0.0005, Close: p}
	}
	return cs
}

type testAPI struct {
	*Server
	url string
}

func newTestAPI(t *testing.T, cs []candle.Candle) *testAPI {
	t.Helper()
	log := zap.NewNop().Sugar()
	defaults := replay.Config{
		BaseResolution: candle.Minute,
		InitialBalance: decimal.NewFromInt(10000),
		StepInterval:   time.Second,
	}
	m := replay.NewManager(defaults, feed.NewStatic(cs), storage.NewMemoryStore(), clock.NewMock(), log)
	s := NewServer(m, []string{"*"}, log)
	ts := httptest.NewServer(s.Handler())

	ctx, cancel := context.WithCancel(context.Background())
	go s.hub.Run(ctx)
	t.Cleanup(func() {
		ts.Close()
		m.CloseAll()
		cancel()
	})
	return &testAPI{Server: s, url: ts.URL}
}

func (a *testAPI) do(t *testing.T, method, path string, body interface{}, out interface{}) int {
	t.Helper()
	var rd io.Reader = http.NoBody
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, a.url+path, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 && resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestSessionLifecycle(t *testing.T) {
	a := newTestAPI(t, testCandles(10))

	var snap replay.Snapshot
	code := a.do(t, "POST", "/api/v1/sessions", CreateSessionRequest{ID: "s1", Symbol: "EURUSD"}, &snap)
	require.Equal(t, http.StatusCreated, code)
	require.Equal(t, "s1", snap.SessionID)
	require.Equal(t, 10, snap.Total)
	require.Equal(t, 0, snap.Index)

	require.Equal(t, http.StatusBadRequest, a.do(t, "POST", "/api/v1/sessions", CreateSessionRequest{ID: "s1", Symbol: "EURUSD"}, nil))

	require.Equal(t, http.StatusOK, a.do(t, "POST", "/api/v1/sessions/s1/step", nil, &snap))
	require.Equal(t, 1, snap.Index)

	var cs []candle.Candle
	require.Equal(t, http.StatusOK, a.do(t, "GET", "/api/v1/sessions/s1/candles", nil, &cs))
	require.Len(t, cs, 2)
	require.Equal(t, http.StatusOK, a.do(t, "GET", "/api/v1/sessions/s1/candles?limit=1", nil, &cs))
	require.Len(t, cs, 1)
	require.Equal(t, int64(t0+60), cs[0].Time)

	require.Equal(t, http.StatusOK, a.do(t, "POST", "/api/v1/sessions/s1/seek", SeekRequest{Time: t0 + 5*60}, &snap))
	require.Equal(t, 5, snap.Index)

	require.Equal(t, http.StatusBadRequest, a.do(t, "POST", "/api/v1/sessions/s1/speed", SpeedRequest{Speed: 0}, nil))
	require.Equal(t, http.StatusOK, a.do(t, "POST", "/api/v1/sessions/s1/speed", SpeedRequest{Speed: 4}, &snap))
	require.Equal(t, 4.0, snap.Speed)

	require.Equal(t, http.StatusOK, a.do(t, "POST", "/api/v1/sessions/s1/reset", nil, &snap))
	require.Equal(t, 0, snap.Index)

	var list []replay.Snapshot
	require.Equal(t, http.StatusOK, a.do(t, "GET", "/api/v1/sessions", nil, &list))
	require.Len(t, list, 1)

	require.Equal(t, http.StatusNoContent, a.do(t, "DELETE", "/api/v1/sessions/s1", nil, nil))
	require.Equal(t, http.StatusNotFound, a.do(t, "GET", "/api/v1/sessions/s1", nil, nil))
	require.Equal(t, http.StatusNotFound, a.do(t, "POST", "/api/v1/sessions/s1/step", nil, nil))
}

func TestCreateSession_DataUnavailable(t *testing.T) {
	a := newTestAPI(t, nil)

	code := a.do(t, "POST", "/api/v1/sessions", CreateSessionRequest{Symbol: "EURUSD"}, nil)
	require.Equal(t, http.StatusServiceUnavailable, code)

	code = a.do(t, "POST", "/api/v1/sessions", CreateSessionRequest{Symbol: "EURUSD", Resolution: "7x"}, nil)
	require.Equal(t, http.StatusBadRequest, code)
}

func TestOrdersAndTrades(t *testing.T) {
	a := newTestAPI(t, testCandles(10))
	require.Equal(t, http.StatusCreated, a.do(t, "POST", "/api/v1/sessions", CreateSessionRequest{ID: "s1", Symbol: "EURUSD"}, nil))

	var order engine.Order
	code := a.do(t, "POST", "/api/v1/sessions/s1/orders", engine.OrderRequest{
		Side:     engine.Long,
		Type:     engine.Market,
		Quantity: decimal.NewFromInt(1),
	}, &order)
	require.Equal(t, http.StatusCreated, code)
	require.Equal(t, engine.OrderFilled, order.Status)
	require.Equal(t, "EURUSD", order.Symbol)

	code = a.do(t, "POST", "/api/v1/sessions/s1/orders", engine.OrderRequest{Side: "UP", Type: engine.Market, Quantity: decimal.NewFromInt(1)}, nil)
	require.Equal(t, http.StatusBadRequest, code)

	var trades []engine.Trade
	require.Equal(t, http.StatusOK, a.do(t, "GET", "/api/v1/sessions/s1/trades", nil, &trades))
	require.Len(t, trades, 1)
	id := trades[0].ID

	var trade engine.Trade
	sl := decimal.RequireFromString("1.09")
	require.Equal(t, http.StatusOK, a.do(t, "PATCH", "/api/v1/sessions/s1/trades/"+id, ProtectionRequest{StopLoss: &sl}, &trade))
	require.True(t, trade.StopLoss.Equal(sl))

	require.Equal(t, http.StatusOK, a.do(t, "POST", "/api/v1/sessions/s1/trades/"+id+"/close", nil, &trade))
	require.Equal(t, engine.TradeClosed, trade.Status)
	require.Equal(t, engine.ReasonManual, trade.CloseReason)
	require.Equal(t, http.StatusConflict, a.do(t, "POST", "/api/v1/sessions/s1/trades/"+id+"/close", nil, nil))
	require.Equal(t, http.StatusNotFound, a.do(t, "DELETE", "/api/v1/sessions/s1/orders/nope", nil, nil))

	var stats engine.Stats
	require.Equal(t, http.StatusOK, a.do(t, "GET", "/api/v1/sessions/s1/stats", nil, &stats))
	require.Equal(t, 1, stats.ClosedTrades)
}

func TestDrawingsAndPointer(t *testing.T) {
	a := newTestAPI(t, testCandles(10))
	require.Equal(t, http.StatusCreated, a.do(t, "POST", "/api/v1/sessions", CreateSessionRequest{ID: "s1", Symbol: "EURUSD"}, nil))

	var d drawing.Drawing
	body := map[string]interface{}{
		"type":   "horizontal",
		"points": []map[string]interface{}{{"time": t0, "price": 1.1}, {"time": t0, "price": 1.1}},
	}
	require.Equal(t, http.StatusCreated, a.do(t, "POST", "/api/v1/sessions/s1/drawings", body, &d))
	require.NotEmpty(t, d.ID)
	require.True(t, d.Visible)

	require.Equal(t, http.StatusBadRequest, a.do(t, "POST", "/api/v1/sessions/s1/drawings", map[string]string{"type": "spiral"}, nil))

	// 1000s x [1.0, 1.2] on 500x400: price 1.1 sits at y=200.
	vp := map[string]interface{}{"from": t0, "to": t0 + 1000, "minPrice": 1.0, "maxPrice": 1.2, "width": 500, "height": 400}
	pointer := func(event string, x, y float64) PointerResponse {
		var resp PointerResponse
		code := a.do(t, "POST", "/api/v1/sessions/s1/pointer", map[string]interface{}{
			"viewport": vp, "event": event, "x": x, "y": y,
		}, &resp)
		require.Equal(t, http.StatusOK, code)
		return resp
	}

	require.Equal(t, drawing.ActionDrag, pointer("down", 100, 200).Action)
	require.Equal(t, drawing.ActionDragMove, pointer("move", 100, 180).Action)
	up := pointer("up", 100, 180)
	require.Equal(t, drawing.ActionDropped, up.Action)
	require.InDelta(t, 1.11, up.Drawing.Points[0].Price, 1e-9)

	locked := true
	require.Equal(t, http.StatusOK, a.do(t, "PATCH", "/api/v1/sessions/s1/drawings/"+d.ID, DrawingPatch{Locked: &locked}, &d))
	require.True(t, d.Locked)
	sel := pointer("down", 100, 180)
	require.Equal(t, drawing.ActionSelected, sel.Action)
	require.Equal(t, d.ID, sel.Selected)

	var render RenderResponse
	require.Equal(t, http.StatusOK, a.do(t, "POST", "/api/v1/sessions/s1/render", map[string]interface{}{"viewport": vp}, &render))
	require.Len(t, render.Primitives, 1)
	require.Equal(t, drawing.ShapeSegment, render.Primitives[0].Shape)

	bad := map[string]interface{}{"from": t0, "to": t0, "minPrice": 1.0, "maxPrice": 1.2, "width": 500, "height": 400}
	require.Equal(t, http.StatusBadRequest, a.do(t, "POST", "/api/v1/sessions/s1/render", map[string]interface{}{"viewport": bad}, nil))

	require.Equal(t, http.StatusNoContent, a.do(t, "DELETE", "/api/v1/sessions/s1/drawings/"+d.ID, nil, nil))
	require.Equal(t, http.StatusNotFound, a.do(t, "DELETE", "/api/v1/sessions/s1/drawings/"+d.ID, nil, nil))
}

func TestWebSocketStreamsSessionUpdates(t *testing.T) {
	a := newTestAPI(t, testCandles(10))
	require.Equal(t, http.StatusCreated, a.do(t, "POST", "/api/v1/sessions", CreateSessionRequest{ID: "s1", Symbol: "EURUSD"}, nil))

	wsURL := "ws" + strings.TrimPrefix(a.url, "http") + "/ws?session=s1"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return a.hub.Count() == 1 }, time.Second, 5*time.Millisecond)

	require.Equal(t, http.StatusOK, a.do(t, "POST", "/api/v1/sessions/s1/step", nil, nil))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var update SessionUpdate
	require.NoError(t, conn.ReadJSON(&update))
	require.Equal(t, "session", update.Type)
	require.Equal(t, "s1", update.SessionID)
	require.Equal(t, 1, update.Index)
}

func TestHealth(t *testing.T) {
	a := newTestAPI(t, nil)
	var body map[string]interface{}
	require.Equal(t, http.StatusOK, a.do(t, "GET", "/health", nil, &body))
	require.Equal(t, "ok", body["status"])
}
