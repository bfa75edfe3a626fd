package engine

import (
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/chartreplay/pkg/candle"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func dp(s string) *decimal.Decimal {
	v := d(s)
	return &v
}

// newTestEngine returns an initialized fee-free engine with sequential ids.
func newTestEngine(t *testing.T, balance string) *Engine {
	t.Helper()
	e := New(Config{QuantityPrecision: 4})
	n := 0
	e.newID = func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
	if err := e.Init(d(balance)); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	return e
}

func mustProcess(t *testing.T, e *Engine, c candle.Candle) {
	t.Helper()
	if err := e.ProcessCandle(c); err != nil {
		t.Fatalf("ProcessCandle(%+v) failed: %v", c, err)
	}
}

func TestMarketOrderFillsAtPlacementClose(t *testing.T) {
	e := newTestEngine(t, "100000")
	mustProcess(t, e, candle.Candle{Time: 60, Open: 1.0990, High: 1.1010, Low: 1.0980, Close: 1.1000})

	o, err := e.PlaceOrder(OrderRequest{Symbol: "EURUSD", Side: Long, Type: Market, Quantity: d("1")})
	if err != nil {
		t.Fatalf("place failed: %v", err)
	}
	if o.Status != OrderFilled {
		t.Errorf("status = %s, want FILLED", o.Status)
	}
	if o.FillPrice == nil || !o.FillPrice.Equal(d("1.1")) {
		t.Errorf("fill price = %v, want 1.1", o.FillPrice)
	}

	trades := e.Trades()
	if len(trades) != 1 {
		t.Fatalf("trades = %d, want 1", len(trades))
	}
	if trades[0].EntryTime != 60 || !trades[0].EntryPrice.Equal(d("1.1")) {
		t.Errorf("trade = %+v, want entry 1.1 at 60", trades[0])
	}
	if trades[0].OrderID != o.ID || o.TradeID != trades[0].ID {
		t.Errorf("order/trade not linked: order=%+v trade=%+v", o, trades[0])
	}
}

func TestMarketOrderWithoutCandleRejected(t *testing.T) {
	e := newTestEngine(t, "1000")
	_, err := e.PlaceOrder(OrderRequest{Side: Long, Type: Market, Quantity: d("1")})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
	if len(e.Orders()) != 0 {
		t.Errorf("orders = %d, want 0", len(e.Orders()))
	}
}

func TestLimitBuyFillsAtLimitPrice(t *testing.T) {
	e := newTestEngine(t, "100000")
	mustProcess(t, e, candle.Candle{Time: 60, Open: 105, High: 106, Low: 104, Close: 105})

	o, err := e.PlaceOrder(OrderRequest{Side: Long, Type: Limit, Quantity: d("2"), LimitPrice: dp("100")})
	if err != nil {
		t.Fatalf("place failed: %v", err)
	}
	if o.Status != OrderPending {
		t.Fatalf("status = %s, want PENDING", o.Status)
	}

	// Dips toward the limit without touching it.
	mustProcess(t, e, candle.Candle{Time: 120, Open: 105, High: 105, Low: 100.5, Close: 101})
	if got := e.Orders()[0].Status; got != OrderPending {
		t.Fatalf("filled early: status = %s", got)
	}

	mustProcess(t, e, candle.Candle{Time: 180, Open: 101, High: 102, Low: 99, Close: 99.5})
	orders := e.Orders()
	if orders[0].Status != OrderFilled {
		t.Fatalf("status = %s, want FILLED", orders[0].Status)
	}
	if !orders[0].FillPrice.Equal(d("100")) {
		t.Errorf("fill price = %s, want 100", orders[0].FillPrice)
	}
	if orders[0].FilledAt != 180 {
		t.Errorf("filledAt = %d, want 180", orders[0].FilledAt)
	}

	// Marked at 99.5: unrealized = (99.5 - 100) * 2 = -1
	if got := e.Stats().Equity; !got.Equal(d("99999")) {
		t.Errorf("equity = %s, want 99999", got)
	}
}

func TestTriggerDirections(t *testing.T) {
	tests := []struct {
		name      string
		side      Side
		typ       OrderType
		level     string
		bar       candle.Candle
		wantFill  bool
		wantPrice string
	}{
		{"limit sell on rally", Short, Limit, "110", candle.Candle{Time: 120, Open: 105, High: 111, Low: 104, Close: 108}, true, "110"},
		{"limit sell not reached", Short, Limit, "110", candle.Candle{Time: 120, Open: 105, High: 109, Low: 104, Close: 108}, false, ""},
		{"stop buy breakout", Long, Stop, "110", candle.Candle{Time: 120, Open: 105, High: 112, Low: 104, Close: 111}, true, "110"},
		{"stop buy below level", Long, Stop, "110", candle.Candle{Time: 120, Open: 105, High: 109, Low: 100, Close: 101}, false, ""},
		{"stop sell breakdown", Short, Stop, "100", candle.Candle{Time: 120, Open: 105, High: 106, Low: 99, Close: 99.5}, true, "100"},
		{"limit buy gap below fills at open", Long, Limit, "100", candle.Candle{Time: 120, Open: 97, High: 98, Low: 95, Close: 96}, true, "97"},
		{"stop buy gap above fills at open", Long, Stop, "110", candle.Candle{Time: 120, Open: 113, High: 115, Low: 112, Close: 114}, true, "113"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(t, "10000")
			mustProcess(t, e, candle.Candle{Time: 60, Open: 105, High: 106, Low: 104, Close: 105})

			req := OrderRequest{Side: tt.side, Type: tt.typ, Quantity: d("1")}
			if tt.typ == Limit {
				req.LimitPrice = dp(tt.level)
			} else {
				req.StopPrice = dp(tt.level)
			}
			if _, err := e.PlaceOrder(req); err != nil {
				t.Fatalf("place failed: %v", err)
			}
			mustProcess(t, e, tt.bar)

			o := e.Orders()[0]
			if (o.Status == OrderFilled) != tt.wantFill {
				t.Fatalf("status = %s, wantFill %v", o.Status, tt.wantFill)
			}
			if tt.wantFill && !o.FillPrice.Equal(d(tt.wantPrice)) {
				t.Errorf("fill price = %s, want %s", o.FillPrice, tt.wantPrice)
			}
		})
	}
}

func TestStopLossScenario(t *testing.T) {
	e := newTestEngine(t, "100000")
	var hooked []Trade
	e.OnTradeClosed = func(tr Trade) { hooked = append(hooked, tr) }

	mustProcess(t, e, candle.Candle{Time: 60, Open: 1.0995, High: 1.1005, Low: 1.0990, Close: 1.1000})
	qty := d("1")
	if _, err := e.PlaceOrder(OrderRequest{Side: Long, Type: Market, Quantity: qty, StopLoss: dp("1.0950")}); err != nil {
		t.Fatalf("place failed: %v", err)
	}

	mustProcess(t, e, candle.Candle{Time: 120, Open: 1.0990, High: 1.1000, Low: 1.0940, Close: 1.0960})

	trades := e.Trades()
	if trades[0].Status != TradeClosed {
		t.Fatalf("status = %s, want CLOSED", trades[0].Status)
	}
	if !trades[0].ExitPrice.Equal(d("1.095")) {
		t.Errorf("exit = %s, want 1.095", trades[0].ExitPrice)
	}
	wantPnL := d("-0.0050").Mul(qty)
	if !trades[0].PnL.Equal(wantPnL) {
		t.Errorf("pnl = %s, want %s", trades[0].PnL, wantPnL)
	}
	if trades[0].CloseReason != ReasonStopLoss {
		t.Errorf("reason = %s, want STOP_LOSS", trades[0].CloseReason)
	}

	wantBalance := d("100000").Add(wantPnL)
	if got := e.Stats().Balance; !got.Equal(wantBalance) {
		t.Errorf("balance = %s, want %s", got, wantBalance)
	}

	// A later candle crossing the stop again must not settle twice.
	mustProcess(t, e, candle.Candle{Time: 180, Open: 1.0960, High: 1.0970, Low: 1.0900, Close: 1.0910})
	if got := e.Stats().Balance; !got.Equal(wantBalance) {
		t.Errorf("balance after next candle = %s, want %s", got, wantBalance)
	}
	if len(hooked) != 1 {
		t.Errorf("OnTradeClosed calls = %d, want 1", len(hooked))
	}
}

func TestSameCandleTieBreak(t *testing.T) {
	tests := []struct {
		name       string
		side       Side
		bar        candle.Candle
		wantReason CloseReason
		wantExit   string
	}{
		{"long bullish takes profit", Long, candle.Candle{Time: 120, Open: 100, High: 111, Low: 89, Close: 105}, ReasonTakeProfit, "110"},
		{"long bearish stops out", Long, candle.Candle{Time: 120, Open: 100, High: 111, Low: 89, Close: 95}, ReasonStopLoss, "90"},
		{"long doji counts as bullish", Long, candle.Candle{Time: 120, Open: 100, High: 111, Low: 89, Close: 100}, ReasonTakeProfit, "110"},
		{"short bullish takes profit", Short, candle.Candle{Time: 120, Open: 100, High: 111, Low: 89, Close: 105}, ReasonTakeProfit, "90"},
		{"short bearish stops out", Short, candle.Candle{Time: 120, Open: 100, High: 111, Low: 89, Close: 95}, ReasonStopLoss, "110"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(t, "10000")
			mustProcess(t, e, candle.Candle{Time: 60, Open: 100, High: 101, Low: 99, Close: 100})

			req := OrderRequest{Side: tt.side, Type: Market, Quantity: d("1")}
			if tt.side == Long {
				req.StopLoss, req.TakeProfit = dp("90"), dp("110")
			} else {
				req.StopLoss, req.TakeProfit = dp("110"), dp("90")
			}
			if _, err := e.PlaceOrder(req); err != nil {
				t.Fatalf("place failed: %v", err)
			}
			mustProcess(t, e, tt.bar)

			tr := e.Trades()[0]
			if tr.CloseReason != tt.wantReason {
				t.Errorf("reason = %s, want %s", tr.CloseReason, tt.wantReason)
			}
			if !tr.ExitPrice.Equal(d(tt.wantExit)) {
				t.Errorf("exit = %s, want %s", tr.ExitPrice, tt.wantExit)
			}
		})
	}
}

func TestTradeFilledThisCandleNotExitChecked(t *testing.T) {
	e := newTestEngine(t, "10000")
	mustProcess(t, e, candle.Candle{Time: 60, Open: 105, High: 106, Low: 104, Close: 105})
	if _, err := e.PlaceOrder(OrderRequest{Side: Long, Type: Limit, Quantity: d("1"), LimitPrice: dp("100"), StopLoss: dp("98")}); err != nil {
		t.Fatal(err)
	}

	mustProcess(t, e, candle.Candle{Time: 120, Open: 104, High: 104, Low: 97, Close: 99})
	if tr := e.Trades()[0]; tr.Status != TradeOpen {
		t.Fatalf("trade closed in its entry candle: %+v", tr)
	}

	mustProcess(t, e, candle.Candle{Time: 180, Open: 99, High: 99, Low: 97.5, Close: 98})
	tr := e.Trades()[0]
	if tr.Status != TradeClosed || !tr.ExitPrice.Equal(d("98")) {
		t.Errorf("trade = %+v, want closed at 98", tr)
	}
}

func TestStopLossGapFillsAtOpen(t *testing.T) {
	e := newTestEngine(t, "10000")
	mustProcess(t, e, candle.Candle{Time: 60, Open: 100, High: 101, Low: 99, Close: 100})
	if _, err := e.PlaceOrder(OrderRequest{Side: Long, Type: Market, Quantity: d("1"), StopLoss: dp("95")}); err != nil {
		t.Fatal(err)
	}
	mustProcess(t, e, candle.Candle{Time: 120, Open: 90, High: 92, Low: 88, Close: 91})

	tr := e.Trades()[0]
	if !tr.ExitPrice.Equal(d("90")) {
		t.Errorf("exit = %s, want 90 (open)", tr.ExitPrice)
	}
	if !tr.PnL.Equal(d("-10")) {
		t.Errorf("pnl = %s, want -10", tr.PnL)
	}
}

func TestPlaceOrderValidation(t *testing.T) {
	tests := []struct {
		name  string
		req   OrderRequest
		field string
	}{
		{"zero quantity", OrderRequest{Side: Long, Type: Market}, "quantity"},
		{"negative quantity", OrderRequest{Side: Long, Type: Market, Quantity: d("-1")}, "quantity"},
		{"bad side", OrderRequest{Side: "UP", Type: Market, Quantity: d("1")}, "side"},
		{"bad type", OrderRequest{Side: Long, Type: "OCO", Quantity: d("1")}, "type"},
		{"limit without price", OrderRequest{Side: Long, Type: Limit, Quantity: d("1")}, "limitPrice"},
		{"limit with stop price only", OrderRequest{Side: Long, Type: Limit, Quantity: d("1"), StopPrice: dp("10")}, "limitPrice"},
		{"stop without price", OrderRequest{Side: Short, Type: Stop, Quantity: d("1")}, "stopPrice"},
		{"zero limit price", OrderRequest{Side: Long, Type: Limit, Quantity: d("1"), LimitPrice: dp("0")}, "limitPrice"},
		{"negative stop loss", OrderRequest{Side: Long, Type: Market, Quantity: d("1"), StopLoss: dp("-1")}, "stopLoss"},
		{"risk without stop", OrderRequest{Side: Long, Type: Market, RiskPercent: d("1")}, "stopLoss"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(t, "10000")
			mustProcess(t, e, candle.Candle{Time: 60, Open: 100, High: 101, Low: 99, Close: 100})

			_, err := e.PlaceOrder(tt.req)
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("err = %v, want ErrValidation", err)
			}
			var ve *ValidationError
			if !errors.As(err, &ve) || ve.Field != tt.field {
				t.Errorf("field = %v, want %s", ve, tt.field)
			}
			if n := len(e.Orders()); n != 0 {
				t.Errorf("orders = %d, want 0 after rejection", n)
			}
		})
	}
}

func TestProcessCandleBeforeInitIsNoop(t *testing.T) {
	e := New(Config{})
	if err := e.ProcessCandle(candle.Candle{Time: 60, Open: 1, High: 1, Low: 1, Close: 1}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.Stats().LastCandleTime != 0 {
		t.Error("uninitialized engine advanced")
	}
	if _, err := e.PlaceOrder(OrderRequest{Side: Long, Type: Market, Quantity: d("1")}); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("err = %v, want ErrNotInitialized", err)
	}
}

func TestProcessCandleRejectsStaleCandle(t *testing.T) {
	e := newTestEngine(t, "10000")
	mustProcess(t, e, candle.Candle{Time: 120, Open: 1, High: 1, Low: 1, Close: 1})

	for _, ts := range []int64{120, 60} {
		if err := e.ProcessCandle(candle.Candle{Time: ts, Open: 1, High: 1, Low: 1, Close: 1}); !errors.Is(err, ErrStaleCandle) {
			t.Errorf("time %d: err = %v, want ErrStaleCandle", ts, err)
		}
	}
}

func TestCommissionAndSwap(t *testing.T) {
	e := New(Config{
		CommissionBps:     d("10"), // 0.1% per side
		SwapLongBpsPerDay: d("5"),
	})
	if err := e.Init(d("10000")); err != nil {
		t.Fatal(err)
	}

	day := int64(86400)
	mustProcess(t, e, candle.Candle{Time: day - 60, Open: 100, High: 100, Low: 100, Close: 100})
	if _, err := e.PlaceOrder(OrderRequest{Side: Long, Type: Market, Quantity: d("10")}); err != nil {
		t.Fatal(err)
	}

	tr := e.Trades()[0]
	// notional 1000 * 0.001 * 2
	if !tr.Commission.Equal(d("2")) {
		t.Errorf("commission = %s, want 2", tr.Commission)
	}
	if got := e.Stats().Equity; !got.Equal(d("9998")) {
		t.Errorf("equity after entry = %s, want 9998", got)
	}

	// Two midnights later: swap = 1000 * 0.0005 * 2 = 1
	mustProcess(t, e, candle.Candle{Time: 2*day + 60, Open: 101, High: 101, Low: 101, Close: 101})
	if got := e.Stats().Equity; !got.Equal(d("10007")) {
		t.Errorf("equity = %s, want 10007", got)
	}

	closed, err := e.CloseTrade(tr.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !closed.Swap.Equal(d("1")) {
		t.Errorf("swap = %s, want 1", closed.Swap)
	}
	if !closed.PnL.Equal(d("7")) {
		t.Errorf("pnl = %s, want 7", closed.PnL)
	}
	if got := e.Stats(); !got.Balance.Equal(d("10007")) || !got.Equity.Equal(got.Balance) {
		t.Errorf("stats = %+v, want balance == equity == 10007", got)
	}
}

func TestRiskBasedSizing(t *testing.T) {
	e := newTestEngine(t, "10000")
	mustProcess(t, e, candle.Candle{Time: 60, Open: 100, High: 100, Low: 100, Close: 100})

	o, err := e.PlaceOrder(OrderRequest{Side: Long, Type: Market, RiskPercent: d("1"), StopLoss: dp("97")})
	if err != nil {
		t.Fatal(err)
	}
	// 10000 * 1% / 3 = 33.3333
	if !o.Quantity.Equal(d("33.3333")) {
		t.Errorf("quantity = %s, want 33.3333", o.Quantity)
	}
}

func TestCancelCloseAndProtection(t *testing.T) {
	e := newTestEngine(t, "10000")
	var hooked int
	e.OnTradeClosed = func(Trade) { hooked++ }
	mustProcess(t, e, candle.Candle{Time: 60, Open: 100, High: 100, Low: 100, Close: 100})

	pending, _ := e.PlaceOrder(OrderRequest{Side: Long, Type: Limit, Quantity: d("1"), LimitPrice: dp("90")})
	if _, err := e.CancelOrder(pending.ID); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if _, err := e.CancelOrder(pending.ID); !errors.Is(err, ErrOrderNotActive) {
		t.Errorf("second cancel err = %v, want ErrOrderNotActive", err)
	}
	if _, err := e.CancelOrder("nope"); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("err = %v, want ErrOrderNotFound", err)
	}

	m, _ := e.PlaceOrder(OrderRequest{Side: Short, Type: Market, Quantity: d("2")})
	tr, err := e.UpdateProtection(m.TradeID, dp("105"), dp("95"))
	if err != nil {
		t.Fatal(err)
	}
	if !tr.StopLoss.Equal(d("105")) || !tr.TakeProfit.Equal(d("95")) {
		t.Errorf("protection = %v/%v", tr.StopLoss, tr.TakeProfit)
	}

	mustProcess(t, e, candle.Candle{Time: 120, Open: 100, High: 101, Low: 98, Close: 98})
	closed, err := e.CloseTrade(m.TradeID)
	if err != nil {
		t.Fatal(err)
	}
	// short from 100 to 98, qty 2
	if !closed.PnL.Equal(d("4")) || closed.CloseReason != ReasonManual {
		t.Errorf("closed = %+v, want pnl 4 MANUAL", closed)
	}
	if _, err := e.CloseTrade(m.TradeID); !errors.Is(err, ErrTradeClosed) {
		t.Errorf("err = %v, want ErrTradeClosed", err)
	}
	if _, err := e.UpdateProtection(m.TradeID, nil, nil); !errors.Is(err, ErrTradeClosed) {
		t.Errorf("err = %v, want ErrTradeClosed", err)
	}
	if hooked != 1 {
		t.Errorf("hook calls = %d, want 1", hooked)
	}
}

func TestCloseAllAtSessionEnd(t *testing.T) {
	e := newTestEngine(t, "10000")
	mustProcess(t, e, candle.Candle{Time: 60, Open: 100, High: 100, Low: 100, Close: 100})
	e.PlaceOrder(OrderRequest{Side: Long, Type: Market, Quantity: d("1")})
	e.PlaceOrder(OrderRequest{Side: Short, Type: Market, Quantity: d("1")})
	e.PlaceOrder(OrderRequest{Side: Long, Type: Limit, Quantity: d("1"), LimitPrice: dp("50")})
	mustProcess(t, e, candle.Candle{Time: 120, Open: 100, High: 104, Low: 100, Close: 103})

	closed := e.CloseAll(ReasonSessionEnd)
	if len(closed) != 2 {
		t.Fatalf("closed = %d, want 2", len(closed))
	}
	for _, tr := range closed {
		if tr.CloseReason != ReasonSessionEnd || tr.ExitTime != 120 {
			t.Errorf("trade = %+v", tr)
		}
	}
	if got := e.Orders()[2].Status; got != OrderCancelled {
		t.Errorf("pending order status = %s, want CANCELLED", got)
	}
	if got := e.Stats(); !got.Balance.Equal(d("10000")) || got.OpenTrades != 0 {
		t.Errorf("stats = %+v", got)
	}
}

func TestSnapshotsAreDefensive(t *testing.T) {
	e := newTestEngine(t, "10000")
	mustProcess(t, e, candle.Candle{Time: 60, Open: 100, High: 100, Low: 100, Close: 100})
	e.PlaceOrder(OrderRequest{Side: Long, Type: Market, Quantity: d("1"), StopLoss: dp("90")})

	trades := e.Trades()
	*trades[0].StopLoss = d("99.9")
	trades[0].Status = TradeClosed

	again := e.Trades()
	if !again[0].StopLoss.Equal(d("90")) || again[0].Status != TradeOpen {
		t.Errorf("snapshot mutation leaked: %+v", again[0])
	}
}

func TestMarkProcessedDoesNotFill(t *testing.T) {
	e := newTestEngine(t, "10000")
	mustProcess(t, e, candle.Candle{Time: 60, Open: 100, High: 100, Low: 100, Close: 100})
	e.PlaceOrder(OrderRequest{Side: Long, Type: Limit, Quantity: d("1"), LimitPrice: dp("95")})

	e.MarkProcessed(candle.Candle{Time: 300, Open: 94, High: 96, Low: 90, Close: 94})
	if got := e.Orders()[0].Status; got != OrderPending {
		t.Errorf("status = %s, want PENDING", got)
	}
	if err := e.ProcessCandle(candle.Candle{Time: 240, Open: 1, High: 1, Low: 1, Close: 1}); !errors.Is(err, ErrStaleCandle) {
		t.Errorf("err = %v, want ErrStaleCandle", err)
	}
}
