package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/chartreplay/pkg/candle"
	"github.com/uhyunpark/chartreplay/pkg/chart"
	"github.com/uhyunpark/chartreplay/pkg/drawing"
	"github.com/uhyunpark/chartreplay/pkg/engine"
	"github.com/uhyunpark/chartreplay/pkg/replay"
)

// Server handles REST API and WebSocket connections
type Server struct {
	manager *replay.Manager
	router  *mux.Router
	hub     *Hub
	origins []string
	log     *zap.SugaredLogger
}

// NewServer creates the API server and subscribes it to session updates
func NewServer(manager *replay.Manager, allowedOrigins []string, log *zap.SugaredLogger) *Server {
	s := &Server{
		manager: manager,
		router:  mux.NewRouter(),
		hub:     NewHub(log.Named("ws")),
		origins: allowedOrigins,
		log:     log,
	}
	manager.SetOnUpdate(s.BroadcastSession)

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Session lifecycle
	api.HandleFunc("/sessions", s.handleListSessions).Methods("GET")
	api.HandleFunc("/sessions", s.handleCreateSession).Methods("POST")
	api.HandleFunc("/sessions/{id}", s.handleGetSession).Methods("GET")
	api.HandleFunc("/sessions/{id}", s.handleCloseSession).Methods("DELETE")

	// Playback
	api.HandleFunc("/sessions/{id}/step", s.handleStep).Methods("POST")
	api.HandleFunc("/sessions/{id}/play", s.handlePlay).Methods("POST")
	api.HandleFunc("/sessions/{id}/pause", s.handlePause).Methods("POST")
	api.HandleFunc("/sessions/{id}/reset", s.handleReset).Methods("POST")
	api.HandleFunc("/sessions/{id}/speed", s.handleSpeed).Methods("POST")
	api.HandleFunc("/sessions/{id}/seek", s.handleSeek).Methods("POST")
	api.HandleFunc("/sessions/{id}/resolution", s.handleResolution).Methods("POST")
	api.HandleFunc("/sessions/{id}/candles", s.handleCandles).Methods("GET")
	api.HandleFunc("/sessions/{id}/stats", s.handleStats).Methods("GET")

	// Trading
	api.HandleFunc("/sessions/{id}/orders", s.handleGetOrders).Methods("GET")
	api.HandleFunc("/sessions/{id}/orders", s.handlePlaceOrder).Methods("POST")
	api.HandleFunc("/sessions/{id}/orders/{orderId}", s.handleCancelOrder).Methods("DELETE")
	api.HandleFunc("/sessions/{id}/trades", s.handleGetTrades).Methods("GET")
	api.HandleFunc("/sessions/{id}/trades/{tradeId}/close", s.handleCloseTrade).Methods("POST")
	api.HandleFunc("/sessions/{id}/trades/{tradeId}", s.handleUpdateTrade).Methods("PATCH")

	// Drawings
	api.HandleFunc("/sessions/{id}/drawings", s.handleListDrawings).Methods("GET")
	api.HandleFunc("/sessions/{id}/drawings", s.handleAddDrawing).Methods("POST")
	api.HandleFunc("/sessions/{id}/drawings", s.handleClearDrawings).Methods("DELETE")
	api.HandleFunc("/sessions/{id}/drawings/{drawingId}", s.handlePatchDrawing).Methods("PATCH")
	api.HandleFunc("/sessions/{id}/drawings/{drawingId}", s.handleDeleteDrawing).Methods("DELETE")
	api.HandleFunc("/sessions/{id}/pointer", s.handlePointer).Methods("POST")
	api.HandleFunc("/sessions/{id}/render", s.handleRender).Methods("POST")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler returns the router wrapped with CORS
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.origins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context, addr string) error {
	go s.hub.Run(ctx)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Infow("api_listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

// ==============================
// Session Handlers
// ==============================

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := s.manager.List()
	response := make([]replay.Snapshot, len(sessions))
	for i, sess := range sessions {
		response[i] = sess.Snapshot()
	}
	respondJSON(w, response)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if !decodeBody(w, r, &req) {
		return
	}

	create := replay.CreateRequest{
		ID:      req.ID,
		Symbol:  req.Symbol,
		From:    req.From,
		To:      req.To,
		Balance: req.Balance,
		Resume:  req.Resume,
	}
	if req.Resolution != "" {
		res, err := candle.ParseResolution(req.Resolution)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid resolution", err.Error())
			return
		}
		create.Resolution = res
	}

	sess, err := s.manager.Create(r.Context(), create)
	if err != nil {
		s.log.Warnw("session_create_failed", "symbol", req.Symbol, "err", err)
		respondErr(w, err)
		return
	}
	w.Header().Set("Location", "/api/v1/sessions/"+sess.ID())
	respondStatus(w, http.StatusCreated, sess.Snapshot())
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	respondJSON(w, sess.Snapshot())
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.Close(mux.Vars(r)["id"]); err != nil {
		respondErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ==============================
// Playback Handlers
// ==============================

func (s *Server) handleStep(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	snap, err := sess.StepForward()
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, snap)
}

func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if err := sess.Play(); err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, sess.Snapshot())
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	sess.Pause()
	respondJSON(w, sess.Snapshot())
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	snap, err := sess.Reset()
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, snap)
}

func (s *Server) handleSpeed(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req SpeedRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := sess.SetSpeed(req.Speed); err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, sess.Snapshot())
}

func (s *Server) handleSeek(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req SeekRequest
	if !decodeBody(w, r, &req) {
		return
	}
	snap, err := sess.SeekForward(req.Time)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, snap)
}

func (s *Server) handleResolution(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req ResolutionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := candle.ParseResolution(req.Resolution)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid resolution", err.Error())
		return
	}
	if err := sess.SetResolution(res); err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, sess.Snapshot())
}

// handleCandles returns the revealed candles; ?limit=N keeps the last N
func (s *Server) handleCandles(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	cs := sess.Candles()
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "invalid limit", v)
			return
		}
		if n < len(cs) {
			cs = cs[len(cs)-n:]
		}
	}
	respondJSON(w, cs)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	respondJSON(w, sess.Stats())
}

// ==============================
// Trading Handlers
// ==============================

func (s *Server) handleGetOrders(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	respondJSON(w, sess.Orders())
}

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req engine.OrderRequest
	if !decodeBody(w, r, &req) {
		return
	}
	order, err := sess.PlaceOrder(req)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondStatus(w, http.StatusCreated, order)
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	order, err := sess.CancelOrder(mux.Vars(r)["orderId"])
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, order)
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	respondJSON(w, sess.Trades())
}

func (s *Server) handleCloseTrade(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	trade, err := sess.CloseTrade(mux.Vars(r)["tradeId"])
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, trade)
}

func (s *Server) handleUpdateTrade(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req ProtectionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	trade, err := sess.UpdateProtection(mux.Vars(r)["tradeId"], req.StopLoss, req.TakeProfit)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, trade)
}

// ==============================
// Drawing Handlers
// ==============================

func (s *Server) handleListDrawings(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	respondJSON(w, sess.Overlay().Store().List())
}

func (s *Server) handleAddDrawing(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	d := drawing.Drawing{Visible: true, Color: "#2962ff"}
	if !decodeBody(w, r, &d) {
		return
	}
	added, err := sess.Overlay().Store().Add(d)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondStatus(w, http.StatusCreated, added)
}

func (s *Server) handleClearDrawings(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	sess.Overlay().Store().Clear()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePatchDrawing(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var patch DrawingPatch
	if !decodeBody(w, r, &patch) {
		return
	}

	id := mux.Vars(r)["drawingId"]
	store := sess.Overlay().Store()
	var err error
	if patch.Color != nil {
		err = store.SetColor(id, *patch.Color)
	}
	if err == nil && patch.Locked != nil {
		err = store.SetLocked(id, *patch.Locked)
	}
	if err == nil && patch.Visible != nil {
		err = store.SetVisible(id, *patch.Visible)
	}
	if err == nil && patch.Front {
		err = store.BringToFront(id)
	}
	if err != nil {
		respondErr(w, err)
		return
	}

	d, found := store.Get(id)
	if !found {
		respondErr(w, drawing.ErrDrawingNotFound)
		return
	}
	respondJSON(w, d)
}

func (s *Server) handleDeleteDrawing(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if err := sess.Overlay().Store().Delete(mux.Vars(r)["drawingId"]); err != nil {
		respondErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePointer(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req PointerRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := req.Viewport.Validate(); err != nil {
		respondErr(w, err)
		return
	}

	overlay := sess.Overlay()
	if req.Magnet != nil {
		overlay.SetMagnet(*req.Magnet)
	}
	if req.Tool != nil {
		if err := overlay.SetTool(drawing.Kind(*req.Tool), req.Color); err != nil {
			respondErr(w, err)
			return
		}
	}

	m := chart.NewMapper(&req.Viewport)
	px := chart.Pixel{X: req.X, Y: req.Y}
	var (
		ev  drawing.Event
		err error
	)
	switch req.Event {
	case "down":
		ev, err = overlay.PointerDown(px, m)
	case "move":
		ev = overlay.PointerMove(px, m)
	case "up":
		ev, err = overlay.PointerUp(px, m)
	default:
		respondError(w, http.StatusBadRequest, "invalid event", "expected down, move or up")
		return
	}
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, PointerResponse{Event: ev, Selected: overlay.Selected()})
}

func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req RenderRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := req.Viewport.Validate(); err != nil {
		respondErr(w, err)
		return
	}
	m := chart.NewMapper(&req.Viewport)
	prims := sess.Overlay().Store().Render(m, req.Viewport.Width, req.Viewport.Height)
	if prims == nil {
		prims = []drawing.Primitive{}
	}
	respondJSON(w, RenderResponse{Primitives: prims})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]interface{}{
		"status":   "ok",
		"sessions": s.manager.Count(),
		"clients":  s.hub.Count(),
	})
}

// ==============================
// Broadcast Methods (called from sessions)
// ==============================

// BroadcastSession pushes a snapshot to the clients subscribed to its session
func (s *Server) BroadcastSession(snap replay.Snapshot) {
	s.hub.BroadcastToChannel(sessionChannel(snap.SessionID), SessionUpdate{
		Type:     "session",
		Snapshot: snap,
	})
}

// ==============================
// Helper Functions
// ==============================

func (s *Server) session(w http.ResponseWriter, r *http.Request) (*replay.Session, bool) {
	sess, err := s.manager.Get(mux.Vars(r)["id"])
	if err != nil {
		respondErr(w, err)
		return nil, false
	}
	return sess, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return false
	}
	return true
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	respondStatus(w, http.StatusOK, data)
}

func respondStatus(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
	})
}

// respondErr maps domain errors onto HTTP statuses
func respondErr(w http.ResponseWriter, err error) {
	status, label := classify(err)
	respondError(w, status, label, err.Error())
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, engine.ErrValidation),
		errors.Is(err, drawing.ErrInvalidKind),
		errors.Is(err, chart.ErrEmptyViewport),
		errors.Is(err, replay.ErrInvalidSpeed),
		errors.Is(err, replay.ErrInvalidResolution),
		errors.Is(err, replay.ErrBackwardSeek):
		return http.StatusBadRequest, "invalid request"

	case errors.Is(err, replay.ErrSessionNotFound),
		errors.Is(err, engine.ErrOrderNotFound),
		errors.Is(err, engine.ErrTradeNotFound),
		errors.Is(err, drawing.ErrDrawingNotFound):
		return http.StatusNotFound, "not found"

	case errors.Is(err, replay.ErrDataUnavailable):
		return http.StatusServiceUnavailable, "data unavailable"

	case errors.Is(err, replay.ErrEndOfData),
		errors.Is(err, replay.ErrSessionClosed),
		errors.Is(err, replay.ErrNotLoaded),
		errors.Is(err, engine.ErrOrderNotActive),
		errors.Is(err, engine.ErrTradeClosed),
		errors.Is(err, engine.ErrNoPrice),
		errors.Is(err, drawing.ErrLocked):
		return http.StatusConflict, "conflict"
	}
	return http.StatusInternalServerError, "internal error"
}
