package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	"github.com/raysh454/scanflow/internal/history"
	"github.com/raysh454/scanflow/internal/logging"
	"github.com/raysh454/scanflow/internal/model"
	"github.com/raysh454/scanflow/internal/scan"
	"github.com/raysh454/scanflow/internal/session"
)

// FeatureChecker answers batch access checks.
type FeatureChecker interface {
	CheckMultipleFeatures(ctx context.Context, codes []model.Module) map[model.Module]model.FeatureAccessResult
}

// HistoryReader exposes previously recorded tasks.
type HistoryReader interface {
	Get(ctx context.Context, id model.TaskID) (*model.HistoryRecord, error)
	List(ctx context.Context, limit int) ([]*model.HistoryRecord, error)
}

// Server is the HTTP + WebSocket API surface for scanflow.
type Server struct {
	cfg      Config
	views    *scan.Views
	features FeatureChecker
	session  *session.Session
	history  HistoryReader
	router   chi.Router
	upgrader websocket.Upgrader
	logger   logging.Logger
}

// NewServer wires the handlers. history may be nil, in which case the history
// routes answer 404.
func NewServer(cfg Config, views *scan.Views, features FeatureChecker, sess *session.Session, hist HistoryReader) (*Server, error) {
	if views == nil || features == nil || sess == nil {
		return nil, errors.New("server requires views, a feature checker and a session")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewStdoutLogger("server")
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = history.DefaultListLimit
	}

	s := &Server{
		cfg:      cfg,
		views:    views,
		features: features,
		session:  sess,
		history:  hist,
		router:   chi.NewRouter(),
		logger:   logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// TODO: restrict to the configured front-end origin once it is known
				return true
			},
		},
	}
	s.routes()
	return s, nil
}

// Views returns the view registry for in-process callers.
func (s *Server) Views() *scan.Views {
	return s.views
}

func (s *Server) routes() {
	r := s.router

	r.Use(s.corsMiddleware)

	// CORS preflight
	r.Options("/views", s.optionsHandler("POST"))
	r.Options("/views/{viewID}", s.optionsHandler("GET, DELETE"))
	r.Options("/views/{viewID}/submit", s.optionsHandler("POST"))
	r.Options("/views/{viewID}/load", s.optionsHandler("POST"))
	r.Options("/features/access", s.optionsHandler("GET"))
	r.Options("/session/*", s.optionsHandler("POST"))
	r.Options("/history", s.optionsHandler("GET"))
	r.Options("/history/{taskID}", s.optionsHandler("GET"))

	// Views
	r.Post("/views", s.handleCreateView)
	r.Get("/views/{viewID}", s.handleGetView)
	r.Delete("/views/{viewID}", s.handleCloseView)
	r.Post("/views/{viewID}/submit", s.handleSubmit)
	r.Post("/views/{viewID}/load", s.handleLoad)

	// Access
	r.Get("/features/access", s.handleFeatureAccess)

	// Session
	r.Post("/session/login", s.handleLogin)
	r.Post("/session/logout", s.handleLogout)
	r.Post("/session/purchase", s.handlePurchase)

	// History
	r.Get("/history", s.handleListHistory)
	r.Get("/history/{taskID}", s.handleGetHistory)

	// WebSocket for view events
	r.Get("/ws/views/{viewID}", s.handleViewWS)

	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		next.ServeHTTP(w, r)
	})
}

func (s *Server) optionsHandler(methods string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Methods", methods)
		w.WriteHeader(http.StatusNoContent)
	}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	fields := []logging.Field{
		{Key: "method", Value: r.Method},
		{Key: "path", Value: r.URL.Path},
	}
	if q := r.URL.Query(); len(q) > 0 {
		fields = append(fields, logging.Field{Key: "query", Value: q})
	}
	s.logger.Info("http_request", fields...)

	s.router.ServeHTTP(w, r)
}

// Close tears down every open view.
func (s *Server) Close() {
	s.views.CloseAll()
}

// HTTPServer creates an *http.Server ready to ListenAndServe.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      s,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // allow streaming
	}
}

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

func (s *Server) view(w http.ResponseWriter, r *http.Request) *scan.Controller {
	id := chi.URLParam(r, "viewID")
	c := s.views.Get(id)
	if c == nil {
		s.logger.Warn("view not found", logging.Field{Key: "view", Value: id})
		writeError(w, http.StatusNotFound, "view not found")
	}
	return c
}

// --- HTTP handlers ---

// Views

// @Summary Open a scan view
// @Produce json
// @Success 201 {object} CreateViewResponse
// @Router /views [post]
func (s *Server) handleCreateView(w http.ResponseWriter, r *http.Request) {
	// The view outlives this request; DELETE or Close ends it.
	c := s.views.Create(context.Background())
	s.logger.Info("created view", logging.Field{Key: "view", Value: c.ID()})
	writeJSON(w, http.StatusCreated, CreateViewResponse{ID: c.ID()})
}

func (s *Server) handleGetView(w http.ResponseWriter, r *http.Request) {
	c := s.view(w, r)
	if c == nil {
		return
	}
	writeJSON(w, http.StatusOK, c.Snapshot())
}

func (s *Server) handleCloseView(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "viewID")
	if !s.views.Close(id) {
		writeError(w, http.StatusNotFound, "view not found")
		return
	}
	s.logger.Info("closed view", logging.Field{Key: "view", Value: id})
	writeJSON(w, http.StatusNoContent, nil)
}

// @Summary Submit a scan
// @Accept json
// @Produce json
// @Param viewID path string true "view id"
// @Param request body SubmitRequest true "scan request"
// @Success 202 {object} SubmitResponse
// @Failure 400 {object} ErrorResponse
// @Router /views/{viewID}/submit [post]
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	c := s.view(w, r)
	if c == nil {
		return
	}

	var body SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	opts, err := model.ParseOptions(strings.Join(body.Options, ","))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	outcome, err := c.Submit(scan.SubmitRequest{
		URL:     body.URL,
		Options: opts,
		Locale:  body.Locale,
		AIMode:  body.AIMode,
	})
	switch {
	case errors.Is(err, model.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, scan.ErrClosed):
		writeError(w, http.StatusGone, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.logger.Info("submitted scan", logging.Field{Key: "view", Value: c.ID()}, logging.Field{Key: "outcome", Value: string(outcome)})
	writeJSON(w, http.StatusAccepted, SubmitResponse{Outcome: outcome})
}

func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	c := s.view(w, r)
	if c == nil {
		return
	}

	var body LoadRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	err := c.Load(body.TaskID)
	switch {
	case errors.Is(err, model.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, scan.ErrClosed):
		writeError(w, http.StatusGone, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Info("loading task", logging.Field{Key: "view", Value: c.ID()}, logging.Field{Key: "task_id", Value: string(body.TaskID)})
	writeJSON(w, http.StatusAccepted, c.Snapshot())
}

// Access

func (s *Server) handleFeatureAccess(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("codes")
	if strings.TrimSpace(raw) == "" {
		writeError(w, http.StatusBadRequest, "missing codes query parameter")
		return
	}
	var codes []model.Module
	for _, part := range strings.Split(raw, ",") {
		code := model.Module(strings.ToLower(strings.TrimSpace(part)))
		if code == "" {
			continue
		}
		if !code.Known() {
			writeError(w, http.StatusBadRequest, "unknown feature "+string(code))
			return
		}
		codes = append(codes, code)
	}

	res := s.features.CheckMultipleFeatures(r.Context(), codes)
	writeJSON(w, http.StatusOK, res)
}

// Session

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if body.Token == "" {
		writeError(w, http.StatusBadRequest, "token is required")
		return
	}
	s.session.Login(body.Token)
	s.logger.Info("session login")
	writeJSON(w, http.StatusOK, SessionResponse{Authenticated: s.session.Authenticated()})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.session.Logout()
	s.logger.Info("session logout")
	writeJSON(w, http.StatusOK, SessionResponse{Authenticated: false})
}

func (s *Server) handlePurchase(w http.ResponseWriter, r *http.Request) {
	s.session.Purchased()
	s.logger.Info("session purchase")
	writeJSON(w, http.StatusOK, SessionResponse{Authenticated: s.session.Authenticated()})
}

// History

func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotFound, "history disabled")
		return
	}
	limit := s.cfg.HistoryLimit
	if ls := r.URL.Query().Get("limit"); ls != "" {
		if v, err := strconv.Atoi(ls); err == nil && v > 0 {
			limit = v
		}
	}

	recs, err := s.history.List(r.Context(), limit)
	if err != nil {
		s.logger.Warn("listing history", logging.Err(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotFound, "history disabled")
		return
	}
	id := model.TaskID(chi.URLParam(r, "taskID"))
	rec, err := s.history.Get(r.Context(), id)
	if errors.Is(err, history.ErrNotFound) {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		s.logger.Warn("getting history", logging.Err(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// WebSockets

// handleViewWS sends the current snapshot and then every event of the view
// until the view closes or the client goes away. Disconnecting does not close
// the view.
func (s *Server) handleViewWS(w http.ResponseWriter, r *http.Request) {
	c := s.view(w, r)
	if c == nil {
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrading to websocket", logging.Err(err))
		return
	}
	defer conn.Close()

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// Subscribe before the snapshot so nothing between the two is lost and
	// nothing older than the snapshot is replayed.
	events, unsubscribe := c.Subscribe()
	defer unsubscribe()

	if err := conn.WriteJSON(c.Snapshot()); err != nil {
		return
	}

	for {
		select {
		case <-gone:
			s.logger.Debug("websocket client left", logging.Field{Key: "view", Value: c.ID()})
			return
		case ev, ok := <-events:
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "view closed"))
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}
}
