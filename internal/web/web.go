package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"eventscope/internal/cache"
	"eventscope/internal/client"
	"eventscope/internal/config"
	"eventscope/internal/engine"
	appLog "eventscope/internal/log"
	"eventscope/internal/metrics"
	"eventscope/internal/model"
	"eventscope/internal/query"
)

const (
	maxBodyBytes          = 1 << 16
	defaultHighlightLimit = 6
	maxHighlightLimit     = 50
)

// Server exposes the engine over a small JSON API.
type Server struct {
	cfg     *config.Config
	engine  *engine.Engine
	metrics *metrics.Metrics
	mode    engine.Mode
	router  *mux.Router
}

// NewServer constructs a new Server. m may be nil.
func NewServer(cfg *config.Config, eng *engine.Engine, m *metrics.Metrics) *Server {
	mode, err := engine.ParseMode(cfg.Mode, engine.ModeRemote)
	if err != nil {
		mode = engine.ModeRemote
	}
	s := &Server{
		cfg:     cfg,
		engine:  eng,
		metrics: m,
		mode:    mode,
		router:  mux.NewRouter(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the router wrapped in the request-id, logging and auth
// middleware.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.router
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		h = s.basicAuthMiddleware(h)
	}
	return requestID(accessLog(h))
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen, "mode", s.mode)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	r := s.router
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(bodyLimit(maxBodyBytes))
	api.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)
	api.HandleFunc("/events/refetch", s.handleRefetch).Methods(http.MethodPost)
	api.HandleFunc("/events/{id:[0-9]+}", s.handleEvent).Methods(http.MethodGet)
	api.Handle("/events/{id:[0-9]+}/interact", requireJSON(http.HandlerFunc(s.handleInteract))).Methods(http.MethodPost)
	api.HandleFunc("/recommendations", s.handleRecommendations).Methods(http.MethodGet)
	api.HandleFunc("/highlights", s.handleHighlights).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeProblem(w, http.StatusNotFound, "not found", r.URL.Path)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeProblem(w, http.StatusMethodNotAllowed, "method not allowed", r.Method+" "+r.URL.Path)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// listResponse is the body of every list endpoint. Error is set when the
// last fetch failed; Events may still hold older data.
type listResponse struct {
	Events    []model.Event `json:"events"`
	Count     int           `json:"count"`
	Mode      engine.Mode   `json:"mode"`
	Key       string        `json:"key"`
	Status    cache.Status  `json:"status"`
	Stale     bool          `json:"stale"`
	FetchedAt *time.Time    `json:"fetched_at,omitempty"`
	Error     string        `json:"error,omitempty"`
	Retry     bool          `json:"retry,omitempty"`
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f, err := query.Parse(q)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "invalid filter", err.Error())
		return
	}
	mode, err := engine.ParseMode(q.Get("mode"), s.mode)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "invalid mode", err.Error())
		return
	}

	v, err := s.engine.Query(r.Context(), f, mode, !truthy(q.Get("nowait")))
	writeView(w, v, err)
}

func (s *Server) handleRefetch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f, err := query.Parse(q)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "invalid filter", err.Error())
		return
	}
	mode, err := engine.ParseMode(q.Get("mode"), s.mode)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "invalid mode", err.Error())
		return
	}
	v := s.engine.Refetch(f, mode)
	writeJSON(w, http.StatusAccepted, toListResponse(v))
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	ev, err := s.engine.Event(r.Context(), id)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, ev)
	case client.IsNotFound(err):
		writeProblem(w, http.StatusNotFound, "event not found", strconv.FormatInt(id, 10))
	default:
		writeUpstreamError(w, err)
	}
}

type interactRequest struct {
	Type model.InteractionType `json:"type"`
}

func (s *Server) handleInteract(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req interactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "invalid body", err.Error())
		return
	}
	req.Type = model.InteractionType(strings.ToLower(strings.TrimSpace(string(req.Type))))
	if !req.Type.Valid() {
		writeProblem(w, http.StatusBadRequest, "invalid interaction type", string(req.Type))
		return
	}
	if err := s.engine.Interact(r.Context(), id, req.Type); err != nil {
		writeUpstreamError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rq, err := client.ParseRecommendationQuery(q)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "invalid recommendation query", err.Error())
		return
	}
	v, err := s.engine.Recommendations(r.Context(), rq, !truthy(q.Get("nowait")))
	writeView(w, v, err)
}

func (s *Server) handleHighlights(w http.ResponseWriter, r *http.Request) {
	limit := parseIntDefault(r.URL.Query().Get("limit"), defaultHighlightLimit)
	if limit <= 0 || limit > maxHighlightLimit {
		limit = defaultHighlightLimit
	}
	h, err := s.engine.Highlights(r.Context(), limit)
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h)
}

// writeView maps a cache view onto a status code:
//   - data (fresh or stale): 200, with error set if the last fetch failed
//   - no data, fetch pending: 202
//   - no data, fetch failed: 502 with retry set
func writeView(w http.ResponseWriter, v engine.View, err error) {
	resp := toListResponse(v)
	switch {
	case v.HasData:
		writeJSON(w, http.StatusOK, resp)
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		resp.Status = cache.StatusPending
		writeJSON(w, http.StatusAccepted, resp)
	case v.Err != nil || (err != nil && !errors.Is(err, cache.ErrCacheMiss)):
		if resp.Error == "" {
			resp.Error = err.Error()
		}
		resp.Status = cache.StatusError
		resp.Retry = true
		writeJSON(w, http.StatusBadGateway, resp)
	default:
		writeJSON(w, http.StatusAccepted, resp)
	}
}

func toListResponse(v engine.View) listResponse {
	resp := listResponse{
		Events: v.Events,
		Count:  len(v.Events),
		Mode:   v.Mode,
		Key:    v.Key.String(),
		Status: v.Status,
		Stale:  v.Stale,
	}
	if resp.Events == nil {
		resp.Events = []model.Event{}
	}
	if !v.FetchedAt.IsZero() {
		t := v.FetchedAt.UTC()
		resp.FetchedAt = &t
	}
	if v.Err != nil {
		resp.Error = v.Err.Error()
	}
	return resp
}

func writeUpstreamError(w http.ResponseWriter, err error) {
	var qe *client.QueryError
	if errors.As(err, &qe) {
		writeProblem(w, http.StatusBadGateway, "upstream request failed", qe.Error())
		return
	}
	if errors.Is(err, context.DeadlineExceeded) {
		writeProblem(w, http.StatusGatewayTimeout, "upstream timeout", err.Error())
		return
	}
	writeProblem(w, http.StatusInternalServerError, "internal error", err.Error())
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeProblem(w, http.StatusBadRequest, "invalid event id", raw)
		return 0, false
	}
	return id, true
}

func truthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes":
		return true
	}
	return false
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		appLog.Error("failed to encode JSON response", err)
	}
}
