// Package server exposes the discovery pipeline over HTTP: start runs,
// inspect stored runs and their stage artifacts, and list pending updates.
// All payloads are JSON; routes live under /api/v1.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospector-cli/internal/model"
	"github.com/sells-group/prospector-cli/internal/store"
)

const shutdownGrace = 10 * time.Second

// Runner starts discovery runs. *pipeline.Pipeline satisfies it.
type Runner interface {
	Run(ctx context.Context, account model.AccountRef, opts model.RunOptions) (*model.PipelineRun, error)
}

// Server is the HTTP front end. A nil Runner leaves the API read-only:
// stored runs and pending updates stay inspectable, POST /runs returns 503.
type Server struct {
	st      store.Store
	runner  Runner
	origins []string

	// runCtx parents runs started over HTTP. Serve swaps in its own
	// context so shutdown cancels in-flight runs.
	runCtx context.Context
}

// Option adjusts Server construction.
type Option func(*Server)

// WithAllowedOrigins overrides the CORS allowlist. Empty input keeps the
// wildcard default.
func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) {
		if len(origins) > 0 {
			s.origins = origins
		}
	}
}

func New(st store.Store, runner Runner, opts ...Option) (*Server, error) {
	if st == nil {
		return nil, eris.New("server: store is required")
	}
	s := &Server{
		st:      st,
		runner:  runner,
		origins: []string{"*"},
		runCtx:  context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Serve listens on addr until ctx is cancelled, then drains connections.
func (s *Server) Serve(ctx context.Context, addr string) error {
	s.runCtx = ctx

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	zap.L().Info("server: listening", zap.String("addr", addr))

	select {
	case err := <-errCh:
		return eris.Wrap(err, "server: listen")
	case <-ctx.Done():
	}

	zap.L().Info("server: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return eris.Wrap(err, "server: shutdown")
	}
	return nil
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logRequests)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "Authorization"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/runs", s.handleStartRun)
		r.Get("/runs", s.handleListRuns)
		r.Get("/runs/{id}", s.handleGetRun)
		r.Get("/runs/{id}/artifacts/{stage}", s.handleGetArtifact)
		r.Get("/pending", s.handleListPending)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.st.Ping(r.Context()); err != nil {
		zap.L().Error("server: health check failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "store unreachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type startRunRequest struct {
	Account model.AccountRef `json:"account"`
	Options model.RunOptions `json:"options"`
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	if s.runner == nil {
		writeError(w, http.StatusServiceUnavailable, "run execution is not configured")
		return
	}

	var req startRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Account.ID == "" && req.Account.Name == "" {
		writeError(w, http.StatusBadRequest, "account id or name is required")
		return
	}

	// The run outlives the request; it is cancelled only by server
	// shutdown. Its record lands in the store either way.
	go func() {
		run, err := s.runner.Run(s.runCtx, req.Account, req.Options)
		if err != nil {
			zap.L().Error("server: run failed before a record was created",
				zap.String("account", req.Account.ID),
				zap.Error(err),
			)
			return
		}
		zap.L().Info("server: run finished",
			zap.String("run_id", run.ID),
			zap.String("account", run.Account.ID),
			zap.String("status", string(run.Status)),
			zap.Int("qualified", len(run.Qualified)),
		)
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":  "accepted",
		"account": req.Account.ID,
	})
}

// runSummary is the list-view projection of a run. Full documents, with
// candidates and profiles attached, come from the single-run route.
type runSummary struct {
	ID          string          `json:"id"`
	AccountID   string          `json:"account_id"`
	AccountName string          `json:"account_name"`
	Status      model.RunStatus `json:"status"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	TotalCost   float64         `json:"total_cost"`
	Qualified   int             `json:"qualified"`
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	filter := store.RunFilter{
		Status:    model.RunStatus(r.URL.Query().Get("status")),
		AccountID: r.URL.Query().Get("account_id"),
	}

	var ok bool
	if filter.Limit, ok = intParam(w, r, "limit"); !ok {
		return
	}
	if filter.Offset, ok = intParam(w, r, "offset"); !ok {
		return
	}
	if since := r.URL.Query().Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC 3339")
			return
		}
		filter.StartedAfter = t
	}

	runs, err := s.st.ListRuns(r.Context(), filter)
	if err != nil {
		zap.L().Error("server: list runs", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	summaries := make([]runSummary, 0, len(runs))
	for _, run := range runs {
		summaries = append(summaries, runSummary{
			ID:          run.ID,
			AccountID:   run.Account.ID,
			AccountName: run.Account.Name,
			Status:      run.Status,
			StartedAt:   run.StartedAt,
			CompletedAt: run.CompletedAt,
			TotalCost:   run.TotalCost,
			Qualified:   len(run.Qualified),
		})
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.st.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		zap.L().Error("server: get run", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleGetArtifact(w http.ResponseWriter, r *http.Request) {
	stage, ok := parseStage(chi.URLParam(r, "stage"))
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown stage")
		return
	}

	body, err := s.st.GetArtifact(r.Context(), chi.URLParam(r, "id"), stage)
	if err != nil {
		zap.L().Error("server: get artifact", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if body == nil {
		writeError(w, http.StatusNotFound, "artifact not found")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		zap.L().Warn("server: write artifact", zap.Error(err))
	}
}

func (s *Server) handleListPending(w http.ResponseWriter, r *http.Request) {
	filter := store.PendingFilter{
		Status:    model.PendingStatus(r.URL.Query().Get("status")),
		RunID:     r.URL.Query().Get("run_id"),
		AccountID: r.URL.Query().Get("account_id"),
	}

	var ok bool
	if filter.Limit, ok = intParam(w, r, "limit"); !ok {
		return
	}
	if filter.Offset, ok = intParam(w, r, "offset"); !ok {
		return
	}

	updates, err := s.st.ListPendingUpdates(r.Context(), filter)
	if err != nil {
		zap.L().Error("server: list pending updates", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if updates == nil {
		updates = []model.PendingUpdate{}
	}
	writeJSON(w, http.StatusOK, updates)
}

func parseStage(raw string) (model.Stage, bool) {
	switch stage := model.Stage(raw); stage {
	case model.StageResolve, model.StageAcquire, model.StageValidate, model.StageRank, model.StageEnqueue:
		return stage, true
	}
	return "", false
}

func intParam(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		writeError(w, http.StatusBadRequest, name+" must be a non-negative integer")
		return 0, false
	}
	return n, true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("server: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	})
}
