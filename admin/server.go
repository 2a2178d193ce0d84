// Package admin exposes the administrative HTTP surface: monitor run
// state, filter rule management, subscriptions, watch and metrics.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/patchlore/patchlore/consts"
	"github.com/patchlore/patchlore/db"
	"github.com/patchlore/patchlore/filter"
	"github.com/patchlore/patchlore/logger"
	"github.com/patchlore/patchlore/monitor"
)

// Runner is the scheduler control surface.
type Runner interface {
	Start(ctx context.Context) error
	Stop() error
	Pause() error
	Resume() error
	State() monitor.State
	RunNow(ctx context.Context) (*monitor.CycleStats, error)
}

// Store is the persistence surface the handlers need. *db.Database
// implements it.
type Store interface {
	UpsertFilter(ctx context.Context, name string, conditions []filter.Condition, description string) (*db.FilterRecord, error)
	RemoveFilter(ctx context.Context, name string) error
	SetFilterEnabled(ctx context.Context, name string, enabled bool) error
	GetFilter(ctx context.Context, name string) (*db.FilterRecord, error)
	ListFilters(ctx context.Context, enabledOnly bool) ([]*db.FilterRecord, error)
	GetExclusiveMode(ctx context.Context) (bool, error)
	SetExclusiveMode(ctx context.Context, exclusive bool) error
	SubscribeSubsystem(ctx context.Context, name string) error
	UnsubscribeSubsystem(ctx context.Context, name string) error
	ListSubscribedSubsystems(ctx context.Context) ([]string, error)
	ListPatchCards(ctx context.Context, subsystem string, limit int) ([]*db.PatchCard, error)
	ListSeriesThreads(ctx context.Context, limit int) ([]*db.SeriesThread, error)
}

// Names validates subsystem names against the merged known set.
type Names interface {
	IsSupported(ctx context.Context, name string) (bool, error)
	Supported(ctx context.Context) ([]string, error)
}

// Watcher attaches thread handles to series.
type Watcher interface {
	Watch(ctx context.Context, coverHeader string) (string, error)
}

// Policy authorizes administrative actions. The default allows all.
type Policy interface {
	Allow(r *http.Request, action string) error
}

// AllowAllPolicy is the default Policy.
type AllowAllPolicy struct{}

func (AllowAllPolicy) Allow(*http.Request, string) error { return nil }

// Server is the administrative HTTP server.
type Server struct {
	addr    string
	store   Store
	runner  Runner
	names   Names
	watcher Watcher
	policy  Policy
	server  *http.Server
}

// New creates the admin server. A nil policy means allow-all.
func New(addr string, store Store, runner Runner, names Names, watcher Watcher, policy Policy) *Server {
	if policy == nil {
		policy = AllowAllPolicy{}
	}
	return &Server{
		addr:    addr,
		store:   store,
		runner:  runner,
		names:   names,
		watcher: watcher,
		policy:  policy,
	}
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:    s.addr,
		Handler: s.Router(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			logger.Errorf("[ADMIN] shutdown error: %v", err)
		}
	}()

	logger.Infof("[ADMIN] listening on %s", s.addr)
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Router builds the route table; exported for handler tests.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.Use(s.loggingMiddleware)

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	router.HandleFunc("/health", s.handleHealth).Methods("GET")

	v1 := router.PathPrefix("/api/v1").Subrouter()

	v1.HandleFunc("/monitor", s.handleMonitorStatus).Methods("GET")
	v1.HandleFunc("/monitor/start", s.guarded("monitor.start", s.handleMonitorStart)).Methods("POST")
	v1.HandleFunc("/monitor/stop", s.guarded("monitor.stop", s.handleMonitorStop)).Methods("POST")
	v1.HandleFunc("/monitor/pause", s.guarded("monitor.pause", s.handleMonitorPause)).Methods("POST")
	v1.HandleFunc("/monitor/resume", s.guarded("monitor.resume", s.handleMonitorResume)).Methods("POST")
	v1.HandleFunc("/monitor/run", s.guarded("monitor.run", s.handleMonitorRun)).Methods("POST")

	v1.HandleFunc("/filters", s.handleListFilters).Methods("GET")
	v1.HandleFunc("/filters", s.guarded("filters.add", s.handleAddFilter)).Methods("POST")
	v1.HandleFunc("/filters/mode", s.handleGetMode).Methods("GET")
	v1.HandleFunc("/filters/mode", s.guarded("filters.mode", s.handleSetMode)).Methods("PUT")
	v1.HandleFunc("/filters/{name}", s.handleShowFilter).Methods("GET")
	v1.HandleFunc("/filters/{name}", s.guarded("filters.remove", s.handleRemoveFilter)).Methods("DELETE")
	v1.HandleFunc("/filters/{name}/enable", s.guarded("filters.enable", s.handleEnableFilter)).Methods("POST")
	v1.HandleFunc("/filters/{name}/disable", s.guarded("filters.disable", s.handleDisableFilter)).Methods("POST")

	v1.HandleFunc("/subsystems", s.handleListSubsystems).Methods("GET")
	v1.HandleFunc("/subsystems/supported", s.handleSupportedSubsystems).Methods("GET")
	v1.HandleFunc("/subsystems/{name}/subscribe", s.guarded("subsystems.subscribe", s.handleSubscribe)).Methods("POST")
	v1.HandleFunc("/subsystems/{name}/unsubscribe", s.guarded("subsystems.unsubscribe", s.handleUnsubscribe)).Methods("POST")

	v1.HandleFunc("/cards", s.handleListCards).Methods("GET")
	v1.HandleFunc("/threads", s.handleListThreads).Methods("GET")
	v1.HandleFunc("/threads/watch", s.guarded("threads.watch", s.handleWatch)).Methods("POST")

	return router
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Debugf("[ADMIN] %s %s completed in %v", r.Method, r.URL.Path, time.Since(start))
	})
}

// guarded wraps a handler with the policy check for an action.
func (s *Server) guarded(action string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.policy.Allow(r, action); err != nil {
			s.writeError(w, http.StatusForbidden, fmt.Sprintf("not permitted: %v", err))
			return
		}
		h(w, r)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Errorf("[ADMIN] error encoding JSON response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Monitor handlers

func (s *Server) handleMonitorStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"state": string(s.runner.State())})
}

func (s *Server) handleMonitorStart(w http.ResponseWriter, r *http.Request) {
	if err := s.runner.Start(context.WithoutCancel(r.Context())); err != nil {
		if errors.Is(err, consts.ErrMonitorAlreadyRunning) {
			s.writeError(w, http.StatusConflict, "monitor is already running")
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.handleMonitorStatus(w, r)
}

func (s *Server) handleMonitorStop(w http.ResponseWriter, r *http.Request) {
	if err := s.runner.Stop(); err != nil {
		if errors.Is(err, consts.ErrMonitorNotRunning) {
			s.writeError(w, http.StatusConflict, "monitor is not running")
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.handleMonitorStatus(w, r)
}

func (s *Server) handleMonitorPause(w http.ResponseWriter, r *http.Request) {
	if err := s.runner.Pause(); err != nil {
		s.writeError(w, http.StatusConflict, "monitor is not running")
		return
	}
	s.handleMonitorStatus(w, r)
}

func (s *Server) handleMonitorResume(w http.ResponseWriter, r *http.Request) {
	if err := s.runner.Resume(); err != nil {
		s.writeError(w, http.StatusConflict, "monitor is not paused")
		return
	}
	s.handleMonitorStatus(w, r)
}

func (s *Server) handleMonitorRun(w http.ResponseWriter, r *http.Request) {
	stats, err := s.runner.RunNow(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"run_id":         stats.RunID,
		"subsystems":     stats.Subsystems,
		"entries":        stats.Entries,
		"new_messages":   stats.NewMessages,
		"duplicates":     stats.Duplicates,
		"replies":        stats.Replies,
		"cards_created":  stats.CardsCreated,
		"thread_updates": stats.ThreadUpdates,
		"fetch_errors":   stats.FetchErrors,
		"duration_ms":    stats.Duration.Milliseconds(),
	})
}

// Filter handlers

// AddFilterRequest creates or overwrites a named rule.
type AddFilterRequest struct {
	Name        string            `json:"name"`
	Conditions  map[string]string `json:"conditions"`
	Description string            `json:"description"`
}

type filterResponse struct {
	Name        string            `json:"name"`
	Enabled     bool              `json:"enabled"`
	Conditions  map[string]string `json:"conditions"`
	Description string            `json:"description,omitempty"`
}

func toFilterResponse(f *db.FilterRecord) filterResponse {
	conds := make(map[string]string, len(f.Conditions))
	for _, c := range f.Conditions {
		parts := make([]string, 0, len(c.Patterns))
		for _, p := range c.Patterns {
			parts = append(parts, p.String())
		}
		conds[c.Key] = joinPatterns(parts)
	}
	return filterResponse{
		Name:        f.Name,
		Enabled:     f.Enabled,
		Conditions:  conds,
		Description: f.Description,
	}
}

func joinPatterns(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ", "
		}
		out += p
	}
	return out
}

func (s *Server) handleAddFilter(w http.ResponseWriter, r *http.Request) {
	var req AddFilterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Name == "" {
		s.writeError(w, http.StatusBadRequest, "filter name is required")
		return
	}

	conditions, err := filter.ParseConditions(req.Conditions)
	if err != nil {
		// Malformed rules are rejected synchronously with the reason.
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	stored, err := s.store.UpsertFilter(r.Context(), req.Name, conditions, req.Description)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, toFilterResponse(stored))
}

func (s *Server) handleListFilters(w http.ResponseWriter, r *http.Request) {
	// The default listing shows enabled rules only; ?all=true shows all.
	enabledOnly := r.URL.Query().Get("all") != "true"
	records, err := s.store.ListFilters(r.Context(), enabledOnly)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]filterResponse, 0, len(records))
	for _, f := range records {
		out = append(out, toFilterResponse(f))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleShowFilter(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	f, err := s.store.GetFilter(r.Context(), name)
	if err != nil {
		if errors.Is(err, db.ErrFilterNotFound) {
			s.writeError(w, http.StatusNotFound, fmt.Sprintf("filter %q not found", name))
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, toFilterResponse(f))
}

func (s *Server) handleRemoveFilter(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := s.store.RemoveFilter(r.Context(), name); err != nil {
		if errors.Is(err, db.ErrFilterNotFound) {
			s.writeError(w, http.StatusNotFound, fmt.Sprintf("filter %q not found", name))
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"removed": name})
}

func (s *Server) handleEnableFilter(w http.ResponseWriter, r *http.Request) {
	s.setFilterEnabled(w, r, true)
}

func (s *Server) handleDisableFilter(w http.ResponseWriter, r *http.Request) {
	s.setFilterEnabled(w, r, false)
}

func (s *Server) setFilterEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	name := mux.Vars(r)["name"]
	if err := s.store.SetFilterEnabled(r.Context(), name, enabled); err != nil {
		if errors.Is(err, db.ErrFilterNotFound) {
			s.writeError(w, http.StatusNotFound, fmt.Sprintf("filter %q not found", name))
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"name": name, "enabled": enabled})
}

func (s *Server) handleGetMode(w http.ResponseWriter, r *http.Request) {
	exclusive, err := s.store.GetExclusiveMode(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"exclusive": exclusive})
}

func (s *Server) handleSetMode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Exclusive bool `json:"exclusive"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.store.SetExclusiveMode(r.Context(), req.Exclusive); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"exclusive": req.Exclusive})
}

// Subsystem handlers

func (s *Server) handleListSubsystems(w http.ResponseWriter, r *http.Request) {
	names, err := s.store.ListSubscribedSubsystems(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if names == nil {
		names = []string{}
	}
	s.writeJSON(w, http.StatusOK, names)
}

func (s *Server) handleSupportedSubsystems(w http.ResponseWriter, r *http.Request) {
	names, err := s.names.Supported(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, names)
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	ok, err := s.names.IsSupported(r.Context(), name)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		s.writeError(w, http.StatusBadRequest,
			fmt.Sprintf("unknown subsystem %q; see /api/v1/subsystems/supported", name))
		return
	}

	if err := s.store.SubscribeSubsystem(r.Context(), name); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"subscribed": name})
}

func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := s.store.UnsubscribeSubsystem(r.Context(), name); err != nil {
		if errors.Is(err, db.ErrSubsystemNotFound) {
			s.writeError(w, http.StatusNotFound, fmt.Sprintf("not subscribed to %q", name))
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"unsubscribed": name})
}

// Card and thread handlers

func (s *Server) handleListCards(w http.ResponseWriter, r *http.Request) {
	cards, err := s.store.ListPatchCards(r.Context(), r.URL.Query().Get("subsystem"), 100)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, cards)
}

func (s *Server) handleListThreads(w http.ResponseWriter, r *http.Request) {
	threads, err := s.store.ListSeriesThreads(r.Context(), 100)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, threads)
}

func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CoverMessageID string `json:"cover_message_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.CoverMessageID == "" {
		s.writeError(w, http.StatusBadRequest, "cover_message_id is required")
		return
	}

	handle, err := s.watcher.Watch(r.Context(), req.CoverMessageID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"thread_handle": handle})
}
