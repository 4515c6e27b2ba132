package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/voxelcrew/voxelcrew/pkg/artifact"
	"github.com/voxelcrew/voxelcrew/pkg/observability"
	"github.com/voxelcrew/voxelcrew/pkg/role"
	"github.com/voxelcrew/voxelcrew/pkg/sessionctl"
)

// server implements the HTTP surface of spec.md §6 over a System.
type server struct {
	sys *System
}

// router builds the chi mux: stock RequestID/Recoverer middleware plus
// the observability package's route-pattern-aware metrics middleware
// (grounded on the teacher's pkg/transport/http_metrics_middleware.go).
func (s *server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(observability.HTTPMetrics)

	r.Post("/generate", s.handleGenerate)
	r.Get("/session/{id}", s.handleGetSession)
	r.Get("/sessions", s.handleListSessions)
	r.Get("/download/{id}/{kind}", s.handleDownload)
	r.Get(s.sys.Obs.MetricsEndpoint(), s.sys.Obs.MetricsHandler().ServeHTTP)

	return r
}

type generateRequest struct {
	Prompt string   `json:"prompt"`
	Roles  []string `json:"roles"`
}

type generateResponse struct {
	SessionID string `json:"session_id"`
}

func (s *server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Prompt == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("prompt is required"))
		return
	}

	roles := role.ParseSet(req.Roles)
	sess, err := s.sys.Controller.CreateSession(req.Prompt, roles)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.sys.Controller.StartSession(sess)

	writeJSON(w, http.StatusAccepted, generateResponse{SessionID: sess.ID})
}

type sessionView struct {
	ID                string                  `json:"id"`
	Prompt            string                  `json:"prompt"`
	Roles             []string                `json:"roles"`
	Status            string                  `json:"status"`
	CreatedAt         time.Time               `json:"created_at"`
	CompletedAt       *time.Time              `json:"completed_at,omitempty"`
	CurrentStage      string                  `json:"current_stage,omitempty"`
	Progress          []progressView          `json:"progress"`
	Result            *artifact.Result        `json:"result,omitempty"`
	RecoveredFromDisk bool                    `json:"recovered_from_disk,omitempty"`
	DownloadURLs      map[string]string       `json:"download_urls"`
	DownloadAvailable map[string]bool         `json:"download_available"`
}

type progressView struct {
	Stage   string    `json:"stage"`
	Agent   string    `json:"agent,omitempty"`
	Message string    `json:"message"`
	TS      time.Time `json:"ts"`
}

func (s *server) toView(sess *sessionctl.Session) sessionView {
	progress := make([]progressView, 0, len(sess.Progress))
	for _, p := range sess.Progress {
		progress = append(progress, progressView{Stage: p.Stage, Agent: p.Agent, Message: p.Message, TS: p.Timestamp})
	}

	available := map[string]bool{
		"blend":   hasGlob(filepath.Join(sess.OutputDir, "*.blend")),
		"scripts": hasGlob(filepath.Join(sess.OutputDir, "scripts", "*.py")),
		"render":  hasGlob(filepath.Join(sess.OutputDir, "renders", "*.png")),
	}
	urls := map[string]string{
		"blend":   fmt.Sprintf("/download/%s/blend", sess.ID),
		"scripts": fmt.Sprintf("/download/%s/scripts", sess.ID),
		"render":  fmt.Sprintf("/download/%s/render", sess.ID),
	}

	return sessionView{
		ID: sess.ID, Prompt: sess.Prompt, Roles: sess.Roles.Strings(),
		Status: string(sess.Status), CreatedAt: sess.CreatedAt, CompletedAt: sess.CompletedAt,
		CurrentStage: sess.CurrentStage, Progress: progress, Result: sess.Result,
		RecoveredFromDisk: sess.RecoveredFromDisk,
		DownloadURLs:      urls, DownloadAvailable: available,
	}
}

func hasGlob(pattern string) bool {
	matches, _ := filepath.Glob(pattern)
	return len(matches) > 0
}

func (s *server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess := s.sys.Controller.Status(id)
	if sess == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("session %q not found", id))
		return
	}
	writeJSON(w, http.StatusOK, s.toView(sess))
}

type sessionsResponse struct {
	Sessions []sessionView `json:"sessions"`
	Total    int           `json:"total"`
}

func (s *server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	filter := sessionctl.Filter{Status: sessionctl.Status(r.URL.Query().Get("status"))}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if n, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = n
		}
	}

	sessions := s.sys.Controller.List(filter)
	views := make([]sessionView, 0, len(sessions))
	for _, sess := range sessions {
		views = append(views, s.toView(sess))
	}
	writeJSON(w, http.StatusOK, sessionsResponse{Sessions: views, Total: len(views)})
}

func (s *server) handleDownload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	kind := chi.URLParam(r, "kind")

	sess := s.sys.Controller.Status(id)
	if sess == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("session %q not found", id))
		return
	}

	var pattern string
	switch kind {
	case "blend":
		pattern = filepath.Join(sess.OutputDir, "*.blend")
	case "scripts":
		pattern = filepath.Join(sess.OutputDir, "scripts", "combined_iter*.py")
	case "render":
		pattern = filepath.Join(sess.OutputDir, "renders", "render_iter*.png")
	default:
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown download kind %q", kind))
		return
	}

	matches, _ := filepath.Glob(pattern)
	if len(matches) == 0 {
		writeError(w, http.StatusNotFound, fmt.Errorf("no %s artifact available for session %q", kind, id))
		return
	}

	http.ServeFile(w, r, latestByIteration(matches))
}

// latestByIteration returns the lexicographically-last match, which for
// the "_iterK" suffix naming scheme of spec.md §4.1 is the highest
// iteration for single-digit iteration counts.
func latestByIteration(matches []string) string {
	latest := matches[0]
	for _, m := range matches[1:] {
		if m > latest {
			latest = m
		}
	}
	return latest
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

const shutdownGrace = 10 * time.Second

// runServe starts the HTTP server on addr and blocks until it exits on its
// own or ctx is cancelled, in which case it drains in-flight requests
// through a bounded graceful shutdown.
func runServe(ctx context.Context, sys *System, addr string) error {
	srv := &http.Server{Addr: addr, Handler: (&server{sys: sys}).router()}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	fmt.Fprintf(os.Stderr, "voxelcrew: listening on %s\n", addr)

	select {
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return ctx.Err()
	}
}
