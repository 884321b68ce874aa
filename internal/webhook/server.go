// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package webhook is the authenticated HTTP surface for external triggers:
// running workflows, scheduling tasks and emitting events.
package webhook

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tombee/opencorp/internal/config"
	"github.com/tombee/opencorp/internal/events"
	"github.com/tombee/opencorp/internal/log"
	"github.com/tombee/opencorp/internal/metrics"
	"github.com/tombee/opencorp/internal/scheduler"
	"github.com/tombee/opencorp/internal/worker"
	corperrors "github.com/tombee/opencorp/pkg/errors"
	"github.com/tombee/opencorp/pkg/workflow"
)

// APIKeyEnv names the variable holding the bearer key.
const APIKeyEnv = "WEBHOOK_API_KEY"

// Defaults.
const (
	DefaultAddr         = "127.0.0.1:8080"
	DefaultRateLimit    = 10.0
	DefaultRateBurst    = 20
	DefaultMaxBodyBytes = 1 << 20
	shutdownTimeout     = 10 * time.Second
	limiterIdle         = 10 * time.Minute
)

// Config configures the server.
type Config struct {
	// APIKey is compared against the bearer token. An empty key rejects
	// every authenticated request.
	APIKey string

	// RateLimit is requests per second per client address.
	RateLimit float64
	RateBurst int

	MaxBodyBytes int64
}

// WorkflowRunner runs a workflow file to completion.
type WorkflowRunner interface {
	RunFile(ctx context.Context, path string) (*workflow.Run, error)
}

// TaskScheduler stores scheduled tasks.
type TaskScheduler interface {
	AddTask(ctx context.Context, t scheduler.Task) (scheduler.Task, error)
}

// Server routes webhook requests.
type Server struct {
	project   *config.Project
	cfg       Config
	workflows WorkflowRunner
	tasks     TaskScheduler
	emitter   events.Emitter
	limiter   *ipLimiter
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithScheduler enables /trigger/task.
func WithScheduler(ts TaskScheduler) Option {
	return func(s *Server) { s.tasks = ts }
}

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithClock overrides the time used for default run times.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// ConfigFromProject builds a Config from the charter and environment.
func ConfigFromProject(p *config.Project) Config {
	return Config{
		APIKey:       os.Getenv(APIKeyEnv),
		RateLimit:    p.Charter.Security.WebhookRateLimit,
		RateBurst:    p.Charter.Security.WebhookRateBurst,
		MaxBodyBytes: DefaultMaxBodyBytes,
	}
}

// New creates a server.
func New(p *config.Project, cfg Config, workflows WorkflowRunner, emitter events.Emitter, opts ...Option) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if emitter == nil {
		emitter = events.Discard{}
	}
	s := &Server{
		project:   p,
		cfg:       cfg,
		workflows: workflows,
		emitter:   emitter,
		limiter:   newIPLimiter(cfg.RateLimit, cfg.RateBurst),
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = log.WithComponent(s.logger, "webhook")
	return s
}

// Handler returns the routed handler with all middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.route(mux, "GET /health", "", http.HandlerFunc(s.handleHealth))
	s.route(mux, "GET /metrics", ScopeMetrics, metrics.Handler())
	s.route(mux, "POST /trigger/workflow", ScopeWorkflow, http.HandlerFunc(s.handleTriggerWorkflow))
	s.route(mux, "POST /trigger/task", ScopeTask, http.HandlerFunc(s.handleTriggerTask))
	s.route(mux, "POST /events", ScopeEvents, http.HandlerFunc(s.handleEvent))
	return log.HTTPMiddleware(s.logger, mux)
}

// route registers h behind rate limiting, the body cap and, unless scope
// is empty, bearer authentication.
func (s *Server) route(mux *http.ServeMux, pattern, scope string, h http.Handler) {
	if scope != "" {
		h = s.authenticate(scope, h)
	}
	mux.Handle(pattern, instrument(pattern, s.rateLimit(s.limitBody(h))))
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		t := time.NewTicker(limiterIdle)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.limiter.cleanup(limiterIdle)
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("webhook server listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down webhook server: %w", err)
	}
	s.logger.Info("webhook server stopped")
	return nil
}

// GenerateKey returns a random 32-byte key, hex encoded.
func GenerateKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating key: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decodeBody reads a JSON object. A malformed body decodes as empty; an
// oversized body is reported.
func decodeBody(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	var tooBig *http.MaxBytesError
	if errors.As(err, &tooBig) {
		return err
	}
	return nil
}

func (s *Server) handleTriggerWorkflow(w http.ResponseWriter, r *http.Request) {
	var body struct {
		WorkflowFile string `json:"workflow_file"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "payload too large")
		return
	}
	if body.WorkflowFile == "" {
		writeError(w, http.StatusBadRequest, "missing workflow_file")
		return
	}

	path, err := s.resolveInProject(body.WorkflowFile)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if info, err := os.Stat(path); err != nil || info.IsDir() {
		writeError(w, http.StatusBadRequest, "workflow file not found: "+body.WorkflowFile)
		return
	}

	run, err := s.workflows.RunFile(r.Context(), path)
	if err != nil {
		s.logger.Error("webhook workflow error", "workflow_file", body.WorkflowFile, log.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"run_id": run.ID, "status": run.Status})
}

// resolveInProject resolves p against the project directory and refuses
// anything that lands outside it, including through symlinks.
func (s *Server) resolveInProject(p string) (string, error) {
	outside := errors.New("workflow file must be within project directory")

	root, err := filepath.EvalSymlinks(s.project.Dir)
	if err != nil {
		root = filepath.Clean(s.project.Dir)
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(root, p)
	}
	p = filepath.Clean(p)
	if real, err := filepath.EvalSymlinks(p); err == nil {
		p = real
	} else if dir, err := filepath.EvalSymlinks(filepath.Dir(p)); err == nil {
		p = filepath.Join(dir, filepath.Base(p))
	}

	rel, err := filepath.Rel(root, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", outside
	}
	return p, nil
}

func (s *Server) handleTriggerTask(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Worker  string `json:"worker"`
		Message string `json:"message"`
		RunAt   string `json:"run_at"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "payload too large")
		return
	}
	if body.Worker == "" {
		writeError(w, http.StatusBadRequest, "missing worker field")
		return
	}
	if err := worker.ValidateName(body.Worker); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !worker.Exists(s.project, body.Worker) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("worker '%s' not found", body.Worker))
		return
	}
	if s.tasks == nil {
		writeError(w, http.StatusInternalServerError, "scheduler not available")
		return
	}

	runAt := body.RunAt
	if runAt == "" {
		runAt = s.now().UTC().Format(time.RFC3339Nano)
	}
	t := scheduler.NewTask(body.Worker, body.Message, scheduler.TypeOnce, runAt)
	t.Description = "Webhook trigger: " + truncateRunes(body.Message, 50)

	added, err := s.tasks.AddTask(r.Context(), t)
	if err != nil {
		status := http.StatusInternalServerError
		var se *corperrors.SchedulerError
		if errors.As(err, &se) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"task_id": added.ID, "status": "scheduled"})
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Type   string         `json:"type"`
		Source string         `json:"source"`
		Data   map[string]any `json:"data"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "payload too large")
		return
	}
	if body.Type == "" {
		writeError(w, http.StatusBadRequest, "missing type field")
		return
	}
	if body.Source == "" {
		body.Source = "webhook"
	}
	if body.Data == nil {
		body.Data = map[string]any{}
	}
	s.emitter.Emit(r.Context(), events.Event{Type: body.Type, Source: body.Source, Data: body.Data})
	writeJSON(w, http.StatusOK, map[string]string{"status": "emitted"})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
