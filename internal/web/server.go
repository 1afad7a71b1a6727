// Package web serves the dashboard over HTTP: a canvas page, JSON and CSV
// endpoints, and one websocket graph view per connected browser.
package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/latebit/torunveil/internal/assess"
	"github.com/latebit/torunveil/internal/ratelimit"
	"github.com/latebit/torunveil/internal/report"
	"github.com/latebit/torunveil/internal/source"
	"github.com/latebit/torunveil/internal/topology"
	"github.com/latebit/torunveil/internal/view"
)

//go:embed static/index.html
var static embed.FS

var errCrossOrigin = errors.New("cross-origin request refused")

// DefaultMaxCapture bounds the size of an uploaded capture.
const DefaultMaxCapture = 64 << 20

// Assessor produces a threat assessment for a node.
type Assessor interface {
	Assess(ctx context.Context, n topology.Node) (assess.Result, error)
}

// Options configures a Server.
type Options struct {
	View          view.Options
	FrameInterval time.Duration
	Analyzer      source.Analyzer
	Assessor      Assessor // nil reports the key as missing
	Limiter       *ratelimit.Limiter
	Logger        *slog.Logger
	Now           func() time.Time
	MaxCapture    int64
}

func (o *Options) applyDefaults() {
	if o.FrameInterval <= 0 {
		o.FrameInterval = 16 * time.Millisecond
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.MaxCapture <= 0 {
		o.MaxCapture = DefaultMaxCapture
	}
}

// Server holds the current topology shared by every connected view.
type Server struct {
	opts     Options
	log      *slog.Logger
	upgrader websocket.Upgrader
	hub      *hub

	mu   sync.RWMutex
	snap topology.Snapshot
}

// New creates a server showing snap.
func New(snap topology.Snapshot, opts Options) (*Server, error) {
	opts.applyDefaults()
	s := &Server{
		opts: opts,
		log:  opts.Logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: sameOrigin,
		},
		hub: newHub(),
	}
	if err := s.setSnapshot(snap); err != nil {
		return nil, err
	}
	return s, nil
}

// Snapshot returns a copy of the current topology.
func (s *Server) Snapshot() topology.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Clone()
}

func (s *Server) setSnapshot(snap topology.Snapshot) error {
	next := snap.Clone()
	if err := next.Validate(); err != nil {
		return err
	}
	next.Normalize()
	s.mu.Lock()
	s.snap = next
	s.mu.Unlock()
	return nil
}

// Replace swaps the topology and pushes it to every connected view. A
// malformed snapshot is rejected and nothing changes.
func (s *Server) Replace(snap topology.Snapshot) error {
	if err := s.setSnapshot(snap); err != nil {
		return err
	}
	s.hub.broadcast(s.Snapshot())
	return nil
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.Handle("GET /api/snapshot", s.limit(s.handleSnapshot))
	mux.Handle("GET /api/report.csv", s.limit(s.handleCSV))
	mux.Handle("GET /api/report", s.limit(s.handleReport))
	mux.Handle("GET /api/inspect", s.limit(localOnly(s.handleInspect)))
	mux.Handle("POST /api/analyze", s.limit(localOnly(s.handleAnalyze)))
	mux.Handle("GET /ws", s.limit(s.handleWS))
	return mux
}

// sameOrigin reports whether a browser request comes from a page served by
// this host. Requests without an Origin header are not from a browser page.
func sameOrigin(r *http.Request) bool {
	if r.Header.Get("Sec-Fetch-Site") == "cross-site" {
		return false
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

// localOnly refuses requests made by pages on other origins.
func localOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !sameOrigin(r) {
			writeError(w, http.StatusForbidden, errCrossOrigin)
			return
		}
		h(w, r)
	}
}

func (s *Server) limit(h http.HandlerFunc) http.Handler {
	if s.opts.Limiter == nil {
		return h
	}
	return s.opts.Limiter.Middleware(h)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully and closes every websocket view.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.log.Info("dashboard listening", "addr", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.hub.closeAll()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	data, err := static.ReadFile("static/index.html")
	if err != nil {
		http.Error(w, "index.html not embedded", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(data)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Snapshot())
}

func (s *Server) handleCSV(w http.ResponseWriter, r *http.Request) {
	snap := s.Snapshot()
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", report.DefaultFileName))
	if err := report.WriteCSV(w, snap.Candidates); err != nil {
		s.log.Warn("csv export failed", "error", err)
	}
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "html"
	}
	switch format {
	case "html":
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
	case "md", "markdown":
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	case "csv":
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	default:
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: %q", report.ErrUnknownFormat, format))
		return
	}
	if err := report.Write(w, s.Snapshot(), format, s.opts.Now()); err != nil {
		s.log.Warn("report export failed", "format", format, "error", err)
	}
}

type inspectResponse struct {
	Node      topology.Node `json:"node"`
	Text      string        `json:"text"`
	Headline  string        `json:"headline"`
	Model     string        `json:"model,omitempty"`
	FromCache bool          `json:"fromCache"`
}

func (s *Server) handleInspect(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	snap := s.Snapshot()
	n, ok := snap.Node(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown node %q", id))
		return
	}
	if s.opts.Assessor == nil {
		writeError(w, http.StatusServiceUnavailable, assess.ErrNoAPIKey)
		return
	}

	res, err := s.opts.Assessor.Assess(r.Context(), n)
	if err != nil {
		s.log.Warn("assessment failed", "node", n.ID, "error", err)
		writeError(w, assessStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, inspectResponse{
		Node:      n,
		Text:      res.Text,
		Headline:  assess.Headline(res.Text),
		Model:     res.Model,
		FromCache: res.FromCache,
	})
}

func assessStatus(err error) int {
	switch {
	case errors.Is(err, assess.ErrNoAPIKey):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusBadGateway
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, s.opts.MaxCapture)
	f, err := s.opts.Analyzer.Analyze(r.Context(), body)
	if err != nil {
		status := http.StatusInternalServerError
		var tooLarge *http.MaxBytesError
		switch {
		case errors.Is(err, source.ErrEmptyCapture):
			status = http.StatusBadRequest
		case errors.As(err, &tooLarge):
			status = http.StatusRequestEntityTooLarge
		}
		writeError(w, status, err)
		return
	}

	snap := s.Snapshot()
	if err := s.Replace(snap.Apply(f)); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.log.Info("analysis applied", "origin", f.Origin.ID, "confidence", f.Candidate.Confidence)
	writeJSON(w, http.StatusOK, f)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
