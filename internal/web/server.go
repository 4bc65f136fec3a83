package web

import (
	"context"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vbonduro/nutrilog/internal/domain"
	"github.com/vbonduro/nutrilog/internal/logging"
	"github.com/vbonduro/nutrilog/internal/metrics"
	"github.com/vbonduro/nutrilog/internal/nutrition"
)

const sessionCookie = "nutrilog_session"

// Journal is the read side of the day archive.
type Journal interface {
	ListRecent(ctx context.Context, limit int) ([]*domain.DayRecord, error)
}

type Server struct {
	pipeline  *nutrition.Pipeline
	sessions  *nutrition.SessionStore
	journal   Journal
	templates fs.FS
	mux       *http.ServeMux
	tmplFuncs template.FuncMap
	logger    *slog.Logger
}

// NewServer wires the HTML shell, the MCP endpoint and /metrics. journal may
// be nil when archiving is disabled.
func NewServer(pipeline *nutrition.Pipeline, sessions *nutrition.SessionStore, journal Journal, tmpl fs.FS, logger *slog.Logger) *Server {
	s := &Server{
		pipeline:  pipeline,
		sessions:  sessions,
		journal:   journal,
		templates: tmpl,
		mux:       http.NewServeMux(),
		logger:    logger,
		tmplFuncs: template.FuncMap{
			"inc":       func(i int) int { return i + 1 },
			"stateText": stateText,
			"dayTime":   func(t time.Time) string { return t.Local().Format("Mon 2 Jan 2006, 15:04") },
		},
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /{$}", s.handleIndex)
	s.mux.HandleFunc("POST /session/credential", s.handleCredential)
	s.mux.HandleFunc("POST /session/goal", s.handleGoal)
	s.mux.HandleFunc("POST /session/reset", s.handleReset)
	s.mux.HandleFunc("POST /meals", s.handleAnalyzeMeals)
	s.mux.HandleFunc("POST /meals/stream", s.handleStreamMeals)
	s.mux.HandleFunc("POST /recommendations/home", s.handleHomeDishes)
	s.mux.HandleFunc("POST /recommendations/menu", s.handleRankMenu)
	s.mux.HandleFunc("POST /day/close", s.handleCloseDay)
	s.mux.HandleFunc("GET /journal", s.handleJournal)
	s.mux.HandleFunc("POST /mcp", s.handleMCP)
	s.mux.Handle("GET /metrics", promhttp.Handler())
}

// securityHeaders adds defensive HTTP response headers to every response.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Content-Security-Policy",
			"default-src 'self'; "+
				"script-src 'self' 'unsafe-inline' https://unpkg.com; "+
				"style-src 'self' 'unsafe-inline'; "+
				"img-src 'self' data:; "+
				"connect-src 'self'")
		next.ServeHTTP(w, r)
	})
}

// statusRecorder wraps http.ResponseWriter to capture the written status code.
// It forwards Flush so SSE handlers behind the logger still stream.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func requestLogger(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		// r.Pattern is filled in by the mux; it keeps the label set bounded.
		pattern := r.Pattern
		if pattern == "" {
			pattern = "unmatched"
		}
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, pattern, strconv.Itoa(rec.status)).Inc()
		logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestLogger(s.logger, securityHeaders(s.mux)).ServeHTTP(w, r)
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	s.logger.Info("starting server", "addr", addr)
	srv := &http.Server{
		Addr:         addr,
		Handler:      s,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// session returns the caller's session, creating one and setting the cookie
// when the request carries none or a stale one.
func (s *Server) session(w http.ResponseWriter, r *http.Request) *nutrition.Session {
	var id string
	if c, err := r.Cookie(sessionCookie); err == nil {
		id = c.Value
	}
	sess, created := s.sessions.GetOrCreate(id)
	if created {
		setSessionCookie(w, sess.ID)
	}
	return sess
}

func setSessionCookie(w http.ResponseWriter, id string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// renderPage parses and executes a full-page template set.
func (s *Server) renderPage(w http.ResponseWriter, data any, files ...string) error {
	tmpl, err := template.New("").Funcs(s.tmplFuncs).ParseFS(s.templates, files...)
	if err != nil {
		http.Error(w, "template error", http.StatusInternalServerError)
		return err
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	return tmpl.ExecuteTemplate(w, "base", data)
}

// renderPartial parses and executes a single named partial template.
// The file must contain exactly one {{define "name"}}...{{end}} block.
func (s *Server) renderPartial(w http.ResponseWriter, file string, data any) error {
	tmpl, err := template.New("").Funcs(s.tmplFuncs).ParseFS(s.templates, file)
	if err != nil {
		http.Error(w, "template error", http.StatusInternalServerError)
		return err
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	// ParseFS registers both the file-basename template and any {{define}} blocks.
	// Find the {{define}} template: it is the one whose name is neither "" nor
	// the file basename.
	basename := file
	if idx := strings.LastIndexByte(file, '/'); idx >= 0 {
		basename = file[idx+1:]
	}
	for _, t := range tmpl.Templates() {
		if n := t.Name(); n != "" && n != basename {
			return t.Execute(w, data)
		}
	}
	// Fallback: execute the file-basename template (no {{define}} blocks found).
	return tmpl.ExecuteTemplate(w, basename, data)
}

// renderNotice shows err as a notice partial. Domain errors are expected
// outcomes, so the status stays 200 and htmx swaps the notice in.
func (s *Server) renderNotice(w http.ResponseWriter, err error) {
	if rerr := s.renderPartial(w, "partials/notice.html", nutrition.NoticeFor(err)); rerr != nil {
		s.logger.Error("render notice failed", logging.ErrAttr(rerr))
	}
}

func stateText(st nutrition.State) string {
	switch st {
	case nutrition.StateIdle, nutrition.StateAwaitingCredential:
		return "Enter your API key to get started."
	case nutrition.StateAwaitingGoal:
		return "What is your goal for today?"
	default:
		return "Upload a photo of your meal."
	}
}
