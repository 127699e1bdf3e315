package api

import (
	"bufio"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	idgen "github.com/JakeFAU/email-signature/internal/id/uuid"
	"github.com/JakeFAU/email-signature/internal/logging"
	"github.com/JakeFAU/email-signature/internal/metrics"
	"github.com/JakeFAU/email-signature/internal/signature"
	"github.com/JakeFAU/email-signature/internal/telemetry"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// Generator runs the signature pipeline.
type Generator interface {
	Generate(ctx context.Context, req signature.Request, upload signature.Upload) (signature.Result, error)
}

// DocumentSource opens previously rendered documents by filename.
type DocumentSource interface {
	Open(name string) (*os.File, error)
}

// Options tunes request handling.
type Options struct {
	// MaxUploadBytes caps the headshot part; the whole body may carry a
	// little more for the text fields.
	MaxUploadBytes int64
	RequestTimeout time.Duration
	// MediaDir, when set, is served under /media/.
	MediaDir string
	// Ready reports whether downstream dependencies are usable.
	Ready func(ctx context.Context) error
}

const (
	formOverheadBytes = 64 << 10
	multipartMemory   = 1 << 20
	readyTimeout      = 2 * time.Second
)

// Server wires HTTP handlers to the signature pipeline and document store.
type Server struct {
	router    chi.Router
	generator Generator
	documents DocumentSource
	opts      Options
	form      *template.Template
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(generator Generator, documents DocumentSource, opts Options, logger *zap.Logger) (*Server, error) {
	if generator == nil || documents == nil {
		return nil, errors.New("generator and documents are required")
	}
	if opts.MaxUploadBytes <= 0 {
		return nil, errors.New("max upload bytes must be > 0")
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	form, err := template.ParseFS(templateFS, "templates/form.html.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse form template: %w", err)
	}
	metrics.Init()

	s := &Server{
		generator: generator,
		documents: documents,
		opts:      opts,
		form:      form,
		logger:    logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(tracingMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(opts.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Get("/", s.showForm)
	r.Post("/", s.submitForm)
	r.Get("/download/{filename}", s.download)
	r.Post("/v1/signatures", s.createSignature)
	if opts.MediaDir != "" {
		r.Handle("/media/*", mediaHandler(opts.MediaDir))
	}

	s.router = r
	return s, nil
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.opts.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()
		if err := s.opts.Ready(ctx); err != nil {
			logging.FromContext(r.Context(), s.logger).Warn("readiness check failed", zap.Error(err))
			writeJSON(r.Context(), w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(r.Context(), w, http.StatusOK, map[string]string{"status": "ready"})
}

// mediaHandler serves published headshots without directory listings. Dot
// files such as in-flight uploads and the writability marker are hidden.
func mediaHandler(dir string) http.Handler {
	files := http.StripPrefix("/media/", http.FileServer(http.Dir(dir)))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/") || hasDotSegment(r.URL.Path) {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("X-Content-Type-Options", "nosniff")
		files.ServeHTTP(w, r)
	})
}

func hasDotSegment(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if strings.HasPrefix(seg, ".") {
			return true
		}
	}
	return false
}

var requestIDs = idgen.New()

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := requestIDs.MustID()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func tracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := telemetry.Tracer().Start(ctx, r.Method+" "+r.URL.Path)
		defer span.End()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		fields := []zap.Field{zap.String("request_id", RequestID(r.Context()))}
		if traceID := telemetry.TraceID(r.Context()); traceID != "" {
			fields = append(fields, zap.String("trace_id", traceID))
		}
		logger := s.logger.With(fields...)
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r.WithContext(logging.WithLogger(r.Context(), logger)))
		logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logging.FromContext(r.Context(), s.logger).Error("panic recovered", zap.Any("error", rec), zap.Stack("stack"))
				writeError(r.Context(), w, http.StatusInternalServerError, "internal server error", "")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

// RequestID returns the ID assigned to the request carried by ctx.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.FromContext(ctx, zap.L()).Error("write JSON failed", zap.Error(err))
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, msg, field string) {
	writeJSON(ctx, w, status, errorResponse{Error: msg, Field: field})
}
