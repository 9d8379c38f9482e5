// Package server exposes the converter over HTTP.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	sentryhttp "github.com/getsentry/sentry-go/http"

	office2pdf "github.com/alnah/go-office2pdf"
	"github.com/alnah/go-office2pdf/internal/journal"
)

// DefaultMaxUploadBytes applies when Options.MaxUploadBytes is zero.
const DefaultMaxUploadBytes = 50 << 20

// multipartMemory is kept in memory before multipart parts spill to disk.
const multipartMemory = 8 << 20

// Converter is the conversion capability the handlers need.
type Converter interface {
	Convert(ctx context.Context, req office2pdf.ConversionRequest) (*office2pdf.ConversionResult, error)
	Workers() int
	Stats() office2pdf.LeaseStats
}

// Journal records conversions and serves them back.
type Journal interface {
	Record(ctx context.Context, e *journal.Entry) error
	Recent(ctx context.Context, limit int) ([]journal.Entry, error)
	Stats(ctx context.Context) (journal.Stats, error)
}

// Options configures a Server.
type Options struct {
	MaxUploadBytes int64
	Logger         *slog.Logger
	Journal        Journal  // nil disables the journal endpoints
	Reporter       Reporter // nil disables error reporting
	Version        string
}

// Server holds the HTTP handlers.
type Server struct {
	conv      Converter
	maxUpload int64
	logger    *slog.Logger
	journal   Journal
	reporter  Reporter
	version   string
	started   time.Time
}

// New creates a Server around conv.
func New(conv Converter, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	maxUpload := opts.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = DefaultMaxUploadBytes
	}
	reporter := opts.Reporter
	if reporter == nil {
		reporter = nopReporter{}
	}
	return &Server{
		conv:      conv,
		maxUpload: maxUpload,
		logger:    logger,
		journal:   opts.Journal,
		reporter:  reporter,
		version:   opts.Version,
		started:   time.Now(),
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	if _, ok := s.reporter.(nopReporter); !ok {
		r.Use(sentryhttp.New(sentryhttp.Options{Repanic: true}).Handle)
	}

	r.Post("/convert", s.handleConvert)
	r.Get("/healthz", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Post("/convert", s.handleConvert)
		r.Get("/conversions", s.handleRecent)
		r.Get("/conversions/stats", s.handleJournalStats)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSONError(w, "Not found", http.StatusNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
	})

	return r
}

// logRequests logs one line per request once the response is written.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
			"remote", r.RemoteAddr,
		)
	})
}
