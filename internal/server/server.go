// Package server exposes the aggregator over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ppiankov/feeder/internal/source"
	"github.com/ppiankov/feeder/internal/store"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	defaultRecordLimit = 100
	maxRecordLimit     = 1000
)

// Aggregator is the part of the aggregator the API drives.
type Aggregator interface {
	SearchSource(ctx context.Context, query string) ([]store.Source, error)
	Synchronize(ctx context.Context, depth time.Duration, kind *source.Kind) error
}

// Reader lists stored data.
type Reader interface {
	ListSources(ctx context.Context, kind string) ([]store.Source, error)
	ListRecords(ctx context.Context, f store.RecordFilter) ([]store.RecordWithSource, error)
}

type Options struct {
	// SyncDepth is used when a sync request has no depth parameter.
	SyncDepth time.Duration
	Gatherer  prometheus.Gatherer
	Logger    *slog.Logger
}

type Server struct {
	agg    Aggregator
	reader Reader
	opts   Options
	log    *slog.Logger
	router chi.Router
}

func New(agg Aggregator, reader Reader, opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		agg:    agg,
		reader: reader,
		opts:   opts,
		log:    log.With("component", "http"),
	}
	s.router = s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/sources", s.handleSources)
		r.Post("/sync", s.handleSync)
		r.Get("/records", s.handleRecords)
	})
	return r
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http api listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if query := q.Get("q"); query != "" {
		found, err := s.agg.SearchSource(r.Context(), query)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sourceViews(found))
		return
	}

	kind, ok := parseKindParam(w, q.Get("kind"))
	if !ok {
		return
	}
	var kindName string
	if kind != nil {
		kindName = kind.String()
	}
	sources, err := s.reader.ListSources(r.Context(), kindName)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sourceViews(sources))
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	depth := s.opts.SyncDepth
	if raw := q.Get("depth"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "depth must be a positive duration"})
			return
		}
		depth = d
	}
	kind, ok := parseKindParam(w, q.Get("kind"))
	if !ok {
		return
	}

	start := time.Now()
	if err := s.agg.Synchronize(r.Context(), depth, kind); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "ok",
		"depth":    depth.String(),
		"duration": time.Since(start).Round(time.Millisecond).String(),
	})
}

func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.RecordFilter{Limit: defaultRecordLimit}

	if raw := q.Get("since"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "since must be a positive duration"})
			return
		}
		f.Since = time.Now().Add(-d)
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || n == 0 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "limit must be a positive number"})
			return
		}
		f.Limit = min(n, maxRecordLimit)
	}
	kind, ok := parseKindParam(w, q.Get("kind"))
	if !ok {
		return
	}
	if kind != nil {
		f.Kind = kind.String()
	}

	records, err := s.reader.ListRecords(r.Context(), f)
	if err != nil {
		s.writeError(w, err)
		return
	}
	views := make([]recordView, 0, len(records))
	for _, rec := range records {
		views = append(views, newRecordView(rec))
	}
	writeJSON(w, http.StatusOK, views)
}

// parseKindParam writes a 400 and reports false for an unknown kind.
func parseKindParam(w http.ResponseWriter, raw string) (*source.Kind, bool) {
	if raw == "" {
		return nil, true
	}
	k, err := source.ParseKind(raw)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return nil, false
	}
	return &k, true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, source.ErrSourceKindConflict):
		return http.StatusConflict
	case errors.Is(err, source.ErrSourceNotFound):
		return http.StatusNotFound
	case errors.Is(err, source.ErrUpdateNotSupported):
		return http.StatusUnprocessableEntity
	case errors.Is(err, source.ErrTransport):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", "status", status, "error", err)
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
