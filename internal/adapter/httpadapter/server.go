// Package httpadapter exposes report intake, triage and the offline queue
// over HTTP, next to the health, readiness and metrics endpoints.
package httpadapter

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/civicfix-service/internal/domain"
	"github.com/couchcryptid/civicfix-service/internal/duplicate"
	"github.com/couchcryptid/civicfix-service/internal/offline"
	"github.com/couchcryptid/civicfix-service/internal/pipeline"
	"github.com/couchcryptid/civicfix-service/internal/triage"
)

const defaultMaxUploadBytes = 10 << 20

// Submitter runs citizen submissions.
type Submitter interface {
	Submit(ctx context.Context, req pipeline.Request) (pipeline.Result, error)
}

// Triage serves staff and community operations on stored issues.
type Triage interface {
	UpdateStatus(ctx context.Context, u triage.StatusUpdate) (domain.IssueRecord, error)
	ToggleUpvote(ctx context.Context, issueID, userID string) (domain.UpvoteResult, error)
	Get(ctx context.Context, id string) (domain.IssueRecord, error)
	List(ctx context.Context, f triage.Filter) ([]domain.IssueRecord, error)
	Watch(ctx context.Context, f triage.Filter, fn func([]domain.IssueRecord)) error
}

// DuplicateFinder answers pre-submit proximity checks.
type DuplicateFinder interface {
	FindNearbyDuplicate(ctx context.Context, p duplicate.Params) (*domain.DuplicateCandidate, error)
}

// DraftStore is the offline draft queue.
type DraftStore interface {
	QueueDraft(ctx context.Context, payload domain.IssuePayload, photo, identity *domain.Attachment) (domain.Draft, error)
	ListQueuedDrafts(ctx context.Context) ([]domain.Draft, error)
	RemoveDraft(ctx context.Context, id string) error
}

// Replayer drains the offline queue on demand.
type Replayer interface {
	Replay(ctx context.Context) (offline.ReplayResult, error)
}

// Connectivity reports whether the record store is reachable.
type Connectivity interface {
	Online() bool
}

// AssetReader serves stored attachments.
type AssetReader interface {
	Open(ctx context.Context, ref string) (io.ReadCloser, string, error)
}

// API holds the services behind the routes. Nil services leave their
// routes answering 501.
type API struct {
	Pipeline       Submitter
	Triage         Triage
	Duplicates     DuplicateFinder
	Drafts         DraftStore
	Replayer       Replayer
	Geocoder       domain.Geocoder
	Conn           Connectivity
	Assets         AssetReader
	MaxUploadBytes int64
}

// Server is the service's HTTP front.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates an HTTP server with /healthz, /readyz, /metrics and the
// /v1 API routes.
func NewServer(addr string, api API, ready sharedobs.ReadinessChecker, logger *slog.Logger) *Server {
	if api.MaxUploadBytes <= 0 {
		api.MaxUploadBytes = defaultMaxUploadBytes
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", sharedobs.LivenessHandler())
	r.Get("/readyz", sharedobs.ReadinessHandler(ready))
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	h := &handlers{api: api, logger: logger}
	r.Route("/v1", func(r chi.Router) {
		r.Route("/issues", func(r chi.Router) {
			r.Post("/", h.submitIssue)
			r.Get("/", h.listIssues)
			r.Get("/stream", h.streamIssues)
			r.Get("/{id}", h.getIssue)
			r.Patch("/{id}/status", h.updateStatus)
			r.Post("/{id}/upvote", h.toggleUpvote)
		})
		r.Get("/duplicates", h.findDuplicate)
		r.Route("/drafts", func(r chi.Router) {
			r.Post("/", h.queueDraft)
			r.Get("/", h.listDrafts)
			r.Post("/replay", h.replayDrafts)
			r.Delete("/{id}", h.removeDraft)
		})
		r.Get("/geocode/reverse", h.reverseGeocode)
		r.Get("/connectivity", h.connectivity)
	})
	r.Get("/assets/*", h.serveAsset)

	return &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      r,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
