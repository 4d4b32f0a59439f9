package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/jdziat/strand-jobs/pkg/queue"
	"github.com/jdziat/strand-jobs/pkg/relay"
	"github.com/jdziat/strand-jobs/pkg/reindex"
)

const defaultHeartbeat = 15 * time.Second

// RecentEvents reads events back from the Redis relay.
type RecentEvents interface {
	Recent(ctx context.Context, count int64) ([]relay.Entry, error)
}

// Server serves the engine API.
type Server struct {
	queue     *queue.Queue
	reindex   *reindex.Service
	recent    RecentEvents
	validate  *validator.Validate
	logger    *slog.Logger
	heartbeat time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithReindex enables POST /strands/reindex.
func WithReindex(svc *reindex.Service) Option {
	return func(s *Server) { s.reindex = svc }
}

// WithRecentEvents enables GET /events/recent.
func WithRecentEvents(r RecentEvents) Option {
	return func(s *Server) { s.recent = r }
}

// WithLogger sets the server logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithHeartbeat sets the keep-alive interval of event streams.
func WithHeartbeat(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.heartbeat = d
		}
	}
}

// New creates a server over q.
func New(q *queue.Queue, opts ...Option) *Server {
	s := &Server{
		queue:     q,
		validate:  validator.New(),
		logger:    slog.Default(),
		heartbeat: defaultHeartbeat,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes returns the HTTP handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/jobs", func(r chi.Router) {
		r.Post("/", s.handleEnqueue)
		r.Get("/", s.handleList)
		r.Get("/{id}", s.handleGet)
		r.Post("/{id}/cancel", s.handleCancel)
	})

	r.Get("/events", s.handleEvents)
	r.Get("/events/recent", s.handleRecent)
	r.Post("/strands/reindex", s.handleReindex)
	r.Get("/stats", s.handleStats)
	return r
}
