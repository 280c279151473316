// Package server exposes research tasks over HTTP: submission into the job
// queue, status and transcript lookup, markdown export and a server-sent
// progress stream.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/ShayCichocki/roundtable/internal/auth"
	"github.com/ShayCichocki/roundtable/internal/cache"
	"github.com/ShayCichocki/roundtable/internal/config"
	"github.com/ShayCichocki/roundtable/internal/logging"
	"github.com/ShayCichocki/roundtable/internal/metrics"
	"github.com/ShayCichocki/roundtable/internal/queue"
	"github.com/ShayCichocki/roundtable/internal/state"
)

// ServiceName is reported by the health endpoint.
const ServiceName = "roundtable-research-api"

// DefaultSubmitPerMinute is the per-address submission budget.
const DefaultSubmitPerMinute = 10

// Queue accepts research jobs for background execution.
type Queue interface {
	Submit(job queue.Job) error
	Pending() int
	Running() int
}

// ResultCache looks up finished results by task text.
type ResultCache interface {
	Get(ctx context.Context, task string) (*cache.Entry, bool)
	Ping(ctx context.Context) error
}

// Server is the HTTP API.
type Server struct {
	store       state.Store
	queue       Queue
	cache       ResultCache
	broadcaster *queue.Broadcaster
	collector   *metrics.Collector
	users       auth.UserRepository
	requireAuth bool
	origins     []string
	proxySpecs  []string
	proxies     []netip.Prefix
	cfg         atomic.Pointer[config.Config]

	limiter  *ipLimiter
	validate *validator.Validate
	logger   *zap.SugaredLogger

	handler    http.Handler
	httpServer *http.Server
	keepAlive  time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithCache enables cache short-circuiting of submissions.
func WithCache(c ResultCache) Option {
	return func(s *Server) { s.cache = c }
}

// WithBroadcaster provides live progress for the status and events endpoints.
func WithBroadcaster(b *queue.Broadcaster) Option {
	return func(s *Server) { s.broadcaster = b }
}

// WithCollector exposes agent metrics at /api/metrics.
func WithCollector(c *metrics.Collector) Option {
	return func(s *Server) { s.collector = c }
}

// WithUsers sets the user repository used for registration and auth.
func WithUsers(repo auth.UserRepository) Option {
	return func(s *Server) { s.users = repo }
}

// WithAuth requires basic auth on every research endpoint.
func WithAuth(required bool) Option {
	return func(s *Server) { s.requireAuth = required }
}

// WithConfig sets the config served at /api/config.
func WithConfig(cfg *config.Config) Option {
	return func(s *Server) { s.cfg.Store(cfg) }
}

// WithAllowedOrigins sets the CORS origins. Defaults to all.
func WithAllowedOrigins(origins ...string) Option {
	return func(s *Server) { s.origins = origins }
}

// WithTrustedProxies lists the proxies, as addresses or CIDR ranges, whose
// X-Forwarded-For header identifies the client.
func WithTrustedProxies(entries ...string) Option {
	return func(s *Server) { s.proxySpecs = entries }
}

// WithSubmitRate sets the per-address submissions per minute.
func WithSubmitRate(perMinute int) Option {
	return func(s *Server) { s.limiter = newIPLimiter(perMinute) }
}

// WithLogger sets the logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(s *Server) { s.logger = l }
}

// New builds the API over store and q.
func New(store state.Store, q Queue, opts ...Option) (*Server, error) {
	if store == nil {
		return nil, errors.New("server: store is required")
	}
	if q == nil {
		return nil, errors.New("server: queue is required")
	}

	s := &Server{
		store:     store,
		queue:     q,
		origins:   []string{"*"},
		limiter:   newIPLimiter(DefaultSubmitPerMinute),
		validate:  validator.New(),
		keepAlive: 15 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.OrDefault(s.logger)
	for _, entry := range s.proxySpecs {
		p, err := config.ParseProxy(entry)
		if err != nil {
			return nil, fmt.Errorf("server: %w", err)
		}
		s.proxies = append(s.proxies, p)
	}
	if s.users == nil {
		s.users = auth.NewStoreRepository(store)
	}
	if s.cfg.Load() == nil {
		s.cfg.Store(config.Default())
	}
	if s.requireAuth {
		s.logger.Infow("basic auth required for research endpoints")
	}

	s.handler = s.setupRoutes()
	s.httpServer = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s, nil
}

// SetConfig replaces the config served at /api/config.
func (s *Server) SetConfig(cfg *config.Config) {
	s.cfg.Store(cfg)
}

// Handler returns the root handler, including CORS.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) setupRoutes() http.Handler {
	r := mux.NewRouter()
	r.Use(loggingMiddleware(s.logger, s.clientIP), recoveryMiddleware(s.logger))

	r.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/auth/register", s.handleRegister).Methods(http.MethodPost)

	api := r.PathPrefix("/api").Subrouter()
	if s.requireAuth {
		api.Use(auth.Middleware(s.users, s.logger))
	}
	api.Handle("/research", s.rateLimit(http.HandlerFunc(s.handleSubmit))).Methods(http.MethodPost)
	api.HandleFunc("/research", s.handleList).Methods(http.MethodGet)
	api.HandleFunc("/research/{id}", s.handleGet).Methods(http.MethodGet)
	api.HandleFunc("/research/{id}/status", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/research/{id}/export", s.handleExport).Methods(http.MethodGet)
	api.HandleFunc("/research/{id}/events", s.handleEvents).Methods(http.MethodGet)
	api.HandleFunc("/config", s.handleConfig).Methods(http.MethodGet)
	api.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "Resource not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	// CORS wraps the router so preflight requests never reach method matching.
	c := cors.New(cors.Options{
		AllowedOrigins:   s.origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		ExposedHeaders:   []string{"Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining"},
		AllowCredentials: !containsWildcard(s.origins),
		MaxAge:           86400,
	})
	return c.Handler(r)
}

func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}

// Start listens on addr and serves until Shutdown. It returns nil after a
// clean shutdown.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return s.Serve(ln)
}

// Serve serves on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Infow("api listening", "addr", ln.Addr().String())
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
