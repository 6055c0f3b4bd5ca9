package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Open-WP-Club/plugin-hub/internal/auth"
	"github.com/Open-WP-Club/plugin-hub/internal/database"
	"github.com/Open-WP-Club/plugin-hub/internal/hub"
	"github.com/Open-WP-Club/plugin-hub/internal/logging"
)

// NonceHeader may carry the action nonce instead of the form field
const NonceHeader = "X-PluginHub-Nonce"

// ActionLog reads the action audit trail
type ActionLog interface {
	RecentActions(ctx context.Context, plugin string, limit int) ([]database.ActionRecord, error)
}

// HealthCheck reports whether a dependency is usable
type HealthCheck func(ctx context.Context) error

// Options wires a Server
type Options struct {
	Service        *hub.Service
	Authenticator  *auth.Authenticator
	Nonces         *auth.Nonces
	Logs           *logging.RingBuffer
	Actions        ActionLog
	Gatherer       prometheus.Gatherer
	Checks         map[string]HealthCheck
	AllowedOrigins []string
	Logger         *slog.Logger
}

// Server serves the plugin hub HTTP API
type Server struct {
	svc     *hub.Service
	nonces  *auth.Nonces
	logs    *logging.RingBuffer
	actions ActionLog
	gather  prometheus.Gatherer
	checks  map[string]HealthCheck
	origins []string
	stream  *Hub
	logger  *slog.Logger

	mu    sync.RWMutex
	authn *auth.Authenticator
}

// NewServer creates the API server
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	gather := opts.Gatherer
	if gather == nil {
		gather = prometheus.DefaultGatherer
	}
	authn := opts.Authenticator
	if authn == nil {
		authn = auth.NewAuthenticator(nil)
	}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:*", "http://127.0.0.1:*"}
	}

	return &Server{
		svc:     opts.Service,
		nonces:  opts.Nonces,
		logs:    opts.Logs,
		actions: opts.Actions,
		gather:  gather,
		checks:  opts.Checks,
		origins: origins,
		stream:  NewHub(),
		logger:  logger.With("component", "api"),
		authn:   authn,
	}
}

// Stream returns the websocket hub fed from the event bus
func (s *Server) Stream() *Hub {
	return s.stream
}

// SetAuthenticator swaps the token table, for example after a config reload
func (s *Server) SetAuthenticator(a *auth.Authenticator) {
	s.mu.Lock()
	s.authn = a
	s.mu.Unlock()
}

func (s *Server) authenticator() *auth.Authenticator {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authn
}

// Router builds the HTTP handler
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", NonceHeader},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.gather, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.requireAuth)

		// Bulk runs install one plugin after another and may outlive the
		// default request timeout.
		r.Post("/bulk", s.handleBulk)
		r.Get("/events", s.handleEvents)
		r.Get("/logs/stream", s.handleLogStream)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(120 * time.Second))

			r.Get("/session", s.handleSession)
			r.Get("/plugins", s.handleListPlugins)
			r.Post("/ajax", s.handleAjax)
			r.Post("/ajax/{action}", s.handleAjax)
			r.Get("/updates", s.handleUpdates)
			r.Get("/logs", s.handleLogs)
			r.Get("/actions", s.handleActions)
		})
	})

	return r
}

// bearerToken extracts the API token. Browsers cannot set headers on a
// websocket handshake, so the stream also accepts an access_token query.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
		return ""
	}
	if strings.HasSuffix(r.URL.Path, "/events") {
		return r.URL.Query().Get("access_token")
	}
	return ""
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			Unauthorized(w, "Authentication required.")
			return
		}
		p, err := s.authenticator().Authenticate(token)
		if err != nil {
			s.logger.Warn("Rejected API token", "remote", r.RemoteAddr, "path", r.URL.Path)
			Unauthorized(w, "Invalid credentials.")
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), p)))
	})
}

func principal(r *http.Request) auth.Principal {
	p, _ := auth.FromContext(r.Context())
	return p
}
