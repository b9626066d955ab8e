package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/hongminglow/flatkeeper/internal/accounts"
	"github.com/hongminglow/flatkeeper/internal/auth"
	"github.com/hongminglow/flatkeeper/internal/config"
	"github.com/hongminglow/flatkeeper/internal/docstore"
	"github.com/hongminglow/flatkeeper/internal/http/handlers"
	"github.com/hongminglow/flatkeeper/internal/logging"
	"github.com/hongminglow/flatkeeper/internal/metrics"
	"github.com/hongminglow/flatkeeper/internal/middleware"
	"github.com/hongminglow/flatkeeper/internal/projection"
	"github.com/hongminglow/flatkeeper/internal/repository"
	"github.com/hongminglow/flatkeeper/internal/roles"
)

// Server wraps an http.Server with configured routes.
type Server struct {
	inner  *http.Server
	writer *projection.Writer
}

// New wires up middleware, routes, and returns a ready server. The store
// stays owned by the caller.
func New(cfg config.Config, store docstore.Store, m *metrics.Metrics, log *zap.Logger) *Server {
	log = logging.OrNop(log)
	if m == nil {
		m = metrics.New()
	}

	writer := projection.NewWriter(projection.Config{Store: store, Namespace: cfg.Namespace, Metrics: m, Logger: log})
	resolver := roles.NewResolver(roles.Config{Store: store, Namespace: cfg.Namespace, Metrics: m, Logger: log})
	deps := repository.Deps{Store: store, Namespace: cfg.Namespace, Metrics: m, Logger: log}
	tokens := auth.NewTokenManager(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTTTL)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logging(log.Named("http"), m))
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORS(cfg.CORSOrigins))

	handlers.NewHealthHandler(time.Now(), store).Register(r)
	handlers.NewAuthHandler(accounts.NewService(store, cfg.Namespace, log), tokens, resolver, log).Register(r)
	r.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Authenticate(tokens, resolver, log))
		handlers.NewRecordsHandler(deps, writer).Register(r)
		handlers.NewOverviewHandler(deps, log).Register(r)
		handlers.NewMeHandler(projection.NewReader(store, cfg.Namespace), resolver, log).Register(r)
		handlers.NewRolesHandler(resolver, log).Register(r)
	})

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddress(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	return &Server{inner: httpServer, writer: writer}
}

// Handler exposes the routed handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.inner.Handler
}

// Start begins serving HTTP traffic.
func (s *Server) Start() error {
	return s.inner.ListenAndServe()
}

// Shutdown gracefully shuts down the server and stops projection catalogs.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.inner.Shutdown(ctx)
	s.writer.Close()
	return err
}
