// Package server exposes the HTTP surface: the OAuth callback the provider
// redirects to, the authorization API agents drive, and operational endpoints.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rowanlm/mcphub/internal/config"
	"github.com/rowanlm/mcphub/internal/domain"
	"github.com/rowanlm/mcphub/internal/tracing"
)

const ReadTimeout = 30 * time.Second

// Authorizer is the controller surface the HTTP layer drives.
type Authorizer interface {
	Start(ctx context.Context, userID, serverID string) (*domain.AuthSession, string, error)
	Callback(ctx context.Context, state, code string) (*domain.AuthSession, error)
	Poll(ctx context.Context, sessionID string) (*domain.AuthSession, error)
}

// Connections is the credential listing surface.
type Connections interface {
	List(ctx context.Context, userID string) ([]domain.ConnectionStatus, error)
	Delete(ctx context.Context, userID, serverID string) error
}

type Server struct {
	cfg    *config.Config
	router *chi.Mux
	server *http.Server
}

func NewServer(cfg *config.Config, auth Authorizer, conns Connections, dbPing func(context.Context) error) *Server {
	router := chi.NewRouter()

	router.Use(tracing.Middleware("mcphub-api"))
	router.Use(Recovery)
	router.Use(Logger)

	healthH := &HealthHandler{DBPing: dbPing}
	router.Get("/health", healthH.Readiness)
	router.Get("/health/ready", healthH.Readiness)
	router.Get("/health/live", healthH.Liveness)

	router.Handle("/metrics", promhttp.Handler())

	authH := &AuthHandler{auth: auth}
	router.Get("/oauth/callback", authH.Callback)

	router.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/{user}/{server}", authH.Start)
		r.Get("/auth/sessions/{id}", authH.Poll)

		connH := &ConnectionHandler{conns: conns}
		r.Get("/connections/{user}", connH.List)
		r.Delete("/connections/{user}/{server}", connH.Delete)
	})

	return &Server{cfg: cfg, router: router}
}

// Router exposes the handler tree, mainly for tests.
func (s *Server) Router() http.Handler { return s.router }

func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.server = &http.Server{
		Addr:        addr,
		Handler:     s.router,
		ReadTimeout: ReadTimeout,
	}
	return s.server.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
