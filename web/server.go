// Package web is the thin HTTP layer over the gateway. It owns routing,
// request decoding, session extraction, and the mapping of error kinds to
// HTTP status codes. No gateway semantics live here.
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/specgate/specgate/config"
	"github.com/specgate/specgate/errors"
	"github.com/specgate/specgate/gateway"
	"github.com/specgate/specgate/types"
)

type contextKey string

const userKey contextKey = "user"

// Server serves the gateway's HTTP API
type Server struct {
	gateway    *gateway.Gateway
	router     *chi.Mux
	logger     *slog.Logger
	cfg        config.ServerConfig
	httpServer *http.Server
}

// New creates the HTTP front-end over a gateway
func New(g *gateway.Gateway, cfg config.ServerConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		gateway: g,
		router:  chi.NewRouter(),
		logger:  logger.With("component", "web"),
		cfg:     cfg,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.requestLogger)

	s.router.Get("/health", s.handleHealth)

	s.router.Route("/auth/v1", func(r chi.Router) {
		r.Post("/signup", s.handleSignup)
		r.Post("/token", s.handleToken)
		r.Post("/logout", s.handleLogout)
	})

	// Provider redirects land here after the user grants access
	s.router.Get("/oauth/callback", s.handleOAuthCallback)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(s.sessionMiddleware)

		r.Post("/specs", s.handleRegisterSpec)

		r.Get("/documents", s.handleListDocuments)
		r.Get("/documents/{id}", s.handleGetDocument)
		r.Delete("/documents/{id}", s.handleDeleteDocument)
		r.Get("/documents/{id}/endpoints", s.handleListEndpoints)
		r.Get("/documents/{id}/stats", s.handleDocumentStats)
		r.Get("/documents/{id}/health", s.handleDocumentHealth)
		r.Post("/documents/{id}/auth", s.handleConfigureAuth)
		r.Get("/documents/{id}/authorize", s.handleAuthorize)
		r.Post("/documents/{id}/authorize/refresh", s.handleRefreshAuthorization)
		r.Post("/documents/{id}/call", s.handleCallByAddress)

		r.Get("/endpoints/{id}", s.handleGetEndpoint)
		r.Post("/endpoints/{id}/call", s.handleCallEndpoint)

		r.Get("/calls/recent", s.handleRecentCalls)
		r.Get("/calls/errors", s.handleErrorCalls)
	})
}

// Handler returns the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start runs the HTTP server until Shutdown or failure
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         s.cfg.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	s.logger.Info("http server starting", "addr", s.cfg.Addr())
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.Wrap(err, "Server", "Start", "serve http")
	}
	return nil
}

// Shutdown stops the HTTP server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// sessionMiddleware resolves a bearer session token to a user. Requests
// without a token pass through anonymous; calls that need a user (OAuth2
// flows) fail downstream.
func (s *Server) sessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if len(header) > 7 && header[:7] == "Bearer " {
			user, err := s.gateway.Sessions().ValidateToken(r.Context(), header[7:])
			if err != nil {
				s.writeError(w, err)
				return
			}
			r = r.WithContext(context.WithValue(r.Context(), userKey, user))
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(started).Milliseconds())
	})
}

func userFrom(r *http.Request) *types.User {
	user, _ := r.Context().Value(userKey).(*types.User)
	return user
}

func userID(r *http.Request) string {
	if user := userFrom(r); user != nil {
		return user.ID
	}
	return ""
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		if err := json.NewEncoder(w).Encode(body); err != nil {
			s.logger.Warn("encode response failed", "error", err)
		}
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	s.writeJSON(w, status, map[string]any{
		"error":  err.Error(),
		"kind":   errors.KindOf(err).String(),
		"status": status,
	})
}

// statusFor maps error kinds to HTTP status codes. This boundary is the only
// place the mapping exists.
func statusFor(err error) int {
	switch {
	case errors.IsKind(err, errors.KindEndpointNotFound),
		errors.Is(err, errors.ErrNotFound):
		return http.StatusNotFound
	case errors.IsKind(err, errors.KindMissingRequiredParameter),
		errors.IsKind(err, errors.KindTypeMismatch),
		errors.IsKind(err, errors.KindMalformedReference),
		errors.IsKind(err, errors.KindUnsupportedReference),
		errors.IsKind(err, errors.KindInvalidSpecification),
		errors.IsKind(err, errors.KindUnsupportedFamily),
		errors.IsKind(err, errors.KindUnsupportedProtocol),
		errors.IsKind(err, errors.KindInvalidState):
		return http.StatusBadRequest
	case errors.IsKind(err, errors.KindExpiredState):
		return http.StatusGone
	case errors.IsKind(err, errors.KindAuthenticationFailed),
		errors.IsKind(err, errors.KindAuthorizationExpired):
		return http.StatusUnauthorized
	case errors.IsKind(err, errors.KindTransportTimeout):
		return http.StatusGatewayTimeout
	case errors.IsKind(err, errors.KindTransportConnection):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
