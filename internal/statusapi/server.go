// Package statusapi serves a small local HTTP API describing the running
// node: an open health check, a JWT-protected status document and the
// Prometheus metrics.
package statusapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/tailnode/internal/metrics"
)

// Issuer is the JWT issuer of status API tokens.
const Issuer = "tailnode"

// ErrMissingSecret is returned by NewServer when authentication is enabled
// without a secret.
var ErrMissingSecret = errors.New("secret key is required unless authentication is disabled")

// Config holds server configuration.
type Config struct {
	Address   string
	SecretKey string
	NoAuth    bool
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
}

// Server is the status HTTP server.
type Server struct {
	status     StatusFunc
	metrics    *metrics.Metrics
	jwtAuth    *JWTAuth
	middleware *Middleware
	logger     *zap.Logger
	server     *http.Server
}

// NewServer creates a status server reporting status.
func NewServer(status StatusFunc, config Config) (*Server, error) {
	if config.SecretKey == "" && !config.NoAuth {
		return nil, ErrMissingSecret
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	jwtAuth := NewJWTAuth(config.SecretKey, Issuer)
	s := &Server{
		status:     status,
		metrics:    config.Metrics,
		jwtAuth:    jwtAuth,
		middleware: NewMiddleware(jwtAuth, config.NoAuth, logger),
		logger:     logger,
	}
	s.server = &http.Server{
		Addr:              config.Address,
		Handler:           s.setupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
	return s, nil
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler { return s.server.Handler }

// Auth returns the token authenticator.
func (s *Server) Auth() *JWTAuth { return s.jwtAuth }

// Serve serves on l until Stop. It returns nil after a clean stop.
func (s *Server) Serve(l net.Listener) error {
	s.logger.Info("status API listening", zap.Stringer("addr", l.Addr()))
	if err := s.server.Serve(l); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Start listens on the configured address and serves.
func (s *Server) Start() error {
	l, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	return s.Serve(l)
}

// Stop gracefully stops the server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) setupRoutes() http.Handler {
	mux := http.NewServeMux()

	withMiddleware := func(handler http.HandlerFunc) http.Handler {
		return s.middleware.Recovery(s.middleware.Logging(handler))
	}

	mux.Handle("GET /api/v1/health", withMiddleware(s.handleHealth))
	mux.Handle("GET /api/v1/status", withMiddleware(s.middleware.AuthRequired(s.handleStatus)))
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	st := s.status()
	resp := HealthResponse{Healthy: st.State == "up", State: st.State}
	code := http.StatusOK
	if !resp.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.logger.Debug("status requested", zap.String("client_id", GetClientID(r)))
	writeJSON(w, http.StatusOK, s.status())
}
