package statusapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

type contextKey string

// ClientIDKey is the context key for the authenticated client ID.
const ClientIDKey contextKey = "client_id"

// Middleware provides HTTP middleware functions.
type Middleware struct {
	jwtAuth *JWTAuth
	noAuth  bool
	logger  *zap.Logger
}

// NewMiddleware creates a middleware set. With noAuth every request is
// treated as coming from "local".
func NewMiddleware(jwtAuth *JWTAuth, noAuth bool, logger *zap.Logger) *Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Middleware{jwtAuth: jwtAuth, noAuth: noAuth, logger: logger}
}

// AuthRequired rejects requests without a valid bearer token.
func (m *Middleware) AuthRequired(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if m.noAuth {
			next(w, r.WithContext(context.WithValue(r.Context(), ClientIDKey, "local")))
			return
		}

		token := r.Header.Get("Authorization")
		if token == "" {
			writeError(w, "Authorization header required", http.StatusUnauthorized)
			return
		}
		claims, err := m.jwtAuth.ValidateToken(token)
		if err != nil {
			writeError(w, "Invalid token: "+err.Error(), http.StatusUnauthorized)
			return
		}

		next(w, r.WithContext(context.WithValue(r.Context(), ClientIDKey, claims.ClientID)))
	}
}

// Logging logs every request at debug level.
func (m *Middleware) Logging(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next(w, r)
		m.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("duration", time.Since(start)))
	}
}

// Recovery turns a handler panic into a 500.
func (m *Middleware) Recovery(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				m.logger.Error("http handler panic", zap.Any("panic", rec), zap.String("path", r.URL.Path))
				writeError(w, "Internal server error", http.StatusInternalServerError)
			}
		}()
		next(w, r)
	}
}

// GetClientID returns the authenticated client ID stored on r.
func GetClientID(r *http.Request) string {
	if id, ok := r.Context().Value(ClientIDKey).(string); ok {
		return id
	}
	return ""
}

func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, message string, statusCode int) {
	writeJSON(w, statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	})
}
