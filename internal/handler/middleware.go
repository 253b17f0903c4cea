package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/expenza/be-expenses/internal/logger"
	"github.com/expenza/be-expenses/internal/repository"
	"github.com/expenza/be-expenses/internal/service"
)

type contextKey string

const actorKey contextKey = "actor"

// AuthContext extracts the authenticated actor injected by the external
// gateway (X-User-Id, X-User-Role, X-Company-Id). Requests without a full
// identity are rejected; authorization beyond that is the services' job.
func AuthContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get("X-User-Id")
		role := r.Header.Get("X-User-Role")
		companyID := r.Header.Get("X-Company-Id")

		if userID == "" || role == "" || companyID == "" {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing authentication context")
			return
		}

		actor := service.Actor{
			ID:        userID,
			CompanyID: companyID,
			Role:      repository.Role(role),
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey, actor)))
	})
}

// actorFrom returns the actor placed on the context by AuthContext.
func actorFrom(r *http.Request) service.Actor {
	actor, _ := r.Context().Value(actorKey).(service.Actor)
	return actor
}

// RequireAdmin gates a route to ADMIN actors.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if actorFrom(r).Role != repository.RoleAdmin {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "admin role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequestLogger logs one line per request with method, path, status and
// duration.
func RequestLogger(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(sw, r)

			log.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", sw.status).
				Dur("duration", time.Since(start)).
				Msg("Request handled")
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
