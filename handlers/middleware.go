package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/ausocean/utils/logging"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/camden-git/membersync/permissions"
)

// ContextKey is a custom type for context keys to avoid collisions.
type ContextKey string

// ClaimsContextKey holds the verified admin token claims.
const ClaimsContextKey ContextKey = "claims"

// ClaimsFromContext returns the admin claims stored by AdminAuth.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(ClaimsContextKey).(*Claims)
	return c, ok && c != nil
}

// AdminAuth verifies the admin bearer token. Browsers cannot set headers on
// websocket upgrades, so an access_token query parameter is accepted too.
func AdminAuth(tokens *TokenIssuer, log logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.URL.Query().Get("access_token")
			if authHeader := r.Header.Get("Authorization"); authHeader != "" {
				parts := strings.Split(authHeader, " ")
				if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
					WriteAPIError(w, http.StatusUnauthorized, "unauthorized", "Authorization header format must be Bearer {token}")
					return
				}
				raw = parts[1]
			}
			if raw == "" {
				WriteAPIError(w, http.StatusUnauthorized, "unauthorized", "Authorization header required")
				return
			}

			claims, err := tokens.ParseAdmin(raw)
			if err != nil {
				if errors.Is(err, ErrNoSecret) {
					log.Warning("admin request rejected: no admin secret configured", "path", r.URL.Path)
				}
				WriteAPIError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
				return
			}

			ctx := context.WithValue(r.Context(), ClaimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireScope checks the admin claims for a permission. It must run after
// AdminAuth.
func RequireScope(required string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				WriteAPIError(w, http.StatusInternalServerError, "internal_error", "claims not found in context")
				return
			}
			if !permissions.Grants(claims.Scopes, required) {
				WriteAPIError(w, http.StatusForbidden, "forbidden", "requires permission '"+required+"'")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequestLogger logs one line per request through the structured logger.
func RequestLogger(log logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start).String(),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
