package http

import (
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/example/daily-engagement/internal/application"
	"github.com/example/daily-engagement/internal/logging"
)

// UserIDHeader carries the caller identity verified by the upstream gateway.
const UserIDHeader = "X-User-ID"

// AdminKeyChecker verifies administrator keys.
type AdminKeyChecker interface {
	Verify(key string) bool
}

// RequireIdentity attaches the caller's principal to the request context. The
// user comes from UserIDHeader; a bearer token that passes checker grants the
// administrator role. A presented but wrong key is rejected.
func RequireIdentity(checker AdminKeyChecker, logger *slog.Logger) func(http.Handler) http.Handler {
	responder := newResponder(logger)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := strings.TrimSpace(r.Header.Get(UserIDHeader))
			if userID == "" {
				responder.writeError(r.Context(), w, http.StatusUnauthorized, errMissingIdentity)
				return
			}

			principal := application.Principal{UserID: userID}
			if key := bearerToken(r); key != "" {
				if checker == nil || !checker.Verify(key) {
					responder.writeError(r.Context(), w, http.StatusUnauthorized, errInvalidAdminKey)
					return
				}
				principal.IsAdmin = true
			}

			ctx := ContextWithPrincipal(r.Context(), principal)
			if logger := LoggerFromContext(ctx); logger != nil {
				ctx = logging.ContextWithLogger(ctx, logger.With("user_id", principal.UserID, "admin", principal.IsAdmin))
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) < len("Bearer ") || !strings.EqualFold(header[:len("Bearer ")], "Bearer ") {
		return ""
	}
	return strings.TrimSpace(header[len("Bearer "):])
}

func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	if base == nil {
		base = slog.Default()
	}
	var counter atomic.Uint64

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := counter.Add(1)
			logger := base.With(
				"request_id", id,
				"method", r.Method,
				"path", r.URL.Path,
			)

			ctx := logging.ContextWithLogger(r.Context(), logger)
			start := time.Now()
			logger.DebugContext(ctx, "request started")
			next.ServeHTTP(w, r.WithContext(ctx))
			logger.InfoContext(ctx, "request completed", "duration", time.Since(start))
		})
	}
}
