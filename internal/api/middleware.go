package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"runtime/debug"
	"slices"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/scanchain/scanchain/internal/auth"
	"github.com/scanchain/scanchain/internal/logging"
	"github.com/scanchain/scanchain/pkg/types"
)

// ContextKey type for context values
type ContextKey string

const (
	// CtxClaimsKey holds the verified *auth.Claims
	CtxClaimsKey ContextKey = "claims"
	// CtxUserKey holds the authenticated auth.User
	CtxUserKey ContextKey = "user"
	// CtxTokenKey holds the raw bearer token
	CtxTokenKey ContextKey = "token"
)

// statusRecorder captures the response status for logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// instrument logs each request and records it under the route pattern.
func (s *Server) instrument(route string, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		handler.ServeHTTP(rec, r)

		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)
		if s.metrics != nil {
			s.metrics.RecordRequest(route, status, elapsed)
		}

		level := logging.Debug
		if status >= http.StatusInternalServerError {
			level = logging.Warn
		}
		level("http request",
			"method", r.Method,
			"route", route,
			"status", status,
			"duration_ms", elapsed.Milliseconds(),
			"ip", s.extractClientIP(r),
			logging.Component("api"))
	})
}

// recoverMiddleware turns a handler panic into a 500.
func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rv := recover(); rv != nil {
				if rv == http.ErrAbortHandler {
					panic(rv)
				}
				logging.Error("panic in HTTP handler",
					"panic", rv,
					"path", r.URL.Path,
					"stack", string(debug.Stack()),
					logging.Component("api"))
				s.writeError(w, http.StatusInternalServerError, "Internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware sets CORS headers and answers preflight requests.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.setCORSHeaders(w, r)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) setCORSHeaders(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		origin = "*"
	}

	if slices.Contains(s.config.AllowedOrigins, "*") || slices.Contains(s.config.AllowedOrigins, origin) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")
	}
}

// rateLimitMiddleware enforces the per-IP request budget.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	if s.config.RateLimit <= 0 {
		return next
	}
	retryAfter := strconv.Itoa(int(s.config.RateLimitWindow.Seconds()))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := s.extractClientIP(r)
		if !s.getRateLimiter(ip).Allow() {
			logging.Warn("rate limit exceeded",
				"ip", ip,
				"path", r.URL.Path,
				"method", r.Method,
				logging.Component("api"))
			w.Header().Set("Retry-After", retryAfter)
			s.writeError(w, http.StatusTooManyRequests, "Too many requests, please try again later")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// getRateLimiter returns the limiter for ip, creating one on first use.
// The bucket refills RateLimit tokens per RateLimitWindow and holds RateLimit.
func (s *Server) getRateLimiter(ip string) *rate.Limiter {
	now := time.Now()

	if val, ok := s.rateLimiters.Load(ip); ok {
		entry := val.(*rateLimiterEntry)
		entry.touch(now)
		return entry.limiter
	}

	window := s.config.RateLimitWindow
	if window <= 0 {
		window = time.Minute
	}
	limiter := rate.NewLimiter(rate.Every(window/time.Duration(s.config.RateLimit)), s.config.RateLimit)
	entry := &rateLimiterEntry{limiter: limiter}
	entry.touch(now)
	actual, _ := s.rateLimiters.LoadOrStore(ip, entry)
	return actual.(*rateLimiterEntry).limiter
}

// extractClientIP returns the client IP. Proxy headers are only trusted
// when TrustProxy is set.
func (s *Server) extractClientIP(r *http.Request) string {
	if s.config.TrustProxy {
		if cfIP := r.Header.Get("CF-Connecting-IP"); cfIP != "" {
			return strings.TrimSpace(cfIP)
		}
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			if idx := strings.IndexByte(xff, ','); idx != -1 {
				return strings.TrimSpace(xff[:idx])
			}
			return strings.TrimSpace(xff)
		}
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			return strings.TrimSpace(xri)
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// bearerToken extracts the token from "Authorization: Bearer <token>".
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// requireAuth rejects requests without a valid session token. A missing
// token is 401; an invalid or expired one is 403.
func (s *Server) requireAuth(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			s.writeError(w, http.StatusUnauthorized, "Access token required")
			return
		}

		claims, user, err := s.auth.VerifyToken(r.Context(), token)
		if err != nil {
			msg := "Invalid or expired token"
			if !errors.Is(err, auth.ErrInvalidToken) && !errors.Is(err, auth.ErrSessionExpired) && !errors.Is(err, auth.ErrNotFound) {
				logging.Error("token verification failed",
					logging.Err(err),
					logging.Component("api"))
			}
			s.writeError(w, http.StatusForbidden, msg)
			return
		}

		ctx := context.WithValue(r.Context(), CtxClaimsKey, claims)
		ctx = context.WithValue(ctx, CtxUserKey, user)
		ctx = context.WithValue(ctx, CtxTokenKey, token)
		handler(w, r.WithContext(ctx))
	}
}

// requireRole is requireAuth plus a role check; failures are 403.
func (s *Server) requireRole(handler http.HandlerFunc, allowed func(types.Role) bool) http.HandlerFunc {
	return s.requireAuth(func(w http.ResponseWriter, r *http.Request) {
		user, _ := userFrom(r.Context())
		if !allowed(user.Role) {
			s.writeError(w, http.StatusForbidden, "Insufficient permissions")
			return
		}
		handler(w, r)
	})
}

func canUpload(role types.Role) bool {
	return role.CanUpload()
}

// userFrom returns the authenticated user stored by requireAuth.
func userFrom(ctx context.Context) (auth.User, bool) {
	user, ok := ctx.Value(CtxUserKey).(auth.User)
	return user, ok
}
