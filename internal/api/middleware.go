package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

type contextKey int

const (
	ctxKeyAuthTenant contextKey = iota
	ctxKeyLogger
)

// AuthTenant holds the tenant resolved from the request's API key.
type AuthTenant struct {
	TenantID string
	Name     string
	KeyID    string
}

// getTenantFromContext returns the authenticated tenant from the request context, or nil.
func getTenantFromContext(ctx context.Context) *AuthTenant {
	t, _ := ctx.Value(ctxKeyAuthTenant).(*AuthTenant)
	return t
}

// logFor returns the context-scoped logger, falling back to the default logger.
func logFor(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxKeyLogger).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// traceMiddleware tags the request with an id (a well-formed incoming
// X-Request-ID is kept) and a logger carrying it and the calling device.
func traceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if !validRequestID(id) {
			id = generateRequestID()
		}
		w.Header().Set("X-Request-ID", id)

		l := slog.Default().With("rid", id)
		if dev := r.Header.Get("X-Device-ID"); dev != "" && len(dev) <= 64 {
			l = l.With("device", dev)
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKeyLogger, l)))
	})
}

func validRequestID(id string) bool {
	if id == "" || len(id) > 64 {
		return false
	}
	for _, c := range id {
		if !(c == '-' || c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z') {
			return false
		}
	}
	return true
}

func generateRequestID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "unknown"
	}
	return hex.EncodeToString(b)
}

// statusCapture wraps ResponseWriter to capture the status code.
type statusCapture struct {
	http.ResponseWriter
	code int
}

func (sc *statusCapture) WriteHeader(code int) {
	sc.code = code
	sc.ResponseWriter.WriteHeader(code)
}

// observeMiddleware counts the request in m and logs it once it completes.
// Health probes are counted but not logged.
func observeMiddleware(m *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			m.RecordRequest()
			sc := &statusCapture{ResponseWriter: w, code: http.StatusOK}
			next.ServeHTTP(sc, r)

			level := slog.LevelInfo
			switch {
			case sc.code >= 500:
				m.RecordError()
				level = slog.LevelError
			case sc.code >= 400:
				m.RecordClientError()
				level = slog.LevelWarn
			case r.URL.Path == "/healthz":
				return
			}
			logFor(r.Context()).Log(r.Context(), level, "req",
				"method", r.Method,
				"path", r.URL.Path,
				"status", sc.code,
				"dur", time.Since(start).String(),
			)
		})
	}
}

// recoveryMiddleware turns a handler panic into a 500.
func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logFor(r.Context()).Error("panic recovered", "panic", rec, "path", r.URL.Path)
				writeError(w, http.StatusInternalServerError, ErrCodeInternal, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// requireAuth returns an http.HandlerFunc that verifies the Bearer token
// and injects AuthTenant into the context before calling the inner handler.
// Every failed attempt counts against the caller's IP limit.
func (s *Server) requireAuth(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			s.rejectAuth(w, r, "missing authorization header")
			return
		}

		if !strings.HasPrefix(authHeader, "Bearer ") {
			s.rejectAuth(w, r, "invalid authorization format")
			return
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		ak, tenant, err := s.store.VerifyAPIKey(token)
		if err != nil {
			logFor(r.Context()).Error("verify api key", "err", err)
			writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to verify key")
			return
		}
		if ak == nil || tenant == nil {
			s.rejectAuth(w, r, "invalid or expired api key")
			return
		}

		auth := &AuthTenant{
			TenantID: tenant.ID,
			Name:     tenant.Name,
			KeyID:    ak.ID,
		}

		ctx := context.WithValue(r.Context(), ctxKeyAuthTenant, auth)
		ctx = context.WithValue(ctx, ctxKeyLogger, logFor(ctx).With("tenant", tenant.ID))
		handler(w, r.WithContext(ctx))
	}
}

// rejectAuth answers 401, or 429 once the IP has failed too often.
func (s *Server) rejectAuth(w http.ResponseWriter, r *http.Request, msg string) {
	ip := clientIP(r)
	if !s.rateLimiter.Allow("ip:"+ip, s.config.RateLimitIP) {
		if err := s.store.InsertRateLimitEvent("", ip, "auth"); err != nil {
			logFor(r.Context()).Error("log rate limit event", "err", err)
		}
		writeError(w, http.StatusTooManyRequests, ErrCodeRateLimited, "rate limit exceeded")
		return
	}
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, msg)
}

// maxBytesMiddleware limits request body size to prevent abuse.
func maxBytesMiddleware(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

// chain applies middleware in order (first applied is outermost).
func chain(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
