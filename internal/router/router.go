package router

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/englishbuds/internal/course"
	"github.com/ovaphlow/englishbuds/internal/events"
	"github.com/ovaphlow/englishbuds/internal/oidc"
	"github.com/ovaphlow/englishbuds/internal/profile"
	"github.com/ovaphlow/englishbuds/pkg/utilities"
)

// loggingResponseWriter wraps http.ResponseWriter to capture status and size.
type loggingResponseWriter struct {
	http.ResponseWriter
	status int
	size   int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.status = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	if lrw.status == 0 {
		lrw.status = http.StatusOK
	}
	n, err := lrw.ResponseWriter.Write(b)
	lrw.size += n
	return n, err
}

// Hijack lets the websocket upgrade through the logging wrapper.
func (lrw *loggingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := lrw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	lrw.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (lrw *loggingResponseWriter) Unwrap() http.ResponseWriter { return lrw.ResponseWriter }

type requestIDKey struct{}

// RequestIDMiddleware tags every request with a snowflake id, reusing an
// incoming X-Request-Id when present.
func RequestIDMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Request-Id")
			if id == "" {
				id = utilities.NewSnowflakeID()
			}
			w.Header().Set("X-Request-Id", id)
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
		})
	}
}

// RequestID returns the id assigned by RequestIDMiddleware.
func RequestID(r *http.Request) string {
	id, _ := r.Context().Value(requestIDKey{}).(string)
	return id
}

// LoggingMiddleware returns a middleware that logs requests at debug level using the provided sugared logger.
func LoggingMiddleware(logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			lrw := &loggingResponseWriter{ResponseWriter: w}
			next.ServeHTTP(lrw, r)
			dur := time.Since(start)
			// ensure status is set
			status := lrw.status
			if status == 0 {
				status = http.StatusOK
			}
			logger.Debugw("http request",
				"request_id", RequestID(r),
				"method", r.Method,
				"path", r.URL.Path,
				"remote", r.RemoteAddr,
				"status", status,
				"duration_ms", float64(dur.Microseconds())/1000.0,
				"size", lrw.size,
			)
		})
	}
}

// SecurityHeadersMiddleware sets common HTTP security headers. The API only
// serves JSON, so the content policy denies everything.
func SecurityHeadersMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "no-referrer")
			w.Header().Set("Cache-Control", "no-store")
			if w.Header().Get("Content-Security-Policy") == "" {
				w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
			}
			// HSTS only over TLS, 30 days
			if r.TLS != nil {
				w.Header().Set("Strict-Transport-Security", "max-age=2592000; includeSubDomains")
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Handlers are the feature handlers mounted by RegisterRoutes.
type Handlers struct {
	Auth     *oidc.Handler
	Profiles *profile.Handler
	Events   *events.Handler
	Courses  *course.Handler
}

// RegisterRoutes mounts HTTP handlers on the standard library's http.ServeMux.
func RegisterRoutes(logger *zap.SugaredLogger, h Handlers) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	authed := func(f http.HandlerFunc) http.Handler { return h.Auth.Authenticate(f) }

	// auth
	mux.HandleFunc("GET /.well-known/openid-configuration", h.Auth.Discovery)
	mux.HandleFunc("GET /jwks.json", h.Auth.JWKS)
	mux.HandleFunc("POST /auth/v1/signup", h.Auth.Signup)
	mux.HandleFunc("POST /auth/v1/token", h.Auth.Token)
	mux.Handle("POST /auth/v1/logout", authed(h.Auth.Logout))
	mux.Handle("GET /auth/v1/user", authed(h.Auth.User))
	if h.Events != nil {
		mux.Handle("GET /auth/v1/events", authed(h.Events.Subscribe))
	}

	// profiles
	mux.Handle("GET /rest/v1/profiles/{id}", authed(h.Profiles.Get))
	mux.Handle("POST /rest/v1/profiles", authed(h.Profiles.Create))
	mux.Handle("PATCH /rest/v1/profiles/{id}", authed(h.Profiles.Update))

	// course catalog, read only
	if h.Courses != nil {
		mux.Handle("GET /rest/v1/courses", authed(h.Courses.List))
		mux.Handle("GET /rest/v1/courses/purchased", authed(h.Courses.Purchased))
		mux.Handle("GET /rest/v1/courses/{id}/contents", authed(h.Courses.Contents))
	}

	// outermost first: request id, then logging, then security headers
	handler := RequestIDMiddleware()(LoggingMiddleware(logger)(SecurityHeadersMiddleware()(mux)))
	return handler
}
