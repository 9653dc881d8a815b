package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func wrapResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{ResponseWriter: w, status: http.StatusOK}
}

func (rw *responseWriter) WriteHeader(code int) {
	if rw.wroteHeader {
		return
	}
	rw.status = code
	rw.wroteHeader = true
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

type logFieldsKey struct{}

// logFields collects attributes that handlers attach to the access log line
// of the current request.
type logFields struct {
	mu    sync.Mutex
	attrs []slog.Attr
}

// AddLogAttrs attaches attributes to the access log line of the request
// carried by ctx: the caller's username, the billed model, the error code.
// It is a no-op outside the Logger middleware.
func AddLogAttrs(ctx context.Context, attrs ...slog.Attr) {
	fields, ok := ctx.Value(logFieldsKey{}).(*logFields)
	if !ok {
		return
	}
	fields.mu.Lock()
	fields.attrs = append(fields.attrs, attrs...)
	fields.mu.Unlock()
}

// Logger returns a middleware that writes one access log line per request.
// Query strings, headers and bodies are never logged.
func Logger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			fields := &logFields{}
			ctx := context.WithValue(r.Context(), logFieldsKey{}, fields)

			wrapped := wrapResponseWriter(w)
			next.ServeHTTP(wrapped, r.WithContext(ctx))

			duration := time.Since(start)

			attrs := []slog.Attr{
				slog.String("request_id", GetRequestID(r.Context())),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status_code", wrapped.status),
				slog.Float64("duration_ms", float64(duration.Microseconds())/1000),
				slog.String("client_ip", getClientIP(r)),
				slog.String("user_agent", r.UserAgent()),
			}

			fields.mu.Lock()
			attrs = append(attrs, fields.attrs...)
			fields.mu.Unlock()

			logger.LogAttrs(r.Context(), levelForStatus(wrapped.status), "http request", attrs...)
		})
	}
}

// levelForStatus picks the log level for an access log line. 402 and 429
// stay at info.
func levelForStatus(status int) slog.Level {
	switch {
	case status >= 500:
		return slog.LevelError
	case status == http.StatusPaymentRequired, status == http.StatusTooManyRequests:
		return slog.LevelInfo
	case status >= 400:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}
