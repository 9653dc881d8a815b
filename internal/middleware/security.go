package middleware

import (
	"fmt"
	"net/http"
)

// SecurityConfig holds configuration for security headers and body limits.
type SecurityConfig struct {
	// IsDevelopment disables HSTS in dev environments.
	IsDevelopment bool
	// MaxRequestBodySize caps registration and token bodies, in bytes.
	MaxRequestBodySize int64
	// MaxPredictBodySize caps the raw model input of POST /predict, in bytes.
	MaxPredictBodySize int64
}

// DefaultSecurityConfig returns production defaults: 64KB for account
// bodies, 1MB for prediction input.
func DefaultSecurityConfig() SecurityConfig {
	return SecurityConfig{
		IsDevelopment:      false,
		MaxRequestBodySize: 64 << 10,
		MaxPredictBodySize: 1 << 20,
	}
}

// Security returns a middleware that applies security headers to all responses.
//
// Responses carry bearer tokens, balances and prediction results, so nothing
// is cacheable and nothing may be framed or sniffed. Handlers serving static
// documents may override Cache-Control.
func Security(cfg SecurityConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-XSS-Protection", "0")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
			h.Set("Permissions-Policy", "geolocation=(), microphone=(), camera=(), payment=(), usb=()")
			h.Set("Cross-Origin-Opener-Policy", "same-origin")
			h.Set("Cross-Origin-Resource-Policy", "same-origin")
			h.Set("Cache-Control", "no-store")

			// One year, only over HTTPS deployments.
			if !cfg.IsDevelopment {
				h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains; preload")
			}

			h.Del("Server")

			next.ServeHTTP(w, r)
		})
	}
}

// MaxBodySize returns a middleware that limits request body size. A
// declared Content-Length over the limit is rejected up front; bodies of
// unknown length fail with *http.MaxBytesError when read past the limit,
// which the handlers report as 413. A limit <= 0 disables the check.
func MaxBodySize(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if maxBytes <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil && r.ContentLength > maxBytes {
				writePayloadTooLarge(w, maxBytes)
				return
			}

			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

			next.ServeHTTP(w, r)
		})
	}
}

func writePayloadTooLarge(w http.ResponseWriter, limit int64) {
	msg := fmt.Sprintf("Request body exceeds %d bytes", limit)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusRequestEntityTooLarge)
	_, _ = fmt.Fprintf(w, `{"detail":%q,"error":{"code":"PAYLOAD_TOO_LARGE","message":%q}}`, msg, msg)
}
