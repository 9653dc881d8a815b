//go:build integration

package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/creditgate/creditgate/internal/cache"
	"github.com/creditgate/creditgate/internal/testutil"
)

// TestIntegrationRateLimitIP_Concurrency drives the middleware against Redis
// from many goroutines sharing one client IP.
func TestIntegrationRateLimitIP_Concurrency(t *testing.T) {
	ctx := context.Background()

	redisURL := testutil.RequireEnv(t, "REDIS_URL")
	cacheClient, err := cache.New(ctx, redisURL)
	if err != nil {
		t.Fatalf("connect redis: %v", err)
	}
	defer cacheClient.Close()

	scope := testutil.UniqueID("it-scope")
	burst := 3
	cfg := RateLimitConfig{
		Logger:  discardLogger(),
		Limiter: cacheClient,
		Enabled: true,
		RPS:     1,
		Burst:   burst,
	}
	handler := RateLimitIP(cfg, scope)(okHandler())

	var allowed, rejected int64
	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := httptest.NewRequest(http.MethodPost, "/predict", nil)
			req.RemoteAddr = "192.0.2.100:4000"
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			switch rec.Code {
			case http.StatusOK:
				atomic.AddInt64(&allowed, 1)
			case http.StatusTooManyRequests:
				atomic.AddInt64(&rejected, 1)
			}
		}()
	}
	wg.Wait()

	t.Logf("IP rate limit: %d allowed, %d rejected", allowed, rejected)

	// One extra token may refill while the burst drains.
	if allowed > int64(burst+1) {
		t.Errorf("allowed = %d, want <= %d", allowed, burst+1)
	}
	if rejected == 0 {
		t.Error("expected some requests to be rejected")
	}
}
