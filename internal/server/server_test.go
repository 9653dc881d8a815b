package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"
)

func TestShutdown_RunsHooksInReverseOrder(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := New(http.NotFoundHandler(), Config{Port: 0, ShutdownTimeout: time.Second}, logger)

	var order []string
	for _, name := range []string{"store", "cache", "usage"} {
		srv.OnShutdown(name, func(context.Context) error {
			order = append(order, name)
			return nil
		})
	}

	if err := srv.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	want := []string{"usage", "cache", "store"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestShutdown_ContinuesAfterHookError(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := New(http.NotFoundHandler(), Config{ShutdownTimeout: time.Second}, logger)

	errFlush := errors.New("flush failed")
	ran := false
	srv.OnShutdown("store", func(context.Context) error {
		ran = true
		return nil
	})
	srv.OnShutdown("usage", func(context.Context) error { return errFlush })

	err := srv.Shutdown(context.Background())
	if !errors.Is(err, errFlush) {
		t.Errorf("Shutdown() error = %v, want %v", err, errFlush)
	}
	if !ran {
		t.Error("earlier hook did not run after a failing hook")
	}
}

func TestNew_Addr(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := New(http.NotFoundHandler(), Config{Port: 8081}, logger)
	if got := srv.Addr(); got != ":8081" {
		t.Errorf("Addr() = %q, want :8081", got)
	}
}
