// Package backend opens the record store named by DATABASE_URL.
package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/creditgate/creditgate/internal/repository"
	"github.com/creditgate/creditgate/internal/repository/memory"
	"github.com/creditgate/creditgate/internal/repository/sqlite"
)

// ErrUnsupportedScheme indicates a DATABASE_URL no backend understands.
var ErrUnsupportedScheme = errors.New("unsupported database url scheme")

// Kind names a store implementation.
type Kind string

// Supported store kinds.
const (
	Postgres Kind = "postgres"
	SQLite   Kind = "sqlite"
	Memory   Kind = "memory"
)

// KindOf reports which backend serves databaseURL.
func KindOf(databaseURL string) (Kind, error) {
	scheme, _, ok := strings.Cut(databaseURL, "://")
	if !ok {
		return "", fmt.Errorf("%w: missing scheme", ErrUnsupportedScheme)
	}
	switch strings.ToLower(scheme) {
	case "postgres", "postgresql":
		return Postgres, nil
	case "sqlite":
		return SQLite, nil
	case "memory":
		return Memory, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedScheme, scheme)
	}
}

// Open connects to the store and applies pending migrations.
func Open(ctx context.Context, databaseURL string) (repository.Store, Kind, error) {
	kind, err := KindOf(databaseURL)
	if err != nil {
		return nil, "", err
	}

	switch kind {
	case Postgres:
		if err := repository.RunMigrations(databaseURL); err != nil {
			return nil, kind, err
		}
		repo, err := repository.New(ctx, databaseURL)
		if err != nil {
			return nil, kind, err
		}
		return repo, kind, nil
	case SQLite:
		path, err := sqlite.PathFromURL(databaseURL)
		if err != nil {
			return nil, kind, err
		}
		store, err := sqlite.Open(path)
		if err != nil {
			return nil, kind, err
		}
		return store, kind, nil
	default:
		return memory.New(), kind, nil
	}
}
