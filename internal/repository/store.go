package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/creditgate/creditgate/internal/model"
)

// Common errors shared by every store backend.
var (
	ErrUserNotFound        = errors.New("user not found")
	ErrEmailExists         = errors.New("email already registered")
	ErrUsernameExists      = errors.New("username already registered")
	ErrCreditsNotFound     = errors.New("credits entry not found")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrInvalidAmount       = errors.New("amount must not be negative")
)

// InsufficientCreditsError reports a rejected debit together with the
// balance observed at the time of rejection.
type InsufficientCreditsError struct {
	Balance  int64
	Required int64
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: balance %d, required %d", e.Balance, e.Required)
}

// Is makes errors.Is(err, ErrInsufficientCredits) match.
func (e *InsufficientCreditsError) Is(target error) bool {
	return target == ErrInsufficientCredits
}

// CredentialStore persists user identities and password hashes.
type CredentialStore interface {
	// CreateUserWithCredits inserts the user and its ledger entry holding
	// startingCredits as one unit. On a duplicate email or username nothing
	// is written.
	CreateUserWithCredits(ctx context.Context, user *model.User, startingCredits int64) error
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	SetUserActive(ctx context.Context, username string, active bool) error
}

// Ledger owns per-user credit balances. Balances never go below zero.
type Ledger interface {
	GetBalance(ctx context.Context, username string) (int64, error)
	// TryDebit subtracts amount if the balance covers it and returns the new
	// balance; otherwise it changes nothing and returns *InsufficientCreditsError.
	TryDebit(ctx context.Context, username string, amount int64) (int64, error)
	// Credit adds amount to the user's balance. It is not idempotent.
	Credit(ctx context.Context, username string, amount int64) error
	// Charge debits amount and appends the prediction record atomically.
	// On any error neither the balance nor the audit log changes.
	Charge(ctx context.Context, username string, amount int64, prediction *model.Prediction) (int64, error)
}

// AuditLog reads the append-only prediction history.
// Records are only appended through Ledger.Charge.
type AuditLog interface {
	ListPredictions(ctx context.Context, username string, limit int) ([]*model.Prediction, error)
	CountPredictions(ctx context.Context, username string) (int64, error)
}

// Store is a complete record store backend.
type Store interface {
	CredentialStore
	Ledger
	AuditLog
	Ping(ctx context.Context) error
	Close() error
}
