// Package service provides business logic for the application.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/creditgate/creditgate/internal/auth"
	"github.com/creditgate/creditgate/internal/metrics"
	"github.com/creditgate/creditgate/internal/model"
	"github.com/creditgate/creditgate/internal/repository"
)

// Authentication errors.
var (
	ErrDuplicateEmail      = errors.New("email already registered")
	ErrDuplicateUsername   = errors.New("username already registered")
	ErrInvalidRegistration = errors.New("invalid registration")
	ErrInvalidCredentials  = errors.New("incorrect username or password")
	ErrUnauthorized        = errors.New("not authenticated")
	ErrForbidden           = errors.New("inactive user")
)

const (
	maxUsernameLength = 64
	minPasswordLength = 8
	maxPasswordLength = 1024

	// accountHistoryLimit caps the predictions returned by Account.
	accountHistoryLimit = 100
)

// Token is an issued bearer token.
type Token struct {
	AccessToken string
	TokenType   string
	ExpiresAt   time.Time
}

// AuthConfig holds the Authenticator settings.
type AuthConfig struct {
	Secret          []byte
	TokenTTL        time.Duration
	StartingCredits int64
}

// Authenticator registers users, issues tokens and resolves tokens back to
// active users.
type Authenticator struct {
	store           repository.Store
	hasher          *auth.PasswordHasher
	tokens          *auth.TokenIssuer
	startingCredits int64
	logger          *slog.Logger
	metrics         metrics.Recorder
	now             func() time.Time
}

// AuthOption configures an Authenticator.
type AuthOption func(*Authenticator)

// WithClock overrides the clock used for timestamps and token validity.
func WithClock(now func() time.Time) AuthOption {
	return func(a *Authenticator) { a.now = now }
}

// WithAuthLogger sets the logger.
func WithAuthLogger(l *slog.Logger) AuthOption {
	return func(a *Authenticator) { a.logger = l }
}

// WithAuthMetrics sets the metrics recorder.
func WithAuthMetrics(m metrics.Recorder) AuthOption {
	return func(a *Authenticator) { a.metrics = m }
}

// NewAuthenticator creates an Authenticator.
func NewAuthenticator(store repository.Store, hasher *auth.PasswordHasher, cfg AuthConfig, opts ...AuthOption) *Authenticator {
	a := &Authenticator{
		store:           store,
		hasher:          hasher,
		startingCredits: cfg.StartingCredits,
		logger:          slog.Default(),
		metrics:         metrics.NewNoop(),
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.tokens = auth.NewTokenIssuer(cfg.Secret, cfg.TokenTTL, auth.WithTokenClock(a.now))
	return a
}

// Register creates an active user holding the starting credits. The user
// row and the ledger entry are written together; on a duplicate email
// nothing is written and no credits are granted.
func (a *Authenticator) Register(ctx context.Context, req model.UserCreateRequest) (*model.User, error) {
	if err := validateRegistration(req); err != nil {
		a.metrics.IncRegistration("invalid")
		return nil, err
	}

	hash, err := a.hasher.Hash(req.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &model.User{
		Username:     req.Username,
		Email:        strings.TrimSpace(req.Email),
		PasswordHash: hash,
		IsActive:     true,
		CreatedAt:    a.now().UTC().Truncate(time.Microsecond),
	}

	if err := a.store.CreateUserWithCredits(ctx, user, a.startingCredits); err != nil {
		switch {
		case errors.Is(err, repository.ErrEmailExists):
			a.metrics.IncRegistration("duplicate")
			return nil, ErrDuplicateEmail
		case errors.Is(err, repository.ErrUsernameExists):
			a.metrics.IncRegistration("duplicate")
			return nil, ErrDuplicateUsername
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	a.metrics.IncRegistration("success")
	a.logger.Info("user registered",
		"username", user.Username,
		"starting_credits", a.startingCredits,
	)
	return user, nil
}

func validateRegistration(req model.UserCreateRequest) error {
	switch {
	case req.Username == "":
		return fmt.Errorf("%w: username is required", ErrInvalidRegistration)
	case utf8.RuneCountInString(req.Username) > maxUsernameLength:
		return fmt.Errorf("%w: username longer than %d characters", ErrInvalidRegistration, maxUsernameLength)
	case strings.IndexFunc(req.Username, unicode.IsSpace) >= 0:
		return fmt.Errorf("%w: username must not contain whitespace", ErrInvalidRegistration)
	case len(req.Password) < minPasswordLength:
		return fmt.Errorf("%w: password shorter than %d characters", ErrInvalidRegistration, minPasswordLength)
	case len(req.Password) > maxPasswordLength:
		return fmt.Errorf("%w: password longer than %d characters", ErrInvalidRegistration, maxPasswordLength)
	}

	addr, err := mail.ParseAddress(strings.TrimSpace(req.Email))
	if err != nil || addr.Address != strings.TrimSpace(req.Email) {
		return fmt.Errorf("%w: invalid email address", ErrInvalidRegistration)
	}
	return nil
}

// Login checks credentials and issues a bearer token. Unknown usernames
// and wrong passwords fail identically and take the same time.
func (a *Authenticator) Login(ctx context.Context, username, password string) (*Token, error) {
	user, err := a.store.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			a.hasher.VerifyDummy(password)
			a.metrics.IncLogin("failed")
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	ok, err := a.hasher.Verify(password, user.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		a.metrics.IncLogin("failed")
		return nil, ErrInvalidCredentials
	}

	access, expiresAt, err := a.tokens.Issue(user.Username)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}

	a.metrics.IncLogin("success")
	return &Token{
		AccessToken: access,
		TokenType:   auth.TokenType,
		ExpiresAt:   expiresAt,
	}, nil
}

// Authenticate resolves a bearer token to its user. The user must still
// exist and be active.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (*model.User, error) {
	if token == "" {
		return nil, ErrUnauthorized
	}

	username, err := a.tokens.Parse(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}

	user, err := a.store.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	if !user.IsActive {
		return nil, ErrForbidden
	}
	return user, nil
}

// Account returns the account view of user: profile, balance and the
// most recent billed predictions.
func (a *Authenticator) Account(ctx context.Context, user *model.User) (model.UserResponse, error) {
	balance, err := a.store.GetBalance(ctx, user.Username)
	if err != nil {
		return model.UserResponse{}, fmt.Errorf("get balance: %w", err)
	}

	history, err := a.store.ListPredictions(ctx, user.Username, accountHistoryLimit)
	if err != nil {
		return model.UserResponse{}, fmt.Errorf("list predictions: %w", err)
	}

	resp := user.ToResponse(history)
	resp.Credits = &balance
	return resp, nil
}
