// Package memory is an in-process repository.Store. State is lost on exit;
// it backs local development and the service tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/creditgate/creditgate/internal/model"
	"github.com/creditgate/creditgate/internal/repository"
)

var _ repository.Store = (*Store)(nil)

// Store keeps users, balances and predictions in maps guarded by one lock.
type Store struct {
	mu sync.RWMutex

	users   map[string]*model.User
	emails  map[string]string // email -> username
	credits map[string]int64

	predictions map[string][]*model.Prediction
	nextID      int64
}

// New creates an empty store.
func New() *Store {
	return &Store{
		users:       make(map[string]*model.User),
		emails:      make(map[string]string),
		credits:     make(map[string]int64),
		predictions: make(map[string][]*model.Prediction),
	}
}

// CreateUserWithCredits inserts the user and its ledger entry.
func (s *Store) CreateUserWithCredits(_ context.Context, user *model.User, startingCredits int64) error {
	if startingCredits < 0 {
		return repository.ErrInvalidAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[user.Username]; exists {
		return repository.ErrUsernameExists
	}
	if _, exists := s.emails[user.Email]; exists {
		return repository.ErrEmailExists
	}

	stored := *user
	s.users[user.Username] = &stored
	s.emails[user.Email] = user.Username
	s.credits[user.Username] = startingCredits
	return nil
}

func (s *Store) GetUserByUsername(_ context.Context, username string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[username]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	out := *u
	return &out, nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	username, ok := s.emails[email]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	out := *s.users[username]
	return &out, nil
}

func (s *Store) SetUserActive(_ context.Context, username string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[username]
	if !ok {
		return repository.ErrUserNotFound
	}
	u.IsActive = active
	return nil
}

func (s *Store) GetBalance(_ context.Context, username string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	amount, ok := s.credits[username]
	if !ok {
		return 0, repository.ErrCreditsNotFound
	}
	return amount, nil
}

func (s *Store) TryDebit(_ context.Context, username string, amount int64) (int64, error) {
	if amount < 0 {
		return 0, repository.ErrInvalidAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.debitLocked(username, amount)
}

func (s *Store) Credit(_ context.Context, username string, amount int64) error {
	if amount < 0 {
		return repository.ErrInvalidAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[username]; !ok {
		return repository.ErrUserNotFound
	}
	s.credits[username] += amount
	return nil
}

// Charge debits amount and appends the prediction under the same lock.
func (s *Store) Charge(_ context.Context, username string, amount int64, prediction *model.Prediction) (int64, error) {
	if amount < 0 {
		return 0, repository.ErrInvalidAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	balance, err := s.debitLocked(username, amount)
	if err != nil {
		return 0, err
	}

	s.nextID++
	prediction.ID = s.nextID
	prediction.RequesterUsername = username

	stored := *prediction
	s.predictions[username] = append(s.predictions[username], &stored)
	return balance, nil
}

func (s *Store) debitLocked(username string, amount int64) (int64, error) {
	current, ok := s.credits[username]
	if !ok {
		return 0, repository.ErrCreditsNotFound
	}
	if current < amount {
		return 0, &repository.InsufficientCreditsError{Balance: current, Required: amount}
	}
	current -= amount
	s.credits[username] = current
	return current, nil
}

// ListPredictions returns up to limit records, newest first.
func (s *Store) ListPredictions(_ context.Context, username string, limit int) ([]*model.Prediction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := s.predictions[username]
	out := make([]*model.Prediction, 0, len(records))
	for _, p := range records {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) CountPredictions(_ context.Context, username string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return int64(len(s.predictions[username])), nil
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() error { return nil }
