package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	moderncsqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/creditgate/creditgate/internal/model"
	"github.com/creditgate/creditgate/internal/repository"
)

var _ repository.Store = (*Store)(nil)

const timeLayout = time.RFC3339Nano

// Store is the SQLite implementation of repository.Store.
type Store struct {
	db *DB
}

// Open opens the database at path and applies migrations.
func Open(path string) (*Store, error) {
	db, err := NewDB(path)
	if err != nil {
		return nil, err
	}
	if err := RunMigrations(db.Writer); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Ping checks both connections.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.Writer.PingContext(ctx); err != nil {
		return err
	}
	return s.db.Reader.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateUserWithCredits inserts the user and the ledger entry in one transaction.
func (s *Store) CreateUserWithCredits(ctx context.Context, user *model.User, startingCredits int64) error {
	if startingCredits < 0 {
		return repository.ErrInvalidAmount
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO users (username, email, password_hash, is_active, created_at) VALUES (?, ?, ?, ?, ?)`,
			user.Username, user.Email, user.PasswordHash, user.IsActive, user.CreatedAt.UTC().Format(timeLayout),
		)
		if err != nil {
			return mapUserInsertError(err)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO credits (owner_username, amount) VALUES (?, ?)`,
			user.Username, startingCredits,
		)
		if err != nil {
			return fmt.Errorf("create credits entry: %w", err)
		}
		return nil
	})
}

func mapUserInsertError(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed: users.email"):
		return repository.ErrEmailExists
	case strings.Contains(msg, "UNIQUE constraint failed: users.username"):
		return repository.ErrUsernameExists
	}
	return fmt.Errorf("create user: %w", err)
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	return s.getUser(ctx, `WHERE username = ?`, username)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return s.getUser(ctx, `WHERE email = ?`, email)
}

func (s *Store) getUser(ctx context.Context, where string, arg string) (*model.User, error) {
	query := `SELECT username, email, password_hash, is_active, created_at FROM users ` + where

	var (
		u         model.User
		createdAt string
	)
	err := s.db.Reader.QueryRowContext(ctx, query, arg).Scan(
		&u.Username, &u.Email, &u.PasswordHash, &u.IsActive, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}

	if u.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	return &u, nil
}

func (s *Store) SetUserActive(ctx context.Context, username string, active bool) error {
	res, err := s.db.Writer.ExecContext(ctx, `UPDATE users SET is_active = ? WHERE username = ?`, active, username)
	if err != nil {
		return fmt.Errorf("set user active: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set user active: %w", err)
	}
	if n == 0 {
		return repository.ErrUserNotFound
	}
	return nil
}

// GetBalance reads through the writer so a read right after a debit
// observes it.
func (s *Store) GetBalance(ctx context.Context, username string) (int64, error) {
	var amount int64
	err := s.db.Writer.QueryRowContext(ctx,
		`SELECT amount FROM credits WHERE owner_username = ?`, username,
	).Scan(&amount)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, repository.ErrCreditsNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("get balance: %w", err)
	}
	return amount, nil
}

func (s *Store) TryDebit(ctx context.Context, username string, amount int64) (int64, error) {
	if amount < 0 {
		return 0, repository.ErrInvalidAmount
	}

	var balance int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		balance, err = debitTx(ctx, tx, username, amount)
		return err
	})
	return balance, err
}

func (s *Store) Credit(ctx context.Context, username string, amount int64) error {
	if amount < 0 {
		return repository.ErrInvalidAmount
	}

	_, err := s.db.Writer.ExecContext(ctx, `
		INSERT INTO credits (owner_username, amount) VALUES (?, ?)
		ON CONFLICT (owner_username) DO UPDATE SET amount = amount + excluded.amount
	`, username, amount)
	if err != nil {
		if isForeignKeyViolation(err) {
			return repository.ErrUserNotFound
		}
		return fmt.Errorf("credit: %w", err)
	}
	return nil
}

func isForeignKeyViolation(err error) bool {
	var sqliteErr *moderncsqlite.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY
}

// Charge debits amount and appends the prediction in one transaction.
func (s *Store) Charge(ctx context.Context, username string, amount int64, prediction *model.Prediction) (int64, error) {
	if amount < 0 {
		return 0, repository.ErrInvalidAmount
	}

	var balance int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		balance, err = debitTx(ctx, tx, username, amount)
		if err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx,
			`INSERT INTO predictions (model_type, created_at, requester_username) VALUES (?, ?, ?)`,
			prediction.ModelType.String(), prediction.CreatedAt.UTC().Format(timeLayout), username,
		)
		if err != nil {
			return fmt.Errorf("append prediction: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("append prediction: %w", err)
		}

		prediction.ID = id
		prediction.RequesterUsername = username
		return nil
	})
	if err != nil {
		return 0, err
	}
	return balance, nil
}

func debitTx(ctx context.Context, tx *sql.Tx, username string, amount int64) (int64, error) {
	var balance int64
	err := tx.QueryRowContext(ctx, `
		UPDATE credits SET amount = amount - ?
		WHERE owner_username = ? AND amount >= ?
		RETURNING amount
	`, amount, username, amount).Scan(&balance)
	if err == nil {
		return balance, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("debit credits: %w", err)
	}

	var current int64
	err = tx.QueryRowContext(ctx, `SELECT amount FROM credits WHERE owner_username = ?`, username).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, repository.ErrCreditsNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("read balance: %w", err)
	}
	return 0, &repository.InsufficientCreditsError{Balance: current, Required: amount}
}

func (s *Store) ListPredictions(ctx context.Context, username string, limit int) ([]*model.Prediction, error) {
	rows, err := s.db.Writer.QueryContext(ctx, `
		SELECT id, model_type, created_at, requester_username
		FROM predictions
		WHERE requester_username = ?
		ORDER BY id DESC
		LIMIT ?
	`, username, limit)
	if err != nil {
		return nil, fmt.Errorf("list predictions: %w", err)
	}
	defer rows.Close()

	out := make([]*model.Prediction, 0)
	for rows.Next() {
		var (
			p         model.Prediction
			modelType string
			createdAt string
		)
		if err := rows.Scan(&p.ID, &modelType, &createdAt, &p.RequesterUsername); err != nil {
			return nil, fmt.Errorf("scan prediction: %w", err)
		}
		p.ModelType = model.ModelType(modelType)
		if p.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		out = append(out, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate predictions: %w", err)
	}
	return out, nil
}

func (s *Store) CountPredictions(ctx context.Context, username string) (int64, error) {
	var n int64
	err := s.db.Writer.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM predictions WHERE requester_username = ?`, username,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count predictions: %w", err)
	}
	return n, nil
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
