package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/creditgate/creditgate/internal/model"
)

// Constraint names from migrations/000001_users.up.sql.
const (
	usersPkeyConstraint  = "users_pkey"
	usersEmailConstraint = "users_email_key"
)

// CreateUserWithCredits inserts a user and grants the starting balance in a
// single transaction.
func (r *Repository) CreateUserWithCredits(ctx context.Context, user *model.User, startingCredits int64) error {
	if startingCredits < 0 {
		return ErrInvalidAmount
	}

	return r.withTx(ctx, func(tx pgx.Tx) error {
		query := `
			INSERT INTO users (username, email, password_hash, is_active, created_at)
			VALUES ($1, $2, $3, $4, $5)
		`

		_, err := tx.Exec(ctx, query,
			user.Username,
			user.Email,
			user.PasswordHash,
			user.IsActive,
			user.CreatedAt,
		)
		if err != nil {
			return mapUserInsertError(err)
		}

		if err := creditTx(ctx, tx, user.Username, startingCredits); err != nil {
			return fmt.Errorf("failed to grant starting credits: %w", err)
		}

		return nil
	})
}

// GetUserByUsername retrieves a user by username.
func (r *Repository) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	query := `
		SELECT username, email, password_hash, is_active, created_at
		FROM users
		WHERE username = $1
	`

	user, err := scanUser(r.pool.QueryRow(ctx, query, username))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user by username: %w", err)
	}

	return user, nil
}

// GetUserByEmail retrieves a user by their email address.
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	query := `
		SELECT username, email, password_hash, is_active, created_at
		FROM users
		WHERE email = $1
	`

	user, err := scanUser(r.pool.QueryRow(ctx, query, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}

	return user, nil
}

// SetUserActive flips the is_active flag.
func (r *Repository) SetUserActive(ctx context.Context, username string, active bool) error {
	result, err := r.pool.Exec(ctx, `UPDATE users SET is_active = $2 WHERE username = $1`, username, active)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrUserNotFound
	}

	return nil
}

func scanUser(row pgx.Row) (*model.User, error) {
	var user model.User
	err := row.Scan(
		&user.Username,
		&user.Email,
		&user.PasswordHash,
		&user.IsActive,
		&user.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// mapUserInsertError converts unique violations on the users table into
// domain errors.
func mapUserInsertError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		switch pgErr.ConstraintName {
		case usersEmailConstraint:
			return ErrEmailExists
		case usersPkeyConstraint:
			return ErrUsernameExists
		}
	}
	return fmt.Errorf("failed to create user: %w", err)
}
