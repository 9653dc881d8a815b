package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/creditgate/creditgate/internal/model"
)

// GetBalance returns the current balance of a user.
func (r *Repository) GetBalance(ctx context.Context, username string) (int64, error) {
	var amount int64
	err := r.pool.QueryRow(ctx,
		`SELECT amount FROM credits WHERE owner_username = $1`,
		username,
	).Scan(&amount)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrCreditsNotFound
		}
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}

	return amount, nil
}

// TryDebit subtracts amount from the balance if it is covered.
func (r *Repository) TryDebit(ctx context.Context, username string, amount int64) (int64, error) {
	if amount < 0 {
		return 0, ErrInvalidAmount
	}

	var balance int64
	err := r.withTx(ctx, func(tx pgx.Tx) error {
		var err error
		balance, err = debitTx(ctx, tx, username, amount)
		return err
	})
	return balance, err
}

// Credit adds amount to the balance, creating the ledger entry if needed.
func (r *Repository) Credit(ctx context.Context, username string, amount int64) error {
	if amount < 0 {
		return ErrInvalidAmount
	}

	return r.withTx(ctx, func(tx pgx.Tx) error {
		return creditTx(ctx, tx, username, amount)
	})
}

// Charge debits amount and appends the prediction in one transaction.
// The prediction's ID is filled in from the store.
func (r *Repository) Charge(ctx context.Context, username string, amount int64, prediction *model.Prediction) (int64, error) {
	if amount < 0 {
		return 0, ErrInvalidAmount
	}

	var balance int64
	err := r.withTx(ctx, func(tx pgx.Tx) error {
		var err error
		balance, err = debitTx(ctx, tx, username, amount)
		if err != nil {
			return err
		}

		query := `
			INSERT INTO predictions (model_type, created_at, requester_username)
			VALUES ($1, $2, $3)
			RETURNING id
		`
		if err := tx.QueryRow(ctx, query,
			prediction.ModelType.String(),
			prediction.CreatedAt,
			username,
		).Scan(&prediction.ID); err != nil {
			return fmt.Errorf("failed to append prediction: %w", err)
		}

		prediction.RequesterUsername = username
		return nil
	})
	if err != nil {
		return 0, err
	}

	return balance, nil
}

// debitTx performs the conditional decrement. The UPDATE takes the row lock,
// so concurrent debits for one user serialize on it and the WHERE clause is
// re-checked against the committed balance.
func debitTx(ctx context.Context, tx pgx.Tx, username string, amount int64) (int64, error) {
	var balance int64
	err := tx.QueryRow(ctx, `
		UPDATE credits
		SET amount = amount - $2
		WHERE owner_username = $1 AND amount >= $2
		RETURNING amount
	`, username, amount).Scan(&balance)

	if err == nil {
		return balance, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("failed to debit credits: %w", err)
	}

	// Either the entry is missing or the balance is too low.
	var current int64
	err = tx.QueryRow(ctx, `SELECT amount FROM credits WHERE owner_username = $1`, username).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrCreditsNotFound
		}
		return 0, fmt.Errorf("failed to read balance: %w", err)
	}

	return 0, &InsufficientCreditsError{Balance: current, Required: amount}
}

func creditTx(ctx context.Context, tx pgx.Tx, username string, amount int64) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO credits (owner_username, amount)
		VALUES ($1, $2)
		ON CONFLICT (owner_username) DO UPDATE SET amount = credits.amount + EXCLUDED.amount
	`, username, amount)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return ErrUserNotFound
		}
		return fmt.Errorf("failed to credit: %w", err)
	}
	return nil
}

// withTx runs fn in a transaction that is committed when fn returns nil and
// rolled back on every other exit path.
func (r *Repository) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
