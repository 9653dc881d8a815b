// Command accountctl administers accounts directly in the record store:
// activate or deactivate a user, inspect a balance, or grant credits.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/creditgate/creditgate/internal/repository"
	"github.com/creditgate/creditgate/internal/repository/backend"
)

type options struct {
	username   string
	activate   bool
	deactivate bool
	balance    bool
	credit     int64
	history    int
	format     string
}

type output struct {
	Username    string           `json:"username" yaml:"username"`
	Email       string           `json:"email" yaml:"email"`
	IsActive    bool             `json:"is_active" yaml:"is_active"`
	Balance     *int64           `json:"balance,omitempty" yaml:"balance,omitempty"`
	Predictions []predictionLine `json:"predictions,omitempty" yaml:"predictions,omitempty"`
}

type predictionLine struct {
	ID        int64     `json:"id" yaml:"id"`
	ModelType string    `json:"model_type" yaml:"model_type"`
	Datetime  time.Time `json:"datetime" yaml:"datetime"`
}

func main() {
	var (
		databaseURL = flag.String("database-url", os.Getenv("DATABASE_URL"), "Record store URL (postgres://, sqlite://)")
		opts        options
	)
	flag.StringVar(&opts.username, "user", "", "Username to operate on")
	flag.BoolVar(&opts.activate, "activate", false, "Mark the user active")
	flag.BoolVar(&opts.deactivate, "deactivate", false, "Mark the user inactive")
	flag.BoolVar(&opts.balance, "balance", false, "Print the user's credit balance")
	flag.Int64Var(&opts.credit, "credit", 0, "Add this many credits to the user's balance")
	flag.IntVar(&opts.history, "history", 0, "Print the N most recent predictions")
	flag.StringVar(&opts.format, "format", "plain", "Output format: plain, json or yaml")
	flag.Parse()

	if *databaseURL == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is required")
		os.Exit(1)
	}
	if kind, err := backend.KindOf(*databaseURL); err == nil && kind == backend.Memory {
		fmt.Fprintln(os.Stderr, "memory:// stores are private to one process; point accountctl at the server's database")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, _, err := backend.Open(ctx, *databaseURL)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open store:", err)
		os.Exit(1)
	}
	defer store.Close()

	if err := run(ctx, store, opts, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func (o options) validate() error {
	if strings.TrimSpace(o.username) == "" {
		return errors.New("-user is required")
	}
	if o.activate && o.deactivate {
		return errors.New("-activate and -deactivate are mutually exclusive")
	}
	if o.credit < 0 {
		return errors.New("-credit must not be negative")
	}
	if o.history < 0 {
		return errors.New("-history must not be negative")
	}
	switch strings.ToLower(o.format) {
	case "plain", "json", "yaml":
	default:
		return errors.New("invalid format; use plain, json or yaml")
	}
	return nil
}

func run(ctx context.Context, store repository.Store, opts options, w io.Writer) error {
	if err := opts.validate(); err != nil {
		return err
	}

	if opts.activate || opts.deactivate {
		if err := store.SetUserActive(ctx, opts.username, opts.activate); err != nil {
			return fmt.Errorf("set active: %w", err)
		}
	}
	if opts.credit > 0 {
		if err := store.Credit(ctx, opts.username, opts.credit); err != nil {
			return fmt.Errorf("credit: %w", err)
		}
	}

	user, err := store.GetUserByUsername(ctx, opts.username)
	if err != nil {
		return fmt.Errorf("get user: %w", err)
	}

	out := output{
		Username: user.Username,
		Email:    user.Email,
		IsActive: user.IsActive,
	}
	if opts.balance || opts.credit > 0 {
		balance, err := store.GetBalance(ctx, opts.username)
		if err != nil {
			return fmt.Errorf("get balance: %w", err)
		}
		out.Balance = &balance
	}
	if opts.history > 0 {
		preds, err := store.ListPredictions(ctx, opts.username, opts.history)
		if err != nil {
			return fmt.Errorf("list predictions: %w", err)
		}
		for _, p := range preds {
			out.Predictions = append(out.Predictions, predictionLine{
				ID:        p.ID,
				ModelType: p.ModelType.String(),
				Datetime:  p.CreatedAt,
			})
		}
	}

	switch strings.ToLower(opts.format) {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(out); err != nil {
			return err
		}
		return enc.Close()
	}

	fmt.Fprintf(w, "user:    %s <%s>\n", out.Username, out.Email)
	fmt.Fprintf(w, "active:  %t\n", out.IsActive)
	if out.Balance != nil {
		fmt.Fprintf(w, "balance: %d\n", *out.Balance)
	}
	for _, p := range out.Predictions {
		fmt.Fprintf(w, "%6d  %-9s  %s\n", p.ID, p.ModelType, p.Datetime.Format(time.RFC3339))
	}
	return nil
}
