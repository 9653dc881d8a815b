// Package predictor implements the text classifiers served by the gateway.
// Every variant maps a batch of product descriptions to one label per row.
package predictor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

var (
	// ErrInvalidInput is returned when the payload is not a batch of strings.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidArtifact is returned when a model file cannot be used.
	ErrInvalidArtifact = errors.New("invalid model artifact")
)

// Predictor produces one label per input row.
type Predictor interface {
	Predict(ctx context.Context, input []byte) ([]string, error)
}

// ConcurrencySafe is implemented by predictors that know whether they can be
// called from several goroutines at once. Predictors that do not implement it
// are assumed safe.
type ConcurrencySafe interface {
	ConcurrencySafe() bool
}

// ParseInput decodes a prediction payload. Two shapes are accepted:
//
//	["first description", "second description"]
//	{"text": ["first description", "second description"]}
//
// The object form must hold exactly one column.
func ParseInput(input []byte) ([]string, error) {
	trimmed := bytes.TrimSpace(input)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrInvalidInput)
	}

	var rows []string
	switch trimmed[0] {
	case '[':
		if err := json.Unmarshal(trimmed, &rows); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
	case '{':
		var columns map[string][]string
		if err := json.Unmarshal(trimmed, &columns); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		if len(columns) != 1 {
			return nil, fmt.Errorf("%w: expected exactly one column, got %d", ErrInvalidInput, len(columns))
		}
		for _, col := range columns {
			rows = col
		}
	default:
		return nil, fmt.Errorf("%w: expected a JSON array or object", ErrInvalidInput)
	}

	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: no rows", ErrInvalidInput)
	}
	return rows, nil
}

// Tokenize lowercases text and splits it on anything that is not a letter
// or digit.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// bucket maps a term onto one of dim hashed feature slots.
func bucket(term string, dim int) int {
	return int(xxhash.Sum64String(strings.ToLower(term)) % uint64(dim))
}

// features returns the set of hashed feature slots present in text.
func features(text string, dim int) map[int]int {
	out := make(map[int]int)
	for _, tok := range Tokenize(text) {
		out[bucket(tok, dim)]++
	}
	return out
}

// predictRows applies fn to every row, stopping early if ctx is done.
func predictRows(ctx context.Context, input []byte, fn func(text string) string) ([]string, error) {
	rows, err := ParseInput(input)
	if err != nil {
		return nil, err
	}

	labels := make([]string, len(rows))
	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		labels[i] = fn(row)
	}
	return labels, nil
}
