package model

import (
	"errors"
	"testing"
)

func TestParseModelType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		key     string
		want    ModelType
		wantErr error
	}{
		{"logreg", "logreg", ModelLogReg, nil},
		{"decision tree", "ds_tree", ModelDecisionTree, nil},
		{"random forest", "rd_forest", ModelRandomForest, nil},
		{"empty defaults to logreg", "", ModelLogReg, nil},
		{"svm unsupported", "svm", "", ErrUnknownModel},
		{"case sensitive", "LOGREG", "", ErrUnknownModel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ParseModelType(tt.key)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ParseModelType(%q) error = %v, want %v", tt.key, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseModelType(%q) unexpected error: %v", tt.key, err)
			}
			if got != tt.want {
				t.Errorf("ParseModelType(%q) = %s, want %s", tt.key, got, tt.want)
			}
		})
	}
}

func TestNewPricing(t *testing.T) {
	t.Parallel()

	t.Run("valid", func(t *testing.T) {
		t.Parallel()
		p, err := NewPricing(map[string]int64{"logreg": 5, "ds_tree": 5, "rd_forest": 10})
		if err != nil {
			t.Fatalf("NewPricing failed: %v", err)
		}
		if price, ok := p.Price(ModelRandomForest); !ok || price != 10 {
			t.Errorf("Price(rd_forest) = %d, %v; want 10, true", price, ok)
		}
	})

	t.Run("missing model type", func(t *testing.T) {
		t.Parallel()
		if _, err := NewPricing(map[string]int64{"logreg": 5}); err == nil {
			t.Error("expected error for missing prices")
		}
	})

	t.Run("unknown model type", func(t *testing.T) {
		t.Parallel()
		_, err := NewPricing(map[string]int64{"logreg": 5, "ds_tree": 5, "rd_forest": 10, "svm": 1})
		if !errors.Is(err, ErrUnknownModel) {
			t.Errorf("expected ErrUnknownModel, got %v", err)
		}
	})

	t.Run("negative price", func(t *testing.T) {
		t.Parallel()
		if _, err := NewPricing(map[string]int64{"logreg": -1, "ds_tree": 5, "rd_forest": 10}); err == nil {
			t.Error("expected error for negative price")
		}
	})
}

func TestUser_ToResponse(t *testing.T) {
	t.Parallel()

	u := &User{Username: "alice", Email: "alice@example.com", PasswordHash: "secret", IsActive: true}
	resp := u.ToResponse(nil)

	if resp.Predictions == nil {
		t.Error("Predictions should be an empty slice, not nil")
	}
	if resp.Username != "alice" || !resp.IsActive {
		t.Errorf("unexpected response: %+v", resp)
	}
}
