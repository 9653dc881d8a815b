package model

import (
	"errors"
	"fmt"
	"slices"
)

// ModelType identifies a supported classifier. The set is closed.
type ModelType string

// Supported model types.
const (
	ModelLogReg       ModelType = "logreg"
	ModelDecisionTree ModelType = "ds_tree"
	ModelRandomForest ModelType = "rd_forest"
)

// DefaultModelType is used when a request does not name a model.
const DefaultModelType = ModelLogReg

// ModelTypes lists every supported model type.
var ModelTypes = []ModelType{ModelLogReg, ModelDecisionTree, ModelRandomForest}

// ErrUnknownModel indicates a model type outside the supported set.
var ErrUnknownModel = errors.New("unknown model type")

// ParseModelType validates a model type key.
// An empty key resolves to DefaultModelType.
func ParseModelType(key string) (ModelType, error) {
	if key == "" {
		return DefaultModelType, nil
	}
	mt := ModelType(key)
	if !mt.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownModel, key)
	}
	return mt, nil
}

// IsValid reports whether m is a supported model type.
func (m ModelType) IsValid() bool {
	return slices.Contains(ModelTypes, m)
}

func (m ModelType) String() string {
	return string(m)
}

// Pricing maps each model type to its per-request price in credits.
type Pricing map[ModelType]int64

// NewPricing builds a Pricing table from raw configuration and checks that
// every supported model type has a non-negative price and no unknown keys
// are present.
func NewPricing(raw map[string]int64) (Pricing, error) {
	p := make(Pricing, len(raw))
	for key, price := range raw {
		mt := ModelType(key)
		if !mt.IsValid() {
			return nil, fmt.Errorf("%w in pricing table: %q", ErrUnknownModel, key)
		}
		if price < 0 {
			return nil, fmt.Errorf("negative price for %s: %d", key, price)
		}
		p[mt] = price
	}
	for _, mt := range ModelTypes {
		if _, ok := p[mt]; !ok {
			return nil, fmt.Errorf("missing price for model type %s", mt)
		}
	}
	return p, nil
}

// Price returns the price of m. The table is validated at construction,
// so a miss means the caller passed an unvalidated model type.
func (p Pricing) Price(m ModelType) (int64, bool) {
	price, ok := p[m]
	return price, ok
}
