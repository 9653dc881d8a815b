package predictor

import (
	"context"
	"fmt"
)

// Linear is a multinomial linear classifier over hashed bag-of-words counts.
// The label with the highest score wins; ties go to the earlier label.
type Linear struct {
	dim     int
	labels  []string
	bias    []float64
	weights [][]float64 // [label][slot]
}

type linearArtifact struct {
	Dim     int                           `json:"dim"`
	Labels  []string                      `json:"labels"`
	Bias    map[string]float64            `json:"bias"`
	Weights map[string]map[string]float64 `json:"weights"`
}

func newLinear(a linearArtifact) (*Linear, error) {
	if a.Dim <= 0 {
		return nil, fmt.Errorf("%w: dim must be positive", ErrInvalidArtifact)
	}
	if len(a.Labels) == 0 {
		return nil, fmt.Errorf("%w: no labels", ErrInvalidArtifact)
	}

	index := make(map[string]int, len(a.Labels))
	for i, l := range a.Labels {
		if _, dup := index[l]; dup {
			return nil, fmt.Errorf("%w: duplicate label %q", ErrInvalidArtifact, l)
		}
		index[l] = i
	}

	m := &Linear{
		dim:     a.Dim,
		labels:  a.Labels,
		bias:    make([]float64, len(a.Labels)),
		weights: make([][]float64, len(a.Labels)),
	}
	for i := range m.weights {
		m.weights[i] = make([]float64, a.Dim)
	}

	for label, b := range a.Bias {
		i, ok := index[label]
		if !ok {
			return nil, fmt.Errorf("%w: bias for unknown label %q", ErrInvalidArtifact, label)
		}
		m.bias[i] = b
	}
	for label, terms := range a.Weights {
		i, ok := index[label]
		if !ok {
			return nil, fmt.Errorf("%w: weights for unknown label %q", ErrInvalidArtifact, label)
		}
		for term, w := range terms {
			m.weights[i][bucket(term, a.Dim)] += w
		}
	}
	return m, nil
}

// Predict labels every row of input.
func (m *Linear) Predict(ctx context.Context, input []byte) ([]string, error) {
	return predictRows(ctx, input, m.classify)
}

func (m *Linear) classify(text string) string {
	feats := features(text, m.dim)

	best, bestScore := 0, 0.0
	for i := range m.labels {
		score := m.bias[i]
		for slot, count := range feats {
			score += m.weights[i][slot] * float64(count)
		}
		if i == 0 || score > bestScore {
			best, bestScore = i, score
		}
	}
	return m.labels[best]
}

// ConcurrencySafe reports true; the model is read-only after load.
func (m *Linear) ConcurrencySafe() bool { return true }
