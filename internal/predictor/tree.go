package predictor

import (
	"context"
	"fmt"
	"sort"
)

// treeNode is either a leaf carrying a label or a split on the presence of
// one term.
type treeNode struct {
	Label   string    `json:"label,omitempty"`
	Feature string    `json:"feature,omitempty"`
	Present *treeNode `json:"present,omitempty"`
	Absent  *treeNode `json:"absent,omitempty"`

	slot int
}

func (n *treeNode) compile(dim, depth int) error {
	if depth > 64 {
		return fmt.Errorf("%w: tree deeper than 64", ErrInvalidArtifact)
	}
	if n.Feature == "" {
		if n.Label == "" {
			return fmt.Errorf("%w: leaf without label", ErrInvalidArtifact)
		}
		return nil
	}
	if n.Present == nil || n.Absent == nil {
		return fmt.Errorf("%w: split on %q is missing a branch", ErrInvalidArtifact, n.Feature)
	}
	n.slot = bucket(n.Feature, dim)
	if err := n.Present.compile(dim, depth+1); err != nil {
		return err
	}
	return n.Absent.compile(dim, depth+1)
}

func (n *treeNode) walk(feats map[int]int) string {
	for n.Feature != "" {
		if feats[n.slot] > 0 {
			n = n.Present
		} else {
			n = n.Absent
		}
	}
	return n.Label
}

// Tree is a binary decision tree over hashed term presence.
type Tree struct {
	dim  int
	root *treeNode
}

type treeArtifact struct {
	Dim  int       `json:"dim"`
	Root *treeNode `json:"root"`
}

func newTree(a treeArtifact) (*Tree, error) {
	if a.Dim <= 0 {
		return nil, fmt.Errorf("%w: dim must be positive", ErrInvalidArtifact)
	}
	if a.Root == nil {
		return nil, fmt.Errorf("%w: missing root", ErrInvalidArtifact)
	}
	if err := a.Root.compile(a.Dim, 0); err != nil {
		return nil, err
	}
	return &Tree{dim: a.Dim, root: a.Root}, nil
}

// Predict labels every row of input.
func (t *Tree) Predict(ctx context.Context, input []byte) ([]string, error) {
	return predictRows(ctx, input, func(text string) string {
		return t.root.walk(features(text, t.dim))
	})
}

// ConcurrencySafe reports true; the tree is read-only after load.
func (t *Tree) ConcurrencySafe() bool { return true }

// Forest is a majority vote over decision trees. Ties go to the label that
// sorts first.
type Forest struct {
	dim   int
	trees []*treeNode
}

type forestArtifact struct {
	Dim   int         `json:"dim"`
	Trees []*treeNode `json:"trees"`
}

func newForest(a forestArtifact) (*Forest, error) {
	if a.Dim <= 0 {
		return nil, fmt.Errorf("%w: dim must be positive", ErrInvalidArtifact)
	}
	if len(a.Trees) == 0 {
		return nil, fmt.Errorf("%w: forest has no trees", ErrInvalidArtifact)
	}
	for i, root := range a.Trees {
		if root == nil {
			return nil, fmt.Errorf("%w: tree %d is empty", ErrInvalidArtifact, i)
		}
		if err := root.compile(a.Dim, 0); err != nil {
			return nil, fmt.Errorf("tree %d: %w", i, err)
		}
	}
	return &Forest{dim: a.Dim, trees: a.Trees}, nil
}

// Predict labels every row of input.
func (f *Forest) Predict(ctx context.Context, input []byte) ([]string, error) {
	return predictRows(ctx, input, f.vote)
}

func (f *Forest) vote(text string) string {
	feats := features(text, f.dim)

	votes := make(map[string]int)
	for _, root := range f.trees {
		votes[root.walk(feats)]++
	}

	labels := make([]string, 0, len(votes))
	for l := range votes {
		labels = append(labels, l)
	}
	sort.Strings(labels)

	best := labels[0]
	for _, l := range labels[1:] {
		if votes[l] > votes[best] {
			best = l
		}
	}
	return best
}

// ConcurrencySafe reports true; the forest is read-only after load.
func (f *Forest) ConcurrencySafe() bool { return true }
