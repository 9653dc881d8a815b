package predictor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/creditgate/creditgate/internal/model"
)

// maxArtifactSize bounds how much of a model file is read.
const maxArtifactSize = 64 << 20

type envelope struct {
	Type string `json:"type"`
}

// Decode reads one model artifact. The artifact's "type" field selects the
// variant and must equal want.
func Decode(r io.Reader, want model.ModelType) (Predictor, error) {
	raw, err := io.ReadAll(io.LimitReader(r, maxArtifactSize+1))
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	if len(raw) > maxArtifactSize {
		return nil, fmt.Errorf("%w: artifact larger than %d bytes", ErrInvalidArtifact, maxArtifactSize)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArtifact, err)
	}
	if env.Type != want.String() {
		return nil, fmt.Errorf("%w: artifact type %q, want %q", ErrInvalidArtifact, env.Type, want)
	}

	switch want {
	case model.ModelLogReg:
		var a linearArtifact
		if err := json.Unmarshal(raw, &a); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidArtifact, err)
		}
		return newLinear(a)
	case model.ModelDecisionTree:
		var a treeArtifact
		if err := json.Unmarshal(raw, &a); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidArtifact, err)
		}
		return newTree(a)
	case model.ModelRandomForest:
		var a forestArtifact
		if err := json.Unmarshal(raw, &a); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidArtifact, err)
		}
		return newForest(a)
	default:
		return nil, fmt.Errorf("%w: %q", model.ErrUnknownModel, want)
	}
}

// DirLoader loads <dir>/<model_type>.json.
type DirLoader struct {
	Dir string
}

// Load opens and decodes the artifact for modelType.
func (l DirLoader) Load(ctx context.Context, modelType model.ModelType) (Predictor, error) {
	if !modelType.IsValid() {
		return nil, fmt.Errorf("%w: %q", model.ErrUnknownModel, modelType)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := filepath.Join(l.Dir, modelType.String()+".json")
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()

	return Decode(f, modelType)
}
