package core

import (
	"fmt"

	"github.com/transformer_reorganized/seq2seq/pkg/autodiff"
)

// ProjectionLayer maps decoder states to log-probabilities over the target vocabulary.
type ProjectionLayer struct {
	Proj *Linear
}

func NewProjectionLayer(dModel, vocabSize int) (*ProjectionLayer, error) {
	l, err := NewLinear(dModel, vocabSize, true)
	if err != nil {
		return nil, fmt.Errorf("projection: %w", err)
	}
	return &ProjectionLayer{Proj: l}, nil
}

func (p *ProjectionLayer) Forward(x *autodiff.Tensor) (*autodiff.Tensor, error) {
	logits, err := p.Proj.Forward(x)
	if err != nil {
		return nil, fmt.Errorf("projection: %w", err)
	}
	return autodiff.LogSoftmax(logits)
}

func (p *ProjectionLayer) Parameters() []NamedParameter {
	return prefixed("proj", p.Proj.Parameters())
}
