package core

import (
	"fmt"
	"math"

	"github.com/transformer_reorganized/seq2seq/pkg/autodiff"
)

// InputEmbedding maps token ids to rows of a learned table scaled by sqrt(d_model).
type InputEmbedding struct {
	DModel    int
	VocabSize int
	Table     *autodiff.Tensor
}

func NewInputEmbedding(dModel, vocabSize int) (*InputEmbedding, error) {
	table, err := autodiff.NewParameter(vocabSize, dModel, "table")
	if err != nil {
		return nil, fmt.Errorf("embedding: %w", err)
	}
	return &InputEmbedding{DModel: dModel, VocabSize: vocabSize, Table: table}, nil
}

// Forward returns a (len(ids) × d_model) tensor.
func (e *InputEmbedding) Forward(ids []int) (*autodiff.Tensor, error) {
	rows, err := autodiff.Gather(e.Table, ids)
	if err != nil {
		return nil, fmt.Errorf("embedding: %w", err)
	}
	return autodiff.ScalarMultiply(rows, math.Sqrt(float64(e.DModel)))
}

func (e *InputEmbedding) Parameters() []NamedParameter {
	return []NamedParameter{{Name: "table", Tensor: e.Table}}
}
