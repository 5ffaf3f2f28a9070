package core

import "github.com/transformer_reorganized/seq2seq/pkg/autodiff"

// Batch holds one (seq_len × width) tensor per example.
type Batch []*autodiff.Tensor

// Shape reports (batch, seq_len, width) using the first example's dimensions.
func (b Batch) Shape() (batch, seqLen, width int) {
	if len(b) == 0 || b[0] == nil {
		return len(b), 0, 0
	}
	seqLen, width = b[0].Dims()
	return len(b), seqLen, width
}
