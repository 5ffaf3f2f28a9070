package core

import (
	"math"

	"github.com/transformer_reorganized/seq2seq/pkg/autodiff"
)

// NamedParameter is a trainable tensor together with its dotted path in the model.
type NamedParameter struct {
	Name   string
	Tensor *autodiff.Tensor

	// biasFanIn is the input width of the linear layer owning a bias vector.
	biasFanIn int
}

func prefixed(prefix string, params []NamedParameter) []NamedParameter {
	out := make([]NamedParameter, len(params))
	for i, p := range params {
		p.Name = prefix + "." + p.Name
		out[i] = p
	}
	return out
}

// Tensors returns the tensors of params in order.
func Tensors(params []NamedParameter) []*autodiff.Tensor {
	out := make([]*autodiff.Tensor, len(params))
	for i, p := range params {
		out[i] = p.Tensor
	}
	return out
}

// InitParameters applies Xavier-uniform initialization to every matrix and
// U(-1/sqrt(fan_in), 1/sqrt(fan_in)) to linear biases. Other vectors keep the
// values their constructor gave them.
func InitParameters(params []NamedParameter, rng autodiff.RandSource) {
	for _, p := range params {
		switch {
		case p.Tensor.Rank() > 1:
			autodiff.XavierUniform(p.Tensor, rng)
		case p.biasFanIn > 0:
			bound := 1 / math.Sqrt(float64(p.biasFanIn))
			autodiff.Uniform(p.Tensor, -bound, bound, rng)
		}
	}
}

// countParameters sums the element counts of params.
func countParameters(params []NamedParameter) int {
	n := 0
	for _, p := range params {
		r, c := p.Tensor.Dims()
		n += r * c
	}
	return n
}
