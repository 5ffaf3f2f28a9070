package core

import (
	"fmt"

	"github.com/transformer_reorganized/seq2seq/pkg/autodiff"
)

// Linear computes x·W (+ b). Weight is stored as (in × out).
type Linear struct {
	In, Out int
	Weight  *autodiff.Tensor
	Bias    *autodiff.Tensor
}

// NewLinear creates a zero-initialized linear layer; InitParameters fills it.
func NewLinear(in, out int, bias bool) (*Linear, error) {
	w, err := autodiff.NewParameter(in, out, "weight")
	if err != nil {
		return nil, fmt.Errorf("linear %dx%d: %w", in, out, err)
	}
	l := &Linear{In: in, Out: out, Weight: w}
	if bias {
		if l.Bias, err = autodiff.NewVectorParameter(out, "bias"); err != nil {
			return nil, fmt.Errorf("linear %dx%d bias: %w", in, out, err)
		}
	}
	return l, nil
}

func (l *Linear) Forward(x *autodiff.Tensor) (*autodiff.Tensor, error) {
	y, err := autodiff.MatMul(x, l.Weight)
	if err != nil {
		return nil, err
	}
	if l.Bias == nil {
		return y, nil
	}
	return autodiff.Add(y, l.Bias)
}

func (l *Linear) Parameters() []NamedParameter {
	params := []NamedParameter{{Name: "weight", Tensor: l.Weight}}
	if l.Bias != nil {
		params = append(params, NamedParameter{Name: "bias", Tensor: l.Bias, biasFanIn: l.In})
	}
	return params
}
