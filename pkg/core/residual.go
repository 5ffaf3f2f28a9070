package core

import (
	"fmt"

	"github.com/transformer_reorganized/seq2seq/pkg/autodiff"
)

// Sublayer is anything a residual connection can wrap.
type Sublayer interface {
	Forward(x *autodiff.Tensor, isTraining bool) (*autodiff.Tensor, error)
}

// SublayerFunc adapts a function to the Sublayer interface.
type SublayerFunc func(x *autodiff.Tensor, isTraining bool) (*autodiff.Tensor, error)

func (f SublayerFunc) Forward(x *autodiff.Tensor, isTraining bool) (*autodiff.Tensor, error) {
	return f(x, isTraining)
}

// ResidualConnection computes x + dropout(sublayer(norm(x))).
type ResidualConnection struct {
	Norm    *LayerNorm
	Dropout *Dropout
}

func NewResidualConnection(features int, dropout float64) (*ResidualConnection, error) {
	norm, err := NewLayerNorm(features)
	if err != nil {
		return nil, err
	}
	return &ResidualConnection{Norm: norm, Dropout: NewDropout(dropout)}, nil
}

func (rc *ResidualConnection) Forward(x *autodiff.Tensor, sublayer Sublayer, isTraining bool) (*autodiff.Tensor, error) {
	normed, err := rc.Norm.Forward(x)
	if err != nil {
		return nil, err
	}
	out, err := sublayer.Forward(normed, isTraining)
	if err != nil {
		return nil, err
	}
	xr, xc := x.Dims()
	if r, c := out.Dims(); r != xr || c != xc {
		return nil, fmt.Errorf("residual: sublayer returned %dx%d for %dx%d input: %w", r, c, xr, xc, autodiff.ErrShapeMismatch)
	}
	if out, err = rc.Dropout.Forward(out, isTraining); err != nil {
		return nil, err
	}
	return autodiff.Add(x, out)
}

func (rc *ResidualConnection) Parameters() []NamedParameter {
	return prefixed("norm", rc.Norm.Parameters())
}
