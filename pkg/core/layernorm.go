package core

import (
	"fmt"

	"github.com/transformer_reorganized/seq2seq/pkg/autodiff"
)

const layerNormEps = 1e-6

// LayerNorm normalizes each row to zero mean and unit sample standard
// deviation, then applies a learned scale and shift.
type LayerNorm struct {
	Features int
	Eps      float64
	Alpha    *autodiff.Tensor
	Bias     *autodiff.Tensor
}

func NewLayerNorm(features int) (*LayerNorm, error) {
	if features < 2 {
		return nil, fmt.Errorf("layer norm needs at least 2 features, got %d: %w", features, ErrInvalidConfig)
	}
	alpha, err := autodiff.NewVectorParameter(features, "alpha")
	if err != nil {
		return nil, err
	}
	autodiff.Fill(alpha, 1)
	bias, err := autodiff.NewVectorParameter(features, "bias")
	if err != nil {
		return nil, err
	}
	return &LayerNorm{Features: features, Eps: layerNormEps, Alpha: alpha, Bias: bias}, nil
}

// Forward computes alpha * (x - mean) / (std + eps) + bias row by row.
func (ln *LayerNorm) Forward(x *autodiff.Tensor) (*autodiff.Tensor, error) {
	if _, c := x.Dims(); c != ln.Features {
		return nil, fmt.Errorf("layer norm: width %d, want %d: %w", c, ln.Features, autodiff.ErrShapeMismatch)
	}

	mean, err := autodiff.RowMean(x)
	if err != nil {
		return nil, err
	}
	centered, err := autodiff.Subtract(x, mean)
	if err != nil {
		return nil, err
	}
	sq, err := autodiff.Square(centered)
	if err != nil {
		return nil, err
	}
	ss, err := autodiff.RowSum(sq)
	if err != nil {
		return nil, err
	}
	variance, err := autodiff.ScalarMultiply(ss, 1/float64(ln.Features-1))
	if err != nil {
		return nil, err
	}
	std, err := autodiff.Sqrt(variance)
	if err != nil {
		return nil, err
	}
	denom, err := autodiff.AddScalar(std, ln.Eps)
	if err != nil {
		return nil, err
	}
	normed, err := autodiff.Divide(centered, denom)
	if err != nil {
		return nil, err
	}
	scaled, err := autodiff.Multiply(normed, ln.Alpha)
	if err != nil {
		return nil, err
	}
	return autodiff.Add(scaled, ln.Bias)
}

func (ln *LayerNorm) Parameters() []NamedParameter {
	return []NamedParameter{
		{Name: "alpha", Tensor: ln.Alpha},
		{Name: "bias", Tensor: ln.Bias},
	}
}
