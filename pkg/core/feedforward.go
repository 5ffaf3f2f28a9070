package core

import (
	"fmt"

	"github.com/transformer_reorganized/seq2seq/pkg/autodiff"
)

// FeedForward is the position-wise network Linear → ReLU → Dropout → Linear.
type FeedForward struct {
	Linear1 *Linear
	Linear2 *Linear
	Dropout *Dropout
}

func NewFeedForward(dModel, dFF int, dropout float64) (*FeedForward, error) {
	l1, err := NewLinear(dModel, dFF, true)
	if err != nil {
		return nil, fmt.Errorf("feed forward: %w", err)
	}
	l2, err := NewLinear(dFF, dModel, true)
	if err != nil {
		return nil, fmt.Errorf("feed forward: %w", err)
	}
	return &FeedForward{Linear1: l1, Linear2: l2, Dropout: NewDropout(dropout)}, nil
}

func (ff *FeedForward) Forward(x *autodiff.Tensor, isTraining bool) (*autodiff.Tensor, error) {
	hidden, err := ff.Linear1.Forward(x)
	if err != nil {
		return nil, fmt.Errorf("feed forward: %w", err)
	}
	if hidden, err = autodiff.ReLU(hidden); err != nil {
		return nil, err
	}
	if hidden, err = ff.Dropout.Forward(hidden, isTraining); err != nil {
		return nil, err
	}
	out, err := ff.Linear2.Forward(hidden)
	if err != nil {
		return nil, fmt.Errorf("feed forward: %w", err)
	}
	return out, nil
}

func (ff *FeedForward) Parameters() []NamedParameter {
	return append(prefixed("linear1", ff.Linear1.Parameters()), prefixed("linear2", ff.Linear2.Parameters())...)
}
