package core

import (
	"fmt"

	"github.com/transformer_reorganized/seq2seq/pkg/autodiff"
)

// EncoderBlock represents a single encoder layer in a transformer
type EncoderBlock struct {
	SelfAttention *MultiHeadAttention
	FeedForward   *FeedForward
	Residuals     [2]*ResidualConnection
}

// NewEncoderBlock creates a new encoder layer
func NewEncoderBlock(selfAttention *MultiHeadAttention, feedForward *FeedForward, dropout float64) (*EncoderBlock, error) {
	b := &EncoderBlock{SelfAttention: selfAttention, FeedForward: feedForward}
	for i := range b.Residuals {
		rc, err := NewResidualConnection(selfAttention.DModel, dropout)
		if err != nil {
			return nil, err
		}
		b.Residuals[i] = rc
	}
	return b, nil
}

// Forward processes input through the encoder layer
func (b *EncoderBlock) Forward(x *autodiff.Tensor, srcMask *Mask, isTraining bool) (*autodiff.Tensor, error) {
	x, err := b.Residuals[0].Forward(x, SublayerFunc(func(h *autodiff.Tensor, training bool) (*autodiff.Tensor, error) {
		return b.SelfAttention.Forward(h, h, h, srcMask, training)
	}), isTraining)
	if err != nil {
		return nil, fmt.Errorf("self attention: %w", err)
	}
	x, err = b.Residuals[1].Forward(x, b.FeedForward, isTraining)
	if err != nil {
		return nil, fmt.Errorf("feed forward: %w", err)
	}
	return x, nil
}

func (b *EncoderBlock) Parameters() []NamedParameter {
	var params []NamedParameter
	params = append(params, prefixed("self_attention", b.SelfAttention.Parameters())...)
	params = append(params, prefixed("feed_forward", b.FeedForward.Parameters())...)
	for i, rc := range b.Residuals {
		params = append(params, prefixed(fmt.Sprintf("residual.%d", i), rc.Parameters())...)
	}
	return params
}

// Encoder runs a stack of encoder blocks followed by a final layer norm.
type Encoder struct {
	Layers []*EncoderBlock
	Norm   *LayerNorm
}

func NewEncoder(features int, layers []*EncoderBlock) (*Encoder, error) {
	norm, err := NewLayerNorm(features)
	if err != nil {
		return nil, err
	}
	return &Encoder{Layers: layers, Norm: norm}, nil
}

func (e *Encoder) Forward(x *autodiff.Tensor, srcMask *Mask, isTraining bool) (*autodiff.Tensor, error) {
	var err error
	for i, layer := range e.Layers {
		if x, err = layer.Forward(x, srcMask, isTraining); err != nil {
			return nil, fmt.Errorf("encoder block %d: %w", i, err)
		}
	}
	return e.Norm.Forward(x)
}

func (e *Encoder) Parameters() []NamedParameter {
	var params []NamedParameter
	for i, layer := range e.Layers {
		params = append(params, prefixed(fmt.Sprintf("layers.%d", i), layer.Parameters())...)
	}
	return append(params, prefixed("norm", e.Norm.Parameters())...)
}
