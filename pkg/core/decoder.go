package core

import (
	"fmt"

	"github.com/transformer_reorganized/seq2seq/pkg/autodiff"
)

// DecoderBlock represents a single decoder layer: masked self-attention,
// cross-attention over the encoder output and a feed-forward network.
type DecoderBlock struct {
	SelfAttention  *MultiHeadAttention
	CrossAttention *MultiHeadAttention
	FeedForward    *FeedForward
	Residuals      [3]*ResidualConnection
}

func NewDecoderBlock(selfAttention, crossAttention *MultiHeadAttention, feedForward *FeedForward, dropout float64) (*DecoderBlock, error) {
	b := &DecoderBlock{SelfAttention: selfAttention, CrossAttention: crossAttention, FeedForward: feedForward}
	for i := range b.Residuals {
		rc, err := NewResidualConnection(selfAttention.DModel, dropout)
		if err != nil {
			return nil, err
		}
		b.Residuals[i] = rc
	}
	return b, nil
}

// Forward processes x given the encoder output enc.
func (b *DecoderBlock) Forward(x, enc *autodiff.Tensor, srcMask, tgtMask *Mask, isTraining bool) (*autodiff.Tensor, error) {
	x, err := b.Residuals[0].Forward(x, SublayerFunc(func(h *autodiff.Tensor, training bool) (*autodiff.Tensor, error) {
		return b.SelfAttention.Forward(h, h, h, tgtMask, training)
	}), isTraining)
	if err != nil {
		return nil, fmt.Errorf("self attention: %w", err)
	}
	// Keys and values come from the encoder output as is, not re-normalized.
	x, err = b.Residuals[1].Forward(x, SublayerFunc(func(h *autodiff.Tensor, training bool) (*autodiff.Tensor, error) {
		return b.CrossAttention.Forward(h, enc, enc, srcMask, training)
	}), isTraining)
	if err != nil {
		return nil, fmt.Errorf("cross attention: %w", err)
	}
	x, err = b.Residuals[2].Forward(x, b.FeedForward, isTraining)
	if err != nil {
		return nil, fmt.Errorf("feed forward: %w", err)
	}
	return x, nil
}

func (b *DecoderBlock) Parameters() []NamedParameter {
	var params []NamedParameter
	params = append(params, prefixed("self_attention", b.SelfAttention.Parameters())...)
	params = append(params, prefixed("cross_attention", b.CrossAttention.Parameters())...)
	params = append(params, prefixed("feed_forward", b.FeedForward.Parameters())...)
	for i, rc := range b.Residuals {
		params = append(params, prefixed(fmt.Sprintf("residual.%d", i), rc.Parameters())...)
	}
	return params
}

// Decoder runs a stack of decoder blocks followed by a final layer norm.
type Decoder struct {
	Layers []*DecoderBlock
	Norm   *LayerNorm
}

func NewDecoder(features int, layers []*DecoderBlock) (*Decoder, error) {
	norm, err := NewLayerNorm(features)
	if err != nil {
		return nil, err
	}
	return &Decoder{Layers: layers, Norm: norm}, nil
}

func (d *Decoder) Forward(x, enc *autodiff.Tensor, srcMask, tgtMask *Mask, isTraining bool) (*autodiff.Tensor, error) {
	var err error
	for i, layer := range d.Layers {
		if x, err = layer.Forward(x, enc, srcMask, tgtMask, isTraining); err != nil {
			return nil, fmt.Errorf("decoder block %d: %w", i, err)
		}
	}
	return d.Norm.Forward(x)
}

func (d *Decoder) Parameters() []NamedParameter {
	var params []NamedParameter
	for i, layer := range d.Layers {
		params = append(params, prefixed(fmt.Sprintf("layers.%d", i), layer.Parameters())...)
	}
	return append(params, prefixed("norm", d.Norm.Parameters())...)
}
