package core

import (
	"fmt"

	"github.com/transformer_reorganized/seq2seq/pkg/autodiff"
)

// Transformer is the assembled encoder-decoder model.
type Transformer struct {
	Config Config

	SrcEmbed   *InputEmbedding
	TgtEmbed   *InputEmbedding
	SrcPos     *PositionalEncoding
	TgtPos     *PositionalEncoding
	Encoder    *Encoder
	Decoder    *Decoder
	Projection *ProjectionLayer

	isTraining bool
}

// Train enables dropout.
func (t *Transformer) Train() { t.isTraining = true }

// Eval disables dropout.
func (t *Transformer) Eval() { t.isTraining = false }

// IsTraining reports whether dropout is active.
func (t *Transformer) IsTraining() bool { return t.isTraining }

// Encode embeds each source sequence, adds positions and runs the encoder stack.
func (t *Transformer) Encode(src [][]int, srcMask []*Mask) (Batch, error) {
	if len(src) == 0 {
		return nil, fmt.Errorf("encode: empty batch: %w", autodiff.ErrShapeMismatch)
	}
	out := make(Batch, len(src))
	for b, ids := range src {
		mask, err := maskFor(srcMask, b, len(src))
		if err != nil {
			return nil, fmt.Errorf("encode: %w", err)
		}
		x, err := t.SrcEmbed.Forward(ids)
		if err != nil {
			return nil, fmt.Errorf("encode example %d: source %w", b, err)
		}
		if x, err = t.SrcPos.Forward(x, t.isTraining); err != nil {
			return nil, fmt.Errorf("encode example %d: %w", b, err)
		}
		if out[b], err = t.Encoder.Forward(x, mask, t.isTraining); err != nil {
			return nil, fmt.Errorf("encode example %d: %w", b, err)
		}
	}
	return out, nil
}

// Decode runs the decoder stack over the target sequences attending to enc.
func (t *Transformer) Decode(enc Batch, srcMask []*Mask, tgt [][]int, tgtMask []*Mask) (Batch, error) {
	if len(tgt) == 0 {
		return nil, fmt.Errorf("decode: empty batch: %w", autodiff.ErrShapeMismatch)
	}
	if len(enc) != len(tgt) {
		return nil, fmt.Errorf("decode: %d encoder outputs for %d targets: %w", len(enc), len(tgt), autodiff.ErrShapeMismatch)
	}
	out := make(Batch, len(tgt))
	for b, ids := range tgt {
		sm, err := maskFor(srcMask, b, len(tgt))
		if err != nil {
			return nil, fmt.Errorf("decode: source %w", err)
		}
		tm, err := maskFor(tgtMask, b, len(tgt))
		if err != nil {
			return nil, fmt.Errorf("decode: target %w", err)
		}
		x, err := t.TgtEmbed.Forward(ids)
		if err != nil {
			return nil, fmt.Errorf("decode example %d: target %w", b, err)
		}
		if x, err = t.TgtPos.Forward(x, t.isTraining); err != nil {
			return nil, fmt.Errorf("decode example %d: %w", b, err)
		}
		if out[b], err = t.Decoder.Forward(x, enc[b], sm, tm, t.isTraining); err != nil {
			return nil, fmt.Errorf("decode example %d: %w", b, err)
		}
	}
	return out, nil
}

// Project maps decoder output to per-position log-probabilities.
func (t *Transformer) Project(dec Batch) (Batch, error) {
	out := make(Batch, len(dec))
	for b, x := range dec {
		var err error
		if out[b], err = t.Projection.Forward(x); err != nil {
			return nil, fmt.Errorf("project example %d: %w", b, err)
		}
	}
	return out, nil
}

// Forward chains Encode, Decode and Project.
func (t *Transformer) Forward(src [][]int, srcMask []*Mask, tgt [][]int, tgtMask []*Mask) (Batch, error) {
	enc, err := t.Encode(src, srcMask)
	if err != nil {
		return nil, err
	}
	dec, err := t.Decode(enc, srcMask, tgt, tgtMask)
	if err != nil {
		return nil, err
	}
	return t.Project(dec)
}

// Loss is the mean negative log-likelihood of labels under logProbs over all
// positions whose label is not ignoreIndex.
func Loss(logProbs Batch, labels [][]int, ignoreIndex int) (*autodiff.Tensor, error) {
	if len(logProbs) != len(labels) {
		return nil, fmt.Errorf("loss: %d outputs for %d label rows: %w", len(logProbs), len(labels), autodiff.ErrShapeMismatch)
	}
	var (
		total   *autodiff.Tensor
		counted int
	)
	for b, lp := range logProbs {
		n := 0
		for _, id := range labels[b] {
			if id != ignoreIndex {
				n++
			}
		}
		if n == 0 {
			continue
		}
		l, err := autodiff.NLLLoss(lp, labels[b], ignoreIndex)
		if err != nil {
			return nil, fmt.Errorf("loss example %d: %w", b, err)
		}
		// Weight by token count so the result is a mean over tokens, not examples.
		if l, err = autodiff.ScalarMultiply(l, float64(n)); err != nil {
			return nil, err
		}
		if total == nil {
			total = l
		} else if total, err = autodiff.Add(total, l); err != nil {
			return nil, err
		}
		counted += n
	}
	if total == nil {
		return nil, fmt.Errorf("loss: every label is ignored: %w", autodiff.ErrShapeMismatch)
	}
	return autodiff.ScalarMultiply(total, 1/float64(counted))
}

// Parameters lists every trainable tensor in a fixed order.
func (t *Transformer) Parameters() []NamedParameter {
	var params []NamedParameter
	params = append(params, prefixed("src_embed", t.SrcEmbed.Parameters())...)
	params = append(params, prefixed("tgt_embed", t.TgtEmbed.Parameters())...)
	params = append(params, prefixed("encoder", t.Encoder.Parameters())...)
	params = append(params, prefixed("decoder", t.Decoder.Parameters())...)
	params = append(params, prefixed("projection", t.Projection.Parameters())...)
	return params
}

// NumParameters returns the total number of scalar parameters.
func (t *Transformer) NumParameters() int {
	return countParameters(t.Parameters())
}
