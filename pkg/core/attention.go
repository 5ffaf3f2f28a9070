package core

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/transformer_reorganized/seq2seq/pkg/autodiff"
)

// maskFillValue stands in for -inf on blocked scores.
const maskFillValue = -1e9

// MultiHeadAttention projects queries, keys and values, attends in h column
// slices of width d_k and recombines the heads through W_o.
type MultiHeadAttention struct {
	DModel   int
	NumHeads int
	HeadDim  int
	Dropout  float64

	WQ, WK, WV, WO *Linear

	mu     sync.Mutex
	scores []*mat.Dense
}

// NewMultiHeadAttention creates the four bias-free projections.
func NewMultiHeadAttention(dModel, numHeads int, dropout float64) (*MultiHeadAttention, error) {
	if dModel <= 0 || numHeads <= 0 {
		return nil, fmt.Errorf("model dimension (%d) and number of heads (%d) must be positive: %w", dModel, numHeads, ErrInvalidConfig)
	}
	if dModel%numHeads != 0 {
		return nil, fmt.Errorf("model dimension (%d) must be divisible by number of heads (%d): %w", dModel, numHeads, ErrInvalidConfig)
	}

	mha := &MultiHeadAttention{
		DModel:   dModel,
		NumHeads: numHeads,
		HeadDim:  dModel / numHeads,
		Dropout:  dropout,
	}
	for _, w := range []**Linear{&mha.WQ, &mha.WK, &mha.WV, &mha.WO} {
		l, err := NewLinear(dModel, dModel, false)
		if err != nil {
			return nil, fmt.Errorf("attention: %w", err)
		}
		*w = l
	}
	return mha, nil
}

// ScaledDotProductAttention computes softmax(q·kᵀ/sqrt(d_k)) with blocked
// positions filled by -1e9, applies dropout to the weights and returns
// weights·v together with the weights.
func ScaledDotProductAttention(q, k, v *autodiff.Tensor, mask *Mask, dropout float64, isTraining bool) (*autodiff.Tensor, *autodiff.Tensor, error) {
	_, dk := q.Dims()
	kt, err := autodiff.Transpose(k)
	if err != nil {
		return nil, nil, err
	}
	scores, err := autodiff.MatMul(q, kt)
	if err != nil {
		return nil, nil, fmt.Errorf("scores: %w", err)
	}
	if scores, err = autodiff.ScalarMultiply(scores, 1/math.Sqrt(float64(dk))); err != nil {
		return nil, nil, err
	}
	if mask != nil {
		if scores, err = autodiff.MaskedFill(scores, mask.Matrix(), maskFillValue); err != nil {
			return nil, nil, err
		}
	}
	weights, err := autodiff.Softmax(scores)
	if err != nil {
		return nil, nil, err
	}
	if weights, err = autodiff.Dropout(weights, dropout, isTraining, nil); err != nil {
		return nil, nil, err
	}
	out, err := autodiff.MatMul(weights, v)
	if err != nil {
		return nil, nil, fmt.Errorf("values: %w", err)
	}
	return out, weights, nil
}

// Forward attends from q (q_len × d_model) over k and v (k_len × d_model).
func (mha *MultiHeadAttention) Forward(q, k, v *autodiff.Tensor, mask *Mask, isTraining bool) (*autodiff.Tensor, error) {
	query, err := mha.WQ.Forward(q)
	if err != nil {
		return nil, fmt.Errorf("query projection: %w", err)
	}
	key, err := mha.WK.Forward(k)
	if err != nil {
		return nil, fmt.Errorf("key projection: %w", err)
	}
	value, err := mha.WV.Forward(v)
	if err != nil {
		return nil, fmt.Errorf("value projection: %w", err)
	}

	heads := make([]*autodiff.Tensor, mha.NumHeads)
	scores := make([]*mat.Dense, mha.NumHeads)

	g, ctx := errgroup.WithContext(context.Background())
	g.SetLimit(runtime.GOMAXPROCS(0))
	for h := range mha.NumHeads {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			start := h * mha.HeadDim
			qh, err := autodiff.SliceCols(query, start, mha.HeadDim)
			if err != nil {
				return fmt.Errorf("head %d: %w", h, err)
			}
			kh, err := autodiff.SliceCols(key, start, mha.HeadDim)
			if err != nil {
				return fmt.Errorf("head %d: %w", h, err)
			}
			vh, err := autodiff.SliceCols(value, start, mha.HeadDim)
			if err != nil {
				return fmt.Errorf("head %d: %w", h, err)
			}
			out, weights, err := ScaledDotProductAttention(qh, kh, vh, mask, mha.Dropout, isTraining)
			if err != nil {
				return fmt.Errorf("head %d: %w", h, err)
			}
			heads[h] = out
			scores[h] = weights.Data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	mha.mu.Lock()
	mha.scores = scores
	mha.mu.Unlock()

	concat, err := autodiff.ConcatCols(heads...)
	if err != nil {
		return nil, err
	}
	out, err := mha.WO.Forward(concat)
	if err != nil {
		return nil, fmt.Errorf("output projection: %w", err)
	}
	return out, nil
}

// AttentionScores returns copies of the per-head weights from the last forward call.
func (mha *MultiHeadAttention) AttentionScores() []*mat.Dense {
	mha.mu.Lock()
	defer mha.mu.Unlock()
	out := make([]*mat.Dense, len(mha.scores))
	for i, s := range mha.scores {
		out[i] = mat.DenseCopyOf(s)
	}
	return out
}

func (mha *MultiHeadAttention) Parameters() []NamedParameter {
	var params []NamedParameter
	params = append(params, prefixed("w_q", mha.WQ.Parameters())...)
	params = append(params, prefixed("w_k", mha.WK.Parameters())...)
	params = append(params, prefixed("w_v", mha.WV.Parameters())...)
	params = append(params, prefixed("w_o", mha.WO.Parameters())...)
	return params
}
