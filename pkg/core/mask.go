package core

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/transformer_reorganized/seq2seq/pkg/autodiff"
)

// Mask marks which key positions a query may attend to: 1 allows, 0 blocks.
// A mask with a single row applies to every query position.
type Mask struct {
	m *mat.Dense
}

// NewMask wraps a rows×cols 0/1 matrix given in row-major order.
func NewMask(rows, cols int, data []float64) (*Mask, error) {
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("mask dimensions must be positive: rows=%d, cols=%d: %w", rows, cols, autodiff.ErrShapeMismatch)
	}
	if data != nil && len(data) != rows*cols {
		return nil, fmt.Errorf("mask data has %d values, want %d: %w", len(data), rows*cols, autodiff.ErrShapeMismatch)
	}
	return &Mask{m: mat.NewDense(rows, cols, data)}, nil
}

// NewCausalMask creates a causal (future-blinding) mask for decoder
func NewCausalMask(n int) (*Mask, error) {
	mask, err := NewMask(n, n, nil)
	if err != nil {
		return nil, fmt.Errorf("causal mask: %w", err)
	}
	for i := 0; i < n; i++ {
		for j := 0; j <= i; j++ {
			mask.m.Set(i, j, 1)
		}
	}
	return mask, nil
}

// NewPaddingMask creates a single-row mask that blocks every position holding padID.
func NewPaddingMask(ids []int, padID int) (*Mask, error) {
	mask, err := NewMask(1, len(ids), nil)
	if err != nil {
		return nil, fmt.Errorf("padding mask: %w", err)
	}
	for j, id := range ids {
		if id != padID {
			mask.m.Set(0, j, 1)
		}
	}
	return mask, nil
}

// NewDecoderMask combines the padding mask of ids with a causal mask.
func NewDecoderMask(ids []int, padID int) (*Mask, error) {
	pad, err := NewPaddingMask(ids, padID)
	if err != nil {
		return nil, err
	}
	causal, err := NewCausalMask(len(ids))
	if err != nil {
		return nil, err
	}
	return causal.And(pad)
}

// And returns the elementwise conjunction of two masks. A single-row operand
// broadcasts over the rows of the other.
func (m *Mask) And(other *Mask) (*Mask, error) {
	r1, c1 := m.Dims()
	r2, c2 := other.Dims()
	if c1 != c2 || (r1 != r2 && r1 != 1 && r2 != 1) {
		return nil, fmt.Errorf("cannot combine masks (%dx%d) and (%dx%d): %w", r1, c1, r2, c2, autodiff.ErrShapeMismatch)
	}

	rows := max(r1, r2)
	out, err := NewMask(rows, c1, nil)
	if err != nil {
		return nil, err
	}
	for i := 0; i < rows; i++ {
		for j := 0; j < c1; j++ {
			if m.Allowed(min(i, r1-1), j) && other.Allowed(min(i, r2-1), j) {
				out.m.Set(i, j, 1)
			}
		}
	}
	return out, nil
}

// Dims returns the mask shape.
func (m *Mask) Dims() (rows, cols int) {
	return m.m.Dims()
}

// Allowed reports whether query i may attend to key j.
func (m *Mask) Allowed(i, j int) bool {
	return m.m.At(i, j) != 0
}

// Matrix exposes the underlying 0/1 matrix.
func (m *Mask) Matrix() mat.Matrix {
	return m.m
}

// maskFor selects the mask for example b from a list that is empty, shared
// or one per example.
func maskFor(masks []*Mask, b, batch int) (*Mask, error) {
	switch len(masks) {
	case 0:
		return nil, nil
	case 1:
		return masks[0], nil
	case batch:
		return masks[b], nil
	}
	return nil, fmt.Errorf("%d masks for a batch of %d: %w", len(masks), batch, autodiff.ErrShapeMismatch)
}
