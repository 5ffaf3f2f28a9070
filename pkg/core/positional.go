package core

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/transformer_reorganized/seq2seq/pkg/autodiff"
)

// PositionalEncoding adds fixed sinusoidal position signals to embeddings.
type PositionalEncoding struct {
	DModel  int
	MaxLen  int
	Dropout *Dropout

	encoding *mat.Dense
}

// NewPositionalEncoding precomputes the (maxLen × dModel) table
//
//	PE[pos, 2i]   = sin(pos · exp(-2i·ln(10000)/dModel))
//	PE[pos, 2i+1] = cos(pos · exp(-2i·ln(10000)/dModel))
func NewPositionalEncoding(dModel, maxLen int, dropout float64) (*PositionalEncoding, error) {
	if dModel <= 0 || maxLen <= 0 {
		return nil, fmt.Errorf("positional encoding %dx%d: %w", maxLen, dModel, ErrInvalidConfig)
	}

	encoding := mat.NewDense(maxLen, dModel, nil)
	for i := 0; i < dModel; i += 2 {
		freq := math.Exp(-float64(i) * math.Log(10000) / float64(dModel))
		for pos := 0; pos < maxLen; pos++ {
			angle := float64(pos) * freq
			encoding.Set(pos, i, math.Sin(angle))
			if i+1 < dModel {
				encoding.Set(pos, i+1, math.Cos(angle))
			}
		}
	}

	return &PositionalEncoding{
		DModel:   dModel,
		MaxLen:   maxLen,
		Dropout:  NewDropout(dropout),
		encoding: encoding,
	}, nil
}

// Forward adds the first seq_len rows of the table to x and applies dropout.
func (pe *PositionalEncoding) Forward(x *autodiff.Tensor, isTraining bool) (*autodiff.Tensor, error) {
	seqLen, width := x.Dims()
	if seqLen > pe.MaxLen {
		return nil, fmt.Errorf("sequence length %d exceeds positional table of %d: %w", seqLen, pe.MaxLen, autodiff.ErrIndexOutOfRange)
	}
	if width != pe.DModel {
		return nil, fmt.Errorf("positional encoding: width %d, want %d: %w", width, pe.DModel, autodiff.ErrShapeMismatch)
	}

	rows := autodiff.Constant(mat.DenseCopyOf(pe.encoding.Slice(0, seqLen, 0, pe.DModel)), "positional")
	sum, err := autodiff.Add(x, rows)
	if err != nil {
		return nil, err
	}
	return pe.Dropout.Forward(sum, isTraining)
}

// Table returns a copy of the full encoding table.
func (pe *PositionalEncoding) Table() *mat.Dense {
	return mat.DenseCopyOf(pe.encoding)
}
