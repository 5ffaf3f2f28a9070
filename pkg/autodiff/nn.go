package autodiff

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// RandSource supplies uniform samples in [0, 1). *rand.Rand satisfies it.
type RandSource interface {
	Float64() float64
}

// Softmax normalizes each row into a probability distribution.
func Softmax(a *Tensor) (*Tensor, error) {
	if err := checkNil("softmax", a); err != nil {
		return nil, err
	}
	r, c := a.Data.Dims()
	data := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		in := a.Data.RawRowView(i)
		out := data.RawRowView(i)
		lse := floats.LogSumExp(in)
		for j, v := range in {
			out[j] = math.Exp(v - lse)
		}
	}

	result := newResult(data, "softmax_result", a)
	if result.RequiresGrad {
		result.BackwardFn = func() {
			// dx_j = y_j * (g_j - sum_k g_k y_k)
			g := mat.NewDense(r, c, nil)
			for i := 0; i < r; i++ {
				y := data.RawRowView(i)
				gy := result.Grad.RawRowView(i)
				dot := floats.Dot(gy, y)
				row := g.RawRowView(i)
				for j := range row {
					row[j] = y[j] * (gy[j] - dot)
				}
			}
			a.accumulate(g)
		}
	}
	return result, nil
}

// LogSoftmax returns the logarithm of the row-wise softmax, computed stably.
func LogSoftmax(a *Tensor) (*Tensor, error) {
	if err := checkNil("log_softmax", a); err != nil {
		return nil, err
	}
	r, c := a.Data.Dims()
	data := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		in := a.Data.RawRowView(i)
		out := data.RawRowView(i)
		lse := floats.LogSumExp(in)
		for j, v := range in {
			out[j] = v - lse
		}
	}

	result := newResult(data, "log_softmax_result", a)
	if result.RequiresGrad {
		result.BackwardFn = func() {
			// dx_j = g_j - exp(y_j) * sum_k g_k
			g := mat.NewDense(r, c, nil)
			for i := 0; i < r; i++ {
				y := data.RawRowView(i)
				gy := result.Grad.RawRowView(i)
				total := floats.Sum(gy)
				row := g.RawRowView(i)
				for j := range row {
					row[j] = gy[j] - math.Exp(y[j])*total
				}
			}
			a.accumulate(g)
		}
	}
	return result, nil
}

// MaskedFill replaces every element whose mask entry is zero with value.
// The mask must have a's column count and either a's row count or a single
// row that is shared by all rows. Filled positions receive no gradient.
func MaskedFill(a *Tensor, mask mat.Matrix, value float64) (*Tensor, error) {
	if err := checkNil("masked_fill", a); err != nil {
		return nil, err
	}
	if mask == nil {
		return a, nil
	}
	r, c := a.Data.Dims()
	mr, mc := mask.Dims()
	kind := broadcastNone
	switch {
	case mc != c:
		return nil, fmt.Errorf("masked_fill: mask (%dx%d) does not cover scores (%dx%d): %w", mr, mc, r, c, ErrShapeMismatch)
	case mr == r:
	case mr == 1:
		kind = broadcastRow
	default:
		return nil, fmt.Errorf("masked_fill: mask (%dx%d) does not cover scores (%dx%d): %w", mr, mc, r, c, ErrShapeMismatch)
	}

	data := mat.NewDense(r, c, nil)
	data.Apply(func(i, j int, x float64) float64 {
		if kind.at(mask, i, j) == 0 {
			return value
		}
		return x
	}, a.Data)

	result := newResult(data, "masked_fill_result", a)
	if result.RequiresGrad {
		result.BackwardFn = func() {
			g := mat.NewDense(r, c, nil)
			g.Apply(func(i, j int, v float64) float64 {
				if kind.at(mask, i, j) == 0 {
					return 0
				}
				return v
			}, result.Grad)
			a.accumulate(g)
		}
	}
	return result, nil
}

// Dropout zeroes each element with probability p and scales survivors by
// 1/(1-p). It is the identity when training is false or p is zero. A nil rng
// draws from the goroutine-safe package source.
func Dropout(a *Tensor, p float64, training bool, rng RandSource) (*Tensor, error) {
	if err := checkNil("dropout", a); err != nil {
		return nil, err
	}
	if !training || p <= 0 {
		return a, nil
	}
	if p >= 1 {
		return nil, fmt.Errorf("dropout: rate must be in [0, 1), got %g", p)
	}

	sample := rand.Float64
	if rng != nil {
		sample = rng.Float64
	}

	r, c := a.Data.Dims()
	scale := 1.0 / (1.0 - p)
	keep := mat.NewDense(r, c, nil)
	keep.Apply(func(_, _ int, _ float64) float64 {
		if sample() >= p {
			return scale
		}
		return 0
	}, keep)

	data := mat.NewDense(r, c, nil)
	data.MulElem(a.Data, keep)

	result := newResult(data, "dropout_result", a)
	if result.RequiresGrad {
		result.BackwardFn = func() {
			var g mat.Dense
			g.MulElem(result.Grad, keep)
			a.accumulate(&g)
		}
	}
	return result, nil
}

// SliceCols returns columns [start, start+width) of a.
func SliceCols(a *Tensor, start, width int) (*Tensor, error) {
	if err := checkNil("slice_cols", a); err != nil {
		return nil, err
	}
	r, c := a.Data.Dims()
	if start < 0 || width <= 0 || start+width > c {
		return nil, fmt.Errorf("slice_cols: [%d, %d) of %d columns: %w", start, start+width, c, ErrIndexOutOfRange)
	}
	data := mat.DenseCopyOf(a.Data.Slice(0, r, start, start+width))

	result := newResult(data, "slice_cols_result", a)
	if result.RequiresGrad {
		result.BackwardFn = func() {
			g := mat.NewDense(r, c, nil)
			g.Slice(0, r, start, start+width).(*mat.Dense).Copy(result.Grad)
			a.accumulate(g)
		}
	}
	return result, nil
}

// SliceRows returns rows [start, start+n) of a.
func SliceRows(a *Tensor, start, n int) (*Tensor, error) {
	if err := checkNil("slice_rows", a); err != nil {
		return nil, err
	}
	r, c := a.Data.Dims()
	if start < 0 || n <= 0 || start+n > r {
		return nil, fmt.Errorf("slice_rows: [%d, %d) of %d rows: %w", start, start+n, r, ErrIndexOutOfRange)
	}
	data := mat.DenseCopyOf(a.Data.Slice(start, start+n, 0, c))

	result := newResult(data, "slice_rows_result", a)
	if result.RequiresGrad {
		result.BackwardFn = func() {
			g := mat.NewDense(r, c, nil)
			g.Slice(start, start+n, 0, c).(*mat.Dense).Copy(result.Grad)
			a.accumulate(g)
		}
	}
	return result, nil
}

// ConcatCols joins tensors with the same row count side by side.
func ConcatCols(parts ...*Tensor) (*Tensor, error) {
	if len(parts) == 0 {
		return nil, fmt.Errorf("concat_cols: no inputs: %w", ErrShapeMismatch)
	}
	if err := checkNil("concat_cols", parts...); err != nil {
		return nil, err
	}
	rows, _ := parts[0].Data.Dims()
	total := 0
	for i, p := range parts {
		r, c := p.Data.Dims()
		if r != rows {
			return nil, fmt.Errorf("concat_cols: part %d has %d rows, want %d: %w", i, r, rows, ErrShapeMismatch)
		}
		total += c
	}

	data := mat.NewDense(rows, total, nil)
	offset := 0
	for _, p := range parts {
		_, c := p.Data.Dims()
		data.Slice(0, rows, offset, offset+c).(*mat.Dense).Copy(p.Data)
		offset += c
	}

	result := newResult(data, "concat_cols_result", parts...)
	if result.RequiresGrad {
		result.BackwardFn = func() {
			offset := 0
			for _, p := range parts {
				_, c := p.Data.Dims()
				if p.RequiresGrad {
					p.accumulate(result.Grad.Slice(0, rows, offset, offset+c))
				}
				offset += c
			}
		}
	}
	return result, nil
}

// Gather selects rows of table by index. Gradients scatter back into the
// selected rows.
func Gather(table *Tensor, ids []int) (*Tensor, error) {
	if err := checkNil("gather", table); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("gather: empty index list: %w", ErrShapeMismatch)
	}
	rows, cols := table.Data.Dims()
	for pos, id := range ids {
		if id < 0 || id >= rows {
			return nil, fmt.Errorf("gather: id %d at position %d not in [0, %d): %w", id, pos, rows, ErrIndexOutOfRange)
		}
	}

	data := mat.NewDense(len(ids), cols, nil)
	for i, id := range ids {
		data.SetRow(i, table.Data.RawRowView(id))
	}

	result := newResult(data, "gather_result", table)
	if result.RequiresGrad {
		result.BackwardFn = func() {
			g := mat.NewDense(rows, cols, nil)
			for i, id := range ids {
				floats.Add(g.RawRowView(id), result.Grad.RawRowView(i))
			}
			table.accumulate(g)
		}
	}
	return result, nil
}

// NLLLoss is the mean negative log-likelihood of targets under row-wise
// log-probabilities. Rows whose target equals ignoreIndex do not contribute.
func NLLLoss(logProbs *Tensor, targets []int, ignoreIndex int) (*Tensor, error) {
	if err := checkNil("nll_loss", logProbs); err != nil {
		return nil, err
	}
	r, c := logProbs.Data.Dims()
	if len(targets) != r {
		return nil, fmt.Errorf("nll_loss: %d targets for %d rows: %w", len(targets), r, ErrShapeMismatch)
	}

	counted := 0
	loss := 0.0
	for i, target := range targets {
		if target == ignoreIndex {
			continue
		}
		if target < 0 || target >= c {
			return nil, fmt.Errorf("nll_loss: target %d not in [0, %d): %w", target, c, ErrIndexOutOfRange)
		}
		loss -= logProbs.Data.At(i, target)
		counted++
	}
	if counted > 0 {
		loss /= float64(counted)
	}

	result := newResult(mat.NewDense(1, 1, []float64{loss}), "nll_loss_result", logProbs)
	if result.RequiresGrad {
		result.BackwardFn = func() {
			if counted == 0 {
				return
			}
			scale := result.Grad.At(0, 0) / float64(counted)
			g := mat.NewDense(r, c, nil)
			for i, target := range targets {
				if target != ignoreIndex {
					g.Set(i, target, -scale)
				}
			}
			logProbs.accumulate(g)
		}
	}
	return result, nil
}
