package autodiff

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// broadcast describes how the right operand of a binary op maps onto the left.
type broadcast int

const (
	broadcastNone broadcast = iota
	broadcastRow
	broadcastCol
	broadcastScalar
)

// broadcastOf reports how b broadcasts against a: same shape, a single row,
// a single column or a single element.
func broadcastOf(a, b mat.Matrix) (broadcast, error) {
	ar, ac := a.Dims()
	br, bc := b.Dims()
	switch {
	case ar == br && ac == bc:
		return broadcastNone, nil
	case br == 1 && bc == 1:
		return broadcastScalar, nil
	case br == 1 && bc == ac:
		return broadcastRow, nil
	case bc == 1 && br == ar:
		return broadcastCol, nil
	}
	return broadcastNone, fmt.Errorf("cannot broadcast (%dx%d) onto (%dx%d): %w", br, bc, ar, ac, ErrShapeMismatch)
}

// at reads b at the position (i, j) of the broadcast result.
func (k broadcast) at(b mat.Matrix, i, j int) float64 {
	switch k {
	case broadcastRow:
		return b.At(0, j)
	case broadcastCol:
		return b.At(i, 0)
	case broadcastScalar:
		return b.At(0, 0)
	}
	return b.At(i, j)
}

// reduce sums g over the broadcast axes so it matches the shape of the operand.
func (k broadcast) reduce(g *mat.Dense) *mat.Dense {
	r, c := g.Dims()
	switch k {
	case broadcastRow:
		out := mat.NewDense(1, c, nil)
		for i := 0; i < r; i++ {
			row := out.RawRowView(0)
			for j, v := range g.RawRowView(i) {
				row[j] += v
			}
		}
		return out
	case broadcastCol:
		out := mat.NewDense(r, 1, nil)
		for i := 0; i < r; i++ {
			sum := 0.0
			for _, v := range g.RawRowView(i) {
				sum += v
			}
			out.Set(i, 0, sum)
		}
		return out
	case broadcastScalar:
		return mat.NewDense(1, 1, []float64{mat.Sum(g)})
	}
	return g
}

// ones returns a rows×cols matrix of ones.
func ones(rows, cols int) *mat.Dense {
	data := make([]float64, rows*cols)
	for i := range data {
		data[i] = 1
	}
	return mat.NewDense(rows, cols, data)
}

// Equal reports whether a and b have the same shape and all elements agree within epsilon.
func Equal(a, b *Tensor, epsilon float64) bool {
	if a == nil || b == nil {
		return false
	}
	return mat.EqualApprox(a.Data, b.Data, epsilon)
}

// String renders the tensor for debugging.
func (t *Tensor) String() string {
	var sb strings.Builder
	r, c := t.Data.Dims()
	fmt.Fprintf(&sb, "Tensor %q (%dx%d)\n", t.Name, r, c)
	fmt.Fprintf(&sb, "%v", mat.Formatted(t.Data, mat.Squeeze()))
	return sb.String()
}
