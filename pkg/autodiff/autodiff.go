// Package autodiff is a small reverse-mode automatic differentiation engine over
// gonum dense matrices. It is the numerical host for the transformer in pkg/core:
// every op records how to push gradients back to its inputs and Backward replays
// the recorded graph in reverse topological order.
package autodiff

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

var (
	// ErrShapeMismatch reports operands whose dimensions are incompatible.
	ErrShapeMismatch = errors.New("shape mismatch")
	// ErrIndexOutOfRange reports a lookup outside a table's bounds.
	ErrIndexOutOfRange = errors.New("index out of range")
	// ErrNilTensor reports a nil operand.
	ErrNilTensor = errors.New("nil tensor")
)

// Tensor is a 2-D value with gradient tracking.
type Tensor struct {
	Data         *mat.Dense
	Grad         *mat.Dense
	RequiresGrad bool
	Name         string

	// Children are the inputs this tensor was computed from.
	Children []*Tensor
	// BackwardFn accumulates this tensor's gradient into its children.
	BackwardFn func()

	rank int
}

// TensorConfig holds configuration options for creating a tensor
type TensorConfig struct {
	RequiresGrad bool
	Name         string
	// Rank is 1 for vectors stored as a single row and 2 otherwise.
	Rank int
}

// NewTensor wraps data in a tensor. A nil config yields a constant.
func NewTensor(data *mat.Dense, config *TensorConfig) (*Tensor, error) {
	if data == nil {
		return nil, fmt.Errorf("new tensor: %w", ErrNilTensor)
	}
	if config == nil {
		config = &TensorConfig{}
	}

	rank := config.Rank
	if rank == 0 {
		rank = 2
	}
	if r, _ := data.Dims(); rank == 1 && r != 1 {
		return nil, fmt.Errorf("new tensor %q: rank 1 needs a single row, got %d: %w", config.Name, r, ErrShapeMismatch)
	}

	return &Tensor{
		Data:         data,
		RequiresGrad: config.RequiresGrad,
		Name:         config.Name,
		rank:         rank,
	}, nil
}

// NewZerosTensor creates a rows×cols tensor filled with zeros.
func NewZerosTensor(rows, cols int, config *TensorConfig) (*Tensor, error) {
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("dimensions must be positive: rows=%d, cols=%d: %w", rows, cols, ErrShapeMismatch)
	}
	return NewTensor(mat.NewDense(rows, cols, nil), config)
}

// NewParameter creates a trainable rows×cols matrix initialized to zero.
func NewParameter(rows, cols int, name string) (*Tensor, error) {
	return NewZerosTensor(rows, cols, &TensorConfig{RequiresGrad: true, Name: name, Rank: 2})
}

// NewVectorParameter creates a trainable vector of n features initialized to zero.
func NewVectorParameter(n int, name string) (*Tensor, error) {
	return NewZerosTensor(1, n, &TensorConfig{RequiresGrad: true, Name: name, Rank: 1})
}

// Constant wraps data in a tensor that never receives gradients.
func Constant(data *mat.Dense, name string) *Tensor {
	return &Tensor{Data: data, Name: name, rank: 2}
}

// Rank returns 1 for vector parameters and 2 for matrices.
func (t *Tensor) Rank() int {
	return t.rank
}

// Dims returns the number of rows and columns.
func (t *Tensor) Dims() (rows, cols int) {
	return t.Data.Dims()
}

// Shape returns the dimensions as a slice.
func (t *Tensor) Shape() []int {
	r, c := t.Data.Dims()
	return []int{r, c}
}

// At returns the element at row i, column j.
func (t *Tensor) At(i, j int) float64 {
	return t.Data.At(i, j)
}

// Row returns a copy of row i.
func (t *Tensor) Row(i int) []float64 {
	return mat.Row(nil, i, t.Data)
}

// ZeroGrad clears the accumulated gradient.
func (t *Tensor) ZeroGrad() {
	if t.Grad != nil {
		t.Grad.Zero()
	}
}

// Backward seeds t's gradient with ones and propagates it to every tensor
// that contributed to t and requires a gradient.
func (t *Tensor) Backward() error {
	if t == nil {
		return fmt.Errorf("backward: %w", ErrNilTensor)
	}
	if !t.RequiresGrad {
		return fmt.Errorf("backward on %q: tensor does not require gradients", t.Name)
	}

	r, c := t.Data.Dims()
	t.Grad = ones(r, c)

	visited := make(map[*Tensor]bool)
	topo := make([]*Tensor, 0)

	var buildTopo func(node *Tensor)
	buildTopo = func(node *Tensor) {
		if visited[node] {
			return
		}
		visited[node] = true
		for _, child := range node.Children {
			buildTopo(child)
		}
		topo = append(topo, node)
	}
	buildTopo(t)

	for i := len(topo) - 1; i >= 0; i-- {
		node := topo[i]
		if node.BackwardFn != nil && node.Grad != nil {
			node.BackwardFn()
		}
	}

	return nil
}

// accumulate adds g into t's gradient, allocating it on first use.
func (t *Tensor) accumulate(g mat.Matrix) {
	if !t.RequiresGrad {
		return
	}
	if t.Grad == nil {
		r, c := t.Data.Dims()
		t.Grad = mat.NewDense(r, c, nil)
	}
	t.Grad.Add(t.Grad, g)
}

// newResult builds the output node of an op. The backward closure is attached
// only when one of the inputs needs a gradient.
func newResult(data *mat.Dense, name string, inputs ...*Tensor) *Tensor {
	out := &Tensor{Data: data, Name: name, rank: 2}
	for _, in := range inputs {
		if in.RequiresGrad {
			out.RequiresGrad = true
			break
		}
	}
	if out.RequiresGrad {
		out.Children = inputs
	}
	return out
}

func checkNil(op string, ts ...*Tensor) error {
	for _, t := range ts {
		if t == nil || t.Data == nil {
			return fmt.Errorf("%s: %w", op, ErrNilTensor)
		}
	}
	return nil
}
