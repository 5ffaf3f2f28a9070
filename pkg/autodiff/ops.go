package autodiff

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// binary applies f elementwise with b broadcast onto a. da and db are the partial
// derivatives of f with respect to each operand.
func binary(op string, a, b *Tensor, f, da, db func(x, y float64) float64) (*Tensor, error) {
	if err := checkNil(op, a, b); err != nil {
		return nil, err
	}
	kind, err := broadcastOf(a.Data, b.Data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	r, c := a.Data.Dims()
	data := mat.NewDense(r, c, nil)
	data.Apply(func(i, j int, x float64) float64 {
		return f(x, kind.at(b.Data, i, j))
	}, a.Data)

	result := newResult(data, op+"_result", a, b)
	if result.RequiresGrad {
		result.BackwardFn = func() {
			if a.RequiresGrad {
				ga := mat.NewDense(r, c, nil)
				ga.Apply(func(i, j int, g float64) float64 {
					return g * da(a.Data.At(i, j), kind.at(b.Data, i, j))
				}, result.Grad)
				a.accumulate(ga)
			}
			if b.RequiresGrad {
				gb := mat.NewDense(r, c, nil)
				gb.Apply(func(i, j int, g float64) float64 {
					return g * db(a.Data.At(i, j), kind.at(b.Data, i, j))
				}, result.Grad)
				b.accumulate(kind.reduce(gb))
			}
		}
	}
	return result, nil
}

// Add performs element-wise addition. b may be a row, column or scalar that
// broadcasts onto a.
func Add(a, b *Tensor) (*Tensor, error) {
	return binary("add", a, b,
		func(x, y float64) float64 { return x + y },
		func(_, _ float64) float64 { return 1 },
		func(_, _ float64) float64 { return 1 },
	)
}

// Subtract performs element-wise subtraction with broadcasting of b.
func Subtract(a, b *Tensor) (*Tensor, error) {
	return binary("subtract", a, b,
		func(x, y float64) float64 { return x - y },
		func(_, _ float64) float64 { return 1 },
		func(_, _ float64) float64 { return -1 },
	)
}

// Multiply performs the Hadamard product with broadcasting of b.
func Multiply(a, b *Tensor) (*Tensor, error) {
	return binary("multiply", a, b,
		func(x, y float64) float64 { return x * y },
		func(_, y float64) float64 { return y },
		func(x, _ float64) float64 { return x },
	)
}

// Divide performs element-wise division with broadcasting of b.
func Divide(a, b *Tensor) (*Tensor, error) {
	return binary("divide", a, b,
		func(x, y float64) float64 { return x / y },
		func(_, y float64) float64 { return 1 / y },
		func(x, y float64) float64 { return -x / (y * y) },
	)
}

// unary applies f elementwise; df receives the input and the output.
func unary(op string, a *Tensor, f func(x float64) float64, df func(x, y float64) float64) (*Tensor, error) {
	if err := checkNil(op, a); err != nil {
		return nil, err
	}
	r, c := a.Data.Dims()
	data := mat.NewDense(r, c, nil)
	data.Apply(func(_, _ int, x float64) float64 { return f(x) }, a.Data)

	result := newResult(data, op+"_result", a)
	if result.RequiresGrad {
		result.BackwardFn = func() {
			g := mat.NewDense(r, c, nil)
			g.Apply(func(i, j int, v float64) float64 {
				return v * df(a.Data.At(i, j), data.At(i, j))
			}, result.Grad)
			a.accumulate(g)
		}
	}
	return result, nil
}

// ScalarMultiply multiplies every element by s.
func ScalarMultiply(a *Tensor, s float64) (*Tensor, error) {
	return unary("scale", a,
		func(x float64) float64 { return x * s },
		func(_, _ float64) float64 { return s },
	)
}

// AddScalar adds s to every element.
func AddScalar(a *Tensor, s float64) (*Tensor, error) {
	return unary("add_scalar", a,
		func(x float64) float64 { return x + s },
		func(_, _ float64) float64 { return 1 },
	)
}

// ReLU applies max(0, x).
func ReLU(a *Tensor) (*Tensor, error) {
	return unary("relu", a,
		func(x float64) float64 { return math.Max(0, x) },
		func(x, _ float64) float64 {
			if x > 0 {
				return 1
			}
			return 0
		},
	)
}

// Sqrt applies the element-wise square root.
func Sqrt(a *Tensor) (*Tensor, error) {
	return unary("sqrt", a,
		math.Sqrt,
		func(_, y float64) float64 {
			// subgradient 0 at the origin
			if y == 0 {
				return 0
			}
			return 0.5 / y
		},
	)
}

// Square applies x².
func Square(a *Tensor) (*Tensor, error) {
	return unary("square", a,
		func(x float64) float64 { return x * x },
		func(x, _ float64) float64 { return 2 * x },
	)
}

// MatMul performs matrix multiplication with gradient tracking
func MatMul(a, b *Tensor) (*Tensor, error) {
	if err := checkNil("matmul", a, b); err != nil {
		return nil, err
	}
	ar, ac := a.Data.Dims()
	br, bc := b.Data.Dims()
	if ac != br {
		return nil, fmt.Errorf("matmul: a(%dx%d), b(%dx%d): %w", ar, ac, br, bc, ErrShapeMismatch)
	}

	data := mat.NewDense(ar, bc, nil)
	data.Mul(a.Data, b.Data)

	result := newResult(data, "matmul_result", a, b)
	if result.RequiresGrad {
		result.BackwardFn = func() {
			if a.RequiresGrad {
				// dL/dA = dL/dC * B^T
				var dA mat.Dense
				dA.Mul(result.Grad, b.Data.T())
				a.accumulate(&dA)
			}
			if b.RequiresGrad {
				// dL/dB = A^T * dL/dC
				var dB mat.Dense
				dB.Mul(a.Data.T(), result.Grad)
				b.accumulate(&dB)
			}
		}
	}
	return result, nil
}

// Transpose returns aᵀ.
func Transpose(a *Tensor) (*Tensor, error) {
	if err := checkNil("transpose", a); err != nil {
		return nil, err
	}
	data := mat.DenseCopyOf(a.Data.T())

	result := newResult(data, "transpose_result", a)
	if result.RequiresGrad {
		result.BackwardFn = func() {
			a.accumulate(result.Grad.T())
		}
	}
	return result, nil
}

// RowMean returns the mean of each row as a column vector.
func RowMean(a *Tensor) (*Tensor, error) {
	if err := checkNil("row_mean", a); err != nil {
		return nil, err
	}
	_, c := a.Data.Dims()
	sum, err := RowSum(a)
	if err != nil {
		return nil, err
	}
	return ScalarMultiply(sum, 1/float64(c))
}

// RowSum returns the sum of each row as a column vector.
func RowSum(a *Tensor) (*Tensor, error) {
	if err := checkNil("row_sum", a); err != nil {
		return nil, err
	}
	r, c := a.Data.Dims()
	data := broadcastCol.reduce(a.Data)

	result := newResult(data, "row_sum_result", a)
	if result.RequiresGrad {
		result.BackwardFn = func() {
			g := mat.NewDense(r, c, nil)
			g.Apply(func(i, _ int, _ float64) float64 { return result.Grad.At(i, 0) }, g)
			a.accumulate(g)
		}
	}
	return result, nil
}

// Sum returns the sum of all elements as a 1×1 tensor.
func Sum(a *Tensor) (*Tensor, error) {
	if err := checkNil("sum", a); err != nil {
		return nil, err
	}
	r, c := a.Data.Dims()
	data := mat.NewDense(1, 1, []float64{mat.Sum(a.Data)})

	result := newResult(data, "sum_result", a)
	if result.RequiresGrad {
		result.BackwardFn = func() {
			g := ones(r, c)
			g.Scale(result.Grad.At(0, 0), g)
			a.accumulate(g)
		}
	}
	return result, nil
}

// Mean returns the mean of all elements as a 1×1 tensor.
func Mean(a *Tensor) (*Tensor, error) {
	s, err := Sum(a)
	if err != nil {
		return nil, err
	}
	r, c := a.Data.Dims()
	return ScalarMultiply(s, 1/float64(r*c))
}
