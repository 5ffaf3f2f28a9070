package core

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/transformer_reorganized/seq2seq/pkg/autodiff"
)

func randomInput(t *testing.T, rows, cols int, seed uint64) *autodiff.Tensor {
	t.Helper()
	x := autodiff.Constant(mat.NewDense(rows, cols, nil), "x")
	autodiff.Uniform(x, -2, 2, autodiff.NewRand(seed))
	return x
}

func TestPositionalEncodingTable(t *testing.T) {
	pe, err := NewPositionalEncoding(6, 5, 0.1)
	require.NoError(t, err)
	table := pe.Table()

	opt := cmpopts.EquateApprox(0, 1e-12)
	if diff := cmp.Diff([]float64{0, 1, 0, 1, 0, 1}, mat.Row(nil, 0, table), opt); diff != "" {
		t.Errorf("position 0 (-want +got):\n%s", diff)
	}

	freq := math.Exp(-2 * math.Log(10000) / 6)
	want := []float64{math.Sin(3), math.Cos(3), math.Sin(3 * freq), math.Cos(3 * freq)}
	if diff := cmp.Diff(want, mat.Row(nil, 3, table)[:4], opt); diff != "" {
		t.Errorf("position 3 (-want +got):\n%s", diff)
	}

	again, err := NewPositionalEncoding(6, 5, 0.5)
	require.NoError(t, err)
	require.True(t, mat.Equal(table, again.Table()), "table must not depend on anything but shape")

	table.Set(0, 0, 42)
	require.Equal(t, 0.0, pe.Table().At(0, 0), "Table returns a copy")
}

func TestPositionalEncodingForward(t *testing.T) {
	pe, err := NewPositionalEncoding(4, 3, 0.1)
	require.NoError(t, err)

	x := autodiff.Constant(mat.NewDense(2, 4, nil), "zeros")
	y, err := pe.Forward(x, false)
	require.NoError(t, err)
	require.True(t, mat.Equal(y.Data, pe.Table().Slice(0, 2, 0, 4)))

	_, err = pe.Forward(autodiff.Constant(mat.NewDense(4, 4, nil), "long"), false)
	require.ErrorIs(t, err, autodiff.ErrIndexOutOfRange)
}

func TestOddModelDimension(t *testing.T) {
	pe, err := NewPositionalEncoding(5, 2, 0)
	require.NoError(t, err)
	require.InDelta(t, math.Sin(1*math.Exp(-4*math.Log(10000)/5)), pe.Table().At(1, 4), 1e-12)
}

func TestInputEmbedding(t *testing.T) {
	emb, err := NewInputEmbedding(4, 10)
	require.NoError(t, err)
	InitParameters(emb.Parameters(), autodiff.NewRand(1))

	out, err := emb.Forward([]int{3, 3, 9})
	require.NoError(t, err)
	require.Equal(t, []int{3, 4}, out.Shape())

	want := emb.Table.Row(3)
	floats.Scale(2, want)
	if diff := cmp.Diff(want, out.Row(1), cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		t.Errorf("scaled embedding (-want +got):\n%s", diff)
	}

	_, err = emb.Forward([]int{10})
	require.ErrorIs(t, err, autodiff.ErrIndexOutOfRange)
	_, err = emb.Forward(nil)
	require.ErrorIs(t, err, autodiff.ErrShapeMismatch)
}

func TestLayerNormStatistics(t *testing.T) {
	ln, err := NewLayerNorm(16)
	require.NoError(t, err)

	x := randomInput(t, 5, 16, 3)
	y, err := ln.Forward(x)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		row := y.Row(i)
		require.InDelta(t, 0, stat.Mean(row, nil), 1e-9, "row %d mean", i)
		require.InDelta(t, 1, stat.Variance(row, nil), 1e-4, "row %d variance", i)
	}

	_, err = NewLayerNorm(1)
	require.ErrorIs(t, err, ErrInvalidConfig)
	_, err = ln.Forward(randomInput(t, 2, 8, 1))
	require.ErrorIs(t, err, autodiff.ErrShapeMismatch)
}

func TestLayerNormConstantRowGradient(t *testing.T) {
	ln, err := NewLayerNorm(4)
	require.NoError(t, err)

	x, err := autodiff.NewParameter(1, 4, "x")
	require.NoError(t, err)
	x.Data.SetRow(0, []float64{2, 2, 2, 2})

	y, err := ln.Forward(x)
	require.NoError(t, err)
	require.Equal(t, []float64{0, 0, 0, 0}, y.Row(0))

	w := autodiff.Constant(mat.NewDense(1, 4, []float64{1, -2, 0.5, 3}), "w")
	weighted, err := autodiff.Multiply(y, w)
	require.NoError(t, err)
	loss, err := autodiff.Sum(weighted)
	require.NoError(t, err)
	require.NoError(t, loss.Backward())

	for _, p := range []*autodiff.Tensor{x, ln.Alpha, ln.Bias} {
		require.NotNil(t, p.Grad, p.Name)
		for _, g := range p.Grad.RawMatrix().Data {
			require.False(t, math.IsNaN(g) || math.IsInf(g, 0), "%s gradient %v", p.Name, g)
		}
	}
	require.Equal(t, []float64{1, -2, 0.5, 3}, ln.Bias.Grad.RawRowView(0))
}

func TestResidualWithZeroSublayer(t *testing.T) {
	rc, err := NewResidualConnection(8, 0.5)
	require.NoError(t, err)

	zero := SublayerFunc(func(h *autodiff.Tensor, _ bool) (*autodiff.Tensor, error) {
		r, c := h.Dims()
		return autodiff.Constant(mat.NewDense(r, c, nil), "zero"), nil
	})

	x := randomInput(t, 3, 8, 9)
	for _, training := range []bool{false, true} {
		y, err := rc.Forward(x, zero, training)
		require.NoError(t, err)
		require.True(t, autodiff.Equal(x, y, 0), "training=%v", training)
	}
}

func TestResidualRejectsShapeChange(t *testing.T) {
	rc, err := NewResidualConnection(4, 0)
	require.NoError(t, err)
	squash := SublayerFunc(func(h *autodiff.Tensor, _ bool) (*autodiff.Tensor, error) {
		return autodiff.SliceRows(h, 0, 1)
	})
	_, err = rc.Forward(randomInput(t, 3, 4, 1), squash, false)
	require.ErrorIs(t, err, autodiff.ErrShapeMismatch)
}

func TestFeedForwardShape(t *testing.T) {
	ff, err := NewFeedForward(6, 10, 0.1)
	require.NoError(t, err)
	InitParameters(ff.Parameters(), autodiff.NewRand(4))

	y, err := ff.Forward(randomInput(t, 3, 6, 2), true)
	require.NoError(t, err)
	require.Equal(t, []int{3, 6}, y.Shape())
	require.Len(t, ff.Parameters(), 4)
}

func TestInitParameters(t *testing.T) {
	l, err := NewLinear(16, 4, true)
	require.NoError(t, err)
	InitParameters(l.Parameters(), autodiff.NewRand(8))

	wBound := math.Sqrt(6.0 / 20)
	require.LessOrEqual(t, mat.Max(l.Weight.Data), wBound)
	require.GreaterOrEqual(t, mat.Min(l.Weight.Data), -wBound)
	require.LessOrEqual(t, mat.Max(l.Bias.Data), 0.25)
	require.GreaterOrEqual(t, mat.Min(l.Bias.Data), -0.25)
	require.NotZero(t, mat.Sum(l.Bias.Data))

	ln, err := NewLayerNorm(4)
	require.NoError(t, err)
	InitParameters(ln.Parameters(), autodiff.NewRand(8))
	require.Equal(t, []float64{1, 1, 1, 1}, ln.Alpha.Row(0))
	require.Equal(t, []float64{0, 0, 0, 0}, ln.Bias.Row(0))
}
