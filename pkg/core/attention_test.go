package core

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/transformer_reorganized/seq2seq/pkg/autodiff"
)

func TestMultiHeadAttentionRejectsIndivisibleHeads(t *testing.T) {
	_, err := NewMultiHeadAttention(512, 7, 0.1)
	require.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewMultiHeadAttention(512, 8, 0.1)
	require.NoError(t, err)
}

// softmaxRows normalizes m in place.
func softmaxRows(m *mat.Dense) {
	r, _ := m.Dims()
	for i := 0; i < r; i++ {
		row := m.RawRowView(i)
		hi := row[0]
		for _, v := range row {
			hi = math.Max(hi, v)
		}
		sum := 0.0
		for j, v := range row {
			row[j] = math.Exp(v - hi)
			sum += row[j]
		}
		for j := range row {
			row[j] /= sum
		}
	}
}

func TestSingleHeadMatchesManualAttention(t *testing.T) {
	const d = 6
	mha, err := NewMultiHeadAttention(d, 1, 0.3)
	require.NoError(t, err)
	InitParameters(mha.Parameters(), autodiff.NewRand(21))

	x := randomInput(t, 4, d, 5)
	got, err := mha.Forward(x, x, x, nil, false)
	require.NoError(t, err)

	var q, k, v mat.Dense
	q.Mul(x.Data, mha.WQ.Weight.Data)
	k.Mul(x.Data, mha.WK.Weight.Data)
	v.Mul(x.Data, mha.WV.Weight.Data)

	var scores mat.Dense
	scores.Mul(&q, k.T())
	scores.Scale(1/math.Sqrt(d), &scores)
	softmaxRows(&scores)

	var heads, want mat.Dense
	heads.Mul(&scores, &v)
	want.Mul(&heads, mha.WO.Weight.Data)

	require.True(t, mat.EqualApprox(&want, got.Data, 1e-10))

	cached := mha.AttentionScores()
	require.Len(t, cached, 1)
	require.True(t, mat.EqualApprox(&scores, cached[0], 1e-12))
}

func TestAttentionMaskBlocksKeys(t *testing.T) {
	mha, err := NewMultiHeadAttention(8, 4, 0)
	require.NoError(t, err)
	InitParameters(mha.Parameters(), autodiff.NewRand(2))

	mask, err := NewPaddingMask([]int{4, 9, 0}, 0)
	require.NoError(t, err)

	q := randomInput(t, 2, 8, 1)
	kv := randomInput(t, 3, 8, 2)
	out, err := mha.Forward(q, kv, kv, mask, false)
	require.NoError(t, err)
	require.Equal(t, []int{2, 8}, out.Shape())

	scores := mha.AttentionScores()
	require.Len(t, scores, 4)
	for h, s := range scores {
		for i := 0; i < 2; i++ {
			require.Zero(t, s.At(i, 2), "head %d row %d attends to padding", h, i)
			require.InDelta(t, 1, s.At(i, 0)+s.At(i, 1), 1e-12)
		}
	}

	// Changing a blocked key must not change the output.
	kv.Data.SetRow(2, []float64{9, 9, 9, 9, 9, 9, 9, 9})
	again, err := mha.Forward(q, kv, kv, mask, false)
	require.NoError(t, err)
	require.True(t, mat.EqualApprox(out.Data, again.Data, 1e-12))
}

func TestAttentionMaskShapeMismatch(t *testing.T) {
	mha, err := NewMultiHeadAttention(4, 2, 0)
	require.NoError(t, err)

	mask, err := NewCausalMask(2)
	require.NoError(t, err)
	x := randomInput(t, 3, 4, 1)
	_, err = mha.Forward(x, x, x, mask, false)
	require.ErrorIs(t, err, autodiff.ErrShapeMismatch)
	require.Contains(t, err.Error(), "head ")
}

func TestAttentionGradientsReachEveryProjection(t *testing.T) {
	mha, err := NewMultiHeadAttention(6, 3, 0)
	require.NoError(t, err)
	InitParameters(mha.Parameters(), autodiff.NewRand(6))

	x := randomInput(t, 3, 6, 4)
	out, err := mha.Forward(x, x, x, nil, true)
	require.NoError(t, err)
	sq, err := autodiff.Square(out)
	require.NoError(t, err)
	loss, err := autodiff.Sum(sq)
	require.NoError(t, err)
	require.NoError(t, loss.Backward())

	for _, p := range mha.Parameters() {
		require.NotNil(t, p.Tensor.Grad, p.Name)
		require.NotZero(t, mat.Norm(p.Tensor.Grad, 2), p.Name)
	}
}
