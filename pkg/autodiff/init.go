package autodiff

import (
	"math"
	"math/rand/v2"
)

// NewRand returns a deterministic generator for the given seed.
func NewRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// Uniform fills t with samples from U(lo, hi).
func Uniform(t *Tensor, lo, hi float64, rng RandSource) {
	sample := rand.Float64
	if rng != nil {
		sample = rng.Float64
	}
	raw := t.Data.RawMatrix()
	for i := 0; i < raw.Rows; i++ {
		row := raw.Data[i*raw.Stride : i*raw.Stride+raw.Cols]
		for j := range row {
			row[j] = lo + (hi-lo)*sample()
		}
	}
}

// XavierUniform fills a matrix with U(-a, a) where a = sqrt(6/(fan_in+fan_out)).
// Vectors are left untouched.
func XavierUniform(t *Tensor, rng RandSource) {
	if t.Rank() < 2 {
		return
	}
	r, c := t.Dims()
	bound := math.Sqrt(6.0 / float64(r+c))
	Uniform(t, -bound, bound, rng)
}

// Fill sets every element of t to v.
func Fill(t *Tensor, v float64) {
	t.Data.Apply(func(_, _ int, _ float64) float64 { return v }, t.Data)
}
