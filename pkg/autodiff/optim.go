package autodiff

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Optimizer updates parameters in place from their accumulated gradients.
type Optimizer interface {
	Step(params []*Tensor)
	SetLearningRate(lr float64)
}

// AdamOptimizer implements Adam. WeightDecay is folded into the gradient as an
// L2 term unless Decoupled is set, in which case weights shrink directly as in
// AdamW.
type AdamOptimizer struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64
	WeightDecay  float64
	Decoupled    bool

	m map[*Tensor]*mat.Dense
	v map[*Tensor]*mat.Dense
	t int
}

// NewAdamOptimizer creates an Adam optimizer with the usual betas.
func NewAdamOptimizer(lr, weightDecay float64) *AdamOptimizer {
	return &AdamOptimizer{
		LearningRate: lr,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
		WeightDecay:  weightDecay,
		m:            make(map[*Tensor]*mat.Dense),
		v:            make(map[*Tensor]*mat.Dense),
	}
}

// NewAdamWOptimizer creates an Adam optimizer with decoupled weight decay.
func NewAdamWOptimizer(lr, weightDecay float64) *AdamOptimizer {
	opt := NewAdamOptimizer(lr, weightDecay)
	opt.Decoupled = true
	return opt
}

func (opt *AdamOptimizer) SetLearningRate(lr float64) { opt.LearningRate = lr }

// Step performs one optimization step
func (opt *AdamOptimizer) Step(params []*Tensor) {
	opt.t++
	bc1 := 1.0 - math.Pow(opt.Beta1, float64(opt.t))
	bc2 := 1.0 - math.Pow(opt.Beta2, float64(opt.t))

	for _, param := range params {
		if param == nil || param.Grad == nil || !param.RequiresGrad {
			continue
		}
		r, c := param.Data.Dims()
		m, ok := opt.m[param]
		if !ok {
			m = mat.NewDense(r, c, nil)
			opt.m[param] = m
			opt.v[param] = mat.NewDense(r, c, nil)
		}
		v := opt.v[param]

		for i := 0; i < r; i++ {
			w := param.Data.RawRowView(i)
			g := param.Grad.RawRowView(i)
			mr := m.RawRowView(i)
			vr := v.RawRowView(i)
			for j := range w {
				grad := g[j]
				if opt.WeightDecay > 0 {
					if opt.Decoupled {
						w[j] -= opt.LearningRate * opt.WeightDecay * w[j]
					} else {
						grad += opt.WeightDecay * w[j]
					}
				}
				mr[j] = opt.Beta1*mr[j] + (1-opt.Beta1)*grad
				vr[j] = opt.Beta2*vr[j] + (1-opt.Beta2)*grad*grad
				w[j] -= opt.LearningRate * (mr[j] / bc1) / (math.Sqrt(vr[j]/bc2) + opt.Epsilon)
			}
		}
	}
}

// SGDOptimizer implements stochastic gradient descent with momentum
type SGDOptimizer struct {
	LearningRate float64
	Momentum     float64
	WeightDecay  float64

	velocity map[*Tensor]*mat.Dense
}

func NewSGDOptimizer(lr, weightDecay float64) *SGDOptimizer {
	return &SGDOptimizer{
		LearningRate: lr,
		Momentum:     0.9,
		WeightDecay:  weightDecay,
		velocity:     make(map[*Tensor]*mat.Dense),
	}
}

func (opt *SGDOptimizer) SetLearningRate(lr float64) { opt.LearningRate = lr }

func (opt *SGDOptimizer) Step(params []*Tensor) {
	for _, param := range params {
		if param == nil || param.Grad == nil || !param.RequiresGrad {
			continue
		}
		r, c := param.Data.Dims()
		vel, ok := opt.velocity[param]
		if !ok {
			vel = mat.NewDense(r, c, nil)
			opt.velocity[param] = vel
		}

		var grad mat.Dense
		grad.Scale(opt.WeightDecay, param.Data)
		grad.Add(&grad, param.Grad)
		vel.Scale(opt.Momentum, vel)
		grad.Scale(opt.LearningRate, &grad)
		vel.Sub(vel, &grad)
		param.Data.Add(param.Data, vel)
	}
}

// ClipGradNorm rescales all gradients so that their global L2 norm does not
// exceed maxNorm. It returns the norm before clipping.
func ClipGradNorm(params []*Tensor, maxNorm float64) float64 {
	totalSq := 0.0
	for _, p := range params {
		if p == nil || p.Grad == nil {
			continue
		}
		n := mat.Norm(p.Grad, 2)
		totalSq += n * n
	}
	total := math.Sqrt(totalSq)
	if maxNorm > 0 && total > maxNorm {
		factor := maxNorm / (total + 1e-6)
		for _, p := range params {
			if p != nil && p.Grad != nil {
				p.Grad.Scale(factor, p.Grad)
			}
		}
	}
	return total
}

// ZeroGrad clears the gradient of every parameter.
func ZeroGrad(params []*Tensor) {
	for _, p := range params {
		if p != nil {
			p.ZeroGrad()
		}
	}
}

// WarmupLearningRate ramps linearly from base/warmup to base over the first
// warmup steps and stays at base afterwards.
func WarmupLearningRate(base float64, warmup, step int) float64 {
	if warmup > 0 && step < warmup {
		return base * float64(step+1) / float64(warmup)
	}
	return base
}
