package core

import "github.com/transformer_reorganized/seq2seq/pkg/autodiff"

// Dropout represents a dropout layer for regularization
type Dropout struct {
	Rate float64
}

// NewDropout creates a new dropout layer with specified dropout rate
func NewDropout(rate float64) *Dropout {
	return &Dropout{Rate: rate}
}

// Forward applies dropout to the input during training
func (d *Dropout) Forward(x *autodiff.Tensor, isTraining bool) (*autodiff.Tensor, error) {
	return autodiff.Dropout(x, d.Rate, isTraining, nil)
}
