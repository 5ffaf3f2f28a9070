package core

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig reports hyperparameters that cannot describe a model.
var ErrInvalidConfig = errors.New("invalid config")

// Config represents the configuration for a transformer model
type Config struct {
	SrcVocabSize int
	TgtVocabSize int
	SrcSeqLen    int
	TgtSeqLen    int

	DModel       int
	NumLayers    int
	NumHeads     int
	FFNHiddenDim int
	Dropout      float64

	// Seed drives parameter initialization.
	Seed uint64
}

// DefaultConfig returns the base model hyperparameters for the given vocabularies
// and sequence lengths.
func DefaultConfig(srcVocab, tgtVocab, srcSeqLen, tgtSeqLen int) Config {
	return Config{
		SrcVocabSize: srcVocab,
		TgtVocabSize: tgtVocab,
		SrcSeqLen:    srcSeqLen,
		TgtSeqLen:    tgtSeqLen,
		DModel:       512,
		NumLayers:    6,
		NumHeads:     8,
		FFNHiddenDim: 2048,
		Dropout:      0.1,
	}
}

// Validate checks that every dimension is usable.
func (c Config) Validate() error {
	positive := []struct {
		name  string
		value int
	}{
		{"source vocabulary size", c.SrcVocabSize},
		{"target vocabulary size", c.TgtVocabSize},
		{"source sequence length", c.SrcSeqLen},
		{"target sequence length", c.TgtSeqLen},
		{"model dimension", c.DModel},
		{"number of layers", c.NumLayers},
		{"number of heads", c.NumHeads},
		{"feed-forward dimension", c.FFNHiddenDim},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return fmt.Errorf("%s must be positive, got %d: %w", p.name, p.value, ErrInvalidConfig)
		}
	}
	if c.DModel < 2 {
		return fmt.Errorf("model dimension must be at least 2 for layer normalization, got %d: %w", c.DModel, ErrInvalidConfig)
	}
	if c.DModel%c.NumHeads != 0 {
		return fmt.Errorf("model dimension (%d) must be divisible by number of heads (%d): %w", c.DModel, c.NumHeads, ErrInvalidConfig)
	}
	if c.Dropout < 0 || c.Dropout >= 1 {
		return fmt.Errorf("dropout must be in [0, 1), got %g: %w", c.Dropout, ErrInvalidConfig)
	}
	return nil
}
