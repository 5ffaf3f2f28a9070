package core

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/transformer_reorganized/seq2seq/pkg/autodiff"
)

// HyperParameters is the on-disk form of a model configuration together with
// the optimizer settings used to train it.
type HyperParameters struct {
	SrcVocabSize int     `json:"src_vocab_size"`
	TgtVocabSize int     `json:"tgt_vocab_size"`
	SrcSeqLen    int     `json:"src_seq_len"`
	TgtSeqLen    int     `json:"tgt_seq_len"`
	DModel       int     `json:"d_model"`
	NumLayers    int     `json:"num_layers"`
	NumHeads     int     `json:"num_heads"`
	FFNHiddenDim int     `json:"ffn_hidden_dim"`
	DropoutRate  float64 `json:"dropout_rate"`
	Seed         uint64  `json:"seed"`

	LearningRate      float64 `json:"learning_rate"`
	WeightDecay       float64 `json:"weight_decay"`
	WarmupSteps       int     `json:"warmup_steps"`
	GradientClipValue float64 `json:"gradient_clip_value"`
	OptimizerName     string  `json:"optimizer_name"` // "adam", "adamw" or "sgd"
}

// NewDefaultHyperParameters creates default hyperparameters
func NewDefaultHyperParameters(srcVocab, tgtVocab, srcSeqLen, tgtSeqLen int) *HyperParameters {
	hp := FromConfig(DefaultConfig(srcVocab, tgtVocab, srcSeqLen, tgtSeqLen))
	hp.LearningRate = 1e-4
	hp.WeightDecay = 0.01
	hp.WarmupSteps = 4000
	hp.GradientClipValue = 1.0
	hp.OptimizerName = "adamw"
	return hp
}

// FromConfig copies the model fields of cfg.
func FromConfig(cfg Config) *HyperParameters {
	return &HyperParameters{
		SrcVocabSize: cfg.SrcVocabSize,
		TgtVocabSize: cfg.TgtVocabSize,
		SrcSeqLen:    cfg.SrcSeqLen,
		TgtSeqLen:    cfg.TgtSeqLen,
		DModel:       cfg.DModel,
		NumLayers:    cfg.NumLayers,
		NumHeads:     cfg.NumHeads,
		FFNHiddenDim: cfg.FFNHiddenDim,
		DropoutRate:  cfg.Dropout,
		Seed:         cfg.Seed,
	}
}

// ModelConfig creates a model configuration from hyperparameters
func (hp *HyperParameters) ModelConfig() Config {
	return Config{
		SrcVocabSize: hp.SrcVocabSize,
		TgtVocabSize: hp.TgtVocabSize,
		SrcSeqLen:    hp.SrcSeqLen,
		TgtSeqLen:    hp.TgtSeqLen,
		DModel:       hp.DModel,
		NumLayers:    hp.NumLayers,
		NumHeads:     hp.NumHeads,
		FFNHiddenDim: hp.FFNHiddenDim,
		Dropout:      hp.DropoutRate,
		Seed:         hp.Seed,
	}
}

// NewOptimizer creates the optimizer named by OptimizerName.
func (hp *HyperParameters) NewOptimizer() (autodiff.Optimizer, error) {
	switch strings.ToLower(hp.OptimizerName) {
	case "adamw", "":
		return autodiff.NewAdamWOptimizer(hp.LearningRate, hp.WeightDecay), nil
	case "adam":
		return autodiff.NewAdamOptimizer(hp.LearningRate, hp.WeightDecay), nil
	case "sgd":
		return autodiff.NewSGDOptimizer(hp.LearningRate, hp.WeightDecay), nil
	}
	return nil, fmt.Errorf("unknown optimizer %q: %w", hp.OptimizerName, ErrInvalidConfig)
}

// LearningRateAt returns the warmed-up learning rate for a step.
func (hp *HyperParameters) LearningRateAt(step int) float64 {
	return autodiff.WarmupLearningRate(hp.LearningRate, hp.WarmupSteps, step)
}

// ClipGradients rescales the gradients of params to a global norm of at most
// GradientClipValue and returns the norm before clipping. A non-positive
// GradientClipValue disables clipping.
func (hp *HyperParameters) ClipGradients(params []*autodiff.Tensor) float64 {
	return autodiff.ClipGradNorm(params, hp.GradientClipValue)
}

// SaveHyperParameters saves hyperparameters to a JSON file
func SaveHyperParameters(params *HyperParameters, filePath string) error {
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	data, err := json.MarshalIndent(params, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return os.WriteFile(filePath, data, 0o644)
}

// LoadHyperParameters loads hyperparameters from a JSON file. Fields missing
// from the file keep the defaults for the base model.
func LoadHyperParameters(filePath string) (*HyperParameters, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	params := NewDefaultHyperParameters(0, 0, 0, 0)
	if err := json.Unmarshal(data, params); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", filePath, err)
	}
	return params, nil
}
