package core

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/transformer_reorganized/seq2seq/pkg/autodiff"
)

func TestHyperParametersRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "hparams.json")

	hp := FromConfig(smallConfig())
	hp.LearningRate = 3e-4
	hp.OptimizerName = "sgd"
	require.NoError(t, SaveHyperParameters(hp, path))

	loaded, err := LoadHyperParameters(path)
	require.NoError(t, err)
	require.Equal(t, hp, loaded)
	require.Equal(t, smallConfig(), loaded.ModelConfig())

	opt, err := loaded.NewOptimizer()
	require.NoError(t, err)
	require.IsType(t, &autodiff.SGDOptimizer{}, opt)
}

func TestLoadHyperParametersKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"src_vocab_size": 50, "tgt_vocab_size": 60, "src_seq_len": 8, "tgt_seq_len": 8, "num_heads": 4}`), 0o644))

	hp, err := LoadHyperParameters(path)
	require.NoError(t, err)
	cfg := hp.ModelConfig()
	require.Equal(t, 512, cfg.DModel)
	require.Equal(t, 4, cfg.NumHeads)
	require.Equal(t, 50, cfg.SrcVocabSize)
	require.NoError(t, cfg.Validate())

	opt, err := hp.NewOptimizer()
	require.NoError(t, err)
	require.IsType(t, &autodiff.AdamOptimizer{}, opt)
	require.True(t, opt.(*autodiff.AdamOptimizer).Decoupled)
	require.InDelta(t, hp.LearningRate/4000, hp.LearningRateAt(0), 1e-15)
}

func TestHyperParametersErrors(t *testing.T) {
	_, err := LoadHyperParameters(filepath.Join(t.TempDir(), "missing.json"))
	require.ErrorIs(t, err, os.ErrNotExist)

	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o644))
	_, err = LoadHyperParameters(path)
	require.Error(t, err)

	hp := &HyperParameters{OptimizerName: "lbfgs"}
	_, err = hp.NewOptimizer()
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNewOptimizerNames(t *testing.T) {
	for name, decoupled := range map[string]bool{"adam": false, "Adam": false, "adamw": true, "": true} {
		hp := &HyperParameters{LearningRate: 0.1, WeightDecay: 0.01, OptimizerName: name}
		opt, err := hp.NewOptimizer()
		require.NoError(t, err, name)
		adam, ok := opt.(*autodiff.AdamOptimizer)
		require.True(t, ok, name)
		require.Equal(t, decoupled, adam.Decoupled, name)
	}
}

func TestClipGradients(t *testing.T) {
	p, err := autodiff.NewParameter(1, 2, "p")
	require.NoError(t, err)
	p.Grad = mat.NewDense(1, 2, []float64{6, 8})

	hp := &HyperParameters{GradientClipValue: 2}
	require.InDelta(t, 10, hp.ClipGradients([]*autodiff.Tensor{p}), 1e-12)
	require.InDelta(t, 2, mat.Norm(p.Grad, 2), 1e-5)

	hp.GradientClipValue = 0
	require.InDelta(t, 2, hp.ClipGradients([]*autodiff.Tensor{p}), 1e-5)
	require.InDelta(t, 2, mat.Norm(p.Grad, 2), 1e-5)
}
