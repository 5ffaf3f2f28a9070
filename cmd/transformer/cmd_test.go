package main

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/transformer_reorganized/seq2seq/internal/utils"
	"github.com/transformer_reorganized/seq2seq/pkg/core"
)

var smallModel = []string{
	"--src-vocab", "20", "--tgt-vocab", "30",
	"--src-len", "6", "--tgt-len", "5",
	"--d-model", "8", "--layers", "1", "--heads", "2", "--d-ff", "16",
}

func run(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	cmd := NewCLI()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	require.NoError(t, cmd.Execute())
	return out.String()
}

func TestSummary(t *testing.T) {
	out := run(t, append([]string{"summary"}, smallModel...)...)

	cfg := core.DefaultConfig(20, 30, 6, 5)
	cfg.DModel, cfg.NumLayers, cfg.NumHeads, cfg.FFNHiddenDim = 8, 1, 2, 16
	model, err := core.BuildTransformer(cfg)
	require.NoError(t, err)

	require.Contains(t, out, "COMPONENT")
	require.Contains(t, out, "encoder.layers.0")
	require.Contains(t, out, "projection")
	require.Contains(t, out, fmt.Sprintf("total parameters: %d\n", model.NumParameters()))
}

func TestSummaryAll(t *testing.T) {
	out := run(t, append([]string{"summary", "--all"}, smallModel...)...)
	require.Contains(t, out, "decoder.layers.0.cross_attention.w_k.weight")
	require.Contains(t, out, "8x8")
}

func TestForward(t *testing.T) {
	out := run(t, append([]string{"forward", "--batch", "3"}, smallModel...)...)
	require.Contains(t, out, "output shape: (3, 5, 30)")
	require.Equal(t, 3, strings.Count(out, "1.000000"))
}

func TestInvalidHeads(t *testing.T) {
	cmd := NewCLI()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"summary", "--d-model", "10", "--heads", "3"})
	require.ErrorIs(t, cmd.Execute(), core.ErrInvalidConfig)
}

func TestForwardVocabOnlyPadding(t *testing.T) {
	for _, args := range [][]string{
		{"--src-vocab", "1", "--tgt-vocab", "5"},
		{"--src-vocab", "5", "--tgt-vocab", "1"},
	} {
		cmd := NewCLI()
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetErr(&bytes.Buffer{})
		cmd.SetArgs(append([]string{"forward", "--d-model", "8", "--layers", "1", "--heads", "2", "--d-ff", "16", "--src-len", "4", "--tgt-len", "4"}, args...))
		require.ErrorIs(t, cmd.Execute(), utils.ErrVocabTooSmall)
	}
}

func TestForwardTrainFromEnv(t *testing.T) {
	t.Setenv("SEQ2SEQ_TRAIN", "1")
	out := run(t, append([]string{"forward", "--batch", "1", "--dropout", "0.5"}, smallModel...)...)
	require.Contains(t, out, "mode: train")

	t.Setenv("SEQ2SEQ_TRAIN", "")
	out = run(t, append([]string{"forward", "--batch", "1"}, smallModel...)...)
	require.Contains(t, out, "mode: eval")
}

func TestComponentOf(t *testing.T) {
	require.Equal(t, "encoder.layers.3", componentOf("encoder.layers.3.feed_forward.linear1.weight"))
	require.Equal(t, "encoder", componentOf("encoder.norm.alpha"))
	require.Equal(t, "src_embed", componentOf("src_embed.table"))
}

func TestConfigFile(t *testing.T) {
	cfg := core.DefaultConfig(20, 30, 6, 5)
	cfg.DModel, cfg.NumLayers, cfg.NumHeads, cfg.FFNHiddenDim = 8, 1, 2, 16
	path := filepath.Join(t.TempDir(), "hparams.json")
	require.NoError(t, core.SaveHyperParameters(core.FromConfig(cfg), path))

	out := run(t, "forward", "--config", path, "--batch", "1")
	require.Contains(t, out, "output shape: (1, 5, 30)")

	out = run(t, "forward", "--config", path, "--batch", "1", "--tgt-vocab", "12")
	require.Contains(t, out, "output shape: (1, 5, 12)")
}
