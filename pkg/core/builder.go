package core

import (
	"fmt"
	"log/slog"

	"github.com/transformer_reorganized/seq2seq/pkg/autodiff"
)

// BuildTransformer wires every component described by cfg and initializes
// the parameters from cfg.Seed. The model starts in training mode.
func BuildTransformer(cfg Config) (*Transformer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	t := &Transformer{Config: cfg, isTraining: true}
	var err error
	if t.SrcEmbed, err = NewInputEmbedding(cfg.DModel, cfg.SrcVocabSize); err != nil {
		return nil, fmt.Errorf("source %w", err)
	}
	if t.TgtEmbed, err = NewInputEmbedding(cfg.DModel, cfg.TgtVocabSize); err != nil {
		return nil, fmt.Errorf("target %w", err)
	}
	if t.SrcPos, err = NewPositionalEncoding(cfg.DModel, cfg.SrcSeqLen, cfg.Dropout); err != nil {
		return nil, err
	}
	if t.TgtPos, err = NewPositionalEncoding(cfg.DModel, cfg.TgtSeqLen, cfg.Dropout); err != nil {
		return nil, err
	}

	encoderBlocks := make([]*EncoderBlock, cfg.NumLayers)
	for i := range encoderBlocks {
		if encoderBlocks[i], err = buildEncoderBlock(cfg); err != nil {
			return nil, fmt.Errorf("encoder block %d: %w", i, err)
		}
	}
	decoderBlocks := make([]*DecoderBlock, cfg.NumLayers)
	for i := range decoderBlocks {
		if decoderBlocks[i], err = buildDecoderBlock(cfg); err != nil {
			return nil, fmt.Errorf("decoder block %d: %w", i, err)
		}
	}

	if t.Encoder, err = NewEncoder(cfg.DModel, encoderBlocks); err != nil {
		return nil, err
	}
	if t.Decoder, err = NewDecoder(cfg.DModel, decoderBlocks); err != nil {
		return nil, err
	}
	if t.Projection, err = NewProjectionLayer(cfg.DModel, cfg.TgtVocabSize); err != nil {
		return nil, err
	}

	params := t.Parameters()
	InitParameters(params, autodiff.NewRand(cfg.Seed))

	slog.Info("built transformer",
		"d_model", cfg.DModel,
		"layers", cfg.NumLayers,
		"heads", cfg.NumHeads,
		"d_ff", cfg.FFNHiddenDim,
		"tensors", len(params),
		"parameters", countParameters(params),
	)
	return t, nil
}

func buildEncoderBlock(cfg Config) (*EncoderBlock, error) {
	self, err := NewMultiHeadAttention(cfg.DModel, cfg.NumHeads, cfg.Dropout)
	if err != nil {
		return nil, err
	}
	ff, err := NewFeedForward(cfg.DModel, cfg.FFNHiddenDim, cfg.Dropout)
	if err != nil {
		return nil, err
	}
	return NewEncoderBlock(self, ff, cfg.Dropout)
}

func buildDecoderBlock(cfg Config) (*DecoderBlock, error) {
	self, err := NewMultiHeadAttention(cfg.DModel, cfg.NumHeads, cfg.Dropout)
	if err != nil {
		return nil, err
	}
	cross, err := NewMultiHeadAttention(cfg.DModel, cfg.NumHeads, cfg.Dropout)
	if err != nil {
		return nil, err
	}
	ff, err := NewFeedForward(cfg.DModel, cfg.FFNHiddenDim, cfg.Dropout)
	if err != nil {
		return nil, err
	}
	return NewDecoderBlock(self, cross, ff, cfg.Dropout)
}
