package utils

import (
	"errors"
	"fmt"
)

var (
	ErrSequenceTooLong = errors.New("sequence longer than maximum length")
	ErrVocabTooSmall   = errors.New("vocabulary has no ids besides padding")
)

// Batch represents a batch of token id sequences padded to a common length
type Batch struct {
	Sequences       [][]int
	SequenceLengths []int
	MaxLen          int
	PadID           int
}

// NewBatch pads every sequence to maxLen with padID. Sequences longer than
// maxLen are rejected.
func NewBatch(sequences [][]int, maxLen, padID int) (*Batch, error) {
	if maxLen <= 0 {
		return nil, fmt.Errorf("batch: maximum length must be positive, got %d", maxLen)
	}
	padded := make([][]int, len(sequences))
	lengths := make([]int, len(sequences))
	for i, seq := range sequences {
		if len(seq) > maxLen {
			return nil, fmt.Errorf("batch: sequence %d has %d tokens, max %d: %w", i, len(seq), maxLen, ErrSequenceTooLong)
		}
		row := make([]int, maxLen)
		copy(row, seq)
		for j := len(seq); j < maxLen; j++ {
			row[j] = padID
		}
		padded[i] = row
		lengths[i] = len(seq)
	}
	return &Batch{Sequences: padded, SequenceLengths: lengths, MaxLen: maxLen, PadID: padID}, nil
}

// Intn is satisfied by *rand.Rand.
type Intn interface {
	IntN(n int) int
}

// RandomSequences draws batch sequences of random length in [1, maxLen] with
// ids in [1, vocab), leaving 0 free for padding.
func RandomSequences(rng Intn, batch, maxLen, vocab int) ([][]int, error) {
	if vocab < 2 {
		return nil, fmt.Errorf("random sequences: vocabulary size %d: %w", vocab, ErrVocabTooSmall)
	}
	if maxLen <= 0 {
		return nil, fmt.Errorf("random sequences: maximum length must be positive, got %d", maxLen)
	}
	out := make([][]int, batch)
	for i := range out {
		n := 1 + rng.IntN(maxLen)
		seq := make([]int, n)
		for j := range seq {
			seq[j] = 1 + rng.IntN(vocab-1)
		}
		out[i] = seq
	}
	return out, nil
}
