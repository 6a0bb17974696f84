package caption

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
)

// SamplerConfig controls autoregressive decoding. MaxLength counts the
// prompt tokens.
type SamplerConfig struct {
	MaxLength         int
	Temperature       float32
	TopK              int
	NoRepeatNgramSize int
	EOS               int64
	Pad               int64
	// Seed makes sampling reproducible when non-zero.
	Seed uint64
}

// StepFunc runs the decoder over the current sequences and returns the
// next-token logits for each of them.
type StepFunc func(ctx context.Context, seqs [][]int64) ([][]float32, error)

type Sampler struct {
	cfg SamplerConfig
}

func NewSampler(cfg SamplerConfig) *Sampler {
	if cfg.Temperature <= 0 {
		cfg.Temperature = 1
	}
	return &Sampler{cfg: cfg}
}

// Generate decodes n sequences in lockstep from prompt. A sequence stops at
// the end marker and is padded afterwards; decoding stops when every
// sequence has stopped or MaxLength is reached. The returned sequences
// exclude the prompt, the end marker and padding.
func (s *Sampler) Generate(ctx context.Context, prompt []int64, n int, step StepFunc) ([][]int64, error) {
	if n <= 0 {
		return nil, nil
	}
	if len(prompt) == 0 {
		return nil, errors.New("empty prompt")
	}

	rng := s.rng()
	seqs := make([][]int64, n)
	for i := range seqs {
		seqs[i] = slices.Clone(prompt)
	}
	done := make([]bool, n)
	remaining := n

	for len(seqs[0]) < s.cfg.MaxLength && remaining > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		logits, err := step(ctx, seqs)
		if err != nil {
			return nil, err
		}
		if len(logits) != n {
			return nil, fmt.Errorf("decoder returned %d rows for %d sequences", len(logits), n)
		}
		for i := range seqs {
			if done[i] {
				seqs[i] = append(seqs[i], s.cfg.Pad)
				continue
			}
			tok := s.next(logits[i], seqs[i], rng)
			seqs[i] = append(seqs[i], tok)
			if tok == s.cfg.EOS {
				done[i] = true
				remaining--
			}
		}
	}

	out := make([][]int64, n)
	for i, seq := range seqs {
		gen := seq[len(prompt):]
		if end := slices.Index(gen, s.cfg.EOS); end >= 0 {
			gen = gen[:end]
		}
		out[i] = gen
	}
	return out, nil
}

func (s *Sampler) rng() *rand.Rand {
	if s.cfg.Seed != 0 {
		return rand.New(rand.NewPCG(s.cfg.Seed, s.cfg.Seed^0x9e3779b97f4a7c15))
	}
	return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
}

func (s *Sampler) next(logits []float32, seq []int64, rng *rand.Rand) int64 {
	scores := make([]float64, len(logits))
	for i, l := range logits {
		scores[i] = float64(l) / float64(s.cfg.Temperature)
	}
	for _, tok := range BannedTokens(seq, s.cfg.NoRepeatNgramSize) {
		if int(tok) < len(scores) {
			scores[tok] = math.Inf(-1)
		}
	}
	if s.cfg.TopK > 0 && s.cfg.TopK < len(scores) {
		topK(scores, s.cfg.TopK)
	}

	probs := softmax(scores)
	if probs == nil {
		return s.cfg.EOS
	}
	return int64(sample(probs, rng.Float64()))
}

// BannedTokens returns the tokens that would complete an n-gram already
// present in seq.
func BannedTokens(seq []int64, n int) []int64 {
	if n <= 0 || len(seq)+1 < n {
		return nil
	}
	if n == 1 {
		return slices.Clone(seq)
	}
	prefix := seq[len(seq)-n+1:]
	var banned []int64
	for i := 0; i+n <= len(seq); i++ {
		if slices.Equal(seq[i:i+n-1], prefix) {
			banned = append(banned, seq[i+n-1])
		}
	}
	return banned
}

// topK sets every score below the k-th largest to -Inf.
func topK(scores []float64, k int) {
	sorted := slices.Clone(scores)
	slices.Sort(sorted)
	threshold := sorted[len(sorted)-k]
	for i, v := range scores {
		if v < threshold {
			scores[i] = math.Inf(-1)
		}
	}
}

// softmax returns nil when every score is -Inf.
func softmax(scores []float64) []float64 {
	maxScore := math.Inf(-1)
	for _, v := range scores {
		maxScore = max(maxScore, v)
	}
	if math.IsInf(maxScore, -1) {
		return nil
	}
	probs := make([]float64, len(scores))
	var sum float64
	for i, v := range scores {
		p := math.Exp(v - maxScore)
		probs[i] = p
		sum += p
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs
}

func sample(probs []float64, r float64) int {
	var cum float64
	last := 0
	for i, p := range probs {
		if p == 0 {
			continue
		}
		last = i
		cum += p
		if r < cum {
			return i
		}
	}
	return last
}
