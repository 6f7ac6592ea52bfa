// Copyright 2026 Caprock Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package pipelines

import (
	"context"
	"fmt"
	"strings"

	"github.com/caprockio/captiond/pkg/captiond/lib/vocab"
)

// DecoderStepFunc scores the next token given the sequence generated so
// far. The pipeline binds it to one image's feature vector; the generator
// itself never sees the features.
type DecoderStepFunc func(ctx context.Context, seq []int32) ([]float32, error)

// CaptionResult holds the output of one generation run.
type CaptionResult struct {
	// Caption is the finished sentence: the decoded words between the start
	// and end markers, joined by single spaces. Never contains the markers.
	Caption string

	// TokenIDs are the generated word indices, markers excluded.
	TokenIDs []int32

	// Steps is the number of decoder invocations performed.
	Steps int

	// StoppedAtEnd reports whether generation stopped on the end marker
	// rather than the length bound.
	StoppedAtEnd bool
}

// Generator runs greedy autoregressive decoding: one forward pass and one
// argmax per step, at most MaxLength-1 decoder invocations per caption.
type Generator struct {
	// MaxLength is the fixed sequence capacity, including the start marker.
	// It is configured independently of the vocabulary size; the two are
	// not derivable from each other for this model's training artifacts.
	MaxLength int

	// Vocabulary maps emitted indices back to words.
	Vocabulary *vocab.Vocabulary
}

// NewGenerator creates a Generator.
func NewGenerator(vocabulary *vocab.Vocabulary, maxLength int) *Generator {
	return &Generator{
		MaxLength:  maxLength,
		Vocabulary: vocabulary,
	}
}

// Generate runs the decoding loop until the end marker is produced or the
// sequence is full, whichever comes first. The loop performs at most
// MaxLength-1 decoder invocations; termination is guaranteed by the step
// bound alone, independent of model output. When the bound is hit without
// an end marker the caption is truncated silently; that is the trained
// model's contract, not an error.
func (g *Generator) Generate(ctx context.Context, stepFn DecoderStepFunc) (*CaptionResult, error) {
	seq := []int32{g.Vocabulary.StartID()}
	words := make([]string, 0, g.MaxLength)
	result := &CaptionResult{}

	for step := 1; step < g.MaxLength; step++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		scores, err := stepFn(ctx, seq)
		if err != nil {
			return nil, err
		}
		result.Steps++

		next, err := Argmax(scores)
		if err != nil {
			return nil, err
		}
		if next == g.Vocabulary.EndID() {
			result.StoppedAtEnd = true
			break
		}

		word, ok := g.Vocabulary.Decode(next)
		if !ok {
			// The output layer bounds indices by construction, so an unknown
			// index means the vocabulary and weights disagree. Never skip it.
			return nil, fmt.Errorf("%w: model emitted unknown index %d", vocab.ErrCorrupt, next)
		}

		if step == g.MaxLength-1 {
			// Sequence full; the final slot could only have held the end
			// marker. Drop the word and truncate.
			break
		}

		seq = append(seq, next)
		words = append(words, word)
		result.TokenIDs = append(result.TokenIDs, next)
	}

	result.Caption = strings.Join(words, " ")
	return result, nil
}

// Argmax returns the index of the highest score. Ties break to the lowest
// index (stable argmax), keeping decoding deterministic.
func Argmax(scores []float32) (int32, error) {
	if len(scores) == 0 {
		return 0, fmt.Errorf("decoder returned an empty score distribution")
	}
	best := 0
	for i, s := range scores {
		if s > scores[best] {
			best = i
		}
	}
	return int32(best), nil
}
