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
	"errors"
	"fmt"
	"image"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/caprockio/captiond/pkg/captiond/lib/imagery"
	"github.com/caprockio/captiond/pkg/captiond/lib/vocab"
)

// Pipeline ties the vocabulary, the feature extractor and the caption
// decoder together. All held state (vocabulary, model weights) is loaded
// once and read-only afterwards, so concurrent Caption calls are safe; the
// semaphore only bounds how many forward passes run at once so concurrent
// requests cannot saturate the runtime's thread pools.
type Pipeline struct {
	Extractor  *FeatureExtractor
	Decoder    *DecoderModel
	Generator  *Generator
	Vocabulary *vocab.Vocabulary

	logger *zap.Logger
	sem    *semaphore.Weighted
}

// PipelineConfig holds pipeline-level knobs.
type PipelineConfig struct {
	// MaxConcurrentInference bounds concurrent forward passes across all
	// requests. 0 means unlimited.
	MaxConcurrentInference int64
}

// NewPipeline assembles a Pipeline from its loaded parts. The vocabulary
// and both model handles are passed explicitly; nothing here reaches for
// ambient globals.
func NewPipeline(
	extractor *FeatureExtractor,
	decoder *DecoderModel,
	vocabulary *vocab.Vocabulary,
	cfg PipelineConfig,
	logger *zap.Logger,
) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Pipeline{
		Extractor:  extractor,
		Decoder:    decoder,
		Generator:  NewGenerator(vocabulary, decoder.MaxLength()),
		Vocabulary: vocabulary,
		logger:     logger,
	}
	if cfg.MaxConcurrentInference > 0 {
		p.sem = semaphore.NewWeighted(cfg.MaxConcurrentInference)
	}
	return p
}

// Caption produces a caption for one decoded image.
func (p *Pipeline) Caption(ctx context.Context, img image.Image) (*CaptionResult, error) {
	release, err := p.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	features, err := p.Extractor.Extract(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("extracting features: %w", err)
	}
	return p.decode(ctx, features)
}

// CaptionDataURL produces a caption for a base64 data-URL image payload.
func (p *Pipeline) CaptionDataURL(ctx context.Context, dataURL string) (*CaptionResult, error) {
	img, err := imagery.DecodeDataURL(dataURL)
	if err != nil {
		return nil, err
	}
	return p.Caption(ctx, img)
}

// CaptionBytes produces a caption for raw JPEG/PNG bytes.
func (p *Pipeline) CaptionBytes(ctx context.Context, data []byte) (*CaptionResult, error) {
	img, err := imagery.DecodeBytes(data)
	if err != nil {
		return nil, err
	}
	return p.Caption(ctx, img)
}

// CaptionFeatures runs only the decoding loop on a precomputed feature
// vector. Used to exercise trained decoder artifacts without an image.
func (p *Pipeline) CaptionFeatures(ctx context.Context, features FeatureVector) (*CaptionResult, error) {
	if len(features) != p.Extractor.Dim() {
		return nil, fmt.Errorf("%w: feature vector has %d values, want %d",
			imagery.ErrBadImage, len(features), p.Extractor.Dim())
	}

	release, err := p.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	return p.decode(ctx, features)
}

// decode runs the greedy loop with the step function bound to features.
func (p *Pipeline) decode(ctx context.Context, features FeatureVector) (*CaptionResult, error) {
	stepFn := func(ctx context.Context, seq []int32) ([]float32, error) {
		return p.Decoder.Predict(ctx, features, seq)
	}

	result, err := p.Generator.Generate(ctx, stepFn)
	if err != nil {
		return nil, err
	}

	p.logger.Debug("caption generated",
		zap.Int("steps", result.Steps),
		zap.Int("words", len(result.TokenIDs)),
		zap.Bool("stopped_at_end", result.StoppedAtEnd))
	return result, nil
}

// acquire takes an inference slot if a bound is configured.
func (p *Pipeline) acquire(ctx context.Context) (release func(), err error) {
	if p.sem == nil {
		return func() {}, nil
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { p.sem.Release(1) }, nil
}

// Close releases both model sessions.
func (p *Pipeline) Close() error {
	var errs []error
	if err := p.Extractor.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing encoder: %w", err))
	}
	if err := p.Decoder.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing decoder: %w", err))
	}
	return errors.Join(errs...)
}
