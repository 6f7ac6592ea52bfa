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
	"fmt"

	"go.uber.org/zap"

	"github.com/caprockio/captiond/pkg/captiond/lib/backends"
	"github.com/caprockio/captiond/pkg/captiond/lib/imagery"
	"github.com/caprockio/captiond/pkg/captiond/lib/vocab"
)

// LoadConfig describes the trained artifacts and their shape contract.
type LoadConfig struct {
	// EncoderPath is the ONNX file of the headless image encoder.
	EncoderPath string
	// DecoderPath is the ONNX file of the caption decoder.
	DecoderPath string
	// TokenizerPath is the word_index JSON artifact.
	TokenizerPath string

	// MaxLength is the fixed token sequence capacity the decoder was
	// trained under. Configured independently of the vocabulary size.
	MaxLength int
	// FeatureDim is the encoder's output length.
	FeatureDim int
	// ImageSize is the encoder's square spatial input size.
	ImageSize int

	// MaxConcurrentInference bounds concurrent forward passes (0 = off).
	MaxConcurrentInference int64
}

// Load reads all artifacts and assembles the pipeline. The service must not
// accept caption requests until this returns; a failure here means the
// model is unavailable, which is fatal at process level.
func Load(cfg LoadConfig, factory backends.SessionFactory, logger *zap.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	vocabulary, err := vocab.Load(cfg.TokenizerPath)
	if err != nil {
		return nil, fmt.Errorf("loading vocabulary: %w", err)
	}
	logger.Info("vocabulary loaded",
		zap.String("path", cfg.TokenizerPath),
		zap.Int("words", vocabulary.Size()))

	encoderSession, err := factory.CreateSession(cfg.EncoderPath)
	if err != nil {
		return nil, fmt.Errorf("loading encoder model: %w", err)
	}

	decoderSession, err := factory.CreateSession(cfg.DecoderPath)
	if err != nil {
		_ = encoderSession.Close()
		return nil, fmt.Errorf("loading decoder model: %w", err)
	}

	decoder, err := NewDecoderModel(decoderSession, cfg.MaxLength, cfg.FeatureDim)
	if err != nil {
		_ = encoderSession.Close()
		_ = decoderSession.Close()
		return nil, fmt.Errorf("wrapping decoder model: %w", err)
	}

	processor := imagery.NewProcessor(imagery.Config{TargetSize: cfg.ImageSize})
	extractor := NewFeatureExtractor(encoderSession, processor, cfg.FeatureDim)

	logger.Info("models loaded",
		zap.String("encoder", cfg.EncoderPath),
		zap.String("decoder", cfg.DecoderPath),
		zap.Int("max_length", cfg.MaxLength),
		zap.Int("feature_dim", cfg.FeatureDim))

	return NewPipeline(extractor, decoder, vocabulary, PipelineConfig{
		MaxConcurrentInference: cfg.MaxConcurrentInference,
	}, logger), nil
}
