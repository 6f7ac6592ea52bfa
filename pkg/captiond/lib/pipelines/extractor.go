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

// Package pipelines combines the vocabulary, the headless image encoder and
// the caption decoder into the inference pipeline behind the service API.
package pipelines

import (
	"context"
	"fmt"
	"image"

	"github.com/caprockio/captiond/pkg/captiond/lib/backends"
	"github.com/caprockio/captiond/pkg/captiond/lib/imagery"
)

// FeatureVector is the fixed-length dense image summary the encoder
// produces. Its length is validated at the session boundary so shape
// mismatches surface there instead of deep inside the decoder.
type FeatureVector []float32

// FeatureExtractor runs the headless pretrained image encoder. It holds
// process-wide read-only model state; Extract itself is stateless and
// deterministic for byte-identical pixel input.
type FeatureExtractor struct {
	session   backends.Session
	processor *imagery.Processor
	dim       int
}

// NewFeatureExtractor wraps an encoder session. dim is the expected feature
// length (2048 for the trained encoder).
func NewFeatureExtractor(session backends.Session, processor *imagery.Processor, dim int) *FeatureExtractor {
	return &FeatureExtractor{
		session:   session,
		processor: processor,
		dim:       dim,
	}
}

// Extract maps one decoded image to its feature vector.
func (e *FeatureExtractor) Extract(ctx context.Context, img image.Image) (FeatureVector, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pixels := e.processor.Process(img)
	size := int64(e.processor.Config.TargetSize)

	info := e.session.InputInfo()
	outputs, err := e.session.Run([]backends.NamedTensor{{
		Name:  info[0].Name,
		Shape: []int64{1, size, size, 3},
		Data:  pixels,
	}})
	if err != nil {
		return nil, fmt.Errorf("running encoder: %w", err)
	}

	features, ok := outputs[0].Data.([]float32)
	if !ok {
		return nil, fmt.Errorf("encoder output is not float32")
	}
	if len(features) != e.dim {
		return nil, fmt.Errorf("encoder produced %d features, want %d", len(features), e.dim)
	}

	return FeatureVector(features), nil
}

// Dim returns the feature vector length.
func (e *FeatureExtractor) Dim() int {
	return e.dim
}

// Close releases the encoder session.
func (e *FeatureExtractor) Close() error {
	return e.session.Close()
}
