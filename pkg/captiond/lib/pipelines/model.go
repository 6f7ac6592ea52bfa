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

	"github.com/caprockio/captiond/pkg/captiond/lib/backends"
)

// DecoderModel wraps the trained caption decoder session. One Predict call
// is one forward pass: given the image features and the tokens generated so
// far, it scores every vocabulary index for the next position. It is a pure
// function of its inputs given fixed weights.
type DecoderModel struct {
	session    backends.Session
	maxLength  int
	featureDim int

	// Resolved input names; the feature input and the sequence input are
	// told apart by their declared widths, with the model's declared order
	// as the fallback.
	featureInput  string
	sequenceInput string
}

// NewDecoderModel wraps a decoder session with the given shape contract.
func NewDecoderModel(session backends.Session, maxLength, featureDim int) (*DecoderModel, error) {
	info := session.InputInfo()
	if len(info) != 2 {
		return nil, fmt.Errorf("decoder model declares %d inputs, want 2 (features, sequence)", len(info))
	}

	m := &DecoderModel{
		session:       session,
		maxLength:     maxLength,
		featureDim:    featureDim,
		featureInput:  info[0].Name,
		sequenceInput: info[1].Name,
	}
	if lastDim(info[0].Shape) == int64(maxLength) || lastDim(info[1].Shape) == int64(featureDim) {
		m.featureInput, m.sequenceInput = info[1].Name, info[0].Name
	}
	return m, nil
}

// Predict runs one decoder step. The sequence is left-padded with the
// reserved padding index to exactly maxLength, matching the shape contract
// the model was trained under; sequences longer than maxLength keep their
// tail. The returned slice holds one score per vocabulary index.
func (m *DecoderModel) Predict(ctx context.Context, features FeatureVector, seq []int32) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(features) != m.featureDim {
		return nil, fmt.Errorf("feature vector has %d values, want %d", len(features), m.featureDim)
	}

	outputs, err := m.session.Run([]backends.NamedTensor{
		{
			Name:  m.featureInput,
			Shape: []int64{1, int64(m.featureDim)},
			Data:  []float32(features),
		},
		{
			Name:  m.sequenceInput,
			Shape: []int64{1, int64(m.maxLength)},
			Data:  PadSequence(seq, m.maxLength),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("running decoder: %w", err)
	}

	scores, ok := outputs[0].Data.([]float32)
	if !ok {
		return nil, fmt.Errorf("decoder output is not float32")
	}
	return scores, nil
}

// MaxLength returns the fixed sequence length contract.
func (m *DecoderModel) MaxLength() int {
	return m.maxLength
}

// Close releases the decoder session.
func (m *DecoderModel) Close() error {
	return m.session.Close()
}

// PadSequence left-pads seq with the reserved padding index (0) to exactly
// maxLen int64 values. Overlong sequences are truncated from the front,
// keeping the most recent tokens.
func PadSequence(seq []int32, maxLen int) []int64 {
	padded := make([]int64, maxLen) // zero value is the padding index
	start := 0
	if len(seq) > maxLen {
		start = len(seq) - maxLen
	}
	offset := maxLen - (len(seq) - start)
	for i := start; i < len(seq); i++ {
		padded[offset+i-start] = int64(seq[i])
	}
	return padded
}

// lastDim returns the final dimension of a shape, or 0 for empty shapes.
func lastDim(shape []int64) int64 {
	if len(shape) == 0 {
		return 0
	}
	return shape[len(shape)-1]
}
