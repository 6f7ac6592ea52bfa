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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caprockio/captiond/pkg/captiond/lib/backends"
)

// fakeSession implements backends.Session for tests. run is called with
// the inputs; lastInputs records them for assertions.
type fakeSession struct {
	inputs     []backends.TensorInfo
	outputs    []backends.TensorInfo
	run        func(inputs []backends.NamedTensor) ([]backends.NamedTensor, error)
	lastInputs []backends.NamedTensor
	closed     bool
}

func (s *fakeSession) Run(inputs []backends.NamedTensor) ([]backends.NamedTensor, error) {
	s.lastInputs = inputs
	return s.run(inputs)
}

func (s *fakeSession) InputInfo() []backends.TensorInfo  { return s.inputs }
func (s *fakeSession) OutputInfo() []backends.TensorInfo { return s.outputs }

func (s *fakeSession) Close() error {
	s.closed = true
	return nil
}

// fakeDecoderSession builds a decoder session whose scores come from fn.
func fakeDecoderSession(featureDim, maxLength, vocabCap int, fn func(seq []int64) []float32) *fakeSession {
	return &fakeSession{
		inputs: []backends.TensorInfo{
			{Name: "input_1", Shape: []int64{-1, int64(featureDim)}},
			{Name: "input_2", Shape: []int64{-1, int64(maxLength)}},
		},
		outputs: []backends.TensorInfo{
			{Name: "output", Shape: []int64{-1, int64(vocabCap)}},
		},
		run: func(inputs []backends.NamedTensor) ([]backends.NamedTensor, error) {
			seq := inputs[1].Data.([]int64)
			return []backends.NamedTensor{{
				Name:  "output",
				Shape: []int64{1, int64(vocabCap)},
				Data:  fn(seq),
			}}, nil
		},
	}
}

func TestPadSequence(t *testing.T) {
	// Left-padded: zeros first, then the tokens.
	assert.Equal(t, []int64{0, 0, 0, 1, 3, 4}, PadSequence([]int32{1, 3, 4}, 6))

	// Exact fit.
	assert.Equal(t, []int64{1, 2, 3}, PadSequence([]int32{1, 2, 3}, 3))

	// Overlong: truncated from the front, keeping the most recent tokens.
	assert.Equal(t, []int64{3, 4, 5}, PadSequence([]int32{1, 2, 3, 4, 5}, 3))

	// Empty sequence is all padding.
	assert.Equal(t, []int64{0, 0}, PadSequence(nil, 2))
}

func TestDecoderModelPredict(t *testing.T) {
	session := fakeDecoderSession(4, 6, 10, func(seq []int64) []float32 {
		return []float32{0, 0, 0, 1, 0, 0, 0, 0, 0, 0}
	})
	m, err := NewDecoderModel(session, 6, 4)
	require.NoError(t, err)

	scores, err := m.Predict(context.Background(), FeatureVector{1, 2, 3, 4}, []int32{1, 5})
	require.NoError(t, err)
	require.Len(t, scores, 10)

	// Features first, sequence second, sequence left-padded to maxLength.
	require.Len(t, session.lastInputs, 2)
	assert.Equal(t, []float32{1, 2, 3, 4}, session.lastInputs[0].Data)
	assert.Equal(t, []int64{1, 4}, session.lastInputs[0].Shape)
	assert.Equal(t, []int64{0, 0, 0, 0, 1, 5}, session.lastInputs[1].Data)
	assert.Equal(t, []int64{1, 6}, session.lastInputs[1].Shape)
}

func TestDecoderModelSwappedInputs(t *testing.T) {
	// A model exporting sequence first is detected via declared widths.
	session := &fakeSession{
		inputs: []backends.TensorInfo{
			{Name: "seq_in", Shape: []int64{-1, 6}},
			{Name: "feat_in", Shape: []int64{-1, 4}},
		},
		outputs: []backends.TensorInfo{{Name: "output", Shape: []int64{-1, 10}}},
		run: func(inputs []backends.NamedTensor) ([]backends.NamedTensor, error) {
			return []backends.NamedTensor{{
				Name:  "output",
				Shape: []int64{1, 10},
				Data:  make([]float32, 10),
			}}, nil
		},
	}

	m, err := NewDecoderModel(session, 6, 4)
	require.NoError(t, err)

	_, err = m.Predict(context.Background(), FeatureVector{1, 2, 3, 4}, []int32{1})
	require.NoError(t, err)

	assert.Equal(t, "feat_in", session.lastInputs[0].Name)
	assert.Equal(t, "seq_in", session.lastInputs[1].Name)
}

func TestDecoderModelWrongFeatureDim(t *testing.T) {
	session := fakeDecoderSession(4, 6, 10, func(seq []int64) []float32 {
		return make([]float32, 10)
	})
	m, err := NewDecoderModel(session, 6, 4)
	require.NoError(t, err)

	_, err = m.Predict(context.Background(), FeatureVector{1, 2}, []int32{1})
	require.Error(t, err)
}

func TestDecoderModelWrongInputCount(t *testing.T) {
	session := &fakeSession{
		inputs: []backends.TensorInfo{{Name: "only", Shape: []int64{-1, 4}}},
	}
	_, err := NewDecoderModel(session, 6, 4)
	require.Error(t, err)
}
