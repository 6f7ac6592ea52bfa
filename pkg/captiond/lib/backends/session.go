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

// Package backends provides the low-level inference session abstraction the
// captioning pipeline is built on. A Session runs tensor computations without
// knowledge of model semantics (feature extraction, decoding); the pipelines
// package layers those semantics on top.
package backends

// Session represents a loaded model. Run must be safe for concurrent use;
// the pipeline shares one session across requests. Close must not be called
// while a Run is in flight.
type Session interface {
	// Run executes one forward pass with the given named inputs and returns
	// the named outputs.
	Run(inputs []NamedTensor) ([]NamedTensor, error)

	// InputInfo returns metadata about the model's expected inputs, in the
	// order the model declares them.
	InputInfo() []TensorInfo

	// OutputInfo returns metadata about the model's outputs.
	OutputInfo() []TensorInfo

	// Close releases resources associated with the session.
	Close() error
}

// NamedTensor associates a name with tensor data.
// Data holds the flattened values: []float32 or []int64.
type NamedTensor struct {
	Name  string
	Shape []int64
	Data  interface{}
}

// TensorInfo describes a tensor's name and static shape.
// Dynamic dimensions are reported as -1.
type TensorInfo struct {
	Name  string
	Shape []int64
}

// SessionFactory creates sessions from model files. The ONNX Runtime factory
// in this package is the only production implementation; tests substitute
// fakes.
type SessionFactory interface {
	// CreateSession loads a model file and prepares it for inference.
	CreateSession(modelPath string, opts ...SessionOption) (Session, error)
}

// SessionOption configures session creation.
type SessionOption func(*SessionConfig)

// SessionConfig holds configuration for session creation.
type SessionConfig struct {
	// NumThreads bounds intra-op parallelism (0 = runtime default).
	NumThreads int
}

// WithSessionThreads sets the number of intra-op threads.
func WithSessionThreads(n int) SessionOption {
	return func(c *SessionConfig) {
		c.NumThreads = n
	}
}

// ApplySessionOptions applies options over the default config.
func ApplySessionOptions(opts ...SessionOption) *SessionConfig {
	cfg := &SessionConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}
