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

// Package captiond implements the caption inference service: artifact
// loading, the HTTP API, request admission and metrics.
package captiond

import (
	"path/filepath"
	"time"
)

// Defaults for the trained artifact contract. MaxLength and the vocabulary
// size are independent constants; neither is derived from the other.
const (
	DefaultMaxLength  = 32
	DefaultFeatureDim = 2048
	DefaultImageSize  = 299

	DefaultListenAddr = ":8093"
)

// Config holds the service configuration, populated from viper in cmd.
type Config struct {
	// ListenAddr is the HTTP listen address.
	ListenAddr string

	// ModelsDir holds the artifacts when explicit paths are not given.
	ModelsDir string

	// EncoderPath, DecoderPath and TokenizerPath override the ModelsDir
	// defaults (encoder.onnx, decoder.onnx, tokenizer.json).
	EncoderPath   string
	DecoderPath   string
	TokenizerPath string

	// EncoderURL and DecoderURL, when set, are fetched once at startup if
	// the corresponding file is missing locally.
	EncoderURL string
	DecoderURL string

	// MaxLength is the decoder's fixed sequence capacity.
	MaxLength int
	// FeatureDim is the encoder's output length.
	FeatureDim int
	// ImageSize is the encoder's square input size.
	ImageSize int

	// MaxConcurrentInference bounds concurrent forward passes (0 = off).
	MaxConcurrentInference int64

	// Admission control. All zero means pass-through: every request runs
	// its full sequential decode loop independently.
	MaxConcurrentRequests int
	MaxQueueSize          int
	RequestTimeout        time.Duration

	// MaxBodyBytes caps the request payload (0 = 16 MiB default).
	MaxBodyBytes int64
}

// withDefaults fills zero fields with production defaults.
func (c Config) withDefaults() Config {
	if c.ListenAddr == "" {
		c.ListenAddr = DefaultListenAddr
	}
	if c.MaxLength == 0 {
		c.MaxLength = DefaultMaxLength
	}
	if c.FeatureDim == 0 {
		c.FeatureDim = DefaultFeatureDim
	}
	if c.ImageSize == 0 {
		c.ImageSize = DefaultImageSize
	}
	if c.MaxBodyBytes == 0 {
		c.MaxBodyBytes = 16 << 20
	}
	if c.EncoderPath == "" {
		c.EncoderPath = filepath.Join(c.ModelsDir, "encoder.onnx")
	}
	if c.DecoderPath == "" {
		c.DecoderPath = filepath.Join(c.ModelsDir, "decoder.onnx")
	}
	if c.TokenizerPath == "" {
		c.TokenizerPath = filepath.Join(c.ModelsDir, "tokenizer.json")
	}
	return c
}
