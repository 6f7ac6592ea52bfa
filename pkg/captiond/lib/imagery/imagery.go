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

// Package imagery decodes request images and converts them to the tensor
// layout the feature extractor was trained on.
package imagery

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"github.com/nfnt/resize"
)

// ErrBadImage indicates the request payload could not be decoded into an
// image. It maps to a 400 at the service boundary.
var ErrBadImage = errors.New("undecodable image payload")

// Config describes the extractor's fixed input contract.
type Config struct {
	// TargetSize is the square spatial size the encoder expects.
	TargetSize int
}

// Processor converts decoded images into normalized float32 pixel buffers.
type Processor struct {
	Config Config
}

// NewProcessor creates a Processor for the given input contract.
func NewProcessor(cfg Config) *Processor {
	return &Processor{Config: cfg}
}

// DecodeDataURL decodes a base64 data URL ("data:image/...;base64,....")
// into an image. A bare base64 string without the data: header is also
// accepted, matching what browsers and curl users actually send.
func DecodeDataURL(dataURL string) (image.Image, error) {
	encoded := dataURL
	if strings.HasPrefix(dataURL, "data:") {
		_, rest, found := strings.Cut(dataURL, ",")
		if !found {
			return nil, fmt.Errorf("%w: data URL has no comma separator", ErrBadImage)
		}
		encoded = rest
	}

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadImage, err)
	}
	return DecodeBytes(raw)
}

// DecodeBytes decodes raw image bytes (JPEG or PNG).
func DecodeBytes(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadImage, err)
	}
	return img, nil
}

// Process resizes the image to the target size and normalizes each RGB
// channel into [-1, 1] with v/127.5 - 1. This reproduces the exact training
// preprocessing; the trained encoder weights are calibrated against it, so
// generic preprocessing substitutes are not equivalent.
//
// The returned buffer is channels-last: [height][width][3], flattened.
func (p *Processor) Process(img image.Image) []float32 {
	size := p.Config.TargetSize
	resized := resize.Resize(uint(size), uint(size), img, resize.Lanczos3)

	pixels := make([]float32, size*size*3)
	i := 0
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			r, g, b, _ := resized.At(x, y).RGBA()
			// RGBA returns 16-bit channels; the model was trained on 8-bit.
			pixels[i] = float32(r>>8)/127.5 - 1.0
			pixels[i+1] = float32(g>>8)/127.5 - 1.0
			pixels[i+2] = float32(b>>8)/127.5 - 1.0
			i += 3
		}
	}
	return pixels
}
