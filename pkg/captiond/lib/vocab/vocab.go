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

// Package vocab provides the word/index vocabulary the caption decoder was
// trained against. The mapping is built once during training, exported as a
// word_index JSON artifact, and loaded read-only here; it is never mutated
// at inference time.
package vocab

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// PadID is the reserved padding index. The training tokenizer starts word
// indices at 1 and the decoder's output layer treats 0 as padding/unknown.
const PadID int32 = 0

// StartWord and EndWord are the reserved sequence markers the training
// corpus wraps every caption in.
const (
	StartWord = "start"
	EndWord   = "end"
)

var (
	// ErrMissingMarker indicates the artifact lacks the start or end word.
	ErrMissingMarker = errors.New("vocabulary missing start/end marker")

	// ErrCorrupt indicates the artifact violates the bijection invariant.
	ErrCorrupt = errors.New("vocabulary artifact corrupt")
)

// Vocabulary is an immutable bijective mapping between words and positive
// integer indices. Concurrent reads are safe.
type Vocabulary struct {
	wordToIndex map[string]int32
	indexToWord map[int32]string
	startID     int32
	endID       int32
}

// wordIndexFile matches the exported tokenizer artifact. The exporter writes
// either the bare word_index object or a wrapper {"word_index": {...}}.
type wordIndexFile struct {
	WordIndex map[string]int32 `json:"word_index"`
}

// Load reads a word_index JSON artifact and validates it.
func Load(path string) (*Vocabulary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading vocabulary %s: %w", path, err)
	}
	return Parse(data)
}

// Parse builds a Vocabulary from word_index JSON bytes.
func Parse(data []byte) (*Vocabulary, error) {
	var wrapped wordIndexFile
	if err := json.Unmarshal(data, &wrapped); err != nil || wrapped.WordIndex == nil {
		// Bare word_index object.
		wrapped.WordIndex = nil
		if err := json.Unmarshal(data, &wrapped.WordIndex); err != nil {
			return nil, fmt.Errorf("parsing vocabulary: %w", err)
		}
	}
	return New(wrapped.WordIndex)
}

// New builds a Vocabulary from a word->index map, enforcing the bijection
// and reserved-index invariants.
func New(wordIndex map[string]int32) (*Vocabulary, error) {
	if len(wordIndex) == 0 {
		return nil, fmt.Errorf("%w: empty word_index", ErrCorrupt)
	}

	indexToWord := make(map[int32]string, len(wordIndex))
	for word, idx := range wordIndex {
		if idx <= PadID {
			return nil, fmt.Errorf("%w: word %q has reserved index %d", ErrCorrupt, word, idx)
		}
		if prev, ok := indexToWord[idx]; ok {
			return nil, fmt.Errorf("%w: index %d maps to both %q and %q", ErrCorrupt, idx, prev, word)
		}
		indexToWord[idx] = word
	}

	startID, ok := wordIndex[StartWord]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrMissingMarker, StartWord)
	}
	endID, ok := wordIndex[EndWord]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrMissingMarker, EndWord)
	}

	v := &Vocabulary{
		wordToIndex: make(map[string]int32, len(wordIndex)),
		indexToWord: indexToWord,
		startID:     startID,
		endID:       endID,
	}
	for word, idx := range wordIndex {
		v.wordToIndex[word] = idx
	}
	return v, nil
}

// Encode returns the index for a word.
func (v *Vocabulary) Encode(word string) (int32, bool) {
	idx, ok := v.wordToIndex[word]
	return idx, ok
}

// Decode returns the word for an index. An unknown index indicates a
// corrupted artifact or a model/vocabulary mismatch; callers must treat it
// as a terminal error, not skip it.
func (v *Vocabulary) Decode(idx int32) (string, bool) {
	word, ok := v.indexToWord[idx]
	return word, ok
}

// Size returns the number of known words, excluding the padding index.
func (v *Vocabulary) Size() int {
	return len(v.wordToIndex)
}

// StartID returns the index of the start marker.
func (v *Vocabulary) StartID() int32 {
	return v.startID
}

// EndID returns the index of the end marker.
func (v *Vocabulary) EndID() int32 {
	return v.endID
}
