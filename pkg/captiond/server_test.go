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

package captiond

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/caprockio/captiond/pkg/captiond/lib/imagery"
	"github.com/caprockio/captiond/pkg/captiond/lib/pipelines"
	"github.com/caprockio/captiond/pkg/captiond/lib/vocab"
)

// fakeCaptioner scripts the pipeline for handler tests.
type fakeCaptioner struct {
	result *pipelines.CaptionResult
	err    error
}

func (f *fakeCaptioner) CaptionDataURL(ctx context.Context, dataURL string) (*pipelines.CaptionResult, error) {
	return f.result, f.err
}

func (f *fakeCaptioner) CaptionFeatures(ctx context.Context, features pipelines.FeatureVector) (*pipelines.CaptionResult, error) {
	return f.result, f.err
}

func newTestServer(t *testing.T, cfg Config, c Captioner) *Server {
	t.Helper()
	registry := prometheus.NewRegistry()
	s := NewServer(cfg, zaptest.NewLogger(t), registry, registry)
	if c != nil {
		s.SetReady(c)
	}
	return s
}

func postJSON(s *Server, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestGenerateCaptionOK(t *testing.T) {
	s := newTestServer(t, Config{}, &fakeCaptioner{
		result: &pipelines.CaptionResult{Caption: "a dog runs", Steps: 4, StoppedAtEnd: true},
	})

	rec := postJSON(s, "/generate_caption", `{"image":"data:image/png;base64,xxxx"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "a dog runs", resp["caption"])
}

func TestGenerateCaptionRejectsGet(t *testing.T) {
	s := newTestServer(t, Config{}, &fakeCaptioner{})

	req := httptest.NewRequest(http.MethodGet, "/generate_caption", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestGenerateCaptionBadJSON(t *testing.T) {
	s := newTestServer(t, Config{}, &fakeCaptioner{})

	rec := postJSON(s, "/generate_caption", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGenerateCaptionNoImage(t *testing.T) {
	s := newTestServer(t, Config{}, &fakeCaptioner{})

	rec := postJSON(s, "/generate_caption", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGenerateCaptionUndecodableImage(t *testing.T) {
	s := newTestServer(t, Config{}, &fakeCaptioner{
		err: fmt.Errorf("%w: bad bytes", imagery.ErrBadImage),
	})

	rec := postJSON(s, "/generate_caption", `{"image":"junk"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGenerateCaptionVocabCorrupt(t *testing.T) {
	s := newTestServer(t, Config{}, &fakeCaptioner{
		err: fmt.Errorf("%w: model emitted unknown index 7", vocab.ErrCorrupt),
	})

	rec := postJSON(s, "/generate_caption", `{"image":"xxxx"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	// No partial caption leaks on failure.
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	_, hasCaption := resp["caption"]
	assert.False(t, hasCaption)
}

func TestGenerateCaptionNotReady(t *testing.T) {
	s := newTestServer(t, Config{}, nil)

	rec := postJSON(s, "/generate_caption", `{"image":"xxxx"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestGenerateCaptionQueueFull(t *testing.T) {
	s := newTestServer(t, Config{
		MaxConcurrentRequests: 1,
		MaxQueueSize:          1,
	}, &fakeCaptioner{result: &pipelines.CaptionResult{}})

	// Saturate the slot and the queue position directly.
	_, err := s.queue.acquire(context.Background())
	require.NoError(t, err)
	s.queue.queued.Store(1)

	rec := postJSON(s, "/generate_caption", `{"image":"xxxx"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestCaptionFeaturesOK(t *testing.T) {
	s := newTestServer(t, Config{}, &fakeCaptioner{
		result: &pipelines.CaptionResult{Caption: "sunset over water"},
	})

	rec := postJSON(s, "/caption_features", `{"features":[0.1,0.2,0.3]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "sunset over water")
}

func TestCaptionFeaturesEmpty(t *testing.T) {
	s := newTestServer(t, Config{}, &fakeCaptioner{})

	rec := postJSON(s, "/caption_features", `{"features":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, Config{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyzGating(t *testing.T) {
	s := newTestServer(t, Config{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	s.SetReady(&fakeCaptioner{})
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, Config{}, nil)

	req := httptest.NewRequest(http.MethodOptions, "/generate_caption", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
