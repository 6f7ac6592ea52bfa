//go:build onnx && ORT

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

package e2e

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/caprockio/captiond/pkg/captiond"
)

// getModelsDir returns the models directory, preferring CAPTIOND_MODELS_DIR
// if set, falling back to ~/.captiond/models.
func getModelsDir(t *testing.T) string {
	if dir := os.Getenv("CAPTIOND_MODELS_DIR"); dir != "" {
		return dir
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		t.Logf("Could not get home directory: %v", err)
		return ""
	}
	return filepath.Join(homeDir, ".captiond", "models")
}

// TestCaptionServiceE2E runs the full service against real ONNX artifacts.
// It requires encoder.onnx, decoder.onnx and tokenizer.json in the models
// directory.
func TestCaptionServiceE2E(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping E2E test in short mode")
	}

	modelsDir := getModelsDir(t)
	if modelsDir == "" {
		t.Skip("No models directory available")
	}
	for _, name := range []string{"encoder.onnx", "decoder.onnx", "tokenizer.json"} {
		if !fileExists(filepath.Join(modelsDir, name)) {
			t.Skipf("Artifact %s not found in %s. Skipping E2E test.", name, modelsDir)
		}
	}

	t.Logf("Using models directory: %s", modelsDir)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	logger := zaptest.NewLogger(t)
	port := findAvailablePort(t)
	serverURL := "http://localhost:" + strconv.Itoa(port)

	config := captiond.Config{
		ListenAddr: ":" + strconv.Itoa(port),
		ModelsDir:  modelsDir,
	}

	serverCtx, serverCancel := context.WithCancel(ctx)
	defer serverCancel()

	readyC := make(chan struct{})
	serverDone := make(chan struct{})

	go func() {
		defer close(serverDone)
		if err := captiond.Run(serverCtx, logger, config, readyC); err != nil {
			t.Errorf("service exited with error: %v", err)
		}
	}()

	select {
	case <-readyC:
		t.Log("Server is ready")
	case <-time.After(120 * time.Second):
		t.Fatal("Timeout waiting for server to be ready")
	}

	t.Run("Readyz", func(t *testing.T) {
		testReadyz(t, ctx, serverURL)
	})

	t.Run("GenerateCaption", func(t *testing.T) {
		testGenerateCaption(t, ctx, serverURL)
	})

	t.Run("CaptionDeterminism", func(t *testing.T) {
		testCaptionDeterminism(t, ctx, serverURL)
	})

	t.Run("BadImage", func(t *testing.T) {
		testBadImage(t, ctx, serverURL)
	})

	serverCancel()
	select {
	case <-serverDone:
		t.Log("Server shutdown complete")
	case <-time.After(30 * time.Second):
		t.Log("Server shutdown timeout (may still be cleaning up)")
	}
}

func testReadyz(t *testing.T, ctx context.Context, serverURL string) {
	t.Helper()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, serverURL+"/readyz", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func testGenerateCaption(t *testing.T, ctx context.Context, serverURL string) {
	t.Helper()

	caption := postCaption(t, ctx, serverURL, testImageDataURL(t))
	require.NotEmpty(t, caption, "Caption should not be empty")
	assert.NotContains(t, strings.Fields(caption), "start")
	assert.NotContains(t, strings.Fields(caption), "end")

	t.Logf("Generated caption: %q", caption)
}

func testCaptionDeterminism(t *testing.T, ctx context.Context, serverURL string) {
	t.Helper()

	dataURL := testImageDataURL(t)
	first := postCaption(t, ctx, serverURL, dataURL)
	second := postCaption(t, ctx, serverURL, dataURL)
	assert.Equal(t, first, second, "Same image should caption identically")
}

func testBadImage(t *testing.T, ctx context.Context, serverURL string) {
	t.Helper()

	body, err := json.Marshal(map[string]string{"image": "data:image/png;base64,not-an-image"})
	require.NoError(t, err)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, serverURL+"/generate_caption", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func postCaption(t *testing.T, ctx context.Context, serverURL, dataURL string) string {
	t.Helper()

	body, err := json.Marshal(map[string]string{"image": dataURL})
	require.NoError(t, err)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, serverURL+"/generate_caption", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var parsed struct {
		Caption string `json:"caption"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&parsed))
	return parsed.Caption
}

// testImageDataURL builds a small synthetic PNG as a browser-style data URL.
func testImageDataURL(t *testing.T) string {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.RGBA{R: uint8(4 * x), G: uint8(4 * y), B: 128, A: 255})
		}
	}

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func findAvailablePort(t *testing.T) int {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}
