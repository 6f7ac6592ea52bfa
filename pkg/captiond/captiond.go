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
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/caprockio/captiond/pkg/captiond/lib/backends"
	"github.com/caprockio/captiond/pkg/captiond/lib/pipelines"
)

// Run starts the caption service and blocks until ctx is cancelled. The
// optional readyC channels are closed once the service accepts requests;
// tests use them to synchronize.
func Run(ctx context.Context, logger *zap.Logger, cfg Config, readyC ...chan struct{}) error {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	registry := prometheus.NewRegistry()
	server := NewServer(cfg, logger, registry, registry)

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: server,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.ListenAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// Load artifacts after the listener is up: /healthz answers while the
	// models load, /readyz and caption routes gate on completion.
	pipeline, err := loadPipeline(ctx, cfg, logger)
	if err != nil {
		_ = httpServer.Close()
		return fmt.Errorf("loading pipeline: %w", err)
	}
	defer func() { _ = pipeline.Close() }()

	server.SetReady(pipeline)
	logger.Info("service ready")
	for _, c := range readyC {
		close(c)
	}

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	logger.Info("shut down cleanly")
	return nil
}

// loadPipeline fetches missing artifacts and loads the models. A failure
// here is fatal at process level: the service must not caption without
// fully loaded weights and vocabulary.
func loadPipeline(ctx context.Context, cfg Config, logger *zap.Logger) (*pipelines.Pipeline, error) {
	if err := ensureArtifact(ctx, cfg.EncoderPath, cfg.EncoderURL, logger); err != nil {
		return nil, err
	}
	if err := ensureArtifact(ctx, cfg.DecoderPath, cfg.DecoderURL, logger); err != nil {
		return nil, err
	}

	return pipelines.Load(pipelines.LoadConfig{
		EncoderPath:            cfg.EncoderPath,
		DecoderPath:            cfg.DecoderPath,
		TokenizerPath:          cfg.TokenizerPath,
		MaxLength:              cfg.MaxLength,
		FeatureDim:             cfg.FeatureDim,
		ImageSize:              cfg.ImageSize,
		MaxConcurrentInference: cfg.MaxConcurrentInference,
	}, &backends.ONNXSessionFactory{}, logger)
}
