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
	"errors"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/caprockio/captiond/pkg/captiond/lib/imagery"
	"github.com/caprockio/captiond/pkg/captiond/lib/pipelines"
	"github.com/caprockio/captiond/pkg/captiond/lib/vocab"
)

// Captioner is the inference surface the server needs. pipelines.Pipeline
// implements it; tests substitute fakes.
type Captioner interface {
	CaptionDataURL(ctx context.Context, dataURL string) (*pipelines.CaptionResult, error)
	CaptionFeatures(ctx context.Context, features pipelines.FeatureVector) (*pipelines.CaptionResult, error)
}

// captionRequest is the caption endpoint payload: a base64 data-URL image,
// as the browser page posts it.
type captionRequest struct {
	Image string `json:"image"`
}

// featuresRequest is the debug endpoint payload: a raw feature vector.
type featuresRequest struct {
	Features []float32 `json:"features"`
}

// captionResponse is the sole success payload shape.
type captionResponse struct {
	Caption string `json:"caption"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Server exposes the caption pipeline over HTTP.
type Server struct {
	cfg     Config
	logger  *zap.Logger
	queue   *admissionQueue
	metrics *Metrics

	captioner Captioner
	ready     atomic.Bool

	mux *http.ServeMux
}

// NewServer wires the routes. The captioner may be set later via SetReady;
// until then /readyz fails and caption routes answer 503.
func NewServer(cfg Config, logger *zap.Logger, gatherer prometheus.Gatherer, reg prometheus.Registerer) *Server {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		cfg:    cfg,
		logger: logger,
		queue:  newAdmissionQueue(cfg, logger),
		mux:    http.NewServeMux(),
	}
	s.metrics = NewMetrics(reg, s.queue)

	s.mux.HandleFunc("/generate_caption", s.cors(s.handleGenerateCaption))
	s.mux.HandleFunc("/caption_features", s.cors(s.handleCaptionFeatures))
	s.mux.HandleFunc("/healthz", s.handleHealthz)
	s.mux.HandleFunc("/readyz", s.handleReadyz)
	s.mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return s
}

// SetReady publishes the loaded pipeline. Requests arriving before this see
// 503: the service never captions with partially loaded artifacts.
func (s *Server) SetReady(c Captioner) {
	s.captioner = c
	s.ready.Store(true)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// cors allows the browser page to call the API cross-origin.
func (s *Server) cors(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next(w, r)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if !s.ready.Load() {
		s.writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "models not loaded"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleGenerateCaption(w http.ResponseWriter, r *http.Request) {
	s.handleCaption(w, r, func(r *http.Request) (*pipelines.CaptionResult, error) {
		var req captionRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)).Decode(&req); err != nil {
			return nil, badRequest("invalid JSON payload")
		}
		if req.Image == "" {
			return nil, badRequest("no image provided")
		}
		return s.captioner.CaptionDataURL(r.Context(), req.Image)
	})
}

func (s *Server) handleCaptionFeatures(w http.ResponseWriter, r *http.Request) {
	s.handleCaption(w, r, func(r *http.Request) (*pipelines.CaptionResult, error) {
		var req featuresRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)).Decode(&req); err != nil {
			return nil, badRequest("invalid JSON payload")
		}
		if len(req.Features) == 0 {
			return nil, badRequest("no features provided")
		}
		return s.captioner.CaptionFeatures(r.Context(), req.Features)
	})
}

// handleCaption runs the shared method/readiness/admission/error plumbing
// around one caption operation.
func (s *Server) handleCaption(w http.ResponseWriter, r *http.Request, run func(*http.Request) (*pipelines.CaptionResult, error)) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !s.ready.Load() {
		s.writeError(w, http.StatusServiceUnavailable, "models not loaded")
		return
	}

	release, err := s.queue.acquire(r.Context())
	if err != nil {
		switch {
		case errors.Is(err, ErrQueueFull):
			w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter(s.cfg).Seconds())))
			s.writeError(w, http.StatusServiceUnavailable, "service overloaded, retry later")
		case errors.Is(err, ErrQueueTimeout):
			s.writeError(w, http.StatusGatewayTimeout, "timed out waiting for a slot")
		default:
			s.writeError(w, http.StatusServiceUnavailable, err.Error())
		}
		return
	}
	defer release()

	start := time.Now()
	result, err := run(r)
	if err != nil {
		s.writeCaptionError(w, err)
		return
	}

	s.metrics.CaptionLatency.Observe(time.Since(start).Seconds())
	s.metrics.DecodeSteps.Observe(float64(result.Steps))
	s.writeJSON(w, http.StatusOK, captionResponse{Caption: result.Caption})
}

// writeCaptionError maps the core error taxonomy onto HTTP codes: bad input
// is the caller's fault (400, never retried); a corrupt vocabulary is the
// operator's fault (500). No partial caption is ever returned.
func (s *Server) writeCaptionError(w http.ResponseWriter, err error) {
	var badReq *badRequestError
	switch {
	case errors.As(err, &badReq):
		s.writeError(w, http.StatusBadRequest, badReq.msg)
	case errors.Is(err, imagery.ErrBadImage):
		s.writeError(w, http.StatusBadRequest, "could not decode image")
	case errors.Is(err, vocab.ErrCorrupt):
		s.logger.Error("vocabulary corrupt", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "internal error")
	default:
		s.logger.Error("caption generation failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "caption generation failed")
	}
}

type badRequestError struct {
	msg string
}

func (e *badRequestError) Error() string { return e.msg }

func badRequest(msg string) error {
	return &badRequestError{msg: msg}
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	s.writeJSON(w, code, errorResponse{Error: msg})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	s.metrics.RequestsTotal.WithLabelValues(strconv.Itoa(code)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("writing response", zap.Error(err))
	}
}

// retryAfter suggests a backoff when the queue rejects a request.
func retryAfter(cfg Config) time.Duration {
	if cfg.RequestTimeout > 0 {
		return cfg.RequestTimeout
	}
	return 5 * time.Second
}
