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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the service's Prometheus collectors.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	CaptionLatency  prometheus.Histogram
	DecodeSteps     prometheus.Histogram
	QueueDepth      prometheus.GaugeFunc
	QueueRejections prometheus.CounterFunc
}

// NewMetrics registers the service collectors with reg. Tests pass a fresh
// registry so packages can construct metrics repeatedly.
func NewMetrics(reg prometheus.Registerer, queue *admissionQueue) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "captiond_requests_total",
			Help: "Caption requests by HTTP status code.",
		}, []string{"code"}),
		CaptionLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "captiond_caption_duration_seconds",
			Help:    "End-to-end caption generation latency.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		DecodeSteps: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "captiond_decode_steps",
			Help:    "Decoder invocations per caption.",
			Buckets: prometheus.LinearBuckets(1, 4, 8),
		}),
		QueueDepth: factory.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "captiond_queue_depth",
			Help: "Requests currently waiting for a processing slot.",
		}, func() float64 {
			return float64(queue.stats().Queued)
		}),
		QueueRejections: factory.NewCounterFunc(prometheus.CounterOpts{
			Name: "captiond_queue_rejections_total",
			Help: "Requests rejected because the queue was full.",
		}, func() float64 {
			return float64(queue.stats().Rejected)
		}),
	}
}
