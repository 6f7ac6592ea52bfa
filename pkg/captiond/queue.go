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
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrQueueFull is returned when the admission queue is at capacity.
	ErrQueueFull = errors.New("request queue is full")

	// ErrQueueTimeout is returned when a request waits out its budget.
	ErrQueueTimeout = errors.New("request timed out waiting for a slot")
)

// admissionQueue bounds how many caption requests run at once and how many
// may wait. Disabled (nil semaphore) it is pass-through: requests run their
// full decode loop independently, contention left to the host scheduler.
type admissionQueue struct {
	maxConcurrent int64
	maxQueued     int64
	timeout       time.Duration

	slots chan struct{}

	active    atomic.Int64
	queued    atomic.Int64
	processed atomic.Int64
	rejected  atomic.Int64
	timedOut  atomic.Int64

	logger *zap.Logger
}

// newAdmissionQueue builds a queue from the service config. A zero
// MaxConcurrentRequests disables admission control entirely.
func newAdmissionQueue(cfg Config, logger *zap.Logger) *admissionQueue {
	if logger == nil {
		logger = zap.NewNop()
	}

	q := &admissionQueue{
		maxConcurrent: int64(cfg.MaxConcurrentRequests),
		maxQueued:     int64(cfg.MaxQueueSize),
		timeout:       cfg.RequestTimeout,
		logger:        logger,
	}
	if cfg.MaxConcurrentRequests > 0 {
		q.slots = make(chan struct{}, cfg.MaxConcurrentRequests)
		logger.Info("admission queue enabled",
			zap.Int("max_concurrent", cfg.MaxConcurrentRequests),
			zap.Int("max_queued", cfg.MaxQueueSize),
			zap.Duration("timeout", cfg.RequestTimeout))
	}
	return q
}

// acquire claims a processing slot, waiting in the bounded queue if all
// slots are busy. The returned release must be called when the request is
// done.
func (q *admissionQueue) acquire(ctx context.Context) (release func(), err error) {
	if q.slots == nil {
		q.active.Add(1)
		return q.release, nil
	}

	if q.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.timeout)
		defer cancel()
	}

	select {
	case q.slots <- struct{}{}:
		q.active.Add(1)
		return q.release, nil
	default:
	}

	// All slots busy: reserve a queue position. The reservation uses a CAS
	// loop so concurrent arrivals cannot all pass the capacity check and
	// overshoot the bound.
	if q.maxQueued > 0 {
		for {
			n := q.queued.Load()
			if n >= q.maxQueued {
				q.rejected.Add(1)
				q.logger.Warn("request rejected, queue full",
					zap.Int64("queued", n))
				return nil, ErrQueueFull
			}
			if q.queued.CompareAndSwap(n, n+1) {
				break
			}
		}
	} else {
		q.queued.Add(1)
	}

	waitStart := time.Now()
	select {
	case q.slots <- struct{}{}:
		q.queued.Add(-1)
		q.active.Add(1)
		q.logger.Debug("request dequeued",
			zap.Duration("waited", time.Since(waitStart)))
		return q.release, nil
	case <-ctx.Done():
		q.queued.Add(-1)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			q.timedOut.Add(1)
			return nil, ErrQueueTimeout
		}
		return nil, ctx.Err()
	}
}

func (q *admissionQueue) release() {
	q.active.Add(-1)
	q.processed.Add(1)
	if q.slots != nil {
		<-q.slots
	}
}

// QueueStats is a point-in-time snapshot of admission counters.
type QueueStats struct {
	Active    int64 `json:"active"`
	Queued    int64 `json:"queued"`
	Processed int64 `json:"processed"`
	Rejected  int64 `json:"rejected"`
	TimedOut  int64 `json:"timed_out"`
}

func (q *admissionQueue) stats() QueueStats {
	return QueueStats{
		Active:    q.active.Load(),
		Queued:    q.queued.Load(),
		Processed: q.processed.Load(),
		Rejected:  q.rejected.Load(),
		TimedOut:  q.timedOut.Load(),
	}
}

func (q *admissionQueue) enabled() bool {
	return q.slots != nil
}
