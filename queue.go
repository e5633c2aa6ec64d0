// Copyright 2025 Antfly, Inc.
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

package mantis

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrQueueFull means the waiting queue is at capacity and the request
	// was rejected immediately.
	ErrQueueFull = errors.New("request queue full")

	// ErrRequestTimeout means the request waited longer than the configured
	// timeout for an inference slot.
	ErrRequestTimeout = errors.New("request timed out waiting in queue")
)

// RequestQueueConfig controls backpressure behavior. Zero values disable
// the corresponding limit.
type RequestQueueConfig struct {
	// MaxConcurrentRequests is the number of requests allowed to run
	// inference at once. Defaults to 4.
	MaxConcurrentRequests int

	// MaxQueueSize is the number of requests allowed to wait for a slot
	// before new arrivals are rejected. Defaults to 100.
	MaxQueueSize int

	// RequestTimeout bounds the time a request may wait for a slot.
	// Zero means wait until the caller's context is done.
	RequestTimeout time.Duration
}

// QueueStats is a point-in-time snapshot of queue occupancy.
type QueueStats struct {
	CurrentActive int64 `json:"current_active"`
	CurrentQueued int64 `json:"current_queued"`
}

// RequestQueue bounds concurrent inference work and the backlog waiting
// for it. Inference calls are CPU/accelerator-bound and synchronous, so
// letting every request run at once only causes thrash.
type RequestQueue struct {
	logger  *zap.Logger
	slots   chan struct{}
	timeout time.Duration

	maxQueued int64
	active    atomic.Int64
	queued    atomic.Int64
}

// NewRequestQueue creates a request queue from config, applying defaults
// for unset limits.
func NewRequestQueue(config RequestQueueConfig, logger *zap.Logger) *RequestQueue {
	maxConcurrent := config.MaxConcurrentRequests
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	maxQueued := config.MaxQueueSize
	if maxQueued <= 0 {
		maxQueued = 100
	}

	logger.Info("Request queue configured",
		zap.Int("max_concurrent", maxConcurrent),
		zap.Int("max_queued", maxQueued),
		zap.Duration("request_timeout", config.RequestTimeout))

	return &RequestQueue{
		logger:    logger,
		slots:     make(chan struct{}, maxConcurrent),
		timeout:   config.RequestTimeout,
		maxQueued: int64(maxQueued),
	}
}

// Acquire blocks until an inference slot is free, the queue rejects the
// request, the wait times out, or ctx is done. On success the returned
// release function must be called exactly once.
func (q *RequestQueue) Acquire(ctx context.Context) (func(), error) {
	if q.queued.Add(1) > q.maxQueued {
		q.queued.Add(-1)
		return nil, ErrQueueFull
	}
	defer q.queued.Add(-1)

	start := time.Now()

	var timeoutC <-chan time.Time
	if q.timeout > 0 {
		timer := time.NewTimer(q.timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}

	select {
	case q.slots <- struct{}{}:
		RecordQueueWaitTime(time.Since(start).Seconds())
		q.active.Add(1)
		var released atomic.Bool
		return func() {
			if released.CompareAndSwap(false, true) {
				q.active.Add(-1)
				<-q.slots
			}
		}, nil
	case <-timeoutC:
		return nil, ErrRequestTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stats returns current queue occupancy.
func (q *RequestQueue) Stats() QueueStats {
	return QueueStats{
		CurrentActive: q.active.Load(),
		CurrentQueued: q.queued.Load(),
	}
}

// WriteQueueFullResponse writes a 503 with a Retry-After hint.
func WriteQueueFullResponse(w http.ResponseWriter, retryAfter time.Duration) {
	w.Header().Set("Retry-After", fmt.Sprintf("%d", int(retryAfter.Seconds())))
	http.Error(w, "server is at capacity, retry later", http.StatusServiceUnavailable)
}

// WriteTimeoutResponse writes a 503 for a request that timed out in queue.
func WriteTimeoutResponse(w http.ResponseWriter) {
	http.Error(w, "request timed out waiting for capacity", http.StatusServiceUnavailable)
}
