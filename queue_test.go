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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestQueueAcquireRelease(t *testing.T) {
	q := NewRequestQueue(RequestQueueConfig{MaxConcurrentRequests: 1}, zap.NewNop())

	release, err := q.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), q.Stats().CurrentActive)

	release()
	assert.Equal(t, int64(0), q.Stats().CurrentActive)

	// Double release is a no-op.
	release()
	assert.Equal(t, int64(0), q.Stats().CurrentActive)
}

func TestQueueTimeout(t *testing.T) {
	q := NewRequestQueue(RequestQueueConfig{
		MaxConcurrentRequests: 1,
		RequestTimeout:        20 * time.Millisecond,
	}, zap.NewNop())

	release, err := q.Acquire(context.Background())
	require.NoError(t, err)
	defer release()

	_, err = q.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrRequestTimeout)
}

func TestQueueFull(t *testing.T) {
	q := NewRequestQueue(RequestQueueConfig{
		MaxConcurrentRequests: 1,
		MaxQueueSize:          1,
	}, zap.NewNop())

	release, err := q.Acquire(context.Background())
	require.NoError(t, err)
	defer release()

	// One waiter occupies the queue slot.
	waiterCtx, cancelWaiter := context.WithCancel(context.Background())
	defer cancelWaiter()
	waiting := make(chan struct{})
	go func() {
		close(waiting)
		_, _ = q.Acquire(waiterCtx)
	}()
	<-waiting
	time.Sleep(10 * time.Millisecond)

	_, err = q.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestQueueContextCancel(t *testing.T) {
	q := NewRequestQueue(RequestQueueConfig{MaxConcurrentRequests: 1}, zap.NewNop())

	release, err := q.Acquire(context.Background())
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = q.Acquire(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
