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
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/antflydb/mantis/lib/backends"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ModelEntry is one cached model with its load-time metadata.
type ModelEntry struct {
	Key      string               `json:"key"`
	Path     string               `json:"path"`
	Kind     backends.BackendKind `json:"kind"`
	LoadedAt time.Time            `json:"loaded_at"`

	model backends.Model
}

// ModelCache pins loaded models by key for the process lifetime. Entries
// are never evicted, reloaded, or hot-swapped: once a key is bound to a
// model, later requests get that model back even if they name a different
// path. Concurrent first loads of the same key are collapsed into a single
// load; a failed load is not cached, so the next request for that key
// retries from scratch.
type ModelCache struct {
	logger *zap.Logger

	mu      sync.RWMutex
	entries map[string]*ModelEntry

	sfGroup *singleflight.Group

	// resolve maps an artifact path to the backend kind that should load
	// it. Swappable for tests that register fake backends.
	resolve func(path string) (backends.BackendKind, error)
}

// NewModelCache creates an empty cache.
func NewModelCache(logger *zap.Logger) *ModelCache {
	return &ModelCache{
		logger:  logger,
		entries: make(map[string]*ModelEntry),
		sfGroup: &singleflight.Group{},
		resolve: backends.ResolveKind,
	}
}

// GetOrLoad returns the model pinned under key, loading it from path on
// first use. The path is only consulted on a miss.
func (mc *ModelCache) GetOrLoad(key, path string) (backends.Model, error) {
	mc.mu.RLock()
	entry, ok := mc.entries[key]
	mc.mu.RUnlock()
	if ok {
		RecordCacheHit("model")
		return entry.model, nil
	}

	v, err, shared := mc.sfGroup.Do(key, func() (any, error) {
		// A racing caller may have completed the load while we waited for
		// the flight slot.
		mc.mu.RLock()
		entry, ok := mc.entries[key]
		mc.mu.RUnlock()
		if ok {
			return entry.model, nil
		}
		return mc.load(key, path)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		mc.logger.Debug("Model load deduplicated", zap.String("key", key))
	}
	return v.(backends.Model), nil
}

func (mc *ModelCache) load(key, path string) (backends.Model, error) {
	RecordCacheMiss("model")

	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %s", backends.ErrNotFound, path)
	}

	kind, err := mc.resolve(path)
	if err != nil {
		return nil, err
	}

	backend, ok := backends.Get(kind)
	if !ok {
		return nil, fmt.Errorf("%w: no backend registered for kind %q", backends.ErrUnsupportedBackend, kind)
	}

	start := time.Now()
	model, err := backend.Load(path)
	if err != nil {
		mc.logger.Error("Model load failed",
			zap.String("key", key),
			zap.String("path", path),
			zap.String("kind", string(kind)),
			zap.Error(err))
		return nil, err
	}
	RecordModelLoadDuration(key, string(kind), time.Since(start).Seconds())

	mc.logger.Info("Model loaded",
		zap.String("key", key),
		zap.String("path", path),
		zap.String("kind", string(model.Kind())),
		zap.Duration("duration", time.Since(start)))

	mc.mu.Lock()
	mc.entries[key] = &ModelEntry{
		Key:      key,
		Path:     path,
		Kind:     model.Kind(),
		LoadedAt: time.Now(),
		model:    model,
	}
	mc.mu.Unlock()

	return model, nil
}

// Len returns the number of distinct cached keys.
func (mc *ModelCache) Len() int {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return len(mc.entries)
}

// List returns a snapshot of the cached entries sorted by key.
func (mc *ModelCache) List() []ModelEntry {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	out := make([]ModelEntry, 0, len(mc.entries))
	for _, e := range mc.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
