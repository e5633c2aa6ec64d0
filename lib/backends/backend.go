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

// Package backends maps model artifacts to the inference engines that can
// serve them. Each engine registers itself under a BackendKind; artifact
// paths are resolved to a kind by file extension plus an archive probe for
// the Torch/detection split.
package backends

import (
	"sort"
	"sync"
)

var (
	// registry holds all registered backends
	registry   = make(map[BackendKind]Backend)
	registryMu sync.RWMutex
)

// Register registers a backend. Called by backend implementations in init().
// Thread-safe. Later registrations for the same kind overwrite earlier ones.
func Register(b Backend) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[b.Kind()] = b
}

// Get returns the backend for the given kind, if registered.
func Get(k BackendKind) (Backend, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	b, ok := registry[k]
	return b, ok
}

// ListRegistered returns all registered backends (available or not),
// sorted by kind for consistent ordering.
func ListRegistered() []Backend {
	registryMu.RLock()
	defer registryMu.RUnlock()

	backends := make([]Backend, 0, len(registry))
	for _, b := range registry {
		backends = append(backends, b)
	}
	sort.Slice(backends, func(i, j int) bool {
		return backends[i].Kind() < backends[j].Kind()
	})
	return backends
}

// Capabilities reports the status of every registered backend for the
// health surface.
func Capabilities() []Status {
	backends := ListRegistered()
	statuses := make([]Status, 0, len(backends))
	for _, b := range backends {
		statuses = append(statuses, Status{
			Kind:      b.Kind(),
			Name:      b.Name(),
			Available: b.Available(),
			Version:   b.Version(),
		})
	}
	return statuses
}
