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
	"net/http"

	"github.com/antflydb/mantis/lib/backends"
	"github.com/bytedance/sonic/encoder"
)

// Version information - set at build time via ldflags
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// HealthResponse is the response for /healthz endpoint
type HealthResponse struct {
	Status       string            `json:"status"`
	ModelsLoaded int               `json:"models_loaded"`
	Backends     []backends.Status `json:"backends"`
}

// ReadyResponse is the response for /readyz endpoint
type ReadyResponse struct {
	Status            string `json:"status"`
	AvailableBackends int    `json:"available_backends"`
}

// handleHealthz returns 200 if the service is running (liveness check).
// The body reports the cached model count and per-backend availability
// with engine versions.
func (ln *MantisNode) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:       "ok",
		ModelsLoaded: ln.modelCache.Len(),
		Backends:     backends.Capabilities(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = encoder.NewStreamEncoder(w).Encode(resp)
}

// handleReadyz returns 200 if the service can serve at least one backend
// (readiness check)
func (ln *MantisNode) handleReadyz(w http.ResponseWriter, r *http.Request) {
	resp := ReadyResponse{Status: "ready"}
	for _, s := range backends.Capabilities() {
		if s.Available {
			resp.AvailableBackends++
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if resp.AvailableBackends == 0 {
		resp.Status = "not_ready"
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = encoder.NewStreamEncoder(w).Encode(resp)
		return
	}

	w.WriteHeader(http.StatusOK)
	_ = encoder.NewStreamEncoder(w).Encode(resp)
}
