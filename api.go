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
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/antflydb/mantis/lib/backends"
	"github.com/bytedance/sonic/decoder"
	"github.com/bytedance/sonic/encoder"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MantisAPI is the HTTP surface of the inference service.
type MantisAPI struct {
	logger *zap.Logger
	node   *MantisNode
}

// NewMantisAPI creates the HTTP handler for the /api routes.
func NewMantisAPI(logger *zap.Logger, node *MantisNode) http.Handler {
	api := &MantisAPI{logger: logger, node: node}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/predict", api.Predict)
	mux.HandleFunc("GET /api/models", api.ListModels)
	mux.HandleFunc("GET /api/version", api.GetVersion)
	return mux
}

// Predict handles a prediction request end to end.
func (m *MantisAPI) Predict(w http.ResponseWriter, r *http.Request) {
	m.node.handleApiPredict(w, r)
}

// ListModels reports the models pinned in the cache.
func (m *MantisAPI) ListModels(w http.ResponseWriter, r *http.Request) {
	resp := struct {
		Models []ModelEntry `json:"models"`
		Count  int          `json:"count"`
	}{
		Models: m.node.modelCache.List(),
	}
	resp.Count = len(resp.Models)

	w.Header().Set("Content-Type", "application/json")
	if err := encoder.NewStreamEncoder(w).Encode(resp); err != nil {
		m.logger.Error("encoding response", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
}

// VersionResponse reports build identity.
type VersionResponse struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
}

// GetVersion reports the build version information.
func (m *MantisAPI) GetVersion(w http.ResponseWriter, r *http.Request) {
	resp := VersionResponse{
		Version:   Version,
		GitCommit: GitCommit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := encoder.NewStreamEncoder(w).Encode(resp); err != nil {
		m.logger.Error("encoding response", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
}

// handleApiPredict handles prediction requests
func (ln *MantisNode) handleApiPredict(w http.ResponseWriter, r *http.Request) {
	defer func() { _ = r.Body.Close() }()

	// Apply backpressure via request queue
	release, err := ln.requestQueue.Acquire(r.Context())
	if err != nil {
		switch err {
		case ErrQueueFull:
			RecordQueueRejection()
			WriteQueueFullResponse(w, 5*time.Second)
		case ErrRequestTimeout:
			RecordQueueTimeout()
			WriteTimeoutResponse(w)
		default:
			// Context cancelled
			http.Error(w, "request cancelled", http.StatusRequestTimeout)
		}
		return
	}
	defer release()

	// Update queue metrics
	UpdateQueueMetrics(ln.requestQueue.Stats())

	var req PredictRequest
	if err := decoder.NewStreamDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("decoding request: %v", err), http.StatusBadRequest)
		return
	}

	requestID := uuid.NewString()
	start := time.Now()

	resp, err := ln.predictor.Predict(r.Context(), &req)
	if err != nil {
		ln.writePredictError(w, requestID, &req, err)
		RecordRequestDuration("predict", req.ModelKey, "error", time.Since(start).Seconds())
		return
	}

	RecordPredictRequest(resp.Framework)
	RecordRequestDuration("predict", req.ModelKey, "ok", time.Since(start).Seconds())

	ln.logger.Info("prediction completed",
		zap.String("request_id", requestID),
		zap.String("model_key", req.ModelKey),
		zap.String("framework", resp.Framework),
		zap.String("input_type", string(req.InputType)),
		zap.String("output_type", string(req.OutputType)),
		zap.Duration("duration", time.Since(start)))

	w.Header().Set("Content-Type", "application/json")
	if err := encoder.NewStreamEncoder(w).Encode(resp); err != nil {
		ln.logger.Error("encoding response", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
}

// writePredictError maps the failure taxonomy onto HTTP statuses. Not-found
// and validation failures carry their precise cause; everything else is
// logged in full and surfaced as a generic message so backend exception
// text never reaches the caller.
func (ln *MantisNode) writePredictError(w http.ResponseWriter, requestID string, req *PredictRequest, err error) {
	switch {
	case errors.Is(err, backends.ErrNotFound):
		http.Error(w, fmt.Sprintf("model not found: %s", req.ModelPath), http.StatusNotFound)
	case errors.Is(err, backends.ErrValidation):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		ln.logger.Error("prediction failed",
			zap.String("request_id", requestID),
			zap.String("model_key", req.ModelKey),
			zap.String("model_path", req.ModelPath),
			zap.String("input_type", string(req.InputType)),
			zap.Error(err))
		http.Error(w, fmt.Sprintf("prediction failed (request_id=%s)", requestID), http.StatusInternalServerError)
	}
}
