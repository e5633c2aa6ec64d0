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
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// newTestNode wires a node around the fake backend with no concurrency
// limits worth hitting in tests.
func newTestNode(t *testing.T) (*MantisNode, *fakeBackend, http.Handler) {
	t.Helper()
	logger := zap.NewNop()
	cache, fb := newFakeCache(t)
	node := &MantisNode{
		logger:       logger,
		modelCache:   cache,
		predictor:    NewPredictor(cache, logger),
		requestQueue: NewRequestQueue(RequestQueueConfig{}, logger),
	}
	return node, fb, NewMantisAPI(logger, node)
}

func postPredict(t *testing.T, handler http.Handler, body map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/predict", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestPredictNumericEndToEnd(t *testing.T) {
	_, fb, handler := newTestNode(t)
	path := touchModelFile(t, "model.bin")

	rec := postPredict(t, handler, map[string]any{
		"model_path": path,
		"model_key":  "clf",
		"inputs":     []float64{1, 2, 3},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, float64(1), resp["predicted_class"])
	assert.Equal(t, 0.7, resp["confidence"])
	assert.Equal(t, "fake", resp["framework"])
	assert.Equal(t, "clf", resp["model_key"])
	assert.NotNil(t, resp["prediction"])
	assert.Equal(t, int32(1), fb.loads.Load())
}

func TestPredictRegressionOutput(t *testing.T) {
	_, fb, handler := newTestNode(t)
	fb.output = []float32{42.5}
	path := touchModelFile(t, "model.bin")

	rec := postPredict(t, handler, map[string]any{
		"model_path":  path,
		"model_key":   "reg",
		"output_type": "regression",
		"inputs":      []float64{1},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 42.5, resp["value"])
}

func TestPredictValidationBeforeLoad(t *testing.T) {
	_, fb, handler := newTestNode(t)

	// image input without image_base64: rejected before the cache ever
	// stats the (nonexistent) path.
	rec := postPredict(t, handler, map[string]any{
		"model_path": "/does/not/exist.bin",
		"model_key":  "img",
		"input_type": "image",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "image_base64")
	assert.Equal(t, int32(0), fb.loads.Load())
}

func TestPredictMissingRequiredFields(t *testing.T) {
	_, _, handler := newTestNode(t)

	rec := postPredict(t, handler, map[string]any{
		"model_key": "no-path",
		"inputs":    []float64{1},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "model_path")
}

func TestPredictNotFound(t *testing.T) {
	_, _, handler := newTestNode(t)

	rec := postPredict(t, handler, map[string]any{
		"model_path": "/does/not/exist.bin",
		"model_key":  "missing",
		"inputs":     []float64{1, 2, 3},
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "model not found")
}

func TestPredictCSVInput(t *testing.T) {
	_, _, handler := newTestNode(t)
	path := touchModelFile(t, "model.bin")

	rec := postPredict(t, handler, map[string]any{
		"model_path": path,
		"model_key":  "csv",
		"input_type": "csv",
		"csv_data":   "a,b\n1,2\n3,4",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestPredictUnknownInputType(t *testing.T) {
	_, _, handler := newTestNode(t)

	rec := postPredict(t, handler, map[string]any{
		"model_path": "/tmp/whatever.bin",
		"model_key":  "bad",
		"input_type": "tabular",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "input_type")
}

func TestPredictOpaqueInternalError(t *testing.T) {
	_, fb, handler := newTestNode(t)
	fb.failLoads.Store(1)
	path := touchModelFile(t, "model.bin")

	rec := postPredict(t, handler, map[string]any{
		"model_path": path,
		"model_key":  "boom",
		"inputs":     []float64{1},
	})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	// Backend detail is logged, never echoed.
	assert.NotContains(t, rec.Body.String(), "synthetic load failure")
	assert.Contains(t, rec.Body.String(), "request_id")
}

func TestListModels(t *testing.T) {
	node, _, handler := newTestNode(t)
	path := touchModelFile(t, "model.bin")
	_, err := node.modelCache.GetOrLoad("listed", path)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/models", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Models []ModelEntry `json:"models"`
		Count  int          `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)
	assert.Equal(t, "listed", resp.Models[0].Key)
	assert.Equal(t, path, resp.Models[0].Path)
}

func TestHealthzReportsCacheAndBackends(t *testing.T) {
	node, _, _ := newTestNode(t)
	path := touchModelFile(t, "model.bin")
	_, err := node.modelCache.GetOrLoad("h", path)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	node.handleHealthz(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, resp.ModelsLoaded)
	assert.NotEmpty(t, resp.Backends)
}

func TestReadyz(t *testing.T) {
	node, _, _ := newTestNode(t)

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	node.handleReadyz(rec, req)

	// The fake backend is registered and available, so the node is ready.
	require.Equal(t, http.StatusOK, rec.Code)
	var resp ReadyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ready", resp.Status)
	assert.GreaterOrEqual(t, resp.AvailableBackends, 1)
}

func TestGetVersion(t *testing.T) {
	_, _, handler := newTestNode(t)

	req := httptest.NewRequest(http.MethodGet, "/api/version", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp VersionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Version)
	assert.NotEmpty(t, resp.GoVersion)
}
