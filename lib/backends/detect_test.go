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

package backends

import (
	"archive/zip"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectKind(t *testing.T) {
	tests := []struct {
		path string
		want BackendKind
	}{
		{"model.pb", KindTensorFlow},
		{"model.h5", KindTensorFlow},
		{"model.keras", KindTensorFlow},
		{"saved_model_dir", KindTensorFlow},
		{"model.pt", KindTorch},
		{"model.pth", KindTorch},
		{"model.torchscript", KindTorch},
		{"model.onnx", KindONNX},
		{"model.ort", KindONNX},
		{"MODEL.ONNX", KindONNX},
		{"model.bin", KindTensorFlow}, // unrecognized defaults to tensorflow
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DetectKind(tt.path), tt.path)
	}
}

// writeTorchZip creates a minimal zip with the given member names, all
// prefixed with an archive-internal root the way torch.save writes them.
func writeTorchZip(t *testing.T, path string, members map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	zw := zip.NewWriter(f)
	for name, content := range members {
		w, err := zw.Create("archive/" + name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
}

func TestProbeTorchScript(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.pt")
	writeTorchZip(t, path, map[string]string{
		"code/model.py": "def forward",
		"constants.pkl": "x",
		"data.pkl":      "x",
		"data/0":        "weights",
		"version":       "3",
	})

	probe, err := ProbeTorchArchive(path)
	require.NoError(t, err)
	assert.True(t, probe.TorchScript)
	assert.False(t, probe.WeightsOnly)
	assert.Nil(t, probe.Detection)
}

func TestProbeWeightsOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weights.pt")
	writeTorchZip(t, path, map[string]string{
		"data.pkl": "x",
		"data/0":   "weights",
		"version":  "3",
	})

	probe, err := ProbeTorchArchive(path)
	require.NoError(t, err)
	assert.False(t, probe.TorchScript)
	assert.True(t, probe.WeightsOnly)
}

func TestProbeDetectionExport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "yolo.pt")
	writeTorchZip(t, path, map[string]string{
		"code/model.py": "def forward",
		"constants.pkl": "x",
		"config.txt":    `{"names": {"0": "person", "1": "car"}, "imgsz": [640, 640]}`,
	})

	probe, err := ProbeTorchArchive(path)
	require.NoError(t, err)
	require.NotNil(t, probe.Detection)
	assert.Equal(t, "person", probe.Detection.Names[0])
	assert.Equal(t, "car", probe.Detection.Names[1])
	assert.Equal(t, 640, probe.Detection.ImgSize)
	assert.Equal(t, []string{"person", "car"}, probe.Detection.ClassNames())
}

func TestProbeNotAZip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.pt")
	require.NoError(t, os.WriteFile(path, []byte("not a zip"), 0o644))

	_, err := ProbeTorchArchive(path)
	assert.Error(t, err)
}

func TestResolveKindPromotesDetection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "yolo.pt")
	writeTorchZip(t, path, map[string]string{
		"code/model.py": "def forward",
		"config.txt":    `{"names": {"0": "person"}, "imgsz": [416]}`,
	})

	kind, err := ResolveKind(path)
	require.NoError(t, err)
	assert.Equal(t, KindDetection, kind)
}

func TestResolveKindWeightsOnlyDiagnosis(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weights.pt")
	writeTorchZip(t, path, map[string]string{
		"data.pkl": "x",
	})

	_, err := ResolveKind(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLoadFailure))
	assert.Contains(t, err.Error(), "parameters only")
}

func TestResolveKindNonTorchSkipsProbe(t *testing.T) {
	// No file on disk: non-torch extensions never open the artifact.
	kind, err := ResolveKind("/nonexistent/model.onnx")
	require.NoError(t, err)
	assert.Equal(t, KindONNX, kind)
}

func TestResolveKindLegacyPickleStaysTorch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.pt")
	require.NoError(t, os.WriteFile(path, []byte("not a zip"), 0o644))

	kind, err := ResolveKind(path)
	require.NoError(t, err)
	assert.Equal(t, KindTorch, kind)
}
