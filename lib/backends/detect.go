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
	"path/filepath"
	"strings"
)

// DetectKind guesses the backend kind from the file-name extension alone.
// This is a best-effort guess, not a content sniff; a wrong guess surfaces
// at load time. Unrecognized extensions default to KindTensorFlow.
func DetectKind(path string) BackendKind {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pb", ".h5", ".hdf5", ".keras", "":
		return KindTensorFlow
	case ".pt", ".pth", ".torchscript":
		return KindTorch
	case ".onnx", ".ort":
		return KindONNX
	default:
		return KindTensorFlow
	}
}

// ResolveKind detects the backend kind for path and, for Torch artifacts,
// inspects the archive to decide between a plain TorchScript module and a
// detection export. The probe replaces the load-and-see promotion the
// Python service used: a weights-only state_dict is diagnosed here instead
// of failing deep inside the engine.
func ResolveKind(path string) (BackendKind, error) {
	kind := DetectKind(path)
	if kind != KindTorch {
		return kind, nil
	}

	probe, err := ProbeTorchArchive(path)
	if err != nil {
		// Not a zip container. Could be a legacy eager pickle; leave it
		// to the torch engine to reject with its own diagnosis.
		return KindTorch, nil
	}
	if probe.WeightsOnly {
		return "", LoadError(KindTorch, errWeightsOnly(path))
	}
	if probe.Detection != nil {
		return KindDetection, nil
	}
	return KindTorch, nil
}
