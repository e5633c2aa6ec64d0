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
	"context"
	"image"

	"github.com/antflydb/mantis/lib/tensor"
)

// BackendKind identifies which inference engine produced or serves a model.
type BackendKind string

const (
	// KindTensorFlow serves SavedModel / frozen-graph artifacts via the
	// TensorFlow C runtime. Requires -tags=tf.
	KindTensorFlow BackendKind = "tensorflow"

	// KindTorch serves TorchScript archives via libtorch. Requires -tags=torch.
	KindTorch BackendKind = "torch"

	// KindONNX serves portable-graph interchange models via ONNX Runtime.
	// Always compiled; availability depends on the shared runtime library.
	KindONNX BackendKind = "onnx"

	// KindDetection serves YOLO-style detection exports. Shares the libtorch
	// engine with KindTorch but has its own preprocessing and result shape.
	KindDetection BackendKind = "detection"
)

// Input is the union of payloads a model can consume. Exactly one of
// Tensor, Strings, or Image is set; which ones a backend accepts depends
// on its kind.
type Input struct {
	// Tensor is the canonical numeric payload.
	Tensor *tensor.Dense

	// Strings carries free-text input. Only backends with native string
	// tensor support accept it; no tokenization is applied.
	Strings []string

	// Image is a decoded image for detection backends, which do their own
	// preprocessing.
	Image image.Image

	// Annotate asks a detection backend for a rendered annotated image
	// instead of structured detections only.
	Annotate bool
}

// Detection is one detected object: pixel-space box, confidence and class.
type Detection struct {
	Box        [4]float32 `json:"box"` // x1, y1, x2, y2
	Confidence float32    `json:"confidence"`
	ClassID    int        `json:"class_id"`
	ClassName  string     `json:"class_name,omitempty"`
}

// Result is what a model produces: a dense tensor for most backends, or a
// structured detection list (optionally plus an annotated image) for
// detection backends.
type Result struct {
	Tensor     *tensor.Dense
	Detections []Detection
	Annotated  image.Image
}

// Model is one loaded artifact bound to the backend that constructed it.
// Models are immutable after construction and safe for concurrent Infer
// calls.
type Model interface {
	// Kind returns the backend kind that loaded this model.
	Kind() BackendKind

	// Shape returns the declared input shape, or nil when the artifact
	// does not expose one (dynamic-graph models).
	Shape() []int

	// Layout reports the image tensor layout this model expects.
	Layout() tensor.Layout

	// Infer runs the model on the given input.
	Infer(ctx context.Context, in *Input) (*Result, error)

	// Close releases native resources held by the model.
	Close() error
}

// Backend constructs models for one BackendKind. Backends self-register
// via init() in their respective files.
type Backend interface {
	// Kind returns the backend kind identifier.
	Kind() BackendKind

	// Name returns a human-readable name (e.g. "ONNX Runtime").
	Name() string

	// Version reports the engine version, or "unknown" when the engine
	// cannot be queried.
	Version() string

	// Available returns true if this backend can load models in the
	// current build and environment.
	Available() bool

	// Load constructs a model from the artifact at path.
	Load(path string) (Model, error)
}

// Status is the per-backend capability report exposed on the health surface.
type Status struct {
	Kind      BackendKind `json:"kind"`
	Name      string      `json:"name"`
	Available bool        `json:"available"`
	Version   string      `json:"version"`
}
