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
	"fmt"
	"os"
	"sync"

	"github.com/antflydb/mantis/lib/tensor"
	ort "github.com/yalue/onnxruntime_go"
)

func init() {
	Register(&onnxBackend{})
}

// ortOnce guards one-time initialization of the ONNX Runtime environment.
// The environment is process-global and never torn down; models share it.
var ortOnce = sync.OnceValue(func() error {
	if p := os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH"); p != "" {
		ort.SetSharedLibraryPath(p)
	}
	return ort.InitializeEnvironment()
})

type onnxBackend struct{}

func (b *onnxBackend) Kind() BackendKind { return KindONNX }
func (b *onnxBackend) Name() string      { return "ONNX Runtime" }

func (b *onnxBackend) Available() bool { return ortOnce() == nil }

func (b *onnxBackend) Version() string {
	if !b.Available() {
		return "unknown"
	}
	return ort.GetVersion()
}

func (b *onnxBackend) Load(path string) (Model, error) {
	if err := ortOnce(); err != nil {
		return nil, fmt.Errorf("%w: onnx runtime unavailable: %w", ErrUnsupportedBackend, err)
	}

	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, LoadError(KindONNX, fmt.Errorf("reading model metadata: %w", err))
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return nil, LoadError(KindONNX, fmt.Errorf("model declares no inputs or outputs"))
	}

	// Single named-input convention: the first declared input and output
	// carry the whole exchange.
	inputName := inputs[0].Name
	outputName := outputs[0].Name

	session, err := ort.NewDynamicAdvancedSession(path,
		[]string{inputName}, []string{outputName}, nil)
	if err != nil {
		return nil, LoadError(KindONNX, fmt.Errorf("creating session: %w", err))
	}

	shape := make([]int, len(inputs[0].Dimensions))
	for i, d := range inputs[0].Dimensions {
		shape[i] = int(d)
	}

	return &onnxModel{session: session, shape: shape}, nil
}

type onnxModel struct {
	session *ort.DynamicAdvancedSession
	shape   []int

	// ORT sessions are safe for concurrent Run calls, but each Run here
	// allocates its own input/output values, so no tensor reuse races.
	closeOnce sync.Once
}

func (m *onnxModel) Kind() BackendKind     { return KindONNX }
func (m *onnxModel) Shape() []int          { return m.shape }
func (m *onnxModel) Layout() tensor.Layout { return tensor.ChannelsFirst }

func (m *onnxModel) Infer(ctx context.Context, in *Input) (*Result, error) {
	if in.Tensor == nil {
		return nil, InferenceError(KindONNX, fmt.Errorf("backend accepts numeric tensors only"))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dims := make([]int64, in.Tensor.Rank())
	for i, d := range in.Tensor.Shape() {
		dims[i] = int64(d)
	}
	input, err := ort.NewTensor(ort.NewShape(dims...), in.Tensor.Data())
	if err != nil {
		return nil, InferenceError(KindONNX, fmt.Errorf("creating input tensor: %w", err))
	}
	defer func() { _ = input.Destroy() }()

	outputs := []ort.Value{nil}
	if err := m.session.Run([]ort.Value{input}, outputs); err != nil {
		return nil, InferenceError(KindONNX, err)
	}
	defer func() { _ = outputs[0].Destroy() }()

	out, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, InferenceError(KindONNX, fmt.Errorf("unexpected output type %T", outputs[0]))
	}

	outShape := make([]int, len(out.GetShape()))
	for i, d := range out.GetShape() {
		outShape[i] = int(d)
	}
	data := make([]float32, len(out.GetData()))
	copy(data, out.GetData())

	result, err := tensor.FromSlice(data, outShape...)
	if err != nil {
		return nil, InferenceError(KindONNX, err)
	}
	return &Result{Tensor: result}, nil
}

func (m *onnxModel) Close() error {
	m.closeOnce.Do(func() { _ = m.session.Destroy() })
	return nil
}
