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

//go:build torch

package backends

import (
	"context"
	"fmt"
	"sync"

	"github.com/antflydb/mantis/lib/tensor"
	"github.com/sugarme/gotch/ts"
)

func init() {
	Register(&torchBackend{})
	Register(&detectionBackend{})
}

type torchBackend struct{}

func (b *torchBackend) Kind() BackendKind { return KindTorch }
func (b *torchBackend) Name() string      { return "LibTorch" }
func (b *torchBackend) Version() string   { return "libtorch" }

// Available is true whenever this build was compiled with -tags=torch: the
// libtorch runtime is linked at build time.
func (b *torchBackend) Available() bool { return true }

func (b *torchBackend) Load(path string) (Model, error) {
	probe, err := ProbeTorchArchive(path)
	if err != nil {
		return nil, LoadError(KindTorch, fmt.Errorf("%s is not a TorchScript archive: %w", path, err))
	}
	if probe.WeightsOnly {
		return nil, LoadError(KindTorch, errWeightsOnly(path))
	}

	module, err := ts.ModuleLoad(path)
	if err != nil {
		return nil, LoadError(KindTorch, err)
	}
	module.SetEval()
	return &torchModel{module: module}, nil
}

type torchModel struct {
	module *ts.CModule

	// CModule forward calls are not guaranteed reentrant.
	mu sync.Mutex
}

func (m *torchModel) Kind() BackendKind { return KindTorch }

// Shape returns nil: TorchScript archives do not declare an input shape.
func (m *torchModel) Shape() []int          { return nil }
func (m *torchModel) Layout() tensor.Layout { return tensor.ChannelsFirst }

func (m *torchModel) Infer(ctx context.Context, in *Input) (*Result, error) {
	if in.Tensor == nil {
		return nil, InferenceError(KindTorch, fmt.Errorf("backend accepts numeric tensors only"))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	out, err := forwardDense(m.module, in.Tensor)
	if err != nil {
		return nil, InferenceError(KindTorch, err)
	}
	return &Result{Tensor: out}, nil
}

// Close is a no-op: libtorch module memory is reclaimed by the runtime
// finalizer, and cached models live for the whole process anyway.
func (m *torchModel) Close() error { return nil }

// forwardDense runs one no-grad forward pass, converting between the
// canonical dense tensor and libtorch tensors on either side.
func forwardDense(module *ts.CModule, in *tensor.Dense) (*tensor.Dense, error) {
	input, err := ts.OfSlice(in.Data())
	if err != nil {
		return nil, fmt.Errorf("creating input tensor: %w", err)
	}
	defer input.MustDrop()

	shape := make([]int64, in.Rank())
	for i, d := range in.Shape() {
		shape[i] = int64(d)
	}
	view, err := input.View(shape, false)
	if err != nil {
		return nil, fmt.Errorf("shaping input tensor: %w", err)
	}
	defer view.MustDrop()

	var output *ts.Tensor
	var ferr error
	ts.NoGrad(func() {
		output, ferr = module.Forward(view)
	})
	if ferr != nil {
		return nil, ferr
	}
	defer output.MustDrop()

	dims, err := output.Size()
	if err != nil {
		return nil, fmt.Errorf("reading output shape: %w", err)
	}
	outShape := make([]int, len(dims))
	n := 1
	for i, d := range dims {
		outShape[i] = int(d)
		n *= int(d)
	}
	if len(outShape) == 0 {
		outShape = []int{1}
		n = 1
	}

	values := output.Float64Values()
	if len(values) != n {
		return nil, fmt.Errorf("output shape %v disagrees with %d values", outShape, len(values))
	}
	data := make([]float32, n)
	for i, v := range values {
		data[i] = float32(v)
	}
	return tensor.FromSlice(data, outShape...)
}

type detectionBackend struct{}

func (b *detectionBackend) Kind() BackendKind { return KindDetection }
func (b *detectionBackend) Name() string      { return "YOLO Detection" }
func (b *detectionBackend) Version() string   { return "libtorch" }
func (b *detectionBackend) Available() bool   { return true }

func (b *detectionBackend) Load(path string) (Model, error) {
	probe, err := ProbeTorchArchive(path)
	if err != nil {
		return nil, LoadError(KindDetection, fmt.Errorf("%s is not a TorchScript archive: %w", path, err))
	}
	if probe.Detection == nil {
		return nil, LoadError(KindDetection, fmt.Errorf("%s carries no detection export metadata", path))
	}

	module, err := ts.ModuleLoad(path)
	if err != nil {
		return nil, LoadError(KindDetection, err)
	}
	module.SetEval()

	size := probe.Detection.ImgSize
	if size <= 0 {
		size = DefaultDetectionSize
	}
	return &detectionModel{module: module, meta: probe.Detection, size: size}, nil
}

type detectionModel struct {
	module *ts.CModule
	meta   *DetectionMeta
	size   int

	mu sync.Mutex
}

func (m *detectionModel) Kind() BackendKind     { return KindDetection }
func (m *detectionModel) Shape() []int          { return []int{1, 3, m.size, m.size} }
func (m *detectionModel) Layout() tensor.Layout { return tensor.ChannelsFirst }

func (m *detectionModel) Infer(ctx context.Context, in *Input) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// A caller-prepared tensor skips letterboxing; boxes stay in model
	// input space since there is no source image to map back to.
	if in.Image == nil {
		if in.Tensor == nil {
			return nil, InferenceError(KindDetection, fmt.Errorf("no image or tensor payload"))
		}
		m.mu.Lock()
		raw, err := forwardDense(m.module, in.Tensor)
		m.mu.Unlock()
		if err != nil {
			return nil, InferenceError(KindDetection, err)
		}
		dets, err := DecodeDetections(raw, DefaultConfThreshold, m.meta.Names)
		if err != nil {
			return nil, InferenceError(KindDetection, err)
		}
		return &Result{Detections: NMS(dets, DefaultIoUThreshold)}, nil
	}

	boxed := Letterbox(in.Image, m.size)

	m.mu.Lock()
	raw, err := forwardDense(m.module, boxed.Tensor())
	m.mu.Unlock()
	if err != nil {
		return nil, InferenceError(KindDetection, err)
	}

	dets, err := DecodeDetections(raw, DefaultConfThreshold, m.meta.Names)
	if err != nil {
		return nil, InferenceError(KindDetection, err)
	}
	dets = NMS(dets, DefaultIoUThreshold)

	b := in.Image.Bounds()
	RescaleBoxes(dets, boxed, b.Dx(), b.Dy())

	result := &Result{Detections: dets}
	if in.Annotate {
		result.Annotated = Annotate(in.Image, dets)
	}
	return result, nil
}

func (m *detectionModel) Close() error { return nil }
