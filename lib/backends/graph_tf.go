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

//go:build tf

package backends

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"

	"github.com/antflydb/mantis/lib/tensor"
	tf "github.com/wamuir/graft/tensorflow"
)

func init() {
	Register(&tfBackend{})
}

type tfBackend struct{}

func (b *tfBackend) Kind() BackendKind { return KindTensorFlow }
func (b *tfBackend) Name() string      { return "TensorFlow" }
func (b *tfBackend) Version() string   { return tf.Version() }

// Available is true whenever this build was compiled with -tags=tf: the C
// runtime is linked at build time, not probed at run time.
func (b *tfBackend) Available() bool { return true }

func (b *tfBackend) Load(path string) (Model, error) {
	dir := path
	if fi, err := os.Stat(path); err == nil && !fi.IsDir() {
		switch strings.ToLower(filepath.Ext(path)) {
		case ".h5", ".hdf5", ".keras":
			return nil, LoadError(KindTensorFlow,
				fmt.Errorf("%s is a Keras archive; export it as a SavedModel directory to serve it", path))
		case ".pb":
			// A lone GraphDef carries no signature metadata to bind inputs
			// to; only saved_model.pb inside its export directory works.
			if filepath.Base(path) != "saved_model.pb" {
				return nil, LoadError(KindTensorFlow,
					fmt.Errorf("%s is a bare GraphDef; serve the SavedModel export directory instead", path))
			}
			dir = filepath.Dir(path)
		}
	}

	model, err := tf.LoadSavedModel(dir, []string{"serve"}, nil)
	if err != nil {
		return nil, LoadError(KindTensorFlow, err)
	}

	sig, ok := model.Signatures["serving_default"]
	if !ok {
		_ = model.Session.Close()
		return nil, LoadError(KindTensorFlow, fmt.Errorf("model has no serving_default signature"))
	}
	if len(sig.Inputs) != 1 {
		_ = model.Session.Close()
		return nil, LoadError(KindTensorFlow,
			fmt.Errorf("serving_default declares %d inputs; exactly one is required", len(sig.Inputs)))
	}

	m := &tfModel{model: model}
	for _, info := range sig.Inputs {
		m.inputOp, m.inputIdx, err = resolveOperand(model.Graph, info.Name)
		if err != nil {
			_ = model.Session.Close()
			return nil, LoadError(KindTensorFlow, err)
		}
		m.shape = signatureShape(info.Shape)
	}
	for _, info := range sig.Outputs {
		m.outputOp, m.outputIdx, err = resolveOperand(model.Graph, info.Name)
		if err != nil {
			_ = model.Session.Close()
			return nil, LoadError(KindTensorFlow, err)
		}
		break
	}
	if m.outputOp == nil {
		_ = model.Session.Close()
		return nil, LoadError(KindTensorFlow, fmt.Errorf("serving_default declares no outputs"))
	}
	return m, nil
}

// resolveOperand splits a signature tensor name ("op_name:0") into the graph
// operation and its output index.
func resolveOperand(graph *tf.Graph, name string) (*tf.Operation, int, error) {
	opName, idx := name, 0
	if i := strings.LastIndexByte(name, ':'); i >= 0 {
		opName = name[:i]
		fmt.Sscanf(name[i+1:], "%d", &idx)
	}
	op := graph.Operation(opName)
	if op == nil {
		return nil, 0, fmt.Errorf("graph has no operation %q", opName)
	}
	return op, idx, nil
}

func signatureShape(s tf.Shape) []int {
	n := s.NumDimensions()
	if n < 0 {
		return nil
	}
	shape := make([]int, n)
	for i := 0; i < n; i++ {
		size := s.Size(i)
		if size < 0 {
			shape[i] = -1
			continue
		}
		shape[i] = int(size)
	}
	return shape
}

type tfModel struct {
	model     *tf.SavedModel
	inputOp   *tf.Operation
	inputIdx  int
	outputOp  *tf.Operation
	outputIdx int
	shape     []int

	closeOnce sync.Once
}

func (m *tfModel) Kind() BackendKind     { return KindTensorFlow }
func (m *tfModel) Shape() []int          { return m.shape }
func (m *tfModel) Layout() tensor.Layout { return tensor.ChannelsLast }

func (m *tfModel) Infer(ctx context.Context, in *Input) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var value any
	switch {
	case in.Tensor != nil:
		nested, err := in.Tensor.NestedFloat32()
		if err != nil {
			return nil, InferenceError(KindTensorFlow, err)
		}
		value = nested
	case len(in.Strings) > 0:
		value = in.Strings
	default:
		return nil, InferenceError(KindTensorFlow, fmt.Errorf("no tensor or string payload"))
	}

	input, err := tf.NewTensor(value)
	if err != nil {
		return nil, InferenceError(KindTensorFlow, fmt.Errorf("creating input tensor: %w", err))
	}

	outputs, err := m.model.Session.Run(
		map[tf.Output]*tf.Tensor{m.inputOp.Output(m.inputIdx): input},
		[]tf.Output{m.outputOp.Output(m.outputIdx)},
		nil,
	)
	if err != nil {
		return nil, InferenceError(KindTensorFlow, err)
	}
	if len(outputs) == 0 {
		return nil, InferenceError(KindTensorFlow, fmt.Errorf("session produced no outputs"))
	}

	data, shape, err := flattenValue(outputs[0].Value())
	if err != nil {
		return nil, InferenceError(KindTensorFlow, err)
	}
	out, err := tensor.FromSlice(data, shape...)
	if err != nil {
		return nil, InferenceError(KindTensorFlow, err)
	}
	return &Result{Tensor: out}, nil
}

// flattenValue walks the typed nested slices a TF tensor's Value() returns
// and flattens them into row-major float32 data plus a shape.
func flattenValue(v any) ([]float32, []int, error) {
	var shape []int
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Slice {
		shape = append(shape, rv.Len())
		if rv.Len() == 0 {
			return nil, nil, fmt.Errorf("empty output axis in shape %v", shape)
		}
		rv = rv.Index(0)
	}

	n := 1
	for _, d := range shape {
		n *= d
	}
	data := make([]float32, 0, n)
	data, err := appendLeaves(reflect.ValueOf(v), data)
	if err != nil {
		return nil, nil, err
	}
	if len(shape) == 0 {
		shape = []int{1}
	}
	return data, shape, nil
}

func appendLeaves(rv reflect.Value, out []float32) ([]float32, error) {
	if rv.Kind() == reflect.Slice {
		var err error
		for i := 0; i < rv.Len(); i++ {
			out, err = appendLeaves(rv.Index(i), out)
			if err != nil {
				return nil, err
			}
		}
		return out, nil
	}
	switch rv.Kind() {
	case reflect.Float32, reflect.Float64:
		return append(out, float32(rv.Float())), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return append(out, float32(rv.Int())), nil
	default:
		return nil, fmt.Errorf("unsupported output element kind %s", rv.Kind())
	}
}

func (m *tfModel) Close() error {
	var err error
	m.closeOnce.Do(func() { err = m.model.Session.Close() })
	return err
}
