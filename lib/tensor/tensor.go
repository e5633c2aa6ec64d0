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

// Package tensor implements the canonical dense float32 tensor exchanged
// between input normalization and the inference backends.
package tensor

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Layout describes the memory layout of image-shaped tensors.
type Layout int

const (
	// ChannelsLast is batch-height-width-channel (TensorFlow convention).
	ChannelsLast Layout = iota
	// ChannelsFirst is batch-channel-height-width (Torch/ONNX convention).
	ChannelsFirst
)

// Dense is an n-dimensional float32 array with an explicit shape.
// Data is stored in row-major order.
type Dense struct {
	shape []int
	data  []float32
}

// New creates a zero-filled tensor with the given shape.
func New(shape ...int) *Dense {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return &Dense{shape: append([]int(nil), shape...), data: make([]float32, n)}
}

// FromSlice wraps a flat slice in a tensor, validating the element count.
func FromSlice(data []float32, shape ...int) (*Dense, error) {
	n := 1
	for _, d := range shape {
		if d <= 0 {
			return nil, fmt.Errorf("invalid dimension %d in shape %v", d, shape)
		}
		n *= d
	}
	if len(data) != n {
		return nil, fmt.Errorf("shape %v requires %d elements, got %d", shape, n, len(data))
	}
	return &Dense{shape: append([]int(nil), shape...), data: data}, nil
}

// Shape returns the tensor's dimensions. Callers must not mutate it.
func (d *Dense) Shape() []int { return d.shape }

// Rank returns the number of dimensions.
func (d *Dense) Rank() int { return len(d.shape) }

// Len returns the total number of elements.
func (d *Dense) Len() int { return len(d.data) }

// Data returns the flat row-major backing slice.
func (d *Dense) Data() []float32 { return d.data }

// LastDim returns the size of the trailing axis, or 0 for a rank-0 tensor.
func (d *Dense) LastDim() int {
	if len(d.shape) == 0 {
		return 0
	}
	return d.shape[len(d.shape)-1]
}

// Reshape returns a view of the same data with a new shape.
func (d *Dense) Reshape(shape ...int) (*Dense, error) {
	return FromSlice(d.data, shape...)
}

// WithBatchDim promotes a rank-1 tensor of N features to shape (1, N),
// treating it as a single example. Higher-rank tensors are returned as-is.
func (d *Dense) WithBatchDim() *Dense {
	if len(d.shape) != 1 {
		return d
	}
	return &Dense{shape: []int{1, d.shape[0]}, data: d.data}
}

// ToChannelsFirst transposes a rank-4 NHWC tensor to NCHW.
func (d *Dense) ToChannelsFirst() (*Dense, error) {
	if len(d.shape) != 4 {
		return nil, fmt.Errorf("channels-first transpose requires rank 4, got shape %v", d.shape)
	}
	n, h, w, c := d.shape[0], d.shape[1], d.shape[2], d.shape[3]
	out := New(n, c, h, w)
	for b := 0; b < n; b++ {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				for ch := 0; ch < c; ch++ {
					out.data[((b*c+ch)*h+y)*w+x] = d.data[((b*h+y)*w+x)*c+ch]
				}
			}
		}
	}
	return out, nil
}

// Max returns the largest element. Returns 0 for an empty tensor.
func (d *Dense) Max() float32 {
	if len(d.data) == 0 {
		return 0
	}
	max := d.data[0]
	for _, v := range d.data[1:] {
		if v > max {
			max = v
		}
	}
	return max
}

// ArgmaxLast returns the index and value of the largest element along the
// trailing axis of the first example.
func (d *Dense) ArgmaxLast() (int, float32) {
	w := d.LastDim()
	if w == 0 || len(d.data) < w {
		return 0, 0
	}
	row := d.data[:w]
	idx, best := 0, row[0]
	for i, v := range row[1:] {
		if v > best {
			best = v
			idx = i + 1
		}
	}
	return idx, best
}

// Nested converts the tensor to nested []any slices of float64 leaves,
// mirroring the JSON representation of an n-dimensional array.
func (d *Dense) Nested() any {
	return nest(d.data, d.shape)
}

func nest(data []float32, shape []int) any {
	if len(shape) == 0 {
		if len(data) == 1 {
			return float64(data[0])
		}
		return nil
	}
	if len(shape) == 1 {
		out := make([]any, shape[0])
		for i := range out {
			out[i] = float64(data[i])
		}
		return out
	}
	stride := len(data) / shape[0]
	out := make([]any, shape[0])
	for i := range out {
		out[i] = nest(data[i*stride:(i+1)*stride], shape[1:])
	}
	return out
}

// FromNested interprets an arbitrary nested numeric structure (as produced
// by a JSON decoder) as a tensor. Ragged nesting is rejected.
func FromNested(v any) (*Dense, error) {
	shape, err := nestedShape(v)
	if err != nil {
		return nil, err
	}
	n := 1
	for _, d := range shape {
		n *= d
	}
	data := make([]float32, 0, n)
	data, err = flatten(v, shape, data)
	if err != nil {
		return nil, err
	}
	return FromSlice(data, shape...)
}

func nestedShape(v any) ([]int, error) {
	switch t := v.(type) {
	case []any:
		if len(t) == 0 {
			return nil, fmt.Errorf("empty array in input")
		}
		inner, err := nestedShape(t[0])
		if err != nil {
			return nil, err
		}
		return append([]int{len(t)}, inner...), nil
	case float64, float32, int, int64, json.Number:
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported element type %T", v)
	}
}

func flatten(v any, shape []int, out []float32) ([]float32, error) {
	if len(shape) == 0 {
		f, err := toFloat(v)
		if err != nil {
			return nil, err
		}
		return append(out, f), nil
	}
	arr, ok := v.([]any)
	if !ok || len(arr) != shape[0] {
		return nil, fmt.Errorf("ragged input: expected %d elements, got %v", shape[0], v)
	}
	var err error
	for _, e := range arr {
		out, err = flatten(e, shape[1:], out)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func toFloat(v any) (float32, error) {
	switch t := v.(type) {
	case float64:
		return float32(t), nil
	case float32:
		return t, nil
	case int:
		return float32(t), nil
	case int64:
		return float32(t), nil
	case json.Number:
		f, err := strconv.ParseFloat(string(t), 64)
		if err != nil {
			return 0, fmt.Errorf("non-numeric value %q", t)
		}
		return float32(f), nil
	default:
		return 0, fmt.Errorf("non-numeric element of type %T", v)
	}
}

// Float64s returns all elements as float64, flattened in row-major order.
func (d *Dense) Float64s() []float64 {
	out := make([]float64, len(d.data))
	for i, v := range d.data {
		out[i] = float64(v)
	}
	return out
}

// NestedFloat32 converts the tensor to concretely typed nested slices
// ([]float32, [][]float32, ...) up to rank 4. Backends that construct
// typed native tensors (TensorFlow) need this instead of []any nesting.
func (d *Dense) NestedFloat32() (any, error) {
	s := d.shape
	switch len(s) {
	case 1:
		return d.data, nil
	case 2:
		out := make([][]float32, s[0])
		for i := range out {
			out[i] = d.data[i*s[1] : (i+1)*s[1]]
		}
		return out, nil
	case 3:
		out := make([][][]float32, s[0])
		for i := range out {
			plane := make([][]float32, s[1])
			for j := range plane {
				off := (i*s[1] + j) * s[2]
				plane[j] = d.data[off : off+s[2]]
			}
			out[i] = plane
		}
		return out, nil
	case 4:
		out := make([][][][]float32, s[0])
		for i := range out {
			cube := make([][][]float32, s[1])
			for j := range cube {
				plane := make([][]float32, s[2])
				for k := range plane {
					off := ((i*s[1]+j)*s[2] + k) * s[3]
					plane[k] = d.data[off : off+s[3]]
				}
				cube[j] = plane
			}
			out[i] = cube
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported rank %d for typed nesting", len(s))
	}
}
