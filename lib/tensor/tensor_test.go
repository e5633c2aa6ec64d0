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

package tensor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromNestedFlat(t *testing.T) {
	d, err := FromNested([]any{1.0, 2.0, 3.0})
	require.NoError(t, err)
	assert.Equal(t, []int{3}, d.Shape())
	assert.Equal(t, []float32{1, 2, 3}, d.Data())
}

func TestFromNestedMatrix(t *testing.T) {
	d, err := FromNested([]any{
		[]any{1.0, 2.0},
		[]any{3.0, 4.0},
	})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2}, d.Shape())
	assert.Equal(t, []float32{1, 2, 3, 4}, d.Data())
}

func TestFromNestedRagged(t *testing.T) {
	_, err := FromNested([]any{
		[]any{1.0, 2.0},
		[]any{3.0},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ragged")
}

func TestFromNestedRejectsStrings(t *testing.T) {
	_, err := FromNested([]any{"a", "b"})
	require.Error(t, err)
}

func TestWithBatchDim(t *testing.T) {
	d, err := FromSlice([]float32{1, 2, 3}, 3)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3}, d.WithBatchDim().Shape())

	// Higher ranks are untouched.
	m, err := FromSlice([]float32{1, 2, 3, 4}, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2}, m.WithBatchDim().Shape())
}

func TestToChannelsFirst(t *testing.T) {
	// 1x2x2x3 NHWC, each pixel (r, g, b) distinct.
	d, err := FromSlice([]float32{
		1, 2, 3, 4, 5, 6,
		7, 8, 9, 10, 11, 12,
	}, 1, 2, 2, 3)
	require.NoError(t, err)

	nchw, err := d.ToChannelsFirst()
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3, 2, 2}, nchw.Shape())
	// Red plane is every third value.
	assert.Equal(t, []float32{1, 4, 7, 10}, nchw.Data()[:4])

	flat, err := d.Reshape(12)
	require.NoError(t, err)
	_, err = flat.ToChannelsFirst()
	assert.Error(t, err)
}

func TestArgmaxLast(t *testing.T) {
	d, err := FromSlice([]float32{0.1, 0.7, 0.2}, 1, 3)
	require.NoError(t, err)
	idx, val := d.ArgmaxLast()
	assert.Equal(t, 1, idx)
	assert.InDelta(t, 0.7, val, 1e-6)
}

func TestNestedRoundTrip(t *testing.T) {
	d, err := FromSlice([]float32{1, 2, 3, 4}, 2, 2)
	require.NoError(t, err)

	back, err := FromNested(d.Nested())
	require.NoError(t, err)
	assert.Equal(t, d.Shape(), back.Shape())
	assert.Equal(t, d.Data(), back.Data())
}

func TestNestedFloat32(t *testing.T) {
	d, err := FromSlice([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	require.NoError(t, err)

	v, err := d.NestedFloat32()
	require.NoError(t, err)
	m, ok := v.([][]float32)
	require.True(t, ok)
	assert.Equal(t, []float32{4, 5, 6}, m[1])
}
