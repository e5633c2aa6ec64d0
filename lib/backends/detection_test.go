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
	"image"
	"testing"

	"github.com/antflydb/mantis/lib/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// anchorOutput builds a (1, anchors, 4+nc) detection head output.
func anchorOutput(t *testing.T, rows [][]float32) *tensor.Dense {
	t.Helper()
	attrs := len(rows[0])
	flat := make([]float32, 0, len(rows)*attrs)
	for _, r := range rows {
		flat = append(flat, r...)
	}
	d, err := tensor.FromSlice(flat, 1, len(rows), attrs)
	require.NoError(t, err)
	return d
}

func TestDecodeDetectionsAnchorMajor(t *testing.T) {
	// Eight anchors, two classes: one confident person, the rest below
	// threshold. Anchor-major layout needs more anchors than attributes.
	rows := [][]float32{
		{100, 100, 40, 60, 0.9, 0.1},
		{300, 200, 20, 20, 0.1, 0.05},
	}
	for len(rows) < 8 {
		rows = append(rows, []float32{0, 0, 0, 0, 0, 0})
	}
	out := anchorOutput(t, rows)

	dets, err := DecodeDetections(out, 0.25, map[int]string{0: "person", 1: "car"})
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.Equal(t, 0, dets[0].ClassID)
	assert.Equal(t, "person", dets[0].ClassName)
	assert.InDelta(t, 0.9, dets[0].Confidence, 1e-6)
	assert.Equal(t, [4]float32{80, 70, 120, 130}, dets[0].Box)
}

func TestDecodeDetectionsChannelMajor(t *testing.T) {
	// Same content transposed to (1, 4+nc, anchors).
	padded := [][]float32{
		{100, 100, 40, 60, 0.9, 0.1},
		{300, 200, 20, 20, 0.1, 0.05},
	}
	// Channel-major layout requires attrs < anchors; pad with dead anchors.
	for len(padded) < 8 {
		padded = append(padded, []float32{0, 0, 0, 0, 0, 0})
	}
	attrs := len(padded[0])
	flat := make([]float32, 0, attrs*len(padded))
	for i := 0; i < attrs; i++ {
		for _, row := range padded {
			flat = append(flat, row[i])
		}
	}
	out, err := tensor.FromSlice(flat, 1, attrs, len(padded))
	require.NoError(t, err)

	dets, err := DecodeDetections(out, 0.25, nil)
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.Equal(t, [4]float32{80, 70, 120, 130}, dets[0].Box)
	assert.Empty(t, dets[0].ClassName)
}

func TestDecodeDetectionsBadShape(t *testing.T) {
	d, err := tensor.FromSlice(make([]float32, 6), 2, 3)
	require.NoError(t, err)
	_, err = DecodeDetections(d, 0.25, nil)
	assert.Error(t, err)
}

func TestNMSSuppressesOverlaps(t *testing.T) {
	dets := []Detection{
		{Box: [4]float32{0, 0, 100, 100}, Confidence: 0.8, ClassID: 0},
		{Box: [4]float32{5, 5, 105, 105}, Confidence: 0.9, ClassID: 0},
		{Box: [4]float32{200, 200, 300, 300}, Confidence: 0.7, ClassID: 0},
		// Same box, different class: kept.
		{Box: [4]float32{0, 0, 100, 100}, Confidence: 0.6, ClassID: 1},
	}

	kept := NMS(dets, 0.45)
	require.Len(t, kept, 3)
	assert.InDelta(t, 0.9, kept[0].Confidence, 1e-6)
	for i := 1; i < len(kept); i++ {
		assert.LessOrEqual(t, kept[i].Confidence, kept[i-1].Confidence)
	}
}

func TestLetterboxAspectRatio(t *testing.T) {
	// A 200x100 image into a 640 square: scale 3.2, vertical padding.
	img := image.NewRGBA(image.Rect(0, 0, 200, 100))
	boxed := Letterbox(img, 640)

	assert.Equal(t, 640, boxed.img.Bounds().Dx())
	assert.Equal(t, 640, boxed.img.Bounds().Dy())
	assert.InDelta(t, 3.2, boxed.scale, 1e-6)
	assert.InDelta(t, 0, boxed.padX, 0.5)
	assert.InDelta(t, 160, boxed.padY, 0.5)

	tens := boxed.Tensor()
	assert.Equal(t, []int{1, 3, 640, 640}, tens.Shape())
}

func TestRescaleBoxes(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 200, 100))
	boxed := Letterbox(img, 640)

	dets := []Detection{{Box: [4]float32{320, 320, 480, 400}}}
	RescaleBoxes(dets, boxed, 200, 100)

	// (320-0)/3.2 = 100, (320-160)/3.2 = 50, (480-0)/3.2 = 150, (400-160)/3.2 = 75
	assert.InDelta(t, 100, dets[0].Box[0], 0.5)
	assert.InDelta(t, 50, dets[0].Box[1], 0.5)
	assert.InDelta(t, 150, dets[0].Box[2], 0.5)
	assert.InDelta(t, 75, dets[0].Box[3], 0.5)
}

func TestRescaleBoxesClamps(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 100, 100))
	boxed := Letterbox(img, 640)

	dets := []Detection{{Box: [4]float32{-50, -50, 10000, 10000}}}
	RescaleBoxes(dets, boxed, 100, 100)
	assert.Equal(t, float32(0), dets[0].Box[0])
	assert.Equal(t, float32(0), dets[0].Box[1])
	assert.Equal(t, float32(100), dets[0].Box[2])
	assert.Equal(t, float32(100), dets[0].Box[3])
}

func TestAnnotateDrawsOnCopy(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	dets := []Detection{{Box: [4]float32{10, 20, 40, 50}, Confidence: 0.9, ClassName: "person"}}

	out := Annotate(img, dets)
	require.NotNil(t, out)
	assert.Equal(t, img.Bounds(), out.Bounds())
	// Box edge pixel is painted on the copy, not the source.
	r, _, _, _ := out.At(10, 20).RGBA()
	assert.NotZero(t, r)
	r, _, _, _ = img.At(10, 20).RGBA()
	assert.Zero(t, r)
}
