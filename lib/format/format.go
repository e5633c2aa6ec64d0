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

// Package format shapes raw inference tensors into the response fields of
// each output kind. Detection results never pass through here; they are
// structured at the source.
package format

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"sort"

	"github.com/antflydb/mantis/lib/tensor"
)

// ClassScore is one entry of the top-5 ranking.
type ClassScore struct {
	ClassID int     `json:"class_id"`
	Score   float64 `json:"score"`
}

// Output carries the kind-specific response fields. Prediction is always
// set; the rest depend on the output kind.
type Output struct {
	Prediction     any          `json:"prediction"`
	PredictedClass *int         `json:"predicted_class,omitempty"`
	Confidence     *float64     `json:"confidence,omitempty"`
	Top5           []ClassScore `json:"top_5,omitempty"`
	Value          any          `json:"value,omitempty"`
	ImageBase64    string       `json:"image_base64,omitempty"`
	ImageSize      []int        `json:"image_size,omitempty"`
}

// Classification reports the raw values plus argmax class and confidence.
// A last axis wider than 5 additionally gets a descending top-5 ranking; a
// single-value output is binarized at 0.5 with the confidence reported for
// whichever class was chosen.
func Classification(t *tensor.Dense) (*Output, error) {
	width := t.LastDim()
	if width == 0 {
		return nil, fmt.Errorf("empty classification output")
	}

	out := &Output{Prediction: t.Nested()}

	if width == 1 {
		p := float64(t.Data()[0])
		class := 0
		conf := 1 - p
		if p > 0.5 {
			class = 1
			conf = p
		}
		conf = round4(conf)
		out.PredictedClass = &class
		out.Confidence = &conf
		return out, nil
	}

	idx, best := t.ArgmaxLast()
	conf := round4(float64(best))
	out.PredictedClass = &idx
	out.Confidence = &conf

	if width > 5 {
		row := t.Data()[:width]
		ranked := make([]ClassScore, width)
		for i, v := range row {
			ranked[i] = ClassScore{ClassID: i, Score: round4(float64(v))}
		}
		sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })
		out.Top5 = ranked[:5]
	}
	return out, nil
}

// Regression flattens the output to plain values: a single scalar when one
// value results, the full sequence otherwise.
func Regression(t *tensor.Dense) (*Output, error) {
	values := t.Float64s()
	if len(values) == 0 {
		return nil, fmt.Errorf("empty regression output")
	}
	out := &Output{}
	if len(values) == 1 {
		out.Value = values[0]
		out.Prediction = values[0]
	} else {
		out.Value = values
		out.Prediction = values
	}
	return out, nil
}

// Image treats the tensor as pixel data and encodes it as base64 PNG.
// Values at or below 1.0 are assumed normalized and scaled by 255; a
// leading batch axis and a trailing single-channel axis are dropped.
func Image(t *tensor.Dense) (*Output, error) {
	shape := append([]int(nil), t.Shape()...)
	data := t.Data()

	if len(shape) >= 3 && shape[0] == 1 {
		shape = shape[1:]
	}
	if len(shape) == 3 && shape[2] == 1 {
		shape = shape[:2]
	}

	scale := float32(1)
	if t.Max() <= 1.0 {
		scale = 255
	}

	var img image.Image
	switch {
	case len(shape) == 2:
		gray := image.NewGray(image.Rect(0, 0, shape[1], shape[0]))
		for y := 0; y < shape[0]; y++ {
			for x := 0; x < shape[1]; x++ {
				gray.SetGray(x, y, color.Gray{Y: pixel(data[y*shape[1]+x] * scale)})
			}
		}
		img = gray
	case len(shape) == 3 && shape[2] == 3:
		rgba := image.NewRGBA(image.Rect(0, 0, shape[1], shape[0]))
		for y := 0; y < shape[0]; y++ {
			for x := 0; x < shape[1]; x++ {
				off := (y*shape[1] + x) * 3
				rgba.SetRGBA(x, y, color.RGBA{
					R: pixel(data[off] * scale),
					G: pixel(data[off+1] * scale),
					B: pixel(data[off+2] * scale),
					A: 255,
				})
			}
		}
		img = rgba
	default:
		return nil, fmt.Errorf("cannot interpret shape %v as an image", t.Shape())
	}

	return EncodeImage(img)
}

// EncodeImage renders any image to the base64 PNG response fields.
func EncodeImage(img image.Image) (*Output, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding image: %w", err)
	}
	b := img.Bounds()
	return &Output{
		Prediction:  "image",
		ImageBase64: base64.StdEncoding.EncodeToString(buf.Bytes()),
		ImageSize:   []int{b.Dx(), b.Dy()},
	}, nil
}

// Raw passes the nested values through with no interpretation. Used for the
// text and json output kinds.
func Raw(t *tensor.Dense) (*Output, error) {
	return &Output{Prediction: t.Nested()}, nil
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

func pixel(v float32) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v + 0.5)
}
