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

// Package normalize converts the supported request payload kinds into the
// canonical tensor a backend consumes. One function per input kind; every
// numeric promotion treats a rank-1 input as one example of N features.
package normalize

import (
	"bytes"
	"encoding/base64"
	"encoding/csv"
	"fmt"
	"image"
	"image/color"
	"strconv"
	"strings"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/antflydb/mantis/lib/backends"
	"github.com/antflydb/mantis/lib/tensor"
)

// Image preprocessing defaults when the model declares no input shape.
const (
	DefaultImageSize     = 224
	DefaultImageChannels = 3
)

// Numeric interprets a flat or nested numeric sequence as a tensor,
// promoting rank 1 to (1, N).
func Numeric(v any) (*tensor.Dense, error) {
	if v == nil {
		return nil, backends.ValidationError("inputs field is required for numeric input")
	}
	t, err := tensor.FromNested(v)
	if err != nil {
		return nil, backends.ValidationError("inputs: %v", err)
	}
	return t.WithBatchDim(), nil
}

// JSON interprets an arbitrary nested numeric structure as a tensor,
// promoting rank 1 to (1, N).
func JSON(v any) (*tensor.Dense, error) {
	if v == nil {
		return nil, backends.ValidationError("json_data field is required for json input")
	}
	t, err := tensor.FromNested(v)
	if err != nil {
		return nil, backends.ValidationError("json_data: %v", err)
	}
	return t.WithBatchDim(), nil
}

// CSV parses comma-separated rows into a rank-2 tensor. If any cell of the
// first row fails to parse as a float the row is treated as a header and
// skipped.
func CSV(data string) (*tensor.Dense, error) {
	if strings.TrimSpace(data) == "" {
		return nil, backends.ValidationError("csv_data field is required for csv input")
	}

	r := csv.NewReader(strings.NewReader(data))
	records, err := r.ReadAll()
	if err != nil {
		return nil, backends.ValidationError("csv_data: %v", err)
	}
	if len(records) == 0 {
		return nil, backends.ValidationError("csv_data contains no rows")
	}

	if rowIsHeader(records[0]) {
		records = records[1:]
		if len(records) == 0 {
			return nil, backends.ValidationError("csv_data contains a header but no data rows")
		}
	}

	cols := len(records[0])
	flat := make([]float32, 0, len(records)*cols)
	for i, row := range records {
		for _, cell := range row {
			f, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
			if err != nil {
				return nil, backends.ValidationError("csv_data row %d: non-numeric value %q", i+1, cell)
			}
			flat = append(flat, float32(f))
		}
	}
	return tensor.FromSlice(flat, len(records), cols)
}

func rowIsHeader(row []string) bool {
	for _, cell := range row {
		if _, err := strconv.ParseFloat(strings.TrimSpace(cell), 64); err != nil {
			return true
		}
	}
	return false
}

// Text wraps a single string as a one-element string array. No tokenization
// is applied; string handling past this point is backend-specific.
func Text(s string) ([]string, error) {
	if s == "" {
		return nil, backends.ValidationError("text field is required for text input")
	}
	return []string{s}, nil
}

// Texts passes a string array through unchanged.
func Texts(ss []string) ([]string, error) {
	if len(ss) == 0 {
		return nil, backends.ValidationError("texts field is required for multi_text input")
	}
	return ss, nil
}

// DecodeImage decodes a base64 image payload into an image. A data-URL
// prefix, if present, is stripped first. Detection backends take the
// decoded image directly and do their own preprocessing.
func DecodeImage(b64 string) (image.Image, error) {
	if b64 == "" {
		return nil, backends.ValidationError("image_base64 field is required for image input")
	}
	if i := strings.IndexByte(b64, ','); i >= 0 && strings.HasPrefix(b64, "data:") {
		b64 = b64[i+1:]
	}

	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, backends.ValidationError("image_base64 is not valid base64: %v", err)
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	return img, nil
}

// Image decodes a base64 image payload and converts it to a tensor matching
// the model's declared input shape: resized, channel-matched, scaled to
// [0, 1], batch axis inserted, and transposed for channels-first backends.
// Undeclared dimensions fall back to 224x224x3.
func Image(b64 string, shape []int, layout tensor.Layout) (*tensor.Dense, error) {
	img, err := DecodeImage(b64)
	if err != nil {
		return nil, err
	}
	return ImageTensor(img, shape, layout)
}

// ImageTensor converts a decoded image to a canonical tensor. Split out of
// Image so already-decoded images can reuse the pipeline.
func ImageTensor(img image.Image, shape []int, layout tensor.Layout) (*tensor.Dense, error) {
	h, w, c := targetDims(shape, layout)
	if c != 1 && c != 3 {
		return nil, fmt.Errorf("unsupported channel count %d in model shape %v", c, shape)
	}

	resized := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(resized, resized.Bounds(), img, img.Bounds(), draw.Src, nil)

	out := tensor.New(1, h, w, c)
	data := out.Data()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			off := resized.PixOffset(x, y)
			r := resized.Pix[off]
			g := resized.Pix[off+1]
			b := resized.Pix[off+2]
			if c == 1 {
				gray := color.GrayModel.Convert(color.RGBA{r, g, b, 255}).(color.Gray)
				data[(y*w+x)*c] = float32(gray.Y) / 255.0
			} else {
				data[(y*w+x)*c] = float32(r) / 255.0
				data[(y*w+x)*c+1] = float32(g) / 255.0
				data[(y*w+x)*c+2] = float32(b) / 255.0
			}
		}
	}

	if layout == tensor.ChannelsFirst {
		return out.ToChannelsFirst()
	}
	return out, nil
}

// targetDims resolves the desired height, width and channel count from a
// declared rank-4 shape, falling back to defaults for missing or dynamic
// dimensions.
func targetDims(shape []int, layout tensor.Layout) (h, w, c int) {
	h, w, c = DefaultImageSize, DefaultImageSize, DefaultImageChannels
	if len(shape) != 4 {
		return
	}
	var dh, dw, dc int
	if layout == tensor.ChannelsFirst {
		dc, dh, dw = shape[1], shape[2], shape[3]
	} else {
		dh, dw, dc = shape[1], shape[2], shape[3]
	}
	if dh > 0 {
		h = dh
	}
	if dw > 0 {
		w = dw
	}
	if dc > 0 {
		c = dc
	}
	return
}
