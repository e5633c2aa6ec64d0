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
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"sort"

	"github.com/antflydb/mantis/lib/tensor"
	"github.com/nfnt/resize"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Detection postprocessing defaults, matching the usual YOLO export
// thresholds.
const (
	DefaultConfThreshold = 0.25
	DefaultIoUThreshold  = 0.45
	DefaultDetectionSize = 640
)

// letterboxed is an image resized to fit a square model input with its
// aspect ratio preserved, plus the transform needed to map boxes back.
type letterboxed struct {
	img   *image.RGBA
	scale float32
	padX  float32
	padY  float32
}

// Letterbox scales img to fit a size x size square and pads the remainder
// with neutral gray, the way ultralytics preprocesses frames.
func Letterbox(img image.Image, size int) *letterboxed {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	scale := float32(size) / float32(w)
	if s := float32(size) / float32(h); s < scale {
		scale = s
	}
	newW := int(float32(w) * scale)
	newH := int(float32(h) * scale)

	scaled := resize.Resize(uint(newW), uint(newH), img, resize.Bilinear)

	canvas := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(canvas, canvas.Bounds(), &image.Uniform{C: color.RGBA{114, 114, 114, 255}}, image.Point{}, draw.Src)

	padX := (size - newW) / 2
	padY := (size - newH) / 2
	draw.Draw(canvas, image.Rect(padX, padY, padX+newW, padY+newH), scaled, scaled.Bounds().Min, draw.Src)

	return &letterboxed{
		img:   canvas,
		scale: scale,
		padX:  float32(padX),
		padY:  float32(padY),
	}
}

// Tensor converts the letterboxed image to a (1, 3, size, size) tensor with
// values scaled to [0, 1].
func (l *letterboxed) Tensor() *tensor.Dense {
	b := l.img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := tensor.New(1, 3, h, w)
	data := out.Data()
	plane := h * w
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			off := l.img.PixOffset(b.Min.X+x, b.Min.Y+y)
			data[y*w+x] = float32(l.img.Pix[off]) / 255.0
			data[plane+y*w+x] = float32(l.img.Pix[off+1]) / 255.0
			data[2*plane+y*w+x] = float32(l.img.Pix[off+2]) / 255.0
		}
	}
	return out
}

// DecodeDetections turns a raw YOLO head output into candidate detections
// above confThresh, in letterbox pixel space. Both the (1, 4+nc, N)
// channel-major layout of v8-style exports and the transposed (1, N, 4+nc)
// layout are accepted; boxes are center-size encoded.
func DecodeDetections(t *tensor.Dense, confThresh float32, names map[int]string) ([]Detection, error) {
	shape := t.Shape()
	if len(shape) != 3 || shape[0] != 1 {
		return nil, fmt.Errorf("unexpected detection output shape %v", shape)
	}

	rows, cols := shape[1], shape[2]
	data := t.Data()

	// In the channel-major layout the small axis (4 + class count) comes
	// first; anchors vastly outnumber attributes in any real export.
	channelMajor := rows < cols
	var anchors, attrs int
	if channelMajor {
		attrs, anchors = rows, cols
	} else {
		anchors, attrs = rows, cols
	}
	if attrs < 5 {
		return nil, fmt.Errorf("detection output carries %d attributes; need box plus at least one class", attrs)
	}
	nc := attrs - 4

	at := func(anchor, attr int) float32 {
		if channelMajor {
			return data[attr*anchors+anchor]
		}
		return data[anchor*attrs+attr]
	}

	var dets []Detection
	for a := 0; a < anchors; a++ {
		classID, best := 0, at(a, 4)
		for c := 1; c < nc; c++ {
			if v := at(a, 4+c); v > best {
				best = v
				classID = c
			}
		}
		if best < confThresh {
			continue
		}
		cx, cy := at(a, 0), at(a, 1)
		w, h := at(a, 2), at(a, 3)
		dets = append(dets, Detection{
			Box:        [4]float32{cx - w/2, cy - h/2, cx + w/2, cy + h/2},
			Confidence: best,
			ClassID:    classID,
			ClassName:  names[classID],
		})
	}
	return dets, nil
}

// NMS suppresses overlapping detections per class, keeping the most
// confident box of each cluster. Input order is not preserved; the result
// is sorted by descending confidence.
func NMS(dets []Detection, iouThresh float32) []Detection {
	sort.Slice(dets, func(i, j int) bool { return dets[i].Confidence > dets[j].Confidence })

	kept := make([]Detection, 0, len(dets))
	for _, d := range dets {
		suppressed := false
		for _, k := range kept {
			if k.ClassID == d.ClassID && iou(k.Box, d.Box) > iouThresh {
				suppressed = true
				break
			}
		}
		if !suppressed {
			kept = append(kept, d)
		}
	}
	return kept
}

func iou(a, b [4]float32) float32 {
	x1 := max32(a[0], b[0])
	y1 := max32(a[1], b[1])
	x2 := min32(a[2], b[2])
	y2 := min32(a[3], b[3])

	iw := x2 - x1
	ih := y2 - y1
	if iw <= 0 || ih <= 0 {
		return 0
	}
	inter := iw * ih
	areaA := (a[2] - a[0]) * (a[3] - a[1])
	areaB := (b[2] - b[0]) * (b[3] - b[1])
	union := areaA + areaB - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func max32(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}

func min32(a, b float32) float32 {
	if a < b {
		return a
	}
	return b
}

// RescaleBoxes maps letterbox-space boxes back into original image pixels,
// clamping to the image bounds.
func RescaleBoxes(dets []Detection, l *letterboxed, origW, origH int) {
	for i := range dets {
		b := &dets[i].Box
		b[0] = clamp((b[0]-l.padX)/l.scale, 0, float32(origW))
		b[1] = clamp((b[1]-l.padY)/l.scale, 0, float32(origH))
		b[2] = clamp((b[2]-l.padX)/l.scale, 0, float32(origW))
		b[3] = clamp((b[3]-l.padY)/l.scale, 0, float32(origH))
	}
}

func clamp(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Annotate draws detection boxes and class labels onto a copy of img.
func Annotate(img image.Image, dets []Detection) *image.RGBA {
	out := image.NewRGBA(img.Bounds())
	draw.Draw(out, out.Bounds(), img, img.Bounds().Min, draw.Src)

	boxColor := color.RGBA{R: 255, G: 64, B: 64, A: 255}
	for _, d := range dets {
		x1, y1 := int(d.Box[0]), int(d.Box[1])
		x2, y2 := int(d.Box[2]), int(d.Box[3])
		drawRect(out, x1, y1, x2, y2, boxColor)

		label := d.ClassName
		if label == "" {
			label = fmt.Sprintf("class %d", d.ClassID)
		}
		label = fmt.Sprintf("%s %.2f", label, d.Confidence)
		drawLabel(out, x1, y1-4, label, boxColor)
	}
	return out
}

func drawRect(img *image.RGBA, x1, y1, x2, y2 int, c color.RGBA) {
	for x := x1; x <= x2; x++ {
		img.SetRGBA(x, y1, c)
		img.SetRGBA(x, y2, c)
	}
	for y := y1; y <= y2; y++ {
		img.SetRGBA(x1, y, c)
		img.SetRGBA(x2, y, c)
	}
}

func drawLabel(img *image.RGBA, x, y int, text string, c color.RGBA) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(text)
}
