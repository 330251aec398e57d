// Package pigo locates faces with the pure-Go pigo cascade, for builds and
// hosts without OpenCV.
package pigo

import (
	"context"
	"fmt"
	"image"
	"os"

	cascade "github.com/esimov/pigo/core"

	"github.com/example/maskdetect/internal/vision"
)

// Params tunes the multi-scale scan.
type Params struct {
	MinSize      int
	MaxSize      int
	ShiftFactor  float64
	ScaleFactor  float64
	IoUThreshold float64
	MinQuality   float32
}

// DefaultParams mirrors the values used in pigo's own examples.
var DefaultParams = Params{
	MinSize:      20,
	MaxSize:      1000,
	ShiftFactor:  0.1,
	ScaleFactor:  1.1,
	IoUThreshold: 0.2,
	MinQuality:   5.0,
}

// Locator is safe for concurrent use: the unpacked cascade is read-only.
type Locator struct {
	classifier *cascade.Pigo
	params     Params
}

// New unpacks the binary cascade (e.g. "facefinder") at path.
func New(path string, params Params) (*Locator, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cascade file: %w", err)
	}
	classifier, err := cascade.NewPigo().Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("unpack cascade %q: %w", path, err)
	}
	return &Locator{classifier: classifier, params: params}, nil
}

// Locate implements vision.Locator.
func (l *Locator) Locate(ctx context.Context, img image.Image) ([]vision.FaceBox, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	cols, rows := bounds.Dx(), bounds.Dy()
	if cols == 0 || rows == 0 {
		return nil, vision.DetectionError(nil, "empty image")
	}

	maxSize := l.params.MaxSize
	if edge := min(cols, rows); maxSize <= 0 || maxSize > edge {
		maxSize = edge
	}

	cParams := cascade.CascadeParams{
		MinSize:     l.params.MinSize,
		MaxSize:     maxSize,
		ShiftFactor: l.params.ShiftFactor,
		ScaleFactor: l.params.ScaleFactor,
		ImageParams: cascade.ImageParams{
			Pixels: grayscale(img),
			Rows:   rows,
			Cols:   cols,
			Dim:    cols,
		},
	}

	dets := l.classifier.RunCascade(cParams, 0.0)
	dets = l.classifier.ClusterDetections(dets, l.params.IoUThreshold)
	return toFaceBoxes(dets, l.params.MinQuality, cols, rows), nil
}

// toFaceBoxes converts (row, col, scale) centred detections into top-left
// boxes clipped to the image, dropping those under minQuality.
func toFaceBoxes(dets []cascade.Detection, minQuality float32, cols, rows int) []vision.FaceBox {
	faces := make([]vision.FaceBox, 0, len(dets))
	for _, d := range dets {
		if d.Q < minQuality {
			continue
		}
		half := d.Scale / 2
		x0, y0 := max(d.Col-half, 0), max(d.Row-half, 0)
		x1, y1 := min(d.Col+half, cols), min(d.Row+half, rows)
		if x1 <= x0 || y1 <= y0 {
			continue
		}
		faces = append(faces, vision.FaceBox{X: x0, Y: y0, W: x1 - x0, H: y1 - y0})
	}
	return faces
}

// grayscale uses the same luma weights as OpenCV's BGR2GRAY.
func grayscale(img image.Image) []uint8 {
	b := img.Bounds()
	out := make([]uint8, 0, b.Dx()*b.Dy())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			lum := 0.299*float64(r>>8) + 0.587*float64(g>>8) + 0.114*float64(bl>>8)
			out = append(out, uint8(lum+0.5))
		}
	}
	return out
}
