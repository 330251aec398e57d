package vision

import (
	"image"

	"github.com/disintegration/imaging"
)

// Crop cuts box out of img. Parts of the box outside the image are clipped;
// a box with no overlap at all is a DetectionError.
func Crop(img image.Image, box FaceBox) (image.Image, error) {
	bounds := img.Bounds()
	r := box.Rect(bounds.Min).Intersect(bounds)
	if box.W <= 0 || box.H <= 0 || r.Empty() {
		return nil, DetectionError(nil, "face box %+v lies outside the %dx%d image", box, bounds.Dx(), bounds.Dy())
	}
	return imaging.Crop(img, r), nil
}

// Resize scales img to InputSize x InputSize, ignoring aspect ratio.
func Resize(img image.Image) *image.NRGBA {
	return imaging.Resize(img, InputSize, InputSize, imaging.Linear)
}

// CheckInput verifies img has the classifier's input shape.
func CheckInput(img image.Image) error {
	b := img.Bounds()
	if b.Dx() != InputSize || b.Dy() != InputSize {
		return ShapeMismatchError("classifier expects %dx%dx3 input, got %dx%dx3", InputSize, InputSize, b.Dx(), b.Dy())
	}
	return nil
}

// BGRTensor lays img out as a (1, H, W, 3) float32 tensor in BGR channel
// order with raw 0-255 values.
func BGRTensor(img image.Image) []float32 {
	src := imaging.Clone(img)
	w, h := src.Rect.Dx(), src.Rect.Dy()
	out := make([]float32, 0, w*h*3)
	for y := 0; y < h; y++ {
		row := src.Pix[y*src.Stride : y*src.Stride+w*4]
		for x := 0; x < w*4; x += 4 {
			out = append(out, float32(row[x+2]), float32(row[x+1]), float32(row[x]))
		}
	}
	return out
}
