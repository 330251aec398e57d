// Package haar locates faces with an OpenCV Haar cascade through gocv.
package haar

import (
	"context"
	"fmt"
	"image"
	"os"
	"sync"

	"gocv.io/x/gocv"

	"github.com/example/maskdetect/internal/vision"
)

// DefaultCascade is the frontal-face cascade shipped with OpenCV.
const DefaultCascade = "haarcascade_frontalface_default.xml"

// Locator runs DetectMultiScale with OpenCV defaults over a grayscale copy
// of the input. The native classifier is not goroutine-safe, so calls are
// serialized.
type Locator struct {
	mu         sync.Mutex
	classifier gocv.CascadeClassifier
}

// New loads the cascade definition at path.
func New(path string) (*Locator, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("cascade file: %w", err)
	}
	classifier := gocv.NewCascadeClassifier()
	if !classifier.Load(path) {
		classifier.Close()
		return nil, fmt.Errorf("failed to load face cascade classifier %q", path)
	}
	return &Locator{classifier: classifier}, nil
}

// Locate implements vision.Locator.
func (l *Locator) Locate(ctx context.Context, img image.Image) ([]vision.FaceBox, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, vision.DetectionError(err, "convert image for cascade")
	}
	defer mat.Close()
	if mat.Empty() {
		return nil, vision.DetectionError(nil, "empty image matrix")
	}

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(mat, &gray, gocv.ColorBGRToGray)

	l.mu.Lock()
	rects := l.classifier.DetectMultiScale(gray)
	l.mu.Unlock()

	faces := make([]vision.FaceBox, 0, len(rects))
	for _, r := range rects {
		faces = append(faces, vision.FaceBox{X: r.Min.X, Y: r.Min.Y, W: r.Dx(), H: r.Dy()})
	}
	return faces, nil
}

// Close releases the native classifier.
func (l *Locator) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.classifier.Close()
}
