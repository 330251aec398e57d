// Package dnn scores mask/no-mask with an ONNX model run by OpenCV's DNN module.
package dnn

import (
	"context"
	"encoding/binary"
	"fmt"
	"image"
	"math"
	"sync"

	"gocv.io/x/gocv"

	"github.com/example/maskdetect/internal/vision"
)

// Classifier feeds a (1, 224, 224, 3) BGR float tensor to the network and
// reads the first output scalar. gocv.Net is not goroutine-safe, so
// inference is serialized.
type Classifier struct {
	mu  sync.Mutex
	net gocv.Net
}

// New loads the ONNX model at path.
func New(path string) (*Classifier, error) {
	net := gocv.ReadNetFromONNX(path)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load classifier model %q", path)
	}
	return &Classifier{net: net}, nil
}

// Score implements vision.Classifier.
func (c *Classifier) Score(ctx context.Context, img image.Image) (float32, error) {
	if err := vision.CheckInput(img); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	blob, err := gocv.NewMatWithSizesFromBytes(
		[]int{1, vision.InputSize, vision.InputSize, 3},
		gocv.MatTypeCV32F,
		float32Bytes(vision.BGRTensor(img)),
	)
	if err != nil {
		return 0, vision.InferenceError(err, "build input tensor")
	}
	defer blob.Close()

	c.mu.Lock()
	c.net.SetInput(blob, "")
	out := c.net.Forward("")
	c.mu.Unlock()
	defer out.Close()

	if out.Empty() || out.Total() < 1 {
		return 0, vision.InferenceError(nil, "classifier produced no output")
	}
	return out.GetFloatAt(0, 0), nil
}

// Close releases the native network.
func (c *Classifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.net.Close()
}

func float32Bytes(values []float32) []byte {
	buf := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}
