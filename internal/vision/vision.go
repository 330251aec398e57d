// Package vision holds the face/mask domain types and the pure-Go image
// stages of the detection pipeline: decode, crop, resize and tensor layout.
// Native detector and classifier backends live in sub-packages.
package vision

import (
	"context"
	"image"
)

// InputSize is the edge length of the square image the mask classifier expects.
const InputSize = 224

// Scores strictly above this value are labelled "No Mask".
const noMaskThreshold = 0.5

// FaceBox is a candidate face region in source-image pixel coordinates.
type FaceBox struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Rect returns the box as a rectangle relative to an image whose bounds start at origin.
func (b FaceBox) Rect(origin image.Point) image.Rectangle {
	return image.Rect(b.X, b.Y, b.X+b.W, b.Y+b.H).Add(origin)
}

// MaskLabel is the classifier verdict returned to callers.
type MaskLabel string

const (
	LabelMask   MaskLabel = "Mask"
	LabelNoMask MaskLabel = "No Mask"
)

// LabelFromScore maps a classifier score to a label.
func LabelFromScore(score float32) MaskLabel {
	if score > noMaskThreshold {
		return LabelNoMask
	}
	return LabelMask
}

// Locator finds frontal faces in an image. Results are returned in the
// detector's native order; an empty slice means no face was found.
type Locator interface {
	Locate(ctx context.Context, img image.Image) ([]FaceBox, error)
}

// Classifier scores an InputSize x InputSize image. Higher means "no mask".
type Classifier interface {
	Score(ctx context.Context, img image.Image) (float32, error)
}
