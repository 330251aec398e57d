package vision

import (
	"errors"
	"fmt"
)

// Failure kinds. Match with errors.Is.
var (
	ErrDecode        = errors.New("decode error")
	ErrDetection     = errors.New("detection error")
	ErrShapeMismatch = errors.New("shape mismatch error")
	ErrInference     = errors.New("inference error")
)

// Error is a pipeline failure of a given kind.
type Error struct {
	Kind error
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == e.Kind }

func newError(kind error, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// DecodeError reports a missing, empty, oversized or undecodable upload.
func DecodeError(err error, format string, args ...any) error {
	return newError(ErrDecode, err, format, args...)
}

// DetectionError reports a face locator failure or an unusable face box.
func DetectionError(err error, format string, args ...any) error {
	return newError(ErrDetection, err, format, args...)
}

// ShapeMismatchError reports classifier input of the wrong dimensions.
func ShapeMismatchError(format string, args ...any) error {
	return newError(ErrShapeMismatch, nil, format, args...)
}

// InferenceError reports a classifier backend failure.
func InferenceError(err error, format string, args ...any) error {
	return newError(ErrInference, err, format, args...)
}

// Message returns the text shown to API clients for err: the first
// vision.Error in its chain if there is one, else err itself.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var vErr *Error
	if errors.As(err, &vErr) {
		return vErr.Error()
	}
	return err.Error()
}
