package model

import (
	"fmt"
	"math"

	apperrors "github.com/Brownie44l1/xray-api/internal/errors"
)

const (
	// ImageSize is the fixed square input edge of the classifier.
	ImageSize = 224
	// Channels is the number of colour channels per pixel (RGB).
	Channels = 3
)

// DefaultInputShape is the NHWC shape the classifier expects: one 224x224 RGB image.
var DefaultInputShape = []int64{1, ImageSize, ImageSize, Channels}

// DefaultOutputShape is a single sigmoid probability.
var DefaultOutputShape = []int64{1, 1}

type Metadata struct {
	InputShape  []int64  `json:"input_shape" yaml:"input_shape"`
	OutputShape []int64  `json:"output_shape" yaml:"output_shape"`
	Classes     []string `json:"classes" yaml:"classes"`
	ImageSize   int      `json:"image_size" yaml:"image_size"`
	InputName   string   `json:"input_name" yaml:"input_name"`
	OutputName  string   `json:"output_name" yaml:"output_name"`
}

// DefaultMetadata describes the binary tuberculosis classifier when no
// sidecar file is shipped with the artifact.
func DefaultMetadata() Metadata {
	return Metadata{
		InputShape:  append([]int64(nil), DefaultInputShape...),
		OutputShape: append([]int64(nil), DefaultOutputShape...),
		Classes:     []string{"normal", "tuberculosis"},
		ImageSize:   ImageSize,
	}
}

// Tensor is a dense float32 array with an explicit shape. Data is row-major.
type Tensor struct {
	Shape []int64
	Data  []float32
}

// NumElements returns the product of the dimensions of shape.
func NumElements(shape []int64) int {
	if len(shape) == 0 {
		return 0
	}
	n := 1
	for _, d := range shape {
		n *= int(d)
	}
	return n
}

// CheckShape verifies that t matches want exactly, both in declared shape and
// in backing data length.
func CheckShape(t Tensor, want []int64) error {
	if !equalShape(t.Shape, want) {
		return apperrors.NewShapeMismatchError(
			fmt.Sprintf("tensor shape %v does not match model input %v", t.Shape, want), nil)
	}
	if len(t.Data) != NumElements(want) {
		return apperrors.NewShapeMismatchError(
			fmt.Sprintf("tensor has %d values, model input %v needs %d", len(t.Data), want, NumElements(want)), nil)
	}
	return nil
}

func equalShape(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// probability turns the first output value into a probability in [0,1].
func probability(output []float32) (float32, error) {
	if len(output) == 0 {
		return 0, apperrors.NewInferenceError("model produced no output", nil)
	}
	p := output[0]
	if math.IsNaN(float64(p)) || math.IsInf(float64(p), 0) {
		return 0, apperrors.NewInferenceError(fmt.Sprintf("model produced non-finite output %v", p), nil)
	}
	switch {
	case p < 0:
		p = 0
	case p > 1:
		p = 1
	}
	return p, nil
}
