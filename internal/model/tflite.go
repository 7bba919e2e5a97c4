package model

import (
	"fmt"
	"runtime"
	"sync"

	apperrors "github.com/Brownie44l1/xray-api/internal/errors"
	"github.com/Brownie44l1/xray-api/internal/logger"

	"github.com/sirupsen/logrus"
	tflite "github.com/tphakala/go-tflite"
)

const BackendTFLite = "tflite"

// tfliteHost runs the classifier through a TensorFlow Lite interpreter.
// The interpreter owns its tensors, so Invoke calls are serialized.
type tfliteHost struct {
	mu          sync.Mutex
	model       *tflite.Model
	options     *tflite.InterpreterOptions
	interpreter *tflite.Interpreter
	meta        Metadata
}

func newTFLiteHost(data []byte, meta Metadata, threads int) (*tfliteHost, error) {
	m := tflite.NewModel(data)
	if m == nil {
		return nil, fmt.Errorf("cannot load TensorFlow Lite model")
	}

	if threads <= 0 {
		threads = runtime.NumCPU()
	}

	options := tflite.NewInterpreterOptions()
	options.SetNumThread(threads)
	options.SetErrorReporter(func(msg string, _ any) {
		logger.WithField("message", msg).Error("TFLite error")
	}, nil)

	interpreter := tflite.NewInterpreter(m, options)
	if interpreter == nil {
		options.Delete()
		m.Delete()
		return nil, fmt.Errorf("cannot create interpreter")
	}
	if status := interpreter.AllocateTensors(); status != tflite.OK {
		interpreter.Delete()
		options.Delete()
		m.Delete()
		return nil, fmt.Errorf("tensor allocation failed")
	}

	h := &tfliteHost{
		model:       m,
		options:     options,
		interpreter: interpreter,
		meta:        meta,
	}
	if err := h.verifyInput(); err != nil {
		h.Close()
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"backend": BackendTFLite,
		"threads": threads,
		"shape":   meta.InputShape,
	}).Info("TFLite interpreter ready")

	return h, nil
}

// verifyInput compares the interpreter's input tensor with the expected shape.
func (h *tfliteHost) verifyInput() error {
	input := h.interpreter.GetInputTensor(0)
	if input == nil {
		return fmt.Errorf("cannot get input tensor")
	}
	if input.Type() != tflite.Float32 {
		return fmt.Errorf("unsupported input type %v, want float32", input.Type())
	}
	shape := make([]int64, input.NumDims())
	for i := range shape {
		shape[i] = int64(input.Dim(i))
	}
	if !equalShape(shape, h.meta.InputShape) {
		return fmt.Errorf("model input shape %v does not match %v", shape, h.meta.InputShape)
	}
	return nil
}

func (h *tfliteHost) Predict(t Tensor) (float32, error) {
	if err := CheckShape(t, h.meta.InputShape); err != nil {
		return 0, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	input := h.interpreter.GetInputTensor(0)
	if input == nil {
		return 0, apperrors.NewInferenceError("cannot get input tensor", nil)
	}
	copy(input.Float32s(), t.Data)

	if status := h.interpreter.Invoke(); status != tflite.OK {
		return 0, apperrors.NewInferenceError(fmt.Sprintf("tensor invoke failed: %v", status), nil)
	}

	output := h.interpreter.GetOutputTensor(0)
	if output == nil {
		return 0, apperrors.NewInferenceError("cannot get output tensor", nil)
	}
	return probability(output.Float32s())
}

func (h *tfliteHost) Backend() string { return BackendTFLite }

func (h *tfliteHost) InputShape() []int64 {
	return append([]int64(nil), h.meta.InputShape...)
}

func (h *tfliteHost) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.interpreter != nil {
		h.interpreter.Delete()
		h.interpreter = nil
	}
	if h.options != nil {
		h.options.Delete()
		h.options = nil
	}
	if h.model != nil {
		h.model.Delete()
		h.model = nil
	}
	return nil
}
