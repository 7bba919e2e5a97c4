package model

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	apperrors "github.com/Brownie44l1/xray-api/internal/errors"
	"github.com/Brownie44l1/xray-api/internal/logger"

	"github.com/sirupsen/logrus"
	ort "github.com/yalue/onnxruntime_go"
)

const BackendONNX = "onnx"

// onnxHost runs the classifier through onnxruntime. The session is bound to
// pre-allocated tensors, so Run calls are serialized.
type onnxHost struct {
	mu           sync.Mutex
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	meta         Metadata
}

func newONNXHost(data []byte, meta Metadata, libraryPath string) (*onnxHost, error) {
	if lib := resolveSharedLibraryPath(libraryPath); lib != "" {
		ort.SetSharedLibraryPath(lib)
	} else {
		return nil, fmt.Errorf("onnxruntime shared library not found; set model.library_path or ONNXRUNTIME_SHARED_LIBRARY_PATH")
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
		}
	}

	inputName, outputName, err := ioNames(data, meta)
	if err != nil {
		return nil, err
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(meta.InputShape...))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(meta.OutputShape...))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSessionWithONNXData(data,
		[]string{inputName}, []string{outputName},
		[]ort.Value{inputTensor}, []ort.Value{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"backend": BackendONNX,
		"input":   inputName,
		"output":  outputName,
		"shape":   meta.InputShape,
	}).Info("ONNX session ready")

	return &onnxHost{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
		meta:         meta,
	}, nil
}

// ioNames takes tensor names from the metadata and falls back to the first
// input and output declared by the model graph.
func ioNames(data []byte, meta Metadata) (string, string, error) {
	if meta.InputName != "" && meta.OutputName != "" {
		return meta.InputName, meta.OutputName, nil
	}

	inputs, outputs, err := ort.GetInputOutputInfoWithONNXData(data)
	if err != nil {
		return "", "", fmt.Errorf("failed to inspect model inputs: %w", err)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return "", "", fmt.Errorf("model declares %d inputs and %d outputs", len(inputs), len(outputs))
	}

	inputName, outputName := meta.InputName, meta.OutputName
	if inputName == "" {
		inputName = inputs[0].Name
	}
	if outputName == "" {
		outputName = outputs[0].Name
	}
	return inputName, outputName, nil
}

func (h *onnxHost) Predict(t Tensor) (float32, error) {
	if err := CheckShape(t, h.meta.InputShape); err != nil {
		return 0, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	copy(h.inputTensor.GetData(), t.Data)

	if err := h.session.Run(); err != nil {
		return 0, apperrors.NewInferenceError("inference failed", err)
	}

	return probability(h.outputTensor.GetData())
}

func (h *onnxHost) Backend() string { return BackendONNX }

func (h *onnxHost) InputShape() []int64 {
	return append([]int64(nil), h.meta.InputShape...)
}

func (h *onnxHost) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.inputTensor != nil {
		h.inputTensor.Destroy()
		h.inputTensor = nil
	}
	if h.outputTensor != nil {
		h.outputTensor.Destroy()
		h.outputTensor = nil
	}
	if h.session != nil {
		h.session.Destroy()
		h.session = nil
	}
	return ort.DestroyEnvironment()
}

// resolveSharedLibraryPath locates the onnxruntime shared library. An explicit
// path wins, then ONNXRUNTIME_SHARED_LIBRARY_PATH, then common install locations.
func resolveSharedLibraryPath(explicit string) string {
	if p := strings.TrimSpace(explicit); p != "" {
		return p
	}
	if env := strings.TrimSpace(os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH")); env != "" {
		return env
	}

	names := []string{
		"libonnxruntime.so",
		"libonnxruntime.dylib",
		"onnxruntime.dll",
	}
	dirs := []string{
		".",
		"lib",
		"models",
		"/opt/homebrew/lib",
		"/usr/local/lib",
		"/usr/lib",
	}
	for _, dir := range dirs {
		for _, name := range names {
			candidate := filepath.Join(dir, name)
			if _, err := os.Stat(candidate); err == nil {
				return candidate
			}
		}
	}
	return ""
}
