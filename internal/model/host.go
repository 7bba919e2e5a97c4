package model

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	apperrors "github.com/Brownie44l1/xray-api/internal/errors"
	"github.com/Brownie44l1/xray-api/internal/logger"

	"github.com/sirupsen/logrus"
)

// Predictor is a loaded binary classifier. Predict returns P(positive) in [0,1].
// Implementations are safe for concurrent use.
type Predictor interface {
	Predict(t Tensor) (float32, error)
	Backend() string
	InputShape() []int64
	Close() error
}

// Options locate the model artifact and pick the runtime that executes it.
type Options struct {
	// Backend is "onnx" or "tflite". Empty infers it from the artifact extension.
	Backend      string
	Path         string
	MetadataPath string
	// LibraryPath points at the onnxruntime shared library.
	LibraryPath string
	// Threads is the TFLite interpreter thread count; <= 0 uses all CPUs.
	Threads int
	// Source defaults to the local filesystem.
	Source ArtifactSource
}

// Open fetches the artifact and builds a Predictor for it. Every failure is
// reported as a model load error.
func Open(ctx context.Context, opts Options) (Predictor, error) {
	start := time.Now()

	src := opts.Source
	if src == nil {
		src = FileSource{}
	}
	if strings.TrimSpace(opts.Path) == "" {
		return nil, apperrors.NewModelLoadError("model path is empty", nil)
	}

	backend, err := resolveBackend(opts.Backend, opts.Path)
	if err != nil {
		return nil, apperrors.NewModelLoadError("unsupported model backend", err)
	}

	meta := DefaultMetadata()
	if opts.MetadataPath != "" {
		raw, err := src.Fetch(ctx, opts.MetadataPath)
		if err != nil {
			return nil, apperrors.NewModelLoadError("failed to read metadata", err)
		}
		if meta, err = ParseMetadata(opts.MetadataPath, raw); err != nil {
			return nil, apperrors.NewModelLoadError("invalid metadata", err)
		}
	}

	logger.WithFields(logrus.Fields{
		"artifact": src.Describe(opts.Path),
		"backend":  backend,
	}).Info("Loading model")

	data, err := src.Fetch(ctx, opts.Path)
	if err != nil {
		return nil, apperrors.NewModelLoadError("model artifact unavailable", err)
	}

	var p Predictor
	switch backend {
	case BackendONNX:
		p, err = newONNXHost(data, meta, opts.LibraryPath)
	case BackendTFLite:
		p, err = newTFLiteHost(data, meta, opts.Threads)
	}
	if err != nil {
		return nil, apperrors.NewModelLoadError("failed to initialize model", err)
	}

	logger.WithFields(logrus.Fields{
		"backend":      backend,
		"size_bytes":   len(data),
		"load_time_ms": time.Since(start).Milliseconds(),
		"classes":      meta.Classes,
	}).Info("Model loaded")

	return p, nil
}

func resolveBackend(backend, path string) (string, error) {
	b := strings.ToLower(strings.TrimSpace(backend))
	if b == "" {
		switch strings.ToLower(filepath.Ext(path)) {
		case ".onnx":
			return BackendONNX, nil
		case ".tflite":
			return BackendTFLite, nil
		default:
			return "", fmt.Errorf("cannot infer backend from %q", path)
		}
	}
	switch b {
	case BackendONNX, BackendTFLite:
		return b, nil
	}
	return "", fmt.Errorf("unknown backend %q", backend)
}

// Loader opens a model at most once and hands every caller the same result,
// including a load failure.
type Loader struct {
	open func() (Predictor, error)

	once      sync.Once
	predictor Predictor
	err       error
}

func NewLoader(open func() (Predictor, error)) *Loader {
	return &Loader{open: open}
}

func (l *Loader) Load() (Predictor, error) {
	l.once.Do(func() {
		l.predictor, l.err = l.open()
	})
	return l.predictor, l.err
}

var (
	processOnce   sync.Once
	processLoader *Loader
)

// Load returns the process-wide model. The options of the first call win;
// later calls get the cached host or the cached load error.
func Load(ctx context.Context, opts Options) (Predictor, error) {
	processOnce.Do(func() {
		processLoader = NewLoader(func() (Predictor, error) {
			return Open(ctx, opts)
		})
	})
	return processLoader.Load()
}
