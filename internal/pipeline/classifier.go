// Package pipeline classifies chest X-ray uploads: preprocess, infer, threshold.
package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	apperrors "github.com/Brownie44l1/xray-api/internal/errors"
	"github.com/Brownie44l1/xray-api/internal/logger"
	"github.com/Brownie44l1/xray-api/internal/model"
	"github.com/Brownie44l1/xray-api/internal/preprocess"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
)

// Recorder receives pipeline outcomes, typically for metrics.
type Recorder interface {
	ObserveClassification(label Label, inference time.Duration)
	ObserveFailure(kind apperrors.Kind)
	// ObserveCacheHit reports an answer served from the result cache.
	ObserveCacheHit(label Label)
}

type nopRecorder struct{}

func (nopRecorder) ObserveClassification(Label, time.Duration) {}
func (nopRecorder) ObserveFailure(apperrors.Kind)              {}
func (nopRecorder) ObserveCacheHit(Label)                      {}

// Option configures a Classifier.
type Option func(*Classifier)

// WithCache keeps results for ttl keyed by the SHA-256 of the upload.
// A ttl <= 0 disables caching.
func WithCache(ttl time.Duration) Option {
	return func(c *Classifier) {
		if ttl > 0 {
			c.cache = cache.New(ttl, 2*ttl)
		}
	}
}

func WithRecorder(r Recorder) Option {
	return func(c *Classifier) {
		if r != nil {
			c.recorder = r
		}
	}
}

// Classifier is safe for concurrent use; it shares the read-only model.
type Classifier struct {
	predictor model.Predictor
	cache     *cache.Cache
	recorder  Recorder
}

func NewClassifier(predictor model.Predictor, opts ...Option) *Classifier {
	c := &Classifier{
		predictor: predictor,
		recorder:  nopRecorder{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify decodes raw image bytes and returns the diagnosis hint. Any error
// is an *errors.AppError of kind decode, shape_mismatch or inference.
func (c *Classifier) Classify(raw []byte) (Result, error) {
	var key string
	if c.cache != nil {
		sum := sha256.Sum256(raw)
		key = hex.EncodeToString(sum[:])
		if v, ok := c.cache.Get(key); ok {
			res := v.(Result)
			res.Cached = true
			c.recorder.ObserveCacheHit(res.Label)
			return res, nil
		}
	}

	tensor, err := preprocess.Image(raw)
	if err != nil {
		c.recorder.ObserveFailure(apperrors.KindOf(err))
		return Result{}, err
	}

	res, err := c.ClassifyTensor(tensor)
	if err != nil {
		return Result{}, err
	}

	if c.cache != nil {
		c.cache.Set(key, res, cache.DefaultExpiration)
	}
	return res, nil
}

// ClassifyTensor runs an already preprocessed tensor through the model.
func (c *Classifier) ClassifyTensor(tensor model.Tensor) (Result, error) {
	start := time.Now()
	p, err := c.predictor.Predict(tensor)
	elapsed := time.Since(start)
	if err != nil {
		if !apperrors.IsKind(err, apperrors.KindShapeMismatch) && !apperrors.IsKind(err, apperrors.KindInference) {
			err = apperrors.NewInferenceError("inference failed", err)
		}
		c.recorder.ObserveFailure(apperrors.KindOf(err))
		return Result{}, err
	}

	res := newResult(p)
	res.ID = uuid.NewString()
	res.InferenceMS = float64(elapsed.Microseconds()) / 1000.0

	c.recorder.ObserveClassification(res.Label, elapsed)
	logger.WithFields(logrus.Fields{
		"result_id":    res.ID,
		"label":        res.Label,
		"probability":  res.Probability,
		"inference_ms": res.InferenceMS,
	}).Debug("Classification complete")

	return res, nil
}
