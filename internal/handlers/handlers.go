package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	apperrors "github.com/Brownie44l1/xray-api/internal/errors"
	"github.com/Brownie44l1/xray-api/internal/logger"
	"github.com/Brownie44l1/xray-api/internal/model"
	"github.com/Brownie44l1/xray-api/internal/pipeline"
	"github.com/Brownie44l1/xray-api/internal/telemetry"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Classifier is the part of the pipeline the handlers depend on.
type Classifier interface {
	Classify(raw []byte) (pipeline.Result, error)
	ClassifyTensor(t model.Tensor) (pipeline.Result, error)
}

// ModelInfo describes the loaded model for the health endpoint.
type ModelInfo struct {
	Backend    string  `json:"backend"`
	InputShape []int64 `json:"input_shape"`
}

type Handler struct {
	classifier Classifier
	info       ModelInfo
}

func NewHandler(classifier Classifier, info ModelInfo) *Handler {
	return &Handler{
		classifier: classifier,
		info:       info,
	}
}

// PredictionRequest carries a preprocessed 1x224x224x3 tensor, flattened NHWC.
type PredictionRequest struct {
	Image []float32 `json:"image"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Kind    string `json:"kind"`
	Message string `json:"message,omitempty"`
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "healthy",
		"backend":     h.info.Backend,
		"input_shape": h.info.InputShape,
		"time":        time.Now().UTC().Format(time.RFC3339),
	})
}

// Predict classifies a raw tensor posted as JSON.
func (h *Handler) Predict(c *gin.Context) {
	var req PredictionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.NewValidationError("invalid JSON", err))
		return
	}

	expectedSize := model.NumElements(model.DefaultInputShape)
	if len(req.Image) != expectedSize {
		respondError(c, apperrors.NewValidationError(
			fmt.Sprintf("expected %d values, got %d", expectedSize, len(req.Image)), nil))
		return
	}

	result, err := h.classifier.ClassifyTensor(model.Tensor{
		Shape: append([]int64(nil), model.DefaultInputShape...),
		Data:  req.Image,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// PredictFromImage classifies a multipart upload sent in the "image" field.
func (h *Handler) PredictFromImage(c *gin.Context) {
	raw, err := readUpload(c)
	if err != nil {
		respondError(c, err)
		return
	}

	result, err := h.classifier.Classify(raw)
	if err != nil {
		respondError(c, err)
		return
	}

	logger.WithFields(logrus.Fields{
		"request_id":  requestID(c),
		"result_id":   result.ID,
		"label":       result.Label,
		"probability": result.Probability,
		"cached":      result.Cached,
	}).Info("Image classified")

	c.JSON(http.StatusOK, result)
}

// Index renders the upload page.
func (h *Handler) Index(c *gin.Context) {
	c.HTML(http.StatusOK, "index.html", pageData{})
}

// Upload classifies a browser form upload and renders the result panel.
func (h *Handler) Upload(c *gin.Context) {
	raw, err := readUpload(c)
	if err != nil {
		logFailure(c, err)
		c.HTML(apperrors.StatusCode(err), "index.html", pageData{Error: userMessage(err)})
		return
	}

	result, err := h.classifier.Classify(raw)
	if err != nil {
		logFailure(c, err)
		c.HTML(apperrors.StatusCode(err), "index.html", pageData{Error: userMessage(err)})
		return
	}

	view := NewResultView(result)
	view.Image = imageDataURI(raw)
	c.HTML(http.StatusOK, "index.html", pageData{Result: &view})
}

func readUpload(c *gin.Context) ([]byte, error) {
	fileHeader, err := c.FormFile("image")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, &apperrors.AppError{
				Kind:       apperrors.KindValidation,
				Message:    fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit),
				StatusCode: http.StatusRequestEntityTooLarge,
				Cause:      err,
			}
		}
		return nil, apperrors.NewValidationError("no image file provided. Use 'image' as the form field name", err)
	}

	file, err := fileHeader.Open()
	if err != nil {
		return nil, apperrors.NewValidationError("failed to open upload", err)
	}
	defer file.Close()

	raw, err := io.ReadAll(file)
	if err != nil {
		return nil, apperrors.NewValidationError("failed to read upload", err)
	}

	logger.WithFields(logrus.Fields{
		"request_id": requestID(c),
		"filename":   fileHeader.Filename,
		"size":       fileHeader.Size,
	}).Debug("Received file")

	return raw, nil
}

// userMessage maps an error to the text shown on the upload page.
func userMessage(err error) string {
	switch {
	case errors.Is(err, apperrors.ErrDecode):
		return "This file could not be read as an image. Please upload a JPEG or PNG chest X-ray."
	case errors.Is(err, apperrors.ErrValidation):
		if apperrors.StatusCode(err) == http.StatusRequestEntityTooLarge {
			return "This file is too large. Please upload a smaller image."
		}
		return "Please choose a chest X-ray image to upload."
	default:
		return "The analysis failed. Please try again."
	}
}

func logFailure(c *gin.Context, err error) {
	kind := apperrors.KindOf(err)
	entry := logger.WithError(err).WithFields(logrus.Fields{
		"request_id":  requestID(c),
		"kind":        kind,
		"status_code": apperrors.StatusCode(err),
		"path":        c.Request.URL.Path,
		"method":      c.Request.Method,
		"ip":          c.ClientIP(),
	})
	if kind.Internal() {
		entry.Error("Request failed")
		telemetry.CaptureError(err, map[string]string{
			"route":      c.FullPath(),
			"request_id": requestID(c),
		})
		return
	}
	entry.Warn("Request rejected")
}

func respondError(c *gin.Context, err error) {
	logFailure(c, err)

	code := apperrors.StatusCode(err)
	message := err.Error()
	// Internal failures are not described to the caller.
	if apperrors.KindOf(err).Internal() {
		message = "prediction failed"
	} else {
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			message = appErr.Message
		}
	}

	c.AbortWithStatusJSON(code, ErrorResponse{
		Error:   http.StatusText(code),
		Kind:    string(apperrors.KindOf(err)),
		Message: message,
	})
}
