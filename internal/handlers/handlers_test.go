package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	apperrors "github.com/Brownie44l1/xray-api/internal/errors"
	"github.com/Brownie44l1/xray-api/internal/metrics"
	"github.com/Brownie44l1/xray-api/internal/model"
	"github.com/Brownie44l1/xray-api/internal/pipeline"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubModel struct {
	p   float32
	err error
}

func (s stubModel) Predict(t model.Tensor) (float32, error) {
	if err := model.CheckShape(t, model.DefaultInputShape); err != nil {
		return 0, err
	}
	return s.p, s.err
}
func (s stubModel) Backend() string     { return "stub" }
func (s stubModel) InputShape() []int64 { return model.DefaultInputShape }
func (s stubModel) Close() error        { return nil }

func newTestServer(t *testing.T, m stubModel, maxBody int64) http.Handler {
	t.Helper()
	met, err := metrics.New()
	require.NoError(t, err)

	classifier := pipeline.NewClassifier(m, pipeline.WithRecorder(met))
	h := NewHandler(classifier, ModelInfo{Backend: m.Backend(), InputShape: m.InputShape()})
	return NewRouter(h, RouterOptions{MaxRequestBodySize: maxBody, Metrics: met})
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = uint8(i % 251)
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func multipartBody(t *testing.T, field, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return &body, w.FormDataContentType()
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, stubModel{p: 0.2}, 10<<20)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "stub", body["backend"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestPredictFromImagePositive(t *testing.T) {
	srv := newTestServer(t, stubModel{p: 0.9}, 10<<20)
	body, ct := multipartBody(t, "image", "chest.png", pngBytes(t, 300, 400))

	req := httptest.NewRequest(http.MethodPost, "/predict/image", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res pipeline.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, pipeline.Positive, res.Label)
	assert.InDelta(t, 0.9, res.DisplayedProbability, 1e-6)
	assert.Equal(t, pipeline.AdvisoryPositive, res.Advisory)
	assert.NotEmpty(t, res.ID)

	metricsRec := httptest.NewRecorder()
	srv.ServeHTTP(metricsRec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, metricsRec.Code)
	assert.Contains(t, metricsRec.Body.String(), `xray_classifications_total{label="positive"} 1`)
}

func TestPredictFromImageDecodeError(t *testing.T) {
	srv := newTestServer(t, stubModel{p: 0.9}, 10<<20)
	body, ct := multipartBody(t, "image", "notes.txt", []byte("not an image at all"))

	req := httptest.NewRequest(http.MethodPost, "/predict/image", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "decode", resp.Kind)
	assert.Contains(t, resp.Message, "JPEG, PNG")
}

func TestPredictFromImageMissingField(t *testing.T) {
	srv := newTestServer(t, stubModel{p: 0.9}, 10<<20)
	body, ct := multipartBody(t, "file", "chest.png", pngBytes(t, 10, 10))

	req := httptest.NewRequest(http.MethodPost, "/predict/image", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "'image'")
}

func TestPredictFromImageTooLarge(t *testing.T) {
	srv := newTestServer(t, stubModel{p: 0.9}, 1024)
	body, ct := multipartBody(t, "image", "big.png", bytes.Repeat([]byte{0x89}, 8192))

	req := httptest.NewRequest(http.MethodPost, "/predict/image", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestPredictFromImageInferenceFailureIsGeneric(t *testing.T) {
	srv := newTestServer(t, stubModel{err: errors.New("cuda: device lost")}, 10<<20)
	body, ct := multipartBody(t, "image", "chest.png", pngBytes(t, 224, 224))

	req := httptest.NewRequest(http.MethodPost, "/predict/image", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, string(apperrors.KindInference), resp.Kind)
	assert.Equal(t, "prediction failed", resp.Message)
	assert.NotContains(t, rec.Body.String(), "cuda")
}

func TestPredictRawTensor(t *testing.T) {
	srv := newTestServer(t, stubModel{p: 0.1}, 10<<20)

	payload, err := json.Marshal(PredictionRequest{Image: make([]float32, 224*224*3)})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/predict", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res pipeline.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, pipeline.Negative, res.Label)
	assert.InDelta(t, 0.9, res.DisplayedProbability, 1e-6)
}

func TestPredictRawTensorWrongLength(t *testing.T) {
	srv := newTestServer(t, stubModel{p: 0.1}, 10<<20)

	req := httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(`{"image":[0.1,0.2,0.3]}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "expected 150528 values, got 3")
}

func TestPredictRawTensorInvalidJSON(t *testing.T) {
	srv := newTestServer(t, stubModel{p: 0.1}, 10<<20)

	req := httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(`{"image":`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIndexPage(t *testing.T) {
	srv := newTestServer(t, stubModel{p: 0.1}, 10<<20)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `name="image"`)
	assert.NotContains(t, rec.Body.String(), `class="result-box`)
}

func TestUploadRendersResultPanel(t *testing.T) {
	srv := newTestServer(t, stubModel{p: 0.87432}, 10<<20)
	body, ct := multipartBody(t, "image", "chest.png", pngBytes(t, 640, 480))

	req := httptest.NewRequest(http.MethodPost, "/", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	html := rec.Body.String()
	assert.Contains(t, html, `class="result-box positive"`)
	assert.Contains(t, html, "Tuberculosis detected")
	assert.Contains(t, html, "87.43%")
	assert.Contains(t, html, `<div style="width: 87.43%; background-color: #dc3545;"></div>`)
	assert.Contains(t, html, pipeline.AdvisoryPositive)
	assert.Contains(t, html, `<img class="xray" src="data:image/png;base64,`)
}

func TestUploadRendersNegativeBar(t *testing.T) {
	srv := newTestServer(t, stubModel{p: 0.2}, 10<<20)
	body, ct := multipartBody(t, "image", "chest.png", pngBytes(t, 224, 224))

	req := httptest.NewRequest(http.MethodPost, "/", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	html := rec.Body.String()
	assert.Contains(t, html, `class="result-box negative"`)
	assert.Contains(t, html, "Normal lungs")
	assert.Contains(t, html, `<div style="width: 80.00%; background-color: #28a745;"></div>`)
	assert.Contains(t, html, pipeline.AdvisoryNegative)
}

func TestUploadRendersReuploadPrompt(t *testing.T) {
	srv := newTestServer(t, stubModel{p: 0.3}, 10<<20)
	body, ct := multipartBody(t, "image", "scan.pdf", []byte("%PDF-1.7"))

	req := httptest.NewRequest(http.MethodPost, "/", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Please upload a JPEG or PNG chest X-ray.")
	assert.NotContains(t, rec.Body.String(), `class="result-box`)
}

func TestUploadTooLargeRendersPrompt(t *testing.T) {
	srv := newTestServer(t, stubModel{p: 0.3}, 1024)
	body, ct := multipartBody(t, "image", "big.png", bytes.Repeat([]byte{0x89}, 8192))

	req := httptest.NewRequest(http.MethodPost, "/", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Contains(t, rec.Body.String(), "This file is too large.")
}

func TestUserMessage(t *testing.T) {
	assert.Contains(t, userMessage(apperrors.NewDecodeError("bad", nil)), "JPEG or PNG")
	assert.Equal(t, "Please choose a chest X-ray image to upload.",
		userMessage(apperrors.NewValidationError("missing", nil)))
	assert.Equal(t, "The analysis failed. Please try again.",
		userMessage(apperrors.NewInferenceError("boom", nil)))
}

func TestImageDataURI(t *testing.T) {
	uri := string(imageDataURI(pngBytes(t, 4, 4)))
	assert.True(t, strings.HasPrefix(uri, "data:image/png;base64,"), uri)
	assert.Empty(t, imageDataURI([]byte("%PDF-1.7")))
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t, stubModel{p: 0.3}, 10<<20)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/predict/image", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestResultView(t *testing.T) {
	neg := NewResultView(pipeline.Result{Label: pipeline.Negative, DisplayedProbability: 0.9, Advisory: pipeline.AdvisoryNegative})
	assert.Equal(t, "Normal lungs", neg.Title)
	assert.Equal(t, "90.00%", neg.Percent)
	assert.Equal(t, colorNegative, neg.BarColor)
	assert.Equal(t, "negative", neg.BoxClass)

	pos := NewResultView(pipeline.Result{Label: pipeline.Positive, DisplayedProbability: 1})
	assert.Equal(t, "100.00%", pos.Percent)
	assert.Equal(t, colorPositive, pos.BarColor)
}

func TestFormatPercent(t *testing.T) {
	cases := map[float32]string{
		0:       "0.00%",
		0.5:     "50.00%",
		0.87432: "87.43%",
		0.99999: "100.00%",
		1:       "100.00%",
	}
	for in, want := range cases {
		assert.Equal(t, want, FormatPercent(in), "p=%v", in)
	}
}
