package handlers

import (
	"embed"
	"html/template"
	"net/http"
	"time"

	"github.com/Brownie44l1/xray-api/internal/logger"
	"github.com/Brownie44l1/xray-api/internal/metrics"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

//go:embed templates/*.html
var templatesFS embed.FS

const requestIDKey = "request_id"

type RouterOptions struct {
	MaxRequestBodySize int64
	// Metrics is optional; nil disables /metrics and request timing.
	Metrics *metrics.Metrics
}

func NewRouter(h *Handler, opts RouterOptions) http.Handler {
	r := gin.New()
	r.Use(
		gin.Recovery(),
		requestIDMiddleware(),
		requestLogger(opts.Metrics),
		enableCORS(),
		requestSizeLimiter(opts.MaxRequestBodySize),
	)

	r.SetHTMLTemplate(template.Must(template.New("").ParseFS(templatesFS, "templates/*.html")))
	// Multipart parts stay in memory up to the body limit.
	r.MaxMultipartMemory = opts.MaxRequestBodySize

	r.GET("/", h.Index)
	r.POST("/", h.Upload)
	r.GET("/health", h.Health)
	r.POST("/predict", h.Predict)
	r.POST("/predict/image", h.PredictFromImage)

	if opts.Metrics != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Metrics.Registry(), promhttp.HandlerOpts{})))
	}

	return r
}

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

func requestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

func requestLogger(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		duration := time.Since(start)

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		if m != nil {
			m.ObserveRequest(route, status, duration)
		}

		logger.WithFields(logrus.Fields{
			"request_id":         requestID(c),
			"method":             c.Request.Method,
			"path":               c.Request.URL.Path,
			"status":             status,
			"processing_time_ms": duration.Milliseconds(),
			"ip":                 c.ClientIP(),
			"user_agent":         c.Request.UserAgent(),
		}).Info("Request handled")
	}
}

func enableCORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}
		c.Next()
	}
}

func requestSizeLimiter(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if maxBytes > 0 {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		}
		c.Next()
	}
}
