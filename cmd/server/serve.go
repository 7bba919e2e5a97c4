package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Brownie44l1/xray-api/internal/config"
	"github.com/Brownie44l1/xray-api/internal/handlers"
	"github.com/Brownie44l1/xray-api/internal/logger"
	"github.com/Brownie44l1/xray-api/internal/metrics"
	"github.com/Brownie44l1/xray-api/internal/pipeline"
	"github.com/Brownie44l1/xray-api/internal/telemetry"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 30 * time.Second

func serveCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Long:  `Load the model once and serve the upload page and the prediction API.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := telemetry.Init(telemetry.Config{
		DSN:         cfg.Telemetry.SentryDSN,
		Environment: cfg.Telemetry.Environment,
		Release:     "xray-api@" + version,
	}); err != nil {
		logger.WithError(err).Warn("Error reporting disabled")
	}
	defer telemetry.Flush(2 * time.Second)

	predictor, err := loadModel(ctx, cfg)
	if err != nil {
		telemetry.CaptureError(err, map[string]string{"stage": "startup"})
		return err
	}
	defer func() {
		if err := predictor.Close(); err != nil {
			logger.WithError(err).Warn("Failed to release model")
		}
	}()

	opts := []pipeline.Option{}
	if cfg.Cache.Enabled {
		opts = append(opts, pipeline.WithCache(cfg.Cache.TTL))
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		if m, err = metrics.New(); err != nil {
			return err
		}
		m.SetModelLoaded(predictor.Backend())
		opts = append(opts, pipeline.WithRecorder(m))
	}

	classifier := pipeline.NewClassifier(predictor, opts...)
	h := handlers.NewHandler(classifier, handlers.ModelInfo{
		Backend:    predictor.Backend(),
		InputShape: predictor.InputShape(),
	})

	server := &http.Server{
		Addr: cfg.ServerAddress(),
		Handler: handlers.NewRouter(h, handlers.RouterOptions{
			MaxRequestBodySize: cfg.Server.MaxRequestBodySize,
			Metrics:            m,
		}),
		ReadTimeout:  cfg.Server.RequestTimeout,
		WriteTimeout: cfg.Server.RequestTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithFields(logrus.Fields{
			"address": cfg.ServerAddress(),
			"backend": predictor.Backend(),
			"cache":   cfg.Cache.Enabled,
			"metrics": cfg.Metrics.Enabled,
		}).Info("Starting HTTP server")

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-quit:
	}

	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}

	logger.Info("Server exited")
	return nil
}
