package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/krau/konacaption/caption"
	"github.com/krau/konacaption/onnx"
	"github.com/krau/konacaption/server"
	"github.com/krau/konacaption/service"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "listen host (overrides config)")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "listen port (overrides config)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	if serveHost != "" {
		cfg.Host = serveHost
	}
	if servePort != 0 {
		cfg.Port = servePort
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	device := onnx.SelectDevice(cfg.Device)
	if gpu := onnx.DetectCUDA(); device == onnx.DeviceCUDA && gpu.Available {
		logger.Info("GPU detected",
			zap.String("name", gpu.DeviceName),
			zap.String("driver", gpu.DriverVer))
	}
	logger.Info("Starting KonaCaption",
		zap.String("version", server.Version),
		zap.String("model", cfg.ModelID),
		zap.String("device", device),
		zap.String("environment", cfg.Environment))

	manager := service.NewManager(cfg.ModelID, device, caption.NewLoader(cfg, device, logger), logger)
	exec := service.NewExecutor(cfg.Workers, cfg.GenerationConcurrency, cfg.InferenceTimeout, logger)
	analyzer := service.NewAnalyzer(
		manager,
		exec,
		service.NewPreprocessor(cfg.MaxImageWidth, cfg.MaxImageHeight, cfg.MaxSourcePixels),
		service.AnalyzerOptions{
			MaxTags:             cfg.MaxTags,
			ConfidenceThreshold: cfg.ConfidenceThreshold,
			MaxLength:           cfg.MaxLength,
		},
		logger,
	)

	if cfg.Preload && !cfg.Debug {
		go func() {
			if err := manager.Preload(ctx); err != nil {
				logger.Warn("Model preload failed, will retry on first request", zap.Error(err))
			}
		}()
	}

	srv := server.New(cfg, analyzer, logger)
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutting down")
	case err = <-errCh:
		if err != nil {
			logger.Error("Server error", zap.Error(err))
		}
	}

	if stopErr := srv.Stop(context.Background()); stopErr != nil {
		logger.Warn("Server shutdown incomplete", zap.Error(stopErr))
	}
	exec.Stop()
	if closeErr := manager.Close(); closeErr != nil {
		logger.Warn("Failed to release model", zap.Error(closeErr))
	}
	if destroyErr := onnx.Destroy(); destroyErr != nil {
		logger.Warn("Failed to destroy onnxruntime environment", zap.Error(destroyErr))
	}
	return err
}
