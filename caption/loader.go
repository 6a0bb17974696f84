package caption

import (
	"context"
	"fmt"

	"github.com/krau/konacaption/config"
	"github.com/krau/konacaption/hub"
	"github.com/krau/konacaption/onnx"
	"github.com/krau/konacaption/service"
	"go.uber.org/zap"
)

// NewLoader returns a loader that fetches the model files, initializes
// onnxruntime and opens the model on device.
func NewLoader(cfg *config.Config, device string, logger *zap.Logger) service.Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return service.LoaderFunc(func(ctx context.Context) (*service.ModelHandle, error) {
		files, err := hub.Resolve(ctx, HubOptions(cfg), logger)
		if err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := onnx.Init(cfg.Libonnx, logger); err != nil {
			return nil, err
		}

		m, err := Load(ModelOptions{
			VisionPath:        files.Vision,
			DecoderPath:       files.Decoder,
			VocabPath:         files.Vocab,
			ConfigPath:        files.Config,
			PreprocessorPath:  files.Preprocessor,
			Device:            device,
			Threads:           cfg.IntraOpThreads,
			Temperature:       float32(cfg.Temperature),
			TopK:              cfg.TopK,
			NoRepeatNgramSize: cfg.NoRepeatNgramSize,
			MinCaptionLength:  cfg.MinCaptionLength,
			Seed:              cfg.Seed,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("opening model %s: %w", cfg.ModelID, err)
		}
		return &service.ModelHandle{
			Captioner: m,
			ModelID:   cfg.ModelID,
			Device:    m.Device(),
		}, nil
	})
}

func HubOptions(cfg *config.Config) hub.Options {
	return hub.Options{
		ModelID:     cfg.ModelID,
		CacheDir:    cfg.CacheDir,
		Token:       cfg.HFToken,
		VisionFile:  cfg.VisionModelFile,
		DecoderFile: cfg.DecoderModelFile,
	}
}
