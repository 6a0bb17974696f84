package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

type AnalyzerOptions struct {
	MaxTags             int
	ConfidenceThreshold float64
	MaxLength           int
}

// Analyzer runs the full pipeline for one image: ensure the model,
// normalize, caption and rank.
type Analyzer struct {
	manager *Manager
	exec    *Executor
	pre     *Preprocessor
	opts    AnalyzerOptions
	logger  *zap.Logger
}

func NewAnalyzer(manager *Manager, exec *Executor, pre *Preprocessor, opts AnalyzerOptions, logger *zap.Logger) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyzer{
		manager: manager,
		exec:    exec,
		pre:     pre,
		opts:    opts,
		logger:  logger.Named("analyzer"),
	}
}

// Analyze produces between one and MaxTags tags for raw. Failures are
// returned as *InferenceError.
func (a *Analyzer) Analyze(ctx context.Context, raw []byte, filename string) (*AnalysisResult, error) {
	start := time.Now()

	result, err := a.analyze(ctx, raw)
	elapsed := time.Since(start)
	analyzeDuration.Observe(elapsed.Seconds())
	if err != nil {
		kind := KindOf(err)
		analyzeOps.WithLabelValues(string(kind)).Inc()
		a.logger.Warn("Image analysis failed",
			zap.String("filename", filename),
			zap.String("kind", string(kind)),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		return nil, &InferenceError{Err: err, Elapsed: elapsed}
	}

	result.ProcessingTime = elapsed
	analyzeOps.WithLabelValues("success").Inc()
	tagsReturned.Observe(float64(len(result.Tags)))
	a.logger.Info("Image analyzed",
		zap.String("filename", filename),
		zap.Int("width", result.Dimensions.Width),
		zap.Int("height", result.Dimensions.Height),
		zap.Int("tags", len(result.Tags)),
		zap.Duration("elapsed", elapsed))
	return result, nil
}

func (a *Analyzer) analyze(ctx context.Context, raw []byte) (*AnalysisResult, error) {
	handle, err := a.manager.EnsureLoaded(ctx)
	if err != nil {
		return nil, err
	}

	budget := Budget{MaxSequences: a.opts.MaxTags, MaxLength: a.opts.MaxLength}

	type output struct {
		img      *NormalizedImage
		captions []string
	}
	out, err := Submit(ctx, a.exec, func(ctx context.Context) (output, error) {
		img, err := a.pre.Normalize(raw)
		if err != nil {
			return output{}, err
		}
		var captions []string
		err = a.exec.Exclusive(ctx, func() error {
			var gerr error
			captions, gerr = handle.Captioner.Generate(ctx, img, budget)
			return gerr
		})
		if err != nil {
			var ge *GenerationError
			if !errors.As(err, &ge) {
				err = &GenerationError{Err: err}
			}
			return output{}, err
		}
		return output{img: img, captions: captions}, nil
	})
	if err != nil {
		return nil, err
	}
	img, captions := out.img, out.captions

	tags := Rank(captions, a.opts.MaxTags, a.opts.ConfidenceThreshold)
	if len(tags) == 0 {
		a.logger.Debug("No usable captions, using fallback tag", zap.Int("raw", len(captions)))
		tags = []Tag{FallbackTag(a.opts.ConfidenceThreshold)}
	}

	return &AnalysisResult{
		Tags:       tags,
		Dimensions: Dimensions{Width: img.Width, Height: img.Height},
		Device:     handle.Device,
		ModelID:    handle.ModelID,
	}, nil
}

func (a *Analyzer) Manager() *Manager {
	return a.manager
}

func (a *Analyzer) QueuedJobs() int {
	return a.exec.WaitingQueueSize()
}
