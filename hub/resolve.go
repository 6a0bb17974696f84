package hub

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	hfhub "github.com/gomlx/go-huggingface/hub"
	"go.uber.org/zap"
)

const (
	ConfigFile       = "config.json"
	PreprocessorFile = "preprocessor_config.json"
	VocabFile        = "vocab.txt"
)

type Options struct {
	ModelID     string
	CacheDir    string
	Token       string
	VisionFile  string
	DecoderFile string
}

// Files holds local paths of everything needed to run the captioning
// model. Config and Preprocessor may be empty when the repository does not
// ship them.
type Files struct {
	Config       string
	Preprocessor string
	Vocab        string
	Vision       string
	Decoder      string
}

// Resolve returns local model files. A ModelID naming an existing directory
// is used as is; anything else is treated as a Hugging Face repository and
// downloaded into CacheDir.
func Resolve(ctx context.Context, opts Options, logger *zap.Logger) (*Files, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ModelID == "" {
		return nil, errors.New("model id is empty")
	}
	if fi, err := os.Stat(opts.ModelID); err == nil && fi.IsDir() {
		return resolveLocal(opts)
	}
	return download(ctx, opts, logger)
}

func resolveLocal(opts Options) (*Files, error) {
	dir := opts.ModelID
	files := &Files{
		Vocab:   filepath.Join(dir, VocabFile),
		Vision:  filepath.Join(dir, opts.VisionFile),
		Decoder: filepath.Join(dir, opts.DecoderFile),
	}
	for _, p := range []string{files.Vocab, files.Vision, files.Decoder} {
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("model directory %s: %w", dir, err)
		}
	}
	if p := filepath.Join(dir, ConfigFile); exists(p) {
		files.Config = p
	}
	if p := filepath.Join(dir, PreprocessorFile); exists(p) {
		files.Preprocessor = p
	}
	return files, nil
}

func download(ctx context.Context, opts Options, logger *zap.Logger) (*Files, error) {
	repo := hfhub.New(opts.ModelID)
	if opts.Token != "" {
		repo = repo.WithAuth(opts.Token)
	}
	if opts.CacheDir != "" {
		if err := os.MkdirAll(opts.CacheDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create cache dir: %w", err)
		}
		repo = repo.WithCacheDir(opts.CacheDir)
	}

	fetch := func(name string) (string, error) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		logger.Debug("Fetching model file", zap.String("model", opts.ModelID), zap.String("file", name))
		p, err := repo.DownloadFile(name)
		if err != nil {
			return "", fmt.Errorf("failed to download %s from %s: %w", name, opts.ModelID, err)
		}
		return p, nil
	}

	files := &Files{}
	var err error
	if files.Vocab, err = fetch(VocabFile); err != nil {
		return nil, err
	}
	if files.Vision, err = fetch(opts.VisionFile); err != nil {
		return nil, err
	}
	if files.Decoder, err = fetch(opts.DecoderFile); err != nil {
		return nil, err
	}
	for name, dst := range map[string]*string{ConfigFile: &files.Config, PreprocessorFile: &files.Preprocessor} {
		p, err := fetch(name)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logger.Warn("Optional model file unavailable, using defaults", zap.String("file", name), zap.Error(err))
			continue
		}
		*dst = p
	}

	logger.Info("Model files ready", zap.String("model", opts.ModelID), zap.String("decoder", files.Decoder))
	return files, nil
}

func exists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
