package config

import (
	"errors"
	"fmt"
	"strings"
)

var validDevices = map[string]bool{"auto": true, "cuda": true, "cpu": true}

// Validate checks the bounds the service relies on.
func (c *Config) Validate() error {
	var errs []error
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		errs = append(errs, fmt.Errorf("confidence_threshold must be within [0, 1], got %v", c.ConfidenceThreshold))
	}
	if c.MaxTags < 1 || c.MaxTags > 10 {
		errs = append(errs, fmt.Errorf("max_tags must be within [1, 10], got %d", c.MaxTags))
	}
	if c.MaxFileSize <= 0 || c.MaxFileSize > MaxUploadCeiling {
		errs = append(errs, fmt.Errorf("max_file_size must be within (0, %d], got %d", MaxUploadCeiling, c.MaxFileSize))
	}
	if len(c.AllowedTypes) == 0 {
		errs = append(errs, errors.New("allowed_types must not be empty"))
	}
	for _, t := range c.AllowedTypes {
		if !strings.HasPrefix(t, "image/") {
			errs = append(errs, fmt.Errorf("allowed_types entry %q is not an image type", t))
		}
	}
	if c.MaxImageWidth <= 0 || c.MaxImageHeight <= 0 {
		errs = append(errs, fmt.Errorf("max image size must be positive, got %dx%d", c.MaxImageWidth, c.MaxImageHeight))
	}
	if c.MaxSourcePixels < 0 {
		errs = append(errs, errors.New("max_source_pixels must not be negative"))
	}
	if c.Temperature <= 0 {
		errs = append(errs, fmt.Errorf("temperature must be positive, got %v", c.Temperature))
	}
	if c.MaxLength < 2 {
		errs = append(errs, fmt.Errorf("max_length must be at least 2, got %d", c.MaxLength))
	}
	if c.TopK < 0 || c.NoRepeatNgramSize < 0 || c.MinCaptionLength < 0 {
		errs = append(errs, errors.New("top_k, no_repeat_ngram_size and min_caption_length must not be negative"))
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be at least 1, got %d", c.Workers))
	}
	if c.GenerationConcurrency < 1 {
		errs = append(errs, fmt.Errorf("generation_concurrency must be at least 1, got %d", c.GenerationConcurrency))
	}
	if c.InferenceTimeout < 0 {
		errs = append(errs, errors.New("inference_timeout must not be negative"))
	}
	if !validDevices[c.Device] {
		errs = append(errs, fmt.Errorf("device must be one of auto, cuda, cpu, got %q", c.Device))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port out of range: %d", c.Port))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c *Config) IsProduction() bool {
	return c.Environment == "prod" || c.Environment == "production"
}
