package service

import (
	"errors"
	"fmt"
	"time"
)

type ErrorKind string

const (
	KindModelLoad  ErrorKind = "model_load"
	KindPreprocess ErrorKind = "preprocess"
	KindGeneration ErrorKind = "generation"
)

// ModelLoadError means the model could not be made ready. The service is
// degraded until a later load succeeds.
type ModelLoadError struct {
	ModelID string
	Err     error
}

func (e *ModelLoadError) Error() string {
	return fmt.Sprintf("failed to load model %s: %v", e.ModelID, e.Err)
}

func (e *ModelLoadError) Unwrap() error { return e.Err }

// PreprocessError means the input bytes are not a usable image.
type PreprocessError struct {
	Reason string
	Err    error
}

func (e *PreprocessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("preprocess: %s: %v", e.Reason, e.Err)
	}
	return "preprocess: " + e.Reason
}

func (e *PreprocessError) Unwrap() error { return e.Err }

// GenerationError means the model failed while producing captions,
// including deadline expiry.
type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("caption generation failed: %v", e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// InferenceError is returned by Analyzer.Analyze and wraps exactly one of
// the component errors above.
type InferenceError struct {
	Err     error
	Elapsed time.Duration
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("inference failed after %s: %v", e.Elapsed.Round(time.Millisecond), e.Err)
}

func (e *InferenceError) Unwrap() error { return e.Err }

func (e *InferenceError) Kind() ErrorKind {
	return KindOf(e.Err)
}

// KindOf reports which stage err came from. Unknown errors count as
// generation failures.
func KindOf(err error) ErrorKind {
	var (
		le *ModelLoadError
		pe *PreprocessError
	)
	switch {
	case errors.As(err, &le):
		return KindModelLoad
	case errors.As(err, &pe):
		return KindPreprocess
	default:
		return KindGeneration
	}
}
