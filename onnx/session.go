package onnx

import (
	"fmt"
	"os"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"
)

type SessionOptions struct {
	Device  string
	Threads int
}

// Session is a dynamic onnxruntime session plus the metadata needed to
// bind inputs by name.
type Session struct {
	*ort.DynamicAdvancedSession
	Path    string
	Device  string
	Inputs  []ort.InputOutputInfo
	Outputs []ort.InputOutputInfo
}

// NewSession opens the model at path on the requested device. When CUDA is
// requested but the session cannot be created on it, the session is
// created on the CPU instead and Device reports that.
func NewSession(path string, opts SessionOptions, logger *zap.Logger) (*Session, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("model file %s: %w", path, err)
	}

	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get model input/output info: %w", err)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return nil, fmt.Errorf("model %s declares no inputs or outputs", path)
	}

	device := opts.Device
	session, err := newSession(path, inputs, outputs, device, opts.Threads)
	if err != nil && device == DeviceCUDA {
		logger.Warn("Failed to create CUDA session, falling back to CPU",
			zap.String("model", path),
			zap.Error(err))
		device = DeviceCPU
		session, err = newSession(path, inputs, outputs, device, opts.Threads)
	}
	if err != nil {
		return nil, err
	}

	return &Session{
		DynamicAdvancedSession: session,
		Path:                   path,
		Device:                 device,
		Inputs:                 inputs,
		Outputs:                outputs,
	}, nil
}

func newSession(path string, inputs, outputs []ort.InputOutputInfo, device string, threads int) (*ort.DynamicAdvancedSession, error) {
	sessionOpts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer sessionOpts.Destroy()

	if threads > 0 {
		if err := sessionOpts.SetIntraOpNumThreads(threads); err != nil {
			return nil, fmt.Errorf("failed to set thread count: %w", err)
		}
	}
	if device == DeviceCUDA {
		cudaOpts, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return nil, fmt.Errorf("failed to create CUDA provider options: %w", err)
		}
		defer cudaOpts.Destroy()
		if err := sessionOpts.AppendExecutionProviderCUDA(cudaOpts); err != nil {
			return nil, fmt.Errorf("failed to enable CUDA execution provider: %w", err)
		}
	}

	session, err := ort.NewDynamicAdvancedSession(path, names(inputs), names(outputs), sessionOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX Runtime session: %w", err)
	}
	return session, nil
}

// HasInput reports whether the model declares an input called name.
func (s *Session) HasInput(name string) bool {
	for _, in := range s.Inputs {
		if in.Name == name {
			return true
		}
	}
	return false
}

func (s *Session) InputNames() []string  { return names(s.Inputs) }
func (s *Session) OutputNames() []string { return names(s.Outputs) }

func names(infos []ort.InputOutputInfo) []string {
	out := make([]string, len(infos))
	for i, info := range infos {
		out[i] = info.Name
	}
	return out
}
