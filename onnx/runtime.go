package onnx

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"
)

// LibEnv names the environment variable that may point at the onnxruntime
// shared library.
const LibEnv = "ONNXRUNTIME_LIB"

var initMu sync.Mutex

// LibPath resolves the onnxruntime shared library. An explicit override
// wins, then $ONNXRUNTIME_LIB, then the first match in ./onnxlibs,
// $LD_LIBRARY_PATH and the usual system directories.
func LibPath(override string) string {
	if override != "" {
		return override
	}
	if p := os.Getenv(LibEnv); p != "" {
		return p
	}

	var pattern string
	switch runtime.GOOS {
	case "linux":
		pattern = "libonnxruntime.so*"
	case "darwin":
		pattern = "libonnxruntime*.dylib"
	case "windows":
		pattern = "onnxruntime.dll"
	default:
		return ""
	}

	dirs := []string{"onnxlibs"}
	if ld := os.Getenv("LD_LIBRARY_PATH"); ld != "" {
		dirs = append(dirs, strings.Split(ld, string(os.PathListSeparator))...)
	}
	dirs = append(dirs, "/usr/local/lib", "/usr/lib", "/opt/homebrew/lib")
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if matches, _ := filepath.Glob(filepath.Join(dir, pattern)); len(matches) > 0 {
			return matches[0]
		}
	}
	return ""
}

// Init loads the onnxruntime library and initializes the global
// environment. Calling it again after a success is a no-op.
func Init(libPath string, logger *zap.Logger) error {
	initMu.Lock()
	defer initMu.Unlock()

	if ort.IsInitialized() {
		return nil
	}
	path := LibPath(libPath)
	if path == "" {
		return fmt.Errorf("onnxruntime library not found for %s, set libonnx or %s", runtime.GOOS, LibEnv)
	}
	ort.SetSharedLibraryPath(path)
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize onnxruntime from %s: %w", path, err)
	}
	if logger != nil {
		logger.Info("Using ONNX Runtime library",
			zap.String("path", path),
			zap.String("version", ort.GetVersion()))
	}
	return nil
}

func Destroy() error {
	initMu.Lock()
	defer initMu.Unlock()

	if !ort.IsInitialized() {
		return nil
	}
	return ort.DestroyEnvironment()
}
