package onnx

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLibPathOverride(t *testing.T) {
	t.Setenv(LibEnv, "/from/env.so")
	assert.Equal(t, "/custom/libonnxruntime.so", LibPath("/custom/libonnxruntime.so"))
	assert.Equal(t, "/from/env.so", LibPath(""))
}

func TestLibPathSearchesLocalDir(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("library naming differs on " + runtime.GOOS)
	}
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv(LibEnv, "")
	t.Setenv("LD_LIBRARY_PATH", "")
	require.NoError(t, os.Mkdir("onnxlibs", 0o755))
	lib := filepath.Join("onnxlibs", "libonnxruntime.so.1.24.1")
	require.NoError(t, os.WriteFile(lib, nil, 0o644))

	assert.Equal(t, lib, LibPath(""))
}

func TestSelectDevice(t *testing.T) {
	assert.Equal(t, DeviceCPU, SelectDevice("cpu"))
	assert.Equal(t, DeviceCUDA, SelectDevice("CUDA"))

	auto := SelectDevice("auto")
	assert.Contains(t, []string{DeviceCPU, DeviceCUDA}, auto)
	assert.Equal(t, auto, SelectDevice("auto"))
	assert.Equal(t, DetectCUDA().Available, auto == DeviceCUDA)
}

func TestParseNvidiaSMI(t *testing.T) {
	tests := []struct {
		name string
		out  string
		want GPUInfo
	}{
		{"empty", "", GPUInfo{}},
		{"single", "NVIDIA GeForce RTX 4090, 550.54.14\n", GPUInfo{Available: true, DeviceName: "NVIDIA GeForce RTX 4090", DriverVer: "550.54.14"}},
		{"first of many", "Tesla T4, 535.104.05\nTesla T4, 535.104.05\n", GPUInfo{Available: true, DeviceName: "Tesla T4", DriverVer: "535.104.05"}},
		{"no driver", "A100", GPUInfo{Available: true, DeviceName: "A100"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseNvidiaSMI(tt.out))
		})
	}
}
