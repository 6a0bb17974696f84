package onnx

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
)

const (
	DeviceAuto = "auto"
	DeviceCUDA = "cuda"
	DeviceCPU  = "cpu"
)

type GPUInfo struct {
	Available  bool
	DeviceName string
	DriverVer  string
}

var (
	gpuOnce sync.Once
	gpuInfo GPUInfo
)

// DetectCUDA reports whether an NVIDIA GPU is usable. The result is cached
// for the life of the process.
func DetectCUDA() GPUInfo {
	gpuOnce.Do(func() {
		gpuInfo = detectCUDA()
	})
	return gpuInfo
}

// SelectDevice resolves a configured preference to cuda or cpu.
func SelectDevice(pref string) string {
	switch strings.ToLower(pref) {
	case DeviceCPU:
		return DeviceCPU
	case DeviceCUDA:
		return DeviceCUDA
	default:
		if DetectCUDA().Available {
			return DeviceCUDA
		}
		return DeviceCPU
	}
}

func detectCUDA() GPUInfo {
	if info := tryNvidiaSMI(); info.Available {
		return info
	}
	if cudaLibsExist() {
		return GPUInfo{Available: true, DeviceName: "CUDA (libraries detected)"}
	}
	return GPUInfo{}
}

func tryNvidiaSMI() GPUInfo {
	nvidiaSMI, err := exec.LookPath("nvidia-smi")
	if err != nil {
		return GPUInfo{}
	}
	out, err := exec.Command(nvidiaSMI, "--query-gpu=name,driver_version", "--format=csv,noheader,nounits").Output() //nolint:gosec // path from LookPath
	if err != nil {
		return GPUInfo{}
	}
	return parseNvidiaSMI(string(out))
}

// parseNvidiaSMI reads the first "name, driver" line of nvidia-smi CSV
// output.
func parseNvidiaSMI(out string) GPUInfo {
	line, _, _ := strings.Cut(strings.TrimSpace(out), "\n")
	if line == "" {
		return GPUInfo{}
	}
	name, driver, _ := strings.Cut(line, ",")
	return GPUInfo{
		Available:  true,
		DeviceName: strings.TrimSpace(name),
		DriverVer:  strings.TrimSpace(driver),
	}
}

func cudaLibsExist() bool {
	dirs := []string{"/usr/local/cuda/lib64", "/usr/lib/x86_64-linux-gnu", "/usr/lib64"}
	if ld := os.Getenv("LD_LIBRARY_PATH"); ld != "" {
		dirs = append(strings.Split(ld, ":"), dirs...)
	}
	for _, dir := range dirs {
		if matches, _ := filepath.Glob(filepath.Join(dir, "libcudart.so*")); len(matches) > 0 {
			return true
		}
	}
	return false
}
