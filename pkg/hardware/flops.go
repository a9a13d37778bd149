package hardware

import "strings"

// cpuFlopsPerCore is a conservative per-core throughput constant.
const cpuFlopsPerCore = 10e9

// vramFlopsPerMb extrapolates throughput for GPUs the table does not know.
const vramFlopsPerMb = 2e9

// gpuFlopsTable maps architecture name substrings to throughput estimates,
// newest/highest-end first. Matching is case-insensitive and first-hit wins.
var gpuFlopsTable = []struct {
	substr string
	flops  float64
}{
	{"h100", 990e12},
	{"a100", 312e12},
	{"4090", 83e12},
	{"4080", 49e12},
	{"3090", 36e12},
	{"3080", 30e12},
	{"v100", 14e12},
	{"a6000", 38e12},
	{"3070", 20e12},
	{"2080", 10e12},
	{"t4", 8e12},
	{"1080", 9e12},
	{"1070", 6e12},
}

// EstimateFlops returns the node's estimated throughput. The GPU estimate
// wins whenever a GPU is present; otherwise the CPU baseline applies. The
// result is always positive for cores >= 1.
func EstimateFlops(cores int, hasGPU bool, gpuName string, vramMb int64) float64 {
	if cores < 1 {
		cores = 1
	}
	cpuEstimate := float64(cores) * cpuFlopsPerCore
	if !hasGPU {
		return cpuEstimate
	}
	lower := strings.ToLower(gpuName)
	for _, entry := range gpuFlopsTable {
		if strings.Contains(lower, entry.substr) {
			return entry.flops
		}
	}
	if vramMb > 0 {
		return float64(vramMb) * vramFlopsPerMb
	}
	return cpuEstimate
}

// Known execution backends.
const (
	BackendCUDA     = "cuda"
	BackendDirectML = "directml"
	BackendCoreML   = "coreml"
	BackendCPU      = "cpu"
)

// SelectBackend maps audited hardware to the preferred execution backend.
// Pure function of its inputs; no OS queries.
func SelectBackend(hasGPU bool, gpuName, goos string) string {
	lower := strings.ToLower(gpuName)
	switch {
	case hasGPU && strings.Contains(lower, "nvidia"):
		return BackendCUDA
	case hasGPU && goos == "windows" && (strings.Contains(lower, "amd") || strings.Contains(lower, "radeon") || strings.Contains(lower, "intel")):
		return BackendDirectML
	case goos == "darwin":
		return BackendCoreML
	default:
		return BackendCPU
	}
}

// ProviderPreference lists execution providers to try when loading a model,
// fastest and most specific first, always ending with the CPU provider.
func ProviderPreference(backend string) []string {
	if backend == BackendCPU {
		return []string{BackendCPU}
	}
	return []string{backend, BackendCPU}
}
