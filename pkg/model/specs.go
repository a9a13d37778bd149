package model

// HardwareSpecs captures a point-in-time audit of the host machine.
// CPULoad is the only mutable field; the stealth gate refreshes it.
type HardwareSpecs struct {
	RAMMb          int64   `json:"ramMb"`
	CPUCores       int     `json:"cpuCores"`
	DiskFreeMb     int64   `json:"diskFreeMb"`
	HasGPU         bool    `json:"hasGpu"`
	GPUName        string  `json:"gpuName,omitempty"`
	GPUMemoryMb    int64   `json:"gpuMemoryMb,omitempty"`
	EstimatedFlops float64 `json:"estimatedFlops"`
	Backend        string  `json:"backend"`
	CPULoad        float64 `json:"cpuLoad"`
	OS             string  `json:"os"`
	Hostname       string  `json:"hostname,omitempty"`
}
