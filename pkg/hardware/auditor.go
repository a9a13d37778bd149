// Package hardware probes the host's CPU, memory, disk and GPU and estimates
// the node's compute throughput. Every probe is best effort: a failed probe
// yields zero values, never an error to the caller.
package hardware

import (
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
	"go.uber.org/zap"

	"meshnode/pkg/model"
)

// Auditor performs one-shot hardware scans.
type Auditor struct {
	log      *zap.Logger
	diskPath string
	gpuProbe func() (model.GPUResources, bool)
}

// NewAuditor builds an auditor rooting disk probes at the process working
// directory's volume.
func NewAuditor(log *zap.Logger) *Auditor {
	path := "/"
	if runtime.GOOS == "windows" {
		path = `C:\`
	}
	return &Auditor{log: log, diskPath: path, gpuProbe: probeGPU}
}

// Scan runs every probe and assembles the capability summary. Sub-probes are
// independently recovered so one failure does not blank the others.
func (a *Auditor) Scan() model.HardwareSpecs {
	specs := model.HardwareSpecs{OS: runtime.GOOS}

	if host, err := os.Hostname(); err == nil {
		specs.Hostname = host
	}

	specs.CPUCores = runtime.NumCPU()
	if n, err := cpu.Counts(true); err == nil && n > 0 {
		specs.CPUCores = n
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		specs.RAMMb = int64(vm.Total / (1 << 20))
	} else {
		a.log.Debug("memory probe failed", zap.Error(err))
	}

	if du, err := disk.Usage(a.diskPath); err == nil {
		specs.DiskFreeMb = int64(du.Free / (1 << 20))
	} else {
		a.log.Debug("disk probe failed", zap.Error(err))
	}

	if gpu, ok := a.gpuProbe(); ok {
		specs.HasGPU = true
		specs.GPUName = gpu.Name
		specs.GPUMemoryMb = gpu.MemoryMb
	}

	specs.EstimatedFlops = EstimateFlops(specs.CPUCores, specs.HasGPU, specs.GPUName, specs.GPUMemoryMb)
	specs.Backend = SelectBackend(specs.HasGPU, specs.GPUName, specs.OS)

	a.log.Info("hardware audit",
		zap.Int("cores", specs.CPUCores),
		zap.Int64("ram_mb", specs.RAMMb),
		zap.Int64("disk_free_mb", specs.DiskFreeMb),
		zap.Bool("gpu", specs.HasGPU),
		zap.String("gpu_name", specs.GPUName),
		zap.Float64("estimated_flops", specs.EstimatedFlops),
		zap.String("backend", specs.Backend),
	)
	return specs
}
