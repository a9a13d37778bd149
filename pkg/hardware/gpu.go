package hardware

import (
	"os/exec"
	"strconv"
	"strings"

	"meshnode/pkg/model"
)

// probeGPU shells out to nvidia-smi, the one broadly available GPU inventory
// tool. Any failure (binary missing, no device, parse error) reports no GPU.
func probeGPU() (model.GPUResources, bool) {
	out, err := exec.Command("nvidia-smi", "--query-gpu=name,memory.total", "--format=csv,noheader,nounits").Output()
	if err != nil {
		return model.GPUResources{}, false
	}
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		name, vram, ok := parseGPULine(line)
		if ok {
			return model.GPUResources{Name: name, MemoryMb: vram}, true
		}
	}
	return model.GPUResources{}, false
}

func parseGPULine(line string) (string, int64, bool) {
	parts := strings.Split(line, ",")
	if len(parts) < 2 {
		return "", 0, false
	}
	name := strings.TrimSpace(parts[0])
	vram, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
	if err != nil || name == "" {
		return "", 0, false
	}
	return name, vram, true
}
