package resource

import (
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
	gopsnet "github.com/shirou/gopsutil/v4/net"

	"meshnode/pkg/model"
)

const highMemoryLoadPct = 90

// connectivityProbe dials a well-known endpoint; a fast TCP connect is taken
// as "online". Same best-effort posture as every other probe here.
func connectivityProbe() bool {
	conn, err := net.DialTimeout("tcp", "1.1.1.1:443", 2*time.Second)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// capture assembles one snapshot. Every sub-probe fails soft to zero values;
// the snapshot is always produced.
func (m *Monitor) capture() model.ResourceSnapshot {
	s := model.ResourceSnapshot{Timestamp: time.Now()}

	s.CPU.Cores = runtime.NumCPU()
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		s.CPU.LoadPercent = percents[0]
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		s.Memory.TotalMb = int64(vm.Total / (1 << 20))
		s.Memory.AvailableMb = int64(vm.Available / (1 << 20))
		s.Memory.UsedPercent = vm.UsedPercent
		s.Memory.HighLoad = vm.UsedPercent > highMemoryLoadPct
	}

	if du, err := disk.Usage(m.diskPath); err == nil {
		s.Storage.TotalMb = int64(du.Total / (1 << 20))
		s.Storage.FreeMb = int64(du.Free / (1 << 20))
		s.Storage.UsedPercent = du.UsedPercent
	}

	s.Network.Online = m.onlineProbe()
	if counters, err := gopsnet.IOCounters(false); err == nil && len(counters) > 0 {
		s.Network.BytesSent = counters[0].BytesSent
		s.Network.BytesRecv = counters[0].BytesRecv
	}
	s.Network.WifiSignalDbm = probeWifiSignal()

	s.Power = probePower()
	s.GPU = m.gpu

	s.HealthScore = HealthScore(s)
	s.Autonomy = AutonomyFor(s.HealthScore, s)
	return s
}

// probeWifiSignal reads the wireless signal level from /proc/net/wireless
// on linux. Zero means no wireless interface or no answer.
func probeWifiSignal() int {
	if runtime.GOOS != "linux" {
		return 0
	}
	raw, err := os.ReadFile("/proc/net/wireless")
	if err != nil {
		return 0
	}
	return parseWirelessSignal(string(raw))
}

// parseWirelessSignal extracts the first interface's signal level (dBm)
// from /proc/net/wireless content: two header lines, then per-interface
// rows where the fourth field is the level, kernel-formatted with a
// trailing dot.
func parseWirelessSignal(content string) int {
	for _, line := range strings.Split(content, "\n") {
		if !strings.Contains(line, ":") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}
		val := strings.TrimSuffix(fields[3], ".")
		if dbm, err := strconv.ParseFloat(val, 64); err == nil && dbm != 0 {
			return int(dbm)
		}
	}
	return 0
}

// probePower reads the battery state from sysfs on linux. Elsewhere, and on
// any failure, the host is assumed wall-powered.
func probePower() model.PowerResources {
	p := model.PowerResources{OnBattery: false, BatteryPercent: 100, Charging: false}
	if runtime.GOOS != "linux" {
		return p
	}
	entries, err := os.ReadDir("/sys/class/power_supply")
	if err != nil {
		return p
	}
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), "BAT") {
			continue
		}
		base := filepath.Join("/sys/class/power_supply", e.Name())
		if raw, err := os.ReadFile(filepath.Join(base, "capacity")); err == nil {
			if pct, err := strconv.ParseFloat(strings.TrimSpace(string(raw)), 64); err == nil {
				p.BatteryPercent = pct
			}
		}
		if raw, err := os.ReadFile(filepath.Join(base, "status")); err == nil {
			status := strings.TrimSpace(string(raw))
			p.Charging = status == "Charging"
			p.OnBattery = status == "Discharging"
		}
		break
	}
	return p
}
