package stealth

import (
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// probeIdleTime queries the host for input-idle time. Best effort and
// OS-specific; ok is false when the platform gives no answer, in which case
// the gate assumes idle.
func probeIdleTime() (time.Duration, bool) {
	switch runtime.GOOS {
	case "linux":
		return probeIdleLinux()
	case "darwin":
		return probeIdleDarwin()
	default:
		return 0, false
	}
}

// probeIdleLinux uses xprintidle (X11 sessions only). Headless boxes lack
// both a display and a user to disturb, so the assume-idle fallback is right.
func probeIdleLinux() (time.Duration, bool) {
	out, err := exec.Command("xprintidle").Output()
	if err != nil {
		return 0, false
	}
	ms, err := strconv.ParseInt(strings.TrimSpace(string(out)), 10, 64)
	if err != nil {
		return 0, false
	}
	return time.Duration(ms) * time.Millisecond, true
}

// probeIdleDarwin parses HIDIdleTime (nanoseconds) out of the IOHIDSystem
// registry entry.
func probeIdleDarwin() (time.Duration, bool) {
	out, err := exec.Command("ioreg", "-c", "IOHIDSystem", "-d", "4").Output()
	if err != nil {
		return 0, false
	}
	for _, line := range strings.Split(string(out), "\n") {
		if !strings.Contains(line, "HIDIdleTime") {
			continue
		}
		if idx := strings.LastIndex(line, "="); idx >= 0 {
			ns, err := strconv.ParseInt(strings.TrimSpace(line[idx+1:]), 10, 64)
			if err == nil {
				return time.Duration(ns), true
			}
		}
	}
	return 0, false
}
