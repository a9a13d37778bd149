// Package stealth keeps background compute from competing with interactive
// host use. It tracks input-idle time and a coarse CPU load estimate; heavy
// work waits behind the gate until the human steps away.
package stealth

import (
	"context"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"go.uber.org/zap"
)

const (
	// DefaultIdleThreshold is how long input must be quiet before the host
	// counts as idle.
	DefaultIdleThreshold = 60 * time.Second

	// pollInterval is the WaitForIdle granularity.
	pollInterval = time.Second

	// assumeIdle is reported when the platform probe cannot determine idle
	// time: permissive on purpose so unprobeable hosts still contribute.
	assumeIdle = 24 * time.Hour
)

// Gate is safe for concurrent use.
type Gate struct {
	log       *zap.Logger
	threshold time.Duration
	idleProbe func() (time.Duration, bool)
	loadProbe func() (float64, bool)

	mu      sync.RWMutex
	cpuLoad float64
}

// NewGate builds a gate with the platform idle probe and a real CPU sampler.
// A threshold <= 0 selects the default.
func NewGate(log *zap.Logger, threshold time.Duration) *Gate {
	if threshold <= 0 {
		threshold = DefaultIdleThreshold
	}
	return &Gate{
		log:       log,
		threshold: threshold,
		idleProbe: probeIdleTime,
		loadProbe: sampleCPULoad,
	}
}

// IdleTime returns the host input-idle duration, best effort. Unprobeable
// platforms report a large value, i.e. "assume idle".
func (g *Gate) IdleTime() time.Duration {
	if d, ok := g.idleProbe(); ok {
		return d
	}
	return assumeIdle
}

// IsUserActive reports whether input was seen within the idle threshold.
func (g *Gate) IsUserActive() bool {
	return g.IdleTime() < g.threshold
}

// WaitForIdle blocks until the host is idle or ctx is done, polling at one
// second granularity. Returns immediately when already idle.
func (g *Gate) WaitForIdle(ctx context.Context) error {
	if !g.IsUserActive() {
		return nil
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if !g.IsUserActive() {
				return nil
			}
		}
	}
}

// CPULoad returns the most recent load sample, 0-100.
func (g *Gate) CPULoad() float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.cpuLoad
}

// Start launches the background load sampler, running until ctx is done.
func (g *Gate) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if load, ok := g.loadProbe(); ok {
					g.mu.Lock()
					g.cpuLoad = load
					g.mu.Unlock()
				}
			}
		}
	}()
}

// sampleCPULoad reads aggregate CPU utilization since the previous call.
func sampleCPULoad() (float64, bool) {
	percents, err := cpu.Percent(0, false)
	if err != nil || len(percents) == 0 {
		return 0, false
	}
	return percents[0], true
}
