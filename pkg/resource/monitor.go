// Package resource samples system health on a fixed interval, derives
// trends from the sample history, evaluates alert and opportunity rules and
// publishes everything on the event bus.
package resource

import (
	"context"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"

	"meshnode/pkg/events"
	"meshnode/pkg/metrics"
	"meshnode/pkg/model"
)

// Monitor owns the snapshot history exclusively; nothing else mutates it.
type Monitor struct {
	log       *zap.Logger
	bus       *events.Bus
	gauges    *metrics.Metrics
	interval  time.Duration
	retention time.Duration
	diskPath  string
	gpu       *model.GPUResources

	captureFn   func() model.ResourceSnapshot
	onlineProbe func() bool

	mu      sync.RWMutex
	history []model.ResourceSnapshot
	trends  model.ResourceTrends

	cancel context.CancelFunc
	done   chan struct{}
}

// NewMonitor builds a monitor. bus is required; gauges and gpu may be nil.
func NewMonitor(log *zap.Logger, bus *events.Bus, gauges *metrics.Metrics, interval, retention time.Duration, gpu *model.GPUResources) *Monitor {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if retention <= 0 {
		retention = time.Hour
	}
	diskPath := "/"
	if runtime.GOOS == "windows" {
		diskPath = `C:\`
	}
	m := &Monitor{
		log:         log,
		bus:         bus,
		gauges:      gauges,
		interval:    interval,
		retention:   retention,
		diskPath:    diskPath,
		gpu:         gpu,
		onlineProbe: connectivityProbe,
	}
	m.captureFn = m.capture
	return m
}

// Start takes an immediate snapshot, then re-samples every interval until
// Stop or ctx cancellation.
func (m *Monitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	m.tick()
	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.tick()
			}
		}
	}()
}

// Stop halts sampling and waits for the loop to exit.
func (m *Monitor) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
}

func (m *Monitor) tick() {
	snap := m.captureFn()

	m.mu.Lock()
	m.history = append(m.history, snap)
	if trends, ok := ComputeTrends(m.history); ok {
		m.trends = trends
	}
	cutoff := snap.Timestamp.Add(-m.retention)
	for len(m.history) > 0 && m.history[0].Timestamp.Before(cutoff) {
		m.history = m.history[1:]
	}
	m.mu.Unlock()

	alerts := EvaluateAlerts(snap)
	opps := EvaluateOpportunities(snap)

	m.publish(snap, alerts, opps)
	m.updateGauges(snap, alerts)

	if len(alerts) > 0 {
		m.log.Debug("resource alerts", zap.Int("count", len(alerts)), zap.Int("health", snap.HealthScore))
	}
}

func (m *Monitor) publish(snap model.ResourceSnapshot, alerts []model.Alert, opps []model.Opportunity) {
	m.bus.Publish(events.Event{Type: events.SnapshotCaptured, Data: snap})
	for _, a := range alerts {
		m.bus.Publish(events.Event{Type: events.AlertRaised, Data: a})
	}
	for _, o := range opps {
		m.bus.Publish(events.Event{Type: events.OpportunityFound, Data: o})
	}
}

func (m *Monitor) updateGauges(snap model.ResourceSnapshot, alerts []model.Alert) {
	if m.gauges == nil {
		return
	}
	m.gauges.CPULoad.Set(snap.CPU.LoadPercent)
	m.gauges.MemAvailable.Set(float64(snap.Memory.AvailableMb))
	m.gauges.StorageUsed.Set(snap.Storage.UsedPercent)
	m.gauges.HealthScore.Set(float64(snap.HealthScore))
	m.gauges.Autonomy.Set(float64(snap.Autonomy))
	for _, a := range alerts {
		m.gauges.AlertsRaised.WithLabelValues(string(a.Severity)).Inc()
	}
}

// Latest returns the newest snapshot, if any.
func (m *Monitor) Latest() (model.ResourceSnapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.history) == 0 {
		return model.ResourceSnapshot{}, false
	}
	return m.history[len(m.history)-1], true
}

// Trends returns the most recently computed trends.
func (m *Monitor) Trends() model.ResourceTrends {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.trends
}

// HistoryLen reports how many snapshots are retained.
func (m *Monitor) HistoryLen() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.history)
}
