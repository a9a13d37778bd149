package resource

import (
	"time"

	"github.com/google/uuid"

	"meshnode/pkg/model"
)

const cellularWeakDbm = -110

// EvaluateAlerts runs every alert rule against the snapshot. Rules are
// independent; several may fire on one tick.
func EvaluateAlerts(s model.ResourceSnapshot) []model.Alert {
	var alerts []model.Alert
	add := func(severity model.AlertSeverity, category, message, remediation string) {
		alerts = append(alerts, model.Alert{
			ID:          uuid.NewString(),
			Severity:    severity,
			Category:    category,
			Message:     message,
			Remediation: remediation,
			Timestamp:   s.Timestamp,
		})
	}

	if s.CPU.LoadPercent > 90 {
		add(model.SeverityWarning, "cpu", "CPU load above 90%", "pause non-essential work until load drops")
	}
	if s.Memory.AvailableMb < criticalMemoryMb {
		add(model.SeverityWarning, "memory", "available memory below 512MB", "unload cached model shards")
	}
	if s.Storage.UsedPercent > 90 {
		add(model.SeverityWarning, "storage", "storage above 90% used", "prune the model cache directory")
	}
	if s.Cellular != nil && s.Cellular.SignalDbm < cellularWeakDbm {
		add(model.SeverityInfo, "cellular", "cellular signal weak", "defer large transfers until signal improves")
	}
	if s.Power.OnBattery && s.Power.BatteryPercent < lowBatteryPct {
		add(model.SeverityCritical, "power", "battery below 20% and discharging", "suspend compute work and reduce heartbeat rate")
	}
	return alerts
}

// Opportunity windows: volatile signals expire fast, stable ones slowly.
const (
	computeWindow   = time.Minute
	bandwidthWindow = 5 * time.Minute
	gpuWindow       = time.Hour
	strongWifiDbm   = -50
)

// EvaluateOpportunities reports spare capacity the node could volunteer.
func EvaluateOpportunities(s model.ResourceSnapshot) []model.Opportunity {
	var opps []model.Opportunity
	add := func(kind, message string, window time.Duration) {
		opps = append(opps, model.Opportunity{
			ID:        uuid.NewString(),
			Kind:      kind,
			Message:   message,
			ExpiresAt: s.Timestamp.Add(window),
			Timestamp: s.Timestamp,
		})
	}

	if (100-s.CPU.LoadPercent) > 80 && s.Memory.AvailableMb > 2048 {
		add("compute", "spare CPU and memory available for compute", computeWindow)
	}
	if s.Network.Online && s.Network.WifiSignalDbm != 0 && s.Network.WifiSignalDbm > strongWifiDbm {
		add("bandwidth", "strong wireless signal, high bandwidth window", bandwidthWindow)
	}
	if s.GPU != nil {
		add("gpu", "GPU available for accelerated work", gpuWindow)
	}
	return opps
}
