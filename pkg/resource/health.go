package resource

import "meshnode/pkg/model"

// Thresholds for health scoring and the autonomy ladder.
const (
	lowMemoryMb      = 1024
	criticalMemoryMb = 512
	lowBatteryPct    = 20
	fullCPUCeiling   = 70
)

// HealthScore starts at 100 and deducts a tiered penalty per adverse
// condition. Clamped to [0, 100].
func HealthScore(s model.ResourceSnapshot) int {
	score := 100

	switch {
	case s.CPU.LoadPercent > 80:
		score -= 20
	case s.CPU.LoadPercent > 60:
		score -= 10
	}

	switch {
	case s.Memory.HighLoad:
		score -= 25
	case s.Memory.AvailableMb < lowMemoryMb:
		score -= 15
	}

	if s.Storage.UsedPercent > 90 {
		score -= 20
	}
	if !s.Network.Online {
		score -= 30
	}
	if s.Power.OnBattery && s.Power.BatteryPercent < lowBatteryPct {
		score -= 20
	}

	if score < 0 {
		score = 0
	}
	return score
}

// AutonomyFor places the snapshot on the capability ladder. The top tier
// needs hard gates beyond the score: connectivity, CPU headroom and memory
// headroom.
func AutonomyFor(score int, s model.ResourceSnapshot) model.AutonomyLevel {
	switch {
	case score > 80 && s.Network.Online && s.CPU.LoadPercent < fullCPUCeiling && s.Memory.AvailableMb > lowMemoryMb:
		return model.AutonomyFull
	case score > 50:
		return model.AutonomyLimited
	case score > 20:
		return model.AutonomyMinimal
	default:
		return model.AutonomySurvival
	}
}
