package resource

import (
	"time"

	"meshnode/pkg/model"
)

// trendLookback is how many samples back the comparison point sits, when the
// history is deep enough. Otherwise the oldest sample is used.
const trendLookback = 10

// minTrendSpan is the shortest window trends are computed over.
const minTrendSpan = time.Minute

// ComputeTrends derives per-minute deltas between the newest snapshot and one
// trendLookback samples back (or the oldest available). Returns false until
// at least two samples span minTrendSpan.
func ComputeTrends(history []model.ResourceSnapshot) (model.ResourceTrends, bool) {
	if len(history) < 2 {
		return model.ResourceTrends{}, false
	}
	newest := history[len(history)-1]
	baseIdx := len(history) - 1 - trendLookback
	if baseIdx < 0 {
		baseIdx = 0
	}
	base := history[baseIdx]

	span := newest.Timestamp.Sub(base.Timestamp)
	if span < minTrendSpan {
		// fall back to the widest window available
		base = history[0]
		span = newest.Timestamp.Sub(base.Timestamp)
	}
	if span < minTrendSpan {
		return model.ResourceTrends{}, false
	}

	minutes := span.Minutes()
	usedMb := func(s model.ResourceSnapshot) float64 {
		return float64(s.Memory.TotalMb - s.Memory.AvailableMb)
	}
	netKb := func(s model.ResourceSnapshot) float64 {
		return float64(s.Network.BytesSent+s.Network.BytesRecv) / 1024
	}

	return model.ResourceTrends{
		CPUPercentPerMin: (newest.CPU.LoadPercent - base.CPU.LoadPercent) / minutes,
		MemoryMbPerMin:   (usedMb(newest) - usedMb(base)) / minutes,
		NetworkKbPerMin:  (netKb(newest) - netKb(base)) / minutes,
		HealthPerMin:     float64(newest.HealthScore-base.HealthScore) / minutes,
	}, true
}
