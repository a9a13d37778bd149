package model

import "time"

// AutonomyLevel classifies how independently the node can operate given
// current resource health. Ordered: Survival < Minimal < Limited < Full.
type AutonomyLevel int

const (
	AutonomySurvival AutonomyLevel = iota
	AutonomyMinimal
	AutonomyLimited
	AutonomyFull
)

func (a AutonomyLevel) String() string {
	switch a {
	case AutonomyFull:
		return "full"
	case AutonomyLimited:
		return "limited"
	case AutonomyMinimal:
		return "minimal"
	default:
		return "survival"
	}
}

// CPUResources is the CPU portion of a resource snapshot.
type CPUResources struct {
	Cores       int     `json:"cores"`
	LoadPercent float64 `json:"loadPercent"`
}

// MemoryResources is the memory portion of a resource snapshot.
type MemoryResources struct {
	TotalMb     int64   `json:"totalMb"`
	AvailableMb int64   `json:"availableMb"`
	UsedPercent float64 `json:"usedPercent"`
	HighLoad    bool    `json:"highLoad"`
}

// StorageResources is the disk portion of a resource snapshot.
type StorageResources struct {
	TotalMb     int64   `json:"totalMb"`
	FreeMb      int64   `json:"freeMb"`
	UsedPercent float64 `json:"usedPercent"`
}

// NetworkResources is the connectivity portion of a resource snapshot.
// WifiSignalDbm is zero when unknown.
type NetworkResources struct {
	Online        bool   `json:"online"`
	PublicAddress string `json:"publicAddress,omitempty"`
	BytesSent     uint64 `json:"bytesSent"`
	BytesRecv     uint64 `json:"bytesRecv"`
	WifiSignalDbm int    `json:"wifiSignalDbm,omitempty"`
}

// CellularResources describes an optional cellular modem. Absent on most
// hosts; a nil pointer in the snapshot means "no modem", never garbage fields.
type CellularResources struct {
	SignalDbm int    `json:"signalDbm"`
	Carrier   string `json:"carrier,omitempty"`
}

// PowerResources is the power portion of a resource snapshot.
type PowerResources struct {
	OnBattery      bool    `json:"onBattery"`
	BatteryPercent float64 `json:"batteryPercent"`
	Charging       bool    `json:"charging"`
}

// GPUResources describes an optional GPU; nil when none is present.
type GPUResources struct {
	Name     string `json:"name"`
	MemoryMb int64  `json:"memoryMb"`
}

// ResourceSnapshot is an immutable per-capture record of system health.
type ResourceSnapshot struct {
	Timestamp   time.Time          `json:"timestamp"`
	CPU         CPUResources       `json:"cpu"`
	Memory      MemoryResources    `json:"memory"`
	Storage     StorageResources   `json:"storage"`
	Network     NetworkResources   `json:"network"`
	Cellular    *CellularResources `json:"cellular,omitempty"`
	Power       PowerResources     `json:"power"`
	GPU         *GPUResources      `json:"gpu,omitempty"`
	HealthScore int                `json:"healthScore"`
	Autonomy    AutonomyLevel      `json:"autonomy"`
}

// ResourceTrends holds per-minute deltas between the newest snapshot and one
// roughly ten samples back (or the oldest available).
type ResourceTrends struct {
	CPUPercentPerMin float64 `json:"cpuPercentPerMin"`
	MemoryMbPerMin   float64 `json:"memoryMbPerMin"`
	NetworkKbPerMin  float64 `json:"networkKbPerMin"`
	HealthPerMin     float64 `json:"healthPerMin"`
}
