package model

// Role is assigned by the coordinator at registration and gates which work
// loops the node runs.
type Role string

const (
	RoleGeneral Role = "general"
	RoleCompute Role = "compute"
	RoleScout   Role = "scout"
)

// RunsCompute reports whether the role participates in shard processing.
func (r Role) RunsCompute() bool {
	return r == RoleCompute || r == RoleGeneral
}

// RunsScouting reports whether the role emits sensing telemetry.
func (r Role) RunsScouting() bool {
	return r == RoleScout
}
