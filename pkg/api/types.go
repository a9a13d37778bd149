// Package api defines the message shapes exchanged with the coordinator.
// The coordinator's internals are out of scope; this is only the node's
// contract toward it.
package api

import (
	"encoding/json"
	"time"

	"meshnode/pkg/model"
)

// RegistrationRequest is the manifest submitted when connecting.
type RegistrationRequest struct {
	NodeID        string                    `json:"nodeId"`
	PublicKey     []byte                    `json:"publicKey"`
	Version       string                    `json:"version"`
	Specs         model.HardwareSpecs       `json:"specs"`
	Compute       model.ComputeCapabilities `json:"compute"`
	PublicAddress string                    `json:"publicAddress,omitempty"`
	StartedAt     time.Time                 `json:"startedAt"`
}

// MeshState is the coordinator's global view returned at registration.
type MeshState struct {
	NodeCount   int      `json:"nodeCount"`
	ModelHashes []string `json:"modelHashes,omitempty"`
	Epoch       int64    `json:"epoch"`
}

// RegistrationResponse carries accept/reject, the assigned role and session.
type RegistrationResponse struct {
	Accepted     bool       `json:"accepted"`
	Reason       string     `json:"reason,omitempty"`
	Role         model.Role `json:"role,omitempty"`
	SessionToken string     `json:"sessionToken,omitempty"`
	Mesh         MeshState  `json:"mesh"`
}

// ShardRequest asks the coordinator for a unit of work.
type ShardRequest struct {
	NodeID string `json:"nodeId"`
}

// ShardResponse returns a shard, or Available=false when the queue is empty.
type ShardResponse struct {
	Available bool                `json:"available"`
	Shard     *model.ComputeShard `json:"shard,omitempty"`
}

// SubmitResponse acknowledges a shard result.
type SubmitResponse struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// StatusReport is the periodic heartbeat payload.
type StatusReport struct {
	NodeID        string    `json:"nodeId"`
	CPULoad       float64   `json:"cpuLoad"`
	RAMUsedMb     int64     `json:"ramUsedMb"`
	HealthScore   int       `json:"healthScore"`
	Autonomy      string    `json:"autonomy"`
	PublicAddress string    `json:"publicAddress,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// Telemetry is the scout-role sensing payload.
type Telemetry struct {
	NodeID        string    `json:"nodeId"`
	PublicAddress string    `json:"publicAddress,omitempty"`
	Online        bool      `json:"online"`
	WifiSignalDbm int       `json:"wifiSignalDbm,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// Message is the websocket envelope in both directions.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewMessage wraps payload into an envelope. Marshal errors cannot occur for
// the payload types in this package.
func NewMessage(msgType string, payload interface{}) Message {
	raw, _ := json.Marshal(payload)
	return Message{Type: msgType, Payload: raw}
}

// Outbound message types.
const (
	MsgStatus    = "status"
	MsgTelemetry = "telemetry"
	MsgNodeLog   = "node_log"
	MsgResult    = "result"
)

// Inbound command tags. Unknown tags are ignored, never fatal.
const (
	CmdExecuteTask     = "execute_task"
	CmdTriggerUpdate   = "trigger_update"
	CmdHydrateShard    = "hydrate_shard"
	CmdChangeRole      = "change_role"
	CmdIntroducePeer   = "introduce_peer"
	CmdRequestLocation = "request_location"
	CmdTerminate       = "terminate"
)

// CommandExecute carries a shard pushed by the coordinator.
type CommandExecute struct {
	Shard model.ComputeShard `json:"shard"`
}

// CommandUpdate triggers the self-update path.
type CommandUpdate struct {
	Version   string `json:"version,omitempty"`
	BinaryURL string `json:"binaryUrl,omitempty"`
}

// CommandHydrate asks the node to pre-fetch a model shard file.
type CommandHydrate struct {
	ModelHash  string `json:"modelHash"`
	StartLayer int    `json:"startLayer"`
	EndLayer   int    `json:"endLayer"`
	SourceURL  string `json:"sourceUrl"`
}

// CommandRole reassigns the node's role.
type CommandRole struct {
	Role model.Role `json:"role"`
}

// CommandPeer introduces another mesh node.
type CommandPeer struct {
	NodeID  string `json:"nodeId"`
	Address string `json:"address"`
}

// LogBatch carries buffered node log lines upstream, best effort.
type LogBatch struct {
	NodeID string   `json:"nodeId"`
	Lines  []string `json:"lines"`
	Ts     int64    `json:"ts"`
}
