package model

import "time"

// Peer is another mesh node the coordinator has introduced, kept for
// future direct shard handoff.
type Peer struct {
	NodeID       string    `json:"nodeId"`
	Address      string    `json:"address"`
	IntroducedAt time.Time `json:"introducedAt"`
}
