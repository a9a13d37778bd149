package model

import "time"

// AlertSeverity grades resource alerts.
type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "info"
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// Alert is raised by the resource monitor when a rule fires. Remediation is a
// human-readable suggestion, not a machine instruction.
type Alert struct {
	ID          string        `json:"id"`
	Severity    AlertSeverity `json:"severity"`
	Category    string        `json:"category"`
	Message     string        `json:"message"`
	Remediation string        `json:"remediation,omitempty"`
	Timestamp   time.Time     `json:"timestamp"`
}

// Opportunity signals spare capacity the node could volunteer. ExpiresAt
// bounds how long the signal should be trusted.
type Opportunity struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	ExpiresAt time.Time `json:"expiresAt"`
	Timestamp time.Time `json:"timestamp"`
}
