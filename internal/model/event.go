package model

import "time"

// Circuit event type constants
const (
	CircuitEventOpened = "CIRCUIT_OPENED"
	CircuitEventClosed = "CIRCUIT_CLOSED"
)

// CircuitEvent records a circuit breaker state transition for a guarded
// dependency. Events are published through the status sink so the admin
// panel can alert on dependency outages.
type CircuitEvent struct {
	Type       string    `json:"type"`
	Dependency string    `json:"dependency"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	Failures   int       `json:"failures"`
	OccurredAt time.Time `json:"occurred_at"`
}
