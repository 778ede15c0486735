package notify

import (
	"time"

	"github.com/google/uuid"
)

// RunCompletedKey is the routing key of the run-completed event.
const RunCompletedKey = "attribution.run.completed.v1"

const producer = "attribution-pipeline"

type Meta struct {
	// Unique event ID
	ID string `json:"id"`
	// Run correlation ID
	CorrelationID string    `json:"correlation_id,omitempty"`
	Producer      string    `json:"producer"`
	Time          time.Time `json:"time"`
	// Event name and version, e.g. attribution.run.completed.v1
	Type string `json:"type"`
}

type Envelope struct {
	Meta Meta `json:"meta"`
	Data any  `json:"data"`
}

// NewEnvelope wraps data with a fresh event id.
func NewEnvelope(eventType, correlationID string, data any) Envelope {
	return Envelope{
		Meta: Meta{
			ID:            uuid.NewString(),
			CorrelationID: correlationID,
			Producer:      producer,
			Time:          time.Now().UTC(),
			Type:          eventType,
		},
		Data: data,
	}
}
