package outbox

import (
	"encoding/json"
	"time"
)

// ActorRef identifies what caused the event: the reconciliation engine, an
// operator override or the public API.
type ActorRef struct {
	Kind string `json:"kind"`
	ID   string `json:"id,omitempty"`
}

const (
	ActorSystem   = "system"
	ActorOperator = "operator"
	ActorPublic   = "public"
)

// PayloadEnvelope is the stable payload structure stored in outbox_events.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}
