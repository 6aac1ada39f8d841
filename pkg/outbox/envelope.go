package outbox

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const envelopeVersion = 1

// Actor identifies who triggered the event. Sweeps use the system role.
type Actor struct {
	UserID uuid.UUID `json:"userId"`
	Role   string    `json:"role,omitempty"`
}

// Envelope wraps every outbox payload. EventID is the dedupe key consumers
// use; it is minted once at emit time and survives redelivery.
type Envelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *Actor          `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}

var errEmptyPayload = errors.New("envelope carries no data")

func sealEnvelope(version int, occurredAt time.Time, actor *Actor, data any) ([]byte, Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, Envelope{}, fmt.Errorf("encode event data: %w", err)
	}
	if version == 0 {
		version = envelopeVersion
	}
	env := Envelope{
		Version:    version,
		EventID:    uuid.NewString(),
		OccurredAt: occurredAt.UTC(),
		Actor:      actor,
		Data:       raw,
	}
	sealed, err := json.Marshal(env)
	if err != nil {
		return nil, Envelope{}, fmt.Errorf("encode envelope: %w", err)
	}
	return sealed, env, nil
}

// OpenEnvelope decodes a stored payload and checks that it carries data.
func OpenEnvelope(payload []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	data := bytes.TrimSpace(env.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return Envelope{}, errEmptyPayload
	}
	return env, nil
}
