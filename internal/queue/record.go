package queue

import (
	"encoding/json"
	"fmt"
)

// Envelope is the unit of work recorded by the queue backend. Payload stays
// raw JSON so the queue never depends on feature types.
type Envelope struct {
	ID           string          `json:"id"`
	Queue        string          `json:"queue"`
	Name         string          `json:"name"`
	Payload      json.RawMessage `json:"payload"`
	Attempts     int             `json:"attempts"`
	MaxAttempts  int             `json:"maxAttempts"`
	BackoffMs    int64           `json:"backoffMs"`
	EnqueuedAtMs int64           `json:"enqueuedAtMs"`
	DequeuedAtMs int64           `json:"dequeuedAtMs,omitempty"`
	FailedAtMs   int64           `json:"failedAtMs,omitempty"`
	LastError    string          `json:"lastError,omitempty"`
}

// EncodeEnvelope serializes an envelope for the job key.
func EncodeEnvelope(env *Envelope) ([]byte, error) {
	b, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode envelope %s: %w", env.ID, err)
	}
	return b, nil
}

// DecodeEnvelope parses an envelope from the job key.
func DecodeEnvelope(b []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.ID == "" || env.Name == "" {
		return nil, fmt.Errorf("decode envelope: missing id or name")
	}
	return &env, nil
}

// Exhausted reports whether the attempt budget is spent.
func (e *Envelope) Exhausted() bool { return e.Attempts >= e.MaxAttempts }
