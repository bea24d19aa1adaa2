package domain

import (
	"encoding/json"
	"time"
)

// MutationMetadata travels with every permit mutation and ends up on the
// outbox event emitted for it.
type MutationMetadata struct {
	Actor      string
	Source     string
	RequestID  string
	OccurredAt time.Time
}

func (m MutationMetadata) Normalize() MutationMetadata {
	if m.Actor == "" {
		m.Actor = "api"
	}
	if m.Source == "" {
		m.Source = "api"
	}
	if m.OccurredAt.IsZero() {
		m.OccurredAt = time.Now().UTC()
	}
	return m
}

// EventEnvelope is the wire form pushed to webhook receivers for every
// permit mutation.
type EventEnvelope struct {
	EventID      string          `json:"event_id"`
	EventType    string          `json:"event_type"`
	PermitID     uint64          `json:"permit_id"`
	PermitNumber string          `json:"permit_number"`
	OccurredAt   time.Time       `json:"occurred_at"`
	Actor        string          `json:"actor"`
	Source       string          `json:"source"`
	RequestID    string          `json:"request_id"`
	Payload      json.RawMessage `json:"payload"`
}

type OutboxEvent struct {
	ID            int64
	EventID       string
	Topic         string
	PayloadJSON   json.RawMessage
	Status        string
	Attempts      int
	NextAttemptAt time.Time
	LastError     string
	CreatedAt     time.Time
	DispatchedAt  *time.Time
}
