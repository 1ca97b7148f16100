package rabbitmq

import "time"

// DomainEventEnvelope is the canonical envelope shared across services.
// NOTE: message_id is optional for backward compatibility.
type DomainEventEnvelope[T any] struct {
	Version    int       `json:"version"`
	Producer   string    `json:"producer"`
	TraceID    string    `json:"trace_id,omitempty"`
	MessageID  string    `json:"message_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    T         `json:"payload"`
}

// UserLoggedInPayload is published by the auth service on every successful login.
// Fingerprint is empty when the client did not send a device fingerprint.
type UserLoggedInPayload struct {
	UserID      string `json:"user_id"`
	Fingerprint string `json:"fingerprint,omitempty"`
}
