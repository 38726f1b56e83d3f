package core

import (
	"context"
	"time"
)

// EventType names an access-control event in the audit trail.
type EventType string

const (
	EventPolicyGranted  EventType = "policy.granted"
	EventPolicyRevoked  EventType = "policy.revoked"
	EventPolicyExpired  EventType = "policy.expired"
	EventDecryptAllowed EventType = "decrypt.allowed"
	EventDecryptDenied  EventType = "decrypt.denied"
)

// Denial reasons recorded in the audit trail. Callers only ever see NoAccess.
const (
	ReasonNoPolicy          = "no_policy"
	ReasonRevoked           = "revoked"
	ReasonExpired           = "expired"
	ReasonMissingCiphertext = "missing_ciphertext"
	ReasonUpstream          = "upstream_error"
)

// AccessEvent is one entry of the access audit trail.
type AccessEvent struct {
	Type       EventType `json:"type"`
	PolicyID   string    `json:"policy_id,omitempty"`
	ResourceID string    `json:"resource_id"`
	ActorID    string    `json:"actor_id,omitempty"`
	GranteeID  string    `json:"grantee_id,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	At         time.Time `json:"at"`
}

// AccessEventLogger records access events to an external sink (log, table, queue).
// Implementations should be non-blocking and best-effort.
type AccessEventLogger interface {
	LogAccessEvent(ctx context.Context, ev AccessEvent) error
}
