package domain

import "time"

// AuditAction enumerates credential-affecting operations.
type AuditAction string

const (
	AuditBegin           AuditAction = "begin"
	AuditCallbackSuccess AuditAction = "callback_success"
	AuditCallbackFailure AuditAction = "callback_failure"
	AuditRefresh         AuditAction = "refresh"
	AuditRevoke          AuditAction = "revoke"
)

// AuditOutcome records whether the action succeeded.
type AuditOutcome string

const (
	OutcomeSuccess AuditOutcome = "success"
	OutcomeFailure AuditOutcome = "failure"
)

// AuditEntry is one append-only row of the credential audit trail.
// IntegrationID is zero for failures that happened before an
// integration row existed. Metadata must never contain token material.
type AuditEntry struct {
	ID            int64
	Actor         string
	IntegrationID int64
	Action        AuditAction
	Outcome       AuditOutcome
	Metadata      map[string]any
	CreatedAt     time.Time
}
