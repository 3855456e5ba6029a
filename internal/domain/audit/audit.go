// Package audit defines the fire-and-forget audit collaborator interface.
// Audit delivery is best-effort: recorder failures are logged and swallowed,
// never surfaced to the caller, and never roll back the caller's transaction.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Action is the audited action kind
type Action string

const (
	ActionCreate Action = "CREATE"
	ActionUpdate Action = "UPDATE"
	ActionCancel Action = "CANCEL"
	// ActionComplianceDraft and ActionComplianceApprove are the two distinct,
	// non-duplicative controlled-substance compliance actions emitted at
	// return draft time and at approval time.
	ActionComplianceDraft   Action = "COMPLIANCE_DRAFT"
	ActionComplianceApprove Action = "COMPLIANCE_APPROVE"
)

// Record is one audit event
type Record struct {
	TenantID   uuid.UUID
	ActorID    uuid.UUID
	EntityType string
	EntityID   uuid.UUID
	Action     Action
	OldValue   string
	NewValue   string
	OccurredAt time.Time
}

// Recorder receives audit records after each successful mutation. Delivery
// policy (batching, retries) is owned entirely by the implementation.
type Recorder interface {
	Record(ctx context.Context, rec Record)
}

// NopRecorder discards all records; used in tests and as a safe default.
type NopRecorder struct{}

// Record implements Recorder
func (NopRecorder) Record(context.Context, Record) {}
