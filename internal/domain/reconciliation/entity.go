package reconciliation

import (
	"time"

	"github.com/google/uuid"
)

// FindingType identifies the class of inconsistency a sweep detected
type FindingType string

const (
	FindingStuckProcessing FindingType = "STUCK_PROCESSING"
	FindingOrphanedPaid    FindingType = "ORPHANED_PAID_FLAG"
	FindingStalledPending  FindingType = "STALLED_PENDING_ORDER"
	FindingStubOrder       FindingType = "STUB_ORDER"
	FindingExternalDrift   FindingType = "EXTERNAL_DRIFT"
)

// Action taken (or not) for a finding.
type Action string

const (
	ActionCorrected Action = "CORRECTED"
	ActionReported  Action = "REPORTED"
)

// Finding is the audit record of one detected inconsistency.
// Ambiguous findings are ActionReported and left for a human.
type Finding struct {
	ID        uuid.UUID
	SweepID   uuid.UUID
	Type      FindingType
	EntityID  string // order id, event id, or processing record id
	Detail    string
	Action    Action
	CreatedAt time.Time
}

// SweepStats summarizes one reconciliation pass for the monitor.
type SweepStats struct {
	SweepID        uuid.UUID
	StartedAt      time.Time
	FinishedAt     time.Time
	OrdersScanned  int
	StuckForced    int
	Corrected      int
	Reported       int
	ResumedFromID  string
	Cancelled      bool
}
