package httpdto

import "time"

// ProcessingRecordDTO is the operator view of one queue record.
type ProcessingRecordDTO struct {
	EventID       string     `json:"event_id"`
	PartitionKey  string     `json:"partition_key,omitempty"`
	Status        string     `json:"status"`
	Attempts      int        `json:"attempts"`
	LastError     string     `json:"last_error,omitempty"`
	NextRetryAt   *time.Time `json:"next_retry_at,omitempty"`
	LockOwner     string     `json:"lock_owner,omitempty"`
	LockExpiresAt *time.Time `json:"lock_expires_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// SweepResultDTO summarizes a manually triggered reconciliation pass.
type SweepResultDTO struct {
	SweepID       string    `json:"sweep_id"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
	OrdersScanned int       `json:"orders_scanned"`
	StuckForced   int       `json:"stuck_forced"`
	Corrected     int       `json:"corrected"`
	Reported      int       `json:"reported"`
	Cancelled     bool      `json:"cancelled"`
}

// FindingDTO is the operator view of one reconciliation finding.
type FindingDTO struct {
	ID        string    `json:"id"`
	SweepID   string    `json:"sweep_id"`
	Type      string    `json:"type"`
	EntityID  string    `json:"entity_id"`
	Detail    string    `json:"detail"`
	Action    string    `json:"action"`
	CreatedAt time.Time `json:"created_at"`
}

// ForceFailRequest is the operator override for a stuck record.
type ForceFailRequest struct {
	Reason string `json:"reason"`
}
