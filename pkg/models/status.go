package models

import "time"

// Sync status values. A row moves from pending through processing to one
// of the terminal states. Completed must be corroborated by persisted data; the
// engine downgrades stale completed markers when corroboration is missing.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusPartial    = "partial"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Sync types tracked independently per symbol in the progress store.
const (
	SyncTypeExtended     = "extended"
	SyncTypeValuations   = "valuations"
	SyncTypeFundamentals = "fundamentals"
)

// SyncStatus is the per-entity progress row keyed
// (symbol, sync_type, target_date). It is the only state the engine uses
// to recover after a crash.
type SyncStatus struct {
	Symbol     string    `json:"symbol"`
	SyncType   string    `json:"sync_type"`
	TargetDate time.Time `json:"target_date"`
	Status     string    `json:"status"`
	Reason     string    `json:"reason,omitempty"` // which sub-fetches were missing, for diagnostics
	SessionID  string    `json:"session_id"`
	Records    int       `json:"records"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Terminal reports whether the status will not change within this run.
func (s *SyncStatus) Terminal() bool {
	switch s.Status {
	case StatusCompleted, StatusPartial, StatusFailed:
		return true
	}
	return false
}

// Stale reports whether a transient status has been sitting untouched for
// longer than the given threshold, which is treated as evidence of an
// interrupted run.
func (s *SyncStatus) Stale(now time.Time, after time.Duration) bool {
	if s.Status != StatusProcessing {
		return false
	}
	return now.Sub(s.UpdatedAt) > after
}

// QuarterProgress marks a bulk quarterly fundamentals drop as imported.
// SourceFingerprint is the remote content hash of the drop; a changed
// fingerprint forces a delete-and-reimport of the quarter.
type QuarterProgress struct {
	Year              int       `json:"year"`
	Quarter           int       `json:"quarter"`
	CompletedAt       time.Time `json:"completed_at"`
	RecordCount       int       `json:"record_count"`
	SourceFingerprint string    `json:"source_fingerprint"`
}

// SyncSummary is the whole-run summary row written once per invocation.
type SyncSummary struct {
	Symbol       string    `json:"symbol"` // ALL_SYMBOLS for the aggregate row
	Frequency    string    `json:"frequency"`
	LastSyncDate time.Time `json:"last_sync_date"`
	LastDataDate time.Time `json:"last_data_date"`
	Status       string    `json:"status"`
	Message      string    `json:"message,omitempty"`
	TotalRecords int       `json:"total_records"`
	UpdatedAt    time.Time `json:"updated_at"`
}
