package models

import "time"

// ForecastSyncRun is the durable queue record for asynchronous scope syncs
// triggered over Pub/Sub. The API enqueues one (queued), the sync worker
// drives it to a terminal state and links the resulting SyncLog. Duplicate
// Pub/Sub deliveries are absorbed by the terminal-status check plus the
// IdempotencyKey table.
type ForecastSyncRun struct {
	ID          uint       `gorm:"primary_key" json:"id"`
	BusinessId  string     `gorm:"index;not null" json:"business_id"`
	Status      string     `gorm:"size:20;not null;index" json:"status"`
	TriggeredBy string     `gorm:"size:20" json:"triggered_by"`
	ScopeJSON   []byte     `gorm:"type:json" json:"scope"`
	SyncLogId   *int       `gorm:"index" json:"sync_log_id"`
	ErrorCount  int        `json:"error_count"`
	ParentRunId *uint      `gorm:"index" json:"parent_run_id"`
	StartedAt   *time.Time `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at"`
	DurationMs  int64      `json:"duration_ms"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
