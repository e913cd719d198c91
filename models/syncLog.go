package models

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mmdatafocus/forecast_backend/config"
)

// SyncErrorDetail is one entry of a SyncLog's ordered error list.
type SyncErrorDetail struct {
	Reference string `json:"reference"`
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// SyncLog is the durable, append-only record of one completed (or failed)
// sync operation. It is written exactly once at the end of every run,
// including runs that failed to process anything, and never mutated.
// Invariant: TotalItems == SuccessfulItems + FailedItems.
type SyncLog struct {
	ID               int           `gorm:"primary_key" json:"id"`
	BusinessId       string        `gorm:"size:64;not null;index" json:"business_id"`
	SyncType         string        `gorm:"size:50;not null;index" json:"sync_type"`
	ScopeDescription string        `gorm:"size:255" json:"scope_description"`
	StartedAt        time.Time     `gorm:"not null;index" json:"started_at"`
	FinishedAt       time.Time     `gorm:"not null" json:"finished_at"`
	TotalItems       int           `gorm:"not null" json:"total_items"`
	SuccessfulItems  int           `gorm:"not null" json:"successful_items"`
	FailedItems      int           `gorm:"not null" json:"failed_items"`
	SuccessRate      float64       `gorm:"not null" json:"success_rate"`
	Status           SyncLogStatus `gorm:"size:20;not null;index" json:"status"`
	ErrorDetailsJSON []byte        `gorm:"type:json" json:"error_details"`
	CreatedAt        time.Time     `gorm:"autoCreateTime" json:"created_at"`
}

func (l *SyncLog) ErrorDetails() []SyncErrorDetail {
	if len(l.ErrorDetailsJSON) == 0 {
		return nil
	}
	var details []SyncErrorDetail
	if err := json.Unmarshal(l.ErrorDetailsJSON, &details); err != nil {
		return nil
	}
	return details
}

func (l *SyncLog) SetErrorDetails(details []SyncErrorDetail) {
	if len(details) == 0 {
		l.ErrorDetailsJSON = nil
		return
	}
	b, _ := json.Marshal(details)
	l.ErrorDetailsJSON = b
}

func AppendSyncLog(ctx context.Context, log *SyncLog) error {
	db := config.GetDB()
	return db.WithContext(ctx).Create(log).Error
}

func GetLastSyncDate(ctx context.Context, businessId string) (*time.Time, error) {
	db := config.GetDB()
	var last SyncLog
	err := db.WithContext(ctx).
		Where("business_id = ?", businessId).
		Order("started_at DESC").
		Limit(1).
		Find(&last).Error
	if err != nil {
		return nil, err
	}
	if last.ID == 0 {
		return nil, nil
	}
	return &last.StartedAt, nil
}
