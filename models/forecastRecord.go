package models

import (
	"context"
	"errors"
	"time"

	"github.com/mmdatafocus/forecast_backend/config"
	"github.com/mmdatafocus/forecast_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ForecastRecord holds one prediction for one (type, reference, business,
// period) tuple. The natural key (uniq_forecast index) makes every sync pass
// an upsert: re-running a sync with unchanged inputs rewrites the same row
// and never duplicates it. Superseded values stay visible through the
// accuracy history, so rows are updated in place rather than versioned.
type ForecastRecord struct {
	ID         int          `gorm:"primary_key" json:"id"`
	BusinessId string       `gorm:"size:64;not null;index:uniq_forecast,unique" json:"business_id"`
	Type       ForecastType `gorm:"column:forecast_type;type:enum('Financial', 'Cashflow', 'Revenue', 'Expense', 'Inventory', 'Sales');size:20;not null;index:uniq_forecast,unique" json:"forecast_type"`

	// ReferenceKey is the canonical string form of the entity reference
	// (see forecast.EntityRef); the FK columns below keep joins cheap.
	ReferenceKey string `gorm:"size:128;not null;index:uniq_forecast,unique" json:"reference_key"`
	AccountId    *int   `gorm:"index" json:"account_id"`
	ProductId    *int   `gorm:"index" json:"product_id"`
	WarehouseId  *int   `gorm:"index" json:"warehouse_id"`
	CustomerId   *int   `gorm:"index" json:"customer_id"`
	SupplierId   *int   `gorm:"index" json:"supplier_id"`

	PredictedValue  decimal.Decimal `gorm:"type:decimal(20,9);not null" json:"predicted_value"`
	LowerBound      decimal.Decimal `gorm:"type:decimal(20,9);not null" json:"lower_bound"`
	UpperBound      decimal.Decimal `gorm:"type:decimal(20,9);not null" json:"upper_bound"`
	ConfidenceScore float64         `gorm:"not null;default:0" json:"confidence_score"`
	ModelIdentifier string          `gorm:"size:50;index" json:"model_identifier"`

	PeriodStart time.Time `gorm:"not null;index:uniq_forecast,unique" json:"period_start"`
	PeriodEnd   time.Time `gorm:"not null" json:"period_end"`

	SyncStatus   SyncStatus `gorm:"size:20;not null;default:'Pending';index" json:"sync_status"`
	LastSyncedAt *time.Time `json:"last_synced_at"`
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// UpsertForecastRecord writes by natural key. On conflict the prediction
// columns are refreshed in place; rec.ID is populated either way.
func UpsertForecastRecord(ctx context.Context, rec *ForecastRecord) error {
	db := config.GetDB()
	err := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "business_id"},
			{Name: "forecast_type"},
			{Name: "reference_key"},
			{Name: "period_start"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"predicted_value", "lower_bound", "upper_bound",
			"confidence_score", "model_identifier", "period_end",
			"sync_status", "last_synced_at",
		}),
	}).Create(rec).Error
	if err != nil {
		return err
	}
	if rec.ID == 0 {
		// MySQL upsert-on-duplicate does not always report the row id back;
		// resolve it by natural key.
		var existing ForecastRecord
		if err := db.WithContext(ctx).
			Where("business_id = ? AND forecast_type = ? AND reference_key = ? AND period_start = ?",
				rec.BusinessId, rec.Type, rec.ReferenceKey, rec.PeriodStart).
			First(&existing).Error; err != nil {
			return err
		}
		rec.ID = existing.ID
	}
	return nil
}

func GetForecastRecordById(ctx context.Context, businessId string, id int) (*ForecastRecord, error) {
	db := config.GetDB()
	var rec ForecastRecord
	err := db.WithContext(ctx).
		Where("business_id = ? AND id = ?", businessId, id).
		First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// ForecastSyncSummaryRow is one (type, status) bucket in the status report.
type ForecastSyncSummaryRow struct {
	Type   ForecastType `json:"forecast_type"`
	Status SyncStatus   `json:"sync_status"`
	Count  int64        `json:"count"`
}

// CountForecastsByTypeAndStatus buckets forecasts touched since the cutoff;
// a zero cutoff counts everything.
func CountForecastsByTypeAndStatus(ctx context.Context, businessId string, since time.Time) ([]ForecastSyncSummaryRow, error) {
	db := config.GetDB()
	query := db.WithContext(ctx).Model(&ForecastRecord{}).
		Select("forecast_type AS type, sync_status AS status, COUNT(*) AS count").
		Where("business_id = ?", businessId)
	if !since.IsZero() {
		query = query.Where("updated_at >= ?", since)
	}
	var rows []ForecastSyncSummaryRow
	err := query.Group("forecast_type, sync_status").Scan(&rows).Error
	return rows, err
}
