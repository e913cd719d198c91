package models

import (
	"context"
	"time"

	"github.com/mmdatafocus/forecast_backend/config"
	"github.com/shopspring/decimal"
	"gorm.io/gorm/clause"
)

// ForecastActual is an observed ground-truth value for one reference and
// period. Actuals arrive from the books (posted invoices, expenses, stock
// counts) or via the record-actual API; the engine reads them both as
// prediction history and as the evaluation input for accuracy tracking.
type ForecastActual struct {
	ID           int             `gorm:"primary_key" json:"id"`
	BusinessId   string          `gorm:"size:64;not null;index:uniq_actual,unique" json:"business_id"`
	Type         ForecastType    `gorm:"column:forecast_type;size:20;not null;index:uniq_actual,unique" json:"forecast_type"`
	ReferenceKey string          `gorm:"size:128;not null;index:uniq_actual,unique" json:"reference_key"`
	PeriodStart  time.Time       `gorm:"not null;index:uniq_actual,unique" json:"period_start"`
	Value        decimal.Decimal `gorm:"type:decimal(20,9);not null" json:"value"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func UpsertForecastActual(ctx context.Context, rec *ForecastActual) error {
	db := config.GetDB()
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "business_id"},
			{Name: "forecast_type"},
			{Name: "reference_key"},
			{Name: "period_start"},
		},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(rec).Error
}

// ListActualHistory returns up to limit past actuals for a reference,
// oldest first, ending before the given period. This is the prediction
// capability's input series.
func ListActualHistory(ctx context.Context, businessId string, forecastType ForecastType, referenceKey string, before time.Time, limit int) ([]ForecastActual, error) {
	db := config.GetDB()
	var rows []ForecastActual
	err := db.WithContext(ctx).
		Where("business_id = ? AND forecast_type = ? AND reference_key = ? AND period_start < ?",
			businessId, forecastType, referenceKey, before).
		Order("period_start DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	// reverse to oldest-first
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	return rows, nil
}

func GetForecastActual(ctx context.Context, businessId string, forecastType ForecastType, referenceKey string, periodStart time.Time) (*ForecastActual, error) {
	db := config.GetDB()
	var rec ForecastActual
	err := db.WithContext(ctx).
		Where("business_id = ? AND forecast_type = ? AND reference_key = ? AND period_start = ?",
			businessId, forecastType, referenceKey, periodStart).
		Limit(1).
		Find(&rec).Error
	if err != nil {
		return nil, err
	}
	if rec.ID == 0 {
		return nil, nil
	}
	return &rec, nil
}
