package models

import (
	"context"
	"time"

	"github.com/mmdatafocus/forecast_backend/config"
	"github.com/shopspring/decimal"
)

// AccuracyRecord is one realized-accuracy measurement for a forecast.
// Append-only: a newer evaluation for the same forecast adds a row, it never
// rewrites history. ForecastRecordId is a reference, not ownership; the row
// survives even if the forecast is later superseded.
type AccuracyRecord struct {
	ID               int              `gorm:"primary_key" json:"id"`
	BusinessId       string           `gorm:"size:64;not null;index" json:"business_id"`
	ForecastRecordId int              `gorm:"not null;index:idx_accuracy_forecast" json:"forecast_record_id"`
	ForecastType     ForecastType     `gorm:"column:forecast_type;size:20;not null;index" json:"forecast_type"`
	ModelIdentifier  string           `gorm:"size:50;index" json:"model_identifier"`
	ActualValue      decimal.Decimal  `gorm:"type:decimal(20,9);not null" json:"actual_value"`
	AbsoluteError    decimal.Decimal  `gorm:"type:decimal(20,9);not null" json:"absolute_error"`
	AccuracyPct      float64          `gorm:"column:accuracy_percentage;not null" json:"accuracy_percentage"`
	Grade            PerformanceGrade `gorm:"column:performance_grade;size:1;not null;index" json:"performance_grade"`
	EvaluatedAt      time.Time        `gorm:"not null;index:idx_accuracy_forecast" json:"evaluated_at"`
	CreatedAt        time.Time        `gorm:"autoCreateTime" json:"created_at"`
}

func AppendAccuracyRecord(ctx context.Context, rec *AccuracyRecord) error {
	db := config.GetDB()
	return db.WithContext(ctx).Create(rec).Error
}

func CountAccuracyRecords(ctx context.Context, businessId string, since time.Time) (int64, error) {
	db := config.GetDB()
	query := db.WithContext(ctx).Model(&AccuracyRecord{}).
		Where("business_id = ?", businessId)
	if !since.IsZero() {
		query = query.Where("evaluated_at >= ?", since)
	}
	var count int64
	err := query.Count(&count).Error
	return count, err
}

// AccuracyAggregateRow feeds the summary report: one row per (type, grade,
// model) bucket inside the window.
type AccuracyAggregateRow struct {
	ForecastType    ForecastType     `json:"forecast_type"`
	Grade           PerformanceGrade `json:"performance_grade"`
	ModelIdentifier string           `json:"model_identifier"`
	Count           int64            `json:"count"`
	MeanAccuracy    float64          `json:"mean_accuracy"`
}

func AggregateAccuracyRecords(ctx context.Context, businessId string, since time.Time) ([]AccuracyAggregateRow, error) {
	db := config.GetDB()
	var rows []AccuracyAggregateRow
	err := db.WithContext(ctx).Model(&AccuracyRecord{}).
		Select("forecast_type, performance_grade AS grade, model_identifier, COUNT(*) AS count, AVG(accuracy_percentage) AS mean_accuracy").
		Where("business_id = ? AND evaluated_at >= ?", businessId, since).
		Group("forecast_type, performance_grade, model_identifier").
		Scan(&rows).Error
	return rows, err
}
