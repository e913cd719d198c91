package forecast

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mmdatafocus/forecast_backend/models"
)

// EntityRef identifies one forecastable entity for one period. The reference
// shape depends on the forecast type: account-driven types point at an
// account, Inventory at an item+warehouse, Sales at an item+customer.
type EntityRef struct {
	BusinessId  string              `json:"business_id"`
	Type        models.ForecastType `json:"forecast_type"`
	AccountId   int                 `json:"account_id,omitempty"`
	ProductId   int                 `json:"product_id,omitempty"`
	WarehouseId int                 `json:"warehouse_id,omitempty"`
	CustomerId  int                 `json:"customer_id,omitempty"`
	SupplierId  int                 `json:"supplier_id,omitempty"`
	PeriodStart time.Time           `json:"period_start"`
	PeriodEnd   time.Time           `json:"period_end"`
}

// ReferenceKey is the canonical string identity persisted on forecast rows
// and used for sync-slot exclusion.
func (r EntityRef) ReferenceKey() string {
	switch r.Type {
	case models.ForecastTypeInventory:
		return fmt.Sprintf("product:%d:warehouse:%d", r.ProductId, r.WarehouseId)
	case models.ForecastTypeSales:
		return fmt.Sprintf("product:%d:customer:%d", r.ProductId, r.CustomerId)
	default:
		if r.SupplierId != 0 {
			return fmt.Sprintf("supplier:%d", r.SupplierId)
		}
		return fmt.Sprintf("account:%d", r.AccountId)
	}
}

// SlotKey identifies the entity reference for mutual exclusion. The period is
// deliberately excluded: two syncs of the same entity must serialize even
// when they target different periods, because both rewrite shared history.
func (r EntityRef) SlotKey() string {
	return r.BusinessId + "|" + string(r.Type) + "|" + r.ReferenceKey()
}

func (r EntityRef) Validate() error {
	if r.BusinessId == "" {
		return fmt.Errorf("%w: business id required", ErrValidation)
	}
	if !r.Type.Valid() {
		return fmt.Errorf("%w: unknown forecast type %q", ErrValidation, r.Type)
	}
	switch r.Type {
	case models.ForecastTypeInventory:
		if r.ProductId == 0 || r.WarehouseId == 0 {
			return fmt.Errorf("%w: inventory forecast requires product and warehouse", ErrValidation)
		}
	case models.ForecastTypeSales:
		if r.ProductId == 0 || r.CustomerId == 0 {
			return fmt.Errorf("%w: sales forecast requires product and customer", ErrValidation)
		}
	default:
		if r.AccountId == 0 && r.SupplierId == 0 {
			return fmt.Errorf("%w: %s forecast requires an account", ErrValidation, r.Type)
		}
	}
	if r.PeriodStart.IsZero() || !r.PeriodEnd.After(r.PeriodStart) {
		return fmt.Errorf("%w: invalid forecast period", ErrValidation)
	}
	return nil
}

// ParseReferenceKey rebuilds the id parts from a stored reference key.
func ParseReferenceKey(key string) (map[string]int, error) {
	parts := strings.Split(key, ":")
	if len(parts)%2 != 0 {
		return nil, fmt.Errorf("%w: malformed reference key %q", ErrValidation, key)
	}
	ids := make(map[string]int, len(parts)/2)
	for i := 0; i < len(parts); i += 2 {
		id, err := strconv.Atoi(parts[i+1])
		if err != nil {
			return nil, fmt.Errorf("%w: malformed reference key %q", ErrValidation, key)
		}
		ids[parts[i]] = id
	}
	return ids, nil
}

// SyncScope filters one sync run: a company, optionally a subset of forecast
// types and a date range. Empty Types means all types.
type SyncScope struct {
	BusinessId string                `json:"business_id"`
	Types      []models.ForecastType `json:"forecast_types,omitempty"`
	DateFrom   *time.Time            `json:"date_from,omitempty"`
	DateTo     *time.Time            `json:"date_to,omitempty"`
}

func (s SyncScope) EffectiveTypes() []models.ForecastType {
	if len(s.Types) == 0 {
		return models.AllForecastTypes
	}
	return s.Types
}

func (s SyncScope) Validate() error {
	if s.BusinessId == "" {
		return fmt.Errorf("%w: business id required", ErrValidation)
	}
	for _, t := range s.Types {
		if !t.Valid() {
			return fmt.Errorf("%w: unknown forecast type %q", ErrValidation, t)
		}
	}
	if s.DateFrom != nil && s.DateTo != nil && s.DateTo.Before(*s.DateFrom) {
		return fmt.Errorf("%w: date range inverted", ErrValidation)
	}
	return nil
}

// Period resolves the forecast period the scope targets: the calendar month
// of DateFrom, defaulting to the current month.
func (s SyncScope) Period(now time.Time) (time.Time, time.Time) {
	anchor := now
	if s.DateFrom != nil {
		anchor = *s.DateFrom
	}
	start := time.Date(anchor.Year(), anchor.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}

func (s SyncScope) Describe() string {
	types := make([]string, 0, len(s.EffectiveTypes()))
	for _, t := range s.EffectiveTypes() {
		types = append(types, string(t))
	}
	desc := fmt.Sprintf("business=%s types=%s", s.BusinessId, strings.Join(types, ","))
	if s.DateFrom != nil {
		desc += " from=" + s.DateFrom.Format("2006-01-02")
	}
	if s.DateTo != nil {
		desc += " to=" + s.DateTo.Format("2006-01-02")
	}
	return desc
}

type Outcome string

const (
	OutcomeSynced Outcome = "Synced"
	OutcomeFailed Outcome = "Failed"
	OutcomeBusy   Outcome = "Busy"
)

// SyncResult is the terminal state of one entity-level sync unit.
type SyncResult struct {
	Ref        EntityRef `json:"ref"`
	Outcome    Outcome   `json:"outcome"`
	ForecastId int       `json:"forecast_id,omitempty"`
	Err        error     `json:"-"`
	ErrorCode  string    `json:"error_code,omitempty"`
	Retried    bool      `json:"retried,omitempty"`
}

// ----- API payloads -----

type SyncAllRequest struct {
	ForecastTypes []string   `json:"forecast_types"`
	DateFrom      *time.Time `json:"date_from"`
	DateTo        *time.Time `json:"date_to"`
}

type SyncOneRequest struct {
	ForecastType string     `json:"forecast_type" binding:"required"`
	AccountId    int        `json:"account_id"`
	ProductId    int        `json:"product_id"`
	WarehouseId  int        `json:"warehouse_id"`
	CustomerId   int        `json:"customer_id"`
	SupplierId   int        `json:"supplier_id"`
	Date         *time.Time `json:"date"`
}

type SyncOneResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	CreatedId int    `json:"created_id,omitempty"`
}

type RecordActualRequest struct {
	ForecastId  int     `json:"forecast_id" binding:"required"`
	ActualValue float64 `json:"actual_value"`
}

type RecordActualResponse struct {
	AccuracyPercentage float64 `json:"accuracy_percentage"`
	PerformanceGrade   string  `json:"performance_grade"`
	AbsoluteError      float64 `json:"absolute_error"`
}

type SyncLogSummary struct {
	Id              int                      `json:"id"`
	Status          string                   `json:"status"`
	TotalItems      int                      `json:"total_items"`
	SuccessfulItems int                      `json:"successful_items"`
	FailedItems     int                      `json:"failed_items"`
	SuccessRate     float64                  `json:"success_rate"`
	ErrorDetails    []models.SyncErrorDetail `json:"error_details"`
	ErrorReport     *ErrorReport             `json:"error_report,omitempty"`
}

func NewSyncLogSummary(log *models.SyncLog) SyncLogSummary {
	summary := SyncLogSummary{
		Id:              log.ID,
		Status:          string(log.Status),
		TotalItems:      log.TotalItems,
		SuccessfulItems: log.SuccessfulItems,
		FailedItems:     log.FailedItems,
		SuccessRate:     log.SuccessRate,
		ErrorDetails:    log.ErrorDetails(),
	}
	if len(summary.ErrorDetails) > 0 {
		report := Aggregate(summary.ErrorDetails)
		summary.ErrorReport = &report
	}
	return summary
}

type TypeSyncSummary struct {
	Pending int64 `json:"pending"`
	Synced  int64 `json:"synced"`
	Failed  int64 `json:"failed"`
}

type SyncStatusResponse struct {
	SyncSummaryByType       map[models.ForecastType]TypeSyncSummary `json:"sync_summary_by_type"`
	TotalFinancialForecasts int64                                   `json:"total_financial_forecasts"`
	AccuracyTrackingCount   int64                                   `json:"accuracy_tracking_count"`
	LastSyncDate            *time.Time                              `json:"last_sync_date"`
}

type ModelAccuracy struct {
	Model        string  `json:"model"`
	MeanAccuracy float64 `json:"mean_accuracy"`
	Count        int64   `json:"count"`
}

type AccuracySummary struct {
	TotalRecords            int64                              `json:"total_records"`
	AvgAccuracy             float64                            `json:"avg_accuracy"`
	AccuracyByType          map[models.ForecastType]float64    `json:"accuracy_by_type"`
	PerformanceDistribution map[models.PerformanceGrade]int64  `json:"performance_distribution"`
	TopModels               []ModelAccuracy                    `json:"top_models"`
}

type TriggerSyncRequest struct {
	ForecastTypes []string   `json:"forecast_types"`
	DateFrom      *time.Time `json:"date_from"`
	DateTo        *time.Time `json:"date_to"`
}

type SyncRunResponse struct {
	ID         uint    `json:"id"`
	Status     string  `json:"status"`
	StartedAt  *string `json:"started_at"`
	FinishedAt *string `json:"finished_at"`
	DurationMs int64   `json:"duration_ms"`
	ErrorCount int     `json:"error_count"`

	TriggeredBy string `json:"triggered_by"`
	SyncLogId   *int   `json:"sync_log_id"`
}

// ----- Pub/Sub payloads -----

type PubSubPushEnvelope struct {
	Message struct {
		Data []byte `json:"data"`
		ID   string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

type SyncPubSubPayload struct {
	RunId      uint   `json:"run_id"`
	BusinessId string `json:"business_id"`
}

func DecodeScope(raw []byte) (SyncScope, error) {
	var scope SyncScope
	if len(raw) == 0 {
		return scope, fmt.Errorf("%w: empty scope", ErrValidation)
	}
	if err := json.Unmarshal(raw, &scope); err != nil {
		return scope, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return scope, nil
}

func EncodeScope(scope SyncScope) []byte {
	b, _ := json.Marshal(scope)
	return b
}
