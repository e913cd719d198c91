package forecast

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mmdatafocus/forecast_backend/config"
	"github.com/mmdatafocus/forecast_backend/models"
	"github.com/mmdatafocus/forecast_backend/utils"
)

// Store is the repository adapter the engine runs against. The production
// implementation is gorm over MySQL; tests substitute an in-memory fake.
// Implementations must map infrastructure failures to ErrAdapterIO and
// missing entities to ErrNotFound so the retry classifier can tell them
// apart.
type Store interface {
	ResolveEntities(ctx context.Context, scope SyncScope) ([]EntityRef, error)
	ValidateRef(ctx context.Context, ref EntityRef) error
	History(ctx context.Context, ref EntityRef, periods int) ([]float64, error)
	ActualFor(ctx context.Context, ref EntityRef) (*float64, error)
	SaveActual(ctx context.Context, rec *models.ForecastActual) error
	PrimaryWarehouse(ctx context.Context, businessId string) (int, error)

	UpsertForecast(ctx context.Context, rec *models.ForecastRecord) error
	MarkForecastFailed(ctx context.Context, ref EntityRef)
	GetForecast(ctx context.Context, businessId string, id int) (*models.ForecastRecord, error)
	UpdateForecastBounds(ctx context.Context, rec *models.ForecastRecord) error

	AppendAccuracy(ctx context.Context, rec *models.AccuracyRecord) error
	AppendSyncLog(ctx context.Context, log *models.SyncLog) error

	// a zero `since` means all time
	SyncSummary(ctx context.Context, businessId string, since time.Time) ([]models.ForecastSyncSummaryRow, error)
	CountForecasts(ctx context.Context, businessId string, forecastType models.ForecastType, since time.Time) (int64, error)
	CountAccuracy(ctx context.Context, businessId string, since time.Time) (int64, error)
	LastSyncDate(ctx context.Context, businessId string) (*time.Time, error)
	AggregateAccuracy(ctx context.Context, businessId string, since time.Time) ([]models.AccuracyAggregateRow, error)
}

type gormStore struct{}

func NewStore() Store { return gormStore{} }

func wrapIO(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %v", ErrAdapterIO, op, err)
}

// ResolveEntities lists the forecastable entities inside the scope. Account
// driven types enumerate the chart of accounts filtered by main type;
// Inventory and Sales enumerate the references that have observed history,
// since an item pair with no actuals has nothing to predict from.
func (gormStore) ResolveEntities(ctx context.Context, scope SyncScope) ([]EntityRef, error) {
	db := config.GetDB()
	periodStart, periodEnd := scope.Period(time.Now())

	var refs []EntityRef
	for _, t := range scope.EffectiveTypes() {
		switch t {
		case models.ForecastTypeInventory, models.ForecastTypeSales:
			var keys []string
			err := db.WithContext(ctx).Model(&models.ForecastActual{}).
				Distinct("reference_key").
				Where("business_id = ? AND forecast_type = ?", scope.BusinessId, t).
				Order("reference_key").
				Pluck("reference_key", &keys).Error
			if err != nil {
				return nil, wrapIO("list actual references", err)
			}
			for _, key := range keys {
				ids, err := ParseReferenceKey(key)
				if err != nil {
					continue
				}
				refs = append(refs, EntityRef{
					BusinessId:  scope.BusinessId,
					Type:        t,
					ProductId:   ids["product"],
					WarehouseId: ids["warehouse"],
					CustomerId:  ids["customer"],
					SupplierId:  ids["supplier"],
					PeriodStart: periodStart,
					PeriodEnd:   periodEnd,
				})
			}
		default:
			query := db.WithContext(ctx).Model(&models.Account{}).
				Where("business_id = ? AND is_active = ?", scope.BusinessId, true)
			switch t {
			case models.ForecastTypeRevenue:
				query = query.Where("main_type = ?", models.AccountMainTypeIncome)
			case models.ForecastTypeExpense:
				query = query.Where("main_type = ?", models.AccountMainTypeExpense)
			case models.ForecastTypeCashflow:
				query = query.Where("main_type = ?", models.AccountMainTypeAsset)
			}
			var accountIds []int
			if err := query.Order("id").Pluck("id", &accountIds).Error; err != nil {
				return nil, wrapIO("list accounts", err)
			}
			for _, id := range accountIds {
				refs = append(refs, EntityRef{
					BusinessId:  scope.BusinessId,
					Type:        t,
					AccountId:   id,
					PeriodStart: periodStart,
					PeriodEnd:   periodEnd,
				})
			}
		}
	}
	return refs, nil
}

func (gormStore) ValidateRef(ctx context.Context, ref EntityRef) error {
	if err := ref.Validate(); err != nil {
		return err
	}
	db := config.GetDB()
	exists := func(model interface{}, id int, what string) error {
		if id == 0 {
			return nil
		}
		var count int64
		err := db.WithContext(ctx).Model(model).
			Where("business_id = ? AND id = ?", ref.BusinessId, id).
			Count(&count).Error
		if err != nil {
			return wrapIO("check "+what, err)
		}
		if count == 0 {
			return fmt.Errorf("%w: %s %d", ErrNotFound, what, id)
		}
		return nil
	}
	if err := exists(&models.Account{}, ref.AccountId, "account"); err != nil {
		return err
	}
	if err := exists(&models.Product{}, ref.ProductId, "product"); err != nil {
		return err
	}
	if err := exists(&models.Warehouse{}, ref.WarehouseId, "warehouse"); err != nil {
		return err
	}
	if err := exists(&models.Customer{}, ref.CustomerId, "customer"); err != nil {
		return err
	}
	return exists(&models.Supplier{}, ref.SupplierId, "supplier")
}

func (gormStore) History(ctx context.Context, ref EntityRef, periods int) ([]float64, error) {
	rows, err := models.ListActualHistory(ctx, ref.BusinessId, ref.Type, ref.ReferenceKey(), ref.PeriodStart, periods)
	if err != nil {
		return nil, wrapIO("load history", err)
	}
	values := make([]float64, 0, len(rows))
	for _, row := range rows {
		values = append(values, utils.DecimalToFloat(row.Value))
	}
	return values, nil
}

func (gormStore) ActualFor(ctx context.Context, ref EntityRef) (*float64, error) {
	rec, err := models.GetForecastActual(ctx, ref.BusinessId, ref.Type, ref.ReferenceKey(), ref.PeriodStart)
	if err != nil {
		return nil, wrapIO("load actual", err)
	}
	if rec == nil {
		return nil, nil
	}
	v := utils.DecimalToFloat(rec.Value)
	return &v, nil
}

func (gormStore) SaveActual(ctx context.Context, rec *models.ForecastActual) error {
	return wrapIO("save actual", models.UpsertForecastActual(ctx, rec))
}

func (gormStore) PrimaryWarehouse(ctx context.Context, businessId string) (int, error) {
	db := config.GetDB()
	var wh models.Warehouse
	err := db.WithContext(ctx).
		Where("business_id = ? AND is_active = ?", businessId, true).
		Order("id").
		Limit(1).
		Find(&wh).Error
	if err != nil {
		return 0, wrapIO("resolve warehouse", err)
	}
	if wh.ID == 0 {
		return 0, fmt.Errorf("%w: no active warehouse for business %s", ErrNotFound, businessId)
	}
	return wh.ID, nil
}

func (gormStore) UpsertForecast(ctx context.Context, rec *models.ForecastRecord) error {
	return wrapIO("upsert forecast", models.UpsertForecastRecord(ctx, rec))
}

func (gormStore) MarkForecastFailed(ctx context.Context, ref EntityRef) {
	db := config.GetDB()
	query := db.WithContext(ctx).Model(&models.ForecastRecord{}).
		Where("business_id = ? AND forecast_type = ? AND reference_key = ?",
			ref.BusinessId, ref.Type, ref.ReferenceKey())
	if !ref.PeriodStart.IsZero() {
		// the reaper has no period; in that case mark every period
		query = query.Where("period_start = ?", ref.PeriodStart)
	}
	query.Update("sync_status", models.SyncStatusFailed)
}

func (gormStore) GetForecast(ctx context.Context, businessId string, id int) (*models.ForecastRecord, error) {
	rec, err := models.GetForecastRecordById(ctx, businessId, id)
	if err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			return nil, fmt.Errorf("%w: forecast %d", ErrNotFound, id)
		}
		return nil, wrapIO("load forecast", err)
	}
	return rec, nil
}

func (gormStore) UpdateForecastBounds(ctx context.Context, rec *models.ForecastRecord) error {
	db := config.GetDB()
	err := db.WithContext(ctx).Model(&models.ForecastRecord{}).
		Where("id = ? AND business_id = ?", rec.ID, rec.BusinessId).
		Updates(map[string]interface{}{
			"predicted_value": rec.PredictedValue,
			"lower_bound":     rec.LowerBound,
			"upper_bound":     rec.UpperBound,
		}).Error
	return wrapIO("update bounds", err)
}

func (gormStore) AppendAccuracy(ctx context.Context, rec *models.AccuracyRecord) error {
	return wrapIO("append accuracy", models.AppendAccuracyRecord(ctx, rec))
}

func (gormStore) AppendSyncLog(ctx context.Context, log *models.SyncLog) error {
	return wrapIO("append sync log", models.AppendSyncLog(ctx, log))
}

func (gormStore) SyncSummary(ctx context.Context, businessId string, since time.Time) ([]models.ForecastSyncSummaryRow, error) {
	rows, err := models.CountForecastsByTypeAndStatus(ctx, businessId, since)
	return rows, wrapIO("sync summary", err)
}

func (gormStore) CountForecasts(ctx context.Context, businessId string, forecastType models.ForecastType, since time.Time) (int64, error) {
	db := config.GetDB()
	query := db.WithContext(ctx).Model(&models.ForecastRecord{}).
		Where("business_id = ? AND forecast_type = ?", businessId, forecastType)
	if !since.IsZero() {
		query = query.Where("updated_at >= ?", since)
	}
	var count int64
	err := query.Count(&count).Error
	return count, wrapIO("count forecasts", err)
}

func (gormStore) CountAccuracy(ctx context.Context, businessId string, since time.Time) (int64, error) {
	count, err := models.CountAccuracyRecords(ctx, businessId, since)
	return count, wrapIO("count accuracy", err)
}

func (gormStore) LastSyncDate(ctx context.Context, businessId string) (*time.Time, error) {
	last, err := models.GetLastSyncDate(ctx, businessId)
	return last, wrapIO("last sync date", err)
}

func (gormStore) AggregateAccuracy(ctx context.Context, businessId string, since time.Time) ([]models.AccuracyAggregateRow, error) {
	rows, err := models.AggregateAccuracyRecords(ctx, businessId, since)
	return rows, wrapIO("aggregate accuracy", err)
}
