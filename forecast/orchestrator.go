package forecast

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/mmdatafocus/forecast_backend/config"
	"github.com/mmdatafocus/forecast_backend/models"
	"github.com/mmdatafocus/forecast_backend/utils"
)

// Engine drives forecast synchronization: it resolves the entities in a
// scope, predicts and persists a forecast per entity under slot exclusion,
// fans the work out over a bounded worker pool and folds the outcomes into
// one durable SyncLog.
type Engine struct {
	cfg        config.EngineConfig
	store      Store
	predictors map[string]Predictor
	policy     BoundsPolicy
	slots      SlotRegistry
	logger     *logrus.Logger
}

func NewEngine(cfg config.EngineConfig, store Store, slots SlotRegistry, logger *logrus.Logger) *Engine {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 1
	}
	if cfg.HistoryPeriods <= 0 {
		cfg.HistoryPeriods = 12
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = ModelEnsemble
	}
	if slots == nil {
		slots = NewMemorySlots(cfg.SlotTTL)
	}
	if logger == nil {
		logger = config.GetLogger()
	}
	return &Engine{
		cfg:        cfg,
		store:      store,
		predictors: DefaultPredictors(),
		policy:     ConfidenceWidthPolicy{MinHalfWidth: 1},
		slots:      slots,
		logger:     logger,
	}
}

// propagationTargets is the depth-1 cross-type refresh map. Targets are
// terminal: a follow-up unit never schedules further follow-ups, so the
// old unbounded financial-to-inventory cascade cannot recur.
var propagationTargets = map[models.ForecastType]models.ForecastType{
	models.ForecastTypeRevenue: models.ForecastTypeCashflow,
	models.ForecastTypeExpense: models.ForecastTypeCashflow,
	models.ForecastTypeSales:   models.ForecastTypeInventory,
}

// Sync runs one scope-wide synchronization and always returns a SyncLog,
// even when nothing could be processed. The error return is reserved for
// scope validation; every downstream failure is folded into the log.
func (e *Engine) Sync(ctx context.Context, scope SyncScope) (*models.SyncLog, error) {
	if !e.cfg.SyncEnabled {
		return nil, fmt.Errorf("%w: forecast sync is disabled", ErrValidation)
	}
	if err := scope.Validate(); err != nil {
		return nil, err
	}

	startedAt := time.Now()
	e.logger.WithFields(logrus.Fields{
		"module": "forecast",
		"scope":  scope.Describe(),
	}).Info("forecast sync started")

	refs, err := e.store.ResolveEntities(ctx, scope)
	if err != nil {
		// adapter unreachable before any unit ran: Failed log, zero items
		log := e.buildLog(scope, startedAt, nil)
		log.Status = models.SyncLogStatusFailed
		log.SetErrorDetails([]models.SyncErrorDetail{{
			Reference: "scope:" + scope.BusinessId,
			ErrorCode: ErrorCode(err),
			Message:   err.Error(),
			Retryable: Classify(err) == ClassRetriable,
		}})
		log.FinishedAt = time.Now()
		e.persistLog(ctx, log)
		return log, nil
	}

	results := e.runUnits(ctx, refs)

	if e.cfg.PropagationEnabled {
		followups := e.followupRefs(ctx, results)
		if len(followups) > 0 {
			results = append(results, e.runUnits(ctx, followups)...)
		}
	}

	log := e.buildLog(scope, startedAt, results)
	e.persistLog(ctx, log)

	e.logger.WithFields(logrus.Fields{
		"module":  "forecast",
		"scope":   scope.Describe(),
		"status":  log.Status,
		"total":   log.TotalItems,
		"success": log.SuccessfulItems,
		"failed":  log.FailedItems,
	}).Info("forecast sync finished")
	return log, nil
}

// SyncOne refreshes a single entity without cross-type propagation and
// without writing a SyncLog.
func (e *Engine) SyncOne(ctx context.Context, ref EntityRef) SyncResult {
	if !e.cfg.SyncEnabled {
		err := fmt.Errorf("%w: forecast sync is disabled", ErrValidation)
		return SyncResult{Ref: ref, Outcome: OutcomeFailed, Err: err, ErrorCode: ErrorCode(err)}
	}
	return e.syncEntity(ctx, ref)
}

// runUnits fans refs out over the worker pool and waits for all of them.
// Results keep input order regardless of completion order.
func (e *Engine) runUnits(ctx context.Context, refs []EntityRef) []SyncResult {
	if len(refs) == 0 {
		return nil
	}
	results := make([]SyncResult, len(refs))
	sem := make(chan struct{}, e.cfg.WorkerCount)
	var wg sync.WaitGroup
	for i := range refs {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = e.syncEntity(ctx, refs[i])
		}(i)
	}
	wg.Wait()
	return results
}

// syncEntity is one sync unit: slot acquisition, predict, validate,
// persist, optional accuracy evaluation, with at most RetryLimit in-process
// retries for retriable failures. A unit that has started always runs to a
// terminal outcome; cancellation only prevents new attempts.
func (e *Engine) syncEntity(ctx context.Context, ref EntityRef) SyncResult {
	res := SyncResult{Ref: ref}

	if err := ref.Validate(); err != nil {
		res.Outcome = OutcomeFailed
		res.Err = err
		res.ErrorCode = ErrorCode(err)
		return res
	}

	lease, err := e.slots.Acquire(ctx, ref.SlotKey())
	if err != nil {
		res.Outcome = OutcomeBusy
		res.Err = err
		res.ErrorCode = ErrorCode(err)
		return res
	}
	defer lease.Release(ctx)

	var forecastId int
	for attempt := 0; ; attempt++ {
		forecastId, err = e.syncOnce(ctx, ref)
		if err == nil {
			break
		}
		if attempt >= e.cfg.RetryLimit || Classify(err) != ClassRetriable {
			break
		}
		res.Retried = true
	}

	if err != nil {
		config.LogError(e.logger, "forecast", "syncEntity", "sync unit failed", ref.SlotKey(), err)
		e.store.MarkForecastFailed(ctx, ref)
		res.Outcome = OutcomeFailed
		res.Err = err
		res.ErrorCode = ErrorCode(err)
		return res
	}
	res.Outcome = OutcomeSynced
	res.ForecastId = forecastId
	return res
}

func (e *Engine) syncOnce(ctx context.Context, ref EntityRef) (int, error) {
	if err := e.store.ValidateRef(ctx, ref); err != nil {
		return 0, err
	}

	history, err := e.store.History(ctx, ref, e.cfg.HistoryPeriods)
	if err != nil {
		return 0, err
	}

	predictor := e.predictors[e.cfg.DefaultModel]
	if predictor == nil {
		predictor = e.predictors[ModelEnsemble]
	}
	pred, err := predictor.Predict(ctx, PredictionInput{Ref: ref, History: history})
	if err != nil {
		return 0, err
	}

	repaired, err := ValidateAndRepair(ForecastCandidate{
		PredictedValue: pred.PredictedValue,
		LowerBound:     pred.LowerBound,
		UpperBound:     pred.UpperBound,
		Confidence:     pred.Confidence,
	}, e.policy)
	if err != nil {
		return 0, err
	}
	if repaired.BoundsIssue {
		e.logger.WithFields(logrus.Fields{
			"module":    "forecast",
			"reference": ref.SlotKey(),
			"warnings":  strings.Join(repaired.Warnings, "; "),
		}).Warn("forecast bounds repaired")
	}

	now := time.Now()
	rec := &models.ForecastRecord{
		BusinessId:      ref.BusinessId,
		Type:            ref.Type,
		ReferenceKey:    ref.ReferenceKey(),
		AccountId:       intPtrOrNil(ref.AccountId),
		ProductId:       intPtrOrNil(ref.ProductId),
		WarehouseId:     intPtrOrNil(ref.WarehouseId),
		CustomerId:      intPtrOrNil(ref.CustomerId),
		SupplierId:      intPtrOrNil(ref.SupplierId),
		PredictedValue:  decimal.NewFromFloat(repaired.PredictedValue),
		LowerBound:      decimal.NewFromFloat(repaired.LowerBound),
		UpperBound:      decimal.NewFromFloat(repaired.UpperBound),
		ConfidenceScore: repaired.Confidence,
		ModelIdentifier: pred.Model,
		PeriodStart:     ref.PeriodStart,
		PeriodEnd:       ref.PeriodEnd,
		SyncStatus:      models.SyncStatusSynced,
		LastSyncedAt:    &now,
	}
	if err := e.store.UpsertForecast(ctx, rec); err != nil {
		return 0, err
	}

	// score immediately when the period's actual is already on file; a
	// failed lookup does not fail the unit, the forecast itself is synced
	actual, actualErr := e.store.ActualFor(ctx, ref)
	if actualErr != nil {
		config.LogError(e.logger, "forecast", "syncOnce", "load actual", ref.SlotKey(), actualErr)
	} else if actual != nil {
		if _, accErr := e.RecordActual(ctx, ref.BusinessId, rec.ID, *actual); accErr != nil {
			config.LogError(e.logger, "forecast", "syncOnce", "accuracy evaluation", ref.SlotKey(), accErr)
		}
	}

	return rec.ID, nil
}

// followupRefs derives the secondary wave from successful primary units.
// Depth is bounded at one hop and duplicate targets collapse.
func (e *Engine) followupRefs(ctx context.Context, primaries []SyncResult) []EntityRef {
	seen := map[string]bool{}
	for _, res := range primaries {
		seen[res.Ref.SlotKey()] = true
	}

	var followups []EntityRef
	for _, res := range primaries {
		if res.Outcome != OutcomeSynced {
			continue
		}
		target, ok := propagationTargets[res.Ref.Type]
		if !ok {
			continue
		}
		next := res.Ref
		next.Type = target
		if res.Ref.Type == models.ForecastTypeSales {
			// Sales propagates to the item's stock forecast at the primary
			// warehouse.
			wh, err := e.store.PrimaryWarehouse(ctx, res.Ref.BusinessId)
			if err != nil {
				config.LogError(e.logger, "forecast", "followupRefs", "resolve warehouse", res.Ref.BusinessId, err)
				continue
			}
			next.CustomerId = 0
			next.WarehouseId = wh
		}
		if seen[next.SlotKey()] {
			continue
		}
		seen[next.SlotKey()] = true
		followups = append(followups, next)
	}
	return followups
}

func (e *Engine) buildLog(scope SyncScope, startedAt time.Time, results []SyncResult) *models.SyncLog {
	total := len(results)
	success := 0
	for _, res := range results {
		if res.Outcome == OutcomeSynced {
			success++
		}
	}
	failed := total - success

	rate := float64(0)
	status := models.SyncLogStatusCompleted
	if total > 0 {
		rate = float64(success) / float64(total) * 100
		switch {
		case failed == 0:
			status = models.SyncLogStatusCompleted
		case success > 0:
			status = models.SyncLogStatusPartiallyCompleted
		default:
			status = models.SyncLogStatusFailed
		}
	}

	types := make([]string, 0, len(scope.EffectiveTypes()))
	for _, t := range scope.EffectiveTypes() {
		types = append(types, string(t))
	}

	log := &models.SyncLog{
		BusinessId:       scope.BusinessId,
		SyncType:         strings.Join(types, ","),
		ScopeDescription: scope.Describe(),
		StartedAt:        startedAt,
		FinishedAt:       time.Now(),
		TotalItems:       total,
		SuccessfulItems:  success,
		FailedItems:      failed,
		SuccessRate:      rate,
		Status:           status,
	}
	log.SetErrorDetails(errorDetails(results))
	return log
}

func (e *Engine) persistLog(ctx context.Context, log *models.SyncLog) {
	if err := e.store.AppendSyncLog(ctx, log); err != nil {
		config.LogError(e.logger, "forecast", "persistLog", "append sync log", log.BusinessId, err)
	}
}

// FixBounds re-runs bounds validation on a stored forecast and persists the
// repaired values. Returns whether anything changed and a short description.
func (e *Engine) FixBounds(ctx context.Context, businessId string, forecastId int) (bool, string, error) {
	rec, err := e.store.GetForecast(ctx, businessId, forecastId)
	if err != nil {
		return false, "", err
	}

	lower := utils.DecimalToFloat(rec.LowerBound)
	upper := utils.DecimalToFloat(rec.UpperBound)
	repaired, err := ValidateAndRepair(ForecastCandidate{
		PredictedValue: utils.DecimalToFloat(rec.PredictedValue),
		LowerBound:     &lower,
		UpperBound:     &upper,
		Confidence:     rec.ConfidenceScore,
	}, e.policy)
	if err != nil {
		return false, "", err
	}
	if !repaired.BoundsIssue {
		return false, "bounds already consistent", nil
	}

	rec.PredictedValue = decimal.NewFromFloat(repaired.PredictedValue)
	rec.LowerBound = decimal.NewFromFloat(repaired.LowerBound)
	rec.UpperBound = decimal.NewFromFloat(repaired.UpperBound)
	if err := e.store.UpdateForecastBounds(ctx, rec); err != nil {
		return false, "", err
	}
	return true, strings.Join(repaired.Warnings, "; "), nil
}

// SyncStatus reports per-type sync health plus tracking counters, limited
// to records touched within the last `days` days. days <= 0 means all time.
func (e *Engine) SyncStatus(ctx context.Context, businessId string, days int) (*SyncStatusResponse, error) {
	var since time.Time
	if days > 0 {
		since = time.Now().AddDate(0, 0, -days)
	}
	rows, err := e.store.SyncSummary(ctx, businessId, since)
	if err != nil {
		return nil, err
	}
	resp := &SyncStatusResponse{
		SyncSummaryByType: map[models.ForecastType]TypeSyncSummary{},
	}
	for _, t := range models.AllForecastTypes {
		resp.SyncSummaryByType[t] = TypeSyncSummary{}
	}
	for _, row := range rows {
		summary := resp.SyncSummaryByType[row.Type]
		switch row.Status {
		case models.SyncStatusSynced:
			summary.Synced += row.Count
		case models.SyncStatusFailed:
			summary.Failed += row.Count
		default:
			summary.Pending += row.Count
		}
		resp.SyncSummaryByType[row.Type] = summary
	}

	if resp.TotalFinancialForecasts, err = e.store.CountForecasts(ctx, businessId, models.ForecastTypeFinancial, since); err != nil {
		return nil, err
	}
	if resp.AccuracyTrackingCount, err = e.store.CountAccuracy(ctx, businessId, since); err != nil {
		return nil, err
	}
	if resp.LastSyncDate, err = e.store.LastSyncDate(ctx, businessId); err != nil {
		return nil, err
	}
	return resp, nil
}

// ReapStaleSlots force-releases slots held past the TTL and marks the
// affected forecasts failed. Called periodically by the sync service.
func (e *Engine) ReapStaleSlots(ctx context.Context) int {
	freed := e.slots.ReleaseExpired(ctx)
	for _, key := range freed {
		e.logger.WithFields(logrus.Fields{
			"module": "forecast",
			"slot":   key,
		}).Warn(ErrSlotTimeout.Error())
		if ref, ok := refFromSlotKey(key); ok {
			e.store.MarkForecastFailed(ctx, ref)
		}
	}
	return len(freed)
}

// refFromSlotKey reverses EntityRef.SlotKey for the reaper. The period is
// unknown at this point, so the failure mark applies to every period of the
// reference.
func refFromSlotKey(key string) (EntityRef, bool) {
	parts := strings.SplitN(key, "|", 3)
	if len(parts) != 3 {
		return EntityRef{}, false
	}
	ids, err := ParseReferenceKey(parts[2])
	if err != nil {
		return EntityRef{}, false
	}
	return EntityRef{
		BusinessId:  parts[0],
		Type:        models.ForecastType(parts[1]),
		AccountId:   ids["account"],
		ProductId:   ids["product"],
		WarehouseId: ids["warehouse"],
		CustomerId:  ids["customer"],
		SupplierId:  ids["supplier"],
	}, true
}

func intPtrOrNil(v int) *int {
	if v == 0 {
		return nil
	}
	return &v
}
