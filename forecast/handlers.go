package forecast

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/mmdatafocus/forecast_backend/config"
	"github.com/mmdatafocus/forecast_backend/models"
	"github.com/mmdatafocus/forecast_backend/utils"
)

func resolveBusinessID(c *gin.Context) (string, error) {
	if businessId, ok := utils.GetBusinessIdFromContext(c.Request.Context()); ok && strings.TrimSpace(businessId) != "" {
		return businessId, nil
	}
	businessId := strings.TrimSpace(c.Query("business_id"))
	if businessId == "" {
		businessId = strings.TrimSpace(c.GetHeader("X-Business-Id"))
	}
	if businessId == "" {
		return "", errors.New("unauthorized")
	}
	if _, err := models.GetBusinessById(c.Request.Context(), businessId); err != nil {
		return "", err
	}
	return businessId, nil
}

func errStatus(err error) int {
	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrSlotBusy):
		return http.StatusConflict
	case errors.Is(err, ErrSlotTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func scopeFromRequest(businessId string, types []string, from, to *time.Time) (SyncScope, error) {
	scope := SyncScope{BusinessId: businessId, DateFrom: from, DateTo: to}
	for _, raw := range types {
		t := models.ForecastType(strings.TrimSpace(raw))
		if !t.Valid() {
			return scope, errors.New("unknown forecast type: " + raw)
		}
		scope.Types = append(scope.Types, t)
	}
	return scope, nil
}

func refFromRequest(businessId string, req SyncOneRequest) (EntityRef, error) {
	t := models.ForecastType(strings.TrimSpace(req.ForecastType))
	if !t.Valid() {
		return EntityRef{}, errors.New("unknown forecast type: " + req.ForecastType)
	}
	anchor := time.Now()
	if req.Date != nil {
		anchor = *req.Date
	}
	start := time.Date(anchor.Year(), anchor.Month(), 1, 0, 0, 0, 0, time.UTC)
	return EntityRef{
		BusinessId:  businessId,
		Type:        t,
		AccountId:   req.AccountId,
		ProductId:   req.ProductId,
		WarehouseId: req.WarehouseId,
		CustomerId:  req.CustomerId,
		SupplierId:  req.SupplierId,
		PeriodStart: start,
		PeriodEnd:   start.AddDate(0, 1, 0),
	}, nil
}

// SyncAllHandler runs a scope-wide sync synchronously and returns the
// resulting log summary.
func SyncAllHandler(e *Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId, err := resolveBusinessID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var req SyncAllRequest
		if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}

		scope, err := scopeFromRequest(businessId, req.ForecastTypes, req.DateFrom, req.DateTo)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		ctx := utils.SetBusinessIdInContext(c.Request.Context(), businessId)
		log, err := e.Sync(ctx, scope)
		if err != nil {
			c.JSON(errStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, NewSyncLogSummary(log))
	}
}

func SyncOneHandler(e *Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId, err := resolveBusinessID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var req SyncOneRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}

		ref, err := refFromRequest(businessId, req)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		ctx := utils.SetBusinessIdInContext(c.Request.Context(), businessId)
		res := e.SyncOne(ctx, ref)
		if res.Outcome != OutcomeSynced {
			c.JSON(errStatus(res.Err), SyncOneResponse{
				Success: false,
				Message: res.Err.Error(),
			})
			return
		}
		c.JSON(http.StatusOK, SyncOneResponse{
			Success:   true,
			Message:   "forecast synced",
			CreatedId: res.ForecastId,
		})
	}
}

func SyncStatusHandler(e *Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId, err := resolveBusinessID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		days := 0 // all time unless a window is requested
		if v := strings.TrimSpace(c.Query("days")); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 730 {
				days = n
			}
		}

		ctx := utils.SetBusinessIdInContext(c.Request.Context(), businessId)
		resp, err := e.SyncStatus(ctx, businessId, days)
		if err != nil {
			c.JSON(errStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

func RecordActualHandler(e *Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId, err := resolveBusinessID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var req RecordActualRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}

		ctx := utils.SetBusinessIdInContext(c.Request.Context(), businessId)
		acc, err := e.RecordActual(ctx, businessId, req.ForecastId, req.ActualValue)
		if err != nil {
			c.JSON(errStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, RecordActualResponse{
			AccuracyPercentage: acc.AccuracyPct,
			PerformanceGrade:   string(acc.Grade),
			AbsoluteError:      utils.DecimalToFloat(acc.AbsoluteError),
		})
	}
}

func AccuracySummaryHandler(e *Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId, err := resolveBusinessID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		windowDays := 90
		if v := strings.TrimSpace(c.Query("window_days")); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 730 {
				windowDays = n
			}
		}

		ctx := utils.SetBusinessIdInContext(c.Request.Context(), businessId)
		summary, cached := cachedSummary(businessId, windowDays)
		if !cached {
			summary, err = e.Summarize(ctx, businessId, windowDays)
			if err != nil {
				c.JSON(errStatus(err), gin.H{"error": err.Error()})
				return
			}
			storeSummaryCache(businessId, windowDays, summary)
		}

		if strings.EqualFold(c.Query("format"), "xlsx") {
			data, err := BuildAccuracyWorkbook(summary)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			c.Header("Content-Disposition", `attachment; filename="forecast_accuracy.xlsx"`)
			c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", data)
			return
		}
		c.JSON(http.StatusOK, summary)
	}
}

func FixBoundsHandler(e *Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId, err := resolveBusinessID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid forecast id"})
			return
		}

		ctx := utils.SetBusinessIdInContext(c.Request.Context(), businessId)
		changed, message, err := e.FixBounds(ctx, businessId, id)
		if err != nil {
			c.JSON(errStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"changed": changed, "message": message})
	}
}

// TriggerSyncHandler enqueues an asynchronous scope sync: a queued run row
// plus a Pub/Sub message for the sync worker.
func TriggerSyncHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId, err := resolveBusinessID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var req TriggerSyncRequest
		if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}

		scope, err := scopeFromRequest(businessId, req.ForecastTypes, req.DateFrom, req.DateTo)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		ctx := utils.SetBusinessIdInContext(c.Request.Context(), businessId)
		db := config.GetDB().WithContext(ctx)

		run := models.ForecastSyncRun{
			BusinessId:  businessId,
			Status:      models.SyncRunStatusQueued,
			TriggeredBy: models.SyncTriggeredManual,
			ScopeJSON:   EncodeScope(scope),
		}
		if err := db.Create(&run).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		_ = PublishSyncRun(c.Request.Context(), run.ID, businessId)

		c.JSON(http.StatusOK, gin.H{"id": run.ID})
	}
}

func SyncHistoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId, err := resolveBusinessID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		limit := 20
		if v := strings.TrimSpace(c.Query("limit")); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
				limit = n
			}
		}

		ctx := utils.SetBusinessIdInContext(c.Request.Context(), businessId)
		db := config.GetDB().WithContext(ctx)

		var runs []models.ForecastSyncRun
		if err := db.Where("business_id = ?", businessId).
			Order("id desc").
			Limit(limit).
			Find(&runs).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		items := make([]SyncRunResponse, 0, len(runs))
		for _, run := range runs {
			items = append(items, mapRunToResponse(run))
		}
		c.JSON(http.StatusOK, gin.H{"items": items})
	}
}

// RetrySyncRunHandler re-enqueues a finished run with the same scope.
func RetrySyncRunHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId, err := resolveBusinessID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
			return
		}

		ctx := utils.SetBusinessIdInContext(c.Request.Context(), businessId)
		db := config.GetDB().WithContext(ctx)

		var run models.ForecastSyncRun
		if err := db.Where("id = ? AND business_id = ?", id, businessId).Take(&run).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		newRun := models.ForecastSyncRun{
			BusinessId:  businessId,
			Status:      models.SyncRunStatusQueued,
			TriggeredBy: models.SyncTriggeredRetry,
			ScopeJSON:   run.ScopeJSON,
			ParentRunId: &run.ID,
		}
		if err := db.Create(&newRun).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		_ = PublishSyncRun(c.Request.Context(), newRun.ID, businessId)

		c.JSON(http.StatusOK, gin.H{"id": newRun.ID})
	}
}

func mapRunToResponse(run models.ForecastSyncRun) SyncRunResponse {
	return SyncRunResponse{
		ID:          run.ID,
		Status:      run.Status,
		StartedAt:   formatTime(run.StartedAt),
		FinishedAt:  formatTime(run.FinishedAt),
		DurationMs:  run.DurationMs,
		ErrorCount:  run.ErrorCount,
		TriggeredBy: run.TriggeredBy,
		SyncLogId:   run.SyncLogId,
	}
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}
