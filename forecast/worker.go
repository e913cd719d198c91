package forecast

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mmdatafocus/forecast_backend/config"
	"github.com/mmdatafocus/forecast_backend/models"
	"github.com/mmdatafocus/forecast_backend/utils"
	"github.com/mmdatafocus/forecast_backend/workflow"
)

const syncRunHandlerName = "forecast_sync_run"

func isTerminalRunStatus(status string) bool {
	return status == models.SyncRunStatusSuccess ||
		status == models.SyncRunStatusFailed ||
		status == models.SyncRunStatusPartial
}

// processSyncRun drives one queued run to a terminal state. Pub/Sub delivers
// at least once, so duplicates are absorbed twice over: the terminal-status
// check and a durable idempotency key per message.
func processSyncRun(ctx context.Context, e *Engine, payload SyncPubSubPayload, messageId string) error {
	if payload.RunId == 0 || payload.BusinessId == "" {
		return errors.New("invalid payload")
	}

	ctx = utils.SetBusinessIdInContext(ctx, payload.BusinessId)
	db := config.GetDB().WithContext(ctx)

	// one run-row transition per business at a time, across replicas
	if err := workflow.AcquireBusinessSyncLock(db, payload.BusinessId); err != nil {
		return err
	}
	defer workflow.ReleaseBusinessSyncLock(db, payload.BusinessId)

	var run models.ForecastSyncRun
	if err := db.Where("id = ? AND business_id = ?", payload.RunId, payload.BusinessId).Take(&run).Error; err != nil {
		return err
	}
	if isTerminalRunStatus(run.Status) {
		return nil
	}

	if messageId != "" {
		skip, err := workflow.BeginIdempotency(db, payload.BusinessId, syncRunHandlerName, messageId)
		if err != nil {
			return err
		}
		if skip {
			return nil
		}
	}

	startedAt := time.Now()
	if err := db.Model(&models.ForecastSyncRun{}).
		Where("id = ?", run.ID).
		Updates(map[string]interface{}{
			"status":     models.SyncRunStatusRunning,
			"started_at": startedAt,
		}).Error; err != nil {
		return err
	}

	scope, err := DecodeScope(run.ScopeJSON)
	if err == nil {
		scope.BusinessId = payload.BusinessId
	}

	var log *models.SyncLog
	if err == nil {
		log, err = e.Sync(ctx, scope)
	}

	finishedAt := time.Now()
	update := map[string]interface{}{
		"finished_at": finishedAt,
		"duration_ms": finishedAt.Sub(startedAt).Milliseconds(),
	}
	if err != nil {
		update["status"] = models.SyncRunStatusFailed
		update["error_count"] = 1
	} else {
		switch log.Status {
		case models.SyncLogStatusCompleted:
			update["status"] = models.SyncRunStatusSuccess
		case models.SyncLogStatusPartiallyCompleted:
			update["status"] = models.SyncRunStatusPartial
		default:
			update["status"] = models.SyncRunStatusFailed
		}
		update["error_count"] = log.FailedItems
		if log.ID != 0 {
			update["sync_log_id"] = log.ID
		}
	}
	if dbErr := db.Model(&models.ForecastSyncRun{}).Where("id = ?", run.ID).Updates(update).Error; dbErr != nil {
		config.LogError(e.logger, "forecast", "processSyncRun", "update run", run.ID, dbErr)
	}

	if messageId != "" {
		if err != nil {
			_ = workflow.MarkIdempotencyFailed(db, payload.BusinessId, syncRunHandlerName, messageId, err)
		} else {
			_ = workflow.MarkIdempotencySucceeded(db, payload.BusinessId, syncRunHandlerName, messageId)
		}
	}
	return err
}

// StartSlotReaper periodically force-releases stale sync slots until the
// context is cancelled.
func StartSlotReaper(ctx context.Context, e *Engine, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := e.ReapStaleSlots(ctx); n > 0 {
					e.logger.WithFields(logrus.Fields{
						"module": "forecast",
						"freed":  n,
					}).Warn("stale sync slots reaped")
				}
			}
		}
	}()
}
