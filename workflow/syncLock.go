package workflow

import (
	"fmt"

	"gorm.io/gorm"
)

// AcquireBusinessSyncLock serializes sync-log/run writes per business across instances using MySQL advisory locks.
// NOTE: GET_LOCK is connection-scoped, so this must be called on the same *gorm.DB that will do the writing transaction.
func AcquireBusinessSyncLock(tx *gorm.DB, businessId string) error {
	lockName := fmt.Sprintf("forecast-sync:%s", businessId)
	var ok int
	if err := tx.Raw("SELECT GET_LOCK(?, 30)", lockName).Scan(&ok).Error; err != nil {
		return err
	}
	if ok != 1 {
		return fmt.Errorf("could not acquire sync lock for business_id=%s", businessId)
	}
	return nil
}

func ReleaseBusinessSyncLock(tx *gorm.DB, businessId string) {
	lockName := fmt.Sprintf("forecast-sync:%s", businessId)
	var _ok int
	_ = tx.Raw("SELECT RELEASE_LOCK(?)", lockName).Scan(&_ok).Error
}
