package models

import (
	"log"

	"github.com/mmdatafocus/forecast_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Business{},
		&Account{},
		&Product{},
		&Warehouse{},
		&Customer{},
		&Supplier{},
		&ForecastRecord{},
		&ForecastActual{},
		&AccuracyRecord{},
		&SyncLog{},
		&ForecastSyncRun{},
		&IdempotencyKey{},
	)
	if err != nil {
		log.Printf("auto-migrate failed: %v", err)
	}
}
