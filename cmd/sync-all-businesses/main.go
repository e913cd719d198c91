package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/mmdatafocus/forecast_backend/config"
	"github.com/mmdatafocus/forecast_backend/forecast"
	"github.com/mmdatafocus/forecast_backend/models"
	"github.com/mmdatafocus/forecast_backend/utils"
)

// Scheduled entry point: runs a full forecast sync for every active
// business, or one business when -business-id is given. Intended for cron.
func main() {
	businessID := flag.String("business-id", "", "Optional: sync only one business (uuid string). If empty, syncs all active businesses.")
	types := flag.String("types", "", "Optional: comma separated forecast types (default all).")
	flag.Parse()

	_ = godotenv.Load()

	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	if config.GetDB() == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil)")
		os.Exit(1)
	}
	models.MigrateTable()

	var scopeTypes []models.ForecastType
	for _, raw := range utils.SplitAndTrim(*types) {
		t := models.ForecastType(raw)
		if !t.Valid() {
			fmt.Fprintf(os.Stderr, "unknown forecast type: %s\n", raw)
			os.Exit(1)
		}
		scopeTypes = append(scopeTypes, t)
	}

	var businessIds []string
	if strings.TrimSpace(*businessID) != "" {
		businessIds = []string{strings.TrimSpace(*businessID)}
	} else {
		var err error
		businessIds, err = models.ListActiveBusinessIds(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to list businesses: %v\n", err)
			os.Exit(1)
		}
	}
	if len(businessIds) == 0 {
		fmt.Fprintln(os.Stderr, "no businesses found to sync")
		return
	}

	engineCfg := config.LoadEngineConfig()
	engine := forecast.NewEngine(engineCfg, forecast.NewStore(),
		forecast.NewSlotRegistry(engineCfg.SlotTTL), config.GetLogger())

	exitCode := 0
	for _, bid := range businessIds {
		bctx := utils.SetBusinessIdInContext(ctx, bid)
		log, err := engine.Sync(bctx, forecast.SyncScope{
			BusinessId: bid,
			Types:      scopeTypes,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "business %s: sync failed: %v\n", bid, err)
			exitCode = 1
			continue
		}
		fmt.Printf("business %s: status=%s total=%d success=%d failed=%d\n",
			bid, log.Status, log.TotalItems, log.SuccessfulItems, log.FailedItems)
		if log.Status == models.SyncLogStatusFailed {
			exitCode = 1
		}
	}
	os.Exit(exitCode)
}
