package forecast

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mmdatafocus/forecast_backend/config"
)

func summaryCacheEnabled() bool {
	v := strings.TrimSpace(os.Getenv("ENABLE_SUMMARY_CACHE"))
	return v == "1" || strings.EqualFold(v, "true") || strings.EqualFold(v, "yes") || strings.EqualFold(v, "on")
}

func summaryCacheTTL() time.Duration {
	// Env: SUMMARY_CACHE_TTL_SECONDS (default 120s)
	ttl := 120
	if v := strings.TrimSpace(os.Getenv("SUMMARY_CACHE_TTL_SECONDS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			ttl = n
		}
	}
	return time.Duration(ttl) * time.Second
}

func summaryCacheKey(businessId string, windowDays int) string {
	return fmt.Sprintf("ForecastAccuracySummary:%s:%d", businessId, windowDays)
}

func cachedSummary(businessId string, windowDays int) (*AccuracySummary, bool) {
	if !summaryCacheEnabled() {
		return nil, false
	}
	var summary AccuracySummary
	found, err := config.GetRedisObject(summaryCacheKey(businessId, windowDays), &summary)
	if err != nil || !found {
		return nil, false
	}
	return &summary, true
}

func storeSummaryCache(businessId string, windowDays int, summary *AccuracySummary) {
	if !summaryCacheEnabled() || summary == nil {
		return
	}
	_ = config.SetRedisObject(summaryCacheKey(businessId, windowDays), summary, summaryCacheTTL())
}
