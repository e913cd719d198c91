package forecast

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/mmdatafocus/forecast_backend/models"
)

// Sentinel errors for the sync pipeline. Every failure surfaced by the
// engine wraps exactly one of these so callers can classify without string
// matching.
var (
	ErrValidation         = errors.New("invalid input")
	ErrNotFound           = errors.New("referenced entity not found")
	ErrBoundsUncomputable = errors.New("confidence bounds uncomputable")
	ErrAdapterIO          = errors.New("storage adapter failure")
	ErrSlotBusy           = errors.New("entity sync already in progress")
	ErrSlotTimeout        = errors.New("sync slot held past timeout")
)

type Classification int

const (
	ClassFatal Classification = iota
	ClassRetriable
)

// Classify decides whether a failed unit is worth re-issuing. Transient
// infrastructure faults and slot contention are retriable, everything that
// would fail again identically is fatal. Busy never triggers the in-process
// retry loop (slot acquisition fails before it), the classification tells
// operators the entity is worth a later re-issue.
func Classify(err error) Classification {
	switch {
	case errors.Is(err, ErrAdapterIO),
		errors.Is(err, ErrSlotTimeout),
		errors.Is(err, ErrSlotBusy),
		errors.Is(err, context.DeadlineExceeded):
		return ClassRetriable
	default:
		return ClassFatal
	}
}

// ErrorCode maps an error to the stable code persisted in sync-log details.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "ValidationError"
	case errors.Is(err, ErrNotFound):
		return "NotFoundError"
	case errors.Is(err, ErrBoundsUncomputable):
		return "BoundsError"
	case errors.Is(err, ErrSlotBusy):
		return "BusyError"
	case errors.Is(err, ErrSlotTimeout), errors.Is(err, context.DeadlineExceeded):
		return "TimeoutError"
	case errors.Is(err, ErrAdapterIO):
		return "AdapterIOError"
	default:
		return "InternalError"
	}
}

type ErrorGroup struct {
	Code   string `json:"code"`
	Count  int    `json:"count"`
	Sample string `json:"sample"`
}

type ErrorReport struct {
	Total  int                         `json:"total"`
	ByType map[models.ForecastType]int `json:"by_type"`
	Groups []ErrorGroup                `json:"groups"`
}

// Aggregate folds persisted failure details into a stable report: grouped by
// error code, one sample message per group, counts per forecast type taken
// from the reference key. Group order is deterministic (descending count,
// then code). Scope-level details carry no type and only count toward the
// total.
func Aggregate(details []models.SyncErrorDetail) ErrorReport {
	report := ErrorReport{ByType: map[models.ForecastType]int{}}
	groups := map[string]*ErrorGroup{}
	for _, d := range details {
		report.Total++
		if parts := strings.SplitN(d.Reference, "|", 3); len(parts) == 3 {
			report.ByType[models.ForecastType(parts[1])]++
		}
		g, ok := groups[d.ErrorCode]
		if !ok {
			g = &ErrorGroup{Code: d.ErrorCode, Sample: d.Message}
			groups[d.ErrorCode] = g
		}
		g.Count++
	}
	for _, g := range groups {
		report.Groups = append(report.Groups, *g)
	}
	sort.Slice(report.Groups, func(i, j int) bool {
		if report.Groups[i].Count != report.Groups[j].Count {
			return report.Groups[i].Count > report.Groups[j].Count
		}
		return report.Groups[i].Code < report.Groups[j].Code
	})
	return report
}

// errorDetails builds the persisted per-unit failure list in processing order.
func errorDetails(results []SyncResult) []models.SyncErrorDetail {
	var details []models.SyncErrorDetail
	for _, res := range results {
		if res.Outcome == OutcomeSynced {
			continue
		}
		code := res.ErrorCode
		if code == "" {
			code = ErrorCode(res.Err)
		}
		msg := ""
		if res.Err != nil {
			msg = res.Err.Error()
		}
		details = append(details, models.SyncErrorDetail{
			Reference: res.Ref.SlotKey(),
			ErrorCode: code,
			Message:   msg,
			Retryable: Classify(res.Err) == ClassRetriable,
		})
	}
	return details
}
