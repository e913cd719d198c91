package models

// ForecastType is the closed set of derived forecast categories. Every
// forecast record carries exactly one; the orchestrator switches on it
// exhaustively when resolving reference keys and propagation targets.
type ForecastType string

const (
	ForecastTypeFinancial ForecastType = "Financial"
	ForecastTypeCashflow  ForecastType = "Cashflow"
	ForecastTypeRevenue   ForecastType = "Revenue"
	ForecastTypeExpense   ForecastType = "Expense"
	ForecastTypeInventory ForecastType = "Inventory"
	ForecastTypeSales     ForecastType = "Sales"
)

// AllForecastTypes is the default scope when a sync names no types.
var AllForecastTypes = []ForecastType{
	ForecastTypeFinancial,
	ForecastTypeCashflow,
	ForecastTypeRevenue,
	ForecastTypeExpense,
	ForecastTypeInventory,
	ForecastTypeSales,
}

func (t ForecastType) Valid() bool {
	switch t {
	case ForecastTypeFinancial, ForecastTypeCashflow, ForecastTypeRevenue,
		ForecastTypeExpense, ForecastTypeInventory, ForecastTypeSales:
		return true
	}
	return false
}

type SyncStatus string

const (
	SyncStatusPending SyncStatus = "Pending"
	SyncStatusSynced  SyncStatus = "Synced"
	SyncStatusFailed  SyncStatus = "Failed"
)

type SyncLogStatus string

const (
	SyncLogStatusCompleted          SyncLogStatus = "Completed"
	SyncLogStatusPartiallyCompleted SyncLogStatus = "PartiallyCompleted"
	SyncLogStatusFailed             SyncLogStatus = "Failed"
)

type PerformanceGrade string

const (
	PerformanceGradeA PerformanceGrade = "A"
	PerformanceGradeB PerformanceGrade = "B"
	PerformanceGradeC PerformanceGrade = "C"
	PerformanceGradeD PerformanceGrade = "D"
)

const (
	SyncRunStatusQueued  = "queued"
	SyncRunStatusRunning = "running"
	SyncRunStatusSuccess = "success"
	SyncRunStatusFailed  = "failed"
	SyncRunStatusPartial = "partial"
)

const (
	SyncTriggeredManual = "manual"
	SyncTriggeredRetry  = "retry"
	SyncTriggeredSystem = "system"
)

type IdempotencyStatus string

const (
	IdempotencyStatusStarted   IdempotencyStatus = "STARTED"
	IdempotencyStatusSucceeded IdempotencyStatus = "SUCCEEDED"
	IdempotencyStatusFailed    IdempotencyStatus = "FAILED"
)
