package forecast

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/mmdatafocus/forecast_backend/config"
	"github.com/mmdatafocus/forecast_backend/models"
)

// NOTE: These tests are intentionally DB-free. They validate the engine's
// semantics against an in-memory store; full MySQL + Redis integration tests
// belong in an environment that can run both.

type fakeStore struct {
	mu sync.Mutex

	refs       []EntityRef
	resolveErr error

	// per-slot-key error queues, popped once per ValidateRef call
	validateErrs map[string][]error

	historyByKey map[string][]float64
	actuals      map[string]float64
	actualErr    error
	warehouseId  int

	forecasts   map[string]*models.ForecastRecord
	byId        map[int]*models.ForecastRecord
	nextId      int
	upsertCalls int

	logs         []*models.SyncLog
	accuracy     []*models.AccuracyRecord
	savedActuals []*models.ForecastActual
	failedMarks  []string
	aggRows      []models.AccuracyAggregateRow

	// cutoffs passed into the status queries, in call order
	statusSinces []time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		validateErrs: map[string][]error{},
		historyByKey: map[string][]float64{},
		actuals:      map[string]float64{},
		forecasts:    map[string]*models.ForecastRecord{},
		byId:         map[int]*models.ForecastRecord{},
		warehouseId:  1,
	}
}

func (s *fakeStore) ResolveEntities(context.Context, SyncScope) ([]EntityRef, error) {
	if s.resolveErr != nil {
		return nil, s.resolveErr
	}
	return s.refs, nil
}

func (s *fakeStore) ValidateRef(_ context.Context, ref EntityRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	queue := s.validateErrs[ref.SlotKey()]
	if len(queue) == 0 {
		return nil
	}
	err := queue[0]
	s.validateErrs[ref.SlotKey()] = queue[1:]
	return err
}

func (s *fakeStore) History(_ context.Context, ref EntityRef, _ int) ([]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.historyByKey[ref.SlotKey()], nil
}

func (s *fakeStore) ActualFor(_ context.Context, ref EntityRef) (*float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.actualErr != nil {
		return nil, s.actualErr
	}
	if v, ok := s.actuals[ref.SlotKey()]; ok {
		return &v, nil
	}
	return nil, nil
}

func (s *fakeStore) SaveActual(_ context.Context, rec *models.ForecastActual) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.savedActuals = append(s.savedActuals, rec)
	return nil
}

func (s *fakeStore) PrimaryWarehouse(context.Context, string) (int, error) {
	if s.warehouseId == 0 {
		return 0, fmt.Errorf("%w: no warehouse", ErrNotFound)
	}
	return s.warehouseId, nil
}

func naturalKey(rec *models.ForecastRecord) string {
	return rec.BusinessId + "|" + string(rec.Type) + "|" + rec.ReferenceKey + "|" +
		rec.PeriodStart.Format("2006-01-02")
}

func (s *fakeStore) UpsertForecast(_ context.Context, rec *models.ForecastRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertCalls++
	key := naturalKey(rec)
	if existing, ok := s.forecasts[key]; ok {
		rec.ID = existing.ID
	} else {
		s.nextId++
		rec.ID = s.nextId
	}
	cp := *rec
	s.forecasts[key] = &cp
	s.byId[rec.ID] = &cp
	return nil
}

func (s *fakeStore) MarkForecastFailed(_ context.Context, ref EntityRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failedMarks = append(s.failedMarks, ref.SlotKey())
}

func (s *fakeStore) GetForecast(_ context.Context, businessId string, id int) (*models.ForecastRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byId[id]
	if !ok || rec.BusinessId != businessId {
		return nil, fmt.Errorf("%w: forecast %d", ErrNotFound, id)
	}
	cp := *rec
	return &cp, nil
}

func (s *fakeStore) UpdateForecastBounds(_ context.Context, rec *models.ForecastRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.byId[rec.ID]
	if !ok {
		return fmt.Errorf("%w: forecast %d", ErrNotFound, rec.ID)
	}
	stored.PredictedValue = rec.PredictedValue
	stored.LowerBound = rec.LowerBound
	stored.UpperBound = rec.UpperBound
	return nil
}

func (s *fakeStore) AppendAccuracy(_ context.Context, rec *models.AccuracyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accuracy = append(s.accuracy, rec)
	return nil
}

func (s *fakeStore) AppendSyncLog(_ context.Context, log *models.SyncLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	log.ID = len(s.logs) + 1
	s.logs = append(s.logs, log)
	return nil
}

func (s *fakeStore) SyncSummary(_ context.Context, _ string, since time.Time) ([]models.ForecastSyncSummaryRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statusSinces = append(s.statusSinces, since)
	return nil, nil
}

func (s *fakeStore) CountForecasts(_ context.Context, _ string, _ models.ForecastType, since time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statusSinces = append(s.statusSinces, since)
	return int64(len(s.forecasts)), nil
}

func (s *fakeStore) CountAccuracy(_ context.Context, _ string, since time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statusSinces = append(s.statusSinces, since)
	return int64(len(s.accuracy)), nil
}

func (s *fakeStore) LastSyncDate(context.Context, string) (*time.Time, error) {
	if len(s.logs) == 0 {
		return nil, nil
	}
	return &s.logs[len(s.logs)-1].StartedAt, nil
}

func (s *fakeStore) AggregateAccuracy(context.Context, string, time.Time) ([]models.AccuracyAggregateRow, error) {
	return s.aggRows, nil
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testConfig() config.EngineConfig {
	return config.EngineConfig{
		SyncEnabled:        true,
		WorkerCount:        4,
		SlotTTL:            time.Minute,
		RetryLimit:         1,
		PropagationEnabled: false,
		DefaultModel:       ModelEnsemble,
		HistoryPeriods:     12,
	}
}

func testPeriod() (time.Time, time.Time) {
	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}

func accountRef(id int) EntityRef {
	start, end := testPeriod()
	return EntityRef{
		BusinessId:  "b1",
		Type:        models.ForecastTypeRevenue,
		AccountId:   id,
		PeriodStart: start,
		PeriodEnd:   end,
	}
}

func TestSync_AllSucceedCompleted(t *testing.T) {
	store := newFakeStore()
	for i := 1; i <= 5; i++ {
		ref := accountRef(i)
		store.refs = append(store.refs, ref)
		store.historyByKey[ref.SlotKey()] = []float64{100, 110, 120}
	}
	e := NewEngine(testConfig(), store, NewMemorySlots(time.Minute), quietLogger())

	log, err := e.Sync(context.Background(), SyncScope{BusinessId: "b1"})
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if log.Status != models.SyncLogStatusCompleted {
		t.Fatalf("status = %s, want Completed", log.Status)
	}
	if log.TotalItems != 5 || log.SuccessfulItems != 5 || log.FailedItems != 0 {
		t.Fatalf("counts wrong: %+v", log)
	}
	if log.SuccessRate != 100 {
		t.Fatalf("success rate = %v", log.SuccessRate)
	}
	if len(log.ErrorDetails()) != 0 {
		t.Fatalf("unexpected error details: %v", log.ErrorDetails())
	}
	if len(store.logs) != 1 {
		t.Fatalf("sync log not persisted")
	}
}

func TestSync_MixedFailuresPartiallyCompleted(t *testing.T) {
	store := newFakeStore()
	for i := 1; i <= 10; i++ {
		store.refs = append(store.refs, accountRef(i))
	}
	// two entities reference deleted accounts
	store.validateErrs[accountRef(3).SlotKey()] = []error{fmt.Errorf("%w: account 3", ErrNotFound)}
	store.validateErrs[accountRef(7).SlotKey()] = []error{fmt.Errorf("%w: account 7", ErrNotFound)}
	e := NewEngine(testConfig(), store, NewMemorySlots(time.Minute), quietLogger())

	log, err := e.Sync(context.Background(), SyncScope{BusinessId: "b1"})
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if log.Status != models.SyncLogStatusPartiallyCompleted {
		t.Fatalf("status = %s, want PartiallyCompleted", log.Status)
	}
	if log.TotalItems != 10 || log.SuccessfulItems != 8 || log.FailedItems != 2 {
		t.Fatalf("counts wrong: total=%d success=%d failed=%d",
			log.TotalItems, log.SuccessfulItems, log.FailedItems)
	}
	if log.TotalItems != log.SuccessfulItems+log.FailedItems {
		t.Fatal("item accounting invariant broken")
	}
	details := log.ErrorDetails()
	if len(details) != 2 {
		t.Fatalf("expected 2 error details, got %d", len(details))
	}
	for _, d := range details {
		if d.ErrorCode != "NotFoundError" || d.Retryable {
			t.Fatalf("unexpected detail: %+v", d)
		}
	}
}

func TestSync_TransientFailureRetriedOnce(t *testing.T) {
	store := newFakeStore()
	ref := accountRef(1)
	store.refs = []EntityRef{ref}
	store.validateErrs[ref.SlotKey()] = []error{fmt.Errorf("%w: connection reset", ErrAdapterIO)}
	e := NewEngine(testConfig(), store, NewMemorySlots(time.Minute), quietLogger())

	log, err := e.Sync(context.Background(), SyncScope{BusinessId: "b1"})
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if log.Status != models.SyncLogStatusCompleted {
		t.Fatalf("retry did not recover the unit: %+v", log)
	}
	if log.SuccessfulItems != 1 {
		t.Fatalf("counts wrong: %+v", log)
	}
}

func TestSync_TransientFailureNotRetriedBeyondLimit(t *testing.T) {
	store := newFakeStore()
	ref := accountRef(1)
	store.refs = []EntityRef{ref}
	store.validateErrs[ref.SlotKey()] = []error{
		fmt.Errorf("%w: reset", ErrAdapterIO),
		fmt.Errorf("%w: reset", ErrAdapterIO),
		fmt.Errorf("%w: reset", ErrAdapterIO),
	}
	e := NewEngine(testConfig(), store, NewMemorySlots(time.Minute), quietLogger())

	log, err := e.Sync(context.Background(), SyncScope{BusinessId: "b1"})
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if log.Status != models.SyncLogStatusFailed || log.FailedItems != 1 {
		t.Fatalf("expected single failed item, got %+v", log)
	}
	// one initial attempt plus one retry
	store.mu.Lock()
	remaining := len(store.validateErrs[ref.SlotKey()])
	store.mu.Unlock()
	if remaining != 1 {
		t.Fatalf("expected exactly 2 attempts, %d errors left in queue", remaining)
	}
	if len(store.failedMarks) != 1 {
		t.Fatalf("failed forecast not marked: %v", store.failedMarks)
	}
}

func TestSync_RepeatedRunIsIdempotent(t *testing.T) {
	store := newFakeStore()
	for i := 1; i <= 4; i++ {
		ref := accountRef(i)
		store.refs = append(store.refs, ref)
		store.historyByKey[ref.SlotKey()] = []float64{10, 20, 30}
	}
	e := NewEngine(testConfig(), store, NewMemorySlots(time.Minute), quietLogger())

	if _, err := e.Sync(context.Background(), SyncScope{BusinessId: "b1"}); err != nil {
		t.Fatal(err)
	}
	first := map[string]decimal.Decimal{}
	for key, rec := range store.forecasts {
		first[key] = rec.PredictedValue
	}

	if _, err := e.Sync(context.Background(), SyncScope{BusinessId: "b1"}); err != nil {
		t.Fatal(err)
	}
	if len(store.forecasts) != 4 {
		t.Fatalf("second run duplicated rows: %d", len(store.forecasts))
	}
	for key, rec := range store.forecasts {
		if !rec.PredictedValue.Equal(first[key]) {
			t.Fatalf("second run changed %s: %s -> %s", key, first[key], rec.PredictedValue)
		}
	}
	if store.upsertCalls != 8 {
		t.Fatalf("expected 8 upserts across both runs, got %d", store.upsertCalls)
	}
}

func TestSync_BusySlotCountsAsFailedItem(t *testing.T) {
	store := newFakeStore()
	ref := accountRef(1)
	store.refs = []EntityRef{ref, accountRef(2)}
	slots := NewMemorySlots(time.Minute)
	if _, err := slots.Acquire(context.Background(), ref.SlotKey()); err != nil {
		t.Fatal(err)
	}
	e := NewEngine(testConfig(), store, slots, quietLogger())

	log, err := e.Sync(context.Background(), SyncScope{BusinessId: "b1"})
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if log.Status != models.SyncLogStatusPartiallyCompleted {
		t.Fatalf("status = %s", log.Status)
	}
	if log.FailedItems != 1 || log.SuccessfulItems != 1 {
		t.Fatalf("counts wrong: %+v", log)
	}
	details := log.ErrorDetails()
	if len(details) != 1 || details[0].ErrorCode != "BusyError" {
		t.Fatalf("expected one BusyError, got %v", details)
	}
	// busy entities are worth re-issuing once the holder finishes
	if !details[0].Retryable {
		t.Fatalf("busy detail not marked retryable: %+v", details[0])
	}
}

func TestSyncOne_RejectedWhileEntityInFlight(t *testing.T) {
	store := newFakeStore()
	ref := accountRef(1)
	slots := NewMemorySlots(time.Minute)
	lease, err := slots.Acquire(context.Background(), ref.SlotKey())
	if err != nil {
		t.Fatal(err)
	}
	e := NewEngine(testConfig(), store, slots, quietLogger())

	res := e.SyncOne(context.Background(), ref)
	if res.Outcome != OutcomeBusy {
		t.Fatalf("outcome = %s, want Busy", res.Outcome)
	}
	if !errors.Is(res.Err, ErrSlotBusy) {
		t.Fatalf("expected ErrSlotBusy, got %v", res.Err)
	}

	lease.Release(context.Background())
	res = e.SyncOne(context.Background(), ref)
	if res.Outcome != OutcomeSynced || res.ForecastId == 0 {
		t.Fatalf("retry after release failed: %+v", res)
	}
}

func TestSync_AdapterUnreachableProducesFailedLogWithZeroItems(t *testing.T) {
	store := newFakeStore()
	store.resolveErr = fmt.Errorf("%w: dial tcp: connection refused", ErrAdapterIO)
	e := NewEngine(testConfig(), store, NewMemorySlots(time.Minute), quietLogger())

	log, err := e.Sync(context.Background(), SyncScope{BusinessId: "b1"})
	if err != nil {
		t.Fatalf("expected structured log, got error: %v", err)
	}
	if log.Status != models.SyncLogStatusFailed {
		t.Fatalf("status = %s, want Failed", log.Status)
	}
	if log.TotalItems != 0 {
		t.Fatalf("total = %d, want 0", log.TotalItems)
	}
	details := log.ErrorDetails()
	if len(details) != 1 || details[0].ErrorCode != "AdapterIOError" {
		t.Fatalf("expected one AdapterIOError detail, got %v", details)
	}
	if len(store.logs) != 1 {
		t.Fatal("failed run did not persist its log")
	}
}

func TestSync_EmptyScopeCompletesWithZeroItems(t *testing.T) {
	store := newFakeStore()
	e := NewEngine(testConfig(), store, NewMemorySlots(time.Minute), quietLogger())

	log, err := e.Sync(context.Background(), SyncScope{BusinessId: "b1"})
	if err != nil {
		t.Fatal(err)
	}
	if log.Status != models.SyncLogStatusCompleted || log.TotalItems != 0 {
		t.Fatalf("empty scope log wrong: %+v", log)
	}
}

func TestSync_DisabledRejectedAsValidation(t *testing.T) {
	cfg := testConfig()
	cfg.SyncEnabled = false
	e := NewEngine(cfg, newFakeStore(), NewMemorySlots(time.Minute), quietLogger())

	_, err := e.Sync(context.Background(), SyncScope{BusinessId: "b1"})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestSync_InvalidScopeRejected(t *testing.T) {
	e := NewEngine(testConfig(), newFakeStore(), NewMemorySlots(time.Minute), quietLogger())

	if _, err := e.Sync(context.Background(), SyncScope{}); !errors.Is(err, ErrValidation) {
		t.Fatalf("missing business id accepted: %v", err)
	}
	if _, err := e.Sync(context.Background(), SyncScope{
		BusinessId: "b1",
		Types:      []models.ForecastType{"Bogus"},
	}); !errors.Is(err, ErrValidation) {
		t.Fatalf("unknown type accepted: %v", err)
	}
}

func TestSync_PropagationRunsOneFollowupWave(t *testing.T) {
	cfg := testConfig()
	cfg.PropagationEnabled = true
	store := newFakeStore()
	ref := accountRef(1)
	store.refs = []EntityRef{ref}
	store.historyByKey[ref.SlotKey()] = []float64{100, 120}
	e := NewEngine(cfg, store, NewMemorySlots(time.Minute), quietLogger())

	log, err := e.Sync(context.Background(), SyncScope{BusinessId: "b1"})
	if err != nil {
		t.Fatal(err)
	}
	// Revenue primary plus its Cashflow follow-up; Cashflow has no target of
	// its own, so the cascade stops at depth one.
	if log.TotalItems != 2 {
		t.Fatalf("total = %d, want 2", log.TotalItems)
	}
	followKey := "b1|Cashflow|account:1"
	if _, ok := store.forecasts["b1|Cashflow|account:1|2026-08-01"]; !ok {
		t.Fatalf("follow-up forecast %s not written: have %v", followKey, keysOf(store.forecasts))
	}
}

func TestSync_SalesPropagatesToInventoryAtPrimaryWarehouse(t *testing.T) {
	cfg := testConfig()
	cfg.PropagationEnabled = true
	store := newFakeStore()
	store.warehouseId = 7
	start, end := testPeriod()
	ref := EntityRef{
		BusinessId:  "b1",
		Type:        models.ForecastTypeSales,
		ProductId:   3,
		CustomerId:  9,
		PeriodStart: start,
		PeriodEnd:   end,
	}
	store.refs = []EntityRef{ref}
	e := NewEngine(cfg, store, NewMemorySlots(time.Minute), quietLogger())

	log, err := e.Sync(context.Background(), SyncScope{BusinessId: "b1"})
	if err != nil {
		t.Fatal(err)
	}
	if log.TotalItems != 2 {
		t.Fatalf("total = %d, want 2", log.TotalItems)
	}
	if _, ok := store.forecasts["b1|Inventory|product:3:warehouse:7|2026-08-01"]; !ok {
		t.Fatalf("inventory follow-up missing: %v", keysOf(store.forecasts))
	}
}

func TestSync_PropagationSkipsAlreadySyncedTarget(t *testing.T) {
	cfg := testConfig()
	cfg.PropagationEnabled = true
	store := newFakeStore()
	start, end := testPeriod()
	revenue := accountRef(1)
	cashflow := EntityRef{
		BusinessId: "b1", Type: models.ForecastTypeCashflow, AccountId: 1,
		PeriodStart: start, PeriodEnd: end,
	}
	store.refs = []EntityRef{revenue, cashflow}
	e := NewEngine(cfg, store, NewMemorySlots(time.Minute), quietLogger())

	log, err := e.Sync(context.Background(), SyncScope{BusinessId: "b1"})
	if err != nil {
		t.Fatal(err)
	}
	// the cashflow target was a primary already; no duplicate follow-up
	if log.TotalItems != 2 {
		t.Fatalf("total = %d, want 2", log.TotalItems)
	}
}

func TestSync_FailedPrimaryDoesNotPropagate(t *testing.T) {
	cfg := testConfig()
	cfg.PropagationEnabled = true
	store := newFakeStore()
	ref := accountRef(1)
	store.refs = []EntityRef{ref}
	store.validateErrs[ref.SlotKey()] = []error{fmt.Errorf("%w: account 1", ErrNotFound)}
	e := NewEngine(cfg, store, NewMemorySlots(time.Minute), quietLogger())

	log, err := e.Sync(context.Background(), SyncScope{BusinessId: "b1"})
	if err != nil {
		t.Fatal(err)
	}
	if log.TotalItems != 1 || log.FailedItems != 1 {
		t.Fatalf("failed primary spawned follow-ups: %+v", log)
	}
}

func TestSyncOne_WritesAccuracyWhenActualOnFile(t *testing.T) {
	store := newFakeStore()
	ref := accountRef(1)
	store.historyByKey[ref.SlotKey()] = []float64{100, 100, 100}
	store.actuals[ref.SlotKey()] = 100
	e := NewEngine(testConfig(), store, NewMemorySlots(time.Minute), quietLogger())

	res := e.SyncOne(context.Background(), ref)
	if res.Outcome != OutcomeSynced {
		t.Fatalf("sync failed: %+v", res)
	}
	if len(store.accuracy) != 1 {
		t.Fatalf("expected one accuracy record, got %d", len(store.accuracy))
	}
	acc := store.accuracy[0]
	if acc.AccuracyPct != 100 || acc.Grade != models.PerformanceGradeA {
		t.Fatalf("flat history exact actual should grade A: %+v", acc)
	}
}

func TestRecordActual_AppendOnly(t *testing.T) {
	store := newFakeStore()
	ref := accountRef(1)
	store.historyByKey[ref.SlotKey()] = []float64{100}
	e := NewEngine(testConfig(), store, NewMemorySlots(time.Minute), quietLogger())

	res := e.SyncOne(context.Background(), ref)
	if res.Outcome != OutcomeSynced {
		t.Fatalf("sync failed: %+v", res)
	}

	if _, err := e.RecordActual(context.Background(), "b1", res.ForecastId, 95); err != nil {
		t.Fatal(err)
	}
	if _, err := e.RecordActual(context.Background(), "b1", res.ForecastId, 97); err != nil {
		t.Fatal(err)
	}
	if len(store.accuracy) != 2 {
		t.Fatalf("expected 2 accuracy records, got %d", len(store.accuracy))
	}
	if len(store.savedActuals) != 2 {
		t.Fatalf("actual history not saved: %d", len(store.savedActuals))
	}

	_, err := e.RecordActual(context.Background(), "b1", 9999, 95)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing forecast should be NotFound, got %v", err)
	}
}

func TestFixBounds_RepairsStoredRecord(t *testing.T) {
	store := newFakeStore()
	rec := &models.ForecastRecord{
		BusinessId:      "b1",
		Type:            models.ForecastTypeRevenue,
		ReferenceKey:    "account:1",
		PredictedValue:  decimal.NewFromInt(100),
		LowerBound:      decimal.NewFromInt(120),
		UpperBound:      decimal.NewFromInt(80),
		ConfidenceScore: 90,
		PeriodStart:     time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := store.UpsertForecast(context.Background(), rec); err != nil {
		t.Fatal(err)
	}
	e := NewEngine(testConfig(), store, NewMemorySlots(time.Minute), quietLogger())

	changed, msg, err := e.FixBounds(context.Background(), "b1", rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !changed || msg == "" {
		t.Fatalf("inverted bounds not repaired: changed=%v msg=%q", changed, msg)
	}
	stored := store.byId[rec.ID]
	if !stored.LowerBound.Equal(decimal.NewFromInt(80)) || !stored.UpperBound.Equal(decimal.NewFromInt(120)) {
		t.Fatalf("bounds not swapped in store: [%s, %s]", stored.LowerBound, stored.UpperBound)
	}

	changed, msg, err = e.FixBounds(context.Background(), "b1", rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if changed {
		t.Fatalf("second fix reported changes: %q", msg)
	}
}

func TestSync_ForecastRecordsSatisfyBoundsInvariant(t *testing.T) {
	store := newFakeStore()
	for i := 1; i <= 6; i++ {
		ref := accountRef(i)
		store.refs = append(store.refs, ref)
		store.historyByKey[ref.SlotKey()] = []float64{float64(i * 10), float64(i * 20), float64(i * 5)}
	}
	e := NewEngine(testConfig(), store, NewMemorySlots(time.Minute), quietLogger())

	if _, err := e.Sync(context.Background(), SyncScope{BusinessId: "b1"}); err != nil {
		t.Fatal(err)
	}
	for key, rec := range store.forecasts {
		if rec.PredictedValue.LessThan(rec.LowerBound) || rec.PredictedValue.GreaterThan(rec.UpperBound) {
			t.Errorf("%s: predicted %s outside [%s, %s]",
				key, rec.PredictedValue, rec.LowerBound, rec.UpperBound)
		}
		if rec.SyncStatus != models.SyncStatusSynced {
			t.Errorf("%s: status %s", key, rec.SyncStatus)
		}
		if rec.LastSyncedAt == nil {
			t.Errorf("%s: last synced at missing", key)
		}
	}
}

func TestSyncStatus_DaysWindowReachesStatusQueries(t *testing.T) {
	store := newFakeStore()
	e := NewEngine(testConfig(), store, NewMemorySlots(time.Minute), quietLogger())

	if _, err := e.SyncStatus(context.Background(), "b1", 30); err != nil {
		t.Fatal(err)
	}
	// summary, forecast count and accuracy count all honor the cutoff
	if len(store.statusSinces) != 3 {
		t.Fatalf("expected 3 windowed queries, got %d", len(store.statusSinces))
	}
	want := time.Now().AddDate(0, 0, -30)
	for i, since := range store.statusSinces {
		if since.IsZero() {
			t.Fatalf("query %d ignored the days window", i)
		}
		if d := since.Sub(want); d < -time.Minute || d > time.Minute {
			t.Fatalf("query %d cutoff %v, want ~%v", i, since, want)
		}
	}

	store.statusSinces = nil
	if _, err := e.SyncStatus(context.Background(), "b1", 0); err != nil {
		t.Fatal(err)
	}
	for i, since := range store.statusSinces {
		if !since.IsZero() {
			t.Fatalf("query %d applied a cutoff without a days window: %v", i, since)
		}
	}
}

func TestSync_ActualLookupFailureDoesNotFailUnit(t *testing.T) {
	store := newFakeStore()
	ref := accountRef(1)
	store.refs = []EntityRef{ref}
	store.historyByKey[ref.SlotKey()] = []float64{100, 110}
	store.actualErr = fmt.Errorf("%w: read actual", ErrAdapterIO)
	e := NewEngine(testConfig(), store, NewMemorySlots(time.Minute), quietLogger())

	log, err := e.Sync(context.Background(), SyncScope{BusinessId: "b1"})
	if err != nil {
		t.Fatal(err)
	}
	// the forecast itself synced; only the accuracy evaluation was skipped
	if log.Status != models.SyncLogStatusCompleted || log.SuccessfulItems != 1 {
		t.Fatalf("actual lookup failure failed the unit: %+v", log)
	}
	if len(store.accuracy) != 0 {
		t.Fatalf("accuracy recorded despite failed actual lookup: %d", len(store.accuracy))
	}
}

func TestSync_ResponseSummaryCarriesGroupedErrorReport(t *testing.T) {
	store := newFakeStore()
	for i := 1; i <= 4; i++ {
		store.refs = append(store.refs, accountRef(i))
	}
	store.validateErrs[accountRef(1).SlotKey()] = []error{fmt.Errorf("%w: account 1", ErrNotFound)}
	store.validateErrs[accountRef(2).SlotKey()] = []error{fmt.Errorf("%w: account 2", ErrNotFound)}
	e := NewEngine(testConfig(), store, NewMemorySlots(time.Minute), quietLogger())

	log, err := e.Sync(context.Background(), SyncScope{BusinessId: "b1"})
	if err != nil {
		t.Fatal(err)
	}

	summary := NewSyncLogSummary(log)
	if summary.ErrorReport == nil {
		t.Fatal("summary missing grouped error report")
	}
	if summary.ErrorReport.Total != 2 {
		t.Fatalf("report total = %d, want 2", summary.ErrorReport.Total)
	}
	if summary.ErrorReport.ByType[models.ForecastTypeRevenue] != 2 {
		t.Fatalf("by-type counts wrong: %v", summary.ErrorReport.ByType)
	}
	if len(summary.ErrorReport.Groups) != 1 || summary.ErrorReport.Groups[0].Code != "NotFoundError" {
		t.Fatalf("unexpected groups: %+v", summary.ErrorReport.Groups)
	}

	clean, err := e.Sync(context.Background(), SyncScope{BusinessId: "b1"})
	if err != nil {
		t.Fatal(err)
	}
	if NewSyncLogSummary(clean).ErrorReport != nil {
		t.Fatal("clean run should omit the error report")
	}
}

func keysOf(m map[string]*models.ForecastRecord) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
