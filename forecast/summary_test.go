package forecast

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/mmdatafocus/forecast_backend/models"
)

func TestSummarize_WeightedAverages(t *testing.T) {
	store := newFakeStore()
	store.aggRows = []models.AccuracyAggregateRow{
		{ForecastType: models.ForecastTypeRevenue, Grade: models.PerformanceGradeA,
			ModelIdentifier: ModelEnsemble, Count: 3, MeanAccuracy: 95},
		{ForecastType: models.ForecastTypeRevenue, Grade: models.PerformanceGradeC,
			ModelIdentifier: ModelNaive, Count: 1, MeanAccuracy: 55},
		{ForecastType: models.ForecastTypeInventory, Grade: models.PerformanceGradeB,
			ModelIdentifier: ModelEnsemble, Count: 2, MeanAccuracy: 80},
	}
	e := NewEngine(testConfig(), store, NewMemorySlots(time.Minute), quietLogger())

	summary, err := e.Summarize(context.Background(), "b1", 90)
	if err != nil {
		t.Fatal(err)
	}
	if summary.TotalRecords != 6 {
		t.Fatalf("total = %d, want 6", summary.TotalRecords)
	}
	want := (95*3.0 + 55*1 + 80*2) / 6
	if math.Abs(summary.AvgAccuracy-want) > 1e-9 {
		t.Fatalf("avg = %v, want %v", summary.AvgAccuracy, want)
	}
	wantRevenue := (95*3.0 + 55*1) / 4
	if math.Abs(summary.AccuracyByType[models.ForecastTypeRevenue]-wantRevenue) > 1e-9 {
		t.Fatalf("revenue avg = %v, want %v", summary.AccuracyByType[models.ForecastTypeRevenue], wantRevenue)
	}
	if summary.PerformanceDistribution[models.PerformanceGradeA] != 3 ||
		summary.PerformanceDistribution[models.PerformanceGradeB] != 2 ||
		summary.PerformanceDistribution[models.PerformanceGradeC] != 1 {
		t.Fatalf("grade distribution wrong: %v", summary.PerformanceDistribution)
	}
	if len(summary.TopModels) != 2 {
		t.Fatalf("expected 2 models, got %v", summary.TopModels)
	}
	if summary.TopModels[0].Model != ModelEnsemble {
		t.Fatalf("best model should lead: %v", summary.TopModels)
	}
}

func TestSummarize_EmptyHistory(t *testing.T) {
	e := NewEngine(testConfig(), newFakeStore(), NewMemorySlots(time.Minute), quietLogger())
	summary, err := e.Summarize(context.Background(), "b1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if summary.TotalRecords != 0 || summary.AvgAccuracy != 0 {
		t.Fatalf("empty summary wrong: %+v", summary)
	}
}

func TestBuildAccuracyWorkbook(t *testing.T) {
	summary := &AccuracySummary{
		TotalRecords: 6,
		AvgAccuracy:  85.5,
		AccuracyByType: map[models.ForecastType]float64{
			models.ForecastTypeRevenue: 85,
		},
		PerformanceDistribution: map[models.PerformanceGrade]int64{
			models.PerformanceGradeA: 3,
		},
		TopModels: []ModelAccuracy{{Model: ModelEnsemble, MeanAccuracy: 90, Count: 5}},
	}
	data, err := BuildAccuracyWorkbook(summary)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) == 0 {
		t.Fatal("empty workbook")
	}
	// xlsx files are zip archives
	if data[0] != 'P' || data[1] != 'K' {
		t.Fatalf("not a zip container: % x", data[:4])
	}
}
