package forecast

import (
	"math"
	"testing"

	"github.com/mmdatafocus/forecast_backend/models"
)

func TestComputeAccuracy_ExactPredictionScoresHundred(t *testing.T) {
	absErr, pct := ComputeAccuracy(500, 500)
	if absErr != 0 || pct != 100 {
		t.Fatalf("exact prediction: absErr=%v pct=%v", absErr, pct)
	}
}

func TestComputeAccuracy_RelativeError(t *testing.T) {
	_, pct := ComputeAccuracy(90, 100)
	if math.Abs(pct-90) > 1e-9 {
		t.Fatalf("expected 90%%, got %v", pct)
	}
	_, pct = ComputeAccuracy(150, 100)
	if math.Abs(pct-50) > 1e-9 {
		t.Fatalf("expected 50%%, got %v", pct)
	}
}

func TestComputeAccuracy_ErrorIsRelativeToActual(t *testing.T) {
	// the denominator is the actual, not the predicted: a 50-unit miss on an
	// actual of 950 scores 100 - 50/950*100, slightly under 95
	absErr, pct := ComputeAccuracy(1000, 950)
	if absErr != 50 {
		t.Fatalf("absErr = %v, want 50", absErr)
	}
	if math.Abs(pct-94.73684210526316) > 1e-9 {
		t.Fatalf("expected ~94.7368%%, got %v", pct)
	}
	if GradeFor(pct) != models.PerformanceGradeA {
		t.Fatalf("expected grade A, got %s", GradeFor(pct))
	}
}

func TestComputeAccuracy_ClampedAtZero(t *testing.T) {
	// error larger than the actual magnitude must not go negative
	_, pct := ComputeAccuracy(1000, 100)
	if pct != 0 {
		t.Fatalf("expected 0%%, got %v", pct)
	}
}

func TestComputeAccuracy_ZeroActualGuardedByEpsilon(t *testing.T) {
	_, pct := ComputeAccuracy(10, 0)
	if pct != 0 {
		t.Fatalf("nonzero prediction against zero actual should score 0, got %v", pct)
	}
	_, pct = ComputeAccuracy(0, 0)
	if pct != 100 {
		t.Fatalf("zero prediction against zero actual should score 100, got %v", pct)
	}
}

func TestComputeAccuracy_NegativeActual(t *testing.T) {
	_, pct := ComputeAccuracy(-90, -100)
	if math.Abs(pct-90) > 1e-9 {
		t.Fatalf("expected 90%% for negative pair, got %v", pct)
	}
}

func TestGradeFor_Thresholds(t *testing.T) {
	cases := []struct {
		pct  float64
		want models.PerformanceGrade
	}{
		{100, models.PerformanceGradeA},
		{90, models.PerformanceGradeA},
		{89.999, models.PerformanceGradeB},
		{75, models.PerformanceGradeB},
		{74.999, models.PerformanceGradeC},
		{50, models.PerformanceGradeC},
		{49.999, models.PerformanceGradeD},
		{0, models.PerformanceGradeD},
	}
	for _, c := range cases {
		if got := GradeFor(c.pct); got != c.want {
			t.Errorf("GradeFor(%v) = %v, want %v", c.pct, got, c.want)
		}
	}
}
