package forecast

import (
	"context"
	"testing"
)

func TestPredictors_EmptyHistoryColdStart(t *testing.T) {
	for name, p := range DefaultPredictors() {
		res, err := p.Predict(context.Background(), PredictionInput{})
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", name, err)
		}
		if res.PredictedValue != 0 {
			t.Errorf("%s: cold start predicted %v, want 0", name, res.PredictedValue)
		}
		if res.Confidence != coldStartConfidence {
			t.Errorf("%s: cold start confidence %v, want %v", name, res.Confidence, coldStartConfidence)
		}
		if res.LowerBound != nil || res.UpperBound != nil {
			t.Errorf("%s: cold start should not propose bounds", name)
		}
	}
}

func TestPredictors_Deterministic(t *testing.T) {
	history := []float64{100, 120, 110, 130, 125}
	for name, p := range DefaultPredictors() {
		a, err := p.Predict(context.Background(), PredictionInput{History: history})
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		b, err := p.Predict(context.Background(), PredictionInput{History: history})
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if a.PredictedValue != b.PredictedValue || a.Confidence != b.Confidence {
			t.Errorf("%s: prediction not deterministic: %+v vs %+v", name, a, b)
		}
	}
}

func TestNaivePredictor_RepeatsLastValue(t *testing.T) {
	res, err := NaivePredictor{}.Predict(context.Background(), PredictionInput{History: []float64{10, 20, 30}})
	if err != nil {
		t.Fatal(err)
	}
	if res.PredictedValue != 30 {
		t.Fatalf("predicted %v, want 30", res.PredictedValue)
	}
}

func TestMovingAveragePredictor_FlatHistoryFullConfidenceBand(t *testing.T) {
	res, err := MovingAveragePredictor{}.Predict(context.Background(), PredictionInput{History: []float64{50, 50, 50, 50}})
	if err != nil {
		t.Fatal(err)
	}
	if res.PredictedValue != 50 {
		t.Fatalf("predicted %v, want 50", res.PredictedValue)
	}
	if res.LowerBound == nil || res.UpperBound == nil {
		t.Fatal("expected proposed bounds")
	}
	if *res.LowerBound != 50 || *res.UpperBound != 50 {
		t.Fatalf("flat history should collapse the band, got [%v, %v]", *res.LowerBound, *res.UpperBound)
	}
	if res.Confidence != 95 {
		t.Fatalf("flat history confidence %v, want 95", res.Confidence)
	}
}

func TestMovingAveragePredictor_DispersionLowersConfidence(t *testing.T) {
	flat, _ := MovingAveragePredictor{}.Predict(context.Background(), PredictionInput{History: []float64{100, 100, 100}})
	noisy, _ := MovingAveragePredictor{}.Predict(context.Background(), PredictionInput{History: []float64{10, 200, 90}})
	if noisy.Confidence >= flat.Confidence {
		t.Fatalf("noisy confidence %v should be below flat %v", noisy.Confidence, flat.Confidence)
	}
	if noisy.Confidence < coldStartConfidence {
		t.Fatalf("confidence %v fell below floor", noisy.Confidence)
	}
}

func TestEnsemblePredictor_BlendsAndKeepsPredictionInsideBand(t *testing.T) {
	history := []float64{80, 120, 100, 140}
	res, err := EnsemblePredictor{}.Predict(context.Background(), PredictionInput{History: history})
	if err != nil {
		t.Fatal(err)
	}
	if res.LowerBound == nil || res.UpperBound == nil {
		t.Fatal("expected bounds from ensemble")
	}
	if res.PredictedValue < *res.LowerBound || res.PredictedValue > *res.UpperBound {
		t.Fatalf("ensemble prediction %v outside its own band [%v, %v]",
			res.PredictedValue, *res.LowerBound, *res.UpperBound)
	}
}
