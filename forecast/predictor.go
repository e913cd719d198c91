package forecast

import (
	"context"
	"math"
)

type PredictionInput struct {
	Ref     EntityRef
	History []float64
}

type PredictionResult struct {
	PredictedValue float64
	LowerBound     *float64
	UpperBound     *float64
	Confidence     float64
	Model          string
}

// Predictor produces one deterministic prediction from observed history.
// Implementations must be pure: same history, same result.
type Predictor interface {
	Name() string
	Predict(ctx context.Context, in PredictionInput) (PredictionResult, error)
}

const (
	ModelNaive         = "naive"
	ModelMovingAverage = "moving_average"
	ModelEnsemble      = "ensemble"

	// Confidence assigned when there is no history at all.
	coldStartConfidence = 25
)

func DefaultPredictors() map[string]Predictor {
	return map[string]Predictor{
		ModelNaive:         NaivePredictor{},
		ModelMovingAverage: MovingAveragePredictor{},
		ModelEnsemble:      EnsemblePredictor{},
	}
}

// NaivePredictor repeats the most recent observation. It never proposes
// bounds, so the bounds policy always derives them.
type NaivePredictor struct{}

func (NaivePredictor) Name() string { return ModelNaive }

func (NaivePredictor) Predict(_ context.Context, in PredictionInput) (PredictionResult, error) {
	res := PredictionResult{Model: ModelNaive}
	if len(in.History) == 0 {
		res.Confidence = coldStartConfidence
		return res, nil
	}
	res.PredictedValue = in.History[len(in.History)-1]
	res.Confidence = 50
	return res, nil
}

// MovingAveragePredictor predicts the mean of the history and bounds it at
// two standard deviations. Confidence falls as relative dispersion rises.
type MovingAveragePredictor struct{}

func (MovingAveragePredictor) Name() string { return ModelMovingAverage }

func (MovingAveragePredictor) Predict(_ context.Context, in PredictionInput) (PredictionResult, error) {
	res := PredictionResult{Model: ModelMovingAverage}
	if len(in.History) == 0 {
		res.Confidence = coldStartConfidence
		return res, nil
	}
	mean, sigma := meanAndStdDev(in.History)
	res.PredictedValue = mean
	lower := mean - 2*sigma
	upper := mean + 2*sigma
	res.LowerBound = &lower
	res.UpperBound = &upper
	cv := sigma / math.Max(math.Abs(mean), 1)
	res.Confidence = clamp(95-100*cv, coldStartConfidence, 95)
	return res, nil
}

// EnsemblePredictor averages the naive and moving-average predictions and
// keeps the wider of their interval proposals.
type EnsemblePredictor struct{}

func (EnsemblePredictor) Name() string { return ModelEnsemble }

func (EnsemblePredictor) Predict(ctx context.Context, in PredictionInput) (PredictionResult, error) {
	res := PredictionResult{Model: ModelEnsemble}
	if len(in.History) == 0 {
		res.Confidence = coldStartConfidence
		return res, nil
	}
	naive, err := NaivePredictor{}.Predict(ctx, in)
	if err != nil {
		return res, err
	}
	ma, err := MovingAveragePredictor{}.Predict(ctx, in)
	if err != nil {
		return res, err
	}
	res.PredictedValue = (naive.PredictedValue + ma.PredictedValue) / 2
	res.Confidence = (naive.Confidence + ma.Confidence) / 2
	if ma.LowerBound != nil && ma.UpperBound != nil {
		lower := math.Min(*ma.LowerBound, res.PredictedValue)
		upper := math.Max(*ma.UpperBound, res.PredictedValue)
		res.LowerBound = &lower
		res.UpperBound = &upper
	}
	return res, nil
}

func meanAndStdDev(values []float64) (float64, float64) {
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / float64(len(values)))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
