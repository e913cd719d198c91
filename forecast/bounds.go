package forecast

import (
	"fmt"
	"math"
)

// BoundsPolicy derives a confidence interval for a prediction when the
// model itself did not supply one.
type BoundsPolicy interface {
	DeriveBounds(predicted float64, confidence float64) (lower float64, upper float64, err error)
}

// ConfidenceWidthPolicy widens the interval as confidence drops: the half
// width is max(|predicted|, MinHalfWidth) scaled by (100-confidence)/100.
// A 100-confidence prediction collapses to a zero-width interval.
type ConfidenceWidthPolicy struct {
	MinHalfWidth float64
}

func (p ConfidenceWidthPolicy) DeriveBounds(predicted float64, confidence float64) (float64, float64, error) {
	if confidence <= 0 {
		return 0, 0, fmt.Errorf("%w: no usable confidence score", ErrBoundsUncomputable)
	}
	if confidence > 100 {
		confidence = 100
	}
	minHalf := p.MinHalfWidth
	if minHalf <= 0 {
		minHalf = 1
	}
	half := math.Max(math.Abs(predicted), minHalf) * (100 - confidence) / 100
	return predicted - half, predicted + half, nil
}

// ForecastCandidate is a raw prediction before bounds validation. A nil
// bound means the model produced none.
type ForecastCandidate struct {
	PredictedValue float64
	LowerBound     *float64
	UpperBound     *float64
	Confidence     float64
}

// RepairedForecast is the validated form that may be persisted. BoundsIssue
// is set whenever the stored bounds differ from what the model proposed.
type RepairedForecast struct {
	PredictedValue float64
	LowerBound     float64
	UpperBound     float64
	Confidence     float64
	SwappedBounds  bool
	BoundsIssue    bool
	Warnings       []string
}

// ValidateAndRepair enforces lower <= predicted <= upper on every forecast
// before it is written. Inverted bounds are swapped, a predicted value
// outside the interval is clamped onto the nearer bound, and missing bounds
// are derived from the policy. Repairs are flagged, never silent.
func ValidateAndRepair(c ForecastCandidate, policy BoundsPolicy) (RepairedForecast, error) {
	out := RepairedForecast{
		PredictedValue: c.PredictedValue,
		Confidence:     c.Confidence,
	}

	if c.LowerBound == nil || c.UpperBound == nil {
		lower, upper, err := policy.DeriveBounds(c.PredictedValue, c.Confidence)
		if err != nil {
			return out, err
		}
		out.LowerBound = lower
		out.UpperBound = upper
		out.BoundsIssue = true
		out.Warnings = append(out.Warnings, "bounds missing, derived from confidence score")
	} else {
		out.LowerBound = *c.LowerBound
		out.UpperBound = *c.UpperBound
	}

	if out.LowerBound > out.UpperBound {
		out.LowerBound, out.UpperBound = out.UpperBound, out.LowerBound
		out.SwappedBounds = true
		out.BoundsIssue = true
		out.Warnings = append(out.Warnings, "inverted bounds swapped")
	}

	if out.PredictedValue < out.LowerBound {
		out.PredictedValue = out.LowerBound
		out.BoundsIssue = true
		out.Warnings = append(out.Warnings, "predicted value clamped to lower bound")
	} else if out.PredictedValue > out.UpperBound {
		out.PredictedValue = out.UpperBound
		out.BoundsIssue = true
		out.Warnings = append(out.Warnings, "predicted value clamped to upper bound")
	}

	return out, nil
}
