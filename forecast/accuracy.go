package forecast

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmdatafocus/forecast_backend/config"
	"github.com/mmdatafocus/forecast_backend/models"
	"github.com/mmdatafocus/forecast_backend/utils"
)

// accuracyEpsilon guards the relative-error division when the actual value
// is zero.
const accuracyEpsilon = 1e-9

// ComputeAccuracy scores a prediction against the observed actual as a
// percentage in [0,100]. The relative error is taken against the actual
// magnitude, floored at epsilon so a zero actual never divides by zero.
func ComputeAccuracy(predicted, actual float64) (absErr float64, pct float64) {
	absErr = math.Abs(actual - predicted)
	rel := absErr / math.Max(math.Abs(actual), accuracyEpsilon)
	pct = clamp(100-rel*100, 0, 100)
	return absErr, pct
}

func GradeFor(pct float64) models.PerformanceGrade {
	switch {
	case pct >= 90:
		return models.PerformanceGradeA
	case pct >= 75:
		return models.PerformanceGradeB
	case pct >= 50:
		return models.PerformanceGradeC
	default:
		return models.PerformanceGradeD
	}
}

// RecordActual attaches an observed actual to an existing forecast, scores
// it and appends an immutable accuracy record. The actual is also saved as
// history so future predictions learn from it. Calling it twice for the same
// forecast appends two records; accuracy history is never rewritten.
func (e *Engine) RecordActual(ctx context.Context, businessId string, forecastId int, actual float64) (*models.AccuracyRecord, error) {
	rec, err := e.store.GetForecast(ctx, businessId, forecastId)
	if err != nil {
		return nil, err
	}

	predicted := utils.DecimalToFloat(rec.PredictedValue)
	absErr, pct := ComputeAccuracy(predicted, actual)
	grade := GradeFor(pct)

	acc := &models.AccuracyRecord{
		BusinessId:       rec.BusinessId,
		ForecastRecordId: rec.ID,
		ForecastType:     rec.Type,
		ModelIdentifier:  rec.ModelIdentifier,
		ActualValue:      decimal.NewFromFloat(actual),
		AbsoluteError:    decimal.NewFromFloat(absErr),
		AccuracyPct:      pct,
		Grade:            grade,
		EvaluatedAt:      time.Now(),
	}
	if err := e.store.AppendAccuracy(ctx, acc); err != nil {
		return nil, err
	}

	if err := e.store.SaveActual(ctx, &models.ForecastActual{
		BusinessId:   rec.BusinessId,
		Type:         rec.Type,
		ReferenceKey: rec.ReferenceKey,
		PeriodStart:  rec.PeriodStart,
		Value:        decimal.NewFromFloat(actual),
	}); err != nil {
		config.LogError(e.logger, "forecast", "RecordActual", "save actual history", rec.ReferenceKey, err)
	}

	return acc, nil
}

// Summarize aggregates the accuracy history of a company over the trailing
// window: fleet average, per-type averages, grade distribution and the best
// performing models.
func (e *Engine) Summarize(ctx context.Context, businessId string, windowDays int) (*AccuracySummary, error) {
	if windowDays <= 0 {
		windowDays = 90
	}
	since := time.Now().AddDate(0, 0, -windowDays)
	rows, err := e.store.AggregateAccuracy(ctx, businessId, since)
	if err != nil {
		return nil, err
	}

	summary := &AccuracySummary{
		AccuracyByType:          map[models.ForecastType]float64{},
		PerformanceDistribution: map[models.PerformanceGrade]int64{},
	}

	var weightedSum float64
	typeSums := map[models.ForecastType]float64{}
	typeCounts := map[models.ForecastType]int64{}
	modelSums := map[string]float64{}
	modelCounts := map[string]int64{}

	for _, row := range rows {
		summary.TotalRecords += row.Count
		weightedSum += row.MeanAccuracy * float64(row.Count)
		typeSums[row.ForecastType] += row.MeanAccuracy * float64(row.Count)
		typeCounts[row.ForecastType] += row.Count
		summary.PerformanceDistribution[row.Grade] += row.Count
		modelSums[row.ModelIdentifier] += row.MeanAccuracy * float64(row.Count)
		modelCounts[row.ModelIdentifier] += row.Count
	}

	if summary.TotalRecords > 0 {
		summary.AvgAccuracy = weightedSum / float64(summary.TotalRecords)
	}
	for t, sum := range typeSums {
		summary.AccuracyByType[t] = sum / float64(typeCounts[t])
	}
	for model, sum := range modelSums {
		summary.TopModels = append(summary.TopModels, ModelAccuracy{
			Model:        model,
			MeanAccuracy: sum / float64(modelCounts[model]),
			Count:        modelCounts[model],
		})
	}
	sort.Slice(summary.TopModels, func(i, j int) bool {
		if summary.TopModels[i].MeanAccuracy != summary.TopModels[j].MeanAccuracy {
			return summary.TopModels[i].MeanAccuracy > summary.TopModels[j].MeanAccuracy
		}
		return summary.TopModels[i].Model < summary.TopModels[j].Model
	})
	if len(summary.TopModels) > 5 {
		summary.TopModels = summary.TopModels[:5]
	}

	return summary, nil
}
