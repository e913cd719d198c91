package forecast

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/xuri/excelize/v2"

	"github.com/mmdatafocus/forecast_backend/models"
)

// BuildAccuracyWorkbook renders an accuracy summary as a spreadsheet with
// one sheet per section.
func BuildAccuracyWorkbook(summary *AccuracySummary) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	sheet := "Summary"
	f.SetSheetName(f.GetSheetName(0), sheet)

	rows := [][]interface{}{
		{"Total Records", summary.TotalRecords},
		{"Average Accuracy %", summary.AvgAccuracy},
	}
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return nil, err
		}
	}

	byType := "By Type"
	if _, err := f.NewSheet(byType); err != nil {
		return nil, err
	}
	if err := f.SetSheetRow(byType, "A1", &[]interface{}{"Forecast Type", "Average Accuracy %"}); err != nil {
		return nil, err
	}
	types := make([]string, 0, len(summary.AccuracyByType))
	for t := range summary.AccuracyByType {
		types = append(types, string(t))
	}
	sort.Strings(types)
	for i, t := range types {
		row := []interface{}{t, summary.AccuracyByType[models.ForecastType(t)]}
		if err := f.SetSheetRow(byType, fmt.Sprintf("A%d", i+2), &row); err != nil {
			return nil, err
		}
	}

	grades := "Grades"
	if _, err := f.NewSheet(grades); err != nil {
		return nil, err
	}
	if err := f.SetSheetRow(grades, "A1", &[]interface{}{"Grade", "Count"}); err != nil {
		return nil, err
	}
	for i, g := range []models.PerformanceGrade{
		models.PerformanceGradeA, models.PerformanceGradeB,
		models.PerformanceGradeC, models.PerformanceGradeD,
	} {
		row := []interface{}{string(g), summary.PerformanceDistribution[g]}
		if err := f.SetSheetRow(grades, fmt.Sprintf("A%d", i+2), &row); err != nil {
			return nil, err
		}
	}

	modelsSheet := "Models"
	if _, err := f.NewSheet(modelsSheet); err != nil {
		return nil, err
	}
	if err := f.SetSheetRow(modelsSheet, "A1", &[]interface{}{"Model", "Mean Accuracy %", "Records"}); err != nil {
		return nil, err
	}
	for i, m := range summary.TopModels {
		row := []interface{}{m.Model, m.MeanAccuracy, m.Count}
		if err := f.SetSheetRow(modelsSheet, fmt.Sprintf("A%d", i+2), &row); err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
