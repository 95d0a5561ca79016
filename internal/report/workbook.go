package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/resistance-prophet-server/internal/domain"
)

// Sheet names in the export workbook.
const (
	SheetMeasurements = "Measurements"
	SheetLines        = "Treatment Lines"
	SheetAssessments  = "Assessments"
)

// Workbook builds the XLSX export for a profile and its assessment history.
func Workbook(p *domain.PatientProfile, history []*domain.RiskAssessment) (*excelize.File, error) {
	if p == nil {
		return nil, domain.NewValidationError("profile", "profile is required", nil)
	}

	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", SheetMeasurements); err != nil {
		return nil, fmt.Errorf("renaming sheet: %w", err)
	}
	for _, name := range []string{SheetLines, SheetAssessments} {
		if _, err := f.NewSheet(name); err != nil {
			return nil, fmt.Errorf("creating sheet %s: %w", name, err)
		}
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("creating header style: %w", err)
	}

	w := sheetWriter{f: f, headerStyle: bold}

	w.header(SheetMeasurements, "Timestamp", "Marker", "Value")
	for i, m := range p.Measurements {
		marker := m.Marker
		if marker == "" {
			marker = domain.DefaultMarker
		}
		w.row(SheetMeasurements, i+2, m.Timestamp.Format(dateLayout+" 15:04"), marker, m.Value)
	}

	w.header(SheetLines, "Line", "Regimen", "Drugs", "Start", "End", "Progression", "Platinum")
	for i, l := range p.TreatmentLines {
		w.row(SheetLines, i+2, l.Line, l.Regimen, strings.Join(l.Drugs, ", "), l.Start.Format(dateLayout),
			dateOrDash(l.End), dateOrDash(l.ProgressionDate), l.IsPlatinum())
	}

	w.header(SheetAssessments, "Assessed At", "Level", "Probability", "Confidence",
		"Signals Detected", "Signals Evaluable", "Baseline Imputed", "Urgency", "Model", "ID")
	for i, a := range history {
		w.row(SheetAssessments, i+2, a.AssessedAt.Format(dateLayout+" 15:04"), string(a.Level), a.Probability,
			a.Confidence, a.SignalsDetected, a.SignalsEvaluable, a.BaselineImputed, string(a.Urgency), a.ModelVersion, a.ID)
	}

	if w.err != nil {
		return nil, w.err
	}
	f.SetActiveSheet(0)
	return f, nil
}

// WriteXLSX streams the workbook to out.
func WriteXLSX(out io.Writer, p *domain.PatientProfile, history []*domain.RiskAssessment) error {
	f, err := Workbook(p, history)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := f.Write(out); err != nil {
		return fmt.Errorf("writing workbook: %w", err)
	}
	return nil
}

// sheetWriter keeps the first error so callers can check once.
type sheetWriter struct {
	f           *excelize.File
	headerStyle int
	err         error
}

func (w *sheetWriter) header(sheet string, titles ...string) {
	values := make([]interface{}, len(titles))
	for i, t := range titles {
		values[i] = t
	}
	w.row(sheet, 1, values...)
	if w.err != nil {
		return
	}
	end, err := excelize.CoordinatesToCellName(len(titles), 1)
	if err != nil {
		w.err = err
		return
	}
	w.err = w.f.SetCellStyle(sheet, "A1", end, w.headerStyle)
}

func (w *sheetWriter) row(sheet string, n int, values ...interface{}) {
	if w.err != nil {
		return
	}
	cell, err := excelize.CoordinatesToCellName(1, n)
	if err != nil {
		w.err = err
		return
	}
	if err := w.f.SetSheetRow(sheet, cell, &values); err != nil {
		w.err = fmt.Errorf("writing %s row %d: %w", sheet, n, err)
	}
}
