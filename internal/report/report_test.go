package report

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/resistance-prophet-server/internal/domain"
)

var day0 = time.Date(2025, 2, 3, 0, 0, 0, 0, time.UTC)

func sampleProfile() *domain.PatientProfile {
	end := day0.AddDate(0, 0, 126)
	return &domain.PatientProfile{
		ID:      "pt-7",
		Disease: "ovarian",
		Measurements: []domain.Measurement{
			{Timestamp: day0.AddDate(0, 0, -2), Value: 820},
			{Timestamp: day0.AddDate(0, 0, 21), Value: 410.5, Marker: "CA-125"},
		},
		TreatmentLines: []domain.TreatmentLine{
			{Line: 1, Regimen: "carboplatin/paclitaxel", Drugs: []string{"carboplatin", "paclitaxel"}, Start: day0, End: &end},
		},
	}
}

func sampleAssessment() *domain.RiskAssessment {
	k := 0.41
	return &domain.RiskAssessment{
		ID:               "as-1",
		PatientID:        "pt-7",
		Level:            domain.RiskMedium,
		Probability:      0.55,
		Confidence:       0.6,
		SignalsDetected:  1,
		SignalsEvaluable: 2,
		Signals: []domain.ResistanceSignal{
			{Type: domain.SignalCA125Kinetics, Evaluable: true, Detected: true, Probability: 0.8, Confidence: 0.6, Rationale: "KELIM 0.41 (UNFAVORABLE)"},
			{Type: domain.SignalDNARepairRestoration, Evaluable: true, Probability: 0.2, Confidence: 0.6, Rationale: "DDR a|b"},
			{Type: domain.SignalPathwayEscape, Rationale: "regimen mechanism unknown"},
		},
		ConfidenceCaps: []domain.ConfidenceCap{{Reason: domain.CapFewerThanThree, Cap: 0.7}},
		Kelim:          &domain.KelimResult{Status: domain.KelimComputed, K: &k, Category: domain.KelimUnfavorable, MeasurementsUsed: 4},
		Actions:        []string{"Increase CA-125 monitoring to every cycle"},
		Urgency:        domain.UrgencyElevated,
		ModelVersion:   "resistance-prophet-1.0",
		AssessedAt:     day0.AddDate(0, 0, 30),
	}
}

func TestMarkdown(t *testing.T) {
	md, err := Markdown(Input{
		Profile:    sampleProfile(),
		Assessment: sampleAssessment(),
		Timing:     &domain.TimingProfile{Summary: "PFI 200 days (PARTIALLY_SENSITIVE, next_line)"},
	})
	require.NoError(t, err)
	s := string(md)

	assert.Contains(t, s, "# Resistance summary: pt-7")
	assert.Contains(t, s, "- **Current line:** 1 (carboplatin/paclitaxel), started 2025-02-03")
	assert.Contains(t, s, "**MEDIUM** (probability 0.55, confidence 0.60, urgency ELEVATED)")
	assert.Contains(t, s, "| CA125_KINETICS | detected | 0.80 | 0.60 |")
	assert.Contains(t, s, "| PATHWAY_ESCAPE | not evaluable |")
	assert.Contains(t, s, `DDR a\|b`)
	assert.Contains(t, s, "KELIM 0.41 (UNFAVORABLE) from 4 measurements.")
	assert.Contains(t, s, "> Confidence capped at 0.70: fewer_than_three_signals")
	assert.Contains(t, s, "1. Increase CA-125 monitoring to every cycle")
	assert.Contains(t, s, "## Platinum timing")
	assert.Contains(t, s, "| 1 | carboplatin/paclitaxel | 2025-02-03 | 2025-06-09 | - |")
}

func TestMarkdown_NoAssessment(t *testing.T) {
	md, err := Markdown(Input{Profile: &domain.PatientProfile{ID: "p", Disease: "breast"}})
	require.NoError(t, err)
	assert.Contains(t, string(md), "No assessment on record.")
	assert.NotContains(t, string(md), "## Treatment history")

	_, err = Markdown(Input{})
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
}

func TestHTML(t *testing.T) {
	md, err := Markdown(Input{Profile: sampleProfile(), Assessment: sampleAssessment()})
	require.NoError(t, err)

	out := string(HTML(md))
	assert.Contains(t, out, "<html")
	assert.Contains(t, out, "<title>Resistance summary</title>")
	assert.Contains(t, out, "<table>")
	assert.Contains(t, out, "<strong>MEDIUM</strong>")
}

func TestWriteXLSX(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, sampleProfile(), []*domain.RiskAssessment{sampleAssessment()}))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{SheetMeasurements, SheetLines, SheetAssessments}, f.GetSheetList())

	rows, err := f.GetRows(SheetMeasurements)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"Timestamp", "Marker", "Value"}, rows[0])
	assert.Equal(t, []string{"2025-02-01 00:00", "CA-125", "820"}, rows[1])
	assert.Equal(t, "410.5", rows[2][2])

	rows, err = f.GetRows(SheetLines)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "carboplatin, paclitaxel", rows[1][2])
	assert.Equal(t, "TRUE", rows[1][6])

	rows, err = f.GetRows(SheetAssessments)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "MEDIUM", rows[1][1])
	assert.Equal(t, "as-1", rows[1][9])
}

func TestWorkbook_RequiresProfile(t *testing.T) {
	_, err := Workbook(nil, nil)
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
}
