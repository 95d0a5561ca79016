package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/resistance-prophet-server/internal/domain"
)

// MeasurementParam is one CA-125 value.
type MeasurementParam struct {
	Date  string  `json:"date" jsonschema:"measurement date as RFC 3339 or YYYY-MM-DD"`
	Value float64 `json:"value" jsonschema:"CA-125 in U/mL"`
}

// ComputeKelimParams defines parameters for the compute_kelim tool
type ComputeKelimParams struct {
	TreatmentStart string             `json:"treatment_start" jsonschema:"first day of the regimen as RFC 3339 or YYYY-MM-DD"`
	Measurements   []MeasurementParam `json:"measurements" jsonschema:"CA-125 series including a pre-treatment baseline"`
}

// VariantParam is one classified variant in a tumor profile.
type VariantParam struct {
	Gene           string `json:"gene" jsonschema:"HGNC gene symbol"`
	Classification string `json:"classification,omitempty" jsonschema:"PATHOGENIC, LIKELY_PATHOGENIC, VUS, LIKELY_BENIGN or BENIGN"`
}

// FeaturesParam describes a tumor profile at one time point.
type FeaturesParam struct {
	Variants []VariantParam `json:"variants,omitempty" jsonschema:"classified variants"`
	HRDScore *float64       `json:"hrd_score,omitempty" jsonschema:"genomic instability score from 0 to 100"`
	TMB      *float64       `json:"tmb,omitempty" jsonschema:"tumor mutational burden in mutations per megabase"`
	MSIHigh  bool           `json:"msi_high,omitempty" jsonschema:"microsatellite instability high"`
}

// AssessResistanceParams defines parameters for the assess_resistance tool
type AssessResistanceParams struct {
	PatientID      string             `json:"patient_id,omitempty" jsonschema:"stored profile to assess; when set the remaining fields are ignored"`
	Disease        string             `json:"disease,omitempty" jsonschema:"disease used for population baseline imputation"`
	Regimen        string             `json:"regimen,omitempty" jsonschema:"current regimen such as carboplatin/paclitaxel"`
	TreatmentLine  int                `json:"treatment_line,omitempty" jsonschema:"line of therapy starting at 1"`
	TreatmentStart string             `json:"treatment_start,omitempty" jsonschema:"first day of the current regimen"`
	Measurements   []MeasurementParam `json:"measurements,omitempty" jsonschema:"CA-125 series"`
	Baseline       *FeaturesParam     `json:"baseline,omitempty" jsonschema:"tumor profile before treatment"`
	Current        *FeaturesParam     `json:"current,omitempty" jsonschema:"most recent tumor profile"`
}

// ClassifyVariantParams defines parameters for the classify_variant tool
type ClassifyVariantParams struct {
	Gene          string   `json:"gene" jsonschema:"HGNC gene symbol"`
	HGVS          string   `json:"hgvs" jsonschema:"HGVS notation such as c.68_69del or p.Arg1443Ter"`
	EvidenceCodes []string `json:"evidence_codes,omitempty" jsonschema:"asserted ACMG/AMP codes such as PS3 or PM2"`
}

// LookupGuidelinesParams defines parameters for the lookup_guidelines tool
type LookupGuidelinesParams struct {
	Disease   string `json:"disease" jsonschema:"disease such as ovarian"`
	Biomarker string `json:"biomarker,omitempty" jsonschema:"biomarker such as BRCA or HRD"`
}

func (s *Server) handleComputeKelim(ctx context.Context, req *mcp.CallToolRequest, params ComputeKelimParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", ToolComputeKelim).Info("Tool invoked")

	start, err := parseDate("treatment_start", params.TreatmentStart)
	if err != nil {
		return s.createErrorResult("invalid parameters", err), nil, nil
	}
	ms, err := measurements(params.Measurements)
	if err != nil {
		return s.createErrorResult("invalid parameters", err), nil, nil
	}

	res, err := s.deps.Prophet.ComputeKelim(ctx, domain.KelimInput{Measurements: ms, TreatmentStart: start})
	if err != nil {
		return s.createErrorResult("KELIM computation failed", err), nil, nil
	}

	headline := fmt.Sprintf("KELIM not computed (%s)", res.Reason)
	if res.Computed() {
		headline = fmt.Sprintf("KELIM %.2f (%s) from %d measurements", *res.K, res.Category, res.MeasurementsUsed)
	}
	return s.createJSONResult(headline, res), nil, nil
}

func (s *Server) handleAssessResistance(ctx context.Context, req *mcp.CallToolRequest, params AssessResistanceParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", ToolAssessResistance).Info("Tool invoked")

	var (
		a   *domain.RiskAssessment
		err error
	)
	if params.PatientID != "" {
		a, err = s.deps.Prophet.AssessPatient(ctx, params.PatientID, nil)
	} else {
		var ar domain.AssessRequest
		ar, err = assessRequest(params)
		if err != nil {
			return s.createErrorResult("invalid parameters", err), nil, nil
		}
		a, err = s.deps.Prophet.AssessRaw(ctx, ar)
	}
	if err != nil {
		return s.createErrorResult("assessment failed", err), nil, nil
	}

	headline := fmt.Sprintf("Resistance risk %s (probability %.2f, confidence %.2f, %d of %d signals detected)",
		a.Level, a.Probability, a.Confidence, a.SignalsDetected, a.SignalsEvaluable)
	return s.createJSONResult(headline, a), nil, nil
}

func (s *Server) handleClassifyVariant(ctx context.Context, req *mcp.CallToolRequest, params ClassifyVariantParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", ToolClassifyVariant).Info("Tool invoked")

	res, err := s.deps.Variants.Classify(ctx, domain.ClassificationRequest{
		Gene:          params.Gene,
		HGVS:          params.HGVS,
		EvidenceCodes: params.EvidenceCodes,
	})
	if err != nil {
		return s.createErrorResult("classification failed", err), nil, nil
	}

	headline := fmt.Sprintf("%s %s: %s (%s confidence)", res.Gene, res.HGVS, res.Classification, res.Confidence)
	return s.createJSONResult(headline, res), nil, nil
}

func (s *Server) handleLookupGuidelines(ctx context.Context, req *mcp.CallToolRequest, params LookupGuidelinesParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", ToolLookupGuidelines).Info("Tool invoked")

	res, err := s.deps.Guidelines.Lookup(ctx, params.Disease, params.Biomarker)
	if err != nil {
		return s.createErrorResult("guideline lookup failed", err), nil, nil
	}

	headline := fmt.Sprintf("%d recommendations for %s %s", len(res.Recommendations), res.Disease, res.Biomarker)
	if res.Biomarker == "" {
		headline = fmt.Sprintf("Biomarkers covered for %s: %s", res.Disease, strings.Join(res.Biomarkers, ", "))
	}
	return s.createJSONResult(headline, res), nil, nil
}

func assessRequest(p AssessResistanceParams) (domain.AssessRequest, error) {
	ar := domain.AssessRequest{
		Disease:       p.Disease,
		Regimen:       p.Regimen,
		TreatmentLine: p.TreatmentLine,
	}
	if p.TreatmentStart != "" {
		start, err := parseDate("treatment_start", p.TreatmentStart)
		if err != nil {
			return ar, err
		}
		ar.TreatmentStart = &start
	}
	ms, err := measurements(p.Measurements)
	if err != nil {
		return ar, err
	}
	ar.Measurements = ms
	ar.BaselineFeatures = features(p.Baseline)
	ar.CurrentFeatures = features(p.Current)
	return ar, nil
}

func features(p *FeaturesParam) *domain.TumorFeatures {
	if p == nil {
		return nil
	}
	f := &domain.TumorFeatures{HRDScore: p.HRDScore, TMB: p.TMB, MSIHigh: p.MSIHigh}
	for _, v := range p.Variants {
		f.Variants = append(f.Variants, domain.VariantCall{
			Gene:           v.Gene,
			Classification: domain.Classification(strings.ToUpper(strings.TrimSpace(v.Classification))),
		})
	}
	return f
}

func measurements(in []MeasurementParam) ([]domain.Measurement, error) {
	out := make([]domain.Measurement, 0, len(in))
	for i, m := range in {
		t, err := parseDate(fmt.Sprintf("measurements[%d].date", i), m.Date)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.Measurement{Timestamp: t, Value: m.Value, Marker: domain.DefaultMarker})
	}
	return out, nil
}

func parseDate(field, raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, domain.NewValidationError(field, "date is required", raw)
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, domain.NewValidationError(field, "must be RFC 3339 or YYYY-MM-DD", raw)
}

// createJSONResult returns a headline plus the full result as JSON text.
func (s *Server) createJSONResult(headline string, v interface{}) *mcp.CallToolResult {
	body, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return s.createErrorResult("failed to encode result", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: headline},
			&mcp.TextContent{Text: string(body)},
		},
	}
}

// createErrorResult creates a standardized error result for tool calls
func (s *Server) createErrorResult(message string, err error) *mcp.CallToolResult {
	errorText := fmt.Sprintf("Error: %s", message)
	if err != nil {
		errorText += fmt.Sprintf(" - %v", err)
		s.logger.WithError(err).WithField("code", domain.ErrorCode(err)).Warn(message)
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: errorText},
		},
		IsError: true,
	}
}
