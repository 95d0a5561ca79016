package mcp

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resistance-prophet-server/internal/domain"
	"github.com/resistance-prophet-server/internal/guidelines"
	"github.com/resistance-prophet-server/internal/pathway"
	"github.com/resistance-prophet-server/internal/profile"
	"github.com/resistance-prophet-server/internal/repository"
	"github.com/resistance-prophet-server/internal/service"
)

type fixture struct {
	server   *Server
	profiles profile.Store
	repo     *repository.MemoryRepository
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	model, err := pathway.NewModel()
	require.NoError(t, err)
	catalog, err := guidelines.New()
	require.NoError(t, err)

	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)

	profiles := profile.NewMemoryStore()
	repo := repository.NewMemoryRepository()
	deps := Dependencies{
		Prophet:    service.NewProphetService(profiles, repo, model, catalog, nil, logger),
		Variants:   service.NewVariantService(service.NewEvidenceEngine(logger), model, nil, nil, nil, logger),
		Guidelines: service.NewGuidelineService(catalog, model, logger),
	}
	return fixture{
		server:   NewServer(domain.MCPConfig{}, deps, logger),
		profiles: profiles,
		repo:     repo,
	}
}

// payload decodes the JSON block of a successful tool result.
func payload(t *testing.T, res *mcp.CallToolResult, dst interface{}) {
	t.Helper()
	require.False(t, res.IsError, text(res, 0))
	require.Len(t, res.Content, 2)
	require.NoError(t, json.Unmarshal([]byte(text(res, 1)), dst))
}

func text(res *mcp.CallToolResult, i int) string {
	if i >= len(res.Content) {
		return ""
	}
	if tc, ok := res.Content[i].(*mcp.TextContent); ok {
		return tc.Text
	}
	return ""
}

var falling = []MeasurementParam{
	{Date: "2025-01-03", Value: 600},
	{Date: "2025-01-27", Value: 560},
	{Date: "2025-02-17", Value: 520},
}

func TestNewServer(t *testing.T) {
	f := newFixture(t)
	assert.NotNil(t, f.server.mcpServer)
	assert.NotNil(t, f.server.HTTPHandler())
}

func TestComputeKelim(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, _, err := f.server.handleComputeKelim(ctx, nil, ComputeKelimParams{
		TreatmentStart: "2025-01-06",
		Measurements:   falling,
	})
	require.NoError(t, err)
	var kr domain.KelimResult
	payload(t, res, &kr)
	assert.Equal(t, domain.KelimComputed, kr.Status)
	assert.Equal(t, domain.KelimUnfavorable, kr.Category)
	assert.Contains(t, text(res, 0), "UNFAVORABLE")

	res, _, err = f.server.handleComputeKelim(ctx, nil, ComputeKelimParams{
		TreatmentStart: "2025-01-06",
		Measurements:   falling[:1],
	})
	require.NoError(t, err)
	payload(t, res, &kr)
	assert.Equal(t, domain.KelimInsufficientData, kr.Status)
	assert.Contains(t, text(res, 0), "not computed")
}

func TestComputeKelim_InvalidDates(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		params ComputeKelimParams
		want   string
	}{
		{"missing start", ComputeKelimParams{Measurements: falling}, "treatment_start"},
		{"bad start", ComputeKelimParams{TreatmentStart: "06/01/2025", Measurements: falling}, "treatment_start"},
		{"bad measurement", ComputeKelimParams{
			TreatmentStart: "2025-01-06",
			Measurements:   []MeasurementParam{{Date: "soon", Value: 10}},
		}, "measurements[0].date"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, _, err := f.server.handleComputeKelim(context.Background(), nil, tt.params)
			require.NoError(t, err)
			assert.True(t, res.IsError)
			assert.Contains(t, text(res, 0), tt.want)
		})
	}
}

func TestAssessResistance_Raw(t *testing.T) {
	f := newFixture(t)
	hrd := 30.0

	res, _, err := f.server.handleAssessResistance(context.Background(), nil, AssessResistanceParams{
		Disease:        "ovarian",
		Regimen:        "olaparib",
		TreatmentLine:  2,
		TreatmentStart: "2025-01-06",
		Measurements:   falling,
		Baseline:       &FeaturesParam{Variants: []VariantParam{{Gene: "BRCA1", Classification: "pathogenic"}}},
		Current:        &FeaturesParam{HRDScore: &hrd},
	})
	require.NoError(t, err)

	var a domain.RiskAssessment
	payload(t, res, &a)
	assert.NotEmpty(t, a.Level)
	assert.Equal(t, 2, a.TreatmentLine)
	assert.Positive(t, a.SignalsEvaluable)
	assert.Contains(t, text(res, 0), "Resistance risk")

	counts, err := f.repo.CountByLevel(context.Background())
	require.NoError(t, err)
	assert.Empty(t, counts)
}

func TestAssessResistance_StoredPatient(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	treatmentStart := time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC)

	require.NoError(t, f.profiles.Create(ctx, &domain.PatientProfile{
		ID:      "pt-7",
		Disease: "ovarian",
		Measurements: []domain.Measurement{
			{Timestamp: treatmentStart.AddDate(0, 0, -3), Value: 600},
			{Timestamp: treatmentStart.AddDate(0, 0, 21), Value: 560},
		},
		TreatmentLines: []domain.TreatmentLine{
			{Line: 1, Regimen: "carboplatin/paclitaxel", Drugs: []string{"carboplatin", "paclitaxel"}, Start: treatmentStart},
		},
	}))

	res, _, err := f.server.handleAssessResistance(ctx, nil, AssessResistanceParams{PatientID: "pt-7"})
	require.NoError(t, err)
	var a domain.RiskAssessment
	payload(t, res, &a)
	assert.Equal(t, "pt-7", a.PatientID)
	assert.NotEmpty(t, a.ID)

	stored, err := f.repo.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.Level, stored.Level)

	res, _, err = f.server.handleAssessResistance(ctx, nil, AssessResistanceParams{PatientID: "missing"})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, text(res, 0), "assessment failed")
}

func TestAssessResistance_Invalid(t *testing.T) {
	f := newFixture(t)
	hrd := 140.0

	tests := []struct {
		name   string
		params AssessResistanceParams
	}{
		{"bad start", AssessResistanceParams{TreatmentStart: "next week"}},
		{"measurements without start", AssessResistanceParams{Measurements: falling}},
		{"hrd out of range", AssessResistanceParams{Current: &FeaturesParam{HRDScore: &hrd}}},
		{"unknown classification", AssessResistanceParams{
			Current: &FeaturesParam{Variants: []VariantParam{{Gene: "BRCA2", Classification: "probably bad"}}},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, _, err := f.server.handleAssessResistance(context.Background(), nil, tt.params)
			require.NoError(t, err)
			assert.True(t, res.IsError)
		})
	}
}

func TestClassifyVariant(t *testing.T) {
	f := newFixture(t)

	res, _, err := f.server.handleClassifyVariant(context.Background(), nil, ClassifyVariantParams{
		Gene: "BRCA2", HGVS: "p.Arg3052Ter", EvidenceCodes: []string{"PM2"},
	})
	require.NoError(t, err)
	var cr domain.ClassificationResult
	payload(t, res, &cr)
	assert.Equal(t, domain.LIKELY_PATHOGENIC, cr.Classification)
	assert.Contains(t, text(res, 0), "BRCA2 p.Arg3052Ter")

	res, _, err = f.server.handleClassifyVariant(context.Background(), nil, ClassifyVariantParams{Gene: "BRCA2"})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, text(res, 0), "hgvs")
}

func TestLookupGuidelines(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, _, err := f.server.handleLookupGuidelines(ctx, nil, LookupGuidelinesParams{Disease: "ovarian", Biomarker: "BRCA1"})
	require.NoError(t, err)
	var gr service.GuidelineResult
	payload(t, res, &gr)
	assert.NotEmpty(t, gr.Recommendations)

	res, _, err = f.server.handleLookupGuidelines(ctx, nil, LookupGuidelinesParams{Disease: "ovarian"})
	require.NoError(t, err)
	payload(t, res, &gr)
	assert.NotEmpty(t, gr.Biomarkers)
	assert.Contains(t, text(res, 0), "Biomarkers covered for")

	res, _, err = f.server.handleLookupGuidelines(ctx, nil, LookupGuidelinesParams{})
	require.NoError(t, err)
	assert.True(t, res.IsError)
}
