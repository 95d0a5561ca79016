package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/resistance-prophet-server/internal/domain"
	"github.com/resistance-prophet-server/internal/guidelines"
	"github.com/resistance-prophet-server/internal/pathway"
	"github.com/resistance-prophet-server/internal/profile"
	"github.com/resistance-prophet-server/internal/repository"
	"github.com/resistance-prophet-server/pkg/external"
)

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(a *domain.RiskAssessment) {
	m.Called(a)
}

type MockGeneLookup struct {
	mock.Mock
}

func (m *MockGeneLookup) Gene(ctx context.Context, symbol string) (*external.GeneInfo, error) {
	args := m.Called(ctx, symbol)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*external.GeneInfo), args.Error(1)
}

type MockClinVar struct {
	mock.Mock
}

func (m *MockClinVar) Search(ctx context.Context, gene, change string, limit int) ([]external.ClinVarRecord, error) {
	args := m.Called(ctx, gene, change, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]external.ClinVarRecord), args.Error(1)
}

type MockTrials struct {
	mock.Mock
}

func (m *MockTrials) Search(ctx context.Context, q external.TrialQuery) ([]external.Trial, error) {
	args := m.Called(ctx, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]external.Trial), args.Error(1)
}

var start = time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC)

func at(days int) time.Time { return start.AddDate(0, 0, days) }

func atPtr(days int) *time.Time {
	t := at(days)
	return &t
}

func hrd(x float64) *float64 { return &x }

func intPtr(x int) *int { return &x }

func fixtures(t *testing.T) (*pathway.Model, *guidelines.Catalog) {
	t.Helper()
	m, err := pathway.NewModel()
	require.NoError(t, err)
	c, err := guidelines.New()
	require.NoError(t, err)
	return m, c
}

func newProphet(t *testing.T, pub domain.AlertPublisher) (*ProphetService, profile.Store, *repository.MemoryRepository) {
	t.Helper()
	m, c := fixtures(t)
	store := profile.NewMemoryStore()
	repo := repository.NewMemoryRepository()
	s := NewProphetService(store, repo, m, c, pub, testLogger())
	s.now = func() time.Time { return at(90) }
	return s, store, repo
}

func reversionProfile() *domain.PatientProfile {
	return &domain.PatientProfile{
		ID:      "pt-1",
		Disease: "ovarian",
		Measurements: []domain.Measurement{
			{Timestamp: at(-3), Value: 600},
			{Timestamp: at(21), Value: 560},
			{Timestamp: at(42), Value: 520},
			{Timestamp: at(63), Value: 500},
		},
		BaselineFeatures: &domain.TumorFeatures{
			Variants: []domain.VariantCall{{Gene: "BRCA1", Classification: domain.PATHOGENIC}},
		},
		CurrentFeatures: &domain.TumorFeatures{HRDScore: hrd(30)},
		TreatmentLines: []domain.TreatmentLine{
			{Line: 1, Regimen: "carboplatin/paclitaxel", Drugs: []string{"carboplatin", "paclitaxel"}, Start: at(-400), End: atPtr(-274)},
			{Line: 2, Regimen: "olaparib", Drugs: []string{"olaparib"}, Start: at(0)},
		},
	}
}

func TestProphetService_AssessPatient(t *testing.T) {
	pub := new(MockPublisher)
	pub.On("Publish", mock.AnythingOfType("*domain.RiskAssessment")).Return().Once()

	s, store, repo := newProphet(t, pub)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, reversionProfile()))

	a, err := s.AssessPatient(ctx, "pt-1", nil)
	require.NoError(t, err)

	assert.Equal(t, domain.RiskHigh, a.Level)
	assert.Equal(t, 2, a.TreatmentLine)
	assert.False(t, a.BaselineImputed)
	assert.Equal(t, at(90), a.AssessedAt)
	assert.True(t, a.Signal(domain.SignalCA125Kinetics).Detected)
	assert.True(t, a.Signal(domain.SignalDNARepairRestoration).Detected)
	assert.False(t, a.Signal(domain.SignalPathwayEscape).Detected)
	assert.True(t, a.Signal(domain.SignalPathwayEscape).Evaluable)

	stored, err := repo.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.Level, stored.Level)

	history, err := s.History(ctx, "pt-1", 10, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, a.ID, history[0].ID)

	pub.AssertExpectations(t)
}

func TestProphetService_AssessPatient_LowIsNotPublished(t *testing.T) {
	pub := new(MockPublisher)
	s, store, _ := newProphet(t, pub)
	ctx := context.Background()

	p := &domain.PatientProfile{
		ID:           "pt-2",
		Disease:      "ovarian",
		Measurements: []domain.Measurement{{Timestamp: at(-1), Value: 300}, {Timestamp: at(30), Value: 40}},
	}
	require.NoError(t, store.Create(ctx, p))

	a, err := s.AssessPatient(ctx, "pt-2", atPtr(40))
	require.NoError(t, err)
	assert.Equal(t, domain.RiskLow, a.Level)
	assert.Equal(t, at(40), a.AssessedAt)

	kin := a.Signal(domain.SignalCA125Kinetics)
	assert.False(t, kin.Evaluable)
	assert.Contains(t, kin.Rationale, domain.ReasonNoTreatmentStart)

	pub.AssertNotCalled(t, "Publish", mock.Anything)
}

func TestProphetService_AssessPatient_NotFound(t *testing.T) {
	s, _, _ := newProphet(t, nil)
	_, err := s.AssessPatient(context.Background(), "ghost", nil)
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	_, err = s.History(context.Background(), "ghost", 0, 0)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestProphetService_AssessRaw_ImputesBaseline(t *testing.T) {
	s, _, repo := newProphet(t, nil)
	ctx := context.Background()

	a, err := s.AssessRaw(ctx, domain.AssessRequest{
		PatientID: "anon",
		Disease:   "ovarian",
		CurrentFeatures: &domain.TumorFeatures{
			Variants: []domain.VariantCall{{Gene: "BRCA1", Classification: domain.PATHOGENIC}},
		},
	})
	require.NoError(t, err)

	assert.True(t, a.BaselineImputed)
	assert.NotEmpty(t, a.ID)
	assert.Equal(t, domain.RiskLow, a.Level)
	assert.Equal(t, 1, a.SignalsEvaluable)
	assert.Contains(t, a.ConfidenceCaps, domain.ConfidenceCap{Reason: domain.CapBaselineImputed, Cap: 0.6})
	assert.InDelta(t, 0.5, a.Signal(domain.SignalDNARepairRestoration).Details["baseline_ddr"], 1e-9)

	stored, err := repo.ListByPatient(ctx, "anon", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestProphetService_AssessRaw_Invalid(t *testing.T) {
	s, _, _ := newProphet(t, nil)
	_, err := s.AssessRaw(context.Background(), domain.AssessRequest{
		Measurements: []domain.Measurement{{Timestamp: at(0), Value: 100}},
	})
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
}

func TestProphetService_ComputeKelim(t *testing.T) {
	s, _, _ := newProphet(t, nil)
	ctx := context.Background()

	_, err := s.ComputeKelim(ctx, domain.KelimInput{})
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))

	res, err := s.ComputeKelim(ctx, domain.KelimInput{
		TreatmentStart: start,
		Measurements:   reversionProfile().Measurements,
	})
	require.NoError(t, err)
	require.True(t, res.Computed())
	assert.Equal(t, domain.KelimUnfavorable, res.Category)
	assert.Equal(t, 4, res.MeasurementsUsed)
}

func TestProphetService_Timing(t *testing.T) {
	s, store, _ := newProphet(t, nil)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, reversionProfile()))

	tp, err := s.Timing(ctx, "pt-1", nil)
	require.NoError(t, err)
	require.NotNil(t, tp.PFIDays)
	assert.Equal(t, 274, *tp.PFIDays)
	assert.Equal(t, domain.PlatinumPartiallySensitive, tp.PFICategory)
	assert.Equal(t, domain.KelimUnfavorable, tp.KelimCategory)
	require.NotNil(t, tp.Concordant)
	assert.False(t, *tp.Concordant)
	require.Len(t, tp.TFI, 1)
}

func TestProphetService_AssessPatient_IgnoresLaterData(t *testing.T) {
	s, store, _ := newProphet(t, nil)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, reversionProfile()))

	a, err := s.AssessPatient(ctx, "pt-1", atPtr(5))
	require.NoError(t, err)
	require.NotNil(t, a.Kelim)
	assert.Equal(t, domain.KelimInsufficientData, a.Kelim.Status)
	assert.False(t, a.Signal(domain.SignalCA125Kinetics).Detected)
	assert.Equal(t, 2, a.TreatmentLine)

	before, err := s.AssessPatient(ctx, "pt-1", atPtr(-10))
	require.NoError(t, err)
	assert.Equal(t, 1, before.TreatmentLine)
}

func TestProphetService_Timing_AsOf(t *testing.T) {
	s, store, _ := newProphet(t, nil)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, reversionProfile()))

	tests := []struct {
		name     string
		asOf     *time.Time
		days     *int
		category domain.PlatinumCategory
		event    string
		gaps     int
	}{
		{"after next line", atPtr(90), intPtr(274), domain.PlatinumPartiallySensitive, "next_line", 1},
		{"before next line", atPtr(-100), intPtr(174), domain.PlatinumUnknown, "censored", 0},
		{"before platinum ended", atPtr(-300), nil, domain.PlatinumUnknown, "platinum_ongoing", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tp, err := s.Timing(ctx, "pt-1", tt.asOf)
			require.NoError(t, err)
			assert.Equal(t, tt.days, tp.PFIDays)
			assert.Equal(t, tt.category, tp.PFICategory)
			assert.Equal(t, tt.event, tp.PFIEvent)
			assert.Len(t, tp.TFI, tt.gaps)
		})
	}
}

func TestProphetService_AssessRaw_Reproducible(t *testing.T) {
	s, _, _ := newProphet(t, nil)
	ctx := context.Background()
	p := reversionProfile()

	req := func() domain.AssessRequest {
		return domain.AssessRequest{
			PatientID:        "anon",
			Disease:          "ovarian",
			Measurements:     p.Measurements,
			TreatmentStart:   atPtr(0),
			BaselineFeatures: p.BaselineFeatures,
			CurrentFeatures:  p.CurrentFeatures,
			Regimen:          "olaparib",
			TreatmentLine:    2,
			AssessedAt:       atPtr(70),
		}
	}

	first, err := s.AssessRaw(ctx, req())
	require.NoError(t, err)
	second, err := s.AssessRaw(ctx, req())
	require.NoError(t, err)

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	assert.JSONEq(t, string(a), string(b))

	other := req()
	other.AssessedAt = atPtr(71)
	third, err := s.AssessRaw(ctx, other)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, third.ID)
}

func newVariantService(t *testing.T, genes GeneLookup, cv ClinVarSearcher, trials TrialSearcher) *VariantService {
	m, _ := fixtures(t)
	return NewVariantService(NewEvidenceEngine(testLogger()), m, genes, cv, trials, testLogger())
}

func TestVariantService_Annotate(t *testing.T) {
	genes := new(MockGeneLookup)
	cv := new(MockClinVar)
	genes.On("Gene", mock.Anything, "BRCA1").Return(&external.GeneInfo{EnsemblID: "ENSG00000012048", Symbol: "BRCA1"}, nil)
	cv.On("Search", mock.Anything, "BRCA1", "c.68_69del", 0).Return([]external.ClinVarRecord{
		{VariationID: "17661", ClinicalSignificance: "Pathogenic"},
		{VariationID: "17662", ClinicalSignificance: "Pathogenic"},
	}, nil)

	s := newVariantService(t, genes, cv, nil)
	a, err := s.Annotate(context.Background(), AnnotateRequest{Gene: "brca1", HGVS: "NM_007294.4:c.68_69del"})
	require.NoError(t, err)

	assert.Equal(t, "BRCA1", a.Gene)
	assert.Equal(t, "ENSG00000012048", a.GeneInfo.EnsemblID)
	assert.Len(t, a.ClinVar, 2)
	assert.Equal(t, domain.PATHOGENIC, a.Consensus)
	require.NotNil(t, a.Variant)
	assert.True(t, a.Variant.IsNull())
	require.NotNil(t, a.Pathways)
	assert.Equal(t, 0.9, a.Pathways.Get(domain.PathwayDDR))
	assert.Empty(t, a.Warnings)

	genes.AssertExpectations(t)
	cv.AssertExpectations(t)
}

func TestVariantService_Annotate_PartialFailure(t *testing.T) {
	genes := new(MockGeneLookup)
	cv := new(MockClinVar)
	genes.On("Gene", mock.Anything, "TP53").Return(nil, errors.New("ensembl unavailable"))
	cv.On("Search", mock.Anything, "TP53", "", 0).Return([]external.ClinVarRecord{
		{VariationID: "1", ClinicalSignificance: "Pathogenic"},
		{VariationID: "2", ClinicalSignificance: "Benign"},
	}, nil)

	s := newVariantService(t, genes, cv, nil)
	a, err := s.Annotate(context.Background(), AnnotateRequest{Gene: "TP53"})
	require.NoError(t, err)

	assert.Nil(t, a.GeneInfo)
	assert.Equal(t, domain.VUS, a.Consensus)
	require.Len(t, a.Warnings, 1)
	assert.Contains(t, a.Warnings[0], "ensembl lookup failed")
}

func TestVariantService_Annotate_WarningOrder(t *testing.T) {
	tests := []struct {
		name         string
		ensemblDelay time.Duration
		clinvarDelay time.Duration
	}{
		{"ensembl finishes last", 20 * time.Millisecond, 0},
		{"clinvar finishes last", 0, 20 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			genes := new(MockGeneLookup)
			cv := new(MockClinVar)
			genes.On("Gene", mock.Anything, "BRCA2").Return(nil, errors.New("timeout")).After(tt.ensemblDelay)
			cv.On("Search", mock.Anything, "BRCA2", "", 0).Return(nil, errors.New("503")).After(tt.clinvarDelay)

			a, err := newVariantService(t, genes, cv, nil).Annotate(context.Background(), AnnotateRequest{Gene: "BRCA2"})
			require.NoError(t, err)
			assert.Equal(t, []string{
				"ensembl lookup failed: timeout",
				"clinvar lookup failed: 503",
			}, a.Warnings)
		})
	}
}

func TestVariantService_Annotate_Disabled(t *testing.T) {
	s := newVariantService(t, nil, nil, nil)
	a, err := s.Annotate(context.Background(), AnnotateRequest{Gene: "KRAS"})
	require.NoError(t, err)
	assert.Equal(t, []string{"ensembl lookup disabled", "clinvar lookup disabled"}, a.Warnings)
	assert.NotNil(t, a.ClinVar)

	_, err = s.Annotate(context.Background(), AnnotateRequest{Gene: "not a gene"})
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))

	_, err = s.Annotate(context.Background(), AnnotateRequest{Gene: "KRAS", HGVS: "garbage"})
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
}

func TestVariantService_Trials(t *testing.T) {
	trials := new(MockTrials)
	q := external.TrialQuery{Condition: "ovarian cancer"}
	trials.On("Search", mock.Anything, q).Return([]external.Trial{{NCTID: "NCT1"}}, nil).Once()
	trials.On("Search", mock.Anything, external.TrialQuery{Condition: "x"}).Return(nil, errors.New("503")).Once()

	s := newVariantService(t, nil, nil, trials)
	got, err := s.Trials(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, "NCT1", got[0].NCTID)

	_, err = s.Trials(context.Background(), external.TrialQuery{Condition: "x"})
	assert.True(t, errors.Is(err, domain.ErrExternalAPI))

	_, err = newVariantService(t, nil, nil, nil).Trials(context.Background(), q)
	assert.True(t, errors.Is(err, domain.ErrExternalAPI))
}

func TestVariantService_Classify(t *testing.T) {
	s := newVariantService(t, nil, nil, nil)
	res, err := s.Classify(context.Background(), domain.ClassificationRequest{
		Gene: "BRCA2", HGVS: "p.Arg3052Ter", EvidenceCodes: []string{"PM2"},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.LIKELY_PATHOGENIC, res.Classification)
}

func TestGuidelineService(t *testing.T) {
	m, c := fixtures(t)
	s := NewGuidelineService(c, m, testLogger())
	ctx := context.Background()

	res, err := s.Lookup(ctx, "Ovarian", "BRCA1")
	require.NoError(t, err)
	assert.NotEmpty(t, res.Recommendations)
	assert.Equal(t, c.Version(), res.Version)

	res, err = s.Lookup(ctx, "ovarian", "")
	require.NoError(t, err)
	assert.Contains(t, res.Biomarkers, "BRCA")
	assert.Empty(t, res.Recommendations)

	res, err = s.Lookup(ctx, "ovarian", "NOPE")
	require.NoError(t, err)
	assert.NotNil(t, res.Recommendations)
	assert.Empty(t, res.Recommendations)

	_, err = s.Lookup(ctx, " ", "BRCA")
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))

	ranked, err := s.RankDrugs(ctx, RankRequest{
		Features: &domain.TumorFeatures{Variants: []domain.VariantCall{{Gene: "BRCA2", Classification: domain.PATHOGENIC}}},
		Limit:    3,
	})
	require.NoError(t, err)
	require.Len(t, ranked.Rankings, 3)
	assert.Equal(t, 1.0, ranked.Rankings[0].Fit)
	assert.Equal(t, 0.9, ranked.Tumor.Get(domain.PathwayDDR))

	_, err = s.RankDrugs(ctx, RankRequest{})
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
}
