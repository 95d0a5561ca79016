package pathway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resistance-prophet-server/internal/domain"
)

func ptr(x float64) *float64 { return &x }

func newModel(t *testing.T) *Model {
	t.Helper()
	m, err := NewModel()
	require.NoError(t, err)
	return m
}

func TestNewModel_EmbeddedRules(t *testing.T) {
	m := newModel(t)
	assert.Equal(t, "pathway-rules-1.0", m.Version())
	assert.Equal(t, 1.0, m.Impact(domain.PATHOGENIC))
	assert.Equal(t, 0.3, m.Impact(""))

	w, ok := m.GeneWeights("brca1")
	require.True(t, ok)
	assert.Equal(t, 0.9, w.Get(domain.PathwayDDR))

	_, ok = m.GeneWeights("GAPDH")
	assert.False(t, ok)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad yaml", "genes: [unclosed"},
		{"unknown classification", "impacts: {DRUG_RESPONSE: 1}\npopulations: {default: {}}"},
		{"missing VUS", "impacts: {PATHOGENIC: 1}\npopulations: {default: {}}"},
		{"unknown axis", "impacts: {VUS: 0.3}\ngenes: {BRCA1: {WNT: 1}}\npopulations: {default: {}}"},
		{"weight out of range", "impacts: {VUS: 0.3}\ngenes: {BRCA1: {DDR: 1.5}}\npopulations: {default: {}}"},
		{"missing default population", "impacts: {VUS: 0.3}\npopulations: {ovarian: {DDR: 0.5}}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestBurden(t *testing.T) {
	m := newModel(t)

	tests := []struct {
		name     string
		features *domain.TumorFeatures
		axis     domain.Pathway
		want     float64
	}{
		{"nil features", nil, domain.PathwayDDR, 0},
		{
			"single pathogenic BRCA1",
			&domain.TumorFeatures{Variants: []domain.VariantCall{{Gene: "BRCA1", Classification: domain.PATHOGENIC}}},
			domain.PathwayDDR, 0.9,
		},
		{
			"likely pathogenic scales weight",
			&domain.TumorFeatures{Variants: []domain.VariantCall{{Gene: "PALB2", Classification: domain.LIKELY_PATHOGENIC}}},
			domain.PathwayDDR, 0.56,
		},
		{
			"sum saturates at one",
			&domain.TumorFeatures{Variants: []domain.VariantCall{
				{Gene: "BRCA1", Classification: domain.PATHOGENIC},
				{Gene: "BRCA2", Classification: domain.PATHOGENIC},
			}},
			domain.PathwayDDR, 1,
		},
		{
			"benign contributes nothing",
			&domain.TumorFeatures{Variants: []domain.VariantCall{{Gene: "KRAS", Classification: domain.BENIGN}}},
			domain.PathwayMAPK, 0,
		},
		{
			"unclassified scores as VUS",
			&domain.TumorFeatures{Variants: []domain.VariantCall{{Gene: "KRAS"}}},
			domain.PathwayMAPK, 0.24,
		},
		{
			"HRD raises DDR",
			&domain.TumorFeatures{
				Variants: []domain.VariantCall{{Gene: "ATM", Classification: domain.PATHOGENIC}},
				HRDScore: ptr(62),
			},
			domain.PathwayDDR, 0.62,
		},
		{
			"HRD lower than variant burden",
			&domain.TumorFeatures{
				Variants: []domain.VariantCall{{Gene: "BRCA2", Classification: domain.PATHOGENIC}},
				HRDScore: ptr(40),
			},
			domain.PathwayDDR, 0.9,
		},
		{"MSI-high saturates IO", &domain.TumorFeatures{MSIHigh: true, TMB: ptr(2)}, domain.PathwayIO, 1},
		{"TMB scales IO", &domain.TumorFeatures{TMB: ptr(8)}, domain.PathwayIO, 0.4},
		{"TMB caps IO", &domain.TumorFeatures{TMB: ptr(45)}, domain.PathwayIO, 1},
		{
			"expression proxy raises axis",
			&domain.TumorFeatures{ExpressionProxies: map[string]float64{"efflux": 0.7}},
			domain.PathwayEfflux, 0.7,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := m.Burden(tt.features)
			assert.InDelta(t, tt.want, v.Get(tt.axis), 1e-9)
			for _, x := range v {
				assert.GreaterOrEqual(t, x, 0.0)
				assert.LessOrEqual(t, x, 1.0)
			}
		})
	}
}

func TestCoverage(t *testing.T) {
	m := newModel(t)

	c := m.Coverage(&domain.TumorFeatures{
		Variants:          []domain.VariantCall{{Gene: "MLH1", Classification: domain.VUS}, {Gene: "GAPDH"}},
		HRDScore:          ptr(10),
		ExpressionProxies: map[string]float64{"VEGF": 0.2},
	})

	assert.Equal(t, []string{"DDR", "VEGF", "IO"}, c.Names())
	assert.False(t, c.Has(domain.PathwayMAPK))

	assert.Empty(t, m.Coverage(nil).Names())
}

func TestPopulationBaseline(t *testing.T) {
	m := newModel(t)

	v, exact := m.PopulationBaseline("Ovarian")
	assert.True(t, exact)
	assert.Equal(t, 0.5, v.Get(domain.PathwayDDR))

	v, exact = m.PopulationBaseline("mesothelioma")
	assert.False(t, exact)
	assert.Equal(t, 0.3, v.Get(domain.PathwayDDR))
}

func TestMechanismFit(t *testing.T) {
	var parp, tumor, orthogonal domain.PathwayVector
	parp[domain.PathwayDDR] = 1
	tumor[domain.PathwayDDR] = 0.6
	tumor[domain.PathwayMAPK] = 0.8
	orthogonal[domain.PathwayHER2] = 1

	assert.InDelta(t, 0.6, MechanismFit(parp, tumor), 1e-9)
	assert.Equal(t, 1.0, MechanismFit(parp, parp))
	assert.Equal(t, 0.0, MechanismFit(parp, orthogonal))
	assert.Equal(t, 0.0, MechanismFit(parp, domain.PathwayVector{}))
}

func TestDelta(t *testing.T) {
	var b, c domain.PathwayVector
	b[domain.PathwayDDR] = 0.9
	c[domain.PathwayDDR] = 0.35
	c[domain.PathwayPI3K] = 0.2

	d := Delta(b, c)
	assert.Equal(t, 0.55, d.Get(domain.PathwayDDR))
	assert.Equal(t, -0.2, d.Get(domain.PathwayPI3K))
}
