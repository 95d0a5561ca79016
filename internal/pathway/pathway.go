// Package pathway turns proxy tumor features into pathway-burden vectors and
// compares them against regimen mechanism vectors.
package pathway

import (
	_ "embed"
	"fmt"
	"math"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/resistance-prophet-server/internal/domain"
)

//go:embed rules.yaml
var rulesYAML []byte

// DefaultPopulation is used when a disease has no population row.
const DefaultPopulation = "default"

const (
	// HRDScale maps an HRD score onto [0, 1].
	HRDScale = 100.0
	// TMBHigh is the mutations/Mb at which IO burden saturates.
	TMBHigh = 20.0
)

type rulesFile struct {
	Version     string                        `yaml:"version"`
	Impacts     map[string]float64            `yaml:"impacts"`
	Genes       map[string]map[string]float64 `yaml:"genes"`
	Populations map[string]map[string]float64 `yaml:"populations"`
}

// Model holds a parsed rule table. It is immutable and safe for concurrent use.
type Model struct {
	version     string
	impacts     map[domain.Classification]float64
	genes       map[string]domain.PathwayVector
	populations map[string]domain.PathwayVector
}

// NewModel parses the embedded rule table.
func NewModel() (*Model, error) {
	return Parse(rulesYAML)
}

// Parse builds a Model from YAML rule data.
func Parse(data []byte) (*Model, error) {
	var raw rulesFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse pathway rules: %w", err)
	}

	m := &Model{
		version:     raw.Version,
		impacts:     make(map[domain.Classification]float64, len(raw.Impacts)),
		genes:       make(map[string]domain.PathwayVector, len(raw.Genes)),
		populations: make(map[string]domain.PathwayVector, len(raw.Populations)),
	}

	for name, impact := range raw.Impacts {
		c := domain.Classification(strings.ToUpper(name))
		if !c.IsValid() {
			return nil, fmt.Errorf("pathway rules: unknown classification %q", name)
		}
		m.impacts[c] = impact
	}
	if _, ok := m.impacts[domain.VUS]; !ok {
		return nil, fmt.Errorf("pathway rules: VUS impact is required")
	}

	for gene, weights := range raw.Genes {
		v, err := ParseVector(weights)
		if err != nil {
			return nil, fmt.Errorf("pathway rules: gene %s: %w", gene, err)
		}
		m.genes[strings.ToUpper(gene)] = v
	}

	for disease, weights := range raw.Populations {
		v, err := ParseVector(weights)
		if err != nil {
			return nil, fmt.Errorf("pathway rules: population %s: %w", disease, err)
		}
		m.populations[strings.ToLower(disease)] = v
	}
	if _, ok := m.populations[DefaultPopulation]; !ok {
		return nil, fmt.Errorf("pathway rules: %q population is required", DefaultPopulation)
	}

	return m, nil
}

// ParseVector builds a vector from axis-name weights in [0, 1].
func ParseVector(weights map[string]float64) (domain.PathwayVector, error) {
	var v domain.PathwayVector
	for name, w := range weights {
		p, err := domain.ParsePathway(name)
		if err != nil {
			return v, err
		}
		if w < 0 || w > 1 {
			return v, fmt.Errorf("weight for %s out of range: %v", name, w)
		}
		v[p] = w
	}
	return v, nil
}

// Version identifies the rule table.
func (m *Model) Version() string {
	return m.version
}

// Impact returns the burden multiplier for a classification. Unclassified and
// unknown values score as VUS.
func (m *Model) Impact(c domain.Classification) float64 {
	if x, ok := m.impacts[c]; ok {
		return x
	}
	return m.impacts[domain.VUS]
}

// GeneWeights returns the pathway weights for a gene symbol.
func (m *Model) GeneWeights(gene string) (domain.PathwayVector, bool) {
	v, ok := m.genes[strings.ToUpper(strings.TrimSpace(gene))]
	return v, ok
}

// Burden computes the pathway-burden vector for f. A nil f yields the zero
// vector.
func (m *Model) Burden(f *domain.TumorFeatures) domain.PathwayVector {
	var out domain.PathwayVector
	if f == nil {
		return out
	}

	for _, call := range f.Variants {
		weights, ok := m.GeneWeights(call.Gene)
		if !ok {
			continue
		}
		impact := m.Impact(call.Classification)
		for i := range out {
			out[i] += weights[i] * impact
		}
	}
	for i := range out {
		out[i] = math.Min(1, out[i])
	}

	if f.HRDScore != nil {
		out[domain.PathwayDDR] = math.Max(out[domain.PathwayDDR], clamp01(*f.HRDScore/HRDScale))
	}

	if f.MSIHigh {
		out[domain.PathwayIO] = 1
	} else if f.TMB != nil {
		out[domain.PathwayIO] = math.Max(out[domain.PathwayIO], math.Min(1, *f.TMB/TMBHigh))
	}

	for _, p := range domain.AllPathways() {
		if x, ok := expression(f, p); ok {
			out[p] = math.Max(out[p], clamp01(x))
		}
	}

	for i := range out {
		out[i] = domain.Round4(out[i])
	}
	return out
}

// Coverage marks the axes with at least one observed input in f.
func (m *Model) Coverage(f *domain.TumorFeatures) domain.PathwayCoverage {
	var c domain.PathwayCoverage
	if f == nil {
		return c
	}
	for _, call := range f.Variants {
		if weights, ok := m.GeneWeights(call.Gene); ok {
			for i, w := range weights {
				if w > 0 {
					c[i] = true
				}
			}
		}
	}
	if f.HRDScore != nil {
		c[domain.PathwayDDR] = true
	}
	if f.MSIHigh || f.TMB != nil {
		c[domain.PathwayIO] = true
	}
	for _, p := range domain.AllPathways() {
		if _, ok := expression(f, p); ok {
			c[p] = true
		}
	}
	return c
}

// PopulationBaseline returns the population-average vector for disease. The
// bool is false when the default row was substituted.
func (m *Model) PopulationBaseline(disease string) (domain.PathwayVector, bool) {
	if v, ok := m.populations[strings.ToLower(strings.TrimSpace(disease))]; ok {
		return v, true
	}
	return m.populations[DefaultPopulation], false
}

// MechanismFit is the cosine similarity between a regimen mechanism vector and
// a tumor vector, 0 when either is the zero vector.
func MechanismFit(mechanism, tumor domain.PathwayVector) float64 {
	var dot, nm, nt float64
	for i := range mechanism {
		dot += mechanism[i] * tumor[i]
		nm += mechanism[i] * mechanism[i]
		nt += tumor[i] * tumor[i]
	}
	if nm == 0 || nt == 0 {
		return 0
	}
	return domain.Round4(dot / (math.Sqrt(nm) * math.Sqrt(nt)))
}

// Delta returns baseline minus current per axis.
func Delta(baseline, current domain.PathwayVector) domain.PathwayVector {
	var d domain.PathwayVector
	for i := range d {
		d[i] = domain.Round4(baseline[i] - current[i])
	}
	return d
}

// expression returns the largest proxy keyed by p in any letter case.
func expression(f *domain.TumorFeatures, p domain.Pathway) (float64, bool) {
	best, found := 0.0, false
	for k, x := range f.ExpressionProxies {
		if strings.EqualFold(k, p.String()) && (!found || x > best) {
			best, found = x, true
		}
	}
	return best, found
}

func clamp01(x float64) float64 {
	return math.Max(0, math.Min(1, x))
}
