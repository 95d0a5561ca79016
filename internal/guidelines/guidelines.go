// Package guidelines serves biomarker-directed therapy recommendations and
// ranks drugs by how well their mechanism fits a tumor's pathway burden.
package guidelines

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/resistance-prophet-server/internal/domain"
	"github.com/resistance-prophet-server/internal/pathway"
)

var (
	//go:embed nccn.yaml
	nccnYAML []byte
	//go:embed drugs.yaml
	drugsYAML []byte
)

// Recommendation is one guideline-endorsed therapy.
type Recommendation struct {
	Therapy  string `yaml:"therapy" json:"therapy"`
	Category string `yaml:"category" json:"nccn_category"`
	Setting  string `yaml:"setting" json:"setting"`
}

// Drug is a therapy with its mechanism vector.
type Drug struct {
	Name      string               `json:"name"`
	Class     string               `json:"class"`
	Mechanism domain.PathwayVector `json:"mechanism"`
}

// Ranking is a drug scored against a tumor vector.
type Ranking struct {
	Drug
	Rank int     `json:"rank"`
	Fit  float64 `json:"fit"`
}

type nccnFile struct {
	Version  string                                 `yaml:"version"`
	Diseases map[string]map[string][]Recommendation `yaml:"diseases"`
}

type drugsFile struct {
	Drugs map[string]struct {
		Class     string             `yaml:"class"`
		Aliases   []string           `yaml:"aliases"`
		Mechanism map[string]float64 `yaml:"mechanism"`
	} `yaml:"drugs"`
}

// Catalog is an immutable guideline and drug table.
type Catalog struct {
	version  string
	diseases map[string]map[string][]Recommendation
	drugs    []Drug
	byName   map[string]int
}

// New loads the embedded tables.
func New() (*Catalog, error) {
	return Parse(nccnYAML, drugsYAML)
}

// Parse builds a Catalog from guideline and drug YAML.
func Parse(nccn, drugs []byte) (*Catalog, error) {
	var g nccnFile
	if err := yaml.Unmarshal(nccn, &g); err != nil {
		return nil, fmt.Errorf("failed to parse guideline table: %w", err)
	}
	var d drugsFile
	if err := yaml.Unmarshal(drugs, &d); err != nil {
		return nil, fmt.Errorf("failed to parse drug table: %w", err)
	}

	c := &Catalog{
		version:  g.Version,
		diseases: make(map[string]map[string][]Recommendation, len(g.Diseases)),
		byName:   make(map[string]int),
	}
	for disease, markers := range g.Diseases {
		norm := make(map[string][]Recommendation, len(markers))
		for marker, recs := range markers {
			norm[normalizeMarker(marker)] = recs
		}
		c.diseases[strings.ToLower(disease)] = norm
	}

	names := make([]string, 0, len(d.Drugs))
	for name := range d.Drugs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		entry := d.Drugs[name]
		v, err := pathway.ParseVector(entry.Mechanism)
		if err != nil {
			return nil, fmt.Errorf("drug %s: %w", name, err)
		}
		if v.IsZero() {
			return nil, fmt.Errorf("drug %s: mechanism vector is empty", name)
		}
		key := strings.ToLower(name)
		c.drugs = append(c.drugs, Drug{Name: key, Class: entry.Class, Mechanism: v})
		c.byName[key] = len(c.drugs) - 1
		for _, alias := range entry.Aliases {
			c.byName[strings.ToLower(alias)] = len(c.drugs) - 1
		}
	}
	return c, nil
}

// Version identifies the guideline table.
func (c *Catalog) Version() string {
	return c.version
}

// Lookup returns recommendations for a disease and biomarker. Unknown pairs
// yield an empty list.
func (c *Catalog) Lookup(disease, biomarker string) []Recommendation {
	recs := c.diseases[strings.ToLower(strings.TrimSpace(disease))][normalizeMarker(biomarker)]
	return append([]Recommendation{}, recs...)
}

// Biomarkers lists the biomarkers with recommendations for a disease.
func (c *Catalog) Biomarkers(disease string) []string {
	markers := c.diseases[strings.ToLower(strings.TrimSpace(disease))]
	out := make([]string, 0, len(markers))
	for m := range markers {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// Drug looks a drug up by name or alias.
func (c *Catalog) Drug(name string) (Drug, bool) {
	i, ok := c.byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Drug{}, false
	}
	return c.drugs[i], true
}

// Mechanism resolves a regimen such as "carboplatin/paclitaxel" or
// "olaparib + bevacizumab" to the element-wise maximum of its known drugs.
// It returns nil when no drug is recognized.
func (c *Catalog) Mechanism(regimen string) (*domain.PathwayVector, []string) {
	var v domain.PathwayVector
	var matched []string
	for _, part := range splitRegimen(regimen) {
		d, ok := c.Drug(part)
		if !ok {
			continue
		}
		matched = append(matched, d.Name)
		for i := range v {
			if d.Mechanism[i] > v[i] {
				v[i] = d.Mechanism[i]
			}
		}
	}
	if len(matched) == 0 {
		return nil, nil
	}
	return &v, matched
}

// Rank orders every drug by mechanism fit against the tumor vector,
// descending, with ties broken by name.
func (c *Catalog) Rank(tumor domain.PathwayVector) []Ranking {
	out := make([]Ranking, 0, len(c.drugs))
	for _, d := range c.drugs {
		out = append(out, Ranking{Drug: d, Fit: pathway.MechanismFit(d.Mechanism, tumor)})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Fit != out[j].Fit {
			return out[i].Fit > out[j].Fit
		}
		return out[i].Name < out[j].Name
	})
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

func splitRegimen(regimen string) []string {
	fields := strings.FieldsFunc(strings.ToLower(regimen), func(r rune) bool {
		return r == '/' || r == '+' || r == ',' || r == ';'
	})
	var parts []string
	for _, f := range fields {
		for _, p := range strings.Split(f, " and ") {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
	}
	return parts
}

func normalizeMarker(m string) string {
	m = strings.ToUpper(strings.TrimSpace(m))
	m = strings.ReplaceAll(m, " ", "_")
	switch m {
	case "BRCA1", "BRCA2", "GBRCA", "SBRCA":
		return "BRCA"
	case "HRD-POSITIVE", "HRD_POSITIVE", "HRD+":
		return "HRD"
	case "HRD-NEGATIVE", "HRD_NEGATIVE", "HR-PROFICIENT":
		return "HRP"
	case "DMMR", "MSI-HIGH", "MSI_HIGH", "MSI":
		return "MSI-H"
	case "ERBB2":
		return "HER2"
	case "PLATINUM-RESISTANT":
		return "PLATINUM_RESISTANT"
	case "PLATINUM-SENSITIVE":
		return "PLATINUM_SENSITIVE"
	}
	return m
}
