package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Pathway is one axis of the burden vector.
type Pathway int

const (
	PathwayDDR Pathway = iota
	PathwayMAPK
	PathwayPI3K
	PathwayVEGF
	PathwayHER2
	PathwayIO
	PathwayEfflux
)

// NumPathways is the length of every PathwayVector.
const NumPathways = 7

var pathwayNames = [NumPathways]string{"DDR", "MAPK", "PI3K", "VEGF", "HER2", "IO", "EFFLUX"}

func (p Pathway) String() string {
	if p < 0 || int(p) >= NumPathways {
		return fmt.Sprintf("Pathway(%d)", int(p))
	}
	return pathwayNames[p]
}

// ParsePathway maps a case-insensitive axis name to its Pathway.
func ParsePathway(s string) (Pathway, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	for i, n := range pathwayNames {
		if n == name {
			return Pathway(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown pathway %q", ErrInvalidInput, s)
}

// AllPathways returns the axes in their fixed order.
func AllPathways() []Pathway {
	out := make([]Pathway, NumPathways)
	for i := range out {
		out[i] = Pathway(i)
	}
	return out
}

// PathwayVector holds one burden value per axis, each in [0, 1].
// It serialises as an object keyed by axis name.
type PathwayVector [NumPathways]float64

// Get returns the value on axis p.
func (v PathwayVector) Get(p Pathway) float64 {
	return v[p]
}

// IsZero reports whether every axis is zero.
func (v PathwayVector) IsZero() bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

func (v PathwayVector) MarshalJSON() ([]byte, error) {
	m := make(map[string]float64, NumPathways)
	for i, x := range v {
		m[pathwayNames[i]] = x
	}
	return json.Marshal(m)
}

func (v *PathwayVector) UnmarshalJSON(data []byte) error {
	var m map[string]float64
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	var out PathwayVector
	for k, x := range m {
		p, err := ParsePathway(k)
		if err != nil {
			return err
		}
		out[p] = x
	}
	*v = out
	return nil
}

// PathwayCoverage marks the axes that had at least one observed input.
// It serialises as a list of axis names.
type PathwayCoverage [NumPathways]bool

// Has reports whether axis p was observed.
func (c PathwayCoverage) Has(p Pathway) bool {
	return c[p]
}

// Names returns the covered axes in fixed order.
func (c PathwayCoverage) Names() []string {
	out := []string{}
	for i, ok := range c {
		if ok {
			out = append(out, pathwayNames[i])
		}
	}
	return out
}

func (c PathwayCoverage) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Names())
}

func (c *PathwayCoverage) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}
	var out PathwayCoverage
	for _, n := range names {
		p, err := ParsePathway(n)
		if err != nil {
			return err
		}
		out[p] = true
	}
	*c = out
	return nil
}

// VariantCall is a classified variant reported by a tumor or germline panel.
type VariantCall struct {
	Gene           string         `json:"gene"`
	HGVS           string         `json:"hgvs,omitempty"`
	Classification Classification `json:"classification"`
}

// TumorFeatures are the proxy inputs a pathway vector is derived from.
type TumorFeatures struct {
	Variants          []VariantCall      `json:"variants,omitempty"`
	HRDScore          *float64           `json:"hrd_score,omitempty"`
	TMB               *float64           `json:"tmb,omitempty"`
	MSIHigh           bool               `json:"msi_high,omitempty"`
	ExpressionProxies map[string]float64 `json:"expression_proxies,omitempty"`
	ObservedAt        time.Time          `json:"observed_at"`
}

// Validate checks ranges on the numeric features.
func (f *TumorFeatures) Validate() error {
	if f.HRDScore != nil && (*f.HRDScore < 0 || *f.HRDScore > 100) {
		return NewValidationError("hrd_score", "must be between 0 and 100", *f.HRDScore)
	}
	if f.TMB != nil && *f.TMB < 0 {
		return NewValidationError("tmb", "must be non-negative", *f.TMB)
	}
	for i, v := range f.Variants {
		if strings.TrimSpace(v.Gene) == "" {
			return NewValidationError(fmt.Sprintf("variants[%d].gene", i), "gene symbol is required", v.Gene)
		}
		if v.Classification != "" && !v.Classification.IsValid() {
			return NewValidationError(fmt.Sprintf("variants[%d].classification", i), "unknown classification", v.Classification)
		}
	}
	keys := make([]string, 0, len(f.ExpressionProxies))
	for k := range f.ExpressionProxies {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, err := ParsePathway(k); err != nil {
			return NewValidationError("expression_proxies", "unknown pathway", k)
		}
		if x := f.ExpressionProxies[k]; x < 0 || x > 1 {
			return NewValidationError("expression_proxies."+k, "must be between 0 and 1", x)
		}
	}
	return nil
}
