package domain

import (
	"fmt"
	"strings"
	"time"
)

// PlatinumDrugs are the agents that make a line platinum-based.
var PlatinumDrugs = []string{"carboplatin", "cisplatin", "oxaliplatin"}

// TreatmentLine is one line of systemic therapy.
type TreatmentLine struct {
	Line            int        `json:"line"`
	Regimen         string     `json:"regimen"`
	Drugs           []string   `json:"drugs,omitempty"`
	Start           time.Time  `json:"start"`
	End             *time.Time `json:"end,omitempty"`
	ProgressionDate *time.Time `json:"progression_date,omitempty"`
}

// IsPlatinum reports whether any drug in the line is a platinum agent.
func (t *TreatmentLine) IsPlatinum() bool {
	for _, d := range t.Drugs {
		name := strings.ToLower(strings.TrimSpace(d))
		for _, p := range PlatinumDrugs {
			if name == p {
				return true
			}
		}
	}
	return false
}

// Validate checks line numbering and date order.
func (t *TreatmentLine) Validate() error {
	if t.Line < 1 {
		return NewValidationError("line", "must be at least 1", t.Line)
	}
	if t.Start.IsZero() {
		return NewValidationError("start", "start date is required", nil)
	}
	if t.End != nil && t.End.Before(t.Start) {
		return NewValidationError("end", "must not precede start", t.End)
	}
	return nil
}

// PatientProfile is the longitudinal state kept per patient.
type PatientProfile struct {
	ID               string          `json:"id"`
	Disease          string          `json:"disease"`
	Measurements     []Measurement   `json:"measurements"`
	BaselineFeatures *TumorFeatures  `json:"baseline_features,omitempty"`
	CurrentFeatures  *TumorFeatures  `json:"current_features,omitempty"`
	TreatmentLines   []TreatmentLine `json:"treatment_lines"`
	Regimen          string          `json:"regimen,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// Validate checks the profile before it is stored.
func (p *PatientProfile) Validate() error {
	if strings.TrimSpace(p.Disease) == "" {
		return NewValidationError("disease", "disease is required", p.Disease)
	}
	for i := range p.TreatmentLines {
		if err := p.TreatmentLines[i].Validate(); err != nil {
			return fmt.Errorf("treatment_lines[%d]: %w", i, err)
		}
	}
	if p.BaselineFeatures != nil {
		if err := p.BaselineFeatures.Validate(); err != nil {
			return err
		}
	}
	if p.CurrentFeatures != nil {
		if err := p.CurrentFeatures.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// CurrentLine returns the highest-numbered treatment line, or nil.
func (p *PatientProfile) CurrentLine() *TreatmentLine {
	var cur *TreatmentLine
	for i := range p.TreatmentLines {
		if cur == nil || p.TreatmentLines[i].Line > cur.Line {
			cur = &p.TreatmentLines[i]
		}
	}
	return cur
}

// KnownAt returns a copy of the profile holding only what was known at t:
// measurements after t and lines started after t are dropped, and line end
// or progression dates after t are cleared. Features observed after t are
// dropped. The receiver is not modified.
func (p *PatientProfile) KnownAt(t time.Time) *PatientProfile {
	out := *p
	out.Measurements = nil
	for _, m := range p.Measurements {
		if !m.Timestamp.After(t) {
			out.Measurements = append(out.Measurements, m)
		}
	}
	out.TreatmentLines = nil
	for _, l := range p.TreatmentLines {
		if l.Start.After(t) {
			continue
		}
		if l.End != nil && l.End.After(t) {
			l.End = nil
		}
		if l.ProgressionDate != nil && l.ProgressionDate.After(t) {
			l.ProgressionDate = nil
		}
		out.TreatmentLines = append(out.TreatmentLines, l)
	}
	out.BaselineFeatures = observedBy(p.BaselineFeatures, t)
	out.CurrentFeatures = observedBy(p.CurrentFeatures, t)
	return &out
}

// observedBy keeps f unless it carries an observation date after t.
func observedBy(f *TumorFeatures, t time.Time) *TumorFeatures {
	if f == nil || (!f.ObservedAt.IsZero() && f.ObservedAt.After(t)) {
		return nil
	}
	return f
}

// PlatinumCategory classifies the platinum-free interval.
type PlatinumCategory string

const (
	PlatinumRefractory         PlatinumCategory = "REFRACTORY"
	PlatinumResistant          PlatinumCategory = "RESISTANT"
	PlatinumPartiallySensitive PlatinumCategory = "PARTIALLY_SENSITIVE"
	PlatinumSensitive          PlatinumCategory = "SENSITIVE"
	PlatinumUnknown            PlatinumCategory = "UNKNOWN"
)

// TreatmentGap is the treatment-free interval between two consecutive lines.
type TreatmentGap struct {
	FromLine int `json:"from_line"`
	ToLine   int `json:"to_line"`
	Days     int `json:"days"`
}

// TimingProfile summarises platinum timing and chemosensitivity.
type TimingProfile struct {
	PFIDays       *int             `json:"pfi_days,omitempty"`
	PFICategory   PlatinumCategory `json:"pfi_category"`
	PFIEvent      string           `json:"pfi_event,omitempty"`
	TFI           []TreatmentGap   `json:"tfi"`
	KelimCategory KelimCategory    `json:"kelim_category,omitempty"`
	Concordant    *bool            `json:"concordant,omitempty"`
	Summary       string           `json:"summary"`
}
