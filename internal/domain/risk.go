package domain

import "time"

// RiskLevel is the fused resistance label.
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// Rank orders levels so LOW < MEDIUM < HIGH. Unknown levels rank below LOW.
func (l RiskLevel) Rank() int {
	switch l {
	case RiskLow:
		return 1
	case RiskMedium:
		return 2
	case RiskHigh:
		return 3
	default:
		return 0
	}
}

// AtLeast reports whether l is at or above other.
func (l RiskLevel) AtLeast(other RiskLevel) bool {
	return l.Rank() >= other.Rank()
}

// IsValid reports whether l is a known level.
func (l RiskLevel) IsValid() bool {
	return l.Rank() > 0
}

// SignalType names one of the three resistance signals.
type SignalType string

const (
	SignalCA125Kinetics        SignalType = "CA125_KINETICS"
	SignalDNARepairRestoration SignalType = "DNA_REPAIR_RESTORATION"
	SignalPathwayEscape        SignalType = "PATHWAY_ESCAPE"
)

// Urgency tells the clinician how soon to act on an assessment.
type Urgency string

const (
	UrgencyRoutine  Urgency = "ROUTINE"
	UrgencyElevated Urgency = "ELEVATED"
	UrgencyUrgent   Urgency = "URGENT"
)

// ResistanceSignal is one evaluated signal. Probability and Confidence are
// only meaningful when Evaluable is true.
type ResistanceSignal struct {
	Type        SignalType         `json:"type"`
	Evaluable   bool               `json:"evaluable"`
	Detected    bool               `json:"detected"`
	Probability float64            `json:"probability"`
	Confidence  float64            `json:"confidence"`
	Weight      float64            `json:"weight"`
	Rationale   string             `json:"rationale"`
	Details     map[string]float64 `json:"details,omitempty"`
}

// ConfidenceCap records a ceiling applied to the fused confidence.
type ConfidenceCap struct {
	Reason string  `json:"reason"`
	Cap    float64 `json:"cap"`
}

// Cap reasons.
const (
	CapBaselineImputed = "baseline_imputed"
	CapFewerThanThree  = "fewer_than_three_signals"
	CapFewerThanTwo    = "fewer_than_two_signals"
	CapNoSignals       = "no_evaluable_signals"
)

// RiskAssessment is the fused output for one patient at one point in time.
type RiskAssessment struct {
	ID               string             `json:"id"`
	PatientID        string             `json:"patient_id,omitempty"`
	Level            RiskLevel          `json:"level"`
	Probability      float64            `json:"probability"`
	Confidence       float64            `json:"confidence"`
	SignalsDetected  int                `json:"signals_detected"`
	SignalsEvaluable int                `json:"signals_evaluable"`
	Signals          []ResistanceSignal `json:"signals"`
	ConfidenceCaps   []ConfidenceCap    `json:"confidence_caps,omitempty"`
	BaselineImputed  bool               `json:"baseline_imputed"`
	TreatmentLine    int                `json:"treatment_line"`
	Kelim            *KelimResult       `json:"kelim,omitempty"`
	Rationale        []string           `json:"rationale"`
	Actions          []string           `json:"actions"`
	Urgency          Urgency            `json:"urgency"`
	ModelVersion     string             `json:"model_version"`
	AssessedAt       time.Time          `json:"assessed_at"`
}

// Signal returns the signal of type t, or nil.
func (a *RiskAssessment) Signal(t SignalType) *ResistanceSignal {
	for i := range a.Signals {
		if a.Signals[i].Type == t {
			return &a.Signals[i]
		}
	}
	return nil
}

// AssessRequest is the transport-level input for a stateless assessment.
// Measurements and TreatmentStart are optional; without them the kinetics
// signal is not evaluable. The assessment ID is derived from the request, so
// identical requests give identical output only when AssessedAt is supplied;
// otherwise the current time is used.
type AssessRequest struct {
	PatientID        string         `json:"patient_id,omitempty"`
	Disease          string         `json:"disease,omitempty"`
	Measurements     []Measurement  `json:"measurements,omitempty"`
	TreatmentStart   *time.Time     `json:"treatment_start,omitempty"`
	BaselineFeatures *TumorFeatures `json:"baseline_features,omitempty"`
	CurrentFeatures  *TumorFeatures `json:"current_features,omitempty"`
	Regimen          string         `json:"regimen,omitempty"`
	TreatmentLine    int            `json:"treatment_line,omitempty"`
	AssessedAt       *time.Time     `json:"assessed_at,omitempty"`
}

// Validate checks the request shape.
func (r *AssessRequest) Validate() error {
	if r.TreatmentLine < 0 {
		return NewValidationError("treatment_line", "must be non-negative", r.TreatmentLine)
	}
	if len(r.Measurements) > 0 && r.TreatmentStart == nil {
		return NewValidationError("treatment_start", "required when measurements are given", nil)
	}
	if r.BaselineFeatures != nil {
		if err := r.BaselineFeatures.Validate(); err != nil {
			return err
		}
	}
	if r.CurrentFeatures != nil {
		if err := r.CurrentFeatures.Validate(); err != nil {
			return err
		}
	}
	return nil
}
