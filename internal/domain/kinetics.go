package domain

import "time"

// DefaultMarker is assumed when a measurement carries no marker name.
const DefaultMarker = "CA-125"

// Measurement is one longitudinal tumor-marker value.
type Measurement struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
	Marker    string    `json:"marker,omitempty"`
}

// KelimInput is a measurement series anchored on the first day of a regimen.
type KelimInput struct {
	Measurements   []Measurement `json:"measurements"`
	TreatmentStart time.Time     `json:"treatment_start"`
}

// KelimCategory buckets the elimination rate constant.
type KelimCategory string

const (
	KelimFavorable    KelimCategory = "FAVORABLE"
	KelimIntermediate KelimCategory = "INTERMEDIATE"
	KelimUnfavorable  KelimCategory = "UNFAVORABLE"
)

// KelimStatus says whether a fit was attempted.
type KelimStatus string

const (
	KelimComputed         KelimStatus = "COMPUTED"
	KelimInsufficientData KelimStatus = "INSUFFICIENT_DATA"
)

// Reasons reported with KelimInsufficientData.
const (
	ReasonNoBaseline           = "no_baseline"
	ReasonTooFewMeasurements   = "too_few_measurements"
	ReasonDegenerateTimepoints = "degenerate_timepoints"
	ReasonNoTreatmentStart     = "no_treatment_start"
)

// KelimResult is the outcome of a KELIM fit. K, RSquared, PercentChange and
// Normalized are nil unless Status is KelimComputed.
type KelimResult struct {
	Status           KelimStatus   `json:"status"`
	K                *float64      `json:"k,omitempty"`
	Category         KelimCategory `json:"category,omitempty"`
	RSquared         *float64      `json:"r_squared,omitempty"`
	MeasurementsUsed int           `json:"measurements_used"`
	Baseline         *Measurement  `json:"baseline,omitempty"`
	Reason           string        `json:"reason,omitempty"`
	Warnings         []string      `json:"warnings,omitempty"`
	PercentChange    *float64      `json:"percent_change,omitempty"`
	Normalized       *bool         `json:"normalized,omitempty"`
	ModelVersion     string        `json:"model_version"`
}

// Computed reports whether the result carries a numeric K.
func (r *KelimResult) Computed() bool {
	return r != nil && r.Status == KelimComputed && r.K != nil
}
