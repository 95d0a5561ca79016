// Package kinetics fits the CA-125 elimination rate constant (KELIM) from a
// longitudinal measurement series.
//
// The model is first-order exponential decay: ln(CA-125) is regressed on time
// since treatment start expressed in 30-day periods, and K is the negated
// slope clamped at zero. Reference: You B. et al. (2013) CA-125 ELIMination
// rate constant K (KELIM). Ann Oncol 24(10):2590-6.
package kinetics

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/resistance-prophet-server/internal/domain"
)

// ModelVersion is stamped on every KelimResult.
const ModelVersion = "kelim-loglinear-1.0"

const (
	day = 24 * time.Hour

	// BaselineLookback is how far before treatment start a baseline may be.
	BaselineLookback = 30 * day
	// FitWindow is how far after treatment start measurements are used.
	FitWindow = 100 * day
	// MinMeasurements includes the baseline.
	MinMeasurements = 3
	// DaysPerPeriod standardizes elapsed time.
	DaysPerPeriod = 30.0

	FavorableCutoff    = 1.0
	IntermediateCutoff = 0.5

	// NormalLimit is the CA-125 upper limit of normal in U/mL.
	NormalLimit = 35.0
	// NormalizationDay is the earliest day normalization is assessed.
	NormalizationDay = 63
)

// Categorize buckets K against the fixed cutoffs.
func Categorize(k float64) domain.KelimCategory {
	switch {
	case k >= FavorableCutoff:
		return domain.KelimFavorable
	case k >= IntermediateCutoff:
		return domain.KelimIntermediate
	default:
		return domain.KelimUnfavorable
	}
}

// Fit estimates KELIM. It never reads the clock, so identical input yields an
// identical result.
func Fit(in domain.KelimInput) domain.KelimResult {
	res := domain.KelimResult{ModelVersion: ModelVersion}

	series, warnings := clean(in.Measurements)
	res.Warnings = warnings

	start := in.TreatmentStart
	baselineIdx := -1
	for i, m := range series {
		if !m.Timestamp.Before(start.Add(-BaselineLookback)) && !m.Timestamp.After(start) {
			baselineIdx = i
		}
	}
	if baselineIdx < 0 {
		return insufficient(res, domain.ReasonNoBaseline, 0)
	}

	baseline := series[baselineIdx]
	res.Baseline = &baseline

	window := []domain.Measurement{baseline}
	end := start.Add(FitWindow)
	for _, m := range series {
		if m.Timestamp.After(start) && !m.Timestamp.After(end) {
			window = append(window, m)
		}
	}
	if len(window) < MinMeasurements {
		return insufficient(res, domain.ReasonTooFewMeasurements, len(window))
	}

	xs := make([]float64, len(window))
	ys := make([]float64, len(window))
	onTreatment := make(map[float64]struct{}, len(window))
	for i, m := range window {
		xs[i] = m.Timestamp.Sub(start).Hours() / 24 / DaysPerPeriod
		ys[i] = math.Log(m.Value)
		if i > 0 {
			onTreatment[xs[i]] = struct{}{}
		}
	}
	// the baseline always differs from on-treatment points, so a trend needs
	// two distinct on-treatment times
	if len(onTreatment) < 2 {
		return insufficient(res, domain.ReasonDegenerateTimepoints, len(window))
	}

	alpha, beta := stat.LinearRegression(xs, ys, nil, false)
	var r2 float64
	if constant(ys) {
		beta = 0
		res.Warnings = append(res.Warnings, "r_squared undefined for a constant series; reported as 0")
	} else {
		r2 = stat.RSquared(xs, ys, nil, alpha, beta)
	}

	k := domain.Round4(math.Max(0, -beta))
	r2 = domain.Round4(r2)
	res.Status = domain.KelimComputed
	res.K = &k
	res.RSquared = &r2
	res.Category = Categorize(k)
	res.MeasurementsUsed = len(window)

	last := window[len(window)-1]
	pct := domain.Round4((last.Value - baseline.Value) / baseline.Value * 100)
	res.PercentChange = &pct

	normalized := last.Value < NormalLimit && !last.Timestamp.Before(start.Add(NormalizationDay*day))
	res.Normalized = &normalized

	return res
}

func insufficient(res domain.KelimResult, reason string, used int) domain.KelimResult {
	res.Status = domain.KelimInsufficientData
	res.Reason = reason
	res.MeasurementsUsed = used
	return res
}

// clean drops unusable points and returns the rest in stable time order.
func clean(in []domain.Measurement) ([]domain.Measurement, []string) {
	var warnings []string
	out := make([]domain.Measurement, 0, len(in))
	for _, m := range in {
		ts := m.Timestamp.UTC().Format(time.RFC3339)
		if m.Marker != "" && !isCA125(m.Marker) {
			warnings = append(warnings, fmt.Sprintf("dropped %s measurement at %s: marker is not CA-125", m.Marker, ts))
			continue
		}
		if math.IsNaN(m.Value) || math.IsInf(m.Value, 0) {
			warnings = append(warnings, fmt.Sprintf("dropped measurement at %s: non-finite value", ts))
			continue
		}
		if m.Value <= 0 {
			warnings = append(warnings, fmt.Sprintf("dropped measurement at %s: non-positive value %g", ts, m.Value))
			continue
		}
		if m.Marker == "" {
			m.Marker = domain.DefaultMarker
		}
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, warnings
}

func isCA125(marker string) bool {
	norm := strings.ToUpper(strings.NewReplacer("-", "", " ", "", "_", "").Replace(marker))
	return norm == "CA125"
}

func constant(ys []float64) bool {
	for _, y := range ys[1:] {
		if y != ys[0] {
			return false
		}
	}
	return true
}
