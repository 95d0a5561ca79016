// Package prophet fuses three independent resistance signals into a
// HIGH/MEDIUM/LOW risk label with a capped confidence.
//
// Signals:
//   - CA125_KINETICS: the KELIM fit shows an inadequate (unfavorable) response.
//   - DNA_REPAIR_RESTORATION: DDR burden fell from baseline, consistent with
//     restored homologous recombination.
//   - PATHWAY_ESCAPE: the tumor vector drifted away from the regimen's
//     mechanism vector.
//
// Two or more detected signals give HIGH, one gives MEDIUM, none gives LOW.
// Assess is a pure function: identical input yields an identical assessment.
package prophet

import (
	"fmt"
	"math"
	"time"

	"github.com/montanaflynn/stats"

	"github.com/resistance-prophet-server/internal/domain"
	"github.com/resistance-prophet-server/internal/pathway"
)

// ModelVersion is stamped on every assessment.
const ModelVersion = "resistance-prophet-1.0"

// Signal weights.
const (
	WeightKinetics  = 0.40
	WeightDNARepair = 0.35
	WeightEscape    = 0.25
)

const (
	// DropThreshold is the burden or fit drop that counts as a detection.
	DropThreshold = 0.15

	LineAdjustmentPerLine = 0.05
	MaxLineAdjustment     = 0.15

	CapImputedBaseline = 0.60
	CapFewerThanThree  = 0.70
	CapFewerThanTwo    = 0.40
)

// Input carries everything one assessment needs. Nil vectors make the
// dependent signals non-evaluable.
type Input struct {
	ID               string
	PatientID        string
	Kelim            *domain.KelimResult
	Baseline         *domain.PathwayVector
	BaselineCoverage domain.PathwayCoverage
	BaselineImputed  bool
	Current          *domain.PathwayVector
	CurrentCoverage  domain.PathwayCoverage
	Mechanism        *domain.PathwayVector
	TreatmentLine    int
	AssessedAt       time.Time
}

// Assess evaluates the three signals and fuses them.
func Assess(in Input) domain.RiskAssessment {
	signals := []domain.ResistanceSignal{
		evaluateKinetics(in.Kelim),
		evaluateDNARepair(in),
		evaluateEscape(in),
	}

	a := domain.RiskAssessment{
		ID:              in.ID,
		PatientID:       in.PatientID,
		Signals:         signals,
		BaselineImputed: in.BaselineImputed,
		TreatmentLine:   in.TreatmentLine,
		Kelim:           in.Kelim,
		ModelVersion:    ModelVersion,
		AssessedAt:      in.AssessedAt,
	}

	var probs, confs, weights []float64
	for _, s := range signals {
		if !s.Evaluable {
			continue
		}
		a.SignalsEvaluable++
		if s.Detected {
			a.SignalsDetected++
		}
		probs = append(probs, s.Probability*s.Weight)
		confs = append(confs, s.Confidence*s.Weight)
		weights = append(weights, s.Weight)
	}

	a.Level = levelFor(a.SignalsDetected)

	if a.SignalsEvaluable > 0 {
		totalWeight, _ := stats.Sum(weights)
		p, _ := stats.Sum(probs)
		c, _ := stats.Sum(confs)
		a.Probability = domain.Round4(clamp01(p/totalWeight + lineAdjustment(in.TreatmentLine)))
		a.Confidence = c / totalWeight
	}

	a.ConfidenceCaps = caps(a.SignalsEvaluable, in.BaselineImputed)
	for _, cp := range a.ConfidenceCaps {
		a.Confidence = math.Min(a.Confidence, cp.Cap)
	}
	a.Confidence = domain.Round4(a.Confidence)

	a.Rationale = rationale(a)
	a.Urgency, a.Actions = actionsFor(a, in)
	return a
}

func levelFor(detected int) domain.RiskLevel {
	switch {
	case detected >= 2:
		return domain.RiskHigh
	case detected == 1:
		return domain.RiskMedium
	default:
		return domain.RiskLow
	}
}

// lineAdjustment raises probability for heavily pretreated patients.
func lineAdjustment(line int) float64 {
	if line < 3 {
		return 0
	}
	return math.Min(MaxLineAdjustment, LineAdjustmentPerLine*float64(line-2))
}

func caps(evaluable int, imputed bool) []domain.ConfidenceCap {
	var out []domain.ConfidenceCap
	if imputed {
		out = append(out, domain.ConfidenceCap{Reason: domain.CapBaselineImputed, Cap: CapImputedBaseline})
	}
	switch {
	case evaluable == 0:
		out = append(out, domain.ConfidenceCap{Reason: domain.CapNoSignals, Cap: 0})
	case evaluable == 1:
		out = append(out, domain.ConfidenceCap{Reason: domain.CapFewerThanTwo, Cap: CapFewerThanTwo})
	case evaluable == 2:
		out = append(out, domain.ConfidenceCap{Reason: domain.CapFewerThanThree, Cap: CapFewerThanThree})
	}
	return out
}

func evaluateKinetics(k *domain.KelimResult) domain.ResistanceSignal {
	s := domain.ResistanceSignal{Type: domain.SignalCA125Kinetics, Weight: WeightKinetics}
	if !k.Computed() {
		reason := "no CA-125 series supplied"
		if k != nil && k.Reason != "" {
			reason = k.Reason
		}
		s.Rationale = fmt.Sprintf("KELIM not computed (%s)", reason)
		return s
	}

	s.Evaluable = true
	s.Detected = k.Category == domain.KelimUnfavorable
	switch k.Category {
	case domain.KelimUnfavorable:
		s.Probability = 0.80
	case domain.KelimIntermediate:
		s.Probability = 0.50
	default:
		s.Probability = 0.20
	}

	r2 := 0.0
	if k.RSquared != nil {
		r2 = *k.RSquared
	}
	countFactor := math.Max(0.5, math.Min(0.9, 0.5+0.1*float64(k.MeasurementsUsed-3)))
	s.Confidence = domain.Round4(countFactor * (0.5 + 0.5*r2))
	s.Details = map[string]float64{
		"k":            *k.K,
		"r_squared":    r2,
		"measurements": float64(k.MeasurementsUsed),
	}
	s.Rationale = fmt.Sprintf("KELIM %.2f (%s) from %d measurements", *k.K, k.Category, k.MeasurementsUsed)
	return s
}

func evaluateDNARepair(in Input) domain.ResistanceSignal {
	s := domain.ResistanceSignal{Type: domain.SignalDNARepairRestoration, Weight: WeightDNARepair}
	if in.Current == nil || in.Baseline == nil {
		s.Rationale = "no baseline and current tumor features to compare"
		return s
	}

	base := in.Baseline.Get(domain.PathwayDDR)
	cur := in.Current.Get(domain.PathwayDDR)
	drop := domain.Round4(base - cur)

	s.Evaluable = true
	s.Detected = drop >= DropThreshold
	s.Probability = dropProbability(drop)
	s.Confidence = 0.60
	if !in.BaselineImputed && in.BaselineCoverage.Has(domain.PathwayDDR) && in.CurrentCoverage.Has(domain.PathwayDDR) {
		s.Confidence = 0.85
	}
	s.Details = map[string]float64{"baseline_ddr": base, "current_ddr": cur, "drop": drop}
	s.Rationale = fmt.Sprintf("DDR burden %.2f -> %.2f (drop %.2f, threshold %.2f)", base, cur, drop, DropThreshold)
	return s
}

func evaluateEscape(in Input) domain.ResistanceSignal {
	s := domain.ResistanceSignal{Type: domain.SignalPathwayEscape, Weight: WeightEscape}
	if in.Current == nil || in.Baseline == nil {
		s.Rationale = "no baseline and current tumor features to compare"
		return s
	}
	if in.Mechanism == nil || in.Mechanism.IsZero() {
		s.Rationale = "regimen mechanism unknown"
		return s
	}

	baseFit := pathway.MechanismFit(*in.Mechanism, *in.Baseline)
	curFit := pathway.MechanismFit(*in.Mechanism, *in.Current)
	drop := domain.Round4(baseFit - curFit)

	s.Evaluable = true
	s.Detected = drop >= DropThreshold
	s.Probability = dropProbability(drop)
	s.Confidence = 0.80
	for _, p := range domain.AllPathways() {
		if in.Mechanism.Get(p) > 0 && !in.CurrentCoverage.Has(p) {
			s.Confidence = 0.60
			break
		}
	}
	s.Details = map[string]float64{"baseline_fit": baseFit, "current_fit": curFit, "drop": drop}
	s.Rationale = fmt.Sprintf("regimen fit %.2f -> %.2f (drop %.2f, threshold %.2f)", baseFit, curFit, drop, DropThreshold)
	return s
}

func dropProbability(drop float64) float64 {
	return domain.Round4(math.Max(0.05, math.Min(0.95, 0.30+2*drop)))
}

func rationale(a domain.RiskAssessment) []string {
	out := []string{
		fmt.Sprintf("%d of %d evaluable signals detected -> %s", a.SignalsDetected, a.SignalsEvaluable, a.Level),
	}
	for _, s := range a.Signals {
		state := "not evaluable"
		if s.Evaluable && s.Detected {
			state = "detected"
		} else if s.Evaluable {
			state = "not detected"
		}
		out = append(out, fmt.Sprintf("%s %s: %s", s.Type, state, s.Rationale))
	}
	for _, c := range a.ConfidenceCaps {
		out = append(out, fmt.Sprintf("confidence capped at %.2f (%s)", c.Cap, c.Reason))
	}
	if adj := lineAdjustment(a.TreatmentLine); adj > 0 && a.SignalsEvaluable > 0 {
		out = append(out, fmt.Sprintf("probability raised %.2f for treatment line %d", adj, a.TreatmentLine))
	}
	return out
}

func actionsFor(a domain.RiskAssessment, in Input) (domain.Urgency, []string) {
	var urgency domain.Urgency
	var actions []string
	switch a.Level {
	case domain.RiskHigh:
		urgency = domain.UrgencyUrgent
		actions = []string{
			"Repeat CA-125 and cross-sectional imaging within 2-4 weeks",
			"Review next-line options and clinical trial eligibility",
			"Consider re-biopsy or ctDNA profiling to confirm the resistance mechanism",
		}
	case domain.RiskMedium:
		urgency = domain.UrgencyElevated
		actions = []string{
			"Increase CA-125 monitoring to every cycle",
			"Re-assess resistance risk before the next treatment cycle",
		}
	default:
		urgency = domain.UrgencyRoutine
		actions = []string{"Continue current regimen with standard monitoring"}
	}
	if !a.Signals[0].Evaluable {
		actions = append(actions, "Obtain baseline and serial CA-125 values to enable kinetics")
	}
	if in.BaselineImputed {
		actions = append(actions, "Obtain a patient-specific baseline genomic profile")
	}
	return urgency, actions
}

func clamp01(x float64) float64 {
	return math.Max(0, math.Min(1, x))
}
