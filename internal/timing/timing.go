// Package timing derives platinum-free and treatment-free intervals from a
// patient's treatment history and relates them to CA-125 kinetics.
package timing

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/resistance-prophet-server/internal/domain"
)

// Interval cutoffs in days.
const (
	ResistantBelowDays = 180
	PartialBelowDays   = 365
)

// PFI events.
const (
	EventProgression = "progression"
	EventNextLine    = "next_line"
	EventCensored    = "censored"
	EventOngoing     = "platinum_ongoing"
	EventNoPlatinum  = "no_platinum_line"
)

// PFIResult is the platinum-free interval after the most recent completed
// platinum line.
type PFIResult struct {
	Days     *int
	Category domain.PlatinumCategory
	Event    string
}

// PFI computes the platinum-free interval as of asOf. A censored interval is
// only categorized once it already exceeds the sensitive cutoff.
func PFI(lines []domain.TreatmentLine, asOf time.Time) PFIResult {
	ordered := byStart(lines)

	// the interval runs from the latest completed platinum line, so a
	// re-challenge in progress still reports the preceding interval
	var last *domain.TreatmentLine
	platinum := false
	for i := range ordered {
		if !ordered[i].IsPlatinum() {
			continue
		}
		platinum = true
		if ordered[i].End != nil {
			last = &ordered[i]
		}
	}
	if !platinum {
		return PFIResult{Category: domain.PlatinumUnknown, Event: EventNoPlatinum}
	}
	if last == nil {
		return PFIResult{Category: domain.PlatinumUnknown, Event: EventOngoing}
	}

	end := *last.End
	if last.ProgressionDate != nil {
		days := daysBetween(end, *last.ProgressionDate)
		if !last.ProgressionDate.After(end) {
			return PFIResult{Days: &days, Category: domain.PlatinumRefractory, Event: EventProgression}
		}
		return PFIResult{Days: &days, Category: categorize(days), Event: EventProgression}
	}

	for i := range ordered {
		if ordered[i].Start.After(end) {
			days := daysBetween(end, ordered[i].Start)
			return PFIResult{Days: &days, Category: categorize(days), Event: EventNextLine}
		}
	}

	days := daysBetween(end, asOf)
	if days < 0 {
		days = 0
	}
	category := domain.PlatinumUnknown
	if days >= PartialBelowDays {
		category = domain.PlatinumSensitive
	}
	return PFIResult{Days: &days, Category: category, Event: EventCensored}
}

func categorize(days int) domain.PlatinumCategory {
	switch {
	case days < ResistantBelowDays:
		return domain.PlatinumResistant
	case days < PartialBelowDays:
		return domain.PlatinumPartiallySensitive
	default:
		return domain.PlatinumSensitive
	}
}

// TFI returns the gap between each completed line and the next line started.
func TFI(lines []domain.TreatmentLine) []domain.TreatmentGap {
	ordered := byStart(lines)
	gaps := []domain.TreatmentGap{}
	for i := 1; i < len(ordered); i++ {
		prev, next := ordered[i-1], ordered[i]
		if prev.End == nil {
			continue
		}
		gaps = append(gaps, domain.TreatmentGap{
			FromLine: prev.Line,
			ToLine:   next.Line,
			Days:     daysBetween(*prev.End, next.Start),
		})
	}
	return gaps
}

// Profile combines the PFI with the KELIM category. Concordance is set only
// when both sides point clearly in one direction.
func Profile(lines []domain.TreatmentLine, kelim *domain.KelimResult, asOf time.Time) domain.TimingProfile {
	pfi := PFI(lines, asOf)
	p := domain.TimingProfile{
		PFIDays:     pfi.Days,
		PFICategory: pfi.Category,
		PFIEvent:    pfi.Event,
		TFI:         TFI(lines),
	}

	if kelim.Computed() {
		p.KelimCategory = kelim.Category
	}

	platinumSide := sideOfPFI(pfi.Category)
	kelimSide := sideOfKelim(p.KelimCategory)
	if platinumSide != "" && kelimSide != "" {
		c := platinumSide == kelimSide
		p.Concordant = &c
	}

	p.Summary = summarize(p, platinumSide, kelimSide)
	return p
}

func sideOfPFI(c domain.PlatinumCategory) string {
	switch c {
	case domain.PlatinumSensitive, domain.PlatinumPartiallySensitive:
		return "sensitive"
	case domain.PlatinumResistant, domain.PlatinumRefractory:
		return "resistant"
	default:
		return ""
	}
}

func sideOfKelim(c domain.KelimCategory) string {
	switch c {
	case domain.KelimFavorable:
		return "sensitive"
	case domain.KelimUnfavorable:
		return "resistant"
	default:
		return ""
	}
}

func summarize(p domain.TimingProfile, platinumSide, kelimSide string) string {
	pfi := "PFI unavailable (" + p.PFIEvent + ")"
	if p.PFIDays != nil {
		pfi = fmt.Sprintf("PFI %d days (%s, %s)", *p.PFIDays, p.PFICategory, p.PFIEvent)
	}
	kel := "KELIM not computed"
	if p.KelimCategory != "" {
		kel = "KELIM " + string(p.KelimCategory)
	}
	switch {
	case p.Concordant == nil:
		return pfi + "; " + kel + "; chemosensitivity indeterminate"
	case *p.Concordant:
		return fmt.Sprintf("%s; %s; concordant %s profile", pfi, kel, platinumSide)
	default:
		return fmt.Sprintf("%s; %s; discordant (platinum %s, kinetics %s)", pfi, kel, platinumSide, kelimSide)
	}
}

func byStart(lines []domain.TreatmentLine) []domain.TreatmentLine {
	out := append([]domain.TreatmentLine(nil), lines...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Start.Equal(out[j].Start) {
			return out[i].Line < out[j].Line
		}
		return out[i].Start.Before(out[j].Start)
	})
	return out
}

func daysBetween(from, to time.Time) int {
	return int(math.Floor(to.Sub(from).Hours() / 24))
}
