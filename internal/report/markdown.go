// Package report renders clinician-facing summaries and spreadsheet exports
// of a patient's profile and assessment history.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"

	"github.com/resistance-prophet-server/internal/domain"
)

// Input is everything a summary can show. Only Profile is required.
type Input struct {
	Profile    *domain.PatientProfile
	Assessment *domain.RiskAssessment
	Timing     *domain.TimingProfile
}

const dateLayout = "2006-01-02"

// Markdown renders the clinician summary.
func Markdown(in Input) ([]byte, error) {
	if in.Profile == nil {
		return nil, domain.NewValidationError("profile", "profile is required", nil)
	}
	p := in.Profile

	var b strings.Builder
	fmt.Fprintf(&b, "# Resistance summary: %s\n\n", p.ID)
	fmt.Fprintf(&b, "- **Disease:** %s\n", p.Disease)
	if line := p.CurrentLine(); line != nil {
		fmt.Fprintf(&b, "- **Current line:** %d (%s), started %s\n", line.Line, orDash(line.Regimen), line.Start.Format(dateLayout))
	}
	fmt.Fprintf(&b, "- **CA-125 measurements:** %d\n", len(p.Measurements))
	if n := len(p.Measurements); n > 0 {
		last := p.Measurements[n-1]
		fmt.Fprintf(&b, "- **Latest CA-125:** %.1f U/mL on %s\n", last.Value, last.Timestamp.Format(dateLayout))
	}
	b.WriteString("\n")

	writeAssessment(&b, in.Assessment)
	writeTiming(&b, in.Timing)
	writeLines(&b, p.TreatmentLines)

	return []byte(b.String()), nil
}

func writeAssessment(b *strings.Builder, a *domain.RiskAssessment) {
	b.WriteString("## Resistance risk\n\n")
	if a == nil {
		b.WriteString("No assessment on record.\n\n")
		return
	}
	fmt.Fprintf(b, "**%s** (probability %.2f, confidence %.2f, urgency %s), assessed %s.\n\n",
		a.Level, a.Probability, a.Confidence, a.Urgency, a.AssessedAt.Format(time.RFC3339))

	b.WriteString("| Signal | Status | Probability | Confidence | Rationale |\n")
	b.WriteString("|---|---|---|---|---|\n")
	for _, s := range a.Signals {
		status := "not evaluable"
		switch {
		case s.Evaluable && s.Detected:
			status = "detected"
		case s.Evaluable:
			status = "not detected"
		}
		fmt.Fprintf(b, "| %s | %s | %.2f | %.2f | %s |\n", s.Type, status, s.Probability, s.Confidence, escapeCell(s.Rationale))
	}
	b.WriteString("\n")

	if k := a.Kelim; k.Computed() {
		fmt.Fprintf(b, "KELIM %.2f (%s) from %d measurements.\n\n", *k.K, k.Category, k.MeasurementsUsed)
	}
	for _, c := range a.ConfidenceCaps {
		fmt.Fprintf(b, "> Confidence capped at %.2f: %s\n", c.Cap, c.Reason)
	}
	if len(a.ConfidenceCaps) > 0 {
		b.WriteString("\n")
	}

	b.WriteString("### Recommended actions\n\n")
	for _, act := range a.Actions {
		fmt.Fprintf(b, "1. %s\n", act)
	}
	b.WriteString("\n")
}

func writeTiming(b *strings.Builder, tp *domain.TimingProfile) {
	if tp == nil {
		return
	}
	b.WriteString("## Platinum timing\n\n")
	b.WriteString(tp.Summary)
	b.WriteString("\n\n")
}

func writeLines(b *strings.Builder, lines []domain.TreatmentLine) {
	if len(lines) == 0 {
		return
	}
	b.WriteString("## Treatment history\n\n")
	b.WriteString("| Line | Regimen | Start | End | Progression |\n")
	b.WriteString("|---|---|---|---|---|\n")
	for _, l := range lines {
		fmt.Fprintf(b, "| %d | %s | %s | %s | %s |\n",
			l.Line, escapeCell(orDash(l.Regimen)), l.Start.Format(dateLayout), dateOrDash(l.End), dateOrDash(l.ProgressionDate))
	}
	b.WriteString("\n")
}

// HTML converts Markdown output to a standalone HTML document.
func HTML(md []byte) []byte {
	p := parser.NewWithExtensions(parser.CommonExtensions | parser.AutoHeadingIDs)
	r := html.NewRenderer(html.RendererOptions{
		Flags: html.CommonFlags | html.CompletePage | html.HrefTargetBlank,
		Title: "Resistance summary",
	})
	return markdown.ToHTML(md, p, r)
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

func dateOrDash(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(dateLayout)
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
