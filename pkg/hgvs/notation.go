// Package hgvs parses the subset of HGVS sequence-variant nomenclature that
// the classification glue needs: coding, protein and genomic changes, with or
// without a reference accession prefix.
package hgvs

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/resistance-prophet-server/internal/domain"
)

// Level is the coordinate system of a notation.
type Level string

const (
	Genomic Level = "genomic"
	Coding  Level = "coding"
	Protein Level = "protein"
)

// Change is the kind of sequence change.
type Change string

const (
	Substitution Change = "substitution"
	Deletion     Change = "deletion"
	Insertion    Change = "insertion"
	Duplication  Change = "duplication"
	Delins       Change = "delins"
	Inversion    Change = "inversion"
	Frameshift   Change = "frameshift"
	Nonsense     Change = "nonsense"
	Missense     Change = "missense"
	Synonymous   Change = "synonymous"
	StartLoss    Change = "start_loss"
)

// Variant is a parsed notation.
type Variant struct {
	Original  string `json:"original"`
	Reference string `json:"reference,omitempty"`
	Level     Level  `json:"level"`
	Change    Change `json:"change"`
	Start     string `json:"start"`
	End       string `json:"end,omitempty"`
	Ref       string `json:"ref,omitempty"`
	Alt       string `json:"alt,omitempty"`
}

var (
	referencePattern = regexp.MustCompile(`^(N[CMRP]_\d+\.\d+|X[MR]_\d+\.\d+|ENS[TP]\d{11}(\.\d+)?|chr(\d{1,2}|[XYM]))$`)

	codingPosition = `([*\-]?\d+(?:[+\-]\d+)?)`
	codingPatterns = []struct {
		change Change
		re     *regexp.Regexp
	}{
		{Frameshift, regexp.MustCompile(`^` + codingPosition + `(?:_` + codingPosition + `)?(?:del|dup|ins|delins)[ACGT]*fs`)},
		{Delins, regexp.MustCompile(`^` + codingPosition + `(?:_` + codingPosition + `)?delins([ACGT]+)$`)},
		{Substitution, regexp.MustCompile(`^` + codingPosition + `([ACGT])>([ACGT])$`)},
		{Deletion, regexp.MustCompile(`^` + codingPosition + `(?:_` + codingPosition + `)?del([ACGT]*)$`)},
		{Duplication, regexp.MustCompile(`^` + codingPosition + `(?:_` + codingPosition + `)?dup([ACGT]*)$`)},
		{Insertion, regexp.MustCompile(`^` + codingPosition + `_` + codingPosition + `ins([ACGT]+)$`)},
		{Inversion, regexp.MustCompile(`^` + codingPosition + `_` + codingPosition + `inv$`)},
	}

	genomicPatterns = []struct {
		change Change
		re     *regexp.Regexp
	}{
		{Substitution, regexp.MustCompile(`^(\d+)([ACGT])>([ACGT])$`)},
		{Delins, regexp.MustCompile(`^(\d+)(?:_(\d+))?delins([ACGT]+)$`)},
		{Deletion, regexp.MustCompile(`^(\d+)(?:_(\d+))?del([ACGT]*)$`)},
		{Duplication, regexp.MustCompile(`^(\d+)(?:_(\d+))?dup([ACGT]*)$`)},
		{Insertion, regexp.MustCompile(`^(\d+)_(\d+)ins([ACGT]+)$`)},
		{Inversion, regexp.MustCompile(`^(\d+)_(\d+)inv$`)},
	}

	aa             = `([A-Z][a-z]{2}|[ACDEFGHIKLMNPQRSTVWY])`
	proteinFS      = regexp.MustCompile(`^` + aa + `(\d+)(?:[A-Z][a-z]{2}|[A-Z])?fs(?:\*|Ter)?(\d+|\?)?$`)
	proteinStop    = regexp.MustCompile(`^` + aa + `(\d+)(?:\*|Ter|X)$`)
	proteinSame    = regexp.MustCompile(`^` + aa + `(\d+)=$`)
	proteinStart   = regexp.MustCompile(`^(?:Met|M)1(?:\?|del|[A-Z][a-z]{2}|[A-Z])$`)
	proteinSub     = regexp.MustCompile(`^` + aa + `(\d+)` + aa + `$`)
	proteinDel     = regexp.MustCompile(`^` + aa + `(\d+)(?:_` + aa + `(\d+))?del$`)
	proteinDup     = regexp.MustCompile(`^` + aa + `(\d+)(?:_` + aa + `(\d+))?dup$`)
	proteinIns     = regexp.MustCompile(`^` + aa + `(\d+)(?:_` + aa + `(\d+))?(del)?ins[A-Za-z*]+$`)
	aminoAcidCodes = map[string]string{
		"Ala": "A", "Arg": "R", "Asn": "N", "Asp": "D", "Cys": "C",
		"Gln": "Q", "Glu": "E", "Gly": "G", "His": "H", "Ile": "I",
		"Leu": "L", "Lys": "K", "Met": "M", "Phe": "F", "Pro": "P",
		"Ser": "S", "Thr": "T", "Trp": "W", "Tyr": "Y", "Val": "V",
	}
)

// Parse reads one HGVS expression such as "NM_007294.4:c.5266dupC",
// "p.Arg1443Ter" or "chr17:g.43045712C>T".
func Parse(notation string) (*Variant, error) {
	original := notation
	notation = strings.TrimSpace(notation)
	if notation == "" {
		return nil, domain.NewValidationError("hgvs", "HGVS notation cannot be empty", original)
	}

	v := &Variant{Original: original}
	body := notation
	if i := strings.Index(notation, ":"); i >= 0 {
		v.Reference = notation[:i]
		body = notation[i+1:]
		if !referencePattern.MatchString(v.Reference) {
			return nil, domain.NewValidationError("hgvs", fmt.Sprintf("unrecognized reference sequence %q", v.Reference), original)
		}
	}

	var err error
	switch {
	case strings.HasPrefix(body, "c."):
		v.Level = Coding
		err = parseCoding(v, strings.TrimPrefix(body, "c."))
	case strings.HasPrefix(body, "p."):
		v.Level = Protein
		err = parseProtein(v, strings.Trim(strings.TrimPrefix(body, "p."), "()"))
	case strings.HasPrefix(body, "g."):
		v.Level = Genomic
		err = parseGenomic(v, strings.TrimPrefix(body, "g."))
	default:
		err = fmt.Errorf("expected a c., p. or g. prefix")
	}
	if err != nil {
		return nil, domain.NewValidationError("hgvs", err.Error(), original)
	}
	return v, nil
}

func parseCoding(v *Variant, body string) error {
	for _, p := range codingPatterns {
		m := p.re.FindStringSubmatch(body)
		if m == nil {
			continue
		}
		v.Change = p.change
		v.Start = m[1]
		switch p.change {
		case Substitution:
			v.Ref, v.Alt = m[2], m[3]
		case Frameshift, Inversion:
			v.End = m[2]
		case Insertion, Delins:
			v.End, v.Alt = m[2], m[3]
		default:
			v.End, v.Ref = m[2], m[3]
		}
		if p.change == Deletion || p.change == Duplication || p.change == Insertion {
			if n, ok := codingLength(v); ok && n%3 != 0 {
				v.Change = Frameshift
			}
		}
		return nil
	}
	return fmt.Errorf("unable to parse coding change %q", body)
}

// codingLength returns the number of bases affected when it can be told
// from exonic positions.
func codingLength(v *Variant) (int, bool) {
	if v.Change == Insertion {
		return len(v.Alt), v.Alt != ""
	}
	if v.Ref != "" {
		return len(v.Ref), true
	}
	start, err := strconv.Atoi(v.Start)
	if err != nil {
		return 0, false
	}
	if v.End == "" {
		return 1, true
	}
	end, err := strconv.Atoi(v.End)
	if err != nil || end < start {
		return 0, false
	}
	return end - start + 1, true
}

func parseGenomic(v *Variant, body string) error {
	for _, p := range genomicPatterns {
		m := p.re.FindStringSubmatch(body)
		if m == nil {
			continue
		}
		v.Change = p.change
		v.Start = m[1]
		switch p.change {
		case Substitution:
			v.Ref, v.Alt = m[2], m[3]
		case Inversion:
			v.End = m[2]
		case Insertion, Delins:
			v.End, v.Alt = m[2], m[3]
		default:
			v.End, v.Ref = m[2], m[3]
		}
		return nil
	}
	return fmt.Errorf("unable to parse genomic change %q", body)
}

func parseProtein(v *Variant, body string) error {
	if m := proteinFS.FindStringSubmatch(body); m != nil {
		v.Change, v.Ref, v.Start = Frameshift, oneLetter(m[1]), m[2]
		return nil
	}
	if m := proteinStop.FindStringSubmatch(body); m != nil {
		v.Change, v.Ref, v.Start, v.Alt = Nonsense, oneLetter(m[1]), m[2], "*"
		return nil
	}
	if m := proteinSame.FindStringSubmatch(body); m != nil {
		v.Change, v.Ref, v.Start, v.Alt = Synonymous, oneLetter(m[1]), m[2], oneLetter(m[1])
		return nil
	}
	if proteinStart.MatchString(body) {
		v.Change, v.Ref, v.Start = StartLoss, "M", "1"
		return nil
	}
	if m := proteinSub.FindStringSubmatch(body); m != nil {
		v.Ref, v.Start, v.Alt = oneLetter(m[1]), m[2], oneLetter(m[3])
		v.Change = Missense
		if v.Ref == v.Alt {
			v.Change = Synonymous
		}
		return nil
	}
	if m := proteinIns.FindStringSubmatch(body); m != nil {
		v.Change, v.Ref, v.Start, v.End = Insertion, oneLetter(m[1]), m[2], m[4]
		if m[5] != "" {
			v.Change = Delins
		}
		return nil
	}
	if m := proteinDel.FindStringSubmatch(body); m != nil {
		v.Change, v.Ref, v.Start, v.End = Deletion, oneLetter(m[1]), m[2], m[4]
		return nil
	}
	if m := proteinDup.FindStringSubmatch(body); m != nil {
		v.Change, v.Ref, v.Start, v.End = Duplication, oneLetter(m[1]), m[2], m[4]
		return nil
	}
	return fmt.Errorf("unable to parse protein change %q", body)
}

func oneLetter(code string) string {
	if len(code) == 1 {
		return code
	}
	if c, ok := aminoAcidCodes[code]; ok {
		return c
	}
	return code
}

// IsNull reports whether the change is predicted to abolish the product:
// frameshift, nonsense or loss of the initiation codon.
func (v *Variant) IsNull() bool {
	switch v.Change {
	case Frameshift, Nonsense, StartLoss:
		return true
	}
	return false
}

// IsCanonicalSplice reports a coding change at intronic offset +/-1 or 2.
func (v *Variant) IsCanonicalSplice() bool {
	if v.Level != Coding {
		return false
	}
	for _, pos := range []string{v.Start, v.End} {
		for _, off := range []string{"+1", "+2", "-1", "-2"} {
			if pos != "" && strings.HasSuffix(pos, off) && strings.IndexAny(pos[:len(pos)-2], "0123456789") >= 0 {
				return true
			}
		}
	}
	return false
}

// IsInFrame reports an in-frame length change.
func (v *Variant) IsInFrame() bool {
	switch v.Change {
	case Deletion, Duplication, Insertion, Delins:
		if v.Level == Protein {
			return true
		}
		if v.Level == Coding {
			n, ok := codingLength(v)
			return ok && n%3 == 0
		}
	}
	return false
}
