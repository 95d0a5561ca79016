package service

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/resistance-prophet-server/internal/domain"
	"github.com/resistance-prophet-server/pkg/hgvs"
)

// Criterion is one ACMG/AMP 2015 evidence code.
type Criterion struct {
	Code        string              `json:"code"`
	Category    domain.RuleCategory `json:"category"`
	Strength    domain.RuleStrength `json:"strength"`
	Description string              `json:"description"`
}

// criteria is ordered the way codes are reported.
var criteria = []Criterion{
	{"PVS1", domain.PATHOGENIC_RULE, domain.VERY_STRONG, "Null variant in a gene where LoF is a known mechanism"},
	{"PS1", domain.PATHOGENIC_RULE, domain.STRONG, "Same amino acid change as established pathogenic variant"},
	{"PS2", domain.PATHOGENIC_RULE, domain.STRONG, "De novo in patient with disease and no family history"},
	{"PS3", domain.PATHOGENIC_RULE, domain.STRONG, "Well-established functional studies supportive of damaging effect"},
	{"PS4", domain.PATHOGENIC_RULE, domain.STRONG, "Prevalence in affecteds significantly higher than controls"},
	{"PM1", domain.PATHOGENIC_RULE, domain.MODERATE, "Located in mutational hot spot or functional domain"},
	{"PM2", domain.PATHOGENIC_RULE, domain.MODERATE, "Absent from controls or extremely low frequency"},
	{"PM3", domain.PATHOGENIC_RULE, domain.MODERATE, "For recessive disorders, detected in trans with pathogenic variant"},
	{"PM4", domain.PATHOGENIC_RULE, domain.MODERATE, "Protein length change from in-frame indel or stop-loss"},
	{"PM5", domain.PATHOGENIC_RULE, domain.MODERATE, "Novel missense change at a residue with a known pathogenic missense"},
	{"PM6", domain.PATHOGENIC_RULE, domain.MODERATE, "Assumed de novo without confirmation of parentage"},
	{"PP1", domain.PATHOGENIC_RULE, domain.SUPPORTING, "Cosegregation with disease in multiple affected family members"},
	{"PP2", domain.PATHOGENIC_RULE, domain.SUPPORTING, "Missense variant in gene with low rate of benign missense variation"},
	{"PP3", domain.PATHOGENIC_RULE, domain.SUPPORTING, "Multiple lines of computational evidence support deleterious effect"},
	{"PP4", domain.PATHOGENIC_RULE, domain.SUPPORTING, "Phenotype or family history highly specific for disease"},
	{"PP5", domain.PATHOGENIC_RULE, domain.SUPPORTING, "Reputable source reports variant as pathogenic"},
	{"BA1", domain.BENIGN_RULE, domain.STANDALONE, "Allele frequency above 5% in population databases"},
	{"BS1", domain.BENIGN_RULE, domain.STRONG, "Allele frequency greater than expected for disorder"},
	{"BS2", domain.BENIGN_RULE, domain.STRONG, "Observed in healthy adult for a fully penetrant early-onset disorder"},
	{"BS3", domain.BENIGN_RULE, domain.STRONG, "Well-established functional studies show no damaging effect"},
	{"BS4", domain.BENIGN_RULE, domain.STRONG, "Lack of segregation in affected members of a family"},
	{"BP1", domain.BENIGN_RULE, domain.SUPPORTING, "Missense variant in gene where truncating variants cause disease"},
	{"BP2", domain.BENIGN_RULE, domain.SUPPORTING, "Observed in trans or cis with a pathogenic variant"},
	{"BP3", domain.BENIGN_RULE, domain.SUPPORTING, "In-frame indel in a repetitive region without known function"},
	{"BP4", domain.BENIGN_RULE, domain.SUPPORTING, "Multiple lines of computational evidence suggest no impact"},
	{"BP5", domain.BENIGN_RULE, domain.SUPPORTING, "Found in a case with an alternate molecular basis"},
	{"BP6", domain.BENIGN_RULE, domain.SUPPORTING, "Reputable source reports variant as benign"},
	{"BP7", domain.BENIGN_RULE, domain.SUPPORTING, "Synonymous variant with no predicted splice impact"},
}

// Criteria returns the evidence-code catalogue.
func Criteria() []Criterion {
	return append([]Criterion(nil), criteria...)
}

// EvidenceEngine combines asserted ACMG/AMP codes into a classification
// following the 2015 guidelines Table 5.
type EvidenceEngine struct {
	logger *logrus.Logger
	index  map[string]int
}

// NewEvidenceEngine creates an engine over the full catalogue.
func NewEvidenceEngine(logger *logrus.Logger) *EvidenceEngine {
	index := make(map[string]int, len(criteria))
	for i, c := range criteria {
		index[c.Code] = i
	}
	return &EvidenceEngine{logger: logger, index: index}
}

// Classify validates the request, applies PVS1 automatically for null
// changes and combines the evidence.
func (e *EvidenceEngine) Classify(req domain.ClassificationRequest) (*domain.ClassificationResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := hgvs.ValidateGeneSymbol(req.Gene); err != nil {
		return nil, err
	}
	variant, err := hgvs.Parse(req.HGVS)
	if err != nil {
		return nil, fmt.Errorf("classifying %s: %w", req.Gene, err)
	}

	applied := make(map[int]bool)
	for _, raw := range req.EvidenceCodes {
		code := strings.ToUpper(strings.TrimSpace(raw))
		i, ok := e.index[code]
		if !ok {
			return nil, fmt.Errorf("%w: %q", domain.ErrUnknownEvidenceCode, raw)
		}
		applied[i] = true
	}

	result := &domain.ClassificationResult{
		Gene: hgvs.NormalizeGene(req.Gene),
		HGVS: strings.TrimSpace(req.HGVS),
	}

	pvs1 := e.index["PVS1"]
	autoPVS1 := !applied[pvs1] && (variant.IsNull() || variant.IsCanonicalSplice())
	if autoPVS1 {
		applied[pvs1] = true
		result.Warnings = append(result.Warnings, fmt.Sprintf("PVS1 applied automatically for %s change", variant.Change))
	} else if applied[pvs1] && !variant.IsNull() && !variant.IsCanonicalSplice() {
		result.Warnings = append(result.Warnings, fmt.Sprintf("PVS1 asserted for a %s change that is not predicted null", variant.Change))
	}

	ordered := make([]int, 0, len(applied))
	for i := range applied {
		ordered = append(ordered, i)
	}
	sort.Ints(ordered)

	for _, i := range ordered {
		c := criteria[i]
		rule := domain.EvidenceRule{
			Code:     c.Code,
			Category: c.Category,
			Strength: c.Strength,
			Applied:  true,
			Evidence: c.Description,
		}
		if i == pvs1 && autoPVS1 {
			rule.Auto = true
			rule.Evidence = fmt.Sprintf("%s (%s)", c.Description, variant.Original)
		}
		result.Rules = append(result.Rules, rule)
	}

	pathogenic := countByStrength(result.Rules, domain.PATHOGENIC_RULE)
	benign := countByStrength(result.Rules, domain.BENIGN_RULE)
	pathCall := pathogenicCall(pathogenic)
	benignCall := benignCall(benign)

	switch {
	case pathCall != "" && benignCall != "":
		result.Classification = domain.VUS
		result.Warnings = append(result.Warnings, fmt.Sprintf("conflicting evidence: pathogenic criteria support %s and benign criteria support %s", pathCall, benignCall))
	case pathCall != "":
		result.Classification = pathCall
	case benignCall != "":
		result.Classification = benignCall
	default:
		result.Classification = domain.VUS
	}
	decisive := len(result.Rules) >= 2 || benign[domain.STANDALONE] > 0
	result.Confidence = confidenceFor(result.Classification, decisive, pathCall != "" && benignCall != "")
	result.Summary = summarize(result)

	e.logger.WithFields(logrus.Fields{
		"gene":           result.Gene,
		"hgvs":           result.HGVS,
		"classification": result.Classification,
		"confidence":     result.Confidence,
		"rules_applied":  len(result.Rules),
	}).Info("Completed evidence combination")

	return result, nil
}

func countByStrength(rules []domain.EvidenceRule, category domain.RuleCategory) map[domain.RuleStrength]int {
	counts := make(map[domain.RuleStrength]int)
	for _, r := range rules {
		if r.Applied && r.Category == category {
			counts[r.Strength]++
		}
	}
	return counts
}

// pathogenicCall applies the pathogenic half of Table 5.
func pathogenicCall(n map[domain.RuleStrength]int) domain.Classification {
	pvs, ps, pm, pp := n[domain.VERY_STRONG], n[domain.STRONG], n[domain.MODERATE], n[domain.SUPPORTING]

	if (pvs >= 1 && (ps >= 1 || pm >= 2 || (pm >= 1 && pp >= 1) || pp >= 2)) ||
		ps >= 2 ||
		(ps >= 1 && (pm >= 3 || (pm >= 2 && pp >= 2) || (pm >= 1 && pp >= 4))) {
		return domain.PATHOGENIC
	}

	if (pvs >= 1 && pm >= 1) ||
		(ps >= 1 && (pm >= 1 || pp >= 2)) ||
		pm >= 3 ||
		(pm >= 2 && pp >= 2) ||
		(pm >= 1 && pp >= 4) {
		return domain.LIKELY_PATHOGENIC
	}
	return ""
}

// benignCall applies the benign half of Table 5.
func benignCall(n map[domain.RuleStrength]int) domain.Classification {
	ba, bs, bp := n[domain.STANDALONE], n[domain.STRONG], n[domain.SUPPORTING]
	if ba >= 1 || bs >= 2 {
		return domain.BENIGN
	}
	if (bs >= 1 && bp >= 1) || bp >= 2 {
		return domain.LIKELY_BENIGN
	}
	return ""
}

func confidenceFor(c domain.Classification, decisive, conflicting bool) domain.ConfidenceLevel {
	switch {
	case conflicting:
		return domain.LOW
	case (c == domain.PATHOGENIC || c == domain.BENIGN) && decisive:
		return domain.HIGH
	case c != domain.VUS:
		return domain.MEDIUM
	default:
		return domain.LOW
	}
}

func summarize(r *domain.ClassificationResult) string {
	codes := make([]string, 0, len(r.Rules))
	for _, rule := range r.Rules {
		codes = append(codes, rule.Code)
	}
	met := "no criteria met"
	if len(codes) > 0 {
		met = strings.Join(codes, ", ")
	}
	return fmt.Sprintf("%s %s: %s (%s confidence; %s)", r.Gene, r.HGVS, r.Classification, r.Confidence, met)
}
