// Package domain contains the entities shared by the resistance engine, the
// persistence layer and the transports: kinetics measurements, pathway
// vectors, risk assessments, patient profiles and the ACMG/AMP vocabulary
// used by the variant glue.
//
// Reference: Richards et al. (2015) Standards and guidelines for the interpretation of sequence variants.
// Genet Med. 17(5):405-24. doi: 10.1038/gim.2015.30
package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Classification is the ACMG/AMP five-tier call for a sequence variant.
//
// Reference: ACMG/AMP 2015 Guidelines, Table 5
type Classification string

const (
	PATHOGENIC        Classification = "PATHOGENIC"
	LIKELY_PATHOGENIC Classification = "LIKELY_PATHOGENIC"
	VUS               Classification = "VUS"
	LIKELY_BENIGN     Classification = "LIKELY_BENIGN"
	BENIGN            Classification = "BENIGN"
)

// RuleStrength represents the strength of ACMG/AMP evidence rules
type RuleStrength string

const (
	VERY_STRONG RuleStrength = "VERY_STRONG"
	STRONG      RuleStrength = "STRONG"
	MODERATE    RuleStrength = "MODERATE"
	SUPPORTING  RuleStrength = "SUPPORTING"
	STANDALONE  RuleStrength = "STANDALONE"
)

// RuleCategory represents the category of ACMG/AMP rules
type RuleCategory string

const (
	PATHOGENIC_RULE RuleCategory = "PATHOGENIC"
	BENIGN_RULE     RuleCategory = "BENIGN"
)

// ConfidenceLevel represents the confidence in a classification
type ConfidenceLevel string

const (
	HIGH   ConfidenceLevel = "High"
	MEDIUM ConfidenceLevel = "Medium"
	LOW    ConfidenceLevel = "Low"
)

// Sentinel errors matched with errors.Is across packages.
var (
	ErrNotFound              = errors.New("not found")
	ErrAlreadyExists         = errors.New("already exists")
	ErrInvalidInput          = errors.New("invalid input")
	ErrInvalidClassification = errors.New("invalid ACMG/AMP classification")
	ErrUnknownEvidenceCode   = errors.New("unknown ACMG/AMP evidence code")
	ErrExternalAPI           = errors.New("external API failure")
)

// IsValid reports whether c is one of the five ACMG/AMP tiers.
func (c Classification) IsValid() bool {
	switch c {
	case PATHOGENIC, LIKELY_PATHOGENIC, VUS, LIKELY_BENIGN, BENIGN:
		return true
	default:
		return false
	}
}

func (c Classification) String() string {
	return string(c)
}

// ParseClassification accepts the canonical names plus the ClinVar spellings
// ("Likely pathogenic", "Uncertain significance", ...).
func ParseClassification(s string) (Classification, error) {
	norm := strings.ToUpper(strings.TrimSpace(s))
	norm = strings.NewReplacer(" ", "_", "-", "_", "/", "_").Replace(norm)
	switch norm {
	case "PATHOGENIC", "P":
		return PATHOGENIC, nil
	case "LIKELY_PATHOGENIC", "LP", "PATHOGENIC_LIKELY_PATHOGENIC":
		return LIKELY_PATHOGENIC, nil
	case "VUS", "UNCERTAIN_SIGNIFICANCE":
		return VUS, nil
	case "LIKELY_BENIGN", "LB", "BENIGN_LIKELY_BENIGN":
		return LIKELY_BENIGN, nil
	case "BENIGN", "B":
		return BENIGN, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidClassification, s)
}

// RequiresClinicalAction determines if the classification requires clinical follow-up.
func (c Classification) RequiresClinicalAction() bool {
	switch c {
	case PATHOGENIC, LIKELY_PATHOGENIC:
		return true
	case VUS, LIKELY_BENIGN, BENIGN:
		return false
	default:
		return true
	}
}

// IsValid validates the rule strength.
func (rs RuleStrength) IsValid() bool {
	switch rs {
	case VERY_STRONG, STRONG, MODERATE, SUPPORTING, STANDALONE:
		return true
	default:
		return false
	}
}

// IsValid validates the rule category
func (rc RuleCategory) IsValid() bool {
	return rc == PATHOGENIC_RULE || rc == BENIGN_RULE
}

// IsValid validates the confidence level.
func (cl ConfidenceLevel) IsValid() bool {
	switch cl {
	case HIGH, MEDIUM, LOW:
		return true
	default:
		return false
	}
}

// EvidenceRule is one ACMG/AMP criterion as evaluated for a variant.
type EvidenceRule struct {
	Code     string       `json:"code"`
	Category RuleCategory `json:"category"`
	Strength RuleStrength `json:"strength"`
	Applied  bool         `json:"applied"`
	Auto     bool         `json:"auto,omitempty"`
	Evidence string       `json:"evidence,omitempty"`
}

// ClassificationRequest carries a variant and the evidence codes a curator
// asserts for it.
type ClassificationRequest struct {
	Gene          string   `json:"gene" binding:"required"`
	HGVS          string   `json:"hgvs" binding:"required"`
	EvidenceCodes []string `json:"evidence_codes"`
}

// Validate checks the request before it reaches the rule engine.
func (r *ClassificationRequest) Validate() error {
	if strings.TrimSpace(r.Gene) == "" {
		return NewValidationError("gene", "gene symbol is required", r.Gene)
	}
	if strings.TrimSpace(r.HGVS) == "" {
		return NewValidationError("hgvs", "HGVS notation is required", r.HGVS)
	}
	return nil
}

// ClassificationResult is the combined ACMG/AMP call.
type ClassificationResult struct {
	Gene           string          `json:"gene"`
	HGVS           string          `json:"hgvs"`
	Classification Classification  `json:"classification"`
	Confidence     ConfidenceLevel `json:"confidence"`
	Rules          []EvidenceRule  `json:"rules"`
	Summary        string          `json:"summary"`
	Warnings       []string        `json:"warnings,omitempty"`
}
