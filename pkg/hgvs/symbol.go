package hgvs

import (
	"regexp"
	"strings"

	"github.com/resistance-prophet-server/internal/domain"
)

var geneSymbolPattern = regexp.MustCompile(`^[A-Z][A-Z0-9]*(-[A-Z0-9]+)*$`)

// MaxGeneSymbolLength follows the HGNC recommendation.
const MaxGeneSymbolLength = 15

// NormalizeGene upper-cases and trims a gene symbol.
func NormalizeGene(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// ValidateGeneSymbol checks an HGNC-style symbol after normalization.
func ValidateGeneSymbol(symbol string) error {
	s := NormalizeGene(symbol)
	switch {
	case s == "":
		return domain.NewValidationError("gene", "gene symbol is required", symbol)
	case len(s) > MaxGeneSymbolLength:
		return domain.NewValidationError("gene", "gene symbol should not exceed 15 characters", symbol)
	case !geneSymbolPattern.MatchString(s):
		return domain.NewValidationError("gene", "gene symbol must start with a letter and contain only letters, digits and single hyphens", symbol)
	}
	return nil
}
