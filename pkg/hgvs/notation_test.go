package hgvs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resistance-prophet-server/internal/domain"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		level    Level
		change   Change
		start    string
		null     bool
		splice   bool
		inFrame  bool
		hasRefSq bool
	}{
		{"coding substitution", "NM_000546.6:c.524G>A", Coding, Substitution, "524", false, false, false, true},
		{"single base duplication shifts frame", "NM_007294.4:c.5266dupC", Coding, Frameshift, "5266", true, false, false, true},
		{"explicit frameshift", "c.68_69delAGfs", Coding, Frameshift, "68", true, false, false, false},
		{"two base deletion", "c.68_69del", Coding, Frameshift, "68", true, false, false, false},
		{"in-frame deletion", "c.1507_1509del", Coding, Deletion, "1507", false, false, true, false},
		{"in-frame insertion", "c.100_101insGCA", Coding, Insertion, "100", false, false, true, false},
		{"donor splice site", "NM_000059.4:c.8754+1G>A", Coding, Substitution, "8754+1", false, true, false, true},
		{"acceptor splice site", "c.68-2A>G", Coding, Substitution, "68-2", false, true, false, false},
		{"deep intronic", "c.68-12A>G", Coding, Substitution, "68-12", false, false, false, false},
		{"nonsense three letter", "NP_009225.1:p.Arg1443Ter", Protein, Nonsense, "1443", true, false, false, true},
		{"nonsense star", "p.R1443*", Protein, Nonsense, "1443", true, false, false, false},
		{"protein frameshift", "p.(Gln1756ProfsTer74)", Protein, Frameshift, "1756", true, false, false, false},
		{"missense", "p.Val600Glu", Protein, Missense, "600", false, false, false, false},
		{"synonymous", "p.Lys2=", Protein, Synonymous, "2", false, false, false, false},
		{"start loss", "p.Met1?", Protein, StartLoss, "1", true, false, false, false},
		{"protein deletion", "p.Phe508del", Protein, Deletion, "508", false, false, true, false},
		{"protein delins", "p.Cys28delinsTrpVal", Protein, Delins, "28", false, false, true, false},
		{"genomic substitution", "chr17:g.43045712C>T", Genomic, Substitution, "43045712", false, false, false, true},
		{"genomic deletion", "NC_000017.11:g.43045712_43045714del", Genomic, Deletion, "43045712", false, false, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := Parse(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.level, v.Level)
			assert.Equal(t, tt.change, v.Change)
			assert.Equal(t, tt.start, v.Start)
			assert.Equal(t, tt.null, v.IsNull())
			assert.Equal(t, tt.splice, v.IsCanonicalSplice())
			assert.Equal(t, tt.inFrame, v.IsInFrame())
			assert.Equal(t, tt.hasRefSq, v.Reference != "")
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	for _, input := range []string{"", "   ", "BRCA1", "NM_007294.4:x.123A>G", "FOO_1:c.1A>G", "c.ABC", "p.Xyz12"} {
		t.Run(input, func(t *testing.T) {
			_, err := Parse(input)
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrInvalidInput))
		})
	}
}

func TestValidateGeneSymbol(t *testing.T) {
	tests := []struct {
		symbol  string
		wantErr bool
	}{
		{"BRCA1", false},
		{"brca2", false},
		{" TP53 ", false},
		{"HLA-A", false},
		{"", true},
		{"1BRCA", true},
		{"BRCA@1", true},
		{"BRCA1-", true},
		{"BRCA1--2", true},
		{"VERYLONGGENENAMESYMBOL", true},
	}

	for _, tt := range tests {
		t.Run(tt.symbol, func(t *testing.T) {
			err := ValidateGeneSymbol(tt.symbol)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
	assert.Equal(t, "BRCA2", NormalizeGene(" brca2"))
}
