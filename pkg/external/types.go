// Package external holds the outbound clients for Ensembl, ClinVar and
// ClinicalTrials.gov, and the two-tier cache they share.
package external

import "time"

// Source names used in cache keys, breaker names and warnings.
const (
	SourceEnsembl        = "ensembl"
	SourceClinVar        = "clinvar"
	SourceClinicalTrials = "clinical_trials"
)

// GeneInfo is the Ensembl gene record.
type GeneInfo struct {
	EnsemblID   string `json:"ensembl_id"`
	Symbol      string `json:"symbol"`
	Description string `json:"description,omitempty"`
	Biotype     string `json:"biotype,omitempty"`
	Chromosome  string `json:"chromosome,omitempty"`
	Start       int    `json:"start,omitempty"`
	End         int    `json:"end,omitempty"`
	Strand      int    `json:"strand,omitempty"`
	Assembly    string `json:"assembly,omitempty"`
}

// ClinVarRecord is one ClinVar variation summary.
type ClinVarRecord struct {
	VariationID          string   `json:"variation_id"`
	Title                string   `json:"title"`
	ClinicalSignificance string   `json:"clinical_significance,omitempty"`
	ReviewStatus         string   `json:"review_status,omitempty"`
	LastEvaluated        string   `json:"last_evaluated,omitempty"`
	Genes                []string `json:"genes,omitempty"`
	Conditions           []string `json:"conditions,omitempty"`
}

// TrialQuery filters ClinicalTrials.gov studies.
type TrialQuery struct {
	Condition string `json:"condition" form:"condition"`
	Term      string `json:"term,omitempty" form:"term"`
	Status    string `json:"status,omitempty" form:"status"`
	PageSize  int    `json:"page_size,omitempty" form:"page_size"`
}

// Trial is a trimmed ClinicalTrials.gov study.
type Trial struct {
	NCTID         string   `json:"nct_id"`
	Title         string   `json:"title"`
	Status        string   `json:"status"`
	Phases        []string `json:"phases,omitempty"`
	Conditions    []string `json:"conditions,omitempty"`
	Interventions []string `json:"interventions,omitempty"`
	LastUpdated   string   `json:"last_updated,omitempty"`
	URL           string   `json:"url"`
}

// CacheStats counts lookups per tier.
type CacheStats struct {
	MemoryHits int64 `json:"memory_hits"`
	RedisHits  int64 `json:"redis_hits"`
	Misses     int64 `json:"misses"`
	Errors     int64 `json:"errors"`
}

type envelope struct {
	Data      []byte    `json:"data"`
	CachedAt  time.Time `json:"cached_at"`
	ExpiresAt time.Time `json:"expires_at"`
}
