package external

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/resistance-prophet-server/internal/domain"
	"github.com/resistance-prophet-server/pkg/hgvs"
)

// DefaultClinVarResults bounds how many variations one search summarises.
const DefaultClinVarResults = 5

// ClinVarClient queries ClinVar through NCBI E-utilities in JSON mode.
type ClinVarClient struct {
	rest   *restClient
	cache  Cache
	apiKey string
	email  string
	ttl    time.Duration
}

// NewClinVarClient creates a client. NCBI allows 3 requests per second
// without a key.
func NewClinVarClient(cfg domain.APIClientConfig, cache Cache, logger *logrus.Logger) *ClinVarClient {
	return &ClinVarClient{
		rest:   newRESTClient(SourceClinVar, "https://eutils.ncbi.nlm.nih.gov/entrez/eutils", cfg, 3, logger),
		cache:  cache,
		apiKey: cfg.APIKey,
		email:  cfg.Email,
		ttl:    24 * time.Hour,
	}
}

type esearchResponse struct {
	Result struct {
		Count  string   `json:"count"`
		IDList []string `json:"idlist"`
	} `json:"esearchresult"`
}

type esummaryResponse struct {
	Result map[string]json.RawMessage `json:"result"`
}

type clinvarClassification struct {
	Description   string `json:"description"`
	LastEvaluated string `json:"last_evaluated"`
	ReviewStatus  string `json:"review_status"`
}

type clinvarDoc struct {
	UID                    string                `json:"uid"`
	Title                  string                `json:"title"`
	GermlineClassification clinvarClassification `json:"germline_classification"`
	ClinicalSignificance   clinvarClassification `json:"clinical_significance"`
	Genes                  []struct {
		Symbol string `json:"symbol"`
	} `json:"genes"`
	TraitSet []struct {
		TraitName string `json:"trait_name"`
	} `json:"trait_set"`
}

// Search returns the ClinVar variations matching gene and, when given, the
// HGVS change.
func (c *ClinVarClient) Search(ctx context.Context, gene, change string, limit int) ([]ClinVarRecord, error) {
	gene = hgvs.NormalizeGene(gene)
	if err := hgvs.ValidateGeneSymbol(gene); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultClinVarResults
	}
	change = strings.TrimSpace(change)

	key := fmt.Sprintf("%s:search:%s:%s:%d", SourceClinVar, gene, change, limit)
	return cached(ctx, c.cache, c.rest.log, key, c.ttl, func() ([]ClinVarRecord, error) {
		ids, err := c.esearch(ctx, searchTerm(gene, change), limit)
		if err != nil {
			return nil, err
		}
		if len(ids) == 0 {
			return []ClinVarRecord{}, nil
		}
		return c.esummary(ctx, ids)
	})
}

func searchTerm(gene, change string) string {
	term := gene + "[gene]"
	if change != "" {
		term += ` AND "` + change + `"[variant name]`
	}
	return term
}

func (c *ClinVarClient) params(extra url.Values) url.Values {
	extra.Set("db", "clinvar")
	extra.Set("retmode", "json")
	if c.apiKey != "" {
		extra.Set("api_key", c.apiKey)
	}
	if c.email != "" {
		extra.Set("email", c.email)
	}
	extra.Set("tool", "resistance-prophet")
	return extra
}

func (c *ClinVarClient) esearch(ctx context.Context, term string, limit int) ([]string, error) {
	q := c.params(url.Values{"term": {term}, "retmax": {strconv.Itoa(limit)}})
	var resp esearchResponse
	if err := c.rest.getJSON(ctx, "/esearch.fcgi?"+q.Encode(), &resp); err != nil {
		return nil, fmt.Errorf("clinvar search: %w", err)
	}
	return resp.Result.IDList, nil
}

func (c *ClinVarClient) esummary(ctx context.Context, ids []string) ([]ClinVarRecord, error) {
	q := c.params(url.Values{"id": {strings.Join(ids, ",")}})
	var resp esummaryResponse
	if err := c.rest.getJSON(ctx, "/esummary.fcgi?"+q.Encode(), &resp); err != nil {
		return nil, fmt.Errorf("clinvar summary: %w", err)
	}

	var uids []string
	if raw, ok := resp.Result["uids"]; ok {
		if err := json.Unmarshal(raw, &uids); err != nil {
			return nil, fmt.Errorf("decoding clinvar uids: %w", err)
		}
	}

	out := make([]ClinVarRecord, 0, len(uids))
	for _, uid := range uids {
		raw, ok := resp.Result[uid]
		if !ok {
			continue
		}
		var doc clinvarDoc
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("decoding clinvar record %s: %w", uid, err)
		}
		out = append(out, doc.record())
	}
	return out, nil
}

func (d clinvarDoc) record() ClinVarRecord {
	cls := d.GermlineClassification
	if cls.Description == "" {
		cls = d.ClinicalSignificance
	}
	r := ClinVarRecord{
		VariationID:          d.UID,
		Title:                d.Title,
		ClinicalSignificance: cls.Description,
		ReviewStatus:         cls.ReviewStatus,
		LastEvaluated:        cls.LastEvaluated,
	}
	for _, g := range d.Genes {
		if g.Symbol != "" {
			r.Genes = append(r.Genes, g.Symbol)
		}
	}
	for _, t := range d.TraitSet {
		if t.TraitName != "" {
			r.Conditions = append(r.Conditions, t.TraitName)
		}
	}
	return r
}

// Classification maps the record's significance onto the five-tier scale.
// Unmappable wording such as "Conflicting classifications" yields VUS.
func (r ClinVarRecord) Classification() domain.Classification {
	c, err := domain.ParseClassification(r.ClinicalSignificance)
	if err != nil {
		return domain.VUS
	}
	return c
}
