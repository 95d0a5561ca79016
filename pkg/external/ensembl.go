package external

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/resistance-prophet-server/internal/domain"
	"github.com/resistance-prophet-server/pkg/hgvs"
)

// EnsemblClient looks up genes on the Ensembl REST API.
type EnsemblClient struct {
	rest  *restClient
	cache Cache
	ttl   time.Duration
}

// NewEnsemblClient creates a client. Ensembl allows 15 requests per second.
func NewEnsemblClient(cfg domain.APIClientConfig, cache Cache, logger *logrus.Logger) *EnsemblClient {
	return &EnsemblClient{
		rest:  newRESTClient(SourceEnsembl, "https://rest.ensembl.org", cfg, 15, logger),
		cache: cache,
		ttl:   7 * 24 * time.Hour,
	}
}

type ensemblGene struct {
	ID            string `json:"id"`
	DisplayName   string `json:"display_name"`
	Description   string `json:"description"`
	Biotype       string `json:"biotype"`
	SeqRegionName string `json:"seq_region_name"`
	Start         int    `json:"start"`
	End           int    `json:"end"`
	Strand        int    `json:"strand"`
	Assembly      string `json:"assembly_name"`
}

// Gene returns the human gene record for symbol. Unknown symbols return
// domain.ErrNotFound.
func (c *EnsemblClient) Gene(ctx context.Context, symbol string) (*GeneInfo, error) {
	symbol = hgvs.NormalizeGene(symbol)
	if err := hgvs.ValidateGeneSymbol(symbol); err != nil {
		return nil, err
	}

	return cached(ctx, c.cache, c.rest.log, SourceEnsembl+":gene:"+symbol, c.ttl, func() (*GeneInfo, error) {
		var g ensemblGene
		path := "/lookup/symbol/homo_sapiens/" + url.PathEscape(symbol) + "?content-type=application/json"
		if err := c.rest.getJSON(ctx, path, &g); err != nil {
			var se *StatusError
			if errors.As(err, &se) && (se.NotFound() || se.Status == 400) {
				return nil, fmt.Errorf("gene %s: %w", symbol, domain.ErrNotFound)
			}
			return nil, err
		}
		return &GeneInfo{
			EnsemblID:   g.ID,
			Symbol:      g.DisplayName,
			Description: g.Description,
			Biotype:     g.Biotype,
			Chromosome:  g.SeqRegionName,
			Start:       g.Start,
			End:         g.End,
			Strand:      g.Strand,
			Assembly:    g.Assembly,
		}, nil
	})
}
