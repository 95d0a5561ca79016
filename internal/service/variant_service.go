package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/resistance-prophet-server/internal/domain"
	"github.com/resistance-prophet-server/internal/pathway"
	"github.com/resistance-prophet-server/pkg/external"
	"github.com/resistance-prophet-server/pkg/hgvs"
)

// GeneLookup resolves a gene symbol to its reference record.
type GeneLookup interface {
	Gene(ctx context.Context, symbol string) (*external.GeneInfo, error)
}

// ClinVarSearcher finds ClinVar variations for a gene and change.
type ClinVarSearcher interface {
	Search(ctx context.Context, gene, change string, limit int) ([]external.ClinVarRecord, error)
}

// TrialSearcher finds clinical trials.
type TrialSearcher interface {
	Search(ctx context.Context, q external.TrialQuery) ([]external.Trial, error)
}

// AnnotateRequest names the variant to annotate. HGVS is optional.
type AnnotateRequest struct {
	Gene string `json:"gene" binding:"required"`
	HGVS string `json:"hgvs,omitempty"`
}

// Annotation merges reference data for one variant. Upstream failures show
// up in Warnings rather than failing the call.
type Annotation struct {
	Gene      string                  `json:"gene"`
	HGVS      string                  `json:"hgvs,omitempty"`
	Variant   *hgvs.Variant           `json:"variant,omitempty"`
	GeneInfo  *external.GeneInfo      `json:"gene_info,omitempty"`
	ClinVar   []external.ClinVarRecord `json:"clinvar"`
	Consensus domain.Classification   `json:"clinvar_consensus,omitempty"`
	Pathways  *domain.PathwayVector   `json:"pathway_weights,omitempty"`
	Warnings  []string                `json:"warnings,omitempty"`
}

// VariantService classifies and annotates variants and searches trials.
// Any of the upstream clients may be nil, which disables that lookup.
type VariantService struct {
	engine  *EvidenceEngine
	model   *pathway.Model
	genes   GeneLookup
	clinvar ClinVarSearcher
	trials  TrialSearcher
	logger  *logrus.Logger
	tracer  trace.Tracer
}

// NewVariantService creates the service.
func NewVariantService(
	engine *EvidenceEngine,
	model *pathway.Model,
	genes GeneLookup,
	clinvar ClinVarSearcher,
	trials TrialSearcher,
	logger *logrus.Logger,
) *VariantService {
	return &VariantService{
		engine:  engine,
		model:   model,
		genes:   genes,
		clinvar: clinvar,
		trials:  trials,
		logger:  logger,
		tracer:  otel.Tracer(tracerName),
	}
}

// Classify combines asserted ACMG/AMP evidence codes.
func (s *VariantService) Classify(ctx context.Context, req domain.ClassificationRequest) (*domain.ClassificationResult, error) {
	_, span := s.tracer.Start(ctx, "VariantService.Classify")
	defer span.End()
	return s.engine.Classify(req)
}

// Annotate fetches the Ensembl gene record and matching ClinVar entries
// concurrently.
func (s *VariantService) Annotate(ctx context.Context, req AnnotateRequest) (*Annotation, error) {
	ctx, span := s.tracer.Start(ctx, "VariantService.Annotate")
	defer span.End()

	gene := hgvs.NormalizeGene(req.Gene)
	if err := hgvs.ValidateGeneSymbol(gene); err != nil {
		return nil, err
	}

	out := &Annotation{Gene: gene, HGVS: strings.TrimSpace(req.HGVS), ClinVar: []external.ClinVarRecord{}}
	change := ""
	if out.HGVS != "" {
		v, err := hgvs.Parse(out.HGVS)
		if err != nil {
			return nil, err
		}
		out.Variant = v
		change = changeOnly(out.HGVS)
	}
	if s.model != nil {
		if w, ok := s.model.GeneWeights(gene); ok {
			out.Pathways = &w
		}
	}

	var mu sync.Mutex
	warn := func(source string, err error) string {
		s.logger.WithFields(logrus.Fields{
			"gene":   gene,
			"source": source,
			"error":  err,
		}).Warn("Annotation lookup failed")
		return fmt.Sprintf("%s lookup failed: %v", source, err)
	}

	// one slot per source keeps warnings in source order whatever the
	// completion order
	ensemblWarning := "ensembl lookup disabled"
	clinvarWarning := "clinvar lookup disabled"

	g, gctx := errgroup.WithContext(ctx)
	if s.genes != nil {
		ensemblWarning = ""
		g.Go(func() error {
			info, err := s.genes.Gene(gctx, gene)
			if err != nil {
				ensemblWarning = warn(external.SourceEnsembl, err)
				return nil
			}
			mu.Lock()
			out.GeneInfo = info
			mu.Unlock()
			return nil
		})
	}
	if s.clinvar != nil {
		clinvarWarning = ""
		g.Go(func() error {
			recs, err := s.clinvar.Search(gctx, gene, change, 0)
			if err != nil {
				clinvarWarning = warn(external.SourceClinVar, err)
				return nil
			}
			mu.Lock()
			out.ClinVar = recs
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, w := range []string{ensemblWarning, clinvarWarning} {
		if w != "" {
			out.Warnings = append(out.Warnings, w)
		}
	}
	out.Consensus = consensus(out.ClinVar)
	return out, nil
}

// Trials searches ClinicalTrials.gov.
func (s *VariantService) Trials(ctx context.Context, q external.TrialQuery) ([]external.Trial, error) {
	ctx, span := s.tracer.Start(ctx, "VariantService.Trials")
	defer span.End()

	if s.trials == nil {
		return nil, fmt.Errorf("%w: clinical trials lookup disabled", domain.ErrExternalAPI)
	}
	trials, err := s.trials.Search(ctx, q)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, domain.ErrInvalidInput) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrExternalAPI, err)
	}
	return trials, nil
}

// changeOnly strips an accession prefix: "NM_007294.4:c.68_69del" -> "c.68_69del".
func changeOnly(notation string) string {
	if i := strings.LastIndex(notation, ":"); i >= 0 {
		return notation[i+1:]
	}
	return notation
}

// consensus is the classification shared by every record that maps onto
// the five-tier scale, or VUS when they disagree.
func consensus(recs []external.ClinVarRecord) domain.Classification {
	var c domain.Classification
	for _, r := range recs {
		if r.ClinicalSignificance == "" {
			continue
		}
		rc := r.Classification()
		if c == "" {
			c = rc
		} else if c != rc {
			return domain.VUS
		}
	}
	return c
}
