package service

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/resistance-prophet-server/internal/domain"
	"github.com/resistance-prophet-server/internal/guidelines"
	"github.com/resistance-prophet-server/internal/pathway"
)

// GuidelineResult answers one guideline lookup. When no biomarker is asked
// for, Biomarkers lists what the disease table covers.
type GuidelineResult struct {
	Disease         string                      `json:"disease"`
	Biomarker       string                      `json:"biomarker,omitempty"`
	Version         string                      `json:"version"`
	Recommendations []guidelines.Recommendation `json:"recommendations"`
	Biomarkers      []string                    `json:"biomarkers,omitempty"`
}

// RankRequest asks for drugs ordered by fit against a tumor. Features take
// precedence over a precomputed Vector.
type RankRequest struct {
	Features *domain.TumorFeatures `json:"features,omitempty"`
	Vector   *domain.PathwayVector `json:"vector,omitempty"`
	Limit    int                   `json:"limit,omitempty"`
}

// RankResult is the ranked drug list with the tumor vector it was scored on.
type RankResult struct {
	Tumor    domain.PathwayVector `json:"tumor"`
	Rankings []guidelines.Ranking `json:"rankings"`
}

// GuidelineService serves NCCN lookups and drug ranking.
type GuidelineService struct {
	catalog *guidelines.Catalog
	model   *pathway.Model
	logger  *logrus.Logger
}

// NewGuidelineService creates the service.
func NewGuidelineService(catalog *guidelines.Catalog, model *pathway.Model, logger *logrus.Logger) *GuidelineService {
	return &GuidelineService{catalog: catalog, model: model, logger: logger}
}

// Lookup returns recommendations for a disease and biomarker.
func (s *GuidelineService) Lookup(_ context.Context, disease, biomarker string) (*GuidelineResult, error) {
	disease = strings.TrimSpace(disease)
	if disease == "" {
		return nil, domain.NewValidationError("disease", "disease is required", disease)
	}
	biomarker = strings.TrimSpace(biomarker)

	res := &GuidelineResult{
		Disease:         strings.ToLower(disease),
		Biomarker:       biomarker,
		Version:         s.catalog.Version(),
		Recommendations: []guidelines.Recommendation{},
	}
	if biomarker == "" {
		res.Biomarkers = s.catalog.Biomarkers(disease)
		return res, nil
	}
	res.Recommendations = s.catalog.Lookup(disease, biomarker)
	s.logger.WithFields(logrus.Fields{
		"disease":   disease,
		"biomarker": biomarker,
		"matches":   len(res.Recommendations),
	}).Debug("Guideline lookup")
	return res, nil
}

// RankDrugs scores every catalogued drug against the tumor.
func (s *GuidelineService) RankDrugs(_ context.Context, req RankRequest) (*RankResult, error) {
	var tumor domain.PathwayVector
	switch {
	case req.Features != nil:
		if err := req.Features.Validate(); err != nil {
			return nil, err
		}
		tumor = s.model.Burden(req.Features)
	case req.Vector != nil:
		tumor = *req.Vector
	default:
		return nil, domain.NewValidationError("features", "features or vector is required", nil)
	}
	if req.Limit < 0 {
		return nil, domain.NewValidationError("limit", "must be non-negative", req.Limit)
	}

	ranked := s.catalog.Rank(tumor)
	if req.Limit > 0 && req.Limit < len(ranked) {
		ranked = ranked[:req.Limit]
	}
	return &RankResult{Tumor: tumor, Rankings: ranked}, nil
}
