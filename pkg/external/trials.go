package external

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/resistance-prophet-server/internal/domain"
)

// Trial search bounds.
const (
	DefaultTrialPageSize = 10
	MaxTrialPageSize     = 50
	DefaultTrialStatus   = "RECRUITING"
)

// ClinicalTrialsClient searches the ClinicalTrials.gov v2 API.
type ClinicalTrialsClient struct {
	rest  *restClient
	cache Cache
	ttl   time.Duration
}

// NewClinicalTrialsClient creates a client.
func NewClinicalTrialsClient(cfg domain.APIClientConfig, cache Cache, logger *logrus.Logger) *ClinicalTrialsClient {
	return &ClinicalTrialsClient{
		rest:  newRESTClient(SourceClinicalTrials, "https://clinicaltrials.gov", cfg, 10, logger),
		cache: cache,
		ttl:   6 * time.Hour,
	}
}

type studiesResponse struct {
	Studies []struct {
		ProtocolSection struct {
			IdentificationModule struct {
				NCTID      string `json:"nctId"`
				BriefTitle string `json:"briefTitle"`
			} `json:"identificationModule"`
			StatusModule struct {
				OverallStatus      string `json:"overallStatus"`
				LastUpdatePostDate struct {
					Date string `json:"date"`
				} `json:"lastUpdatePostDateStruct"`
			} `json:"statusModule"`
			DesignModule struct {
				Phases []string `json:"phases"`
			} `json:"designModule"`
			ConditionsModule struct {
				Conditions []string `json:"conditions"`
			} `json:"conditionsModule"`
			ArmsInterventionsModule struct {
				Interventions []struct {
					Name string `json:"name"`
				} `json:"interventions"`
			} `json:"armsInterventionsModule"`
		} `json:"protocolSection"`
	} `json:"studies"`
}

// Normalize applies defaults and validates q.
func (q *TrialQuery) Normalize() error {
	q.Condition = strings.TrimSpace(q.Condition)
	q.Term = strings.TrimSpace(q.Term)
	if q.Condition == "" && q.Term == "" {
		return domain.NewValidationError("condition", "condition or term is required", nil)
	}
	q.Status = strings.ToUpper(strings.TrimSpace(q.Status))
	if q.Status == "" {
		q.Status = DefaultTrialStatus
	}
	if q.PageSize <= 0 {
		q.PageSize = DefaultTrialPageSize
	}
	if q.PageSize > MaxTrialPageSize {
		q.PageSize = MaxTrialPageSize
	}
	return nil
}

// Search returns studies matching q.
func (c *ClinicalTrialsClient) Search(ctx context.Context, q TrialQuery) ([]Trial, error) {
	if err := q.Normalize(); err != nil {
		return nil, err
	}

	key := fmt.Sprintf("%s:%s:%s:%s:%d", SourceClinicalTrials,
		strings.ToLower(q.Condition), strings.ToLower(q.Term), q.Status, q.PageSize)
	return cached(ctx, c.cache, c.rest.log, key, c.ttl, func() ([]Trial, error) {
		params := url.Values{
			"format":               {"json"},
			"pageSize":             {strconv.Itoa(q.PageSize)},
			"filter.overallStatus": {q.Status},
		}
		if q.Condition != "" {
			params.Set("query.cond", q.Condition)
		}
		if q.Term != "" {
			params.Set("query.term", q.Term)
		}

		var resp studiesResponse
		if err := c.rest.getJSON(ctx, "/api/v2/studies?"+params.Encode(), &resp); err != nil {
			return nil, fmt.Errorf("clinical trials search: %w", err)
		}

		out := make([]Trial, 0, len(resp.Studies))
		for _, s := range resp.Studies {
			p := s.ProtocolSection
			t := Trial{
				NCTID:       p.IdentificationModule.NCTID,
				Title:       p.IdentificationModule.BriefTitle,
				Status:      p.StatusModule.OverallStatus,
				Phases:      p.DesignModule.Phases,
				Conditions:  p.ConditionsModule.Conditions,
				LastUpdated: p.StatusModule.LastUpdatePostDate.Date,
				URL:         "https://clinicaltrials.gov/study/" + p.IdentificationModule.NCTID,
			}
			for _, iv := range p.ArmsInterventionsModule.Interventions {
				t.Interventions = append(t.Interventions, iv.Name)
			}
			out = append(out, t)
		}
		return out, nil
	})
}
