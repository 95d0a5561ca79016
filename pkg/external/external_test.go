package external

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resistance-prophet-server/internal/domain"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.FatalLevel)
	return l
}

func memoryCache(t *testing.T) *TieredCache {
	t.Helper()
	c, err := NewTieredCache(domain.CacheConfig{LRUSize: 16, DefaultTTL: time.Hour}, testLogger())
	require.NoError(t, err)
	return c
}

func apiConfig(url string) domain.APIClientConfig {
	return domain.APIClientConfig{BaseURL: url, Timeout: 2 * time.Second, RateLimit: 1000, RetryCount: 2}
}

func TestEnsemblClient_Gene(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		switch r.URL.Path {
		case "/lookup/symbol/homo_sapiens/BRCA1":
			assert.Equal(t, "application/json", r.URL.Query().Get("content-type"))
			fmt.Fprint(w, `{"id":"ENSG00000012048","display_name":"BRCA1","description":"BRCA1 DNA repair associated",
				"biotype":"protein_coding","seq_region_name":"17","start":43044292,"end":43170245,"strand":-1,"assembly_name":"GRCh38"}`)
		default:
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":"No valid lookup found for symbol"}`)
		}
	}))
	defer srv.Close()

	c := NewEnsemblClient(apiConfig(srv.URL), memoryCache(t), testLogger())
	ctx := context.Background()

	g, err := c.Gene(ctx, " brca1 ")
	require.NoError(t, err)
	assert.Equal(t, "ENSG00000012048", g.EnsemblID)
	assert.Equal(t, "17", g.Chromosome)
	assert.Equal(t, -1, g.Strand)

	_, err = c.Gene(ctx, "BRCA1")
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load(), "second lookup served from cache")

	_, err = c.Gene(ctx, "NOTAGENE1")
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	_, err = c.Gene(ctx, "bad symbol!")
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
}

func TestClinVarClient_Search(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "clinvar", q.Get("db"))
		assert.Equal(t, "json", q.Get("retmode"))
		switch r.URL.Path {
		case "/esearch.fcgi":
			if q.Get("term") == `TP53[gene]` {
				fmt.Fprint(w, `{"esearchresult":{"count":"0","idlist":[]}}`)
				return
			}
			assert.Equal(t, `BRCA1[gene] AND "c.68_69del"[variant name]`, q.Get("term"))
			assert.Equal(t, "key-1", q.Get("api_key"))
			fmt.Fprint(w, `{"esearchresult":{"count":"2","idlist":["17661","55555"]}}`)
		case "/esummary.fcgi":
			assert.Equal(t, "17661,55555", q.Get("id"))
			fmt.Fprint(w, `{"result":{"uids":["17661","55555"],
				"17661":{"uid":"17661","title":"NM_007294.4(BRCA1):c.68_69del (p.Glu23fs)",
					"germline_classification":{"description":"Pathogenic","last_evaluated":"2024/02/01 00:00","review_status":"reviewed by expert panel"},
					"genes":[{"symbol":"BRCA1"}],"trait_set":[{"trait_name":"Hereditary breast ovarian cancer syndrome"}]},
				"55555":{"uid":"55555","title":"legacy record",
					"clinical_significance":{"description":"Conflicting classifications of pathogenicity","review_status":"criteria provided, conflicting classifications"}}}}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	cfg := apiConfig(srv.URL)
	cfg.APIKey = "key-1"
	c := NewClinVarClient(cfg, nil, testLogger())

	recs, err := c.Search(context.Background(), "BRCA1", "c.68_69del", 0)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	assert.Equal(t, "17661", recs[0].VariationID)
	assert.Equal(t, "Pathogenic", recs[0].ClinicalSignificance)
	assert.Equal(t, "reviewed by expert panel", recs[0].ReviewStatus)
	assert.Equal(t, []string{"BRCA1"}, recs[0].Genes)
	assert.Equal(t, []string{"Hereditary breast ovarian cancer syndrome"}, recs[0].Conditions)
	assert.Equal(t, domain.PATHOGENIC, recs[0].Classification())

	assert.Equal(t, "criteria provided, conflicting classifications", recs[1].ReviewStatus)
	assert.Equal(t, domain.VUS, recs[1].Classification())

	none, err := c.Search(context.Background(), "TP53", "", 3)
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestClinicalTrialsClient_Search(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v2/studies", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "ovarian cancer", q.Get("query.cond"))
		assert.Equal(t, "PARP", q.Get("query.term"))
		assert.Equal(t, "RECRUITING", q.Get("filter.overallStatus"))
		assert.Equal(t, "50", q.Get("pageSize"))
		fmt.Fprint(w, `{"studies":[{"protocolSection":{
			"identificationModule":{"nctId":"NCT01234567","briefTitle":"PARP after platinum"},
			"statusModule":{"overallStatus":"RECRUITING","lastUpdatePostDateStruct":{"date":"2025-01-10"}},
			"designModule":{"phases":["PHASE2"]},
			"conditionsModule":{"conditions":["Ovarian Cancer"]},
			"armsInterventionsModule":{"interventions":[{"name":"Olaparib"},{"name":"Cediranib"}]}}}]}`)
	}))
	defer srv.Close()

	c := NewClinicalTrialsClient(apiConfig(srv.URL), memoryCache(t), testLogger())
	trials, err := c.Search(context.Background(), TrialQuery{Condition: " ovarian cancer ", Term: "PARP", PageSize: 500})
	require.NoError(t, err)
	require.Len(t, trials, 1)
	assert.Equal(t, Trial{
		NCTID:         "NCT01234567",
		Title:         "PARP after platinum",
		Status:        "RECRUITING",
		Phases:        []string{"PHASE2"},
		Conditions:    []string{"Ovarian Cancer"},
		Interventions: []string{"Olaparib", "Cediranib"},
		LastUpdated:   "2025-01-10",
		URL:           "https://clinicaltrials.gov/study/NCT01234567",
	}, trials[0])

	_, err = c.Search(context.Background(), TrialQuery{})
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
}

func TestRESTClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"ok":true}`)
	}))
	defer srv.Close()

	rc := newRESTClient("test", "", apiConfig(srv.URL), 100, testLogger())
	rc.backoff = time.Millisecond

	var out struct{ OK bool }
	require.NoError(t, rc.getJSON(context.Background(), "/", &out))
	assert.True(t, out.OK)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRESTClient_BreakerOpens(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := apiConfig(srv.URL)
	cfg.RetryCount = 0
	rc := newRESTClient("flaky", "", cfg, 100, testLogger())

	var out map[string]interface{}
	for i := 0; i < 3; i++ {
		err := rc.getJSON(context.Background(), "/", &out)
		var se *StatusError
		require.True(t, errors.As(err, &se))
		assert.Equal(t, http.StatusInternalServerError, se.Status)
	}

	err := rc.getJSON(context.Background(), "/", &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "flaky unavailable")
	assert.Equal(t, int32(3), calls.Load())
}

func TestRESTClient_NotFoundDoesNotTrip(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	rc := newRESTClient("lookup", "", apiConfig(srv.URL), 100, testLogger())
	var out map[string]interface{}
	for i := 0; i < 5; i++ {
		err := rc.getJSON(context.Background(), "/", &out)
		var se *StatusError
		require.True(t, errors.As(err, &se))
		assert.True(t, se.NotFound())
	}
}
