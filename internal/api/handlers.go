package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/resistance-prophet-server/internal/domain"
	"github.com/resistance-prophet-server/internal/middleware"
	"github.com/resistance-prophet-server/internal/report"
	"github.com/resistance-prophet-server/internal/repository"
	"github.com/resistance-prophet-server/internal/service"
	"github.com/resistance-prophet-server/pkg/external"
)

// ListResponse wraps a page of results.
type ListResponse struct {
	Items  interface{} `json:"items"`
	Count  int         `json:"count"`
	Limit  int         `json:"limit,omitempty"`
	Offset int         `json:"offset,omitempty"`
}

// MeasurementsRequest appends marker values to a profile.
type MeasurementsRequest struct {
	Measurements []domain.Measurement `json:"measurements" binding:"required"`
}

// AssessPatientRequest optionally pins the assessment date.
type AssessPatientRequest struct {
	AsOf *time.Time `json:"as_of,omitempty"`
}

func (s *Server) handleKelim(c *gin.Context) {
	var in domain.KelimInput
	if err := c.ShouldBindJSON(&in); err != nil {
		s.badRequest(c, err)
		return
	}
	res, err := s.deps.Prophet.ComputeKelim(c.Request.Context(), in)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleAssessRaw(c *gin.Context) {
	var req domain.AssessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	a, err := s.deps.Prophet.AssessRaw(c.Request.Context(), req)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (s *Server) handleCreatePatient(c *gin.Context) {
	var p domain.PatientProfile
	if err := c.ShouldBindJSON(&p); err != nil {
		s.badRequest(c, err)
		return
	}
	if err := s.deps.Profiles.Create(c.Request.Context(), &p); err != nil {
		s.respondError(c, err)
		return
	}
	c.Header("Location", "/api/v1/patients/"+p.ID)
	c.JSON(http.StatusCreated, p)
}

func (s *Server) handleListPatients(c *gin.Context) {
	limit, offset, err := pageParams(c)
	if err != nil {
		s.respondError(c, err)
		return
	}
	profiles, err := s.deps.Profiles.List(c.Request.Context(), limit, offset)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ListResponse{Items: profiles, Count: len(profiles), Limit: limit, Offset: offset})
}

func (s *Server) handleGetPatient(c *gin.Context) {
	p, err := s.deps.Profiles.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) handleUpdatePatient(c *gin.Context) {
	var p domain.PatientProfile
	if err := c.ShouldBindJSON(&p); err != nil {
		s.badRequest(c, err)
		return
	}
	if p.ID != "" && p.ID != c.Param("id") {
		s.respondError(c, domain.NewValidationError("id", "body ID does not match path", p.ID))
		return
	}
	p.ID = c.Param("id")
	if err := s.deps.Profiles.Update(c.Request.Context(), &p); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) handleDeletePatient(c *gin.Context) {
	if err := s.deps.Profiles.Delete(c.Request.Context(), c.Param("id")); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleAppendMeasurements(c *gin.Context) {
	var req MeasurementsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	p, err := s.deps.Profiles.AppendMeasurements(c.Request.Context(), c.Param("id"), req.Measurements)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) handleAssessPatient(c *gin.Context) {
	var req AssessPatientRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			s.badRequest(c, err)
			return
		}
	}
	a, err := s.deps.Prophet.AssessPatient(c.Request.Context(), c.Param("id"), req.AsOf)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.Header("Location", "/api/v1/assessments/"+a.ID)
	c.JSON(http.StatusCreated, a)
}

func (s *Server) handleHistory(c *gin.Context) {
	limit, offset, err := pageParams(c)
	if err != nil {
		s.respondError(c, err)
		return
	}
	history, err := s.deps.Prophet.History(c.Request.Context(), c.Param("id"), limit, offset)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ListResponse{Items: history, Count: len(history), Limit: limit, Offset: offset})
}

func (s *Server) handleGetAssessment(c *gin.Context) {
	a, err := s.deps.Prophet.Assessment(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (s *Server) handleTiming(c *gin.Context) {
	asOf, err := asOfParam(c)
	if err != nil {
		s.respondError(c, err)
		return
	}
	tp, err := s.deps.Prophet.Timing(c.Request.Context(), c.Param("id"), asOf)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, tp)
}

func (s *Server) handleReport(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	p, err := s.deps.Profiles.Get(ctx, id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	in := report.Input{Profile: p}
	history, err := s.deps.Prophet.History(ctx, id, 1, 0)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if len(history) > 0 {
		in.Assessment = history[0]
	}
	if tp, err := s.deps.Prophet.Timing(ctx, id, nil); err == nil {
		in.Timing = tp
	} else {
		s.logger.WithError(err).WithField("patient_id", id).Warn("Timing unavailable for report")
	}

	md, err := report.Markdown(in)
	if err != nil {
		s.respondError(c, err)
		return
	}
	switch strings.ToLower(c.DefaultQuery("format", "markdown")) {
	case "markdown", "md":
		c.Data(http.StatusOK, "text/markdown; charset=utf-8", md)
	case "html":
		c.Data(http.StatusOK, "text/html; charset=utf-8", report.HTML(md))
	default:
		s.respondError(c, domain.NewValidationError("format", "must be markdown or html", c.Query("format")))
	}
}

func (s *Server) handleExport(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	p, err := s.deps.Profiles.Get(ctx, id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	history, err := s.deps.Prophet.History(ctx, id, repository.MaxLimit, 0)
	if err != nil {
		s.respondError(c, err)
		return
	}

	var buf bytes.Buffer
	if err := report.WriteXLSX(&buf, p, history); err != nil {
		s.respondError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="patient-%s.xlsx"`, id))
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", buf.Bytes())
}

func (s *Server) handleClassify(c *gin.Context) {
	var req domain.ClassificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	res, err := s.deps.Variants.Classify(c.Request.Context(), req)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleAnnotate(c *gin.Context) {
	var req service.AnnotateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	res, err := s.deps.Variants.Annotate(c.Request.Context(), req)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleTrials(c *gin.Context) {
	var q external.TrialQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		s.badRequest(c, err)
		return
	}
	trials, err := s.deps.Variants.Trials(c.Request.Context(), q)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ListResponse{Items: trials, Count: len(trials)})
}

func (s *Server) handleGuidelines(c *gin.Context) {
	res, err := s.deps.Guidelines.Lookup(c.Request.Context(), c.Query("disease"), c.Query("biomarker"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleRankDrugs(c *gin.Context) {
	var req service.RankRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	res, err := s.deps.Guidelines.RankDrugs(c.Request.Context(), req)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleStream(c *gin.Context) {
	if s.deps.Hub == nil {
		middleware.AbortWithError(c, http.StatusNotFound, domain.ErrCodeNotFound, "alert stream disabled", "")
		return
	}
	s.deps.Hub.ServeHTTP(c.Writer, c.Request)
}

func pageParams(c *gin.Context) (int, int, error) {
	limit, err := intQuery(c, "limit")
	if err != nil {
		return 0, 0, err
	}
	offset, err := intQuery(c, "offset")
	if err != nil {
		return 0, 0, err
	}
	return limit, offset, nil
}

func intQuery(c *gin.Context, name string) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, domain.NewValidationError(name, "must be a non-negative integer", raw)
	}
	return n, nil
}

// asOfParam accepts RFC 3339 timestamps or plain dates.
func asOfParam(c *gin.Context) (*time.Time, error) {
	raw := c.Query("as_of")
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, domain.NewValidationError("as_of", "must be RFC 3339 or YYYY-MM-DD", raw)
}
