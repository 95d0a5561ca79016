package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/resistance-prophet-server/internal/domain"
	"github.com/resistance-prophet-server/internal/guidelines"
	"github.com/resistance-prophet-server/internal/kinetics"
	"github.com/resistance-prophet-server/internal/pathway"
	"github.com/resistance-prophet-server/internal/profile"
	"github.com/resistance-prophet-server/internal/prophet"
	"github.com/resistance-prophet-server/internal/timing"
)

const tracerName = "github.com/resistance-prophet-server/internal/service"

// rawNamespace scopes the name-based IDs of stateless assessments.
var rawNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:resistance-prophet:assess-raw"))

// ProphetService ties the kinetics, pathway and fusion engines to patient
// profiles and assessment history.
type ProphetService struct {
	profiles    profile.Store
	assessments domain.AssessmentRepository
	model       *pathway.Model
	catalog     *guidelines.Catalog
	publisher   domain.AlertPublisher
	logger      *logrus.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

// NewProphetService creates the service. publisher may be nil.
func NewProphetService(
	profiles profile.Store,
	assessments domain.AssessmentRepository,
	model *pathway.Model,
	catalog *guidelines.Catalog,
	publisher domain.AlertPublisher,
	logger *logrus.Logger,
) *ProphetService {
	return &ProphetService{
		profiles:    profiles,
		assessments: assessments,
		model:       model,
		catalog:     catalog,
		publisher:   publisher,
		logger:      logger,
		tracer:      otel.Tracer(tracerName),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// ComputeKelim fits KELIM for a raw series.
func (s *ProphetService) ComputeKelim(ctx context.Context, in domain.KelimInput) (*domain.KelimResult, error) {
	_, span := s.tracer.Start(ctx, "ProphetService.ComputeKelim")
	defer span.End()

	if in.TreatmentStart.IsZero() {
		return nil, domain.NewValidationError("treatment_start", "treatment start is required", nil)
	}
	res := kinetics.Fit(in)
	span.SetAttributes(
		attribute.String("kelim.status", string(res.Status)),
		attribute.Int("kelim.measurements_used", res.MeasurementsUsed),
	)
	return &res, nil
}

// AssessRaw runs a stateless assessment. Nothing is persisted. The ID is a
// name-based UUID over the request with its assessment time filled in.
func (s *ProphetService) AssessRaw(ctx context.Context, req domain.AssessRequest) (*domain.RiskAssessment, error) {
	ctx, span := s.tracer.Start(ctx, "ProphetService.AssessRaw")
	defer span.End()

	if err := req.Validate(); err != nil {
		return nil, err
	}

	assessedAt := s.now()
	if req.AssessedAt != nil {
		assessedAt = req.AssessedAt.UTC()
	}
	req.AssessedAt = &assessedAt
	key, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding assessment request: %w", err)
	}

	in := s.buildInput(assessmentSource{
		disease:      req.Disease,
		measurements: req.Measurements,
		start:        req.TreatmentStart,
		baseline:     req.BaselineFeatures,
		current:      req.CurrentFeatures,
		regimen:      req.Regimen,
		line:         req.TreatmentLine,
	})
	in.ID = uuid.NewSHA1(rawNamespace, key).String()
	in.PatientID = req.PatientID
	in.AssessedAt = assessedAt

	a := prophet.Assess(in)
	span.SetAttributes(attribute.String("risk.level", string(a.Level)))
	s.logAssessment(&a)
	return &a, nil
}

// AssessPatient assesses a stored profile as of asOf (now when nil), stores
// the result and publishes it when the level is MEDIUM or higher.
func (s *ProphetService) AssessPatient(ctx context.Context, patientID string, asOf *time.Time) (*domain.RiskAssessment, error) {
	ctx, span := s.tracer.Start(ctx, "ProphetService.AssessPatient",
		trace.WithAttributes(attribute.String("patient.id", patientID)))
	defer span.End()

	p, err := s.profiles.Get(ctx, patientID)
	if err != nil {
		return nil, err
	}

	assessedAt := s.now()
	if asOf != nil {
		assessedAt = asOf.UTC()
	}
	p = p.KnownAt(assessedAt)

	src := assessmentSource{
		disease:      p.Disease,
		measurements: p.Measurements,
		baseline:     p.BaselineFeatures,
		current:      p.CurrentFeatures,
		regimen:      p.Regimen,
	}
	if line := p.CurrentLine(); line != nil {
		start := line.Start
		src.start = &start
		src.line = line.Line
		if src.regimen == "" {
			src.regimen = line.Regimen
		}
	}

	in := s.buildInput(src)
	in.ID = uuid.NewString()
	in.PatientID = p.ID
	in.AssessedAt = assessedAt

	a := prophet.Assess(in)
	if err := s.assessments.Save(ctx, &a); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("storing assessment: %w", err)
	}
	s.logAssessment(&a)

	if s.publisher != nil && a.Level.AtLeast(domain.RiskMedium) {
		s.publisher.Publish(&a)
	}
	return &a, nil
}

// Timing derives platinum and treatment-free intervals for a stored profile
// and relates them to the KELIM of the current line.
func (s *ProphetService) Timing(ctx context.Context, patientID string, asOf *time.Time) (*domain.TimingProfile, error) {
	ctx, span := s.tracer.Start(ctx, "ProphetService.Timing")
	defer span.End()

	p, err := s.profiles.Get(ctx, patientID)
	if err != nil {
		return nil, err
	}
	at := s.now()
	if asOf != nil {
		at = asOf.UTC()
	}
	p = p.KnownAt(at)

	var k *domain.KelimResult
	if line := p.CurrentLine(); line != nil {
		res := kinetics.Fit(domain.KelimInput{Measurements: p.Measurements, TreatmentStart: line.Start})
		k = &res
	}
	tp := timing.Profile(p.TreatmentLines, k, at)
	return &tp, nil
}

// History lists stored assessments for a patient, newest first.
func (s *ProphetService) History(ctx context.Context, patientID string, limit, offset int) ([]*domain.RiskAssessment, error) {
	if _, err := s.profiles.Get(ctx, patientID); err != nil {
		return nil, err
	}
	return s.assessments.ListByPatient(ctx, patientID, limit, offset)
}

// Assessment fetches one stored assessment.
func (s *ProphetService) Assessment(ctx context.Context, id string) (*domain.RiskAssessment, error) {
	return s.assessments.GetByID(ctx, id)
}

type assessmentSource struct {
	disease      string
	measurements []domain.Measurement
	start        *time.Time
	baseline     *domain.TumorFeatures
	current      *domain.TumorFeatures
	regimen      string
	line         int
}

// buildInput turns raw patient data into fusion input. A missing baseline is
// imputed from the disease population when current features exist.
func (s *ProphetService) buildInput(src assessmentSource) prophet.Input {
	in := prophet.Input{TreatmentLine: src.line}

	switch {
	case src.start != nil:
		res := kinetics.Fit(domain.KelimInput{Measurements: src.measurements, TreatmentStart: *src.start})
		in.Kelim = &res
	case len(src.measurements) > 0:
		in.Kelim = &domain.KelimResult{
			Status:       domain.KelimInsufficientData,
			Reason:       domain.ReasonNoTreatmentStart,
			ModelVersion: kinetics.ModelVersion,
		}
	}

	if src.current != nil {
		cur := s.model.Burden(src.current)
		in.Current = &cur
		in.CurrentCoverage = s.model.Coverage(src.current)

		if src.baseline != nil {
			base := s.model.Burden(src.baseline)
			in.Baseline = &base
			in.BaselineCoverage = s.model.Coverage(src.baseline)
		} else {
			base, exact := s.model.PopulationBaseline(src.disease)
			in.Baseline = &base
			in.BaselineImputed = true
			s.logger.WithFields(logrus.Fields{
				"disease":          src.disease,
				"population_exact": exact,
			}).Debug("Imputed baseline from population")
		}
	}

	if src.regimen != "" {
		mech, matched := s.catalog.Mechanism(src.regimen)
		in.Mechanism = mech
		if mech == nil {
			s.logger.WithField("regimen", src.regimen).Debug("Regimen has no known mechanism")
		} else {
			s.logger.WithFields(logrus.Fields{"regimen": src.regimen, "drugs": matched}).Debug("Resolved regimen mechanism")
		}
	}
	return in
}

func (s *ProphetService) logAssessment(a *domain.RiskAssessment) {
	s.logger.WithFields(logrus.Fields{
		"assessment_id":     a.ID,
		"patient_id":        a.PatientID,
		"level":             a.Level,
		"probability":       a.Probability,
		"confidence":        a.Confidence,
		"signals_detected":  a.SignalsDetected,
		"signals_evaluable": a.SignalsEvaluable,
	}).Info("Resistance assessment completed")
}
