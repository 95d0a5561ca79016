// Package repository persists fused risk assessments.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/resistance-prophet-server/internal/domain"
)

// Page bounds shared by both implementations.
const (
	DefaultLimit = 20
	MaxLimit     = 200
)

// AssessmentRepository stores assessments in Postgres. The full assessment
// is kept as JSONB; level, probability and confidence are copied into
// columns for filtering.
type AssessmentRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

var _ domain.AssessmentRepository = (*AssessmentRepository)(nil)

// NewAssessmentRepository creates a Postgres-backed repository.
func NewAssessmentRepository(db *pgxpool.Pool, logger *logrus.Logger) *AssessmentRepository {
	return &AssessmentRepository{db: db, log: logger}
}

// Save upserts a by ID. A missing ID is generated.
func (r *AssessmentRepository) Save(ctx context.Context, a *domain.RiskAssessment) error {
	if a == nil {
		return domain.NewValidationError("assessment", "assessment is required", nil)
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}

	doc, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshaling assessment: %w", err)
	}

	query := `
		INSERT INTO risk_assessments (
			id, patient_id, level, probability, confidence, model_version, assessment, assessed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			patient_id = EXCLUDED.patient_id,
			level = EXCLUDED.level,
			probability = EXCLUDED.probability,
			confidence = EXCLUDED.confidence,
			model_version = EXCLUDED.model_version,
			assessment = EXCLUDED.assessment,
			assessed_at = EXCLUDED.assessed_at`

	_, err = r.db.Exec(ctx, query,
		a.ID,
		a.PatientID,
		string(a.Level),
		a.Probability,
		a.Confidence,
		a.ModelVersion,
		doc,
		a.AssessedAt,
	)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"assessment_id": a.ID,
			"patient_id":    a.PatientID,
			"error":         err,
		}).Error("Failed to save assessment")
		return fmt.Errorf("saving assessment: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"assessment_id": a.ID,
		"patient_id":    a.PatientID,
		"level":         a.Level,
		"confidence":    a.Confidence,
	}).Debug("Assessment saved")
	return nil
}

// GetByID returns one assessment or domain.ErrNotFound.
func (r *AssessmentRepository) GetByID(ctx context.Context, id string) (*domain.RiskAssessment, error) {
	var doc []byte
	err := r.db.QueryRow(ctx, `SELECT assessment FROM risk_assessments WHERE id = $1`, id).Scan(&doc)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("assessment %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("getting assessment: %w", err)
	}
	return decode(doc)
}

// ListByPatient returns a patient's assessments, newest first.
func (r *AssessmentRepository) ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]*domain.RiskAssessment, error) {
	limit, offset = normalizePage(limit, offset)

	rows, err := r.db.Query(ctx, `
		SELECT assessment FROM risk_assessments
		WHERE patient_id = $1
		ORDER BY assessed_at DESC, id
		LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing assessments: %w", err)
	}
	defer rows.Close()

	out := []*domain.RiskAssessment{}
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scanning assessment: %w", err)
		}
		a, err := decode(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating assessments: %w", err)
	}
	return out, nil
}

// CountByLevel returns how many stored assessments carry each level.
func (r *AssessmentRepository) CountByLevel(ctx context.Context) (map[domain.RiskLevel]int, error) {
	rows, err := r.db.Query(ctx, `SELECT level, COUNT(*) FROM risk_assessments GROUP BY level`)
	if err != nil {
		return nil, fmt.Errorf("counting assessments: %w", err)
	}
	defer rows.Close()

	out := map[domain.RiskLevel]int{}
	for rows.Next() {
		var level string
		var n int
		if err := rows.Scan(&level, &n); err != nil {
			return nil, fmt.Errorf("scanning level count: %w", err)
		}
		out[domain.RiskLevel(level)] = n
	}
	return out, rows.Err()
}

func decode(doc []byte) (*domain.RiskAssessment, error) {
	var a domain.RiskAssessment
	if err := json.Unmarshal(doc, &a); err != nil {
		return nil, fmt.Errorf("unmarshaling assessment: %w", err)
	}
	return &a, nil
}

func normalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
