package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/resistance-prophet-server/internal/domain"
)

// MemoryRepository keeps assessments in process. Stored values are deep
// copies so callers cannot mutate history.
type MemoryRepository struct {
	mu   sync.RWMutex
	byID map[string][]byte
	meta map[string]domain.RiskAssessment
}

var _ domain.AssessmentRepository = (*MemoryRepository)(nil)

// NewMemoryRepository returns an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID: make(map[string][]byte),
		meta: make(map[string]domain.RiskAssessment),
	}
}

// Save stores a copy of a, replacing any assessment with the same ID.
func (r *MemoryRepository) Save(_ context.Context, a *domain.RiskAssessment) error {
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

	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[a.ID] = doc
	r.meta[a.ID] = domain.RiskAssessment{ID: a.ID, PatientID: a.PatientID, Level: a.Level, AssessedAt: a.AssessedAt}
	return nil
}

// GetByID returns one assessment or domain.ErrNotFound.
func (r *MemoryRepository) GetByID(_ context.Context, id string) (*domain.RiskAssessment, error) {
	r.mu.RLock()
	doc, ok := r.byID[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("assessment %s: %w", id, domain.ErrNotFound)
	}
	return decode(doc)
}

// ListByPatient returns a patient's assessments, newest first.
func (r *MemoryRepository) ListByPatient(_ context.Context, patientID string, limit, offset int) ([]*domain.RiskAssessment, error) {
	limit, offset = normalizePage(limit, offset)

	r.mu.RLock()
	var matched []domain.RiskAssessment
	for _, m := range r.meta {
		if m.PatientID == patientID {
			matched = append(matched, m)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].AssessedAt.Equal(matched[j].AssessedAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].AssessedAt.After(matched[j].AssessedAt)
	})

	out := []*domain.RiskAssessment{}
	for i := offset; i < len(matched) && len(out) < limit; i++ {
		a, err := decode(r.byID[matched[i].ID])
		if err != nil {
			r.mu.RUnlock()
			return nil, err
		}
		out = append(out, a)
	}
	r.mu.RUnlock()
	return out, nil
}

// CountByLevel returns how many stored assessments carry each level.
func (r *MemoryRepository) CountByLevel(_ context.Context) (map[domain.RiskLevel]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := map[domain.RiskLevel]int{}
	for _, m := range r.meta {
		out[m.Level]++
	}
	return out, nil
}
