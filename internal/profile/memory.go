package profile

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/resistance-prophet-server/internal/domain"
)

// MemoryStore keeps profiles in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	profiles map[string]*domain.PatientProfile
	now      func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		profiles: make(map[string]*domain.PatientProfile),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Create(_ context.Context, p *domain.PatientProfile) error {
	if err := prepareCreate(p, s.now()); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[p.ID]; ok {
		return fmt.Errorf("profile %s: %w", p.ID, domain.ErrAlreadyExists)
	}
	stored, err := clone(p)
	if err != nil {
		return err
	}
	s.profiles[p.ID] = stored
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*domain.PatientProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[id]
	if !ok {
		return nil, notFound(id)
	}
	return clone(p)
}

func (s *MemoryStore) Update(_ context.Context, p *domain.PatientProfile) error {
	if err := prepareUpdate(p, s.now()); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.profiles[p.ID]
	if !ok {
		return notFound(p.ID)
	}
	p.CreatedAt = existing.CreatedAt
	stored, err := clone(p)
	if err != nil {
		return err
	}
	s.profiles[p.ID] = stored
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[id]; !ok {
		return notFound(id)
	}
	delete(s.profiles, id)
	return nil
}

func (s *MemoryStore) List(_ context.Context, limit, offset int) ([]*domain.PatientProfile, error) {
	limit, offset = normalizePage(limit, offset)

	s.mu.RLock()
	defer s.mu.RUnlock()
	all := make([]*domain.PatientProfile, 0, len(s.profiles))
	for _, p := range s.profiles {
		all = append(all, p)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})

	out := []*domain.PatientProfile{}
	for i := offset; i < len(all) && len(out) < limit; i++ {
		c, err := clone(all[i])
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// AppendMeasurements stores a new copy of the profile; entries in the map
// are never modified in place.
func (s *MemoryStore) AppendMeasurements(_ context.Context, id string, ms []domain.Measurement) (*domain.PatientProfile, error) {
	if err := validateMeasurements(ms); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.profiles[id]
	if !ok {
		return nil, notFound(id)
	}
	p, err := clone(existing)
	if err != nil {
		return nil, err
	}
	p.Measurements = append(p.Measurements, ms...)
	sortMeasurements(p.Measurements)
	p.UpdatedAt = s.now()
	s.profiles[id] = p
	return clone(p)
}

func (s *MemoryStore) Close() error {
	return nil
}

// clone deep-copies a profile through its stored document.
func clone(p *domain.PatientProfile) (*domain.PatientProfile, error) {
	data, err := encodeDocument(p)
	if err != nil {
		return nil, fmt.Errorf("failed to copy profile: %w", err)
	}
	out := &domain.PatientProfile{
		ID:        p.ID,
		Disease:   p.Disease,
		Regimen:   p.Regimen,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
	if err := decodeDocument(data, out); err != nil {
		return nil, err
	}
	return out, nil
}
