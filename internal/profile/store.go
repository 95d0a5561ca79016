// Package profile stores longitudinal patient profiles: tumor-marker series,
// baseline and current tumor features, and treatment history.
package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/resistance-prophet-server/internal/domain"
)

// Store defines the interface for profile storage operations.
type Store interface {
	// Create stores a new profile, assigning an ID when empty.
	Create(ctx context.Context, p *domain.PatientProfile) error

	// Get retrieves a profile by ID.
	Get(ctx context.Context, id string) (*domain.PatientProfile, error)

	// Update replaces a stored profile.
	Update(ctx context.Context, p *domain.PatientProfile) error

	// Delete removes a profile.
	Delete(ctx context.Context, id string) error

	// List returns profiles ordered by creation time.
	List(ctx context.Context, limit, offset int) ([]*domain.PatientProfile, error)

	// AppendMeasurements adds marker values to a profile and returns it.
	AppendMeasurements(ctx context.Context, id string, ms []domain.Measurement) (*domain.PatientProfile, error)

	// Close releases resources.
	Close() error
}

// Pagination bounds for List.
const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// Driver names accepted by New.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// New opens the store selected by the profile configuration.
func New(cfg domain.ProfileConfig) (Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", DriverMemory:
		return NewMemoryStore(), nil
	case DriverSQLite:
		return NewSQLiteStore(cfg.SQLitePath)
	case DriverPostgres:
		return NewPostgresStoreFromURL(cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown profile driver %q", cfg.Driver)
	}
}

// document is the JSON payload stored alongside the indexed columns.
type document struct {
	Measurements     []domain.Measurement   `json:"measurements"`
	BaselineFeatures *domain.TumorFeatures  `json:"baseline_features,omitempty"`
	CurrentFeatures  *domain.TumorFeatures  `json:"current_features,omitempty"`
	TreatmentLines   []domain.TreatmentLine `json:"treatment_lines"`
}

func encodeDocument(p *domain.PatientProfile) ([]byte, error) {
	return json.Marshal(document{
		Measurements:     p.Measurements,
		BaselineFeatures: p.BaselineFeatures,
		CurrentFeatures:  p.CurrentFeatures,
		TreatmentLines:   p.TreatmentLines,
	})
}

func decodeDocument(data []byte, p *domain.PatientProfile) error {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to decode profile document: %w", err)
	}
	p.Measurements = doc.Measurements
	p.BaselineFeatures = doc.BaselineFeatures
	p.CurrentFeatures = doc.CurrentFeatures
	p.TreatmentLines = doc.TreatmentLines
	return nil
}

// prepareCreate validates a profile and stamps its ID and timestamps.
func prepareCreate(p *domain.PatientProfile, now time.Time) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	p.CreatedAt = now
	p.UpdatedAt = now
	sortMeasurements(p.Measurements)
	return nil
}

func prepareUpdate(p *domain.PatientProfile, now time.Time) error {
	if p.ID == "" {
		return domain.NewValidationError("id", "profile ID is required", p.ID)
	}
	if err := p.Validate(); err != nil {
		return err
	}
	p.UpdatedAt = now
	sortMeasurements(p.Measurements)
	return nil
}

func validateMeasurements(ms []domain.Measurement) error {
	if len(ms) == 0 {
		return domain.NewValidationError("measurements", "at least one measurement is required", nil)
	}
	for i, m := range ms {
		if m.Timestamp.IsZero() {
			return domain.NewValidationError(fmt.Sprintf("measurements[%d].timestamp", i), "timestamp is required", nil)
		}
	}
	return nil
}

func sortMeasurements(ms []domain.Measurement) {
	sort.SliceStable(ms, func(i, j int) bool { return ms[i].Timestamp.Before(ms[j].Timestamp) })
}

func normalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func notFound(id string) error {
	return fmt.Errorf("profile %s: %w", id, domain.ErrNotFound)
}

// Export is the JSON interchange format for profiles.
type Export struct {
	Version    string                   `json:"version"`
	ExportedAt time.Time                `json:"exported_at"`
	Count      int                      `json:"count"`
	Profiles   []*domain.PatientProfile `json:"profiles"`
}

// ExportJSON writes every profile in the store.
func ExportJSON(ctx context.Context, s Store, w io.Writer) error {
	var all []*domain.PatientProfile
	for offset := 0; ; offset += MaxListLimit {
		page, err := s.List(ctx, MaxListLimit, offset)
		if err != nil {
			return fmt.Errorf("failed to list profiles: %w", err)
		}
		all = append(all, page...)
		if len(page) < MaxListLimit {
			break
		}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(&Export{
		Version:    "1.0",
		ExportedAt: time.Now().UTC(),
		Count:      len(all),
		Profiles:   all,
	})
}

// ImportJSON loads profiles, skipping IDs that already exist.
func ImportJSON(ctx context.Context, s Store, r io.Reader) (imported, skipped int, err error) {
	var export Export
	if err := json.NewDecoder(r).Decode(&export); err != nil {
		return 0, 0, fmt.Errorf("failed to decode JSON: %w", err)
	}
	for _, p := range export.Profiles {
		if err := s.Create(ctx, p); err != nil {
			if errors.Is(err, domain.ErrAlreadyExists) {
				skipped++
				continue
			}
			return imported, skipped, fmt.Errorf("failed to import profile %s: %w", p.ID, err)
		}
		imported++
	}
	return imported, skipped, nil
}
