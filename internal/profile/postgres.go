package profile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/resistance-prophet-server/internal/domain"
)

// uniqueViolation is the PostgreSQL SQLSTATE for duplicate keys.
const uniqueViolation = "23505"

// PostgresStore implements Store on PostgreSQL. The patient_profiles table is
// created by migrations.
type PostgresStore struct {
	db *sqlx.DB
}

type profileRow struct {
	ID        string    `db:"id"`
	Disease   string    `db:"disease"`
	Regimen   string    `db:"regimen"`
	Document  []byte    `db:"document"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r *profileRow) toDomain() (*domain.PatientProfile, error) {
	p := &domain.PatientProfile{
		ID:        r.ID,
		Disease:   r.Disease,
		Regimen:   r.Regimen,
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}
	if err := decodeDocument(r.Document, p); err != nil {
		return nil, err
	}
	return p, nil
}

// NewPostgresStore wraps an open connection.
func NewPostgresStore(db *sqlx.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromURL opens a pooled connection from a DSN.
func NewPostgresStoreFromURL(databaseURL string) (*PostgresStore, error) {
	db, err := sqlx.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	store, err := NewPostgresStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

const selectProfileRow = `SELECT id, disease, regimen, document, created_at, updated_at FROM patient_profiles`

func (s *PostgresStore) Create(ctx context.Context, p *domain.PatientProfile) error {
	if err := prepareCreate(p, time.Now().UTC()); err != nil {
		return err
	}
	doc, err := encodeDocument(p)
	if err != nil {
		return err
	}

	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO patient_profiles (id, disease, regimen, document, created_at, updated_at)
		VALUES (:id, :disease, :regimen, :document, :created_at, :updated_at)
	`, &profileRow{
		ID: p.ID, Disease: p.Disease, Regimen: p.Regimen, Document: doc,
		CreatedAt: p.CreatedAt, UpdatedAt: p.UpdatedAt,
	})
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("profile %s: %w", p.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("failed to insert profile: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*domain.PatientProfile, error) {
	var row profileRow
	err := s.db.GetContext(ctx, &row, selectProfileRow+` WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return row.toDomain()
}

func (s *PostgresStore) Update(ctx context.Context, p *domain.PatientProfile) error {
	if err := prepareUpdate(p, time.Now().UTC()); err != nil {
		return err
	}
	doc, err := encodeDocument(p)
	if err != nil {
		return err
	}

	var created time.Time
	err = s.db.QueryRowxContext(ctx, `
		UPDATE patient_profiles SET disease = $1, regimen = $2, document = $3, updated_at = $4
		WHERE id = $5
		RETURNING created_at
	`, p.Disease, p.Regimen, doc, p.UpdatedAt, p.ID).Scan(&created)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound(p.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}
	p.CreatedAt = created.UTC()
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM patient_profiles WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete profile: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound(id)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, limit, offset int) ([]*domain.PatientProfile, error) {
	limit, offset = normalizePage(limit, offset)
	var rows []profileRow
	if err := s.db.SelectContext(ctx, &rows, selectProfileRow+` ORDER BY created_at, id LIMIT $1 OFFSET $2`, limit, offset); err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	out := make([]*domain.PatientProfile, 0, len(rows))
	for i := range rows {
		p, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *PostgresStore) AppendMeasurements(ctx context.Context, id string, ms []domain.Measurement) (*domain.PatientProfile, error) {
	if err := validateMeasurements(ms); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var row profileRow
	err = tx.GetContext(ctx, &row, selectProfileRow+` WHERE id = $1 FOR UPDATE`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock profile: %w", err)
	}
	p, err := row.toDomain()
	if err != nil {
		return nil, err
	}

	p.Measurements = append(p.Measurements, ms...)
	sortMeasurements(p.Measurements)
	p.UpdatedAt = time.Now().UTC()
	doc, err := encodeDocument(p)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE patient_profiles SET document = $1, updated_at = $2 WHERE id = $3`, doc, p.UpdatedAt, id); err != nil {
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return p, nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
