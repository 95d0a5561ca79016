package profile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/resistance-prophet-server/internal/domain"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store on an embedded SQLite file.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStore opens (and if needed creates) the database file and schema.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer; also keeps ":memory:" on a single connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{db: db, dbPath: dbPath}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS patient_profiles (
		id TEXT PRIMARY KEY,
		disease TEXT NOT NULL,
		regimen TEXT NOT NULL DEFAULT '',
		document TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_patient_profiles_created_at ON patient_profiles(created_at);
	`)
	return err
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanProfile(s scanner) (*domain.PatientProfile, error) {
	p := &domain.PatientProfile{}
	var doc string
	if err := s.Scan(&p.ID, &p.Disease, &p.Regimen, &doc, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	if err := decodeDocument([]byte(doc), p); err != nil {
		return nil, err
	}
	return p, nil
}

const selectProfile = `SELECT id, disease, regimen, document, created_at, updated_at FROM patient_profiles`

func (s *SQLiteStore) Create(ctx context.Context, p *domain.PatientProfile) error {
	if err := prepareCreate(p, time.Now().UTC()); err != nil {
		return err
	}
	doc, err := encodeDocument(p)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO patient_profiles (id, disease, regimen, document, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, p.ID, p.Disease, p.Regimen, string(doc), p.CreatedAt, p.UpdatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("profile %s: %w", p.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("failed to insert profile: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*domain.PatientProfile, error) {
	p, err := scanProfile(s.db.QueryRowContext(ctx, selectProfile+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan profile: %w", err)
	}
	return p, nil
}

func (s *SQLiteStore) Update(ctx context.Context, p *domain.PatientProfile) error {
	if err := prepareUpdate(p, time.Now().UTC()); err != nil {
		return err
	}
	doc, err := encodeDocument(p)
	if err != nil {
		return err
	}

	var created time.Time
	err = s.db.QueryRowContext(ctx, `
		UPDATE patient_profiles SET disease = ?, regimen = ?, document = ?, updated_at = ?
		WHERE id = ?
		RETURNING created_at
	`, p.Disease, p.Regimen, string(doc), p.UpdatedAt, p.ID).Scan(&created)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound(p.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}
	p.CreatedAt = created.UTC()
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM patient_profiles WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete profile: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound(id)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context, limit, offset int) ([]*domain.PatientProfile, error) {
	limit, offset = normalizePage(limit, offset)
	rows, err := s.db.QueryContext(ctx, selectProfile+` ORDER BY created_at, id LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query profiles: %w", err)
	}
	defer rows.Close()

	out := []*domain.PatientProfile{}
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) AppendMeasurements(ctx context.Context, id string, ms []domain.Measurement) (*domain.PatientProfile, error) {
	if err := validateMeasurements(ms); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	p, err := scanProfile(tx.QueryRowContext(ctx, selectProfile+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan profile: %w", err)
	}

	p.Measurements = append(p.Measurements, ms...)
	sortMeasurements(p.Measurements)
	p.UpdatedAt = time.Now().UTC()
	doc, err := encodeDocument(p)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE patient_profiles SET document = ?, updated_at = ? WHERE id = ?`, string(doc), p.UpdatedAt, id); err != nil {
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return p, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
