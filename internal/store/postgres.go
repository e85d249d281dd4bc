package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/andresmejia3/lookout/internal/classifier"
	"github.com/jackc/pgx/v5"
)

// PostgresStore keeps the classifier artifacts in a PostgreSQL table.
type PostgresStore struct {
	conn *pgx.Conn
}

// NewPostgres establishes a connection to the database and ensures the schema is initialized.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}

	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &PostgresStore{conn: conn}, nil
}

// initSchema creates the artifact table if it doesn't exist (Auto-Migration).
func initSchema(ctx context.Context, conn *pgx.Conn) error {
	_, err := conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS classifier_artifacts (
			name TEXT PRIMARY KEY,
			generation BIGINT NOT NULL,
			payload JSONB NOT NULL,
			updated_at TIMESTAMPTZ DEFAULT NOW()
		);
	`)
	return err
}

// Close terminates the database connection.
func (s *PostgresStore) Close(ctx context.Context) {
	s.conn.Close(ctx)
}

// Save upserts both artifacts in a single transaction.
func (s *PostgresStore) Save(ctx context.Context, m *classifier.Model, e *classifier.LabelEncoder) error {
	if err := checkPair(m, e); err != nil {
		return err
	}
	modelJSON, err := json.Marshal(m)
	if err != nil {
		return err
	}
	labelsJSON, err := json.Marshal(e)
	if err != nil {
		return err
	}

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	upsert := `
		INSERT INTO classifier_artifacts (name, generation, payload, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (name) DO UPDATE SET generation = EXCLUDED.generation, payload = EXCLUDED.payload, updated_at = NOW()
	`
	if _, err := tx.Exec(ctx, upsert, ClassifierArtifact, m.Generation, modelJSON); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, upsert, LabelEncoderArtifact, e.Generation, labelsJSON); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Load reads both artifacts. It returns ErrNotFound when either row is missing.
func (s *PostgresStore) Load(ctx context.Context) (*classifier.Model, *classifier.LabelEncoder, error) {
	var m classifier.Model
	if err := s.loadArtifact(ctx, ClassifierArtifact, &m); err != nil {
		return nil, nil, err
	}
	var e classifier.LabelEncoder
	if err := s.loadArtifact(ctx, LabelEncoderArtifact, &e); err != nil {
		return nil, nil, err
	}
	if err := checkPair(&m, &e); err != nil {
		return nil, nil, err
	}
	return &m, &e, nil
}

func (s *PostgresStore) loadArtifact(ctx context.Context, name string, v any) error {
	var payload []byte
	err := s.conn.QueryRow(ctx, "SELECT payload FROM classifier_artifacts WHERE name = $1", name).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorrupt, name, err)
	}
	return nil
}

// Delete removes both artifacts.
func (s *PostgresStore) Delete(ctx context.Context) error {
	_, err := s.conn.Exec(ctx, "DELETE FROM classifier_artifacts WHERE name IN ($1, $2)", ClassifierArtifact, LabelEncoderArtifact)
	return err
}

// Reset drops the artifact table so the next NewPostgres recreates it.
func (s *PostgresStore) Reset(ctx context.Context) error {
	_, err := s.conn.Exec(ctx, "DROP TABLE IF EXISTS classifier_artifacts CASCADE")
	return err
}
