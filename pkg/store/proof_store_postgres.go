package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/TheQuantumChronicle/cap402-sub002/pkg/policy"

	_ "github.com/lib/pq"
)

// PostgresProofStore is the shared multi-node backend.
type PostgresProofStore struct {
	db *sql.DB
}

func NewPostgresProofStore(db *sql.DB) (*PostgresProofStore, error) {
	s := &PostgresProofStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// OpenPostgresProofStore connects using a libpq DSN and runs migrations.
func OpenPostgresProofStore(dsn string) (*PostgresProofStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open proof database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping proof database: %w", err)
	}
	return NewPostgresProofStore(db)
}

func (s *PostgresProofStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS proofs (
		id TEXT PRIMARY KEY,
		request_id TEXT,
		capability_id TEXT NOT NULL,
		caller_id TEXT NOT NULL,
		steps JSONB NOT NULL,
		digest TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_proofs_caller ON proofs (caller_id, created_at);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *PostgresProofStore) Save(ctx context.Context, proof *policy.ComplianceProof) error {
	stepsJSON, err := json.Marshal(proof.Steps)
	if err != nil {
		return fmt.Errorf("encode proof steps: %w", err)
	}

	query := `INSERT INTO proofs (id, request_id, capability_id, caller_id, steps, digest, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`
	_, err = s.db.ExecContext(ctx, query,
		proof.ID, proof.RequestID, proof.CapabilityID, proof.CallerID,
		string(stepsJSON), proof.Digest, proof.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert proof: %w", err)
	}
	return nil
}

func (s *PostgresProofStore) Get(ctx context.Context, id string) (*policy.ComplianceProof, error) {
	query := `
		SELECT id, request_id, capability_id, caller_id, steps, digest, created_at
		FROM proofs
		WHERE id = $1`
	row := s.db.QueryRowContext(ctx, query, id)
	proof, err := scanPostgresProof(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProofNotFound
		}
		return nil, err
	}
	return proof, nil
}

func (s *PostgresProofStore) List(ctx context.Context, limit int) ([]*policy.ComplianceProof, error) {
	query := `
		SELECT id, request_id, capability_id, caller_id, steps, digest, created_at
		FROM proofs
		ORDER BY created_at DESC
		LIMIT $1`
	return s.queryMany(ctx, query, limit)
}

func (s *PostgresProofStore) ListByCaller(ctx context.Context, callerID string, limit int) ([]*policy.ComplianceProof, error) {
	query := `
		SELECT id, request_id, capability_id, caller_id, steps, digest, created_at
		FROM proofs
		WHERE caller_id = $1
		ORDER BY created_at DESC
		LIMIT $2`
	return s.queryMany(ctx, query, callerID, limit)
}

func (s *PostgresProofStore) Close() error {
	return s.db.Close()
}

func (s *PostgresProofStore) queryMany(ctx context.Context, query string, args ...any) ([]*policy.ComplianceProof, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var proofs []*policy.ComplianceProof
	for rows.Next() {
		proof, err := scanPostgresProof(rows.Scan)
		if err != nil {
			return nil, err
		}
		proofs = append(proofs, proof)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return proofs, nil
}

// scanPostgresProof differs from the SQLite scanner only in timestamp
// handling; lib/pq yields time.Time directly.
func scanPostgresProof(scan func(...any) error) (*policy.ComplianceProof, error) {
	var proof policy.ComplianceProof
	var (
		requestID sql.NullString
		stepsJSON []byte
	)
	if err := scan(&proof.ID, &requestID, &proof.CapabilityID, &proof.CallerID, &stepsJSON, &proof.Digest, &proof.CreatedAt); err != nil {
		return nil, err
	}
	proof.RequestID = requestID.String
	if len(stepsJSON) > 0 {
		if err := json.Unmarshal(stepsJSON, &proof.Steps); err != nil {
			return nil, fmt.Errorf("decode proof steps: %w", err)
		}
	}
	return &proof, nil
}
