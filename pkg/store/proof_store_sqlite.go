package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/TheQuantumChronicle/cap402-sub002/pkg/policy"

	_ "modernc.org/sqlite"
)

// SQLiteProofStore is the durable single-node backend.
type SQLiteProofStore struct {
	db *sql.DB
}

func NewSQLiteProofStore(db *sql.DB) (*SQLiteProofStore, error) {
	s := &SQLiteProofStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// OpenSQLiteProofStore opens (or creates) a proof database at path. Use
// ":memory:" for an ephemeral store.
func OpenSQLiteProofStore(path string) (*SQLiteProofStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open proof database: %w", err)
	}
	// A single connection keeps in-memory databases coherent and avoids
	// SQLITE_BUSY under concurrent writers.
	db.SetMaxOpenConns(1)
	return NewSQLiteProofStore(db)
}

func (s *SQLiteProofStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS proofs (
		id TEXT PRIMARY KEY,
		request_id TEXT,
		capability_id TEXT NOT NULL,
		caller_id TEXT NOT NULL,
		steps JSON NOT NULL,
		digest TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_proofs_caller ON proofs (caller_id, created_at);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *SQLiteProofStore) Save(ctx context.Context, proof *policy.ComplianceProof) error {
	stepsJSON, err := json.Marshal(proof.Steps)
	if err != nil {
		return fmt.Errorf("encode proof steps: %w", err)
	}

	query := `INSERT INTO proofs (id, request_id, capability_id, caller_id, steps, digest, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`
	_, err = s.db.ExecContext(ctx, query,
		proof.ID, proof.RequestID, proof.CapabilityID, proof.CallerID,
		string(stepsJSON), proof.Digest, proof.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert proof: %w", err)
	}
	return nil
}

func (s *SQLiteProofStore) Get(ctx context.Context, id string) (*policy.ComplianceProof, error) {
	query := `
		SELECT id, request_id, capability_id, caller_id, steps, digest, created_at
		FROM proofs
		WHERE id = ?`
	row := s.db.QueryRowContext(ctx, query, id)
	proof, err := scanProof(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProofNotFound
		}
		return nil, err
	}
	return proof, nil
}

func (s *SQLiteProofStore) List(ctx context.Context, limit int) ([]*policy.ComplianceProof, error) {
	query := `
		SELECT id, request_id, capability_id, caller_id, steps, digest, created_at
		FROM proofs
		ORDER BY created_at DESC
		LIMIT ?`
	return s.queryMany(ctx, query, limit)
}

func (s *SQLiteProofStore) ListByCaller(ctx context.Context, callerID string, limit int) ([]*policy.ComplianceProof, error) {
	query := `
		SELECT id, request_id, capability_id, caller_id, steps, digest, created_at
		FROM proofs
		WHERE caller_id = ?
		ORDER BY created_at DESC
		LIMIT ?`
	return s.queryMany(ctx, query, callerID, limit)
}

func (s *SQLiteProofStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteProofStore) queryMany(ctx context.Context, query string, args ...any) ([]*policy.ComplianceProof, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var proofs []*policy.ComplianceProof
	for rows.Next() {
		proof, err := scanProof(rows.Scan)
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

func scanProof(scan func(...any) error) (*policy.ComplianceProof, error) {
	var (
		id           string
		requestID    sql.NullString
		capabilityID string
		callerID     string
		stepsJSON    string
		digest       string
		createdAt    string
	)
	if err := scan(&id, &requestID, &capabilityID, &callerID, &stepsJSON, &digest, &createdAt); err != nil {
		return nil, err
	}

	var steps []policy.ProofStep
	if stepsJSON != "" {
		if err := json.Unmarshal([]byte(stepsJSON), &steps); err != nil {
			return nil, fmt.Errorf("decode proof steps: %w", err)
		}
	}

	return &policy.ComplianceProof{
		ID:           id,
		RequestID:    requestID.String,
		CapabilityID: capabilityID,
		CallerID:     callerID,
		Steps:        steps,
		Digest:       digest,
		CreatedAt:    parseTime(createdAt),
	}, nil
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	return time.Time{}
}
