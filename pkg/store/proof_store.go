// Package store persists compliance proofs across the backends the dispatch
// core supports. SQLite serves single-node deployments and tests; Postgres
// serves shared installations.
package store

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/TheQuantumChronicle/cap402-sub002/pkg/policy"
)

var ErrProofNotFound = errors.New("proof not found")

// ProofStore persists and retrieves sealed compliance proofs.
type ProofStore interface {
	Save(ctx context.Context, proof *policy.ComplianceProof) error
	Get(ctx context.Context, id string) (*policy.ComplianceProof, error)
	List(ctx context.Context, limit int) ([]*policy.ComplianceProof, error)
	ListByCaller(ctx context.Context, callerID string, limit int) ([]*policy.ComplianceProof, error)
}

// MemoryProofStore is a thread-safe in-memory implementation for tests and
// ephemeral deployments.
type MemoryProofStore struct {
	mu     sync.RWMutex
	byID   map[string]*policy.ComplianceProof
	sorted []*policy.ComplianceProof
}

func NewMemoryProofStore() *MemoryProofStore {
	return &MemoryProofStore{byID: make(map[string]*policy.ComplianceProof)}
}

func (s *MemoryProofStore) Save(_ context.Context, proof *policy.ComplianceProof) error {
	if proof == nil || proof.ID == "" {
		return errors.New("proof id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[proof.ID]; ok {
		return nil
	}
	s.byID[proof.ID] = proof
	s.sorted = append(s.sorted, proof)
	return nil
}

func (s *MemoryProofStore) Get(_ context.Context, id string) (*policy.ComplianceProof, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	proof, ok := s.byID[id]
	if !ok {
		return nil, ErrProofNotFound
	}
	return proof, nil
}

func (s *MemoryProofStore) List(_ context.Context, limit int) ([]*policy.ComplianceProof, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(limit, func(*policy.ComplianceProof) bool { return true }), nil
}

func (s *MemoryProofStore) ListByCaller(_ context.Context, callerID string, limit int) ([]*policy.ComplianceProof, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(limit, func(p *policy.ComplianceProof) bool { return p.CallerID == callerID }), nil
}

// collect returns matches newest first. Callers hold the read lock.
func (s *MemoryProofStore) collect(limit int, match func(*policy.ComplianceProof) bool) []*policy.ComplianceProof {
	var out []*policy.ComplianceProof
	for _, p := range s.sorted {
		if match(p) {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
