package store

import (
	"context"
	"sync"
	"time"

	"github.com/flowmesh/flowmesh/pkg/schema"
)

// MemoryStore is an in-process ProcessedItemStore and CredentialStore used
// for manual executions and tests. Nothing survives a restart.
type MemoryStore struct {
	mu          sync.Mutex
	processed   map[scopeKey]map[string]struct{}
	credentials map[string]*CredentialRecord
}

type scopeKey struct {
	workflowID string
	nodeID     string
	contextKey string
}

func keyOf(scope DedupScope) scopeKey {
	return scopeKey{
		workflowID: scope.WorkflowID,
		nodeID:     scope.PartitionNodeID(),
		contextKey: scope.ContextKey,
	}
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		processed:   make(map[scopeKey]map[string]struct{}),
		credentials: make(map[string]*CredentialRecord),
	}
}

// CheckAndRecord classifies and records signatures under one lock, so a
// concurrent caller with the same signature sees it as already processed.
func (m *MemoryStore) CheckAndRecord(ctx context.Context, scope DedupScope, signatures []string) ([]string, []string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := keyOf(scope)
	set, ok := m.processed[key]
	if !ok {
		set = make(map[string]struct{})
		m.processed[key] = set
	}

	var newSigs, processed []string
	for _, sig := range signatures {
		if _, seen := set[sig]; seen {
			processed = append(processed, sig)
			continue
		}
		set[sig] = struct{}{}
		newSigs = append(newSigs, sig)
	}
	return newSigs, processed, nil
}

func (m *MemoryStore) Remove(ctx context.Context, scope DedupScope, signatures []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.processed[keyOf(scope)]
	if !ok {
		return nil
	}
	for _, sig := range signatures {
		delete(set, sig)
	}
	return nil
}

func (m *MemoryStore) Clear(ctx context.Context, scope DedupScope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.processed, keyOf(scope))
	return nil
}

func (m *MemoryStore) Count(ctx context.Context, scope DedupScope) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.processed[keyOf(scope)])), nil
}

func (m *MemoryStore) GetCredential(ctx context.Context, id string) (*CredentialRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.credentials[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeCredentials, "credential %q not found", id)
	}
	cp := *rec
	return &cp, nil
}

func (m *MemoryStore) PutCredential(ctx context.Context, rec *CredentialRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	cp := *rec
	m.credentials[rec.ID] = &cp
	return nil
}

func (m *MemoryStore) DeleteCredential(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.credentials[id]; !ok {
		return schema.NewErrorf(schema.ErrCodeStore, "credential %q not found", id)
	}
	delete(m.credentials, id)
	return nil
}

func (m *MemoryStore) ListCredentials(ctx context.Context, credType string) ([]*CredentialRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*CredentialRecord
	for _, rec := range m.credentials {
		if credType != "" && rec.Type != credType {
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}
	return out, nil
}

var (
	_ ProcessedItemStore = (*MemoryStore)(nil)
	_ CredentialStore    = (*MemoryStore)(nil)
)
