package store

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nodeScope() DedupScope {
	return DedupScope{Kind: ScopeNode, WorkflowID: "wf-1", NodeID: "Poll", ContextKey: "default"}
}

func TestCheckAndRecord_FirstNewThenProcessed(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	newSigs, processed, err := m.CheckAndRecord(ctx, nodeScope(), []string{"sig-1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"sig-1"}, newSigs)
	assert.Empty(t, processed)

	newSigs, processed, err = m.CheckAndRecord(ctx, nodeScope(), []string{"sig-1"})
	require.NoError(t, err)
	assert.Empty(t, newSigs)
	assert.Equal(t, []string{"sig-1"}, processed)
}

func TestCheckAndRecord_BatchPreservesOrder(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	_, _, err := m.CheckAndRecord(ctx, nodeScope(), []string{"b"})
	require.NoError(t, err)

	newSigs, processed, err := m.CheckAndRecord(ctx, nodeScope(), []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, newSigs)
	assert.Equal(t, []string{"b"}, processed)
}

func TestCheckAndRecord_RacingCallersAtomicity(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	const workers = 32
	var wins int64

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			newSigs, _, err := m.CheckAndRecord(ctx, nodeScope(), []string{"contested"})
			assert.NoError(t, err)
			if len(newSigs) == 1 {
				atomic.AddInt64(&wins, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), wins, "exactly one caller must see the signature as new")
}

func TestCheckAndRecord_ScopesAreIsolated(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	scopeA := DedupScope{Kind: ScopeNode, WorkflowID: "wf-1", NodeID: "A", ContextKey: "k"}
	scopeB := DedupScope{Kind: ScopeNode, WorkflowID: "wf-1", NodeID: "B", ContextKey: "k"}

	newSigs, _, err := m.CheckAndRecord(ctx, scopeA, []string{"sig"})
	require.NoError(t, err)
	assert.Len(t, newSigs, 1)

	newSigs, _, err = m.CheckAndRecord(ctx, scopeB, []string{"sig"})
	require.NoError(t, err)
	assert.Len(t, newSigs, 1, "node scopes must not share signatures")
}

func TestCheckAndRecord_WorkflowScopeSharesAcrossNodes(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	fromNodeA := DedupScope{Kind: ScopeWorkflow, WorkflowID: "wf-1", NodeID: "A", ContextKey: "k"}
	fromNodeB := DedupScope{Kind: ScopeWorkflow, WorkflowID: "wf-1", NodeID: "B", ContextKey: "k"}

	newSigs, _, err := m.CheckAndRecord(ctx, fromNodeA, []string{"sig"})
	require.NoError(t, err)
	assert.Len(t, newSigs, 1)

	_, processed, err := m.CheckAndRecord(ctx, fromNodeB, []string{"sig"})
	require.NoError(t, err)
	assert.Equal(t, []string{"sig"}, processed, "workflow scope is shared across nodes")
}

func TestRemove_ScopedRollback(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	_, _, err := m.CheckAndRecord(ctx, nodeScope(), []string{"a", "b"})
	require.NoError(t, err)

	require.NoError(t, m.Remove(ctx, nodeScope(), []string{"a"}))

	newSigs, _, err := m.CheckAndRecord(ctx, nodeScope(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, newSigs)
}

func TestClearAndCount(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _, err := m.CheckAndRecord(ctx, nodeScope(), []string{fmt.Sprintf("sig-%d", i)})
		require.NoError(t, err)
	}

	count, err := m.Count(ctx, nodeScope())
	require.NoError(t, err)
	assert.Equal(t, int64(5), count)

	require.NoError(t, m.Clear(ctx, nodeScope()))

	count, err = m.Count(ctx, nodeScope())
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

// --- credentials ---

func TestCredentialRoundTrip(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	rec := &CredentialRecord{ID: "cred-1", Name: "API key", Type: "apiKey", Data: []byte("ciphertext")}
	require.NoError(t, m.PutCredential(ctx, rec))

	got, err := m.GetCredential(ctx, "cred-1")
	require.NoError(t, err)
	assert.Equal(t, "apiKey", got.Type)
	assert.Equal(t, []byte("ciphertext"), got.Data)
	assert.False(t, got.CreatedAt.IsZero())

	list, err := m.ListCredentials(ctx, "apiKey")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, m.DeleteCredential(ctx, "cred-1"))
	_, err = m.GetCredential(ctx, "cred-1")
	assert.Error(t, err)
}

func TestGetCredential_ReturnsCopy(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, m.PutCredential(ctx, &CredentialRecord{ID: "cred-1", Type: "apiKey"}))

	got, err := m.GetCredential(ctx, "cred-1")
	require.NoError(t, err)
	got.Type = "mutated"

	again, err := m.GetCredential(ctx, "cred-1")
	require.NoError(t, err)
	assert.Equal(t, "apiKey", again.Type)
}
