package store

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLibSQL(t *testing.T) *LibSQLStore {
	t.Helper()
	dir := t.TempDir()
	s, err := NewLibSQLStore("file:" + dir + "/test.db")
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestLibSQL_CheckAndRecord(t *testing.T) {
	s := newTestLibSQL(t)
	ctx := context.Background()
	scope := DedupScope{Kind: ScopeNode, WorkflowID: "wf-1", NodeID: "Poll", ContextKey: "default"}

	newSigs, processed, err := s.CheckAndRecord(ctx, scope, []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, newSigs)
	assert.Empty(t, processed)

	newSigs, processed, err = s.CheckAndRecord(ctx, scope, []string{"a", "c"})
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, newSigs)
	assert.Equal(t, []string{"a"}, processed)
}

func TestLibSQL_CheckAndRecord_Concurrent(t *testing.T) {
	s := newTestLibSQL(t)
	ctx := context.Background()
	scope := DedupScope{Kind: ScopeNode, WorkflowID: "wf-1", NodeID: "Poll", ContextKey: "k"}

	const workers = 16
	var wins int64

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			newSigs, _, err := s.CheckAndRecord(ctx, scope, []string{"contested"})
			assert.NoError(t, err)
			if len(newSigs) == 1 {
				atomic.AddInt64(&wins, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), wins, "exactly one caller must own the signature")
}

func TestLibSQL_WorkflowScopeSharedAcrossNodes(t *testing.T) {
	s := newTestLibSQL(t)
	ctx := context.Background()

	fromA := DedupScope{Kind: ScopeWorkflow, WorkflowID: "wf-1", NodeID: "A", ContextKey: "k"}
	fromB := DedupScope{Kind: ScopeWorkflow, WorkflowID: "wf-1", NodeID: "B", ContextKey: "k"}

	newSigs, _, err := s.CheckAndRecord(ctx, fromA, []string{"sig"})
	require.NoError(t, err)
	assert.Len(t, newSigs, 1)

	_, processed, err := s.CheckAndRecord(ctx, fromB, []string{"sig"})
	require.NoError(t, err)
	assert.Equal(t, []string{"sig"}, processed)
}

func TestLibSQL_RemoveClearCount(t *testing.T) {
	s := newTestLibSQL(t)
	ctx := context.Background()
	scope := DedupScope{Kind: ScopeNode, WorkflowID: "wf-1", NodeID: "Poll", ContextKey: "k"}

	_, _, err := s.CheckAndRecord(ctx, scope, []string{"a", "b", "c"})
	require.NoError(t, err)

	require.NoError(t, s.Remove(ctx, scope, []string{"b"}))
	count, err := s.Count(ctx, scope)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	require.NoError(t, s.Clear(ctx, scope))
	count, err = s.Count(ctx, scope)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestLibSQL_CredentialCRUD(t *testing.T) {
	s := newTestLibSQL(t)
	ctx := context.Background()

	rec := &CredentialRecord{ID: "cred-1", Name: "API key", Type: "apiKey", Data: []byte("ciphertext")}
	require.NoError(t, s.PutCredential(ctx, rec))

	got, err := s.GetCredential(ctx, "cred-1")
	require.NoError(t, err)
	assert.Equal(t, "apiKey", got.Type)
	assert.Equal(t, []byte("ciphertext"), got.Data)

	// Upsert replaces the data.
	rec.Data = []byte("rotated")
	require.NoError(t, s.PutCredential(ctx, rec))
	got, err = s.GetCredential(ctx, "cred-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("rotated"), got.Data)

	list, err := s.ListCredentials(ctx, "apiKey")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, s.DeleteCredential(ctx, "cred-1"))
	_, err = s.GetCredential(ctx, "cred-1")
	assert.Error(t, err)
}

func TestLibSQL_MigrateIsIdempotent(t *testing.T) {
	s := newTestLibSQL(t)
	assert.NoError(t, s.Migrate(context.Background()))
}
