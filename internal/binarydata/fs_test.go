package binarydata

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmesh/flowmesh/pkg/schema"
)

func newTestStore(t *testing.T) *FSStore {
	t.Helper()
	s, err := NewFSStore(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestFSStore_PutGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	payload := []byte("hello binary world")

	ref, err := s.Put(ctx, "exec-1", Metadata{FileName: "greeting.txt", MimeType: "text/plain"}, bytes.NewReader(payload))
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(ref.ID, "fs:exec-1/"))
	assert.Equal(t, "greeting.txt", ref.FileName)
	assert.Equal(t, "text/plain", ref.MimeType)
	assert.Equal(t, int64(len(payload)), ref.FileSize)

	got, err := s.Get(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestFSStore_Stream(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	payload := []byte("streamed content")

	ref, err := s.Put(ctx, "exec-1", Metadata{}, bytes.NewReader(payload))
	require.NoError(t, err)

	rc, err := s.Stream(ctx, ref)
	require.NoError(t, err)
	defer rc.Close()

	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestFSStore_CopyRehomesIntoTargetExecution(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	payload := []byte("sub-workflow artifact")

	orig, err := s.Put(ctx, "sub-exec", Metadata{FileName: "out.bin", MimeType: "application/octet-stream"}, bytes.NewReader(payload))
	require.NoError(t, err)

	copied, err := s.Copy(ctx, orig, "parent-exec")
	require.NoError(t, err)

	assert.NotEqual(t, orig.ID, copied.ID)
	assert.True(t, strings.HasPrefix(copied.ID, "fs:parent-exec/"))
	assert.Equal(t, orig.FileName, copied.FileName)
	assert.Equal(t, orig.MimeType, copied.MimeType)

	got, err := s.Get(ctx, copied)
	require.NoError(t, err)
	assert.Equal(t, payload, got, "copy must be byte-identical")

	// The original stays readable until its execution's storage is reclaimed.
	got, err = s.Get(ctx, orig)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestFSStore_Delete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ref, err := s.Put(ctx, "exec-1", Metadata{}, bytes.NewReader([]byte("x")))
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, ref))

	_, err = s.Get(ctx, ref)
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeBinaryStore))

	// Deleting again is a no-op.
	assert.NoError(t, s.Delete(ctx, ref))
}

func TestFSStore_GetDetectsCorruption(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ref, err := s.Put(ctx, "exec-1", Metadata{}, bytes.NewReader([]byte("pristine")))
	require.NoError(t, err)

	name := strings.TrimPrefix(ref.ID, "fs:exec-1/")
	path := filepath.Join(s.root, "exec-1", name+".bin")
	require.NoError(t, os.WriteFile(path, []byte("tampered"), 0o640))

	_, err = s.Get(ctx, ref)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "integrity")
}

func TestFSStore_ParseIDRejectsMalformedReferences(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	bad := []string{
		"",
		"exec-1/name",
		"az:exec-1/name",
		"fs:exec-1",
		"fs:/name",
		"fs:exec-1/",
		"fs:../escape/name",
		`fs:exec-1\..\name`,
	}
	for _, id := range bad {
		_, err := s.Get(ctx, &schema.BinaryReference{ID: id})
		assert.Error(t, err, "id %q must be rejected", id)
	}
}

func TestFSStore_PutRequiresExecutionID(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Put(context.Background(), "", Metadata{}, bytes.NewReader(nil))
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeBinaryStore))
}
