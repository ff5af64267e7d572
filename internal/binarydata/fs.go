package binarydata

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/flowmesh/flowmesh/pkg/schema"
)

const fsIDPrefix = "fs:"

// FSStore keeps payloads on the local filesystem, one directory per
// execution. Each payload has a content file and a JSON sidecar carrying
// metadata and a sha256 digest that Get verifies on read.
type FSStore struct {
	root string
}

// sidecar is the on-disk metadata record next to each payload.
type sidecar struct {
	FileName string `json:"file_name,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	NodeName string `json:"node_name,omitempty"`
	FileSize int64  `json:"file_size"`
	SHA256   string `json:"sha256"`
}

// NewFSStore creates a filesystem store rooted at the given directory.
func NewFSStore(root string) (*FSStore, error) {
	if root == "" {
		return nil, schema.NewError(schema.ErrCodeBinaryStore, "storage root is required")
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeBinaryStore, "create storage root: %s", err.Error()).WithCause(err)
	}
	return &FSStore{root: root}, nil
}

func (s *FSStore) Put(ctx context.Context, executionID string, meta Metadata, r io.Reader) (*schema.BinaryReference, error) {
	if executionID == "" {
		return nil, schema.NewError(schema.ErrCodeBinaryStore, "execution id is required")
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeBinaryStore, "read payload: %s", err.Error()).WithCause(err)
	}

	dir := filepath.Join(s.root, executionID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeBinaryStore, "create execution dir: %s", err.Error()).WithCause(err)
	}

	name := uuid.NewString()
	sum := sha256.Sum256(data)
	sc := sidecar{
		FileName: meta.FileName,
		MimeType: meta.MimeType,
		NodeName: meta.NodeName,
		FileSize: int64(len(data)),
		SHA256:   hex.EncodeToString(sum[:]),
	}

	if err := os.WriteFile(filepath.Join(dir, name+".bin"), data, 0o640); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeBinaryStore, "write payload: %s", err.Error()).WithCause(err)
	}
	scJSON, _ := json.Marshal(sc)
	if err := os.WriteFile(filepath.Join(dir, name+".json"), scJSON, 0o640); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeBinaryStore, "write metadata: %s", err.Error()).WithCause(err)
	}

	return &schema.BinaryReference{
		ID:       fsIDPrefix + executionID + "/" + name,
		FileName: meta.FileName,
		MimeType: meta.MimeType,
		FileSize: int64(len(data)),
	}, nil
}

func (s *FSStore) Get(ctx context.Context, ref *schema.BinaryReference) ([]byte, error) {
	executionID, name, err := s.parseID(ref)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(s.root, executionID, name+".bin"))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeBinaryStore, "read payload %s: %s", ref.ID, err.Error()).WithCause(err)
	}

	sc, err := s.readSidecar(executionID, name)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(data)
	if hex.EncodeToString(sum[:]) != sc.SHA256 {
		return nil, schema.NewErrorf(schema.ErrCodeBinaryStore, "payload %s failed integrity check", ref.ID)
	}

	return data, nil
}

func (s *FSStore) Stream(ctx context.Context, ref *schema.BinaryReference) (io.ReadCloser, error) {
	executionID, name, err := s.parseID(ref)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(s.root, executionID, name+".bin"))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeBinaryStore, "open payload %s: %s", ref.ID, err.Error()).WithCause(err)
	}
	return f, nil
}

func (s *FSStore) Copy(ctx context.Context, ref *schema.BinaryReference, targetExecutionID string) (*schema.BinaryReference, error) {
	executionID, name, err := s.parseID(ref)
	if err != nil {
		return nil, err
	}
	sc, err := s.readSidecar(executionID, name)
	if err != nil {
		return nil, err
	}
	data, err := s.Get(ctx, ref)
	if err != nil {
		return nil, err
	}
	return s.Put(ctx, targetExecutionID, Metadata{FileName: sc.FileName, MimeType: sc.MimeType}, bytes.NewReader(data))
}

func (s *FSStore) Delete(ctx context.Context, ref *schema.BinaryReference) error {
	executionID, name, err := s.parseID(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(s.root, executionID, name+".bin")); err != nil && !os.IsNotExist(err) {
		return schema.NewErrorf(schema.ErrCodeBinaryStore, "delete payload %s: %s", ref.ID, err.Error()).WithCause(err)
	}
	if err := os.Remove(filepath.Join(s.root, executionID, name+".json")); err != nil && !os.IsNotExist(err) {
		return schema.NewErrorf(schema.ErrCodeBinaryStore, "delete metadata %s: %s", ref.ID, err.Error()).WithCause(err)
	}
	return nil
}

func (s *FSStore) readSidecar(executionID, name string) (*sidecar, error) {
	raw, err := os.ReadFile(filepath.Join(s.root, executionID, name+".json"))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeBinaryStore, "read metadata: %s", err.Error()).WithCause(err)
	}
	sc := &sidecar{}
	if err := json.Unmarshal(raw, sc); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeBinaryStore, "parse metadata: %s", err.Error()).WithCause(err)
	}
	return sc, nil
}

// parseID splits "fs:<executionID>/<name>" and rejects path traversal.
func (s *FSStore) parseID(ref *schema.BinaryReference) (executionID, name string, err error) {
	if ref == nil || ref.ID == "" {
		return "", "", schema.NewError(schema.ErrCodeBinaryStore, "binary reference is required")
	}
	if !strings.HasPrefix(ref.ID, fsIDPrefix) {
		return "", "", schema.NewErrorf(schema.ErrCodeBinaryStore, "reference %q does not belong to the filesystem store", ref.ID)
	}
	rest := strings.TrimPrefix(ref.ID, fsIDPrefix)
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", schema.NewErrorf(schema.ErrCodeBinaryStore, "malformed reference %q", ref.ID)
	}
	for _, p := range parts {
		if strings.Contains(p, "..") || strings.ContainsAny(p, `/\`) {
			return "", "", schema.NewErrorf(schema.ErrCodeBinaryStore, "malformed reference %q", ref.ID)
		}
	}
	return parts[0], parts[1], nil
}

var _ Store = (*FSStore)(nil)
