package execution

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/flowmesh/flowmesh/internal/binarydata"
	"github.com/flowmesh/flowmesh/pkg/schema"
)

// BinaryData reads the full payload behind a reference.
func (c *Context) BinaryData(ctx context.Context, ref *schema.BinaryReference) ([]byte, error) {
	if ref == nil {
		return nil, schema.NewError(schema.ErrCodeBinaryMissing,
			"binary reference is nil").WithNode(c.node.Name)
	}
	if c.binaryStore == nil {
		return nil, schema.NewError(schema.ErrCodeBinaryStore,
			"no binary store configured").WithNode(c.node.Name)
	}
	return c.binaryStore.Get(ctx, ref)
}

// BinaryStream opens the payload behind a reference for streaming reads. The
// caller closes the stream; use RegisterCloseFunc when the stream must
// outlive the call site.
func (c *Context) BinaryStream(ctx context.Context, ref *schema.BinaryReference) (io.ReadCloser, error) {
	if ref == nil {
		return nil, schema.NewError(schema.ErrCodeBinaryMissing,
			"binary reference is nil").WithNode(c.node.Name)
	}
	if c.binaryStore == nil {
		return nil, schema.NewError(schema.ErrCodeBinaryStore,
			"no binary store configured").WithNode(c.node.Name)
	}
	return c.binaryStore.Stream(ctx, ref)
}

// PrepareBinaryData writes a payload into this execution's store and returns
// the new reference.
func (c *Context) PrepareBinaryData(ctx context.Context, fileName, mimeType string, r io.Reader) (*schema.BinaryReference, error) {
	if c.binaryStore == nil {
		return nil, schema.NewError(schema.ErrCodeBinaryStore,
			"no binary store configured").WithNode(c.node.Name)
	}
	return c.binaryStore.Put(ctx, c.executionID, binarydata.Metadata{
		FileName: fileName,
		MimeType: mimeType,
	}, r)
}

// SetBinaryDataBuffer writes buf under a new reference carrying the metadata
// of ref. Used when a node materializes or rewrites a payload in memory.
func (c *Context) SetBinaryDataBuffer(ctx context.Context, ref *schema.BinaryReference, buf []byte) (*schema.BinaryReference, error) {
	if ref == nil {
		return nil, schema.NewError(schema.ErrCodeBinaryMissing,
			"binary reference is nil").WithNode(c.node.Name)
	}
	return c.PrepareBinaryData(ctx, ref.FileName, ref.MimeType, bytes.NewReader(buf))
}

// CopyBinaryFile ingests a local file into the store under a new reference
// scoped to this execution and node. An empty fileName defaults to the base
// name of path.
func (c *Context) CopyBinaryFile(ctx context.Context, path, fileName, mimeType string) (*schema.BinaryReference, error) {
	if path == "" {
		return nil, schema.NewError(schema.ErrCodeBinaryStore,
			"file path is required").WithNode(c.node.Name)
	}
	if c.binaryStore == nil {
		return nil, schema.NewError(schema.ErrCodeBinaryStore,
			"no binary store configured").WithNode(c.node.Name)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeBinaryStore,
			"open file %q: %s", path, err.Error()).
			WithNode(c.node.Name).
			WithCause(err)
	}
	defer f.Close()

	if fileName == "" {
		fileName = filepath.Base(path)
	}
	return c.binaryStore.Put(ctx, c.executionID, binarydata.Metadata{
		FileName: fileName,
		MimeType: mimeType,
		NodeName: c.node.Name,
	}, f)
}

// AssertBinaryData returns the binary reference stored under the given
// property of the input item at itemIndex, failing when the item lacks it.
func (c *Context) AssertBinaryData(itemIndex int, property string) (*schema.BinaryReference, error) {
	if itemIndex < 0 || itemIndex >= len(c.inputItems) {
		return nil, schema.NewErrorf(schema.ErrCodeBinaryMissing,
			"no input item at index %d", itemIndex).
			WithNode(c.node.Name).
			WithDetails(map[string]any{"item_index": itemIndex, "property": property})
	}
	ref, ok := c.inputItems[itemIndex].Binary[property]
	if !ok || ref == nil {
		return nil, schema.NewErrorf(schema.ErrCodeBinaryMissing,
			"item %d has no binary property %q", itemIndex, property).
			WithNode(c.node.Name).
			WithDetails(map[string]any{"item_index": itemIndex, "property": property})
	}
	return ref, nil
}
