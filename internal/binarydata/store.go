// Package binarydata stores large node payloads outside the run record.
// References are opaque IDs scoped to the execution that produced them;
// duplicating a reference into another execution's scope (re-homing) is what
// keeps sub-workflow output valid after the sub-execution's storage is
// reclaimed.
package binarydata

import (
	"context"
	"io"

	"github.com/flowmesh/flowmesh/pkg/schema"
)

// Metadata describes a payload at write time. NodeName, when set, scopes the
// payload to the node that ingested it in addition to the execution.
type Metadata struct {
	FileName string
	MimeType string
	NodeName string
}

// Store is the content store contract. Implementations must be safe for
// concurrent use across execution contexts.
type Store interface {
	// Put writes a payload under a new reference scoped to the execution.
	Put(ctx context.Context, executionID string, meta Metadata, r io.Reader) (*schema.BinaryReference, error)

	// Get reads the full payload for a reference.
	Get(ctx context.Context, ref *schema.BinaryReference) ([]byte, error)

	// Stream opens the payload for reading; the caller closes it.
	Stream(ctx context.Context, ref *schema.BinaryReference) (io.ReadCloser, error)

	// Copy duplicates the payload under a new reference scoped to the target
	// execution. The returned reference carries the source metadata but a
	// distinct ID, and resolves to byte-identical content.
	Copy(ctx context.Context, ref *schema.BinaryReference, targetExecutionID string) (*schema.BinaryReference, error)

	// Delete removes the payload for a reference. Used by execution pruning.
	Delete(ctx context.Context, ref *schema.BinaryReference) error
}
