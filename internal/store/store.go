// Package store holds the persistence ledgers shared across one execution:
// the processed-item ledger used for deduplication and the credential store.
// All implementations must be safe for concurrent use; check-and-record is
// atomic per signature.
package store

import (
	"context"
	"time"
)

// ScopeKind selects how processed-item signatures are partitioned.
type ScopeKind string

const (
	// ScopeNode partitions signatures by (workflow, node).
	ScopeNode ScopeKind = "node"
	// ScopeWorkflow shares signatures across all nodes of a workflow.
	ScopeWorkflow ScopeKind = "workflow"
)

// DedupScope identifies one signature partition in the processed-item ledger.
type DedupScope struct {
	Kind       ScopeKind
	WorkflowID string
	NodeID     string // ignored for ScopeWorkflow
	ContextKey string
}

// PartitionNodeID returns the node component of the partition key: the node
// ID for node scope, "" for workflow scope.
func (s DedupScope) PartitionNodeID() string {
	if s.Kind == ScopeWorkflow {
		return ""
	}
	return s.NodeID
}

// ProcessedItemStore is the deduplication ledger. Polling and trigger nodes
// use it to skip external items they already handled across invocations.
type ProcessedItemStore interface {
	// CheckAndRecord atomically records the signatures that were not yet in
	// the ledger and reports which were new and which were already processed,
	// each preserving the input order. The check and the record are one
	// atomic operation per signature, never check-then-set.
	CheckAndRecord(ctx context.Context, scope DedupScope, signatures []string) (newSigs, processed []string, err error)

	// Remove deletes the given signatures from the scope (scoped rollback).
	Remove(ctx context.Context, scope DedupScope, signatures []string) error

	// Clear deletes all signatures recorded under the scope.
	Clear(ctx context.Context, scope DedupScope) error

	// Count reports how many signatures the scope currently holds.
	Count(ctx context.Context, scope DedupScope) (int64, error)
}

// CredentialRecord is a stored credential: the data blob is encrypted at rest
// and only ever decrypted in memory by the credential resolver.
type CredentialRecord struct {
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	Type      string    `json:"type"`
	Data      []byte    `json:"-"` // AES-256-GCM ciphertext
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CredentialStore persists encrypted credentials.
type CredentialStore interface {
	GetCredential(ctx context.Context, id string) (*CredentialRecord, error)
	PutCredential(ctx context.Context, rec *CredentialRecord) error
	DeleteCredential(ctx context.Context, id string) error
	ListCredentials(ctx context.Context, credType string) ([]*CredentialRecord, error)
}
