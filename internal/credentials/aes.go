package credentials

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/pbkdf2"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"github.com/flowmesh/flowmesh/internal/expressions"
	"github.com/flowmesh/flowmesh/internal/store"
	"github.com/flowmesh/flowmesh/pkg/schema"
)

// Config configures the resolver's key derivation.
// Provide either MasterKey (raw 32 bytes) or Passphrase + Salt.
type Config struct {
	MasterKey  []byte // raw 32-byte key (takes priority)
	Passphrase string // derive key via PBKDF2
	Salt       []byte // salt for PBKDF2 (required with Passphrase)
	Iterations int    // PBKDF2 iterations (default 100_000)
}

// AESResolver resolves credentials stored AES-256-GCM encrypted. Decrypted
// data lives in memory only; property values that are expressions are
// evaluated against the requesting item's scope.
type AESResolver struct {
	store     store.CredentialStore
	aead      cipher.AEAD
	evaluator *expressions.Evaluator
}

// NewAESResolver creates an AES-256-GCM credential resolver.
func NewAESResolver(s store.CredentialStore, cfg Config, evaluator *expressions.Evaluator) (*AESResolver, error) {
	key, err := deriveKey(cfg)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	return &AESResolver{store: s, aead: aead, evaluator: evaluator}, nil
}

func deriveKey(cfg Config) ([]byte, error) {
	if len(cfg.MasterKey) > 0 {
		if len(cfg.MasterKey) != 32 {
			return nil, schema.NewErrorf(schema.ErrCodeCredentials,
				"master key must be 32 bytes, got %d", len(cfg.MasterKey))
		}
		return cfg.MasterKey, nil
	}
	if cfg.Passphrase == "" {
		return nil, schema.NewError(schema.ErrCodeCredentials, "either master_key or passphrase is required")
	}
	if len(cfg.Salt) == 0 {
		return nil, schema.NewError(schema.ErrCodeCredentials, "salt is required with passphrase")
	}
	iterations := cfg.Iterations
	if iterations <= 0 {
		iterations = 100_000
	}
	return pbkdf2.Key(sha256.New, cfg.Passphrase, cfg.Salt, iterations, 32)
}

// Resolve looks up the credential assigned to the node for the given type,
// decrypts it, and resolves expression-valued properties per item.
func (r *AESResolver) Resolve(ctx context.Context, credType string, req Request) (map[string]any, error) {
	if req.Node == nil {
		return nil, schema.NewError(schema.ErrCodeCredentials, "node is required")
	}
	credID, ok := req.Node.Credentials[credType]
	if !ok || credID == "" {
		return nil, schema.NewErrorf(schema.ErrCodeCredentials,
			"no credential of type %q assigned", credType).WithNode(req.Node.Name)
	}

	rec, err := r.store.GetCredential(ctx, credID)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeCredentials,
			"credential %q of type %q: %s", credID, credType, err.Error()).
			WithNode(req.Node.Name).WithCause(err)
	}
	if rec.Type != credType {
		return nil, schema.NewErrorf(schema.ErrCodeCredentials,
			"credential %q has type %q, want %q", credID, rec.Type, credType).WithNode(req.Node.Name)
	}

	plaintext, err := r.decrypt(rec.Data)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeCredentials,
			"decrypt credential %q: %s", credID, err.Error()).WithNode(req.Node.Name).WithCause(err)
	}

	data := map[string]any{}
	if err := json.Unmarshal(plaintext, &data); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeCredentials,
			"credential %q is not a JSON object: %s", credID, err.Error()).WithNode(req.Node.Name).WithCause(err)
	}

	// Credential properties may themselves be expressions ("=..."), evaluated
	// against the requesting item.
	resolved, err := r.evaluator.ResolveValue(ctx, data, req.Scope)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeCredentials,
			"resolve credential %q for item %d: %s", credID, req.ItemIndex, err.Error()).
			WithNode(req.Node.Name).WithCause(err)
	}
	out, ok := resolved.(map[string]any)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeCredentials,
			"credential %q resolved to a non-object", credID).WithNode(req.Node.Name)
	}
	return out, nil
}

// Seal encrypts credential data for storage. Used when provisioning
// credentials into the store.
func (r *AESResolver) Seal(data map[string]any) ([]byte, error) {
	plaintext, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal credential data: %w", err)
	}
	return r.encrypt(plaintext)
}

func (r *AESResolver) encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, r.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return r.aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (r *AESResolver) decrypt(ciphertext []byte) ([]byte, error) {
	nonceSize := r.aead.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, schema.NewError(schema.ErrCodeCredentials, "ciphertext too short")
	}
	nonce := ciphertext[:nonceSize]
	ct := ciphertext[nonceSize:]
	plaintext, err := r.aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeCredentials, "decrypt failed: %s", err.Error())
	}
	return plaintext, nil
}

var _ Resolver = (*AESResolver)(nil)
