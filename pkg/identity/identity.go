// Package identity manages the node's durable cryptographic identity: an
// ed25519 keypair persisted to a local file, with the node id derived from
// the public key. The private key never leaves the process.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

const (
	idPrefix = "mesh-"
	idHexLen = 16
)

// Identity is immutable once created.
type Identity struct {
	NodeID     string
	PublicKey  ed25519.PublicKey
	CreatedAt  time.Time
	privateKey ed25519.PrivateKey
}

type identityFile struct {
	NodeID     string    `json:"node_id"`
	PublicKey  []byte    `json:"public_key"`
	PrivateKey []byte    `json:"private_key"`
	CreatedAt  time.Time `json:"created_at"`
}

// New generates a fresh keypair. The caller is responsible for persisting it.
func New() (*Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}
	return &Identity{
		NodeID:     DeriveID(pub),
		PublicKey:  pub,
		CreatedAt:  time.Now().UTC(),
		privateKey: priv,
	}, nil
}

// DeriveID returns the stable node identifier for a public key: a namespace
// tag plus a fixed-length hex prefix of the key's SHA-256 hash.
func DeriveID(pub ed25519.PublicKey) string {
	sum := sha256.Sum256(pub)
	return idPrefix + hex.EncodeToString(sum[:])[:idHexLen]
}

// LoadOrCreate reads the identity file at path, generating and persisting a
// fresh identity when the file is missing or unreadable. A corrupt file is
// treated as absent, not fatal; only a failure to persist the replacement is
// surfaced.
func LoadOrCreate(path string, log *zap.Logger) (*Identity, error) {
	if id, err := load(path); err == nil {
		return id, nil
	} else if !os.IsNotExist(err) {
		log.Warn("identity file unusable, regenerating", zap.String("path", path), zap.Error(err))
	}

	id, err := New()
	if err != nil {
		return nil, err
	}
	if err := id.Save(path); err != nil {
		return nil, fmt.Errorf("persist identity: %w", err)
	}
	log.Info("generated node identity", zap.String("node_id", id.NodeID))
	return id, nil
}

func load(path string) (*Identity, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f identityFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse identity file: %w", err)
	}
	if len(f.PublicKey) != ed25519.PublicKeySize || len(f.PrivateKey) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("identity file has malformed keys")
	}
	pub := ed25519.PublicKey(f.PublicKey)
	if f.NodeID != DeriveID(pub) {
		return nil, fmt.Errorf("identity file node id does not match public key")
	}
	return &Identity{
		NodeID:     f.NodeID,
		PublicKey:  pub,
		CreatedAt:  f.CreatedAt,
		privateKey: ed25519.PrivateKey(f.PrivateKey),
	}, nil
}

// Save writes the identity atomically with owner-only permissions.
func (i *Identity) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	raw, err := json.MarshalIndent(identityFile{
		NodeID:     i.NodeID,
		PublicKey:  i.PublicKey,
		PrivateKey: i.privateKey,
		CreatedAt:  i.CreatedAt,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal identity: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("write identity: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename identity: %w", err)
	}
	return nil
}

// Sign returns the ed25519 signature of data.
func (i *Identity) Sign(data []byte) []byte {
	return ed25519.Sign(i.privateKey, data)
}

// Verify reports whether sig is a valid signature of data by this identity.
func (i *Identity) Verify(data, sig []byte) bool {
	return ed25519.Verify(i.PublicKey, data, sig)
}
