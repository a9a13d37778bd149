package identity

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var idFormat = regexp.MustCompile(`^mesh-[0-9a-f]{16}$`)

func TestSignVerify(t *testing.T) {
	t.Parallel()

	id, err := New()
	require.NoError(t, err)
	assert.Regexp(t, idFormat, id.NodeID)

	data := []byte("shard output bytes")
	sig := id.Sign(data)
	assert.True(t, id.Verify(data, sig))

	// single bit flip in the signature
	bad := append([]byte(nil), sig...)
	bad[0] ^= 0x01
	assert.False(t, id.Verify(data, bad))

	// single bit flip in the payload
	tampered := append([]byte(nil), data...)
	tampered[3] ^= 0x80
	assert.False(t, id.Verify(tampered, sig))
}

func TestLoadOrCreateRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "identity.json")
	log := zap.NewNop()

	first, err := LoadOrCreate(path, log)
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	second, err := LoadOrCreate(path, log)
	require.NoError(t, err)
	assert.Equal(t, first.NodeID, second.NodeID)
	assert.Equal(t, first.PublicKey, second.PublicKey)

	// a signature from the reloaded identity verifies against the original key
	sig := second.Sign([]byte("x"))
	assert.True(t, first.Verify([]byte("x"), sig))
}

func TestLoadOrCreateCorruptFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "identity.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	id, err := LoadOrCreate(path, zap.NewNop())
	require.NoError(t, err)
	assert.Regexp(t, idFormat, id.NodeID)

	// the corrupt file was replaced with a valid one
	reloaded, err := LoadOrCreate(path, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, id.NodeID, reloaded.NodeID)
}

func TestLoadRejectsMismatchedID(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "identity.json")
	id, err := New()
	require.NoError(t, err)
	require.NoError(t, id.Save(path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	tampered := regexp.MustCompile(`mesh-[0-9a-f]{16}`).ReplaceAll(raw, []byte("mesh-0000000000000000"))
	require.NoError(t, os.WriteFile(path, tampered, 0o600))

	fresh, err := LoadOrCreate(path, zap.NewNop())
	require.NoError(t, err)
	assert.NotEqual(t, "mesh-0000000000000000", fresh.NodeID)
}
