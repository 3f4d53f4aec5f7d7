package packaging

import (
	"crypto/ed25519"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateKeyRoundTrip(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "signing.key")

	pub, err := GenerateKey(keyPath)
	require.NoError(t, err)

	priv, err := LoadPrivateKey(keyPath)
	require.NoError(t, err)
	loadedPub, err := LoadPublicKey(keyPath + ".pub")
	require.NoError(t, err)

	assert.Equal(t, pub, loadedPub)
	assert.Equal(t, pub, priv.Public())

	info, err := os.Stat(keyPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestLoadKeyErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadPrivateKey(filepath.Join(dir, "missing"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	bad := filepath.Join(dir, "bad")
	require.NoError(t, os.WriteFile(bad, []byte("not hex"), 0600))
	_, err = LoadPublicKey(bad)
	assert.ErrorContains(t, err, "invalid key format")

	short := filepath.Join(dir, "short")
	require.NoError(t, os.WriteFile(short, []byte("abcd"), 0600))
	_, err = LoadPublicKey(short)
	assert.ErrorContains(t, err, "invalid key length")
}

func TestSignAndVerify(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "extension.zip")
	require.NoError(t, os.WriteFile(archive, []byte("archive bytes"), 0644))

	pub, err := GenerateKey(filepath.Join(dir, "a.key"))
	require.NoError(t, err)
	priv, err := LoadPrivateKey(filepath.Join(dir, "a.key"))
	require.NoError(t, err)
	other, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	sigPath, err := Sign(archive, priv)
	require.NoError(t, err)
	assert.Equal(t, archive+".sig", sigPath)

	t.Run("trusted key", func(t *testing.T) {
		assert.NoError(t, Verify(archive, sigPath, other, pub))
	})

	t.Run("untrusted key", func(t *testing.T) {
		assert.ErrorIs(t, Verify(archive, sigPath, other), ErrSignatureMismatch)
	})

	t.Run("no keys", func(t *testing.T) {
		assert.ErrorIs(t, Verify(archive, sigPath), ErrSignatureMismatch)
	})

	t.Run("tampered archive", func(t *testing.T) {
		tampered := filepath.Join(dir, "tampered.zip")
		require.NoError(t, os.WriteFile(tampered, []byte("archive bytes!"), 0644))
		assert.ErrorIs(t, Verify(tampered, sigPath, pub), ErrSignatureMismatch)
	})

	t.Run("corrupt signature", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.sig")
		require.NoError(t, os.WriteFile(bad, []byte("zz"), 0644))
		assert.ErrorContains(t, Verify(archive, bad, pub), "invalid signature format")

		require.NoError(t, os.WriteFile(bad, []byte("abcd"), 0644))
		assert.ErrorContains(t, Verify(archive, bad, pub), "invalid signature length")
	})
}
