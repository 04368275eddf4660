package cipher

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadGeneratesKeyOnFirstRun(t *testing.T) {
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "master.key")

	c, err := Load(keyPath)
	require.NoError(t, err)
	require.NotNil(t, c)

	info, err := os.Stat(keyPath)
	require.NoError(t, err)
	assert.EqualValues(t, keyLength, info.Size())
	assert.EqualValues(t, 0600, info.Mode().Perm())
}

func TestLoadRejectsWrongLengthKey(t *testing.T) {
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "master.key")
	require.NoError(t, os.WriteFile(keyPath, []byte("too-short"), 0600))

	_, err := Load(keyPath)
	require.ErrorIs(t, err, ErrInvalidKeyLength)
}

func TestRoundTripBytesForBytes(t *testing.T) {
	dir := t.TempDir()
	c, err := Load(filepath.Join(dir, "master.key"))
	require.NoError(t, err)

	plaintexts := [][]byte{
		[]byte(""),
		[]byte("hello"),
		[]byte("a much longer subject line with unicode ☃ snowman"),
	}

	for _, p := range plaintexts {
		opaque, err := c.EncryptBytes(p)
		require.NoError(t, err)

		decoded, err := c.DecryptBytes(opaque)
		require.NoError(t, err)
		assert.Equal(t, p, decoded)
	}
}

func TestDecryptDetectsTamper(t *testing.T) {
	dir := t.TempDir()
	c, err := Load(filepath.Join(dir, "master.key"))
	require.NoError(t, err)

	opaque, err := c.EncryptBytes([]byte("secret"))
	require.NoError(t, err)

	tampered := opaque[:len(opaque)-4] + "AAAA"
	_, err = c.DecryptBytes(tampered)
	require.ErrorIs(t, err, ErrDecryption)
}

func TestDecryptWithDifferentKeyFails(t *testing.T) {
	dir := t.TempDir()
	c1, err := Load(filepath.Join(dir, "a.key"))
	require.NoError(t, err)
	c2, err := Load(filepath.Join(dir, "b.key"))
	require.NoError(t, err)

	opaque, err := c1.EncryptBytes([]byte("secret"))
	require.NoError(t, err)

	_, err = c2.DecryptBytes(opaque)
	require.ErrorIs(t, err, ErrDecryption)
}

func TestNonceIsRandomPerCall(t *testing.T) {
	dir := t.TempDir()
	c, err := Load(filepath.Join(dir, "master.key"))
	require.NoError(t, err)

	a, err := c.EncryptString("same plaintext")
	require.NoError(t, err)
	b, err := c.EncryptString("same plaintext")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}
