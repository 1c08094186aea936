package crypto

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/silexium-dev/silexium/pkg/errdefs"
)

func testSeed() []byte {
	seed := make([]byte, 32)
	for i := range seed {
		seed[i] = byte(i)
	}
	return seed
}

func TestSignVerifyRoundtrip(t *testing.T) {
	signer, err := NewSignerFromSeed(testSeed(), "")
	require.NoError(t, err)

	msg := []byte("deadbeef")
	sig := signer.Sign(msg)
	assert.NoError(t, Verify(signer.PublicKeyBytes(), msg, sig))
}

func TestKeyIDDefaultsToPublicKeyHex(t *testing.T) {
	signer, err := NewSignerFromSeed(testSeed(), "")
	require.NoError(t, err)
	assert.Equal(t, signer.PublicKeyHex(), signer.KeyID)

	named, err := NewSignerFromSeed(testSeed(), "custom")
	require.NoError(t, err)
	assert.Equal(t, "custom", named.KeyID)
}

func TestVerifyRejectsTamperedSignature(t *testing.T) {
	signer, err := NewSignerFromSeed(testSeed(), "")
	require.NoError(t, err)

	msg := []byte("deadbeef")
	sig, err := hex.DecodeString(signer.Sign(msg))
	require.NoError(t, err)
	sig[0] ^= 0x01

	err = Verify(signer.PublicKeyBytes(), msg, hex.EncodeToString(sig))
	assert.ErrorIs(t, err, errdefs.ErrSignatureInvalid)
}

func TestVerifyRejectsMalformedInputs(t *testing.T) {
	signer, err := NewSignerFromSeed(testSeed(), "")
	require.NoError(t, err)

	assert.ErrorIs(t, Verify([]byte{1, 2, 3}, []byte("m"), signer.Sign([]byte("m"))), errdefs.ErrSignatureInvalid)
	assert.ErrorIs(t, Verify(signer.PublicKeyBytes(), []byte("m"), "nothex"), errdefs.ErrSignatureInvalid)
	assert.ErrorIs(t, Verify(signer.PublicKeyBytes(), []byte("m"), "abcd"), errdefs.ErrSignatureInvalid)
}

func TestLoadKeyBytes(t *testing.T) {
	dir := t.TempDir()

	rawPath := filepath.Join(dir, "raw.key")
	require.NoError(t, os.WriteFile(rawPath, testSeed(), 0o600))
	raw, err := LoadKeyBytes(rawPath)
	require.NoError(t, err)
	assert.Equal(t, testSeed(), raw)

	hexPath := filepath.Join(dir, "hex.key")
	require.NoError(t, os.WriteFile(hexPath, []byte(hex.EncodeToString(testSeed())+"\n"), 0o600))
	decoded, err := LoadKeyBytes(hexPath)
	require.NoError(t, err)
	assert.Equal(t, testSeed(), decoded)

	badPath := filepath.Join(dir, "bad.key")
	require.NoError(t, os.WriteFile(badPath, []byte("not a key"), 0o600))
	_, err = LoadKeyBytes(badPath)
	assert.Error(t, err)
}
