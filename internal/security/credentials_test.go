package security

import (
	"strings"
	"testing"

	apperrors "labhub/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

func TestCredentialManager(t *testing.T) {
	cm := NewCredentialManagerWithPassphrase("test-passphrase")

	t.Run("Plain value passes through", func(t *testing.T) {
		v, err := cm.Resolve("hunter2")
		require.NoError(t, err)
		assert.Equal(t, "hunter2", v)
	})

	t.Run("Environment reference", func(t *testing.T) {
		t.Setenv("LABHUB_TEST_SECRET", "from-env")

		v, err := cm.Resolve("env:LABHUB_TEST_SECRET")
		require.NoError(t, err)
		assert.Equal(t, "from-env", v)
	})

	t.Run("Missing environment reference", func(t *testing.T) {
		_, err := cm.Resolve("env:LABHUB_TEST_SECRET_THAT_DOES_NOT_EXIST")
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeCredentialMissing, apperrors.GetErrorCode(err))
	})

	t.Run("Keyring reference", func(t *testing.T) {
		keyring.MockInit()

		ref, err := cm.Store("warehouse", "from-keyring")
		require.NoError(t, err)
		assert.Equal(t, "keyring:warehouse", ref)

		v, err := cm.Resolve(ref)
		require.NoError(t, err)
		assert.Equal(t, "from-keyring", v)

		require.NoError(t, cm.Delete("warehouse"))
		_, err = cm.Resolve(ref)
		assert.Error(t, err)
	})
}

func TestEncryptDecrypt(t *testing.T) {
	cm := NewCredentialManagerWithPassphrase("test-passphrase")

	enc, err := cm.Encrypt("s3cr3t")
	require.NoError(t, err)
	assert.True(t, IsEncrypted(enc))
	assert.False(t, strings.Contains(enc, "s3cr3t"))

	// Salted: the same plaintext never produces the same ciphertext
	enc2, err := cm.Encrypt("s3cr3t")
	require.NoError(t, err)
	assert.NotEqual(t, enc, enc2)

	dec, err := cm.Resolve(enc)
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t", dec)

	other := NewCredentialManagerWithPassphrase("another-passphrase")
	_, err = other.Decrypt(enc)
	assert.Error(t, err)
}

func TestEncryptLeavesReferencesAlone(t *testing.T) {
	cm := NewCredentialManagerWithPassphrase("test-passphrase")

	for _, v := range []string{"", "env:X", "keyring:y", "ENC[abc]"} {
		out, err := cm.Encrypt(v)
		require.NoError(t, err)
		assert.Equal(t, v, out)
	}
}

func TestDecryptMalformed(t *testing.T) {
	cm := NewCredentialManagerWithPassphrase("test-passphrase")

	_, err := cm.Decrypt("ENC[not-base64!]")
	assert.Error(t, err)

	_, err = cm.Decrypt("ENC[AAAA]")
	assert.Error(t, err)
}
