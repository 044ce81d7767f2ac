package vault

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	v := New("process-secret")
	ciphertext, err := v.Encrypt("refresh-token-xyz")
	require.NoError(t, err)

	plain, err := v.Decrypt(ciphertext)
	require.NoError(t, err)
	require.Equal(t, "refresh-token-xyz", plain)
}

func TestDecryptRejectsMalformedPayload(t *testing.T) {
	v := New("process-secret")

	_, err := v.Decrypt("v2:a:b:c")
	require.Error(t, err)

	_, err = v.Decrypt("v1:only-two:segments")
	require.Error(t, err)
}

func TestEncryptRequiresSecret(t *testing.T) {
	v := New("")
	_, err := v.Encrypt("x")
	require.Error(t, err)
}

func TestRoundTripUnicode(t *testing.T) {
	v := New("another-secret")
	for _, s := range []string{"hello", "안녕하세요", "こんにちは", "", "emoji 🎉 mix"} {
		ciphertext, err := v.Encrypt(s)
		require.NoError(t, err)
		plain, err := v.Decrypt(ciphertext)
		require.NoError(t, err)
		require.Equal(t, s, plain)
	}
}
