package envelope

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFramedRoundTrip(t *testing.T) {
	cases := [][]byte{
		{},
		[]byte("a"),
		[]byte("the quick brown fox jumps over the lazy dog"),
		make([]byte, 1<<20),
	}
	for _, plaintext := range cases {
		enc, err := Encrypt(plaintext, []byte("correct horse battery staple"))
		require.NoError(t, err)
		dec, err := Decrypt(enc, []byte("correct horse battery staple"))
		require.NoError(t, err)
		assert.Equal(t, plaintext, dec)
	}
}

func TestFramedWrongPasswordNeverReturnsPlaintext(t *testing.T) {
	plaintext := []byte("secret contents")
	enc, err := Encrypt(plaintext, []byte("pw1"))
	require.NoError(t, err)

	dec, err := Decrypt(enc, []byte("pw2"))
	require.Error(t, err)
	assert.NotEqual(t, plaintext, dec)
}

func TestFramedRejectsBadMagicAndShortInput(t *testing.T) {
	_, err := Decrypt([]byte("short"), []byte("pw"))
	require.Error(t, err)

	garbage := make([]byte, framedHeaderSize+16)
	copy(garbage, "XXXX")
	_, err = Decrypt(garbage, []byte("pw"))
	require.Error(t, err)
}

func TestPortableRoundTrip(t *testing.T) {
	plaintext := []byte("share descriptor payload")
	enc, err := EncryptPortable(plaintext, []byte("xyz"))
	require.NoError(t, err)
	require.False(t, len(enc) >= 4 && string(enc[:4]) == magic)

	dec, err := DecryptPortable(enc, []byte("xyz"))
	require.NoError(t, err)
	assert.Equal(t, plaintext, dec)

	_, err = DecryptPortable(enc, []byte("wrong"))
	require.Error(t, err)
}
