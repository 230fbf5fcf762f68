package crypto

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	pub, sk, err := GenerateKeyPair()
	require.NoError(t, err)

	msg := []byte("chainbook canonical bytes")
	sig := Sign(sk, msg)
	assert.True(t, Verify(pub, msg, sig))
}

func TestVerifyRejectsTamperedMessage(t *testing.T) {
	pub, sk, err := GenerateKeyPair()
	require.NoError(t, err)

	sig := Sign(sk, []byte("original"))
	assert.False(t, Verify(pub, []byte("tampered"), sig))
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	pub1, _, err := GenerateKeyPair()
	require.NoError(t, err)
	_, sk2, err := GenerateKeyPair()
	require.NoError(t, err)

	msg := []byte("message")
	sig := Sign(sk2, msg)
	assert.False(t, Verify(pub1, msg, sig))
}

func TestKeyPairFromHexDerivesMatchingPublicKey(t *testing.T) {
	pub, sk, err := GenerateKeyPair()
	require.NoError(t, err)

	skHex := hex.EncodeToString(sk[:])
	derivedPub, derivedSK, err := KeyPairFromHex(skHex)
	require.NoError(t, err)
	assert.Equal(t, pub, derivedPub)
	assert.Equal(t, sk, derivedSK)
}

func TestPublicKeyHexRoundTrip(t *testing.T) {
	pub, _, err := GenerateKeyPair()
	require.NoError(t, err)

	parsed, err := PublicKeyFromHex(pub.String())
	require.NoError(t, err)
	assert.Equal(t, pub, parsed)
}

func TestPublicKeyJSONRoundTrip(t *testing.T) {
	pub, _, err := GenerateKeyPair()
	require.NoError(t, err)

	data, err := pub.MarshalJSON()
	require.NoError(t, err)

	var parsed PublicKey
	require.NoError(t, parsed.UnmarshalJSON(data))
	assert.Equal(t, pub, parsed)
}
