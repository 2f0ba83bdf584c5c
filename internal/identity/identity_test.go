package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyPair_SignAndVerify(t *testing.T) {
	keys, err := GenerateKeyPair()
	require.NoError(t, err)

	nonce, err := NewNonce()
	require.NoError(t, err)
	require.Len(t, nonce, NonceSize)

	sig := keys.SignNonce(nonce)
	require.Len(t, sig, SignatureSize)

	assert.True(t, keys.Identity().VerifyNonce(nonce, sig))
}

func TestKeyPair_TamperedSignature(t *testing.T) {
	keys, err := GenerateKeyPair()
	require.NoError(t, err)

	nonce, err := NewNonce()
	require.NoError(t, err)

	sig := keys.SignNonce(nonce)
	sig[0] ^= 0xFF
	assert.False(t, keys.Identity().VerifyNonce(nonce, sig))

	// 签名长度不对直接拒绝
	assert.False(t, keys.Identity().VerifyNonce(nonce, sig[:10]))
}

func TestKeyPair_WrongIdentity(t *testing.T) {
	alice, err := GenerateKeyPair()
	require.NoError(t, err)
	bob, err := GenerateKeyPair()
	require.NoError(t, err)

	nonce, err := NewNonce()
	require.NoError(t, err)

	sig := alice.SignNonce(nonce)
	assert.False(t, bob.Identity().VerifyNonce(nonce, sig))
}

func TestNodeIdentity_Fingerprint(t *testing.T) {
	keys, err := GenerateKeyPair()
	require.NoError(t, err)

	id := keys.Identity()
	fp1 := id.FingerprintHex()
	fp2 := id.FingerprintHex()
	assert.Equal(t, fp1, fp2)
	assert.Len(t, fp1, FingerprintSize*2)

	// 从原始字节重建的身份指纹一致
	rebuilt, err := NewNodeIdentity(id.Bytes())
	require.NoError(t, err)
	assert.Equal(t, fp1, rebuilt.FingerprintHex())
	assert.True(t, id.Equal(rebuilt))
}

func TestNewNodeIdentity_InvalidLength(t *testing.T) {
	_, err := NewNodeIdentity([]byte{1, 2, 3})
	require.Error(t, err)
}
