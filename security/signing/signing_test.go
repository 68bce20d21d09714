package signing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateKeypairShapes(t *testing.T) {
	kp, err := GenerateKeypair()
	require.NoError(t, err)
	assert.Len(t, kp.PrivateKey, 32)
	assert.Len(t, kp.PublicKey, 32)
	assert.Len(t, kp.Fingerprint, 64)
}

func TestSignAndVerifyRoundTrip(t *testing.T) {
	kp, err := GenerateKeypair()
	require.NoError(t, err)

	data := []byte("a fake workflow package archive")
	sig, err := Sign(data, kp.PrivateKey, kp.Fingerprint, time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	assert.NoError(t, Verify(data, sig, kp.PublicKey))
}

func TestVerifyWrongKeyFails(t *testing.T) {
	kp1, err := GenerateKeypair()
	require.NoError(t, err)
	kp2, err := GenerateKeypair()
	require.NoError(t, err)

	data := []byte("package bytes")
	sig, err := Sign(data, kp1.PrivateKey, kp1.Fingerprint, time.Now().UTC())
	require.NoError(t, err)

	err = Verify(data, sig, kp2.PublicKey)
	assert.ErrorIs(t, err, ErrVerificationFailed)
}

func TestVerifyTamperedDataFails(t *testing.T) {
	kp, err := GenerateKeypair()
	require.NoError(t, err)

	sig, err := Sign([]byte("original bytes"), kp.PrivateKey, kp.Fingerprint, time.Now().UTC())
	require.NoError(t, err)

	err = Verify([]byte("tampered bytes"), sig, kp.PublicKey)
	assert.Error(t, err)
}

func TestFingerprintIsDeterministic(t *testing.T) {
	pub := make([]byte, 32)
	for i := range pub {
		pub[i] = 0x42
	}
	assert.Equal(t, ComputeKeyFingerprint(pub), ComputeKeyFingerprint(pub))
}

func TestComputePackageHashKnownValue(t *testing.T) {
	hash := ComputePackageHash([]byte("hello world"))
	assert.Equal(t, "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9", hash)
}

func TestSignPackageRejectsBadKeyLength(t *testing.T) {
	_, err := SignPackage("deadbeef", make([]byte, 16))
	assert.Error(t, err)
}

func TestVerifySignatureRejectsBadLengths(t *testing.T) {
	assert.Error(t, VerifySignature("deadbeef", make([]byte, 64), make([]byte, 16)))
	assert.Error(t, VerifySignature("deadbeef", make([]byte, 32), make([]byte, 32)))
}
