package keymanager

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colliery-io/cloacina-go/internal/storetest"
	"github.com/colliery-io/cloacina-go/security/signing"
	"github.com/colliery-io/cloacina-go/store"
)

func newManager(t *testing.T) *Manager {
	t.Helper()
	driver := storetest.New()
	st := store.New(driver)
	return New(st)
}

func masterKey() []byte {
	k := make([]byte, 32)
	for i := range k {
		k[i] = byte(i)
	}
	return k
}

func TestEncryptDecryptPrivateKeyRoundTrip(t *testing.T) {
	priv := make([]byte, 32)
	for i := range priv {
		priv[i] = 0x42
	}
	mk := masterKey()

	enc, err := EncryptPrivateKey(priv, mk)
	require.NoError(t, err)
	assert.Greater(t, len(enc), len(priv))

	dec, err := DecryptPrivateKey(enc, mk)
	require.NoError(t, err)
	assert.Equal(t, priv, dec)
}

func TestDecryptWithWrongKeyFails(t *testing.T) {
	priv := make([]byte, 32)
	mk := masterKey()
	wrong := make([]byte, 32)
	wrong[0] = 0xFF

	enc, err := EncryptPrivateKey(priv, mk)
	require.NoError(t, err)

	_, err = DecryptPrivateKey(enc, wrong)
	assert.Error(t, err)
}

func TestEncryptRejectsBadKeyLength(t *testing.T) {
	_, err := EncryptPrivateKey(make([]byte, 32), make([]byte, 16))
	assert.ErrorIs(t, err, ErrInvalidMasterKeyLength)
}

func TestCreateSigningKeyAndRetrieveMaterial(t *testing.T) {
	m := newManager(t)
	mk := masterKey()

	k, err := m.CreateSigningKey(context.Background(), "org-a", "release-key", mk)
	require.NoError(t, err)
	assert.Len(t, k.Fingerprint, 64)

	pub, priv, err := m.SigningMaterial(context.Background(), "org-a", k.Fingerprint, mk)
	require.NoError(t, err)
	assert.Equal(t, k.PublicKey, pub)
	assert.Len(t, priv, 32)
}

func TestRevokedSigningKeyRejectsMaterial(t *testing.T) {
	m := newManager(t)
	mk := masterKey()

	k, err := m.CreateSigningKey(context.Background(), "org-a", "release-key", mk)
	require.NoError(t, err)
	require.NoError(t, m.RevokeSigningKey(context.Background(), k.ID))

	_, _, err = m.SigningMaterial(context.Background(), "org-a", k.Fingerprint, mk)
	assert.Error(t, err)
}

func TestVerifyPackageSucceedsForTrustedSigner(t *testing.T) {
	m := newManager(t)
	mk := masterKey()

	sk, err := m.CreateSigningKey(context.Background(), "org-a", "release-key", mk)
	require.NoError(t, err)
	_, err = m.TrustPublicKey(context.Background(), "org-a", sk.PublicKey, nil)
	require.NoError(t, err)

	data := []byte("package archive bytes")
	_, priv, err := m.SigningMaterial(context.Background(), "org-a", sk.Fingerprint, mk)
	require.NoError(t, err)
	sig, err := signing.Sign(data, priv, sk.Fingerprint, time.Now().UTC())
	require.NoError(t, err)

	assert.NoError(t, m.VerifyPackage(context.Background(), "org-a", data, sig))
}

func TestVerifyPackageFailsForUntrustedSigner(t *testing.T) {
	m := newManager(t)
	mk := masterKey()

	sk, err := m.CreateSigningKey(context.Background(), "org-a", "release-key", mk)
	require.NoError(t, err)

	data := []byte("package archive bytes")
	_, priv, err := m.SigningMaterial(context.Background(), "org-a", sk.Fingerprint, mk)
	require.NoError(t, err)
	sig, err := signing.Sign(data, priv, sk.Fingerprint, time.Now().UTC())
	require.NoError(t, err)

	err = m.VerifyPackage(context.Background(), "org-a", data, sig)
	var untrusted *UntrustedSignerError
	assert.ErrorAs(t, err, &untrusted)
}

func TestVerifyPackageFailsOnTamperedData(t *testing.T) {
	m := newManager(t)
	mk := masterKey()

	sk, err := m.CreateSigningKey(context.Background(), "org-a", "release-key", mk)
	require.NoError(t, err)
	_, err = m.TrustPublicKey(context.Background(), "org-a", sk.PublicKey, nil)
	require.NoError(t, err)

	data := []byte("package archive bytes")
	_, priv, err := m.SigningMaterial(context.Background(), "org-a", sk.Fingerprint, mk)
	require.NoError(t, err)
	sig, err := signing.Sign(data, priv, sk.Fingerprint, time.Now().UTC())
	require.NoError(t, err)

	err = m.VerifyPackage(context.Background(), "org-a", []byte("tampered archive bytes"), sig)
	var tampered *TamperedPackageError
	assert.ErrorAs(t, err, &tampered)
}

func TestGrantTrustLetsChildOrgVerifyWithParentKey(t *testing.T) {
	m := newManager(t)
	mk := masterKey()

	sk, err := m.CreateSigningKey(context.Background(), "org-parent", "release-key", mk)
	require.NoError(t, err)
	_, err = m.TrustPublicKey(context.Background(), "org-parent", sk.PublicKey, nil)
	require.NoError(t, err)
	require.NoError(t, m.GrantTrust(context.Background(), "org-parent", "org-child"))

	data := []byte("shared package bytes")
	_, priv, err := m.SigningMaterial(context.Background(), "org-parent", sk.Fingerprint, mk)
	require.NoError(t, err)
	sig, err := signing.Sign(data, priv, sk.Fingerprint, time.Now().UTC())
	require.NoError(t, err)

	assert.NoError(t, m.VerifyPackage(context.Background(), "org-child", data, sig))
}

func TestPublicKeyPEMRoundTripsShape(t *testing.T) {
	kp, err := signing.GenerateKeypair()
	require.NoError(t, err)

	pemStr, err := PublicKeyPEM(kp.PublicKey)
	require.NoError(t, err)
	assert.Contains(t, pemStr, "BEGIN PUBLIC KEY")
}
