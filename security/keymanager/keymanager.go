// Package keymanager manages Ed25519 signing keys, trusted public keys, and
// cross-org trust relationships on top of store.Driver's signing/key
// tables, with AES-256-GCM at-rest protection for private key material.
package keymanager

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	cryptorand "crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/colliery-io/cloacina-go/security/audit"
	"github.com/colliery-io/cloacina-go/security/signing"
	"github.com/colliery-io/cloacina-go/store"
)

// nonceSize is the AES-256-GCM nonce length; the encrypted layout is
// nonce(12) || ciphertext || tag(16).
const nonceSize = 12

// ErrInvalidMasterKeyLength is returned when a master key is not 32 bytes.
var ErrInvalidMasterKeyLength = errors.New("master key must be 32 bytes for AES-256-GCM")

// ErrEncryptedDataTooShort is returned when ciphertext can't contain a
// nonce, at least one byte of sealed data, and the GCM tag.
var ErrEncryptedDataTooShort = errors.New("encrypted key data too short")

// EncryptPrivateKey seals an Ed25519 private key seed with AES-256-GCM using
// masterKey, producing nonce||ciphertext||tag.
func EncryptPrivateKey(privateKey, masterKey []byte) ([]byte, error) {
	if len(masterKey) != 32 {
		return nil, ErrInvalidMasterKeyLength
	}
	block, err := aes.NewCipher(masterKey)
	if err != nil {
		return nil, errors.Wrap(err, "failed to init aes cipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(err, "failed to init gcm mode")
	}
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(cryptorand.Reader, nonce); err != nil {
		return nil, errors.Wrap(err, "failed to generate nonce")
	}
	ciphertext := gcm.Seal(nil, nonce, privateKey, nil)
	return append(nonce, ciphertext...), nil
}

// DecryptPrivateKey reverses EncryptPrivateKey.
func DecryptPrivateKey(encrypted, masterKey []byte) ([]byte, error) {
	if len(masterKey) != 32 {
		return nil, ErrInvalidMasterKeyLength
	}
	if len(encrypted) < nonceSize+17 {
		return nil, ErrEncryptedDataTooShort
	}
	block, err := aes.NewCipher(masterKey)
	if err != nil {
		return nil, errors.Wrap(err, "failed to init aes cipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(err, "failed to init gcm mode")
	}
	nonce, ciphertext := encrypted[:nonceSize], encrypted[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decrypt private key")
	}
	return plaintext, nil
}

// PublicKeyPEM encodes a raw 32-byte Ed25519 public key as a PEM-wrapped
// SubjectPublicKeyInfo block for distribution to other orgs.
func PublicKeyPEM(publicKey []byte) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(ed25519.PublicKey(publicKey))
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal public key")
	}
	block := &pem.Block{Type: "PUBLIC KEY", Bytes: der}
	return string(pem.EncodeToMemory(block)), nil
}

// Manager is the runtime entry point for key lifecycle and verification. It
// is intentionally thin over store.Store: it never caches results so that a
// revocation takes effect on the very next call, matching the original
// KeyManager trait's documented contract.
type Manager struct {
	store *store.Store
}

// New returns a Manager backed by st.
func New(st *store.Store) *Manager {
	return &Manager{store: st}
}

// CreateSigningKey generates a new Ed25519 keypair, encrypts the private key
// with masterKey, and persists both halves for orgID under name.
func (m *Manager) CreateSigningKey(ctx context.Context, orgID, name string, masterKey []byte) (*store.SigningKey, error) {
	kp, err := signing.GenerateKeypair()
	if err != nil {
		audit.SigningKeyCreateFailed(orgID, name, err.Error())
		return nil, err
	}
	encrypted, err := EncryptPrivateKey(kp.PrivateKey, masterKey)
	if err != nil {
		audit.SigningKeyCreateFailed(orgID, name, err.Error())
		return nil, err
	}
	now := time.Now().UTC()
	k := &store.SigningKey{
		ID:                  uuid.NewString(),
		OrgID:               orgID,
		KeyName:             name,
		Fingerprint:         kp.Fingerprint,
		PublicKey:           kp.PublicKey,
		EncryptedPrivateKey: encrypted,
		CreatedAt:           now,
	}
	if err := m.store.CreateSigningKey(ctx, k); err != nil {
		audit.SigningKeyCreateFailed(orgID, name, err.Error())
		return nil, errors.Wrap(err, "failed to persist signing key")
	}
	audit.SigningKeyCreated(orgID, k.ID, k.Fingerprint, k.KeyName)
	return k, nil
}

// SigningMaterial returns the decrypted (public, private) keypair for
// signing operations. Returns an error if the key is revoked.
func (m *Manager) SigningMaterial(ctx context.Context, orgID, fingerprint string, masterKey []byte) (public, private []byte, err error) {
	k, err := m.store.GetSigningKeyByFingerprint(ctx, orgID, fingerprint)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to look up signing key")
	}
	if k.RevokedAt != nil {
		return nil, nil, errors.Errorf("signing key %s has been revoked", k.ID)
	}
	priv, err := DecryptPrivateKey(k.EncryptedPrivateKey, masterKey)
	if err != nil {
		return nil, nil, err
	}
	return k.PublicKey, priv, nil
}

// RevokeSigningKey marks a signing key as revoked, preventing further use
// for signing (existing signatures remain verifiable).
func (m *Manager) RevokeSigningKey(ctx context.Context, id store.UUID) error {
	if err := m.store.RevokeSigningKey(ctx, id, time.Now().UTC()); err != nil {
		return err
	}
	audit.SigningKeyRevoked("", id, "", "")
	return nil
}

// TrustPublicKey records an externally-supplied public key as trusted for
// verification within orgID.
func (m *Manager) TrustPublicKey(ctx context.Context, orgID string, publicKey []byte, name *string) (*store.TrustedKey, error) {
	fingerprint := signing.ComputeKeyFingerprint(publicKey)
	tk := &store.TrustedKey{
		ID:          uuid.NewString(),
		OrgID:       orgID,
		Fingerprint: fingerprint,
		PublicKey:   publicKey,
		KeyName:     name,
		TrustedAt:   time.Now().UTC(),
	}
	if err := m.store.CreateTrustedKey(ctx, tk); err != nil {
		return nil, errors.Wrap(err, "failed to persist trusted key")
	}
	keyName := ""
	if name != nil {
		keyName = *name
	}
	audit.TrustedKeyAdded(orgID, tk.ID, fingerprint, keyName)
	return tk, nil
}

// RevokeTrustedKey withdraws trust from a previously trusted public key.
func (m *Manager) RevokeTrustedKey(ctx context.Context, id store.UUID) error {
	if err := m.store.RevokeTrustedKey(ctx, id, time.Now().UTC()); err != nil {
		return err
	}
	audit.TrustedKeyRevoked(id)
	return nil
}

// GrantTrust makes childOrg inherit every key parentOrg trusts, including
// keys parentOrg itself inherits from its own parents.
func (m *Manager) GrantTrust(ctx context.Context, parentOrg, childOrg string) error {
	if err := m.store.CreateTrustAcl(ctx, parentOrg, childOrg); err != nil {
		return err
	}
	audit.TrustAclGranted(parentOrg, childOrg)
	return nil
}

// RevokeTrust withdraws a previously granted trust relationship.
func (m *Manager) RevokeTrust(ctx context.Context, parentOrg, childOrg string) error {
	if err := m.store.RevokeTrustAcl(ctx, parentOrg, childOrg, time.Now().UTC()); err != nil {
		return err
	}
	audit.TrustAclRevoked(parentOrg, childOrg)
	return nil
}

// FindTrustedKey searches the keys trusted by orgID and by every ancestor
// org reached through active trust ACLs (parents, transitively) for
// fingerprint, returning the first active (non-revoked) match.
func (m *Manager) FindTrustedKey(ctx context.Context, orgID, fingerprint string) (*store.TrustedKey, error) {
	chain, err := m.store.ListTrustAclParents(ctx, orgID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to resolve trust chain")
	}
	for _, org := range chain {
		tk, err := m.store.GetTrustedKey(ctx, org, fingerprint)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, errors.Wrap(err, "failed to look up trusted key")
		}
		if tk.RevokedAt == nil {
			return tk, nil
		}
	}
	return nil, store.ErrNotFound
}

// VerifyPackage checks that data's signature sig was produced by a key
// orgID trusts (directly or via ACL chain) and that the signature is
// cryptographically valid, surfacing the original failure modes as typed
// errors for callers (loader, CLI) to report distinctly.
func (m *Manager) VerifyPackage(ctx context.Context, orgID string, data []byte, sig *signing.DetachedSignature) error {
	actualHash := signing.ComputePackageHash(data)
	if actualHash != sig.PackageHash {
		audit.VerificationFailureEvent(orgID, sig.PackageHash, "tampered_package", sig.KeyFingerprint)
		return &TamperedPackageError{Expected: sig.PackageHash, Actual: actualHash}
	}

	tk, err := m.FindTrustedKey(ctx, orgID, sig.KeyFingerprint)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			audit.VerificationFailureEvent(orgID, sig.PackageHash, "untrusted_signer", sig.KeyFingerprint)
			return &UntrustedSignerError{Fingerprint: sig.KeyFingerprint}
		}
		return err
	}

	if err := signing.Verify(data, sig, tk.PublicKey); err != nil {
		if errors.Is(err, signing.ErrVerificationFailed) {
			audit.VerificationFailureEvent(orgID, sig.PackageHash, "invalid_signature", sig.KeyFingerprint)
			return ErrInvalidSignature
		}
		audit.VerificationFailureEvent(orgID, sig.PackageHash, "malformed_signature", sig.KeyFingerprint)
		return &MalformedSignatureError{Reason: err.Error()}
	}
	signerName := ""
	if tk.KeyName != nil {
		signerName = *tk.KeyName
	}
	audit.VerificationSuccessEvent(orgID, sig.PackageHash, sig.KeyFingerprint, signerName)
	return nil
}
