// Package signing provides Ed25519 signing and verification for workflow
// packages: keypair generation, SHA-256 package hashing, SHA-256
// public-key fingerprinting, and detached-signature sign/verify.
package signing

import (
	"crypto/ed25519"
	cryptorand "crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/pkg/errors"
)

// Keypair is a freshly generated Ed25519 signing keypair. PrivateKey is the
// raw 32-byte seed — callers must encrypt it before persisting (see
// security/keymanager) rather than storing it in the clear.
type Keypair struct {
	PrivateKey  []byte
	PublicKey   []byte
	Fingerprint string
}

// GenerateKeypair creates a new Ed25519 signing keypair.
func GenerateKeypair() (*Keypair, error) {
	pub, priv, err := ed25519.GenerateKey(cryptorand.Reader)
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate ed25519 keypair")
	}
	seed := priv.Seed()
	return &Keypair{
		PrivateKey:  append([]byte(nil), seed...),
		PublicKey:   append([]byte(nil), pub...),
		Fingerprint: ComputeKeyFingerprint(pub),
	}, nil
}

// ComputeKeyFingerprint returns the SHA-256 hex fingerprint of a 32-byte
// Ed25519 public key.
func ComputeKeyFingerprint(publicKey []byte) string {
	sum := sha256.Sum256(publicKey)
	return hex.EncodeToString(sum[:])
}

// ComputePackageHash returns the SHA-256 hex hash of raw package archive
// bytes.
func ComputePackageHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// SignPackage signs packageHash (the hex string's bytes, matching what the
// detached Signature records) using a 32-byte Ed25519 private key seed.
func SignPackage(packageHash string, privateKeySeed []byte) ([]byte, error) {
	if len(privateKeySeed) != ed25519.SeedSize {
		return nil, errors.Errorf("invalid private key: expected %d bytes, got %d", ed25519.SeedSize, len(privateKeySeed))
	}
	priv := ed25519.NewKeyFromSeed(privateKeySeed)
	return ed25519.Sign(priv, []byte(packageHash)), nil
}

// VerifySignature checks a detached Ed25519 signature of packageHash against
// a 32-byte public key.
func VerifySignature(packageHash string, signature, publicKey []byte) error {
	if len(publicKey) != ed25519.PublicKeySize {
		return errors.Errorf("invalid public key: expected %d bytes, got %d", ed25519.PublicKeySize, len(publicKey))
	}
	if len(signature) != ed25519.SignatureSize {
		return errors.Errorf("invalid signature: expected %d bytes, got %d", ed25519.SignatureSize, len(signature))
	}
	if !ed25519.Verify(publicKey, []byte(packageHash), signature) {
		return ErrVerificationFailed
	}
	return nil
}

// ErrVerificationFailed is returned by VerifySignature when the signature
// does not validate against the given package hash and public key.
var ErrVerificationFailed = errors.New("signature verification failed")

// DetachedSignature is the on-disk sidecar format written alongside a signed
// workflow package archive.
type DetachedSignature struct {
	Version        int       `json:"version"`
	Algorithm      string    `json:"algorithm"`
	PackageHash    string    `json:"package_hash"`
	KeyFingerprint string    `json:"key_fingerprint"`
	Signature      string    `json:"signature"`
	SignedAt       time.Time `json:"signed_at"`
}

// CurrentSignatureVersion is the DetachedSignature.Version written by Sign.
const CurrentSignatureVersion = 2

// Algorithm is the only signature algorithm this package currently speaks.
const Algorithm = "ed25519"

// Sign computes the package hash of data, signs it with privateKeySeed, and
// returns the full detached-signature record ready for serialization.
func Sign(data []byte, privateKeySeed []byte, keyFingerprint string, now time.Time) (*DetachedSignature, error) {
	hash := ComputePackageHash(data)
	sig, err := SignPackage(hash, privateKeySeed)
	if err != nil {
		return nil, err
	}
	return &DetachedSignature{
		Version:        CurrentSignatureVersion,
		Algorithm:      Algorithm,
		PackageHash:    hash,
		KeyFingerprint: keyFingerprint,
		Signature:      hex.EncodeToString(sig),
		SignedAt:       now,
	}, nil
}

// Verify re-hashes data and checks it against sig.PackageHash before
// verifying the Ed25519 signature itself, so a tampered archive fails on
// the hash mismatch rather than a cryptic signature error.
func Verify(data []byte, sig *DetachedSignature, publicKey []byte) error {
	actual := ComputePackageHash(data)
	if actual != sig.PackageHash {
		return errors.Errorf("package hash mismatch: expected %s, got %s", sig.PackageHash, actual)
	}
	raw, err := hex.DecodeString(sig.Signature)
	if err != nil {
		return errors.Wrap(err, "malformed signature encoding")
	}
	return VerifySignature(sig.PackageHash, raw, publicKey)
}
