// Package audit emits structured security audit events for SIEM ingestion:
// package loads, key lifecycle operations, and signature verification
// outcomes, built on log/slog structured logging.
package audit

import "log/slog"

// Event type constants in a stable dot-notation namespace suitable for
// SIEM ingestion rules.
const (
	PackageLoadSuccess = "package.load.success"
	PackageLoadFailure = "package.load.failure"
	PackageSigned      = "package.signed"
	PackageSignFailure = "package.sign.failure"

	KeySigningCreated      = "key.signing.created"
	KeySigningCreateFailed = "key.signing.create_failed"
	KeySigningRevoked      = "key.signing.revoked"
	KeyExported            = "key.exported"

	KeyTrustedAdded   = "key.trusted.added"
	KeyTrustedRevoked = "key.trusted.revoked"

	KeyTrustAclGranted = "key.trust_acl.granted"
	KeyTrustAclRevoked = "key.trust_acl.revoked"

	VerificationSuccess = "verification.success"
	VerificationFailure = "verification.failure"
)

// SigningKeyCreated logs a successful signing key creation.
func SigningKeyCreated(orgID, keyID, fingerprint, keyName string) {
	slog.Info("signing key created", "event_type", KeySigningCreated, "org_id", orgID, "key_id", keyID, "key_fingerprint", fingerprint, "key_name", keyName)
}

// SigningKeyCreateFailed logs a failed signing key creation attempt.
func SigningKeyCreateFailed(orgID, keyName, errMsg string) {
	slog.Error("failed to create signing key", "event_type", KeySigningCreateFailed, "org_id", orgID, "key_name", keyName, "error", errMsg)
}

// SigningKeyRevoked logs a signing key revocation.
func SigningKeyRevoked(orgID, keyID, fingerprint, keyName string) {
	if keyName == "" {
		keyName = "<unknown>"
	}
	slog.Warn("signing key revoked", "event_type", KeySigningRevoked, "org_id", orgID, "key_id", keyID, "key_fingerprint", fingerprint, "key_name", keyName)
}

// KeyExported logs a public key export.
func KeyExported(keyID, fingerprint string) {
	slog.Info("public key exported", "event_type", KeyExported, "key_id", keyID, "key_fingerprint", fingerprint)
}

// TrustedKeyAdded logs a trusted key addition.
func TrustedKeyAdded(orgID, keyID, fingerprint, keyName string) {
	if keyName == "" {
		keyName = "<unnamed>"
	}
	slog.Warn("trusted key added", "event_type", KeyTrustedAdded, "org_id", orgID, "key_id", keyID, "key_fingerprint", fingerprint, "key_name", keyName)
}

// TrustedKeyRevoked logs a trusted key revocation.
func TrustedKeyRevoked(keyID string) {
	slog.Warn("trusted key revoked", "event_type", KeyTrustedRevoked, "key_id", keyID)
}

// TrustAclGranted logs a trust ACL grant between orgs.
func TrustAclGranted(parentOrg, childOrg string) {
	slog.Warn("trust acl granted", "event_type", KeyTrustAclGranted, "parent_org_id", parentOrg, "child_org_id", childOrg)
}

// TrustAclRevoked logs a trust ACL revocation between orgs.
func TrustAclRevoked(parentOrg, childOrg string) {
	slog.Warn("trust acl revoked", "event_type", KeyTrustAclRevoked, "parent_org_id", parentOrg, "child_org_id", childOrg)
}

// PackageSignedEvent logs a successful package signing.
func PackageSignedEvent(packagePath, packageHash, fingerprint string) {
	slog.Info("package signed", "event_type", PackageSigned, "package_path", packagePath, "package_hash", packageHash, "key_fingerprint", fingerprint)
}

// PackageSignFailedEvent logs a failed package signing attempt.
func PackageSignFailedEvent(packagePath, errMsg string) {
	slog.Error("package signing failed", "event_type", PackageSignFailure, "package_path", packagePath, "error", errMsg)
}

// PackageLoadSuccessEvent logs a successful package load.
func PackageLoadSuccessEvent(orgID, packagePath, packageHash, signerFingerprint string, signatureVerified bool) {
	if signerFingerprint == "" {
		signerFingerprint = "<none>"
	}
	slog.Info("package loaded successfully", "event_type", PackageLoadSuccess, "org_id", orgID, "package_path", packagePath, "package_hash", packageHash, "signer_fingerprint", signerFingerprint, "signature_verified", signatureVerified)
}

// PackageLoadFailureEvent logs a failed package load.
func PackageLoadFailureEvent(orgID, packagePath, errMsg, failureReason string) {
	slog.Warn("package load failed", "event_type", PackageLoadFailure, "org_id", orgID, "package_path", packagePath, "error", errMsg, "failure_reason", failureReason)
}

// VerificationSuccessEvent logs a successful signature verification.
func VerificationSuccessEvent(orgID, packageHash, signerFingerprint, signerName string) {
	if signerName == "" {
		signerName = "<unknown>"
	}
	slog.Info("package signature verified successfully", "event_type", VerificationSuccess, "org_id", orgID, "package_hash", packageHash, "signer_fingerprint", signerFingerprint, "signer_name", signerName)
}

// VerificationFailureEvent logs a failed signature verification.
func VerificationFailureEvent(orgID, packageHash, failureReason, signerFingerprint string) {
	if signerFingerprint == "" {
		signerFingerprint = "<unknown>"
	}
	slog.Warn("package signature verification failed", "event_type", VerificationFailure, "org_id", orgID, "package_hash", packageHash, "failure_reason", failureReason, "signer_fingerprint", signerFingerprint)
}
