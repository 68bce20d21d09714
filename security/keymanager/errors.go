package keymanager

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrInvalidSignature is returned when a signature's cryptographic
// verification fails against an otherwise-trusted key.
var ErrInvalidSignature = errors.New("invalid signature")

// TamperedPackageError means the archive's content no longer matches the
// hash recorded at signing time.
type TamperedPackageError struct {
	Expected string
	Actual   string
}

func (e *TamperedPackageError) Error() string {
	return fmt.Sprintf("package hash mismatch: expected %s, got %s", e.Expected, e.Actual)
}

// UntrustedSignerError means the signature's key fingerprint is not found
// in the verifying org's trust chain.
type UntrustedSignerError struct {
	Fingerprint string
}

func (e *UntrustedSignerError) Error() string {
	return fmt.Sprintf("signer %s is not trusted", e.Fingerprint)
}

// MalformedSignatureError means the signature record itself could not be
// parsed or had an invalid shape prior to cryptographic verification.
type MalformedSignatureError struct {
	Reason string
}

func (e *MalformedSignatureError) Error() string {
	return fmt.Sprintf("malformed signature: %s", e.Reason)
}
