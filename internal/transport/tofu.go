// Package transport provides the local rendezvous transport (Unix socket or
// TLS-over-TCP with trust-on-first-use fingerprint pinning) the daemon and
// its clients use instead of CA-chain verification.
package transport

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"strings"

	"kild/internal/errors"
)

// Fingerprint is the 32-byte SHA-256 digest of an end-entity certificate's
// DER encoding.
type Fingerprint [32]byte

// CertFingerprint computes the pinning fingerprint of cert.
func CertFingerprint(cert *x509.Certificate) Fingerprint {
	return sha256.Sum256(cert.Raw)
}

// Hex formats a fingerprint as "sha256:<64 lowercase hex chars>".
func (f Fingerprint) Hex() string {
	return "sha256:" + hex.EncodeToString(f[:])
}

// ParseFingerprint accepts both "sha256:<hex>" and bare "<hex>" forms.
func ParseFingerprint(s string) (Fingerprint, error) {
	s = strings.TrimPrefix(s, "sha256:")
	raw, err := hex.DecodeString(s)
	if err != nil {
		return Fingerprint{}, errors.New(errors.TLSFingerprintMalformed, true, "invalid fingerprint %q: not hex: %v", s, err)
	}
	if len(raw) != 32 {
		return Fingerprint{}, errors.New(errors.TLSFingerprintMalformed, true, "invalid fingerprint %q: expected 32 bytes, got %d", s, len(raw))
	}
	var fp Fingerprint
	copy(fp[:], raw)
	return fp, nil
}

// VerifyPinned returns an error whose message names both the expected and
// observed fingerprints if cert's digest does not match pinned byte-for-byte.
func VerifyPinned(pinned Fingerprint, cert *x509.Certificate) error {
	got := CertFingerprint(cert)
	if got == pinned {
		return nil
	}
	return errors.New(errors.TLSFingerprintMismatch, true,
		"TLS cert fingerprint mismatch — expected %s got %s", pinned.Hex(), got.Hex())
}
