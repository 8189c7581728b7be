package registry

import (
	"crypto/sha1"
	"crypto/x509"
	"encoding/hex"
	"strings"
)

// Thumbprint returns the certificate's SHA-1 fingerprint as lower-case hex
// without separators. This is the device's durable identity key; it must be
// computed identically on every connection.
func Thumbprint(cert *x509.Certificate) string {
	if cert == nil {
		return ""
	}
	sum := sha1.Sum(cert.Raw)
	return hex.EncodeToString(sum[:])
}

// NormalizeThumbprint folds an externally supplied fingerprint ("AB:CD:..."
// display forms included) into the canonical lookup key.
func NormalizeThumbprint(s string) string {
	return strings.ToLower(strings.ReplaceAll(s, ":", ""))
}
