// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-keychain.
//
// go-keychain is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package certprimitive implements the Certificate Primitive (CP): a value
// type wrapping one parsed X.509 certificate plus its optional on-disk
// origin and cached validity window (spec.md §4.1).
package certprimitive

import (
	"crypto/x509"
	"fmt"
	"os"
	"time"

	"github.com/automatethethings/evse-security/pkg/cryptoutil"
	"github.com/automatethethings/evse-security/pkg/encoding"
	"github.com/automatethethings/evse-security/pkg/evsetypes"
)

// ErrCertificateLoad is returned by constructors when the input cannot be
// parsed as exactly one certificate.
var ErrCertificateLoad = fmt.Errorf("certprimitive: failed to load certificate")

// CP wraps one parsed X.509 certificate. Identity is defined by
// cryptographic equality (DER bytes), never by on-disk path.
type CP struct {
	cert *x509.Certificate
	path string // empty when the CP has no on-disk origin
}

// FromPEM parses exactly one PEM-encoded certificate. A string containing
// more than one PEM block fails with ErrCertificateLoad (spec.md §4.1).
func FromPEM(pemData []byte) (*CP, error) {
	certs, err := encoding.DecodeCertificateChainPEM(pemData)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCertificateLoad, err)
	}
	if len(certs) != 1 {
		return nil, fmt.Errorf("%w: expected exactly one certificate, found %d", ErrCertificateLoad, len(certs))
	}
	return &CP{cert: certs[0]}, nil
}

// FromDER parses a single DER-encoded certificate.
func FromDER(der []byte) (*CP, error) {
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCertificateLoad, err)
	}
	return &CP{cert: cert}, nil
}

// FromCertificate wraps an already-parsed certificate (used by tests and by
// code paths that have already split a multi-PEM bundle).
func FromCertificate(cert *x509.Certificate) *CP {
	return &CP{cert: cert}
}

// FromFile loads a single certificate from a regular file. Non-regular
// files (directories, sockets, etc.) are rejected.
func FromFile(path string) (*CP, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCertificateLoad, err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s is not a regular file", ErrCertificateLoad, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCertificateLoad, err)
	}
	cp, err := FromPEM(data)
	if err != nil {
		if der, derr := x509.ParseCertificate(data); derr == nil {
			cp = &CP{cert: der}
		} else {
			return nil, err
		}
	}
	cp.path = path
	return cp, nil
}

// Certificate returns the wrapped parsed certificate.
func (c *CP) Certificate() *x509.Certificate { return c.cert }

// Path returns the on-disk origin path, or "" if this CP has none.
func (c *CP) Path() string { return c.path }

// SetPath records (or clears, with "") the on-disk origin of this CP. CBs
// use this when associating a parsed CP with the file it came from.
func (c *CP) SetPath(path string) { c.path = path }

// ValidInSeconds returns how long until the certificate's NotBefore is
// reached, negative when already in the past.
func (c *CP) ValidInSeconds(now time.Time) int64 {
	return int64(c.cert.NotBefore.Sub(now).Seconds())
}

// ValidToSeconds returns how long until the certificate's NotAfter,
// negative when already expired.
func (c *CP) ValidToSeconds(now time.Time) int64 {
	return int64(c.cert.NotAfter.Sub(now).Seconds())
}

// IsValid reports valid_in <= 0 && valid_to >= 0.
func (c *CP) IsValid(now time.Time) bool {
	return c.ValidInSeconds(now) <= 0 && c.ValidToSeconds(now) >= 0
}

// IsExpired reports valid_to < 0.
func (c *CP) IsExpired(now time.Time) bool {
	return c.ValidToSeconds(now) < 0
}

// IsSelfSigned delegates to the crypto provider's self-signed test.
func (c *CP) IsSelfSigned() bool {
	return cryptoutil.IsSelfSigned(c.cert)
}

// IsChild reports whether c was issued by parent. Always false when
// compared against itself.
func (c *CP) IsChild(parent *CP) bool {
	if parent == nil {
		return false
	}
	return cryptoutil.IsChild(c.cert, parent.cert)
}

// Equal defines identity by cryptographic content (DER-normalized), not path.
func (c *CP) Equal(other *CP) bool {
	if c == nil || other == nil {
		return c == other
	}
	return bytesEqual(c.cert.Raw, other.cert.Raw)
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ExportPEM returns the canonical PEM encoding of the certificate.
func (c *CP) ExportPEM() ([]byte, error) {
	return encoding.EncodeCertificatePEM(c.cert)
}

// CommonName returns the subject's Common Name.
func (c *CP) CommonName() string { return c.cert.Subject.CommonName }

// SerialNumber returns the certificate's serial number rendered per
// spec.md §3: hex, no "0x" prefix, no leading zeroes.
func (c *CP) SerialNumber() string {
	return cryptoutil.SerialHex(c.cert.SerialNumber)
}

// IssuerNameHash returns the SHA-256 hash of the issuer's DER-encoded name.
func (c *CP) IssuerNameHash() string {
	return cryptoutil.NameHash(c.cert.RawIssuer)
}

// KeyHash returns the SHA-256 hash of this certificate's own subject public key.
func (c *CP) KeyHash() (string, error) {
	return cryptoutil.KeyHash(c.cert)
}

// IssuerKeyHash returns the key hash to use as the issuer-key-hash field: the
// certificate's own key hash when self-signed (spec.md §4.1), otherwise it
// is illegal to call without a parent (use CertificateHashData(parent)).
func (c *CP) IssuerKeyHash() (string, error) {
	if !c.IsSelfSigned() {
		return "", fmt.Errorf("certprimitive: issuer key hash requires a parent for non-self-signed certificates")
	}
	return c.KeyHash()
}

// ResponderURL returns the certificate's OCSP responder URL, or "" if absent.
func (c *CP) ResponderURL() string {
	for _, url := range c.cert.OCSPServer {
		if url != "" {
			return url
		}
	}
	return ""
}

// KeyUsageFlags returns the certificate's raw x509.KeyUsage bitmask.
func (c *CP) KeyUsageFlags() x509.KeyUsage {
	return c.cert.KeyUsage
}

// CertificateHashData computes the self-issuer form: issuer-key-hash equals
// this certificate's own key hash (only meaningful when self-signed).
func (c *CP) CertificateHashData() (evsetypes.CertificateHashData, error) {
	keyHash, err := c.KeyHash()
	if err != nil {
		return evsetypes.CertificateHashData{}, err
	}
	return evsetypes.CertificateHashData{
		HashAlgorithm:  evsetypes.HashAlgorithmSHA256,
		IssuerNameHash: c.IssuerNameHash(),
		IssuerKeyHash:  keyHash,
		SerialNumber:   c.SerialNumber(),
	}, nil
}

// CertificateHashDataWithParent computes the issuer-bound hash: verifies
// is_child(parent) first, then fills issuer-key-hash from parent's subject
// key hash (spec.md §4.1).
func (c *CP) CertificateHashDataWithParent(parent *CP) (evsetypes.CertificateHashData, error) {
	if !c.IsChild(parent) {
		return evsetypes.CertificateHashData{}, fmt.Errorf("certprimitive: %s is not a child of the given parent", c.CommonName())
	}
	issuerKeyHash, err := parent.KeyHash()
	if err != nil {
		return evsetypes.CertificateHashData{}, err
	}
	return evsetypes.CertificateHashData{
		HashAlgorithm:  evsetypes.HashAlgorithmSHA256,
		IssuerNameHash: c.IssuerNameHash(),
		IssuerKeyHash:  issuerKeyHash,
		SerialNumber:   c.SerialNumber(),
	}, nil
}
