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

// Package cryptoutil absorbs the small set of operations spec.md treats as
// belonging to an external "primitive crypto provider" collaborator:
// issuer/child relationships, subject/issuer key hashing, CSR and
// self-signed certificate generation, raw signature verification, and
// chain verification. It exists so certprimitive, certhierarchy and
// evsecurity never touch crypto/x509 directly for these concerns.
package cryptoutil

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"math/big"
	"net"
	"time"
)

// ErrNoIssuer is returned when an issuer-bound operation is attempted
// without a parent certificate (spec.md §4.1: "illegal to call without a parent").
var ErrNoIssuer = errors.New("cryptoutil: operation requires a parent certificate")

// IsChild reports whether child was issued by parent: parent's subject must
// equal child's issuer (by raw DER bytes) and the signature must verify.
// A certificate is never its own child.
func IsChild(child, parent *x509.Certificate) bool {
	if child == nil || parent == nil || child == parent {
		return false
	}
	if !bytesEqual(child.RawIssuer, parent.RawSubject) {
		return false
	}
	return child.CheckSignatureFrom(parent) == nil
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

// IsSelfSigned reports whether cert appears to be self-signed: subject
// equals issuer and the certificate verifies against its own public key.
func IsSelfSigned(cert *x509.Certificate) bool {
	if cert == nil {
		return false
	}
	if !bytesEqual(cert.RawSubject, cert.RawIssuer) {
		return false
	}
	return cert.CheckSignatureFrom(cert) == nil
}

// NameHash returns the SHA-256 hash of the DER-encoded name, hex-encoded.
func NameHash(raw []byte) string {
	sum := sha256.Sum256(raw)
	return fmt.Sprintf("%x", sum)
}

// KeyHash returns the SHA-256 hash of the certificate's public key in its
// DER-encoded SubjectPublicKeyInfo form (algorithm identifier included),
// hex-encoded.
func KeyHash(cert *x509.Certificate) (string, error) {
	if cert == nil {
		return "", fmt.Errorf("cryptoutil: nil certificate")
	}
	pub, err := x509.MarshalPKIXPublicKey(cert.PublicKey)
	if err != nil {
		return "", fmt.Errorf("cryptoutil: failed to marshal public key: %w", err)
	}
	sum := sha256.Sum256(pub)
	return fmt.Sprintf("%x", sum), nil
}

// SerialHex renders a certificate serial number the way the reference
// implementation does: hexadecimal, no "0x" prefix, no leading zeroes.
func SerialHex(serial *big.Int) string {
	if serial == nil {
		return "0"
	}
	return fmt.Sprintf("%x", serial)
}

// CSRParams carries the fields GenerateCSR needs to build a PKCS#10 request.
type CSRParams struct {
	Country      string
	Organization string
	CommonName   string
	DNSName      string // optional SubjectAltName DNS entry
	IPAddress    net.IP // optional SubjectAltName IP entry
	KeyUsage     x509.KeyUsage
}

// GenerateKeyAndCSR generates a NIST P-256 private key and a DER-encoded
// PKCS#10 certificate signing request for it.
func GenerateKeyAndCSR(params CSRParams) (*ecdsa.PrivateKey, []byte, error) {
	if len(params.Country) != 2 {
		return nil, nil, fmt.Errorf("cryptoutil: country must be a 2-letter code")
	}
	if params.Organization == "" || params.CommonName == "" {
		return nil, nil, fmt.Errorf("cryptoutil: organization and common name are required")
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("cryptoutil: failed to generate key: %w", err)
	}

	template := &x509.CertificateRequest{
		Subject: pkix.Name{
			Country:      []string{params.Country},
			Organization: []string{params.Organization},
			CommonName:   params.CommonName,
		},
	}
	if params.DNSName != "" {
		template.DNSNames = []string{params.DNSName}
	}
	if params.IPAddress != nil {
		template.IPAddresses = []net.IP{params.IPAddress}
	}

	der, err := x509.CreateCertificateRequest(rand.Reader, template, key)
	if err != nil {
		return nil, nil, fmt.Errorf("cryptoutil: failed to create CSR: %w", err)
	}

	return key, der, nil
}

// GenerateSelfSignedCA generates a self-signed CA certificate and its
// private key, for use only by tests and fixtures.
func GenerateSelfSignedCA(commonName string, notBefore, notAfter time.Time) (*x509.Certificate, *ecdsa.PrivateKey, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, nil, err
	}
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: commonName},
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, nil, err
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, nil, err
	}
	return cert, key, nil
}

// VerifyChainResult is the coarse outcome of VerifyChain.
type VerifyChainResult struct {
	Result string // one of the CertificateValidationResult names
	Err    error
}

// VerifyChain delegates to crypto/x509's chain verification, mapping errors
// to the coarse CertificateValidationResult taxonomy (spec.md §4.5).
func VerifyChain(leaf *x509.Certificate, trusted, untrusted []*x509.Certificate, allowFutureValidity bool) VerifyChainResult {
	if leaf == nil {
		return VerifyChainResult{Result: "Unknown", Err: fmt.Errorf("cryptoutil: nil leaf")}
	}
	if len(trusted) == 0 {
		return VerifyChainResult{Result: "IssuerNotFound"}
	}

	roots := x509.NewCertPool()
	for _, c := range trusted {
		roots.AddCert(c)
	}
	inter := x509.NewCertPool()
	for _, c := range untrusted {
		inter.AddCert(c)
	}

	currentTime := time.Now()
	if allowFutureValidity && leaf.NotBefore.After(currentTime) {
		currentTime = leaf.NotBefore
	}

	opts := x509.VerifyOptions{
		Roots:         roots,
		Intermediates: inter,
		CurrentTime:   currentTime,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	}

	if _, err := leaf.Verify(opts); err != nil {
		switch err.(type) {
		case x509.CertificateInvalidError:
			cie := err.(x509.CertificateInvalidError)
			switch cie.Reason {
			case x509.Expired:
				return VerifyChainResult{Result: "Expired", Err: err}
			default:
				return VerifyChainResult{Result: "InvalidChain", Err: err}
			}
		case x509.UnknownAuthorityError:
			return VerifyChainResult{Result: "IssuerNotFound", Err: err}
		default:
			return VerifyChainResult{Result: "InvalidSignature", Err: err}
		}
	}

	return VerifyChainResult{Result: "Valid"}
}

// MatchesPrivateKey reports whether privateKey is the key pair of cert's
// public key, used to locate which on-disk key file belongs to a given
// certificate.
func MatchesPrivateKey(cert *x509.Certificate, privateKey crypto.PrivateKey) bool {
	if cert == nil || privateKey == nil {
		return false
	}
	switch priv := privateKey.(type) {
	case *rsa.PrivateKey:
		pub, ok := cert.PublicKey.(*rsa.PublicKey)
		return ok && pub.Equal(&priv.PublicKey)
	case *ecdsa.PrivateKey:
		pub, ok := cert.PublicKey.(*ecdsa.PublicKey)
		return ok && pub.Equal(&priv.PublicKey)
	case ed25519.PrivateKey:
		pub, ok := cert.PublicKey.(ed25519.PublicKey)
		return ok && pub.Equal(priv.Public())
	default:
		return false
	}
}

// VerifyRawSignature verifies a raw (non-ASN.1-wrapped for Ed25519, ASN.1 for
// ECDSA/RSA) signature over data using the public key embedded in signer.
func VerifyRawSignature(signer *x509.Certificate, data, signature []byte) error {
	if signer == nil {
		return fmt.Errorf("cryptoutil: nil signing certificate")
	}
	return signer.CheckSignature(signer.SignatureAlgorithm, data, signature)
}
