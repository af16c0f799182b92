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

// Package testutil generates X.509 fixtures for the certificate store
// tests: self-signed roots, intermediates, and leaves, each with an
// independently configurable validity window so chain, expiry, and
// hierarchy tests don't have to fight a hardcoded 24-hour lifetime.
package testutil

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"time"

	"github.com/automatethethings/evse-security/pkg/cryptoutil"
)

// IssuedCert is one node of a generated chain: its parsed certificate, its
// private key, and the PEM encodings of both.
type IssuedCert struct {
	Cert    *x509.Certificate
	Key     *ecdsa.PrivateKey
	CertPEM []byte
	KeyPEM  []byte
}

// CertOptions configures one node of a generated chain. NotBefore/NotAfter
// default to "valid now for one hour" when left zero.
type CertOptions struct {
	CommonName  string
	NotBefore   time.Time
	NotAfter    time.Time
	IsCA        bool
	KeyUsage    x509.KeyUsage
	ExtKeyUsage []x509.ExtKeyUsage
	DNSNames    []string
}

func (o CertOptions) validity() (time.Time, time.Time) {
	notBefore := o.NotBefore
	if notBefore.IsZero() {
		notBefore = time.Now().Add(-time.Minute)
	}
	notAfter := o.NotAfter
	if notAfter.IsZero() {
		notAfter = notBefore.Add(time.Hour)
	}
	return notBefore, notAfter
}

// NewRootCA generates a self-signed CA with the given validity window,
// wrapping cryptoutil.GenerateSelfSignedCA so root fixtures exercise the
// same code path the engine itself uses to validate CA bundles.
func NewRootCA(commonName string, notBefore, notAfter time.Time) (*IssuedCert, error) {
	cert, key, err := cryptoutil.GenerateSelfSignedCA(commonName, notBefore, notAfter)
	if err != nil {
		return nil, fmt.Errorf("testutil: failed to generate root CA: %w", err)
	}
	return toIssuedCert(cert, key)
}

// NewIntermediateCA issues a CA certificate signed by parent, for building
// multi-level hierarchies (root -> intermediate -> leaf).
func NewIntermediateCA(parent *IssuedCert, opts CertOptions) (*IssuedCert, error) {
	opts.IsCA = true
	if opts.KeyUsage == 0 {
		opts.KeyUsage = x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature
	}
	return issue(parent, opts, nil)
}

// NewLeafCert issues an end-entity certificate signed by parent.
func NewLeafCert(parent *IssuedCert, opts CertOptions) (*IssuedCert, error) {
	opts.IsCA = false
	if opts.KeyUsage == 0 {
		opts.KeyUsage = x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment
	}
	if len(opts.ExtKeyUsage) == 0 {
		opts.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth}
	}
	if len(opts.DNSNames) == 0 && opts.CommonName != "" {
		opts.DNSNames = []string{opts.CommonName}
	}
	return issue(parent, opts, nil)
}

// NewLeafCertWithKey issues an end-entity certificate signed by parent,
// bound to subjectKey instead of a freshly generated one. Useful for tests
// that need the resulting certificate to pair with a private key that
// already exists on disk (e.g. one written by a prior CSR generation step).
func NewLeafCertWithKey(parent *IssuedCert, opts CertOptions, subjectKey *ecdsa.PrivateKey) (*IssuedCert, error) {
	opts.IsCA = false
	if opts.KeyUsage == 0 {
		opts.KeyUsage = x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment
	}
	if len(opts.ExtKeyUsage) == 0 {
		opts.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth}
	}
	if len(opts.DNSNames) == 0 && opts.CommonName != "" {
		opts.DNSNames = []string{opts.CommonName}
	}
	return issue(parent, opts, subjectKey)
}

func issue(parent *IssuedCert, opts CertOptions, subjectKey *ecdsa.PrivateKey) (*IssuedCert, error) {
	key := subjectKey
	if key == nil {
		generated, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("testutil: failed to generate key: %w", err)
		}
		key = generated
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("testutil: failed to generate serial number: %w", err)
	}
	notBefore, notAfter := opts.validity()

	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: opts.CommonName},
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		IsCA:                  opts.IsCA,
		KeyUsage:              opts.KeyUsage,
		ExtKeyUsage:           opts.ExtKeyUsage,
		DNSNames:              opts.DNSNames,
		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, parent.Cert, &key.PublicKey, parent.Key)
	if err != nil {
		return nil, fmt.Errorf("testutil: failed to create certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("testutil: failed to parse certificate: %w", err)
	}
	return toIssuedCert(cert, key)
}

func toIssuedCert(cert *x509.Certificate, key *ecdsa.PrivateKey) (*IssuedCert, error) {
	certPEM := encodeCertPEM(cert.Raw)
	keyBytes, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("testutil: failed to marshal key: %w", err)
	}
	return &IssuedCert{
		Cert:    cert,
		Key:     key,
		CertPEM: certPEM,
		KeyPEM:  encodePEM("EC PRIVATE KEY", keyBytes),
	}, nil
}

func encodeCertPEM(der []byte) []byte {
	return encodePEM("CERTIFICATE", der)
}

func encodePEM(blockType string, bytes []byte) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: bytes})
}

// Chain is a root -> [intermediate] -> leaf hierarchy, generated with
// independently configurable validity windows for each level so tests can
// exercise expired-intermediate, not-yet-valid-leaf, and similar edge cases.
type Chain struct {
	Root         *IssuedCert
	Intermediate *IssuedCert // nil for a two-level root -> leaf chain
	Leaf         *IssuedCert
}

// ChainOptions configures NewChain's three levels. Intermediate is optional:
// leave it nil to get a direct root -> leaf chain.
type ChainOptions struct {
	RootCN         string
	RootNotBefore  time.Time
	RootNotAfter   time.Time
	Intermediate   *CertOptions
	Leaf           CertOptions
}

// NewChain builds a complete certificate chain for hierarchy and
// verification tests.
func NewChain(opts ChainOptions) (*Chain, error) {
	root, err := NewRootCA(opts.RootCN, opts.RootNotBefore, opts.RootNotAfter)
	if err != nil {
		return nil, err
	}

	issuer := root
	chain := &Chain{Root: root}
	if opts.Intermediate != nil {
		intermediate, err := NewIntermediateCA(root, *opts.Intermediate)
		if err != nil {
			return nil, err
		}
		chain.Intermediate = intermediate
		issuer = intermediate
	}

	leaf, err := NewLeafCert(issuer, opts.Leaf)
	if err != nil {
		return nil, err
	}
	chain.Leaf = leaf
	return chain, nil
}
