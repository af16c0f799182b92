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

package evsecurity

import (
	"crypto/x509"
	"encoding/base64"
	"os"

	"github.com/automatethethings/evse-security/pkg/certbundle"
	"github.com/automatethethings/evse-security/pkg/certprimitive"
	"github.com/automatethethings/evse-security/pkg/cryptoutil"
	"github.com/automatethethings/evse-security/pkg/evsetypes"
)

// verifyChainInternal validates chain's leaf (chain[0]) against the trust
// anchors of every role in roles, trying each until one succeeds. Any
// remaining certificates in chain are treated as untrusted intermediates.
func (e *Engine) verifyChainInternal(chain []*certprimitive.CP, roles []evsetypes.LeafRole) evsetypes.CertificateValidationResult {
	if len(chain) == 0 {
		return evsetypes.ValidationUnknown
	}
	leaf := chain[0].Certificate()

	var intermediates []*x509.Certificate
	for _, cp := range chain[1:] {
		intermediates = append(intermediates, cp.Certificate())
	}

	var last evsetypes.CertificateValidationResult = evsetypes.ValidationIssuerNotFound
	for _, role := range roles {
		rootRole, err := rootRoleFor(role)
		if err != nil {
			continue
		}
		rootBundle, err := e.loadCABundle(rootRole)
		if err != nil {
			continue
		}

		var trusted []*x509.Certificate
		for _, cp := range rootBundle.Split() {
			trusted = append(trusted, cp.Certificate())
		}

		result := cryptoutil.VerifyChain(leaf, trusted, intermediates, true)
		mapped := mapValidationResult(result.Result)
		if mapped == evsetypes.ValidationValid {
			return evsetypes.ValidationValid
		}
		last = mapped
	}
	return last
}

func mapValidationResult(result string) evsetypes.CertificateValidationResult {
	switch result {
	case "Valid":
		return evsetypes.ValidationValid
	case "Expired":
		return evsetypes.ValidationExpired
	case "InvalidSignature":
		return evsetypes.ValidationInvalidSignature
	case "InvalidChain":
		return evsetypes.ValidationInvalidChain
	case "IssuerNotFound":
		return evsetypes.ValidationIssuerNotFound
	default:
		return evsetypes.ValidationUnknown
	}
}

// VerifyCertificate parses pemChain and validates its leaf against the
// trust anchors of any of roles, trying them in order.
func (e *Engine) VerifyCertificate(pemChain string, roles []evsetypes.LeafRole) evsetypes.CertificateValidationResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(roles) == 0 {
		return evsetypes.ValidationIssuerNotFound
	}

	chainBundle, err := certbundle.NewFromString(pemChain)
	if err != nil {
		return evsetypes.ValidationUnknown
	}
	chain := chainBundle.Split()
	return e.verifyChainInternal(chain, roles)
}

// GetVerifyFile returns the filesystem path to role's trust-anchor bundle,
// suitable for passing to a TLS library's verify-locations option. Empty
// string means no usable bundle is installed.
func (e *Engine) GetVerifyFile(role evsetypes.PKIRole) string {
	e.mu.Lock()
	defer e.mu.Unlock()

	bundle, err := e.loadCABundle(role)
	if err != nil || bundle.Empty() {
		return ""
	}
	return bundle.Path()
}

// GetLeafExpiryDays reports the number of days remaining before role's
// selected leaf certificate (the currently valid certificate with the latest
// NotBefore in the leaf directory) expires, or 0 if there is none.
func (e *Engine) GetLeafExpiryDays(role evsetypes.LeafRole) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	leafBundle, _, _, err := e.loadLeafBundle(role)
	if err != nil {
		return 0
	}
	latest, err := leafBundle.LatestValidCertificate(nowFunc())
	if err != nil {
		return 0
	}
	remaining := latest.Certificate().NotAfter.Sub(nowFunc())
	days := int(remaining.Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

// VerifyFileSignature verifies that base64Signature is a valid SHA-256
// signature over the contents of filePath made by the private key behind
// pemSigningCert.
func (e *Engine) VerifyFileSignature(filePath string, pemSigningCert string, base64Signature string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	data, err := os.ReadFile(filePath)
	if err != nil {
		e.logger.Errorf("verify file signature: could not read %s: %v", filePath, err)
		return false
	}

	signature, err := base64.StdEncoding.DecodeString(base64Signature)
	if err != nil {
		e.logger.Errorf("verify file signature: invalid base64 signature: %v", err)
		return false
	}

	signer, err := certprimitive.FromPEM([]byte(pemSigningCert))
	if err != nil {
		e.logger.Errorf("verify file signature: could not parse signing certificate: %v", err)
		return false
	}

	// CheckSignature hashes data itself, so pass the raw file bytes rather
	// than a precomputed digest to avoid signing/verifying SHA256(SHA256(file)).
	if err := cryptoutil.VerifyRawSignature(signer.Certificate(), data, signature); err != nil {
		e.logger.Warnf("verify file signature: signature does not verify: %v", err)
		return false
	}
	return true
}
