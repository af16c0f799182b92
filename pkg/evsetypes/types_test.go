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

package evsetypes

import (
	"crypto/x509"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPKIRoleString(t *testing.T) {
	assert.Equal(t, "V2G", PKIRoleV2G.String())
	assert.Equal(t, "CSMS", PKIRoleCSMS.String())
	assert.Equal(t, "MO", PKIRoleMO.String())
	assert.Equal(t, "MF", PKIRoleMF.String())
	assert.Equal(t, "Unknown", PKIRole(99).String())
}

func TestLeafRoleFileAndChainTags(t *testing.T) {
	assert.Equal(t, "CSMS_LEAF_", LeafRoleCSMS.FileTag())
	assert.Equal(t, "SECC_LEAF_", LeafRoleV2G.FileTag())
	assert.Equal(t, "CPO_CERT_CSMS_CHAIN_", LeafRoleCSMS.ChainTag())
	assert.Equal(t, "CPO_CERT_CHAIN_", LeafRoleV2G.ChainTag())
}

func TestCertificateHashDataEqual(t *testing.T) {
	a := CertificateHashData{IssuerNameHash: "n", IssuerKeyHash: "k", SerialNumber: "s"}
	b := CertificateHashData{IssuerNameHash: "n", IssuerKeyHash: "k", SerialNumber: "s"}
	c := CertificateHashData{IssuerNameHash: "n", IssuerKeyHash: "k", SerialNumber: "different"}

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}

func TestCertificateHashDataEqualFold(t *testing.T) {
	a := CertificateHashData{IssuerNameHash: "ABCD", IssuerKeyHash: "EF01", SerialNumber: "1A"}
	b := CertificateHashData{IssuerNameHash: "abcd", IssuerKeyHash: "ef01", SerialNumber: "1a"}
	assert.True(t, a.EqualFold(b))

	c := CertificateHashData{IssuerNameHash: "abcd", IssuerKeyHash: "ef01", SerialNumber: "1b"}
	assert.False(t, a.EqualFold(c))

	// EqualFold must not accidentally treat differently-sized strings as equal.
	d := CertificateHashData{IssuerNameHash: "abc", IssuerKeyHash: "ef01", SerialNumber: "1a"}
	assert.False(t, a.EqualFold(d))
}

func TestCertificateHashDataIsValid(t *testing.T) {
	assert.True(t, CertificateHashData{IssuerNameHash: "n", IssuerKeyHash: "k", SerialNumber: "s"}.IsValid())
	assert.False(t, CertificateHashData{IssuerNameHash: "n", IssuerKeyHash: "k"}.IsValid())
	assert.False(t, CertificateHashData{}.IsValid())
}

func TestCertificateHashDataSerializeText(t *testing.T) {
	h := CertificateHashData{IssuerNameHash: "n", IssuerKeyHash: "k", SerialNumber: "s"}
	assert.Equal(t, "nks", h.SerializeText())
}

func TestKeyUsageToX509(t *testing.T) {
	k := KeyUsageDigitalSignature | KeyUsageKeyEncipherment | KeyUsageCertSign
	got := k.ToX509()
	assert.NotZero(t, got&x509.KeyUsageDigitalSignature)
	assert.NotZero(t, got&x509.KeyUsageKeyEncipherment)
	assert.NotZero(t, got&x509.KeyUsageCertSign)
	assert.Zero(t, got&x509.KeyUsageCRLSign)
}

func TestHasCertExtension(t *testing.T) {
	assert.True(t, HasCertExtension("leaf.pem"))
	assert.True(t, HasCertExtension("leaf.PEM"))
	assert.True(t, HasCertExtension("leaf.der"))
	assert.False(t, HasCertExtension("leaf.key"))
	assert.False(t, HasCertExtension("leaf.txt"))
}
