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
	"crypto/ecdsa"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/automatethethings/evse-security/internal/testutil"
	"github.com/automatethethings/evse-security/pkg/certprimitive"
	"github.com/automatethethings/evse-security/pkg/encoding"
	"github.com/automatethethings/evse-security/pkg/evsetypes"
)

// rootCertificateHash computes the CertificateHashData for a self-signed
// root, matching what the engine's own hierarchy-building code would derive.
func rootCertificateHash(t *testing.T, root *testutil.IssuedCert) evsetypes.CertificateHashData {
	t.Helper()
	hash, err := certprimitive.FromCertificate(root.Cert).CertificateHashData()
	require.NoError(t, err)
	return hash
}

// installedLeafHash loads role's leaf bundle, takes the first chain's leaf
// certificate, and computes its issuer-bound hash against the anchoring root
// bundle for rootRole - the same value certhierarchy.Build would assign it.
func installedLeafHash(t *testing.T, e *Engine, role evsetypes.LeafRole, rootRole evsetypes.PKIRole) evsetypes.CertificateHashData {
	t.Helper()
	leafBundle, _, _, err := e.loadLeafBundle(role)
	require.NoError(t, err)
	certs := leafBundle.Split()
	require.NotEmpty(t, certs)

	rootBundle, err := e.loadCABundle(rootRole)
	require.NoError(t, err)
	roots := rootBundle.Split()
	require.NotEmpty(t, roots)

	hash, err := certs[0].CertificateHashDataWithParent(roots[0])
	require.NoError(t, err)
	return hash
}

// installRoot installs a fresh, valid root CA for role and returns it.
func installRoot(t *testing.T, e *Engine, role evsetypes.PKIRole, cn string) *testutil.IssuedCert {
	t.Helper()
	now := time.Now()
	root, err := testutil.NewRootCA(cn, now.Add(-time.Hour), now.Add(time.Hour))
	require.NoError(t, err)
	result := e.InstallCA(string(root.CertPEM), role)
	require.Equal(t, evsetypes.InstallAccepted, result)
	return root
}

// issueCSRAndLeaf drives GenerateCSR for role, then signs a matching leaf
// certificate against root using the private key GenerateCSR wrote to disk,
// simulating a CSMS responding to an outstanding CSR.
func issueCSRAndLeaf(t *testing.T, e *Engine, role evsetypes.LeafRole, root *testutil.IssuedCert, cn string) (leafPEM string, keyPath string) {
	t.Helper()

	status, _ := e.GenerateCSR(role, "US", "Acme", cn)
	require.Equal(t, evsetypes.GenerateCSRAccepted, status)

	_, keyDir, err := e.cfg.leafPaths(role)
	require.NoError(t, err)
	entries, err := os.ReadDir(keyDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	keyPath = joinPath(keyDir, entries[0].Name())

	keyPEM, err := os.ReadFile(keyPath)
	require.NoError(t, err)
	priv, err := encoding.DecodePrivateKeyPEM(keyPEM, e.cfg.PrivateKeyPassword)
	require.NoError(t, err)
	ecKey, ok := priv.(*ecdsa.PrivateKey)
	require.True(t, ok)

	now := time.Now()
	issued, err := testutil.NewLeafCertWithKey(root, testutil.CertOptions{
		CommonName: cn,
		NotBefore:  now.Add(-time.Minute),
		NotAfter:   now.Add(time.Hour),
	}, ecKey)
	require.NoError(t, err)
	return string(issued.CertPEM), keyPath
}
