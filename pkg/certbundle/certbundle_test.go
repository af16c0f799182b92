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

package certbundle

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/automatethethings/evse-security/internal/testutil"
	"github.com/automatethethings/evse-security/pkg/certprimitive"
)

func TestNewFromStringCannotExport(t *testing.T) {
	chain, err := testutil.NewChain(testutil.ChainOptions{RootCN: "root", Leaf: testutil.CertOptions{CommonName: "leaf"}})
	require.NoError(t, err)

	cb, err := NewFromString(string(chain.Root.CertPEM) + string(chain.Leaf.CertPEM))
	require.NoError(t, err)
	assert.Equal(t, SourceString, cb.Source())
	assert.Equal(t, 2, cb.CertificateCount())
	assert.Error(t, cb.Export())
}

func TestNewFromPathFile(t *testing.T) {
	chain, err := testutil.NewChain(testutil.ChainOptions{RootCN: "root", Leaf: testutil.CertOptions{CommonName: "leaf"}})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "chain.pem")
	data := append(append([]byte{}, chain.Leaf.CertPEM...), chain.Root.CertPEM...)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	cb, err := NewFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, SourceFile, cb.Source())
	assert.Equal(t, 1, cb.ChainCount())
	assert.Equal(t, 2, cb.CertificateCount())
}

func TestNewFromPathDirectory(t *testing.T) {
	dir := t.TempDir()
	for i, cn := range []string{"root-a", "root-b"} {
		chain, err := testutil.NewChain(testutil.ChainOptions{RootCN: cn, Leaf: testutil.CertOptions{CommonName: cn + "-leaf"}})
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dir, "bundle"+string(rune('a'+i))+".pem"), chain.Root.CertPEM, 0o600))
	}
	// A non-cert file must be ignored.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("ignore me"), 0o600))

	cb, err := NewFromPath(dir)
	require.NoError(t, err)
	assert.Equal(t, SourceDirectory, cb.Source())
	assert.Equal(t, 2, cb.ChainCount())
	assert.Equal(t, 2, cb.CertificateCount())
}

func TestContainsAndFindCertificate(t *testing.T) {
	chain, err := testutil.NewChain(testutil.ChainOptions{RootCN: "root", Leaf: testutil.CertOptions{CommonName: "leaf"}})
	require.NoError(t, err)

	cb, err := NewFromString(string(chain.Root.CertPEM))
	require.NoError(t, err)

	root := certprimitive.FromCertificate(chain.Root.Cert)
	assert.True(t, cb.ContainsCertificate(root))

	hash, err := root.CertificateHashData()
	require.NoError(t, err)
	assert.True(t, cb.ContainsHash(hash))

	found := cb.FindCertificate(hash, false)
	require.NotNil(t, found)
	assert.True(t, found.Equal(root))

	leaf := certprimitive.FromCertificate(chain.Leaf.Cert)
	assert.False(t, cb.ContainsCertificate(leaf))
}

func TestAddCertificateDirectoryRequiresSubpath(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".keep.pem"), []byte{}, 0o600))
	cb, err := NewFromPath(dir)
	require.NoError(t, err)

	chain, err := testutil.NewChain(testutil.ChainOptions{RootCN: "root", Leaf: testutil.CertOptions{CommonName: "leaf"}})
	require.NoError(t, err)

	unpathed := certprimitive.FromCertificate(chain.Root.Cert)
	assert.Error(t, cb.AddCertificate(unpathed))

	unpathed.SetPath(filepath.Join(dir, "new.pem"))
	assert.NoError(t, cb.AddCertificate(unpathed))
	assert.Equal(t, 1, cb.CertificateCount())
}

func TestAddCertificateUniqueSkipsDuplicates(t *testing.T) {
	chain, err := testutil.NewChain(testutil.ChainOptions{RootCN: "root", Leaf: testutil.CertOptions{CommonName: "leaf"}})
	require.NoError(t, err)

	cb, err := NewFromString(string(chain.Root.CertPEM))
	require.NoError(t, err)

	dup := certprimitive.FromCertificate(chain.Root.Cert)
	require.NoError(t, cb.AddCertificateUnique(dup))
	assert.Equal(t, 1, cb.CertificateCount())
}

func TestDeleteCertificateWithDescendants(t *testing.T) {
	chain, err := testutil.NewChain(testutil.ChainOptions{
		RootCN:       "root",
		Intermediate: &testutil.CertOptions{CommonName: "intermediate"},
		Leaf:         testutil.CertOptions{CommonName: "leaf"},
	})
	require.NoError(t, err)

	cb, err := NewFromString(string(chain.Root.CertPEM) + string(chain.Intermediate.CertPEM) + string(chain.Leaf.CertPEM))
	require.NoError(t, err)
	require.Equal(t, 3, cb.CertificateCount())

	root := certprimitive.FromCertificate(chain.Root.Cert)
	deleted := cb.DeleteCertificate(root, true)
	assert.Len(t, deleted, 3, "deleting the root with includeIssued must remove the whole chain")
	assert.Equal(t, 0, cb.CertificateCount())
}

func TestDeleteCertificateWithoutDescendants(t *testing.T) {
	chain, err := testutil.NewChain(testutil.ChainOptions{
		RootCN:       "root",
		Intermediate: &testutil.CertOptions{CommonName: "intermediate"},
		Leaf:         testutil.CertOptions{CommonName: "leaf"},
	})
	require.NoError(t, err)

	cb, err := NewFromString(string(chain.Root.CertPEM) + string(chain.Intermediate.CertPEM) + string(chain.Leaf.CertPEM))
	require.NoError(t, err)

	root := certprimitive.FromCertificate(chain.Root.Cert)
	deleted := cb.DeleteCertificate(root, false)
	assert.Len(t, deleted, 1)
	assert.Equal(t, 2, cb.CertificateCount())
}

func TestLatestValidCertificate(t *testing.T) {
	now := time.Now()
	expired, err := testutil.NewRootCA("expired", now.Add(-2*time.Hour), now.Add(-time.Hour))
	require.NoError(t, err)
	cb, err := NewFromString(string(expired.CertPEM))
	require.NoError(t, err)
	_, err = cb.LatestValidCertificate(now)
	assert.ErrorIs(t, err, ErrNoValidCertificate, "the only certificate in the bundle is already expired")

	older, err := testutil.NewRootCA("older", now.Add(-2*time.Hour), now.Add(time.Hour))
	require.NoError(t, err)
	newer, err := testutil.NewRootCA("newer", now.Add(-time.Minute), now.Add(time.Hour))
	require.NoError(t, err)

	cb, err = NewFromString(string(older.CertPEM) + string(newer.CertPEM))
	require.NoError(t, err)

	latest, err := cb.LatestValidCertificate(now)
	require.NoError(t, err)
	assert.Equal(t, "newer", latest.CommonName())
}

func TestExportFileRoundTrip(t *testing.T) {
	chain, err := testutil.NewChain(testutil.ChainOptions{RootCN: "root", Leaf: testutil.CertOptions{CommonName: "leaf"}})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "chain.pem")
	require.NoError(t, os.WriteFile(path, chain.Root.CertPEM, 0o600))

	cb, err := NewFromPath(path)
	require.NoError(t, err)

	leaf := certprimitive.FromCertificate(chain.Leaf.Cert)
	leaf.SetPath(path)
	require.NoError(t, cb.AddCertificate(leaf))
	require.NoError(t, cb.Export())

	reloaded, err := NewFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, 2, reloaded.CertificateCount())
}

func TestExportDirectoryRewritesChangedChainFile(t *testing.T) {
	chain, err := testutil.NewChain(testutil.ChainOptions{RootCN: "root", Leaf: testutil.CertOptions{CommonName: "leaf"}})
	require.NoError(t, err)

	dir := t.TempDir()
	path := filepath.Join(dir, "bundle.pem")
	data := append(append([]byte{}, chain.Root.CertPEM...), chain.Leaf.CertPEM...)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	cb, err := NewFromPath(dir)
	require.NoError(t, err)
	require.Equal(t, 2, cb.CertificateCount())

	leaf := certprimitive.FromCertificate(chain.Leaf.Cert)
	removed := cb.DeleteCertificate(leaf, false)
	require.Len(t, removed, 1)

	require.NoError(t, cb.Export())

	reloaded, err := NewFromPath(dir)
	require.NoError(t, err)
	require.Equal(t, 1, reloaded.CertificateCount())
	assert.Equal(t, "root", reloaded.Split()[0].CommonName())
}

func TestExportFileRemovesEmptyFile(t *testing.T) {
	chain, err := testutil.NewChain(testutil.ChainOptions{RootCN: "root", Leaf: testutil.CertOptions{CommonName: "leaf"}})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "chain.pem")
	require.NoError(t, os.WriteFile(path, chain.Root.CertPEM, 0o600))

	cb, err := NewFromPath(path)
	require.NoError(t, err)

	root := certprimitive.FromCertificate(chain.Root.Cert)
	cb.DeleteCertificate(root, false)
	require.NoError(t, cb.Export())

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}
