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
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/automatethethings/evse-security/internal/testutil"
	"github.com/automatethethings/evse-security/pkg/evsetypes"
)

func TestGetLeafInfoNoLeafDirectoryEntries(t *testing.T) {
	e, _ := newTestEngine(t)
	installRoot(t, e, evsetypes.PKIRoleV2G, "v2g-root")

	status, info := e.GetLeafInfo(evsetypes.LeafRoleV2G, false)
	assert.Equal(t, evsetypes.GetCertificateInfoNotFound, status)
	assert.Nil(t, info)
}

func TestGetLeafInfoReturnsNewestValidLeaf(t *testing.T) {
	e, _ := newTestEngine(t)
	root := installRoot(t, e, evsetypes.PKIRoleV2G, "v2g-root")

	olderPEM, _ := issueCSRAndLeaf(t, e, evsetypes.LeafRoleV2G, root, "older.example.com")
	require.Equal(t, evsetypes.InstallAccepted, e.UpdateLeaf(olderPEM, evsetypes.LeafRoleV2G))

	time.Sleep(time.Millisecond)

	newerPEM, _ := issueCSRAndLeaf(t, e, evsetypes.LeafRoleV2G, root, "newer.example.com")
	require.Equal(t, evsetypes.InstallAccepted, e.UpdateLeaf(newerPEM, evsetypes.LeafRoleV2G))

	status, info := e.GetLeafInfo(evsetypes.LeafRoleV2G, false)
	require.Equal(t, evsetypes.GetCertificateInfoAccepted, status)
	require.NotNil(t, info)
	assert.NotEmpty(t, info.CertificateSingle)
	assert.NotEmpty(t, info.KeyPath)
}

func TestGetLeafInfoPrivateKeyNotFound(t *testing.T) {
	e, _ := newTestEngine(t)
	root := installRoot(t, e, evsetypes.PKIRoleV2G, "v2g-root")

	leaf, err := testutil.NewLeafCert(root, testutil.CertOptions{CommonName: "keyless"})
	require.NoError(t, err)
	require.NoError(t, writeFileAtomic(filepath.Join(e.cfg.SeccCertDir, "keyless.pem"), leaf.CertPEM))

	status, info := e.GetLeafInfo(evsetypes.LeafRoleV2G, false)
	assert.Equal(t, evsetypes.GetCertificateInfoPrivateKeyNotFound, status)
	assert.Nil(t, info)
}

func TestGetAllValidCertificatesInfoOnePerRoot(t *testing.T) {
	e, _ := newTestEngine(t)
	root := installRoot(t, e, evsetypes.PKIRoleV2G, "v2g-root")

	firstPEM, _ := issueCSRAndLeaf(t, e, evsetypes.LeafRoleV2G, root, "first.example.com")
	require.Equal(t, evsetypes.InstallAccepted, e.UpdateLeaf(firstPEM, evsetypes.LeafRoleV2G))

	secondPEM, _ := issueCSRAndLeaf(t, e, evsetypes.LeafRoleV2G, root, "second.example.com")
	require.Equal(t, evsetypes.InstallAccepted, e.UpdateLeaf(secondPEM, evsetypes.LeafRoleV2G))

	status, infos := e.GetAllValidCertificatesInfo(evsetypes.LeafRoleV2G, false)
	require.Equal(t, evsetypes.GetCertificateInfoAccepted, status)
	// Both leaves share the same trust-anchor root, so only one entry is kept.
	assert.Len(t, infos, 1)
}

func TestGetLeafInfoIncludesOCSPEntries(t *testing.T) {
	e, _ := newTestEngine(t)
	root := installRoot(t, e, evsetypes.PKIRoleV2G, "v2g-root")
	leafPEM, _ := issueCSRAndLeaf(t, e, evsetypes.LeafRoleV2G, root, "secc.example.com")
	require.Equal(t, evsetypes.InstallAccepted, e.UpdateLeaf(leafPEM, evsetypes.LeafRoleV2G))

	status, info := e.GetLeafInfo(evsetypes.LeafRoleV2G, true)
	require.Equal(t, evsetypes.GetCertificateInfoAccepted, status)
	require.NotNil(t, info)
	assert.Len(t, info.OCSP, 1)
}
