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
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/automatethethings/evse-security/internal/testutil"
	"github.com/automatethethings/evse-security/pkg/evsetypes"
	"github.com/automatethethings/evse-security/pkg/ocspcache"
)

func TestGarbageCollectPostponedWhenFilesystemNotFull(t *testing.T) {
	e, _ := newTestEngine(t)
	installRoot(t, e, evsetypes.PKIRoleV2G, "v2g-root")

	// Well under the default caps: GarbageCollect must be a no-op.
	e.GarbageCollect()
}

func TestGarbageCollectDeletesExpiredLeavesBeyondRetention(t *testing.T) {
	e, layout := newTestEngine(t)
	e.cfg.MaxEntries = 1
	root := installRoot(t, e, evsetypes.PKIRoleV2G, "v2g-root")

	now := time.Now()
	for i := 0; i < GCRetentionPerLeaf+1; i++ {
		leaf, err := testutil.NewLeafCert(root, testutil.CertOptions{
			CommonName: "secc.example.com",
			NotBefore:  now.Add(-2 * time.Hour),
			NotAfter:   now.Add(-time.Hour),
		})
		require.NoError(t, err)
		path := filepath.Join(layout.seccCertDir, leaf.Cert.SerialNumber.String()+".pem")
		require.NoError(t, os.WriteFile(path, leaf.CertPEM, 0o600))
	}

	e.GarbageCollect()

	entries, err := os.ReadDir(layout.seccCertDir)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(entries), GCRetentionPerLeaf)
}

func TestGarbageCollectRegistersOrphanedKeyAsPendingCSR(t *testing.T) {
	e, layout := newTestEngine(t)
	e.cfg.MaxEntries = 1
	installRoot(t, e, evsetypes.PKIRoleV2G, "v2g-root")

	orphanKey := filepath.Join(layout.seccKeyDir, "orphan.key")
	require.NoError(t, os.WriteFile(orphanKey, []byte("key material"), 0o600))
	// Push the filesystem over its cap so GarbageCollect actually runs.
	require.NoError(t, os.WriteFile(filepath.Join(layout.seccCertDir, "filler.pem"), []byte("x"), 0o600))

	e.GarbageCollect()
	assert.True(t, e.pct.Contains(orphanKey))
}

func TestGarbageCollectReclaimsOrphanedOCSPSideCar(t *testing.T) {
	e, layout := newTestEngine(t)
	e.cfg.MaxEntries = 1
	root := installRoot(t, e, evsetypes.PKIRoleV2G, "v2g-root")
	leafPEM, _ := issueCSRAndLeaf(t, e, evsetypes.LeafRoleV2G, root, "secc.example.com")
	require.Equal(t, evsetypes.InstallAccepted, e.UpdateLeaf(leafPEM, evsetypes.LeafRoleV2G))

	validHash := installedLeafHash(t, e, evsetypes.LeafRoleV2G, evsetypes.PKIRoleV2G)
	e.UpdateOCSPCache(validHash, []byte("good"))

	entries, err := os.ReadDir(layout.seccCertDir)
	require.NoError(t, err)
	var certPath string
	for _, entry := range entries {
		if !entry.IsDir() {
			certPath = filepath.Join(layout.seccCertDir, entry.Name())
			break
		}
	}
	require.NotEmpty(t, certPath)

	orphanHash := evsetypes.CertificateHashData{
		IssuerNameHash: strings.Repeat("a", 64),
		IssuerKeyHash:  strings.Repeat("b", 64),
		SerialNumber:   "0badc0de",
	}
	_, found := ocspcache.Retrieve(certPath, orphanHash)
	require.False(t, found)
	require.NoError(t, ocspcache.Store(certPath, orphanHash, []byte("stale")))
	_, found = ocspcache.Retrieve(certPath, orphanHash)
	require.True(t, found, "the orphan entry must be readable before GarbageCollect runs")

	e.GarbageCollect()

	_, ok := ocspcache.Retrieve(certPath, orphanHash)
	assert.False(t, ok, "side-car entry for a certificate no longer in the hierarchy must be reclaimed")

	_, ok = ocspcache.Retrieve(certPath, validHash)
	assert.True(t, ok, "side-car entry for the still-installed certificate must survive")
}

func TestStartStopGC(t *testing.T) {
	e, _ := newTestEngine(t)
	e.cfg.GCInterval = time.Millisecond
	e.StartGC()
	time.Sleep(5 * time.Millisecond)
	e.StopGC()
}
