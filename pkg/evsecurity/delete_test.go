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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/automatethethings/evse-security/pkg/evsetypes"
)

func TestDeleteCertificateRootReturnsWithoutCascading(t *testing.T) {
	e, _ := newTestEngine(t)
	root := installRoot(t, e, evsetypes.PKIRoleV2G, "v2g-root")
	leafPEM, _ := issueCSRAndLeaf(t, e, evsetypes.LeafRoleV2G, root, "secc.example.com")
	require.Equal(t, evsetypes.InstallAccepted, e.UpdateLeaf(leafPEM, evsetypes.LeafRoleV2G))

	hash := rootCertificateHash(t, root)
	result := e.DeleteCertificate(hash)
	require.Equal(t, evsetypes.DeleteAccepted, result.Result)
	require.NotNil(t, result.CARole)
	assert.Equal(t, evsetypes.PKIRoleV2G, *result.CARole)

	// The leaf issued under this root is untouched by the root's deletion.
	status, _ := e.GetLeafInfo(evsetypes.LeafRoleV2G, false)
	assert.Equal(t, evsetypes.GetCertificateInfoAccepted, status)
}

func TestDeleteCertificateRefusesProtectedCSMSLeaf(t *testing.T) {
	e, _ := newTestEngine(t)
	root := installRoot(t, e, evsetypes.PKIRoleCSMS, "csms-root")
	leafPEM, _ := issueCSRAndLeaf(t, e, evsetypes.LeafRoleCSMS, root, "csms.example.com")
	require.Equal(t, evsetypes.InstallAccepted, e.UpdateLeaf(leafPEM, evsetypes.LeafRoleCSMS))

	leafHash := installedLeafHash(t, e, evsetypes.LeafRoleCSMS, evsetypes.PKIRoleCSMS)
	result := e.DeleteCertificate(leafHash)
	assert.Equal(t, evsetypes.DeleteFailed, result.Result)
	require.NotNil(t, result.LeafRole)
	assert.Equal(t, evsetypes.LeafRoleCSMS, *result.LeafRole)

	status, _ := e.GetLeafInfo(evsetypes.LeafRoleCSMS, false)
	assert.Equal(t, evsetypes.GetCertificateInfoAccepted, status, "protected leaf must remain installed")
}

func TestDeleteCertificateRemovesV2GLeaf(t *testing.T) {
	e, _ := newTestEngine(t)
	root := installRoot(t, e, evsetypes.PKIRoleV2G, "v2g-root")
	leafPEM, _ := issueCSRAndLeaf(t, e, evsetypes.LeafRoleV2G, root, "secc.example.com")
	require.Equal(t, evsetypes.InstallAccepted, e.UpdateLeaf(leafPEM, evsetypes.LeafRoleV2G))

	leafHash := installedLeafHash(t, e, evsetypes.LeafRoleV2G, evsetypes.PKIRoleV2G)
	result := e.DeleteCertificate(leafHash)
	assert.Equal(t, evsetypes.DeleteAccepted, result.Result)

	status, _ := e.GetLeafInfo(evsetypes.LeafRoleV2G, false)
	assert.Equal(t, evsetypes.GetCertificateInfoNotFound, status)
}

func TestDeleteCertificateNotFound(t *testing.T) {
	e, _ := newTestEngine(t)
	installRoot(t, e, evsetypes.PKIRoleV2G, "v2g-root")

	result := e.DeleteCertificate(evsetypes.CertificateHashData{SerialNumber: "unknown"})
	assert.Equal(t, evsetypes.DeleteNotFound, result.Result)
}
