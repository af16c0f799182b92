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

func TestGetInstalledCertificatesReturnsOneChainPerRoot(t *testing.T) {
	e, _ := newTestEngine(t)
	installRoot(t, e, evsetypes.PKIRoleV2G, "v2g-root")
	installRoot(t, e, evsetypes.PKIRoleCSMS, "csms-root")

	chains, status := e.GetInstalledCertificates([]evsetypes.ChainKind{evsetypes.ChainKindV2GRoot, evsetypes.ChainKindCSMSRoot})
	require.Equal(t, evsetypes.GetInstalledAccepted, status)
	assert.Len(t, chains, 2)
}

func TestGetInstalledCertificatesNotFoundWhenNothingInstalled(t *testing.T) {
	e, _ := newTestEngine(t)
	chains, status := e.GetInstalledCertificates([]evsetypes.ChainKind{evsetypes.ChainKindV2GRoot})
	assert.Equal(t, evsetypes.GetInstalledNotFound, status)
	assert.Nil(t, chains)
}

func TestGetInstalledCertificatesV2GChainIsLeafFirst(t *testing.T) {
	e, _ := newTestEngine(t)
	root := installRoot(t, e, evsetypes.PKIRoleV2G, "v2g-root")
	leafPEM, _ := issueCSRAndLeaf(t, e, evsetypes.LeafRoleV2G, root, "secc.example.com")
	require.Equal(t, evsetypes.InstallAccepted, e.UpdateLeaf(leafPEM, evsetypes.LeafRoleV2G))

	chains, status := e.GetInstalledCertificates([]evsetypes.ChainKind{evsetypes.ChainKindV2GChain})
	require.Equal(t, evsetypes.GetInstalledAccepted, status)
	require.Len(t, chains, 1)
	assert.Equal(t, evsetypes.ChainKindV2GChain, chains[0].CertificateType)
	require.Len(t, chains[0].ChildCertificateHashData, 1, "leaf-first chain must list the root as the single child entry")
}

func TestCountInstalledSumsUniqueBundles(t *testing.T) {
	e, _ := newTestEngine(t)
	installRoot(t, e, evsetypes.PKIRoleV2G, "v2g-root")
	installRoot(t, e, evsetypes.PKIRoleCSMS, "csms-root")

	count := e.CountInstalled([]evsetypes.ChainKind{evsetypes.ChainKindV2GRoot, evsetypes.ChainKindCSMSRoot})
	assert.Equal(t, 2, count)
}

func TestCountInstalledIncludesV2GLeafDirectory(t *testing.T) {
	e, _ := newTestEngine(t)
	root := installRoot(t, e, evsetypes.PKIRoleV2G, "v2g-root")
	leafPEM, _ := issueCSRAndLeaf(t, e, evsetypes.LeafRoleV2G, root, "secc.example.com")
	require.Equal(t, evsetypes.InstallAccepted, e.UpdateLeaf(leafPEM, evsetypes.LeafRoleV2G))

	count := e.CountInstalled([]evsetypes.ChainKind{evsetypes.ChainKindV2GRoot, evsetypes.ChainKindV2GChain})
	assert.Equal(t, 2, count, "1 root certificate + 1 leaf certificate")
}
