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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/automatethethings/evse-security/pkg/evsetypes"
)

func TestGetV2GOCSPRequestDataEmptyWithNoLeaves(t *testing.T) {
	e, _ := newTestEngine(t)
	installRoot(t, e, evsetypes.PKIRoleV2G, "v2g-root")
	assert.Empty(t, e.GetV2GOCSPRequestData())
}

func TestGetV2GOCSPRequestDataSkipsCertsWithoutResponderURL(t *testing.T) {
	e, _ := newTestEngine(t)
	root := installRoot(t, e, evsetypes.PKIRoleV2G, "v2g-root")
	leafPEM, _ := issueCSRAndLeaf(t, e, evsetypes.LeafRoleV2G, root, "secc.example.com")
	require.Equal(t, evsetypes.InstallAccepted, e.UpdateLeaf(leafPEM, evsetypes.LeafRoleV2G))

	// The testutil fixtures carry no AuthorityInfoAccess/OCSP responder
	// extension, so no request data is produced for them - this mirrors how
	// a cert lacking a responder URL is silently excluded in production.
	assert.Empty(t, e.GetV2GOCSPRequestData())
}

func TestUpdateAndRetrieveOCSPCacheRoundTrip(t *testing.T) {
	e, _ := newTestEngine(t)
	root := installRoot(t, e, evsetypes.PKIRoleV2G, "v2g-root")

	hash := rootCertificateHash(t, root)
	e.UpdateOCSPCache(hash, []byte("ocsp-response"))

	path, ok := e.RetrieveOCSPCache(hash)
	assert.True(t, ok)
	assert.NotEmpty(t, path)
}

func TestRetrieveOCSPCacheMissingEntry(t *testing.T) {
	e, _ := newTestEngine(t)
	root := installRoot(t, e, evsetypes.PKIRoleV2G, "v2g-root")

	hash := rootCertificateHash(t, root)
	_, ok := e.RetrieveOCSPCache(hash)
	assert.False(t, ok)
}

func TestUpdateOCSPCacheMatchesHashCaseInsensitively(t *testing.T) {
	e, _ := newTestEngine(t)
	root := installRoot(t, e, evsetypes.PKIRoleV2G, "v2g-root")

	hash := rootCertificateHash(t, root)
	upper := hash
	upper.IssuerNameHash = strings.ToUpper(upper.IssuerNameHash)
	upper.IssuerKeyHash = strings.ToUpper(upper.IssuerKeyHash)
	upper.SerialNumber = strings.ToUpper(upper.SerialNumber)

	e.UpdateOCSPCache(upper, []byte("ocsp-response"))

	path, ok := e.RetrieveOCSPCache(hash)
	assert.True(t, ok)
	assert.NotEmpty(t, path)
}

func TestUpdateOCSPCacheNoMatchingCertificate(t *testing.T) {
	e, _ := newTestEngine(t)
	installRoot(t, e, evsetypes.PKIRoleV2G, "v2g-root")

	// A hash that matches nothing installed must be a no-op, not a panic.
	e.UpdateOCSPCache(evsetypes.CertificateHashData{SerialNumber: "deadbeef"}, []byte("response"))
}
