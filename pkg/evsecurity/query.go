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
	"github.com/automatethethings/evse-security/pkg/certbundle"
	"github.com/automatethethings/evse-security/pkg/certhierarchy"
	"github.com/automatethethings/evse-security/pkg/certprimitive"
	"github.com/automatethethings/evse-security/pkg/evsetypes"
)

// chainKindToCARole maps a root ChainKind to its anchoring PKI role; the
// V2G leaf-chain kind is handled separately in GetInstalledCertificates.
func chainKindToCARole(kind evsetypes.ChainKind) (evsetypes.PKIRole, bool) {
	switch kind {
	case evsetypes.ChainKindV2GRoot:
		return evsetypes.PKIRoleV2G, true
	case evsetypes.ChainKindCSMSRoot:
		return evsetypes.PKIRoleCSMS, true
	case evsetypes.ChainKindMORoot:
		return evsetypes.PKIRoleMO, true
	case evsetypes.ChainKindMFRoot:
		return evsetypes.PKIRoleMF, true
	default:
		return 0, false
	}
}

// GetInstalledCertificates enumerates the requested root/chain kinds as
// CertificateHashDataChain entries (spec.md §4.7). Each trust-anchor
// hierarchy contributes one chain per self-signed root; the V2G leaf-chain
// kind additionally merges every valid V2G leaf with the V2G root bundle and
// reports it leaf-first.
func (e *Engine) GetInstalledCertificates(kinds []evsetypes.ChainKind) ([]evsetypes.CertificateHashDataChain, evsetypes.GetInstalledCertificatesStatus) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var chains []evsetypes.CertificateHashDataChain

	for _, kind := range kinds {
		role, ok := chainKindToCARole(kind)
		if !ok {
			continue
		}
		bundle, err := e.loadCABundle(role)
		if err != nil {
			e.logger.Warnf("get installed certificates: could not load %s bundle: %v", role, err)
			continue
		}

		hierarchy := bundle.Hierarchy()
		for _, root := range hierarchy.Roots() {
			if !root.IsSelfSigned || root.Hash == nil {
				continue
			}
			chain := evsetypes.CertificateHashDataChain{
				CertificateType:     kind,
				CertificateHashData: *root.Hash,
			}
			appendDescendantHashes(root, &chain)
			chains = append(chains, chain)
		}
	}

	if containsKind(kinds, evsetypes.ChainKindV2GChain) {
		chains = append(chains, e.v2gChains()...)
	}

	if len(chains) == 0 {
		return nil, evsetypes.GetInstalledNotFound
	}
	return chains, evsetypes.GetInstalledAccepted
}

func containsKind(kinds []evsetypes.ChainKind, target evsetypes.ChainKind) bool {
	for _, k := range kinds {
		if k == target {
			return true
		}
	}
	return false
}

// appendDescendantHashes walks root's children pre-order, recording the
// hash of every descendant (the root's own hash is already set on chain).
func appendDescendantHashes(root *certhierarchy.Node, chain *evsetypes.CertificateHashDataChain) {
	var walk func(n *certhierarchy.Node)
	walk = func(n *certhierarchy.Node) {
		for _, child := range n.Children {
			if child.Hash != nil {
				chain.ChildCertificateHashData = append(chain.ChildCertificateHashData, *child.Hash)
			}
			walk(child)
		}
	}
	walk(root)
}

// v2gChains merges every valid V2G leaf with the V2G trust-anchor bundle
// and returns one chain per root of the merged hierarchy: the root's
// pre-order hash list reversed, so a single root -> intermediates -> leaf
// path is reported leaf, then intermediates, then root. Several leaves
// under the same root share one chain.
func (e *Engine) v2gChains() []evsetypes.CertificateHashDataChain {
	var chains []evsetypes.CertificateHashDataChain

	leafBundle, _, _, err := e.loadLeafBundle(evsetypes.LeafRoleV2G)
	if err != nil {
		return nil
	}
	rootBundle, err := e.loadCABundle(evsetypes.PKIRoleV2G)
	if err != nil {
		return nil
	}

	var leaves []*certprimitive.CP
	for _, cp := range leafBundle.Split() {
		if cp.IsValid(nowFunc()) {
			leaves = append(leaves, cp)
		}
	}
	if len(leaves) == 0 {
		return nil
	}

	merged := append(append([]*certprimitive.CP{}, rootBundle.Split()...), leaves...)
	hierarchy := certhierarchy.Build(merged)

	for _, root := range hierarchy.Roots() {
		var hashes []evsetypes.CertificateHashData
		collectPreOrder(root, &hashes)
		if len(hashes) == 0 {
			continue
		}
		// hashes is root-first (root, ..., leaf); reverse to leaf-first.
		leafFirst := make([]evsetypes.CertificateHashData, len(hashes))
		for i, h := range hashes {
			leafFirst[len(hashes)-1-i] = h
		}
		chains = append(chains, evsetypes.CertificateHashDataChain{
			CertificateType:          evsetypes.ChainKindV2GChain,
			CertificateHashData:      leafFirst[0],
			ChildCertificateHashData: leafFirst[1:],
		})
	}
	return chains
}

func collectPreOrder(n *certhierarchy.Node, out *[]evsetypes.CertificateHashData) {
	if n.Hash != nil {
		*out = append(*out, *n.Hash)
	}
	for _, child := range n.Children {
		collectPreOrder(child, out)
	}
}

// CountInstalled sums the certificate count across every unique directory
// implied by kinds, including the V2G leaf directory when the V2G chain
// kind is requested.
func (e *Engine) CountInstalled(kinds []evsetypes.ChainKind) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	seen := map[string]bool{}
	count := 0

	for _, kind := range kinds {
		role, ok := chainKindToCARole(kind)
		if !ok {
			continue
		}
		path, err := e.caBundlePath(role)
		if err != nil || seen[path] {
			continue
		}
		seen[path] = true
		bundle, err := certbundle.NewFromPath(path)
		if err != nil {
			continue
		}
		count += bundle.CertificateCount()
	}

	if containsKind(kinds, evsetypes.ChainKindV2GChain) {
		if leafBundle, _, _, err := e.loadLeafBundle(evsetypes.LeafRoleV2G); err == nil {
			count += leafBundle.CertificateCount()
		}
	}

	return count
}
