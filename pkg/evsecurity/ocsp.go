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
	"github.com/automatethethings/evse-security/pkg/ocspcache"
)

// GetV2GOCSPRequestData builds the OCSP request data for every valid,
// non-expired V2G leaf and its issuing chain (spec.md §4.7). Note: this
// mirrors the reference implementation's V2G-only scope for the OCSP
// cache; the MO side anchors against both the MO and V2G roots in
// GetMOOCSPRequestData below.
func (e *Engine) GetV2GOCSPRequestData() []evsetypes.OCSPRequestData {
	e.mu.Lock()
	defer e.mu.Unlock()

	leafBundle, _, _, err := e.loadLeafBundle(evsetypes.LeafRoleV2G)
	if err != nil {
		e.logger.Warnf("v2g ocsp request data: could not load leaf bundle: %v", err)
		return nil
	}

	var full []evsetypes.OCSPRequestData
	seen := map[evsetypes.CertificateHashData]bool{}

	for _, leaf := range leafBundle.Split() {
		if !leaf.IsValid(nowFunc()) {
			continue
		}
		partial := e.generateOCSPRequestData([]evsetypes.PKIRole{evsetypes.PKIRoleV2G}, []*certprimitive.CP{leaf})
		for _, item := range partial {
			if item.CertificateHashData == nil || seen[*item.CertificateHashData] {
				continue
			}
			seen[*item.CertificateHashData] = true
			full = append(full, item)
		}
	}
	return full
}

// GetMOOCSPRequestData builds OCSP request data for pemChain (a leaf
// certificate, possibly with intermediates), searching both the V2G and MO
// trust anchors for the issuing root.
func (e *Engine) GetMOOCSPRequestData(pemChain string) []evsetypes.OCSPRequestData {
	e.mu.Lock()
	defer e.mu.Unlock()

	chainBundle, err := certbundle.NewFromString(pemChain)
	if err != nil {
		e.logger.Errorf("mo ocsp request data: could not load leaf chain: %v", err)
		return nil
	}
	return e.generateOCSPRequestData([]evsetypes.PKIRole{evsetypes.PKIRoleV2G, evsetypes.PKIRoleMO}, chainBundle.Split())
}

// generateOCSPRequestData builds the full trust-anchor hierarchy from
// possibleRoots, finds the root whose descendants contain every certificate
// in leafChain, and returns one OCSP request entry per descendant of that
// root with a non-empty responder URL (not only the members of leafChain),
// in reverse pre-order (leaf-first for a single chain), deduplicated by hash.
func (e *Engine) generateOCSPRequestData(possibleRoots []evsetypes.PKIRole, leafChain []*certprimitive.CP) []evsetypes.OCSPRequestData {
	if len(leafChain) == 0 {
		return nil
	}

	var allRoots []*certprimitive.CP
	for _, role := range possibleRoots {
		bundle, err := e.loadCABundle(role)
		if err != nil {
			continue
		}
		allRoots = append(allRoots, bundle.Split()...)
	}

	hierarchy := certhierarchy.Build(append(append([]*certprimitive.CP{}, allRoots...), leafChain...))

	for _, root := range hierarchy.Roots() {
		if !root.IsSelfSigned || !root.CP.IsValid(nowFunc()) {
			continue
		}
		descendants := hierarchy.CollectDescendants(root.CP)
		if len(descendants) == 0 {
			continue
		}
		if !containsAll(descendants, leafChain) {
			continue
		}

		var result []evsetypes.OCSPRequestData
		seen := map[evsetypes.CertificateHashData]bool{}
		for i := len(descendants) - 1; i >= 0; i-- {
			cert := descendants[i]
			url := cert.ResponderURL()
			if url == "" {
				continue
			}
			hash, err := hierarchy.GetCertificateHash(cert)
			if err != nil {
				continue
			}
			if seen[hash] {
				continue
			}
			seen[hash] = true
			h := hash
			result = append(result, evsetypes.OCSPRequestData{CertificateHashData: &h, ResponderURL: url})
		}
		return result
	}
	return nil
}

func containsAll(haystack, needles []*certprimitive.CP) bool {
	for _, n := range needles {
		found := false
		for _, h := range haystack {
			if h.Equal(n) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// UpdateOCSPCache stores response for the certificate identified by hash,
// searching the V2G root and leaf bundles (matching the reference's V2G-only
// scope for OCSP caching; spec.md §9).
func (e *Engine) UpdateOCSPCache(hash evsetypes.CertificateHashData, response []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rootBundle, err := e.loadCABundle(evsetypes.PKIRoleV2G)
	if err != nil {
		e.logger.Errorf("update ocsp cache: could not load V2G root bundle: %v", err)
		return
	}
	leafBundle, _, _, err := e.loadLeafBundle(evsetypes.LeafRoleV2G)
	if err != nil {
		e.logger.Errorf("update ocsp cache: could not load V2G leaf bundle: %v", err)
		return
	}

	merged := append(append([]*certprimitive.CP{}, rootBundle.Split()...), leafBundle.Split()...)
	hierarchy := certhierarchy.Build(merged)

	matches := hierarchy.FindByHashMulti(hash, true)
	if len(matches) == 0 {
		e.logger.Error("update ocsp cache: could not find any certificate for given hash")
		return
	}

	for _, match := range matches {
		path := match.CP.Path()
		if path == "" || match.Hash == nil {
			continue
		}
		// Store under the internally computed (canonical-case) hash so a
		// later exact-match lookup by RetrieveOCSPCache finds it regardless
		// of the case the caller supplied here.
		if err := ocspcache.Store(path, *match.Hash, response); err != nil {
			e.logger.Errorf("update ocsp cache: %v", err)
		}
	}
}

// RetrieveOCSPCache returns the on-disk path of the cached OCSP response for
// the certificate identified by hash, if any.
func (e *Engine) RetrieveOCSPCache(hash evsetypes.CertificateHashData) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.retrieveOCSPCacheLocked(hash)
}

// retrieveOCSPCacheLocked is RetrieveOCSPCache's body, callable from other
// Engine methods that already hold e.mu.
func (e *Engine) retrieveOCSPCacheLocked(hash evsetypes.CertificateHashData) (string, bool) {
	rootBundle, err := e.loadCABundle(evsetypes.PKIRoleV2G)
	if err != nil {
		return "", false
	}
	leafBundle, _, _, err := e.loadLeafBundle(evsetypes.LeafRoleV2G)
	if err != nil {
		return "", false
	}

	merged := append(append([]*certprimitive.CP{}, rootBundle.Split()...), leafBundle.Split()...)
	hierarchy := certhierarchy.Build(merged)

	match := hierarchy.FindByHash(hash, true)
	if match == nil || match.Hash == nil {
		return "", false
	}
	_, dataPath, ok := ocspcache.Find(match.CP.Path(), *match.Hash)
	return dataPath, ok
}
