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
	"sort"

	"github.com/automatethethings/evse-security/pkg/certhierarchy"
	"github.com/automatethethings/evse-security/pkg/certprimitive"
	"github.com/automatethethings/evse-security/pkg/evsetypes"
	"github.com/automatethethings/evse-security/pkg/leafkey"
)

// leafSelection is one candidate leaf found while scanning a leaf
// certificate directory: the certificate itself, its private key, and
// (once resolved) the single-file/chain-file paths it appears under.
type leafSelection struct {
	leaf       *certprimitive.CP
	keyPath    string
	singlePath string
	chainPath  string
	chainLen   int
}

// selectValidLeaves scans role's leaf directory for every valid (optionally
// future-valid) leaf with a matching private key, newest (latest NotAfter)
// first, deduplicated by certificate identity (spec.md §4.6 leaf selection).
func (e *Engine) selectValidLeaves(role evsetypes.LeafRole, includeFutureValid, allValid bool) (evsetypes.GetCertificateInfoStatus, []leafSelection) {
	_, keyDir, err := e.cfg.leafPaths(role)
	if err != nil {
		return evsetypes.GetCertificateInfoRejected, nil
	}

	leafBundle, _, _, err := e.loadLeafBundle(role)
	if err != nil || leafBundle.Empty() {
		return evsetypes.GetCertificateInfoNotFound, nil
	}

	var candidates []*certprimitive.CP
	leafBundle.ForEachChain(func(path string, certs []*certprimitive.CP) bool {
		if len(certs) == 0 {
			return true
		}
		leaf := certs[0]
		valid := leaf.IsValid(nowFunc())
		if includeFutureValid && !valid {
			valid = leaf.Certificate().NotBefore.After(nowFunc())
		}
		if valid {
			candidates = append(candidates, leaf)
		}
		return true
	})

	if len(candidates) == 0 {
		return evsetypes.GetCertificateInfoNotFoundValid, nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Certificate().NotAfter.After(candidates[j].Certificate().NotAfter)
	})

	var selections []leafSelection
	seen := map[string]bool{}
	anyKey := false

	for _, leaf := range candidates {
		fingerprint := leaf.CommonName() + leaf.SerialNumber()
		if seen[fingerprint] {
			continue
		}
		seen[fingerprint] = true

		keyPath, err := leafkey.FindKeyForCertificate(leaf, keyDir, e.cfg.PrivateKeyPassword)
		if err != nil {
			continue
		}
		anyKey = true

		sel := leafSelection{leaf: leaf, keyPath: keyPath}
		leafBundle.ForEachChain(func(path string, certs []*certprimitive.CP) bool {
			for _, c := range certs {
				if c.Equal(leaf) {
					if len(certs) > 1 {
						sel.chainPath = path
						sel.chainLen = len(certs)
					} else {
						sel.singlePath = path
					}
				}
			}
			return true
		})
		if sel.singlePath == "" && sel.chainPath == "" {
			continue
		}
		if sel.chainLen == 0 {
			sel.chainLen = 1
		}

		if !allValid {
			return evsetypes.GetCertificateInfoAccepted, []leafSelection{sel}
		}
		selections = append(selections, sel)
	}

	if !anyKey {
		return evsetypes.GetCertificateInfoPrivateKeyNotFound, nil
	}
	if len(selections) == 0 {
		return evsetypes.GetCertificateInfoNotFound, nil
	}
	return evsetypes.GetCertificateInfoAccepted, selections
}

func (e *Engine) buildCertificateInfo(role evsetypes.LeafRole, sel leafSelection, includeOCSP bool) evsetypes.CertificateInfo {
	info := evsetypes.CertificateInfo{
		KeyPath:           sel.keyPath,
		CertificatePath:   sel.chainPath,
		CertificateSingle: sel.singlePath,
		CertificateCount:  sel.chainLen,
		Password:          string(e.cfg.PrivateKeyPassword),
	}

	if !includeOCSP {
		return info
	}

	rootRole, err := rootRoleFor(role)
	if err != nil {
		return info
	}
	rootBundle, err := e.loadCABundle(rootRole)
	if err != nil {
		return info
	}
	leafBundle, _, _, err := e.loadLeafBundle(role)
	if err != nil {
		return info
	}

	merged := append(append([]*certprimitive.CP{}, rootBundle.Split()...), leafBundle.Split()...)
	hierarchy := certhierarchy.Build(merged)

	chainCerts := []*certprimitive.CP{sel.leaf}
	if sel.chainPath != "" {
		leafBundle.ForEachChain(func(path string, certs []*certprimitive.CP) bool {
			if path == sel.chainPath {
				chainCerts = certs
				return false
			}
			return true
		})
	}

	for _, cert := range chainCerts {
		hash, err := hierarchy.GetCertificateHash(cert)
		if err != nil {
			info.OCSP = append(info.OCSP, evsetypes.CertificateOCSP{})
			continue
		}
		path, _ := e.retrieveOCSPCacheLocked(hash)
		info.OCSP = append(info.OCSP, evsetypes.CertificateOCSP{Hash: hash, OCSPPath: path})
	}

	return info
}

// GetLeafInfo returns the single newest valid leaf certificate/key pair for
// role (spec.md §4.7).
func (e *Engine) GetLeafInfo(role evsetypes.LeafRole, includeOCSP bool) (evsetypes.GetCertificateInfoStatus, *evsetypes.CertificateInfo) {
	e.mu.Lock()
	defer e.mu.Unlock()

	status, selections := e.selectValidLeaves(role, false, false)
	if status != evsetypes.GetCertificateInfoAccepted || len(selections) == 0 {
		return status, nil
	}
	info := e.buildCertificateInfo(role, selections[0], includeOCSP)
	return status, &info
}

// GetAllValidCertificatesInfo returns every valid or not-yet-valid leaf
// certificate/key pair for role, newest first, filtered to a single entry per distinct
// trust-anchor root (spec.md §4.7).
func (e *Engine) GetAllValidCertificatesInfo(role evsetypes.LeafRole, includeOCSP bool) (evsetypes.GetCertificateInfoStatus, []evsetypes.CertificateInfo) {
	e.mu.Lock()
	defer e.mu.Unlock()

	status, selections := e.selectValidLeaves(role, true, true)
	if status != evsetypes.GetCertificateInfoAccepted {
		return status, nil
	}

	rootRole, err := rootRoleFor(role)
	if err != nil {
		return status, nil
	}
	bundle, err := e.loadCABundle(rootRole)
	if err != nil {
		return status, nil
	}
	leafBundle, _, _, err := e.loadLeafBundle(role)
	if err != nil {
		return status, nil
	}
	hierarchy := certhierarchy.Build(append(append([]*certprimitive.CP{}, bundle.Split()...), leafBundle.Split()...))

	var results []evsetypes.CertificateInfo
	seenRoots := map[string]bool{}
	for _, sel := range selections {
		root := hierarchy.FindRoot(sel.leaf)
		if root == nil {
			continue
		}
		key := root.CommonName() + root.SerialNumber()
		if seenRoots[key] {
			continue
		}
		seenRoots[key] = true
		results = append(results, e.buildCertificateInfo(role, sel, includeOCSP))
	}

	if len(results) == 0 {
		return evsetypes.GetCertificateInfoNotFound, nil
	}
	return evsetypes.GetCertificateInfoAccepted, results
}
