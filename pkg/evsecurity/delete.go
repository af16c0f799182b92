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

	"github.com/automatethethings/evse-security/pkg/certbundle"
	"github.com/automatethethings/evse-security/pkg/certhierarchy"
	"github.com/automatethethings/evse-security/pkg/certprimitive"
	"github.com/automatethethings/evse-security/pkg/evsetypes"
	"github.com/automatethethings/evse-security/pkg/leafkey"
	"github.com/automatethethings/evse-security/pkg/ocspcache"
)

// DeleteResult is the outcome of DeleteCertificate: the coarse result code
// plus which CA/leaf role the match was discovered under, if any.
type DeleteResult struct {
	Result   evsetypes.DeleteCertificateResult
	CARole   *evsetypes.PKIRole
	LeafRole *evsetypes.LeafRole
}

var caRolesInSearchOrder = []evsetypes.PKIRole{
	evsetypes.PKIRoleV2G, evsetypes.PKIRoleCSMS, evsetypes.PKIRoleMO, evsetypes.PKIRoleMF,
}

var leafRolesInSearchOrder = []evsetypes.LeafRole{evsetypes.LeafRoleV2G, evsetypes.LeafRoleCSMS}

// DeleteCertificate removes the certificate matching hash. Root matches are
// removed and the operation returns immediately without cascading into
// leaves issued by that root (spec.md §9, an intentional early return
// preserved from the reference behavior). A match inside the CSMS leaf
// directory is refused with Failed and the certificate is retained.
func (e *Engine) DeleteCertificate(hash evsetypes.CertificateHashData) DeleteResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.logger.Infof("deleting certificate with serial %s", hash.SerialNumber)

	for _, role := range caRolesInSearchOrder {
		bundle, err := e.loadCABundle(role)
		if err != nil {
			continue
		}
		deleted := bundle.DeleteCertificateByHash(hash, true)
		if len(deleted) == 0 {
			continue
		}
		if err := bundle.Export(); err != nil {
			e.logger.Errorf("could not delete CA root certificate: %v", err)
			return DeleteResult{Result: evsetypes.DeleteFailed, CARole: &role}
		}
		e.logger.Infof("deleted CA root certificate for role %s", role)
		return DeleteResult{Result: evsetypes.DeleteAccepted, CARole: &role}
	}

	foundCertificate := false
	failedToWrite := false
	var matchedLeafRole *evsetypes.LeafRole

	for _, role := range leafRolesInSearchOrder {
		certDir, keyDir, err := e.cfg.leafPaths(role)
		if err != nil || certDir == "" {
			continue
		}
		leafBundle, err := certbundle.NewFromPath(certDir)
		if err != nil {
			continue
		}

		rootRole, err := rootRoleFor(role)
		if err != nil {
			continue
		}
		rootBundle, err := e.loadCABundle(rootRole)
		var roots []*certprimitive.CP
		if err == nil {
			roots = rootBundle.Split()
		}

		combined := certhierarchy.Build(append(append([]*certprimitive.CP{}, roots...), leafBundle.Split()...))
		matches := combined.FindByHashMulti(hash, true)
		if len(matches) == 0 {
			continue
		}

		leafBundle.ForEachChain(func(path string, certs []*certprimitive.CP) bool {
			chainMatches := false
			for _, cert := range certs {
				for _, m := range matches {
					if cert.Equal(m.CP) {
						chainMatches = true
					}
				}
			}
			if !chainMatches {
				return true
			}

			role := role
			foundCertificate = true
			matchedLeafRole = &role

			if role == evsetypes.LeafRoleCSMS {
				e.logger.Error("refusing to delete protected CSMS leaf certificate")
				failedToWrite = true
				return true
			}

			if err := os.Remove(path); err != nil {
				e.logger.Errorf("could not remove leaf chain file %s: %v", path, err)
				failedToWrite = true
				return true
			}

			if len(certs) > 0 {
				if keyPath, err := leafkey.FindKeyForCertificate(certs[0], keyDir, e.cfg.PrivateKeyPassword); err == nil {
					os.Remove(keyPath)
				}
				ocspcache.DeleteAll(path)
			}
			return true
		})
	}

	if !foundCertificate {
		return DeleteResult{Result: evsetypes.DeleteNotFound}
	}
	if failedToWrite {
		return DeleteResult{Result: evsetypes.DeleteFailed, LeafRole: matchedLeafRole}
	}
	return DeleteResult{Result: evsetypes.DeleteAccepted, LeafRole: matchedLeafRole}
}
