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
	"github.com/google/uuid"

	"github.com/automatethethings/evse-security/pkg/certbundle"
	"github.com/automatethethings/evse-security/pkg/evsetypes"
	"github.com/automatethethings/evse-security/pkg/leafkey"
)

// UpdateLeaf installs a signed leaf certificate chain returned by a CSMS in
// response to a previously generated CSR. The first certificate in the
// chain must be the leaf; any remaining certificates are intermediates
// written alongside it as a chain file (spec.md §4.6 Leaf-install SM).
func (e *Engine) UpdateLeaf(pemChain string, role evsetypes.LeafRole) evsetypes.InstallCertificateResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.logger.Infof("updating leaf certificate for role %s", role)

	if e.isFilesystemFull() {
		e.logger.Error("filesystem full, refusing to install new leaf certificate")
		return evsetypes.InstallCertificateStoreMaxLengthExceeded
	}

	certDir, keyDir, err := e.cfg.leafPaths(role)
	if err != nil {
		e.logger.Error(err.Error())
		return evsetypes.InstallWriteError
	}

	chainBundle, err := certbundle.NewFromString(pemChain)
	if err != nil {
		e.logger.Warnf("update leaf: certificate load error: %v", err)
		return evsetypes.InstallInvalidFormat
	}
	chain := chainBundle.Split()
	if len(chain) == 0 {
		return evsetypes.InstallInvalidFormat
	}

	validationResult := e.verifyChainInternal(chain, []evsetypes.LeafRole{role})
	if validationResult != evsetypes.ValidationValid {
		return validationToInstallResult(validationResult)
	}

	leaf := chain[0]

	keyPath, err := leafkey.FindKeyForCertificate(leaf, keyDir, e.cfg.PrivateKeyPassword)
	if err != nil {
		e.logger.Warn("provided certificate does not belong to any private key")
		return evsetypes.InstallWriteError
	}

	suffix := uuid.NewString() + evsetypes.PEMExtension
	singleFileName := role.FileTag() + suffix
	singlePath := joinPath(certDir, singleFileName)

	pemBytes, err := leaf.ExportPEM()
	if err != nil {
		e.logger.Errorf("update leaf: %v", err)
		return evsetypes.InstallWriteError
	}
	if err := writeFileAtomic(singlePath, pemBytes); err != nil {
		e.logger.Errorf("update leaf: could not write leaf certificate: %v", err)
		return evsetypes.InstallWriteError
	}

	e.pct.Erase(keyPath)

	if len(chain) > 1 {
		chainFileName := role.ChainTag() + suffix
		chainPath := joinPath(certDir, chainFileName)
		chainPEM, err := chainBundle.ExportString()
		if err != nil {
			e.logger.Errorf("update leaf: could not render chain: %v", err)
			return evsetypes.InstallWriteError
		}
		if err := writeFileAtomic(chainPath, []byte(chainPEM)); err != nil {
			e.logger.Error("could not write leaf certificate chain to file")
			return evsetypes.InstallWriteError
		}
	}

	return evsetypes.InstallAccepted
}

func validationToInstallResult(v evsetypes.CertificateValidationResult) evsetypes.InstallCertificateResult {
	switch v {
	case evsetypes.ValidationExpired:
		return evsetypes.InstallExpired
	case evsetypes.ValidationInvalidSignature, evsetypes.ValidationInvalidLeafSignature:
		return evsetypes.InstallInvalidSignature
	case evsetypes.ValidationInvalidChain:
		return evsetypes.InstallInvalidCertificateChain
	case evsetypes.ValidationIssuerNotFound:
		return evsetypes.InstallNoRootCertificateInstalled
	default:
		return evsetypes.InstallInvalidFormat
	}
}
