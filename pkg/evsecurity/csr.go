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
	"crypto/x509"
	"encoding/pem"

	"github.com/google/uuid"

	"github.com/automatethethings/evse-security/pkg/cryptoutil"
	"github.com/automatethethings/evse-security/pkg/encoding"
	"github.com/automatethethings/evse-security/pkg/evsetypes"
)

// GenerateCSR generates a fresh EC P-256 key pair and PKCS#10 request for
// role, writes the key to role's key directory (password-protected when the
// engine was configured with one) and registers the key path in the
// pending-CSR table so an unanswered request eventually gets swept
// (spec.md §4.6). Only the CSMS and V2G leaf roles are installable this
// way; MF and MO are rejected.
func (e *Engine) GenerateCSR(role evsetypes.LeafRole, country, organization, commonName string) (evsetypes.GenerateCSRResult, string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if role != evsetypes.LeafRoleCSMS && role != evsetypes.LeafRoleV2G {
		e.logger.Error("generate CSR requested for non CSMS/V2G leaf role")
		return evsetypes.GenerateCSRInvalidRequestedType, ""
	}

	_, keyDir, err := e.cfg.leafPaths(role)
	if err != nil {
		return evsetypes.GenerateCSRInvalidRequestedType, ""
	}

	key, csrDER, err := cryptoutil.GenerateKeyAndCSR(cryptoutil.CSRParams{
		Country:      country,
		Organization: organization,
		CommonName:   commonName,
	})
	if err != nil {
		e.logger.Errorf("CSR generation error: %v", err)
		return evsetypes.GenerateCSRKeyGenError, ""
	}

	keyPEM, err := encoding.EncodePrivateKeyPEM(key, x509.ECDSA, e.cfg.PrivateKeyPassword)
	if err != nil {
		e.logger.Errorf("CSR generation error: %v", err)
		return evsetypes.GenerateCSRKeyGenError, ""
	}

	ensureDirExists(keyDir)
	keyPath := joinPath(keyDir, role.String()+"_"+uuid.NewString()+evsetypes.KeyExtension)
	if err := writeFileAtomic(keyPath, keyPEM); err != nil {
		e.logger.Errorf("CSR generation error: could not write key file: %v", err)
		return evsetypes.GenerateCSRGenerationError, ""
	}

	csrPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE REQUEST", Bytes: csrDER})

	e.pct.Insert(keyPath, nowFunc())

	return evsetypes.GenerateCSRAccepted, string(csrPEM)
}
