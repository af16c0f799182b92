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

// Package evsecurity implements the Certificate Store Engine (CSE): the
// orchestrator that owns the PKI-role-to-bundle mapping, the leaf/key
// directory layout, the exposed symlinks, filesystem caps, the periodic
// garbage collector, and the single serializer mutex guarding every public
// operation (spec.md §4.7, §5).
package evsecurity

import (
	"fmt"
	"time"

	"github.com/automatethethings/evse-security/pkg/evsetypes"
)

const (
	DefaultCSRExpiry   = 3600 * time.Second
	DefaultGCInterval  = 1200 * time.Second
	DefaultMaxBytes    = 100 * 1024 * 1024
	DefaultMaxEntries  = 10000
	GCRetentionPerLeaf = 10 // keep-newest-K
)

// Config is the engine's construction-time configuration (spec.md §6).
type Config struct {
	// CABundles maps each PKI role to its trust-anchor bundle path (a PEM
	// file or a directory of .pem/.der files).
	CABundles map[evsetypes.PKIRole]string

	SeccCertDir string
	SeccKeyDir  string
	CsmsCertDir string
	CsmsKeyDir  string

	SeccCertLink string
	SeccKeyLink  string
	CpoChainLink string

	MaxBytes   int64
	MaxEntries int

	CSRExpiry  time.Duration
	GCInterval time.Duration

	PrivateKeyPassword []byte
}

// applyDefaults fills unset optional fields with their spec-mandated defaults.
func (c *Config) applyDefaults() {
	if c.CSRExpiry <= 0 {
		c.CSRExpiry = DefaultCSRExpiry
	}
	if c.GCInterval <= 0 {
		c.GCInterval = DefaultGCInterval
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = DefaultMaxBytes
	}
	if c.MaxEntries <= 0 {
		c.MaxEntries = DefaultMaxEntries
	}
}

// Validate enforces the construction-time invariant from spec.md §6: no
// leaf directory may equal any CA bundle path, so garbage collection can
// never touch a trust anchor.
func (c *Config) Validate() error {
	leafDirs := []string{c.SeccCertDir, c.SeccKeyDir, c.CsmsCertDir, c.CsmsKeyDir}
	for _, leafDir := range leafDirs {
		if leafDir == "" {
			continue
		}
		for role, bundlePath := range c.CABundles {
			if leafDir == bundlePath {
				return fmt.Errorf("evsecurity: leaf directory %s must not equal the %s CA bundle path", leafDir, role)
			}
		}
	}
	return nil
}

func (c *Config) leafPaths(role evsetypes.LeafRole) (certDir, keyDir string, err error) {
	switch role {
	case evsetypes.LeafRoleCSMS:
		return c.CsmsCertDir, c.CsmsKeyDir, nil
	case evsetypes.LeafRoleV2G:
		return c.SeccCertDir, c.SeccKeyDir, nil
	default:
		return "", "", fmt.Errorf("evsecurity: no leaf directory configured for role %s", role)
	}
}

// rootRoleFor maps a leaf role to the PKI role whose bundle anchors it.
func rootRoleFor(role evsetypes.LeafRole) (evsetypes.PKIRole, error) {
	switch role {
	case evsetypes.LeafRoleCSMS:
		return evsetypes.PKIRoleCSMS, nil
	case evsetypes.LeafRoleV2G:
		return evsetypes.PKIRoleV2G, nil
	default:
		return 0, fmt.Errorf("evsecurity: leaf role %s has no anchoring PKI role", role)
	}
}
