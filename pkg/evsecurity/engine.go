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
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/automatethethings/evse-security/pkg/certbundle"
	"github.com/automatethethings/evse-security/pkg/certprimitive"
	"github.com/automatethethings/evse-security/pkg/evsetypes"
	"github.com/automatethethings/evse-security/pkg/logging"
	"github.com/automatethethings/evse-security/pkg/pendingcsr"
)

// Engine is the Certificate Store Engine. It serializes every public
// operation behind a single mutex (spec.md §5); construct one per
// filesystem layout.
type Engine struct {
	mu     sync.Mutex
	cfg    Config
	logger *logging.Logger
	pct    *pendingcsr.Table

	stopGC chan struct{}
	gcDone chan struct{}
}

// New constructs an Engine, applying config defaults and enforcing the
// fatal construction-time invariant that no leaf directory overlaps a CA
// bundle path.
func New(cfg Config, logger *logging.Logger) (*Engine, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	return &Engine{
		cfg:    cfg,
		logger: logger,
		pct:    pendingcsr.NewTable(),
	}, nil
}

func (e *Engine) caBundlePath(role evsetypes.PKIRole) (string, error) {
	path, ok := e.cfg.CABundles[role]
	if !ok || path == "" {
		return "", fmt.Errorf("evsecurity: no CA bundle configured for role %s", role)
	}
	return path, nil
}

func (e *Engine) loadCABundle(role evsetypes.PKIRole) (*certbundle.CB, error) {
	path, err := e.caBundlePath(role)
	if err != nil {
		return nil, err
	}
	return certbundle.NewFromPath(path)
}

func (e *Engine) loadLeafBundle(role evsetypes.LeafRole) (*certbundle.CB, string, string, error) {
	certDir, keyDir, err := e.cfg.leafPaths(role)
	if err != nil {
		return nil, "", "", err
	}
	cb, err := certbundle.NewFromPath(certDir)
	if err != nil {
		return nil, "", "", err
	}
	return cb, certDir, keyDir, nil
}

// isFilesystemFull sums the byte size of every certificate/key file across
// all managed directories and reports whether either cap is exceeded
// (spec.md §9: the reference sums via assignment instead of accumulation;
// this implementation performs true accumulation as directed).
func (e *Engine) isFilesystemFull() bool {
	var totalBytes int64
	var totalEntries int

	dirs := []string{e.cfg.SeccCertDir, e.cfg.SeccKeyDir, e.cfg.CsmsCertDir, e.cfg.CsmsKeyDir}
	for _, path := range e.cfg.CABundles {
		dirs = append(dirs, path)
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			info, err := entry.Info()
			if err != nil {
				continue
			}
			totalBytes += info.Size()
			totalEntries++
		}
	}

	return totalBytes > e.cfg.MaxBytes || totalEntries > e.cfg.MaxEntries
}

// InstallCA installs cert (a single PEM-encoded certificate) into the
// trust-anchor bundle for role.
func (e *Engine) InstallCA(pemCert string, role evsetypes.PKIRole) evsetypes.InstallCertificateResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.logger.Infof("installing CA certificate for role %s", role)

	if e.isFilesystemFull() {
		e.logger.Error("filesystem full, refusing to install new CA certificate")
		return evsetypes.InstallCertificateStoreMaxLengthExceeded
	}

	newCert, err := certprimitive.FromPEM([]byte(pemCert))
	if err != nil {
		e.logger.Warnf("CA install: certificate load error: %v", err)
		return evsetypes.InstallInvalidFormat
	}

	if !newCert.IsValid(nowFunc()) {
		return evsetypes.InstallExpired
	}

	bundlePath, err := e.caBundlePath(role)
	if err != nil {
		e.logger.Error(err.Error())
		return evsetypes.InstallWriteError
	}
	ensureFileExists(bundlePath)

	existing, err := certbundle.NewFromPath(bundlePath)
	if err != nil {
		e.logger.Warnf("CA install: could not load existing bundle: %v", err)
		return evsetypes.InstallInvalidFormat
	}

	if existing.Source() == certbundle.SourceDirectory {
		filename := role.String() + "_ROOT_" + uuid.NewString() + evsetypes.PEMExtension
		newCert.SetPath(joinPath(bundlePath, filename))
	}

	if existing.ContainsCertificate(newCert) {
		existing.UpdateCertificate(newCert)
	} else if err := existing.AddCertificate(newCert); err != nil {
		e.logger.Errorf("CA install: %v", err)
		return evsetypes.InstallWriteError
	}

	if err := existing.Export(); err != nil {
		e.logger.Errorf("CA install: export failed: %v", err)
		return evsetypes.InstallWriteError
	}
	return evsetypes.InstallAccepted
}

// IsCAInstalled reports whether role's trust-anchor bundle holds at least
// one certificate.
func (e *Engine) IsCAInstalled(role evsetypes.PKIRole) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	bundle, err := e.loadCABundle(role)
	if err != nil {
		return false
	}
	return !bundle.Empty()
}
