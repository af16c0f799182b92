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
	"sort"
	"time"

	"github.com/automatethethings/evse-security/pkg/certhierarchy"
	"github.com/automatethethings/evse-security/pkg/certprimitive"
	"github.com/automatethethings/evse-security/pkg/evsetypes"
	"github.com/automatethethings/evse-security/pkg/leafkey"
	"github.com/automatethethings/evse-security/pkg/ocspcache"
)

type leafDirPair struct {
	certDir string
	keyDir  string
	role    evsetypes.PKIRole
}

// StartGC launches the periodic garbage collector as a background
// goroutine, running once every cfg.GCInterval until StopGC is called.
func (e *Engine) StartGC() {
	e.stopGC = make(chan struct{})
	e.gcDone = make(chan struct{})

	go func() {
		defer close(e.gcDone)
		ticker := time.NewTicker(e.cfg.GCInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				e.GarbageCollect()
			case <-e.stopGC:
				return
			}
		}
	}()
}

// StopGC signals the garbage collector goroutine to exit and waits for it
// to finish its current pass, if any.
func (e *Engine) StopGC() {
	if e.stopGC == nil {
		return
	}
	close(e.stopGC)
	<-e.gcDone
}

// GarbageCollect runs one collection pass: nothing happens unless the
// filesystem cap is exceeded (spec.md §9). When full, it keeps the newest
// GCRetentionPerLeaf chains per leaf directory regardless of expiry, deletes
// every expired chain beyond those (plus its key and OCSP cache entries)
// while leaving the still-valid ones in place,
// re-registers any orphaned key file as a fresh pending CSR, and sweeps
// pending CSRs older than cfg.CSRExpiry.
func (e *Engine) GarbageCollect() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.isFilesystemFull() {
		e.logger.Debug("garbage collect postponed, filesystem is not full")
		return
	}
	e.logger.Info("starting garbage collect")

	pairs := []leafDirPair{
		{e.cfg.CsmsCertDir, e.cfg.CsmsKeyDir, evsetypes.PKIRoleCSMS},
		{e.cfg.SeccCertDir, e.cfg.SeccKeyDir, evsetypes.PKIRoleV2G},
	}

	protectedKeys := map[string]bool{}

	for _, pair := range pairs {
		if pair.certDir == "" {
			continue
		}
		e.collectExpiredLeaves(pair, protectedKeys)
	}

	for _, pair := range pairs {
		e.registerOrphanedKeys(pair, protectedKeys)
	}

	for _, pair := range pairs {
		if pair.certDir == "" {
			continue
		}
		e.reconcileOCSPSideCars(pair)
	}

	removed := e.pct.SweepExpired(nowFunc(), e.cfg.CSRExpiry)
	for _, path := range removed {
		e.logger.Infof("deleted expired pending CSR key: %s", path)
	}
}

func (e *Engine) collectExpiredLeaves(pair leafDirPair, protectedKeys map[string]bool) {
	_, err := e.loadCABundle(pair.role)
	if err != nil {
		e.logger.Warnf("garbage collect: could not load root bundle for %s: %v", pair.role, err)
		return
	}
	leafBundle, _, _, err := e.loadLeafBundle(leafRoleForPKIRole(pair.role))
	if err != nil {
		e.logger.Warnf("garbage collect: could not load leaf bundle for %s: %v", pair.role, err)
		return
	}
	if leafBundle.ChainCount() <= GCRetentionPerLeaf {
		return
	}

	type chainEntry struct {
		path  string
		certs []*certprimitive.CP
	}
	var chains []chainEntry
	leafBundle.ForEachChain(func(path string, certs []*certprimitive.CP) bool {
		chains = append(chains, chainEntry{path: path, certs: certs})
		return true
	})

	sort.SliceStable(chains, func(i, j int) bool {
		a, b := chains[i].certs, chains[j].certs
		if len(a) == 0 || len(b) == 0 {
			return false
		}
		return a[0].Certificate().NotAfter.After(b[0].Certificate().NotAfter)
	})

	for i, entry := range chains {
		if len(entry.certs) == 0 {
			os.Remove(entry.path)
			continue
		}

		if i < GCRetentionPerLeaf {
			if keyPath, err := leafkey.FindKeyForCertificate(entry.certs[0], pair.keyDir, e.cfg.PrivateKeyPassword); err == nil {
				protectedKeys[keyPath] = true
				e.pct.Erase(keyPath)
			}
			continue
		}

		if !entry.certs[0].IsExpired(nowFunc()) {
			continue
		}

		e.logger.Infof("deleting expired leaf chain: %s", entry.path)
		os.Remove(entry.path)

		if keyPath, err := leafkey.FindKeyForCertificate(entry.certs[0], pair.keyDir, e.cfg.PrivateKeyPassword); err == nil {
			os.Remove(keyPath)
		}

		ocspcache.DeleteAll(entry.path)
	}
}

// registerOrphanedKeys walks pair.keyDir looking for key files with no
// matching certificate; any found that are not already protected or
// pending are registered as fresh pending CSRs, giving a delayed CSMS
// response a grace period before the key is eventually swept.
func (e *Engine) registerOrphanedKeys(pair leafDirPair, protectedKeys map[string]bool) {
	if pair.keyDir == "" {
		return
	}
	entries, err := os.ReadDir(pair.keyDir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		keyPath := joinPath(pair.keyDir, entry.Name())
		if protectedKeys[keyPath] {
			continue
		}
		if !leafkey.IsKeyFile(keyPath) {
			continue
		}
		certs, err := leafkey.FindCertificatesForKey(keyPath, pair.certDir, e.cfg.PrivateKeyPassword)
		if err == nil && len(certs) > 0 {
			continue
		}
		if !e.pct.Contains(keyPath) {
			e.pct.Insert(keyPath, nowFunc())
		}
	}
}

// reconcileOCSPSideCars removes cached OCSP entries whose certificate hash
// is no longer present in pair's installed hierarchy, even though the chain
// file their side-car directory lives alongside was not itself deleted
// (e.g. a non-descendant certificate removed from a multi-cert chain file).
func (e *Engine) reconcileOCSPSideCars(pair leafDirPair) {
	rootBundle, err := e.loadCABundle(pair.role)
	if err != nil {
		return
	}
	leafRole := leafRoleForPKIRole(pair.role)
	leafBundle, _, _, err := e.loadLeafBundle(leafRole)
	if err != nil {
		return
	}

	merged := append(append([]*certprimitive.CP{}, rootBundle.Split()...), leafBundle.Split()...)
	hierarchy := certhierarchy.Build(merged)

	valid := map[evsetypes.CertificateHashData]bool{}
	hierarchy.Walk(func(n *certhierarchy.Node) bool {
		if n.Hash != nil {
			valid[*n.Hash] = true
		}
		return true
	})

	leafBundle.ForEachChain(func(path string, certs []*certprimitive.CP) bool {
		ocspcache.ReconcileOrphans(path, valid)
		return true
	})
}

func leafRoleForPKIRole(role evsetypes.PKIRole) evsetypes.LeafRole {
	switch role {
	case evsetypes.PKIRoleCSMS:
		return evsetypes.LeafRoleCSMS
	default:
		return evsetypes.LeafRoleV2G
	}
}
