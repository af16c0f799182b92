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

// Package pendingcsr tracks private keys generated for a CSR that has not
// yet received its signed leaf certificate back from the CSMS. Entries
// older than the configured expiry are swept (and their orphaned key files
// deleted) by the garbage collector rather than immediately, so that a CSMS
// response arriving across a restart is still honored (spec.md §4.6).
package pendingcsr

import (
	"os"
	"sync"
	"time"
)

// Table is a mutex-guarded map of key-file-path to the time the CSR was issued.
type Table struct {
	mu      sync.Mutex
	entries map[string]time.Time
}

// NewTable creates an empty pending-CSR table.
func NewTable() *Table {
	return &Table{entries: map[string]time.Time{}}
}

// Insert records keyPath as pending, unless it is already tracked.
func (t *Table) Insert(keyPath string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entries[keyPath]; !ok {
		t.entries[keyPath] = now
	}
}

// Erase removes keyPath from the table, e.g. once its leaf certificate has
// been installed by update_leaf_certificate.
func (t *Table) Erase(keyPath string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, keyPath)
}

// Contains reports whether keyPath is currently tracked.
func (t *Table) Contains(keyPath string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[keyPath]
	return ok
}

// SweepExpired deletes the key file and table entry for every pending CSR
// older than expiry (relative to now), returning the paths removed.
func (t *Table) SweepExpired(now time.Time, expiry time.Duration) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var removed []string
	for keyPath, issuedAt := range t.entries {
		if now.Sub(issuedAt) > expiry {
			os.Remove(keyPath)
			delete(t.entries, keyPath)
			removed = append(removed, keyPath)
		}
	}
	return removed
}

// Len returns the number of currently tracked pending CSRs.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
