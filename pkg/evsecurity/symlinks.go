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

	"github.com/automatethethings/evse-security/pkg/evsetypes"
)

// UpdateSymlinks refreshes the cert/key/chain symlinks exposed to the
// V2G-facing transport stack so they always point at the current newest
// valid V2G leaf, removing them when no valid leaf remains. Only the V2G
// role is supported; any other role is a programmer error (spec.md §4.7).
func (e *Engine) UpdateSymlinks(role evsetypes.LeafRole) bool {
	if role != evsetypes.LeafRoleV2G {
		panic("evsecurity: symlink updating only supported for the V2G leaf role")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	status, selections := e.selectValidLeaves(evsetypes.LeafRoleV2G, false, false)
	changed := false

	if status != evsetypes.GetCertificateInfoAccepted || len(selections) == 0 {
		changed = removeSymlink(e.cfg.SeccCertLink) || changed
		changed = removeSymlink(e.cfg.SeccKeyLink) || changed
		changed = removeSymlink(e.cfg.CpoChainLink) || changed
		return changed
	}

	sel := selections[0]

	if e.cfg.SeccCertLink != "" && sel.singlePath != "" {
		changed = relinkTo(e.cfg.SeccCertLink, sel.singlePath) || changed
	}
	if e.cfg.SeccKeyLink != "" && sel.keyPath != "" {
		changed = relinkTo(e.cfg.SeccKeyLink, sel.keyPath) || changed
	}
	if e.cfg.CpoChainLink != "" && sel.chainPath != "" {
		changed = relinkTo(e.cfg.CpoChainLink, sel.chainPath) || changed
	}

	return changed
}

// relinkTo ensures linkPath is a symlink pointing at target, replacing a
// stale symlink and leaving a non-symlink file untouched.
func relinkTo(linkPath, target string) bool {
	changed := false
	if current, err := os.Readlink(linkPath); err == nil {
		if current != target {
			os.Remove(linkPath)
			changed = true
		}
	}
	if _, err := os.Lstat(linkPath); err != nil {
		if err := os.Symlink(target, linkPath); err == nil {
			changed = true
		}
	}
	return changed
}

func removeSymlink(linkPath string) bool {
	if linkPath == "" {
		return false
	}
	if _, err := os.Readlink(linkPath); err != nil {
		return false
	}
	return os.Remove(linkPath) == nil
}
