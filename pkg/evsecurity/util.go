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
	"path/filepath"
	"time"
)

// nowFunc is indirected so tests can pin the reference time used for
// validity comparisons without depending on the wall clock.
var nowFunc = time.Now

func joinPath(dir, name string) string {
	return filepath.Join(dir, name)
}

// ensureFileExists creates an empty regular file at path (and its parent
// directory) if nothing exists there yet; it leaves an existing directory
// or file untouched.
func ensureFileExists(path string) {
	if _, err := os.Stat(path); err == nil {
		return
	}
	os.MkdirAll(filepath.Dir(path), 0700)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL, 0644)
	if err == nil {
		f.Close()
	}
}

// ensureDirExists creates path as a directory if nothing exists there yet.
func ensureDirExists(path string) {
	if _, err := os.Stat(path); err == nil {
		return
	}
	os.MkdirAll(path, 0700)
}

// writeFileAtomic writes data to path via a temp-file-then-rename so a
// reader never observes a partially written certificate/key file.
func writeFileAtomic(path string, data []byte) error {
	tmp := path + "$"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
