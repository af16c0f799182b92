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

// Package ocspcache manages the "ocsp" side-car directory kept alongside a
// leaf certificate's chain file: one (.hash, .der) file pair per cached OCSP
// response, keyed by the certificate's hash data (spec.md §4.4).
package ocspcache

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/automatethethings/evse-security/pkg/evsetypes"
)

const subdirName = "ocsp"

// DirFor returns the ocsp side-car directory for a certificate that lives at
// certPath, creating it if it does not already exist.
func DirFor(certPath string) (string, error) {
	dir := filepath.Join(filepath.Dir(certPath), subdirName)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("ocspcache: %w", err)
	}
	return dir, nil
}

// Find searches the side-car directory of certPath for a cached response
// matching hash, returning the hash-file and data-file paths. ok is false
// when no matching pair exists (either no hash file matched, or the
// directory itself is absent).
func Find(certPath string, hash evsetypes.CertificateHashData) (hashPath, dataPath string, ok bool) {
	dir := filepath.Join(filepath.Dir(certPath), subdirName)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", "", false
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if filepath.Ext(entry.Name()) != evsetypes.HashExtension {
			continue
		}
		full := filepath.Join(dir, entry.Name())
		stored, err := readHashFile(full)
		if err != nil {
			continue
		}
		if !stored.Equal(hash) {
			continue
		}
		data := strings.TrimSuffix(full, evsetypes.HashExtension) + evsetypes.DERSideCarExt
		if _, err := os.Stat(data); err != nil {
			return "", "", false
		}
		return full, data, true
	}
	return "", "", false
}

// Store writes response under certPath's ocsp side-car directory, keyed by
// hash. If a cached entry for the same hash already exists its data file is
// overwritten in place; otherwise a new randomly-named pair is created.
func Store(certPath string, hash evsetypes.CertificateHashData, response []byte) error {
	dir, err := DirFor(certPath)
	if err != nil {
		return err
	}

	if _, dataPath, ok := Find(certPath, hash); ok {
		if err := os.WriteFile(dataPath, response, 0644); err != nil {
			return fmt.Errorf("ocspcache: %w", err)
		}
		return nil
	}

	base := uuid.NewString() + "_ocsp"
	hashPath := filepath.Join(dir, base+evsetypes.HashExtension)
	dataPath := filepath.Join(dir, base+evsetypes.DERSideCarExt)

	if err := os.WriteFile(dataPath, response, 0644); err != nil {
		return fmt.Errorf("ocspcache: %w", err)
	}
	if err := os.WriteFile(hashPath, []byte(hash.SerializeText()), 0644); err != nil {
		os.Remove(dataPath)
		return fmt.Errorf("ocspcache: %w", err)
	}
	return nil
}

// Retrieve returns the cached response bytes for hash alongside certPath, or
// ok=false if no cached entry exists.
func Retrieve(certPath string, hash evsetypes.CertificateHashData) (data []byte, ok bool) {
	_, dataPath, found := Find(certPath, hash)
	if !found {
		return nil, false
	}
	bytes, err := os.ReadFile(dataPath)
	if err != nil {
		return nil, false
	}
	return bytes, true
}

// DeleteAll removes the entire ocsp side-car directory for certPath, used
// when the owning leaf certificate itself is deleted.
func DeleteAll(certPath string) error {
	dir := filepath.Join(filepath.Dir(certPath), subdirName)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("ocspcache: %w", err)
	}
	return nil
}

// ReconcileOrphans removes any (hash-file, DER-file) pair in certPath's
// side-car directory whose stored hash is not present in validHashes. Used
// by garbage collection to reclaim entries left behind when a certificate
// the side-car was cached for is no longer part of the installed hierarchy,
// even though the chain file it lived alongside still exists.
func ReconcileOrphans(certPath string, validHashes map[evsetypes.CertificateHashData]bool) {
	dir := filepath.Join(filepath.Dir(certPath), subdirName)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != evsetypes.HashExtension {
			continue
		}
		hashPath := filepath.Join(dir, entry.Name())
		stored, err := readHashFile(hashPath)
		if err != nil {
			continue
		}
		if validHashes[stored] {
			continue
		}
		dataPath := strings.TrimSuffix(hashPath, evsetypes.HashExtension) + evsetypes.DERSideCarExt
		os.Remove(hashPath)
		os.Remove(dataPath)
	}
}

// readHashFile parses the on-disk hash side-car format: issuer_name_hash
// (64 hex chars) + issuer_key_hash (64 hex chars) + serial_number
// (remaining hex, variable length, no separators).
func readHashFile(path string) (evsetypes.CertificateHashData, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return evsetypes.CertificateHashData{}, err
	}
	text := strings.TrimSpace(string(data))
	const hexLen = 64
	if len(text) <= 2*hexLen {
		return evsetypes.CertificateHashData{}, fmt.Errorf("ocspcache: malformed hash file %s", path)
	}
	return evsetypes.CertificateHashData{
		HashAlgorithm:  evsetypes.HashAlgorithmSHA256,
		IssuerNameHash: text[:hexLen],
		IssuerKeyHash:  text[hexLen : 2*hexLen],
		SerialNumber:   text[2*hexLen:],
	}, nil
}
