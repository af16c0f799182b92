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

// Package leafkey resolves the association between a leaf certificate file
// and its private key file: a filename-guess fast path followed by an
// exhaustive scan of the key directory (spec.md §4.4).
package leafkey

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/automatethethings/evse-security/pkg/certprimitive"
	"github.com/automatethethings/evse-security/pkg/cryptoutil"
	"github.com/automatethethings/evse-security/pkg/encoding"
	"github.com/automatethethings/evse-security/pkg/evsetypes"
)

// ErrNoPrivateKey is returned when no key file in keyDir pairs with the
// given certificate.
var ErrNoPrivateKey = errors.New("leafkey: no private key found for certificate")

// ErrNoCertificate is returned when no certificate pairs with a given key.
var ErrNoCertificate = errors.New("leafkey: no certificate found for private key")

// FindKeyForCertificate locates the private key belonging to cp. It first
// tries cp's own path with the .key and custom-key extensions, falling back
// to a recursive scan of keyDir for any key file whose public half matches.
func FindKeyForCertificate(cp *certprimitive.CP, keyDir string, password []byte) (string, error) {
	if certPath := cp.Path(); certPath != "" {
		for _, ext := range []string{evsetypes.KeyExtension, ".tkey"} {
			candidate := strings.TrimSuffix(certPath, filepath.Ext(certPath)) + ext
			if matchesFile(cp, candidate, password) {
				return candidate, nil
			}
		}
	}

	var found string
	err := filepath.WalkDir(keyDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if !IsKeyFile(path) {
			return nil
		}
		if matchesFile(cp, path, password) {
			found = path
			return fs.SkipAll
		}
		return nil
	})
	if err != nil && !errors.Is(err, fs.SkipAll) {
		return "", fmt.Errorf("leafkey: %w", err)
	}
	if found == "" {
		return "", ErrNoPrivateKey
	}
	return found, nil
}

// FindCertificatesForKey locates every certificate file whose contents
// include a certificate matching keyPath's private key, first trying the
// key's own basename with a .pem extension, falling back to an exhaustive
// scan of certDir.
func FindCertificatesForKey(keyPath, certDir string, password []byte) ([]string, error) {
	keyData, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("leafkey: %w", err)
	}
	privateKey, err := encoding.DecodePrivateKeyPEM(keyData, password)
	if err != nil {
		return nil, fmt.Errorf("leafkey: %w", err)
	}

	guess := strings.TrimSuffix(keyPath, filepath.Ext(keyPath)) + evsetypes.PEMExtension
	if matches := matchingCertFiles(guess, privateKey); len(matches) > 0 {
		return matches, nil
	}

	var results []string
	seen := map[string]bool{}
	err = filepath.WalkDir(certDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if !evsetypes.HasCertExtension(path) {
			return nil
		}
		for _, m := range matchingCertFiles(path, privateKey) {
			if !seen[m] {
				seen[m] = true
				results = append(results, m)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("leafkey: %w", err)
	}
	if len(results) == 0 {
		return nil, ErrNoCertificate
	}
	return results, nil
}

func matchesFile(cp *certprimitive.CP, keyPath string, password []byte) bool {
	if _, err := os.Stat(keyPath); err != nil {
		return false
	}
	keyData, err := os.ReadFile(keyPath)
	if err != nil {
		return false
	}
	privateKey, err := encoding.DecodePrivateKeyPEM(keyData, password)
	if err != nil {
		return false
	}
	return cryptoutil.MatchesPrivateKey(cp.Certificate(), privateKey)
}

func matchingCertFiles(path string, privateKey interface{}) []string {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	certs, err := encoding.DecodeCertificateChainPEM(data)
	if err != nil {
		return nil
	}
	for _, cert := range certs {
		if cryptoutil.MatchesPrivateKey(cert, privateKey) {
			return []string{path}
		}
	}
	return nil
}

// IsKeyFile reports whether path has a recognized private-key extension
// (".key", or ".tkey" for custom-provider-backed keys).
func IsKeyFile(path string) bool {
	ext := filepath.Ext(path)
	return ext == evsetypes.KeyExtension || ext == ".tkey"
}
