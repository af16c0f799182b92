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

// Package certbundle implements the Certificate Bundle (CB): an in-memory
// collection of certificate chains keyed by their on-disk origin, backed by
// either a single file, a directory of chain files, or an in-memory string
// (spec.md §4.2). Mutations are in-memory only until Export is called.
package certbundle

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/automatethethings/evse-security/pkg/certhierarchy"
	"github.com/automatethethings/evse-security/pkg/certprimitive"
	"github.com/automatethethings/evse-security/pkg/encoding"
	"github.com/automatethethings/evse-security/pkg/evsetypes"
)

// Source identifies where a bundle's certificates came from, and therefore
// whether/how Export can write them back out.
type Source int

const (
	SourceString Source = iota
	SourceFile
	SourceDirectory
)

// CB is a certificate bundle: a map of chain-file-path to the ordered list
// of certificates parsed from that file, plus the source it was built from.
type CB struct {
	chains map[string][]*certprimitive.CP
	order  []string // insertion order of chain keys, for deterministic iteration
	path   string
	source Source

	hierarchy           *certhierarchy.CH
	hierarchyInvalid bool
}

// NewFromString parses certificate(s) directly from PEM text. A CB built
// this way cannot be exported (spec.md §4.2: "Export ... invalid for STRING").
func NewFromString(pemData string) (*CB, error) {
	cb := &CB{chains: map[string][]*certprimitive.CP{}, source: SourceString, hierarchyInvalid: true}
	if err := cb.addFromPEM("", []byte(pemData)); err != nil {
		return nil, err
	}
	return cb, nil
}

// NewFromPath builds a CB from a filesystem path. A directory is read
// non-recursively, picking up every .pem/.der file in it (ignoring any ocsp
// sub-directory); a single file is read as one chain.
func NewFromPath(path string) (*CB, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("certbundle: %w", err)
	}

	cb := &CB{chains: map[string][]*certprimitive.CP{}, path: path, hierarchyInvalid: true}

	if info.IsDir() {
		cb.source = SourceDirectory
		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, fmt.Errorf("certbundle: %w", err)
		}
		for _, entry := range entries {
			if entry.IsDir() || !evsetypes.HasCertExtension(entry.Name()) {
				continue
			}
			full := filepath.Join(path, entry.Name())
			data, err := os.ReadFile(full)
			if err != nil {
				continue
			}
			if err := cb.addFromPEM(full, data); err != nil {
				continue
			}
		}
		return cb, nil
	}

	if !evsetypes.HasCertExtension(path) {
		return nil, fmt.Errorf("certbundle: %s is not a recognized certificate file", path)
	}
	cb.source = SourceFile
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("certbundle: %w", err)
	}
	if err := cb.addFromPEM(path, data); err != nil {
		return nil, err
	}
	return cb, nil
}

func (cb *CB) addFromPEM(key string, data []byte) error {
	certs, err := splitPEMCerts(data)
	if err != nil {
		return fmt.Errorf("certbundle: %w", err)
	}
	for _, cp := range certs {
		if key != "" {
			cp.SetPath(key)
		}
		cb.appendToChain(key, cp)
	}
	return nil
}

func (cb *CB) appendToChain(key string, cp *certprimitive.CP) {
	if _, ok := cb.chains[key]; !ok {
		cb.order = append(cb.order, key)
	}
	cb.chains[key] = append(cb.chains[key], cp)
}

// Source returns where this bundle's certificates came from.
func (cb *CB) Source() Source { return cb.source }

// Path returns the bundle's backing file or directory path ("" for STRING).
func (cb *CB) Path() string { return cb.path }

// Empty reports whether the bundle holds no certificates at all.
func (cb *CB) Empty() bool {
	return cb.CertificateCount() == 0
}

// CertificateCount returns the total number of certificates across all chains.
func (cb *CB) CertificateCount() int {
	n := 0
	for _, chain := range cb.chains {
		n += len(chain)
	}
	return n
}

// ChainCount returns the number of distinct chain files (or 1 for STRING).
func (cb *CB) ChainCount() int {
	return len(cb.chains)
}

// Split flattens every chain into a single ordered slice of certificates.
func (cb *CB) Split() []*certprimitive.CP {
	var out []*certprimitive.CP
	for _, key := range cb.order {
		out = append(out, cb.chains[key]...)
	}
	return out
}

// ForEachChain iterates chains in insertion order, stopping early if fn
// returns false.
func (cb *CB) ForEachChain(fn func(path string, certs []*certprimitive.CP) bool) {
	for _, key := range cb.order {
		if !fn(key, cb.chains[key]) {
			return
		}
	}
}

// ForEachChainOrdered iterates chains sorted by the given comparator.
func (cb *CB) ForEachChainOrdered(fn func(path string, certs []*certprimitive.CP) bool, less func(a, b []*certprimitive.CP) bool) {
	keys := append([]string{}, cb.order...)
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && less(cb.chains[keys[j]], cb.chains[keys[j-1]]); j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
	for _, key := range keys {
		if !fn(key, cb.chains[key]) {
			return
		}
	}
}

// ContainsCertificate reports whether cp (by DER equality) is already present.
func (cb *CB) ContainsCertificate(cp *certprimitive.CP) bool {
	for _, chain := range cb.chains {
		for _, existing := range chain {
			if existing.Equal(cp) {
				return true
			}
		}
	}
	return false
}

// ContainsHash reports whether the bundle holds a certificate matching hash,
// trying self-signed root certificates first and falling back to the
// hierarchy for intermediate/leaf matches.
func (cb *CB) ContainsHash(hash evsetypes.CertificateHashData) bool {
	for _, chain := range cb.chains {
		for _, cp := range chain {
			if cp.IsSelfSigned() {
				if selfHash, err := cp.CertificateHashData(); err == nil && selfHash.Equal(hash) {
					return true
				}
			}
		}
	}
	return cb.Hierarchy().ContainsHash(hash)
}

// FindCertificate returns the first certificate matching hash, trying
// self-signed roots first (optionally case-insensitively) before falling
// back to the hierarchy.
func (cb *CB) FindCertificate(hash evsetypes.CertificateHashData, caseInsensitive bool) *certprimitive.CP {
	for _, chain := range cb.chains {
		for _, cp := range chain {
			if !cp.IsSelfSigned() {
				continue
			}
			selfHash, err := cp.CertificateHashData()
			if err != nil {
				continue
			}
			matches := selfHash.Equal(hash)
			if caseInsensitive {
				matches = selfHash.EqualFold(hash)
			}
			if matches {
				return cp
			}
		}
	}
	if node := cb.Hierarchy().FindByHash(hash, caseInsensitive); node != nil {
		return node.CP
	}
	return nil
}

// AddCertificate appends cp to the bundle. In DIRECTORY mode cp must already
// carry a path under the bundle's root (assign one first); in FILE/STRING
// mode it is appended to the single existing chain.
func (cb *CB) AddCertificate(cp *certprimitive.CP) error {
	if cb.source == SourceDirectory {
		certPath := cp.Path()
		if certPath == "" || !isSubpath(cb.path, certPath) {
			return fmt.Errorf("certbundle: certificate added to a directory bundle must have a path under %s", cb.path)
		}
		cb.appendToChain(certPath, cp)
		cb.invalidateHierarchy()
		return nil
	}
	key := ""
	if len(cb.order) > 0 {
		key = cb.order[0]
	}
	cb.appendToChain(key, cp)
	cb.invalidateHierarchy()
	return nil
}

// AddCertificateUnique adds cp only if an equal certificate is not already present.
func (cb *CB) AddCertificateUnique(cp *certprimitive.CP) error {
	if cb.ContainsCertificate(cp) {
		return nil
	}
	return cb.AddCertificate(cp)
}

// UpdateCertificate replaces the first certificate equal to cp with cp
// itself, reporting whether a match was found.
func (cb *CB) UpdateCertificate(cp *certprimitive.CP) bool {
	for key, chain := range cb.chains {
		for i, existing := range chain {
			if existing.Equal(cp) {
				cb.chains[key][i] = cp
				cb.invalidateHierarchy()
				return true
			}
		}
	}
	return false
}

// DeleteCertificate removes every certificate equal to cp, optionally also
// removing its descendants per the hierarchy. Returns the certificates
// actually removed.
func (cb *CB) DeleteCertificate(cp *certprimitive.CP, includeIssued bool) []*certprimitive.CP {
	toDelete := []*certprimitive.CP{cp}
	if includeIssued {
		toDelete = append(toDelete, cb.Hierarchy().CollectDescendants(cp)...)
	}

	var deleted []*certprimitive.CP
	for key, chain := range cb.chains {
		kept := chain[:0:0]
		for _, existing := range chain {
			match := false
			for _, d := range toDelete {
				if existing.Equal(d) {
					match = true
					break
				}
			}
			if match {
				deleted = append(deleted, existing)
			} else {
				kept = append(kept, existing)
			}
		}
		cb.chains[key] = kept
	}

	if len(deleted) > 0 {
		cb.invalidateHierarchy()
	}
	return deleted
}

// DeleteCertificateByHash resolves hash to a certificate via the hierarchy
// (case-insensitively) and deletes it, or returns nil if no match exists.
func (cb *CB) DeleteCertificateByHash(hash evsetypes.CertificateHashData, includeIssued bool) []*certprimitive.CP {
	node := cb.Hierarchy().FindByHash(hash, true)
	if node == nil {
		return nil
	}
	return cb.DeleteCertificate(node.CP, includeIssued)
}

// Clear removes every certificate from the bundle.
func (cb *CB) Clear() {
	cb.chains = map[string][]*certprimitive.CP{}
	cb.order = nil
	cb.invalidateHierarchy()
}

func (cb *CB) invalidateHierarchy() {
	cb.hierarchyInvalid = true
}

// Hierarchy returns the bundle's cached parent-child hierarchy, rebuilding
// it if any mutation has happened since the last build.
func (cb *CB) Hierarchy() *certhierarchy.CH {
	if cb.hierarchyInvalid || cb.hierarchy == nil {
		cb.hierarchy = certhierarchy.Build(cb.Split())
		cb.hierarchyInvalid = false
	}
	return cb.hierarchy
}

// ErrNoValidCertificate is returned by LatestValidCertificate when the
// bundle holds no currently-valid certificate.
var ErrNoValidCertificate = fmt.Errorf("certbundle: no valid certificates available")

// LatestValidCertificate returns the valid (per IsValid(now)) certificate
// with the latest NotBefore in the bundle.
func (cb *CB) LatestValidCertificate(now time.Time) (*certprimitive.CP, error) {
	var latest *certprimitive.CP
	for _, cp := range cb.Split() {
		if !cp.IsValid(now) {
			continue
		}
		if latest == nil || cp.Certificate().NotBefore.After(latest.Certificate().NotBefore) {
			latest = cp
		}
	}
	if latest == nil {
		return nil, ErrNoValidCertificate
	}
	return latest, nil
}

// ExportString renders every certificate in the bundle as concatenated PEM.
func (cb *CB) ExportString() (string, error) {
	var sb strings.Builder
	for _, key := range cb.order {
		for _, cp := range cb.chains[key] {
			pemBytes, err := cp.ExportPEM()
			if err != nil {
				return "", err
			}
			sb.Write(pemBytes)
		}
	}
	return sb.String(), nil
}

// ExportChainString renders one chain's certificates as concatenated PEM.
func (cb *CB) ExportChainString(chainPath string) (string, error) {
	var sb strings.Builder
	for _, cp := range cb.chains[chainPath] {
		pemBytes, err := cp.ExportPEM()
		if err != nil {
			return "", err
		}
		sb.Write(pemBytes)
	}
	return sb.String(), nil
}

// Export synchronizes the bundle's in-memory state back to disk: a STRING
// bundle cannot be exported; a FILE bundle is rewritten atomically (via a
// temp-file-then-rename) or deleted if empty; a DIRECTORY bundle deletes
// files whose chain was removed, writes files for new/changed chains, and
// leaves untouched files alone (spec.md §4.2).
func (cb *CB) Export() error {
	switch cb.source {
	case SourceString:
		return fmt.Errorf("certbundle: export is invalid for a STRING-sourced bundle")
	case SourceDirectory:
		return cb.exportDirectory()
	case SourceFile:
		return cb.exportFile()
	default:
		return fmt.Errorf("certbundle: unknown bundle source")
	}
}

func (cb *CB) exportFile() error {
	if cb.CertificateCount() == 0 {
		if err := os.Remove(cb.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("certbundle: %w", err)
		}
		return nil
	}

	data, err := cb.ExportString()
	if err != nil {
		return err
	}

	tmpPath := cb.path + "$"
	os.Remove(tmpPath)
	if err := os.WriteFile(tmpPath, []byte(data), 0644); err != nil {
		return fmt.Errorf("certbundle: %w", err)
	}
	if err := os.Rename(tmpPath, cb.path); err != nil {
		return fmt.Errorf("certbundle: %w", err)
	}
	return nil
}

func (cb *CB) exportDirectory() error {
	onDisk, err := NewFromPath(cb.path)
	if err != nil {
		return fmt.Errorf("certbundle: %w", err)
	}

	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	for key := range onDisk.chains {
		if _, ok := cb.chains[key]; !ok {
			record(os.Remove(key))
		}
	}

	for key, chain := range cb.chains {
		if len(chain) == 0 {
			record(os.Remove(key))
			delete(cb.chains, key)
			removeOrder(cb, key)
			continue
		}
		if onDiskChain, existsOnDisk := onDisk.chains[key]; existsOnDisk && chainsEqual(chain, onDiskChain) {
			continue
		}
		data, err := cb.ExportChainString(key)
		if err != nil {
			record(err)
			continue
		}
		record(os.WriteFile(key, []byte(data), 0644))
	}

	return firstErr
}

// chainsEqual reports whether a and b hold the same certificates, by DER
// identity, in the same order.
func chainsEqual(a, b []*certprimitive.CP) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

func removeOrder(cb *CB, key string) {
	for i, k := range cb.order {
		if k == key {
			cb.order = append(cb.order[:i], cb.order[i+1:]...)
			return
		}
	}
}

// splitPEMCerts parses a (possibly multi-certificate) PEM blob into
// individual certificate primitives, unlike certprimitive.FromPEM which
// requires exactly one. Data that is not PEM is parsed as a single DER
// certificate; empty or whitespace-only data yields no certificates.
func splitPEMCerts(data []byte) ([]*certprimitive.CP, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	certs, err := encoding.DecodeCertificateChainPEM(data)
	if err != nil {
		cp, derErr := certprimitive.FromDER(data)
		if derErr != nil {
			return nil, err
		}
		return []*certprimitive.CP{cp}, nil
	}
	out := make([]*certprimitive.CP, 0, len(certs))
	for _, cert := range certs {
		out = append(out, certprimitive.FromCertificate(cert))
	}
	return out, nil
}

func isSubpath(root, candidate string) bool {
	rel, err := filepath.Rel(root, candidate)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
