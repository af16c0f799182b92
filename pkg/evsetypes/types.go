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

// Package evsetypes holds the shared value types used across the certificate
// store engine: PKI/leaf role enums, certificate hash data, and the coarse
// result codes the public operations in pkg/evsecurity return.
package evsetypes

import (
	"crypto/x509"
	"path/filepath"
)

// PKIRole identifies one of the four trust anchor hierarchies the engine manages.
type PKIRole int

const (
	PKIRoleV2G PKIRole = iota
	PKIRoleCSMS
	PKIRoleMO
	PKIRoleMF
)

func (r PKIRole) String() string {
	switch r {
	case PKIRoleV2G:
		return "V2G"
	case PKIRoleCSMS:
		return "CSMS"
	case PKIRoleMO:
		return "MO"
	case PKIRoleMF:
		return "MF"
	default:
		return "Unknown"
	}
}

// LeafRole identifies which leaf certificate/key pair an operation concerns.
type LeafRole int

const (
	LeafRoleCSMS LeafRole = iota
	LeafRoleV2G
	LeafRoleMF
	LeafRoleMO
)

func (r LeafRole) String() string {
	switch r {
	case LeafRoleCSMS:
		return "CSMS"
	case LeafRoleV2G:
		return "V2G"
	case LeafRoleMF:
		return "MF"
	case LeafRoleMO:
		return "MO"
	default:
		return "Unknown"
	}
}

// FileTag returns the filename role tag used when naming newly installed
// leaf/chain files, e.g. "CSMS_LEAF_" or "SECC_LEAF_" for V2G.
func (r LeafRole) FileTag() string {
	switch r {
	case LeafRoleCSMS:
		return "CSMS_LEAF_"
	default:
		return "SECC_LEAF_"
	}
}

// ChainTag returns the role tag used inside chain filenames, e.g.
// "CPO_CERT_CSMS_CHAIN_" or "CPO_CERT_CHAIN_" for V2G.
func (r LeafRole) ChainTag() string {
	switch r {
	case LeafRoleCSMS:
		return "CPO_CERT_CSMS_CHAIN_"
	default:
		return "CPO_CERT_CHAIN_"
	}
}

// ChainKind names what a get_installed_certificates/count_installed request refers to.
type ChainKind int

const (
	ChainKindV2GRoot ChainKind = iota
	ChainKindCSMSRoot
	ChainKindMORoot
	ChainKindMFRoot
	ChainKindV2GChain
)

// HashAlgorithm is always SHA-256 in this system (spec.md §3).
type HashAlgorithm int

const (
	HashAlgorithmSHA256 HashAlgorithm = iota
)

// CertificateHashData is the (hash-algorithm, issuer-name-hash, issuer-key-hash,
// serial-number) tuple used to identify a certificate relative to its issuer.
type CertificateHashData struct {
	HashAlgorithm  HashAlgorithm
	IssuerNameHash string
	IssuerKeyHash  string
	SerialNumber   string
}

// Equal compares two hash tuples field by field.
func (h CertificateHashData) Equal(other CertificateHashData) bool {
	return h.HashAlgorithm == other.HashAlgorithm &&
		h.IssuerNameHash == other.IssuerNameHash &&
		h.IssuerKeyHash == other.IssuerKeyHash &&
		h.SerialNumber == other.SerialNumber
}

// EqualFold is the case-insensitive comparison used when matching an
// externally-received CertificateHashData (vendor strings may vary in case)
// against internally computed hashes.
func (h CertificateHashData) EqualFold(other CertificateHashData) bool {
	return h.HashAlgorithm == other.HashAlgorithm &&
		equalFold(h.IssuerNameHash, other.IssuerNameHash) &&
		equalFold(h.IssuerKeyHash, other.IssuerKeyHash) &&
		equalFold(h.SerialNumber, other.SerialNumber)
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

// IsValid reports whether all three hash fields are populated.
func (h CertificateHashData) IsValid() bool {
	return h.IssuerNameHash != "" && h.IssuerKeyHash != "" && h.SerialNumber != ""
}

// SerializeText renders the hash data in the on-disk side-car format:
// issuer_name_hash + issuer_key_hash + serial_number, concatenated without
// separators (matches the format emitted by the reference implementation).
func (h CertificateHashData) SerializeText() string {
	return h.IssuerNameHash + h.IssuerKeyHash + h.SerialNumber
}

// CertificateHashDataChain pairs a root/chain hash with its child hashes, as
// returned by get_installed_certificates.
type CertificateHashDataChain struct {
	CertificateType          ChainKind
	CertificateHashData      CertificateHashData
	ChildCertificateHashData []CertificateHashData
}

// OCSPRequestData is one entry of the OCSP request data list returned by
// get_v2g_ocsp_request_data / get_mo_ocsp_request_data.
type OCSPRequestData struct {
	CertificateHashData *CertificateHashData
	ResponderURL        string
}

// CertificateOCSP pairs a hash with the on-disk path of its cached OCSP response, if any.
type CertificateOCSP struct {
	Hash     CertificateHashData
	OCSPPath string // empty when no cached response exists
}

// CertificateInfo describes a selected leaf certificate/key pair returned by
// get_leaf_info / get_all_valid_certificates_info.
type CertificateInfo struct {
	KeyPath             string
	CertificatePath     string // chain file path, when present
	CertificateSingle   string // single-leaf file path, when present
	CertificateCount    int
	Password            string
	OCSP                []CertificateOCSP
}

// Result codes (spec.md §4.7, §7, §3 "State").

type InstallCertificateResult int

const (
	InstallAccepted InstallCertificateResult = iota
	InstallInvalidSignature
	InstallInvalidCertificateChain
	InstallInvalidFormat
	InstallInvalidCommonName
	InstallNoRootCertificateInstalled
	InstallExpired
	InstallCertificateStoreMaxLengthExceeded
	InstallWriteError
)

type DeleteCertificateResult int

const (
	DeleteAccepted DeleteCertificateResult = iota
	DeleteFailed
	DeleteNotFound
)

type GetInstalledCertificatesStatus int

const (
	GetInstalledAccepted GetInstalledCertificatesStatus = iota
	GetInstalledNotFound
)

type GetCertificateInfoStatus int

const (
	GetCertificateInfoAccepted GetCertificateInfoStatus = iota
	GetCertificateInfoRejected
	GetCertificateInfoNotFound
	GetCertificateInfoNotFoundValid
	GetCertificateInfoPrivateKeyNotFound
)

type CertificateValidationResult int

const (
	ValidationValid CertificateValidationResult = iota
	ValidationExpired
	ValidationInvalidSignature
	ValidationInvalidLeafSignature
	ValidationInvalidChain
	ValidationIssuerNotFound
	ValidationUnknown
)

type GenerateCSRResult int

const (
	GenerateCSRAccepted GenerateCSRResult = iota
	GenerateCSRKeyGenError
	GenerateCSRGenerationError
	GenerateCSRInvalidRequestedType
)

// KeyUsage flags, bitwise-OR'd by callers of GenerateCSR (spec.md §6).
type KeyUsage uint32

const (
	KeyUsageDigitalSignature KeyUsage = 1 << iota
	KeyUsageNonRepudiation
	KeyUsageKeyEncipherment
	KeyUsageDataEncipherment
	KeyUsageKeyAgreement
	KeyUsageCertSign
	KeyUsageCRLSign
)

// ToX509 converts the bitwise KeyUsage flags to crypto/x509's representation.
func (k KeyUsage) ToX509() x509.KeyUsage {
	var out x509.KeyUsage
	if k&KeyUsageDigitalSignature != 0 {
		out |= x509.KeyUsageDigitalSignature
	}
	if k&KeyUsageNonRepudiation != 0 {
		out |= x509.KeyUsageContentCommitment
	}
	if k&KeyUsageKeyEncipherment != 0 {
		out |= x509.KeyUsageKeyEncipherment
	}
	if k&KeyUsageDataEncipherment != 0 {
		out |= x509.KeyUsageDataEncipherment
	}
	if k&KeyUsageKeyAgreement != 0 {
		out |= x509.KeyUsageKeyAgreement
	}
	if k&KeyUsageCertSign != 0 {
		out |= x509.KeyUsageCertSign
	}
	if k&KeyUsageCRLSign != 0 {
		out |= x509.KeyUsageCRLSign
	}
	return out
}

// PEMExtension, DERExtension, KeyExtension and the base hash side-car
// extension, named from original_source/include/evse_security/evse_types.hpp.
const (
	PEMExtension  = ".pem"
	DERExtension  = ".der"
	KeyExtension  = ".key"
	HashExtension = ".hash"
	DERSideCarExt = ".der"
)

// HasCertExtension reports whether path has a .pem or .der extension
// (case-insensitive), the set recognized when walking a DIRECTORY bundle.
func HasCertExtension(path string) bool {
	ext := filepath.Ext(path)
	return equalFold(ext, PEMExtension) || equalFold(ext, DERExtension)
}
