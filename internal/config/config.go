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

package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/automatethethings/evse-security/pkg/evsecurity"
	"github.com/automatethethings/evse-security/pkg/evsetypes"

	"gopkg.in/yaml.v3"
)

// Config represents the complete server configuration.
type Config struct {
	Logging      LoggingConfig      `yaml:"logging"`
	EvseSecurity EvseSecurityConfig `yaml:"evse_security"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level string `yaml:"level"`
	Debug bool   `yaml:"debug"`
}

// EvseSecurityConfig is the on-disk configuration for the certificate store
// engine, nested under the top-level Config the same way a backend config
// nests under BackendsConfig in the teacher's layout.
type EvseSecurityConfig struct {
	CABundles CABundlesConfig `yaml:"ca_bundles"`
	LeafDirs  LeafDirsConfig  `yaml:"leaf_dirs"`
	Symlinks  SymlinksConfig  `yaml:"symlinks"`

	MaxBytes   int64 `yaml:"max_bytes"`
	MaxEntries int   `yaml:"max_entries"`

	CSRExpirySeconds      int `yaml:"csr_expiry_seconds"`
	GarbageCollectSeconds int `yaml:"garbage_collect_seconds"`

	PrivateKeyPassword string `yaml:"private_key_password"`
}

// CABundlesConfig maps each PKI role to its trust-anchor bundle path.
type CABundlesConfig struct {
	V2G  string `yaml:"v2g"`
	CSMS string `yaml:"csms"`
	MO   string `yaml:"mo"`
	MF   string `yaml:"mf"`
}

// LeafDirsConfig holds the leaf certificate/key directory layout.
type LeafDirsConfig struct {
	SeccCert string `yaml:"secc_cert"`
	SeccKey  string `yaml:"secc_key"`
	CsmsCert string `yaml:"csms_cert"`
	CsmsKey  string `yaml:"csms_key"`
}

// SymlinksConfig holds the V2G symlink paths refreshed by UpdateSymlinks.
type SymlinksConfig struct {
	SeccCertLink string `yaml:"secc_cert_link"`
	SeccKeyLink  string `yaml:"secc_key_link"`
	CpoChainLink string `yaml:"cpo_chain_link"`
}

// Load reads configuration from a YAML file and applies environment
// variable overrides.
func Load(path string) (*Config, error) {
	// #nosec G304 - Config file path is provided by admin/user
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the
// configuration, following the teacher's KEYSTORE_* convention extended
// with EVSE_SECURITY_* for this engine's own settings.
func applyEnvOverrides(cfg *Config) {
	if level := os.Getenv("KEYSTORE_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}

	if v2g := os.Getenv("EVSE_SECURITY_CA_V2G"); v2g != "" {
		cfg.EvseSecurity.CABundles.V2G = v2g
	}
	if csms := os.Getenv("EVSE_SECURITY_CA_CSMS"); csms != "" {
		cfg.EvseSecurity.CABundles.CSMS = csms
	}

	if gc := os.Getenv("EVSE_SECURITY_GC_INTERVAL"); gc != "" {
		seconds, err := strconv.Atoi(gc)
		if err != nil {
			log.Printf("warning: invalid EVSE_SECURITY_GC_INTERVAL value %q, using default %d: %v",
				gc, cfg.EvseSecurity.GarbageCollectSeconds, err)
		} else {
			cfg.EvseSecurity.GarbageCollectSeconds = seconds
		}
	}
	if expiry := os.Getenv("EVSE_SECURITY_CSR_EXPIRY"); expiry != "" {
		seconds, err := strconv.Atoi(expiry)
		if err != nil {
			log.Printf("warning: invalid EVSE_SECURITY_CSR_EXPIRY value %q, using default %d: %v",
				expiry, cfg.EvseSecurity.CSRExpirySeconds, err)
		} else {
			cfg.EvseSecurity.CSRExpirySeconds = seconds
		}
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true,
	}
	level := c.Logging.Level
	if level == "" {
		level = "info"
	}
	if !validLevels[strings.ToLower(level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, error, or fatal)", c.Logging.Level)
	}

	if c.EvseSecurity.CABundles.V2G == "" && c.EvseSecurity.CABundles.CSMS == "" {
		return fmt.Errorf("evse_security.ca_bundles must configure at least v2g or csms")
	}

	return nil
}

// EngineConfig translates the on-disk configuration into the engine's
// construction-time Config. Unset timers and caps are left zero here;
// evsecurity.New fills in their defaults.
func (c *EvseSecurityConfig) EngineConfig() evsecurity.Config {
	cfg := evsecurity.Config{
		CABundles: map[evsetypes.PKIRole]string{},

		SeccCertDir: c.LeafDirs.SeccCert,
		SeccKeyDir:  c.LeafDirs.SeccKey,
		CsmsCertDir: c.LeafDirs.CsmsCert,
		CsmsKeyDir:  c.LeafDirs.CsmsKey,

		SeccCertLink: c.Symlinks.SeccCertLink,
		SeccKeyLink:  c.Symlinks.SeccKeyLink,
		CpoChainLink: c.Symlinks.CpoChainLink,

		MaxBytes:   c.MaxBytes,
		MaxEntries: c.MaxEntries,

		PrivateKeyPassword: []byte(c.PrivateKeyPassword),
	}
	if c.CABundles.V2G != "" {
		cfg.CABundles[evsetypes.PKIRoleV2G] = c.CABundles.V2G
	}
	if c.CABundles.CSMS != "" {
		cfg.CABundles[evsetypes.PKIRoleCSMS] = c.CABundles.CSMS
	}
	if c.CABundles.MO != "" {
		cfg.CABundles[evsetypes.PKIRoleMO] = c.CABundles.MO
	}
	if c.CABundles.MF != "" {
		cfg.CABundles[evsetypes.PKIRoleMF] = c.CABundles.MF
	}
	if c.CSRExpirySeconds > 0 {
		cfg.CSRExpiry = time.Duration(c.CSRExpirySeconds) * time.Second
	}
	if c.GarbageCollectSeconds > 0 {
		cfg.GCInterval = time.Duration(c.GarbageCollectSeconds) * time.Second
	}
	return cfg
}
