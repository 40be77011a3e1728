// Package config enables config file parsing.
package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"

	"github.com/galacticcouncil/gen3-unbond-fix/log"
)

const (
	// DefaultRPC is the node endpoint used when none is configured.
	DefaultRPC = "ws://127.0.0.1:9944"
	// DefaultSS58Prefix is the HydraDX address format.
	DefaultSS58Prefix = 63
	// DefaultSudoSecret is the dev-chain sudo key.
	DefaultSudoSecret = "//Alice"
	// DefaultConcurrency bounds the number of in-flight node queries.
	DefaultConcurrency = 16

	maxSS58Prefix = 16383
)

// Config contains the CLI configuration.
type Config struct {
	Source      *SourceConfig      `koanf:"source"`
	Remediation *RemediationConfig `koanf:"remediation"`
	Audit       *AuditConfig       `koanf:"audit"`
	Log         *LogConfig         `koanf:"log"`
	Metrics     *MetricsConfig     `koanf:"metrics"`
}

// Validate performs config validation.
func (cfg *Config) Validate() error {
	if cfg.Source == nil {
		return fmt.Errorf("source: not configured")
	}
	if err := cfg.Source.Validate(); err != nil {
		return fmt.Errorf("source: %w", err)
	}
	if cfg.Remediation != nil {
		if err := cfg.Remediation.Validate(); err != nil {
			return fmt.Errorf("remediation: %w", err)
		}
	}
	if cfg.Audit != nil {
		if err := cfg.Audit.Validate(); err != nil {
			return fmt.Errorf("audit: %w", err)
		}
	}
	if cfg.Log != nil {
		if err := cfg.Log.Validate(); err != nil {
			return fmt.Errorf("log: %w", err)
		}
	}
	if cfg.Metrics != nil {
		if err := cfg.Metrics.Validate(); err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
	}
	return nil
}

// SourceConfig has some controls about what chain we're talking to and how.
type SourceConfig struct {
	// RPC is the websocket endpoint of the node.
	RPC string `koanf:"rpc"`

	// SS58Prefix is the address format of the chain. Accounts in the
	// remediation data must use it.
	SS58Prefix uint16 `koanf:"ss58_prefix"`

	// Concurrency is the maximum number of node queries in flight.
	Concurrency int `koanf:"concurrency"`

	// Cache holds the configuration for a file-based caching backend.
	Cache *CacheConfig `koanf:"cache"`
}

// Validate validates the source configuration.
func (cfg *SourceConfig) Validate() error {
	if cfg.Cache != nil {
		if err := cfg.Cache.Validate(); err != nil {
			return fmt.Errorf("cache: %w", err)
		}
	}
	if cfg.RPC == "" {
		if cfg.Cache == nil || cfg.Cache.QueryOnCacheMiss {
			return fmt.Errorf("rpc not configured")
		}
	} else {
		u, err := url.Parse(cfg.RPC)
		if err != nil {
			return fmt.Errorf("malformed rpc endpoint '%s': %w", cfg.RPC, err)
		}
		switch u.Scheme {
		case "ws", "wss", "http", "https":
		default:
			return fmt.Errorf("unsupported rpc scheme '%s'", u.Scheme)
		}
	}
	if cfg.SS58Prefix > maxSS58Prefix {
		return fmt.Errorf("ss58_prefix %d out of range", cfg.SS58Prefix)
	}
	if cfg.Concurrency < 1 {
		return fmt.Errorf("concurrency must be positive, got %d", cfg.Concurrency)
	}
	return nil
}

// CacheConfig is the configuration of the local node response cache.
type CacheConfig struct {
	// CacheDir is the directory where the cache data is stored.
	CacheDir string `koanf:"cache_dir"`

	// If set, the node is queried upon cache misses. Otherwise a miss
	// is an error, which allows replaying a previous run offline.
	QueryOnCacheMiss bool `koanf:"query_on_cache_miss"`
}

// Validate validates the cache configuration.
func (cfg *CacheConfig) Validate() error {
	if cfg.CacheDir == "" {
		return fmt.Errorf("invalid cache filepath")
	}
	return nil
}

// RemediationConfig is the configuration of the `remediate` command.
type RemediationConfig struct {
	// DataFile lists the accounts to correct, with their gen2 excess.
	DataFile string `koanf:"data_file"`

	// OutputFile receives the generated storage updates.
	OutputFile string `koanf:"output_file"`

	// SudoSecret is the secret URI of the sudo key. Only used when sending.
	SudoSecret string `koanf:"sudo_secret"`
}

// Validate validates the remediation configuration.
func (cfg *RemediationConfig) Validate() error {
	if cfg.DataFile == "" {
		return fmt.Errorf("data_file not configured")
	}
	if cfg.OutputFile == "" {
		return fmt.Errorf("output_file not configured")
	}
	return nil
}

// AuditConfig is the configuration of the `audit` command.
type AuditConfig struct {
	// DataFile is the remediation list to cross-check against.
	DataFile string `koanf:"data_file"`

	// ReportFile optionally receives a JSON report.
	ReportFile string `koanf:"report_file"`

	// CheckLocks additionally compares the staking lock of every listed
	// account with its ledger total.
	CheckLocks bool `koanf:"check_locks"`
}

// Validate validates the audit configuration.
func (cfg *AuditConfig) Validate() error {
	if cfg.DataFile == "" {
		return fmt.Errorf("data_file not configured")
	}
	return nil
}

// LogConfig contains the logging configuration.
type LogConfig struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
	File   string `koanf:"file"`
}

// Validate validates the logging configuration.
func (cfg *LogConfig) Validate() error {
	var format log.Format
	if err := format.Set(cfg.Format); err != nil {
		return err
	}
	var level log.Level
	return level.Set(cfg.Level)
}

// MetricsConfig contains the metrics configuration.
type MetricsConfig struct {
	// PullEndpoint is the listen address of the Prometheus scrape endpoint.
	PullEndpoint string `koanf:"pull_endpoint"`

	// PushEndpoint is the URL of a Prometheus pushgateway that receives
	// the metrics once the run completes.
	PushEndpoint string `koanf:"push_endpoint"`
}

// Validate validates the metrics configuration.
func (cfg *MetricsConfig) Validate() error {
	if cfg.PullEndpoint == "" && cfg.PushEndpoint == "" {
		return fmt.Errorf("neither pull_endpoint nor push_endpoint configured")
	}
	if cfg.PushEndpoint != "" {
		if _, err := url.ParseRequestURI(cfg.PushEndpoint); err != nil {
			return fmt.Errorf("malformed push_endpoint '%s': %w", cfg.PushEndpoint, err)
		}
	}
	return nil
}

var defaults = map[string]interface{}{
	"source.rpc":              DefaultRPC,
	"source.ss58_prefix":      DefaultSS58Prefix,
	"source.concurrency":      DefaultConcurrency,
	"remediation.data_file":   "data.json",
	"remediation.output_file": "storageUpdates.json",
	"remediation.sudo_secret": DefaultSudoSecret,
	"audit.data_file":         "data.json",
}

// Environment variables understood by the original scripts.
var legacyEnv = map[string]string{
	"RPC_SERVER":     "source.rpc",
	"ACCOUNT_SECRET": "remediation.sudo_secret",
}

func envKey(s string) string {
	if key, ok := legacyEnv[s]; ok {
		return key
	}
	// `__` is used as a hierarchy delimiter.
	return strings.ReplaceAll(strings.ToLower(s), "__", ".")
}

// InitConfig initializes configuration from defaults, the (optional) file
// `f` and the environment, in increasing order of precedence.
func InitConfig(f string) (*Config, error) {
	if f == "" {
		return initConfig(nil)
	}
	return initConfig(file.Provider(f))
}

func initConfig(p koanf.Provider) (*Config, error) {
	var config Config
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults, "."), nil); err != nil {
		return nil, err
	}

	// Load configuration from the yaml config.
	if p != nil {
		if err := k.Load(p, yaml.Parser()); err != nil {
			return nil, err
		}
	}

	// Load environment variables and merge into the loaded config.
	if err := k.Load(env.Provider("", ".", envKey), nil); err != nil {
		return nil, err
	}

	// Unmarshal into config.
	if err := k.Unmarshal("", &config); err != nil {
		return nil, err
	}

	// Validate config.
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}
