package config

import (
	"testing"

	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := initConfig(nil)
	require.NoError(t, err)

	require.Equal(t, &SourceConfig{
		RPC:         DefaultRPC,
		SS58Prefix:  DefaultSS58Prefix,
		Concurrency: DefaultConcurrency,
	}, cfg.Source)
	require.Equal(t, &RemediationConfig{
		DataFile:   "data.json",
		OutputFile: "storageUpdates.json",
		SudoSecret: DefaultSudoSecret,
	}, cfg.Remediation)
	require.Equal(t, "data.json", cfg.Audit.DataFile)
	require.Nil(t, cfg.Log)
	require.Nil(t, cfg.Metrics)
}

func TestYAML(t *testing.T) {
	configYAML := `
source:
  rpc: wss://rpc.hydradx.cloud
  concurrency: 4
  cache:
    cache_dir: /tmp/unbond-fix-cache
    query_on_cache_miss: true
remediation:
  data_file: gen3/data.json
  output_file: gen3/storageUpdates.json
audit:
  data_file: gen3/data.json
  report_file: gen3/audit.json
  check_locks: true
log:
  format: json
  level: debug
metrics:
  push_endpoint: http://localhost:9091
`
	cfg, err := initConfig(rawbytes.Provider([]byte(configYAML)))
	require.NoError(t, err)

	require.Equal(t, &SourceConfig{
		RPC:         "wss://rpc.hydradx.cloud",
		SS58Prefix:  DefaultSS58Prefix,
		Concurrency: 4,
		Cache: &CacheConfig{
			CacheDir:         "/tmp/unbond-fix-cache",
			QueryOnCacheMiss: true,
		},
	}, cfg.Source)
	require.Equal(t, "gen3/storageUpdates.json", cfg.Remediation.OutputFile)
	require.Equal(t, DefaultSudoSecret, cfg.Remediation.SudoSecret)
	require.Equal(t, &AuditConfig{
		DataFile:   "gen3/data.json",
		ReportFile: "gen3/audit.json",
		CheckLocks: true,
	}, cfg.Audit)
	require.Equal(t, &LogConfig{Format: "json", Level: "debug"}, cfg.Log)
	require.Equal(t, &MetricsConfig{PushEndpoint: "http://localhost:9091"}, cfg.Metrics)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("RPC_SERVER", "ws://10.0.0.1:9944")
	t.Setenv("ACCOUNT_SECRET", "//Bob")
	t.Setenv("SOURCE__CONCURRENCY", "2")
	t.Setenv("AUDIT__REPORT_FILE", "report.json")

	cfg, err := initConfig(rawbytes.Provider([]byte("source:\n  rpc: ws://ignored:9944\n")))
	require.NoError(t, err)

	require.Equal(t, "ws://10.0.0.1:9944", cfg.Source.RPC)
	require.Equal(t, 2, cfg.Source.Concurrency)
	require.Equal(t, "//Bob", cfg.Remediation.SudoSecret)
	require.Equal(t, "report.json", cfg.Audit.ReportFile)
}

func TestValidation(t *testing.T) {
	for _, tc := range []struct {
		name string
		yaml string
	}{
		{"bad scheme", "source:\n  rpc: ftp://node:9944\n"},
		{"zero concurrency", "source:\n  concurrency: 0\n"},
		{"prefix out of range", "source:\n  ss58_prefix: 20000\n"},
		{"cache without dir", "source:\n  cache:\n    query_on_cache_miss: true\n"},
		{"bad log level", "log:\n  format: logfmt\n  level: verbose\n"},
		{"bad log format", "log:\n  format: xml\n  level: info\n"},
		{"empty metrics", "metrics:\n  pull_endpoint: \"\"\n"},
		{"empty output file", "remediation:\n  output_file: \"\"\n"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := initConfig(rawbytes.Provider([]byte(tc.yaml)))
			require.Error(t, err)
		})
	}
}

func TestOfflineCacheWithoutRPC(t *testing.T) {
	cfg := &SourceConfig{
		Concurrency: 1,
		Cache:       &CacheConfig{CacheDir: t.TempDir()},
	}
	require.NoError(t, cfg.Validate())

	cfg.Cache.QueryOnCacheMiss = true
	require.Error(t, cfg.Validate())
}
