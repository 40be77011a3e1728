// Package common implements common unbond-fix command options.
package common

import (
	"context"
	"fmt"
	"io"
	stdLog "log"
	"os"

	"github.com/akrylysov/pogreb"

	"github.com/galacticcouncil/gen3-unbond-fix/config"
	"github.com/galacticcouncil/gen3-unbond-fix/log"
	"github.com/galacticcouncil/gen3-unbond-fix/metrics"
	"github.com/galacticcouncil/gen3-unbond-fix/nodeapi"
	"github.com/galacticcouncil/gen3-unbond-fix/nodeapi/file"
	"github.com/galacticcouncil/gen3-unbond-fix/nodeapi/substrate"
)

var (
	// ConfigFile is the path to the configuration file, set by the root command.
	ConfigFile string

	rootLogger = log.NewDefaultLogger("unbond-fix")
)

// Init initializes the common environment.
func Init(ctx context.Context, cfg *config.Config) error {
	var w io.Writer = os.Stderr
	format := log.FmtLogfmt
	level := log.LevelInfo

	if cfg.Log != nil {
		var err error
		if w, err = getLoggingStream(cfg.Log); err != nil {
			return fmt.Errorf("opening log file: %w", err)
		}
		if err := format.Set(cfg.Log.Format); err != nil {
			return err
		}
		if err := level.Set(cfg.Log.Level); err != nil {
			return err
		}
	}
	logger, err := log.NewLogger("unbond-fix", w, format, level)
	if err != nil {
		return err
	}
	rootLogger = logger

	// Initialize pogreb logging.
	pogrebLogger := RootLogger().WithModule("pogreb").WithCallerUnwind(8)
	pogreb.SetLogger(stdLog.New(log.WriterIntoLogger(pogrebLogger), "", 0))

	if cfg.Metrics != nil && cfg.Metrics.PullEndpoint != "" {
		metrics.NewPullService(cfg.Metrics.PullEndpoint, rootLogger).StartInstrumentation(ctx)
	}
	return nil
}

// LoadConfig reads the configuration and initializes the common environment,
// exiting the process on failure.
func LoadConfig(ctx context.Context) *config.Config {
	cfg, err := config.InitConfig(ConfigFile)
	if err != nil {
		log.NewDefaultLogger("init").Error("init failed",
			"error", err,
		)
		os.Exit(1)
	}
	if err = Init(ctx, cfg); err != nil {
		log.NewDefaultLogger("init").Error("init failed",
			"error", err,
		)
		os.Exit(1)
	}
	return cfg
}

// RootLogger returns the logger defined by logging flags.
func RootLogger() *log.Logger {
	return rootLogger
}

func getLoggingStream(cfg *config.LogConfig) (io.Writer, error) {
	if cfg == nil || cfg.File == "" {
		return os.Stderr, nil
	}
	w, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	return w, nil
}

// NewChainApi connects to the configured node, behind the local cache if
// one is configured. sudoSecret may be empty for read-only use. A cache that
// does not query on misses is used without a node, so nothing can be
// submitted from a replayed run. With a sudo key, chain state is always read
// from the node, so a submitted patch never reflects a stale cache.
func NewChainApi(cfg *config.SourceConfig, sudoSecret string) (nodeapi.ChainApiLite, error) {
	logger := RootLogger().WithModule("node")
	live := sudoSecret != ""

	var node nodeapi.ChainApiLite
	if cfg.Cache == nil || cfg.Cache.QueryOnCacheMiss || live {
		client, err := substrate.NewSubstrateChainApiLite(cfg.RPC, sudoSecret, cfg.SS58Prefix, cfg.Concurrency, logger)
		if err != nil {
			return nil, err
		}
		node = client
	}
	if cfg.Cache == nil {
		return node, nil
	}
	if live {
		logger.Info("bypassing the cache for chain state", "cache_dir", cfg.Cache.CacheDir)
	}

	cached, err := file.NewFileChainApiLite(cfg.Cache.CacheDir, node, live)
	if err != nil {
		if node != nil {
			_ = node.Close()
		}
		return nil, err
	}
	return cached, nil
}

// PushMetrics pushes the metrics of a finished run if a pushgateway is
// configured. Failures are logged only.
func PushMetrics(ctx context.Context, cfg *config.Config, command string, runID string) {
	if cfg.Metrics == nil || cfg.Metrics.PushEndpoint == "" {
		return
	}
	if err := metrics.Push(ctx, cfg.Metrics.PushEndpoint, command, runID); err != nil {
		rootLogger.Warn("failed to push metrics", "endpoint", cfg.Metrics.PushEndpoint, "err", err)
	}
}
