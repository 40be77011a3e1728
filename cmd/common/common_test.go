package common

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/galacticcouncil/gen3-unbond-fix/common"
	"github.com/galacticcouncil/gen3-unbond-fix/config"
	"github.com/galacticcouncil/gen3-unbond-fix/log"
	"github.com/galacticcouncil/gen3-unbond-fix/nodeapi"
	"github.com/galacticcouncil/gen3-unbond-fix/nodeapi/file"
)

func TestInitLogging(t *testing.T) {
	cfg := &config.Config{
		Source: &config.SourceConfig{RPC: config.DefaultRPC, SS58Prefix: config.DefaultSS58Prefix, Concurrency: 1},
		Log:    &config.LogConfig{Format: "JSON", Level: "debug"},
	}
	require.NoError(t, Init(context.Background(), cfg))
	require.Equal(t, log.LevelDebug, RootLogger().Level())

	cfg.Log.Level = "loud"
	require.Error(t, Init(context.Background(), cfg))
}

func TestNewChainApiOfflineCache(t *testing.T) {
	api, err := NewChainApi(&config.SourceConfig{
		SS58Prefix:  config.DefaultSS58Prefix,
		Concurrency: 1,
		Cache:       &config.CacheConfig{CacheDir: t.TempDir()},
	}, "")
	require.NoError(t, err)
	defer api.Close()

	_, err = api.Ledgers(context.Background())
	require.ErrorIs(t, err, file.ErrNotCached)

	_, err = api.SubmitStoragePatch(context.Background(), []nodeapi.StorageEntry{{Key: []byte{1}, Value: []byte{2}}})
	require.ErrorIs(t, err, file.ErrNotCached)

	_, err = api.Locks(context.Background(), common.Address{1})
	require.Error(t, err)
}
