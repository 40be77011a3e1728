// Package file implements a nodeapi.ChainApiLite that caches the responses of
// another ChainApiLite in a local key-value store, so that runs can be
// replayed without a node.
package file

import (
	"context"
	"errors"
	"fmt"

	"github.com/galacticcouncil/gen3-unbond-fix/common"
	"github.com/galacticcouncil/gen3-unbond-fix/log"
	"github.com/galacticcouncil/gen3-unbond-fix/metrics"
	"github.com/galacticcouncil/gen3-unbond-fix/nodeapi"
)

// ErrNotCached is returned on a cache miss when there is no backing node.
var ErrNotCached = errors.New("response not cached and no node to query")

// FileChainApiLite serves ChainApiLite reads from a cache, falling back to
// the backing node (if any) on a miss. Only responses that are fixed for a
// given chain state are cached; a cache is therefore a snapshot and must be
// discarded once the chain moves on.
//
// In live mode, chain state (node info, locks, ledgers) is always read from
// the backing node and never cached, so that a patch is never built from a
// stale snapshot. Storage encodings are still cached.
type FileChainApiLite struct {
	db       KVStore
	chainApi nodeapi.ChainApiLite
	live     bool
}

var _ nodeapi.ChainApiLite = (*FileChainApiLite)(nil)

// NewFileChainApiLite opens the cache in cacheDir. chainApi may be nil, in
// which case only cached responses are available; live requires a chainApi.
func NewFileChainApiLite(cacheDir string, chainApi nodeapi.ChainApiLite, live bool) (*FileChainApiLite, error) {
	if live && chainApi == nil {
		return nil, fmt.Errorf("live chain state: %w", ErrNotCached)
	}
	db, err := OpenKVStore(
		log.NewDefaultLogger("cached-node-api"),
		cacheDir,
		metrics.NewDefaultNodeMetrics(),
	)
	if err != nil {
		return nil, err
	}
	return &FileChainApiLite{
		db:       db,
		chainApi: chainApi,
		live:     live,
	}, nil
}

func (c *FileChainApiLite) Close() error {
	// Close all resources and return the first encountered error, if any.
	var firstErr error
	if c.chainApi != nil {
		firstErr = c.chainApi.Close()
	}
	if err := c.db.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// backing returns the backing node or ErrNotCached.
func (c *FileChainApiLite) backing() (nodeapi.ChainApiLite, error) {
	if c.chainApi == nil {
		return nil, ErrNotCached
	}
	return c.chainApi, nil
}

func (c *FileChainApiLite) NodeInfo(ctx context.Context) (*nodeapi.NodeInfo, error) {
	return GetFromCacheOrCall(
		c.db, c.live,
		generateCacheKey("NodeInfo"),
		func() (*nodeapi.NodeInfo, error) {
			api, err := c.backing()
			if err != nil {
				return nil, err
			}
			return api.NodeInfo(ctx)
		},
	)
}

func (c *FileChainApiLite) Locks(ctx context.Context, account common.Address) ([]nodeapi.StakeLock, error) {
	return GetSliceFromCacheOrCall(
		c.db, c.live,
		generateCacheKey("Locks", account[:]),
		func() ([]nodeapi.StakeLock, error) {
			api, err := c.backing()
			if err != nil {
				return nil, err
			}
			locks, err := api.Locks(ctx, account)
			if locks == nil && err == nil {
				locks = []nodeapi.StakeLock{}
			}
			return locks, err
		},
	)
}

// cachedLedger distinguishes a cached "no ledger" from a cache miss.
type cachedLedger struct {
	Ledger *nodeapi.StakingLedger
}

func (c *FileChainApiLite) Ledger(ctx context.Context, account common.Address) (*nodeapi.StakingLedger, error) {
	cached, err := GetFromCacheOrCall(
		c.db, c.live,
		generateCacheKey("Ledger", account[:]),
		func() (*cachedLedger, error) {
			api, err := c.backing()
			if err != nil {
				return nil, err
			}
			ledger, err := api.Ledger(ctx, account)
			if err != nil {
				return nil, err
			}
			return &cachedLedger{Ledger: ledger}, nil
		},
	)
	if err != nil {
		return nil, err
	}
	return cached.Ledger, nil
}

func (c *FileChainApiLite) Ledgers(ctx context.Context) ([]nodeapi.LedgerEntry, error) {
	return GetSliceFromCacheOrCall(
		c.db, c.live,
		generateCacheKey("Ledgers"),
		func() ([]nodeapi.LedgerEntry, error) {
			api, err := c.backing()
			if err != nil {
				return nil, err
			}
			entries, err := api.Ledgers(ctx)
			if entries == nil && err == nil {
				entries = []nodeapi.LedgerEntry{}
			}
			return entries, err
		},
	)
}

func (c *FileChainApiLite) LocksKey(account common.Address) ([]byte, error) {
	return GetSliceFromCacheOrCall(
		c.db, false,
		generateCacheKey("LocksKey", account[:]),
		func() ([]byte, error) {
			api, err := c.backing()
			if err != nil {
				return nil, err
			}
			return api.LocksKey(account)
		},
	)
}

func (c *FileChainApiLite) EncodeLocks(locks []nodeapi.StakeLock) ([]byte, error) {
	return GetSliceFromCacheOrCall(
		c.db, false,
		generateCacheKey("EncodeLocks", locks),
		func() ([]byte, error) {
			api, err := c.backing()
			if err != nil {
				return nil, err
			}
			return api.EncodeLocks(locks)
		},
	)
}

// SubmitStoragePatch is never cached.
func (c *FileChainApiLite) SubmitStoragePatch(ctx context.Context, entries []nodeapi.StorageEntry) (*nodeapi.PatchReceipt, error) {
	api, err := c.backing()
	if err != nil {
		return nil, fmt.Errorf("submitting a storage patch requires a live node: %w", err)
	}
	return api.SubmitStoragePatch(ctx, entries)
}
