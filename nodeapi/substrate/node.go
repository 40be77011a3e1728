// Package substrate implements nodeapi.ChainApiLite over the JSON-RPC API
// of a Substrate node.
package substrate

import (
	"context"
	"errors"
	"fmt"

	gsrpc "github.com/centrifuge/go-substrate-rpc-client/v4"
	"github.com/centrifuge/go-substrate-rpc-client/v4/rpc/author"
	"github.com/centrifuge/go-substrate-rpc-client/v4/signature"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types/codec"
	"golang.org/x/sync/errgroup"

	"github.com/galacticcouncil/gen3-unbond-fix/common"
	"github.com/galacticcouncil/gen3-unbond-fix/log"
	"github.com/galacticcouncil/gen3-unbond-fix/metrics"
	"github.com/galacticcouncil/gen3-unbond-fix/nodeapi"
)

const (
	// Number of keys fetched per `state_getKeysPaged` call.
	keysPageSize = 1000

	// Address format of the keyring pair. Its `Address` is not used; the
	// chain's SS58 prefix does not fit the keyring's single-byte format.
	keyringNetwork uint8 = 42
)

var ErrNoSigner = errors.New("no sudo key configured")

// SubstrateChainApiLite provides low-level access to a Substrate node. The
// runtime metadata is fetched once on connect and used for all storage keys
// and calls.
type SubstrateChainApiLite struct {
	api    *gsrpc.SubstrateAPI
	meta   *types.Metadata
	signer *signature.KeyringPair
	// SS58 address of the signer in the chain's format.
	signerAddress string

	concurrency int
	logger      *log.Logger
	metrics     *metrics.NodeMetrics
}

var _ nodeapi.ChainApiLite = (*SubstrateChainApiLite)(nil)

// NewSubstrateChainApiLite connects to the node at url. If sudoSecret is
// empty the client is read-only.
func NewSubstrateChainApiLite(url string, sudoSecret string, ss58Prefix uint16, concurrency int, logger *log.Logger) (*SubstrateChainApiLite, error) {
	api, err := gsrpc.NewSubstrateAPI(url)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", url, err)
	}
	meta, err := api.RPC.State.GetMetadataLatest()
	if err != nil {
		api.Client.Close()
		return nil, fmt.Errorf("fetching runtime metadata: %w", err)
	}

	c := &SubstrateChainApiLite{
		api:         api,
		meta:        meta,
		concurrency: concurrency,
		logger:      logger,
		metrics:     metrics.NewDefaultNodeMetrics(),
	}
	if sudoSecret != "" {
		signer, err := signature.KeyringPairFromSecret(sudoSecret, keyringNetwork)
		if err != nil {
			api.Client.Close()
			return nil, fmt.Errorf("deriving sudo key: %w", err)
		}
		address, err := ss58Address(signer.PublicKey, ss58Prefix)
		if err != nil {
			api.Client.Close()
			return nil, fmt.Errorf("sudo key: %w", err)
		}
		c.signer = &signer
		c.signerAddress = address
		logger.Info("loaded sudo key", "address", address)
	}
	logger.Info("connected to node", "url", url)
	return c, nil
}

func (c *SubstrateChainApiLite) observe(method string, f func() error) error {
	done := c.metrics.Request(method)
	err := f()
	done(err)
	return err
}

func (c *SubstrateChainApiLite) NodeInfo(ctx context.Context) (*nodeapi.NodeInfo, error) {
	var info nodeapi.NodeInfo
	err := c.observe("system_chain", func() error {
		chain, err := c.api.RPC.System.Chain()
		info.Chain = string(chain)
		return err
	})
	if err != nil {
		return nil, err
	}
	err = c.observe("system_version", func() error {
		version, err := c.api.RPC.System.Version()
		info.Version = string(version)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *SubstrateChainApiLite) LocksKey(account common.Address) ([]byte, error) {
	key, err := types.CreateStorageKey(c.meta, "Balances", "Locks", account[:])
	if err != nil {
		return nil, fmt.Errorf("creating Balances.Locks key: %w", err)
	}
	return key, nil
}

func (c *SubstrateChainApiLite) EncodeLocks(locks []nodeapi.StakeLock) ([]byte, error) {
	return encodeLocks(locks)
}

func (c *SubstrateChainApiLite) getStorage(ctx context.Context, key []byte, at *types.Hash) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var raw *types.StorageDataRaw
	err := c.observe("state_getStorage", func() error {
		var err error
		if at == nil {
			raw, err = c.api.RPC.State.GetStorageRawLatest(types.NewStorageKey(key))
		} else {
			raw, err = c.api.RPC.State.GetStorageRaw(types.NewStorageKey(key), *at)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	return *raw, nil
}

func (c *SubstrateChainApiLite) Locks(ctx context.Context, account common.Address) ([]nodeapi.StakeLock, error) {
	key, err := c.LocksKey(account)
	if err != nil {
		return nil, err
	}
	value, err := c.getStorage(ctx, key, nil)
	if err != nil {
		return nil, err
	}
	return decodeLocks(value)
}

func (c *SubstrateChainApiLite) Ledger(ctx context.Context, account common.Address) (*nodeapi.StakingLedger, error) {
	key, err := types.CreateStorageKey(c.meta, "Staking", "Ledger", account[:])
	if err != nil {
		return nil, fmt.Errorf("creating Staking.Ledger key: %w", err)
	}
	value, err := c.getStorage(ctx, key, nil)
	if err != nil {
		return nil, err
	}
	if len(value) == 0 {
		return nil, nil
	}
	return decodeLedger(value)
}

// Ledgers enumerates `Staking.Ledger` page by page, with all reads pinned to
// the block that was the best block when enumeration started.
func (c *SubstrateChainApiLite) Ledgers(ctx context.Context) ([]nodeapi.LedgerEntry, error) {
	var at types.Hash
	err := c.observe("chain_getBlockHash", func() error {
		var err error
		at, err = c.api.RPC.Chain.GetBlockHashLatest()
		return err
	})
	if err != nil {
		return nil, err
	}

	prefix := mapPrefix("Staking", "Ledger")
	prefixHex := codec.HexEncodeToString(prefix)
	var keys [][]byte
	start := prefixHex
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var page []string
		err := c.observe("state_getKeysPaged", func() error {
			return c.api.Client.Call(&page, "state_getKeysPaged", prefixHex, keysPageSize, start, at.Hex())
		})
		if err != nil {
			return nil, fmt.Errorf("listing Staking.Ledger keys: %w", err)
		}
		for _, k := range page {
			key, err := codec.HexDecodeString(k)
			if err != nil {
				return nil, fmt.Errorf("malformed storage key %q: %w", k, err)
			}
			keys = append(keys, key)
		}
		if len(page) < keysPageSize {
			break
		}
		start = page[len(page)-1]
	}
	c.logger.Debug("listed staking ledgers", "count", len(keys), "at", at.Hex())

	entries := make([]nodeapi.LedgerEntry, len(keys))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(max(c.concurrency, 1))
	for i := range keys {
		key := keys[i]
		group.Go(func() error {
			controller, err := controllerFromKey(prefix, key)
			if err != nil {
				return err
			}
			value, err := c.getStorage(groupCtx, key, &at)
			if err != nil {
				return fmt.Errorf("reading ledger of %s: %w", controller, err)
			}
			ledger, err := decodeLedger(value)
			if err != nil {
				return fmt.Errorf("ledger of %s: %w", controller, err)
			}
			entries[i] = nodeapi.LedgerEntry{Controller: controller, Ledger: *ledger}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return entries, nil
}

// SubmitStoragePatch submits `Sudo.sudo(System.set_storage(entries))`
// signed by the sudo key, and waits until the including block is finalized.
func (c *SubstrateChainApiLite) SubmitStoragePatch(ctx context.Context, entries []nodeapi.StorageEntry) (*nodeapi.PatchReceipt, error) {
	if c.signer == nil {
		return nil, ErrNoSigner
	}

	setStorage, err := types.NewCall(c.meta, "System.set_storage", storageItems(entries))
	if err != nil {
		return nil, fmt.Errorf("creating set_storage call: %w", err)
	}
	sudo, err := types.NewCall(c.meta, "Sudo.sudo", setStorage)
	if err != nil {
		return nil, fmt.Errorf("creating sudo call: %w", err)
	}

	var genesisHash types.Hash
	var runtime *types.RuntimeVersion
	var nonce uint64
	err = c.observe("chain_getBlockHash", func() error {
		var err error
		genesisHash, err = c.api.RPC.Chain.GetBlockHash(0)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("fetching genesis hash: %w", err)
	}
	err = c.observe("state_getRuntimeVersion", func() error {
		var err error
		runtime, err = c.api.RPC.State.GetRuntimeVersionLatest()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("fetching runtime version: %w", err)
	}
	err = c.observe("system_accountNextIndex", func() error {
		return c.api.Client.Call(&nonce, "system_accountNextIndex", c.signerAddress)
	})
	if err != nil {
		return nil, fmt.Errorf("fetching sudo nonce: %w", err)
	}

	ext := types.NewExtrinsic(sudo)
	err = ext.Sign(*c.signer, types.SignatureOptions{
		BlockHash:          genesisHash,
		Era:                types.ExtrinsicEra{IsImmortalEra: true},
		GenesisHash:        genesisHash,
		Nonce:              types.NewUCompactFromUInt(nonce),
		SpecVersion:        runtime.SpecVersion,
		Tip:                types.NewUCompactFromUInt(0),
		TransactionVersion: runtime.TransactionVersion,
	})
	if err != nil {
		return nil, fmt.Errorf("signing extrinsic: %w", err)
	}

	var sub *author.ExtrinsicStatusSubscription
	err = c.observe("author_submitAndWatchExtrinsic", func() error {
		var err error
		sub, err = c.api.RPC.Author.SubmitAndWatchExtrinsic(ext)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("submitting extrinsic: %w", err)
	}
	defer sub.Unsubscribe()
	c.logger.Info("submitted storage patch", "entries", len(entries), "nonce", nonce)

	receipt := &nodeapi.PatchReceipt{}
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case err, ok := <-sub.Err():
			if !ok {
				return nil, errors.New("extrinsic status subscription closed")
			}
			return nil, fmt.Errorf("watching extrinsic: %w", err)
		case status, ok := <-sub.Chan():
			if !ok {
				return nil, errors.New("extrinsic status subscription closed")
			}
			switch {
			case status.IsInBlock:
				receipt.InBlock = status.AsInBlock[:]
				c.logger.Info("storage patch included in block", "block", status.AsInBlock.Hex())
			case status.IsFinalized:
				receipt.Finalized = status.AsFinalized[:]
				c.logger.Info("storage patch finalized", "block", status.AsFinalized.Hex())
				// A failed dispatch (not sudo, or set_storage failing) is
				// still finalized; the storage tells whether it applied.
				at := status.AsFinalized
				return receipt, verifyStorage(entries, func(key []byte) ([]byte, error) {
					return c.getStorage(ctx, key, &at)
				})
			case status.IsDropped:
				return nil, errors.New("extrinsic dropped")
			case status.IsInvalid:
				return nil, errors.New("extrinsic invalid")
			case status.IsUsurped:
				return nil, fmt.Errorf("extrinsic usurped by %s", status.AsUsurped.Hex())
			case status.IsFinalityTimeout:
				return nil, errors.New("extrinsic finality timeout")
			default:
				c.logger.Debug("extrinsic status", "status", fmt.Sprintf("%+v", status))
			}
		}
	}
}

func (c *SubstrateChainApiLite) Close() error {
	c.api.Client.Close()
	return nil
}
