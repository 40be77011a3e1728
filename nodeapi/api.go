// Package nodeapi defines the narrow view of a Substrate node that the
// remediation and audit code needs, together with simplified internal types
// for the pieces of runtime state it inspects.
package nodeapi

import (
	"context"
	"errors"
	"math/big"

	"github.com/galacticcouncil/gen3-unbond-fix/common"
)

// ErrPatchNotApplied means a finalized storage patch did not change the
// storage as requested, e.g. because the dispatch failed.
var ErrPatchNotApplied = errors.New("storage patch not applied")

// ChainApiLite provides low-level access to a node.
//
// Like a thin RPC client, but ONLY with the queries the remediation needs,
// and with return values converted to the types below. Storage encodings
// (keys, SCALE values) are part of the interface because they depend on the
// runtime metadata of the node.
type ChainApiLite interface {
	// NodeInfo returns the chain name and node version.
	NodeInfo(ctx context.Context) (*NodeInfo, error)

	// Locks returns the `Balances.Locks` of an account, in storage order.
	Locks(ctx context.Context, account common.Address) ([]StakeLock, error)
	// Ledger returns the `Staking.Ledger` of a controller account, or nil
	// if the account has none.
	Ledger(ctx context.Context, account common.Address) (*StakingLedger, error)
	// Ledgers returns all `Staking.Ledger` entries as of a single block.
	Ledgers(ctx context.Context) ([]LedgerEntry, error)

	// LocksKey returns the storage key of the `Balances.Locks` of an account.
	LocksKey(account common.Address) ([]byte, error)
	// EncodeLocks returns the storage value for the given set of locks.
	EncodeLocks(locks []StakeLock) ([]byte, error)

	// SubmitStoragePatch overwrites the given storage entries with a single
	// privileged transaction and waits for it to be finalized. It fails with
	// ErrPatchNotApplied if the finalized storage differs from the entries.
	SubmitStoragePatch(ctx context.Context, entries []StorageEntry) (*PatchReceipt, error)

	Close() error
}

// LockID identifies the subsystem owning a balance lock.
type LockID [8]byte

func (id LockID) String() string {
	return string(id[:])
}

// StakingLockID is the lock id of the staking pallet.
var StakingLockID = LockID{'s', 't', 'a', 'k', 'i', 'n', 'g', ' '}

// Reasons is the runtime's `Reasons` enum describing which operations a lock
// restricts. It's passed through untouched.
type Reasons uint8

const (
	ReasonsFee Reasons = iota
	ReasonsMisc
	ReasonsAll
)

// StakeLock is a `BalanceLock`.
type StakeLock struct {
	ID      LockID
	Amount  *big.Int
	Reasons Reasons
}

// IsStaking returns true for the staking pallet's lock.
func (l *StakeLock) IsStaking() bool {
	return l.ID == StakingLockID
}

// UnlockChunk is an amount in the unbonding cooldown, free as of Era.
type UnlockChunk struct {
	Value *big.Int
	Era   uint32
}

// StakingLedger is a simplified `StakingLedger`.
type StakingLedger struct {
	Stash     common.Address
	Total     *big.Int
	Active    *big.Int
	Unlocking []UnlockChunk
}

// BondedAndUnlocking returns active + Σ unlocking. Total is supposed to
// always equal it.
func (l *StakingLedger) BondedAndUnlocking() *big.Int {
	sum := new(big.Int)
	if l == nil {
		return sum
	}
	if l.Active != nil {
		sum.Set(l.Active)
	}
	for _, chunk := range l.Unlocking {
		if chunk.Value != nil {
			sum.Add(sum, chunk.Value)
		}
	}
	return sum
}

// LedgerEntry is one entry of the `Staking.Ledger` map.
type LedgerEntry struct {
	Controller common.Address
	Ledger     StakingLedger
}

// StorageEntry is a raw storage key and its new value.
type StorageEntry struct {
	Key   []byte
	Value []byte
}

// NodeInfo is what the node reports about itself.
type NodeInfo struct {
	Chain   string
	Version string
}

// PatchReceipt describes a finalized storage patch.
type PatchReceipt struct {
	// InBlock is the hash of the block that included the transaction.
	InBlock []byte
	// Finalized is the hash of the finalized block reported by the node.
	Finalized []byte
}
