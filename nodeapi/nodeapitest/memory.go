// Package nodeapitest provides an in-memory nodeapi.ChainApiLite for tests.
package nodeapitest

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/fxamacker/cbor/v2"

	"github.com/galacticcouncil/gen3-unbond-fix/common"
	"github.com/galacticcouncil/gen3-unbond-fix/nodeapi"
)

// LocksKeyPrefix prefixes the fake storage keys of `Balances.Locks`.
const LocksKeyPrefix = "Balances.Locks/"

// MemoryApi is a mutable, in-memory chain state. It is safe for concurrent use.
type MemoryApi struct {
	mu sync.Mutex

	locks   map[common.Address][]nodeapi.StakeLock
	ledgers map[common.Address]*nodeapi.StakingLedger

	// Errors returned instead of a result, keyed by account.
	lockErrs   map[common.Address]error
	ledgerErrs map[common.Address]error

	nodeInfoErr error

	// Submission failure modes.
	submitErr   error
	dropPatches bool

	calls     map[string]int
	submitted [][]nodeapi.StorageEntry
	closed    bool
}

var _ nodeapi.ChainApiLite = (*MemoryApi)(nil)

func NewMemoryApi() *MemoryApi {
	return &MemoryApi{
		locks:      make(map[common.Address][]nodeapi.StakeLock),
		ledgers:    make(map[common.Address]*nodeapi.StakingLedger),
		lockErrs:   make(map[common.Address]error),
		ledgerErrs: make(map[common.Address]error),
		calls:      make(map[string]int),
	}
}

// Tokens returns n * 10^12.
func Tokens(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000_000))
}

// StakingLock returns a staking lock of the given amount with reasons All.
func StakingLock(amount *big.Int) nodeapi.StakeLock {
	return nodeapi.StakeLock{ID: nodeapi.StakingLockID, Amount: amount, Reasons: nodeapi.ReasonsAll}
}

// SetLocks replaces the locks of an account.
func (m *MemoryApi) SetLocks(account common.Address, locks ...nodeapi.StakeLock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locks[account] = locks
}

// SetLedger replaces the ledger of an account; nil removes it.
func (m *MemoryApi) SetLedger(account common.Address, ledger *nodeapi.StakingLedger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ledger == nil {
		delete(m.ledgers, account)
		return
	}
	m.ledgers[account] = ledger
}

// FailLocks makes Locks(account) fail with err.
func (m *MemoryApi) FailLocks(account common.Address, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lockErrs[account] = err
}

// FailLedger makes Ledger(account) fail with err.
func (m *MemoryApi) FailLedger(account common.Address, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ledgerErrs[account] = err
}

// FailNodeInfo makes NodeInfo fail with err.
func (m *MemoryApi) FailNodeInfo(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodeInfoErr = err
}

// FailSubmit makes SubmitStoragePatch fail with err before anything is
// applied.
func (m *MemoryApi) FailSubmit(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitErr = err
}

// DropPatches makes submitted patches finalize without changing any storage,
// like a sudo call whose dispatch failed.
func (m *MemoryApi) DropPatches() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropPatches = true
}

// Calls returns how many times a method was called.
func (m *MemoryApi) Calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

// Submitted returns the storage patches submitted so far.
func (m *MemoryApi) Submitted() [][]nodeapi.StorageEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]nodeapi.StorageEntry(nil), m.submitted...)
}

func (m *MemoryApi) count(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[method]++
}

func (m *MemoryApi) NodeInfo(ctx context.Context) (*nodeapi.NodeInfo, error) {
	m.count("NodeInfo")
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.nodeInfoErr != nil {
		return nil, m.nodeInfoErr
	}
	return &nodeapi.NodeInfo{Chain: "HydraDX (memory)", Version: "0.0.0-test"}, nil
}

func (m *MemoryApi) Locks(ctx context.Context, account common.Address) ([]nodeapi.StakeLock, error) {
	m.count("Locks")
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.lockErrs[account]; err != nil {
		return nil, err
	}
	return copyLocks(m.locks[account]), nil
}

func (m *MemoryApi) Ledger(ctx context.Context, account common.Address) (*nodeapi.StakingLedger, error) {
	m.count("Ledger")
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ledgerErrs[account]; err != nil {
		return nil, err
	}
	ledger, ok := m.ledgers[account]
	if !ok {
		return nil, nil
	}
	return copyLedger(ledger), nil
}

func (m *MemoryApi) Ledgers(ctx context.Context) ([]nodeapi.LedgerEntry, error) {
	m.count("Ledgers")
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := make([]nodeapi.LedgerEntry, 0, len(m.ledgers))
	for controller, ledger := range m.ledgers {
		entries = append(entries, nodeapi.LedgerEntry{Controller: controller, Ledger: *copyLedger(ledger)})
	}
	// Map order is random; storage iteration order is not, but it is also
	// not meaningful. Keep the fake deterministic.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Controller.Compare(entries[j].Controller) < 0
	})
	return entries, nil
}

func (m *MemoryApi) LocksKey(account common.Address) ([]byte, error) {
	m.count("LocksKey")
	return append([]byte(LocksKeyPrefix), account[:]...), nil
}

func (m *MemoryApi) EncodeLocks(locks []nodeapi.StakeLock) ([]byte, error) {
	m.count("EncodeLocks")
	return cbor.Marshal(locks)
}

// DecodeLocks reverses EncodeLocks.
func DecodeLocks(value []byte) ([]nodeapi.StakeLock, error) {
	var locks []nodeapi.StakeLock
	if err := cbor.Unmarshal(value, &locks); err != nil {
		return nil, err
	}
	return locks, nil
}

// SubmitStoragePatch records the patch and applies lock updates to the
// in-memory state.
func (m *MemoryApi) SubmitStoragePatch(ctx context.Context, entries []nodeapi.StorageEntry) (*nodeapi.PatchReceipt, error) {
	m.count("SubmitStoragePatch")
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.submitErr != nil {
		return nil, m.submitErr
	}
	for _, e := range entries {
		if len(e.Key) != len(LocksKeyPrefix)+common.AddressLen || string(e.Key[:len(LocksKeyPrefix)]) != LocksKeyPrefix {
			return nil, fmt.Errorf("unsupported storage key %x", e.Key)
		}
	}
	m.submitted = append(m.submitted, entries)
	receipt := &nodeapi.PatchReceipt{InBlock: []byte{1}, Finalized: []byte{1}}
	if m.dropPatches {
		return receipt, fmt.Errorf("%w: %d entries unchanged", nodeapi.ErrPatchNotApplied, len(entries))
	}
	for _, e := range entries {
		account, _ := common.AddressFromBytes(e.Key[len(LocksKeyPrefix):])
		locks, err := DecodeLocks(e.Value)
		if err != nil {
			return nil, err
		}
		m.locks[account] = locks
	}
	return receipt, nil
}

func (m *MemoryApi) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Closed returns true once Close was called.
func (m *MemoryApi) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func copyLocks(locks []nodeapi.StakeLock) []nodeapi.StakeLock {
	if locks == nil {
		return nil
	}
	out := make([]nodeapi.StakeLock, len(locks))
	for i, l := range locks {
		out[i] = nodeapi.StakeLock{ID: l.ID, Amount: new(big.Int).Set(l.Amount), Reasons: l.Reasons}
	}
	return out
}

func copyLedger(l *nodeapi.StakingLedger) *nodeapi.StakingLedger {
	out := &nodeapi.StakingLedger{
		Stash:  l.Stash,
		Total:  new(big.Int).Set(l.Total),
		Active: new(big.Int).Set(l.Active),
	}
	for _, c := range l.Unlocking {
		out.Unlocking = append(out.Unlocking, nodeapi.UnlockChunk{Value: new(big.Int).Set(c.Value), Era: c.Era})
	}
	return out
}
