package remediation

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"golang.org/x/sync/errgroup"

	"github.com/galacticcouncil/gen3-unbond-fix/amount"
	"github.com/galacticcouncil/gen3-unbond-fix/common"
	"github.com/galacticcouncil/gen3-unbond-fix/log"
	"github.com/galacticcouncil/gen3-unbond-fix/nodeapi"
)

var (
	// ErrInvariantViolation means the data or the computation is wrong and
	// no patch must be produced.
	ErrInvariantViolation = errors.New("invariant violation")

	// ErrMissingData means the chain lacks state the remediation expects.
	ErrMissingData = errors.New("missing data")
)

// Correction is the computed fix of a single account.
type Correction struct {
	Account common.Address

	// Current is the amount of the account's staking lock on chain.
	Current *big.Int
	// Excess is the record's prior excess in the smallest unit.
	Excess *big.Int
	// Corrected is Current - Excess; it equals the ledger's active +
	// unlocking total.
	Corrected *big.Int

	// Locks is the replacement lock set of the account.
	Locks []nodeapi.StakeLock
}

// ComputeCorrection corrects the staking lock of one account, given its
// current locks and staking ledger (nil if the account has none).
//
// The staking lock is dropped if the corrected amount is zero, and otherwise
// comes first, followed by the other locks in their original order.
func ComputeCorrection(record Record, locks []nodeapi.StakeLock, ledger *nodeapi.StakingLedger) (*Correction, error) {
	excess, err := amount.FromDecimal(record.PriorExcess)
	if err != nil {
		return nil, fmt.Errorf("account %s: %w", record.Account, err)
	}

	stakingIdx := -1
	for i := range locks {
		if locks[i].IsStaking() {
			stakingIdx = i
			break
		}
	}
	if stakingIdx < 0 {
		return nil, fmt.Errorf("%w: account %s has no staking lock", ErrMissingData, record.Account)
	}
	current := locks[stakingIdx]

	corrected := new(big.Int).Sub(current.Amount, excess)
	if corrected.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative locked balance for account %s: lock %s, excess %s",
			ErrInvariantViolation, record.Account, amount.Format(current.Amount), amount.Format(excess))
	}

	bonded := ledger.BondedAndUnlocking()
	if corrected.Cmp(bonded) != 0 {
		return nil, fmt.Errorf("%w: corrected lock %s of account %s does not match active + unlocking %s",
			ErrInvariantViolation, amount.Format(corrected), record.Account, amount.Format(bonded))
	}

	replacement := make([]nodeapi.StakeLock, 0, len(locks))
	if corrected.Sign() != 0 {
		replacement = append(replacement, nodeapi.StakeLock{
			ID:      current.ID,
			Amount:  corrected,
			Reasons: current.Reasons,
		})
	}
	for i, l := range locks {
		if i != stakingIdx && !l.IsStaking() {
			replacement = append(replacement, l)
		}
	}

	return &Correction{
		Account:   record.Account,
		Current:   new(big.Int).Set(current.Amount),
		Excess:    excess,
		Corrected: corrected,
		Locks:     replacement,
	}, nil
}

// StorageUpdate is the new `Balances.Locks` value of one account.
type StorageUpdate struct {
	Key   []byte
	Value []byte

	Correction
}

// Options tunes BuildStorageUpdates.
type Options struct {
	// Concurrency is the maximum number of accounts queried at once.
	Concurrency int
}

// BuildStorageUpdates queries the chain state of every record's account and
// computes its storage update. The updates are in record order.
//
// It's all or nothing: the first failed query or violated invariant aborts
// the whole batch, since the result is a single atomic transaction.
func BuildStorageUpdates(ctx context.Context, api nodeapi.ChainApiLite, records []Record, opts Options, logger *log.Logger) ([]StorageUpdate, error) {
	updates := make([]StorageUpdate, len(records))

	group, groupCtx := errgroup.WithContext(ctx)
	if opts.Concurrency > 0 {
		group.SetLimit(opts.Concurrency)
	}
	for i := range records {
		record := records[i]
		group.Go(func() error {
			update, err := buildStorageUpdate(groupCtx, api, record)
			if err != nil {
				return err
			}
			logger.Debug("computed lock correction",
				"account", record.Account,
				"current", amount.Format(update.Current),
				"excess", amount.Format(update.Excess),
				"corrected", amount.Format(update.Corrected),
				"locks", len(update.Locks),
			)
			updates[i] = *update
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return updates, nil
}

func buildStorageUpdate(ctx context.Context, api nodeapi.ChainApiLite, record Record) (*StorageUpdate, error) {
	locks, err := api.Locks(ctx, record.Account)
	if err != nil {
		return nil, fmt.Errorf("querying locks of %s: %w", record.Account, err)
	}
	ledger, err := api.Ledger(ctx, record.Account)
	if err != nil {
		return nil, fmt.Errorf("querying ledger of %s: %w", record.Account, err)
	}

	correction, err := ComputeCorrection(record, locks, ledger)
	if err != nil {
		return nil, err
	}

	key, err := api.LocksKey(record.Account)
	if err != nil {
		return nil, fmt.Errorf("locks key of %s: %w", record.Account, err)
	}
	value, err := api.EncodeLocks(correction.Locks)
	if err != nil {
		return nil, fmt.Errorf("encoding locks of %s: %w", record.Account, err)
	}
	return &StorageUpdate{Key: key, Value: value, Correction: *correction}, nil
}

// StorageEntries returns the raw entries of the patch transaction.
func StorageEntries(updates []StorageUpdate) []nodeapi.StorageEntry {
	entries := make([]nodeapi.StorageEntry, len(updates))
	for i, u := range updates {
		entries[i] = nodeapi.StorageEntry{Key: u.Key, Value: u.Value}
	}
	return entries
}
