// Package audit detects staking ledgers whose stored total drifted from
// their active + unlocking amounts, and checks the result against the
// remediation list.
package audit

import (
	"context"
	"fmt"
	"math/big"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/galacticcouncil/gen3-unbond-fix/common"
	"github.com/galacticcouncil/gen3-unbond-fix/nodeapi"
)

// Inconsistency is a ledger whose stored total is not active + unlocking.
type Inconsistency struct {
	Account            common.Address
	Total              *big.Int
	BondedAndUnlocking *big.Int
}

// FindLedgerInconsistencies returns the ledgers with total != active + Σ
// unlocking, ordered by account. It is a pure function of its input.
func FindLedgerInconsistencies(entries []nodeapi.LedgerEntry) []Inconsistency {
	var found []Inconsistency
	for i := range entries {
		ledger := &entries[i].Ledger
		bonded := ledger.BondedAndUnlocking()
		total := ledger.Total
		if total == nil {
			total = new(big.Int)
		}
		if total.Cmp(bonded) != 0 {
			found = append(found, Inconsistency{
				Account:            entries[i].Controller,
				Total:              new(big.Int).Set(total),
				BondedAndUnlocking: bonded,
			})
		}
	}
	sort.Slice(found, func(i, j int) bool {
		return found[i].Account.Compare(found[j].Account) < 0
	})
	return found
}

// LockMismatch is an account whose staking lock differs from its ledger total.
type LockMismatch struct {
	Account     common.Address
	LockAmount  *big.Int
	LedgerTotal *big.Int
}

// FindLockMismatches compares the staking lock of each account with the
// total of its staking ledger, treating a missing lock or ledger as zero.
// Results are ordered by account. Read-only.
func FindLockMismatches(ctx context.Context, api nodeapi.ChainApiLite, accounts []common.Address, concurrency int) ([]LockMismatch, error) {
	results := make([]*LockMismatch, len(accounts))

	group, groupCtx := errgroup.WithContext(ctx)
	if concurrency > 0 {
		group.SetLimit(concurrency)
	}
	for i := range accounts {
		account := accounts[i]
		group.Go(func() error {
			locks, err := api.Locks(groupCtx, account)
			if err != nil {
				return fmt.Errorf("querying locks of %s: %w", account, err)
			}
			ledger, err := api.Ledger(groupCtx, account)
			if err != nil {
				return fmt.Errorf("querying ledger of %s: %w", account, err)
			}

			lockAmount := new(big.Int)
			for _, l := range locks {
				if l.IsStaking() {
					lockAmount.Set(l.Amount)
					break
				}
			}
			ledgerTotal := new(big.Int)
			if ledger != nil && ledger.Total != nil {
				ledgerTotal.Set(ledger.Total)
			}
			if lockAmount.Cmp(ledgerTotal) != 0 {
				results[i] = &LockMismatch{Account: account, LockAmount: lockAmount, LedgerTotal: ledgerTotal}
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	var mismatches []LockMismatch
	for _, m := range results {
		if m != nil {
			mismatches = append(mismatches, *m)
		}
	}
	sort.Slice(mismatches, func(i, j int) bool {
		return mismatches[i].Account.Compare(mismatches[j].Account) < 0
	})
	return mismatches, nil
}

// InconsistentAccounts returns the accounts of the inconsistencies.
func InconsistentAccounts(found []Inconsistency) []common.Address {
	accounts := make([]common.Address, len(found))
	for i, f := range found {
		accounts[i] = f.Account
	}
	return accounts
}
