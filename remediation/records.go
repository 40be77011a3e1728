// Package remediation computes the corrected staking locks of the accounts
// affected by the gen2 unbonding bug, and the storage patch that applies them.
package remediation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/cockroachdb/apd"

	"github.com/galacticcouncil/gen3-unbond-fix/common"
)

// Record is an account whose staking lock still includes unlocking funds
// from the previous (gen2) chain.
type Record struct {
	Account common.Address
	// PriorExcess is the gen2 unlocking amount in tokens that must be
	// subtracted from the current lock.
	PriorExcess *apd.Decimal
}

// Format of the remediation data file, shared with the scripts that
// produced it.
type recordJSON struct {
	Account string `json:"account"`
	Gen2    struct {
		TotalUnlocking json.Number `json:"totalUnlocking"`
	} `json:"gen2"`
}

// LoadRecords reads the remediation data file at `path`. Accounts must be
// SS58 addresses for the network `ss58Prefix` (or 0x hex account ids).
func LoadRecords(path string, ss58Prefix uint16) ([]Record, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	records, err := ParseRecords(raw, ss58Prefix)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return records, nil
}

// ParseRecords parses the contents of a remediation data file.
//
// Amounts are read as exact decimals, never through float64. The list is the
// closed set of accounts to correct, so duplicates are rejected.
func ParseRecords(raw []byte, ss58Prefix uint16) ([]Record, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var entries []recordJSON
	if err := dec.Decode(&entries); err != nil {
		return nil, fmt.Errorf("decoding records: %w", err)
	}

	records := make([]Record, 0, len(entries))
	seen := make(map[common.Address]int, len(entries))
	for i, e := range entries {
		account, err := common.ParseAddress(e.Account, ss58Prefix)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		if j, ok := seen[account]; ok {
			return nil, fmt.Errorf("record %d: account %s already listed in record %d", i, e.Account, j)
		}
		seen[account] = i

		if e.Gen2.TotalUnlocking == "" {
			return nil, fmt.Errorf("record %d (%s): missing gen2.totalUnlocking", i, e.Account)
		}
		excess, _, err := apd.NewFromString(e.Gen2.TotalUnlocking.String())
		if err != nil {
			return nil, fmt.Errorf("record %d (%s): totalUnlocking: %w", i, e.Account, err)
		}
		if excess.Form != apd.Finite || excess.Sign() < 0 {
			return nil, fmt.Errorf("record %d (%s): totalUnlocking must be a non-negative number, got %s", i, e.Account, excess)
		}
		records = append(records, Record{Account: account, PriorExcess: excess})
	}
	return records, nil
}

// Accounts returns the accounts of the records, in order.
func Accounts(records []Record) []common.Address {
	accounts := make([]common.Address, len(records))
	for i, r := range records {
		accounts[i] = r.Account
	}
	return accounts
}
