package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"os"

	"github.com/google/uuid"

	"github.com/galacticcouncil/gen3-unbond-fix/common"
	"github.com/galacticcouncil/gen3-unbond-fix/log"
	"github.com/galacticcouncil/gen3-unbond-fix/nodeapi"
)

type Options struct {
	// CheckLocks also compares staking locks with ledger totals for the
	// expected accounts.
	CheckLocks  bool
	Concurrency int
}

// Report is the outcome of one audit run.
type Report struct {
	RunID           string
	Node            nodeapi.NodeInfo
	LedgerCount     int
	Inconsistencies []Inconsistency
	Comparison      SetComparison
	LockMismatches  []LockMismatch
}

// Run enumerates every staking ledger, flags the inconsistent ones and
// compares them with the expected accounts. It never writes to the chain.
func Run(ctx context.Context, api nodeapi.ChainApiLite, expected []common.Address, opts Options, logger *log.Logger) (*Report, error) {
	report := &Report{RunID: uuid.NewString()}
	logger = logger.With("run_id", report.RunID)

	info, err := api.NodeInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("querying node info: %w", err)
	}
	report.Node = *info

	entries, err := api.Ledgers(ctx)
	if err != nil {
		return nil, fmt.Errorf("enumerating staking ledgers: %w", err)
	}
	report.LedgerCount = len(entries)
	logger.Info("enumerated staking ledgers", "count", len(entries), "chain", info.Chain)

	report.Inconsistencies = FindLedgerInconsistencies(entries)
	report.Comparison = Compare(InconsistentAccounts(report.Inconsistencies), expected)

	if opts.CheckLocks {
		report.LockMismatches, err = FindLockMismatches(ctx, api, expected, opts.Concurrency)
		if err != nil {
			return nil, err
		}
	}
	return report, nil
}

// Log writes the summary of the report. A set mismatch is a warning, not a
// failure.
func (r *Report) Log(logger *log.Logger, ss58Prefix uint16) {
	logger = logger.With("run_id", r.RunID)
	cmp := r.Comparison
	logger.Info("ledger audit finished",
		"ledgers", r.LedgerCount,
		"inconsistent", cmp.FlaggedCount,
		"expected", cmp.ExpectedCount,
	)
	if cmp.Equal {
		logger.Info("inconsistent ledgers match the remediation list")
	} else {
		logger.Warn("inconsistent ledgers do not match the remediation list",
			"unexpected", len(cmp.Unexpected),
			"unflagged", len(cmp.Unflagged),
		)
		for _, a := range cmp.Unexpected {
			logger.Warn("inconsistent ledger not in remediation list", "account", a.SS58(ss58Prefix))
		}
		for _, a := range cmp.Unflagged {
			logger.Debug("listed account has a consistent ledger", "account", a.SS58(ss58Prefix))
		}
	}
	for _, m := range r.LockMismatches {
		logger.Warn("staking lock differs from ledger total",
			"account", m.Account.SS58(ss58Prefix),
			"lock", m.LockAmount.String(),
			"ledger_total", m.LedgerTotal.String(),
		)
	}
}

type reportJSON struct {
	RunID           string              `json:"run_id"`
	Chain           string              `json:"chain"`
	NodeVersion     string              `json:"node_version"`
	Ledgers         int                 `json:"ledgers"`
	Equal           bool                `json:"equal"`
	FlaggedCount    int                 `json:"flagged_count"`
	ExpectedCount   int                 `json:"expected_count"`
	Unexpected      []string            `json:"unexpected"`
	Unflagged       []string            `json:"unflagged"`
	Inconsistencies []inconsistencyJSON `json:"inconsistencies"`
	LockMismatches  []lockMismatchJSON  `json:"lock_mismatches,omitempty"`
}

type inconsistencyJSON struct {
	Account            string         `json:"account"`
	Total              *common.BigInt `json:"total"`
	BondedAndUnlocking *common.BigInt `json:"bonded_and_unlocking"`
}

type lockMismatchJSON struct {
	Account     string         `json:"account"`
	Lock        *common.BigInt `json:"lock"`
	LedgerTotal *common.BigInt `json:"ledger_total"`
}

func ss58All(accounts []common.Address, prefix uint16) []string {
	out := make([]string, len(accounts))
	for i, a := range accounts {
		out[i] = a.SS58(prefix)
	}
	return out
}

func bigIntPtr(v *big.Int) *common.BigInt {
	b := common.BigIntFrom(v)
	return &b
}

// MarshalReport renders the report as indented JSON with SS58 accounts.
func MarshalReport(r *Report, ss58Prefix uint16) ([]byte, error) {
	out := reportJSON{
		RunID:           r.RunID,
		Chain:           r.Node.Chain,
		NodeVersion:     r.Node.Version,
		Ledgers:         r.LedgerCount,
		Equal:           r.Comparison.Equal,
		FlaggedCount:    r.Comparison.FlaggedCount,
		ExpectedCount:   r.Comparison.ExpectedCount,
		Unexpected:      ss58All(r.Comparison.Unexpected, ss58Prefix),
		Unflagged:       ss58All(r.Comparison.Unflagged, ss58Prefix),
		Inconsistencies: []inconsistencyJSON{},
	}
	for _, i := range r.Inconsistencies {
		out.Inconsistencies = append(out.Inconsistencies, inconsistencyJSON{
			Account:            i.Account.SS58(ss58Prefix),
			Total:              bigIntPtr(i.Total),
			BondedAndUnlocking: bigIntPtr(i.BondedAndUnlocking),
		})
	}
	for _, m := range r.LockMismatches {
		out.LockMismatches = append(out.LockMismatches, lockMismatchJSON{
			Account:     m.Account.SS58(ss58Prefix),
			Lock:        bigIntPtr(m.LockAmount),
			LedgerTotal: bigIntPtr(m.LedgerTotal),
		})
	}
	return json.MarshalIndent(out, "", "  ")
}

// WriteReport writes the JSON report to path.
func WriteReport(path string, r *Report, ss58Prefix uint16) error {
	raw, err := MarshalReport(r, ss58Prefix)
	if err != nil {
		return fmt.Errorf("marshaling audit report: %w", err)
	}
	if err := os.WriteFile(path, append(raw, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing audit report: %w", err)
	}
	return nil
}
