// Package remediate implements the remediate sub-command.
package remediate

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/galacticcouncil/gen3-unbond-fix/amount"
	cmdCommon "github.com/galacticcouncil/gen3-unbond-fix/cmd/common"
	"github.com/galacticcouncil/gen3-unbond-fix/common"
	"github.com/galacticcouncil/gen3-unbond-fix/log"
	"github.com/galacticcouncil/gen3-unbond-fix/metrics"
	"github.com/galacticcouncil/gen3-unbond-fix/nodeapi"
	"github.com/galacticcouncil/gen3-unbond-fix/remediation"
)

const moduleName = "remediate"

var (
	// Submit the storage patch instead of only writing it out.
	send bool

	remediateCmd = &cobra.Command{
		Use:   "remediate",
		Short: "Compute corrected staking locks and optionally submit them",
		Long: "Reads the remediation list, computes the corrected Balances.Locks of every listed account " +
			"and writes the storage updates to the output file. With --send, the updates are applied " +
			"with a single sudo System.set_storage transaction.",
		Run: runRemediate,
	}
)

// options of a single remediation run.
type options struct {
	OutputFile  string
	SS58Prefix  uint16
	Concurrency int
	// Send submits the storage updates after writing them out.
	Send bool
}

func runRemediate(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()
	cfg := cmdCommon.LoadConfig(ctx)
	runID := uuid.NewString()
	logger := cmdCommon.RootLogger().WithModule(moduleName).With("run_id", runID)

	records, err := remediation.LoadRecords(cfg.Remediation.DataFile, cfg.Source.SS58Prefix)
	if err != nil {
		logger.Error("failed to load remediation list", "err", err)
		os.Exit(1)
	}
	logger.Info("loaded remediation list", "file", cfg.Remediation.DataFile, "accounts", len(records))

	sudoSecret := ""
	if send {
		sudoSecret = cfg.Remediation.SudoSecret
	}
	api, err := cmdCommon.NewChainApi(cfg.Source, sudoSecret)
	if err != nil {
		logger.Error("failed to connect to node", "err", err)
		os.Exit(1)
	}

	updates, err := remediate(ctx, api, records, options{
		OutputFile:  cfg.Remediation.OutputFile,
		SS58Prefix:  cfg.Source.SS58Prefix,
		Concurrency: cfg.Source.Concurrency,
		Send:        send,
	}, logger)
	common.CloseOrLog(api, logger)
	if err != nil {
		logger.Error("remediation failed", "err", err)
		os.Exit(1)
	}

	runMetrics := metrics.NewDefaultRunMetrics()
	runMetrics.Accounts("remediated", len(updates))
	runMetrics.Completed(moduleName)
	cmdCommon.PushMetrics(ctx, cfg, moduleName, runID)
}

// remediate computes the storage updates of records and writes them to the
// output file. Only then, and only with opts.Send, are they submitted; a
// failed computation writes and submits nothing.
func remediate(ctx context.Context, api nodeapi.ChainApiLite, records []remediation.Record, opts options, logger *log.Logger) ([]remediation.StorageUpdate, error) {
	info, err := api.NodeInfo(ctx)
	if err != nil {
		logger.Warn("failed to query node info", "err", err)
	} else {
		logger.Info("node", "chain", info.Chain, "version", info.Version)
	}

	updates, err := remediation.BuildStorageUpdates(ctx, api, records, remediation.Options{Concurrency: opts.Concurrency}, logger)
	if err != nil {
		return nil, fmt.Errorf("computing storage updates (nothing was written): %w", err)
	}
	for _, u := range updates {
		logger.Info("lock correction",
			"account", u.Account.SS58(opts.SS58Prefix),
			"current", amount.Format(u.Current),
			"excess", amount.Format(u.Excess),
			"corrected", amount.Format(u.Corrected),
		)
	}

	if err := remediation.WriteStorageUpdates(opts.OutputFile, updates); err != nil {
		return nil, fmt.Errorf("writing storage updates: %w", err)
	}
	logger.Info("wrote storage updates", "file", opts.OutputFile, "updates", len(updates))

	switch {
	case !opts.Send:
		logger.Info("dry run; rerun with --send to submit the storage updates")
	case len(updates) == 0:
		logger.Info("no storage updates to submit")
	default:
		receipt, err := api.SubmitStoragePatch(ctx, remediation.StorageEntries(updates))
		if errors.Is(err, nodeapi.ErrPatchNotApplied) && receipt != nil {
			logger.Error("storage patch finalized but not applied",
				"finalized", hexutil.Encode(receipt.Finalized),
				"err", err,
			)
		}
		if err != nil {
			return updates, fmt.Errorf("submitting storage patch: %w", err)
		}
		logger.Info("storage patch finalized",
			"in_block", hexutil.Encode(receipt.InBlock),
			"finalized", hexutil.Encode(receipt.Finalized),
		)
	}
	return updates, nil
}

// Register registers the remediate sub-command.
func Register(parentCmd *cobra.Command) {
	remediateCmd.Flags().BoolVar(&send, "send", false, "submit the storage updates with the sudo key")
	parentCmd.AddCommand(remediateCmd)
}
