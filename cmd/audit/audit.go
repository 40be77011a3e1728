// Package audit implements the audit sub-command.
package audit

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/galacticcouncil/gen3-unbond-fix/audit"
	cmdCommon "github.com/galacticcouncil/gen3-unbond-fix/cmd/common"
	"github.com/galacticcouncil/gen3-unbond-fix/common"
	"github.com/galacticcouncil/gen3-unbond-fix/metrics"
	"github.com/galacticcouncil/gen3-unbond-fix/remediation"
)

const moduleName = "audit"

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Find staking ledgers whose total is not active + unlocking",
	Long: "Enumerates all staking ledgers, flags those whose total differs from active plus unlocking, " +
		"and compares the flagged accounts with the remediation list. Read-only.",
	Run: runAudit,
}

func runAudit(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()
	cfg := cmdCommon.LoadConfig(ctx)
	logger := cmdCommon.RootLogger().WithModule(moduleName)
	ss58Prefix := cfg.Source.SS58Prefix

	records, err := remediation.LoadRecords(cfg.Audit.DataFile, ss58Prefix)
	if err != nil {
		logger.Error("failed to load remediation list", "err", err)
		os.Exit(1)
	}

	api, err := cmdCommon.NewChainApi(cfg.Source, "")
	if err != nil {
		logger.Error("failed to connect to node", "err", err)
		os.Exit(1)
	}
	defer common.CloseOrLog(api, logger)

	report, err := audit.Run(ctx, api, remediation.Accounts(records), audit.Options{
		CheckLocks:  cfg.Audit.CheckLocks,
		Concurrency: cfg.Source.Concurrency,
	}, logger)
	if err != nil {
		logger.Error("audit failed", "err", err)
		os.Exit(1)
	}
	report.Log(logger, ss58Prefix)

	if cfg.Audit.ReportFile != "" {
		if err := audit.WriteReport(cfg.Audit.ReportFile, report, ss58Prefix); err != nil {
			logger.Error("failed to write audit report", "err", err)
			os.Exit(1)
		}
		logger.Info("wrote audit report", "file", cfg.Audit.ReportFile)
	}

	runMetrics := metrics.NewDefaultRunMetrics()
	runMetrics.Accounts("ledger_inconsistent", len(report.Inconsistencies))
	runMetrics.Accounts("unexpected", len(report.Comparison.Unexpected))
	runMetrics.Accounts("unflagged", len(report.Comparison.Unflagged))
	runMetrics.Accounts("lock_mismatch", len(report.LockMismatches))
	runMetrics.Completed(moduleName)
	cmdCommon.PushMetrics(ctx, cfg, moduleName, report.RunID)
}

// Register registers the audit sub-command.
func Register(parentCmd *cobra.Command) {
	parentCmd.AddCommand(auditCmd)
}
