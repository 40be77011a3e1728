// Package cmd implements commands for the unbond-fix executable.
package cmd

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/pprof"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/galacticcouncil/gen3-unbond-fix/cmd/audit"
	"github.com/galacticcouncil/gen3-unbond-fix/cmd/common"
	"github.com/galacticcouncil/gen3-unbond-fix/cmd/remediate"
	"github.com/galacticcouncil/gen3-unbond-fix/log"
)

var rootCmd = &cobra.Command{
	Use:   "unbond-fix",
	Short: "Staking lock remediation for HydraDX gen3",
}

// Execute spawns the main entry point after handing the config file.
func Execute() {
	// Debug hook. If we receive SIGUSR1, dump all goroutines.
	go dumpGoroutinesOnSignal(syscall.SIGUSR1)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&common.ConfigFile, "config", "", "path to the config.yml file (optional)")

	for _, f := range []func(*cobra.Command){
		remediate.Register,
		audit.Register,
	} {
		f(rootCmd)
	}
}

// Starts listening for the specified signals, and logs a dump of all
// goroutines when the process receives one of those signals.
func dumpGoroutinesOnSignal(signals ...os.Signal) {
	logger := log.NewDefaultLogger("toplevel")
	c := make(chan os.Signal, 1)
	signal.Notify(c, signals...)
	for range c {
		b := bytes.NewBufferString("")
		_ = pprof.Lookup("goroutine").WriteTo(b, 1)
		logger.Warn("USER-REQUESTED DUMP: all goroutines", "goroutines_all", b.String())
	}
}
