// Command masond is Mason's daemon entrypoint: a cobra root command
// that tunes the process for its container (GOMAXPROCS/GOMEMLIMIT),
// loads configuration, wires every component, and runs the poll loop
// until SIGTERM/SIGINT.
package main

import (
	"fmt"
	"os"

	"github.com/KimMachineGun/automemlimit/memlimit"
	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:     "masond [config-path]",
	Short:   "Mason orchestration daemon",
	Long:    `Mason polls a backlog API for stories, compiles them into tasks, dispatches them to interchangeable code-generation providers with failover, and reports outcomes to a QA queue API.`,
	Args:    cobra.MaximumNArgs(1),
	Version: version,
	RunE:    runDaemon,
}

func init() {
	rootCmd.SetVersionTemplate("masond {{.Version}}\n")
}

func main() {
	if _, err := maxprocs.Set(); err != nil {
		fmt.Fprintf(os.Stderr, "masond: GOMAXPROCS tuning skipped: %v\n", err)
	}
	if _, err := memlimit.SetGoMemLimitWithOpts(memlimit.WithRatio(0.9)); err != nil {
		fmt.Fprintf(os.Stderr, "masond: GOMEMLIMIT tuning skipped: %v\n", err)
	}

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
