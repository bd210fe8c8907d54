package main

import (
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "netwatch",
		Short: "Watch the availability of HTTP, TCP and DNS services",
		Long: `netwatch probes a fixed set of services on their own intervals, turns the
raw results into stable UP / DOWN / DEGRADED statuses, keeps a probe history
for uptime reporting and serves the live status over HTTP.

Configuration comes from a services file plus environment variables
(API_ADDR, DATABASE_URL, SQLITE_PATH, LOG_DIR, LOG_LEVEL, ...).`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newMonitorCmd(), newValidateCmd(), newStatusCmd())
	return root
}
