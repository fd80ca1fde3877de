package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

const versionTemplate = `dbalter {{.Version}}

Supported MySQL versions:
  • MySQL 8.0 and 8.4 LTS (including Percona Server)
  • Percona XtraDB Cluster 8.0 / 8.4 (pxc_strict_mode=PERMISSIVE)
  • MySQL Group Replication 8.0 / 8.4 (single-primary)

Tables need InnoDB (or --lock-chunks), a NOT NULL unique key shared by the
old and new layout, no AFTER triggers and no foreign keys.
`

// Version is set at build time via ldflags
var (
	Version   = "dev"
	CommitSHA = "none"
	BuildDate = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print dbalter version and supported MySQL versions",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "dbalter %s (commit: %s, built: %s)\n\n", Version, CommitSHA, BuildDate)
		fmt.Fprintln(out, "Supported MySQL versions:")
		fmt.Fprintln(out, "  • MySQL 8.0 and 8.4 LTS (including Percona Server)")
		fmt.Fprintln(out, "  • Percona XtraDB Cluster 8.0 / 8.4 (pxc_strict_mode=PERMISSIVE)")
		fmt.Fprintln(out, "  • MySQL Group Replication 8.0 / 8.4 (single-primary)")
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Tables need InnoDB (or --lock-chunks), a NOT NULL unique key shared by the")
		fmt.Fprintln(out, "old and new layout, no AFTER triggers and no foreign keys.")
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)

	// Enable the standard --version flag, matching the `version` subcommand output.
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", Version, CommitSHA, BuildDate)
	rootCmd.SetVersionTemplate(versionTemplate)
}
