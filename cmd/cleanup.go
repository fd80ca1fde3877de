package cmd

import (
	"errors"

	"github.com/nethalo/dbalter/internal/migration"
	"github.com/spf13/cobra"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup [db.]table",
	Short: "Remove leftovers of an interrupted alter",
	Long: `Drop the capture triggers, the shadow table and the archive table that an
earlier, interrupted run left behind on a table. Same as alter --cleanup.

A custom --ghost table is never dropped; only its triggers are removed.`,
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := cleanupOptions(cmd, args[0])
		if err != nil {
			return err
		}
		return runMigration(cmd, opts)
	},
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
	cleanupCmd.Flags().String("ghost", "", "Custom shadow table name used by the interrupted run")
}

func cleanupOptions(cmd *cobra.Command, name string) (migration.Options, error) {
	opts := migration.DefaultOptions()
	opts.Cleanup = true
	opts.Database, opts.Table = resolveTable(name)
	if opts.Table == "" {
		return opts, errors.New("no table specified")
	}
	opts.Ghost, _ = cmd.Flags().GetString("ghost")
	return opts, opts.Validate()
}
