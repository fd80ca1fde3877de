package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/nethalo/dbalter/internal/chunk"
	"github.com/nethalo/dbalter/internal/metrics"
	"github.com/nethalo/dbalter/internal/migration"
	"github.com/nethalo/dbalter/internal/mysql"
	"github.com/nethalo/dbalter/internal/output"
	"github.com/nethalo/dbalter/internal/parser"
	"github.com/nethalo/dbalter/internal/topology"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var alterCmd = &cobra.Command{
	Use:   "alter [db.]table",
	Short: "Apply an ALTER TABLE online",
	Long: `Apply an ALTER TABLE to a live table without blocking writes.

The table is copied into an altered shadow table in chunks while triggers
replay concurrent writes. Once the copy and the delete reconciliation pass
are done, the tables are swapped with one atomic RENAME and the original is
dropped (or kept with --keep-archive).

Examples:
  dbalter alter shop.orders --alter "ADD COLUMN note VARCHAR(255)"
  dbalter alter -d shop --table orders --alter "ADD INDEX idx_created (created_at)" --chunk-size 5000
  dbalter alter shop.orders --cleanup`,
	Args:         cobra.MaximumNArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := alterOptions(cmd, args)
		if err != nil {
			return err
		}
		return runMigration(cmd, opts)
	},
}

func init() {
	rootCmd.AddCommand(alterCmd)
	addAlterFlags(alterCmd)
}

func addAlterFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringP("table", "t", "", "Table to alter, optionally qualified as db.table")
	f.StringP("alter", "a", "", "ALTER TABLE fragment to apply, e.g. \"ADD COLUMN c INT\"")
	f.String("alter-file", "", "Read the ALTER TABLE fragment from a file")
	f.String("ghost", "", "Custom shadow table name: kept in sync but never swapped in or dropped")
	f.IntP("chunk-size", "c", migration.DefaultChunkSize, "Rows per chunk")
	f.Bool("lock-chunks", false, "Lock both tables around every chunk (for engines without row locks)")
	f.Int("sleep", 0, "Milliseconds to sleep between chunks")
	f.Float64("sleep-ratio", 0, "Sleep this multiple of the last chunk's duration between chunks")
	f.Bool("skip-delete-pass", false, "Skip the reconciliation pass that removes rows deleted during the copy")
	f.Bool("cleanup", false, "Remove triggers and tables left behind by an earlier run, then exit")
	f.String("force-chunking-column", "", "Chunk on these columns instead of the best unique key: col[:integer|temporal|text|opaque] or c1,c2")
	f.String("start-with", "", "Start the copy at this key value (comma separated for composite keys)")
	f.String("end-with", "", "End the copy at this key value (comma separated for composite keys)")
	f.Bool("skip-binlog", false, "Do not write the migration's own statements to the binary log")
	f.Int("max-lock-retries", migration.DefaultMaxLockRetries, "Attempts to take the snapshot lock before giving up (-1 for unlimited)")
	f.Duration("lock-wait-timeout", migration.DefaultLockWaitTimeout, "Session lock_wait_timeout for each snapshot lock attempt")
	f.Int("max-chunk-retries", migration.DefaultMaxChunkRetries, "Retries per failing chunk before aborting. Bounded by default so a chunk that keeps failing ends the run; -1 retries until interrupted")
	f.Bool("terminate-on-not-found", false, "End a pass at the first chunk that affects no rows")
	f.Bool("keep-archive", false, "Keep the original table as __arc_<table> after the swap")
	f.Bool("verify", true, "Compare row counts of both tables under lock right before the swap (--verify=false to skip)")
	f.String("metrics-addr", "", "Serve Prometheus metrics on this address during the run, e.g. :9104")
	f.Bool("skip-topology", false, "Skip replication topology detection")
}

// alterOptions turns the alter flags into migration options. The table
// comes from the positional argument or --table and may be db qualified.
func alterOptions(cmd *cobra.Command, args []string) (migration.Options, error) {
	f := cmd.Flags()
	opts := migration.DefaultOptions()

	name, _ := f.GetString("table")
	if len(args) == 1 {
		if name != "" && name != args[0] {
			return opts, fmt.Errorf("table given twice: %q and --table %q", args[0], name)
		}
		name = args[0]
	}
	if name == "" {
		return opts, errors.New("no table specified: pass [db.]table or --table")
	}
	opts.Database, opts.Table = resolveTable(name)

	opts.Cleanup, _ = f.GetBool("cleanup")
	alter, err := alterInput(cmd)
	if err != nil {
		return opts, err
	}
	if alter == "" && !opts.Cleanup {
		return opts, errors.New("no alteration specified: use --alter or --alter-file")
	}
	opts.Alter = alter

	opts.Ghost, _ = f.GetString("ghost")
	opts.ChunkSize, _ = f.GetInt("chunk-size")
	if !f.Changed("chunk-size") && viper.IsSet("defaults.chunk_size") {
		opts.ChunkSize = viper.GetInt("defaults.chunk_size")
	}
	opts.SleepMillis, _ = f.GetInt("sleep")
	if !f.Changed("sleep") && viper.IsSet("defaults.sleep_millis") {
		opts.SleepMillis = viper.GetInt("defaults.sleep_millis")
	}
	opts.SleepRatio, _ = f.GetFloat64("sleep-ratio")
	opts.LockChunks, _ = f.GetBool("lock-chunks")
	opts.SkipDeletePass, _ = f.GetBool("skip-delete-pass")
	opts.StartWith, _ = f.GetString("start-with")
	opts.EndWith, _ = f.GetString("end-with")
	opts.SkipBinlog, _ = f.GetBool("skip-binlog")
	opts.MaxLockRetries, _ = f.GetInt("max-lock-retries")
	opts.LockWaitTimeout, _ = f.GetDuration("lock-wait-timeout")
	opts.MaxChunkRetries, _ = f.GetInt("max-chunk-retries")
	opts.TerminateOnNotFound, _ = f.GetBool("terminate-on-not-found")
	opts.KeepArchive, _ = f.GetBool("keep-archive")
	opts.VerifyRowCount, _ = f.GetBool("verify")

	forced, _ := f.GetString("force-chunking-column")
	fk, err := chunk.ParseForcedKey(forced)
	if err != nil {
		return opts, fmt.Errorf("--force-chunking-column: %w", err)
	}
	opts.ForcedKey = fk

	return opts, opts.Validate()
}

// maxAlterFileSize bounds --alter-file; an ALTER fragment is never this big.
const maxAlterFileSize = 1 << 20

// alterInput returns the alteration from --alter or --alter-file.
func alterInput(cmd *cobra.Command) (string, error) {
	alter, _ := cmd.Flags().GetString("alter")
	path, _ := cmd.Flags().GetString("alter-file")
	if path == "" {
		return strings.TrimSpace(alter), nil
	}
	if strings.TrimSpace(alter) != "" {
		return "", errors.New("use either --alter or --alter-file, not both")
	}

	if err := validateAlterFile(path); err != nil {
		return "", err
	}
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("could not read file %s: %w", path, err)
	}
	return strings.TrimSpace(string(data)), nil
}

func validateAlterFile(path string) error {
	info, err := os.Stat(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("cannot access file %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", path)
	}
	if info.Size() > maxAlterFileSize {
		return fmt.Errorf("file too large: %s is %d bytes, limit is %d", path, info.Size(), maxAlterFileSize)
	}
	return nil
}

// resolveTable splits db.table, falling back to --database.
func resolveTable(name string) (string, string) {
	db, table := parser.SplitQualified(name)
	if db == "" {
		db = viper.GetString("database")
	}
	return db, table
}

// runMigration connects, runs one migration (or cleanup) and renders its
// report. The report is rendered whether or not the run succeeded.
func runMigration(cmd *cobra.Command, opts migration.Options) error {
	log, err := newLogger()
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	connCfg, err := connectionConfig()
	if err != nil {
		return err
	}
	if connCfg.Database == "" {
		connCfg.Database = opts.Database
	}

	db, err := mysql.Connect(ctx, connCfg)
	if err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}
	defer db.Close()

	res := &output.Result{}
	skipTopology, _ := cmd.Flags().GetBool("skip-topology")
	if !opts.Cleanup && !skipTopology {
		topo, err := topology.Detect(ctx, db)
		if err != nil {
			log.Warn("topology detection failed", zap.Error(err))
		} else {
			res.Topology = topo
			res.ClusterWarnings = topology.Warnings(topo, topology.Checks{
				SkipBinlog: opts.SkipBinlog,
				LockChunks: opts.LockChunks,
			})
			for _, w := range res.ClusterWarnings {
				log.Warn(w)
			}
		}
	}

	if !opts.Cleanup {
		meta, err := mysql.GetTableMetadata(ctx, db, opts.Database, opts.Table)
		if err != nil {
			log.Debug("table metadata unavailable", zap.Error(err))
		} else {
			res.Table = meta
			log.Info("table size",
				zap.String("size", meta.TotalSizeHuman()),
				zap.Int64("rows_estimate", meta.RowCount),
			)
		}
	}

	sess, err := mysql.NewSession(ctx, db)
	if err != nil {
		return err
	}
	defer sess.Close()

	var rec migration.Recorder
	if addr, _ := cmd.Flags().GetString("metrics-addr"); addr != "" {
		store := metrics.NewStore(opts.Database, opts.Table)
		go func() {
			if err := store.Serve(ctx, addr, log); err != nil {
				log.Warn("metrics endpoint stopped", zap.Error(err))
			}
		}()
		rec = store
	}

	m, err := migration.New(sess, opts, log, rec)
	if err != nil {
		return err
	}
	report, runErr := m.Run(ctx)
	res.Report = report

	output.NewRenderer(viper.GetString("format"), cmd.OutOrStdout()).RenderResult(res)
	return runErr
}
