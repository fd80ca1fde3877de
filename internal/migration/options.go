package migration

import (
	"fmt"
	"time"

	"github.com/nethalo/dbalter/internal/chunk"
	"github.com/nethalo/dbalter/internal/copier"
	"github.com/nethalo/dbalter/internal/trigger"
)

const (
	ghostPrefix   = "__oak_"
	archivePrefix = "__arc_"

	DefaultChunkSize       = 1000
	DefaultMaxLockRetries  = 600
	DefaultMaxChunkRetries = 10
	DefaultLockWaitTimeout = 3 * time.Second

	// UnlimitedRetries retries lock acquisition or chunks until cancelled.
	UnlimitedRetries = -1
)

// Options configures one migration run.
type Options struct {
	Database string
	Table    string
	Alter    string

	// Ghost is a caller chosen shadow table name. A custom shadow table is
	// kept in sync but never swapped in and never dropped.
	Ghost string

	ChunkSize      int
	LockChunks     bool
	SleepMillis    int
	SleepRatio     float64
	SkipDeletePass bool
	Cleanup        bool

	ForcedKey *chunk.ForcedKey
	StartWith string
	EndWith   string

	SkipBinlog      bool
	MaxLockRetries  int
	LockWaitTimeout time.Duration
	MaxChunkRetries int

	TerminateOnNotFound bool
	KeepArchive         bool
	// VerifyRowCount compares source and shadow row counts before the
	// swap. Rows the copy skipped (INSERT IGNORE against a new unique key)
	// show up as a mismatch.
	VerifyRowCount bool
}

// DefaultOptions returns Options with every tunable at its default.
func DefaultOptions() Options {
	return Options{
		ChunkSize:       DefaultChunkSize,
		MaxLockRetries:  DefaultMaxLockRetries,
		MaxChunkRetries: DefaultMaxChunkRetries,
		LockWaitTimeout: DefaultLockWaitTimeout,
		VerifyRowCount:  true,
	}
}

// GhostTable returns the shadow table name.
func (o Options) GhostTable() string {
	if o.Ghost != "" {
		return o.Ghost
	}
	return ghostPrefix + o.Table
}

// ArchiveTable returns the name the original table is renamed to.
func (o Options) ArchiveTable() string {
	return archivePrefix + o.Table
}

// CustomGhost reports whether the caller named the shadow table.
func (o Options) CustomGhost() bool { return o.Ghost != "" }

// Validate checks option values before anything touches the server.
func (o Options) Validate() error {
	if o.Database == "" {
		return fmt.Errorf("no database specified: use a qualified table name or --database")
	}
	if o.Table == "" {
		return fmt.Errorf("no table specified")
	}
	if o.ChunkSize < 1 {
		return fmt.Errorf("chunk size must be at least 1, got %d", o.ChunkSize)
	}
	if o.SleepMillis < 0 || o.SleepRatio < 0 {
		return fmt.Errorf("sleep and sleep ratio cannot be negative")
	}
	if o.MaxLockRetries < UnlimitedRetries || o.MaxChunkRetries < copier.UnlimitedRetries {
		return fmt.Errorf("retry bounds must be -1 (unlimited) or greater")
	}
	if o.Ghost == o.Table {
		return fmt.Errorf("shadow table cannot be the table itself")
	}
	names := append([]string{o.GhostTable(), o.ArchiveTable()}, trigger.Names(o.Table)...)
	for _, n := range names {
		if len(n) > trigger.MaxNameLength {
			return fmt.Errorf("derived name %s is longer than %d characters", n, trigger.MaxNameLength)
		}
	}
	return nil
}
