// Package copier moves rows from a table into its shadow copy chunk by chunk
// and removes shadow rows whose source row disappeared.
package copier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/nethalo/dbalter/internal/chunk"
	"github.com/nethalo/dbalter/internal/mysql"
)

// Pass names one walk over the key range.
type Pass string

const (
	PassCopy   Pass = "copy"
	PassDelete Pass = "delete"
)

// UnlimitedRetries disables the chunk retry bound.
const UnlimitedRetries = -1

// Options configures an Engine.
type Options struct {
	Database string
	Source   string
	Ghost    string
	Shared   []string

	// ShareLock reads source rows with LOCK IN SHARE MODE. Set it for
	// engines with row locks.
	ShareLock bool
	// LockChunks wraps every chunk in LOCK TABLES source READ, ghost WRITE.
	LockChunks bool

	SleepMillis int
	SleepRatio  float64
	// MaxRetries bounds the retries of one chunk. UnlimitedRetries retries
	// until the context is cancelled.
	MaxRetries int

	// TerminateOnNoRowsAffected ends the copy pass at the first chunk that
	// copies nothing. The delete pass ignores it since it normally deletes
	// nothing.
	TerminateOnNoRowsAffected bool
}

// ChunkProgress describes one finished chunk.
type ChunkProgress struct {
	Pass     Pass
	Index    int
	Start    chunk.Tuple
	End      chunk.Tuple
	Elapsed  time.Duration
	Affected int64
	Total    int64
	Attempts int
	Ratio    *float64 // nil for text and opaque keys
}

// Stats summarises one pass.
type Stats struct {
	Pass         Pass          `json:"pass"`
	Chunks       int           `json:"chunks"`
	Rows         int64         `json:"rows"`
	Retries      int           `json:"retries"`
	Elapsed      time.Duration `json:"elapsed"`
	Degenerate   bool          `json:"degenerate,omitempty"`
	StoppedEarly bool          `json:"stopped_early,omitempty"`
}

// ChunkExecutionError is returned once a chunk fails past its retry bound.
type ChunkExecutionError struct {
	Pass     Pass
	Index    int
	Attempts int
	Err      error
}

func (e *ChunkExecutionError) Error() string {
	return fmt.Sprintf("%s pass: chunk %d failed after %d attempt(s): %v", e.Pass, e.Index, e.Attempts, e.Err)
}

func (e *ChunkExecutionError) Unwrap() error { return e.Err }

// Recorder receives chunk level events, typically for metrics.
type Recorder interface {
	ChunkDone(p ChunkProgress)
	ChunkRetried(pass Pass)
}

type nopRecorder struct{}

func (nopRecorder) ChunkDone(ChunkProgress) {}
func (nopRecorder) ChunkRetried(Pass)       {}

// Engine runs copy and delete passes over the chunks of a Planner.
type Engine struct {
	ex      mysql.Executor
	planner *chunk.Planner
	opts    Options
	log     *zap.Logger
	rec     Recorder

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New returns an Engine. rec may be nil.
func New(ex mysql.Executor, planner *chunk.Planner, opts Options, log *zap.Logger, rec Recorder) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	if rec == nil {
		rec = nopRecorder{}
	}
	return &Engine{
		ex:      ex,
		planner: planner,
		opts:    opts,
		log:     log,
		rec:     rec,
		now:     time.Now,
		sleep:   sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run walks rng once. Statements are never interrupted: cancelling ctx stops
// the pass between chunks and Run returns the context error.
func (e *Engine) Run(ctx context.Context, pass Pass, rng chunk.Range) (stats Stats, err error) {
	stats.Pass = pass
	if !rng.Exists {
		e.log.Info("table is empty, nothing to do", zap.String("pass", string(pass)))
		return stats, nil
	}

	began := e.now()
	defer func() { stats.Elapsed = e.now().Sub(began) }()

	stmtCtx := context.WithoutCancel(ctx)
	key := e.planner.Key()
	it := e.planner.Iterate(rng)

	for {
		if err := ctx.Err(); err != nil {
			return stats, fmt.Errorf("%s pass interrupted after %d chunk(s): %w", pass, stats.Chunks, err)
		}

		b, ok, err := it.Next(stmtCtx)
		if errors.Is(err, chunk.ErrRangeDegenerate) {
			e.log.Debug("range exhausted", zap.String("pass", string(pass)), zap.Error(err))
			stats.Degenerate = true
			break
		}
		if err != nil {
			return stats, err
		}
		if !ok {
			break
		}

		affected, attempts, elapsed, err := e.execChunk(ctx, stmtCtx, pass, b)
		stats.Retries += attempts - 1
		if err != nil {
			return stats, err
		}

		stats.Chunks++
		stats.Rows += affected

		p := ChunkProgress{
			Pass:     pass,
			Index:    b.Index,
			Start:    b.Start,
			End:      b.End,
			Elapsed:  elapsed,
			Affected: affected,
			Total:    stats.Rows,
			Attempts: attempts,
		}
		if r, ok := chunk.Ratio(key, rng, b.Start); ok {
			p.Ratio = &r
		}
		e.logChunk(p)
		e.rec.ChunkDone(p)

		if affected == 0 && pass == PassCopy && e.opts.TerminateOnNoRowsAffected {
			e.log.Info("chunk affected no rows, ending pass", zap.String("pass", string(pass)), zap.Int("chunk", b.Index))
			stats.StoppedEarly = true
			break
		}

		if err := e.sleep(ctx, e.pause(elapsed)); err != nil {
			return stats, fmt.Errorf("%s pass interrupted after %d chunk(s): %w", pass, stats.Chunks, err)
		}
	}

	e.log.Info("pass finished",
		zap.String("pass", string(pass)),
		zap.Int("chunks", stats.Chunks),
		zap.Int64("rows", stats.Rows),
		zap.Int("retries", stats.Retries),
	)
	return stats, nil
}

func (e *Engine) logChunk(p ChunkProgress) {
	fields := []zap.Field{
		zap.String("pass", string(p.Pass)),
		zap.Int("chunk", p.Index),
		zap.Stringer("start", p.Start),
		zap.Stringer("end", p.End),
		zap.Int64("rows", p.Affected),
		zap.Int64("total", p.Total),
		zap.Duration("elapsed", p.Elapsed),
	}
	if p.Ratio != nil {
		fields = append(fields, zap.String("ratio", fmt.Sprintf("%.2f%%", *p.Ratio*100)))
	}
	e.log.Debug("chunk done", fields...)
}

// pause is the wait after a chunk that took elapsed, and between retries.
func (e *Engine) pause(elapsed time.Duration) time.Duration {
	if e.opts.SleepMillis > 0 {
		return time.Duration(e.opts.SleepMillis) * time.Millisecond
	}
	if e.opts.SleepRatio > 0 {
		return time.Duration(e.opts.SleepRatio * float64(elapsed))
	}
	return 0
}

// throttle is the retry schedule: the same wait as between chunks, based on
// the duration of the failed attempt.
type throttle struct {
	e    *Engine
	last *time.Duration
}

func (t *throttle) NextBackOff() time.Duration { return t.e.pause(*t.last) }
func (t *throttle) Reset()                     {}

func (e *Engine) retryPolicy(ctx context.Context, last *time.Duration) backoff.BackOff {
	var b backoff.BackOff = &throttle{e: e, last: last}
	if e.opts.MaxRetries >= 0 {
		b = backoff.WithMaxRetries(b, uint64(e.opts.MaxRetries))
	}
	return backoff.WithContext(b, ctx)
}

func (e *Engine) execChunk(ctx, stmtCtx context.Context, pass Pass, b chunk.Boundary) (int64, int, time.Duration, error) {
	query, args := e.statement(pass, b)

	var (
		affected int64
		attempts int
		last     time.Duration
	)
	op := func() error {
		attempts++
		began := e.now()
		n, err := e.runChunk(stmtCtx, query, args)
		last = e.now().Sub(began)
		if err != nil {
			if mysql.IsStatementError(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		affected = n
		return nil
	}
	notify := func(err error, wait time.Duration) {
		e.rec.ChunkRetried(pass)
		e.log.Warn("chunk failed, retrying",
			zap.String("pass", string(pass)),
			zap.Int("chunk", b.Index),
			zap.Int("attempt", attempts),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}

	if err := backoff.RetryNotify(op, e.retryPolicy(ctx, &last), notify); err != nil {
		return 0, attempts, last, &ChunkExecutionError{Pass: pass, Index: b.Index, Attempts: attempts, Err: err}
	}
	return affected, attempts, last, nil
}

func (e *Engine) runChunk(ctx context.Context, query string, args []any) (n int64, err error) {
	if !e.opts.LockChunks {
		return e.ex.Exec(ctx, query, args...)
	}

	lock := fmt.Sprintf("LOCK TABLES %s READ, %s WRITE",
		mysql.QualifiedName(e.opts.Database, e.opts.Source), mysql.QualifiedName(e.opts.Database, e.opts.Ghost))
	if _, err := e.ex.Exec(ctx, lock); err != nil {
		return 0, fmt.Errorf("locking chunk: %w", err)
	}
	defer func() {
		if _, uerr := e.ex.Exec(ctx, "UNLOCK TABLES"); uerr != nil && err == nil {
			err = fmt.Errorf("unlocking chunk: %w", uerr)
		}
	}()
	return e.ex.Exec(ctx, query, args...)
}

// statement builds the chunk statement for pass.
func (e *Engine) statement(pass Pass, b chunk.Boundary) (string, []any) {
	key := e.planner.Key()
	src := mysql.QualifiedName(e.opts.Database, e.opts.Source)
	dst := mysql.QualifiedName(e.opts.Database, e.opts.Ghost)
	where, args := chunk.RangeWhere(key, b.Start, b.End, b.First)

	if pass == PassDelete {
		keyCols := key.ColumnNames()
		srcCols := chunk.QualifiedColumns(src, keyCols)
		dstCols := chunk.QualifiedColumns(dst, keyCols)
		match := make([]string, len(keyCols))
		for i := range keyCols {
			match[i] = srcCols[i] + " = " + dstCols[i]
		}
		return fmt.Sprintf("DELETE FROM %s WHERE %s AND NOT EXISTS (SELECT 1 FROM %s WHERE %s)",
			dst, where, src, strings.Join(match, " AND ")), args
	}

	cols := chunk.ColumnList(e.opts.Shared)
	query := fmt.Sprintf("INSERT IGNORE INTO %s (%s) SELECT %s FROM %s%s WHERE %s",
		dst, cols, cols, src, e.planner.ForceIndex(), where)
	if e.opts.ShareLock && !e.opts.LockChunks {
		query += " LOCK IN SHARE MODE"
	}
	return query, args
}
