// Package migration drives an online ALTER TABLE: it builds an altered shadow
// copy of a live table, keeps it in sync with capture triggers while the
// rows are copied in chunks, then swaps the two tables in one RENAME.
package migration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/nethalo/dbalter/internal/chunk"
	"github.com/nethalo/dbalter/internal/copier"
	"github.com/nethalo/dbalter/internal/mysql"
	"github.com/nethalo/dbalter/internal/parser"
	"github.com/nethalo/dbalter/internal/trigger"
)

// Session is the pinned server session a migration runs on. LOCK TABLES and
// session variables only hold on one connection.
type Session interface {
	mysql.Executor
	SetSessionVariable(ctx context.Context, name string, value any) error
}

// Recorder receives migration events, typically for metrics.
type Recorder interface {
	copier.Recorder
	LockAttempt(acquired bool)
	PhaseEntered(phase string)
}

type nopRecorder struct{}

func (nopRecorder) ChunkDone(copier.ChunkProgress) {}
func (nopRecorder) ChunkRetried(copier.Pass)       {}
func (nopRecorder) LockAttempt(bool)               {}
func (nopRecorder) PhaseEntered(string)            {}

const defaultLockInterval = 100 * time.Millisecond

// Migration is one run of the state machine.
type Migration struct {
	sess     Session
	opts     Options
	log      *zap.Logger
	rec      Recorder
	triggers *trigger.Manager
	report   *Report
	phase    Phase

	alteration *parser.Alteration
	engine     mysql.Engine
	shared     mysql.ColumnSet
	key        chunk.Key
	startWith  chunk.Tuple
	endWith    chunk.Tuple
	planner    *chunk.Planner
	rng        chunk.Range
	locked     bool

	lockInterval time.Duration
	now          func() time.Time
}

// New validates opts and prepares a migration. log and rec may be nil.
func New(sess Session, opts Options, log *zap.Logger, rec Recorder) (*Migration, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	if rec == nil {
		rec = nopRecorder{}
	}
	m := &Migration{
		sess:         sess,
		opts:         opts,
		log:          log.Named("migration"),
		rec:          rec,
		triggers:     trigger.NewManager(sess, opts.Database, log.Named("triggers")),
		phase:        Init,
		lockInterval: defaultLockInterval,
		now:          time.Now,
	}
	m.report = &Report{
		RunID:    uuid.NewString(),
		Database: opts.Database,
		Table:    opts.Table,
		Ghost:    opts.GhostTable(),
		Archive:  opts.ArchiveTable(),
		Alter:    parser.Normalize(opts.Alter),
		Phases:   []Phase{Init},
		Phase:    Init,
	}
	return m, nil
}

// Report returns the run record. It is complete once Run returns.
func (m *Migration) Report() *Report { return m.report }

// Phase returns the current phase.
func (m *Migration) Phase() Phase { return m.phase }

// Run executes the migration. Preconditions fail before anything is
// created. Any later failure, cancellation included, drops the triggers and
// the shadow table before the precipitating error is returned.
func (m *Migration) Run(ctx context.Context) (*Report, error) {
	m.report.StartedAt = m.now()
	defer func() { m.report.Duration = m.now().Sub(m.report.StartedAt) }()

	m.log.Info("starting",
		zap.String("run_id", m.report.RunID),
		zap.String("table", m.opts.Database+"."+m.opts.Table),
		zap.String("ghost", m.opts.GhostTable()),
	)

	if m.opts.Cleanup {
		m.cleanupOnly(ctx)
		return m.report, nil
	}

	if err := m.prepareSession(ctx); err != nil {
		return m.fail(err)
	}
	if err := m.step(ctx, Validated, m.validate); err != nil {
		return m.fail(err)
	}
	if err := m.step(ctx, ShadowCreated, m.createShadow); err != nil {
		if errors.Is(err, ErrNameCollision) {
			return m.fail(err)
		}
		return m.abort(ctx, err)
	}

	for _, s := range []struct {
		phase Phase
		run   func(context.Context) error
	}{
		{ShadowAltered, m.alterShadow},
		{KeyChosen, m.chooseKey},
		{TriggersInstalled, m.installTriggers},
		{RangeSnapshotted, m.snapshot},
	} {
		if err := m.step(ctx, s.phase, s.run); err != nil {
			return m.abort(ctx, err)
		}
	}

	if err := m.enter(Copying); err != nil {
		return m.abort(ctx, err)
	}
	eng := m.newEngine()
	stats, err := eng.Run(ctx, copier.PassCopy, m.rng)
	m.report.Copy = stats
	if err != nil {
		return m.abort(ctx, err)
	}

	if err := m.enter(Reconciling); err != nil {
		return m.abort(ctx, err)
	}
	if err := m.reconcile(ctx, eng); err != nil {
		return m.abort(ctx, err)
	}

	if m.opts.CustomGhost() {
		m.report.TriggersKept = true
		m.log.Info("shadow table is in sync; triggers stay in place and no swap is done",
			zap.String("ghost", m.opts.GhostTable()))
		if err := m.enter(Done); err != nil {
			return m.fail(err)
		}
		return m.report, nil
	}

	if m.opts.VerifyRowCount {
		if err := m.verify(ctx); err != nil {
			return m.abort(ctx, err)
		}
	}
	if err := m.step(ctx, Renamed, m.rename); err != nil {
		return m.abort(ctx, err)
	}

	m.finish(context.WithoutCancel(ctx))
	if err := m.enter(Done); err != nil {
		return m.fail(err)
	}
	m.log.Info("alter table completed",
		zap.String("table", m.opts.Table),
		zap.Int64("rows_copied", m.report.Copy.Rows),
	)
	return m.report, nil
}

// step runs fn unless ctx is already done, then enters phase.
func (m *Migration) step(ctx context.Context, phase Phase, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("interrupted before %s: %w", phase, err)
	}
	if err := fn(ctx); err != nil {
		return err
	}
	return m.enter(phase)
}

func (m *Migration) enter(p Phase) error {
	if !canTransition(m.phase, p) {
		return fmt.Errorf("illegal phase transition %s -> %s", m.phase, p)
	}
	m.log.Debug("phase", zap.Stringer("from", m.phase), zap.Stringer("to", p))
	m.phase = p
	m.report.Phase = p
	m.report.Phases = append(m.report.Phases, p)
	m.rec.PhaseEntered(p.String())
	return nil
}

// fail records err without touching the server.
func (m *Migration) fail(err error) (*Report, error) {
	if !m.phase.Terminal() {
		_ = m.enter(Failed)
	}
	m.report.Error = err.Error()
	return m.report, err
}

// abort undoes everything the run created, then fails with err. Cleanup
// problems are logged and reported but never replace err.
func (m *Migration) abort(ctx context.Context, err error) (*Report, error) {
	m.log.Error("migration failed, cleaning up", zap.Stringer("phase", m.phase), zap.Error(err))
	cctx := context.WithoutCancel(ctx)

	var errs error
	if m.locked {
		errs = multierr.Append(errs, m.unlock(cctx))
	}
	errs = multierr.Append(errs, m.triggers.Drop(cctx, m.opts.Table))
	if !m.opts.CustomGhost() {
		errs = multierr.Append(errs, m.dropTable(cctx, m.opts.GhostTable()))
		errs = multierr.Append(errs, m.dropTable(cctx, m.opts.ArchiveTable()))
	}
	for _, e := range multierr.Errors(errs) {
		m.log.Warn("cleanup step failed", zap.Error(e))
		m.report.Cleanup = append(m.report.Cleanup, e.Error())
	}
	return m.fail(err)
}

func (m *Migration) prepareSession(ctx context.Context) error {
	if m.opts.SkipBinlog {
		if err := m.sess.SetSessionVariable(ctx, "sql_log_bin", 0); err != nil {
			return err
		}
		m.log.Info("binary logging disabled for this session")
	}
	if m.opts.LockWaitTimeout > 0 {
		secs := int(m.opts.LockWaitTimeout.Round(time.Second) / time.Second)
		if secs < 1 {
			secs = 1
		}
		if err := m.sess.SetSessionVariable(ctx, "lock_wait_timeout", secs); err != nil {
			return err
		}
	}
	return nil
}

func (m *Migration) validate(ctx context.Context) error {
	db, table := m.opts.Database, m.opts.Table

	a, err := parser.ParseAlter(m.opts.Alter)
	if err != nil {
		// The server has the final word on syntax when the ALTER runs.
		m.report.warn(fmt.Sprintf("alteration not inspected: %v", err))
		a = &parser.Alteration{Fragment: parser.Normalize(m.opts.Alter)}
	} else {
		if err := a.Check(); err != nil {
			return fmt.Errorf("%w: %v", ErrUnsafeSchema, err)
		}
		for _, w := range a.Warnings() {
			m.report.warn(w)
		}
	}
	m.alteration = a

	exists, err := mysql.TableExists(ctx, m.sess, db, table)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: table %s.%s does not exist", ErrUnsafeSchema, db, table)
	}

	engine, err := mysql.TableEngine(ctx, m.sess, db, table)
	if err != nil {
		if errors.Is(err, mysql.ErrTableNotFound) {
			return fmt.Errorf("%w: %v", ErrUnsafeSchema, err)
		}
		return err
	}
	if engine == "" {
		return fmt.Errorf("%w: %s.%s has no storage engine (is it a view?)", ErrUnsafeSchema, db, table)
	}
	m.engine = engine
	m.report.Engine = string(engine)

	leftover, err := m.triggers.Installed(ctx, table)
	if err != nil {
		return err
	}
	if len(leftover) > 0 {
		return fmt.Errorf("%w: triggers %v from an earlier run exist, run with --cleanup first", ErrNameCollision, leftover)
	}

	hasTriggers, err := mysql.HasAfterTriggers(ctx, m.sess, db, table)
	if err != nil {
		return err
	}
	if hasTriggers {
		return fmt.Errorf("%w: %s.%s has AFTER triggers", ErrUnsafeSchema, db, table)
	}

	hasFKs, err := mysql.HasForeignKeys(ctx, m.sess, db, table)
	if err != nil {
		return err
	}
	if hasFKs {
		return fmt.Errorf("%w: %s.%s is a parent or child in a foreign key", ErrUnsafeSchema, db, table)
	}

	// A forced key is checked against the shared columns once the shadow
	// table exists.
	if m.opts.ForcedKey == nil {
		keys, err := mysql.UniqueKeyCandidates(ctx, m.sess, db, table)
		if err != nil {
			return err
		}
		if len(keys) == 0 {
			return fmt.Errorf("%w: %s.%s: %w", ErrUnsafeSchema, db, table, chunk.ErrNoUsableKey)
		}
	}

	names := []string{m.opts.GhostTable()}
	if !m.opts.CustomGhost() {
		names = append(names, m.opts.ArchiveTable())
	}
	for _, name := range names {
		taken, err := mysql.TableExists(ctx, m.sess, db, name)
		if err != nil {
			return err
		}
		if taken {
			return fmt.Errorf("%w: %s.%s already exists, drop it or run with --cleanup", ErrNameCollision, db, name)
		}
	}
	return nil
}

func (m *Migration) createShadow(ctx context.Context) error {
	stmt := fmt.Sprintf("CREATE TABLE %s LIKE %s", m.qualified(m.opts.GhostTable()), m.qualified(m.opts.Table))
	if _, err := m.sess.Exec(context.WithoutCancel(ctx), stmt); err != nil {
		if mysql.ErrorCode(err) == mysql.ErrCodeTableExists {
			return fmt.Errorf("%w: %s: %v", ErrNameCollision, m.opts.GhostTable(), err)
		}
		return fmt.Errorf("creating shadow table: %w", err)
	}
	m.log.Info("shadow table created", zap.String("ghost", m.opts.GhostTable()))
	return nil
}

func (m *Migration) alterShadow(ctx context.Context) error {
	if m.alteration == nil || m.alteration.Empty() {
		m.log.Info("no alteration given, the shadow table is a plain copy")
		return nil
	}
	stmt := fmt.Sprintf("ALTER TABLE %s %s", m.qualified(m.opts.GhostTable()), m.alteration.Fragment)
	if _, err := m.sess.Exec(context.WithoutCancel(ctx), stmt); err != nil {
		return fmt.Errorf("altering shadow table: %w", err)
	}
	m.log.Info("shadow table altered", zap.String("alter", m.alteration.Fragment))
	return nil
}

func (m *Migration) chooseKey(ctx context.Context) error {
	sctx := context.WithoutCancel(ctx)
	db := m.opts.Database

	srcCols, err := mysql.Columns(sctx, m.sess, db, m.opts.Table)
	if err != nil {
		return err
	}
	ghostCols, err := mysql.Columns(sctx, m.sess, db, m.opts.GhostTable())
	if err != nil {
		return err
	}
	m.shared = srcCols.Intersect(ghostCols)
	if len(m.shared) == 0 {
		return fmt.Errorf("%w: the tables share no columns", ErrNoSharedKey)
	}

	key, err := chunk.ChooseKey(sctx, m.sess, db, m.opts.Table, m.opts.ForcedKey, m.shared)
	if err != nil {
		return err
	}
	m.key = key

	if m.opts.StartWith != "" {
		if m.startWith, err = chunk.ParseTuple(key, m.opts.StartWith); err != nil {
			return fmt.Errorf("start value: %w", err)
		}
	}
	if m.opts.EndWith != "" {
		if m.endWith, err = chunk.ParseTuple(key, m.opts.EndWith); err != nil {
			return fmt.Errorf("end value: %w", err)
		}
	}

	m.planner = chunk.NewPlanner(m.sess, db, m.opts.Table, key, m.opts.ChunkSize, m.log.Named("planner"))
	m.report.Key = key.String()
	m.report.SharedColumns = []string(m.shared)
	m.log.Info("chunk key chosen", zap.String("key", key.String()), zap.Int("shared_columns", len(m.shared)))
	return nil
}

func (m *Migration) installTriggers(ctx context.Context) error {
	return m.triggers.Install(context.WithoutCancel(ctx), m.opts.Table, m.opts.GhostTable(), m.key.ColumnNames(), m.shared)
}

// snapshot captures the key range while both tables are write locked, so no
// write can land between the triggers going live and the range being read.
func (m *Migration) snapshot(ctx context.Context) (err error) {
	if err := m.lockBoth(ctx); err != nil {
		return err
	}
	sctx := context.WithoutCancel(ctx)
	defer func() {
		if uerr := m.unlock(sctx); uerr != nil && err == nil {
			err = uerr
		}
	}()

	m.rng, err = m.planner.Snapshot(sctx, m.startWith, m.endWith)
	if err != nil {
		return err
	}
	m.report.Empty = !m.rng.Exists
	if m.rng.Exists {
		m.report.RangeMin = m.rng.Min.String()
		m.report.RangeMax = m.rng.Max.String()
	}
	return nil
}

func (m *Migration) lockBoth(ctx context.Context) error {
	stmt := fmt.Sprintf("LOCK TABLES %s WRITE, %s WRITE", m.qualified(m.opts.Table), m.qualified(m.opts.GhostTable()))
	sctx := context.WithoutCancel(ctx)

	attempts, err := m.retryLocked(ctx, "table lock", func() error {
		_, err := m.sess.Exec(sctx, stmt)
		m.rec.LockAttempt(err == nil)
		return err
	})
	m.report.LockAttempts += attempts
	if err != nil {
		if mysql.IsLockError(err) {
			return fmt.Errorf("%w after %d attempt(s): %v", ErrLockAcquisition, attempts, err)
		}
		return fmt.Errorf("locking tables: %w", err)
	}
	m.locked = true
	m.log.Debug("tables locked", zap.Int("attempts", attempts))
	return nil
}

// retryLocked runs exec until it succeeds, fails with an error other than a
// lock wait timeout or deadlock, or MaxLockRetries is used up. It returns
// the number of attempts.
func (m *Migration) retryLocked(ctx context.Context, what string, exec func() error) (int, error) {
	attempts := 0
	op := func() error {
		attempts++
		err := exec()
		if err == nil || mysql.IsLockError(err) {
			return err
		}
		return backoff.Permanent(err)
	}
	notify := func(err error, wait time.Duration) {
		m.log.Debug(what+" blocked, retrying", zap.Int("attempt", attempts), zap.Error(err))
	}

	var b backoff.BackOff = backoff.NewConstantBackOff(m.lockInterval)
	if m.opts.MaxLockRetries >= 0 {
		b = backoff.WithMaxRetries(b, uint64(m.opts.MaxLockRetries))
	}
	err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify)
	return attempts, err
}

func (m *Migration) unlock(ctx context.Context) error {
	if _, err := m.sess.Exec(ctx, "UNLOCK TABLES"); err != nil {
		return fmt.Errorf("unlocking tables: %w", err)
	}
	m.locked = false
	return nil
}

func (m *Migration) newEngine() *copier.Engine {
	return copier.New(m.sess, m.planner, copier.Options{
		Database:                  m.opts.Database,
		Source:                    m.opts.Table,
		Ghost:                     m.opts.GhostTable(),
		Shared:                    m.shared,
		ShareLock:                 m.engine.SupportsShareLock(),
		LockChunks:                m.opts.LockChunks,
		SleepMillis:               m.opts.SleepMillis,
		SleepRatio:                m.opts.SleepRatio,
		MaxRetries:                m.opts.MaxChunkRetries,
		TerminateOnNoRowsAffected: m.opts.TerminateOnNotFound,
	}, m.log.Named("copier"), m.rec)
}

func (m *Migration) reconcile(ctx context.Context, eng *copier.Engine) error {
	if m.opts.SkipDeletePass {
		m.log.Info("delete pass skipped")
		return nil
	}
	stats, err := eng.Run(ctx, copier.PassDelete, m.rng)
	m.report.Delete = &stats
	return err
}

// verify compares row counts with both tables write locked.
func (m *Migration) verify(ctx context.Context) (err error) {
	if err := m.lockBoth(ctx); err != nil {
		return err
	}
	sctx := context.WithoutCancel(ctx)
	defer func() {
		if uerr := m.unlock(sctx); uerr != nil && err == nil {
			err = uerr
		}
	}()

	var src, ghost int64
	if err := m.sess.QueryRowContext(sctx, "SELECT COUNT(*) FROM "+m.qualified(m.opts.Table)).Scan(&src); err != nil {
		return fmt.Errorf("counting source rows: %w", err)
	}
	if err := m.sess.QueryRowContext(sctx, "SELECT COUNT(*) FROM "+m.qualified(m.opts.GhostTable())).Scan(&ghost); err != nil {
		return fmt.Errorf("counting shadow rows: %w", err)
	}
	if src != ghost {
		return fmt.Errorf("%w: %s has %d rows, %s has %d", ErrReconciliationMismatch, m.opts.Table, src, m.opts.GhostTable(), ghost)
	}
	m.report.VerifiedRows = &src
	m.log.Info("row counts match", zap.Int64("rows", src))
	return nil
}

// rename swaps the tables. RENAME waits on metadata locks held by open
// transactions on the source, so lock timeouts are retried like LOCK TABLES.
func (m *Migration) rename(ctx context.Context) error {
	stmt := fmt.Sprintf("RENAME TABLE %s TO %s, %s TO %s",
		m.qualified(m.opts.Table), m.qualified(m.opts.ArchiveTable()),
		m.qualified(m.opts.GhostTable()), m.qualified(m.opts.Table))
	sctx := context.WithoutCancel(ctx)

	attempts, err := m.retryLocked(ctx, "rename", func() error {
		_, err := m.sess.Exec(sctx, stmt)
		return err
	})
	m.report.RenameAttempts = attempts
	if err != nil {
		return fmt.Errorf("swapping tables after %d attempt(s): %w", attempts, err)
	}
	m.report.Swapped = true
	m.log.Info("tables swapped", zap.String("archive", m.opts.ArchiveTable()), zap.Int("attempts", attempts))
	return nil
}

// finish removes what the swap left behind. The new table is live at this
// point, so problems are only reported.
func (m *Migration) finish(ctx context.Context) {
	if err := m.triggers.Drop(ctx, m.opts.Table); err != nil {
		m.log.Warn("dropping triggers after swap", zap.Error(err))
		m.report.warn(fmt.Sprintf("capture triggers were not removed: %v", err))
	}
	if m.opts.KeepArchive {
		m.report.ArchiveKept = true
		return
	}
	if err := m.dropTable(ctx, m.opts.ArchiveTable()); err != nil {
		m.log.Warn("dropping archive table", zap.Error(err))
		m.report.warn(fmt.Sprintf("archive table %s was not dropped: %v", m.opts.ArchiveTable(), err))
	}
}

// cleanupOnly removes whatever an earlier run may have left behind. Every
// step is attempted whatever the outcome of the previous one.
func (m *Migration) cleanupOnly(ctx context.Context) {
	_ = m.enter(CleanupOnly)
	m.report.CleanupOnly = true
	cctx := context.WithoutCancel(ctx)

	record := func(action string, err error) {
		if err != nil {
			m.log.Warn("cleanup step failed", zap.String("step", action), zap.Error(err))
			m.report.Cleanup = append(m.report.Cleanup, action+": "+err.Error())
			return
		}
		m.log.Info("cleanup step done", zap.String("step", action))
		m.report.Cleanup = append(m.report.Cleanup, action)
	}

	record("unlock tables", m.unlock(cctx))
	record("drop capture triggers", m.triggers.Drop(cctx, m.opts.Table))
	if !m.opts.CustomGhost() {
		record("drop table "+m.opts.GhostTable(), m.dropTable(cctx, m.opts.GhostTable()))
	}
	record("drop table "+m.opts.ArchiveTable(), m.dropTable(cctx, m.opts.ArchiveTable()))
}

func (m *Migration) dropTable(ctx context.Context, name string) error {
	if _, err := m.sess.Exec(ctx, "DROP TABLE IF EXISTS "+m.qualified(name)); err != nil {
		return fmt.Errorf("dropping %s: %w", name, err)
	}
	return nil
}

func (m *Migration) qualified(table string) string {
	return mysql.QualifiedName(m.opts.Database, table)
}
