// Package trigger installs the row level triggers that mirror writes on a
// table into its shadow copy while the copy is running.
package trigger

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/nethalo/dbalter/internal/mysql"
)

// MaxNameLength is the server's identifier length limit.
const MaxNameLength = 64

// Event is the DML event a trigger fires on.
type Event string

const (
	Insert Event = "INSERT"
	Update Event = "UPDATE"
	Delete Event = "DELETE"
)

// Events lists the captured events in installation order.
var Events = []Event{Delete, Update, Insert}

// Name returns the trigger name for table and event, e.g. orders_AU_oak.
func Name(table string, ev Event) string {
	return fmt.Sprintf("%s_A%c_oak", table, ev[0])
}

// Names returns the three trigger names of table.
func Names(table string) []string {
	names := make([]string, len(Events))
	for i, ev := range Events {
		names[i] = Name(table, ev)
	}
	return names
}

// Manager creates and drops capture triggers inside one database.
type Manager struct {
	ex       mysql.Executor
	database string
	log      *zap.Logger
}

// NewManager returns a Manager running its statements through ex.
func NewManager(ex mysql.Executor, database string, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{ex: ex, database: database, log: log}
}

// Install creates the AFTER DELETE, AFTER UPDATE and AFTER INSERT triggers on
// source. Rows are matched in ghost on every key column and written with the
// shared columns only. Triggers created before a failure are left for Drop.
func (m *Manager) Install(ctx context.Context, source, ghost string, key, shared []string) error {
	if len(key) == 0 {
		return fmt.Errorf("installing triggers on %s: empty key", source)
	}
	if len(shared) == 0 {
		return fmt.Errorf("installing triggers on %s: no shared columns", source)
	}
	for _, name := range Names(source) {
		if len(name) > MaxNameLength {
			return fmt.Errorf("trigger name %s is longer than %d characters", name, MaxNameLength)
		}
	}

	for _, ev := range Events {
		stmt := m.statement(ev, source, ghost, key, shared)
		if _, err := m.ex.Exec(ctx, stmt); err != nil {
			if mysql.ErrorCode(err) == mysql.ErrCodeTriggerExists {
				return fmt.Errorf("trigger %s already exists on %s: %w", Name(source, ev), source, err)
			}
			return fmt.Errorf("creating trigger %s: %w", Name(source, ev), err)
		}
		m.log.Debug("trigger created", zap.String("trigger", Name(source, ev)))
	}
	return nil
}

func (m *Manager) statement(ev Event, source, ghost string, key, shared []string) string {
	src := mysql.QualifiedName(m.database, source)
	dst := mysql.QualifiedName(m.database, ghost)
	head := fmt.Sprintf("CREATE TRIGGER %s AFTER %s ON %s FOR EACH ROW ",
		mysql.QualifiedName(m.database, Name(source, ev)), ev, src)

	deleteOld := fmt.Sprintf("DELETE FROM %s WHERE %s", dst, matchRow(dst, key, "OLD"))
	replaceNew := fmt.Sprintf("REPLACE INTO %s (%s) VALUES (%s)", dst, columnList(shared), rowValues(shared, "NEW"))

	switch ev {
	case Delete:
		return head + deleteOld
	case Update:
		// The key itself may change, so the old row goes first.
		return head + "BEGIN " + deleteOld + "; " + replaceNew + "; END"
	default:
		return head + replaceNew
	}
}

func matchRow(table string, key []string, row string) string {
	parts := make([]string, len(key))
	for i, c := range key {
		col := mysql.EscapeIdentifier(c)
		parts[i] = fmt.Sprintf("%s.%s <=> %s.%s", table, col, row, col)
	}
	return strings.Join(parts, " AND ")
}

func columnList(cols []string) string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = mysql.EscapeIdentifier(c)
	}
	return strings.Join(out, ", ")
}

func rowValues(cols []string, row string) string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = row + "." + mysql.EscapeIdentifier(c)
	}
	return strings.Join(out, ", ")
}

// Drop removes whichever capture triggers exist on source. Dropping triggers
// that are not there is not an error, so Drop can run any number of times.
func (m *Manager) Drop(ctx context.Context, source string) error {
	var errs error
	for _, name := range Names(source) {
		exists, err := m.Exists(ctx, name)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if !exists {
			continue
		}
		_, err = m.ex.Exec(ctx, "DROP TRIGGER IF EXISTS "+mysql.QualifiedName(m.database, name))
		if err != nil && mysql.ErrorCode(err) != mysql.ErrCodeTriggerNotExists {
			errs = multierr.Append(errs, fmt.Errorf("dropping trigger %s: %w", name, err))
			continue
		}
		m.log.Debug("trigger dropped", zap.String("trigger", name))
	}
	return errs
}

// Exists reports whether a trigger named name exists.
func (m *Manager) Exists(ctx context.Context, name string) (bool, error) {
	return mysql.TriggerExists(ctx, m.ex, m.database, name)
}

// Installed returns the capture triggers currently present on source.
func (m *Manager) Installed(ctx context.Context, source string) ([]string, error) {
	var found []string
	for _, name := range Names(source) {
		ok, err := m.Exists(ctx, name)
		if err != nil {
			return nil, err
		}
		if ok {
			found = append(found, name)
		}
	}
	return found, nil
}
