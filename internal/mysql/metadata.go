package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
)

// ErrTableNotFound is returned when a table is absent from the catalog.
var ErrTableNotFound = errors.New("table not found")

// IntrospectionError reports a failed catalog query. Intent names what was
// being looked up, not the SQL text.
type IntrospectionError struct {
	Intent string
	Err    error
}

func (e *IntrospectionError) Error() string {
	return fmt.Sprintf("introspection failed (%s): %v", e.Intent, e.Err)
}

func (e *IntrospectionError) Unwrap() error { return e.Err }

func introspectionErr(intent string, err error) error {
	return &IntrospectionError{Intent: intent, Err: err}
}

// Engine is a storage engine name as reported by information_schema.
type Engine string

// SupportsShareLock reports whether the engine has MVCC row locks, so reads
// can use LOCK IN SHARE MODE instead of table locks.
func (e Engine) SupportsShareLock() bool {
	switch strings.ToLower(string(e)) {
	case "innodb", "tokudb", "rocksdb":
		return true
	}
	return false
}

// TableMetadata holds the catalog facts shown in the migration report.
type TableMetadata struct {
	Database    string
	Table       string
	Engine      string
	RowCount    int64 // TABLE_ROWS estimate
	DataLength  int64 // bytes
	IndexLength int64 // bytes
}

// TotalSize returns data + index size in bytes.
func (m *TableMetadata) TotalSize() int64 {
	return m.DataLength + m.IndexLength
}

// TotalSizeHuman returns a human-readable size string.
func (m *TableMetadata) TotalSizeHuman() string {
	return humanize.IBytes(uint64(m.TotalSize()))
}

// ColumnInfo describes a single column in a table.
type ColumnInfo struct {
	Name         string
	Type         string // full COLUMN_TYPE, e.g. "int unsigned"
	DataType     string // DATA_TYPE, e.g. "int"
	Nullable     bool
	Default      *string
	Position     int
	CharacterSet *string
	Collation    *string
	Extra        string
}

// Generated reports whether the column is a VIRTUAL or STORED generated column.
func (c ColumnInfo) Generated() bool {
	return strings.Contains(strings.ToUpper(c.Extra), "GENERATED")
}

// ColumnSet is an ordered list of column names compared case-insensitively.
type ColumnSet []string

// Contains reports whether name is in the set.
func (s ColumnSet) Contains(name string) bool {
	for _, c := range s {
		if strings.EqualFold(c, name) {
			return true
		}
	}
	return false
}

// Intersect returns the columns of s that are also in other, in s order.
func (s ColumnSet) Intersect(other ColumnSet) ColumnSet {
	var out ColumnSet
	for _, c := range s {
		if other.Contains(c) {
			out = append(out, c)
		}
	}
	return out
}

// UniqueKey is a unique index whose columns are all NOT NULL.
type UniqueKey struct {
	Name    string
	Columns []KeyColumnInfo
}

// KeyColumnInfo is one column of a unique key.
type KeyColumnInfo struct {
	Name         string
	DataType     string
	ColumnType   string
	CharacterSet string
}

// ColumnNames returns the key's column names in index order.
func (k UniqueKey) ColumnNames() []string {
	names := make([]string, len(k.Columns))
	for i, c := range k.Columns {
		names[i] = c.Name
	}
	return names
}

// EscapeIdentifier wraps a MySQL identifier in backticks, doubling any
// backticks inside it.
func EscapeIdentifier(identifier string) string {
	return "`" + strings.ReplaceAll(identifier, "`", "``") + "`"
}

// QualifiedName returns `database`.`table`.
func QualifiedName(database, table string) string {
	if database == "" {
		return EscapeIdentifier(table)
	}
	return EscapeIdentifier(database) + "." + EscapeIdentifier(table)
}

// TableExists reports whether database.table exists (base table or view).
func TableExists(ctx context.Context, q Querier, database, table string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM information_schema.TABLES
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
	`, database, table).Scan(&n)
	if err != nil {
		return false, introspectionErr("table existence", err)
	}
	return n > 0, nil
}

// TableEngine returns the storage engine of database.table.
func TableEngine(ctx context.Context, q Querier, database, table string) (Engine, error) {
	var engine sql.NullString
	err := q.QueryRowContext(ctx, `
		SELECT ENGINE
		FROM information_schema.TABLES
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
	`, database, table).Scan(&engine)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%s.%s: %w", database, table, ErrTableNotFound)
	}
	if err != nil {
		return "", introspectionErr("table engine", err)
	}
	return Engine(engine.String), nil
}

// Columns returns the insertable columns of a table in ordinal order.
// Generated columns are left out since they cannot be written.
func Columns(ctx context.Context, q Querier, database, table string) (ColumnSet, error) {
	cols, err := getColumns(ctx, q, database, table)
	if err != nil {
		return nil, introspectionErr("columns", err)
	}
	var set ColumnSet
	for _, c := range cols {
		if c.Generated() {
			continue
		}
		set = append(set, c.Name)
	}
	return set, nil
}

// UniqueKeyCandidates returns the table's usable unique keys, best first:
// PRIMARY, then keys leading with a non-text column, then narrower integer
// types, then fewer columns. Keys with nullable or expression parts are
// skipped because they do not identify rows.
func UniqueKeyCandidates(ctx context.Context, q Querier, database, table string) ([]UniqueKey, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT
			s.INDEX_NAME,
			IFNULL(s.COLUMN_NAME, ''),
			IFNULL(c.DATA_TYPE, ''),
			IFNULL(c.COLUMN_TYPE, ''),
			IFNULL(c.CHARACTER_SET_NAME, ''),
			IFNULL(c.IS_NULLABLE, 'YES')
		FROM information_schema.STATISTICS s
		LEFT JOIN information_schema.COLUMNS c
			ON c.TABLE_SCHEMA = s.TABLE_SCHEMA
			AND c.TABLE_NAME = s.TABLE_NAME
			AND c.COLUMN_NAME = s.COLUMN_NAME
		WHERE s.TABLE_SCHEMA = ? AND s.TABLE_NAME = ? AND s.NON_UNIQUE = 0
		ORDER BY s.INDEX_NAME, s.SEQ_IN_INDEX
	`, database, table)
	if err != nil {
		return nil, introspectionErr("unique keys", err)
	}
	defer rows.Close()

	keys := make(map[string]*UniqueKey)
	unusable := make(map[string]bool)
	var order []string

	for rows.Next() {
		var name, col, dataType, colType, charset, nullable string
		if err := rows.Scan(&name, &col, &dataType, &colType, &charset, &nullable); err != nil {
			return nil, introspectionErr("unique keys", err)
		}
		if _, ok := keys[name]; !ok {
			keys[name] = &UniqueKey{Name: name}
			order = append(order, name)
		}
		if col == "" || nullable == "YES" {
			unusable[name] = true
			continue
		}
		keys[name].Columns = append(keys[name].Columns, KeyColumnInfo{
			Name:         col,
			DataType:     strings.ToLower(dataType),
			ColumnType:   strings.ToLower(colType),
			CharacterSet: charset,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, introspectionErr("unique keys", err)
	}

	var result []UniqueKey
	for _, name := range order {
		if unusable[name] || len(keys[name].Columns) == 0 {
			continue
		}
		result = append(result, *keys[name])
	}
	sort.SliceStable(result, func(i, j int) bool {
		return lessKey(result[i], result[j])
	})
	return result, nil
}

func lessKey(a, b UniqueKey) bool {
	if ap, bp := a.Name == "PRIMARY", b.Name == "PRIMARY"; ap != bp {
		return ap
	}
	at, bt := a.Columns[0].CharacterSet != "", b.Columns[0].CharacterSet != ""
	if at != bt {
		return !at
	}
	if aw, bw := integerRank(a.Columns[0].DataType), integerRank(b.Columns[0].DataType); aw != bw {
		return aw < bw
	}
	if len(a.Columns) != len(b.Columns) {
		return len(a.Columns) < len(b.Columns)
	}
	return a.Name < b.Name
}

func integerRank(dataType string) int {
	switch dataType {
	case "tinyint":
		return 0
	case "smallint":
		return 1
	case "mediumint":
		return 2
	case "int", "integer":
		return 3
	case "bigint":
		return 4
	}
	return 100
}

// HasAfterTriggers reports whether the table already has an AFTER trigger.
func HasAfterTriggers(ctx context.Context, q Querier, database, table string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM information_schema.TRIGGERS
		WHERE EVENT_OBJECT_SCHEMA = ? AND EVENT_OBJECT_TABLE = ?
			AND ACTION_TIMING = 'AFTER'
	`, database, table).Scan(&n)
	if err != nil {
		return false, introspectionErr("after triggers", err)
	}
	return n > 0, nil
}

// HasForeignKeys reports whether the table is the child or the parent of any
// foreign key.
func HasForeignKeys(ctx context.Context, q Querier, database, table string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM information_schema.KEY_COLUMN_USAGE
		WHERE REFERENCED_TABLE_NAME IS NOT NULL
			AND ((TABLE_SCHEMA = ? AND TABLE_NAME = ?)
				OR (REFERENCED_TABLE_SCHEMA = ? AND REFERENCED_TABLE_NAME = ?))
	`, database, table, database, table).Scan(&n)
	if err != nil {
		return false, introspectionErr("foreign keys", err)
	}
	return n > 0, nil
}

// TriggerExists reports whether a trigger with that name exists in database.
func TriggerExists(ctx context.Context, q Querier, database, name string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM information_schema.TRIGGERS
		WHERE TRIGGER_SCHEMA = ? AND TRIGGER_NAME = ?
	`, database, name).Scan(&n)
	if err != nil {
		return false, introspectionErr("trigger existence", err)
	}
	return n > 0, nil
}

// GetTableMetadata reads the size estimates of a table for reporting.
func GetTableMetadata(ctx context.Context, q Querier, database, table string) (*TableMetadata, error) {
	meta := &TableMetadata{
		Database: database,
		Table:    table,
	}

	var engine sql.NullString
	err := q.QueryRowContext(ctx, `
		SELECT
			ENGINE,
			IFNULL(TABLE_ROWS, 0),
			IFNULL(DATA_LENGTH, 0),
			IFNULL(INDEX_LENGTH, 0)
		FROM information_schema.TABLES
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
	`, database, table).Scan(&engine, &meta.RowCount, &meta.DataLength, &meta.IndexLength)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s.%s: %w", database, table, ErrTableNotFound)
		}
		return nil, introspectionErr("table status", err)
	}
	meta.Engine = engine.String
	return meta, nil
}

func getColumns(ctx context.Context, q Querier, database, table string) ([]ColumnInfo, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT
			COLUMN_NAME,
			COLUMN_TYPE,
			DATA_TYPE,
			IS_NULLABLE,
			COLUMN_DEFAULT,
			ORDINAL_POSITION,
			CHARACTER_SET_NAME,
			COLLATION_NAME,
			EXTRA
		FROM information_schema.COLUMNS
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
		ORDER BY ORDINAL_POSITION
	`, database, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []ColumnInfo
	for rows.Next() {
		var c ColumnInfo
		var nullable string
		var defaultVal, charSet, collation, extra sql.NullString

		if err := rows.Scan(&c.Name, &c.Type, &c.DataType, &nullable, &defaultVal, &c.Position, &charSet, &collation, &extra); err != nil {
			return nil, err
		}

		c.Nullable = nullable == "YES"
		c.Extra = extra.String
		if defaultVal.Valid {
			c.Default = &defaultVal.String
		}
		if charSet.Valid {
			c.CharacterSet = &charSet.String
		}
		if collation.Valid {
			c.Collation = &collation.String
		}

		result = append(result, c)
	}
	return result, rows.Err()
}
