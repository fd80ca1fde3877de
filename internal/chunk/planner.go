package chunk

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/nethalo/dbalter/internal/mysql"
)

// Range is the key space captured before the copy starts. Exists is false
// for an empty table.
type Range struct {
	Min    Tuple
	Max    Tuple
	Exists bool
}

// Planner computes the key range of a table and its chunk boundaries.
type Planner struct {
	ex        mysql.Executor
	database  string
	table     string
	key       Key
	chunkSize int
	log       *zap.Logger
}

// NewPlanner returns a planner for database.table chunked on key.
func NewPlanner(ex mysql.Executor, database, table string, key Key, chunkSize int, log *zap.Logger) *Planner {
	if chunkSize < 1 {
		chunkSize = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Planner{
		ex:        ex,
		database:  database,
		table:     table,
		key:       key,
		chunkSize: chunkSize,
		log:       log,
	}
}

// Key returns the chunk key the planner walks.
func (p *Planner) Key() Key { return p.key }

// ChunkSize returns the configured number of rows per chunk.
func (p *Planner) ChunkSize() int { return p.chunkSize }

// Snapshot reads the key range. MIN and MAX are taken per column, so for a
// composite key the bounds enclose the real first and last tuples without
// necessarily being rows themselves. Non-nil overrides replace the computed
// bound.
func (p *Planner) Snapshot(ctx context.Context, startOverride, endOverride Tuple) (Range, error) {
	tbl := mysql.QualifiedName(p.database, p.table)

	row, found, err := p.ex.QueryRow(ctx, fmt.Sprintf("SELECT COUNT(*) FROM (SELECT NULL FROM %s LIMIT 1) AS probe", tbl))
	if err != nil {
		return Range{}, &mysql.IntrospectionError{Intent: "probing for rows in " + p.table, Err: err}
	}
	if !found || len(row) == 0 {
		return Range{}, nil
	}
	n, err := toInteger(row[0])
	if err != nil {
		return Range{}, fmt.Errorf("probing for rows in %s: %w", p.table, err)
	}
	if n == int64(0) {
		p.log.Debug("table is empty", zap.String("table", p.table))
		return Range{}, nil
	}

	cols := p.key.ColumnNames()
	exprs := make([]string, 0, 2*len(cols))
	for _, c := range cols {
		exprs = append(exprs, "MIN("+mysql.EscapeIdentifier(c)+")")
	}
	for _, c := range cols {
		exprs = append(exprs, "MAX("+mysql.EscapeIdentifier(c)+")")
	}

	row, found, err = p.ex.QueryRow(ctx, fmt.Sprintf("SELECT %s FROM %s", strings.Join(exprs, ", "), tbl))
	if err != nil {
		return Range{}, &mysql.IntrospectionError{Intent: "reading key range of " + p.table, Err: err}
	}
	if !found || len(row) != 2*len(cols) {
		return Range{}, fmt.Errorf("reading key range of %s: unexpected result", p.table)
	}

	rng := Range{Exists: true}
	if rng.Min, err = normalizeRow(p.key, row[:len(cols)]); err != nil {
		return Range{}, err
	}
	if rng.Max, err = normalizeRow(p.key, row[len(cols):]); err != nil {
		return Range{}, err
	}
	if startOverride != nil {
		rng.Min = startOverride
	}
	if endOverride != nil {
		rng.Max = endOverride
	}

	p.log.Debug("key range captured",
		zap.String("key", p.key.String()),
		zap.Stringer("min", rng.Min),
		zap.Stringer("max", rng.Max),
	)
	return rng, nil
}

// NextBoundary returns the key tuple closing the chunk that begins at start.
// The first chunk includes start, so it ends on the chunkSize-th row from
// start. Later chunks exclude start, which is still the first row scanned,
// so they end on the chunkSize+1-th. found is false when no row is left.
func (p *Planner) NextBoundary(ctx context.Context, rng Range, start Tuple, first bool) (Tuple, bool, error) {
	cols := p.key.ColumnNames()
	colList := ColumnList(cols)

	lower, args := Compare(cols, ">=", start)
	upper, upperArgs := Compare(cols, "<=", rng.Max)
	args = append(args, upperArgs...)

	limit := p.chunkSize
	if !first {
		limit++
	}
	args = append(args, limit)

	query := fmt.Sprintf(
		"SELECT %s FROM (SELECT %s FROM %s%s WHERE %s AND %s ORDER BY %s LIMIT ?) AS boundary ORDER BY %s LIMIT 1",
		colList, colList, mysql.QualifiedName(p.database, p.table), p.ForceIndex(),
		lower, upper, orderBy(cols, false), orderBy(cols, true),
	)

	row, found, err := p.ex.QueryRow(ctx, query, args...)
	if err != nil {
		return nil, false, fmt.Errorf("computing chunk boundary after %s: %w", start, err)
	}
	if !found {
		return nil, false, nil
	}
	end, err := normalizeRow(p.key, row)
	if err != nil {
		return nil, false, err
	}
	return end, true, nil
}

// ForceIndex returns the FORCE INDEX hint for the key, or "" for a forced
// column list that names no index.
func (p *Planner) ForceIndex() string {
	if p.key.IndexName == "" {
		return ""
	}
	return " FORCE INDEX (" + mysql.EscapeIdentifier(p.key.IndexName) + ")"
}

// Iterate returns an iterator over the chunks of rng.
func (p *Planner) Iterate(rng Range) *Iterator {
	return newIterator(p, rng)
}
