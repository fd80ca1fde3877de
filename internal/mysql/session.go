package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
)

// Querier is satisfied by *sql.DB, *sql.Conn, *sql.Tx and *Session.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Executor is the statement surface the migration components run against.
type Executor interface {
	Querier
	Exec(ctx context.Context, query string, args ...any) (int64, error)
	QueryRow(ctx context.Context, query string, args ...any) (Row, bool, error)
	QueryRows(ctx context.Context, query string, args ...any) ([]Row, error)
}

// Row is one result row as returned by the driver.
type Row []any

var reVariableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Session is a single server connection taken out of the pool. LOCK TABLES,
// session variables and user variables live on the server session, so every
// statement of one migration runs through the same Session.
type Session struct {
	conn *sql.Conn
}

// NewSession pins a connection from db.
func NewSession(ctx context.Context, db *sql.DB) (*Session, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring session: %w", err)
	}
	return &Session{conn: conn}, nil
}

// Exec runs a statement in autocommit mode and returns the affected row count.
func (s *Session) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := s.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading affected rows: %w", err)
	}
	return n, nil
}

// QueryRow returns the first row of a query. found is false when the query
// returned no rows.
func (s *Session) QueryRow(ctx context.Context, query string, args ...any) (Row, bool, error) {
	rows, err := s.QueryRows(ctx, query, args...)
	if err != nil {
		return nil, false, err
	}
	if len(rows) == 0 {
		return nil, false, nil
	}
	return rows[0], true, nil
}

// QueryRows returns every row of a query.
func (s *Session) QueryRows(ctx context.Context, query string, args ...any) ([]Row, error) {
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var result []Row
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		result = append(result, Row(values))
	}
	return result, rows.Err()
}

// QueryContext exposes the pinned connection to the introspection helpers.
func (s *Session) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.conn.QueryContext(ctx, query, args...)
}

// QueryRowContext exposes the pinned connection to the introspection helpers.
func (s *Session) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return s.conn.QueryRowContext(ctx, query, args...)
}

// SetSessionVariable runs SET SESSION name = value with value bound as a parameter.
func (s *Session) SetSessionVariable(ctx context.Context, name string, value any) error {
	if !reVariableName.MatchString(name) {
		return fmt.Errorf("invalid session variable name %q", name)
	}
	if _, err := s.conn.ExecContext(ctx, fmt.Sprintf("SET SESSION %s = ?", name), value); err != nil {
		return fmt.Errorf("setting session %s: %w", name, err)
	}
	return nil
}

// GetSessionVariable reads @@SESSION.name. NULL reads as "".
func (s *Session) GetSessionVariable(ctx context.Context, name string) (string, error) {
	if !reVariableName.MatchString(name) {
		return "", fmt.Errorf("invalid session variable name %q", name)
	}
	var v sql.NullString
	if err := s.conn.QueryRowContext(ctx, fmt.Sprintf("SELECT @@SESSION.%s", name)).Scan(&v); err != nil {
		return "", fmt.Errorf("reading session %s: %w", name, err)
	}
	return v.String, nil
}

// Close returns the connection to the pool. Table locks held by the session
// are released by the server when the connection is reset or closed.
func (s *Session) Close() error {
	return s.conn.Close()
}
