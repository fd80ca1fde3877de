package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	reAuroraVersion = regexp.MustCompile(`^(\d+)\.(\d+)\.mysql_aurora\.(\d+\.\d+\.\d+)`)
	reVersion       = regexp.MustCompile(`^(\d+)\.(\d+)\.(\d+)`)
)

// ServerVersion represents a parsed MySQL version.
type ServerVersion struct {
	Raw           string // e.g. "8.0.35-27-Percona XtraDB Cluster"
	Major         int
	Minor         int
	Patch         int
	Flavor        string // "mysql", "percona", "percona-xtradb-cluster", "mariadb", "aurora-mysql"
	AuroraVersion string
}

// String returns a human-readable version string.
func (v ServerVersion) String() string {
	if v.AuroraVersion != "" {
		return fmt.Sprintf("%d.%d (aurora-mysql %s)", v.Major, v.Minor, v.AuroraVersion)
	}
	return fmt.Sprintf("%d.%d.%d (%s)", v.Major, v.Minor, v.Patch, v.Flavor)
}

// AtLeast returns true if the server version is >= the given version.
func (v ServerVersion) AtLeast(major, minor, patch int) bool {
	if v.Major != major {
		return v.Major > major
	}
	if v.Minor != minor {
		return v.Minor > minor
	}
	return v.Patch >= patch
}

// ReplicaStatusStatement returns the replica status statement the server understands.
func (v ServerVersion) ReplicaStatusStatement() string {
	if v.Flavor != "mariadb" && v.AtLeast(8, 0, 22) {
		return "SHOW REPLICA STATUS"
	}
	return "SHOW SLAVE STATUS"
}

// GetServerVersion queries and parses the MySQL server version.
func GetServerVersion(ctx context.Context, q Querier) (ServerVersion, error) {
	var raw string
	if err := q.QueryRowContext(ctx, "SELECT VERSION()").Scan(&raw); err != nil {
		return ServerVersion{}, fmt.Errorf("querying version: %w", err)
	}
	return ParseVersion(raw)
}

// ParseVersion parses a MySQL version string.
func ParseVersion(raw string) (ServerVersion, error) {
	v := ServerVersion{Raw: raw}

	// Aurora versions carry no numeric patch, so they go first.
	if m := reAuroraVersion.FindStringSubmatch(raw); len(m) >= 4 {
		v.Major, _ = strconv.Atoi(m[1])
		v.Minor, _ = strconv.Atoi(m[2])
		v.Flavor = "aurora-mysql"
		v.AuroraVersion = m[3]
		return v, nil
	}

	matches := reVersion.FindStringSubmatch(raw)
	if len(matches) < 4 {
		return v, fmt.Errorf("could not parse version: %s", raw)
	}

	v.Major, _ = strconv.Atoi(matches[1])
	v.Minor, _ = strconv.Atoi(matches[2])
	v.Patch, _ = strconv.Atoi(matches[3])

	lower := strings.ToLower(raw)
	switch {
	case strings.Contains(lower, "percona xtradb cluster"):
		v.Flavor = "percona-xtradb-cluster"
	case strings.Contains(lower, "percona"):
		v.Flavor = "percona"
	case strings.Contains(lower, "mariadb"):
		v.Flavor = "mariadb"
	default:
		v.Flavor = "mysql"
	}

	return v, nil
}

func likePattern(name string) string {
	escaped := strings.ReplaceAll(name, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, "_", `\_`)
	return strings.ReplaceAll(escaped, "%", `\%`)
}

// GetVariable reads a single server variable, "" when it does not exist.
// Some variables (wsrep_*) only show up without the GLOBAL keyword.
func GetVariable(ctx context.Context, q Querier, name string) (string, error) {
	var varName, value sql.NullString
	pattern := likePattern(name)

	err := q.QueryRowContext(ctx, "SHOW GLOBAL VARIABLES LIKE ?", pattern).Scan(&varName, &value)
	if err == nil && value.Valid && value.String != "" {
		return value.String, nil
	}

	err = q.QueryRowContext(ctx, "SHOW VARIABLES LIKE ?", pattern).Scan(&varName, &value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("reading variable %s: %w", name, err)
	}
	return value.String, nil
}

// GetStatus reads a single global status variable.
func GetStatus(ctx context.Context, q Querier, name string) (string, error) {
	var varName, value string
	err := q.QueryRowContext(ctx, "SHOW GLOBAL STATUS LIKE ?", likePattern(name)).Scan(&varName, &value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("reading status %s: %w", name, err)
	}
	return value, nil
}

// GetVariableInt reads a server variable as int64.
func GetVariableInt(ctx context.Context, q Querier, name string) (int64, error) {
	val, err := GetVariable(ctx, q, name)
	if err != nil || val == "" {
		return 0, err
	}
	return strconv.ParseInt(val, 10, 64)
}
