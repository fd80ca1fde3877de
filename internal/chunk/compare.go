package chunk

import (
	"fmt"
	"strings"

	"github.com/nethalo/dbalter/internal/mysql"
)

// Compare builds a lexicographic tuple comparison as an OR of ANDs:
//
//	(c1 > v1) OR (c1 = v1 AND c2 > v2) OR ... OR (c1 = v1 AND ... AND cn > vn)
//
// op is one of <, >, <= or >=. The inclusive forms only relax the last
// term, so (c1..cn) >= (v1..vn) keeps strict comparisons on every prefix.
// InnoDB range-scans this shape through the index where a row constructor
// comparison would not be. Values are returned as bind arguments, n(n+1)/2
// of them for n columns.
func Compare(cols []string, op string, vals Tuple) (string, []any) {
	strict := strings.TrimSuffix(op, "=")
	terms := make([]string, 0, len(cols))
	args := make([]any, 0, len(cols)*(len(cols)+1)/2)

	for i := range cols {
		parts := make([]string, 0, i+1)
		for j := 0; j < i; j++ {
			parts = append(parts, fmt.Sprintf("(%s = ?)", mysql.EscapeIdentifier(cols[j])))
			args = append(args, vals[j])
		}
		last := strict
		if i == len(cols)-1 {
			last = op
		}
		parts = append(parts, fmt.Sprintf("(%s %s ?)", mysql.EscapeIdentifier(cols[i]), last))
		args = append(args, vals[i])

		if len(parts) == 1 {
			terms = append(terms, parts[0])
		} else {
			terms = append(terms, "("+strings.Join(parts, " AND ")+")")
		}
	}
	return "(" + strings.Join(terms, " OR ") + ")", args
}

// RangeWhere returns the predicate selecting one chunk. The first chunk
// includes its start tuple, later chunks start right after the previous end.
func RangeWhere(key Key, start, end Tuple, first bool) (string, []any) {
	cols := key.ColumnNames()
	lowerOp := ">"
	if first {
		lowerOp = ">="
	}
	lower, lowerArgs := Compare(cols, lowerOp, start)
	upper, upperArgs := Compare(cols, "<=", end)
	return lower + " AND " + upper, append(lowerArgs, upperArgs...)
}

// ColumnList renders escaped, comma separated column names.
func ColumnList(cols []string) string {
	escaped := make([]string, len(cols))
	for i, c := range cols {
		escaped[i] = mysql.EscapeIdentifier(c)
	}
	return strings.Join(escaped, ", ")
}

// QualifiedColumns renders escaped columns prefixed by a qualified table name.
func QualifiedColumns(table string, cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = table + "." + mysql.EscapeIdentifier(c)
	}
	return out
}

func orderBy(cols []string, desc bool) string {
	escaped := make([]string, len(cols))
	for i, c := range cols {
		escaped[i] = mysql.EscapeIdentifier(c)
		if desc {
			escaped[i] += " DESC"
		}
	}
	return strings.Join(escaped, ", ")
}
