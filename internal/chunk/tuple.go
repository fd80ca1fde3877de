package chunk

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Tuple holds one value per key column, in key order.
type Tuple []any

func (t Tuple) String() string {
	parts := make([]string, len(t))
	for i, v := range t {
		switch x := v.(type) {
		case nil:
			parts[i] = "NULL"
		case []byte:
			parts[i] = fmt.Sprintf("0x%x", x)
		case time.Time:
			parts[i] = x.Format("2006-01-02 15:04:05.999999")
		default:
			parts[i] = fmt.Sprint(x)
		}
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// ParseTuple reads a comma separated literal list, one value per key column.
func ParseTuple(key Key, s string) (Tuple, error) {
	parts := strings.Split(s, ",")
	if len(parts) != len(key.Columns) {
		return nil, fmt.Errorf("value %q has %d parts, key %s has %d columns", s, len(parts), key, len(key.Columns))
	}
	t := make(Tuple, len(parts))
	for i, p := range parts {
		v, err := normalize(key.Columns[i].Type, strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", key.Columns[i].Name, err)
		}
		t[i] = v
	}
	return t, nil
}

// normalizeRow converts driver values into comparable Go values for the key.
func normalizeRow(key Key, row []any) (Tuple, error) {
	if len(row) != len(key.Columns) {
		return nil, fmt.Errorf("row has %d values, key %s has %d columns", len(row), key, len(key.Columns))
	}
	t := make(Tuple, len(row))
	for i, v := range row {
		nv, err := normalize(key.Columns[i].Type, v)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", key.Columns[i].Name, err)
		}
		t[i] = nv
	}
	return t, nil
}

func normalize(kt KeyType, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch kt {
	case Integer:
		return toInteger(v)
	case Temporal, Text:
		if b, ok := v.([]byte); ok {
			return string(b), nil
		}
		return v, nil
	default:
		if s, ok := v.(string); ok {
			return []byte(s), nil
		}
		return v, nil
	}
}

func toInteger(v any) (any, error) {
	switch x := v.(type) {
	case int64, uint64:
		return x, nil
	case int:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case float64:
		return int64(x), nil
	case []byte:
		return parseInteger(string(x))
	case string:
		return parseInteger(x)
	}
	return nil, fmt.Errorf("cannot use %T as integer key value", v)
}

func parseInteger(s string) (any, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	u, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid integer %q", s)
	}
	return u, nil
}

func equalValue(a, b any) bool {
	switch x := a.(type) {
	case []byte:
		y, ok := b.([]byte)
		return ok && bytes.Equal(x, y)
	case time.Time:
		y, ok := b.(time.Time)
		return ok && x.Equal(y)
	}
	if _, ok := b.([]byte); ok {
		return false
	}
	if c, ok := compareValue(a, b); ok {
		return c == 0
	}
	return a == b
}

// compareValue orders two values when Go can do so without knowing the
// column collation: integers and times. Strings are never ordered here.
func compareValue(a, b any) (int, bool) {
	switch x := a.(type) {
	case int64:
		switch y := b.(type) {
		case int64:
			return cmpInt(x, y), true
		case uint64:
			if x < 0 {
				return -1, true
			}
			return cmpUint(uint64(x), y), true
		}
	case uint64:
		switch y := b.(type) {
		case uint64:
			return cmpUint(x, y), true
		case int64:
			if y < 0 {
				return 1, true
			}
			return cmpUint(x, uint64(y)), true
		}
	case time.Time:
		if y, ok := b.(time.Time); ok {
			return x.Compare(y), true
		}
	}
	return 0, false
}

func cmpInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func cmpUint(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// Equal reports whether two tuples hold the same values.
func (t Tuple) Equal(o Tuple) bool {
	if len(t) != len(o) {
		return false
	}
	for i := range t {
		if !equalValue(t[i], o[i]) {
			return false
		}
	}
	return true
}

// Degenerate reports whether a boundary does not advance past start: the
// end tuple equals start, or is provably lower. Collation dependent values
// are only checked for equality.
func Degenerate(start, end Tuple) bool {
	if start.Equal(end) {
		return true
	}
	for i := range start {
		if i >= len(end) {
			return false
		}
		if equalValue(start[i], end[i]) {
			continue
		}
		c, ok := compareValue(end[i], start[i])
		return ok && c < 0
	}
	return false
}

// Ratio estimates how far at lies between rng.Min and rng.Max using the
// leading key column. It is only defined for integer and temporal keys.
func Ratio(key Key, rng Range, at Tuple) (float64, bool) {
	if len(key.Columns) == 0 || !rng.Exists || len(at) == 0 || len(rng.Min) == 0 || len(rng.Max) == 0 {
		return 0, false
	}
	switch key.Columns[0].Type {
	case Integer, Temporal:
	default:
		return 0, false
	}

	lo, ok1 := scalar(rng.Min[0])
	hi, ok2 := scalar(rng.Max[0])
	cur, ok3 := scalar(at[0])
	if !ok1 || !ok2 || !ok3 {
		return 0, false
	}
	if hi <= lo {
		return 1, true
	}
	r := (cur - lo) / (hi - lo)
	switch {
	case r < 0:
		r = 0
	case r > 1:
		r = 1
	}
	return r, true
}

func scalar(v any) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case uint64:
		return float64(x), true
	case time.Time:
		return float64(x.UnixNano()) / 1e9, true
	case string:
		// TIME columns arrive as text even with parseTime.
		return clockSeconds(x)
	}
	return 0, false
}

func clockSeconds(s string) (float64, bool) {
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, false
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	sec, err3 := strconv.ParseFloat(parts[2], 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return 0, false
	}
	total := float64(h*3600+m*60) + sec
	if neg {
		total = -total
	}
	return total, true
}
