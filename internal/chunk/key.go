package chunk

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nethalo/dbalter/internal/mysql"
)

var (
	// ErrNoUsableKey means the table has no NOT NULL unique key to chunk on.
	ErrNoUsableKey = errors.New("no usable unique key")
	// ErrNoSharedKey means unique keys exist but none survives in the shadow table.
	ErrNoSharedKey = errors.New("no unique key shared with the altered table")
)

// KeyType tags how values of a key column are compared and reported.
type KeyType int

const (
	Opaque KeyType = iota
	Integer
	Temporal
	Text
)

func (t KeyType) String() string {
	switch t {
	case Integer:
		return "integer"
	case Temporal:
		return "temporal"
	case Text:
		return "text"
	default:
		return "opaque"
	}
}

// ParseKeyType parses the names printed by KeyType.String.
func ParseKeyType(s string) (KeyType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "integer", "int":
		return Integer, nil
	case "temporal":
		return Temporal, nil
	case "text":
		return Text, nil
	case "opaque":
		return Opaque, nil
	}
	return Opaque, fmt.Errorf("unknown key type %q (want integer, temporal, text or opaque)", s)
}

// KeyTypeFor classifies a column from its DATA_TYPE and character set.
func KeyTypeFor(dataType, charset string) KeyType {
	if charset != "" {
		return Text
	}
	switch strings.ToLower(dataType) {
	case "tinyint", "smallint", "mediumint", "int", "integer", "bigint", "year":
		return Integer
	case "date", "time", "datetime", "timestamp":
		return Temporal
	}
	return Opaque
}

// KeyColumn is one column of a chunk key.
type KeyColumn struct {
	Name string
	Type KeyType
}

// Key is the ordered unique column list the table is chunked on.
type Key struct {
	IndexName string // empty for a forced column list
	Columns   []KeyColumn
}

// ColumnNames returns the key's column names in order.
func (k Key) ColumnNames() []string {
	names := make([]string, len(k.Columns))
	for i, c := range k.Columns {
		names[i] = c.Name
	}
	return names
}

func (k Key) String() string {
	cols := strings.Join(k.ColumnNames(), ",")
	if k.IndexName == "" {
		return "(" + cols + ")"
	}
	return k.IndexName + "(" + cols + ")"
}

// ForcedKey is a caller supplied chunking column list. Type is only
// honoured for single column keys.
type ForcedKey struct {
	Columns []string
	Type    KeyType
	Typed   bool
}

// ParseForcedKey parses "col", "col:type" or "c1,c2".
func ParseForcedKey(flag string) (*ForcedKey, error) {
	flag = strings.TrimSpace(flag)
	if flag == "" {
		return nil, nil
	}

	fk := &ForcedKey{}
	cols := flag
	if i := strings.LastIndexByte(flag, ':'); i >= 0 {
		t, err := ParseKeyType(flag[i+1:])
		if err != nil {
			return nil, err
		}
		fk.Type, fk.Typed = t, true
		cols = flag[:i]
	}

	for _, c := range strings.Split(cols, ",") {
		c = strings.Trim(strings.TrimSpace(c), "`")
		if c == "" {
			return nil, fmt.Errorf("empty column in chunking key %q", flag)
		}
		fk.Columns = append(fk.Columns, c)
	}
	if fk.Typed && len(fk.Columns) > 1 {
		return nil, fmt.Errorf("chunking key %q: a type can only be given for a single column", flag)
	}
	return fk, nil
}

// ChooseKey picks the chunk key. A forced key skips introspection. Otherwise
// the best ranked unique key whose columns all appear in shared wins. A nil
// shared set accepts any key.
func ChooseKey(ctx context.Context, q mysql.Querier, database, table string, forced *ForcedKey, shared mysql.ColumnSet) (Key, error) {
	if forced != nil {
		key := Key{}
		for _, c := range forced.Columns {
			if shared != nil && !shared.Contains(c) {
				return Key{}, fmt.Errorf("forced column %s: %w", c, ErrNoSharedKey)
			}
			kc := KeyColumn{Name: c, Type: Opaque}
			if forced.Typed {
				kc.Type = forced.Type
			}
			key.Columns = append(key.Columns, kc)
		}
		return key, nil
	}

	candidates, err := mysql.UniqueKeyCandidates(ctx, q, database, table)
	if err != nil {
		return Key{}, err
	}
	if len(candidates) == 0 {
		return Key{}, fmt.Errorf("%s.%s: %w", database, table, ErrNoUsableKey)
	}

	for _, uk := range candidates {
		if shared != nil && !allShared(uk.ColumnNames(), shared) {
			continue
		}
		key := Key{IndexName: uk.Name}
		for _, c := range uk.Columns {
			key.Columns = append(key.Columns, KeyColumn{Name: c.Name, Type: KeyTypeFor(c.DataType, c.CharacterSet)})
		}
		return key, nil
	}
	return Key{}, fmt.Errorf("%s.%s: %w", database, table, ErrNoSharedKey)
}

func allShared(cols []string, shared mysql.ColumnSet) bool {
	for _, c := range cols {
		if !shared.Contains(c) {
			return false
		}
	}
	return true
}
