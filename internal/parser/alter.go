// Package parser inspects the ALTER TABLE fragment a migration applies to the
// shadow table.
package parser

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"vitess.io/vitess/go/vt/sqlparser"
)

// probeTable stands in for the real table name while parsing a fragment.
const probeTable = "dbalter_probe"

var reAlterPrefix = regexp.MustCompile(`(?is)^ALTER\s+(?:ONLINE\s+|IGNORE\s+)*TABLE\s+\S+\s+`)

// Operation enumerates the ALTER sub-operations we tell apart.
type Operation string

const (
	AddColumn       Operation = "ADD_COLUMN"
	DropColumn      Operation = "DROP_COLUMN"
	ModifyColumn    Operation = "MODIFY_COLUMN"
	ChangeColumn    Operation = "CHANGE_COLUMN"
	RenameColumn    Operation = "RENAME_COLUMN"
	AlterColumn     Operation = "ALTER_COLUMN"
	AddIndex        Operation = "ADD_INDEX"
	DropIndex       Operation = "DROP_INDEX"
	RenameIndex     Operation = "RENAME_INDEX"
	AddPrimaryKey   Operation = "ADD_PRIMARY_KEY"
	DropPrimaryKey  Operation = "DROP_PRIMARY_KEY"
	AddForeignKey   Operation = "ADD_FOREIGN_KEY"
	AddCheck        Operation = "ADD_CHECK"
	DropForeignKey  Operation = "DROP_FOREIGN_KEY"
	RenameTable     Operation = "RENAME_TABLE"
	ChangeEngine    Operation = "CHANGE_ENGINE"
	ChangeCharset   Operation = "CHANGE_CHARSET"
	ConvertCharset  Operation = "CONVERT_CHARSET"
	ChangeRowFormat Operation = "CHANGE_ROW_FORMAT"
	Partition       Operation = "PARTITION"
	ForceRebuild    Operation = "FORCE_REBUILD"
	Other           Operation = "OTHER"
)

// ErrUnsupported marks alterations that cannot run through a shadow table.
var ErrUnsupported = errors.New("alteration cannot be applied online")

// Alteration is what the fragment does, as far as the migration cares.
type Alteration struct {
	Fragment       string
	Operations     []Operation
	AddedColumns   []string
	DroppedColumns []string
	// RenamedColumns maps old to new names. Their data is not carried over
	// because rows are copied by column name.
	RenamedColumns map[string]string
	// NotNullNoDefault lists added NOT NULL columns without a DEFAULT.
	NotNullNoDefault []string
	Engine           string
}

var (
	parserOnce      sync.Once
	globalParser    *sqlparser.Parser
	globalParserErr error
)

func getParser() (*sqlparser.Parser, error) {
	parserOnce.Do(func() {
		globalParser, globalParserErr = sqlparser.New(sqlparser.Options{})
	})
	return globalParser, globalParserErr
}

// SplitQualified splits a possibly-qualified name (db.table or table) into (db, name).
func SplitQualified(name string) (string, string) {
	name = strings.TrimSpace(name)
	if idx := strings.Index(name, "`.`"); idx >= 0 {
		return strings.Trim(name[:idx], "`"), strings.Trim(name[idx+2:], "`")
	}
	name = strings.Trim(name, "`")
	if idx := strings.IndexByte(name, '.'); idx >= 0 {
		return strings.Trim(name[:idx], "`"), strings.Trim(name[idx+1:], "`")
	}
	return "", name
}

// Normalize trims whitespace, a trailing semicolon and an ALTER TABLE <name>
// prefix, leaving the bare fragment.
func Normalize(fragment string) string {
	s := strings.TrimSpace(fragment)
	s = strings.TrimSpace(strings.TrimRight(s, ";"))
	return reAlterPrefix.ReplaceAllString(s, "")
}

// ParseAlter parses an ALTER TABLE fragment such as
// "ADD COLUMN note TEXT NULL, DROP COLUMN legacy". An empty fragment is a
// valid no-op and yields an empty Alteration.
func ParseAlter(fragment string) (*Alteration, error) {
	frag := Normalize(fragment)
	a := &Alteration{Fragment: frag, RenamedColumns: map[string]string{}}
	if frag == "" {
		return a, nil
	}

	p, err := getParser()
	if err != nil {
		return nil, fmt.Errorf("creating parser: %w", err)
	}
	stmt, err := p.Parse("ALTER TABLE " + probeTable + " " + frag)
	if err != nil {
		return nil, fmt.Errorf("parsing alteration: %w", err)
	}
	alter, ok := stmt.(*sqlparser.AlterTable)
	if !ok {
		return nil, fmt.Errorf("parsing alteration: not an ALTER TABLE fragment")
	}

	if alter.PartitionSpec != nil {
		a.Operations = append(a.Operations, Partition)
	}
	for _, opt := range alter.AlterOptions {
		a.Operations = append(a.Operations, classify(opt))
		a.collect(opt)
	}
	return a, nil
}

func (a *Alteration) collect(opt sqlparser.AlterOption) {
	switch o := opt.(type) {
	case *sqlparser.AddColumns:
		for _, col := range o.Columns {
			name := col.Name.String()
			a.AddedColumns = append(a.AddedColumns, name)
			if col.Type != nil && col.Type.Options != nil {
				opts := col.Type.Options
				if opts.Null != nil && !*opts.Null && opts.Default == nil && !opts.Autoincrement && opts.As == nil {
					a.NotNullNoDefault = append(a.NotNullNoDefault, name)
				}
			}
		}
	case *sqlparser.DropColumn:
		a.DroppedColumns = append(a.DroppedColumns, o.Name.Name.String())
	case *sqlparser.ChangeColumn:
		oldName := o.OldColumn.Name.String()
		newName := o.NewColDefinition.Name.String()
		if !strings.EqualFold(oldName, newName) {
			a.RenamedColumns[oldName] = newName
		}
	case *sqlparser.RenameColumn:
		a.RenamedColumns[o.OldName.Name.String()] = o.NewName.Name.String()
	case sqlparser.TableOptions:
		for _, tableOpt := range o {
			if strings.EqualFold(tableOpt.Name, "ENGINE") && tableOpt.String != "" {
				a.Engine = strings.ToLower(tableOpt.String)
			}
		}
	}
}

func classify(opt sqlparser.AlterOption) Operation {
	switch opt := opt.(type) {
	case *sqlparser.AddColumns:
		return AddColumn
	case *sqlparser.DropColumn:
		return DropColumn
	case *sqlparser.ModifyColumn:
		return ModifyColumn
	case *sqlparser.ChangeColumn:
		return ChangeColumn
	case *sqlparser.RenameColumn:
		return RenameColumn
	case *sqlparser.AlterColumn:
		return AlterColumn
	case *sqlparser.AddIndexDefinition:
		if opt.IndexDefinition.Info.Type == sqlparser.IndexTypePrimary {
			return AddPrimaryKey
		}
		return AddIndex
	case *sqlparser.DropKey:
		switch opt.Type {
		case sqlparser.PrimaryKeyType:
			return DropPrimaryKey
		case sqlparser.ForeignKeyType:
			return DropForeignKey
		default:
			return DropIndex
		}
	case *sqlparser.RenameIndex:
		return RenameIndex
	case *sqlparser.RenameTableName:
		return RenameTable
	case *sqlparser.AddConstraintDefinition:
		if _, ok := opt.ConstraintDefinition.Details.(*sqlparser.ForeignKeyDefinition); ok {
			return AddForeignKey
		}
		return AddCheck
	case *sqlparser.AlterCharset:
		return ConvertCharset
	case *sqlparser.Force:
		return ForceRebuild
	case sqlparser.TableOptions:
		for _, tableOpt := range opt {
			switch strings.ToUpper(tableOpt.Name) {
			case "ENGINE":
				return ChangeEngine
			case "ROW_FORMAT":
				return ChangeRowFormat
			case "CHARSET", "CHARACTER SET", "DEFAULT CHARSET":
				return ChangeCharset
			}
		}
		return Other
	default:
		return Other
	}
}

// Has reports whether the fragment contains op.
func (a *Alteration) Has(op Operation) bool {
	for _, o := range a.Operations {
		if o == op {
			return true
		}
	}
	return false
}

// Empty reports whether the fragment changes nothing.
func (a *Alteration) Empty() bool { return a.Fragment == "" }

// Check rejects operations that break the shadow table approach: a renamed
// table would be swapped under the wrong name, and a new foreign key would
// make the capture triggers race with referential actions.
func (a *Alteration) Check() error {
	switch {
	case a.Has(RenameTable):
		return fmt.Errorf("%w: RENAME TO is not allowed, the table keeps its name", ErrUnsupported)
	case a.Has(AddForeignKey):
		return fmt.Errorf("%w: foreign keys cannot be added", ErrUnsupported)
	case a.Has(Partition):
		return fmt.Errorf("%w: partition maintenance does not rewrite rows", ErrUnsupported)
	}
	return nil
}

// Warnings lists consequences of the alteration an operator should know about.
func (a *Alteration) Warnings() []string {
	var out []string
	renamed := make([]string, 0, len(a.RenamedColumns))
	for oldName := range a.RenamedColumns {
		renamed = append(renamed, oldName)
	}
	sort.Strings(renamed)
	for _, oldName := range renamed {
		out = append(out, fmt.Sprintf("column %s is renamed to %s: its data is not copied, the new column gets its default", oldName, a.RenamedColumns[oldName]))
	}
	for _, c := range a.NotNullNoDefault {
		out = append(out, fmt.Sprintf("column %s is NOT NULL without a DEFAULT: copied rows get the implicit default", c))
	}
	if a.Has(DropPrimaryKey) {
		out = append(out, "the primary key is dropped: chunking falls back to another unique key shared by both tables")
	}
	for _, c := range a.DroppedColumns {
		out = append(out, fmt.Sprintf("column %s is dropped: its data is not copied", c))
	}
	return out
}
