package parser

import (
	"errors"
	"strings"
	"testing"
)

func TestParseAlter_Operations(t *testing.T) {
	tests := []struct {
		name     string
		fragment string
		want     []Operation
	}{
		{"add column", "ADD COLUMN note TEXT NULL", []Operation{AddColumn}},
		{"drop column", "DROP COLUMN legacy", []Operation{DropColumn}},
		{"modify column", "MODIFY COLUMN status VARCHAR(16) NOT NULL", []Operation{ModifyColumn}},
		{"change column", "CHANGE COLUMN status state VARCHAR(8)", []Operation{ChangeColumn}},
		{"add index", "ADD INDEX idx_status (status)", []Operation{AddIndex}},
		{"drop primary key", "DROP PRIMARY KEY", []Operation{DropPrimaryKey}},
		{"engine", "ENGINE=InnoDB", []Operation{ChangeEngine}},
		{"convert charset", "CONVERT TO CHARACTER SET utf8mb4", []Operation{ConvertCharset}},
		{"rename table", "RENAME TO orders_v2", []Operation{RenameTable}},
		{
			"foreign key",
			"ADD CONSTRAINT fk_customer FOREIGN KEY (customer_id) REFERENCES customers (id)",
			[]Operation{AddForeignKey},
		},
		{
			"several operations",
			"ADD COLUMN note TEXT NULL, DROP COLUMN legacy, ADD INDEX idx_note (note(10))",
			[]Operation{AddColumn, DropColumn, AddIndex},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := ParseAlter(tt.fragment)
			if err != nil {
				t.Fatalf("ParseAlter(%q) error: %v", tt.fragment, err)
			}
			if len(a.Operations) != len(tt.want) {
				t.Fatalf("Operations = %v, want %v", a.Operations, tt.want)
			}
			for i := range tt.want {
				if a.Operations[i] != tt.want[i] {
					t.Errorf("Operations[%d] = %s, want %s", i, a.Operations[i], tt.want[i])
				}
			}
		})
	}
}

func TestParseAlter_Details(t *testing.T) {
	a, err := ParseAlter("ADD COLUMN note TEXT NULL, ADD COLUMN qty INT NOT NULL, DROP COLUMN legacy, CHANGE COLUMN status state VARCHAR(8), ENGINE=InnoDB;")
	if err != nil {
		t.Fatalf("ParseAlter() error: %v", err)
	}
	if len(a.AddedColumns) != 2 || a.AddedColumns[0] != "note" || a.AddedColumns[1] != "qty" {
		t.Errorf("AddedColumns = %v, want [note qty]", a.AddedColumns)
	}
	if len(a.NotNullNoDefault) != 1 || a.NotNullNoDefault[0] != "qty" {
		t.Errorf("NotNullNoDefault = %v, want [qty]", a.NotNullNoDefault)
	}
	if len(a.DroppedColumns) != 1 || a.DroppedColumns[0] != "legacy" {
		t.Errorf("DroppedColumns = %v, want [legacy]", a.DroppedColumns)
	}
	if a.RenamedColumns["status"] != "state" {
		t.Errorf("RenamedColumns = %v, want status -> state", a.RenamedColumns)
	}
	if a.Engine != "innodb" {
		t.Errorf("Engine = %q, want innodb", a.Engine)
	}

	warnings := a.Warnings()
	if len(warnings) != 3 {
		t.Fatalf("Warnings() = %v, want 3 entries", warnings)
	}
	if !strings.Contains(warnings[0], "renamed") {
		t.Errorf("Warnings()[0] = %q, want the rename first", warnings[0])
	}
}

func TestParseAlter_ChangeColumnSameName(t *testing.T) {
	a, err := ParseAlter("CHANGE COLUMN status status VARCHAR(32)")
	if err != nil {
		t.Fatalf("ParseAlter() error: %v", err)
	}
	if len(a.RenamedColumns) != 0 {
		t.Errorf("RenamedColumns = %v, want none", a.RenamedColumns)
	}
}

func TestParseAlter_Empty(t *testing.T) {
	for _, frag := range []string{"", "  ", ";"} {
		a, err := ParseAlter(frag)
		if err != nil {
			t.Fatalf("ParseAlter(%q) error: %v", frag, err)
		}
		if !a.Empty() {
			t.Errorf("ParseAlter(%q).Empty() = false", frag)
		}
		if err := a.Check(); err != nil {
			t.Errorf("Check() on empty fragment: %v", err)
		}
	}
}

func TestParseAlter_Invalid(t *testing.T) {
	if _, err := ParseAlter("ADD COLUMN"); err == nil {
		t.Error("ParseAlter(ADD COLUMN) error = nil, want parse error")
	}
}

func TestCheck(t *testing.T) {
	tests := []struct {
		fragment string
		unsafe   bool
	}{
		{"ADD COLUMN note TEXT NULL", false},
		{"DROP FOREIGN KEY fk_old", false},
		{"RENAME TO orders_v2", true},
		{"ADD CONSTRAINT fk FOREIGN KEY (a) REFERENCES p (id)", true},
		{"ADD CONSTRAINT chk CHECK (qty > 0)", false},
	}
	for _, tt := range tests {
		a, err := ParseAlter(tt.fragment)
		if err != nil {
			t.Fatalf("ParseAlter(%q) error: %v", tt.fragment, err)
		}
		err = a.Check()
		if got := err != nil; got != tt.unsafe {
			t.Errorf("Check(%q) = %v, want unsafe=%v", tt.fragment, err, tt.unsafe)
		}
		if err != nil && !errors.Is(err, ErrUnsupported) {
			t.Errorf("Check(%q) error does not wrap ErrUnsupported", tt.fragment)
		}
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct{ in, want string }{
		{"ADD COLUMN x INT;", "ADD COLUMN x INT"},
		{"ALTER TABLE orders ADD COLUMN x INT", "ADD COLUMN x INT"},
		{"alter table `shop`.`orders` drop column x ;", "drop column x"},
		{"  ENGINE=InnoDB  ", "ENGINE=InnoDB"},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSplitQualified(t *testing.T) {
	tests := []struct{ in, db, table string }{
		{"orders", "", "orders"},
		{"shop.orders", "shop", "orders"},
		{"`shop`.`orders`", "shop", "orders"},
		{"`orders`", "", "orders"},
	}
	for _, tt := range tests {
		db, table := SplitQualified(tt.in)
		if db != tt.db || table != tt.table {
			t.Errorf("SplitQualified(%q) = (%q, %q), want (%q, %q)", tt.in, db, table, tt.db, tt.table)
		}
	}
}

func FuzzParseAlter(f *testing.F) {
	seeds := []string{
		"ADD COLUMN note TEXT NULL",
		"DROP COLUMN x, ADD INDEX i (y)",
		"RENAME TO z",
		"",
		";",
		"'; DROP TABLE users; --",
	}
	for _, seed := range seeds {
		f.Add(seed)
	}

	f.Fuzz(func(t *testing.T, fragment string) {
		defer func() {
			if r := recover(); r != nil {
				t.Errorf("ParseAlter panicked on input %q: %v", fragment, r)
			}
		}()
		a, err := ParseAlter(fragment)
		if err == nil {
			_ = a.Check()
			_ = a.Warnings()
		}
	})
}
