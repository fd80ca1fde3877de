package output

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/nethalo/dbalter/internal/copier"
	"github.com/nethalo/dbalter/internal/migration"
	"github.com/nethalo/dbalter/internal/mysql"
	"github.com/nethalo/dbalter/internal/topology"
)

func swappedReport() *migration.Report {
	verified := int64(10050)
	return &migration.Report{
		RunID:          "4f1c2a8e-0000-4000-8000-000000000001",
		Database:       "shop",
		Table:          "orders",
		Ghost:          "__oak_orders",
		Archive:        "__arc_orders",
		Alter:          "ADD COLUMN note TEXT NULL",
		Engine:         "InnoDB",
		Phases:         []migration.Phase{migration.Init, migration.Validated, migration.Renamed, migration.Done},
		Phase:          migration.Done,
		Key:            "PRIMARY(id)",
		SharedColumns:  []string{"id", "status"},
		RangeMin:       "1",
		RangeMax:       "10050",
		LockAttempts:   2,
		RenameAttempts: 2,
		Copy:           copier.Stats{Pass: copier.PassCopy, Chunks: 11, Rows: 10050, Elapsed: 1500 * time.Millisecond},
		Delete:         &copier.Stats{Pass: copier.PassDelete, Chunks: 11, Retries: 1},
		VerifiedRows:   &verified,
		Swapped:        true,
		Warnings:       []string{"column legacy is dropped; its data is discarded"},
		Duration:       3 * time.Second,
	}
}

func failedReport() *migration.Report {
	return &migration.Report{
		RunID:    "run-2",
		Database: "shop",
		Table:    "orders",
		Ghost:    "__oak_orders",
		Phases:   []migration.Phase{migration.Init, migration.Validated, migration.ShadowCreated, migration.Failed},
		Phase:    migration.Failed,
		Error:    errors.New("creating shadow table: denied").Error(),
		Cleanup:  []string{"dropping __oak_orders: gone away"},
	}
}

func replicaTopology() *topology.Info {
	lag := int64(3)
	return &topology.Info{
		Type:           topology.AsyncReplica,
		Version:        mysql.ServerVersion{Major: 8, Minor: 0, Patch: 35, Flavor: "mysql"},
		IsReplica:      true,
		ReplicaLagSecs: &lag,
	}
}

func TestNewRenderer(t *testing.T) {
	tests := []struct {
		format string
		want   string
	}{
		{"json", "*output.JSONRenderer"},
		{"markdown", "*output.MarkdownRenderer"},
		{"plain", "*output.PlainRenderer"},
		{"text", "*output.TextRenderer"},
		{"", "*output.TextRenderer"},
	}
	for _, tt := range tests {
		r := NewRenderer(tt.format, &bytes.Buffer{})
		if got := typeName(r); got != tt.want {
			t.Errorf("NewRenderer(%q) = %s, want %s", tt.format, got, tt.want)
		}
	}
}

func typeName(r Renderer) string {
	switch r.(type) {
	case *JSONRenderer:
		return "*output.JSONRenderer"
	case *MarkdownRenderer:
		return "*output.MarkdownRenderer"
	case *PlainRenderer:
		return "*output.PlainRenderer"
	case *TextRenderer:
		return "*output.TextRenderer"
	}
	return "unknown"
}

func TestOutcome(t *testing.T) {
	tests := []struct {
		name     string
		report   *migration.Report
		want     string
		wantKind outcomeKind
	}{
		{"swapped", swappedReport(), "orders swapped. The original table was dropped.", outcomeSuccess},
		{"failed", failedReport(), "Failed during shadow-created: creating shadow table: denied", outcomeFailure},
		{
			name:     "archive kept",
			report:   &migration.Report{Table: "orders", Archive: "__arc_orders", Swapped: true, ArchiveKept: true, Phase: migration.Done},
			want:     "kept as __arc_orders",
			wantKind: outcomeSuccess,
		},
		{
			name:     "ghost",
			report:   &migration.Report{Ghost: "orders_v2", TriggersKept: true, Phase: migration.Done},
			want:     "orders_v2 is in sync",
			wantKind: outcomeNotice,
		},
		{
			name:     "cleanup with errors",
			report:   &migration.Report{CleanupOnly: true, Cleanup: []string{"unlock tables", "drop table x: denied"}},
			want:     "with errors",
			wantKind: outcomeNotice,
		},
		{
			name:     "clean cleanup",
			report:   &migration.Report{CleanupOnly: true, Cleanup: []string{"unlock tables"}},
			want:     "leftovers removed",
			wantKind: outcomeSuccess,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, kind := outcome(tt.report)
			if !strings.Contains(got, tt.want) {
				t.Errorf("outcome() = %q, want it to contain %q", got, tt.want)
			}
			if kind != tt.wantKind {
				t.Errorf("kind = %d, want %d", kind, tt.wantKind)
			}
		})
	}
}

func TestFormatPass(t *testing.T) {
	if got := formatPass(nil); got != "skipped" {
		t.Errorf("formatPass(nil) = %q", got)
	}
	s := &copier.Stats{Chunks: 1200, Rows: 1200000, Retries: 2, Elapsed: 90 * time.Second, StoppedEarly: true}
	got := formatPass(s)
	for _, want := range []string{"1,200 chunks", "1,200,000 rows", "2 retries", "1m30s", "stopped on an empty chunk"} {
		if !strings.Contains(got, want) {
			t.Errorf("formatPass() = %q, missing %q", got, want)
		}
	}
}

func TestFormatRange(t *testing.T) {
	if got := formatRange(&migration.Report{Empty: true}); got != "empty table" {
		t.Errorf("got %q", got)
	}
	if got := formatRange(&migration.Report{RangeMin: "1,a", RangeMax: "9,z"}); got != "[1,a .. 9,z]" {
		t.Errorf("got %q", got)
	}
	if got := formatRange(&migration.Report{}); got != "-" {
		t.Errorf("got %q", got)
	}
}

func TestFormatTableSize(t *testing.T) {
	if got := formatTableSize(nil); got != "" {
		t.Errorf("formatTableSize(nil) = %q, want empty", got)
	}
	meta := &mysql.TableMetadata{RowCount: 1234567, DataLength: 3 << 20, IndexLength: 1 << 20}
	if got := formatTableSize(meta); got != "4.0 MiB, ~1,234,567 rows" {
		t.Errorf("formatTableSize() = %q", got)
	}
}

func TestPlainRenderer_TableSize(t *testing.T) {
	var buf bytes.Buffer
	r := &PlainRenderer{w: &buf}
	r.RenderResult(&Result{
		Report: swappedReport(),
		Table:  &mysql.TableMetadata{RowCount: 10000, DataLength: 2 << 20},
	})
	if !strings.Contains(buf.String(), "Table size:     2.0 MiB, ~10,000 rows") {
		t.Errorf("table size missing\n%s", buf.String())
	}
}

func TestTextRenderer_Result(t *testing.T) {
	var buf bytes.Buffer
	r := &TextRenderer{w: &buf}
	r.RenderResult(&Result{
		Report:          swappedReport(),
		Topology:        replicaTopology(),
		ClusterWarnings: []string{"server is a replica"},
	})

	out := buf.String()
	for _, want := range []string{"shop.orders", "__oak_orders", "PRIMARY(id)", "[1 .. 10050]", "10,050", "Async Replication", "server is a replica", "column legacy is dropped", "orders swapped", "init > validated"} {
		if !strings.Contains(out, want) {
			t.Errorf("text output missing %q", want)
		}
	}
}

func TestTextRenderer_Failure(t *testing.T) {
	var buf bytes.Buffer
	r := &TextRenderer{w: &buf}
	r.RenderResult(&Result{Report: failedReport()})

	out := buf.String()
	if !strings.Contains(out, "Failed during") || !strings.Contains(out, "denied") {
		t.Error("failure reason missing")
	}
	if !strings.Contains(out, "cleanup: dropping __oak_orders") {
		t.Error("cleanup note missing")
	}
	if strings.Contains(out, "Chunking") {
		t.Error("chunking box shown before a key was chosen")
	}
}

func TestPlainRenderer_Result(t *testing.T) {
	var buf bytes.Buffer
	r := &PlainRenderer{w: &buf}
	r.RenderResult(&Result{Report: swappedReport()})

	out := buf.String()
	for _, want := range []string{"=== dbalter: Online ALTER ===", "Key:            PRIMARY(id)", "Delete pass:    11 chunks, 0 rows, 1 retries", "WARNING: column legacy", "Verified rows:  10,050"} {
		if !strings.Contains(out, want) {
			t.Errorf("plain output missing %q\n%s", want, out)
		}
	}
	if strings.Contains(out, "\x1b[") {
		t.Error("plain output contains ANSI escapes")
	}
}

func TestPlainRenderer_Cleanup(t *testing.T) {
	var buf bytes.Buffer
	r := &PlainRenderer{w: &buf}
	r.RenderResult(&Result{Report: &migration.Report{
		Database: "shop", Table: "orders", CleanupOnly: true,
		Phases:  []migration.Phase{migration.Init, migration.CleanupOnly},
		Phase:   migration.CleanupOnly,
		Cleanup: []string{"unlock tables", "drop capture triggers"},
	}})

	out := buf.String()
	if !strings.Contains(out, "=== dbalter: Cleanup ===") {
		t.Error("cleanup title missing")
	}
	if strings.Contains(out, "Alter:") {
		t.Error("alter line shown for cleanup")
	}
	if !strings.Contains(out, "Cleanup:        drop capture triggers") {
		t.Error("cleanup step missing")
	}
}

func TestMarkdownRenderer_Result(t *testing.T) {
	var buf bytes.Buffer
	r := &MarkdownRenderer{w: &buf}
	r.RenderResult(&Result{Report: swappedReport(), Topology: replicaTopology(), ClusterWarnings: []string{"lagging"}})

	out := buf.String()
	for _, want := range []string{"# dbalter: Online ALTER of `shop.orders`", "**Alter:** `ADD COLUMN note TEXT NULL`", "| Key | `PRIMARY(id)` |", "## Warnings", "- **Cluster:** lagging"} {
		if !strings.Contains(out, want) {
			t.Errorf("markdown output missing %q", want)
		}
	}
}

func TestJSONRenderer_Result(t *testing.T) {
	var buf bytes.Buffer
	r := &JSONRenderer{w: &buf}
	r.RenderResult(&Result{Report: swappedReport(), Topology: replicaTopology()})

	var got map[string]any
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, buf.String())
	}
	if got["succeeded"] != true {
		t.Errorf("succeeded = %v", got["succeeded"])
	}
	if got["phase"] != "done" {
		t.Errorf("phase = %v", got["phase"])
	}
	if got["archive_table"] != "__arc_orders" {
		t.Errorf("archive_table = %v", got["archive_table"])
	}
	copyStats, ok := got["copy"].(map[string]any)
	if !ok || copyStats["rows"] != float64(10050) {
		t.Errorf("copy = %v", got["copy"])
	}
	topo, ok := got["topology"].(map[string]any)
	if !ok || topo["replica_lag_seconds"] != float64(3) {
		t.Errorf("topology = %v", got["topology"])
	}
	if got["rename_attempts"] != float64(2) {
		t.Errorf("rename_attempts = %v", got["rename_attempts"])
	}
	if _, ok := got["table_size_bytes"]; ok {
		t.Error("table_size_bytes present without table metadata")
	}
}

func TestJSONRenderer_Failure(t *testing.T) {
	var buf bytes.Buffer
	r := &JSONRenderer{w: &buf}
	r.RenderResult(&Result{Report: failedReport()})

	var got map[string]any
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if got["succeeded"] != false || got["error"] != "creating shadow table: denied" {
		t.Errorf("got succeeded=%v error=%v", got["succeeded"], got["error"])
	}
	if _, present := got["copy"]; present {
		t.Error("copy stats reported for a run that never chose a key")
	}
}

func TestRenderTopology(t *testing.T) {
	conn := mysql.ConnectionConfig{Host: "db1", Port: 3306}
	topo := replicaTopology()
	warnings := []string{"server is a replica"}

	for _, format := range Formats {
		t.Run(format, func(t *testing.T) {
			var buf bytes.Buffer
			NewRenderer(format, &buf).RenderTopology(conn, topo, warnings)
			out := buf.String()
			if !strings.Contains(out, "db1:3306") {
				t.Errorf("%s output missing address:\n%s", format, out)
			}
			if !strings.Contains(out, "server is a replica") {
				t.Errorf("%s output missing warning", format)
			}
		})
	}
}
