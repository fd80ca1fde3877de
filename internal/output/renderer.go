// Package output renders migration reports and connection info.
package output

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/nethalo/dbalter/internal/copier"
	"github.com/nethalo/dbalter/internal/migration"
	"github.com/nethalo/dbalter/internal/mysql"
	"github.com/nethalo/dbalter/internal/topology"
)

// Result is everything shown after a run.
type Result struct {
	Report *migration.Report
	// Topology is nil when detection was skipped or failed.
	Topology        *topology.Info
	ClusterWarnings []string
	// Table holds size and row estimates taken before the run; may be nil.
	Table *mysql.TableMetadata
}

// Renderer defines the output interface.
type Renderer interface {
	RenderResult(res *Result)
	RenderTopology(conn mysql.ConnectionConfig, topo *topology.Info, warnings []string)
}

// NewRenderer creates a renderer for the given format.
func NewRenderer(format string, w io.Writer) Renderer {
	switch format {
	case "json":
		return &JSONRenderer{w: w}
	case "markdown":
		return &MarkdownRenderer{w: w}
	case "plain":
		return &PlainRenderer{w: w}
	default:
		return &TextRenderer{w: w}
	}
}

// Formats lists the accepted --format values.
var Formats = []string{"text", "plain", "json", "markdown"}

type outcomeKind int

const (
	outcomeSuccess outcomeKind = iota
	outcomeNotice
	outcomeFailure
)

// outcome summarises how the run ended in one sentence.
func outcome(r *migration.Report) (string, outcomeKind) {
	switch {
	case r.CleanupOnly:
		for _, c := range r.Cleanup {
			if strings.Contains(c, ": ") {
				return "Cleanup finished with errors.", outcomeNotice
			}
		}
		return "Cleanup finished, leftovers removed.", outcomeSuccess
	case r.Phase == migration.Failed:
		return fmt.Sprintf("Failed during %s: %s", failedIn(r), r.Error), outcomeFailure
	case r.TriggersKept:
		return fmt.Sprintf("Shadow table %s is in sync. Capture triggers stay in place until it is swapped or dropped.", r.Ghost), outcomeNotice
	case r.Swapped && r.ArchiveKept:
		return fmt.Sprintf("%s swapped. The original table is kept as %s.", r.Table, r.Archive), outcomeSuccess
	case r.Swapped:
		return fmt.Sprintf("%s swapped. The original table was dropped.", r.Table), outcomeSuccess
	}
	return fmt.Sprintf("Stopped in phase %s.", r.Phase), outcomeNotice
}

// failedIn returns the last phase reached before Failed.
func failedIn(r *migration.Report) migration.Phase {
	if n := len(r.Phases); n >= 2 && r.Phases[n-1] == migration.Failed {
		return r.Phases[n-2]
	}
	return r.Phase
}

func formatPass(s *copier.Stats) string {
	if s == nil {
		return "skipped"
	}
	out := fmt.Sprintf("%s chunks, %s rows", humanize.Comma(int64(s.Chunks)), humanize.Comma(s.Rows))
	if s.Retries > 0 {
		out += fmt.Sprintf(", %d retries", s.Retries)
	}
	out += " in " + formatDuration(s.Elapsed)
	if s.StoppedEarly {
		out += " (stopped on an empty chunk)"
	}
	return out
}

// formatTableSize renders the pre-run size estimate, or "" without one.
func formatTableSize(meta *mysql.TableMetadata) string {
	if meta == nil {
		return ""
	}
	return fmt.Sprintf("%s, ~%s rows", meta.TotalSizeHuman(), humanize.Comma(meta.RowCount))
}

func formatRange(r *migration.Report) string {
	if r.Empty {
		return "empty table"
	}
	if r.RangeMin == "" && r.RangeMax == "" {
		return "-"
	}
	return fmt.Sprintf("[%s .. %s]", r.RangeMin, r.RangeMax)
}

func formatPhases(phases []migration.Phase) string {
	names := make([]string, len(phases))
	for i, p := range phases {
		names[i] = p.String()
	}
	return strings.Join(names, " > ")
}

func formatDuration(d time.Duration) string {
	switch {
	case d >= time.Minute:
		return d.Round(time.Second).String()
	case d >= time.Second:
		return d.Round(10 * time.Millisecond).String()
	}
	return d.Round(time.Millisecond).String()
}

func formatTopoType(topo *topology.Info) string {
	switch topo.Type {
	case topology.Galera:
		return fmt.Sprintf("Galera/PXC (%d nodes)", topo.GaleraClusterSize)
	case topology.GroupRepl:
		return fmt.Sprintf("Group Replication (%s, %d members)", topo.GRMode, topo.GRMemberCount)
	case topology.AsyncReplica:
		return "Async Replication"
	case topology.SemiSyncReplica:
		return "Semi-sync Replication"
	default:
		return "Standalone"
	}
}

func formatRole(topo *topology.Info) string {
	switch {
	case topo.IsReplica && topo.IsPrimary:
		return "Replica with replicas"
	case topo.IsReplica:
		return "Replica"
	case topo.IsPrimary:
		return "Primary (has replicas)"
	}
	return ""
}

func formatLag(topo *topology.Info) string {
	if topo.ReplicaLagSecs == nil {
		return "N/A"
	}
	return fmt.Sprintf("%d seconds", *topo.ReplicaLagSecs)
}
