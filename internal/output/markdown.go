package output

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"

	"github.com/nethalo/dbalter/internal/mysql"
	"github.com/nethalo/dbalter/internal/topology"
)

// MarkdownRenderer produces markdown output for change tickets.
type MarkdownRenderer struct {
	w io.Writer
}

func (r *MarkdownRenderer) RenderResult(res *Result) {
	rep := res.Report
	if rep.CleanupOnly {
		fmt.Fprintf(r.w, "# dbalter: Cleanup of `%s.%s`\n\n", rep.Database, rep.Table)
	} else {
		fmt.Fprintf(r.w, "# dbalter: Online ALTER of `%s.%s`\n\n", rep.Database, rep.Table)
		if rep.Alter != "" {
			fmt.Fprintf(r.w, "**Alter:** `%s`\n\n", rep.Alter)
		}
	}

	msg, _ := outcome(rep)
	fmt.Fprintf(r.w, "**Outcome:** %s\n\n", msg)

	fmt.Fprintf(r.w, "| Property | Value |\n|---|---|\n")
	fmt.Fprintf(r.w, "| Run id | `%s` |\n", rep.RunID)
	if !rep.CleanupOnly {
		fmt.Fprintf(r.w, "| Shadow table | `%s` |\n", rep.Ghost)
		fmt.Fprintf(r.w, "| Engine | %s |\n", rep.Engine)
		if size := formatTableSize(res.Table); size != "" {
			fmt.Fprintf(r.w, "| Table size | %s |\n", size)
		}
	}
	if rep.Key != "" {
		fmt.Fprintf(r.w, "| Key | `%s` |\n", rep.Key)
		fmt.Fprintf(r.w, "| Range | %s |\n", formatRange(rep))
		fmt.Fprintf(r.w, "| Lock attempts | %d |\n", rep.LockAttempts)
		fmt.Fprintf(r.w, "| Copy pass | %s |\n", formatPass(&rep.Copy))
		fmt.Fprintf(r.w, "| Delete pass | %s |\n", formatPass(rep.Delete))
	}
	if rep.VerifiedRows != nil {
		fmt.Fprintf(r.w, "| Verified rows | %s |\n", humanize.Comma(*rep.VerifiedRows))
	}
	if res.Topology != nil {
		fmt.Fprintf(r.w, "| Topology | %s |\n", formatTopoType(res.Topology))
	}
	fmt.Fprintf(r.w, "| Duration | %s |\n", formatDuration(rep.Duration))
	fmt.Fprintf(r.w, "| Phases | %s |\n\n", formatPhases(rep.Phases))

	if len(res.ClusterWarnings) > 0 || len(rep.Warnings) > 0 {
		fmt.Fprintf(r.w, "## Warnings\n\n")
		for _, w := range res.ClusterWarnings {
			fmt.Fprintf(r.w, "- **Cluster:** %s\n", w)
		}
		for _, w := range rep.Warnings {
			fmt.Fprintf(r.w, "- %s\n", w)
		}
		fmt.Fprintln(r.w)
	}

	if len(rep.Cleanup) > 0 {
		fmt.Fprintf(r.w, "## Cleanup\n\n")
		for _, c := range rep.Cleanup {
			fmt.Fprintf(r.w, "- %s\n", c)
		}
		fmt.Fprintln(r.w)
	}
}

func (r *MarkdownRenderer) RenderTopology(conn mysql.ConnectionConfig, topo *topology.Info, warnings []string) {
	fmt.Fprintf(r.w, "# dbalter: Connection Info\n\n")
	fmt.Fprintf(r.w, "| Property | Value |\n|---|---|\n")
	fmt.Fprintf(r.w, "| Host | %s |\n", conn.Address())
	fmt.Fprintf(r.w, "| Version | %s |\n", topo.Version.String())
	fmt.Fprintf(r.w, "| Topology | %s |\n", formatTopoType(topo))
	if role := formatRole(topo); role != "" {
		fmt.Fprintf(r.w, "| Role | %s |\n", role)
	}
	fmt.Fprintf(r.w, "| Read only | %v |\n\n", topo.ReadOnly)

	for _, w := range warnings {
		fmt.Fprintf(r.w, "- %s\n", w)
	}
}
