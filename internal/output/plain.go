package output

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"

	"github.com/nethalo/dbalter/internal/mysql"
	"github.com/nethalo/dbalter/internal/topology"
)

// PlainRenderer produces unformatted text output safe for piping.
type PlainRenderer struct {
	w io.Writer
}

func (r *PlainRenderer) RenderResult(res *Result) {
	rep := res.Report
	if rep.CleanupOnly {
		fmt.Fprintf(r.w, "=== dbalter: Cleanup ===\n\n")
	} else {
		fmt.Fprintf(r.w, "=== dbalter: Online ALTER ===\n\n")
	}

	fmt.Fprintf(r.w, "Table:          %s.%s\n", rep.Database, rep.Table)
	if !rep.CleanupOnly {
		fmt.Fprintf(r.w, "Alter:          %s\n", rep.Alter)
		fmt.Fprintf(r.w, "Shadow table:   %s\n", rep.Ghost)
		fmt.Fprintf(r.w, "Engine:         %s\n", rep.Engine)
		if size := formatTableSize(res.Table); size != "" {
			fmt.Fprintf(r.w, "Table size:     %s\n", size)
		}
	}
	fmt.Fprintf(r.w, "Run id:         %s\n", rep.RunID)
	fmt.Fprintf(r.w, "Duration:       %s\n", formatDuration(rep.Duration))
	fmt.Fprintln(r.w)

	if res.Topology != nil && res.Topology.Type != topology.Standalone {
		fmt.Fprintf(r.w, "--- Topology ---\n")
		fmt.Fprintf(r.w, "Type:           %s\n", formatTopoType(res.Topology))
		fmt.Fprintln(r.w)
	}

	if !rep.CleanupOnly && rep.Key != "" {
		fmt.Fprintf(r.w, "--- Chunking ---\n")
		fmt.Fprintf(r.w, "Key:            %s\n", rep.Key)
		fmt.Fprintf(r.w, "Range:          %s\n", formatRange(rep))
		fmt.Fprintf(r.w, "Lock attempts:  %d\n", rep.LockAttempts)
		fmt.Fprintf(r.w, "Copy pass:      %s\n", formatPass(&rep.Copy))
		fmt.Fprintf(r.w, "Delete pass:    %s\n", formatPass(rep.Delete))
		if rep.VerifiedRows != nil {
			fmt.Fprintf(r.w, "Verified rows:  %s\n", humanize.Comma(*rep.VerifiedRows))
		}
		fmt.Fprintln(r.w)
	}

	for _, w := range res.ClusterWarnings {
		fmt.Fprintf(r.w, "CLUSTER WARNING: %s\n", w)
	}
	for _, w := range rep.Warnings {
		fmt.Fprintf(r.w, "WARNING: %s\n", w)
	}
	if len(rep.Warnings) > 0 || len(res.ClusterWarnings) > 0 {
		fmt.Fprintln(r.w)
	}

	msg, _ := outcome(rep)
	fmt.Fprintf(r.w, "--- Outcome ---\n")
	fmt.Fprintf(r.w, "%s\n", msg)
	fmt.Fprintf(r.w, "Phases:         %s\n", formatPhases(rep.Phases))
	for _, c := range rep.Cleanup {
		fmt.Fprintf(r.w, "Cleanup:        %s\n", c)
	}
}

func (r *PlainRenderer) RenderTopology(conn mysql.ConnectionConfig, topo *topology.Info, warnings []string) {
	fmt.Fprintf(r.w, "=== dbalter: Connection Info ===\n\n")
	fmt.Fprintf(r.w, "Connected to:   %s\n", conn.Address())
	fmt.Fprintf(r.w, "Version:        %s\n", topo.Version.String())
	fmt.Fprintf(r.w, "Topology:       %s\n", formatTopoType(topo))
	fmt.Fprintf(r.w, "Read only:      %v\n", topo.ReadOnly)

	switch topo.Type {
	case topology.Galera:
		fmt.Fprintf(r.w, "Cluster size:   %d nodes\n", topo.GaleraClusterSize)
		fmt.Fprintf(r.w, "Strict mode:    %s\n", topo.PXCStrictMode)
	case topology.GroupRepl:
		fmt.Fprintf(r.w, "Mode:           %s\n", topo.GRMode)
		fmt.Fprintf(r.w, "Members:        %d\n", topo.GRMemberCount)
	case topology.AsyncReplica, topology.SemiSyncReplica:
		fmt.Fprintf(r.w, "Role:           %s\n", formatRole(topo))
		if topo.IsReplica {
			fmt.Fprintf(r.w, "Replica lag:    %s\n", formatLag(topo))
		}
	}

	for _, w := range warnings {
		fmt.Fprintf(r.w, "WARNING: %s\n", w)
	}
}
