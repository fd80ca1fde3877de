package output

import (
	"encoding/json"
	"io"
	"time"

	"github.com/nethalo/dbalter/internal/copier"
	"github.com/nethalo/dbalter/internal/mysql"
	"github.com/nethalo/dbalter/internal/topology"
)

// JSONRenderer produces machine-readable JSON output.
type JSONRenderer struct {
	w io.Writer
}

type jsonResult struct {
	RunID    string `json:"run_id"`
	Database string `json:"database"`
	Table    string `json:"table"`
	Alter    string `json:"alter,omitempty"`
	Ghost    string `json:"shadow_table"`
	Archive  string `json:"archive_table,omitempty"`
	Engine   string `json:"engine,omitempty"`

	TableSizeBytes int64 `json:"table_size_bytes,omitempty"`
	TableRowsEst   int64 `json:"table_rows_estimate,omitempty"`

	Succeeded bool     `json:"succeeded"`
	Outcome   string   `json:"outcome"`
	Phase     string   `json:"phase"`
	Phases    []string `json:"phases"`
	Error     string   `json:"error,omitempty"`

	Key           string   `json:"key,omitempty"`
	SharedColumns []string `json:"shared_columns,omitempty"`
	RangeMin      string   `json:"range_min,omitempty"`
	RangeMax      string   `json:"range_max,omitempty"`
	Empty         bool     `json:"empty,omitempty"`
	LockAttempts  int      `json:"lock_attempts"`

	RenameAttempts int `json:"rename_attempts,omitempty"`

	Copy         *copier.Stats `json:"copy,omitempty"`
	Delete       *copier.Stats `json:"delete,omitempty"`
	VerifiedRows *int64        `json:"verified_rows,omitempty"`

	Swapped      bool `json:"swapped"`
	ArchiveKept  bool `json:"archive_kept,omitempty"`
	TriggersKept bool `json:"triggers_kept,omitempty"`
	CleanupOnly  bool `json:"cleanup_only,omitempty"`

	Topology        *jsonTopology `json:"topology,omitempty"`
	Warnings        []string      `json:"warnings,omitempty"`
	ClusterWarnings []string      `json:"cluster_warnings,omitempty"`
	Cleanup         []string      `json:"cleanup,omitempty"`

	StartedAt  time.Time `json:"started_at"`
	DurationMS int64     `json:"duration_ms"`
}

type jsonTopology struct {
	Type        string `json:"type"`
	Version     string `json:"version"`
	ClusterSize int    `json:"cluster_size,omitempty"`
	GRMode      string `json:"gr_mode,omitempty"`
	IsReplica   bool   `json:"is_replica"`
	IsPrimary   bool   `json:"is_primary"`
	ReplicaLag  *int64 `json:"replica_lag_seconds,omitempty"`
	ReadOnly    bool   `json:"read_only"`
}

func newJSONTopology(topo *topology.Info) *jsonTopology {
	out := &jsonTopology{
		Type:       string(topo.Type),
		Version:    topo.Version.String(),
		IsReplica:  topo.IsReplica,
		IsPrimary:  topo.IsPrimary,
		ReplicaLag: topo.ReplicaLagSecs,
		ReadOnly:   topo.ReadOnly,
	}
	switch topo.Type {
	case topology.Galera:
		out.ClusterSize = topo.GaleraClusterSize
	case topology.GroupRepl:
		out.GRMode = topo.GRMode
		out.ClusterSize = topo.GRMemberCount
	}
	return out
}

func (r *JSONRenderer) RenderResult(res *Result) {
	rep := res.Report
	msg, _ := outcome(rep)

	out := jsonResult{
		RunID:           rep.RunID,
		Database:        rep.Database,
		Table:           rep.Table,
		Alter:           rep.Alter,
		Ghost:           rep.Ghost,
		Engine:          rep.Engine,
		Succeeded:       rep.Succeeded(),
		Outcome:         msg,
		Phase:           rep.Phase.String(),
		Error:           rep.Error,
		Key:             rep.Key,
		SharedColumns:   rep.SharedColumns,
		RangeMin:        rep.RangeMin,
		RangeMax:        rep.RangeMax,
		Empty:           rep.Empty,
		LockAttempts:    rep.LockAttempts,
		RenameAttempts:  rep.RenameAttempts,
		Delete:          rep.Delete,
		VerifiedRows:    rep.VerifiedRows,
		Swapped:         rep.Swapped,
		ArchiveKept:     rep.ArchiveKept,
		TriggersKept:    rep.TriggersKept,
		CleanupOnly:     rep.CleanupOnly,
		Warnings:        rep.Warnings,
		ClusterWarnings: res.ClusterWarnings,
		Cleanup:         rep.Cleanup,
		StartedAt:       rep.StartedAt,
		DurationMS:      rep.Duration.Milliseconds(),
	}
	if res.Table != nil {
		out.TableSizeBytes = res.Table.TotalSize()
		out.TableRowsEst = res.Table.RowCount
	}
	for _, p := range rep.Phases {
		out.Phases = append(out.Phases, p.String())
	}
	if rep.Swapped || rep.ArchiveKept {
		out.Archive = rep.Archive
	}
	if rep.Key != "" {
		stats := rep.Copy
		out.Copy = &stats
	}
	if res.Topology != nil {
		out.Topology = newJSONTopology(res.Topology)
	}

	enc := json.NewEncoder(r.w)
	enc.SetIndent("", "  ")
	enc.Encode(out)
}

func (r *JSONRenderer) RenderTopology(conn mysql.ConnectionConfig, topo *topology.Info, warnings []string) {
	out := struct {
		Address  string        `json:"address"`
		Topology *jsonTopology `json:"topology"`
		Warnings []string      `json:"warnings,omitempty"`
	}{
		Address:  conn.Address(),
		Topology: newJSONTopology(topo),
		Warnings: warnings,
	}

	enc := json.NewEncoder(r.w)
	enc.SetIndent("", "  ")
	enc.Encode(out)
}
