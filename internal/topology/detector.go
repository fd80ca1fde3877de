// Package topology detects how the target server replicates, so an online
// ALTER can be warned about before it starts writing.
package topology

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"github.com/nethalo/dbalter/internal/mysql"
)

// Type represents the detected MySQL topology.
type Type string

const (
	Standalone      Type = "standalone"
	AsyncReplica    Type = "async-replica"
	SemiSyncReplica Type = "semisync-replica"
	Galera          Type = "galera"
	GroupRepl       Type = "group-replication"
)

// Info holds the topology facts relevant to an online ALTER.
type Info struct {
	Type    Type
	Version mysql.ServerVersion

	// Replication (async/semisync)
	IsReplica      bool
	IsPrimary      bool // has replicas attached
	ReplicaLagSecs *int64

	// Galera / PXC
	GaleraClusterSize int
	WsrepMaxWsSize    int64  // bytes
	PXCStrictMode     string // ENFORCING, PERMISSIVE, ...

	// Group Replication
	GRMode        string // SINGLE-PRIMARY or MULTI-PRIMARY
	GRMemberCount int

	ReadOnly      bool
	SuperReadOnly bool
}

// Detect determines the topology of the server behind q.
func Detect(ctx context.Context, q mysql.Querier) (*Info, error) {
	info := &Info{}

	version, err := mysql.GetServerVersion(ctx, q)
	if err != nil {
		return nil, err
	}
	info.Version = version

	ro, err := mysql.GetVariable(ctx, q, "read_only")
	if err != nil {
		return nil, err
	}
	info.ReadOnly = ro == "ON"
	sro, _ := mysql.GetVariable(ctx, q, "super_read_only")
	info.SuperReadOnly = sro == "ON"

	if detected, err := detectGalera(ctx, q, info); err != nil {
		return nil, err
	} else if detected {
		return info, nil
	}

	if detected, err := detectGroupReplication(ctx, q, info); err != nil {
		return nil, err
	} else if detected {
		return info, nil
	}

	if detected := detectReplication(ctx, q, info); detected {
		return info, nil
	}

	info.Type = Standalone
	return info, nil
}

func detectGalera(ctx context.Context, q mysql.Querier, info *Info) (bool, error) {
	clusterSize, err := mysql.GetStatus(ctx, q, "wsrep_cluster_size")
	if err != nil {
		return false, err
	}
	size, _ := strconv.Atoi(clusterSize)
	if size == 0 {
		return false, nil
	}

	info.Type = Galera
	info.GaleraClusterSize = size
	info.WsrepMaxWsSize, _ = mysql.GetVariableInt(ctx, q, "wsrep_max_ws_size")
	info.PXCStrictMode, _ = mysql.GetVariable(ctx, q, "pxc_strict_mode")
	return true, nil
}

func detectGroupReplication(ctx context.Context, q mysql.Querier, info *Info) (bool, error) {
	group, err := mysql.GetVariable(ctx, q, "group_replication_group_name")
	if err != nil {
		return false, err
	}
	if group == "" {
		return false, nil
	}

	info.Type = GroupRepl
	singlePrimary, _ := mysql.GetVariable(ctx, q, "group_replication_single_primary_mode")
	if singlePrimary == "ON" {
		info.GRMode = "SINGLE-PRIMARY"
	} else {
		info.GRMode = "MULTI-PRIMARY"
	}

	var count int
	err = q.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM performance_schema.replication_group_members
		WHERE MEMBER_STATE = 'ONLINE'
	`).Scan(&count)
	if err == nil {
		info.GRMemberCount = count
	}
	return true, nil
}

// detectReplication treats failures as "not replicating": the replica
// status statements need privileges a migration user may lack.
func detectReplication(ctx context.Context, q mysql.Querier, info *Info) bool {
	detected := false

	if lag, ok := replicaStatus(ctx, q, info.Version.ReplicaStatusStatement()); ok {
		info.IsReplica = true
		info.ReplicaLagSecs = lag
		detected = true
	}

	var replicas int
	err := q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM information_schema.PROCESSLIST WHERE COMMAND IN ('Binlog Dump', 'Binlog Dump GTID')",
	).Scan(&replicas)
	if err == nil && replicas > 0 {
		info.IsPrimary = true
		detected = true
	}

	if !detected {
		return false
	}

	semiSync, _ := mysql.GetVariable(ctx, q, "rpl_semi_sync_source_enabled")
	if semiSync == "" {
		semiSync, _ = mysql.GetVariable(ctx, q, "rpl_semi_sync_master_enabled")
	}
	if semiSync == "ON" {
		info.Type = SemiSyncReplica
	} else {
		info.Type = AsyncReplica
	}
	return true
}

func replicaStatus(ctx context.Context, q mysql.Querier, stmt string) (*int64, bool) {
	rows, err := q.QueryContext(ctx, stmt)
	if err != nil {
		return nil, false
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, false
	}

	cols, err := rows.Columns()
	if err != nil {
		return nil, true
	}
	values := make([]sql.NullString, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, true
	}

	for i, col := range cols {
		switch col {
		case "Seconds_Behind_Source", "Seconds_Behind_Master":
			if values[i].Valid {
				if lag, err := strconv.ParseInt(values[i].String, 10, 64); err == nil {
					return &lag, true
				}
			}
		}
	}
	return nil, true
}

// Checks carries the migration settings the warnings depend on.
type Checks struct {
	SkipBinlog bool
	LockChunks bool
}

// Warnings returns the pre-flight warnings for running an online ALTER on a
// server with this topology.
func Warnings(info *Info, c Checks) []string {
	var out []string

	if info.SuperReadOnly || info.ReadOnly {
		out = append(out, "server is read only: the shadow table cannot be created unless the user has SUPER/CONNECTION_ADMIN and super_read_only is OFF")
	}

	switch info.Type {
	case Galera:
		out = append(out, fmt.Sprintf("Galera/PXC node in a %d node cluster: every chunk is one write set replicated to all nodes", info.GaleraClusterSize))
		if info.PXCStrictMode == "ENFORCING" || info.PXCStrictMode == "MASTER" {
			out = append(out, "pxc_strict_mode="+info.PXCStrictMode+" rejects LOCK TABLES: the range snapshot will fail")
		}
		if info.WsrepMaxWsSize > 0 {
			out = append(out, fmt.Sprintf("wsrep_max_ws_size is %d bytes: keep chunk size small enough for one chunk to fit", info.WsrepMaxWsSize))
		}
	case GroupRepl:
		if info.GRMode == "MULTI-PRIMARY" {
			out = append(out, "group replication in multi-primary mode: table locks only hold on this member and concurrent writes elsewhere can conflict")
		}
	}

	if info.IsReplica {
		msg := "server is a replica: altering it directly makes its schema differ from its source"
		if info.ReplicaLagSecs != nil {
			msg += fmt.Sprintf(" (lag %ds)", *info.ReplicaLagSecs)
		}
		out = append(out, msg)
	}
	if info.IsPrimary && c.SkipBinlog {
		out = append(out, "--skip-binlog on a server with replicas: the shadow table, the triggers and the rename do not replicate, so replicas keep the old table")
	}
	if info.IsPrimary && !c.SkipBinlog {
		out = append(out, "server has replicas: chunk writes replicate and may add replica lag, use --sleep or --sleep-ratio to throttle")
	}
	if c.SkipBinlog && info.Type == Galera {
		out = append(out, "--skip-binlog has no effect on Galera replication")
	}
	if c.LockChunks && info.Type == Galera {
		out = append(out, "--lock-chunks issues LOCK TABLES for every chunk, which Galera does not replicate")
	}
	return out
}
