package output

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/nethalo/dbalter/internal/mysql"
	"github.com/nethalo/dbalter/internal/topology"
)

// TextRenderer produces Lip Gloss styled terminal output.
type TextRenderer struct {
	w io.Writer
}

func (r *TextRenderer) RenderResult(res *Result) {
	rep := res.Report
	fmt.Fprintln(r.w)

	title := "dbalter: Online ALTER"
	if rep.CleanupOnly {
		title = "dbalter: Cleanup"
	}
	lines := []string{
		r.labelValue("Table:", fmt.Sprintf("%s.%s", rep.Database, rep.Table)),
	}
	if !rep.CleanupOnly {
		alter := rep.Alter
		if alter == "" {
			alter = MutedText.Render("(none, plain rebuild)")
		} else {
			alter = CodeStyle.Render(alter)
		}
		lines = append(lines,
			r.labelValue("Alter:", alter),
			r.labelValue("Shadow table:", rep.Ghost),
		)
		if rep.Engine != "" {
			lines = append(lines, r.labelValue("Engine:", rep.Engine))
		}
		if size := formatTableSize(res.Table); size != "" {
			lines = append(lines, r.labelValue("Table size:", size))
		}
	}
	lines = append(lines,
		r.labelValue("Run id:", MutedText.Render(rep.RunID)),
		r.labelValue("Duration:", formatDuration(rep.Duration)),
	)
	fmt.Fprintln(r.w, BoxStyle.Render(TitleStyle.Render(title)+"\n"+strings.Join(lines, "\n")))

	if res.Topology != nil && res.Topology.Type != topology.Standalone {
		r.renderTopoBox(res.Topology)
	}
	if !rep.CleanupOnly && rep.Key != "" {
		r.renderChunkingBox(res)
	}

	if len(res.ClusterWarnings) > 0 {
		r.renderWarnings(IconNotice+" Cluster Warning", res.ClusterWarnings)
	}
	if len(rep.Warnings) > 0 {
		r.renderWarnings(IconNotice+" Warning", rep.Warnings)
	}

	r.renderOutcome(res)
	fmt.Fprintln(r.w)
}

func (r *TextRenderer) renderTopoBox(topo *topology.Info) {
	lines := []string{r.labelValue("Type:", formatTopoType(topo))}
	if role := formatRole(topo); role != "" {
		lines = append(lines, r.labelValue("Role:", role))
	}
	if topo.IsReplica {
		lines = append(lines, r.labelValue("Replica lag:", formatLag(topo)))
	}
	fmt.Fprintln(r.w, BoxStyle.Render(TitleStyle.Render("Topology")+"\n"+strings.Join(lines, "\n")))
}

func (r *TextRenderer) renderChunkingBox(res *Result) {
	rep := res.Report
	lines := []string{
		r.labelValue("Key:", rep.Key),
		r.labelValue("Columns copied:", humanize.Comma(int64(len(rep.SharedColumns)))),
		r.labelValue("Range:", formatRange(rep)),
		r.labelValue("Lock attempts:", fmt.Sprintf("%d", rep.LockAttempts)),
		r.labelValue("Copy pass:", formatPass(&rep.Copy)),
		r.labelValue("Delete pass:", formatPass(rep.Delete)),
	}
	if rep.VerifiedRows != nil {
		lines = append(lines, r.labelValue("Verified rows:", humanize.Comma(*rep.VerifiedRows)))
	}
	fmt.Fprintln(r.w, BoxStyle.Render(TitleStyle.Render("Chunking")+"\n"+strings.Join(lines, "\n")))
}

func (r *TextRenderer) renderWarnings(title string, warnings []string) {
	var content strings.Builder
	content.WriteString(NoticeText.Render(title))
	content.WriteString("\n")
	for _, w := range warnings {
		content.WriteString("\n" + w)
	}
	fmt.Fprintln(r.w, NoticeBoxStyle.Render(content.String()))
}

func (r *TextRenderer) renderOutcome(res *Result) {
	rep := res.Report
	msg, kind := outcome(rep)

	var (
		icon  string
		style lipgloss.Style
		text  lipgloss.Style
	)
	switch kind {
	case outcomeSuccess:
		icon, style, text = IconSuccess, SuccessBoxStyle, SuccessText
	case outcomeNotice:
		icon, style, text = IconNotice, NoticeBoxStyle, NoticeText
	default:
		icon, style, text = IconFailure, FailureBoxStyle, FailureText
	}

	var content strings.Builder
	content.WriteString(TitleStyle.Render("Outcome") + "\n")
	content.WriteString(text.Render(icon+" "+msg) + "\n")
	content.WriteString("\n" + MutedText.Render("Phases: "+formatPhases(rep.Phases)))
	for _, c := range rep.Cleanup {
		content.WriteString("\n" + MutedText.Render("cleanup: "+c))
	}
	fmt.Fprintln(r.w, style.Render(content.String()))
}

func (r *TextRenderer) RenderTopology(conn mysql.ConnectionConfig, topo *topology.Info, warnings []string) {
	fmt.Fprintln(r.w)

	lines := []string{
		r.labelValue("Connected to:", conn.Address()),
		r.labelValue("Server version:", topo.Version.String()),
		r.labelValue("Topology:", formatTopoType(topo)),
	}
	switch topo.Type {
	case topology.Galera:
		if topo.WsrepMaxWsSize > 0 {
			lines = append(lines, r.labelValue("Max write set:", humanize.IBytes(uint64(topo.WsrepMaxWsSize))))
		}
		if topo.PXCStrictMode != "" {
			lines = append(lines, r.labelValue("Strict mode:", topo.PXCStrictMode))
		}
	case topology.GroupRepl:
		lines = append(lines, r.labelValue("Members:", fmt.Sprintf("%d online", topo.GRMemberCount)))
	case topology.AsyncReplica, topology.SemiSyncReplica:
		lines = append(lines, r.labelValue("Role:", formatRole(topo)))
		if topo.IsReplica {
			lines = append(lines, r.labelValue("Replica lag:", formatLag(topo)))
		}
	}
	lines = append(lines, r.labelValue("Read only:", fmt.Sprintf("%v", topo.ReadOnly)))

	title := TitleStyle.Render("dbalter: Connection Info")
	fmt.Fprintln(r.w, SuccessBoxStyle.Render(title+"\n"+strings.Join(lines, "\n")))
	if len(warnings) > 0 {
		r.renderWarnings(IconNotice+" Pre-flight Warning", warnings)
	}
	fmt.Fprintln(r.w)
}

func (r *TextRenderer) labelValue(label, value string) string {
	return LabelStyle.Render(label) + " " + value
}
