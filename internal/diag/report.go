// Package diag aggregates scanner state into the import diagnostics report.
package diag

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/taikoweb/songindex/internal/store"
)

// RecordDetail is the per-file slice of a group report.
type RecordDetail struct {
	TJAPath     string   `json:"tja_path"`
	Title       string   `json:"title"`
	AudioPath   string   `json:"audio_path,omitempty"`
	ChartCount  int      `json:"chart_count"`
	ValidCharts int      `json:"valid_charts"`
	Issues      []string `json:"issues"`
	Diagnostics []string `json:"diagnostics"`
	SnapshotOK  bool     `json:"snapshot_ok"`
}

// GroupReport summarizes one song group's import health.
type GroupReport struct {
	GroupKey    string         `json:"group_key"`
	SongID      int64          `json:"song_id,omitempty"`
	TotalCharts int            `json:"total_charts"`
	ValidCharts int            `json:"valid_charts"`
	Issues      []string       `json:"issues"`
	Diagnostics []string       `json:"diagnostics"`
	Records     []RecordDetail `json:"records"`
}

// Report is the full diagnostics aggregation over the state store.
type Report struct {
	Groups []GroupReport `json:"groups"`
}

// Build groups state rows by group key. Both output formats derive from the
// structure returned here.
func Build(ctx context.Context, state store.StateStore) (*Report, error) {
	rows, err := state.All(ctx)
	if err != nil {
		return nil, err
	}

	byKey := make(map[string][]*store.StateRow)
	for _, row := range rows {
		byKey[row.GroupKey] = append(byKey[row.GroupKey], row)
	}

	keys := make([]string, 0, len(byKey))
	for key := range byKey {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	report := &Report{Groups: make([]GroupReport, 0, len(keys))}
	for _, key := range keys {
		group := GroupReport{GroupKey: key}
		issues := make(map[string]struct{})
		diagnostics := make(map[string]struct{})

		members := byKey[key]
		sort.Slice(members, func(i, j int) bool { return members[i].TJAPath < members[j].TJAPath })

		for _, row := range members {
			detail := RecordDetail{
				TJAPath:     row.TJAPath,
				AudioPath:   row.AudioPath,
				Issues:      []string{},
				Diagnostics: []string{},
			}
			if rec, ok := row.DecodeSnapshot(); ok {
				detail.SnapshotOK = true
				detail.Title = rec.Title
				detail.ChartCount = len(rec.Charts)
				detail.ValidCharts = rec.ValidChartCount()
				detail.Issues = rec.ImportIssues
				detail.Diagnostics = rec.Diagnostics
			}
			if group.SongID == 0 && row.SongID != 0 {
				group.SongID = row.SongID
			}
			group.TotalCharts += detail.ChartCount
			group.ValidCharts += detail.ValidCharts
			for _, issue := range detail.Issues {
				issues[issue] = struct{}{}
			}
			for _, diag := range detail.Diagnostics {
				diagnostics[diag] = struct{}{}
			}
			group.Records = append(group.Records, detail)
		}

		group.Issues = sortedSet(issues)
		group.Diagnostics = sortedSet(diagnostics)
		report.Groups = append(report.Groups, group)
	}
	return report, nil
}

// Render produces the human-readable text form of the report.
func (r *Report) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d groups\n", len(r.Groups))
	for _, group := range r.Groups {
		fmt.Fprintf(&b, "\n%s (song %d): %d/%d charts valid\n",
			group.GroupKey, group.SongID, group.ValidCharts, group.TotalCharts)
		if len(group.Issues) > 0 {
			fmt.Fprintf(&b, "  issues: %s\n", strings.Join(group.Issues, ", "))
		}
		if len(group.Diagnostics) > 0 {
			fmt.Fprintf(&b, "  diagnostics: %s\n", strings.Join(group.Diagnostics, ", "))
		}
		for _, rec := range group.Records {
			fmt.Fprintf(&b, "  - %s (%d/%d valid)", rec.TJAPath, rec.ValidCharts, rec.ChartCount)
			if !rec.SnapshotOK {
				b.WriteString(" [stale snapshot]")
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

func sortedSet(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
