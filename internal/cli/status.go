package cli

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/forPelevin/reelplan/internal/pipeline"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func runStatus(cmd *cobra.Command, projectID string) error {
	p, _, _, err := setup(cmd)
	if err != nil {
		return err
	}
	limit, _ := cmd.Flags().GetInt("limit")
	rep, err := p.Status(cmd.Context(), projectID, limit)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), renderStatus(rep))
	return nil
}

func renderStatus(rep pipeline.StatusReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Project %s\n", rep.ProjectID)

	if len(rep.Jobs) == 0 {
		b.WriteString("No job records.\n")
	} else {
		rows := make([][]string, 0, len(rep.Jobs))
		for _, j := range rep.Jobs {
			ended := j.CompletedAt
			if ended == nil {
				ended = j.FinishedAt
			}
			rows = append(rows, []string{
				j.Flow, j.Status, formatTime(j.StartedAt), formatTimePtr(ended),
				strconv.Itoa(len(j.RetryEvents)), j.Error,
			})
		}
		b.WriteString(renderTable(
			[]string{"Flow", "Status", "Started", "Ended", "Retries", "Error"},
			rows,
			[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
		))
		b.WriteString("\n")
	}

	if len(rep.Runs) == 0 {
		b.WriteString("No recorded runs.\n")
		return b.String()
	}
	rows := make([][]string, 0, len(rep.Runs))
	for _, r := range rep.Runs {
		rows = append(rows, []string{
			r.Flow, r.Outcome, formatTime(r.FinishedAt),
			formatDuration(r.FinishedAt.Sub(r.StartedAt)), slowestStage(r.StageDurationsMs), r.Error,
		})
	}
	b.WriteString(renderTable(
		[]string{"Flow", "Outcome", "Finished", "Took", "Slowest stage", "Error"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
	))
	b.WriteString("\n")
	return b.String()
}

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i := range headers {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)
	for _, row := range rows {
		r := make(table.Row, columns)
		for i := 0; i < columns; i++ {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		configs = append(configs, table.ColumnConfig{Number: i + 1, Align: align, AlignHeader: text.AlignLeft})
	}
	tw.SetColumnConfigs(configs)
	return tw.Render()
}

func slowestStage(stages map[string]int64) string {
	if len(stages) == 0 {
		return "-"
	}
	names := make([]string, 0, len(stages))
	for k := range stages {
		names = append(names, k)
	}
	sort.Slice(names, func(i, j int) bool {
		if stages[names[i]] != stages[names[j]] {
			return stages[names[i]] > stages[names[j]]
		}
		return names[i] < names[j]
	})
	return fmt.Sprintf("%s (%dms)", names[0], stages[names[0]])
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return formatTime(*t)
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return d.Round(100 * time.Millisecond).String()
}
