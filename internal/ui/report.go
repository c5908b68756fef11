package ui

import (
	"fmt"
	"io"
	"strconv"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"farmkpi/internal/kpi"
)

// RenderReports writes a summary table of job executions. Row counts
// come straight from each job's load result so the operator can spot
// rejected batches without digging through logs.
func RenderReports(w io.Writer, reports []kpi.Report) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Job", "Status", "Extracted", "Deleted", "Inserted", "Failed", "Duration"})
	table.SetBorder(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)

	for _, r := range reports {
		status := color.GreenString("ok")
		if r.Err != nil {
			status = color.RedString("failed")
		} else if r.Result.Load.Failed > 0 {
			status = color.YellowString("partial")
		}

		table.Append([]string{
			r.Job,
			status,
			strconv.Itoa(r.Result.Extracted),
			strconv.FormatInt(r.Result.Load.Deleted, 10),
			strconv.Itoa(r.Result.Load.Inserted),
			strconv.Itoa(r.Result.Load.Failed),
			formatDuration(r.Duration),
		})
	}

	table.Render()

	for _, r := range reports {
		if r.Err != nil {
			fmt.Fprintf(w, "\n%s %s: %v\n", color.RedString("✗"), r.Job, r.Err)
		}
	}
}

// FailureCount returns how many reports ended in an error.
func FailureCount(reports []kpi.Report) int {
	n := 0
	for _, r := range reports {
		if r.Err != nil {
			n++
		}
	}
	return n
}
