package kpi

import (
	"context"
	"time"

	"farmkpi/internal/warehouse"
)

// Options are the knobs shared by every KPI job. A nil FarmerID means
// the job recomputes the metric for all farmers; a set one scopes both
// the extraction and the destructive part of the load to that farmer.
type Options struct {
	FarmerID   *int64
	MonthsBack int
	DryRun     bool
}

// Result summarizes one job execution.
type Result struct {
	Extracted int
	Load      warehouse.LoadResult
}

// Job is one batch KPI computation: extract from the source schema,
// reshape in memory, replace the destination table.
type Job interface {
	Name() string
	Description() string
	Run(ctx context.Context, opts Options) (Result, error)
}

// Report is the runner's record of one job execution.
type Report struct {
	RunID    string
	Job      string
	Started  time.Time
	Duration time.Duration
	Result   Result
	Err      error
}
