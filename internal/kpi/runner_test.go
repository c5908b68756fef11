package kpi

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"farmkpi/internal/warehouse"
)

type stubJob struct {
	name   string
	result Result
	err    error
	calls  int
}

func (j *stubJob) Name() string        { return j.name }
func (j *stubJob) Description() string { return j.name }

func (j *stubJob) Run(_ context.Context, _ Options) (Result, error) {
	j.calls++
	return j.result, j.err
}

func TestRunAll(t *testing.T) {
	good := &stubJob{name: "revenue", result: Result{Extracted: 5, Load: warehouse.LoadResult{Inserted: 5}}}
	bad := &stubJob{name: "payroll", err: fmt.Errorf("extract failed")}
	after := &stubJob{name: "commission", result: Result{Extracted: 2}}

	runner := NewRunner(nil, good, bad, after)
	reports := runner.RunAll(context.Background(), Options{})

	require.Len(t, reports, 3)
	assert.NoError(t, reports[0].Err)
	assert.Equal(t, 5, reports[0].Result.Load.Inserted)
	assert.Error(t, reports[1].Err)

	// A failing job never blocks the jobs after it.
	assert.NoError(t, reports[2].Err)
	assert.Equal(t, 1, after.calls)

	// Every execution gets its own run id.
	assert.NotEmpty(t, reports[0].RunID)
	assert.NotEqual(t, reports[0].RunID, reports[1].RunID)
}

func TestRunJob(t *testing.T) {
	job := &stubJob{name: "revenue", result: Result{Extracted: 1}}
	runner := NewRunner(nil, job)

	report, err := runner.RunJob(context.Background(), "revenue", Options{})
	require.NoError(t, err)
	assert.Equal(t, "revenue", report.Job)
	assert.Equal(t, 1, report.Result.Extracted)

	_, err = runner.RunJob(context.Background(), "nonsense", Options{})
	assert.Error(t, err)
}

func TestRunAllStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	first := &stubJob{name: "revenue"}
	second := &stubJob{name: "payroll"}

	firstCancel := &cancelJob{inner: first, cancel: cancel}
	runner := NewRunner(nil, firstCancel, second)

	reports := runner.RunAll(ctx, Options{})
	require.Len(t, reports, 1)
	assert.Equal(t, 0, second.calls)
}

type cancelJob struct {
	inner  *stubJob
	cancel context.CancelFunc
}

func (j *cancelJob) Name() string        { return j.inner.Name() }
func (j *cancelJob) Description() string { return j.inner.Description() }

func (j *cancelJob) Run(ctx context.Context, opts Options) (Result, error) {
	defer j.cancel()
	return j.inner.Run(ctx, opts)
}
