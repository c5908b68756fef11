package ui

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"farmkpi/internal/kpi"
	"farmkpi/internal/warehouse"
)

func TestRenderReports(t *testing.T) {
	reports := []kpi.Report{
		{
			Job:      "farmer-revenue",
			Duration: 2 * time.Second,
			Result: kpi.Result{
				Extracted: 120,
				Load:      warehouse.LoadResult{Deleted: 118, Inserted: 120},
			},
		},
		{
			Job:      "payroll",
			Duration: time.Second,
			Result: kpi.Result{
				Extracted: 40,
				Load:      warehouse.LoadResult{Inserted: 30, Failed: 10},
			},
		},
		{
			Job:      "commission",
			Duration: 500 * time.Millisecond,
			Err:      errors.New("connection refused"),
		},
	}

	var buf bytes.Buffer
	RenderReports(&buf, reports)
	out := buf.String()

	for _, want := range []string{"farmer-revenue", "payroll", "commission", "118", "120", "partial", "failed", "connection refused"} {
		if !strings.Contains(out, want) {
			t.Errorf("report output missing %q:\n%s", want, out)
		}
	}
}

func TestFailureCount(t *testing.T) {
	reports := []kpi.Report{
		{Job: "farmer-revenue"},
		{Job: "commission", Err: errors.New("boom")},
		{Job: "payroll"},
	}
	if got := FailureCount(reports); got != 1 {
		t.Errorf("FailureCount() = %d, want 1", got)
	}
	if got := FailureCount(nil); got != 0 {
		t.Errorf("FailureCount(nil) = %d, want 0", got)
	}
}
