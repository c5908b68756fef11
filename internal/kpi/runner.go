package kpi

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"farmkpi/internal/observability"
	"farmkpi/pkg/errors"
)

// Runner executes KPI jobs sequentially. Jobs are independent, so one
// failing job never stops the others; its error lands in the report.
type Runner struct {
	logger *observability.Logger
	jobs   []Job
}

func NewRunner(logger *observability.Logger, jobs ...Job) *Runner {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Runner{logger: logger, jobs: jobs}
}

// Jobs returns the registered jobs in execution order.
func (r *Runner) Jobs() []Job {
	return r.jobs
}

// RunAll executes every registered job and returns one report per job.
func (r *Runner) RunAll(ctx context.Context, opts Options) []Report {
	reports := make([]Report, 0, len(r.jobs))
	for _, job := range r.jobs {
		reports = append(reports, r.run(ctx, job, opts))
		if ctx.Err() != nil {
			break
		}
	}
	return reports
}

// RunJob executes the single job with the given name.
func (r *Runner) RunJob(ctx context.Context, name string, opts Options) (Report, error) {
	for _, job := range r.jobs {
		if job.Name() == name {
			return r.run(ctx, job, opts), nil
		}
	}
	return Report{}, errors.New(errors.ErrCodeInvalidInput, fmt.Sprintf("unknown job: %s", name))
}

func (r *Runner) run(ctx context.Context, job Job, opts Options) Report {
	report := Report{
		RunID:   uuid.New().String(),
		Job:     job.Name(),
		Started: time.Now(),
	}

	log := r.logger.WithFields(map[string]interface{}{
		"run_id": report.RunID,
		"job":    report.Job,
	})
	log.Info("job started")

	report.Result, report.Err = job.Run(ctx, opts)
	report.Duration = time.Since(report.Started)

	if report.Err != nil {
		log.ErrorWithFields("job failed", map[string]interface{}{
			"duration": report.Duration.String(),
			"error":    report.Err.Error(),
		})
		return report
	}

	log.InfoWithFields("job finished", map[string]interface{}{
		"duration":  report.Duration.String(),
		"extracted": report.Result.Extracted,
		"inserted":  report.Result.Load.Inserted,
		"failed":    report.Result.Load.Failed,
	})
	return report
}
