// Package payroll computes the monthly payroll bonus per farmer: the
// goal bonuses paid on top of salary, prior months from settled records
// and the running month from the live scorecard, plus the head's share
// of client commission.
package payroll

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sort"
	"time"

	"farmkpi/internal/kpi"
	"farmkpi/internal/observability"
	"farmkpi/internal/warehouse"
)

// Entry is one farmer's payroll bonus for one month.
type Entry struct {
	Month      time.Time
	MonthLabel string
	FarmerID   int64
	FarmerName string
	Total      float64
}

type Job struct {
	svc       *warehouse.Service
	loader    *warehouse.Loader
	logger    *observability.Logger
	source    string
	reporting string
}

func New(svc *warehouse.Service, loader *warehouse.Loader, logger *observability.Logger, sourceSchema, reportingSchema string) *Job {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Job{
		svc:       svc,
		loader:    loader,
		logger:    logger,
		source:    sourceSchema,
		reporting: reportingSchema,
	}
}

func (j *Job) Name() string { return "payroll" }

func (j *Job) Description() string {
	return "payroll bonus totals per farmer, prior months plus current month"
}

func (j *Job) Run(ctx context.Context, opts kpi.Options) (kpi.Result, error) {
	var result kpi.Result

	prior, err := j.extractPriorMonths(ctx, opts.FarmerID)
	if err != nil {
		return result, err
	}
	current, err := j.extractCurrentMonth(ctx, opts.FarmerID)
	if err != nil {
		return result, err
	}
	result.Extracted = len(prior) + len(current)

	entries := merge(prior, current)

	j.logger.InfoWithFields("payroll dataset assembled", map[string]interface{}{
		"prior":   len(prior),
		"current": len(current),
		"final":   len(entries),
	})

	if opts.DryRun {
		return result, nil
	}

	if err := j.svc.EnsurePayrollBonusTable(ctx, j.reporting); err != nil {
		return result, err
	}
	result.Load, err = j.load(ctx, entries, opts.FarmerID)
	return result, err
}

// bonusCase renders the three goal-bonus CASE terms the payroll total is
// made of. Historical months come out of the warehouse already settled,
// so the scorecard math stays in SQL here.
const bonusCase = `
            CASE
                WHEN COALESCE(tc.total_churn, 0) >= COALESCE(comp.target_churn, 0)
                     AND e.hierarchy_level = 'junior'
                THEN ROUND((COALESCE(tr.total_gross_commission, 0) * COALESCE(comp.junior_churn_bonus, 0)) / 100, 2)
                WHEN COALESCE(tc.total_churn, 0) >= COALESCE(comp.target_churn, 0)
                     AND e.hierarchy_level = 'pleno'
                THEN ROUND((COALESCE(tr.total_gross_commission, 0) * COALESCE(comp.pleno_churn_bonus, 0)) / 100, 2)
                ELSE 0
            END +
            CASE
                WHEN COALESCE(tcap.total_net_capture, 0) >= COALESCE(comp.target_net_capture, 0)
                     AND e.hierarchy_level = 'junior'
                THEN ROUND((COALESCE(tr.total_gross_commission, 0) * COALESCE(comp.junior_referral_bonus, 0)) / 100, 2)
                WHEN COALESCE(tcap.total_net_capture, 0) >= COALESCE(comp.target_net_capture, 0)
                     AND e.hierarchy_level = 'pleno'
                THEN ROUND((COALESCE(tr.total_gross_commission, 0) * COALESCE(comp.pleno_referral_bonus, 0)) / 100, 2)
                ELSE 0
            END +
            CASE
                WHEN COALESCE(tr.total_revenue, 0) >= COALESCE(comp.target_revenue, 0)
                     AND e.hierarchy_level = 'junior'
                THEN ROUND((COALESCE(tr.total_gross_commission, 0) * COALESCE(comp.junior_revenue_bonus, 0)) / 100, 2)
                WHEN COALESCE(tr.total_revenue, 0) >= COALESCE(comp.target_revenue, 0)
                     AND e.hierarchy_level = 'pleno'
                THEN ROUND((COALESCE(tr.total_gross_commission, 0) * COALESCE(comp.pleno_revenue_bonus, 0)) / 100, 2)
                ELSE 0
            END`

// extractPriorMonths walks a generated month calendar from the first
// revenue record to last month and evaluates the goal bonuses per
// farmer per month, plus the head's commission share.
func (j *Job) extractPriorMonths(ctx context.Context, farmerID *int64) ([]Entry, error) {
	query := fmt.Sprintf(`WITH calendar AS (
    SELECT generate_series(
        (SELECT DATE_TRUNC('month', MIN(record_date)) FROM %[1]s.revenue_records),
        DATE_TRUNC('month', CURRENT_DATE) - INTERVAL '1 month',
        INTERVAL '1 month'
    ) AS month
),
total_capture AS (
    SELECT c.farmer_id, DATE_TRUNC('month', ph.record_date) AS month,
           SUM(ph.net_capture) AS total_net_capture
    FROM %[1]s.clients c
    JOIN %[1]s.positivador_historical ph ON ph.client_id = c.client_id
    WHERE ph.record_date IN (SELECT month + INTERVAL '1 month - 1 day' FROM calendar)
    GROUP BY c.farmer_id, DATE_TRUNC('month', ph.record_date)
),
total_churn AS (
    SELECT c.farmer_id, DATE_TRUNC('month', ph.record_date) AS month,
           SUM(ph.churn) AS total_churn
    FROM %[1]s.clients c
    JOIN %[1]s.positivador_historical ph ON ph.client_id = c.client_id
    WHERE ph.record_date IN (SELECT month + INTERVAL '1 month - 1 day' FROM calendar)
    GROUP BY c.farmer_id, DATE_TRUNC('month', ph.record_date)
),
total_revenue AS (
    SELECT c.farmer_id, DATE_TRUNC('month', r.record_date) AS month,
           SUM(r.net_revenue) AS total_revenue,
           SUM(r.gross_commission) AS total_gross_commission
    FROM %[1]s.clients c
    JOIN %[1]s.revenue_records r ON r.client_id = c.client_id
    GROUP BY c.farmer_id, DATE_TRUNC('month', r.record_date)
),
farmer_bonus AS (
    SELECT
        cal.month::date AS month,
        e.employee_id AS farmer_id,
        e.name AS farmer_name,
        COALESCE(%[2]s, 0) AS total
    FROM calendar cal
    JOIN %[1]s.employees e
      ON e.hierarchy_level IN ('junior', 'pleno') AND e.status = 'active'
    LEFT JOIN %[1]s.compensation comp
      ON comp.employee_id = e.employee_id AND comp.target_date = cal.month
    LEFT JOIN total_capture tcap
      ON tcap.farmer_id = e.employee_id AND tcap.month = cal.month
    LEFT JOIN total_churn tc
      ON tc.farmer_id = e.employee_id AND tc.month = cal.month
    LEFT JOIN total_revenue tr
      ON tr.farmer_id = e.employee_id AND tr.month = cal.month
),
head_share AS (
    SELECT
        DATE_TRUNC('month', r.record_date)::date AS month,
        e.employee_id AS farmer_id,
        e.name AS farmer_name,
        SUM(ROUND((COALESCE(r.gross_commission, 0) * COALESCE(c.commission_head, 0) / 100)::NUMERIC, 2)) AS total
    FROM %[1]s.revenue_records r
    JOIN %[1]s.clients c ON c.client_id = r.client_id
    JOIN %[1]s.employees e ON e.employee_id = c.head_id
    WHERE r.record_date BETWEEN
        DATE_TRUNC('month', CURRENT_DATE - INTERVAL '1 month')
        AND (DATE_TRUNC('month', CURRENT_DATE) - INTERVAL '1 day')
    GROUP BY DATE_TRUNC('month', r.record_date), e.employee_id, e.name
)
SELECT month, farmer_id, farmer_name, total FROM farmer_bonus
UNION ALL
SELECT month, farmer_id, farmer_name, total FROM head_share`, j.source, bonusCase)

	return j.queryEntries(ctx, query, farmerID)
}

// extractCurrentMonth evaluates the live scorecard for the running
// month, with commission assembled from the positivador snapshot, COE,
// and structured operations.
func (j *Job) extractCurrentMonth(ctx context.Context, farmerID *int64) ([]Entry, error) {
	query := fmt.Sprintf(`WITH snapshot AS (
    SELECT MAX(record_date) AS snapshot_date
    FROM %[1]s.positivador_historical
    WHERE DATE_TRUNC('month', record_date) = DATE_TRUNC('month', NOW())
),
total_capture AS (
    SELECT c.farmer_id, SUM(ph.net_capture) AS total_net_capture
    FROM %[1]s.clients c
    JOIN %[1]s.positivador_historical ph ON ph.client_id = c.client_id
    WHERE ph.record_date = (SELECT snapshot_date FROM snapshot)
    GROUP BY c.farmer_id
),
total_churn AS (
    SELECT c.farmer_id, SUM(ph.churn) AS total_churn
    FROM %[1]s.clients c
    JOIN %[1]s.positivador_historical ph ON ph.client_id = c.client_id
    WHERE ph.record_date = (SELECT snapshot_date FROM snapshot)
    GROUP BY c.farmer_id
),
total_revenue AS (
    SELECT farmer_id,
           SUM(gross) AS total_revenue,
           SUM(commission) AS total_gross_commission
    FROM (
        SELECT CAST(c.farmer_id AS INTEGER) AS farmer_id,
               COALESCE(ph.bovespa_revenue, 0) +
               COALESCE(ph.futures_revenue, 0) +
               COALESCE(ph.bank_fixed_income_revenue, 0) +
               COALESCE(ph.private_fixed_income_revenue, 0) +
               COALESCE(ph.public_fixed_income_revenue, 0) +
               COALESCE(ph.rent_revenue, 0) AS gross,
               (COALESCE(ph.bovespa_revenue, 0) * 0.665) +
               (COALESCE(ph.futures_revenue, 0) * 0.665) +
               (COALESCE(ph.bank_fixed_income_revenue, 0) * 0.475) +
               (COALESCE(ph.private_fixed_income_revenue, 0) * 0.475) +
               (COALESCE(ph.public_fixed_income_revenue, 0) * 0.475) +
               (COALESCE(ph.rent_revenue, 0) * 0.475) AS commission
        FROM %[1]s.positivador_historical ph
        JOIN %[1]s.clients c ON ph.client_id = c.client_id
        WHERE ph.record_date = (SELECT snapshot_date FROM snapshot)
        UNION ALL
        SELECT CAST(cl.farmer_id AS INTEGER),
               (financial_value * commission_percentage / 100),
               (financial_value * commission_percentage / 100) * 0.95
        FROM %[1]s.coe c
        JOIN %[1]s.clients cl ON c.client_id = cl.client_id
        WHERE c.status = 'Liquidada'
          AND DATE_TRUNC('month', c.date) = DATE_TRUNC('month', NOW())
        UNION ALL
        SELECT CAST(cl.farmer_id AS INTEGER),
               comissao,
               comissao * 0.95
        FROM %[1]s.operacoes_estruturadas oe
        JOIN %[1]s.clients cl ON oe.client_id = cl.client_id
        WHERE DATE_TRUNC('month', oe.data) = DATE_TRUNC('month', NOW())
          AND oe.status_operacao != 'Cancelado'
    ) sources
    GROUP BY farmer_id
)
SELECT
    DATE_TRUNC('month', NOW())::date AS month,
    e.employee_id AS farmer_id,
    e.name AS farmer_name,
    COALESCE(%[2]s, 0) AS total
FROM %[1]s.employees e
LEFT JOIN %[1]s.compensation comp
    ON comp.employee_id = e.employee_id AND comp.target_date = DATE_TRUNC('month', NOW())
LEFT JOIN total_capture tcap ON tcap.farmer_id = e.employee_id
LEFT JOIN total_churn tc ON tc.farmer_id = e.employee_id
LEFT JOIN total_revenue tr ON tr.farmer_id = e.employee_id
WHERE e.hierarchy_level IN ('junior', 'pleno')
  AND e.status = 'active'`, j.source, bonusCase)

	return j.queryEntries(ctx, query, farmerID)
}

func (j *Job) queryEntries(ctx context.Context, query string, farmerID *int64) ([]Entry, error) {
	var args []interface{}
	if farmerID != nil {
		query = fmt.Sprintf("SELECT * FROM (%s) entries WHERE farmer_id = $1", query)
		args = append(args, *farmerID)
	}

	rows, err := j.svc.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var total sql.NullFloat64
		if err := rows.Scan(&e.Month, &e.FarmerID, &e.FarmerName, &total); err != nil {
			return nil, err
		}
		e.Total = total.Float64
		out = append(out, e)
	}
	return out, rows.Err()
}

// merge concatenates prior and current months and dedups on
// (month, farmer), keeping the later occurrence so the live scorecard
// wins over a stale settled row for the same month.
func merge(prior, current []Entry) []Entry {
	type key struct {
		month  time.Time
		farmer int64
	}

	order := make([]key, 0, len(prior)+len(current))
	byKey := make(map[key]Entry)
	for _, e := range append(append([]Entry{}, prior...), current...) {
		k := key{month: e.Month, farmer: e.FarmerID}
		if _, seen := byKey[k]; !seen {
			order = append(order, k)
		}
		byKey[k] = e
	}

	out := make([]Entry, 0, len(order))
	for _, k := range order {
		e := byKey[k]
		e.Total = round2(e.Total)
		e.MonthLabel = monthLabel(e.Month)
		out = append(out, e)
	}
	sort.Slice(out, func(a, b int) bool {
		if !out[a].Month.Equal(out[b].Month) {
			return out[a].Month.Before(out[b].Month)
		}
		return out[a].FarmerID < out[b].FarmerID
	})
	return out
}

func (j *Job) load(ctx context.Context, entries []Entry, farmerID *int64) (warehouse.LoadResult, error) {
	table := j.reporting + ".payroll_bonus"
	columns := []string{
		"month", "month_label", "farmer_id", "farmer_name",
		"total_payroll", "created_at", "updated_at",
	}

	now := time.Now()
	values := make([][]interface{}, len(entries))
	for i, e := range entries {
		values[i] = []interface{}{e.Month, e.MonthLabel, e.FarmerID, e.FarmerName, e.Total, now, now}
	}

	if farmerID != nil {
		return j.loader.Replace(ctx, table, columns, values, "farmer_id = $1", *farmerID)
	}
	return j.loader.Replace(ctx, table, columns, values, "")
}

func monthLabel(t time.Time) string {
	return fmt.Sprintf("%02d/%04d", int(t.Month()), t.Year())
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
