// Package commission computes the monthly commission closing per
// farmer: gross commission for the month plus the churn, capture, and
// revenue bonus scorecard against the compensation targets.
package commission

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

const (
	coeCommissionRate   = 0.95
	bovespaFuturesRate  = 0.665
	fixedIncomeRentRate = 0.475

	// Goal statuses written to the closing table.
	StatusMet    = "met"
	StatusMissed = "missed"

	HierarchyJunior = "junior"
	HierarchyPleno  = "pleno"
)

// Metrics is one farmer's raw month: totals on the left, compensation
// targets and bonus percentages on the right. Bonus math happens in
// computeClosing, not in SQL.
type Metrics struct {
	FarmerID        int64
	FarmerName      string
	Hierarchy       string
	SnapshotDate    *time.Time
	ChurnTotal      float64
	ChurnTarget     float64
	CaptureTotal    float64
	CaptureTarget   float64
	RevenueTotal    float64
	RevenueTarget   float64
	GrossCommission float64

	ChurnBonusPct   float64
	CaptureBonusPct float64
	RevenueBonusPct float64
}

// ClosingRow is one destination row of the commission_closing table.
type ClosingRow struct {
	Month           time.Time
	MonthLabel      string
	FarmerID        int64
	FarmerName      string
	Hierarchy       string
	SnapshotDate    *time.Time
	ChurnTotal      float64
	ChurnTarget     float64
	ChurnStatus     string
	ChurnBonus      float64
	CaptureTotal    float64
	CaptureTarget   float64
	CaptureStatus   string
	CaptureBonus    float64
	RevenueTotal    float64
	RevenueTarget   float64
	RevenueStatus   string
	RevenueBonus    float64
	GrossCommission float64
	BonusTotal      float64
	IsCurrentMonth  bool
}

type Job struct {
	svc       *warehouse.Service
	loader    *warehouse.Loader
	logger    *observability.Logger
	source    string
	reporting string
	current   bool
}

// New creates the closing job for either the running month or the one
// before it. The two variants write to the same table, told apart by
// is_current_month.
func New(svc *warehouse.Service, loader *warehouse.Loader, logger *observability.Logger, sourceSchema, reportingSchema string, currentMonth bool) *Job {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Job{
		svc:       svc,
		loader:    loader,
		logger:    logger,
		source:    sourceSchema,
		reporting: reportingSchema,
		current:   currentMonth,
	}
}

func (j *Job) Name() string {
	if j.current {
		return "commission"
	}
	return "commission-past"
}

func (j *Job) Description() string {
	if j.current {
		return "commission closing scorecard for the current month"
	}
	return "commission closing scorecard for the previous month"
}

func (j *Job) Run(ctx context.Context, opts kpi.Options) (kpi.Result, error) {
	var result kpi.Result

	target := targetMonth(time.Now().UTC(), j.current)

	metrics, err := j.extract(ctx, target, opts.FarmerID)
	if err != nil {
		return result, err
	}
	result.Extracted = len(metrics)

	rows := make([]ClosingRow, len(metrics))
	for i, m := range metrics {
		rows[i] = computeClosing(m, target, j.current)
	}
	sort.Slice(rows, func(a, b int) bool { return rows[a].FarmerID < rows[b].FarmerID })

	j.logger.InfoWithFields("closing scorecard computed", map[string]interface{}{
		"month":   rows0Label(rows, target),
		"farmers": len(rows),
		"current": j.current,
	})

	if opts.DryRun {
		return result, nil
	}

	if err := j.svc.EnsureCommissionClosingTable(ctx, j.reporting); err != nil {
		return result, err
	}
	result.Load, err = j.load(ctx, rows, target, opts.FarmerID)
	return result, err
}

// targetMonth truncates now to the first day of the month being closed.
func targetMonth(now time.Time, current bool) time.Time {
	month := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	if current {
		return month
	}
	return month.AddDate(0, -1, 0)
}

func (j *Job) extract(ctx context.Context, target time.Time, farmerID *int64) ([]Metrics, error) {
	query := fmt.Sprintf(`WITH snapshot AS (
    SELECT MAX(record_date) AS snapshot_date
    FROM %[1]s.positivador_historical
    WHERE DATE_TRUNC('month', record_date) = $1::date
),
churn_totals AS (
    SELECT CAST(c.farmer_id AS INTEGER) AS farmer_id, SUM(ph.churn) AS total
    FROM %[1]s.clients c
    JOIN %[1]s.positivador_historical ph ON ph.client_id = c.client_id
    WHERE ph.record_date = (SELECT snapshot_date FROM snapshot)
    GROUP BY c.farmer_id
),
capture_totals AS (
    SELECT CAST(c.farmer_id AS INTEGER) AS farmer_id, SUM(ph.net_capture) AS total
    FROM %[1]s.clients c
    JOIN %[1]s.positivador_historical ph ON ph.client_id = c.client_id
    WHERE ph.record_date = (SELECT snapshot_date FROM snapshot)
    GROUP BY c.farmer_id
),
%[2]s
SELECT
    e.employee_id,
    e.name,
    e.hierarchy_level,
    (SELECT snapshot_date FROM snapshot),
    COALESCE(ct.total, 0),
    COALESCE(comp.target_churn, 0),
    COALESCE(cap.total, 0),
    COALESCE(comp.target_net_capture, 0),
    COALESCE(rt.revenue_total, 0),
    COALESCE(comp.target_revenue, 0),
    COALESCE(rt.gross_commission, 0),
    CASE WHEN e.hierarchy_level = 'junior' THEN COALESCE(comp.junior_churn_bonus, 0) ELSE COALESCE(comp.pleno_churn_bonus, 0) END,
    CASE WHEN e.hierarchy_level = 'junior' THEN COALESCE(comp.junior_referral_bonus, 0) ELSE COALESCE(comp.pleno_referral_bonus, 0) END,
    CASE WHEN e.hierarchy_level = 'junior' THEN COALESCE(comp.junior_revenue_bonus, 0) ELSE COALESCE(comp.pleno_revenue_bonus, 0) END
FROM %[1]s.employees e
LEFT JOIN %[1]s.compensation comp
    ON comp.employee_id = e.employee_id AND comp.target_date = $1::date
LEFT JOIN churn_totals ct ON ct.farmer_id = e.employee_id
LEFT JOIN capture_totals cap ON cap.farmer_id = e.employee_id
LEFT JOIN revenue_totals rt ON rt.farmer_id = e.employee_id
WHERE e.hierarchy_level IN ('junior', 'pleno')
  AND e.status = 'active'`, j.source, j.revenueCTE())

	args := []interface{}{target}
	if farmerID != nil {
		query += " AND e.employee_id = $2"
		args = append(args, *farmerID)
	}

	rows, err := j.svc.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Metrics
	for rows.Next() {
		var m Metrics
		var snapshot sql.NullTime
		var churn, churnTarget, capture, captureTarget, revenue, revenueTarget, gross sql.NullFloat64
		var churnPct, capturePct, revenuePct sql.NullFloat64
		if err := rows.Scan(
			&m.FarmerID, &m.FarmerName, &m.Hierarchy, &snapshot,
			&churn, &churnTarget, &capture, &captureTarget,
			&revenue, &revenueTarget, &gross,
			&churnPct, &capturePct, &revenuePct,
		); err != nil {
			return nil, err
		}
		if snapshot.Valid {
			d := snapshot.Time
			m.SnapshotDate = &d
		}
		m.ChurnTotal = churn.Float64
		m.ChurnTarget = churnTarget.Float64
		m.CaptureTotal = capture.Float64
		m.CaptureTarget = captureTarget.Float64
		m.RevenueTotal = revenue.Float64
		m.RevenueTarget = revenueTarget.Float64
		m.GrossCommission = gross.Float64
		m.ChurnBonusPct = churnPct.Float64
		m.CaptureBonusPct = capturePct.Float64
		m.RevenueBonusPct = revenuePct.Float64
		out = append(out, m)
	}
	return out, rows.Err()
}

// revenueCTE yields the month's revenue and gross commission per farmer.
// The closed month reads the settled historical records; the running
// month is assembled from the positivador snapshot, settled COE notes,
// and non-cancelled structured operations, like the revenue job.
func (j *Job) revenueCTE() string {
	if !j.current {
		return fmt.Sprintf(`revenue_totals AS (
    SELECT CAST(c.farmer_id AS INTEGER) AS farmer_id,
           SUM(rrh.net_revenue) AS revenue_total,
           SUM(rrh.gross_commission) AS gross_commission
    FROM %[1]s.revenue_records_historical rrh
    JOIN %[1]s.clients c ON rrh.client_id = c.client_id
    WHERE DATE_TRUNC('month', rrh.record_date) = $1::date
    GROUP BY c.farmer_id
)`, j.source)
	}

	return fmt.Sprintf(`revenue_totals AS (
    SELECT farmer_id,
           SUM(gross) AS revenue_total,
           SUM(commission) AS gross_commission
    FROM (
        SELECT CAST(c.farmer_id AS INTEGER) AS farmer_id,
               COALESCE(ph.bovespa_revenue, 0) +
               COALESCE(ph.futures_revenue, 0) +
               COALESCE(ph.bank_fixed_income_revenue, 0) +
               COALESCE(ph.private_fixed_income_revenue, 0) +
               COALESCE(ph.public_fixed_income_revenue, 0) +
               COALESCE(ph.rent_revenue, 0) AS gross,
               (COALESCE(ph.bovespa_revenue, 0) * %[2]f) +
               (COALESCE(ph.futures_revenue, 0) * %[2]f) +
               (COALESCE(ph.bank_fixed_income_revenue, 0) * %[3]f) +
               (COALESCE(ph.private_fixed_income_revenue, 0) * %[3]f) +
               (COALESCE(ph.public_fixed_income_revenue, 0) * %[3]f) +
               (COALESCE(ph.rent_revenue, 0) * %[3]f) AS commission
        FROM %[1]s.positivador_historical ph
        JOIN %[1]s.clients c ON ph.client_id = c.client_id
        WHERE ph.record_date = (SELECT snapshot_date FROM snapshot)
        UNION ALL
        SELECT CAST(cl.farmer_id AS INTEGER),
               (financial_value * commission_percentage / 100),
               (financial_value * commission_percentage / 100) * %[4]f
        FROM %[1]s.coe c
        JOIN %[1]s.clients cl ON c.client_id = cl.client_id
        WHERE c.status = 'Liquidada'
          AND DATE_TRUNC('month', c.date) = $1::date
        UNION ALL
        SELECT CAST(cl.farmer_id AS INTEGER),
               comissao,
               comissao * %[4]f
        FROM %[1]s.operacoes_estruturadas oe
        JOIN %[1]s.clients cl ON oe.client_id = cl.client_id
        WHERE DATE_TRUNC('month', oe.data) = $1::date
          AND oe.status_operacao != 'Cancelado'
    ) sources
    GROUP BY farmer_id
)`, j.source, bovespaFuturesRate, fixedIncomeRentRate, coeCommissionRate)
}

// computeClosing applies the bonus rules to one farmer's metrics. Each
// goal that is met pays its percentage of the month's gross commission.
func computeClosing(m Metrics, target time.Time, current bool) ClosingRow {
	row := ClosingRow{
		Month:           target,
		MonthLabel:      monthLabel(target),
		FarmerID:        m.FarmerID,
		FarmerName:      m.FarmerName,
		Hierarchy:       m.Hierarchy,
		SnapshotDate:    m.SnapshotDate,
		ChurnTotal:      round2(m.ChurnTotal),
		ChurnTarget:     round2(m.ChurnTarget),
		CaptureTotal:    round2(m.CaptureTotal),
		CaptureTarget:   round2(m.CaptureTarget),
		RevenueTotal:    round2(m.RevenueTotal),
		RevenueTarget:   round2(m.RevenueTarget),
		GrossCommission: round2(m.GrossCommission),
		IsCurrentMonth:  current,
	}

	row.ChurnStatus, row.ChurnBonus = goal(m.ChurnTotal, m.ChurnTarget, m.GrossCommission, m.ChurnBonusPct)
	row.CaptureStatus, row.CaptureBonus = goal(m.CaptureTotal, m.CaptureTarget, m.GrossCommission, m.CaptureBonusPct)
	row.RevenueStatus, row.RevenueBonus = goal(m.RevenueTotal, m.RevenueTarget, m.GrossCommission, m.RevenueBonusPct)
	row.BonusTotal = round2(row.ChurnBonus + row.CaptureBonus + row.RevenueBonus)
	return row
}

func goal(total, target, grossCommission, bonusPct float64) (string, float64) {
	if total >= target {
		return StatusMet, round2(grossCommission * bonusPct / 100)
	}
	return StatusMissed, 0
}

func (j *Job) load(ctx context.Context, rows []ClosingRow, target time.Time, farmerID *int64) (warehouse.LoadResult, error) {
	table := j.reporting + ".commission_closing"
	columns := []string{
		"month", "month_label", "farmer_id", "farmer_name", "hierarchy_level", "snapshot_date",
		"churn_total", "churn_target", "churn_status", "churn_bonus",
		"capture_total", "capture_target", "capture_status", "capture_bonus",
		"revenue_total", "revenue_target", "revenue_status", "revenue_bonus",
		"gross_commission", "bonus_total", "is_current_month", "created_at", "updated_at",
	}

	now := time.Now()
	values := make([][]interface{}, len(rows))
	for i, row := range rows {
		var snapshot interface{}
		if row.SnapshotDate != nil {
			snapshot = *row.SnapshotDate
		}
		values[i] = []interface{}{
			row.Month, row.MonthLabel, row.FarmerID, row.FarmerName, row.Hierarchy, snapshot,
			row.ChurnTotal, row.ChurnTarget, row.ChurnStatus, row.ChurnBonus,
			row.CaptureTotal, row.CaptureTarget, row.CaptureStatus, row.CaptureBonus,
			row.RevenueTotal, row.RevenueTarget, row.RevenueStatus, row.RevenueBonus,
			row.GrossCommission, row.BonusTotal, row.IsCurrentMonth, now, now,
		}
	}

	// Only the variant's own slice of the table is replaced.
	if farmerID != nil {
		return j.loader.Replace(ctx, table, columns, values,
			"month = $1 AND is_current_month = $2 AND farmer_id = $3", target, j.current, *farmerID)
	}
	return j.loader.Replace(ctx, table, columns, values,
		"month = $1 AND is_current_month = $2", target, j.current)
}

func rows0Label(rows []ClosingRow, target time.Time) string {
	if len(rows) > 0 {
		return rows[0].MonthLabel
	}
	return monthLabel(target)
}

func monthLabel(t time.Time) string {
	return fmt.Sprintf("%02d/%04d", int(t.Month()), t.Year())
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
