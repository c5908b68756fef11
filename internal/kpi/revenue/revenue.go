// Package revenue computes the farmer revenue and commission KPI:
// prior months from the historical revenue records, the current month
// assembled from the positivador snapshot, settled COE notes, and
// non-cancelled structured operations.
package revenue

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sort"
	"time"

	"farmkpi/internal/kpi"
	"farmkpi/internal/observability"
	"farmkpi/internal/responsibility"
	"farmkpi/internal/warehouse"
)

// Withholding and pass-through rates from the commercial agreement.
const (
	commissionTaxRate   = 0.195
	coeCommissionRate   = 0.95
	netCommissionRate   = 0.805
	bovespaFuturesRate  = 0.665
	fixedIncomeRentRate = 0.475
	defaultMonthsBack   = 11
)

// ClientMonth is one client's aggregate for one month, the grain the
// responsibility resolver attributes at.
type ClientMonth struct {
	ClientID        int64
	Month           time.Time
	GrossRevenue    float64
	NetRevenue      float64
	GrossCommission float64
	NetCommission   float64
}

// Row is one destination row of the farmer_revenue table.
type Row struct {
	Month           time.Time
	MonthLabel      string
	FarmerID        *int64
	FarmerName      string
	GrossRevenue    float64
	NetRevenue      float64
	GrossCommission float64
	NetCommission   float64
	Source          string
}

const (
	// Source tags distinguishing prior-month rows from the assembled
	// current month.
	SourceHistorical = "historical"
	SourceCurrent    = "current"
)

type Job struct {
	svc       *warehouse.Service
	loader    *warehouse.Loader
	resolver  *responsibility.Resolver
	logger    *observability.Logger
	source    string
	reporting string
}

func New(svc *warehouse.Service, loader *warehouse.Loader, resolver *responsibility.Resolver, logger *observability.Logger, sourceSchema, reportingSchema string) *Job {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Job{
		svc:       svc,
		loader:    loader,
		resolver:  resolver,
		logger:    logger,
		source:    sourceSchema,
		reporting: reportingSchema,
	}
}

func (j *Job) Name() string { return "revenue" }

func (j *Job) Description() string {
	return "farmer revenue and commission, prior months plus assembled current month"
}

func (j *Job) Run(ctx context.Context, opts kpi.Options) (kpi.Result, error) {
	var result kpi.Result

	monthsBack := opts.MonthsBack
	if monthsBack <= 0 {
		monthsBack = defaultMonthsBack
	}

	prior, err := j.extractPriorMonths(ctx, monthsBack)
	if err != nil {
		return result, err
	}

	current, err := j.extractCurrentMonth(ctx)
	if err != nil {
		return result, err
	}
	result.Extracted = len(prior) + len(current)

	priorRows, err := j.attribute(ctx, prior, opts.FarmerID, SourceHistorical)
	if err != nil {
		return result, err
	}
	currentRows, err := j.attribute(ctx, current, opts.FarmerID, SourceCurrent)
	if err != nil {
		return result, err
	}
	rows := append(priorRows, currentRows...)

	j.logger.InfoWithFields("revenue dataset assembled", map[string]interface{}{
		"historical": len(priorRows),
		"current":    len(currentRows),
	})

	if opts.DryRun {
		return result, nil
	}

	if err := j.svc.EnsureFarmerRevenueTable(ctx, j.reporting); err != nil {
		return result, err
	}
	result.Load, err = j.load(ctx, rows, opts.FarmerID)
	return result, err
}

func (j *Job) extractPriorMonths(ctx context.Context, monthsBack int) ([]ClientMonth, error) {
	query := fmt.Sprintf(`SELECT
    DATE_TRUNC('month', record_date) AS month,
    client_id,
    SUM(gross_revenue),
    SUM(net_revenue),
    SUM(gross_commission),
    SUM(gross_commission * (1 - %f))
FROM %s.revenue_records_historical
WHERE record_date >= DATE_TRUNC('month', NOW()) - make_interval(months => $1)
  AND DATE_TRUNC('month', record_date) < DATE_TRUNC('month', NOW())
GROUP BY DATE_TRUNC('month', record_date), client_id`, commissionTaxRate, j.source)

	return j.queryClientMonths(ctx, query, monthsBack)
}

// extractCurrentMonth merges the three current-month sources by client:
// the latest positivador snapshot, settled COE notes, and structured
// operations that were not cancelled.
func (j *Job) extractCurrentMonth(ctx context.Context) ([]ClientMonth, error) {
	merged := make(map[monthClient]*ClientMonth)

	snapshot, err := j.latestSnapshotDate(ctx)
	if err != nil {
		return nil, err
	}
	if snapshot != nil {
		positivador, err := j.extractPositivador(ctx, *snapshot)
		if err != nil {
			return nil, err
		}
		mergeInto(merged, positivador)
	} else {
		j.logger.Warn("no positivador snapshot for the current month")
	}

	coe, err := j.extractCOE(ctx)
	if err != nil {
		return nil, err
	}
	mergeInto(merged, coe)

	ops, err := j.extractStructuredOps(ctx)
	if err != nil {
		return nil, err
	}
	mergeInto(merged, ops)

	out := make([]ClientMonth, 0, len(merged))
	for _, cm := range merged {
		out = append(out, *cm)
	}
	sort.Slice(out, func(a, b int) bool {
		if !out[a].Month.Equal(out[b].Month) {
			return out[a].Month.Before(out[b].Month)
		}
		return out[a].ClientID < out[b].ClientID
	})
	return out, nil
}

// latestSnapshotDate returns the most recent positivador record date in
// the current month, nil when the month has no snapshot yet.
func (j *Job) latestSnapshotDate(ctx context.Context) (*time.Time, error) {
	query := fmt.Sprintf(`SELECT MAX(record_date)
FROM %s.positivador_historical
WHERE DATE_TRUNC('month', record_date) = DATE_TRUNC('month', NOW())`, j.source)

	rows, err := j.svc.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var latest sql.NullTime
	if rows.Next() {
		if err := rows.Scan(&latest); err != nil {
			return nil, err
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if !latest.Valid {
		return nil, nil
	}
	return &latest.Time, nil
}

func (j *Job) extractPositivador(ctx context.Context, snapshot time.Time) ([]ClientMonth, error) {
	query := fmt.Sprintf(`SELECT
    DATE_TRUNC('month', record_date) AS month,
    client_id,
    SUM(
        COALESCE(bovespa_revenue, 0) +
        COALESCE(futures_revenue, 0) +
        COALESCE(bank_fixed_income_revenue, 0) +
        COALESCE(private_fixed_income_revenue, 0) +
        COALESCE(public_fixed_income_revenue, 0) +
        COALESCE(rent_revenue, 0)
    ),
    NULL::numeric,
    SUM(
        (COALESCE(bovespa_revenue, 0) * %[2]f) +
        (COALESCE(futures_revenue, 0) * %[2]f) +
        (COALESCE(bank_fixed_income_revenue, 0) * %[3]f) +
        (COALESCE(private_fixed_income_revenue, 0) * %[3]f) +
        (COALESCE(public_fixed_income_revenue, 0) * %[3]f) +
        (COALESCE(rent_revenue, 0) * %[3]f)
    ),
    SUM(
        (COALESCE(bovespa_revenue, 0) * %[2]f) +
        (COALESCE(futures_revenue, 0) * %[2]f) +
        (COALESCE(bank_fixed_income_revenue, 0) * %[3]f) +
        (COALESCE(private_fixed_income_revenue, 0) * %[3]f) +
        (COALESCE(public_fixed_income_revenue, 0) * %[3]f) +
        (COALESCE(rent_revenue, 0) * %[3]f)
    ) * %[4]f
FROM %[1]s.positivador_historical
WHERE record_date = $1
GROUP BY DATE_TRUNC('month', record_date), client_id`,
		j.source, bovespaFuturesRate, fixedIncomeRentRate, netCommissionRate)

	return j.queryClientMonths(ctx, query, snapshot)
}

func (j *Job) extractCOE(ctx context.Context) ([]ClientMonth, error) {
	query := fmt.Sprintf(`SELECT
    DATE_TRUNC('month', date) AS month,
    client_id,
    SUM(financial_value * commission_percentage / 100),
    NULL::numeric,
    SUM((financial_value * commission_percentage / 100) * %[2]f),
    SUM((financial_value * commission_percentage / 100) * %[2]f * %[3]f)
FROM %[1]s.coe
WHERE status = 'Liquidada'
  AND DATE_TRUNC('month', date) = DATE_TRUNC('month', NOW())
GROUP BY DATE_TRUNC('month', date), client_id`,
		j.source, coeCommissionRate, netCommissionRate)

	return j.queryClientMonths(ctx, query)
}

func (j *Job) extractStructuredOps(ctx context.Context) ([]ClientMonth, error) {
	query := fmt.Sprintf(`SELECT
    DATE_TRUNC('month', data) AS month,
    client_id,
    SUM(comissao),
    NULL::numeric,
    SUM(comissao * %[2]f),
    SUM(comissao * %[2]f * %[3]f)
FROM %[1]s.operacoes_estruturadas
WHERE DATE_TRUNC('month', data) = DATE_TRUNC('month', NOW())
  AND status_operacao != 'Cancelado'
GROUP BY DATE_TRUNC('month', data), client_id`,
		j.source, coeCommissionRate, netCommissionRate)

	return j.queryClientMonths(ctx, query)
}

// queryClientMonths runs a five-metric extraction query and scans its
// rows. Column order is fixed: month, client, gross revenue, net
// revenue, gross commission, net commission.
func (j *Job) queryClientMonths(ctx context.Context, query string, args ...interface{}) ([]ClientMonth, error) {
	rows, err := j.svc.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ClientMonth
	for rows.Next() {
		var cm ClientMonth
		var gross, net, grossComm, netComm sql.NullFloat64
		if err := rows.Scan(&cm.Month, &cm.ClientID, &gross, &net, &grossComm, &netComm); err != nil {
			return nil, err
		}
		cm.GrossRevenue = gross.Float64
		cm.NetRevenue = net.Float64
		cm.GrossCommission = grossComm.Float64
		cm.NetCommission = netComm.Float64
		out = append(out, cm)
	}
	return out, rows.Err()
}

type monthClient struct {
	month  time.Time
	client int64
}

func mergeInto(dst map[monthClient]*ClientMonth, src []ClientMonth) {
	for _, cm := range src {
		key := monthClient{month: cm.Month, client: cm.ClientID}
		if existing, ok := dst[key]; ok {
			existing.GrossRevenue += cm.GrossRevenue
			existing.NetRevenue += cm.NetRevenue
			existing.GrossCommission += cm.GrossCommission
			existing.NetCommission += cm.NetCommission
			continue
		}
		copied := cm
		dst[key] = &copied
	}
}

type attributed struct {
	ClientMonth
	FarmerID   *int64
	FarmerName string
}

func clientMonthKey(a attributed) (int64, time.Time) {
	return a.ClientID, a.Month
}

// attribute routes client-month aggregates through the responsibility
// resolver, then rolls them up per farmer and month.
func (j *Job) attribute(ctx context.Context, records []ClientMonth, farmerID *int64, source string) ([]Row, error) {
	wrapped := make([]attributed, len(records))
	for i, cm := range records {
		wrapped[i] = attributed{ClientMonth: cm}
	}

	filtered, err := responsibility.FilterByResponsibility(ctx, j.resolver, wrapped, clientMonthKey, farmerID)
	if err != nil {
		return nil, err
	}
	if err := responsibility.AnnotateResponsibleFarmer(ctx, j.resolver, filtered, clientMonthKey,
		func(a *attributed, ref responsibility.FarmerRef) {
			a.FarmerID = ref.FarmerID
			a.FarmerName = ref.FarmerName
		}); err != nil {
		return nil, err
	}

	return rollUp(filtered, source), nil
}

type monthFarmer struct {
	month     time.Time
	farmer    int64
	hasFarmer bool
}

func rollUp(records []attributed, source string) []Row {
	grouped := make(map[monthFarmer]*Row)
	for _, rec := range records {
		key := monthFarmer{month: rec.Month}
		if rec.FarmerID != nil {
			key.farmer = *rec.FarmerID
			key.hasFarmer = true
		}
		row, ok := grouped[key]
		if !ok {
			row = &Row{
				Month:      rec.Month,
				MonthLabel: MonthLabel(rec.Month),
				FarmerID:   rec.FarmerID,
				FarmerName: rec.FarmerName,
				Source:     source,
			}
			grouped[key] = row
		}
		row.GrossRevenue += rec.GrossRevenue
		row.NetRevenue += rec.NetRevenue
		row.GrossCommission += rec.GrossCommission
		row.NetCommission += rec.NetCommission
	}

	out := make([]Row, 0, len(grouped))
	for _, row := range grouped {
		row.GrossRevenue = round2(row.GrossRevenue)
		row.NetRevenue = round2(row.NetRevenue)
		row.GrossCommission = round2(row.GrossCommission)
		row.NetCommission = round2(row.NetCommission)
		out = append(out, *row)
	}
	sort.Slice(out, func(a, b int) bool {
		if !out[a].Month.Equal(out[b].Month) {
			return out[a].Month.Before(out[b].Month)
		}
		return farmerOrd(out[a].FarmerID) < farmerOrd(out[b].FarmerID)
	})
	return out
}

func farmerOrd(id *int64) int64 {
	if id == nil {
		return -1
	}
	return *id
}

func (j *Job) load(ctx context.Context, rows []Row, farmerID *int64) (warehouse.LoadResult, error) {
	table := j.reporting + ".farmer_revenue"
	columns := []string{
		"month", "month_label", "farmer_id", "farmer_name",
		"gross_revenue", "net_revenue", "gross_commission", "net_commission",
		"source", "created_at", "updated_at",
	}

	now := time.Now()
	values := make([][]interface{}, len(rows))
	for i, row := range rows {
		var farmer interface{}
		if row.FarmerID != nil {
			farmer = *row.FarmerID
		}
		var name interface{}
		if row.FarmerName != "" {
			name = row.FarmerName
		}
		values[i] = []interface{}{
			row.Month, row.MonthLabel, farmer, name,
			row.GrossRevenue, row.NetRevenue, row.GrossCommission, row.NetCommission,
			row.Source, now, now,
		}
	}

	if farmerID != nil {
		return j.loader.Replace(ctx, table, columns, values, "farmer_id = $1", *farmerID)
	}
	return j.loader.Replace(ctx, table, columns, values, "")
}

// MonthLabel formats a month as MM/YYYY, the label the dashboards key on.
func MonthLabel(t time.Time) string {
	return fmt.Sprintf("%02d/%04d", int(t.Month()), t.Year())
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
