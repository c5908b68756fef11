package payroll

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"farmkpi/internal/kpi"
	"farmkpi/internal/warehouse"
	"farmkpi/pkg/models"
)

func month(y int, m time.Month) time.Time {
	return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
}

func TestMergeKeepsLastPerMonthAndFarmer(t *testing.T) {
	prior := []Entry{
		{Month: month(2024, 1), FarmerID: 1, FarmerName: "Alice", Total: 100},
		{Month: month(2024, 2), FarmerID: 1, FarmerName: "Alice", Total: 150.005},
		{Month: month(2024, 2), FarmerID: 2, FarmerName: "Bruno", Total: 90},
	}
	current := []Entry{
		// Same month and farmer as a prior row: the later one wins.
		{Month: month(2024, 2), FarmerID: 1, FarmerName: "Alice", Total: 175},
		{Month: month(2024, 3), FarmerID: 1, FarmerName: "Alice", Total: 50},
	}

	merged := merge(prior, current)
	require.Len(t, merged, 4)

	assert.Equal(t, 100.0, merged[0].Total)
	assert.Equal(t, "01/2024", merged[0].MonthLabel)

	february := merged[1]
	assert.EqualValues(t, 1, february.FarmerID)
	assert.Equal(t, 175.0, february.Total)

	assert.EqualValues(t, 2, merged[2].FarmerID)
	assert.Equal(t, 90.0, merged[2].Total)
	assert.Equal(t, 50.0, merged[3].Total)
}

func TestMergeRoundsTotals(t *testing.T) {
	merged := merge([]Entry{{Month: month(2024, 1), FarmerID: 1, Total: 10.006}}, nil)
	require.Len(t, merged, 1)
	assert.Equal(t, 10.01, merged[0].Total)
}

func newMockedJob(t *testing.T) (*Job, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	svc := warehouse.NewService(models.Warehouse{
		Host: "wh", Database: "db", Username: "u", Password: "p",
	}, nil)
	svc.SetDB(db)

	loader := warehouse.NewLoader(svc, nil, 1000, 1)
	return New(svc, loader, nil, "gammadata", "analysis"), mock
}

func entryColumns() []string {
	return []string{"month", "farmer_id", "farmer_name", "total"}
}

func TestRunDryRun(t *testing.T) {
	job, mock := newMockedJob(t)

	mock.ExpectQuery("WITH calendar AS").
		WillReturnRows(sqlmock.NewRows(entryColumns()).
			AddRow(month(2024, 1), int64(1), "Alice", 120.0).
			AddRow(month(2024, 2), int64(1), "Alice", 130.0))

	mock.ExpectQuery("WITH snapshot AS").
		WillReturnRows(sqlmock.NewRows(entryColumns()).
			AddRow(month(2024, 3), int64(1), "Alice", 55.0))

	result, err := job.Run(context.Background(), kpi.Options{DryRun: true})
	require.NoError(t, err)

	assert.Equal(t, 3, result.Extracted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryEntriesScopesToFarmer(t *testing.T) {
	job, mock := newMockedJob(t)

	mock.ExpectQuery(`WHERE farmer_id = \$1`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows(entryColumns()))

	id := int64(7)
	entries, err := job.extractPriorMonths(context.Background(), &id)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.NoError(t, mock.ExpectationsWereMet())
}
