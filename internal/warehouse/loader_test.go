package warehouse

import (
	"context"
	"fmt"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLoader(t *testing.T, batchSize int) (*Loader, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	service := NewService(testConfig(), nil)
	service.db = db
	service.connected = true

	return NewLoader(service, nil, batchSize, 1), mock
}

func TestNewLoaderDefaults(t *testing.T) {
	loader := NewLoader(nil, nil, 0, 0)

	assert.Equal(t, 10000, loader.batchSize)
	assert.Equal(t, 3, loader.maxRetries)
	assert.NotNil(t, loader.logger)
}

func TestReplace(t *testing.T) {
	loader, mock := newTestLoader(t, 2)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM analysis\.farmer_revenue WHERE source = \$1`).
		WithArgs("historical").
		WillReturnResult(sqlmock.NewResult(0, 5))
	mock.ExpectExec("SAVEPOINT batch_start").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO analysis\.farmer_revenue`).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("SAVEPOINT batch_start").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO analysis\.farmer_revenue`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rows := [][]interface{}{
		{int64(1), 100.0},
		{int64(2), 200.0},
		{int64(3), 300.0},
	}

	result, err := loader.Replace(context.Background(), "analysis.farmer_revenue",
		[]string{"farmer_id", "gross_revenue"}, rows, "source = $1", "historical")
	require.NoError(t, err)

	assert.EqualValues(t, 5, result.Deleted)
	assert.Equal(t, 3, result.Inserted)
	assert.Equal(t, 0, result.Failed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceDeleteAllWhenNoFilter(t *testing.T) {
	loader, mock := newTestLoader(t, 10)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM analysis\.payroll_bonus`).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	result, err := loader.Replace(context.Background(), "analysis.payroll_bonus", nil, nil, "")
	require.NoError(t, err)

	assert.EqualValues(t, 2, result.Deleted)
	assert.Equal(t, 0, result.Inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceRejectedBatchRollsBackToSavepoint(t *testing.T) {
	loader, mock := newTestLoader(t, 2)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM analysis\.commission_closing`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("SAVEPOINT batch_start").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO analysis\.commission_closing`).
		WillReturnError(fmt.Errorf("numeric field overflow"))
	mock.ExpectExec("ROLLBACK TO SAVEPOINT batch_start").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("SAVEPOINT batch_start").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO analysis\.commission_closing`).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	rows := [][]interface{}{
		{int64(1)}, {int64(2)},
		{int64(3)}, {int64(4)},
	}

	result, err := loader.Replace(context.Background(), "analysis.commission_closing",
		[]string{"farmer_id"}, rows, "")
	require.NoError(t, err)

	assert.Equal(t, 2, result.Inserted)
	assert.Equal(t, 2, result.Failed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceNonOperationalErrorDoesNotRetry(t *testing.T) {
	loader, mock := newTestLoader(t, 10)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM analysis\.farmer_revenue`).
		WillReturnError(fmt.Errorf("permission denied for schema analysis"))
	mock.ExpectRollback()

	_, err := loader.Replace(context.Background(), "analysis.farmer_revenue", nil, nil, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Failed to load table")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBuildInsert(t *testing.T) {
	stmt, args := buildInsert("analysis.farmer_revenue",
		[]string{"farmer_id", "month_label"},
		[][]interface{}{
			{int64(1), "01/2024"},
			{int64(2), "02/2024"},
		})

	assert.Equal(t, "INSERT INTO analysis.farmer_revenue (farmer_id, month_label) VALUES ($1, $2), ($3, $4)", stmt)
	assert.Equal(t, []interface{}{int64(1), "01/2024", int64(2), "02/2024"}, args)
}

func TestIsOperational(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"connection refused", fmt.Errorf("dial tcp: connection refused"), true},
		{"server closed", fmt.Errorf("server closed the connection unexpectedly"), true},
		{"bad data", fmt.Errorf("invalid input syntax for type numeric"), false},
		{"permission", fmt.Errorf("permission denied"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isOperational(tt.err))
		})
	}
}
