package warehouse

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitStatements(t *testing.T) {
	tests := []struct {
		name   string
		script string
		want   []string
	}{
		{
			name:   "single statement",
			script: "CREATE TABLE t (id INT)",
			want:   []string{"CREATE TABLE t (id INT)"},
		},
		{
			name:   "multiple statements",
			script: "CREATE TABLE t (id INT);CREATE INDEX i ON t(id)",
			want:   []string{"CREATE TABLE t (id INT)", "CREATE INDEX i ON t(id)"},
		},
		{
			name:   "semicolon inside string literal",
			script: "INSERT INTO t VALUES ('a;b');SELECT 1",
			want:   []string{"INSERT INTO t VALUES ('a;b')", "SELECT 1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, splitStatements(tt.script))
		})
	}
}

func TestEnsureFarmerRevenueTable(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewService(testConfig(), nil)
	service.db = db
	service.connected = true

	mock.ExpectExec("CREATE SCHEMA IF NOT EXISTS analysis").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS analysis\.farmer_revenue`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE INDEX IF NOT EXISTS idx_farmer_revenue_month`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE INDEX IF NOT EXISTS idx_farmer_revenue_farmer_id`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = service.EnsureFarmerRevenueTable(context.Background(), "analysis")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureTableFailsWhenSchemaCannotBeCreated(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewService(testConfig(), nil)
	service.db = db
	service.connected = true

	mock.ExpectExec("CREATE SCHEMA IF NOT EXISTS analysis").
		WillReturnError(assert.AnError)

	err = service.EnsurePayrollBonusTable(context.Background(), "analysis")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "reporting schema")
}
