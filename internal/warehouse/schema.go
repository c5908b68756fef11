package warehouse

import (
	"context"
	"fmt"
	"strings"

	"farmkpi/pkg/errors"
)

// Reporting table DDL. Jobs own their destination tables and make sure
// they exist before every load, so a fresh warehouse needs no manual
// migration step.

const farmerRevenueDDL = `
CREATE TABLE IF NOT EXISTS %[1]s.farmer_revenue (
    id SERIAL PRIMARY KEY,
    month DATE NOT NULL,
    month_label VARCHAR(7) NOT NULL,
    farmer_id INTEGER,
    farmer_name VARCHAR(255),
    gross_revenue NUMERIC(15,2) NOT NULL DEFAULT 0,
    net_revenue NUMERIC(15,2),
    gross_commission NUMERIC(15,2) NOT NULL DEFAULT 0,
    net_commission NUMERIC(15,2) NOT NULL DEFAULT 0,
    source VARCHAR(20) NOT NULL,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_farmer_revenue_month ON %[1]s.farmer_revenue(month);
CREATE INDEX IF NOT EXISTS idx_farmer_revenue_farmer_id ON %[1]s.farmer_revenue(farmer_id);`

const commissionClosingDDL = `
CREATE TABLE IF NOT EXISTS %[1]s.commission_closing (
    id SERIAL PRIMARY KEY,
    month DATE NOT NULL,
    month_label VARCHAR(7) NOT NULL,
    farmer_id INTEGER,
    farmer_name VARCHAR(255),
    hierarchy_level VARCHAR(20),
    snapshot_date DATE,
    churn_total NUMERIC(15,2) NOT NULL DEFAULT 0,
    churn_target NUMERIC(15,2) NOT NULL DEFAULT 0,
    churn_status VARCHAR(20),
    churn_bonus NUMERIC(15,2) NOT NULL DEFAULT 0,
    capture_total NUMERIC(15,2) NOT NULL DEFAULT 0,
    capture_target NUMERIC(15,2) NOT NULL DEFAULT 0,
    capture_status VARCHAR(20),
    capture_bonus NUMERIC(15,2) NOT NULL DEFAULT 0,
    revenue_total NUMERIC(15,2) NOT NULL DEFAULT 0,
    revenue_target NUMERIC(15,2) NOT NULL DEFAULT 0,
    revenue_status VARCHAR(20),
    revenue_bonus NUMERIC(15,2) NOT NULL DEFAULT 0,
    gross_commission NUMERIC(15,2) NOT NULL DEFAULT 0,
    bonus_total NUMERIC(15,2) NOT NULL DEFAULT 0,
    is_current_month BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_commission_closing_month ON %[1]s.commission_closing(month);
CREATE INDEX IF NOT EXISTS idx_commission_closing_farmer_id ON %[1]s.commission_closing(farmer_id);
CREATE INDEX IF NOT EXISTS idx_commission_closing_current_month ON %[1]s.commission_closing(is_current_month);`

const payrollBonusDDL = `
CREATE TABLE IF NOT EXISTS %[1]s.payroll_bonus (
    id SERIAL PRIMARY KEY,
    month DATE NOT NULL,
    month_label VARCHAR(7) NOT NULL,
    farmer_id INTEGER,
    farmer_name VARCHAR(255),
    total_payroll NUMERIC(15,2) NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_payroll_bonus_month ON %[1]s.payroll_bonus(month);
CREATE INDEX IF NOT EXISTS idx_payroll_bonus_farmer_id ON %[1]s.payroll_bonus(farmer_id);`

// EnsureReportingSchema creates the destination schema if missing.
func (s *Service) EnsureReportingSchema(ctx context.Context, schema string) error {
	stmt := fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schema)
	if _, err := s.Exec(ctx, stmt); err != nil {
		return errors.Wrap(err, errors.ErrCodeSQLExecution,
			fmt.Sprintf("Failed to ensure reporting schema %s", schema))
	}
	return nil
}

// EnsureFarmerRevenueTable creates the farmer_revenue table if missing.
func (s *Service) EnsureFarmerRevenueTable(ctx context.Context, schema string) error {
	return s.ensureTable(ctx, schema, "farmer_revenue", farmerRevenueDDL)
}

// EnsureCommissionClosingTable creates the commission_closing table if missing.
func (s *Service) EnsureCommissionClosingTable(ctx context.Context, schema string) error {
	return s.ensureTable(ctx, schema, "commission_closing", commissionClosingDDL)
}

// EnsurePayrollBonusTable creates the payroll_bonus table if missing.
func (s *Service) EnsurePayrollBonusTable(ctx context.Context, schema string) error {
	return s.ensureTable(ctx, schema, "payroll_bonus", payrollBonusDDL)
}

func (s *Service) ensureTable(ctx context.Context, schema, table, ddl string) error {
	if err := s.EnsureReportingSchema(ctx, schema); err != nil {
		return err
	}
	// The driver runs one statement per Exec, so the DDL blocks are split
	// on statement boundaries.
	for _, stmt := range splitStatements(fmt.Sprintf(ddl, schema)) {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.Exec(ctx, stmt); err != nil {
			return errors.Wrap(err, errors.ErrCodeSQLExecution,
				fmt.Sprintf("Failed to ensure table %s.%s", schema, table))
		}
	}
	return nil
}

// splitStatements splits a SQL script on semicolons not inside string
// literals.
func splitStatements(script string) []string {
	var statements []string
	var current strings.Builder
	inString := false
	stringChar := rune(0)

	for i, char := range script {
		if !inString {
			if char == '\'' || char == '"' {
				inString = true
				stringChar = char
			} else if char == ';' {
				if i == 0 || script[i-1] != '\\' {
					statements = append(statements, current.String())
					current.Reset()
					continue
				}
			}
		} else {
			if char == stringChar && (i == 0 || script[i-1] != '\\') {
				inString = false
			}
		}
		current.WriteRune(char)
	}

	if current.Len() > 0 {
		statements = append(statements, current.String())
	}

	return statements
}
