package warehouse

import (
	"context"
	"database/sql/driver"
	"fmt"
	"strings"
	"time"

	"farmkpi/internal/observability"
	"farmkpi/pkg/errors"
)

// Loader performs the destructive-refresh load every KPI job ends with:
// delete the rows the job owns, then reinsert the fresh dataset in
// batches. Each batch runs under a savepoint so a poisoned batch is
// rolled back alone while the rest of the load commits, and operational
// failures trigger a reconnect and a bounded retry of the whole load.
type Loader struct {
	svc        *Service
	logger     *observability.Logger
	batchSize  int
	maxRetries int
}

// NewLoader creates a loader on top of an established warehouse service.
func NewLoader(svc *Service, logger *observability.Logger, batchSize, maxRetries int) *Loader {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	if batchSize <= 0 {
		batchSize = 10000
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Loader{
		svc:        svc,
		logger:     logger,
		batchSize:  batchSize,
		maxRetries: maxRetries,
	}
}

// LoadResult accounts for what actually happened during a load: rows
// removed by the delete phase, rows committed, and rows in batches that
// were rolled back and need resubmission after the data is fixed.
type LoadResult struct {
	Deleted  int64
	Inserted int
	Failed   int
}

// Replace deletes the rows matching deleteWhere (all rows when empty)
// from table and reinserts rows in batches, all in one transaction.
func (l *Loader) Replace(ctx context.Context, table string, columns []string, rows [][]interface{}, deleteWhere string, deleteArgs ...interface{}) (LoadResult, error) {
	var result LoadResult
	var lastErr error

	for attempt := 0; attempt <= l.maxRetries; attempt++ {
		result, lastErr = l.replaceOnce(ctx, table, columns, rows, deleteWhere, deleteArgs...)
		if lastErr == nil {
			return result, nil
		}

		if !isOperational(lastErr) || attempt == l.maxRetries {
			break
		}

		l.logger.WarnWithFields("load failed with operational error, reconnecting", map[string]interface{}{
			"table":   table,
			"attempt": attempt + 1,
			"error":   lastErr.Error(),
		})

		if err := l.svc.Reconnect(ctx); err != nil {
			return result, errors.Wrap(err, errors.ErrCodeConnectionFailed, "Reconnect failed during load")
		}

		select {
		case <-time.After(time.Duration(attempt+1) * time.Second):
		case <-ctx.Done():
			return result, ctx.Err()
		}
	}

	return result, errors.Wrap(lastErr, errors.ErrCodeLoadFailed,
		fmt.Sprintf("Failed to load table %s", table)).
		WithContext("table", table).
		WithContext("rows", len(rows))
}

func (l *Loader) replaceOnce(ctx context.Context, table string, columns []string, rows [][]interface{}, deleteWhere string, deleteArgs ...interface{}) (LoadResult, error) {
	var result LoadResult

	tx, err := l.svc.BeginTx(ctx)
	if err != nil {
		return result, errors.Wrap(err, errors.ErrCodeSQLTransaction, "Failed to begin transaction")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	deleteStmt := fmt.Sprintf("DELETE FROM %s", table)
	if deleteWhere != "" {
		deleteStmt += " WHERE " + deleteWhere
	}
	res, err := tx.ExecContext(ctx, deleteStmt, deleteArgs...)
	if err != nil {
		return result, errors.SQLError("Delete phase failed", deleteStmt, err)
	}
	result.Deleted, _ = res.RowsAffected()

	l.logger.InfoWithFields("delete phase complete", map[string]interface{}{
		"table":   table,
		"deleted": result.Deleted,
	})

	for start := 0; start < len(rows); start += l.batchSize {
		end := start + l.batchSize
		if end > len(rows) {
			end = len(rows)
		}
		batch := rows[start:end]

		if _, err := tx.ExecContext(ctx, "SAVEPOINT batch_start"); err != nil {
			return result, errors.SQLError("Failed to create savepoint", "SAVEPOINT batch_start", err)
		}

		stmt, args := buildInsert(table, columns, batch)
		if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
			if isOperational(err) {
				return result, err
			}

			// Bad data in this batch only: roll back to the savepoint and
			// keep the rest of the load.
			if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT batch_start"); rbErr != nil {
				return result, errors.SQLError("Savepoint rollback failed", "ROLLBACK TO SAVEPOINT batch_start", rbErr)
			}
			result.Failed += len(batch)
			l.logger.ErrorWithFields("batch rejected, rolled back to savepoint", map[string]interface{}{
				"table": table,
				"rows":  len(batch),
				"error": err.Error(),
			})
			continue
		}

		result.Inserted += len(batch)
		l.logger.InfoWithFields("batch inserted", map[string]interface{}{
			"table":    table,
			"inserted": result.Inserted,
			"total":    len(rows),
		})
	}

	if err := tx.Commit(); err != nil {
		return result, errors.Wrap(err, errors.ErrCodeSQLTransaction, "Failed to commit load")
	}

	if result.Failed > 0 {
		l.logger.WarnWithFields("load committed with rejected batches", map[string]interface{}{
			"table":    table,
			"inserted": result.Inserted,
			"failed":   result.Failed,
		})
	}
	return result, nil
}

// buildInsert renders a multi-row INSERT with positional placeholders.
func buildInsert(table string, columns []string, rows [][]interface{}) (string, []interface{}) {
	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ", table, strings.Join(columns, ", "))

	args := make([]interface{}, 0, len(rows)*len(columns))
	n := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", n)
			n++
			args = append(args, row[j])
		}
		b.WriteString(")")
	}
	return b.String(), args
}

// isOperational reports whether err looks like a lost connection rather
// than bad data. Connection-class errors are worth a reconnect and
// retry; anything else is not.
func isOperational(err error) bool {
	if err == nil {
		return false
	}
	if err == driver.ErrBadConn {
		return true
	}
	msg := err.Error()
	for _, marker := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"server closed the connection",
		"bad connection",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return errors.GetErrorCode(err) == errors.ErrCodeConnectionFailed
}
