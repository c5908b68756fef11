package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"farmkpi/internal/responsibility"
	"farmkpi/pkg/errors"
)

// Store reads the resolver's inputs from the source schema: client
// records, the farmer slice of the transfer log, and employee names.
// It satisfies responsibility.Source.
type Store struct {
	svc    *Service
	schema string
}

// NewStore creates a store over the given source schema, gammadata when
// empty.
func NewStore(svc *Service, schema string) *Store {
	if schema == "" {
		schema = "gammadata"
	}
	return &Store{svc: svc, schema: schema}
}

// Clients returns client records keyed by client id. An empty clientIDs
// slice returns every client.
func (s *Store) Clients(ctx context.Context, clientIDs []int64) (map[int64]responsibility.ClientRecord, error) {
	query := fmt.Sprintf(`SELECT client_id, creation_date, CAST(farmer_id AS INTEGER)
FROM %s.clients`, s.schema)
	query, args := appendIDFilter(query, "WHERE client_id", clientIDs)

	rows, err := s.svc.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64]responsibility.ClientRecord)
	for rows.Next() {
		var rec responsibility.ClientRecord
		var farmer sql.NullInt64
		if err := rows.Scan(&rec.ClientID, &rec.CreationDate, &farmer); err != nil {
			return nil, errors.SQLError("Failed to scan client record", query, err)
		}
		if farmer.Valid {
			id := farmer.Int64
			rec.FarmerID = &id
		}
		out[rec.ClientID] = rec
	}
	return out, rows.Err()
}

// FarmerTransfers returns farmer-type transfer events grouped by client,
// ordered by transfer date.
func (s *Store) FarmerTransfers(ctx context.Context, clientIDs []int64) (map[int64][]responsibility.TransferEvent, error) {
	query := fmt.Sprintf(`SELECT client_id, CAST(old_farmer_id AS INTEGER), CAST(new_farmer_id AS INTEGER), transfer_date, transfer_type
FROM %s.client_transfers
WHERE transfer_type = $1`, s.schema)
	args := []interface{}{responsibility.TransferTypeFarmer}
	query, args = appendIDFilterArgs(query, "AND client_id", clientIDs, args)
	query += " ORDER BY client_id, transfer_date"

	rows, err := s.svc.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64][]responsibility.TransferEvent)
	for rows.Next() {
		var ev responsibility.TransferEvent
		var oldID, newID sql.NullInt64
		var transferDate time.Time
		if err := rows.Scan(&ev.ClientID, &oldID, &newID, &transferDate, &ev.TransferType); err != nil {
			return nil, errors.SQLError("Failed to scan transfer event", query, err)
		}
		ev.TransferDate = transferDate
		if oldID.Valid {
			id := oldID.Int64
			ev.OldFarmerID = &id
		}
		if newID.Valid {
			id := newID.Int64
			ev.NewFarmerID = &id
		}
		out[ev.ClientID] = append(out[ev.ClientID], ev)
	}
	return out, rows.Err()
}

// FarmerNames returns display names for the given employee ids.
func (s *Store) FarmerNames(ctx context.Context, farmerIDs []int64) (map[int64]string, error) {
	query := fmt.Sprintf("SELECT employee_id, name FROM %s.employees", s.schema)
	query, args := appendIDFilter(query, "WHERE employee_id", farmerIDs)

	rows, err := s.svc.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64]string)
	for rows.Next() {
		var id int64
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, errors.SQLError("Failed to scan employee", query, err)
		}
		out[id] = name
	}
	return out, rows.Err()
}

func appendIDFilter(query, clause string, ids []int64) (string, []interface{}) {
	return appendIDFilterArgs(query, clause, ids, nil)
}

func appendIDFilterArgs(query, clause string, ids []int64, args []interface{}) (string, []interface{}) {
	if len(ids) == 0 {
		return query, args
	}
	base := len(args)
	placeholders := make([]string, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", base+i+1)
		args = append(args, id)
	}
	return fmt.Sprintf("%s %s IN (%s)", query, clause, strings.Join(placeholders, ", ")), args
}
