package responsibility

import (
	"context"
	"fmt"
	"sort"
	"time"

	"farmkpi/internal/observability"
	"farmkpi/pkg/errors"
)

// Source provides the resolver's two data dependencies: client records
// and the farmer-type slice of the transfer log. An empty clientIDs slice
// means "all clients".
type Source interface {
	Clients(ctx context.Context, clientIDs []int64) (map[int64]ClientRecord, error)
	FarmerTransfers(ctx context.Context, clientIDs []int64) (map[int64][]TransferEvent, error)
	FarmerNames(ctx context.Context, farmerIDs []int64) (map[int64]string, error)
}

// Resolver computes farmer responsibility timelines from the transfer log
// and answers point-in-time and range queries against them. Interval sets
// are memoized per resolver instance, so one resolver serves a whole batch
// run without refetching overlapping history.
type Resolver struct {
	source Source
	logger *observability.Logger

	intervals map[int64][]Interval
	fetched   map[int64]bool
}

// NewResolver creates a resolver backed by the given source. Both
// dependencies are injected; the resolver holds no process-wide state.
func NewResolver(source Source, logger *observability.Logger) *Resolver {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Resolver{
		source:    source,
		logger:    logger,
		intervals: make(map[int64][]Interval),
		fetched:   make(map[int64]bool),
	}
}

// BuildIntervals walks the sorted farmer-transfer sequence for one client
// and returns the complete responsibility timeline: N events yield N+1
// contiguous non-overlapping intervals tiling [creation_date, +inf).
//
// Two events sharing a transfer date make the order, and therefore the
// tiling, undefined; that is rejected rather than guessed at.
func BuildIntervals(client ClientRecord, events []TransferEvent) ([]Interval, []ChainMismatch, error) {
	farmer := make([]TransferEvent, 0, len(events))
	for _, ev := range events {
		if ev.TransferType == TransferTypeFarmer {
			farmer = append(farmer, ev)
		}
	}

	sort.SliceStable(farmer, func(i, j int) bool {
		return farmer[i].TransferDate.Before(farmer[j].TransferDate)
	})

	for i := 1; i < len(farmer); i++ {
		if farmer[i].TransferDate.Equal(farmer[i-1].TransferDate) {
			return nil, nil, errors.AttributionError(errors.ErrCodeTransferConflict, client.ClientID,
				fmt.Sprintf("two farmer transfers share transfer_date %s",
					farmer[i].TransferDate.Format("2006-01-02")))
		}
	}

	if len(farmer) == 0 {
		return []Interval{{
			ClientID: client.ClientID,
			FarmerID: client.FarmerID,
			Start:    client.CreationDate,
		}}, nil, nil
	}

	var mismatches []ChainMismatch
	intervals := make([]Interval, 0, len(farmer)+1)

	// Before the first transfer the client belongs to the farmer the event
	// says it was taken from; the log may omit the very first assignment,
	// in which case the client record's original farmer fills the gap.
	first := farmer[0]
	initial := first.OldFarmerID
	if initial == nil {
		initial = client.FarmerID
	}
	firstEnd := first.TransferDate
	intervals = append(intervals, Interval{
		ClientID: client.ClientID,
		FarmerID: initial,
		Start:    client.CreationDate,
		End:      &firstEnd,
	})

	for i, ev := range farmer {
		if i+1 < len(farmer) {
			next := farmer[i+1]
			if !farmerIDEqual(ev.NewFarmerID, next.OldFarmerID) {
				mismatches = append(mismatches, ChainMismatch{
					ClientID:     client.ClientID,
					TransferDate: next.TransferDate,
					Expected:     ev.NewFarmerID,
					Got:          next.OldFarmerID,
				})
			}
			end := next.TransferDate
			intervals = append(intervals, Interval{
				ClientID: client.ClientID,
				FarmerID: ev.NewFarmerID,
				Start:    ev.TransferDate,
				End:      &end,
			})
		} else {
			intervals = append(intervals, Interval{
				ClientID: client.ClientID,
				FarmerID: ev.NewFarmerID,
				Start:    ev.TransferDate,
			})
		}
	}

	return intervals, mismatches, nil
}

func farmerIDEqual(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// Preload fetches and memoizes interval sets for the given clients. An
// empty slice loads every client with a record or a transfer. Clients
// whose timelines cannot be built (conflicting transfer log, no creation
// record) end up with no intervals and resolve to none, never an error.
func (r *Resolver) Preload(ctx context.Context, clientIDs []int64) error {
	missing := clientIDs[:0:0]
	for _, id := range clientIDs {
		if !r.fetched[id] {
			missing = append(missing, id)
		}
	}
	if len(clientIDs) > 0 && len(missing) == 0 {
		return nil
	}

	clients, err := r.source.Clients(ctx, missing)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSQLExecution, "failed to fetch client records")
	}
	transfers, err := r.source.FarmerTransfers(ctx, missing)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSQLExecution, "failed to fetch transfer log")
	}

	for id := range transfers {
		if _, ok := clients[id]; !ok {
			// Transfers without a creation record: unattributable.
			r.logger.WarnWithFields("transfer log references unknown client", map[string]interface{}{
				"client_id": id,
			})
			r.fetched[id] = true
		}
	}

	for id, client := range clients {
		ivs, mismatches, err := BuildIntervals(client, transfers[id])
		if err != nil {
			r.logger.ErrorWithFields("cannot build responsibility timeline", map[string]interface{}{
				"client_id": id,
				"error":     err.Error(),
			})
			r.fetched[id] = true
			continue
		}
		for _, m := range mismatches {
			r.logger.WarnWithFields("transfer chain mismatch", map[string]interface{}{
				"client_id":     m.ClientID,
				"transfer_date": m.TransferDate.Format("2006-01-02"),
			})
		}
		r.intervals[id] = ivs
		r.fetched[id] = true
	}

	for _, id := range missing {
		r.fetched[id] = true
	}
	return nil
}

// Intervals returns the memoized timeline for a client, fetching it on
// first use. Clients with no data yield an empty slice.
func (r *Resolver) Intervals(ctx context.Context, clientID int64) ([]Interval, error) {
	if !r.fetched[clientID] {
		if err := r.Preload(ctx, []int64{clientID}); err != nil {
			return nil, err
		}
	}
	return r.intervals[clientID], nil
}

// ResponsibleFarmer returns the farmer accountable for the client at the
// given instant, or nil when the date precedes creation, the client is
// unknown, or the matching interval carries no farmer.
func (r *Resolver) ResponsibleFarmer(ctx context.Context, clientID int64, at time.Time) (*int64, error) {
	ivs, err := r.Intervals(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if iv, ok := lookup(ivs, at); ok {
		return iv.FarmerID, nil
	}
	return nil, nil
}

// lookup binary-searches the sorted non-overlapping interval list for the
// one containing t.
func lookup(ivs []Interval, t time.Time) (Interval, bool) {
	// First interval starting after t; the candidate is the one before it.
	idx := sort.Search(len(ivs), func(i int) bool {
		return ivs[i].Start.After(t)
	})
	if idx == 0 {
		return Interval{}, false
	}
	iv := ivs[idx-1]
	if iv.Contains(t) {
		return iv, true
	}
	return Interval{}, false
}

// RecordKey extracts the attribution key from a business record: the
// client it belongs to and the date the activity happened.
type RecordKey[T any] func(T) (clientID int64, date time.Time)

// FilterByResponsibility keeps only records whose client was the given
// farmer's responsibility on the record's date. A nil farmerID disables
// the filter entirely and returns the input unchanged, preserving order;
// records of unresolvable clients are dropped, not errors.
func FilterByResponsibility[T any](ctx context.Context, r *Resolver, records []T, key RecordKey[T], farmerID *int64) ([]T, error) {
	if farmerID == nil || len(records) == 0 {
		return records, nil
	}

	if err := r.Preload(ctx, distinctClients(records, key)); err != nil {
		return nil, err
	}

	out := make([]T, 0, len(records))
	for _, rec := range records {
		clientID, date := key(rec)
		responsible, err := r.ResponsibleFarmer(ctx, clientID, date)
		if err != nil {
			return nil, err
		}
		if responsible != nil && *responsible == *farmerID {
			out = append(out, rec)
		}
	}

	r.logger.InfoWithFields("filtered records by responsibility", map[string]interface{}{
		"farmer_id": *farmerID,
		"kept":      len(out),
		"total":     len(records),
	})
	return out, nil
}

// AnnotateResponsibleFarmer resolves the accountable farmer for each
// record and hands it to assign, together with the farmer's display name
// when one is known. Records of unresolvable clients get a nil farmer.
func AnnotateResponsibleFarmer[T any](ctx context.Context, r *Resolver, records []T, key RecordKey[T], assign func(*T, FarmerRef)) error {
	if len(records) == 0 {
		return nil
	}

	if err := r.Preload(ctx, distinctClients(records, key)); err != nil {
		return err
	}

	refs := make([]FarmerRef, len(records))
	var farmerIDs []int64
	seen := make(map[int64]bool)
	for i, rec := range records {
		clientID, date := key(rec)
		responsible, err := r.ResponsibleFarmer(ctx, clientID, date)
		if err != nil {
			return err
		}
		refs[i] = FarmerRef{FarmerID: responsible}
		if responsible != nil && !seen[*responsible] {
			seen[*responsible] = true
			farmerIDs = append(farmerIDs, *responsible)
		}
	}

	names := map[int64]string{}
	if len(farmerIDs) > 0 {
		var err error
		names, err = r.source.FarmerNames(ctx, farmerIDs)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeSQLExecution, "failed to fetch farmer names")
		}
	}

	for i := range records {
		if refs[i].FarmerID != nil {
			refs[i].FarmerName = names[*refs[i].FarmerID]
		}
		assign(&records[i], refs[i])
	}
	return nil
}

func distinctClients[T any](records []T, key RecordKey[T]) []int64 {
	seen := make(map[int64]bool, len(records))
	ids := make([]int64, 0, len(records))
	for _, rec := range records {
		id, _ := key(rec)
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}
