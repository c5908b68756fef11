package responsibility

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"farmkpi/pkg/errors"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func farmerID(id int64) *int64 {
	return &id
}

// fakeSource serves canned client and transfer data and counts fetches so
// memoization can be asserted.
type fakeSource struct {
	clients   map[int64]ClientRecord
	transfers map[int64][]TransferEvent
	names     map[int64]string

	clientFetches int
}

func (f *fakeSource) Clients(_ context.Context, clientIDs []int64) (map[int64]ClientRecord, error) {
	f.clientFetches++
	if len(clientIDs) == 0 {
		return f.clients, nil
	}
	out := make(map[int64]ClientRecord)
	for _, id := range clientIDs {
		if c, ok := f.clients[id]; ok {
			out[id] = c
		}
	}
	return out, nil
}

func (f *fakeSource) FarmerTransfers(_ context.Context, clientIDs []int64) (map[int64][]TransferEvent, error) {
	if len(clientIDs) == 0 {
		return f.transfers, nil
	}
	out := make(map[int64][]TransferEvent)
	for _, id := range clientIDs {
		if evs, ok := f.transfers[id]; ok {
			out[id] = evs
		}
	}
	return out, nil
}

func (f *fakeSource) FarmerNames(_ context.Context, farmerIDs []int64) (map[int64]string, error) {
	out := make(map[int64]string)
	for _, id := range farmerIDs {
		if name, ok := f.names[id]; ok {
			out[id] = name
		}
	}
	return out, nil
}

// twoTransferSource models the canonical case: client 10 created under
// farmer 1, handed to farmer 2 on 2023-03-15 and to farmer 3 on 2023-09-01.
func twoTransferSource() *fakeSource {
	return &fakeSource{
		clients: map[int64]ClientRecord{
			10: {ClientID: 10, CreationDate: date(2022, 6, 1), FarmerID: farmerID(1)},
		},
		transfers: map[int64][]TransferEvent{
			10: {
				{ClientID: 10, OldFarmerID: farmerID(2), NewFarmerID: farmerID(3), TransferDate: date(2023, 9, 1), TransferType: TransferTypeFarmer},
				{ClientID: 10, OldFarmerID: farmerID(1), NewFarmerID: farmerID(2), TransferDate: date(2023, 3, 15), TransferType: TransferTypeFarmer},
			},
		},
		names: map[int64]string{1: "Alice", 2: "Bruno", 3: "Carla"},
	}
}

func TestBuildIntervalsTiling(t *testing.T) {
	client := ClientRecord{ClientID: 10, CreationDate: date(2022, 6, 1), FarmerID: farmerID(1)}
	events := twoTransferSource().transfers[10]

	intervals, mismatches, err := BuildIntervals(client, events)
	require.NoError(t, err)
	assert.Empty(t, mismatches)
	require.Len(t, intervals, 3)

	// Contiguous and ordered: each interval ends exactly where the next begins.
	assert.Equal(t, client.CreationDate, intervals[0].Start)
	for i := 0; i < len(intervals)-1; i++ {
		require.NotNil(t, intervals[i].End)
		assert.Equal(t, *intervals[i].End, intervals[i+1].Start)
	}
	assert.Nil(t, intervals[len(intervals)-1].End)

	assert.Equal(t, farmerID(1), intervals[0].FarmerID)
	assert.Equal(t, farmerID(2), intervals[1].FarmerID)
	assert.Equal(t, farmerID(3), intervals[2].FarmerID)
}

func TestBuildIntervalsNoTransfers(t *testing.T) {
	client := ClientRecord{ClientID: 11, CreationDate: date(2024, 1, 10), FarmerID: farmerID(5)}

	intervals, mismatches, err := BuildIntervals(client, nil)
	require.NoError(t, err)
	assert.Empty(t, mismatches)
	require.Len(t, intervals, 1)

	assert.Equal(t, farmerID(5), intervals[0].FarmerID)
	assert.Equal(t, client.CreationDate, intervals[0].Start)
	assert.Nil(t, intervals[0].End)
}

func TestBuildIntervalsIgnoresOtherTransferTypes(t *testing.T) {
	client := ClientRecord{ClientID: 12, CreationDate: date(2023, 1, 1), FarmerID: farmerID(1)}
	events := []TransferEvent{
		{ClientID: 12, OldFarmerID: farmerID(1), NewFarmerID: farmerID(9), TransferDate: date(2023, 5, 1), TransferType: "ADVISOR"},
	}

	intervals, _, err := BuildIntervals(client, events)
	require.NoError(t, err)
	require.Len(t, intervals, 1)
	assert.Equal(t, farmerID(1), intervals[0].FarmerID)
}

func TestBuildIntervalsDuplicateDateRejected(t *testing.T) {
	client := ClientRecord{ClientID: 13, CreationDate: date(2023, 1, 1), FarmerID: farmerID(1)}
	day := date(2023, 5, 1)
	events := []TransferEvent{
		{ClientID: 13, OldFarmerID: farmerID(1), NewFarmerID: farmerID(2), TransferDate: day, TransferType: TransferTypeFarmer},
		{ClientID: 13, OldFarmerID: farmerID(2), NewFarmerID: farmerID(3), TransferDate: day, TransferType: TransferTypeFarmer},
	}

	_, _, err := BuildIntervals(client, events)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeTransferConflict, errors.GetErrorCode(err))
}

func TestBuildIntervalsChainMismatch(t *testing.T) {
	client := ClientRecord{ClientID: 14, CreationDate: date(2023, 1, 1), FarmerID: farmerID(1)}
	events := []TransferEvent{
		{ClientID: 14, OldFarmerID: farmerID(1), NewFarmerID: farmerID(2), TransferDate: date(2023, 3, 1), TransferType: TransferTypeFarmer},
		// Claims the client was taken from farmer 7, but the previous event
		// handed it to farmer 2. The later event still wins.
		{ClientID: 14, OldFarmerID: farmerID(7), NewFarmerID: farmerID(4), TransferDate: date(2023, 6, 1), TransferType: TransferTypeFarmer},
	}

	intervals, mismatches, err := BuildIntervals(client, events)
	require.NoError(t, err)
	require.Len(t, mismatches, 1)
	assert.Equal(t, farmerID(2), mismatches[0].Expected)
	assert.Equal(t, farmerID(7), mismatches[0].Got)

	require.Len(t, intervals, 3)
	assert.Equal(t, farmerID(2), intervals[1].FarmerID)
	assert.Equal(t, farmerID(4), intervals[2].FarmerID)
}

func TestResponsibleFarmer(t *testing.T) {
	resolver := NewResolver(twoTransferSource(), nil)
	ctx := context.Background()

	tests := []struct {
		name string
		at   time.Time
		want *int64
	}{
		{"before first transfer", date(2023, 1, 1), farmerID(1)},
		{"on first transfer date", date(2023, 3, 15), farmerID(2)},
		{"between transfers", date(2023, 8, 31), farmerID(2)},
		{"on second transfer date", date(2023, 9, 1), farmerID(3)},
		{"long after last transfer", date(2025, 1, 1), farmerID(3)},
		{"on creation date", date(2022, 6, 1), farmerID(1)},
		{"before creation date", date(2022, 5, 31), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolver.ResponsibleFarmer(ctx, 10, tt.at)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResponsibleFarmerUnknownClient(t *testing.T) {
	resolver := NewResolver(twoTransferSource(), nil)

	got, err := resolver.ResponsibleFarmer(context.Background(), 999, date(2024, 1, 1))
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestResolverMemoizes(t *testing.T) {
	source := twoTransferSource()
	resolver := NewResolver(source, nil)
	ctx := context.Background()

	first, err := resolver.ResponsibleFarmer(ctx, 10, date(2023, 1, 1))
	require.NoError(t, err)
	second, err := resolver.ResponsibleFarmer(ctx, 10, date(2024, 1, 1))
	require.NoError(t, err)

	assert.Equal(t, farmerID(1), first)
	assert.Equal(t, farmerID(3), second)
	assert.Equal(t, 1, source.clientFetches)
}

type revenueRow struct {
	ClientID int64
	Month    time.Time
	Gross    float64

	FarmerID   *int64
	FarmerName string
}

func revenueKey(r revenueRow) (int64, time.Time) {
	return r.ClientID, r.Month
}

func TestFilterByResponsibility(t *testing.T) {
	resolver := NewResolver(twoTransferSource(), nil)
	ctx := context.Background()

	rows := []revenueRow{
		{ClientID: 10, Month: date(2023, 2, 1), Gross: 100},
		{ClientID: 10, Month: date(2023, 4, 1), Gross: 200},
		{ClientID: 10, Month: date(2023, 10, 1), Gross: 300},
		{ClientID: 999, Month: date(2023, 4, 1), Gross: 400},
	}

	t.Run("keeps matching months only", func(t *testing.T) {
		kept, err := FilterByResponsibility(ctx, resolver, rows, revenueKey, farmerID(2))
		require.NoError(t, err)
		require.Len(t, kept, 1)
		assert.Equal(t, 200.0, kept[0].Gross)
	})

	t.Run("unresolvable clients are dropped", func(t *testing.T) {
		kept, err := FilterByResponsibility(ctx, resolver, rows, revenueKey, farmerID(1))
		require.NoError(t, err)
		require.Len(t, kept, 1)
		assert.Equal(t, 100.0, kept[0].Gross)
	})

	t.Run("nil farmer disables filter and preserves order", func(t *testing.T) {
		kept, err := FilterByResponsibility(ctx, resolver, rows, revenueKey, nil)
		require.NoError(t, err)
		assert.Equal(t, rows, kept)
	})

	t.Run("idempotent", func(t *testing.T) {
		once, err := FilterByResponsibility(ctx, resolver, rows, revenueKey, farmerID(3))
		require.NoError(t, err)
		twice, err := FilterByResponsibility(ctx, resolver, once, revenueKey, farmerID(3))
		require.NoError(t, err)
		assert.Equal(t, once, twice)
	})
}

func TestAnnotateResponsibleFarmer(t *testing.T) {
	resolver := NewResolver(twoTransferSource(), nil)

	rows := []revenueRow{
		{ClientID: 10, Month: date(2023, 2, 1)},
		{ClientID: 10, Month: date(2023, 10, 1)},
		{ClientID: 999, Month: date(2023, 2, 1)},
	}

	err := AnnotateResponsibleFarmer(context.Background(), resolver, rows, revenueKey,
		func(r *revenueRow, ref FarmerRef) {
			r.FarmerID = ref.FarmerID
			r.FarmerName = ref.FarmerName
		})
	require.NoError(t, err)

	assert.Equal(t, farmerID(1), rows[0].FarmerID)
	assert.Equal(t, "Alice", rows[0].FarmerName)
	assert.Equal(t, farmerID(3), rows[1].FarmerID)
	assert.Equal(t, "Carla", rows[1].FarmerName)
	assert.Nil(t, rows[2].FarmerID)
	assert.Empty(t, rows[2].FarmerName)
}

func TestIntervalContains(t *testing.T) {
	end := date(2023, 9, 1)
	closed := Interval{Start: date(2023, 3, 15), End: &end}
	open := Interval{Start: date(2023, 9, 1)}

	assert.True(t, closed.Contains(date(2023, 3, 15)))
	assert.True(t, closed.Contains(date(2023, 8, 31)))
	assert.False(t, closed.Contains(date(2023, 9, 1)))
	assert.False(t, closed.Contains(date(2023, 3, 14)))

	assert.True(t, open.Contains(date(2023, 9, 1)))
	assert.True(t, open.Contains(date(2030, 1, 1)))
	assert.False(t, open.Contains(date(2023, 8, 31)))
}
