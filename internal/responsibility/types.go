package responsibility

import "time"

// TransferTypeFarmer tags transfer events that reassign a client between
// farmers. Other transfer types (office moves and the like) are ignored
// by the resolver.
const TransferTypeFarmer = "FARMER"

// ClientRecord is a client as registered in the warehouse: its creation
// date and the farmer it was originally assigned to. FarmerID is nil for
// clients created outside farmer coverage.
type ClientRecord struct {
	ClientID     int64
	CreationDate time.Time
	FarmerID     *int64
}

// TransferEvent is one entry of the append-only client transfer log.
// OldFarmerID is nil when the client had no prior farmer, NewFarmerID is
// nil when the client leaves farmer coverage.
type TransferEvent struct {
	ClientID     int64
	OldFarmerID  *int64
	NewFarmerID  *int64
	TransferDate time.Time
	TransferType string
}

// Interval is a half-open [Start, End) range during which one farmer (or
// none, when FarmerID is nil) is accountable for a client. End is nil for
// the open-ended final interval.
type Interval struct {
	ClientID int64
	FarmerID *int64
	Start    time.Time
	End      *time.Time
}

// Contains reports whether the instant t falls inside the interval.
// Start is inclusive, End exclusive.
func (iv Interval) Contains(t time.Time) bool {
	if t.Before(iv.Start) {
		return false
	}
	return iv.End == nil || t.Before(*iv.End)
}

// ChainMismatch records a transfer event whose OldFarmerID disagrees with
// the NewFarmerID of the event preceding it. The tiling stays well formed
// (the later event wins) but the log is inconsistent and worth surfacing,
// since silent disagreement here is how revenue gets misattributed.
type ChainMismatch struct {
	ClientID     int64
	TransferDate time.Time
	Expected     *int64
	Got          *int64
}

// FarmerRef is a resolved farmer identity attached to annotated records.
type FarmerRef struct {
	FarmerID   *int64
	FarmerName string
}
