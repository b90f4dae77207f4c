// Copyright 2024-2026 Aiku AI

package mirror

import (
	"context"
)

// Identity describes the account the source client is logged in as.
type Identity struct {
	UserID    int64
	Username  string
	ChannelID int64
	Channel   string
}

// Notification is a closed union of raw per-update notifications from
// the source platform. Consumers dispatch with an exhaustive type switch
// over *NewItem, *ItemEdited, *ItemsDeleted and *PinsChanged.
type Notification interface {
	// Seq is the sequence number assigned to this notification.
	Seq() int64
	// Consumed is the number of sequence numbers this notification
	// consumes (the pts_count hint).
	Consumed() int

	sealedNotification()
}

// NewItem announces a freshly published item.
type NewItem struct {
	Item     *SourceItem
	Sequence int64
	Count    int
}

// ItemEdited announces an in-place edit of an existing item.
type ItemEdited struct {
	Item     *SourceItem
	Sequence int64
	Count    int
}

// ItemsDeleted announces removal of one or more items by id.
type ItemsDeleted struct {
	IDs      []int64
	Sequence int64
	Count    int
}

// PinsChanged carries the full list of currently pinned item ids, not a
// delta.
type PinsChanged struct {
	IDs      []int64
	Sequence int64
	Count    int
}

func (n *NewItem) Seq() int64          { return n.Sequence }
func (n *NewItem) Consumed() int       { return n.Count }
func (n *ItemEdited) Seq() int64       { return n.Sequence }
func (n *ItemEdited) Consumed() int    { return n.Count }
func (n *ItemsDeleted) Seq() int64     { return n.Sequence }
func (n *ItemsDeleted) Consumed() int  { return n.Count }
func (n *PinsChanged) Seq() int64      { return n.Sequence }
func (n *PinsChanged) Consumed() int   { return n.Count }

func (*NewItem) sealedNotification()      {}
func (*ItemEdited) sealedNotification()   {}
func (*ItemsDeleted) sealedNotification() {}
func (*PinsChanged) sealedNotification()  {}

// Difference is one page of backlog changes since a given sequence.
type Difference struct {
	// Items are new messages in source arrival order.
	Items []*SourceItem
	// Others are non-post notifications from the same page, in the
	// order the source reported them.
	Others []Notification
	// NewSequence is the sequence number the channel is at after this
	// page.
	NewSequence int64
	// Final marks the last page of the backlog.
	Final bool
}

// Batch is one delivery of live notifications. The notifications are not
// guaranteed to be pre-sorted by sequence.
type Batch struct {
	Notifications []Notification
}

// Source is the source platform collaborator. Implementations own the
// network protocol, login state and session persistence; the pipeline
// only consumes the ordered facts below.
type Source interface {
	// Login authenticates and resolves the mirrored channel.
	Login(ctx context.Context) (*Identity, error)
	// CurrentSequence reports the channel's present sequence number,
	// used to initialize the checkpoint when none is saved.
	CurrentSequence(ctx context.Context) (int64, error)
	// FetchDifference returns the next backlog page after since.
	FetchDifference(ctx context.Context, since int64) (*Difference, error)
	// Updates subscribes to live notification batches. The channel is
	// closed when the subscription ends.
	Updates(ctx context.Context) (<-chan Batch, error)
	// ListPinned returns the ids of currently pinned items.
	ListPinned(ctx context.Context) ([]int64, error)
	// ExportLink resolves a human-readable link to an item.
	ExportLink(ctx context.Context, itemID int64, grouped bool) (string, error)
	// DownloadAttachment fetches the attachment bytes for an item.
	DownloadAttachment(ctx context.Context, item *SourceItem) ([]byte, error)
}
