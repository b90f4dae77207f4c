// Copyright 2024-2026 Aiku AI

package mirror

import (
	"fmt"
)

// EventType identifies the kind of channel change carried by an Event.
type EventType int

const (
	EventPost EventType = iota
	EventEdit
	EventDelete
	EventPin
)

func (t EventType) String() string {
	switch t {
	case EventPost:
		return "post"
	case EventEdit:
		return "edit"
	case EventDelete:
		return "delete"
	case EventPin:
		return "pin"
	default:
		return fmt.Sprintf("EventType(%d)", int(t))
	}
}

// MediaKind classifies an attachment payload well enough for size gating.
type MediaKind int

const (
	MediaPhoto MediaKind = iota
	MediaVideo
	MediaDocument
)

func (k MediaKind) String() string {
	switch k {
	case MediaPhoto:
		return "photo"
	case MediaVideo:
		return "video"
	case MediaDocument:
		return "document"
	default:
		return fmt.Sprintf("MediaKind(%d)", int(k))
	}
}

// MediaRef describes an attachment carried by a source item. The bytes
// themselves stay on the source platform until the delivery engine asks
// for them.
type MediaRef struct {
	Kind        MediaKind
	MIMEType    string
	Size        int64
	Filename    string
	Description string
}

// WebPreview is a link preview embedded in a source item. Its URL is
// appended to the composed content and its media may be attached.
type WebPreview struct {
	URL         string
	Description string
	Media       *MediaRef
}

// SourceItem is a single message from the source channel. The content
// payload is opaque to the ordering pipeline; only the composer and the
// attachment collector look inside.
type SourceItem struct {
	ID        int64
	GroupID   int64
	ReplyToID int64
	Text      string
	Media     *MediaRef
	Preview   *WebPreview
}

// IsMediaOnly reports whether the item carries no visible text and is
// part of a multi-item group, i.e. a pure-media continuation of an album.
func (si *SourceItem) IsMediaOnly() bool {
	return si.Text == "" && si.GroupID != 0
}

// MessageGroup is an ordered set of source items published together.
// ID 0 means ungrouped. Items keep source-assigned arrival order.
type MessageGroup struct {
	ID       int64
	Expected int
	Items    []*SourceItem
}

// SingleItemGroup wraps one ungrouped item.
func SingleItemGroup(item *SourceItem) *MessageGroup {
	return &MessageGroup{Expected: 1, Items: []*SourceItem{item}}
}

// NewMessageGroup builds a group from already-assembled items.
func NewMessageGroup(id int64, items []*SourceItem) *MessageGroup {
	return &MessageGroup{ID: id, Expected: len(items), Items: items}
}

// GroupFromIDs builds an id-only group, used for delete and pin events
// where the source reports bare item ids.
func GroupFromIDs(ids []int64) *MessageGroup {
	items := make([]*SourceItem, len(ids))
	for i, id := range ids {
		items[i] = &SourceItem{ID: id}
	}
	return &MessageGroup{Expected: len(ids), Items: items}
}

// Primary returns the item whose id keys the dedup ledger for the whole
// group.
func (g *MessageGroup) Primary() *SourceItem {
	return g.Items[0]
}

// IDs returns the item ids in arrival order.
func (g *MessageGroup) IDs() []int64 {
	ids := make([]int64, len(g.Items))
	for i, item := range g.Items {
		ids[i] = item.ID
	}
	return ids
}

// Event is one fully-assembled, ordered application-level change.
// Sequence is the source sequence number after the event is applied and
// ExpectedIncrement is how far the next expected sequence moves once it
// is, accounting for multi-item groups that consume several sequence
// numbers but emit a single event.
type Event struct {
	Type              EventType
	Group             *MessageGroup
	Sequence          int64
	ExpectedIncrement int
	Link              string
}
