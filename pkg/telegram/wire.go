// Copyright 2024-2026 Aiku AI

package telegram

import (
	"fmt"

	"github.com/aiku/chanmirror/pkg/mirror"
)

// Wire entities exchanged with the gateway sidecar. The gateway speaks
// MTProto to the source platform and re-exposes the channel as plain
// JSON over REST plus a websocket update feed.

type wireMedia struct {
	Kind        string `json:"kind"`
	MIMEType    string `json:"mime_type"`
	Size        int64  `json:"size"`
	Filename    string `json:"filename"`
	Description string `json:"description,omitempty"`
}

type wirePreview struct {
	URL         string     `json:"url"`
	Description string     `json:"description,omitempty"`
	Media       *wireMedia `json:"media,omitempty"`
}

type wireItem struct {
	ID        int64        `json:"id"`
	GroupID   int64        `json:"group_id,omitempty"`
	ReplyToID int64        `json:"reply_to_id,omitempty"`
	Text      string       `json:"text"`
	Media     *wireMedia   `json:"media,omitempty"`
	Preview   *wirePreview `json:"preview,omitempty"`
}

const (
	notificationNew     = "new_item"
	notificationEdited  = "item_edited"
	notificationDeleted = "items_deleted"
	notificationPins    = "pins_changed"
)

// wireNotification is the kind-tagged envelope used both in difference
// pages and in live update batches.
type wireNotification struct {
	Kind     string    `json:"kind"`
	Item     *wireItem `json:"item,omitempty"`
	IDs      []int64   `json:"ids,omitempty"`
	Sequence int64     `json:"sequence"`
	Count    int       `json:"count"`
}

type wireLogin struct {
	UserID    int64  `json:"user_id"`
	Username  string `json:"username"`
	ChannelID int64  `json:"channel_id"`
	Channel   string `json:"channel"`
}

type wireSequence struct {
	Sequence int64 `json:"sequence"`
}

type wireDifference struct {
	Items       []*wireItem         `json:"items"`
	Others      []*wireNotification `json:"others"`
	NewSequence int64               `json:"new_sequence"`
	Final       bool                `json:"final"`
}

type wireBatch struct {
	Notifications []*wireNotification `json:"notifications"`
}

type wireLink struct {
	Link string `json:"link"`
}

type wirePinned struct {
	IDs []int64 `json:"ids"`
}

type wireError struct {
	Error string `json:"error"`
}

func mediaKind(kind string) (mirror.MediaKind, error) {
	switch kind {
	case "photo":
		return mirror.MediaPhoto, nil
	case "video":
		return mirror.MediaVideo, nil
	case "document":
		return mirror.MediaDocument, nil
	default:
		return 0, fmt.Errorf("unrecognized media kind %q", kind)
	}
}

func (m *wireMedia) toMirror() (*mirror.MediaRef, error) {
	if m == nil {
		return nil, nil
	}
	kind, err := mediaKind(m.Kind)
	if err != nil {
		return nil, err
	}
	return &mirror.MediaRef{
		Kind:        kind,
		MIMEType:    m.MIMEType,
		Size:        m.Size,
		Filename:    m.Filename,
		Description: m.Description,
	}, nil
}

func (i *wireItem) toMirror() (*mirror.SourceItem, error) {
	media, err := i.Media.toMirror()
	if err != nil {
		return nil, fmt.Errorf("item %d: %w", i.ID, err)
	}
	item := &mirror.SourceItem{
		ID:        i.ID,
		GroupID:   i.GroupID,
		ReplyToID: i.ReplyToID,
		Text:      i.Text,
		Media:     media,
	}
	if i.Preview != nil {
		previewMedia, err := i.Preview.Media.toMirror()
		if err != nil {
			return nil, fmt.Errorf("item %d preview: %w", i.ID, err)
		}
		item.Preview = &mirror.WebPreview{
			URL:         i.Preview.URL,
			Description: i.Preview.Description,
			Media:       previewMedia,
		}
	}
	return item, nil
}

func (n *wireNotification) toMirror() (mirror.Notification, error) {
	switch n.Kind {
	case notificationNew, notificationEdited:
		if n.Item == nil {
			return nil, fmt.Errorf("%s notification without item", n.Kind)
		}
		item, err := n.Item.toMirror()
		if err != nil {
			return nil, err
		}
		if n.Kind == notificationNew {
			return &mirror.NewItem{Item: item, Sequence: n.Sequence, Count: n.Count}, nil
		}
		return &mirror.ItemEdited{Item: item, Sequence: n.Sequence, Count: n.Count}, nil
	case notificationDeleted:
		return &mirror.ItemsDeleted{IDs: n.IDs, Sequence: n.Sequence, Count: n.Count}, nil
	case notificationPins:
		return &mirror.PinsChanged{IDs: n.IDs, Sequence: n.Sequence, Count: n.Count}, nil
	default:
		return nil, fmt.Errorf("unrecognized notification kind %q", n.Kind)
	}
}
