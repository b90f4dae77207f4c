// Copyright 2024-2026 Aiku AI

package mirror

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by target operations when the referenced post
// no longer exists. Delete treats it as success.
var ErrNotFound = errors.New("target post not found")

// ErrAttachmentsProcessing is the transient publish failure reported
// while uploaded attachments are still being processed server-side.
var ErrAttachmentsProcessing = errors.New("attachments still processing")

// Visibility is the exposure level of a published post.
type Visibility string

const (
	VisibilityPublic   Visibility = "public"
	VisibilityUnlisted Visibility = "unlisted"
	VisibilityPrivate  Visibility = "private"
)

// PollLimits describes the target instance's poll constraints.
type PollLimits struct {
	MinDuration     time.Duration
	MaxDuration     time.Duration
	MaxOptions      int
	MaxOptionLength int
}

// Capabilities is the target instance's self-reported limit descriptor.
type Capabilities struct {
	MaxContentLength     int
	MaxAttachments       int
	URLReservedChars     int
	MaxImageBytes        int64
	MaxVideoBytes        int64
	MaxDescriptionLength int
	SupportedMIMETypes   []string
	Polls                PollLimits
}

// SupportsMIME reports whether the instance accepts the given MIME type.
func (c *Capabilities) SupportsMIME(mime string) bool {
	for _, m := range c.SupportedMIMETypes {
		if m == mime {
			return true
		}
	}
	return false
}

// Account is the target platform account the mirror publishes as.
type Account struct {
	ID       string
	Username string
}

// AttachmentRef is an uploaded attachment handle.
type AttachmentRef struct {
	ID   string
	Type string
}

// Poll describes a poll to publish alongside a post.
type Poll struct {
	Options    []string
	Duration   time.Duration
	Multiple   bool
	HideTotals bool
}

// Post is a published target post as the platform reports it. Text is
// the raw source text (not rendered markup), which is what edit
// change-detection compares against.
type Post struct {
	ID           string
	URL          string
	Visibility   Visibility
	SpoilerTitle string
	Text         string
	Attachments  []*AttachmentRef
}

// PublishRequest is the composed content for a new post.
type PublishRequest struct {
	Content      string
	SpoilerTitle string
	ReplyToID    string
	Attachments  []*AttachmentRef
	Poll         *Poll
	Visibility   Visibility
	Locale       string
}

// EditRequest carries replacement content for an existing post.
type EditRequest struct {
	Content      string
	SpoilerTitle string
	Attachments  []*AttachmentRef
	Locale       string
}

// Target is the target platform collaborator. All operations are
// individually idempotent-safe when guarded by the dedup ledger.
type Target interface {
	GetCapabilities(ctx context.Context) (*Capabilities, error)
	CurrentAccount(ctx context.Context) (*Account, error)
	Publish(ctx context.Context, req *PublishRequest) (*Post, error)
	Edit(ctx context.Context, id string, req *EditRequest) (*Post, error)
	Get(ctx context.Context, id string) (*Post, error)
	Delete(ctx context.Context, id string) error
	Pin(ctx context.Context, id string) (*Post, error)
	Unpin(ctx context.Context, id string) (*Post, error)
	UploadAttachment(ctx context.Context, data []byte, filename, description string) (*AttachmentRef, error)
	ListPinned(ctx context.Context, accountID string) ([]*Post, error)
}
