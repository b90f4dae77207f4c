// Copyright 2024-2026 Aiku AI

package mirror

import (
	"context"
)

// collectAttachments downloads and re-uploads the group's media, bounded
// by the target's capability descriptor. Attachment failures never fail
// the post: anything that can't be carried over is logged and dropped.
//
// The target only accepts homogeneous attachment sets, so the first
// uploaded type wins and mismatching items are skipped. A video always
// travels alone.
func (w *Writer) collectAttachments(ctx context.Context, group *MessageGroup) []*AttachmentRef {
	var result []*AttachmentRef
	var firstType string
	for _, item := range group.Items {
		media, data := w.fetchAttachment(ctx, item)
		if media == nil {
			continue
		}
		ref, err := w.target.UploadAttachment(ctx, data, media.Filename, w.composer.TrimDescription(media.Description))
		if err != nil {
			w.log.Warn().Err(err).
				Int64("item_id", item.ID).
				Str("mime", media.MIMEType).
				Msg("Failed to upload attachment content")
			continue
		}
		if firstType == "" {
			firstType = ref.Type
		} else if ref.Type != firstType {
			continue
		}
		result = append(result, ref)
		if len(result) == w.caps.MaxAttachments || firstType == "video" {
			break
		}
	}
	w.log.Debug().Int("count", len(result)).Msg("Collected attachments")
	return result
}

// fetchAttachment picks the item's transferable media, enforces the size
// limits and downloads the bytes. Returns nil media when the item has
// nothing worth carrying over.
func (w *Writer) fetchAttachment(ctx context.Context, item *SourceItem) (*MediaRef, []byte) {
	media := item.Media
	description := ""
	if media == nil && item.Preview != nil {
		media = item.Preview.Media
		description = item.Preview.Description
	}
	if media == nil {
		return nil, nil
	}
	if media.Description != "" {
		description = media.Description
	}
	if media.Kind == MediaDocument && !w.caps.SupportsMIME(media.MIMEType) {
		w.log.Debug().Str("mime", media.MIMEType).Msg("Skipping unsupported attachment type")
		return nil, nil
	}
	if limit := w.sizeLimit(media.Kind); media.Size > limit {
		w.log.Debug().
			Int64("size", media.Size).
			Int64("limit", limit).
			Stringer("kind", media.Kind).
			Msg("Skipping oversized attachment")
		return nil, nil
	}

	data, err := w.source.DownloadAttachment(ctx, item)
	if err != nil {
		w.log.Error().Err(err).
			Int64("item_id", item.ID).
			Str("mime", media.MIMEType).
			Msg("Failed to download attachment")
		return nil, nil
	}
	// The declared size is advisory; re-check what actually arrived.
	if limit := w.sizeLimit(media.Kind); int64(len(data)) > limit {
		return nil, nil
	}
	out := *media
	out.Description = description
	return &out, data
}

func (w *Writer) sizeLimit(kind MediaKind) int64 {
	switch kind {
	case MediaPhoto:
		return w.caps.MaxImageBytes
	case MediaVideo:
		return w.caps.MaxVideoBytes
	default:
		return max(w.caps.MaxImageBytes, w.caps.MaxVideoBytes)
	}
}
