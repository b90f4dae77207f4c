// Copyright 2024-2026 Aiku AI

package mirror

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aiku/chanmirror/pkg/mirror/database"
)

// Writer is the delivery engine: the single authoritative consumer that
// turns events into target-platform side effects. It applies one event
// at a time; a failing event is retried in place, forever, with a fixed
// cooldown — strict order is traded against availability on purpose.
type Writer struct {
	log      zerolog.Logger
	db       *database.Database
	source   Source
	target   Target
	composer *Composer
	limiter  *RateLimiter

	retryCooldown        time.Duration
	attachmentRetries    int
	attachmentRetryDelay time.Duration
	locale               string
	normalVisibility     Visibility
	elevatedVisibility   Visibility
	maxDescriptionLength int

	caps *Capabilities
	// pins maps source item id → pinned target post. Only touched from
	// the single consumer loop, so no lock is needed.
	pins map[int64]*Post

	// sleep is swappable for tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewWriter wires a delivery engine to its collaborators.
func NewWriter(db *database.Database, source Source, target Target, composer *Composer, cfg *PipelineConfig, log zerolog.Logger) *Writer {
	return &Writer{
		log:      log.With().Str("component", "writer").Logger(),
		db:       db,
		source:   source,
		target:   target,
		composer: composer,
		limiter:  NewRateLimiter(cfg.PublicLimitCount, cfg.PublicLimitWindow.D()),

		retryCooldown:        cfg.RetryCooldown.D(),
		attachmentRetries:    cfg.AttachmentRetries,
		attachmentRetryDelay: cfg.AttachmentRetryDelay.D(),
		locale:               cfg.Locale,
		normalVisibility:     Visibility(cfg.NormalVisibility),
		elevatedVisibility:   Visibility(cfg.ElevatedVisibility),
		maxDescriptionLength: cfg.MaxDescriptionLength,

		pins:  make(map[int64]*Post),
		sleep: sleepCtx,
	}
}

// Run discovers target capabilities, reconciles the startup pin set and
// then consumes the subscription until it completes or ctx is canceled.
func (w *Writer) Run(ctx context.Context, sub *Subscription) error {
	if err := w.connect(ctx); err != nil {
		return err
	}
	for {
		evt, ok := sub.Next(ctx)
		if !ok {
			if err := ctx.Err(); err != nil {
				return err
			}
			w.log.Info().Msg("Subscription completed, writer stopping")
			return nil
		}
		for {
			err := w.apply(ctx, evt)
			if err == nil {
				EventsApplied.WithLabelValues(evt.Type.String()).Inc()
				break
			}
			EventRetries.Inc()
			w.log.Error().Err(err).
				Stringer("type", evt.Type).
				Int64("sequence", evt.Sequence).
				Dur("cooldown", w.retryCooldown).
				Msg("Failed to apply event, will retry after cooldown")
			if err = w.sleep(ctx, w.retryCooldown); err != nil {
				return err
			}
		}
	}
}

func (w *Writer) connect(ctx context.Context) error {
	w.log.Info().Msg("Fetching target instance information")
	caps, err := w.target.GetCapabilities(ctx)
	if err != nil {
		return fmt.Errorf("failed to get target capabilities: %w", err)
	}
	w.caps = caps
	w.composer.SetLimits(caps, w.maxDescriptionLength)
	account, err := w.target.CurrentAccount(ctx)
	if err != nil {
		return fmt.Errorf("failed to verify target credentials: %w", err)
	}
	w.log.Info().
		Str("username", account.Username).
		Str("account_id", account.ID).
		Int("max_length", caps.MaxContentLength).
		Int("max_attachments", caps.MaxAttachments).
		Msg("Logged into target")
	return w.seedPins(ctx, account.ID)
}

// seedPins rebuilds the in-memory pin set from the intersection of the
// persisted mappings and the posts currently pinned on the target.
func (w *Writer) seedPins(ctx context.Context, accountID string) error {
	w.log.Info().Msg("Reading target pins")
	pinned, err := w.target.ListPinned(ctx, accountID)
	if err != nil {
		return fmt.Errorf("failed to list pinned target posts: %w", err)
	}
	ids := make([]string, len(pinned))
	byID := make(map[string]*Post, len(pinned))
	for i, post := range pinned {
		ids[i] = post.ID
		byID[post.ID] = post
	}
	mappings, err := w.db.Mapping.GetByTargetIDs(ctx, ids)
	if err != nil {
		return fmt.Errorf("failed to resolve pinned posts: %w", err)
	}
	for _, m := range mappings {
		w.pins[m.SourceID] = byID[m.TargetID]
	}
	w.log.Info().Int("count", len(w.pins)).Msg("Got target pins")
	return nil
}

func (w *Writer) apply(ctx context.Context, evt *Event) error {
	switch evt.Type {
	case EventPost:
		return w.applyPost(ctx, evt)
	case EventEdit:
		return w.applyEdit(ctx, evt)
	case EventDelete:
		return w.applyDelete(ctx, evt)
	case EventPin:
		return w.applyPin(ctx, evt)
	default:
		w.log.Error().Stringer("type", evt.Type).Msg("Unknown event type")
		return nil
	}
}

func (w *Writer) applyPost(ctx context.Context, evt *Event) error {
	primary := evt.Group.Primary()
	existing, err := w.db.Mapping.GetBySourceID(ctx, primary.ID)
	if err != nil {
		return fmt.Errorf("failed to check dedup ledger: %w", err)
	}
	if existing != nil {
		w.log.Debug().
			Int64("source_id", primary.ID).
			Str("target_id", existing.TargetID).
			Msg("Item already mirrored, advancing checkpoint only")
		return w.updateCheckpoint(ctx, evt.Sequence, evt.ExpectedIncrement)
	}
	if primary.IsMediaOnly() {
		w.log.Debug().Int64("source_id", primary.ID).Msg("Media-only group continuation, skipping")
		return w.updateCheckpoint(ctx, evt.Sequence, evt.ExpectedIncrement)
	}

	var replyToID string
	if primary.ReplyToID > 0 {
		replyMap, err := w.db.Mapping.GetBySourceID(ctx, primary.ReplyToID)
		if err != nil {
			return fmt.Errorf("failed to resolve reply target: %w", err)
		}
		if replyMap != nil {
			replyToID = replyMap.TargetID
			w.log.Debug().Str("reply_to", replyToID).Msg("Resolved reply target")
		}
	}

	attachments := w.collectAttachments(ctx, evt.Group)
	title, body := w.composer.FormatTitleAndBody(primary, evt.Link)
	visibility := w.pickVisibility(title)

	var post *Post
	tries := 0
	for post == nil {
		req := &PublishRequest{
			Content:      body,
			SpoilerTitle: title,
			ReplyToID:    replyToID,
			Visibility:   visibility,
			Locale:       w.locale,
		}
		if len(attachments) > 0 && tries <= w.attachmentRetries {
			req.Attachments = attachments
		}
		post, err = w.target.Publish(ctx, req)
		if errors.Is(err, ErrAttachmentsProcessing) {
			tries++
			AttachmentRetries.Inc()
			if tries > w.attachmentRetries {
				w.log.Warn().Str("link", evt.Link).Msg("Failed to post with media attachments, posting without")
				continue
			}
			w.log.Info().Int("try", tries).Msg("Waiting for media upload to be processed")
			if err = w.sleep(ctx, w.attachmentRetryDelay); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to publish status for %s: %w", evt.Link, err)
		}
	}

	err = w.db.Mapping.Insert(ctx, &database.Mapping{
		SourceID: primary.ID,
		TargetID: post.ID,
		Sequence: sql.NullInt64{Int64: evt.Sequence, Valid: true},
	})
	if err != nil {
		// The target post exists but the ledger row doesn't: the event
		// will be retried and may publish a duplicate. Documented
		// weakness, surfaced loudly instead of hidden.
		w.log.Warn().Err(err).
			Int64("source_id", primary.ID).
			Str("target_id", post.ID).
			Msg("Published but failed to record mapping, retry may duplicate the post")
		return fmt.Errorf("failed to record mapping for %s: %w", post.ID, err)
	}
	if err = w.updateCheckpoint(ctx, evt.Sequence, evt.ExpectedIncrement); err != nil {
		return err
	}
	StatusesPosted.Inc()
	logEvt := w.log.Info().
		Str("link", evt.Link).
		Str("url", post.URL).
		Int64("sequence", evt.Sequence).
		Int("increment", evt.ExpectedIncrement)
	if post.Visibility == w.elevatedVisibility {
		logEvt = logEvt.Str("visibility", string(post.Visibility))
	}
	logEvt.Msg("Posted new status")
	return nil
}

// applyEdit pushes new content for every mapped item of the group. Edits
// are best effort: per-item failures are logged and skipped, and the
// checkpoint advances regardless.
func (w *Writer) applyEdit(ctx context.Context, evt *Event) error {
	for _, item := range evt.Group.Items {
		m, err := w.db.Mapping.GetBySourceID(ctx, item.ID)
		if err != nil || m == nil {
			if err != nil {
				w.log.Error().Err(err).Int64("source_id", item.ID).Msg("Failed to look up mapping for edit")
			}
			continue
		}
		current, err := w.target.Get(ctx, m.TargetID)
		if err != nil {
			w.log.Error().Err(err).Str("target_id", m.TargetID).Msg("Failed to fetch status for edit")
			continue
		}
		title, body := w.composer.FormatTitleAndBody(item, evt.Link)
		if title == current.SpoilerTitle && body == current.Text {
			// Content equality is the only change-detection signal we
			// have; attachments are not compared.
			w.log.Info().
				Str("link", evt.Link).
				Str("url", current.URL).
				Msg("Status edit did not change visible content, skipping")
			continue
		}
		updated, err := w.target.Edit(ctx, m.TargetID, &EditRequest{
			Content:      body,
			SpoilerTitle: title,
			Attachments:  current.Attachments,
			Locale:       w.locale,
		})
		if err != nil {
			w.log.Error().Err(err).Str("link", evt.Link).Msg("Failed to update status")
			continue
		}
		w.log.Info().Str("link", evt.Link).Str("url", updated.URL).Msg("Updated status")
	}
	return w.updateCheckpoint(ctx, evt.Sequence, evt.ExpectedIncrement)
}

// applyDelete removes mapped target posts. An already-gone post counts
// as success; any other failure aborts so the event retries.
func (w *Writer) applyDelete(ctx context.Context, evt *Event) error {
	for _, item := range evt.Group.Items {
		m, err := w.db.Mapping.GetBySourceID(ctx, item.ID)
		if err != nil {
			return fmt.Errorf("failed to look up mapping for delete: %w", err)
		}
		if m == nil {
			continue
		}
		err = w.target.Delete(ctx, m.TargetID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("failed to delete status %s: %w", m.TargetID, err)
		}
		if errors.Is(err, ErrNotFound) {
			w.log.Debug().Str("target_id", m.TargetID).Msg("Status already gone")
		}
		if err = w.db.Mapping.DeleteBySourceID(ctx, item.ID); err != nil {
			return fmt.Errorf("failed to remove mapping for %d: %w", item.ID, err)
		}
		w.log.Info().Str("target_id", m.TargetID).Msg("Removed status")
	}
	return w.updateCheckpoint(ctx, evt.Sequence, evt.ExpectedIncrement)
}

// applyPin reconciles the target pin set against the full pinned-id list
// carried by the event. Each pin/unpin is isolated: failures are logged
// and the rest proceed, leaving the most accurate achievable state.
func (w *Writer) applyPin(ctx context.Context, evt *Event) error {
	wanted := make(map[int64]struct{}, len(evt.Group.Items))
	for _, item := range evt.Group.Items {
		wanted[item.ID] = struct{}{}
	}

	for id, post := range w.pins {
		if _, keep := wanted[id]; keep {
			continue
		}
		delete(w.pins, id)
		if _, err := w.target.Unpin(ctx, post.ID); err != nil {
			w.log.Warn().Err(err).Str("url", post.URL).Msg("Failed to unpin status")
			continue
		}
		w.log.Info().Str("url", post.URL).Msg("Unpinned status")
	}

	for id := range wanted {
		if _, already := w.pins[id]; already {
			continue
		}
		m, err := w.db.Mapping.GetBySourceID(ctx, id)
		if err != nil || m == nil {
			if err != nil {
				w.log.Error().Err(err).Int64("source_id", id).Msg("Failed to look up mapping for pin")
			}
			continue
		}
		post, err := w.target.Pin(ctx, m.TargetID)
		if err != nil {
			w.log.Warn().Err(err).Str("target_id", m.TargetID).Msg("Failed to pin status")
			continue
		}
		w.pins[id] = post
		w.log.Info().Str("url", post.URL).Msg("Pinned status")
	}

	return w.updateCheckpoint(ctx, evt.Sequence, evt.ExpectedIncrement)
}

// updateCheckpoint applies the shared sequence bookkeeping rule: a
// mismatch against the expected next sequence is a logged warning, not
// an error; a stale sequence is ignored; otherwise applied advances and
// expectedNext is predicted from the event's increment. Persisted after
// every event.
func (w *Writer) updateCheckpoint(ctx context.Context, sequence int64, increment int) error {
	cp, err := w.db.Checkpoint.Get(ctx)
	if err != nil {
		return fmt.Errorf("failed to load checkpoint: %w", err)
	}
	expected := cp.Applied + 1
	if cp.HasExpected {
		expected = cp.ExpectedNext
	}
	if sequence != expected {
		w.log.Warn().
			Int64("applied", cp.Applied).
			Int64("expected", expected).
			Int64("sequence", sequence).
			Msg("Unexpected sequence update")
	}
	if sequence <= cp.Applied {
		w.log.Warn().
			Int64("applied", cp.Applied).
			Int64("sequence", sequence).
			Msg("Ignoring stale sequence update")
		return nil
	}
	if err = w.db.Checkpoint.Put(ctx, sequence, sequence+int64(increment)); err != nil {
		return fmt.Errorf("failed to persist checkpoint: %w", err)
	}
	return nil
}

// pickVisibility escalates importance-matched titles while the rate
// limiter has headroom. Check and reservation are atomic, so two posts
// racing for the last slot cannot both win.
func (w *Writer) pickVisibility(title string) Visibility {
	if !w.composer.IsImportant(title) {
		return w.normalVisibility
	}
	if !w.limiter.TryReserve(time.Now()) {
		VisibilityThrottled.Inc()
		w.log.Warn().Msg("Throttled visibility escalation")
		return w.normalVisibility
	}
	VisibilityEscalations.Inc()
	return w.elevatedVisibility
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
