// Copyright 2024-2026 Aiku AI

package mirror

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.mau.fi/util/exsync"

	"github.com/aiku/chanmirror/pkg/mirror/database"
)

type groupState int

const (
	groupOpen groupState = iota
	groupFlushing
	groupFlushed
)

// pendingGroup is an album being assembled from consecutive grouped
// notifications. Exactly one may be open at a time; the flush timer and
// a follow-up notification both race for the Open→Flushing transition
// under the assembler mutex, and only one wins.
type pendingGroup struct {
	id       int64
	items    []*SourceItem
	lastSeq  int64
	consumed int
	state    groupState
	timer    *time.Timer
}

// Assembler converts the source's raw notification stream into ordered,
// complete events on the bus: backlog differences at startup, live
// batches thereafter. Each group is emitted at most once.
type Assembler struct {
	log    zerolog.Logger
	source Source
	db     *database.Database
	bus    *Bus

	flushDelay time.Duration

	mu        sync.Mutex
	pending   *pendingGroup
	processed *exsync.Set[int64]

	// runCtx is the context of the active Run call; flush timers fire on
	// their own goroutine and need it for link export.
	runCtx context.Context
}

// NewAssembler wires an assembler to its collaborators.
func NewAssembler(source Source, db *database.Database, bus *Bus, flushDelay time.Duration, log zerolog.Logger) *Assembler {
	return &Assembler{
		log:        log.With().Str("component", "assembler").Logger(),
		source:     source,
		db:         db,
		bus:        bus,
		flushDelay: flushDelay,
		processed:  exsync.NewSet[int64](),
	}
}

// Run drives login, backlog catch-up, pin discovery and the live update
// loop until ctx is canceled or the source's update stream closes. The
// bus is closed on the way out so consumers shut down in order.
func (a *Assembler) Run(ctx context.Context) error {
	defer a.bus.Close()
	a.runCtx = ctx

	identity, err := a.source.Login(ctx)
	if err != nil {
		return fmt.Errorf("failed to log into source: %w", err)
	}
	a.log.Info().
		Str("username", identity.Username).
		Int64("user_id", identity.UserID).
		Str("channel", identity.Channel).
		Int64("channel_id", identity.ChannelID).
		Msg("Logged into source")

	applied, err := a.resume(ctx)
	if err != nil {
		return err
	}

	if err = a.emitStartupPins(ctx, applied); err != nil {
		return err
	}

	a.log.Info().Msg("Listening to live updates")
	updates, err := a.source.Updates(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to updates: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case batch, ok := <-updates:
			if !ok {
				a.log.Info().Msg("Update stream closed")
				return nil
			}
			a.handleBatch(ctx, batch)
		}
	}
}

// resume loads the checkpoint and either initializes it from the
// channel's current position or replays the backlog since the saved
// position. It returns the in-memory applied cursor after catch-up; the
// cursor is only persisted by the delivery engine applying the emitted
// events, so a crash mid-backlog re-runs catch-up harmlessly.
func (a *Assembler) resume(ctx context.Context) (int64, error) {
	cp, err := a.db.Checkpoint.Get(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	if !cp.HasApplied || cp.Applied == 0 {
		a.log.Info().Msg("No saved sequence, initializing state")
		seq, err := a.source.CurrentSequence(ctx)
		if err != nil {
			return 0, fmt.Errorf("failed to fetch current channel position: %w", err)
		}
		if err = a.db.Checkpoint.InitApplied(ctx, seq); err != nil {
			return 0, fmt.Errorf("failed to store initial sequence: %w", err)
		}
		a.log.Info().Int64("sequence", seq).Msg("Got initial sequence")
		return seq, nil
	}

	a.log.Info().Int64("since", cp.Applied).Msg("Checking missed channel updates")
	applied := cp.Applied
	for {
		diff, err := a.source.FetchDifference(ctx, applied)
		if err != nil {
			return 0, fmt.Errorf("failed to fetch difference since %d: %w", applied, err)
		}
		a.log.Info().
			Int("new_items", len(diff.Items)).
			Int("other_updates", len(diff.Others)).
			Bool("final", diff.Final).
			Msg("Got backlog page")
		a.emitBacklogPage(ctx, diff)
		if diff.NewSequence > applied {
			applied = diff.NewSequence
		}
		if diff.Final {
			break
		}
	}
	a.log.Info().Int64("sequence", applied).Msg("All missed updates are processed")
	return applied, nil
}

// emitBacklogPage collapses runs of consecutive grouped items into
// single events and forwards the page's other notifications in order.
// Every event of the page carries the page's reported sequence.
func (a *Assembler) emitBacklogPage(ctx context.Context, diff *Difference) {
	var lastGroupID int64
	for i := 0; i < len(diff.Items); i++ {
		item := diff.Items[i]
		if item.GroupID != 0 {
			if item.GroupID == lastGroupID {
				continue
			}
			lastGroupID = item.GroupID
			var group []*SourceItem
			for _, member := range diff.Items {
				if member.GroupID == item.GroupID {
					group = append(group, member)
				}
			}
			link := a.exportLink(ctx, group[0].ID, true)
			a.publish(&Event{
				Type:              EventPost,
				Group:             NewMessageGroup(item.GroupID, group),
				Sequence:          diff.NewSequence,
				ExpectedIncrement: len(group),
				Link:              link,
			})
			a.log.Info().
				Int64("group_id", item.GroupID).
				Int("size", len(group)).
				Msg("Assembled message group from channel diff")
			continue
		}
		lastGroupID = 0
		link := a.exportLink(ctx, item.ID, false)
		a.publish(&Event{
			Type:              EventPost,
			Group:             SingleItemGroup(item),
			Sequence:          diff.NewSequence,
			ExpectedIncrement: 1,
			Link:              link,
		})
	}
	for _, n := range diff.Others {
		a.handleNotification(ctx, n)
	}
}

// emitStartupPins publishes the current pin set as a Pin event. Its
// sequence is deliberately behind the applied cursor so reconciliation
// never advances the checkpoint.
func (a *Assembler) emitStartupPins(ctx context.Context, applied int64) error {
	a.log.Info().Msg("Reading source pins")
	ids, err := a.source.ListPinned(ctx)
	if err != nil {
		return fmt.Errorf("failed to list pinned items: %w", err)
	}
	a.publish(&Event{
		Type:              EventPin,
		Group:             GroupFromIDs(ids),
		Sequence:          applied - int64(len(ids)),
		ExpectedIncrement: len(ids),
	})
	a.log.Info().Int("count", len(ids)).Msg("Got source pins")
	return nil
}

// handleBatch processes one live delivery in ascending sequence order;
// batches are not guaranteed pre-sorted.
func (a *Assembler) handleBatch(ctx context.Context, batch Batch) {
	notifications := make([]Notification, len(batch.Notifications))
	copy(notifications, batch.Notifications)
	sort.SliceStable(notifications, func(i, j int) bool {
		return notifications[i].Seq() < notifications[j].Seq()
	})
	if len(notifications) > 1 {
		a.log.Info().Int("count", len(notifications)).Msg("Received update batch")
	}
	for _, n := range notifications {
		a.handleNotification(ctx, n)
	}
}

func (a *Assembler) handleNotification(ctx context.Context, n Notification) {
	switch n := n.(type) {
	case *NewItem:
		a.handleNewItem(ctx, n)
	case *ItemEdited:
		link := a.exportLink(ctx, n.Item.ID, n.Item.GroupID != 0)
		a.publish(&Event{
			Type:              EventEdit,
			Group:             SingleItemGroup(n.Item),
			Sequence:          n.Sequence,
			ExpectedIncrement: consumedOrOne(n.Count),
			Link:              link,
		})
	case *ItemsDeleted:
		a.publish(&Event{
			Type:              EventDelete,
			Group:             GroupFromIDs(n.IDs),
			Sequence:          n.Sequence,
			ExpectedIncrement: consumedOrOne(n.Count),
		})
	case *PinsChanged:
		a.publish(&Event{
			Type:              EventPin,
			Group:             GroupFromIDs(n.IDs),
			Sequence:          n.Sequence,
			ExpectedIncrement: consumedOrOne(n.Count),
		})
	default:
		// Unsupported notification shapes are logged and ignored; they
		// must never crash the ingestion loop.
		a.log.Debug().Type("notification", n).Msg("Ignoring unsupported notification")
	}
}

func (a *Assembler) handleNewItem(ctx context.Context, n *NewItem) {
	if n.Count > 1 {
		a.log.Warn().
			Int("consumed", n.Count).
			Int64("item_id", n.Item.ID).
			Int64("group_id", n.Item.GroupID).
			Msg("Got update with large sequence consumption")
	}

	// A pending group is closed by the first notification that doesn't
	// belong to it: an ungrouped item or a different group.
	a.mu.Lock()
	pendingID := int64(0)
	if a.pending != nil {
		pendingID = a.pending.id
	}
	a.mu.Unlock()
	if pendingID != 0 && (n.Item.GroupID == 0 || n.Item.GroupID != pendingID) {
		a.flushGroup(pendingID, "follower")
	}

	if n.Item.GroupID != 0 {
		a.appendToGroup(n)
		return
	}

	link := a.exportLink(ctx, n.Item.ID, false)
	a.publish(&Event{
		Type:              EventPost,
		Group:             SingleItemGroup(n.Item),
		Sequence:          n.Sequence,
		ExpectedIncrement: consumedOrOne(n.Count),
		Link:              link,
	})
}

func (a *Assembler) appendToGroup(n *NewItem) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pending == nil {
		pg := &pendingGroup{id: n.Item.GroupID, state: groupOpen}
		pg.timer = time.AfterFunc(a.flushDelay, func() {
			a.flushGroup(pg.id, "timer")
		})
		a.pending = pg
		a.log.Debug().Int64("group_id", pg.id).Msg("Opened pending message group")
	}
	a.pending.items = append(a.pending.items, n.Item)
	a.pending.lastSeq = n.Sequence
	a.pending.consumed += consumedOrOne(n.Count)
	a.log.Debug().
		Int64("item_id", n.Item.ID).
		Int64("group_id", n.Item.GroupID).
		Msg("Added item to the pending group")
}

// flushGroup attempts the Open→Flushing transition for the given group
// and, on winning it, emits the assembled Post event. Losing the race
// (already flushing, already flushed, or a different group pending) is a
// no-op.
func (a *Assembler) flushGroup(gid int64, reason string) {
	a.mu.Lock()
	pg := a.pending
	if pg == nil || pg.id != gid || pg.state != groupOpen {
		a.mu.Unlock()
		return
	}
	pg.state = groupFlushing
	pg.timer.Stop()
	a.pending = nil
	a.mu.Unlock()

	if !a.processed.Add(gid) {
		a.log.Warn().
			Int64("group_id", gid).
			Int("size", len(pg.items)).
			Msg("Message group was already processed before")
		return
	}

	link := a.exportLink(a.runCtx, pg.items[len(pg.items)-1].ID, true)
	a.log.Info().
		Int64("group_id", gid).
		Int("size", len(pg.items)).
		Str("reason", reason).
		Msg("Flushing message group")
	a.publish(&Event{
		Type:              EventPost,
		Group:             NewMessageGroup(gid, pg.items),
		Sequence:          pg.lastSeq,
		ExpectedIncrement: pg.consumed,
		Link:              link,
	})
	pg.state = groupFlushed
	GroupsFlushed.WithLabelValues(reason).Inc()
}

func (a *Assembler) publish(evt *Event) {
	a.bus.Publish(evt)
}

// exportLink asks the source for a shareable link; failures degrade to
// an empty link, which downstream replaces with the deterministic
// default.
func (a *Assembler) exportLink(ctx context.Context, itemID int64, grouped bool) string {
	link, err := a.source.ExportLink(ctx, itemID, grouped)
	if err != nil {
		a.log.Warn().Err(err).Int64("item_id", itemID).Msg("Failed to export item link")
		return ""
	}
	return link
}

func consumedOrOne(count int) int {
	if count > 0 {
		return count
	}
	return 1
}
