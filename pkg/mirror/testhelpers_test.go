// Copyright 2024-2026 Aiku AI

package mirror

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"go.mau.fi/util/dbutil"

	"github.com/aiku/chanmirror/pkg/mirror/database"
)

func newTestDB(t *testing.T) *database.Database {
	t.Helper()
	rawDB, err := dbutil.NewWithDialect(filepath.Join(t.TempDir(), "test.db"), "sqlite3")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	db := database.New(rawDB)
	if err = db.Upgrade(context.Background()); err != nil {
		t.Fatalf("failed to upgrade test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func testComposer(t *testing.T) *Composer {
	t.Helper()
	c, err := NewComposer(&FormattingConfig{LinkBase: "https://example.org/chan"})
	if err != nil {
		t.Fatalf("failed to build composer: %v", err)
	}
	return c
}

func testCaps() *Capabilities {
	return &Capabilities{
		MaxContentLength:     500,
		MaxAttachments:       4,
		URLReservedChars:     23,
		MaxImageBytes:        16 << 20,
		MaxVideoBytes:        99 << 20,
		MaxDescriptionLength: 1500,
		SupportedMIMETypes:   []string{"image/jpeg", "image/png", "video/mp4"},
	}
}

func testPipelineConfig() *PipelineConfig {
	return &PipelineConfig{
		GroupFlushDelay:      Duration(10 * time.Second),
		RetryCooldown:        Duration(time.Second),
		AttachmentRetries:    2,
		AttachmentRetryDelay: Duration(time.Millisecond),
		WatchdogThreshold:    Duration(time.Minute),
		PublicLimitCount:     3,
		PublicLimitWindow:    Duration(time.Hour),
		Locale:               "ru",
		NormalVisibility:     string(VisibilityUnlisted),
		ElevatedVisibility:   string(VisibilityPublic),
		MaxDescriptionLength: 1500,
	}
}

var (
	_ Source = (*fakeSource)(nil)
	_ Target = (*fakeTarget)(nil)
)

// fakeSource is a scriptable mirror.Source.
type fakeSource struct {
	identity  *Identity
	sequence  int64
	diffs     []*Difference
	pinned    []int64
	links     map[int64]string
	media     map[int64][]byte
	updates   chan Batch
	loginErr  error
	linkErr   error
	mediaErr  error
	pinnedErr error

	mu        sync.Mutex
	diffCalls []int64
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		identity: &Identity{UserID: 1, Username: "mirrorbot", ChannelID: 100, Channel: "testchan"},
		links:    make(map[int64]string),
		media:    make(map[int64][]byte),
		updates:  make(chan Batch, 16),
	}
}

func (f *fakeSource) Login(context.Context) (*Identity, error) {
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	return f.identity, nil
}

func (f *fakeSource) CurrentSequence(context.Context) (int64, error) {
	return f.sequence, nil
}

func (f *fakeSource) FetchDifference(_ context.Context, since int64) (*Difference, error) {
	f.mu.Lock()
	f.diffCalls = append(f.diffCalls, since)
	n := len(f.diffCalls)
	f.mu.Unlock()
	if n > len(f.diffs) {
		return nil, fmt.Errorf("unexpected difference call %d since %d", n, since)
	}
	return f.diffs[n-1], nil
}

func (f *fakeSource) Updates(context.Context) (<-chan Batch, error) {
	return f.updates, nil
}

func (f *fakeSource) ListPinned(context.Context) ([]int64, error) {
	if f.pinnedErr != nil {
		return nil, f.pinnedErr
	}
	return f.pinned, nil
}

func (f *fakeSource) ExportLink(_ context.Context, itemID int64, _ bool) (string, error) {
	if f.linkErr != nil {
		return "", f.linkErr
	}
	if link, ok := f.links[itemID]; ok {
		return link, nil
	}
	return fmt.Sprintf("https://example.org/chan/%d", itemID), nil
}

func (f *fakeSource) DownloadAttachment(_ context.Context, item *SourceItem) ([]byte, error) {
	if f.mediaErr != nil {
		return nil, f.mediaErr
	}
	if data, ok := f.media[item.ID]; ok {
		return data, nil
	}
	return []byte("fake-media"), nil
}

// publishCall captures one Publish invocation for assertions.
type publishCall struct {
	Request *PublishRequest
	Post    *Post
}

// fakeTarget is a scriptable mirror.Target that records side effects.
type fakeTarget struct {
	caps    *Capabilities
	account *Account

	mu        sync.Mutex
	nextID    int
	publishes []publishCall
	// publishErrs are consumed one per Publish call before success.
	publishErrs []error
	edits       map[string]*EditRequest
	posts       map[string]*Post
	deleted     []string
	deleteErr   error
	pinnedIDs   []string
	unpinnedIDs []string
	uploads     int
	uploadType  string
	uploadErr   error
}

func newFakeTarget() *fakeTarget {
	return &fakeTarget{
		caps:       testCaps(),
		account:    &Account{ID: "acc1", Username: "mirror"},
		edits:      make(map[string]*EditRequest),
		posts:      make(map[string]*Post),
		uploadType: "image",
	}
}

func (f *fakeTarget) GetCapabilities(context.Context) (*Capabilities, error) {
	return f.caps, nil
}

func (f *fakeTarget) CurrentAccount(context.Context) (*Account, error) {
	return f.account, nil
}

func (f *fakeTarget) Publish(_ context.Context, req *PublishRequest) (*Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.publishErrs) > 0 {
		err := f.publishErrs[0]
		f.publishErrs = f.publishErrs[1:]
		if err != nil {
			// Failed attempts still count as publish calls.
			f.publishes = append(f.publishes, publishCall{Request: req})
			return nil, err
		}
	}
	f.nextID++
	post := &Post{
		ID:           fmt.Sprintf("status-%d", f.nextID),
		URL:          fmt.Sprintf("https://target.example/@mirror/%d", f.nextID),
		Visibility:   req.Visibility,
		SpoilerTitle: req.SpoilerTitle,
		Text:         req.Content,
		Attachments:  req.Attachments,
	}
	f.posts[post.ID] = post
	f.publishes = append(f.publishes, publishCall{Request: req, Post: post})
	return post, nil
}

func (f *fakeTarget) Edit(_ context.Context, id string, req *EditRequest) (*Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	post, ok := f.posts[id]
	if !ok {
		return nil, ErrNotFound
	}
	f.edits[id] = req
	post.Text = req.Content
	post.SpoilerTitle = req.SpoilerTitle
	return post, nil
}

func (f *fakeTarget) Get(_ context.Context, id string) (*Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	post, ok := f.posts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *post
	return &cp, nil
}

func (f *fakeTarget) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	if _, ok := f.posts[id]; !ok {
		return ErrNotFound
	}
	delete(f.posts, id)
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeTarget) Pin(_ context.Context, id string) (*Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	post, ok := f.posts[id]
	if !ok {
		return nil, ErrNotFound
	}
	f.pinnedIDs = append(f.pinnedIDs, id)
	return post, nil
}

func (f *fakeTarget) Unpin(_ context.Context, id string) (*Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unpinnedIDs = append(f.unpinnedIDs, id)
	if post, ok := f.posts[id]; ok {
		return post, nil
	}
	return &Post{ID: id}, nil
}

func (f *fakeTarget) UploadAttachment(_ context.Context, _ []byte, _, _ string) (*AttachmentRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	f.uploads++
	return &AttachmentRef{ID: fmt.Sprintf("media-%d", f.uploads), Type: f.uploadType}, nil
}

func (f *fakeTarget) ListPinned(_ context.Context, _ string) ([]*Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var pinned []*Post
	for _, id := range f.pinnedIDs {
		if post, ok := f.posts[id]; ok {
			pinned = append(pinned, post)
		}
	}
	return pinned, nil
}

func (f *fakeTarget) publishCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.publishes)
}

func newTestWriter(t *testing.T, db *database.Database, source Source, target *fakeTarget) *Writer {
	t.Helper()
	w := NewWriter(db, source, target, testComposer(t), testPipelineConfig(), zerolog.Nop())
	w.caps = target.caps
	w.composer.SetLimits(target.caps, w.maxDescriptionLength)
	w.sleep = func(context.Context, time.Duration) error { return nil }
	return w
}
