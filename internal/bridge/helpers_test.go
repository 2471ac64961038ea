package bridge

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() Config {
	return Config{
		OutputCodec:     CodecMP3,
		PreBufferBytes:  DefaultPreBufferBytes,
		RingChunks:      DefaultRingChunks,
		SubQueueChunks:  DefaultSubQueueChunks,
		IdleTimeout:     30 * time.Minute,
		GroupingEnabled: true,
		StopOrder:       StopAbortFirst,
	}
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// recordingNotifier captures every outbound event for assertions.
type recordingNotifier struct {
	mu        sync.Mutex
	plays     []PlayEvent
	playlists []string
	gotos     []int
	pauses    int
	resumes   int
	stops     []bool
	order     []string
}

func (n *recordingNotifier) NotifyPlay(_ string, ev PlayEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.plays = append(n.plays, ev)
	n.order = append(n.order, "play")
}

func (n *recordingNotifier) NotifyPlaylist(_ string, url string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.playlists = append(n.playlists, url)
	n.order = append(n.order, "playlist")
}

func (n *recordingNotifier) NotifyGotoIndex(_ string, index int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.gotos = append(n.gotos, index)
	n.order = append(n.order, "goto")
}

func (n *recordingNotifier) NotifyPause(string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.pauses++
	n.order = append(n.order, "pause")
}

func (n *recordingNotifier) NotifyResume(string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.resumes++
	n.order = append(n.order, "resume")
}

func (n *recordingNotifier) NotifyStop(_ string, showPrompt bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.stops = append(n.stops, showPrompt)
	n.order = append(n.order, "stop")
}

func (n *recordingNotifier) snapshot() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.order...)
}

// recordingCanceller counts forced session cancellations per renderer.
type recordingCanceller struct {
	mu     sync.Mutex
	counts map[string]int
	order  *recordingNotifier
}

func (c *recordingCanceller) CancelSessions(rendererID string) {
	c.mu.Lock()
	if c.counts == nil {
		c.counts = make(map[string]int)
	}
	c.counts[rendererID]++
	c.mu.Unlock()
	if c.order != nil {
		c.order.mu.Lock()
		c.order.order = append(c.order.order, "abort")
		c.order.mu.Unlock()
	}
}

func (c *recordingCanceller) count(rendererID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[rendererID]
}

// fakeQueues serves a fixed snapshot per queue id.
type fakeQueues struct {
	mu    sync.Mutex
	snaps map[string]*QueueSnapshot
	err   error
}

func (q *fakeQueues) Queue(_ context.Context, queueID string) (*QueueSnapshot, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return nil, q.err
	}
	return q.snaps[queueID], nil
}

func (q *fakeQueues) ItemMetadata(_ context.Context, queueID, itemID string) (*QueueItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return nil, q.err
	}
	snap := q.snaps[queueID]
	if snap == nil {
		return nil, ErrRendererNotFound
	}
	for i := range snap.Items {
		if snap.Items[i].ItemID == itemID {
			return &snap.Items[i], nil
		}
	}
	return nil, nil
}

func (q *fakeQueues) set(snap *QueueSnapshot) {
	q.mu.Lock()
	if q.snaps == nil {
		q.snaps = make(map[string]*QueueSnapshot)
	}
	q.snaps[snap.ID] = snap
	q.mu.Unlock()
}

// testRegistry builds a registry with a fake clock, recording notifier and
// session canceller, all wired.
func testRegistry(t *testing.T, cfg Config) (*Registry, *fakeClock, *recordingNotifier, *recordingCanceller) {
	t.Helper()
	clock := newFakeClock()
	reg := NewRegistry(cfg, testLogger())
	reg.now = clock.Now
	notifier := &recordingNotifier{}
	canceller := &recordingCanceller{order: notifier}
	reg.SetNotifier(notifier)
	reg.SetSessions(canceller)
	return reg, clock, notifier, canceller
}

func queueItems(n int) []QueueItem {
	items := make([]QueueItem, 0, n)
	for i := 0; i < n; i++ {
		items = append(items, QueueItem{
			ItemID:   string(rune('a' + i)),
			URI:      "library://track/" + string(rune('a'+i)),
			Name:     "Track " + string(rune('A'+i)),
			Artist:   "Artist",
			Duration: 180 + i,
		})
	}
	return items
}
