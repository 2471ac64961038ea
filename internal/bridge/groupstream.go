package bridge

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultRingChunks bounds the catch-up history a late group member can
	// replay.
	DefaultRingChunks = 512
	// DefaultSubQueueChunks bounds the per-subscriber delivery queue; a
	// subscriber that falls further behind loses chunks rather than stalling
	// the group.
	DefaultSubQueueChunks = 256

	// groupStartWait is how long a subscriber waits for the first produced
	// chunk before giving up.
	groupStartWait = 15 * time.Second
)

// GroupRelay encodes a group leader's media once and fans the chunks out to
// every member. A ring buffer keeps recent history so members that attach
// after the stream started replay from the ring and then follow live.
type GroupRelay struct {
	MediaURI string

	ringChunks int
	subChunks  int
	log        *slog.Logger

	cancel    context.CancelFunc
	started   chan struct{}
	startOnce sync.Once

	mu       sync.Mutex
	ring     [][]byte
	subs     map[string]chan []byte
	finished bool
}

func newGroupRelay(mediaURI string, ringChunks, subChunks int, log *slog.Logger) *GroupRelay {
	if ringChunks <= 0 {
		ringChunks = DefaultRingChunks
	}
	if subChunks <= 0 {
		subChunks = DefaultSubQueueChunks
	}
	return &GroupRelay{
		MediaURI:   mediaURI,
		ringChunks: ringChunks,
		subChunks:  subChunks,
		log:        log,
		started:    make(chan struct{}),
		subs:       make(map[string]chan []byte),
	}
}

// run consumes the source until it ends or the relay is closed.
func (s *GroupRelay) run(ctx context.Context, chunks <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			s.finish()
			return
		case c, ok := <-chunks:
			if !ok {
				s.finish()
				return
			}
			s.publish(c)
		}
	}
}

// publish appends a chunk to the ring, evicting the oldest entry when full,
// and offers it to each subscriber without blocking. Slow subscribers drop.
func (s *GroupRelay) publish(c []byte) {
	s.startOnce.Do(func() { close(s.started) })
	s.mu.Lock()
	if len(s.ring) >= s.ringChunks {
		s.ring = append(s.ring[:0], s.ring[1:]...)
	}
	s.ring = append(s.ring, c)
	for id, sub := range s.subs {
		select {
		case sub <- c:
		default:
			s.log.Debug("group subscriber lagging, chunk dropped", "subscriber", id)
		}
	}
	s.mu.Unlock()
}

func (s *GroupRelay) finish() {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return
	}
	s.finished = true
	for id, sub := range s.subs {
		close(sub)
		delete(s.subs, id)
	}
	s.mu.Unlock()
	s.startOnce.Do(func() { close(s.started) })
}

// Subscribe attaches a member to the stream. It waits for production to
// start, then returns a channel that first replays the ring history and then
// follows live chunks. The returned cancel detaches the subscriber; it is
// safe to call after the stream finished.
func (s *GroupRelay) Subscribe(ctx context.Context, subscriberID string) (<-chan []byte, func(), error) {
	timer := time.NewTimer(groupStartWait)
	defer timer.Stop()
	select {
	case <-s.started:
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	case <-timer.C:
		return nil, nil, ErrBindingTimeout
	}

	s.mu.Lock()
	history := append([][]byte(nil), s.ring...)
	done := s.finished
	var live chan []byte
	if !done {
		live = make(chan []byte, s.subChunks)
		s.subs[subscriberID] = live
	}
	s.mu.Unlock()

	out := make(chan []byte, len(history)+1)
	stop := make(chan struct{})
	var stopOnce sync.Once
	cancel := func() {
		stopOnce.Do(func() {
			close(stop)
			s.mu.Lock()
			if sub, ok := s.subs[subscriberID]; ok && sub == live {
				delete(s.subs, subscriberID)
			}
			s.mu.Unlock()
		})
	}

	go func() {
		defer close(out)
		for _, c := range history {
			select {
			case out <- c:
			case <-stop:
				return
			}
		}
		if done {
			return
		}
		for {
			select {
			case <-stop:
				return
			case c, ok := <-live:
				if !ok {
					return
				}
				select {
				case out <- c:
				case <-stop:
					return
				}
			}
		}
	}()
	return out, cancel, nil
}

// Close stops production and releases all subscribers.
func (s *GroupRelay) Close() {
	if s.cancel != nil {
		s.cancel()
	}
	s.finish()
}

// GroupRelayCache holds at most one live GroupRelay per group. Requests for
// the same media reuse the running relay; a different media replaces it.
type GroupRelayCache struct {
	log        *slog.Logger
	ringChunks int
	subChunks  int

	mu     sync.Mutex
	relays map[string]*GroupRelay
}

func NewGroupRelayCache(ringChunks, subChunks int, log *slog.Logger) *GroupRelayCache {
	return &GroupRelayCache{
		log:        log,
		ringChunks: ringChunks,
		subChunks:  subChunks,
		relays:     make(map[string]*GroupRelay),
	}
}

// GetOrCreate returns the group's relay for mediaURI, starting one when
// none is running or when the running relay serves different media. The
// producer runs on a background context; its lifetime is the group's, not
// any single member request's.
func (c *GroupRelayCache) GetOrCreate(groupID, mediaURI string, open func(ctx context.Context) (<-chan []byte, error)) (*GroupRelay, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.relays[groupID]; ok {
		if s.MediaURI == mediaURI {
			return s, nil
		}
		c.log.Debug("replacing group stream", "group_id", groupID, "media_uri", mediaURI)
		s.Close()
		delete(c.relays, groupID)
	}

	s := newGroupRelay(mediaURI, c.ringChunks, c.subChunks, c.log)
	ctx, cancel := context.WithCancel(context.Background())
	chunks, err := open(ctx)
	if err != nil {
		cancel()
		return nil, err
	}
	s.cancel = cancel
	go s.run(ctx, chunks)
	c.relays[groupID] = s
	c.log.Debug("group stream started", "group_id", groupID, "media_uri", mediaURI)
	return s, nil
}

// Remove tears down the group's relay if one is running.
func (c *GroupRelayCache) Remove(groupID string) {
	c.mu.Lock()
	s, ok := c.relays[groupID]
	delete(c.relays, groupID)
	c.mu.Unlock()
	if ok {
		s.Close()
		c.log.Debug("group stream removed", "group_id", groupID)
	}
}

// Close tears down every relay.
func (c *GroupRelayCache) Close() {
	c.mu.Lock()
	relays := c.relays
	c.relays = make(map[string]*GroupRelay)
	c.mu.Unlock()
	for _, s := range relays {
		s.Close()
	}
}
