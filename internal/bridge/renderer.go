package bridge

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Phase is a renderer's playback phase.
type Phase int

const (
	PhaseIdle Phase = iota
	PhasePlaying
	PhasePaused
)

func (p Phase) String() string {
	switch p {
	case PhasePlaying:
		return "playing"
	case PhasePaused:
		return "paused"
	default:
		return "idle"
	}
}

// command is the closed set of transitions mirrored to group members.
type command int

const (
	cmdPlayMedia command = iota
	cmdPlay
	cmdPause
	cmdStop
)

// reportFreshFor suppresses wall-clock extrapolation this long after an
// inbound position report; a fresh report is authoritative.
const reportFreshFor = 10 * time.Second

// ErrBindingTimeout is returned when no media binding appears within the
// wait bound after playback was triggered.
var ErrBindingTimeout = errors.New("media binding timeout")

// PlayEvent carries the metadata of an outbound "play" push event.
type PlayEvent struct {
	Title      string
	Artist     string
	ImageURL   string
	Duration   int
	NextAction string
	PrevAction string
}

// Notifier delivers outbound push events to a renderer's notification
// channels. Delivery is fire-and-forget; relay cancellation, not the
// notification, is the authoritative way to halt audio.
type Notifier interface {
	NotifyPlay(rendererID string, ev PlayEvent)
	NotifyPlaylist(rendererID, playlistURL string)
	NotifyGotoIndex(rendererID string, index int)
	NotifyPause(rendererID string)
	NotifyResume(rendererID string)
	NotifyStop(rendererID string, showPrompt bool)
}

// SessionCanceller force-cancels all open audio relay sessions of a renderer.
type SessionCanceller interface {
	CancelSessions(rendererID string)
}

// Renderer is the per-TV playback state machine. All field access goes
// through the mutex; notifications and group propagation run outside the
// lock so a member's transition never deadlocks against the leader's.
type Renderer struct {
	ID    string
	Name  string
	Codec Codec

	reg *Registry
	now func() time.Time

	mu           sync.Mutex
	phase        Phase
	media        *Media
	elapsed      float64
	elapsedAt    time.Time
	lastReport   time.Time
	lastActivity time.Time

	playingFromQueue bool
	queueID          string
	playlistOffset   int
	playlistSize     int

	groupMembers []string
	syncedTo     string

	propagating bool
	skipNotify  bool

	mediaReady  chan struct{}
	readyClosed bool
}

func newRenderer(reg *Registry, id, name string, codec Codec) *Renderer {
	return &Renderer{
		ID:           id,
		Name:         name,
		Codec:        codec,
		reg:          reg,
		now:          reg.now,
		lastActivity: reg.now(),
		mediaReady:   make(chan struct{}),
	}
}

// PlayMedia binds media to the renderer and moves it to Playing with elapsed
// reset to zero. The waiting audio request, if any, is released.
func (r *Renderer) PlayMedia(ctx context.Context, m *Media) {
	r.mu.Lock()
	now := r.now()
	r.media = m
	r.phase = PhasePlaying
	r.elapsed = 0
	r.elapsedAt = now
	r.lastReport = time.Time{}
	r.lastActivity = now
	if !r.readyClosed {
		close(r.mediaReady)
		r.readyClosed = true
	}
	skip := r.skipNotify
	r.mu.Unlock()

	if !skip && r.reg != nil && r.reg.translator != nil {
		r.reg.translator.OnPlayMedia(ctx, r, m)
	}
	r.propagate(ctx, cmdPlayMedia, m)
}

// Play resumes playback. From Paused it restarts the elapsed clock where it
// stopped and emits a resume event; from other phases it only marks Playing.
func (r *Renderer) Play(ctx context.Context) {
	r.mu.Lock()
	resumed := r.phase == PhasePaused
	r.phase = PhasePlaying
	now := r.now()
	r.elapsedAt = now
	r.lastActivity = now
	skip := r.skipNotify
	r.mu.Unlock()

	if resumed && !skip && r.reg != nil {
		if n := r.reg.notifierRef(); n != nil {
			n.NotifyResume(r.ID)
		}
	}
	r.propagate(ctx, cmdPlay, nil)
}

// Pause freezes the elapsed counter at its extrapolated value. Only legal
// from Playing; anywhere else it is a no-op.
func (r *Renderer) Pause(ctx context.Context) {
	r.mu.Lock()
	if r.phase != PhasePlaying {
		r.mu.Unlock()
		return
	}
	now := r.now()
	if !r.elapsedAt.IsZero() {
		r.elapsed += now.Sub(r.elapsedAt).Seconds()
	}
	r.elapsedAt = now
	r.lastActivity = now
	r.phase = PhasePaused
	skip := r.skipNotify
	r.mu.Unlock()

	if !skip && r.reg != nil {
		if n := r.reg.notifierRef(); n != nil {
			n.NotifyPause(r.ID)
		}
	}
	r.propagate(ctx, cmdPause, nil)
}

// Stop clears the binding and queue linkage, re-arms the media wait gate and
// triggers the stop escalation. Safe to call in any phase, any number of
// times.
func (r *Renderer) Stop(ctx context.Context) {
	r.mu.Lock()
	r.phase = PhaseIdle
	r.media = nil
	r.elapsed = 0
	r.elapsedAt = time.Time{}
	r.lastReport = time.Time{}
	r.lastActivity = r.now()
	r.playingFromQueue = false
	r.queueID = ""
	r.playlistOffset = 0
	r.playlistSize = 0
	if r.readyClosed {
		r.mediaReady = make(chan struct{})
		r.readyClosed = false
	}
	r.mu.Unlock()

	if r.reg != nil {
		r.reg.signalStop(r)
	}
	r.propagate(ctx, cmdStop, nil)
}

// UpdatePosition accepts an inbound position report. Reports are only
// honored while Playing; the extrapolation anchor moves to the report time.
func (r *Renderer) UpdatePosition(pos float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.phase != PhasePlaying {
		return
	}
	now := r.now()
	r.elapsed = pos
	r.elapsedAt = now
	r.lastReport = now
	r.lastActivity = now
}

// PauseFromReport handles an inbound pause message: the reported position is
// recorded first, then the pause transition runs with outbound notification
// suppressed so the event is not echoed back to its sender.
func (r *Renderer) PauseFromReport(ctx context.Context, pos float64) {
	r.UpdatePosition(pos)
	r.withSuppressedNotify(func() { r.Pause(ctx) })
}

// ResumeFromReport handles an inbound resume message, again without echoing
// the event back.
func (r *Renderer) ResumeFromReport(ctx context.Context) {
	r.withSuppressedNotify(func() { r.Play(ctx) })
}

func (r *Renderer) withSuppressedNotify(fn func()) {
	r.mu.Lock()
	r.skipNotify = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.skipNotify = false
		r.mu.Unlock()
	}()
	fn()
}

// Poll advances the elapsed counter by wall-clock delta while Playing. It
// does nothing within reportFreshFor of the last inbound report, and nothing
// in any other phase, so elapsed never moves backwards or while paused.
func (r *Renderer) Poll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.phase != PhasePlaying || r.elapsedAt.IsZero() {
		return
	}
	now := r.now()
	if !r.lastReport.IsZero() && now.Sub(r.lastReport) < reportFreshFor {
		return
	}
	r.elapsed += now.Sub(r.elapsedAt).Seconds()
	r.elapsedAt = now
}

// Elapsed returns the current playback position in seconds. While Playing it
// extrapolates from the last anchor; paused and idle values are frozen.
func (r *Renderer) Elapsed() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.phase == PhasePlaying && !r.elapsedAt.IsZero() {
		return r.elapsed + r.now().Sub(r.elapsedAt).Seconds()
	}
	return r.elapsed
}

// WaitForMedia blocks until media is bound, the context ends or the timeout
// fires. The fast path returns immediately when a binding already exists.
func (r *Renderer) WaitForMedia(ctx context.Context, timeout time.Duration) (*Media, error) {
	r.mu.Lock()
	if r.media != nil {
		m := r.media
		r.mu.Unlock()
		return m, nil
	}
	ready := r.mediaReady
	r.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, ErrBindingTimeout
	}

	r.mu.Lock()
	m := r.media
	r.mu.Unlock()
	if m == nil {
		// stopped between the gate opening and this read
		return nil, ErrBindingTimeout
	}
	return m, nil
}

// CurrentMedia returns the bound media, or nil when idle.
func (r *Renderer) CurrentMedia() *Media {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.media
}

// Phase returns the current playback phase.
func (r *Renderer) Phase() Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

// Touch records renderer activity for the idle sweep.
func (r *Renderer) Touch() {
	r.mu.Lock()
	r.lastActivity = r.now()
	r.mu.Unlock()
}

// IdleFor reports how long the renderer has been without activity.
func (r *Renderer) IdleFor() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.now().Sub(r.lastActivity)
}

// SetMembers replaces the renderer's group member list. An empty list
// dissolves the group.
func (r *Renderer) SetMembers(memberIDs []string) {
	r.mu.Lock()
	r.groupMembers = append([]string(nil), memberIDs...)
	r.mu.Unlock()
}

// MemberIDs returns a copy of the group member list.
func (r *Renderer) MemberIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.groupMembers...)
}

// SetSyncedTo marks the renderer as a follower of the given leader, or
// clears the follower role when id is empty.
func (r *Renderer) SetSyncedTo(id string) {
	r.mu.Lock()
	r.syncedTo = id
	r.mu.Unlock()
}

// GroupID identifies the shared stream this renderer participates in: the
// leader's id for followers and for leaders with members, empty for solo
// renderers.
func (r *Renderer) GroupID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.syncedTo != "" {
		return r.syncedTo
	}
	for _, id := range r.groupMembers {
		if id != r.ID {
			return r.ID
		}
	}
	return ""
}

// QueueID returns the linked queue id, or empty for direct play.
func (r *Renderer) QueueID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.queueID
}

func (r *Renderer) sameQueue(queueID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.playingFromQueue && r.queueID == queueID
}

func (r *Renderer) queueLinkage() (offset, size int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.playlistOffset, r.playlistSize
}

func (r *Renderer) setQueueLinkage(queueID string, offset, size int) {
	r.mu.Lock()
	r.playingFromQueue = true
	r.queueID = queueID
	r.playlistOffset = offset
	r.playlistSize = size
	r.mu.Unlock()
}

func (r *Renderer) clearQueueLinkage() {
	r.mu.Lock()
	r.playingFromQueue = false
	r.queueID = ""
	r.playlistOffset = 0
	r.playlistSize = 0
	r.mu.Unlock()
}

// propagate mirrors a transition to group members. Only a grouping-enabled
// leader propagates, and the in-flight guard stops a member's own transition
// from fanning out again.
func (r *Renderer) propagate(ctx context.Context, cmd command, m *Media) {
	if r.reg == nil || !r.reg.GroupingEnabled() {
		return
	}
	r.mu.Lock()
	if r.propagating || r.syncedTo != "" {
		r.mu.Unlock()
		return
	}
	members := make([]string, 0, len(r.groupMembers))
	for _, id := range r.groupMembers {
		if id != r.ID {
			members = append(members, id)
		}
	}
	if len(members) == 0 {
		r.mu.Unlock()
		return
	}
	r.propagating = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.propagating = false
		r.mu.Unlock()
	}()

	for _, id := range members {
		member, ok := r.reg.Get(id)
		if !ok || member == r {
			continue
		}
		switch cmd {
		case cmdPlayMedia:
			if m != nil {
				mm := *m
				member.PlayMedia(ctx, &mm)
			}
		case cmdPlay:
			member.Play(ctx)
		case cmdPause:
			member.Pause(ctx)
		case cmdStop:
			member.Stop(ctx)
		}
	}
}
