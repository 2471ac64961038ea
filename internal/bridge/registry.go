package bridge

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// ErrRendererNotFound is returned for lookups of unregistered renderers.
var ErrRendererNotFound = errors.New("renderer not found")

// StopOrder selects which stop signal fires first during escalation.
type StopOrder string

const (
	StopAbortFirst  StopOrder = "abort_first"
	StopNotifyFirst StopOrder = "notify_first"
)

// ParseStopOrder maps a config string to a StopOrder, defaulting to
// abort-first.
func ParseStopOrder(s string) StopOrder {
	if StopOrder(s) == StopNotifyFirst {
		return StopNotifyFirst
	}
	return StopAbortFirst
}

// Config carries the bridge's tunable behavior.
type Config struct {
	OutputCodec     Codec
	PreBufferBytes  int
	RingChunks      int
	SubQueueChunks  int
	IdleTimeout     time.Duration
	GroupingEnabled bool
	ShowStopPrompt  bool
	StopOrder       StopOrder
}

// Registry owns the live renderer set. Renders reach their collaborators
// (notifier, session canceller, group relays, queue translator) through it,
// so no renderer holds an owning back-pointer to anything but the registry.
type Registry struct {
	log *slog.Logger
	cfg Config
	now func() time.Time

	notifier    Notifier
	sessions    SessionCanceller
	groupRelays *GroupRelayCache
	translator  *QueueTranslator

	mu        sync.RWMutex
	renderers map[string]*Renderer
	removing  map[string]chan struct{}
}

func NewRegistry(cfg Config, log *slog.Logger) *Registry {
	return &Registry{
		log:       log,
		cfg:       cfg,
		now:       time.Now,
		renderers: make(map[string]*Renderer),
		removing:  make(map[string]chan struct{}),
	}
}

// SetNotifier wires the push channel after construction; the hub and the
// registry reference each other.
func (g *Registry) SetNotifier(n Notifier) { g.notifier = n }

// SetSessions wires the audio session canceller.
func (g *Registry) SetSessions(s SessionCanceller) { g.sessions = s }

// SetGroupRelays wires the shared stream cache.
func (g *Registry) SetGroupRelays(c *GroupRelayCache) { g.groupRelays = c }

// SetTranslator wires the queue to playlist translator.
func (g *Registry) SetTranslator(t *QueueTranslator) { g.translator = t }

// GroupingEnabled reports whether transitions fan out to group members.
func (g *Registry) GroupingEnabled() bool { return g.cfg.GroupingEnabled }

// Config returns the registry's configuration.
func (g *Registry) Config() Config { return g.cfg }

func (g *Registry) notifierRef() Notifier { return g.notifier }

// GetOrRegister returns the renderer for id, creating it if absent. A
// concurrent removal of the same id completes before the new registration so
// the old instance's stop signals cannot land on the fresh one.
func (g *Registry) GetOrRegister(id, name string) *Renderer {
	for {
		g.mu.Lock()
		if r, ok := g.renderers[id]; ok {
			g.mu.Unlock()
			r.Touch()
			return r
		}
		if ch, ok := g.removing[id]; ok {
			g.mu.Unlock()
			<-ch
			continue
		}
		r := newRenderer(g, id, name, g.cfg.OutputCodec)
		g.renderers[id] = r
		g.mu.Unlock()
		g.log.Info("renderer registered", "renderer_id", id, "name", name)
		return r
	}
}

// Get returns the renderer for id if registered.
func (g *Registry) Get(id string) (*Renderer, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	r, ok := g.renderers[id]
	return r, ok
}

// Remove unregisters a renderer, stopping it first. Registrations of the same
// id block until the removal is finished.
func (g *Registry) Remove(id string) {
	g.mu.Lock()
	r, ok := g.renderers[id]
	if !ok {
		g.mu.Unlock()
		return
	}
	ch := make(chan struct{})
	g.removing[id] = ch
	delete(g.renderers, id)
	g.mu.Unlock()

	r.Stop(context.Background())

	g.mu.Lock()
	delete(g.removing, id)
	g.mu.Unlock()
	close(ch)
	g.log.Info("renderer removed", "renderer_id", id)
}

// List returns the registered renderers sorted by id.
func (g *Registry) List() []*Renderer {
	g.mu.RLock()
	out := make([]*Renderer, 0, len(g.renderers))
	for _, r := range g.renderers {
		out = append(out, r)
	}
	g.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count returns the number of registered renderers.
func (g *Registry) Count() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.renderers)
}

// signalStop runs the stop escalation for a renderer: the stop notification
// and relay cancellation each fire twice, in the configured order, to bound
// time-to-silence even when one signal is lost. A stopping group leader also
// tears down its shared stream.
func (g *Registry) signalStop(r *Renderer) {
	abort := func() {
		if g.sessions != nil {
			g.sessions.CancelSessions(r.ID)
		}
	}
	notify := func() {
		if g.notifier != nil {
			g.notifier.NotifyStop(r.ID, g.cfg.ShowStopPrompt)
		}
	}
	for i := 0; i < 2; i++ {
		if g.cfg.StopOrder == StopNotifyFirst {
			notify()
			abort()
		} else {
			abort()
			notify()
		}
	}
	if g.groupRelays != nil {
		if gid := r.GroupID(); gid == r.ID {
			g.groupRelays.Remove(gid)
		}
	}
}

const (
	pollInterval  = 5 * time.Second
	sweepInterval = time.Minute
)

// RunMaintenance drives the elapsed poll and the idle sweep until the
// context ends.
func (g *Registry) RunMaintenance(ctx context.Context) error {
	poll := time.NewTicker(pollInterval)
	defer poll.Stop()
	sweep := time.NewTicker(sweepInterval)
	defer sweep.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-poll.C:
			for _, r := range g.List() {
				r.Poll()
			}
		case <-sweep.C:
			g.sweepIdle()
		}
	}
}

// sweepIdle unregisters renderers that have been idle past the configured
// timeout. Playing and paused renderers are never swept.
func (g *Registry) sweepIdle() {
	if g.cfg.IdleTimeout <= 0 {
		return
	}
	for _, r := range g.List() {
		if r.Phase() != PhaseIdle {
			continue
		}
		if r.IdleFor() >= g.cfg.IdleTimeout {
			g.log.Info("renderer idle, unregistering", "renderer_id", r.ID, "idle_for", r.IdleFor().Round(time.Second).String())
			g.Remove(r.ID)
		}
	}
}
