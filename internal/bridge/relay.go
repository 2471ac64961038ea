package bridge

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultPreBufferBytes is how much encoded audio is collected before HTTP
// headers are committed, absent configuration.
const DefaultPreBufferBytes = 64 * 1024

type relaySession struct {
	cancel context.CancelFunc
	abort  func()
}

// SessionRegistry tracks open audio relay sessions per renderer so a stop
// can cancel them from outside the request goroutine.
type SessionRegistry struct {
	log  *slog.Logger
	mu   sync.Mutex
	open map[string]map[string]*relaySession
}

func NewSessionRegistry(log *slog.Logger) *SessionRegistry {
	return &SessionRegistry{log: log, open: make(map[string]map[string]*relaySession)}
}

func (s *SessionRegistry) register(rendererID string, sess *relaySession) string {
	id := uuid.NewString()
	s.mu.Lock()
	if s.open[rendererID] == nil {
		s.open[rendererID] = make(map[string]*relaySession)
	}
	s.open[rendererID][id] = sess
	s.mu.Unlock()
	return id
}

func (s *SessionRegistry) unregister(rendererID, id string) {
	s.mu.Lock()
	if m := s.open[rendererID]; m != nil {
		delete(m, id)
		if len(m) == 0 {
			delete(s.open, rendererID)
		}
	}
	s.mu.Unlock()
}

// CancelSessions cancels every open session of a renderer: context
// cancellation first, then a forced write-deadline abort for transports
// blocked mid-write. Idempotent.
func (s *SessionRegistry) CancelSessions(rendererID string) {
	s.mu.Lock()
	sessions := s.open[rendererID]
	delete(s.open, rendererID)
	s.mu.Unlock()
	if len(sessions) == 0 {
		return
	}
	for _, sess := range sessions {
		sess.cancel()
		if sess.abort != nil {
			sess.abort()
		}
	}
	s.log.Debug("audio sessions cancelled", "renderer_id", rendererID, "count", len(sessions))
}

// OpenCount returns the number of open audio sessions across all renderers.
func (s *SessionRegistry) OpenCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.open {
		n += len(m)
	}
	return n
}

// AudioRelay streams encoded audio chunks to HTTP responses with a
// pre-buffer gate: headers are never written before the pre-buffer threshold
// is met or the source ends, so a renderer that aborts early never sees a
// half-committed response.
type AudioRelay struct {
	sessions       *SessionRegistry
	preBufferBytes int
	log            *slog.Logger
}

func NewAudioRelay(sessions *SessionRegistry, preBufferBytes int, log *slog.Logger) *AudioRelay {
	if preBufferBytes <= 0 {
		preBufferBytes = DefaultPreBufferBytes
	}
	return &AudioRelay{sessions: sessions, preBufferBytes: preBufferBytes, log: log}
}

// Serve pulls chunks from open and relays them to w. The session is
// registered for out-of-band cancellation; client disconnects and stop
// cancellations both end the stream without error. The byte count written is
// returned for metrics.
func (a *AudioRelay) Serve(w http.ResponseWriter, req *http.Request, r *Renderer, open func(ctx context.Context) (<-chan []byte, error)) (int64, error) {
	ctx, cancel := context.WithCancel(req.Context())
	defer cancel()
	rc := http.NewResponseController(w)
	sid := a.sessions.register(r.ID, &relaySession{
		cancel: cancel,
		abort:  func() { _ = rc.SetWriteDeadline(time.Now()) },
	})
	defer a.sessions.unregister(r.ID, sid)

	chunks, err := open(ctx)
	if err != nil {
		return 0, err
	}

	var pre [][]byte
	preSize := 0
	ended := false
	for preSize < a.preBufferBytes && !ended {
		select {
		case <-ctx.Done():
			a.log.Debug("audio session ended during pre-buffer", "renderer_id", r.ID)
			return 0, nil
		case c, ok := <-chunks:
			if !ok {
				ended = true
				break
			}
			pre = append(pre, c)
			preSize += len(c)
		}
	}
	if preSize == 0 && r.CurrentMedia() == nil {
		// stopped before any audio arrived; abandon without headers
		return 0, nil
	}

	h := w.Header()
	h.Set("Content-Type", r.Codec.MIMEType())
	h.Set("Cache-Control", "no-cache")
	h.Set("Accept-Ranges", "none")
	w.WriteHeader(http.StatusOK)

	var total int64
	for _, c := range pre {
		n, err := w.Write(c)
		total += int64(n)
		if err != nil {
			a.log.Debug("client disconnected", "renderer_id", r.ID, "bytes", total)
			return total, nil
		}
	}
	_ = rc.Flush()
	if ended {
		return total, nil
	}

	for {
		select {
		case <-ctx.Done():
			a.log.Debug("audio session cancelled", "renderer_id", r.ID, "bytes", total)
			return total, nil
		case c, ok := <-chunks:
			if !ok {
				return total, nil
			}
			n, err := w.Write(c)
			total += int64(n)
			if err != nil {
				a.log.Debug("client disconnected", "renderer_id", r.ID, "bytes", total)
				return total, nil
			}
			_ = rc.Flush()
		}
	}
}
