package bridge

import (
	"context"
	"fmt"
	"log/slog"
)

// QueueTranslator converts server-side queue state into the playlist
// directives a renderer understands. A renderer plays a rotated snapshot of
// the queue; the translator keeps the rotation offset and size linkage so
// later transitions within the same queue become cheap goto jumps instead of
// playlist reloads.
type QueueTranslator struct {
	queues QueueSource
	log    *slog.Logger
}

func NewQueueTranslator(queues QueueSource, log *slog.Logger) *QueueTranslator {
	return &QueueTranslator{queues: queues, log: log}
}

// OnPlayMedia decides how a new media binding reaches the renderer UI:
//
//   - direct media (no queue linkage) clears any stored linkage and pushes a
//     single play event,
//   - a new or changed queue pushes the full rotated playlist and stores the
//     rotation offset,
//   - the same queue at the same size pushes only a goto to the relative
//     index.
//
// When the queue cannot be fetched, or its size is zero or has drifted from
// the stored linkage, the full playlist is re-sent rather than risking a
// jump to the wrong row.
func (t *QueueTranslator) OnPlayMedia(ctx context.Context, r *Renderer, m *Media) {
	n := r.reg.notifierRef()
	if !m.QueueBacked() {
		r.clearQueueLinkage()
		if n != nil {
			n.NotifyPlay(r.ID, t.playEvent(r, m))
		}
		return
	}

	snap, err := t.queues.Queue(ctx, m.QueueID)
	if err != nil || snap == nil {
		t.log.Warn("queue fetch failed, re-sending playlist", "queue_id", m.QueueID, "error", err)
		r.setQueueLinkage(m.QueueID, 0, 0)
		if n != nil {
			n.NotifyPlaylist(r.ID, playlistURL(r.ID, 0))
		}
		return
	}
	current, size := snap.CurrentIndex, len(snap.Items)

	if r.sameQueue(m.QueueID) {
		offset, storedSize := r.queueLinkage()
		if size == storedSize && size > 0 {
			rel := ((current-offset)%size + size) % size
			if n != nil {
				n.NotifyGotoIndex(r.ID, rel)
			}
			return
		}
		t.log.Debug("queue size changed, re-sending playlist",
			"queue_id", m.QueueID, "stored_size", storedSize, "size", size)
	}

	r.setQueueLinkage(m.QueueID, current, size)
	if n != nil {
		n.NotifyPlaylist(r.ID, playlistURL(r.ID, current))
	}
}

func (t *QueueTranslator) playEvent(r *Renderer, m *Media) PlayEvent {
	return PlayEvent{
		Title:      m.Title,
		Artist:     m.Artist,
		ImageURL:   m.ImageURL,
		Duration:   m.Duration,
		NextAction: fmt.Sprintf("request:interaction:/api/next/%s", r.ID),
		PrevAction: fmt.Sprintf("request:interaction:/api/previous/%s", r.ID),
	}
}

// playlistURL is the content URL a renderer loads to show the rotated queue.
// The offset parameter pins the rotation so index 0 is the track that
// triggered the reload.
func playlistURL(rendererID string, offset int) string {
	return fmt.Sprintf("/msx/queue-playlist/%s.json?offset=%d", rendererID, offset)
}
