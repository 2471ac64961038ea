package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const wsWriteTimeout = 5 * time.Second

// wsClient wraps a connection with a write mutex; gorilla connections allow
// one concurrent writer only.
type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteJSON(v)
}

// Hub is the WebSocket push channel. Each renderer may hold several
// connections (TV UI plus companion); events go to all of them, and inbound
// position, pause and resume messages feed the renderer state machine.
type Hub struct {
	reg      *Registry
	log      *slog.Logger
	onSent   func()
	onRecv   func()
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[string]map[*wsClient]struct{}
}

func NewHub(reg *Registry, log *slog.Logger) *Hub {
	return &Hub{
		reg: reg,
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[string]map[*wsClient]struct{}),
	}
}

// SetCounters installs optional metrics hooks for sent and received events.
func (h *Hub) SetCounters(onSent, onRecv func()) {
	h.onSent = onSent
	h.onRecv = onRecv
}

// ServeWS upgrades the request and pumps inbound messages until the
// connection drops. The renderer is registered on attach so a TV opening
// only the socket still becomes visible.
func (h *Hub) ServeWS(w http.ResponseWriter, req *http.Request, rendererID, name string) {
	conn, err := h.upgrader.Upgrade(w, req, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "renderer_id", rendererID, "error", err)
		return
	}
	r := h.reg.GetOrRegister(rendererID, name)
	c := &wsClient{conn: conn}

	h.mu.Lock()
	if h.clients[rendererID] == nil {
		h.clients[rendererID] = make(map[*wsClient]struct{})
	}
	h.clients[rendererID][c] = struct{}{}
	n := len(h.clients[rendererID])
	h.mu.Unlock()
	h.log.Debug("websocket attached", "renderer_id", rendererID, "connections", n)

	defer func() {
		h.mu.Lock()
		if m := h.clients[rendererID]; m != nil {
			delete(m, c)
			if len(m) == 0 {
				delete(h.clients, rendererID)
			}
		}
		h.mu.Unlock()
		_ = conn.Close()
		h.log.Debug("websocket detached", "renderer_id", rendererID)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		h.handleInbound(req.Context(), r, data)
	}
}

type inboundMessage struct {
	Type     string  `json:"type"`
	Position float64 `json:"position"`
}

// handleInbound dispatches a renderer message. Malformed payloads and
// unknown types are dropped; a broken companion app must not take the state
// machine down with it.
func (h *Hub) handleInbound(ctx context.Context, r *Renderer, data []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		h.log.Debug("dropping malformed ws message", "renderer_id", r.ID, "error", err)
		return
	}
	if h.onRecv != nil {
		h.onRecv()
	}
	switch msg.Type {
	case "position":
		r.UpdatePosition(msg.Position)
	case "pause":
		r.PauseFromReport(ctx, msg.Position)
	case "resume":
		r.ResumeFromReport(ctx)
	default:
		h.log.Debug("dropping unknown ws message", "renderer_id", r.ID, "type", msg.Type)
	}
}

// send delivers one event to every connection of a renderer. Send failures
// drop the event; state is pushed again on the next transition.
func (h *Hub) send(rendererID string, payload any) {
	h.mu.Lock()
	conns := make([]*wsClient, 0, len(h.clients[rendererID]))
	for c := range h.clients[rendererID] {
		conns = append(conns, c)
	}
	h.mu.Unlock()
	for _, c := range conns {
		if err := c.writeJSON(payload); err != nil {
			h.log.Debug("ws send failed", "renderer_id", rendererID, "error", err)
			continue
		}
		if h.onSent != nil {
			h.onSent()
		}
	}
}

// ConnectionCount returns the number of attached connections for a renderer.
func (h *Hub) ConnectionCount(rendererID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients[rendererID])
}

func (h *Hub) NotifyPlay(rendererID string, ev PlayEvent) {
	h.send(rendererID, map[string]any{
		"type":        "play",
		"path":        fmt.Sprintf("/stream/%s", rendererID),
		"title":       ev.Title,
		"artist":      ev.Artist,
		"image_url":   ev.ImageURL,
		"duration":    ev.Duration,
		"next_action": ev.NextAction,
		"prev_action": ev.PrevAction,
	})
}

func (h *Hub) NotifyPlaylist(rendererID, playlistURL string) {
	h.send(rendererID, map[string]any{"type": "playlist", "url": playlistURL})
}

func (h *Hub) NotifyGotoIndex(rendererID string, index int) {
	h.send(rendererID, map[string]any{"type": "goto_index", "index": index})
}

func (h *Hub) NotifyPause(rendererID string) {
	h.send(rendererID, map[string]any{"type": "pause"})
}

func (h *Hub) NotifyResume(rendererID string) {
	h.send(rendererID, map[string]any{"type": "resume"})
}

func (h *Hub) NotifyStop(rendererID string, showPrompt bool) {
	h.send(rendererID, map[string]any{"type": "stop", "showNotification": showPrompt})
}

var _ Notifier = (*Hub)(nil)
