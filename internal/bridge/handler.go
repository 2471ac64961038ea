package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/trudenboy/msx-music-assistant/internal/platform/metrics"
)

// bindingWait bounds how long an audio request waits for play_media to bind
// media before giving up with 504.
const bindingWait = 10 * time.Second

const rendererIDPrefix = "msx_"

var rendererIDSanitize = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// Handler exposes the bridge HTTP surface using go-chi.
type Handler struct {
	log     *slog.Logger
	metrics *metrics.Metrics

	reg    *Registry
	hub    *Hub
	relay  *AudioRelay
	groups *GroupRelayCache

	source  MediaSource
	encoder Encoder
	queues  QueueSource
	ctrl    Controller
	library Library
}

// HandlerDeps bundles the collaborators a Handler needs. Metrics may be nil
// to disable metric recording (e.g. in tests).
type HandlerDeps struct {
	Log     *slog.Logger
	Metrics *metrics.Metrics
	Reg     *Registry
	Hub     *Hub
	Relay   *AudioRelay
	Groups  *GroupRelayCache
	Source  MediaSource
	Encoder Encoder
	Queues  QueueSource
	Ctrl    Controller
	Library Library
}

func NewHandler(d HandlerDeps) *Handler {
	return &Handler{
		log:     d.Log,
		metrics: d.Metrics,
		reg:     d.Reg,
		hub:     d.Hub,
		relay:   d.Relay,
		groups:  d.Groups,
		source:  d.Source,
		encoder: d.Encoder,
		queues:  d.Queues,
		ctrl:    d.Ctrl,
		library: d.Library,
	}
}

// Routes mounts every bridge endpoint on r.
func (h *Handler) Routes(r chi.Router) {
	r.Use(corsMiddleware)

	r.Get("/", h.Root)
	r.Get("/health", h.Health)
	r.Get("/ws", h.WS)
	r.Get("/stream/{renderer_id}", h.Stream)

	r.Route("/msx", func(r chi.Router) {
		r.Get("/start.json", h.StartConfig)
		r.Get("/menu.json", h.Menu)
		r.Get("/albums.json", h.Albums)
		r.Get("/artists.json", h.Artists)
		r.Get("/playlists.json", h.Playlists)
		r.Get("/tracks.json", h.Tracks)
		r.Get("/recently-played.json", h.RecentlyPlayed)
		r.Get("/search.json", h.Search)
		r.Get("/albums/{item_id}/tracks.json", h.AlbumTracks)
		r.Get("/artists/{item_id}/albums.json", h.ArtistAlbums)
		r.Get("/playlists/{item_id}/tracks.json", h.PlaylistTracks)
		r.Get("/playlist/album/{item_id}.json", h.AlbumPlaylist)
		r.Get("/playlist/playlist/{item_id}.json", h.PlaylistPlaylist)
		r.Get("/playlist/tracks.json", h.TracksPlaylist)
		r.Get("/playlist/search.json", h.SearchPlaylist)
		r.Get("/queue-playlist/{renderer_id}.json", h.QueuePlaylist)
		r.Get("/audio/{renderer_id}", h.Audio)
	})
	r.Get("/audio/{renderer_id}", h.Audio)

	r.Route("/api", func(r chi.Router) {
		r.Post("/play", h.APIPlay)
		r.HandleFunc("/pause/{renderer_id}", h.APIPause)
		r.HandleFunc("/resume/{renderer_id}", h.APIResume)
		r.HandleFunc("/stop/{renderer_id}", h.APIStop)
		r.HandleFunc("/quick-stop/{renderer_id}", h.APIQuickStop)
		r.HandleFunc("/next/{renderer_id}", h.APINext)
		r.HandleFunc("/previous/{renderer_id}", h.APIPrevious)
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "*")
			w.WriteHeader(http.StatusOK)
			return
		}
		w.Header().Set("Access-Control-Allow-Origin", "*")
		next.ServeHTTP(w, r)
	})
}

// rendererIdentity derives the renderer id for a request: an explicit
// device_id query parameter wins, otherwise the remote IP. The returned
// device param, when non-empty, must be appended to every URL handed back to
// the renderer so follow-up requests keep the same identity.
func rendererIdentity(req *http.Request) (id, deviceParam string) {
	if deviceID := req.URL.Query().Get("device_id"); deviceID != "" {
		s := strings.Trim(rendererIDSanitize.ReplaceAllString(deviceID, "_"), "_")
		if s == "" {
			s = "device"
		}
		return rendererIDPrefix + s, "device_id=" + url.QueryEscape(deviceID)
	}
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		host = req.RemoteAddr
	}
	if host == "" {
		host = "0_0_0_0"
	}
	s := strings.Trim(rendererIDSanitize.ReplaceAllString(strings.ReplaceAll(host, ".", "_"), "_"), "_")
	if s == "" {
		s = "ip"
	}
	return rendererIDPrefix + s, ""
}

// ensureRenderer registers (or touches) the renderer behind a request so a
// TV that only ever opened a content page still shows up.
func (h *Handler) ensureRenderer(req *http.Request) (*Renderer, string) {
	id, deviceParam := rendererIdentity(req)
	r := h.reg.GetOrRegister(id, "MSX "+strings.TrimPrefix(id, rendererIDPrefix))
	return r, deviceParam
}

func requestPrefix(req *http.Request) string {
	return "http://" + req.Host
}

// stripExtension removes a trailing .mp3/.json the renderer appends to path
// segments.
func stripExtension(id string) string {
	if i := strings.LastIndexByte(id, '.'); i >= 0 {
		return id[:i]
	}
	return id
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Debug("response encode failed", "error", err)
	}
}

// Audio handles GET /audio/{renderer_id}?uri=...[&from_playlist=1]: it
// triggers play_media upstream, waits for the media binding and then relays
// the encoded stream.
func (h *Handler) Audio(w http.ResponseWriter, req *http.Request) {
	id := stripExtension(chi.URLParam(req, "renderer_id"))
	uri := req.URL.Query().Get("uri")
	if uri == "" {
		http.Error(w, "missing uri parameter", http.StatusBadRequest)
		return
	}
	fromPlaylist := req.URL.Query().Get("from_playlist") == "1"

	rend, ok := h.reg.Get(id)
	if !ok {
		http.Error(w, "renderer not found", http.StatusNotFound)
		return
	}
	rend.Touch()

	media, err := h.ctrl.PlayMedia(req.Context(), id, uri)
	if err != nil {
		h.log.Error("play_media failed", "renderer_id", id, "uri", uri, "error", err)
		if h.metrics != nil {
			h.metrics.IncErrors()
		}
		http.Error(w, "playback setup failed", http.StatusBadGateway)
		return
	}
	if media != nil {
		h.enrichMedia(req.Context(), media)
		// entries chosen from the playlist page are already visible on the
		// renderer; pushing the play event back would restart its UI
		if fromPlaylist {
			rend.withSuppressedNotify(func() { rend.PlayMedia(req.Context(), media) })
		} else {
			rend.PlayMedia(req.Context(), media)
		}
	}

	bound, err := rend.WaitForMedia(req.Context(), bindingWait)
	if err != nil {
		http.Error(w, "playback setup timeout", http.StatusGatewayTimeout)
		return
	}
	h.serveAudio(w, req, rend, bound)
}

// Stream handles GET /stream/{renderer_id}: it relays whatever media is
// currently bound, waiting briefly for a binding that is still in flight.
func (h *Handler) Stream(w http.ResponseWriter, req *http.Request) {
	id := stripExtension(chi.URLParam(req, "renderer_id"))
	rend, ok := h.reg.Get(id)
	if !ok {
		http.Error(w, "renderer not found", http.StatusNotFound)
		return
	}
	rend.Touch()

	media, err := rend.WaitForMedia(req.Context(), bindingWait)
	if err != nil {
		http.Error(w, "no active stream", http.StatusNotFound)
		return
	}
	h.serveAudio(w, req, rend, media)
}

// serveAudio relays one media binding to the response, through the shared
// group relay when the renderer is part of a synchronized group.
func (h *Handler) serveAudio(w http.ResponseWriter, req *http.Request, rend *Renderer, media *Media) {
	if h.metrics != nil {
		h.metrics.IncStreamsStarted()
	}
	open := func(ctx context.Context) (<-chan []byte, error) {
		pcm, err := h.source.OpenPCM(ctx, media.URI)
		if err != nil {
			return nil, err
		}
		chunks, err := h.encoder.Encode(ctx, pcm, rend.Codec)
		if err != nil {
			_ = pcm.Close()
			return nil, err
		}
		return chunks, nil
	}

	if gid := rend.GroupID(); gid != "" && h.reg.GroupingEnabled() && h.groups != nil {
		relay, err := h.groups.GetOrCreate(gid, media.URI, open)
		if err != nil {
			h.log.Error("group stream open failed", "group_id", gid, "error", err)
			http.Error(w, "stream setup failed", http.StatusBadGateway)
			return
		}
		sub, cancel, err := relay.Subscribe(req.Context(), rend.ID+"/"+uuid.NewString())
		if err != nil {
			h.log.Warn("group stream subscribe failed", "group_id", gid, "renderer_id", rend.ID, "error", err)
			http.Error(w, "stream setup failed", http.StatusBadGateway)
			return
		}
		defer cancel()
		n, _ := h.relay.Serve(w, req, rend, func(context.Context) (<-chan []byte, error) { return sub, nil })
		if h.metrics != nil {
			h.metrics.AddStreamBytes(int(n))
		}
		return
	}

	n, err := h.relay.Serve(w, req, rend, open)
	if err != nil && !errors.Is(err, context.Canceled) {
		h.log.Error("audio stream failed", "renderer_id", rend.ID, "error", err)
		if n == 0 {
			http.Error(w, "stream setup failed", http.StatusBadGateway)
		}
		return
	}
	if h.metrics != nil {
		h.metrics.AddStreamBytes(int(n))
	}
}

// WS handles GET /ws: the renderer's push channel.
func (h *Handler) WS(w http.ResponseWriter, req *http.Request) {
	id, _ := rendererIdentity(req)
	h.hub.ServeWS(w, req, id, "MSX "+strings.TrimPrefix(id, rendererIDPrefix))
}

// QueuePlaylist handles GET /msx/queue-playlist/{renderer_id}.json?offset=N:
// the server-side queue rendered as a renderer playlist rotated by offset.
func (h *Handler) QueuePlaylist(w http.ResponseWriter, req *http.Request) {
	_, deviceParam := h.ensureRenderer(req)
	id := stripExtension(chi.URLParam(req, "renderer_id"))
	offset := queryInt(req, "offset", 0)
	prefix := requestPrefix(req)

	rend, ok := h.reg.Get(id)
	var queueID string
	if ok {
		queueID = rend.QueueID()
	}
	var items []QueueItem
	if queueID != "" {
		snap, err := h.queues.Queue(req.Context(), queueID)
		if err != nil {
			h.log.Warn("queue fetch failed for playlist page", "queue_id", queueID, "error", err)
		} else if snap != nil {
			items = snap.Items
		}
	}
	playlist := mapTracksToPlaylist(queueToTracks(items), offset, prefix, id, deviceParam)
	h.writeJSON(w, http.StatusOK, playlist)
}

// --- Control API ---

type playRequest struct {
	TrackURI   string `json:"track_uri"`
	RendererID string `json:"renderer_id"`
}

func (h *Handler) APIPlay(w http.ResponseWriter, req *http.Request) {
	var body playRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if body.TrackURI == "" || body.RendererID == "" {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing track_uri or renderer_id"})
		return
	}
	rend, ok := h.reg.Get(body.RendererID)
	if !ok {
		h.writeJSON(w, http.StatusNotFound, map[string]string{"error": "renderer not found"})
		return
	}
	media, err := h.ctrl.PlayMedia(req.Context(), body.RendererID, body.TrackURI)
	if err != nil {
		h.log.Error("play failed", "renderer_id", body.RendererID, "error", err)
		h.writeJSON(w, http.StatusBadGateway, map[string]string{"error": "playback failed"})
		return
	}
	if media != nil {
		h.enrichMedia(req.Context(), media)
		rend.PlayMedia(req.Context(), media)
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) APIPause(w http.ResponseWriter, req *http.Request) {
	rend, ok := h.touchRenderer(req)
	if !ok {
		h.writeJSON(w, http.StatusNotFound, map[string]string{"error": "renderer not found"})
		return
	}
	rend.Pause(req.Context())
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) APIResume(w http.ResponseWriter, req *http.Request) {
	rend, ok := h.touchRenderer(req)
	if !ok {
		h.writeJSON(w, http.StatusNotFound, map[string]string{"error": "renderer not found"})
		return
	}
	if _, err := h.ctrl.Resume(req.Context(), rend.ID); err != nil {
		h.log.Warn("upstream resume failed", "renderer_id", rend.ID, "error", err)
	}
	rend.Play(req.Context())
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) APIStop(w http.ResponseWriter, req *http.Request) {
	rend, ok := h.touchRenderer(req)
	if !ok {
		h.writeJSON(w, http.StatusNotFound, map[string]string{"error": "renderer not found"})
		return
	}
	rend.Stop(req.Context())
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// APIQuickStop stops playback immediately from the status page; browsers get
// bounced back to it.
func (h *Handler) APIQuickStop(w http.ResponseWriter, req *http.Request) {
	rend, ok := h.touchRenderer(req)
	if !ok {
		h.writeJSON(w, http.StatusNotFound, map[string]string{"error": "renderer not found"})
		return
	}
	rend.Stop(req.Context())
	if strings.Contains(req.Header.Get("Accept"), "text/html") {
		http.Redirect(w, req, "/", http.StatusSeeOther)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) APINext(w http.ResponseWriter, req *http.Request) {
	h.advance(w, req, h.ctrl.Next)
}

func (h *Handler) APIPrevious(w http.ResponseWriter, req *http.Request) {
	h.advance(w, req, h.ctrl.Previous)
}

func (h *Handler) advance(w http.ResponseWriter, req *http.Request, step func(context.Context, string) (*Media, error)) {
	rend, ok := h.touchRenderer(req)
	if !ok {
		h.writeJSON(w, http.StatusNotFound, map[string]string{"error": "renderer not found"})
		return
	}
	media, err := step(req.Context(), rend.ID)
	if err != nil {
		h.log.Error("queue step failed", "renderer_id", rend.ID, "error", err)
		h.writeJSON(w, http.StatusBadGateway, map[string]string{"error": "queue step failed"})
		return
	}
	if media != nil {
		rend.PlayMedia(req.Context(), media)
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// enrichMedia backfills display metadata for queue-backed media the server
// resolved without it (flow-mode bindings carry only the stream reference).
func (h *Handler) enrichMedia(ctx context.Context, m *Media) {
	if !m.QueueBacked() || m.Title != "" {
		return
	}
	qi, err := h.queues.ItemMetadata(ctx, m.QueueID, m.QueueItemID)
	if err != nil || qi == nil {
		h.log.Debug("queue item metadata fetch failed", "queue_id", m.QueueID, "error", err)
		return
	}
	m.Title = qi.Name
	m.Artist = qi.Artist
	m.ImageURL = qi.ImageURL
	if m.Duration == 0 {
		m.Duration = qi.Duration
	}
}

func (h *Handler) touchRenderer(req *http.Request) (*Renderer, bool) {
	id := stripExtension(chi.URLParam(req, "renderer_id"))
	rend, ok := h.reg.Get(id)
	if ok {
		rend.Touch()
	}
	return rend, ok
}

func queryInt(req *http.Request, key string, fallback int) int {
	v := req.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
