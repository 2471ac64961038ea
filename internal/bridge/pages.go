package bridge

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
)

// Root serves the status dashboard with a quick-stop button per renderer.
func (h *Handler) Root(w http.ResponseWriter, req *http.Request) {
	var rows strings.Builder
	for _, r := range h.reg.List() {
		fmt.Fprintf(&rows,
			`<li class="renderer-row"><span>%s &mdash; %s</span>`+
				`<form method="post" action="/api/quick-stop/%s" style="display:inline">`+
				`<button type="submit" class="btn">Quick stop</button></form></li>`,
			r.Name, r.Phase(), r.ID)
	}
	info := rows.String()
	if info == "" {
		info = "<li>No renderers registered</li>"
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, rootPage, req.Host, info)
}

const rootPage = `<!DOCTYPE html>
<html>
<head><title>MSX Music Assistant Bridge</title>
<style>
body { font-family: system-ui, sans-serif; max-width: 800px; margin: 50px auto; padding: 20px; }
.info { background: #e3f2fd; padding: 15px; border-radius: 5px; margin: 10px 0; }
code { background: #f5f5f5; padding: 2px 6px; border-radius: 3px; }
.renderer-row { display: flex; align-items: center; gap: 12px; margin: 8px 0; list-style: none; }
.renderer-row form { margin: 0; }
.btn { padding: 6px 12px; border-radius: 4px; border: 1px solid #1976d2;
  background: #1976d2; color: white; cursor: pointer; font-size: 14px; }
.btn:hover { background: #1565c0; }
</style>
</head>
<body>
<h1>MSX Music Assistant Bridge</h1>
<div class="info">
<h3>MSX Setup URL</h3>
<code>http://%s/msx/start.json</code>
</div>
<div class="info">
<h3>Renderers</h3>
<ul>%s</ul>
</div>
</body>
</html>`

// Health is the liveness endpoint.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"renderers": h.reg.Count(),
	})
}

// StartConfig returns the renderer bootstrap document. The versioned
// parameter forces the renderer to refetch after menu changes.
func (h *Handler) StartConfig(w http.ResponseWriter, req *http.Request) {
	prefix := requestPrefix(req)
	h.writeJSON(w, http.StatusOK, map[string]string{
		"name":      "Music Assistant",
		"version":   "1.0.1",
		"parameter": fmt.Sprintf("menu:request:interaction:init@%s/msx/plugin.html?v=3", prefix),
	})
}

// Menu returns the main library menu.
func (h *Handler) Menu(w http.ResponseWriter, req *http.Request) {
	_, deviceParam := h.ensureRenderer(req)
	prefix := requestPrefix(req)
	entries := []struct {
		label, icon, url string
	}{
		{"Recently played", "msx-white-soft:history", prefix + "/msx/recently-played.json"},
		{"Albums", "msx-white-soft:album", prefix + "/msx/albums.json"},
		{"Artists", "msx-white-soft:person", prefix + "/msx/artists.json"},
		{"Playlists", "msx-white-soft:playlist-play", prefix + "/msx/playlists.json"},
		{"Tracks", "msx-white-soft:audiotrack", prefix + "/msx/tracks.json"},
		{"Search", "search", prefix + "/msx/search.json"},
	}
	items := make([]MSXItem, 0, len(entries))
	for _, e := range entries {
		items = append(items, MSXItem{
			Label:   e.label,
			Icon:    e.icon,
			Content: appendDeviceParam(e.url, deviceParam),
		})
	}
	h.writeJSON(w, http.StatusOK, MSXContent{
		Type:     "list",
		Headline: "Music Assistant",
		Template: &MSXTemplate{
			Type:   "separate",
			Layout: "0,0,2,4",
			Icon:   "msx-white-soft:music-note",
			Action: "content:{context:content}",
		},
		Items: items,
	})
}

// Albums returns the album library page.
func (h *Handler) Albums(w http.ResponseWriter, req *http.Request) {
	_, deviceParam := h.ensureRenderer(req)
	prefix := requestPrefix(req)
	limit, offset := queryInt(req, "limit", 50), queryInt(req, "offset", 0)

	albums, err := h.library.Albums(req.Context(), limit, offset)
	if err != nil {
		h.log.Warn("album fetch failed", "error", err)
	}
	items := make([]MSXItem, 0, len(albums))
	for _, a := range albums {
		items = append(items, mapAlbum(a, prefix, deviceParam))
	}
	h.writeJSON(w, http.StatusOK, contentPage("Albums", "", items, "No albums found"))
}

// Artists returns the artist library page.
func (h *Handler) Artists(w http.ResponseWriter, req *http.Request) {
	_, deviceParam := h.ensureRenderer(req)
	prefix := requestPrefix(req)
	limit, offset := queryInt(req, "limit", 50), queryInt(req, "offset", 0)

	artists, err := h.library.Artists(req.Context(), limit, offset)
	if err != nil {
		h.log.Warn("artist fetch failed", "error", err)
	}
	items := make([]MSXItem, 0, len(artists))
	for _, a := range artists {
		items = append(items, mapArtist(a, prefix, deviceParam))
	}
	h.writeJSON(w, http.StatusOK, contentPage("Artists", "msx-white-soft:person", items, "No artists found"))
}

// Playlists returns the playlist library page.
func (h *Handler) Playlists(w http.ResponseWriter, req *http.Request) {
	_, deviceParam := h.ensureRenderer(req)
	prefix := requestPrefix(req)
	limit, offset := queryInt(req, "limit", 50), queryInt(req, "offset", 0)

	playlists, err := h.library.Playlists(req.Context(), limit, offset)
	if err != nil {
		h.log.Warn("playlist fetch failed", "error", err)
	}
	items := make([]MSXItem, 0, len(playlists))
	for _, p := range playlists {
		items = append(items, mapPlaylist(p, prefix, deviceParam))
	}
	h.writeJSON(w, http.StatusOK, contentPage("Playlists", "msx-white-soft:playlist-play", items, "No playlists found"))
}

// Tracks returns the track library page. Each row's action points into the
// matching playlist URL so selecting a track plays onward from it.
func (h *Handler) Tracks(w http.ResponseWriter, req *http.Request) {
	rend, deviceParam := h.ensureRenderer(req)
	prefix := requestPrefix(req)
	limit, offset := queryInt(req, "limit", 50), queryInt(req, "offset", 0)

	tracks, err := h.library.Tracks(req.Context(), limit, offset)
	if err != nil {
		h.log.Warn("track fetch failed", "error", err)
	}
	items := trackRows(tracks, prefix, rend.ID, deviceParam)
	h.writeJSON(w, http.StatusOK, contentPage("Tracks", "msx-white-soft:audiotrack", items, "No tracks found"))
}

// RecentlyPlayed returns the recently played page.
func (h *Handler) RecentlyPlayed(w http.ResponseWriter, req *http.Request) {
	rend, deviceParam := h.ensureRenderer(req)
	prefix := requestPrefix(req)

	tracks, err := h.library.RecentlyPlayed(req.Context(), 50)
	if err != nil {
		h.log.Warn("recently played fetch failed", "error", err)
	}
	items := trackRows(tracks, prefix, rend.ID, deviceParam)
	h.writeJSON(w, http.StatusOK, contentPage("Recently played", "msx-white-soft:history", items, "No recently played tracks"))
}

// Search returns search results as a content page.
func (h *Handler) Search(w http.ResponseWriter, req *http.Request) {
	rend, deviceParam := h.ensureRenderer(req)
	prefix := requestPrefix(req)
	query := req.URL.Query().Get("q")
	if query == "" {
		h.writeJSON(w, http.StatusOK, MSXContent{
			Type:     "list",
			Headline: "Search",
			Items:    []MSXItem{{Title: "Please enter a search query"}},
		})
		return
	}
	limit := queryInt(req, "limit", 20)

	results, err := h.library.Search(req.Context(), query, limit)
	if err != nil {
		h.log.Warn("search failed", "query", query, "error", err)
	}
	var items []MSXItem
	if results != nil {
		for _, a := range results.Artists {
			item := mapArtist(a, prefix, deviceParam)
			item.Label = "Artist"
			item.Icon = "msx-white-soft:person"
			items = append(items, item)
		}
		for _, a := range results.Albums {
			item := mapAlbum(a, prefix, deviceParam)
			item.Label = "Album: " + a.Artist
			item.Icon = "msx-white-soft:album"
			items = append(items, item)
		}
		for _, t := range results.Tracks {
			item := mapTrack(t, prefix, rend.ID, deviceParam)
			item.Label = "Track: " + t.Artist
			item.Icon = "msx-white-soft:audiotrack"
			items = append(items, item)
		}
	}
	h.writeJSON(w, http.StatusOK, contentPage("Search: "+query, "", items, "No results found"))
}

// AlbumTracks returns one album's tracks as a content page.
func (h *Handler) AlbumTracks(w http.ResponseWriter, req *http.Request) {
	rend, deviceParam := h.ensureRenderer(req)
	prefix := requestPrefix(req)
	itemID := chi.URLParam(req, "item_id")
	provider := req.URL.Query().Get("provider")
	if provider == "" {
		provider = "library"
	}

	tracks, err := h.library.AlbumTracks(req.Context(), itemID, provider)
	if err != nil {
		h.log.Warn("album tracks fetch failed", "item_id", itemID, "error", err)
	}
	items := playlistRows(tracks, prefix, rend.ID, deviceParam,
		fmt.Sprintf("%s/msx/playlist/album/%s.json?provider=%s", prefix, itemID, url.QueryEscape(provider)))
	h.writeJSON(w, http.StatusOK, contentPage("Album Tracks", "", items, "No tracks found"))
}

// ArtistAlbums returns one artist's albums as a content page.
func (h *Handler) ArtistAlbums(w http.ResponseWriter, req *http.Request) {
	_, deviceParam := h.ensureRenderer(req)
	prefix := requestPrefix(req)
	itemID := chi.URLParam(req, "item_id")

	albums, err := h.library.ArtistAlbums(req.Context(), itemID)
	if err != nil {
		h.log.Warn("artist albums fetch failed", "item_id", itemID, "error", err)
	}
	items := make([]MSXItem, 0, len(albums))
	for _, a := range albums {
		items = append(items, mapAlbum(a, prefix, deviceParam))
	}
	h.writeJSON(w, http.StatusOK, contentPage("Artist Albums", "", items, "No albums found"))
}

// PlaylistTracks returns one playlist's tracks as a content page.
func (h *Handler) PlaylistTracks(w http.ResponseWriter, req *http.Request) {
	rend, deviceParam := h.ensureRenderer(req)
	prefix := requestPrefix(req)
	itemID := chi.URLParam(req, "item_id")

	tracks, err := h.library.PlaylistTracks(req.Context(), itemID)
	if err != nil {
		h.log.Warn("playlist tracks fetch failed", "item_id", itemID, "error", err)
	}
	items := playlistRows(tracks, prefix, rend.ID, deviceParam,
		fmt.Sprintf("%s/msx/playlist/playlist/%s.json", prefix, itemID))
	h.writeJSON(w, http.StatusOK, contentPage("Playlist Tracks", "msx-white-soft:audiotrack", items, "No tracks found"))
}

// AlbumPlaylist returns album tracks as a playlist rotated to start.
func (h *Handler) AlbumPlaylist(w http.ResponseWriter, req *http.Request) {
	rend, deviceParam := h.ensureRenderer(req)
	prefix := requestPrefix(req)
	itemID := stripExtension(chi.URLParam(req, "item_id"))
	provider := req.URL.Query().Get("provider")
	if provider == "" {
		provider = "library"
	}
	start := queryInt(req, "start", 0)

	tracks, err := h.library.AlbumTracks(req.Context(), itemID, provider)
	if err != nil {
		h.log.Warn("album playlist fetch failed", "item_id", itemID, "error", err)
	}
	h.writeJSON(w, http.StatusOK, mapTracksToPlaylist(tracks, start, prefix, rend.ID, deviceParam))
}

// PlaylistPlaylist returns playlist tracks as a playlist rotated to start.
func (h *Handler) PlaylistPlaylist(w http.ResponseWriter, req *http.Request) {
	rend, deviceParam := h.ensureRenderer(req)
	prefix := requestPrefix(req)
	itemID := stripExtension(chi.URLParam(req, "item_id"))
	start := queryInt(req, "start", 0)

	tracks, err := h.library.PlaylistTracks(req.Context(), itemID)
	if err != nil {
		h.log.Warn("playlist playlist fetch failed", "item_id", itemID, "error", err)
	}
	h.writeJSON(w, http.StatusOK, mapTracksToPlaylist(tracks, start, prefix, rend.ID, deviceParam))
}

// TracksPlaylist returns the track library page as a playlist rotated to
// start.
func (h *Handler) TracksPlaylist(w http.ResponseWriter, req *http.Request) {
	rend, deviceParam := h.ensureRenderer(req)
	prefix := requestPrefix(req)
	limit, offset := queryInt(req, "limit", 50), queryInt(req, "offset", 0)
	start := queryInt(req, "start", 0)

	tracks, err := h.library.Tracks(req.Context(), limit, offset)
	if err != nil {
		h.log.Warn("tracks playlist fetch failed", "error", err)
	}
	h.writeJSON(w, http.StatusOK, mapTracksToPlaylist(tracks, start, prefix, rend.ID, deviceParam))
}

// SearchPlaylist returns search track results as a playlist rotated to
// start.
func (h *Handler) SearchPlaylist(w http.ResponseWriter, req *http.Request) {
	rend, deviceParam := h.ensureRenderer(req)
	prefix := requestPrefix(req)
	query := req.URL.Query().Get("q")
	start := queryInt(req, "start", 0)
	if query == "" {
		h.writeJSON(w, http.StatusOK, MSXContent{Type: "list"})
		return
	}
	limit := queryInt(req, "limit", 20)

	results, err := h.library.Search(req.Context(), query, limit)
	if err != nil {
		h.log.Warn("search playlist failed", "query", query, "error", err)
	}
	var tracks []Track
	if results != nil {
		tracks = results.Tracks
	}
	h.writeJSON(w, http.StatusOK, mapTracksToPlaylist(tracks, start, prefix, rend.ID, deviceParam))
}

func contentPage(headline, icon string, items []MSXItem, emptyTitle string) MSXContent {
	if len(items) == 0 {
		items = []MSXItem{{Title: emptyTitle}}
	}
	return MSXContent{
		Type:     "list",
		Headline: headline,
		Template: &MSXTemplate{
			Type:        "separate",
			Layout:      "0,0,2,4",
			Icon:        icon,
			ImageFiller: "default",
		},
		Items: items,
	}
}

func trackRows(tracks []Track, prefix, rendererID, deviceParam string) []MSXItem {
	items := make([]MSXItem, 0, len(tracks))
	for _, t := range tracks {
		items = append(items, mapTrack(t, prefix, rendererID, deviceParam))
	}
	return items
}

// playlistRows builds track rows that open the surrounding playlist at the
// row's position, so playback continues past the selected track.
func playlistRows(tracks []Track, prefix, rendererID, deviceParam, playlistBase string) []MSXItem {
	items := make([]MSXItem, 0, len(tracks))
	for idx, t := range tracks {
		item := mapTrack(t, prefix, rendererID, deviceParam)
		sep := "?"
		if strings.ContainsRune(playlistBase, '?') {
			sep = "&"
		}
		item.Action = fmt.Sprintf("playlist:%s", appendDeviceParam(
			fmt.Sprintf("%s%sstart=%d", playlistBase, sep, idx), deviceParam))
		items = append(items, item)
	}
	return items
}
