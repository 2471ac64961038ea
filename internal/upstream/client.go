// Package upstream talks to the media server's JSON API and PCM stream
// endpoint. It is the bridge's only source of truth for library content,
// queue state and playback control.
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/trudenboy/msx-music-assistant/internal/bridge"
)

type Client struct {
	base string
	http *http.Client
	// streaming requests must not inherit the API timeout
	stream *http.Client
}

func New(base string) *Client {
	return &Client{
		base:   strings.TrimRight(base, "/"),
		http:   &http.Client{Timeout: 30 * time.Second},
		stream: &http.Client{},
	}
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: status %d", path, res.StatusCode)
	}
	return json.NewDecoder(res.Body).Decode(out)
}

func (c *Client) postJSON(ctx context.Context, path string, body any, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = strings.NewReader(string(b))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("POST %s: status %d", path, res.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(res.Body).Decode(out)
}

// OpenPCM opens the raw PCM feed for a media URI. The caller owns the
// returned body and must close it.
func (c *Client) OpenPCM(ctx context.Context, uri string) (io.ReadCloser, error) {
	u := c.base + "/streams/pcm?uri=" + url.QueryEscape(uri)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	res, err := c.stream.Do(req)
	if err != nil {
		return nil, err
	}
	if res.StatusCode != http.StatusOK {
		res.Body.Close()
		return nil, fmt.Errorf("open pcm stream: status %d", res.StatusCode)
	}
	return res.Body, nil
}

type mediaPayload struct {
	URI         string `json:"uri"`
	QueueID     string `json:"queue_id"`
	QueueItemID string `json:"queue_item_id"`
	Title       string `json:"title"`
	Artist      string `json:"artist"`
	ImageURL    string `json:"image_url"`
	Duration    int    `json:"duration"`
}

func (p *mediaPayload) toMedia() *bridge.Media {
	if p == nil || p.URI == "" {
		return nil
	}
	return &bridge.Media{
		URI:         p.URI,
		QueueID:     p.QueueID,
		QueueItemID: p.QueueItemID,
		Title:       p.Title,
		Artist:      p.Artist,
		ImageURL:    p.ImageURL,
		Duration:    p.Duration,
	}
}

// PlayMedia asks the server to start queue playback of uri on the given
// renderer and returns the resolved media binding.
func (c *Client) PlayMedia(ctx context.Context, rendererID, uri string) (*bridge.Media, error) {
	var p mediaPayload
	err := c.postJSON(ctx, "/api/players/"+url.PathEscape(rendererID)+"/play_media",
		map[string]string{"uri": uri}, &p)
	if err != nil {
		return nil, err
	}
	return p.toMedia(), nil
}

func (c *Client) Next(ctx context.Context, rendererID string) (*bridge.Media, error) {
	return c.playerCommand(ctx, rendererID, "next")
}

func (c *Client) Previous(ctx context.Context, rendererID string) (*bridge.Media, error) {
	return c.playerCommand(ctx, rendererID, "previous")
}

func (c *Client) Resume(ctx context.Context, rendererID string) (*bridge.Media, error) {
	return c.playerCommand(ctx, rendererID, "play")
}

func (c *Client) playerCommand(ctx context.Context, rendererID, cmd string) (*bridge.Media, error) {
	var p mediaPayload
	err := c.postJSON(ctx, "/api/players/"+url.PathEscape(rendererID)+"/"+cmd, nil, &p)
	if err != nil {
		return nil, err
	}
	return p.toMedia(), nil
}

// Queue fetches a queue snapshot: its current index and full item list.
func (c *Client) Queue(ctx context.Context, queueID string) (*bridge.QueueSnapshot, error) {
	var p struct {
		QueueID      string             `json:"queue_id"`
		CurrentIndex int                `json:"current_index"`
		Items        []bridge.QueueItem `json:"items"`
	}
	if err := c.getJSON(ctx, "/api/queues/"+url.PathEscape(queueID), &p); err != nil {
		return nil, err
	}
	return &bridge.QueueSnapshot{ID: p.QueueID, CurrentIndex: p.CurrentIndex, Items: p.Items}, nil
}

// ItemMetadata fetches one queue item's metadata.
func (c *Client) ItemMetadata(ctx context.Context, queueID, itemID string) (*bridge.QueueItem, error) {
	var qi bridge.QueueItem
	p := "/api/queues/" + url.PathEscape(queueID) + "/items/" + url.PathEscape(itemID)
	if err := c.getJSON(ctx, p, &qi); err != nil {
		return nil, err
	}
	return &qi, nil
}

func pageQuery(limit, offset int) string {
	return fmt.Sprintf("?limit=%d&offset=%d", limit, offset)
}

func (c *Client) Albums(ctx context.Context, limit, offset int) ([]bridge.Album, error) {
	var p struct {
		Items []bridge.Album `json:"items"`
	}
	err := c.getJSON(ctx, "/api/albums"+pageQuery(limit, offset), &p)
	return p.Items, err
}

func (c *Client) AlbumTracks(ctx context.Context, itemID, provider string) ([]bridge.Track, error) {
	var p struct {
		Items []bridge.Track `json:"items"`
	}
	u := "/api/albums/" + url.PathEscape(itemID) + "/tracks?provider=" + url.QueryEscape(provider)
	err := c.getJSON(ctx, u, &p)
	return p.Items, err
}

func (c *Client) Artists(ctx context.Context, limit, offset int) ([]bridge.Artist, error) {
	var p struct {
		Items []bridge.Artist `json:"items"`
	}
	err := c.getJSON(ctx, "/api/artists"+pageQuery(limit, offset), &p)
	return p.Items, err
}

func (c *Client) ArtistAlbums(ctx context.Context, itemID string) ([]bridge.Album, error) {
	var p struct {
		Items []bridge.Album `json:"items"`
	}
	err := c.getJSON(ctx, "/api/artists/"+url.PathEscape(itemID)+"/albums", &p)
	return p.Items, err
}

func (c *Client) Playlists(ctx context.Context, limit, offset int) ([]bridge.Playlist, error) {
	var p struct {
		Items []bridge.Playlist `json:"items"`
	}
	err := c.getJSON(ctx, "/api/playlists"+pageQuery(limit, offset), &p)
	return p.Items, err
}

func (c *Client) PlaylistTracks(ctx context.Context, itemID string) ([]bridge.Track, error) {
	var p struct {
		Items []bridge.Track `json:"items"`
	}
	err := c.getJSON(ctx, "/api/playlists/"+url.PathEscape(itemID)+"/tracks", &p)
	return p.Items, err
}

func (c *Client) Tracks(ctx context.Context, limit, offset int) ([]bridge.Track, error) {
	var p struct {
		Items []bridge.Track `json:"items"`
	}
	err := c.getJSON(ctx, "/api/tracks"+pageQuery(limit, offset), &p)
	return p.Items, err
}

func (c *Client) RecentlyPlayed(ctx context.Context, limit int) ([]bridge.Track, error) {
	var p struct {
		Items []bridge.Track `json:"items"`
	}
	u := fmt.Sprintf("/api/tracks?limit=%d&order_by=last_played", limit)
	err := c.getJSON(ctx, u, &p)
	return p.Items, err
}

func (c *Client) Search(ctx context.Context, query string, limit int) (*bridge.SearchResults, error) {
	var p bridge.SearchResults
	u := fmt.Sprintf("/api/search?q=%s&limit=%d", url.QueryEscape(query), limit)
	if err := c.getJSON(ctx, u, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

var (
	_ bridge.MediaSource = (*Client)(nil)
	_ bridge.QueueSource = (*Client)(nil)
	_ bridge.Controller  = (*Client)(nil)
	_ bridge.Library     = (*Client)(nil)
)
