// Package bridge implements the playback-synchronization core of the MSX
// music bridge: per-renderer playback state machines, the pre-buffered audio
// relay, shared group streaming, queue-to-playlist translation, and the
// WebSocket push channel that ties them together.
package bridge

import (
	"context"
	"io"
)

// Codec is the encoded audio format a renderer receives. Fixed per renderer
// at registration.
type Codec string

const (
	CodecMP3  Codec = "mp3"
	CodecAAC  Codec = "aac"
	CodecFLAC Codec = "flac"
)

// ParseCodec maps a config string to a Codec, defaulting to mp3.
func ParseCodec(s string) Codec {
	switch s {
	case "aac":
		return CodecAAC
	case "flac":
		return CodecFLAC
	default:
		return CodecMP3
	}
}

// MIMEType returns the Content-Type for audio responses in this codec.
func (c Codec) MIMEType() string {
	switch c {
	case CodecAAC:
		return "audio/aac"
	case CodecFLAC:
		return "audio/flac"
	default:
		return "audio/mpeg"
	}
}

// Media is the binding play-media attaches to a renderer: the logical stream
// reference plus whatever metadata the server resolved for it. QueueID and
// QueueItemID are set only when the media originates from the server's
// ordered playback queue.
type Media struct {
	URI         string
	QueueID     string
	QueueItemID string
	Title       string
	Artist      string
	ImageURL    string
	Duration    int
}

// QueueBacked reports whether the media originates from a server queue rather
// than a one-off direct play.
func (m *Media) QueueBacked() bool {
	return m != nil && m.QueueID != "" && m.QueueItemID != ""
}

// QueueItem is a single entry of the server's ordered playback queue.
type QueueItem struct {
	ItemID   string `json:"item_id"`
	URI      string `json:"uri"`
	Name     string `json:"name"`
	Artist   string `json:"artist"`
	ImageURL string `json:"image"`
	Duration int    `json:"duration"`
}

// QueueSnapshot is the server queue for one renderer at a point in time.
type QueueSnapshot struct {
	ID           string      `json:"queue_id"`
	CurrentIndex int         `json:"current_index"`
	Items        []QueueItem `json:"items"`
}

// MediaSource resolves a media reference into a raw PCM byte stream.
// Consumed, not implemented, by this package.
type MediaSource interface {
	OpenPCM(ctx context.Context, uri string) (io.ReadCloser, error)
}

// Encoder turns raw PCM into encoded audio chunks for the given codec. The
// returned channel is closed when the input ends or ctx is cancelled.
type Encoder interface {
	Encode(ctx context.Context, pcm io.Reader, codec Codec) (<-chan []byte, error)
}

// QueueSource exposes the media server's ordered playback queues.
type QueueSource interface {
	Queue(ctx context.Context, queueID string) (*QueueSnapshot, error)
	ItemMetadata(ctx context.Context, queueID, itemID string) (*QueueItem, error)
}

// Controller issues queue-level playback commands to the media server and
// returns the media binding the server resolved, where one results.
type Controller interface {
	PlayMedia(ctx context.Context, rendererID, uri string) (*Media, error)
	Next(ctx context.Context, rendererID string) (*Media, error)
	Previous(ctx context.Context, rendererID string) (*Media, error)
	Resume(ctx context.Context, rendererID string) (*Media, error)
}

// Album, Artist and Playlist are catalog entries used by the content pages.
type Album struct {
	ItemID   string `json:"item_id"`
	Name     string `json:"name"`
	Artist   string `json:"artist"`
	ImageURL string `json:"image"`
	URI      string `json:"uri"`
	Provider string `json:"provider"`
}

type Artist struct {
	ItemID   string `json:"item_id"`
	Name     string `json:"name"`
	ImageURL string `json:"image"`
	URI      string `json:"uri"`
}

type Playlist struct {
	ItemID   string `json:"item_id"`
	Name     string `json:"name"`
	ImageURL string `json:"image"`
	URI      string `json:"uri"`
}

// Track is a playable catalog entry.
type Track struct {
	ItemID   string `json:"item_id"`
	Name     string `json:"name"`
	Artist   string `json:"artist"`
	Album    string `json:"album"`
	Duration int    `json:"duration"`
	ImageURL string `json:"image"`
	URI      string `json:"uri"`
}

// SearchResults groups catalog search hits by kind.
type SearchResults struct {
	Artists   []Artist   `json:"artists"`
	Albums    []Album    `json:"albums"`
	Tracks    []Track    `json:"tracks"`
	Playlists []Playlist `json:"playlists"`
}

// Library lists catalog items for the browse and search pages.
type Library interface {
	Albums(ctx context.Context, limit, offset int) ([]Album, error)
	AlbumTracks(ctx context.Context, itemID, provider string) ([]Track, error)
	Artists(ctx context.Context, limit, offset int) ([]Artist, error)
	ArtistAlbums(ctx context.Context, itemID string) ([]Album, error)
	Playlists(ctx context.Context, limit, offset int) ([]Playlist, error)
	PlaylistTracks(ctx context.Context, itemID string) ([]Track, error)
	Tracks(ctx context.Context, limit, offset int) ([]Track, error)
	RecentlyPlayed(ctx context.Context, limit int) ([]Track, error)
	Search(ctx context.Context, query string, limit int) (*SearchResults, error)
}
