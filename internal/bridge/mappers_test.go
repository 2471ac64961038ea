package bridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackLabel(t *testing.T) {
	assert.Equal(t, "Band · 3:05", trackLabel("Band", 185))
	assert.Equal(t, "Band", trackLabel("Band", 0))
	assert.Equal(t, "3:05", trackLabel("", 185))
	assert.Equal(t, "", trackLabel("", 0))
}

func TestAudioActionEscapesURI(t *testing.T) {
	got := audioAction("http://bridge", "msx_tv", "library://track/1?x=a b", "", true)
	assert.Equal(t,
		"audio:http://bridge/msx/audio/msx_tv.mp3?uri=library%3A%2F%2Ftrack%2F1%3Fx%3Da+b&from_playlist=1",
		got)
}

func TestAppendDeviceParam(t *testing.T) {
	assert.Equal(t, "http://x/p", appendDeviceParam("http://x/p", ""))
	assert.Equal(t, "http://x/p?device_id=d", appendDeviceParam("http://x/p", "device_id=d"))
	assert.Equal(t, "http://x/p?a=1&device_id=d", appendDeviceParam("http://x/p?a=1", "device_id=d"))
}

func TestPlaylistRotation(t *testing.T) {
	tracks := []Track{
		{Name: "T0", URI: "u0"},
		{Name: "T1", URI: "u1"},
		{Name: "T2", URI: "u2"},
		{Name: "T3", URI: "u3"},
		{Name: "T4", URI: "u4"},
	}
	pl := mapTracksToPlaylist(tracks, 2, "http://bridge", "msx_tv", "")

	require.Len(t, pl.Items, 5)
	assert.Equal(t, "list", pl.Type)
	assert.Equal(t, "player:play", pl.Action)
	// the requested track leads, the rest follow in queue order, wrapping
	assert.Equal(t, "T2", pl.Items[0].Title)
	assert.Equal(t, "T3", pl.Items[1].Title)
	assert.Equal(t, "T4", pl.Items[2].Title)
	assert.Equal(t, "T0", pl.Items[3].Title)
	assert.Equal(t, "T1", pl.Items[4].Title)
	assert.Contains(t, pl.Items[0].Action, "from_playlist=1")
}

func TestPlaylistRotationNormalizesStart(t *testing.T) {
	tracks := []Track{{Name: "T0", URI: "u0"}, {Name: "T1", URI: "u1"}}
	pl := mapTracksToPlaylist(tracks, 7, "http://bridge", "msx_tv", "")
	require.Len(t, pl.Items, 2)
	assert.Equal(t, "T1", pl.Items[0].Title)

	pl = mapTracksToPlaylist(nil, 3, "http://bridge", "msx_tv", "")
	assert.Empty(t, pl.Items)
}

func TestMapTrackFields(t *testing.T) {
	item := mapTrack(Track{
		Name:     "Song",
		Artist:   "Band",
		Duration: 200,
		ImageURL: "http://img",
		URI:      "library://track/9",
	}, "http://bridge", "msx_tv", "device_id=abc")

	assert.Equal(t, "Song", item.Title)
	assert.Equal(t, "Song", item.PlayerLabel)
	assert.Equal(t, "Band · 3:20", item.Label)
	assert.Equal(t, "http://img", item.Image)
	assert.Equal(t, "http://img", item.Background)
	assert.Contains(t, item.Action, "device_id=abc")
}

func TestQueueToTracks(t *testing.T) {
	items := queueItems(3)
	tracks := queueToTracks(items)
	require.Len(t, tracks, 3)
	assert.Equal(t, items[0].Name, tracks[0].Name)
	assert.Equal(t, items[2].URI, tracks[2].URI)
}

func TestParseCodec(t *testing.T) {
	assert.Equal(t, CodecMP3, ParseCodec("mp3"))
	assert.Equal(t, CodecAAC, ParseCodec("aac"))
	assert.Equal(t, CodecFLAC, ParseCodec("flac"))
	assert.Equal(t, CodecMP3, ParseCodec("unknown"))
	assert.Equal(t, "audio/aac", CodecAAC.MIMEType())
	assert.Equal(t, "audio/mpeg", CodecMP3.MIMEType())
}
