package bridge

import (
	"fmt"
	"net/url"
)

// appendDeviceParam appends the device identity parameter to a URL when the
// renderer was identified by an explicit device_id rather than its address.
func appendDeviceParam(u, deviceParam string) string {
	if deviceParam == "" {
		return u
	}
	sep := "?"
	for i := 0; i < len(u); i++ {
		if u[i] == '?' {
			sep = "&"
			break
		}
	}
	return u + sep + deviceParam
}

// trackLabel renders "Artist · M:SS", dropping whichever half is missing.
func trackLabel(artist string, duration int) string {
	var d string
	if duration > 0 {
		d = fmt.Sprintf("%d:%02d", duration/60, duration%60)
	}
	switch {
	case artist != "" && d != "":
		return artist + " · " + d
	case artist != "":
		return artist
	default:
		return d
	}
}

// audioAction builds the playable action for a track: an audio URL that
// triggers play_media on the renderer when the TV fetches it.
func audioAction(prefix, rendererID, uri, deviceParam string, fromPlaylist bool) string {
	u := fmt.Sprintf("%s/msx/audio/%s.mp3?uri=%s", prefix, rendererID, url.QueryEscape(uri))
	if fromPlaylist {
		u += "&from_playlist=1"
	}
	return "audio:" + appendDeviceParam(u, deviceParam)
}

func mapAlbum(a Album, prefix, deviceParam string) MSXItem {
	u := fmt.Sprintf("%s/msx/albums/%s/tracks.json?provider=%s", prefix, a.ItemID, url.QueryEscape(a.Provider))
	return MSXItem{
		Title:  a.Name,
		Label:  a.Artist,
		Image:  a.ImageURL,
		Action: "content:" + appendDeviceParam(u, deviceParam),
	}
}

func mapArtist(a Artist, prefix, deviceParam string) MSXItem {
	u := fmt.Sprintf("%s/msx/artists/%s/albums.json", prefix, a.ItemID)
	return MSXItem{
		Title:  a.Name,
		Image:  a.ImageURL,
		Action: "content:" + appendDeviceParam(u, deviceParam),
	}
}

func mapPlaylist(p Playlist, prefix, deviceParam string) MSXItem {
	u := fmt.Sprintf("%s/msx/playlists/%s/tracks.json", prefix, p.ItemID)
	return MSXItem{
		Title:  p.Name,
		Image:  p.ImageURL,
		Action: "content:" + appendDeviceParam(u, deviceParam),
	}
}

func mapTrack(t Track, prefix, rendererID, deviceParam string) MSXItem {
	return MSXItem{
		Title:       t.Name,
		Label:       trackLabel(t.Artist, t.Duration),
		PlayerLabel: t.Name,
		Image:       t.ImageURL,
		Background:  t.ImageURL,
		Action:      audioAction(prefix, rendererID, t.URI, deviceParam, false),
	}
}

// mapTracksToPlaylist builds an MSX playlist page from tracks, rotated so
// the track at start becomes index 0. The renderer always auto-plays the
// first row, so the rotation is what makes "play from here" start at the
// selected track.
func mapTracksToPlaylist(tracks []Track, start int, prefix, rendererID, deviceParam string) MSXContent {
	n := len(tracks)
	items := make([]MSXItem, 0, n)
	if n > 0 {
		start = ((start % n) + n) % n
	}
	for i := 0; i < n; i++ {
		t := tracks[(start+i)%n]
		items = append(items, MSXItem{
			Title:       t.Name,
			Label:       trackLabel(t.Artist, t.Duration),
			PlayerLabel: t.Name,
			Image:       t.ImageURL,
			Background:  t.ImageURL,
			Duration:    t.Duration,
			Action:      audioAction(prefix, rendererID, t.URI, deviceParam, true),
		})
	}
	return MSXContent{
		Type:   "list",
		Action: "player:play",
		Template: &MSXTemplate{
			Type:        "separate",
			Layout:      "0,0,2,4",
			ImageFiller: "default",
		},
		Items: items,
	}
}

// queueToTracks adapts queue items to the track shape the playlist mapper
// consumes.
func queueToTracks(items []QueueItem) []Track {
	out := make([]Track, 0, len(items))
	for _, qi := range items {
		out = append(out, Track{
			ItemID:   qi.ItemID,
			Name:     qi.Name,
			Artist:   qi.Artist,
			Duration: qi.Duration,
			ImageURL: qi.ImageURL,
			URI:      qi.URI,
		})
	}
	return out
}
