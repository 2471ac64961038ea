package encoder

import (
	"strings"
	"testing"

	"github.com/trudenboy/msx-music-assistant/internal/bridge"
)

func TestArgsPerCodec(t *testing.T) {
	cases := []struct {
		codec bridge.Codec
		want  []string
	}{
		{bridge.CodecMP3, []string{"-c:a", "libmp3lame", "-f", "mp3"}},
		{bridge.CodecAAC, []string{"-c:a", "aac", "-f", "adts"}},
		{bridge.CodecFLAC, []string{"-c:a", "flac", "-f", "flac"}},
		{bridge.Codec("bogus"), []string{"-c:a", "libmp3lame"}},
	}
	for _, tc := range cases {
		joined := strings.Join(args(tc.codec), " ")
		for _, frag := range tc.want {
			if !strings.Contains(joined, frag) {
				t.Errorf("args(%q) = %q, missing %q", tc.codec, joined, frag)
			}
		}
	}
}

func TestArgsPCMInput(t *testing.T) {
	joined := strings.Join(args(bridge.CodecMP3), " ")
	for _, frag := range []string{"-f s16le", "-ar 44100", "-ac 2", "-i pipe:0", "pipe:1"} {
		if !strings.Contains(joined, frag) {
			t.Errorf("args = %q, missing %q", joined, frag)
		}
	}
}

func TestNewDefaultsBinary(t *testing.T) {
	f := New("", nil)
	if f.binary != "ffmpeg" {
		t.Errorf("binary = %q, want ffmpeg", f.binary)
	}
}
