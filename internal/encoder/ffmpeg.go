// Package encoder shells out to ffmpeg to turn raw PCM into the compressed
// stream a TV renderer can play.
package encoder

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"

	"github.com/trudenboy/msx-music-assistant/internal/bridge"
)

const (
	sampleRate = 44100
	channels   = 2

	chunkSize    = 16 * 1024
	chunkBacklog = 32
)

// FFmpeg implements bridge.Encoder by piping PCM through an ffmpeg child
// process. One process per stream; its lifetime is the stream context's.
type FFmpeg struct {
	binary string
	log    *slog.Logger
}

func New(binary string, log *slog.Logger) *FFmpeg {
	if binary == "" {
		binary = "ffmpeg"
	}
	return &FFmpeg{binary: binary, log: log}
}

// args builds the ffmpeg invocation for s16le stereo PCM on stdin and the
// target codec on stdout.
func args(codec bridge.Codec) []string {
	out := []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "s16le",
		"-ar", fmt.Sprint(sampleRate),
		"-ac", fmt.Sprint(channels),
		"-i", "pipe:0",
	}
	switch codec {
	case bridge.CodecAAC:
		out = append(out, "-c:a", "aac", "-b:a", "256k", "-f", "adts")
	case bridge.CodecFLAC:
		out = append(out, "-c:a", "flac", "-f", "flac")
	default:
		out = append(out, "-c:a", "libmp3lame", "-b:a", "320k", "-f", "mp3")
	}
	return append(out, "pipe:1")
}

// Encode starts an ffmpeg process for pcm and returns its output chunks.
// The channel closes when the source ends or the context is cancelled; pcm
// is closed either way.
func (f *FFmpeg) Encode(ctx context.Context, pcm io.Reader, codec bridge.Codec) (<-chan []byte, error) {
	cmd := exec.CommandContext(ctx, f.binary, args(codec)...)
	cmd.Stdin = pcm
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("ffmpeg start: %w", err)
	}

	chunks := make(chan []byte, chunkBacklog)
	go func() {
		defer close(chunks)
		defer func() {
			if c, ok := pcm.(io.Closer); ok {
				_ = c.Close()
			}
			if err := cmd.Wait(); err != nil && ctx.Err() == nil {
				f.log.Warn("ffmpeg exited with error", "codec", string(codec), "error", err)
			}
		}()
		for {
			buf := make([]byte, chunkSize)
			n, err := stdout.Read(buf)
			if n > 0 {
				select {
				case chunks <- buf[:n]:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				if err != io.EOF && ctx.Err() == nil {
					f.log.Debug("ffmpeg read ended", "error", err)
				}
				return
			}
		}
	}()
	return chunks, nil
}

var _ bridge.Encoder = (*FFmpeg)(nil)
