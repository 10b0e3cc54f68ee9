package transcode

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Runner runs an ffmpeg command line.
type Runner interface {
	Run(ctx context.Context, args []string) error
}

// Command returns the ffmpeg arguments that transcode in to an H.264/AAC
// MP4 at out.
func Command(in, out, preset string) []string {
	return []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-i", in,
		"-c:v", "libx264", "-preset", preset, "-crf", "23",
		"-c:a", "aac", "-b:a", "128k",
		"-movflags", "+faststart",
		out,
	}
}

// FFmpeg runs the ffmpeg binary. The process is killed when ctx is done.
type FFmpeg struct {
	// Path to the binary; "ffmpeg" on PATH when empty.
	Path string
}

func (f FFmpeg) Run(ctx context.Context, args []string) error {
	bin := f.Path
	if bin == "" {
		bin = "ffmpeg"
	}
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("ffmpeg interrupted: %w", context.Cause(ctx))
		}
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > 512 {
			msg = msg[len(msg)-512:]
		}
		if msg != "" {
			return fmt.Errorf("ffmpeg: %w: %s", err, msg)
		}
		return fmt.Errorf("ffmpeg: %w", err)
	}
	return nil
}
