package export

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// ffmpegEnvVar overrides audio tool discovery, useful when the workstation
// carries a pinned build outside PATH.
const ffmpegEnvVar = "FOURDREC_FFMPEG"

// AudioTrimmer cuts the job's time window out of the shot audio. Offsets are
// relative to the start of the source file.
type AudioTrimmer interface {
	Trim(ctx context.Context, src, dst string, offset, duration time.Duration) error
}

// ToolTrimmer shells out to ffmpeg (or a compatible tool) for the cut.
type ToolTrimmer struct {
	bin string
	log *slog.Logger
}

var _ AudioTrimmer = (*ToolTrimmer)(nil)

// NewToolTrimmer locates the trim tool and wraps it. The override (from
// export.audio_tool) wins, then the environment variable, a binary next to
// the working directory, and finally PATH.
func NewToolTrimmer(override string, logger *slog.Logger) (*ToolTrimmer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	bin, err := findTrimTool(override)
	if err != nil {
		return nil, err
	}
	logger.Debug("audio trim tool resolved", "bin", bin)
	return &ToolTrimmer{bin: bin, log: logger}, nil
}

// Trim runs the tool with input seeking so long takes do not decode from
// zero. The destination is overwritten.
func (t *ToolTrimmer) Trim(ctx context.Context, src, dst string, offset, duration time.Duration) error {
	args := []string{
		"-y", "-loglevel", "error",
		"-ss", formatSeconds(offset),
		"-t", formatSeconds(duration),
		"-i", src,
		dst,
	}
	cmd := exec.CommandContext(ctx, t.bin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return fmt.Errorf("%s: %w: %s", t.bin, err, msg)
		}
		return fmt.Errorf("%s: %w", t.bin, err)
	}
	return nil
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}

// findTrimTool resolves the trim binary: explicit override, environment
// variable, a local ./ffmpeg, then PATH.
func findTrimTool(override string) (string, error) {
	if override != "" {
		if isExecutable(override) {
			return override, nil
		}
		return "", fmt.Errorf("audio tool %q is not an executable file", override)
	}
	if env := os.Getenv(ffmpegEnvVar); env != "" {
		if isExecutable(env) {
			return env, nil
		}
		return "", fmt.Errorf("%s=%q is not an executable file", ffmpegEnvVar, env)
	}
	if isExecutable("./ffmpeg") {
		return "./ffmpeg", nil
	}
	path, err := exec.LookPath("ffmpeg")
	if err != nil {
		return "", fmt.Errorf("locating ffmpeg: %w", err)
	}
	return path, nil
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode()&0o111 != 0
}
