// Package e2e provides end-to-end tests; this file renders synthetic gameplay clips with ffmpeg.
package e2e

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
)

// GameSources maps a game name to the lavfi source that stands in for its gameplay.
// Sources are static so every sampled frame of a clip looks the same.
var GameSources = map[string]string{
	"Chess":  "smptebars=size=160x120",
	"Tetris": "color=c=0x2040c0:size=160x120",
	"Pong":   "color=c=black:size=160x120",
}

// UnknownSource looks like none of GameSources.
const UnknownSource = "color=c=yellow:size=160x120"

// FFmpegAvailable reports whether ffmpeg is on PATH.
func FFmpegAvailable() bool {
	_, err := exec.LookPath("ffmpeg")
	return err == nil
}

// WriteClip renders seconds of source into dir/name.mp4 and returns the path.
func WriteClip(dir, name, source string, seconds int) (string, error) {
	path := filepath.Join(dir, name+".mp4")
	cmd := exec.Command("ffmpeg", "-y", "-hide_banner", "-loglevel", "error",
		"-f", "lavfi", "-i", source+":rate=10",
		"-t", strconv.Itoa(seconds),
		"-pix_fmt", "yuv420p", path)
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("ffmpeg %s: %v: %s", source, err, out)
	}
	return path, nil
}
