// Package sampler turns a video file into an ordered sequence of frames using ffmpeg.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/hyperjump/gamesense/internal/config"
	"github.com/hyperjump/gamesense/internal/models"
	"go.uber.org/zap"
)

// ErrNoFrames is returned when a video yields no decodable frames.
var ErrNoFrames = fmt.Errorf("%w: no frames extracted", models.ErrUnprocessableMedia)

// Sampler extracts frames from a video.
type Sampler interface {
	Sample(ctx context.Context, videoPath string) ([]image.Image, error)
}

// FFmpegSampler extracts frames at a fixed rate by shelling out to ffmpeg.
type FFmpegSampler struct {
	binary    string
	fps       float64
	maxFrames int
	tempDir   string
	logger    *zap.Logger
}

// Option configures an FFmpegSampler.
type Option func(*FFmpegSampler)

// WithLogger sets the sampler logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *FFmpegSampler) { s.logger = l }
}

// WithTempDir sets where per-call frame directories are created.
func WithTempDir(dir string) Option {
	return func(s *FFmpegSampler) { s.tempDir = dir }
}

// NewFFmpegSampler creates a sampler from cfg. Zero values fall back to ffmpeg on PATH at 1 fps.
func NewFFmpegSampler(cfg *config.SamplerConfig, opts ...Option) *FFmpegSampler {
	s := &FFmpegSampler{binary: "ffmpeg", fps: 1, logger: zap.NewNop()}
	if cfg != nil {
		if cfg.FFmpegBinary != "" {
			s.binary = cfg.FFmpegBinary
		}
		if cfg.FPS > 0 {
			s.fps = cfg.FPS
		}
		s.maxFrames = cfg.MaxFrames
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Available reports whether the ffmpeg binary can be found.
func (s *FFmpegSampler) Available() bool {
	_, err := exec.LookPath(s.binary)
	return err == nil
}

// Sample writes frames to a fresh temp directory, decodes them in order, and removes the directory.
func (s *FFmpegSampler) Sample(ctx context.Context, videoPath string) ([]image.Image, error) {
	if _, err := os.Stat(videoPath); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrUnprocessableMedia, err)
	}
	dir := filepath.Join(s.tempDirOrDefault(), "gamesense-frames-"+uuid.NewString())
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create frame dir: %w", err)
	}
	defer os.RemoveAll(dir)

	if err := s.extract(ctx, videoPath, dir); err != nil {
		return nil, err
	}
	frames, err := DecodeFrames(dir, s.maxFrames)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("frames sampled",
		zap.String("video", videoPath), zap.Int("frames", len(frames)), zap.Float64("fps", s.fps))
	return frames, nil
}

func (s *FFmpegSampler) tempDirOrDefault() string {
	if s.tempDir != "" {
		return s.tempDir
	}
	return os.TempDir()
}

func (s *FFmpegSampler) extract(ctx context.Context, videoPath, dir string) error {
	args := []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-i", videoPath,
		"-vf", "fps=" + strconv.FormatFloat(s.fps, 'f', -1, 64),
	}
	if s.maxFrames > 0 {
		args = append(args, "-frames:v", strconv.Itoa(s.maxFrames))
	}
	args = append(args, filepath.Join(dir, "frame_%06d.png"))

	cmd := exec.CommandContext(ctx, s.binary, args...) //nolint:gosec
	if output, err := cmd.CombinedOutput(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var execErr *exec.Error
		if errors.As(err, &execErr) {
			return fmt.Errorf("ffmpeg not available: %w", err)
		}
		return fmt.Errorf("%w: ffmpeg: %v: %s", models.ErrUnprocessableMedia, err, strings.TrimSpace(string(output)))
	}
	return nil
}

// DecodeFrames decodes the PNG files in dir in name order. maxFrames <= 0 means no limit.
func DecodeFrames(dir string, maxFrames int) ([]image.Image, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read frame dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".png") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	if maxFrames > 0 && len(names) > maxFrames {
		names = names[:maxFrames]
	}

	frames := make([]image.Image, 0, len(names))
	for _, name := range names {
		img, err := decodePNG(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("%w: frame %s: %v", models.ErrUnprocessableMedia, name, err)
		}
		frames = append(frames, img)
	}
	if len(frames) == 0 {
		return nil, ErrNoFrames
	}
	return frames, nil
}

func decodePNG(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return png.Decode(f)
}
