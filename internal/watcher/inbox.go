package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hyperjump/gamesense/internal/ingest"
	"go.uber.org/zap"
)

// ClipIngester classifies one video file. Implemented by ingest.Ingester.
type ClipIngester interface {
	IngestFile(ctx context.Context, path string, isLabeled bool, gameName string) (*ingest.Result, error)
}

// Inbox ingests clips reported by a Watcher, one at a time, and optionally moves each
// successfully ingested file into a processed directory.
type Inbox struct {
	ingester     ClipIngester
	processedDir string
	logger       *zap.Logger
	mu           sync.Mutex
	seen         map[string]fileStamp
}

type fileStamp struct {
	size    int64
	modTime time.Time
}

// NewInbox creates an inbox. processedDir may be empty to leave files in place.
func NewInbox(ingester ClipIngester, processedDir string, logger *zap.Logger) *Inbox {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Inbox{
		ingester:     ingester,
		processedDir: processedDir,
		logger:       logger,
		seen:         make(map[string]fileStamp),
	}
}

// Handle ingests clip unless the same file content was already ingested from that path.
func (in *Inbox) Handle(ctx context.Context, clip Clip) (*ingest.Result, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	info, err := os.Stat(clip.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat clip: %w", err)
	}
	stamp := fileStamp{size: info.Size(), modTime: info.ModTime()}
	if prev, ok := in.seen[clip.Path]; ok && prev == stamp {
		return nil, nil
	}

	res, err := in.ingester.IngestFile(ctx, clip.Path, clip.Labeled, clip.Game)
	if err != nil {
		in.logger.Warn("inbox clip failed",
			zap.String("path", clip.Path), zap.String("game", clip.Game), zap.Error(err))
		return nil, err
	}
	in.logger.Info("inbox clip classified",
		zap.String("path", clip.Path),
		zap.String("outcome", string(res.Outcome.Kind)),
		zap.String("game", res.Outcome.Game),
		zap.Int("frames", res.Frames))

	if in.processedDir == "" {
		in.seen[clip.Path] = stamp
		return res, nil
	}
	dest, err := in.moveProcessed(clip)
	if err != nil {
		// The clip is already in the store; remember it so it is not ingested twice.
		in.seen[clip.Path] = stamp
		in.logger.Warn("inbox move failed", zap.String("path", clip.Path), zap.Error(err))
		return res, nil
	}
	in.logger.Debug("inbox clip moved", zap.String("from", clip.Path), zap.String("to", dest))
	return res, nil
}

// moveProcessed renames the clip into processedDir, keeping its path relative to the root.
func (in *Inbox) moveProcessed(clip Clip) (string, error) {
	rel, err := filepath.Rel(clip.Root, clip.Path)
	if err != nil {
		rel = filepath.Base(clip.Path)
	}
	dest := filepath.Join(in.processedDir, rel)
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return "", err
	}
	if _, err := os.Stat(dest); err == nil {
		ext := filepath.Ext(dest)
		dest = fmt.Sprintf("%s-%d%s", dest[:len(dest)-len(ext)], time.Now().UnixNano(), ext)
	}
	if err := os.Rename(clip.Path, dest); err != nil {
		return "", err
	}
	return dest, nil
}
