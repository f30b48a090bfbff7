package config

import "os"

// DefaultConfig returns a config with every default applied, for callers that run without a file.
func DefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
	if cfg.Server.MaxUploadMB == 0 {
		cfg.Server.MaxUploadMB = 512
	}
	if cfg.Server.TempDir == "" {
		cfg.Server.TempDir = os.TempDir()
	}
	if cfg.Server.CORSAllowedOrigins == nil {
		cfg.Server.CORSAllowedOrigins = []string{"*"}
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "file"
	}
	if cfg.Storage.ClustersPath == "" {
		cfg.Storage.ClustersPath = "/usr/local/var/gamesense/data/clusters.bin"
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/gamesense/data/clusters.db"
	}
	if cfg.Embedding.ModelPath == "" {
		cfg.Embedding.ModelPath = "/usr/local/var/gamesense/data/models/clip-vit-b32-visual.onnx"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 512
	}
	if cfg.Embedding.ImageSize == 0 {
		cfg.Embedding.ImageSize = 224
	}
	if cfg.Embedding.InputName == "" {
		cfg.Embedding.InputName = "pixel_values"
	}
	if cfg.Embedding.OutputName == "" {
		cfg.Embedding.OutputName = "image_embeds"
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 4096
	}
	if cfg.Sampler.FFmpegBinary == "" {
		cfg.Sampler.FFmpegBinary = "ffmpeg"
	}
	if cfg.Sampler.FPS == 0 {
		cfg.Sampler.FPS = 1
	}
	if cfg.Match.ConfidenceThreshold == nil {
		th := DefaultConfidenceThreshold
		cfg.Match.ConfidenceThreshold = &th
	}
	if cfg.Match.UnmatchedPolicy == "" {
		cfg.Match.UnmatchedPolicy = "shared"
	}
	if cfg.Visualize.StaticDir == "" {
		cfg.Visualize.StaticDir = "/usr/local/var/gamesense/static"
	}
	if cfg.Watch.Extensions == nil {
		cfg.Watch.Extensions = []string{".mp4", ".mkv", ".mov", ".webm", ".avi"}
	}
	// Recursive defaults to true when unset (nil).
	if len(cfg.Watch.Directories) > 0 && cfg.Watch.Recursive == nil {
		t := true
		cfg.Watch.Recursive = &t
	}
}
