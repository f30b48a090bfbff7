// Package config provides configuration loading and structs for the gamesense server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Sampler   SamplerConfig   `yaml:"sampler"`
	Match     MatchConfig     `yaml:"match"`
	Visualize VisualizeConfig `yaml:"visualize"`
	Watch     WatchConfig     `yaml:"watch"`
}

// WatchConfig holds inbox directory watch settings.
type WatchConfig struct {
	Directories  []string `yaml:"directories"`
	Extensions   []string `yaml:"extensions"`
	Recursive    *bool    `yaml:"recursive"`
	SyncExisting bool     `yaml:"sync_existing"`
	ProcessedDir string   `yaml:"processed_dir"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (w *WatchConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return true
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host                string   `yaml:"host"`
	Port                int      `yaml:"port" validate:"gte=1,lte=65535"`
	MaxUploadMB         int      `yaml:"max_upload_mb" validate:"gte=1"`
	UploadRatePerMinute int      `yaml:"upload_rate_per_minute" validate:"gte=0"`
	TempDir             string   `yaml:"temp_dir"`
	CORSAllowedOrigins  []string `yaml:"cors_allowed_origins"`
}

// StorageConfig selects the cluster state backend and its location.
type StorageConfig struct {
	Backend      string `yaml:"backend" validate:"oneof=file sqlite"`
	ClustersPath string `yaml:"clusters_path"`
	DatabasePath string `yaml:"database_path"`
}

// EmbeddingConfig holds ONNX image embedder settings.
type EmbeddingConfig struct {
	ModelPath  string `yaml:"model_path"`
	Dimensions int    `yaml:"dimensions" validate:"gte=2"`
	ImageSize  int    `yaml:"image_size" validate:"gte=1"`
	InputName  string `yaml:"input_name"`
	OutputName string `yaml:"output_name"`
	CacheSize  int    `yaml:"cache_size" validate:"gte=0"`
	AllowMock  *bool  `yaml:"allow_mock"`
}

// AllowMockOrDefault reports whether the mock embedder may stand in for ONNX; defaults to true.
func (e *EmbeddingConfig) AllowMockOrDefault() bool {
	if e.AllowMock != nil {
		return *e.AllowMock
	}
	return true
}

// SamplerConfig holds frame sampling settings.
type SamplerConfig struct {
	FFmpegBinary string  `yaml:"ffmpeg_binary"`
	FPS          float64 `yaml:"fps" validate:"gt=0"`
	MaxFrames    int     `yaml:"max_frames" validate:"gte=0"`
}

// MatchConfig holds classification settings.
type MatchConfig struct {
	ConfidenceThreshold *float64 `yaml:"confidence_threshold" validate:"omitempty,gte=-1,lte=1"`
	UnmatchedPolicy     string   `yaml:"unmatched_policy" validate:"oneof=shared per_video"`
}

// DefaultConfidenceThreshold is used when match.confidence_threshold is unset.
const DefaultConfidenceThreshold = 0.7

// ThresholdOrDefault returns the configured threshold; 0 is a valid setting, only nil falls back.
func (m *MatchConfig) ThresholdOrDefault() float64 {
	if m.ConfidenceThreshold != nil {
		return *m.ConfidenceThreshold
	}
	return DefaultConfidenceThreshold
}

// VisualizeConfig holds scatter plot settings.
type VisualizeConfig struct {
	Enabled   *bool  `yaml:"enabled"`
	StaticDir string `yaml:"static_dir"`
}

// EnabledOrDefault returns whether plots are regenerated after mutations; defaults to true.
func (v *VisualizeConfig) EnabledOrDefault() bool {
	if v.Enabled != nil {
		return *v.Enabled
	}
	return true
}

var validate = validator.New()

// Load reads and parses the config file at path, expands paths, applies defaults and validates.
// Returns an error if the file cannot be read, parsed, or fails validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.ClustersPath = expandPath(cfg.Storage.ClustersPath, configDir)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	cfg.Visualize.StaticDir = expandPath(cfg.Visualize.StaticDir, configDir)
	cfg.Server.TempDir = expandPath(cfg.Server.TempDir, configDir)
	if cfg.Watch.ProcessedDir != "" {
		cfg.Watch.ProcessedDir = expandPath(cfg.Watch.ProcessedDir, configDir)
	}
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i] = expandPath(cfg.Watch.Directories[i], configDir)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints declared in struct tags.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Save writes the config to path. Used for persisting watch directory add/remove.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
