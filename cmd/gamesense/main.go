// Package main is the gamesense CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/hyperjump/gamesense/internal/catalog"
	"github.com/hyperjump/gamesense/internal/cli"
	"github.com/hyperjump/gamesense/internal/cluster"
	"github.com/hyperjump/gamesense/internal/config"
	"github.com/hyperjump/gamesense/internal/embedding"
	"github.com/hyperjump/gamesense/internal/ingest"
	"github.com/hyperjump/gamesense/internal/match"
	"github.com/hyperjump/gamesense/internal/metrics"
	"github.com/hyperjump/gamesense/internal/models"
	"github.com/hyperjump/gamesense/internal/sampler"
	"github.com/hyperjump/gamesense/internal/server"
	"github.com/hyperjump/gamesense/internal/storage"
	"github.com/hyperjump/gamesense/internal/visualize"
	"github.com/hyperjump/gamesense/internal/watcher"
	"github.com/hyperjump/gamesense/pkg/utils"
	"go.uber.org/zap"
)

var version = "dev"

const (
	defaultConfigPath = "/usr/local/etc/gamesense/config.yaml"
	defaultServerURL  = "http://localhost:8000"
)

// loadConfig loads config from path. When path is the default, it first looks for
// config.yaml in the current directory (for development); if that exists it is used.
// Returns the config and the path that was actually loaded (for saving, etc.).
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
		// No config file installed yet: run on defaults.
		if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
			return config.DefaultConfig(), "", nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "classify":
		runUpload("classify", false)
	case "label":
		runUpload("label", true)
	case "stats":
		runStats()
	case "export":
		runExport()
	case "visualize":
		runVisualize()
	case "games":
		runGames()
	case "watch":
		runWatch()
	case "version", "--version", "-v":
		fmt.Printf("gamesense version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging (classify decisions, inbox events, etc.)")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	inbox := watcher.NewInbox(components.Ingester, cfg.Watch.ProcessedDir, logger)
	watchOpts := []watcher.WatcherOption{watcher.WithIgnore(cfg.Watch.ProcessedDir)}
	if debugMode {
		watchOpts = append(watchOpts, watcher.WithLogger(logger))
	}
	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	watchSvc := watcher.NewWatcher(
		cfg.Watch.Directories,
		cfg.Watch.Extensions,
		cfg.Watch.RecursiveOrDefault(),
		func(clip watcher.Clip) {
			// Errors are logged by the inbox; the clip stays put for a retry.
			_, _ = inbox.Handle(watchCtx, clip)
		},
		watchOpts...,
	)
	if err := watchSvc.Start(watchCtx); err != nil {
		logger.Fatal("Failed to start watcher", zap.Error(err))
	}
	if cfg.Watch.SyncExisting {
		go watchSvc.SyncExistingFiles()
	}

	srv := server.NewServer(
		components.Ingester,
		cfg,
		logger,
		server.WithGameLookup(components.Catalog),
		server.WithMetrics(components.Metrics),
		server.WithWatch(watchSvc, resolvedConfigPath),
	)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	watchCancel()
	watchSvc.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

// argsReorder moves any flags (and their values) that appear after the positional
// arguments to the front of the slice so that flag.Parse() sees them. Go's flag package
// stops at the first non-flag argument, so "gamesense label clip.mp4 --game Chess"
// would otherwise leave --game unparsed.
func argsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

func runUpload(name string, labeled bool) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = open the cluster store directly)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	var game *string
	if labeled {
		game = fs.String("game", "", "game name to label the clip with")
	}
	_ = fs.Parse(argsReorder(os.Args[2:]))

	if fs.NArg() < 1 {
		if labeled {
			fmt.Println("Usage: gamesense label [flags] --game NAME <video>")
		} else {
			fmt.Println("Usage: gamesense classify [flags] <video>")
		}
		os.Exit(1)
	}
	videoPath := fs.Arg(0)
	gameName := ""
	if labeled {
		gameName = strings.TrimSpace(*game)
		if gameName == "" {
			fmt.Fprintln(os.Stderr, "--game is required for label")
			os.Exit(1)
		}
	}
	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	var resp *models.UploadResponse
	if *serverURL != "" {
		resp, err = uploadViaHTTP(*serverURL, videoPath, labeled, gameName)
	} else {
		resp, err = withComponents(*configPath, func(c *Components) (*models.UploadResponse, error) {
			res, err := c.Ingester.IngestFile(context.Background(), videoPath, labeled, gameName)
			if err != nil {
				return nil, err
			}
			return res.Response(), nil
		})
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Upload failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteOutcome(os.Stdout, resp, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runStats() {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = open the cluster store directly)")
	outputFormat := fs.String("output", "text", "output format: text, table or json")
	_ = fs.Parse(os.Args[2:])

	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	stats, err := loadStats(*serverURL, *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Stats failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteStats(os.Stdout, stats, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runExport() {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = open the cluster store directly)")
	_ = fs.Parse(argsReorder(os.Args[2:]))

	if fs.NArg() < 1 {
		fmt.Println("Usage: gamesense export [flags] <out.xlsx>")
		os.Exit(1)
	}
	out := fs.Arg(0)
	stats, err := loadStats(*serverURL, *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Export failed: %v\n", err)
		os.Exit(1)
	}
	var buf bytes.Buffer
	if err := cli.ExportStatsXLSX(&buf, stats); err != nil {
		fmt.Fprintf(os.Stderr, "Export failed: %v\n", err)
		os.Exit(1)
	}
	if err := os.WriteFile(out, buf.Bytes(), 0644); err != nil {
		fmt.Fprintf(os.Stderr, "Export failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Exported %d game(s) to %s\n", len(stats), out)
}

func runVisualize() {
	fs := flag.NewFlagSet("visualize", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = open the cluster store directly)")
	_ = fs.Parse(os.Args[2:])

	if *serverURL != "" {
		var body map[string]string
		if err := getJSON(*serverURL+"/visualize_clusters", &body); err != nil {
			fmt.Fprintf(os.Stderr, "Visualize failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s/%s\n", strings.TrimRight(*serverURL, "/"), body["image_url"])
		return
	}
	var dir string
	imageURL, err := withComponents(*configPath, func(c *Components) (string, error) {
		dir = c.Renderer.Dir()
		return c.Engine.Visualize(context.Background())
	})
	if err != nil {
		if errors.Is(err, match.ErrNothingToPlot) {
			fmt.Fprintln(os.Stderr, "No clusters available")
		} else {
			fmt.Fprintf(os.Stderr, "Visualize failed: %v\n", err)
		}
		os.Exit(1)
	}
	fmt.Println(filepath.Join(dir, strings.TrimPrefix(imageURL, visualize.URLPrefix)))
}

func runGames() {
	fs := flag.NewFlagSet("games", flag.ExitOnError)
	serverURL := fs.String("server", defaultServerURL, "server URL")
	limit := fs.Int("limit", 20, "maximum number of names")
	_ = fs.Parse(os.Args[2:])

	q := url.Values{}
	q.Set("q", strings.Join(fs.Args(), " "))
	q.Set("limit", fmt.Sprint(*limit))
	var out struct {
		Games []string `json:"games"`
	}
	if err := getJSON(*serverURL+"/games?"+q.Encode(), &out); err != nil {
		fmt.Fprintf(os.Stderr, "Lookup failed: %v\n", err)
		os.Exit(1)
	}
	for _, g := range out.Games {
		fmt.Println(g)
	}
}

func runWatch() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: gamesense watch <add|remove|list> [path]")
		fmt.Println("  gamesense watch add <path>     Add inbox directory")
		fmt.Println("  gamesense watch remove <path>  Remove inbox directory")
		fmt.Println("  gamesense watch list           List inbox directories")
		os.Exit(1)
	}
	sub := os.Args[2]
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	serverURL := fs.String("server", defaultServerURL, "server URL")
	_ = fs.Parse(os.Args[3:])
	endpoint := *serverURL + "/api/v1/watch/directories"
	switch sub {
	case "add":
		if fs.NArg() < 1 {
			fmt.Println("Usage: gamesense watch add <path>")
			os.Exit(1)
		}
		path, _ := filepath.Abs(fs.Arg(0))
		body, _ := json.Marshal(map[string]interface{}{"path": path, "sync": true})
		resp, err := http.Post(endpoint, "application/json", bytes.NewReader(body))
		if err != nil {
			fmt.Printf("Request failed: %v\n", err)
			os.Exit(1)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusCreated {
			b, _ := io.ReadAll(resp.Body)
			fmt.Printf("Add failed (%d): %s\n", resp.StatusCode, string(b))
			os.Exit(1)
		}
		fmt.Printf("Added: %s\n", path)
	case "remove":
		if fs.NArg() < 1 {
			fmt.Println("Usage: gamesense watch remove <path>")
			os.Exit(1)
		}
		path, _ := filepath.Abs(fs.Arg(0))
		req, _ := http.NewRequest(http.MethodDelete, endpoint+"?path="+url.QueryEscape(path), nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			fmt.Printf("Request failed: %v\n", err)
			os.Exit(1)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(resp.Body)
			fmt.Printf("Remove failed (%d): %s\n", resp.StatusCode, string(b))
			os.Exit(1)
		}
		fmt.Printf("Removed: %s\n", path)
	case "list":
		var out struct {
			Directories []string `json:"directories"`
		}
		if err := getJSON(endpoint, &out); err != nil {
			fmt.Printf("List failed: %v\n", err)
			os.Exit(1)
		}
		for _, d := range out.Directories {
			fmt.Println(d)
		}
	default:
		fmt.Printf("Unknown watch subcommand: %s\n", sub)
		os.Exit(1)
	}
}

// loadStats reads per-game counts from the server, or from the store when serverURL is empty.
func loadStats(serverURL, configPath string) ([]models.GameStat, error) {
	if serverURL != "" {
		var m map[string]int
		if err := getJSON(serverURL+"/stats", &m); err != nil {
			return nil, err
		}
		return cli.StatsFromMap(m), nil
	}
	return withComponents(configPath, func(c *Components) ([]models.GameStat, error) {
		return c.Store.OrderedStats(), nil
	})
}

// withComponents opens the store directly for one command and closes it afterwards.
func withComponents[T any](configPath string, fn func(*Components) (T, error)) (T, error) {
	var zero T
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return zero, fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		return zero, fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()
	components, err := initializeComponents(cfg, logger)
	if err != nil {
		return zero, err
	}
	defer components.Close()
	return fn(components)
}

func uploadViaHTTP(serverURL, videoPath string, labeled bool, gameName string) (*models.UploadResponse, error) {
	f, err := os.Open(videoPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("video", filepath.Base(videoPath))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(fw, f); err != nil {
		return nil, fmt.Errorf("failed to read video: %w", err)
	}
	_ = mw.WriteField("is_labeled", fmt.Sprint(labeled))
	if gameName != "" {
		_ = mw.WriteField("game_name", gameName)
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	resp, err := http.Post(serverURL+"/upload", mw.FormDataContentType(), &body)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, responseError(resp)
	}
	var out models.UploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}

func getJSON(endpoint string, v interface{}) error {
	resp, err := http.Get(endpoint)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return responseError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// responseError prefers the server's {"error": ...} message over the raw body.
func responseError(resp *http.Response) error {
	b, _ := io.ReadAll(resp.Body)
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(b, &e) == nil && e.Error != "" {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, e.Error)
	}
	return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
}

// Components holds initialized services.
type Components struct {
	Backend  storage.Backend
	Store    *cluster.Store
	Embedder embedding.ImageEmbedder
	Sampler  *sampler.FFmpegSampler
	Renderer *visualize.PlotRenderer
	Metrics  *metrics.Metrics
	Engine   *match.Engine
	Catalog  *catalog.Catalog
	Ingester *ingest.Ingester
}

func (c *Components) Close() {
	if c.Catalog != nil {
		_ = c.Catalog.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.Backend != nil {
		_ = c.Backend.Close()
	}
}

func storagePath(cfg *config.StorageConfig) string {
	if cfg.Backend == string(storage.BackendSQLite) {
		return cfg.DatabasePath
	}
	return cfg.ClustersPath
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	c := &Components{}
	path := storagePath(&cfg.Storage)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	backend, err := storage.NewBackend(cfg.Storage.Backend, path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	c.Backend = backend

	c.Store = cluster.NewStore(backend, cluster.WithLogger(logger))
	if err := c.Store.Load(context.Background()); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to open cluster store: %w", err)
	}

	onnxEmbedder, err := embedding.NewONNXEmbedder(&cfg.Embedding)
	if err != nil {
		if !cfg.Embedding.AllowMockOrDefault() {
			c.Close()
			return nil, fmt.Errorf("failed to initialize embedder: %w", err)
		}
		logger.Warn("ONNX embedder unavailable, using mock embedder", zap.Error(err))
		c.Embedder = embedding.NewMockEmbedder(cfg.Embedding.Dimensions)
	} else {
		c.Embedder = onnxEmbedder
	}

	c.Sampler = sampler.NewFFmpegSampler(&cfg.Sampler,
		sampler.WithLogger(logger),
		sampler.WithTempDir(cfg.Server.TempDir))
	if !c.Sampler.Available() {
		logger.Warn("ffmpeg not found; uploads will fail until it is installed",
			zap.String("binary", cfg.Sampler.FFmpegBinary))
	}

	c.Metrics = metrics.New()
	engineOpts := []match.EngineOption{match.WithLogger(logger), match.WithObserver(c.Metrics)}
	c.Renderer, err = visualize.NewPlotRenderer(cfg.Visualize.StaticDir, logger)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize renderer: %w", err)
	}
	if cfg.Visualize.EnabledOrDefault() {
		engineOpts = append(engineOpts, match.WithRenderer(c.Renderer))
	}
	c.Engine = match.NewEngine(c.Store, &cfg.Match, engineOpts...)
	c.Metrics.ObserveClusters(c.Store.OrderedStats())

	c.Catalog, err = catalog.New()
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize catalog: %w", err)
	}
	if err := c.Catalog.Rebuild(c.Store.Names()); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to index game names: %w", err)
	}

	c.Ingester = ingest.NewIngester(c.Sampler, c.Embedder, c.Engine,
		ingest.WithLogger(logger),
		ingest.WithNameIndex(c.Catalog))
	return c, nil
}

func printUsage() {
	fmt.Println(`gamesense - Gameplay video clustering service

Usage:
  gamesense server [flags]                 Start the HTTP server
  gamesense classify [flags] <video>       Identify the game in a clip
  gamesense label [flags] --game NAME <video>
                                           Add a clip to a known game
  gamesense stats [flags]                  Show vectors per game
  gamesense export [flags] <out.xlsx>      Write per-game stats to a workbook
  gamesense visualize [flags]              Render the cluster scatter plot
  gamesense games [flags] [query]          Look up known game names
  gamesense watch <add|remove|list>        Manage inbox directories
  gamesense version                        Show version
  gamesense help                           Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/gamesense/config.yaml)
  --debug            Enable debug logging

Client Flags (classify, label, stats, export, visualize):
  --server string    Server URL (default: http://localhost:8000). Use empty (--server "")
                     to open the cluster store directly when the server is not running.
  --config string    Config file path (direct mode only)
  --output string    Output format: text or json; stats also accepts table

Examples:
  gamesense server
  gamesense label --game Chess chess_opening.mp4
  gamesense classify unknown_clip.mp4
  gamesense stats --output table
  gamesense export --server "" clusters.xlsx
  gamesense games chss
  gamesense watch add ~/Videos/inbox`)
}
