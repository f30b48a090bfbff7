package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/hyperjump/gamesense/internal/config"
	"github.com/hyperjump/gamesense/internal/match"
	"github.com/hyperjump/gamesense/internal/models"
	"github.com/hyperjump/gamesense/internal/storage"
	"go.uber.org/zap"
)

const (
	multipartMemory   = 32 << 20
	defaultGamesLimit = 20
	maxGamesLimit     = 200
)

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, int64(s.config.Server.MaxUploadMB)<<20)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.respondError(w, http.StatusRequestEntityTooLarge, "video exceeds upload limit")
			return
		}
		s.respondError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	isLabeled, err := parseFormBool(r.FormValue("is_labeled"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "is_labeled must be true or false")
		return
	}
	gameName := strings.TrimSpace(r.FormValue("game_name"))

	file, header, err := r.FormFile("video")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "video file is required")
		return
	}
	defer file.Close()

	tmpPath, err := s.spool(file, header.Filename)
	if err != nil {
		s.logger.Error("upload: failed to store temp video", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "failed to store upload")
		return
	}
	defer os.Remove(tmpPath)

	s.logger.Debug("upload request",
		zap.String("filename", header.Filename),
		zap.Int64("size", header.Size),
		zap.Bool("is_labeled", isLabeled),
		zap.String("game_name", gameName))

	res, err := s.ingester.IngestFile(r.Context(), tmpPath, isLabeled, gameName)
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			s.logger.Error("upload failed", zap.Error(err))
		} else {
			s.logger.Info("upload rejected", zap.Error(err))
		}
		s.respondError(w, status, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, res.Response())
}

// spool copies an uploaded file to a uniquely named temp file, keeping its extension so
// ffmpeg can probe the container.
func (s *Server) spool(src io.Reader, filename string) (string, error) {
	if err := os.MkdirAll(s.config.Server.TempDir, 0755); err != nil {
		return "", err
	}
	ext := strings.ToLower(filepath.Ext(filepath.Base(filename)))
	path := filepath.Join(s.config.Server.TempDir, "upload-"+uuid.NewString()+ext)
	dst, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(path)
		return "", err
	}
	if err := dst.Close(); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

func parseFormBool(v string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "on", "yes":
		return true, nil
	case "off", "no":
		return false, nil
	}
	return strconv.ParseBool(strings.TrimSpace(v))
}

// statusFor maps classify errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidInput), errors.Is(err, models.ErrUnprocessableMedia):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.ingester.Engine().Store().Stats())
}

// handleVisualize renders the current clusters. A projection needs at least two vectors,
// so a store holding a single vector still answers 404 "No clusters available".
func (s *Server) handleVisualize(w http.ResponseWriter, r *http.Request) {
	url, err := s.ingester.Engine().Visualize(r.Context())
	if err != nil {
		if errors.Is(err, match.ErrNothingToPlot) {
			s.respondError(w, http.StatusNotFound, "No clusters available")
			return
		}
		s.logger.Error("visualize failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"image_url": url})
}

func (s *Server) handleGames(w http.ResponseWriter, r *http.Request) {
	if s.games == nil {
		s.respondJSON(w, http.StatusOK, map[string]interface{}{"games": s.ingester.Engine().Store().Names()})
		return
	}
	limit := defaultGamesLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			s.respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxGamesLimit)
	}
	games, err := s.games.Suggest(r.URL.Query().Get("q"), limit)
	if err != nil {
		s.logger.Error("games lookup failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if games == nil {
		games = []string{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"games": games})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	engine := s.ingester.Engine()
	store := engine.Store()
	resp := map[string]interface{}{
		"clusters":      store.Len(),
		"vectors":       store.TotalVectors(),
		"dimensions":    store.Dimensions(),
		"backend":       store.BackendKind(),
		"threshold":     engine.Threshold(),
		"stats":         store.OrderedStats(),
		"watched_roots": 0,
	}
	if s.watch != nil {
		resp["watched_roots"] = len(s.watch.Directories())
	}

	configInfo := map[string]interface{}{
		"unmatched_policy":     s.config.Match.UnmatchedPolicy,
		"sampler_fps":          s.config.Sampler.FPS,
		"sampler_max_frames":   s.config.Sampler.MaxFrames,
		"embedding_dimensions": s.config.Embedding.Dimensions,
		"embedding_model_path": s.config.Embedding.ModelPath,
		"static_dir":           s.config.Visualize.StaticDir,
		"max_upload_mb":        s.config.Server.MaxUploadMB,
	}
	if diskBytes, err := storage.BackendDiskUsage(store.Backend()); err == nil {
		resp["disk_usage_bytes"] = diskBytes
	} else {
		s.logger.Debug("status: disk usage unavailable", zap.Error(err))
	}
	resp["config"] = configInfo
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleWatchDirectoriesList(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	dirs := s.watch.Directories()
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"directories": dirs})
}

type watchAddRequest struct {
	Path string `json:"path"`
	Sync *bool  `json:"sync,omitempty"`
}

func (s *Server) handleWatchDirectoriesAdd(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	var req watchAddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required")
		return
	}
	abs, err := filepath.Abs(req.Path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			s.respondError(w, http.StatusNotFound, "directory not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !info.IsDir() {
		s.respondError(w, http.StatusBadRequest, "path is not a directory")
		return
	}
	syncExisting := true
	if req.Sync != nil {
		syncExisting = *req.Sync
	}
	s.logger.Debug("watch add directory request", zap.String("path", abs), zap.Bool("sync_existing", syncExisting))
	if err := s.watch.AddDirectory(abs, syncExisting); err != nil {
		s.logger.Error("watch add directory failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.persistWatchDirectories()
	s.respondJSON(w, http.StatusCreated, map[string]string{"path": abs, "status": "added"})
}

func (s *Server) handleWatchDirectoriesRemove(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		var body struct {
			Path string `json:"path"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil && body.Path != "" {
			path = body.Path
		}
	}
	if path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required (query or body)")
		return
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	s.logger.Debug("watch remove directory request", zap.String("path", abs))
	if err := s.watch.RemoveDirectory(abs); err != nil {
		s.logger.Error("watch remove directory failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.persistWatchDirectories()
	s.respondJSON(w, http.StatusOK, map[string]string{"path": abs, "status": "removed"})
}

// persistWatchDirectories writes the current watch roots back to the config file, if any.
func (s *Server) persistWatchDirectories() {
	if s.configPath == "" {
		return
	}
	s.configMu.Lock()
	defer s.configMu.Unlock()
	s.config.Watch.Directories = s.watch.Directories()
	if err := config.Save(s.configPath, s.config); err != nil {
		s.logger.Warn("failed to persist watch config", zap.Error(err))
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
