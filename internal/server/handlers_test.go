package server

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hyperjump/gamesense/internal/catalog"
	"github.com/hyperjump/gamesense/internal/cluster"
	"github.com/hyperjump/gamesense/internal/config"
	"github.com/hyperjump/gamesense/internal/embedding"
	"github.com/hyperjump/gamesense/internal/ingest"
	"github.com/hyperjump/gamesense/internal/match"
	"github.com/hyperjump/gamesense/internal/metrics"
	"github.com/hyperjump/gamesense/internal/models"
	"github.com/hyperjump/gamesense/internal/sampler"
	"github.com/hyperjump/gamesense/internal/storage"
	"github.com/hyperjump/gamesense/internal/visualize"
)

// colorSampler treats the uploaded bytes as a colour name and returns frames of that colour.
type colorSampler struct{}

var palette = map[string]color.Color{
	"red":   color.RGBA{220, 20, 20, 255},
	"green": color.RGBA{20, 200, 40, 255},
	"blue":  color.RGBA{20, 20, 220, 255},
}

func (colorSampler) Sample(_ context.Context, path string) ([]image.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c, ok := palette[strings.TrimSpace(string(data))]
	if !ok {
		return nil, sampler.ErrNoFrames
	}
	out := make([]image.Image, 3)
	for i := range out {
		img := image.NewRGBA(image.Rect(0, 0, 16, 9))
		for y := 0; y < 9; y++ {
			for x := 0; x < 16; x++ {
				img.Set(x, y, c)
			}
		}
		out[i] = img
	}
	return out, nil
}

type mockWatchService struct {
	dirs []string
}

func (m *mockWatchService) Directories() []string {
	return append([]string(nil), m.dirs...)
}

func (m *mockWatchService) AddDirectory(path string, _ bool) error {
	for _, d := range m.dirs {
		if d == path {
			return nil
		}
	}
	m.dirs = append(m.dirs, path)
	return nil
}

func (m *mockWatchService) RemoveDirectory(path string) error {
	for i, d := range m.dirs {
		if d == path {
			m.dirs = append(m.dirs[:i], m.dirs[i+1:]...)
			return nil
		}
	}
	return nil
}

type testEnv struct {
	srv     *Server
	handler http.Handler
	store   *cluster.Store
	backend *storage.MemoryBackend
	cfg     *config.Config
}

func newTestEnv(t *testing.T, opts ...ServerOption) *testEnv {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Server.TempDir = filepath.Join(dir, "tmp")
	cfg.Server.MaxUploadMB = 1
	cfg.Visualize.StaticDir = filepath.Join(dir, "static")

	backend := storage.NewMemoryBackend()
	store := cluster.NewStore(backend)
	renderer, err := visualize.NewPlotRenderer(cfg.Visualize.StaticDir, nil)
	if err != nil {
		t.Fatal(err)
	}
	cat, err := catalog.New()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { cat.Close() })
	engine := match.NewEngine(store, &cfg.Match, match.WithRenderer(renderer))
	ing := ingest.NewIngester(colorSampler{}, embedding.NewMockEmbedder(48), engine, ingest.WithNameIndex(cat))

	opts = append([]ServerOption{WithGameLookup(cat)}, opts...)
	srv := NewServer(ing, cfg, nil, opts...)
	return &testEnv{srv: srv, handler: srv.Handler(), store: store, backend: backend, cfg: cfg}
}

func (e *testEnv) upload(t *testing.T, content string, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if content != "" {
		fw, err := mw.CreateFormFile("video", "clip.mp4")
		if err != nil {
			t.Fatal(err)
		}
		fw.Write([]byte(content))
	}
	for k, v := range fields {
		mw.WriteField(k, v)
	}
	mw.Close()
	r := httptest.NewRequest(http.MethodPost, "/upload/", &body)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, r)
	return w
}

func (e *testEnv) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, r)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func TestUpload_Flow(t *testing.T) {
	env := newTestEnv(t)

	w := env.upload(t, "red", map[string]string{"is_labeled": "false"})
	if w.Code != http.StatusOK {
		t.Fatalf("first unlabeled: status %d: %s", w.Code, w.Body.String())
	}
	var resp models.UploadResponse
	decode(t, w, &resp)
	if resp.Message != models.NoClustersMessage {
		t.Errorf("message = %q, want %q", resp.Message, models.NoClustersMessage)
	}

	w = env.upload(t, "red", map[string]string{"is_labeled": "true", "game_name": "Chess"})
	if w.Code != http.StatusOK {
		t.Fatalf("labeled: status %d: %s", w.Code, w.Body.String())
	}
	resp = models.UploadResponse{}
	decode(t, w, &resp)
	if resp.Message != "New game 'Chess' added to clusters." {
		t.Errorf("message = %q", resp.Message)
	}

	w = env.upload(t, "red", map[string]string{"is_labeled": "false"})
	resp = models.UploadResponse{}
	decode(t, w, &resp)
	if resp.Game != "Chess" {
		t.Errorf("matched game = %q, want Chess", resp.Game)
	}

	w = env.upload(t, "blue", map[string]string{"is_labeled": "false"})
	resp = models.UploadResponse{}
	decode(t, w, &resp)
	if resp.Game != models.NoMatchGame {
		t.Errorf("unmatched game = %q, want %q", resp.Game, models.NoMatchGame)
	}

	w = env.get(t, "/stats")
	var stats map[string]int
	decode(t, w, &stats)
	if stats["Chess"] != 6 || stats[models.NoMatchGame] != 3 {
		t.Errorf("stats = %v", stats)
	}
}

func TestUpload_SimilarGames(t *testing.T) {
	env := newTestEnv(t)
	env.upload(t, "red", map[string]string{"is_labeled": "true", "game_name": "Chess"})

	w := env.upload(t, "green", map[string]string{"is_labeled": "true", "game_name": "chess"})
	var resp models.UploadResponse
	decode(t, w, &resp)
	if len(resp.SimilarGames) != 1 || resp.SimilarGames[0] != "Chess" {
		t.Errorf("similar_games = %v, want [Chess]", resp.SimilarGames)
	}
}

func TestUpload_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		fields  map[string]string
		status  int
	}{
		{"labeled without name", "red", map[string]string{"is_labeled": "true"}, http.StatusBadRequest},
		{"blank name", "red", map[string]string{"is_labeled": "true", "game_name": "   "}, http.StatusBadRequest},
		{"no frames", "garbage", map[string]string{"is_labeled": "false"}, http.StatusBadRequest},
		{"missing file", "", map[string]string{"is_labeled": "false"}, http.StatusBadRequest},
		{"bad flag", "red", map[string]string{"is_labeled": "maybe"}, http.StatusBadRequest},
		{"missing flag", "red", map[string]string{}, http.StatusBadRequest},
		{"too large", strings.Repeat("x", 2<<20), map[string]string{"is_labeled": "false"}, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			w := env.upload(t, tt.content, tt.fields)
			if w.Code != tt.status {
				t.Errorf("status = %d, want %d: %s", w.Code, tt.status, w.Body.String())
			}
			var body map[string]string
			decode(t, w, &body)
			if body["error"] == "" {
				t.Error("expected error message")
			}
			if env.store.TotalVectors() != 0 {
				t.Error("failed upload must not mutate the store")
			}
		})
	}
}

func TestUpload_PersistenceFailure(t *testing.T) {
	env := newTestEnv(t)
	env.backend.SetSaveErr(os.ErrPermission)
	w := env.upload(t, "red", map[string]string{"is_labeled": "true", "game_name": "Chess"})
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	if env.store.Has("Chess") {
		t.Error("unpersisted cluster should not be visible")
	}
}

func TestUpload_RemovesTempFile(t *testing.T) {
	env := newTestEnv(t)
	env.upload(t, "red", map[string]string{"is_labeled": "true", "game_name": "Chess"})
	entries, err := os.ReadDir(env.cfg.Server.TempDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("temp dir not cleaned: %d entries", len(entries))
	}
}

func TestVisualizeClusters(t *testing.T) {
	env := newTestEnv(t)
	w := env.get(t, "/visualize_clusters")
	if w.Code != http.StatusNotFound {
		t.Fatalf("empty store: status %d, want 404", w.Code)
	}
	var errBody map[string]string
	decode(t, w, &errBody)
	if errBody["error"] != "No clusters available" {
		t.Errorf("error = %q", errBody["error"])
	}

	env.upload(t, "red", map[string]string{"is_labeled": "true", "game_name": "Chess"})
	env.upload(t, "blue", map[string]string{"is_labeled": "true", "game_name": "Tetris"})
	w = env.get(t, "/visualize_clusters")
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	var body map[string]string
	decode(t, w, &body)
	url := body["image_url"]
	if !strings.HasPrefix(url, "static/cluster_visualization_") {
		t.Fatalf("image_url = %q", url)
	}

	img := env.get(t, "/"+url)
	if img.Code != http.StatusOK {
		t.Errorf("static artifact: status %d", img.Code)
	}
	if ct := img.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("content type = %q", ct)
	}
}

func TestVisualizeClusters_SingleVector(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.store.AddToCluster("Chess", []models.FeatureVector{{1, 0, 0}}); err != nil {
		t.Fatal(err)
	}
	w := env.get(t, "/visualize_clusters")
	if w.Code != http.StatusNotFound {
		t.Errorf("one vector: status %d, want 404", w.Code)
	}
}

func TestGames(t *testing.T) {
	env := newTestEnv(t)
	env.upload(t, "red", map[string]string{"is_labeled": "true", "game_name": "Chess"})
	env.upload(t, "blue", map[string]string{"is_labeled": "true", "game_name": "Tetris"})

	var body struct {
		Games []string `json:"games"`
	}
	decode(t, env.get(t, "/games?q=chss"), &body)
	if len(body.Games) == 0 || body.Games[0] != "Chess" {
		t.Errorf("games = %v, want Chess first", body.Games)
	}

	body.Games = nil
	decode(t, env.get(t, "/games"), &body)
	if len(body.Games) != 2 {
		t.Errorf("all games = %v", body.Games)
	}

	if w := env.get(t, "/games?limit=0"); w.Code != http.StatusBadRequest {
		t.Errorf("limit=0: status %d", w.Code)
	}
}

func TestHealthAndStatus(t *testing.T) {
	env := newTestEnv(t)
	if w := env.get(t, "/health"); w.Code != http.StatusOK {
		t.Errorf("health: status %d", w.Code)
	}
	env.upload(t, "red", map[string]string{"is_labeled": "true", "game_name": "Chess"})

	var status struct {
		Clusters   int                    `json:"clusters"`
		Vectors    int                    `json:"vectors"`
		Dimensions int                    `json:"dimensions"`
		Backend    string                 `json:"backend"`
		Threshold  float64                `json:"threshold"`
		Config     map[string]interface{} `json:"config"`
	}
	decode(t, env.get(t, "/api/v1/status"), &status)
	if status.Clusters != 1 || status.Vectors != 3 || status.Dimensions != 48 {
		t.Errorf("status = %+v", status)
	}
	if status.Backend != "memory" || status.Threshold != 0.7 {
		t.Errorf("backend/threshold = %q/%v", status.Backend, status.Threshold)
	}
	if status.Config["unmatched_policy"] != "shared" {
		t.Errorf("config = %v", status.Config)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.New()
	env := newTestEnv(t, WithMetrics(m))
	env.get(t, "/health")
	w := env.get(t, "/metrics")
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `gamesense_http_requests_total{method="GET",route="/health",status="200"} 1`) {
		t.Errorf("request counter missing from:\n%s", w.Body.String())
	}
}

func TestMetricsEndpoint_Disabled(t *testing.T) {
	env := newTestEnv(t)
	if w := env.get(t, "/metrics"); w.Code != http.StatusNotFound {
		t.Errorf("status %d, want 404", w.Code)
	}
}

func TestUploadRateLimit(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.Server.UploadRatePerMinute = 1
	h := env.srv.Handler()

	send := func() int {
		var body bytes.Buffer
		mw := multipart.NewWriter(&body)
		fw, _ := mw.CreateFormFile("video", "clip.mp4")
		fw.Write([]byte("red"))
		mw.WriteField("is_labeled", "true")
		mw.WriteField("game_name", "Chess")
		mw.Close()
		r := httptest.NewRequest(http.MethodPost, "/upload", &body)
		r.Header.Set("Content-Type", mw.FormDataContentType())
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		return w.Code
	}
	if code := send(); code != http.StatusOK {
		t.Fatalf("first upload: status %d", code)
	}
	if code := send(); code != http.StatusTooManyRequests {
		t.Errorf("second upload: status %d, want 429", code)
	}
}

func TestCORS(t *testing.T) {
	env := newTestEnv(t)
	r := httptest.NewRequest(http.MethodOptions, "/upload/", nil)
	r.Header.Set("Origin", "http://localhost:3000")
	r.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, r)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want *", got)
	}
}

func TestHandleWatchDirectoriesList(t *testing.T) {
	mock := &mockWatchService{dirs: []string{"/tmp/clips"}}
	env := newTestEnv(t, WithWatch(mock, ""))

	w := env.get(t, "/api/v1/watch/directories")
	if w.Code != http.StatusOK {
		t.Errorf("status: got %d", w.Code)
	}
	var out struct {
		Directories []string `json:"directories"`
	}
	decode(t, w, &out)
	if len(out.Directories) != 1 || out.Directories[0] != "/tmp/clips" {
		t.Errorf("directories: got %v", out.Directories)
	}
}

func TestHandleWatchDirectoriesList_NotEnabled(t *testing.T) {
	env := newTestEnv(t)
	if w := env.get(t, "/api/v1/watch/directories"); w.Code != http.StatusNotImplemented {
		t.Errorf("status: got %d, want 501", w.Code)
	}
}

func TestHandleWatchDirectoriesAddRemove(t *testing.T) {
	dir := t.TempDir()
	inbox := filepath.Join(dir, "inbox")
	if err := os.MkdirAll(inbox, 0755); err != nil {
		t.Fatal(err)
	}
	configPath := filepath.Join(dir, "config.yaml")
	mock := &mockWatchService{}
	env := newTestEnv(t, WithWatch(mock, configPath))

	body, _ := json.Marshal(map[string]interface{}{"path": inbox, "sync": false})
	r := httptest.NewRequest(http.MethodPost, "/api/v1/watch/directories", bytes.NewReader(body))
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, r)
	if w.Code != http.StatusCreated {
		t.Fatalf("add: status %d: %s", w.Code, w.Body.String())
	}
	if len(mock.dirs) != 1 || mock.dirs[0] != inbox {
		t.Errorf("dirs after add: %v", mock.dirs)
	}
	saved, err := config.Load(configPath)
	if err != nil {
		t.Fatal(err)
	}
	if len(saved.Watch.Directories) != 1 || saved.Watch.Directories[0] != inbox {
		t.Errorf("persisted directories: %v", saved.Watch.Directories)
	}

	r = httptest.NewRequest(http.MethodDelete, "/api/v1/watch/directories?path="+inbox, nil)
	w = httptest.NewRecorder()
	env.handler.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("remove: status %d", w.Code)
	}
	if len(mock.dirs) != 0 {
		t.Errorf("dirs after remove: %v", mock.dirs)
	}
}

func TestHandleWatchDirectoriesAdd_Errors(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "file.txt")
	if err := os.WriteFile(file, []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"invalid json", "{", http.StatusBadRequest},
		{"empty path", `{"path":""}`, http.StatusBadRequest},
		{"missing dir", `{"path":"` + filepath.Join(dir, "nope") + `"}`, http.StatusNotFound},
		{"not a dir", `{"path":"` + file + `"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, WithWatch(&mockWatchService{}, ""))
			r := httptest.NewRequest(http.MethodPost, "/api/v1/watch/directories", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			env.handler.ServeHTTP(w, r)
			if w.Code != tt.status {
				t.Errorf("status = %d, want %d", w.Code, tt.status)
			}
		})
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{models.ErrInvalidInput, http.StatusBadRequest},
		{sampler.ErrNoFrames, http.StatusBadRequest},
		{models.ErrPersistence, http.StatusInternalServerError},
		{os.ErrPermission, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
