package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clipsync/internal/domain"
	"clipsync/internal/downloader"
	"clipsync/internal/media"
	"clipsync/internal/playlist"
	"clipsync/internal/repository/sqlite"
	"clipsync/internal/service"
)

type fakeManager struct {
	mu        sync.Mutex
	enqueued  []int64
	cancelled []int64
	cancelErr error
	reporter  *downloader.Reporter
}

var _ downloader.Manager = (*fakeManager)(nil)

func newFakeManager() *fakeManager {
	return &fakeManager{reporter: downloader.NewReporter(nil)}
}

func (m *fakeManager) Start(context.Context) error { return nil }
func (m *fakeManager) Shutdown()                   {}
func (m *fakeManager) Resume(context.Context) error {
	return nil
}

func (m *fakeManager) Enqueue(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enqueued = append(m.enqueued, id)
	return nil
}

func (m *fakeManager) Cancel(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancelErr != nil {
		return m.cancelErr
	}
	m.cancelled = append(m.cancelled, id)
	return nil
}

func (m *fakeManager) Reporter() *downloader.Reporter { return m.reporter }

type stubResolver struct {
	info *media.Info
	err  error
}

func (s *stubResolver) Resolve(context.Context, string) (*media.Info, error) {
	return s.info, s.err
}

func (s *stubResolver) Search(context.Context, string, int) ([]media.Entry, error) {
	return []media.Entry{{URL: "https://example.com/hit", Title: "Hit"}}, nil
}

type testEnv struct {
	router  *gin.Engine
	svc     service.TaskService
	manager *fakeManager
}

func newTestEnv(t *testing.T, resolver media.Resolver) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := sqlite.Open(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	tasks := sqlite.NewTaskRepository(db)
	history := sqlite.NewHistoryRepository(db)
	require.NoError(t, tasks.Init(context.Background()))
	require.NoError(t, history.Init(context.Background()))
	svc := service.NewTaskService(tasks, history)

	if resolver == nil {
		resolver = &stubResolver{info: &media.Info{Title: "Stub", DurationSeconds: 100}}
	}
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	manager := newFakeManager()
	handler := NewHandler(svc, manager, resolver, playlist.NewExpander(resolver, svc, logger), t.TempDir())

	router := gin.New()
	handler.RegisterRoutes(router)

	return &testEnv{router: router, svc: svc, manager: manager}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateTask(t *testing.T) {
	t.Run("accepted and enqueued", func(t *testing.T) {
		env := newTestEnv(t, nil)
		rec := env.do(t, http.MethodPost, "/api/tasks", gin.H{"url": "https://example.com/v"})
		require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

		var resp TaskResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, domain.TaskStatusPending, resp.Status)
		assert.Equal(t, []int64{resp.ID}, env.manager.enqueued)
	})

	t.Run("missing url", func(t *testing.T) {
		env := newTestEnv(t, nil)
		rec := env.do(t, http.MethodPost, "/api/tasks", gin.H{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("empty url", func(t *testing.T) {
		env := newTestEnv(t, nil)
		rec := env.do(t, http.MethodPost, "/api/tasks", gin.H{"url": ""})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Empty(t, env.manager.enqueued)
	})

	t.Run("playlist url redirected to playlist endpoint", func(t *testing.T) {
		env := newTestEnv(t, nil)
		rec := env.do(t, http.MethodPost, "/api/tasks", gin.H{
			"url": "https://www.youtube.com/playlist?list=PLabc123",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "/api/playlists")
	})

	t.Run("trim timestamps", func(t *testing.T) {
		env := newTestEnv(t, nil)
		rec := env.do(t, http.MethodPost, "/api/tasks", gin.H{
			"url":        "https://example.com/v",
			"trim_start": "1:30",
			"trim_end":   "2:00",
		})
		require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

		var resp TaskResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.NotNil(t, resp.Options.Trim)
		assert.InDelta(t, 90, resp.Options.Trim.Start, 0.001)
		assert.InDelta(t, 120, resp.Options.Trim.End, 0.001)
	})

	t.Run("invalid trim timestamp", func(t *testing.T) {
		env := newTestEnv(t, nil)
		rec := env.do(t, http.MethodPost, "/api/tasks", gin.H{
			"url":        "https://example.com/v",
			"trim_start": "abc",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("inverted trim range", func(t *testing.T) {
		env := newTestEnv(t, nil)
		rec := env.do(t, http.MethodPost, "/api/tasks", gin.H{
			"url":        "https://example.com/v",
			"trim_start": "2:00",
			"trim_end":   "1:00",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Empty(t, env.manager.enqueued)
	})
}

func TestGetTask(t *testing.T) {
	env := newTestEnv(t, nil)
	created, err := env.svc.CreateTask(context.Background(), "https://example.com/v", domain.DownloadOptions{}, t.TempDir())
	require.NoError(t, err)

	rec := env.do(t, http.MethodGet, fmt.Sprintf("/api/tasks/%d", created.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp TaskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, created.ID, resp.ID)

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/tasks/999", nil).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/tasks/abc", nil).Code)
}

func TestCancelTask(t *testing.T) {
	env := newTestEnv(t, nil)
	created, err := env.svc.CreateTask(context.Background(), "https://example.com/v", domain.DownloadOptions{}, t.TempDir())
	require.NoError(t, err)

	rec := env.do(t, http.MethodPost, fmt.Sprintf("/api/tasks/%d/cancel", created.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []int64{created.ID}, env.manager.cancelled)
}

func TestDeleteTask(t *testing.T) {
	env := newTestEnv(t, nil)
	created, err := env.svc.CreateTask(context.Background(), "https://example.com/v", domain.DownloadOptions{}, t.TempDir())
	require.NoError(t, err)

	rec := env.do(t, http.MethodDelete, fmt.Sprintf("/api/tasks/%d", created.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	_, err = env.svc.GetTask(context.Background(), created.ID)
	assert.ErrorIs(t, err, domain.ErrTaskNotFound)
}

func TestCreatePlaylist(t *testing.T) {
	resolver := &stubResolver{
		info: &media.Info{
			IsPlaylist:    true,
			PlaylistTitle: "Mix",
			Entries: []media.Entry{
				{URL: "https://example.com/a", Title: "A"},
				{URL: "https://example.com/b", Title: "B"},
			},
		},
	}
	env := newTestEnv(t, resolver)

	rec := env.do(t, http.MethodPost, "/api/playlists", gin.H{"url": "https://example.com/playlist"})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp []TaskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp, 2)
	assert.Len(t, env.manager.enqueued, 2)
}

func TestQueueSnapshot(t *testing.T) {
	env := newTestEnv(t, nil)
	env.manager.reporter.TaskChanged(&domain.Task{ID: 1, Status: domain.TaskStatusRunning})

	rec := env.do(t, http.MethodGet, "/api/queue", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var snap downloader.QueueSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Len(t, snap.Tasks, 1)
	assert.Equal(t, 1, snap.Counts[domain.TaskStatusRunning])
}

func TestResolveEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/api/resolve?url=https://example.com/v", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var info media.Info
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, "Stub", info.Title)

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/resolve?url=notaurl", nil).Code)
}

func TestSearchEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/api/search?q=test", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var entries []media.Entry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "Hit", entries[0].Title)

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/search", nil).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/search?q=test&limit=0", nil).Code)
}

func TestHistoryEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)
	task := &domain.Task{Title: "Done", URL: "https://example.com/v", OutputPath: "/out/v.mp4"}
	require.NoError(t, env.svc.RecordHistory(context.Background(), task))

	rec := env.do(t, http.MethodGet, "/api/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var entries []HistoryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "Done", entries[0].Title)

	require.Equal(t, http.StatusOK, env.do(t, http.MethodDelete, "/api/history", nil).Code)

	rec = env.do(t, http.MethodGet, "/api/history", nil)
	var after []HistoryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &after))
	assert.Empty(t, after)
}
