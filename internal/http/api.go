package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"clipsync/internal/domain"
	"clipsync/internal/downloader"
	"clipsync/internal/media"
	"clipsync/internal/platform"
	"clipsync/internal/playlist"
	"clipsync/internal/service"
)

// Handler wires HTTP routes to domain services.
type Handler struct {
	tasks       service.TaskService
	manager     downloader.Manager
	resolver    media.Resolver
	expander    *playlist.Expander
	stagingRoot string
}

func NewHandler(tasks service.TaskService, manager downloader.Manager, resolver media.Resolver, expander *playlist.Expander, stagingRoot string) *Handler {
	return &Handler{
		tasks:       tasks,
		manager:     manager,
		resolver:    resolver,
		expander:    expander,
		stagingRoot: stagingRoot,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(corsMiddleware())

	api := router.Group("/api")
	{
		api.POST("/tasks", h.createTask)
		api.GET("/tasks", h.listTasks)
		api.GET("/tasks/:id", h.getTask)
		api.POST("/tasks/:id/cancel", h.cancelTask)
		api.DELETE("/tasks/:id", h.deleteTask)
		api.POST("/playlists", h.createPlaylist)
		api.GET("/queue", h.queueSnapshot)
		api.GET("/resolve", h.resolve)
		api.GET("/search", h.search)
		api.GET("/history", h.listHistory)
		api.DELETE("/history", h.clearHistory)
		api.GET("/health", func(ctx *gin.Context) {
			ctx.JSON(http.StatusOK, gin.H{"ok": "ok"})
		})
	}
}

type createTaskRequest struct {
	URL     string                 `json:"url" binding:"required"`
	Options domain.DownloadOptions `json:"options"`

	// Trim bounds as "HH:MM:SS", "MM:SS" or plain seconds. When set they
	// override Options.Trim.
	TrimStart string `json:"trim_start,omitempty"`
	TrimEnd   string `json:"trim_end,omitempty"`
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "Content-Disposition")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func (r *createTaskRequest) options() (domain.DownloadOptions, error) {
	opts := r.Options
	if r.TrimStart == "" && r.TrimEnd == "" {
		return opts, nil
	}

	start, err := domain.ParseTimestamp(r.TrimStart)
	if err != nil {
		return opts, err
	}
	end, err := domain.ParseTimestamp(r.TrimEnd)
	if err != nil {
		return opts, err
	}
	opts.Trim = &domain.TrimRange{Start: start, End: end}
	return opts, nil
}

func (h *Handler) createTask(c *gin.Context) {
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if platform.IsPlaylistURL(req.URL) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "URL is a playlist, use POST /api/playlists instead"})
		return
	}

	opts, err := req.options()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	task, err := h.tasks.CreateTask(c.Request.Context(), req.URL, opts, h.stagingRoot)
	if err != nil {
		c.JSON(statusCode(err), gin.H{"error": err.Error()})
		return
	}

	if err := h.manager.Enqueue(c.Request.Context(), task.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, taskToResponse(*task))
}

func (h *Handler) createPlaylist(c *gin.Context) {
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	opts, err := req.options()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tasks, err := h.expander.Expand(c.Request.Context(), req.URL, opts, h.stagingRoot)
	if err != nil {
		c.JSON(statusCode(err), gin.H{"error": err.Error()})
		return
	}

	resp := make([]TaskResponse, 0, len(tasks))
	for _, task := range tasks {
		if err := h.manager.Enqueue(c.Request.Context(), task.ID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		resp = append(resp, taskToResponse(*task))
	}
	c.JSON(http.StatusAccepted, resp)
}

func (h *Handler) listTasks(c *gin.Context) {
	tasks, err := h.tasks.ListTasks(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]TaskResponse, len(tasks))
	for i := range tasks {
		resp[i] = taskToResponse(tasks[i])
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) getTask(c *gin.Context) {
	id, ok := taskID(c)
	if !ok {
		return
	}

	task, err := h.tasks.GetTask(c.Request.Context(), id)
	if err != nil {
		c.JSON(statusCode(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, taskToResponse(*task))
}

func (h *Handler) cancelTask(c *gin.Context) {
	id, ok := taskID(c)
	if !ok {
		return
	}

	cancelCtx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()
	if err := h.manager.Cancel(cancelCtx, id); err != nil {
		c.JSON(statusCode(err), gin.H{"error": err.Error()})
		return
	}

	task, err := h.tasks.GetTask(c.Request.Context(), id)
	if err != nil {
		c.JSON(statusCode(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, taskToResponse(*task))
}

func (h *Handler) deleteTask(c *gin.Context) {
	id, ok := taskID(c)
	if !ok {
		return
	}

	task, err := h.tasks.GetTask(c.Request.Context(), id)
	if err != nil {
		c.JSON(statusCode(err), gin.H{"error": err.Error()})
		return
	}

	var warnings []string
	if !task.Status.Terminal() {
		cancelCtx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
		defer cancel()
		if err := h.manager.Cancel(cancelCtx, task.ID); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			warnings = append(warnings, fmt.Sprintf("cancel task: %v", err))
		}
	}

	if task.StagingDir != "" {
		if err := os.RemoveAll(task.StagingDir); err != nil && !os.IsNotExist(err) {
			warnings = append(warnings, fmt.Sprintf("remove staging dir: %v", err))
		}
	}

	if err := h.tasks.DeleteTask(c.Request.Context(), task.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.manager.Reporter().Remove(task.ID)

	resp := gin.H{"deleted": task.ID}
	if len(warnings) > 0 {
		resp["warnings"] = warnings
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) queueSnapshot(c *gin.Context) {
	c.JSON(http.StatusOK, h.manager.Reporter().Snapshot())
}

func (h *Handler) resolve(c *gin.Context) {
	url := c.Query("url")
	if !platform.IsValidURL(url) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid url"})
		return
	}

	info, err := h.resolver.Resolve(c.Request.Context(), url)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": media.FriendlyMessage(err.Error())})
		return
	}
	c.JSON(http.StatusOK, info)
}

func (h *Handler) search(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing query parameter q"})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "10"))
	if err != nil || limit <= 0 || limit > 50 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}

	entries, err := h.resolver.Search(c.Request.Context(), query, limit)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": media.FriendlyMessage(err.Error())})
		return
	}
	c.JSON(http.StatusOK, entries)
}

func (h *Handler) listHistory(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}

	entries, err := h.tasks.ListHistory(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]HistoryResponse, len(entries))
	for i := range entries {
		resp[i] = HistoryResponse{
			ID:         entries[i].ID,
			Title:      entries[i].Title,
			URL:        entries[i].URL,
			OutputPath: entries[i].OutputPath,
			CreatedAt:  entries[i].CreatedAt.Format(time.RFC3339),
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) clearHistory(c *gin.Context) {
	if err := h.tasks.ClearHistory(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cleared": true})
}

func taskID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid task id"})
		return 0, false
	}
	return id, true
}

func statusCode(err error) int {
	if errors.Is(err, domain.ErrTaskNotFound) {
		return http.StatusNotFound
	}
	var te *domain.TaskError
	if errors.As(err, &te) {
		switch te.Class {
		case domain.ClassInvalidRequest:
			return http.StatusBadRequest
		case domain.ClassResolution:
			return http.StatusBadGateway
		}
	}
	return http.StatusInternalServerError
}

type TaskResponse struct {
	ID              int64                  `json:"id"`
	URL             string                 `json:"url"`
	Title           string                 `json:"title"`
	Channel         string                 `json:"channel"`
	Status          domain.TaskStatus      `json:"status"`
	Progress        int                    `json:"progress"`
	Speed           int64                  `json:"speed"`
	ETASec          int                    `json:"eta_seconds"`
	DownloadedBytes int64                  `json:"downloaded_bytes"`
	TotalBytes      int64                  `json:"total_bytes"`
	Attempts        int                    `json:"attempts"`
	NextRetryAt     *string                `json:"next_retry_at,omitempty"`
	OutputPath      string                 `json:"output_path"`
	ErrorMessage    string                 `json:"error_message"`
	Warning         string                 `json:"warning,omitempty"`
	Options         domain.DownloadOptions `json:"options"`
	CreatedAt       string                 `json:"created_at"`
	UpdatedAt       string                 `json:"updated_at"`
	StartedAt       *string                `json:"started_at,omitempty"`
	FinishedAt      *string                `json:"finished_at,omitempty"`
}

type HistoryResponse struct {
	ID         int64  `json:"id"`
	Title      string `json:"title"`
	URL        string `json:"url"`
	OutputPath string `json:"output_path"`
	CreatedAt  string `json:"created_at"`
}

func taskToResponse(task domain.Task) TaskResponse {
	resp := TaskResponse{
		ID:              task.ID,
		URL:             task.URL,
		Title:           task.Title,
		Channel:         task.Channel,
		Status:          task.Status,
		Progress:        task.Progress,
		Speed:           task.Speed,
		ETASec:          task.ETASec,
		DownloadedBytes: task.DownloadedBytes,
		TotalBytes:      task.TotalBytes,
		Attempts:        task.Attempts,
		OutputPath:      task.OutputPath,
		ErrorMessage:    task.ErrorMessage,
		Warning:         task.Warning,
		Options:         task.Options,
		CreatedAt:       task.CreatedAt.Format(time.RFC3339),
		UpdatedAt:       task.UpdatedAt.Format(time.RFC3339),
	}
	if task.NextRetryAt != nil {
		v := task.NextRetryAt.Format(time.RFC3339)
		resp.NextRetryAt = &v
	}
	if task.StartedAt != nil {
		v := task.StartedAt.Format(time.RFC3339)
		resp.StartedAt = &v
	}
	if task.FinishedAt != nil {
		v := task.FinishedAt.Format(time.RFC3339)
		resp.FinishedAt = &v
	}
	return resp
}
