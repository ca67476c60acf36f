package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"clipsync/internal/config"
	"clipsync/internal/downloader"
	apphttp "clipsync/internal/http"
	"clipsync/internal/media"
	"clipsync/internal/playlist"
	"clipsync/internal/repository/sqlite"
	"clipsync/internal/service"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		logger.Fatalf("open database: %v", err)
	}
	defer db.Close()

	taskRepo := sqlite.NewTaskRepository(db)
	historyRepo := sqlite.NewHistoryRepository(db)

	if err := taskRepo.Init(ctx); err != nil {
		logger.Fatalf("init task repository: %v", err)
	}
	if err := historyRepo.Init(ctx); err != nil {
		logger.Fatalf("init history repository: %v", err)
	}

	taskService := service.NewTaskService(taskRepo, historyRepo)

	ytdlpClient := media.NewYtdlpClient(logger)
	ffmpeg := media.NewFFmpeg(cfg.Media.FFmpegBin, cfg.Media.FFprobeBin, logger)
	if err := ffmpeg.Available(); err != nil {
		logger.Warnf("ffmpeg not found, trim/merge will fail: %v", err)
	}
	tagger := media.NewID3Tagger()

	reporter := downloader.NewReporter(nil)
	manager := downloader.NewManager(downloader.Config{
		StagingRoot:     cfg.Download.StagingDir,
		OutputDir:       cfg.Download.OutputDir,
		MaxConcurrent:   cfg.Download.MaxConcurrent,
		MaxAttempts:     cfg.Download.MaxAttempts,
		RetryBase:       cfg.Download.RetryBase,
		MinFreeDisk:     cfg.Download.MinFreeDisk,
		PersistInterval: 2 * time.Second,
		Logger:          logger,
	}, taskService, ytdlpClient, ytdlpClient, ffmpeg, tagger, reporter)

	if err := manager.Start(ctx); err != nil {
		logger.Fatalf("start manager: %v", err)
	}
	if err := manager.Resume(ctx); err != nil {
		logger.Warnf("resume tasks: %v", err)
	}

	expander := playlist.NewExpander(ytdlpClient, taskService, logger)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	handler := apphttp.NewHandler(
		taskService,
		manager,
		ytdlpClient,
		expander,
		cfg.Download.StagingDir,
	)
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: router,
	}

	go func() {
		logger.Infof("listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("http shutdown: %v", err)
	}
	manager.Shutdown()

	logger.Info("bye")
}
