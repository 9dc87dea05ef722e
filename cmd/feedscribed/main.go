package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"feedscribe/internal/api"
	"feedscribe/internal/archive"
	"feedscribe/internal/feed"
	"feedscribe/internal/jobs"
	"feedscribe/internal/publish"
	"feedscribe/internal/scheduler"
	"feedscribe/internal/storage"
	"feedscribe/internal/transcribe"
)

func main() {
	// Load configuration from environment; a .env file is optional
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logrus.WithError(err).Warn("Failed to load .env file")
	}

	if os.Getenv("LOG_LEVEL") != "" {
		level, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL"))
		if err != nil {
			logrus.WithError(err).Fatal("Invalid LOG_LEVEL")
		}
		logrus.SetLevel(level)
	}

	port := envOr("PORT", "8080")
	host := envOr("HOST", "0.0.0.0")
	dbPath := envOr("DB_PATH", "feedscribe.db")
	repoRoot := envOr("PAGES_REPO", ".")
	pagesDir := envOr("PAGES_DIR", "docs")

	tickInterval := scheduler.DefaultTickInterval
	if raw := os.Getenv("TICK_INTERVAL_MINUTES"); raw != "" {
		minutes, err := strconv.Atoi(raw)
		if err != nil || minutes <= 0 {
			logrus.WithField("value", raw).Fatal("Invalid TICK_INTERVAL_MINUTES")
		}
		tickInterval = time.Duration(minutes) * time.Minute
	}

	maxConcurrent := jobs.DefaultMaxConcurrent
	if raw := os.Getenv("MAX_CONCURRENT_RUNS"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			logrus.WithField("value", raw).Fatal("Invalid MAX_CONCURRENT_RUNS")
		}
		maxConcurrent = n
	}

	// Initialize components
	store, err := storage.NewStore(dbPath)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to open database")
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			logrus.WithError(closeErr).Warn("Failed to close database")
		}
	}()

	uploader, err := archive.NewFromEnv()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize audio archive")
	}

	var archiver transcribe.Archiver
	if uploader != nil {
		archiver = uploader
		logrus.Info("Audio archive enabled")
	}

	fetcher := feed.NewFetcher()
	service := transcribe.NewService(store, archiver)

	publisher, err := publish.NewPublisher(repoRoot, pagesDir)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize publisher")
	}

	runner := jobs.NewRunner(store, fetcher, service, publisher)
	manager := jobs.NewManager(runner, store, maxConcurrent)

	// Initialize Gin router
	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	apiHandler := api.NewHandler(store, fetcher, manager, service)
	api.SetupRoutes(router, apiHandler)

	// Start the scheduler loop
	schedCtx, stopScheduler := context.WithCancel(context.Background())
	sched := scheduler.New(store, manager, tickInterval)
	schedDone := make(chan struct{})
	go func() {
		sched.Run(schedCtx)
		close(schedDone)
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%s", host, port),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logrus.WithFields(logrus.Fields{
			"host": host,
			"port": port,
		}).Info("Starting feedscribe server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("Failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.Info("Shutting down...")

	stopScheduler()
	<-schedDone

	// Give outstanding requests 30 seconds to complete
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logrus.WithError(err).Fatal("Server forced to shutdown")
	}

	logrus.Info("Server exited")
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
