package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"

	"downloader/internal/catalog"
	"downloader/internal/config"
	"downloader/internal/core/download"
	"downloader/internal/logger"
	rds "downloader/internal/platform/redis"
	"downloader/internal/platform/ytdlp"
	"downloader/internal/server"
)

func main() {
	cfg := config.Load()
	log.Printf("[downloader] starting at %s (env=%s)\n", cfg.HTTPAddr, cfg.AppEnv)

	logr := logger.New("main")

	if err := os.MkdirAll(filepath.Dir(cfg.StorePath), 0o755); err != nil {
		log.Fatalf("store dir: %v", err)
	}
	store, err := catalog.Open(cfg.StorePath)
	if err != nil {
		log.Fatalf("open catalog: %v", err)
	}
	defer store.Close()

	// Redis is an optional probe cache; the service runs without it.
	var redisSvc *rds.Service
	if cfg.RedisAddr != "" {
		redisSvc, err = rds.New(rds.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err != nil {
			logr.LogWarnf("redis unavailable, probe cache disabled: %v", err)
		} else {
			defer redisSvc.Close()
		}
	}

	fetcher := ytdlp.New(cfg.YtDlpBin)
	if err := fetcher.CheckBinary(); err != nil {
		logr.LogWarnf("%v; downloads will fail until it is installed", err)
	}

	sched := download.NewScheduler(store, fetcher, cfg.PoolSize, cfg.DefaultOutputDir)
	if err := sched.Start(context.Background()); err != nil {
		log.Fatalf("start scheduler: %v", err)
	}

	svc := download.NewService(sched, store, fetcher, redisSvc)

	app := fiber.New(fiber.Config{
		AppName: "Media Downloader",
		JSONEncoder: func(v interface{}) ([]byte, error) {
			var buf bytes.Buffer
			encoder := json.NewEncoder(&buf)
			encoder.SetEscapeHTML(false)
			if err := encoder.Encode(v); err != nil {
				return nil, err
			}
			return buf.Bytes(), nil
		},
	})
	// Serve completed downloads directly.
	app.Static("/files", cfg.DefaultOutputDir)

	healthHandler := server.RegisterRoutes(app, server.Dependencies{
		Download: svc,
		Store:    store,
		Redis:    redisSvc,
	})
	healthHandler.SetReady()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-shutdown
		logr.Info().Msg("Shutting down...")
		_ = app.ShutdownWithTimeout(5 * time.Second)
		sched.Stop()
	}()

	if err := app.Listen(cfg.HTTPAddr); err != nil {
		log.Fatalf("server listen: %v", err)
	}
}
