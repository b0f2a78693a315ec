package main

import (
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/territorios-app/territorios/internal/config"
	"github.com/territorios-app/territorios/internal/processor"
	"github.com/territorios-app/territorios/internal/queue"
	"github.com/territorios-app/territorios/internal/repository"
	"github.com/territorios-app/territorios/internal/services"
	"github.com/territorios-app/territorios/pkg/logger"
	"github.com/territorios-app/territorios/pkg/pg"
	"github.com/territorios-app/territorios/pkg/prom"
	"github.com/territorios-app/territorios/pkg/redis"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {

	err := config.Load(argContainsEnvPath())
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return
	}
	cfg := config.Get()
	if _, err := logger.Configure(cfg.AppName+"-processor", cfg.LogEnv, cfg.LogLevel); err != nil {
		logger.Error("invalid log settings", "error", err)
		return
	}
	logger.Info("starting import processor", "version", version, "commit", commit, "date", date)

	db, err := pg.CreateReadWrite(cfg.PostgresRead(), cfg.PostgresWrite(), cfg.AppEnv == "dev")
	if err != nil {
		logger.Error("failed connecting to the database", "error", err)
		return
	}

	redisAdap, err := redis.NewRedisAdapter("default", cfg.RedisUniversalKeyPrefix, &redis.Options{
		Addrs:      []string{cfg.RedisAddr},
		ClientName: cfg.AppName + "-processor",
		DB:         cfg.RedisDatabase,
		Username:   cfg.RedisUsername,
		Password:   cfg.RedisPassword,
	})
	if err != nil {
		logger.Error("failed connecting to redis", "error", err)
		return
	}

	// the job store publishes through its queue; the processor never does
	publisher, err := queue.NewQueue(redisAdap, cfg.Queue())
	if err != nil {
		logger.Error("failed creating import queue", "error", err)
		return
	}
	jobStore := processor.NewJobStore(redisAdap, publisher, cfg.ImportJobTTL)

	importService := services.NewImportService(repository.NewPhoneRepository(db))
	idempotencyService := processor.NewIdempotencyService(redisAdap, processor.DefaultIdempotencyConfig())

	service := processor.NewProcessorService(redisAdap, processor.Config{
		Queue:             cfg.Queue(),
		Consumers:         cfg.ProcessorConsumers,
		Workers:           cfg.ProcessorWorkers,
		ProcessingTimeout: cfg.ProcessorTimeout,
	})
	service.RegisterProcessor(processor.NewImportProcessor(importService, jobStore, idempotencyService))

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	if err = prom.Create(hostname, cfg.AppEnv, cfg.PromNamespace); err != nil {
		logger.Error("failed to create prometheus metrics", "error", err)
		return
	}
	go prom.ListenAndServer(cfg.PromListenAddr, cfg.PromMetricsPath)

	if err = service.Start(); err != nil {
		logger.Error("failed to start processor", "error", err)
		return
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	<-c
	service.Stop()
	logger.Sync()
}

func argContainsEnvPath() string {
	for _, v := range os.Args {
		if strings.HasPrefix(v, "--env=") {
			path := strings.TrimPrefix(v, "--env=")
			if _, err := os.Stat(path); err != nil {
				logger.Error("failed to open the passed env file", "error", err)
				return ""
			}
			return path
		}
	}
	return ""
}
