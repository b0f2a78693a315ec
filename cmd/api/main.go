package main

import (
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/territorios-app/territorios/internal/archive"
	"github.com/territorios-app/territorios/internal/auth"
	"github.com/territorios-app/territorios/internal/config"
	gateway "github.com/territorios-app/territorios/internal/gateways"
	"github.com/territorios-app/territorios/internal/handlers"
	"github.com/territorios-app/territorios/internal/jobs"
	"github.com/territorios-app/territorios/internal/processor"
	"github.com/territorios-app/territorios/internal/queue"
	"github.com/territorios-app/territorios/internal/repository"
	"github.com/territorios-app/territorios/internal/services"
	xhttp "github.com/territorios-app/territorios/pkg/http"
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
	if _, err := logger.Configure(cfg.AppName+"-api", cfg.LogEnv, cfg.LogLevel); err != nil {
		logger.Error("invalid log settings", "error", err)
		return
	}
	logger.Info("starting api", "version", version, "commit", commit, "date", date)

	s := xhttp.NewServer(xhttp.DefaultServerOption.WithTimeouts(
		cfg.HttpServerReadTimeout, cfg.HttpServerWriteTimeout,
		cfg.HttpServerReadBufferSize, cfg.HttpServerWriteBufferSize,
	))
	s.Use(xhttp.RecoverMiddleware)
	s.Use(xhttp.RequestIDMiddleware)
	s.Use(xhttp.RequestLoggerMiddleware)
	s.Use(xhttp.CORSMiddleware(cfg.HttpCorsOrigin))
	s.Use(xhttp.CompressMiddleware(6))
	s.Use(xhttp.TimeoutMiddleware(cfg.HttpRequestTimeout))

	db, err := pg.CreateReadWrite(cfg.PostgresRead(), cfg.PostgresWrite(), cfg.AppEnv == "dev")
	if err != nil {
		logger.Error("failed connecting to the database", "error", err)
		return
	}

	redisAdap, err := redis.NewRedisAdapter("default", cfg.RedisUniversalKeyPrefix, &redis.Options{
		Addrs:      []string{cfg.RedisAddr},
		ClientName: cfg.AppName + "-api",
		DB:         cfg.RedisDatabase,
		Username:   cfg.RedisUsername,
		Password:   cfg.RedisPassword,
	})
	if err != nil {
		logger.Error("failed connecting to redis", "error", err)
		return
	}

	importQueue, err := queue.NewQueue(redisAdap, cfg.Queue())
	if err != nil {
		logger.Error("failed creating import queue", "error", err)
		return
	}

	identity, err := gateway.NewClient(&gateway.Config{
		Providers:               cfg.IdentityProviders(),
		Timeout:                 cfg.IdentityTimeout,
		MaxRetries:              2,
		RetryDelay:              100 * time.Millisecond,
		MaxConns:                100,
		HealthCheckInterval:     cfg.IdentityHealthCheck,
		CircuitBreakerThreshold: 5,
		CircuitBreakerTimeout:   30 * time.Second,
	})
	if err != nil {
		logger.Error("failed to create identity client", "error", err)
		return
	}
	defer identity.Close()

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	if err = prom.Create(hostname, cfg.AppEnv, cfg.PromNamespace); err != nil {
		logger.Error("failed to create prometheus metrics", "error", err)
		return
	}
	go prom.ListenAndServer(cfg.PromListenAddr, cfg.PromMetricsPath)

	phoneRepo := repository.NewPhoneRepository(db)
	territoryRepo := repository.NewTerritoryRepository(db)
	userRepo := repository.NewUserRepository(db)

	// services
	phoneOpts := []services.PhoneServiceOption{}
	if cfg.PhonePoolLock {
		phoneOpts = append(phoneOpts, services.WithLocker(redis.NewLocker(redisAdap, "lock:")))
	}
	if cfg.S3Bucket != "" {
		exports, err := archive.NewS3Archive(archive.S3Config{
			Endpoint:  cfg.S3Endpoint,
			Region:    cfg.S3Region,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			PathStyle: cfg.S3PathStyle,
		})
		if err != nil {
			logger.Error("failed to create export archive", "error", err)
			return
		}
		phoneOpts = append(phoneOpts, services.WithExportArchive(exports))
	}
	phoneService := services.NewPhoneService(phoneRepo, services.PhoneServiceConfig{
		Cooldown:   cfg.PhoneCooldown,
		BatchSize:  cfg.PhoneBatchSize,
		ExportSize: cfg.PhoneExportSize,
		LockTTL:    cfg.PhoneLockTTL,
	}, phoneOpts...)
	importService := services.NewImportService(phoneRepo)
	territoryService := services.NewTerritoryService(territoryRepo)
	userService := services.NewUserService(userRepo, cfg.SuperAdmin())
	jobStore := processor.NewJobStore(redisAdap, importQueue, cfg.ImportJobTTL)

	healthService := services.NewHealthService(2 * time.Second)
	healthService.Register("database", db)
	healthService.Register("redis", redisAdap)
	healthService.Register("identity", identity)

	issuer := auth.NewIssuer(cfg.JwtSecret, cfg.JwtIssuer, cfg.JwtTTL)
	authenticator := handlers.NewAuthenticator(issuer)

	// v1 handlers
	g := s.Router.Group(cfg.HttpBaseRequestUrl)
	handlers.RegisterHealthRoutes(g, handlers.NewHealthHandler(healthService))
	handlers.RegisterAuthRoutes(g, handlers.NewAuthHandler(identity, userService, issuer))
	handlers.RegisterPhoneRoutes(g, handlers.NewPhoneHandler(phoneService, importService), authenticator)
	handlers.RegisterImportJobRoutes(g, handlers.NewImportJobHandler(jobStore), authenticator)
	handlers.RegisterTerritoryRoutes(g, handlers.NewTerritoryHandler(territoryService), authenticator)
	handlers.RegisterUserRoutes(g, handlers.NewUserHandler(userService), authenticator)

	scheduler := jobs.NewScheduler(phoneService, cfg.PoolStatsCron)
	if err = scheduler.Start(); err != nil {
		logger.Error("failed to start scheduler", "error", err)
		return
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		var err = s.ListenAndServe(cfg.HttpListenAddr)
		if err != nil {
			logger.Error("error in running http-server", "error", err)
		}
	}()

	<-c
	scheduler.Stop()
	s.Shutdown()
	_ = importQueue.Stop(5 * time.Second)
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
