package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/hibiken/asynq"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron"

	config "github.com/Matheus2505060/multpost-ai/configs"
	"github.com/Matheus2505060/multpost-ai/internal/adapter"
	"github.com/Matheus2505060/multpost-ai/internal/api/handlers"
	"github.com/Matheus2505060/multpost-ai/internal/api/middleware"
	job "github.com/Matheus2505060/multpost-ai/internal/jobs"
	"github.com/Matheus2505060/multpost-ai/internal/queue"
	"github.com/Matheus2505060/multpost-ai/internal/repository"
	"github.com/Matheus2505060/multpost-ai/internal/service"
	"github.com/Matheus2505060/multpost-ai/internal/worker"
	"github.com/Matheus2505060/multpost-ai/pkg/logger"
)

func main() {
	envErr := godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		fatal("invalid configuration", "error", err)
	}
	logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, File: cfg.LogFile})
	if envErr != nil {
		slog.Warn("no .env file loaded", "error", envErr)
	}

	if len(cfg.SecretKey) != 32 {
		fatal("SECRET_KEY must be exactly 32 bytes")
	}

	db, err := sqlx.Connect("postgres", cfg.PostgresURI)
	if err != nil {
		fatal("failed to connect to database", "error", err)
	}
	defer closeDB(db)

	jobRepo := repository.NewJobRepository(db)
	connectionRepo := repository.NewConnectionRepository(db)
	uploadRepo := repository.NewUploadRepository(db)
	logRepo := repository.NewLogRepository(db)

	var media service.MediaStore
	var stager adapter.Stager
	if cfg.R2.Enabled() {
		r2Service, err := service.NewR2Service(context.Background(), cfg.R2)
		if err != nil {
			fatal("failed to configure R2", "error", err)
		}
		if err := r2Service.ExpireStaging(context.Background()); err != nil {
			slog.Warn("unable to install the staging lifecycle rule, staged videos must be cleaned up manually", "error", err)
		}
		media = r2Service
		stager = r2Service
	} else {
		slog.Warn("R2 is not configured, reading media from disk; Instagram uploads will fail", "dir", cfg.MediaDir)
		fsStore, err := service.NewFSMediaStore(cfg.MediaDir)
		if err != nil {
			fatal("failed to prepare media directory", "dir", cfg.MediaDir, "error", err)
		}
		media = fsStore
	}

	factory := adapter.NewFactory(adapter.Config{
		TiktokClientKey:       cfg.TiktokClientKey,
		TiktokClientSecret:    cfg.TiktokClientSecret,
		InstagramClientSecret: cfg.InstagramClientSecret,
		GoogleClientID:        cfg.GoogleClientID,
		GoogleClientSecret:    cfg.GoogleClientSecret,
		Sandbox:               cfg.Sandbox,
		CallTimeout:           cfg.CallTimeout,
		RatePerSecond:         cfg.PlatformRatePerSec,
	}, stager)

	events := service.NewEventBus(0,
		service.NewLogStoreObserver(logRepo),
		service.NewMetricsObserver(prometheus.DefaultRegisterer),
	)
	events.Start()

	publisher := service.NewPublisherService(service.PublisherConfig{
		SecretKey:   []byte(cfg.SecretKey),
		MaxAttempts: cfg.MaxAttempts,
		JobLease:    cfg.JobLease,
	}, jobRepo, connectionRepo, uploadRepo, media, factory, events)

	w := worker.New(publisher, worker.Config{
		Interval:   cfg.Worker.Interval,
		BatchSize:  cfg.Worker.BatchSize,
		BatchPause: cfg.Worker.BatchPause,
	})
	w.Start()

	// cron jobs
	refreshTokenJob := job.NewTokenRefreshJob(connectionRepo, publisher)
	c := cron.New()
	if err := c.AddFunc("@every 00h10m00s", refreshTokenJob.RefreshTokens); err != nil {
		fatal("failed to schedule token refresh", "error", err)
	}
	c.Start()

	// queue
	var enqueuer handlers.JobEnqueuer
	var asynqServer *asynq.Server
	if cfg.RedisURI != "" {
		redisConn := asynq.RedisClientOpt{Addr: cfg.RedisURI}
		client := asynq.NewClient(redisConn)
		defer client.Close()

		q := queue.NewQueue(publisher, client)
		enqueuer = q

		asynqServer = asynq.NewServer(redisConn, queue.ServerConfig(cfg.Worker.BatchSize))
		mux := asynq.NewServeMux()
		q.Register(mux)

		go func() {
			slog.Info("starting the asynq server")
			if err := asynqServer.Run(mux); err != nil {
				slog.Error("asynq server stopped", "error", err)
			}
		}()
	} else {
		slog.Info("REDIS_URI is not set, scheduled jobs rely on the polling worker only")
	}

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Minute,
		WriteTimeout: time.Minute,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			slog.Error("request failed", "path", c.Path(), "error", err)
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOriginsFunc: func(origin string) bool {
			return true
		},
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowCredentials: true,
		MaxAge:           3600,
	}))

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	authMiddleware := middleware.NewAuthMiddleware(*cfg)

	api := app.Group("/api")
	api.Use(authMiddleware.AuthMiddleware())

	jobs := handlers.NewJobHandler(publisher, uploadRepo, enqueuer)
	api.Post("/jobs/validate", jobs.ValidateJobs)
	api.Post("/jobs", jobs.CreateJobs)
	api.Get("/jobs", jobs.ListJobs)
	api.Get("/jobs/:id", jobs.GetJob)
	api.Get("/jobs/:id/status", jobs.GetJobStatus)
	api.Post("/jobs/:id/cancel", jobs.CancelJob)

	workerStatus := handlers.NewWorkerHandler(w)
	api.Get("/worker/status", workerStatus.GetStatus)

	go func() {
		if err := app.Listen(cfg.HTTPAddr); err != nil {
			fatal("failed to start server", "error", err)
		}
	}()
	slog.Info("server is running", "addr", cfg.HTTPAddr)

	gracefulShutdown(app, w, c, asynqServer, events)
}

func fatal(msg string, args ...any) {
	slog.Error(msg, args...)
	os.Exit(1)
}

func closeDB(db *sqlx.DB) {
	fmt.Fprint(os.Stdout, "Closing database connection... ")
	if err := db.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to close database: %v", err)
		return
	}
	fmt.Fprintln(os.Stdout, "Done")
}

func gracefulShutdown(app *fiber.App, w *worker.Worker, c *cron.Cron, asynqServer *asynq.Server, events *service.EventBus) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	<-quit
	slog.Info("shutting down server")

	if err := app.Shutdown(); err != nil {
		slog.Error("failed to shut down server", "error", err)
	}

	c.Stop()
	if asynqServer != nil {
		asynqServer.Shutdown()
	}

	w.Stop()
	select {
	case <-w.Done():
	case <-time.After(2 * time.Minute):
		slog.Warn("worker did not finish in time")
	}

	events.Close()
	slog.Info("server shutdown complete")
}
