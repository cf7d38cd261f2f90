package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/example/hostcore/internal/cache"
	"github.com/example/hostcore/internal/config"
	"github.com/example/hostcore/internal/database"
	"github.com/example/hostcore/internal/handlers"
	"github.com/example/hostcore/internal/logger"
	"github.com/example/hostcore/internal/routes"
)

const shutdownTimeout = 20 * time.Second

func main() {
	cfg := config.Load()
	log := logger.ForEnv("hostcore-api", cfg.IsDevelopment())
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db := database.Connect(cfg.DatabaseURL, log, cfg.IsDevelopment())
	rdb := cache.Connect(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, log)

	svc := routes.NewServices(ctx, cfg, db, rdb, log)
	defer svc.Close()

	app := fiber.New(fiber.Config{
		AppName:      "Hostcore Backend",
		ErrorHandler: handlers.ErrorHandler(log),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	})

	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "${time} ${locals:requestid} ${status} ${method} ${path} ${latency}\n",
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	routes.Register(app, svc, routes.Options{
		JWTSecret:       cfg.JWTSecret,
		PublicRateLimit: cfg.APIRateLimitPerMinute,
		LimiterStorage:  routes.LimiterStorage(cfg),
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting server", zap.String("port", cfg.AppPort), zap.String("env", cfg.AppEnv))
		return app.Listen(":" + cfg.AppPort)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server")
		return app.ShutdownWithTimeout(shutdownTimeout)
	})

	if err := g.Wait(); err != nil {
		log.Error("server stopped with error", zap.Error(err))
	}

	if rdb != nil {
		if err := rdb.Close(); err != nil {
			log.Warn("failed to close redis", zap.Error(err))
		}
	}
	log.Info("server exited")
}
