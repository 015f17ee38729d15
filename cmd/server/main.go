package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/business-manager/internal/config"
	"github.com/iliyamo/business-manager/internal/database"
	"github.com/iliyamo/business-manager/internal/handler"
	"github.com/iliyamo/business-manager/internal/jobs"
	"github.com/iliyamo/business-manager/internal/metrics"
	"github.com/iliyamo/business-manager/internal/middleware"
	"github.com/iliyamo/business-manager/internal/queue"
	"github.com/iliyamo/business-manager/internal/repository"
	"github.com/iliyamo/business-manager/internal/router"
	"github.com/iliyamo/business-manager/internal/service"
	"github.com/iliyamo/business-manager/internal/utils"
)

func main() {
	cfg := config.Load()
	log := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(ctx, database.Options{
		User:     cfg.DBUser,
		Password: cfg.DBPass,
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		Name:     cfg.DBName,
	})
	if err != nil {
		log.WithError(err).Fatal("database connection failed")
	}
	defer db.Close()
	if err := database.EnsureSchema(ctx, db); err != nil {
		log.WithError(err).Fatal("schema setup failed")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	users := repository.NewUserRepo(db)
	tokens := repository.NewTokenRepo(db)
	codec := utils.NewTokenCodec(cfg.JWTSecret, cfg.AccessTTL)

	var events queue.Publisher = queue.LogPublisher{Log: log.WithField("component", "events")}
	if cfg.RabbitURL == "" {
		log.Warn("RABBITMQ_URL not set; auth events are only logged and reset links are not delivered")
	} else {
		amqpEvents := queue.NewAMQPPublisher(cfg.RabbitURL, log.WithField("component", "events"))
		events = amqpEvents
		go func() {
			if err := amqpEvents.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.WithError(err).Error("auth event publisher stopped")
			}
		}()
		consumer := &queue.Consumer{
			URL:    cfg.RabbitURL,
			LogDir: cfg.AuditLogDir,
			Log:    log.WithField("component", "auth-consumer"),
		}
		go func() {
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.WithError(err).Error("auth consumer stopped")
			}
		}()
	}

	svc := service.NewAuthService(users, tokens, codec, events, m, log.WithField("component", "auth"), service.Options{
		RefreshTTL: cfg.RefreshTTL,
		ResetTTL:   cfg.ResetTTL,
		BcryptCost: cfg.BcryptCost,
	})

	health := &handler.HealthHandler{
		Required: map[string]handler.Check{"mysql": db.PingContext},
	}
	rdb := config.NewRedisClient()
	if rdb != nil {
		defer rdb.Close()
		health.Optional = map[string]handler.Check{
			"redis": func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		}
	} else {
		log.Warn("redis unavailable; login throttling disabled")
	}
	throttle := middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb, log.WithField("component", "ratelimit"), m)

	sweeper := jobs.NewSweeper(tokens, m, log.WithField("component", "sweeper"))
	if err := sweeper.Start(cfg.SweepSchedule); err != nil {
		log.WithError(err).Fatal("invalid TOKEN_SWEEP_SCHEDULE")
	}

	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = handler.ErrorHandler(log)
	e.Use(echomw.RequestIDWithConfig(echomw.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(echomw.Recover())
	e.Use(middleware.RequestLogger(log.WithField("component", "http")))
	e.Use(echomw.BodyLimit("1M"))

	deps := router.Deps{
		Auth:     handler.NewAuthHandler(svc, log.WithField("component", "auth-handler")),
		Users:    handler.NewUserHandler(svc),
		Health:   health,
		Codec:    codec,
		Strategy: middleware.StrategyFor(cfg.VerifyUserInDB, users),
		Throttle: throttle,
		Metrics:  m.Handler(),
	}
	router.RegisterRoutes(e, deps)
	router.RegisterAuth(e, deps)
	router.RegisterUsers(e, deps)

	go func() {
		addr := ":" + cfg.Port
		log.WithFields(logrus.Fields{"addr": addr, "env": cfg.Env}).Info("listening")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server failed")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	sweeper.Stop(shutdownCtx)
}

func newLogger(cfg config.Config) *logrus.Entry {
	l := logrus.New()
	if cfg.IsProduction() {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		l.SetLevel(lvl)
	}
	return logrus.NewEntry(l).WithField("service", "business-manager")
}
