package main // Entry point package

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/poster-tracker/internal/config"
	"github.com/iliyamo/poster-tracker/internal/database"
	"github.com/iliyamo/poster-tracker/internal/handler"
	"github.com/iliyamo/poster-tracker/internal/middleware"
	"github.com/iliyamo/poster-tracker/internal/queue"
	"github.com/iliyamo/poster-tracker/internal/repository"
	"github.com/iliyamo/poster-tracker/internal/router"
	"github.com/iliyamo/poster-tracker/internal/service"
	"github.com/iliyamo/poster-tracker/internal/storage"
)

func main() {
	log := logrus.New()

	cfg, err := config.Load() // Load environment config
	if err != nil {
		log.WithError(err).Fatal("config")
	}
	configureLogger(log, cfg)

	db, err := database.Open(context.Background(), cfg.Database())
	if err != nil {
		log.WithError(err).Fatal("database connect")
	}
	defer db.Close()

	if cfg.DBAutoMigrate {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := database.Migrate(ctx, db)
		cancel()
		if err != nil {
			log.WithError(err).Fatal("database migrate")
		}
	}

	images, err := storage.NewLocalStore(cfg.ImageDir, cfg.ImageBaseURL)
	if err != nil {
		log.WithError(err).Fatal("image store")
	}

	var events service.EventPublisher = queue.NopPublisher{}
	if cfg.EventsEnabled {
		events = queue.NewPublisher(cfg.RabbitURL)
	}

	users := repository.NewUserRepo(db)
	engine := service.NewEngine(service.Deps{
		Positions:        repository.NewPositionRepo(db),
		Posters:          repository.NewPosterRepo(db),
		Users:            users,
		Responsibilities: repository.NewResponsibilityRepo(db),
		Tx:               service.NewCoordinator(db),
		Images:           images,
		Events:           events,
		Log:              log.WithField("component", "engine"),
	})

	rdb := config.NewRedisClient(cfg.Redis)
	if rdb == nil {
		log.Warn("redis unavailable; caching and rate limiting disabled")
	} else {
		defer rdb.Close()
	}

	e := echo.New() // Create Echo instance
	e.HideBanner = true
	e.HTTPErrorHandler = handler.ErrorHandler
	e.Validator = handler.NewValidator()
	e.Use(middleware.RequestLogger(log))
	e.Use(echomw.Recover())
	// base64 inflates images by a third; leave room for the JSON around it.
	e.Use(echomw.BodyLimit(bodyLimit(cfg.MaxImageBytes)))

	router.RegisterRoutes(e, db)
	router.RegisterImages(e, cfg.ImageBaseURL, cfg.ImageDir)
	router.RegisterAuth(e, handler.NewAuthHandler(users, cfg.JWTSecret, cfg.AccessTTLMin), cfg.JWTSecret)
	router.RegisterPositions(e,
		handler.NewPositionHandler(engine, images, cfg.RequestTimeout, int(cfg.MaxImageBytes)),
		router.PositionOptions{
			JWTSecret: cfg.JWTSecret,
			Redis:     rdb,
			Cache:     cfg.Cache,
			RateLimit: cfg.RateLimit,
		})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.AuditEnabled {
		consumer := &queue.AuditConsumer{
			URL:  cfg.RabbitURL,
			Path: cfg.AuditLogPath,
			Log:  log.WithField("component", "audit-consumer"),
		}
		go func() {
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.WithError(err).Error("audit consumer stopped")
			}
		}()
	}

	addr := ":" + cfg.Port // Address string with port
	go func() {
		log.WithFields(logrus.Fields{"addr": addr, "env": cfg.Env}).Info("listening")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("graceful shutdown failed")
	}
}

// configureLogger applies LOG_LEVEL and LOG_FORMAT.  An unknown level
// falls back to info.
func configureLogger(log *logrus.Logger, cfg config.Config) {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.WithField("level", cfg.LogLevel).Warn("unknown LOG_LEVEL; using info")
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	if cfg.LogFormat == "text" {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		return
	}
	log.SetFormatter(&logrus.JSONFormatter{})
}

// bodyLimit renders the echo body limit for a decoded image cap.
func bodyLimit(maxImage int64) string {
	kb := maxImage*4/3/1024 + 64
	return strconv.FormatInt(kb, 10) + "K"
}
