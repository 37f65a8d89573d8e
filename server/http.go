package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/kelly-nie213/rallycoachAIDemo/config"
	"github.com/kelly-nie213/rallycoachAIDemo/constant"
	jobHandler "github.com/kelly-nie213/rallycoachAIDemo/handler"
	"github.com/kelly-nie213/rallycoachAIDemo/pkg/cache"
	"github.com/kelly-nie213/rallycoachAIDemo/pkg/rabbitmq"
	"github.com/kelly-nie213/rallycoachAIDemo/repository"
	"github.com/kelly-nie213/rallycoachAIDemo/service"
	"github.com/kelly-nie213/rallycoachAIDemo/storage"
)

func RunHttp(cfg *config.Config) {
	ctx, cancel := signal.NotifyContext(setupLogger(cfg), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Bool("isProduction", cfg.App.Environment == constant.EnvironmentProduction.String()).Send()
	if cfg.App.Environment == constant.EnvironmentProduction.String() {
		gin.SetMode(gin.ReleaseMode)
	}

	repo, err := repository.NewRepo(cfg.DB)
	if err != nil {
		zerolog.Ctx(ctx).Fatal().Err(err).Msg("failed to open job store")
	}

	media := storage.New(cfg.Storage, cfg.MinIOBucket)

	// Both the event publisher and the snapshot cache are optional; the
	// pipeline runs the same without them.
	var events service.EventPublisher
	if cfg.Queue != nil && cfg.Queue.Host != "" {
		conn, err := config.NewRabbitMQConn(ctx, cfg.Queue)
		if err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Msg("NewRabbitMQConn")
		} else {
			events, err = rabbitmq.NewPublisher(ctx, conn, cfg.Queue)
			if err != nil {
				zerolog.Ctx(ctx).Error().Err(err).Msg("failed to create event publisher")
				events = nil
			}
		}
	}

	var jobCache cache.Cache
	if cfg.Redis.URL != "" {
		rc, err := cache.NewRedisCache(cfg.Redis.URL)
		if err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Msg("failed to create redis cache")
		} else if err := rc.Ping(ctx); err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Msg("redis unreachable, polling reads go straight to the store")
		} else {
			jobCache = rc
		}
	}

	analysisService := service.NewService(repo, cfg, media, jobCache, events)
	h := jobHandler.New(analysisService, media)

	r := gin.Default()
	r.Use(requestLogger(ctx))
	addHealth(r)

	api := r.Group("/api")
	{
		api.POST("/videos", h.SubmitVideo)
		api.POST("/videos/upload", h.UploadVideo)
		api.POST("/videos/:id/process", h.ProcessVideo)
		api.GET("/videos/:id", h.GetVideo)
	}

	handler := http.Server{
		Handler:           r,
		Addr:              fmt.Sprintf(":%s", cfg.Server.HttpPort),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Msg("start http server")
		if err := handler.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zerolog.Ctx(ctx).Error().Str("env", cfg.App.Environment).Msg(err.Error())
		}
	}()

	<-ctx.Done()
	zerolog.Ctx(ctx).Info().Msg("shutting down server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := handler.Shutdown(shutdownCtx); err != nil {
		zerolog.Ctx(ctx).Error().Str("env", cfg.App.Environment).Msg(err.Error())
	}

	zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Msg("server shutdown")
}

func addHealth(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status": "ok",
		})
	})
}

// requestLogger carries the base logger into every request context so
// handlers and the service can use zerolog.Ctx.
func requestLogger(base context.Context) gin.HandlerFunc {
	logger := zerolog.Ctx(base)
	return func(c *gin.Context) {
		c.Request = c.Request.WithContext(logger.WithContext(c.Request.Context()))
		c.Next()
	}
}

func setupLogger(cfg *config.Config) context.Context {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if cfg.App.Environment == constant.EnvironmentDevelop.String() {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	ctx := logger.WithContext(context.Background())

	return ctx
}
