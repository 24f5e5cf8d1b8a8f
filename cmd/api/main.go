package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/mediavault/backend/internal/config"
	"github.com/mediavault/backend/internal/handlers"
	"github.com/mediavault/backend/internal/middleware"
	"github.com/mediavault/backend/internal/models"
	"github.com/mediavault/backend/internal/repository"
	"github.com/mediavault/backend/internal/services"
	"github.com/mediavault/backend/internal/storage"
	"github.com/mediavault/backend/pkg/signedurl"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := config.New()

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()

	// Initialize database
	db, err := models.InitDB(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize database")
	}
	if err := models.Migrate(db); err != nil {
		logger.Fatal().Err(err).Msg("failed to run migrations")
	}

	// Initialize Redis
	redisClient := models.InitRedis(cfg)
	defer redisClient.Close()

	// Storage driver
	driver, err := buildDriver(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("backend", cfg.StorageBackend).Msg("failed to initialize storage driver")
	}
	orch, err := storage.NewOrchestrator(driver, cfg.QuarantinePath, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize storage orchestrator")
	}

	// Initialize services
	repo := repository.NewMediaRepository(db)
	auditService := services.NewAuditService(db)
	waiter := services.NewDedupeWaiter(cfg, repo)
	scanner := services.NewVirusScanner(cfg, logger)
	uploadService := services.NewUploadService(cfg, repo, orch, waiter, scanner, auditService, logger)
	thumbnailer := services.NewThumbnailer(cfg, driver, auditService, logger)
	issuer := signedurl.New(cfg.SignedURLSecret, cfg.SignedURLTTL, cfg.SignedURLEnabled)

	// Setup Gin router
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg))
	router.Use(middleware.RateLimiter(redisClient, cfg))

	mediaHandler := handlers.NewMediaHandler(uploadService, repo, driver, thumbnailer, issuer, logger)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1")
	{
		api.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "healthy"})
		})
		api.OPTIONS("/*path", func(c *gin.Context) {
			c.Status(http.StatusNoContent)
		})

		media := api.Group("/media")
		{
			uploadGroup := media.Group("")
			uploadGroup.Use(middleware.UploadRateLimit(redisClient, cfg))
			{
				uploadGroup.POST("", mediaHandler.Upload)
			}

			media.GET("/:id", mediaHandler.GetMetadata)
			media.GET("/:id/file", mediaHandler.ServeFile)
			media.GET("/:id/thumb/:variant", mediaHandler.ServeThumb)
			media.POST("/:id/url", mediaHandler.IssueURL)
			media.DELETE("/:id", mediaHandler.Delete)
		}
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  120 * time.Second, // large uploads
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		logger.Info().Str("port", cfg.Port).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("server exited")
}

func buildDriver(cfg *config.Config, logger zerolog.Logger) (storage.Driver, error) {
	if cfg.StorageBackend == "s3" {
		return storage.NewS3Driver(cfg, logger)
	}
	return storage.NewLocalDriver(cfg.LocalBasePath, logger)
}
