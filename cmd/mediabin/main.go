package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lgulliver/mediabin/cmd/mediabin/routes"
	"github.com/lgulliver/mediabin/internal/auth"
	"github.com/lgulliver/mediabin/internal/blob"
	"github.com/lgulliver/mediabin/internal/common"
	"github.com/lgulliver/mediabin/internal/library"
	"github.com/lgulliver/mediabin/internal/pool"
	"github.com/lgulliver/mediabin/internal/storage"
	"github.com/lgulliver/mediabin/internal/transport/clients"
	"github.com/lgulliver/mediabin/pkg/config"
	"github.com/lgulliver/mediabin/pkg/utils"
)

const stagingMaxAge = 24 * time.Hour

func main() {
	download := flag.String("download", "", "download the blob with this handle (destination:message) and exit")
	out := flag.String("out", "", "output path for -download")
	flag.Parse()

	// Load configuration
	cfg := config.LoadFromEnv()

	// Setup logging
	cfg.Logging.SetupLogging()

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	// Initialize session pool
	opts, err := pool.OptionsFromConfig(&cfg.Pool)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid pool configuration")
	}
	factory := clients.NewFactory(&cfg.Transport)
	sessions, err := pool.New(cfg.Transport.Channel, opts, factory.CreateClient)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create session pool")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := sessions.StartAll(ctx); err != nil {
		log.Fatal().Err(err).Msg("Session pool startup interrupted")
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := sessions.StopAll(stopCtx); err != nil {
			log.Error().Err(err).Msg("Failed to stop all sessions")
		}
	}()

	streamer := blob.NewStreamer(sessions, cfg.Pool.ChunkSize, cfg.Pool.RequestSize)

	if *download != "" {
		if err := runDownload(ctx, streamer, *download, *out); err != nil {
			log.Error().Err(err).Msg("Download failed")
			os.Exit(1)
		}
		return
	}

	log.Info().Msg("Starting mediabin")

	// Initialize database
	db, err := common.NewDatabase(&cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	// Run migrations
	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to run migrations")
	}

	// Initialize cache
	var infoCache library.InfoCache
	if cfg.Redis.Enabled {
		cache, err := common.NewCache(&cfg.Redis)
		if err != nil {
			log.Warn().Err(err).Msg("Redis unavailable, blob info will not be cached")
		} else {
			defer cache.Close()
			infoCache = cache
		}
	}

	// Initialize staging
	staging, err := storage.NewStaging(cfg.Staging.Dir)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize staging")
	}
	if _, err := staging.Sweep(ctx, stagingMaxAge); err != nil {
		log.Warn().Err(err).Msg("Failed to sweep staging directory")
	}

	// Initialize services
	uploader := blob.NewUploader(sessions, cfg.Pool.ProgressInterval)
	libraryService := library.NewService(db, uploader, streamer, infoCache, cfg.Redis.InfoTTL)
	authService := auth.NewService(&cfg.Auth)

	// Setup HTTP server
	router := setupRouter(sessions, libraryService, staging, authService)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Str("addr", server.Addr).Msg("Starting server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	<-ctx.Done()

	log.Info().Msg("Shutting down server...")

	// Give outstanding requests 30 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	} else {
		log.Info().Msg("Server shutdown complete")
	}
}

func runDownload(ctx context.Context, streamer *blob.Streamer, handle, out string) error {
	h, err := blob.ParseHandle(handle)
	if err != nil {
		return err
	}

	if out == "" {
		info, err := streamer.Info(ctx, h)
		if err != nil {
			return err
		}
		out = info.FileName
	}

	info, err := streamer.Download(ctx, h, out)
	if err != nil {
		return err
	}

	log.Info().Str("handle", h.String()).Str("path", out).Str("size", utils.FormatBytes(info.Size)).Msg("Blob downloaded")
	return nil
}

func setupRouter(sessions *pool.Pool, lib *library.Service, staging *storage.Staging, authService *auth.Service) *gin.Engine {
	// Set Gin mode based on log level
	if zerolog.GlobalLevel() <= zerolog.DebugLevel {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Middleware
	router.Use(requestLogger())
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	routes.HealthRoutes(router, sessions)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API routes
	api := router.Group("/api/v1")
	routes.AuthRoutes(api, authService)
	routes.FileRoutes(api, lib, staging, authService)

	return router
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Int("size", c.Writer.Size()).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("HTTP request")
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, Range, X-Requested-With")
		c.Header("Access-Control-Allow-Methods", "POST, OPTIONS, GET, HEAD, DELETE")
		c.Header("Access-Control-Expose-Headers", "Content-Range, Accept-Ranges, Content-Length, Content-Type")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
