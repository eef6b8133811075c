package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/hollis-v/beamcast/config"
	"github.com/hollis-v/beamcast/internal/handlers"
	"github.com/hollis-v/beamcast/internal/middleware"
	redisclient "github.com/hollis-v/beamcast/internal/redis"
	"github.com/hollis-v/beamcast/internal/registry"
	"github.com/hollis-v/beamcast/internal/relay"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("no .env file found, using environment variables")
	}
	setupLogger()

	cfg := config.Load()
	ctx := context.Background()

	// Presence mirror is best-effort: without Redis the relay still runs,
	// operators just lose the external view.
	var presence relay.Presence
	rdb, err := redisclient.Connect(ctx, cfg.Redis)
	if err != nil {
		slog.Warn("redis unavailable, presence mirror disabled", "error", err)
	} else {
		defer rdb.Close()
		presence = redisclient.NewPresence(ctx, rdb)
		slog.Info("redis connection established")
	}

	reg := registry.New()
	rl := relay.New(reg, presence)
	go rl.Run()
	defer rl.Stop()

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()
	router.Use(handlers.OriginFilter(cfg.AllowedOrigins))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	apiGroup := router.Group("/api")
	{
		apiGroup.POST("/auth/login", handlers.Login(cfg.JWTSecret))
		apiGroup.GET("/streams/:streamId", handlers.GetStream(reg))
		apiGroup.DELETE("/streams/:streamId", middleware.JWTAuth(cfg.JWTSecret), handlers.EndStream(rl))
		apiGroup.GET("/stats", handlers.Stats(reg))
	}

	wsGroup := router.Group("/ws")
	{
		wsGroup.GET("/signal", handlers.HandleSignaling(rl))
	}

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		slog.Info("relay starting", "port", cfg.Port)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("relay shutting down")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
}

func setupLogger() {
	level := slog.LevelInfo
	switch os.Getenv("LOG_LEVEL") {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))
}
