package main

import (
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/shellpane/backend/api/handlers"
	"github.com/shellpane/backend/internal/db"
	"github.com/shellpane/backend/internal/repository"
	"github.com/shellpane/backend/internal/term"
	"github.com/shellpane/backend/internal/ws"
)

func main() {
	logger, err := newLogger()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	// Get configuration from environment
	port := getEnv("PORT", "8080")
	dbPath := getEnv("DB_PATH", "data/terminals.db")
	castDir := getEnv("CAST_DIR", "data/casts")

	// Ensure data directories exist
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		logger.Fatal("create database directory", zap.Error(err))
	}
	if err := os.MkdirAll(castDir, 0755); err != nil {
		logger.Fatal("create cast directory", zap.Error(err))
	}

	// Initialize database
	database, err := db.Open(dbPath)
	if err != nil {
		logger.Fatal("open database", zap.Error(err))
	}
	defer database.Close()

	// Initialize repository
	terminalRepo := repository.NewTerminalRepository(database)

	// Initialize terminal manager
	manager := term.NewManager(logger, castDir)

	// Initialize WebSocket service
	wsService := ws.NewService(manager, terminalRepo, logger)
	defer wsService.Close()

	// Initialize handlers
	terminalHandler := handlers.NewTerminalHandler(manager, wsService, terminalRepo, logger)
	wsHandler := handlers.NewWebSocketHandler(manager, wsService.Handler())

	// Initialize Gin router
	r := gin.Default()
	r.Use(corsMiddleware())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// API routes
	api := r.Group("/api")
	{
		terminalHandler.RegisterRoutes(api)
		wsHandler.RegisterRoutes(api)
	}

	// Graceful shutdown: tear every terminal down within the kill-all
	// budget before the process exits.
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logger.Info("shutting down server")

		outcome := manager.KillAll()
		logger.Info("terminated all terminals",
			zap.Int("success", outcome.Success),
			zap.Int("failed", outcome.Failed),
			zap.Bool("timeout", outcome.TimedOut))

		wsService.Close()
		database.Close()
		logger.Sync()
		os.Exit(0)
	}()

	// Start server
	logger.Info("starting server", zap.String("port", port))
	if err := r.Run(":" + port); err != nil {
		logger.Fatal("start server", zap.Error(err))
	}
}

func newLogger() (*zap.Logger, error) {
	if getEnv("ENV", "development") == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

// getEnv returns the value of an environment variable or a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// corsMiddleware returns a CORS middleware for development.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
