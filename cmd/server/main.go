package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	goredis "github.com/redis/go-redis/v9"

	"github.com/party-playlist-system/internal/auth"
	"github.com/party-playlist-system/internal/identity"
	"github.com/party-playlist-system/internal/playback"
	"github.com/party-playlist-system/internal/queue"
	"github.com/party-playlist-system/internal/reconciler"
	"github.com/party-playlist-system/internal/session"
	"github.com/party-playlist-system/internal/spotify"
	"github.com/party-playlist-system/internal/ws"
	"github.com/party-playlist-system/pkg/database"
	"github.com/party-playlist-system/pkg/events"
	"github.com/party-playlist-system/pkg/redis"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found")
	}

	// Set Gin mode based on environment
	if os.Getenv("ENV") == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Initialize MySQL database
	db, err := database.NewMySQLDB(
		os.Getenv("MYSQL_HOST"),
		os.Getenv("MYSQL_PORT"),
		os.Getenv("MYSQL_USER"),
		os.Getenv("MYSQL_PASSWORD"),
		os.Getenv("MYSQL_DATABASE"),
	)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	// Initialize Redis client
	redisClient := goredis.NewClient(&goredis.Options{
		Addr:     os.Getenv("REDIS_HOST") + ":" + os.Getenv("REDIS_PORT"),
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       0,
	})

	// Initialize Kafka client
	kafkaClient := events.NewKafkaClient(
		strings.Split(os.Getenv("KAFKA_BROKERS"), ","),
		"party-playlist-events",
		os.Getenv("KAFKA_GROUP_ID"),
	)

	// Initialize Spotify client
	spotifyClient := spotify.NewClient(
		os.Getenv("SPOTIFY_CLIENT_ID"),
		os.Getenv("SPOTIFY_CLIENT_SECRET"),
		os.Getenv("SPOTIFY_REDIRECT_URI"),
	)

	// Initialize services
	tokenStore := redis.NewTokenStore(redisClient)
	sessionService := session.NewService(db, redisClient)
	queueService := queue.NewService(db, kafkaClient)
	playbackService := playback.NewService(db)

	loopManager := reconciler.NewManager(
		spotifyClient,
		spotifyClient,
		queueService,
		sessionService,
		playbackService,
		tokenStore,
		kafkaClient,
	)
	defer loopManager.StopAll()

	// Initialize handlers
	authHandler := auth.NewHandler(spotifyClient, tokenStore)
	sessionHandler := session.NewHandler(sessionService)
	queueHandler := queue.NewHandler(queueService)
	playbackHandler := playback.NewHandler(playbackService, loopManager)
	wsHandler := ws.NewHandler(kafkaClient)

	// Fan Kafka events out to WebSocket clients
	wsCtx, stopWS := context.WithCancel(context.Background())
	defer stopWS()
	go wsHandler.Run(wsCtx)

	// Initialize Gin router
	router := gin.Default()

	// CORS middleware
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"http://localhost:5173", "https://your-frontend-domain.com"}, // Add your frontend URL
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", identity.HeaderName},
		ExposeHeaders:    []string{"Content-Length", identity.HeaderName},
		AllowCredentials: true,
	}))

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
		})
	})

	// API routes
	v1 := router.Group("/api/v1")
	v1.Use(identity.Middleware())

	// Redirect legacy Spotify OAuth callback to the API route
	router.GET("/auth/callback", func(c *gin.Context) {
		// Preserve query parameters when redirecting
		dest := "/api/v1/auth/callback"
		if raw := c.Request.URL.RawQuery; raw != "" {
			dest += "?" + raw
		}
		c.Redirect(http.StatusTemporaryRedirect, dest)
	})

	authHandler.RegisterRoutes(v1)
	sessionHandler.RegisterRoutes(v1)
	queueHandler.RegisterRoutes(v1)
	playbackHandler.RegisterRoutes(v1)
	v1.GET("/ws/:sessionId", wsHandler.HandleWebSocket)

	// Start server
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	log.Printf("Server starting on port %s", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
