package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	fiberSwagger "github.com/gofiber/swagger"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/pluree/api/docs"
	"github.com/pluree/api/internal/auth"
	"github.com/pluree/api/internal/client"
	"github.com/pluree/api/internal/config"
	"github.com/pluree/api/internal/events"
	"github.com/pluree/api/internal/handler"
	"github.com/pluree/api/internal/middleware"
	"github.com/pluree/api/internal/service"
	"github.com/pluree/api/internal/training"
	ws "github.com/pluree/api/internal/websocket"
	"github.com/pluree/api/internal/worker"
)

// @title          Pluree Training API
// @version        1.0
// @description    Starts persona training runs and reports their progress.
// @BasePath       /
// @schemes        http https
// @securityDefinitions.apikey BearerAuth
// @in             header
// @name           Authorization
// @description    Enter your bearer token in the format **Bearer &lt;token&gt;**
func main() {
	// .env is optional; real deployments use the environment
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if _, err := training.PolicyByName(cfg.Training.Policy); err != nil {
		log.Fatalf("Invalid training policy: %v", err)
	}

	// Initialize Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	// Test Redis connection
	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Printf("Warning: Redis not available: %v", err)
	}

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}

	// Initialize Asynq client and inspector
	asynqClient := asynq.NewClient(redisOpt)
	defer asynqClient.Close()
	inspector := asynq.NewInspector(redisOpt)
	defer inspector.Close()

	// Initialize validator
	validate := validator.New()

	// Initialize WebSocket hub
	hub := ws.NewHub()
	go hub.Run()

	// Initialize external pipeline clients
	webhookClient := client.NewWebhookClient(&cfg.Training)
	statusClient := client.NewStatusClient(&cfg.Training)
	cacheClient := client.NewCacheClient(&cfg.CachePrime)
	if !cfg.Training.IsConfigured() {
		log.Println("Warning: training webhooks not configured, /api/training/start is disabled")
	}

	// Initialize R2 client (optional - run reports are not archived without it)
	var r2Client *client.R2Client
	if cfg.R2.AccessKeyID != "" && cfg.R2.SecretAccessKey != "" {
		var err error
		r2Client, err = client.NewR2Client(&cfg.R2)
		if err != nil {
			log.Printf("Warning: R2 client not initialized: %v", err)
		}
	} else {
		log.Println("Info: R2 storage not configured, run reports will not be archived")
	}

	// Initialize Kafka publisher (optional)
	var publisher events.Publisher = events.NopPublisher{}
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaPublisher, err := events.NewKafkaPublisher(&cfg.Kafka)
		if err != nil {
			log.Printf("Warning: Kafka publisher not initialized: %v", err)
		} else {
			publisher = kafkaPublisher
		}
	}
	defer publisher.Close()

	// Initialize Cognito JWKS verifier (optional - falls back to legacy JWT)
	var jwksVerifier *auth.JWKSVerifier
	if cfg.Cognito.IssuerURL() != "" {
		var err error
		jwksVerifier, err = auth.NewJWKSVerifier(&cfg.Cognito)
		if err != nil {
			log.Printf("Warning: JWKS verifier not initialized: %v", err)
		} else {
			defer jwksVerifier.Close()
		}
	}

	// Initialize services
	jobStore := service.NewRedisJobStore(redisClient)
	trainingService := service.NewTrainingService(jobStore, asynqClient, inspector, &cfg.Training)

	// Initialize handlers
	trainingHandler := handler.NewTrainingHandler(trainingService, validate, cfg.Training.IsConfigured())

	// Initialize auth handler for ForwardAuth verification
	var tokenVerifier auth.TokenVerifier
	if jwksVerifier != nil {
		tokenVerifier = jwksVerifier
	}
	authHandler := handler.NewAuthHandler(tokenVerifier, cfg.JWT.Secret)

	// Initialize middleware (with fallback support)
	var apiAuthMiddleware fiber.Handler
	if cfg.Gateway.Enabled {
		// Behind Traefik: auth is handled by ForwardAuth, read X-User-* headers
		log.Println("Info: Gateway mode enabled, using header-based auth")
		apiAuthMiddleware = middleware.GatewayAuthMiddleware()
		if cfg.Training.AllowAnonymous {
			apiAuthMiddleware = middleware.GatewayIdentify()
		}
	} else {
		// Direct mode: auth is handled by the backend itself
		var authMiddleware *middleware.AuthMiddleware
		if tokenVerifier != nil && cfg.JWT.Secret != "" {
			authMiddleware = middleware.NewAuthMiddlewareWithFallback(tokenVerifier, cfg.JWT.Secret)
		} else if tokenVerifier != nil {
			authMiddleware = middleware.NewAuthMiddleware(tokenVerifier)
		} else {
			authMiddleware = middleware.NewLegacyAuthMiddleware(cfg.JWT.Secret)
		}
		apiAuthMiddleware = authMiddleware.Authenticate()
		if cfg.Training.AllowAnonymous {
			log.Println("Info: anonymous training allowed, unidentified callers share the sentinel key")
			apiAuthMiddleware = authMiddleware.Identify()
		}
	}
	rateLimiter := middleware.NewRateLimiter(redisClient)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    1 * 1024 * 1024,
	})

	// Global middleware
	app.Use(recover.New())
	isDebug := strings.EqualFold(cfg.Server.LogLevel, "debug")
	logFormat := "[${time}] ${status} - ${latency} ${method} ${path}\n"
	if isDebug {
		logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${queryParams} ${body} ${reqHeaders}\n"
		log.Println("Debug logging enabled")
	}
	app.Use(logger.New(logger.Config{
		Format: logFormat,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	// Base URL - timestamp
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"timestamp": time.Now().Unix(),
		})
	})

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"redis":      redisClient.Ping(c.UserContext()).Err() == nil,
				"training":   cfg.Training.IsConfigured(),
				"cachePrime": cacheClient.IsConfigured(),
				"r2":         r2Client.IsConfigured(),
				"kafka":      len(cfg.Kafka.Brokers) > 0,
				"auth":       jwksVerifier != nil || cfg.JWT.Secret != "",
			},
		})
	})

	// ForwardAuth verification endpoint (internal, called by Traefik)
	app.Get("/auth/verify", authHandler.Verify)

	// API routes
	api := app.Group("/api", apiAuthMiddleware)

	// Training routes
	train := api.Group("/training")
	train.Post("/start", rateLimiter.TrainingLimit(cfg.RateLimit.TrainingPerHour), trainingHandler.Start)
	train.Get("/status/:jobId", rateLimiter.StatusLimit(cfg.RateLimit.StatusPerMin), trainingHandler.Status)
	train.Post("/cancel/:jobId", trainingHandler.Cancel)

	// WebSocket routes
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/training/:jobId", apiAuthMiddleware, trainingHandler.Stream(hub))

	// API docs
	docs.SwaggerInfo.Host = cfg.Server.ApiDomain
	app.Get("/swagger/*", fiberSwagger.HandlerDefault)

	// Start Asynq worker server
	var primer training.CachePrimer
	if cacheClient.IsConfigured() {
		primer = cacheClient
	}
	var storage client.StorageClient
	if r2Client.IsConfigured() {
		storage = r2Client
	}
	opts, err := worker.OrchestratorOptions(&cfg.Training, webhookClient, statusClient, primer)
	if err != nil {
		log.Fatalf("Failed to configure training worker: %v", err)
	}
	trainingWorker := worker.NewTrainingWorker(opts, trainingService, hub, publisher, storage)
	workerSrv := newWorkerServer(cfg, redisOpt)
	go func() {
		mux := asynq.NewServeMux()
		mux.HandleFunc(service.TaskTypeTraining, trainingWorker.ProcessTask)
		if cfg.Training.IsConfigured() {
			if err := workerSrv.Run(mux); err != nil {
				log.Printf("Asynq worker error: %v", err)
			}
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("Shutting down server...")
		workerSrv.Shutdown()
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	// Start server
	addr := ":" + cfg.Server.Port
	log.Printf("Server starting on %s", addr)
	if err := app.Listen(addr); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

func newWorkerServer(cfg *config.Config, redisOpt asynq.RedisClientOpt) *asynq.Server {
	asynqLogLevel := asynq.InfoLevel
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		asynqLogLevel = asynq.DebugLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "warn") {
		asynqLogLevel = asynq.WarnLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "error") {
		asynqLogLevel = asynq.ErrorLevel
	}

	return asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				service.QueueTraining: 1,
			},
			LogLevel: asynqLogLevel,
			// a run can sit in its dwell and poll sleeps for minutes
			ShutdownTimeout: 30 * time.Second,
		},
	)
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    "SERVICE_ERROR",
			"message": message,
		},
	})
}
