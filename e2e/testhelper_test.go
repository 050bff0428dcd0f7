package e2e

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/pluree/api/internal/auth"
	"github.com/pluree/api/internal/config"
	"github.com/pluree/api/internal/handler"
	"github.com/pluree/api/internal/middleware"
	"github.com/pluree/api/internal/service"
)

const testJWTSecret = "test-secret-for-e2e"

// testApp holds all components needed for testing
type testApp struct {
	app   *fiber.App
	redis *redis.Client
}

// setupApp creates a Fiber app wired like main.go against Redis DB 15.
// No worker runs, so jobs stay queued. Skips when Redis is not running.
func setupApp(t *testing.T) *testApp {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping e2e test in short mode")
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // use DB 15 for tests to avoid collision
	})
	t.Cleanup(func() { redisClient.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		t.Skipf("skipping: Redis not available: %v", err)
	}

	redisOpt := asynq.RedisClientOpt{Addr: "localhost:6379", DB: 15}
	asynqClient := asynq.NewClient(redisOpt)
	t.Cleanup(func() { asynqClient.Close() })
	inspector := asynq.NewInspector(redisOpt)
	t.Cleanup(func() { inspector.Close() })

	trainingCfg := &config.TrainingConfig{
		PrimaryWebhookURL: "https://hook.example/train",
		StatusURL:         "https://status.example/status",
		SentinelKey:       "xyz",
		Policy:            "multi_stage",
		JobTimeout:        time.Minute,
	}

	trainingService := service.NewTrainingService(service.NewRedisJobStore(redisClient), asynqClient, inspector, trainingCfg)
	trainingHandler := handler.NewTrainingHandler(trainingService, validator.New(), trainingCfg.IsConfigured())
	authHandler := handler.NewAuthHandler(nil, testJWTSecret)

	// Auth middleware (legacy HMAC only)
	authMiddleware := middleware.NewLegacyAuthMiddleware(testJWTSecret)
	rateLimiter := middleware.NewRateLimiter(redisClient)

	app := fiber.New()

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"redis":    true,
				"training": trainingCfg.IsConfigured(),
			},
		})
	})
	app.Get("/auth/verify", authHandler.Verify)

	api := app.Group("/api", authMiddleware.Authenticate())

	// Use very high rate limits so tests don't get blocked
	train := api.Group("/training")
	train.Post("/start", rateLimiter.TrainingLimit(10000), trainingHandler.Start)
	train.Get("/status/:jobId", rateLimiter.StatusLimit(10000), trainingHandler.Status)
	train.Post("/cancel/:jobId", trainingHandler.Cancel)

	return &testApp{app: app, redis: redisClient}
}

// newUser returns a fresh user ID so tests never share an active-run lock.
func newUser() string {
	return "e2e-" + uuid.New().String()
}

// generateToken creates a legacy HMAC JWT token for test requests.
func generateToken(t *testing.T, userID string) string {
	t.Helper()
	signed, err := auth.NewLegacyToken(userID, "test@example.com", testJWTSecret, time.Hour)
	if err != nil {
		t.Fatalf("failed to generate test token: %v", err)
	}
	return signed
}

// doRequest is a helper to perform HTTP requests against the test app.
func doRequest(app *fiber.App, method, path string, body string, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		return nil, err
	}

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return app.Test(req, -1)
}

// doAuthRequest performs a request authenticated as userID.
func doAuthRequest(t *testing.T, app *fiber.App, userID, method, path, body string) (*http.Response, error) {
	t.Helper()
	return doRequest(app, method, path, body, map[string]string{
		"Authorization": "Bearer " + generateToken(t, userID),
	})
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return string(b)
}

// parseJSON parses response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}
