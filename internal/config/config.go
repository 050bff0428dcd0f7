package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

type Config struct {
	Server     ServerConfig
	Redis      RedisConfig
	JWT        JWTConfig
	RateLimit  RateLimitConfig
	Cognito    CognitoConfig
	Gateway    GatewayConfig
	Training   TrainingConfig
	CachePrime CachePrimeConfig
	R2         R2Config
	Kafka      KafkaConfig
}

type ServerConfig struct {
	Port      string
	Env       string
	LogLevel  string
	ApiDomain string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration int // hours
}

type RateLimitConfig struct {
	TrainingPerHour int
	StatusPerMin    int
}

// CognitoConfig points the JWKS verifier at a Cognito user pool. Issuer
// overrides the URL derived from Region and UserPoolID.
type CognitoConfig struct {
	Region     string
	UserPoolID string
	ClientID   string
	Issuer     string
}

// IssuerURL returns the token issuer of the user pool, or "" when the pool
// is not configured.
func (c CognitoConfig) IssuerURL() string {
	if c.Issuer != "" {
		return strings.TrimRight(c.Issuer, "/")
	}
	if c.Region == "" || c.UserPoolID == "" {
		return ""
	}
	return fmt.Sprintf("https://cognito-idp.%s.amazonaws.com/%s", c.Region, c.UserPoolID)
}

type GatewayConfig struct {
	Enabled bool
}

// TrainingConfig holds the external pipeline endpoints and the workflow's
// timing constants. Only PrimaryWebhookURL and StatusURL are required.
type TrainingConfig struct {
	PrimaryWebhookURL   string
	ResetWebhookURL     string
	AssistantWebhookURL string
	KBWebhookURL        string
	StatusURL           string
	APIKey              string

	AirtableBaseID  string
	AirtableTableID string
	CognitoField    string
	SentinelKey     string

	Policy         string
	AllowAnonymous bool

	ResetConfirmAttempts int
	ResetConfirmInterval time.Duration
	Dwell                time.Duration
	PollAttempts         int
	PollInterval         time.Duration
	KBPollAttempts       int

	HTTPTimeout time.Duration
	JobTimeout  time.Duration
}

// IsConfigured reports whether a run can be started at all.
func (c TrainingConfig) IsConfigured() bool {
	return c.PrimaryWebhookURL != "" && c.StatusURL != ""
}

type CachePrimeConfig struct {
	URL          string
	LLM          string
	LLMModel     string
	SystemPrompt string
	TTLMinutes   int
	DisplayName  string
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

type KafkaConfig struct {
	Brokers  []string
	Topic    string
	ClientID string
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("JWT_SECRET")
	readSecret("MAKE_API_KEY")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Environment variables
	viper.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = viper.BindEnv("server.port", "SERVER_PORT")
	_ = viper.BindEnv("server.env", "SERVER_ENV")
	_ = viper.BindEnv("server.log_level", "LOG_LEVEL")
	_ = viper.BindEnv("server.api_domain", "API_DOMAIN")
	_ = viper.BindEnv("redis.addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis.db", "REDIS_DB")
	_ = viper.BindEnv("jwt.secret", "JWT_SECRET")
	_ = viper.BindEnv("jwt.expiration", "JWT_EXPIRATION")
	_ = viper.BindEnv("ratelimit.training_per_hour", "RATELIMIT_TRAINING_PER_HOUR")
	_ = viper.BindEnv("ratelimit.status_per_min", "RATELIMIT_STATUS_PER_MIN")
	_ = viper.BindEnv("cognito.region", "COGNITO_REGION", "AWS_REGION")
	_ = viper.BindEnv("cognito.user_pool_id", "COGNITO_USER_POOL_ID")
	_ = viper.BindEnv("cognito.client_id", "COGNITO_USER_POOL_WEB_CLIENT_ID", "COGNITO_APP_CLIENT_ID")
	_ = viper.BindEnv("cognito.issuer", "COGNITO_ISSUER")
	_ = viper.BindEnv("gateway.enabled", "GATEWAY_ENABLED")

	_ = viper.BindEnv("training.primary_webhook_url", "MAKE_WEBHOOK_URL")
	_ = viper.BindEnv("training.reset_webhook_url", "MAKE_RESET_WEBHOOK_URL")
	_ = viper.BindEnv("training.assistant_webhook_url", "MAKE_TRAIN_WEBHOOK_URL", "MAKE__TRAIN_WEBHOOK_URL")
	_ = viper.BindEnv("training.kb_webhook_url", "MAKE_TRAIN_KB_WEBHOOK_URL")
	_ = viper.BindEnv("training.status_url", "TRAINING_STATUS_URL", "STATUS_BASE_URL")
	_ = viper.BindEnv("training.api_key", "MAKE_API_KEY")
	_ = viper.BindEnv("training.airtable_base_id", "AIRTABLE_BASE_ID")
	_ = viper.BindEnv("training.airtable_table_id", "AIRTABLE_TABLE_ID")
	_ = viper.BindEnv("training.cognito_field", "COGNITO_FIELD")
	_ = viper.BindEnv("training.sentinel_key", "TRAINING_SENTINEL_KEY")
	_ = viper.BindEnv("training.policy", "TRAINING_POLICY")
	_ = viper.BindEnv("training.allow_anonymous", "TRAINING_ALLOW_ANONYMOUS")
	_ = viper.BindEnv("training.reset_confirm_attempts", "TRAINING_RESET_CONFIRM_ATTEMPTS")
	_ = viper.BindEnv("training.reset_confirm_interval", "TRAINING_RESET_CONFIRM_INTERVAL")
	_ = viper.BindEnv("training.dwell", "TRAINING_DWELL")
	_ = viper.BindEnv("training.poll_attempts", "TRAINING_POLL_ATTEMPTS")
	_ = viper.BindEnv("training.poll_interval", "TRAINING_POLL_INTERVAL")
	_ = viper.BindEnv("training.kb_poll_attempts", "TRAINING_KB_POLL_ATTEMPTS")
	_ = viper.BindEnv("training.http_timeout", "TRAINING_HTTP_TIMEOUT")
	_ = viper.BindEnv("training.job_timeout", "TRAINING_JOB_TIMEOUT")

	_ = viper.BindEnv("cache_prime.url", "CACHE_PRIME_URL")
	_ = viper.BindEnv("cache_prime.llm", "CACHE_PRIME_LLM")
	_ = viper.BindEnv("cache_prime.llm_model", "CACHE_PRIME_LLM_MODEL")
	_ = viper.BindEnv("cache_prime.system_prompt", "CACHE_PRIME_SYSTEM_PROMPT")
	_ = viper.BindEnv("cache_prime.ttl_minutes", "CACHE_PRIME_TTL_MINUTES")
	_ = viper.BindEnv("cache_prime.display_name", "CACHE_PRIME_DISPLAY_NAME")

	_ = viper.BindEnv("r2.account_id", "R2_ACCOUNT_ID")
	_ = viper.BindEnv("r2.access_key_id", "R2_ACCESS_KEY_ID")
	_ = viper.BindEnv("r2.secret_access_key", "R2_SECRET_ACCESS_KEY")
	_ = viper.BindEnv("r2.bucket_name", "R2_BUCKET_NAME")
	_ = viper.BindEnv("r2.public_url", "R2_PUBLIC_URL")

	_ = viper.BindEnv("kafka.brokers", "KAFKA_BROKERS")
	_ = viper.BindEnv("kafka.topic", "KAFKA_TOPIC")
	_ = viper.BindEnv("kafka.client_id", "KAFKA_CLIENT_ID")

	// Defaults
	viper.SetDefault("server.port", "8000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.log_level", "info")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("jwt.secret", "change-me-in-production")
	viper.SetDefault("jwt.expiration", 24)
	viper.SetDefault("ratelimit.training_per_hour", 10)
	viper.SetDefault("ratelimit.status_per_min", 120)
	viper.SetDefault("gateway.enabled", false)

	// Training defaults match what the pipeline is tuned for
	viper.SetDefault("training.cognito_field", "CognitoID")
	viper.SetDefault("training.sentinel_key", "xyz")
	viper.SetDefault("training.policy", "multi_stage")
	viper.SetDefault("training.allow_anonymous", false)
	viper.SetDefault("training.reset_confirm_attempts", 6)
	viper.SetDefault("training.reset_confirm_interval", "5s")
	viper.SetDefault("training.dwell", "37s")
	viper.SetDefault("training.poll_attempts", 7)
	viper.SetDefault("training.poll_interval", "5s")
	viper.SetDefault("training.kb_poll_attempts", 7)
	viper.SetDefault("training.http_timeout", "30s")
	viper.SetDefault("training.job_timeout", "15m")

	// Cache priming defaults
	viper.SetDefault("cache_prime.llm", "gemini")
	viper.SetDefault("cache_prime.llm_model", "gemini-2.0-flash")
	viper.SetDefault("cache_prime.ttl_minutes", 60)
	viper.SetDefault("cache_prime.display_name", "persona-cache")

	viper.SetDefault("kafka.topic", "training.events")
	viper.SetDefault("kafka.client_id", "pluree-api")

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:      viper.GetString("server.port"),
			Env:       viper.GetString("server.env"),
			LogLevel:  viper.GetString("server.log_level"),
			ApiDomain: viper.GetString("server.api_domain"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret:     viper.GetString("jwt.secret"),
			Expiration: viper.GetInt("jwt.expiration"),
		},
		RateLimit: RateLimitConfig{
			TrainingPerHour: viper.GetInt("ratelimit.training_per_hour"),
			StatusPerMin:    viper.GetInt("ratelimit.status_per_min"),
		},
		Cognito: CognitoConfig{
			Region:     viper.GetString("cognito.region"),
			UserPoolID: viper.GetString("cognito.user_pool_id"),
			ClientID:   viper.GetString("cognito.client_id"),
			Issuer:     viper.GetString("cognito.issuer"),
		},
		Gateway: GatewayConfig{
			Enabled: viper.GetBool("gateway.enabled"),
		},
		Training: TrainingConfig{
			PrimaryWebhookURL:    viper.GetString("training.primary_webhook_url"),
			ResetWebhookURL:      viper.GetString("training.reset_webhook_url"),
			AssistantWebhookURL:  viper.GetString("training.assistant_webhook_url"),
			KBWebhookURL:         viper.GetString("training.kb_webhook_url"),
			StatusURL:            viper.GetString("training.status_url"),
			APIKey:               viper.GetString("training.api_key"),
			AirtableBaseID:       viper.GetString("training.airtable_base_id"),
			AirtableTableID:      viper.GetString("training.airtable_table_id"),
			CognitoField:         viper.GetString("training.cognito_field"),
			SentinelKey:          viper.GetString("training.sentinel_key"),
			Policy:               viper.GetString("training.policy"),
			AllowAnonymous:       viper.GetBool("training.allow_anonymous"),
			ResetConfirmAttempts: viper.GetInt("training.reset_confirm_attempts"),
			ResetConfirmInterval: viper.GetDuration("training.reset_confirm_interval"),
			Dwell:                viper.GetDuration("training.dwell"),
			PollAttempts:         viper.GetInt("training.poll_attempts"),
			PollInterval:         viper.GetDuration("training.poll_interval"),
			KBPollAttempts:       viper.GetInt("training.kb_poll_attempts"),
			HTTPTimeout:          viper.GetDuration("training.http_timeout"),
			JobTimeout:           viper.GetDuration("training.job_timeout"),
		},
		CachePrime: CachePrimeConfig{
			URL:          viper.GetString("cache_prime.url"),
			LLM:          viper.GetString("cache_prime.llm"),
			LLMModel:     viper.GetString("cache_prime.llm_model"),
			SystemPrompt: viper.GetString("cache_prime.system_prompt"),
			TTLMinutes:   viper.GetInt("cache_prime.ttl_minutes"),
			DisplayName:  viper.GetString("cache_prime.display_name"),
		},
		R2: R2Config{
			AccountID:       viper.GetString("r2.account_id"),
			AccessKeyID:     viper.GetString("r2.access_key_id"),
			SecretAccessKey: viper.GetString("r2.secret_access_key"),
			BucketName:      viper.GetString("r2.bucket_name"),
			PublicURL:       viper.GetString("r2.public_url"),
		},
		Kafka: KafkaConfig{
			Brokers:  splitList(viper.GetString("kafka.brokers")),
			Topic:    viper.GetString("kafka.topic"),
			ClientID: viper.GetString("kafka.client_id"),
		},
	}

	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
