package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadFresh(t *testing.T) *Config {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)

	cfg, err := Load()
	require.NoError(t, err)
	return cfg
}

func TestLoad_TrainingDefaults(t *testing.T) {
	cfg := loadFresh(t)

	assert.Equal(t, "CognitoID", cfg.Training.CognitoField)
	assert.Equal(t, "xyz", cfg.Training.SentinelKey)
	assert.Equal(t, "multi_stage", cfg.Training.Policy)
	assert.Equal(t, 6, cfg.Training.ResetConfirmAttempts)
	assert.Equal(t, 5*time.Second, cfg.Training.ResetConfirmInterval)
	assert.Equal(t, 37*time.Second, cfg.Training.Dwell)
	assert.Equal(t, 7, cfg.Training.PollAttempts)
	assert.Equal(t, 5*time.Second, cfg.Training.PollInterval)
	assert.Equal(t, 7, cfg.Training.KBPollAttempts)
	assert.False(t, cfg.Training.IsConfigured())
	assert.Empty(t, cfg.Kafka.Brokers)
}

func TestLoad_TrainingFromEnv(t *testing.T) {
	t.Setenv("MAKE_WEBHOOK_URL", "https://hook.example/train")
	t.Setenv("MAKE__TRAIN_WEBHOOK_URL", "https://hook.example/assistant")
	t.Setenv("STATUS_BASE_URL", "https://status.example/check")
	t.Setenv("TRAINING_POLICY", "early_exit")
	t.Setenv("TRAINING_DWELL", "33s")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")

	cfg := loadFresh(t)

	assert.Equal(t, "https://hook.example/train", cfg.Training.PrimaryWebhookURL)
	assert.Equal(t, "https://hook.example/assistant", cfg.Training.AssistantWebhookURL)
	assert.Equal(t, "https://status.example/check", cfg.Training.StatusURL)
	assert.Equal(t, "early_exit", cfg.Training.Policy)
	assert.Equal(t, 33*time.Second, cfg.Training.Dwell)
	assert.True(t, cfg.Training.IsConfigured())
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
}

func TestLoad_PrimaryEnvNameWins(t *testing.T) {
	t.Setenv("MAKE_TRAIN_WEBHOOK_URL", "https://hook.example/primary-name")
	t.Setenv("MAKE__TRAIN_WEBHOOK_URL", "https://hook.example/alt-name")
	t.Setenv("TRAINING_STATUS_URL", "https://status.example/training")
	t.Setenv("STATUS_BASE_URL", "https://status.example/base")

	cfg := loadFresh(t)

	assert.Equal(t, "https://hook.example/primary-name", cfg.Training.AssistantWebhookURL)
	assert.Equal(t, "https://status.example/training", cfg.Training.StatusURL)
}

func TestLoad_SecretFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "make_api_key")
	require.NoError(t, os.WriteFile(path, []byte("s3cret\n"), 0o600))

	t.Setenv("MAKE_API_KEY", "")
	t.Setenv("MAKE_API_KEY_FILE", path)

	cfg := loadFresh(t)
	assert.Equal(t, "s3cret", cfg.Training.APIKey)
}

func TestCognitoIssuerURL(t *testing.T) {
	assert.Empty(t, CognitoConfig{}.IssuerURL())
	assert.Equal(t,
		"https://cognito-idp.ap-southeast-1.amazonaws.com/ap-southeast-1_abc",
		CognitoConfig{Region: "ap-southeast-1", UserPoolID: "ap-southeast-1_abc"}.IssuerURL(),
	)
	assert.Equal(t, "https://issuer.example", CognitoConfig{Issuer: "https://issuer.example/"}.IssuerURL())
}
