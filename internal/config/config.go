package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database  DatabaseConfig
	Server    ServerConfig
	Detector  DetectorConfig
	Attest    AttestConfig
	Challenge ChallengeConfig
	Alerts    AlertConfig
	Retention RetentionConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	AllowedOrigins []string
}

// DetectorConfig tunes the scoring core. Defaults follow the reference
// tuning (threshold 0.65, 3 minimum samples, seed 42).
type DetectorConfig struct {
	MinTrainSamples    int
	Threshold          float64
	BaselineSaturation float64
	GuardSaturation    float64
	Trees              int
	SampleSize         int
	Contamination      float64
	CalibrationTau     float64
	Seed               int64
}

type AttestConfig struct {
	Secret string
	Expiry time.Duration
}

type ChallengeConfig struct {
	Enabled       bool
	EncryptionKey []byte // 32-byte AES-256 key, hex-encoded in env
	Issuer        string
}

type AlertConfig struct {
	Enabled     bool
	AWSRegion   string
	FromAddress string
	ToAddress   string
}

type RetentionConfig struct {
	SessionRecordTTL time.Duration
	CleanupInterval  time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	env := getEnv("ENV", "development")

	attestSecret := getEnv("ATTEST_SECRET", "")
	if attestSecret == "" {
		return nil, fmt.Errorf("ATTEST_SECRET is required")
	}
	if err := validateAttestSecret(attestSecret, env); err != nil {
		return nil, err
	}

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "keyprint"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
		},
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			AllowedOrigins: parseAllowedOrigins(env),
		},
		Detector: DetectorConfig{
			MinTrainSamples:    getEnvAsInt("DETECTOR_MIN_TRAIN_SAMPLES", 3),
			Threshold:          getEnvAsFloat("DETECTOR_THRESHOLD", 0.65),
			BaselineSaturation: getEnvAsFloat("DETECTOR_BASELINE_SATURATION", 2.5),
			GuardSaturation:    getEnvAsFloat("DETECTOR_GUARD_SATURATION", 6.0),
			Trees:              getEnvAsInt("DETECTOR_TREES", 100),
			SampleSize:         getEnvAsInt("DETECTOR_SAMPLE_SIZE", 256),
			Contamination:      getEnvAsFloat("DETECTOR_CONTAMINATION", 0.1),
			CalibrationTau:     getEnvAsFloat("DETECTOR_CALIBRATION_TAU", 0.05),
			Seed:               int64(getEnvAsInt("DETECTOR_SEED", 42)),
		},
		Attest: AttestConfig{
			Secret: attestSecret,
			Expiry: getEnvAsDuration("ATTEST_TOKEN_EXPIRY", 5*time.Minute),
		},
		Challenge: ChallengeConfig{
			Issuer: getEnv("CHALLENGE_ISSUER", "keyprint"),
		},
		Alerts: AlertConfig{
			AWSRegion:   getEnv("ALERT_AWS_REGION", "us-east-1"),
			FromAddress: getEnv("ALERT_FROM_ADDRESS", ""),
			ToAddress:   getEnv("ALERT_TO_ADDRESS", ""),
		},
		Retention: RetentionConfig{
			SessionRecordTTL: getEnvAsDuration("SESSION_RECORD_TTL", 90*24*time.Hour),
			CleanupInterval:  getEnvAsDuration("CLEANUP_INTERVAL", 1*time.Hour),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	if cfg.Detector.Threshold <= 0 || cfg.Detector.Threshold >= 1 {
		return nil, fmt.Errorf("DETECTOR_THRESHOLD must be in (0,1), got %v", cfg.Detector.Threshold)
	}
	if cfg.Detector.MinTrainSamples < 1 {
		return nil, fmt.Errorf("DETECTOR_MIN_TRAIN_SAMPLES must be at least 1")
	}

	if keyHex := getEnv("CHALLENGE_ENCRYPTION_KEY", ""); keyHex != "" {
		key, err := hex.DecodeString(keyHex)
		if err != nil {
			return nil, fmt.Errorf("CHALLENGE_ENCRYPTION_KEY must be hex-encoded: %w", err)
		}
		if len(key) != 32 {
			return nil, fmt.Errorf("CHALLENGE_ENCRYPTION_KEY must decode to 32 bytes, got %d", len(key))
		}
		cfg.Challenge.Enabled = true
		cfg.Challenge.EncryptionKey = key
	}

	cfg.Alerts.Enabled = cfg.Alerts.FromAddress != "" && cfg.Alerts.ToAddress != ""

	return cfg, nil
}

// validateAttestSecret enforces minimum strength for the attestation
// signing secret.
func validateAttestSecret(secret, env string) error {
	minLength := 16
	if env == "production" {
		minLength = 32
	}
	if len(secret) < minLength {
		return fmt.Errorf("ATTEST_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}
	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("ATTEST_SECRET cannot be a common weak value")
		}
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsFloat(key string, defaultVal float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

func parseAllowedOrigins(env string) []string {
	if env == "production" {
		originsStr := getEnv("ALLOWED_ORIGINS", "")
		if originsStr == "" {
			return []string{}
		}
		origins := strings.Split(originsStr, ",")
		for i, origin := range origins {
			origins[i] = strings.TrimSpace(origin)
		}
		return origins
	}

	// Development: allow localhost variants
	return []string{
		"http://localhost:3000",
		"http://localhost:5173",
		"http://127.0.0.1:3000",
		"http://127.0.0.1:5173",
	}
}
