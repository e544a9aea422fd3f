package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Load reads the .env file specified by LEANDEEP_ENV (or .env by default),
// then loads the corresponding .secret file if it exists.
// All config is flat env vars read via os.Getenv after loading.
func Load() error {
	envFile := os.Getenv("LEANDEEP_ENV")
	if envFile == "" {
		envFile = ".env"
	}

	// Missing files are fine; the environment may already be populated.
	_ = godotenv.Load(envFile)
	_ = godotenv.Load(envFile + ".secret")

	return nil
}

func ServerPort() int {
	return intOr("SERVER_PORT", 8080)
}

func ServerAddr() string {
	return fmt.Sprintf(":%d", ServerPort())
}

// RegistryPath is the marker registry file. JSON or YAML, chosen by extension.
func RegistryPath() string {
	p := os.Getenv("REGISTRY_PATH")
	if p == "" {
		return "build/markers_rated/marker_registry.json"
	}
	return p
}

// RegistryWatch enables hot reload of the registry file on change.
func RegistryWatch() bool {
	return boolOr("REGISTRY_WATCH", false)
}

// DefaultThreshold applies when a request carries no threshold.
func DefaultThreshold() float64 {
	t, err := strconv.ParseFloat(os.Getenv("DEFAULT_THRESHOLD"), 64)
	if err != nil || t < 0 || t > 1 {
		return 0.5
	}
	return t
}

func MaxTextLength() int {
	return intOr("MAX_TEXT_LENGTH", 50000)
}

func MaxConversationMessages() int {
	return intOr("MAX_CONVERSATION_MESSAGES", 200)
}

func MaxBatchSize() int {
	return intOr("MAX_BATCH_SIZE", 16)
}

// BatchConcurrency bounds how many conversations of one batch run at once.
func BatchConcurrency() int {
	return intOr("BATCH_CONCURRENCY", 4)
}

func RequireAuth() bool {
	return boolOr("REQUIRE_AUTH", false)
}

// APIKeysFile is a JSON object of key -> {name, disabled}.
func APIKeysFile() string {
	p := os.Getenv("API_KEYS_FILE")
	if p == "" {
		return "api_keys.json"
	}
	return p
}

// DatabaseURL selects the Postgres analysis store when set.
func DatabaseURL() string {
	return os.Getenv("DATABASE_URL")
}

// SQLitePath selects the embedded analysis store when no DATABASE_URL is set.
func SQLitePath() string {
	return os.Getenv("SQLITE_PATH")
}

// RedisURL enables publishing detections to a Redis stream.
func RedisURL() string {
	return os.Getenv("REDIS_URL")
}

func DetectionStream() string {
	s := os.Getenv("DETECTION_STREAM")
	if s == "" {
		return "leandeep:detections"
	}
	return s
}

// EmotionProvider selects the model used to score message emotions in
// dynamics analyses (openai, anthropic, cerebras, mock). Empty disables scoring.
func EmotionProvider() string {
	return os.Getenv("EMOTION_PROVIDER")
}

func EmotionAPIKey() string {
	return os.Getenv("EMOTION_API_KEY")
}

// AnalysisTimeout bounds a single analysis request.
// Defaults to 30 seconds if not set.
func AnalysisTimeout() time.Duration {
	d, err := time.ParseDuration(os.Getenv("ANALYSIS_TIMEOUT"))
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// AnalysisRetention is how long persisted analysis runs are kept.
// Zero (the default) keeps them forever.
func AnalysisRetention() time.Duration {
	days, err := strconv.Atoi(os.Getenv("ANALYSIS_RETENTION_DAYS"))
	if err != nil || days <= 0 {
		return 0
	}
	return time.Duration(days) * 24 * time.Hour
}

// RateLimitRPS returns requests per second limit.
// Defaults to 100 if not set.
func RateLimitRPS() float64 {
	rps, err := strconv.ParseFloat(os.Getenv("RATE_LIMIT_RPS"), 64)
	if err != nil || rps <= 0 {
		return 100
	}
	return rps
}

// RateLimitBurst returns the burst size for rate limiting.
// Defaults to 20 if not set.
func RateLimitBurst() int {
	return intOr("RATE_LIMIT_BURST", 20)
}

// LogLevel returns the log level (debug, info, warn, error).
// Defaults to "info" if not set.
func LogLevel() string {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		return "info"
	}
	return level
}

func intOr(key string, def int) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func boolOr(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
