package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"taskqueue/pkg/job"
)

// Config is the task queue's flat env-var configuration, extended from
// the original Postgres/Redis/Etcd/JWT/API/tracing settings with the
// scheduling knobs the coordinator and its sub-components need.
type Config struct {
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	RedisHost string
	RedisPort string

	EtcdEndpoints     []string
	LeaderElectionTTL int

	APIPort      string
	AIServiceURL string

	JWTSecret   string
	JWTIssuer   string
	AuthEnabled bool

	TracingEndpoint string
	TracingEnabled  bool
	TracingSampling float64

	// Scheduling
	PriorityWeights    map[job.Priority]int
	StarvationBoost    int
	StarvationInterval time.Duration
	WorkStealThreshold int
	HeartbeatTimeout   time.Duration

	// Retry
	DefaultRetry job.RetryConfig

	// Serialization
	SerializationFormat      string
	SerializationCompression int

	// DLQ
	DLQRetention time.Duration

	// Archive (oversized payloads)
	ArchiveInlineThresholdBytes int
	ArchiveS3Bucket             string
}

func LoadConfig() *Config {
	return &Config{
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "taskqueue"),
		DBPassword: getEnv("DB_PASSWORD", "password"),
		DBName:     getEnv("DB_NAME", "taskqueue"),

		RedisHost: getEnv("REDIS_HOST", "localhost"),
		RedisPort: getEnv("REDIS_PORT", "6379"),

		EtcdEndpoints:     getEnvAsSlice("ETCD_ENDPOINTS", []string{"localhost:2379"}),
		LeaderElectionTTL: getEnvAsInt("LEADER_ELECTION_TTL", 15),

		APIPort:      getEnv("API_PORT", "8080"),
		AIServiceURL: getEnv("AI_SERVICE_URL", "http://localhost:8000"),

		JWTSecret:   getEnv("JWT_SECRET", ""),
		JWTIssuer:   getEnv("JWT_ISSUER", "taskqueue"),
		AuthEnabled: getEnvAsBool("AUTH_ENABLED", false),

		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getEnvAsBool("TRACING_ENABLED", true),
		TracingSampling: getEnvAsFloat("TRACING_SAMPLING_RATE", 1.0),

		PriorityWeights: map[job.Priority]int{
			job.PriorityCritical: getEnvAsInt("WEIGHT_CRITICAL", 10),
			job.PriorityHigh:     getEnvAsInt("WEIGHT_HIGH", 5),
			job.PriorityNormal:   getEnvAsInt("WEIGHT_NORMAL", 3),
			job.PriorityLow:      getEnvAsInt("WEIGHT_LOW", 2),
			job.PriorityBatch:    getEnvAsInt("WEIGHT_BATCH", 1),
		},
		StarvationBoost:    getEnvAsInt("STARVATION_BOOST", 1),
		StarvationInterval: getEnvAsDuration("STARVATION_INTERVAL", 30*time.Second),
		WorkStealThreshold: getEnvAsInt("WORK_STEAL_THRESHOLD", 3),
		HeartbeatTimeout:   getEnvAsDuration("HEARTBEAT_TIMEOUT", 15*time.Second),

		DefaultRetry: job.RetryConfig{
			Strategy:    job.RetryExponential,
			MaxAttempts: getEnvAsInt("RETRY_MAX_ATTEMPTS", 5),
			BaseDelayMs: int64(getEnvAsInt("RETRY_BASE_DELAY_MS", 500)),
			MaxDelayMs:  int64(getEnvAsInt("RETRY_MAX_DELAY_MS", 60_000)),
		},

		SerializationFormat:      getEnv("SERIALIZATION_FORMAT", "json"),
		SerializationCompression: getEnvAsInt("SERIALIZATION_COMPRESSION_LEVEL", 0),

		DLQRetention: getEnvAsDuration("DLQ_RETENTION", 7*24*time.Hour),

		ArchiveInlineThresholdBytes: getEnvAsInt("ARCHIVE_INLINE_THRESHOLD_BYTES", 256*1024),
		ArchiveS3Bucket:             getEnv("ARCHIVE_S3_BUCKET", ""),
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	return valueStr == "true" || valueStr == "1" || valueStr == "yes"
}

func getEnvAsFloat(key string, fallback float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsSlice(key string, fallback []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	parts := strings.Split(valueStr, ",")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts
}
