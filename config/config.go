package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Server configuration
	Port        string
	Environment string

	// Redis configuration
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// PubNub configuration (user notifications)
	PubNubPublishKey   string
	PubNubSubscribeKey string
	PubNubSecretKey    string

	// Queue configuration
	AverageAnalysisDuration time.Duration
	ProcessingTimeout       time.Duration
	SweepInterval           time.Duration
	MaxConcurrentDefault    int

	// Stats mirror (advisory cross-instance visibility)
	StatsMirrorInterval time.Duration
	StatsMirrorTTL      time.Duration
	InstanceID          string

	// Vision provider configuration
	VisionProvider       string
	ReplicateBaseURL     string
	ReplicateToken       string
	ReplicateModel       string
	WebhookBaseURL       string
	WebhookSecret        string
	DashscopeBaseURL     string
	DashscopeAPIKey      string
	DashscopePNSubKey    string
	DashscopePNChannel   string

	// Credits
	AnalysisCost string

	// Rate limiting
	SubmitRateLimit  int
	SubmitRateWindow time.Duration

	// Monitoring
	EnableMetrics bool
	MetricsPort   string
}

func LoadConfig() *Config {
	return &Config{
		// Server
		Port:        getEnv("PORT", "8090"),
		Environment: getEnv("ENVIRONMENT", "development"),

		// Redis
		RedisURL:      getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		// PubNub
		PubNubPublishKey:   getEnv("PUBNUB_PUBLISH_KEY", ""),
		PubNubSubscribeKey: getEnv("PUBNUB_SUBSCRIBE_KEY", ""),
		PubNubSecretKey:    getEnv("PUBNUB_SECRET_KEY", ""),

		// Queue
		AverageAnalysisDuration: getEnvAsDuration("AVERAGE_ANALYSIS_DURATION", "30s"),
		ProcessingTimeout:       getEnvAsDuration("PROCESSING_TIMEOUT", "5m"),
		SweepInterval:           getEnvAsDuration("SWEEP_INTERVAL", "15s"),
		MaxConcurrentDefault:    getEnvAsInt("MAX_CONCURRENT_DEFAULT", 10),

		// Stats mirror
		StatsMirrorInterval: getEnvAsDuration("STATS_MIRROR_INTERVAL", "10s"),
		StatsMirrorTTL:      getEnvAsDuration("STATS_MIRROR_TTL", "30s"),
		InstanceID:          getEnv("INSTANCE_ID", "local"),

		// Vision provider
		VisionProvider:     getEnv("VISION_PROVIDER", "replicate"),
		ReplicateBaseURL:   getEnv("REPLICATE_BASE_URL", "https://api.replicate.com/v1"),
		ReplicateToken:     getEnv("REPLICATE_TOKEN", ""),
		ReplicateModel:     getEnv("REPLICATE_MODEL", "style-analyzer"),
		WebhookBaseURL:     getEnv("WEBHOOK_BASE_URL", "http://localhost:8090"),
		WebhookSecret:      getEnv("WEBHOOK_SECRET", ""),
		DashscopeBaseURL:   getEnv("DASHSCOPE_BASE_URL", ""),
		DashscopeAPIKey:    getEnv("DASHSCOPE_API_KEY", ""),
		DashscopePNSubKey:  getEnv("DASHSCOPE_PN_SUBKEY", ""),
		DashscopePNChannel: getEnv("DASHSCOPE_PN_CHANNEL", ""),

		// Credits
		AnalysisCost: getEnv("ANALYSIS_COST", "1"),

		// Rate limiting
		SubmitRateLimit:  getEnvAsInt("SUBMIT_RATE_LIMIT", 30),
		SubmitRateWindow: getEnvAsDuration("SUBMIT_RATE_WINDOW", "1m"),

		// Monitoring
		EnableMetrics: getEnvAsBool("ENABLE_METRICS", true),
		MetricsPort:   getEnv("METRICS_PORT", "9090"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := getEnv(key, defaultValue)
	if duration, err := time.ParseDuration(valueStr); err == nil {
		return duration
	}
	// If parsing fails, try to parse default value
	duration, _ := time.ParseDuration(defaultValue)
	return duration
}
