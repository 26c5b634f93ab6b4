// Package config loads gateway configuration from the environment.
// Configuration is read once at startup and treated as immutable for
// the process lifetime.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr     string
	LogLevel string

	// Backend targets. An empty URL leaves that backend unconfigured.
	DefaultBackend string
	ModelBackends  map[string]string
	OllamaURL      string
	OllamaAPIKey   string
	ONNXGenAIURL   string
	ONNXURL        string
	ONNXDevice     string
	BedrockRegion  string

	RequestTimeout time.Duration
	HealthTimeout  time.Duration
	MaxConcurrent  int
	SimChunkDelay  time.Duration

	DatabaseURL   string
	RedisURL      string
	SQSQueueURL   string
	SNSTopicARN   string
	AWSRegion     string
	SecretsPrefix string
	OTLPEndpoint  string

	ShutdownTimeout time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		Addr:            getEnv("ADDR", ":8080"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		DefaultBackend:  getEnv("DEFAULT_BACKEND", "ollama"),
		OllamaURL:       getEnv("OLLAMA_URL", "http://127.0.0.1:11434"),
		OllamaAPIKey:    getEnv("OLLAMA_API_KEY", ""),
		ONNXGenAIURL:    getEnv("ONNX_GENAI_URL", ""),
		ONNXURL:         getEnv("ONNX_URL", ""),
		ONNXDevice:      getEnv("ONNX_DEVICE", "cpu"),
		BedrockRegion:   getEnv("BEDROCK_REGION", ""),
		RequestTimeout:  getDurationEnv("REQUEST_TIMEOUT", 120*time.Second),
		HealthTimeout:   getDurationEnv("HEALTH_TIMEOUT", 5*time.Second),
		MaxConcurrent:   getIntEnv("MAX_CONCURRENT", 32),
		SimChunkDelay:   getMillisEnv("SIM_STREAM_DELAY_MS", 5*time.Millisecond),
		DatabaseURL:     getEnv("DATABASE_URL", ""),
		RedisURL:        getEnv("REDIS_URL", ""),
		SQSQueueURL:     getEnv("SQS_QUEUE_URL", ""),
		SNSTopicARN:     getEnv("SNS_TOPIC_ARN", ""),
		AWSRegion:       getEnv("AWS_REGION", ""),
		SecretsPrefix:   getEnv("SECRETS_PREFIX", ""),
		OTLPEndpoint:    getEnv("OTLP_ENDPOINT", ""),
		ShutdownTimeout: getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),
	}

	modelBackends, err := parseModelBackends(getEnv("MODEL_BACKENDS", ""))
	if err != nil {
		return nil, err
	}
	cfg.ModelBackends = modelBackends

	if cfg.MaxConcurrent < 1 {
		return nil, fmt.Errorf("MAX_CONCURRENT must be at least 1")
	}

	return cfg, nil
}

// parseModelBackends parses "model=backend,model2=backend2" pairs.
func parseModelBackends(raw string) (map[string]string, error) {
	out := make(map[string]string)
	if raw == "" {
		return out, nil
	}
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		model, backend, ok := strings.Cut(pair, "=")
		if !ok || model == "" || backend == "" {
			return nil, fmt.Errorf("invalid MODEL_BACKENDS entry %q, expected model=backend", pair)
		}
		out[strings.TrimSpace(model)] = strings.TrimSpace(backend)
	}
	return out, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultValue
}

func getMillisEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if millis, err := strconv.Atoi(value); err == nil {
			return time.Duration(millis) * time.Millisecond
		}
	}
	return defaultValue
}
