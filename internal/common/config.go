package common

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	Store      StoreConfig
	Server     ServerConfig
	LLM        LLMConfig
	Pipeline   PipelineConfig
	RunHistory RunHistoryConfig
	Log        LogConfig
}

// StoreConfig holds artifact store configuration
type StoreConfig struct {
	Root string
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	HTTPAddr        string
	GRPCAddr        string
	MaxRequestBytes int64
	MaxRawTextBytes int64
	ShutdownTimeout time.Duration
}

// LLMConfig holds provider-related configuration
type LLMConfig struct {
	Model       string
	APIKey      string
	BaseURL     string
	Temperature float32
	Timeout     time.Duration
}

// PipelineConfig holds stage execution configuration
type PipelineConfig struct {
	TemplatesFile   string
	TemplateStrict  bool
	PollInterval    time.Duration
	PollMaxAttempts int
}

// RunHistoryConfig holds the optional stage run ledger configuration.
// An empty DSN disables it.
type RunHistoryConfig struct {
	Driver          string
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	DialTimeout     time.Duration
}

type LogConfig struct {
	Level string
	File  string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Root: getEnv("ARTIFACT_ROOT", "./artifacts"),
		},
		Server: ServerConfig{
			HTTPAddr:        getEnv("HTTP_ADDR", ":8080"),
			GRPCAddr:        getEnv("GRPC_ADDR", ""),
			MaxRequestBytes: getEnvAsInt64("MAX_REQUEST_BYTES", 1<<20),
			MaxRawTextBytes: getEnvAsInt64("MAX_RAW_TEXT_BYTES", 8<<20),
			ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		LLM: LLMConfig{
			Model:       getEnv("OPENAI_MODEL", "gpt-4o-mini"),
			APIKey:      getEnv("OPENAI_API_KEY", ""),
			BaseURL:     getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			Temperature: getEnvAsFloat32("OPENAI_TEMPERATURE", 0.0),
			Timeout:     getEnvAsDuration("OPENAI_TIMEOUT", 45*time.Second),
		},
		Pipeline: PipelineConfig{
			TemplatesFile:   getEnv("TEMPLATES_FILE", ""),
			TemplateStrict:  getEnvAsBool("TEMPLATE_STRICT", true),
			PollInterval:    getEnvAsDuration("POLL_INTERVAL", 2*time.Second),
			PollMaxAttempts: getEnvAsInt("POLL_MAX_ATTEMPTS", 45),
		},
		RunHistory: RunHistoryConfig{
			Driver:          getEnv("RUNS_DB_DRIVER", "sqlite"),
			DSN:             getEnv("RUNS_DB_DSN", ""),
			MaxConns:        getEnvAsInt32("RUNS_DB_MAX_CONNS", 10),
			MinConns:        getEnvAsInt32("RUNS_DB_MIN_CONNS", 1),
			MaxConnLifetime: getEnvAsDuration("RUNS_DB_MAX_CONN_LIFETIME", 30*time.Minute),
			DialTimeout:     getEnvAsDuration("RUNS_DB_DIAL_TIMEOUT", 3*time.Second),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
			File:  getEnv("LOG_FILE", ""),
		},
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(floatVal)
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	if c.Store.Root == "" {
		return NewAppError(KindConfig, "ARTIFACT_ROOT is required", ErrInvalidInput)
	}
	if c.LLM.APIKey == "" {
		return NewAppError(KindConfig, "OPENAI_API_KEY is required", ErrInvalidInput)
	}
	if c.Pipeline.PollInterval <= 0 || c.Pipeline.PollMaxAttempts <= 0 {
		return NewAppError(KindConfig, "POLL_INTERVAL and POLL_MAX_ATTEMPTS must be positive", ErrInvalidInput)
	}
	v := NewValidator().Field("RUNS_DB_DRIVER", c.RunHistory.Driver, Required, OneOf("sqlite", "postgres"))
	if v.HasErrors() {
		return NewAppError(KindConfig, v.ErrorMessage(), ErrInvalidInput)
	}
	return nil
}

// PollBudget is the longest a single stage may spend polling.
func (p PipelineConfig) PollBudget() time.Duration {
	return p.PollInterval * time.Duration(p.PollMaxAttempts)
}
