package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/Searchable-no/searchableapp-sub001/internal/logging"
)

type Config struct {
	GeminiAPIKey string
	DatabaseURL  string
	HTTPPort     string
	LogLevel     string
	LogPretty    bool
	JWTSecret    string

	// Completion defaults
	DefaultModel   string
	EmbeddingModel string
	ContextChunks  int

	// Client settings used by cmd/chat
	ServerURL      string
	APIToken       string
	StreamTimeout  time.Duration
	PersistTimeout time.Duration
}

var AppConfig Config

func LoadConfig() {
	if err := godotenv.Load(); err != nil { // Load .env file if it exists
		logging.Debug().Msg("No .env file found, relying on environment variables")
	}

	AppConfig = Config{
		GeminiAPIKey:   getEnv("GEMINI_API_KEY", ""),
		DatabaseURL:    getEnv("DATABASE_URL", "searchable_chat.db"),
		HTTPPort:       getEnv("HTTP_PORT", "8080"),
		LogLevel:       getEnv("LOG_LEVEL", "INFO"),
		LogPretty:      getEnvAsBool("LOG_PRETTY", false),
		JWTSecret:      getEnv("JWT_SECRET", ""),
		DefaultModel:   getEnv("DEFAULT_MODEL", "gemini-1.5-flash-latest"),
		EmbeddingModel: getEnv("EMBEDDING_MODEL", "text-embedding-004"),
		ContextChunks:  getEnvAsInt("CONTEXT_CHUNKS", 3),
		ServerURL:      getEnv("SERVER_URL", "http://localhost:8080"),
		APIToken:       getEnv("API_TOKEN", ""),
		StreamTimeout:  getEnvAsDuration("STREAM_TIMEOUT", 2*time.Minute),
		PersistTimeout: getEnvAsDuration("PERSIST_TIMEOUT", 10*time.Second),
	}
}

// ValidateServer reports the settings cmd/server cannot start without.
func (c Config) ValidateServer() error {
	var errs []error
	if c.GeminiAPIKey == "" {
		errs = append(errs, errors.New("GEMINI_API_KEY environment variable is required"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET environment variable is required"))
	}
	return errors.Join(errs...)
}

func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
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

// getEnvAsDuration accepts Go duration strings; "0" disables the timeout.
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
